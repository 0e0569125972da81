package storage

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"raffleScope/internal/model"
)

func TestJsonlArchiveAppends(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "archive")
	a := NewJsonlArchive(dir)

	ev := model.LedgerEvent{Action: "raffle_created", TxHash: "A", EventIndex: 0, Attributes: map[string]string{"raffle_id": "1"}}
	if err := a.PutEvents([]model.LedgerEvent{ev}); err != nil {
		t.Fatalf("put events: %v", err)
	}
	if err := a.PutEvents([]model.LedgerEvent{ev, ev}); err != nil {
		t.Fatalf("put events: %v", err)
	}
	if err := a.PutDecodeErrors([]model.DecodeError{{TxHash: "B", Action: "tickets_bought", Error: "bad quantity"}}); err != nil {
		t.Fatalf("put decode errors: %v", err)
	}
	if err := a.PutEvents(nil); err != nil {
		t.Fatalf("empty batch: %v", err)
	}

	lines := readLines(t, filepath.Join(dir, eventsFile))
	if len(lines) != 3 {
		t.Fatalf("expected 3 event lines, got %d", len(lines))
	}
	var got model.LedgerEvent
	if err := json.Unmarshal([]byte(lines[0]), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Key() != "A:0" || got.Attributes["raffle_id"] != "1" {
		t.Fatalf("unexpected event %+v", got)
	}

	errLines := readLines(t, filepath.Join(dir, decodeErrorsFile))
	if len(errLines) != 1 {
		t.Fatalf("expected 1 decode error line, got %d", len(errLines))
	}
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()
	var out []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		out = append(out, sc.Text())
	}
	return out
}
