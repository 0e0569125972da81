package storage

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"raffleScope/internal/model"
)

const (
	eventsFile       = "events.jsonl"
	decodeErrorsFile = "decode_errors.jsonl"
)

// JsonlArchive appends ledger events and decode failures to JSONL files in a directory.
type JsonlArchive struct {
	dir string
	mu  sync.Mutex
}

func NewJsonlArchive(dir string) *JsonlArchive {
	return &JsonlArchive{dir: dir}
}

// PutEvents appends a batch of raw ledger events.
func (s *JsonlArchive) PutEvents(events []model.LedgerEvent) error {
	if len(events) == 0 {
		return nil
	}
	records := make([]interface{}, 0, len(events))
	for _, ev := range events {
		records = append(records, ev)
	}
	return s.appendLines(eventsFile, records)
}

// PutDecodeErrors appends a batch of decode failures.
func (s *JsonlArchive) PutDecodeErrors(errs []model.DecodeError) error {
	if len(errs) == 0 {
		return nil
	}
	records := make([]interface{}, 0, len(errs))
	for _, e := range errs {
		records = append(records, e)
	}
	return s.appendLines(decodeErrorsFile, records)
}

func (s *JsonlArchive) appendLines(name string, records []interface{}) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create archive dir: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := os.OpenFile(filepath.Join(s.dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open archive file: %w", err)
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	for _, record := range records {
		line, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("marshal archive record: %w", err)
		}
		if _, err := writer.Write(line); err != nil {
			return fmt.Errorf("write archive record: %w", err)
		}
		if err := writer.WriteByte('\n'); err != nil {
			return fmt.Errorf("write newline: %w", err)
		}
	}

	if err := writer.Flush(); err != nil {
		return fmt.Errorf("flush archive: %w", err)
	}

	return nil
}
