package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"raffleScope/internal/indexer"
	"raffleScope/internal/ledger"
	"raffleScope/internal/model"
	"raffleScope/internal/settlement"
	"raffleScope/internal/storage/memory"
)

type fakeIndexer struct {
	status    indexer.Status
	err       error
	reprocess func(from, to uint64) (indexer.ProjectionReport, error)
}

func (f *fakeIndexer) Status(context.Context) (indexer.Status, error) { return f.status, f.err }

func (f *fakeIndexer) Reprocess(_ context.Context, from, to uint64) (indexer.ProjectionReport, error) {
	return f.reprocess(from, to)
}

type fakeSettlement struct {
	ready  bool
	busy   bool
	report settlement.PassReport
	err    error
}

func (f *fakeSettlement) RunOnce(context.Context) (settlement.PassReport, error) { return f.report, f.err }
func (f *fakeSettlement) Busy() bool { return f.busy }
func (f *fakeSettlement) EligibleCount(context.Context) (int, error) { return 3, nil }
func (f *fakeSettlement) SignerReady() bool { return f.ready }

type fakeLoops struct {
	running map[string]bool
}

func (f *fakeLoops) Start(name string) error {
	if _, ok := f.running[name]; !ok {
		return fmt.Errorf("unknown group %s", name)
	}
	f.running[name] = true
	return nil
}

func (f *fakeLoops) Stop(name string) error {
	f.running[name] = false
	return nil
}

func (f *fakeLoops) Status() map[string]bool { return f.running }

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

type harness struct {
	idx   *fakeIndexer
	set   *fakeSettlement
	loops *fakeLoops
	store *memory.Store
	ping  *fakePinger
}

func newHarness() *harness {
	return &harness{
		idx:   &fakeIndexer{status: indexer.Status{CurrentHeight: 120, LastProcessed: 100, Lag: 20}},
		set:   &fakeSettlement{ready: true},
		loops: &fakeLoops{running: map[string]bool{"indexer": true, "settlement": true}},
		store: memory.NewStore(),
		ping:  &fakePinger{},
	}
}

func (h *harness) do(t *testing.T, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	router := NewRouter(
		&SystemHandler{
			Info:         SystemInfo{ChainID: "coreum-testnet-1", Contract: "testcore1contract"},
			Indexer:      h.idx,
			Settlement:   h.set,
			Loops:        h.loops,
			Store:        h.ping,
			LagThreshold: 50,
		},
		&RaffleHandler{Store: h.store},
	)
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var out map[string]any
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
			t.Fatalf("decode body %s: %v", w.Body.String(), err)
		}
	}
	return w, out
}

func TestHealth(t *testing.T) {
	h := newHarness()
	w, body := h.do(t, http.MethodGet, "/healthz", "")
	if w.Code != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("expected ok, got %d %v", w.Code, body)
	}

	h.set.ready = false
	h.loops.running["settlement"] = false
	w, body = h.do(t, http.MethodGet, "/healthz", "")
	if w.Code != http.StatusOK || body["status"] != "degraded" {
		t.Fatalf("expected degraded, got %d %v", w.Code, body)
	}
	reasons := body["reasons"].([]any)
	if len(reasons) != 2 || reasons[0] != "signer_not_ready" || reasons[1] != "settlement_stopped" {
		t.Fatalf("unexpected reasons %v", reasons)
	}

	h.idx.err = errors.New("rpc down")
	w, body = h.do(t, http.MethodGet, "/healthz", "")
	if w.Code != http.StatusServiceUnavailable || body["status"] != "error" {
		t.Fatalf("expected error, got %d %v", w.Code, body)
	}

	h.idx.err = nil
	h.ping.err = errors.New("pool closed")
	w, _ = h.do(t, http.MethodGet, "/healthz", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 on store failure, got %d", w.Code)
	}
}

func TestSystemStatus(t *testing.T) {
	h := newHarness()
	h.set.busy = true
	w, body := h.do(t, http.MethodGet, "/api/system/status", "")
	if w.Code != http.StatusOK {
		t.Fatalf("unexpected code %d", w.Code)
	}
	data := body["data"].(map[string]any)
	if data["lag"].(float64) != 20 || data["eligible_raffles"].(float64) != 3 || data["settlement_busy"] != true {
		t.Fatalf("unexpected status %v", data)
	}
	if data["chain_id"] != "coreum-testnet-1" || data["contract"] != "testcore1contract" {
		t.Fatalf("unexpected identity %v", data)
	}
}

func TestLoopControl(t *testing.T) {
	h := newHarness()
	w, _ := h.do(t, http.MethodPost, "/api/system/indexer/stop", "")
	if w.Code != http.StatusOK || h.loops.running["indexer"] {
		t.Fatalf("expected indexer stopped, code %d", w.Code)
	}
	w, _ = h.do(t, http.MethodPost, "/api/system/settlement/start", "")
	if w.Code != http.StatusOK || !h.loops.running["settlement"] {
		t.Fatalf("expected settlement running, code %d", w.Code)
	}
}

func TestManualProcess(t *testing.T) {
	h := newHarness()
	var gotFrom, gotTo uint64
	h.idx.reprocess = func(from, to uint64) (indexer.ProjectionReport, error) {
		gotFrom, gotTo = from, to
		return indexer.ProjectionReport{Events: 4, Applied: 4}, nil
	}

	w, body := h.do(t, http.MethodPost, "/api/system/indexer/process", `{"fromHeight":10,"toHeight":20}`)
	if w.Code != http.StatusOK || gotFrom != 10 || gotTo != 20 {
		t.Fatalf("unexpected result %d %v", w.Code, body)
	}
	if body["data"].(map[string]any)["applied"].(float64) != 4 {
		t.Fatalf("unexpected report %v", body)
	}

	w, _ = h.do(t, http.MethodPost, "/api/system/indexer/process", `{"fromHeight":20,"toHeight":10}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for inverted range, got %d", w.Code)
	}
	w, _ = h.do(t, http.MethodPost, "/api/system/indexer/process", `{"toHeight":10}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing from, got %d", w.Code)
	}

	h.idx.reprocess = func(uint64, uint64) (indexer.ProjectionReport, error) {
		return indexer.ProjectionReport{Events: 2, Failed: 1}, fmt.Errorf("%w: 1 store failures", indexer.ErrProjectionFailed)
	}
	w, _ = h.do(t, http.MethodPost, "/api/system/indexer/process", `{"fromHeight":1,"toHeight":2}`)
	if w.Code != http.StatusBadGateway {
		t.Fatalf("expected 502 on partial failure, got %d", w.Code)
	}

	h.idx.reprocess = func(uint64, uint64) (indexer.ProjectionReport, error) {
		return indexer.ProjectionReport{}, fmt.Errorf("fetch events: %w", ledger.ErrContractNotConfigured)
	}
	w, _ = h.do(t, http.MethodPost, "/api/system/indexer/process", `{"fromHeight":1,"toHeight":2}`)
	if w.Code != http.StatusPreconditionFailed {
		t.Fatalf("expected 412 without a contract, got %d", w.Code)
	}
}

func TestManualSettlement(t *testing.T) {
	h := newHarness()
	h.set.report = settlement.PassReport{Scanned: 1, Settled: 1}
	w, _ := h.do(t, http.MethodPost, "/api/system/settlement/run", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	h.set.err = settlement.ErrBusy
	w, _ = h.do(t, http.MethodPost, "/api/system/settlement/run", "")
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}

	h.set.err = fmt.Errorf("%w: 1 of 2 raffles failed", settlement.ErrPassIncomplete)
	w, _ = h.do(t, http.MethodPost, "/api/system/settlement/run", "")
	if w.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", w.Code)
	}

	h.set.err = fmt.Errorf("%w: 1 of 1 raffles failed: %w", settlement.ErrPassIncomplete, ledger.ErrSigningNotReady)
	w, _ = h.do(t, http.MethodPost, "/api/system/settlement/run", "")
	if w.Code != http.StatusPreconditionFailed {
		t.Fatalf("expected 412 for a precondition inside the pass, got %d", w.Code)
	}

	h.set.ready = false
	w, _ = h.do(t, http.MethodPost, "/api/system/settlement/run", "")
	if w.Code != http.StatusPreconditionFailed {
		t.Fatalf("expected 412, got %d", w.Code)
	}
}

func TestRaffleEndpoints(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	end := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, creator := range []string{"alice", "bob", "alice"} {
		id := fmt.Sprintf("%d", i+1)
		if _, err := h.store.InsertRaffle(ctx, model.Raffle{RaffleID: id, Creator: creator, Status: model.StatusActive, MaxTickets: 10, EndTime: end, CreatedHeight: uint64(i + 1)}); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	if _, err := h.store.RecordPurchase(ctx, model.TicketPurchase{TxHash: "t1", RaffleID: "1", Buyer: "carol", Quantity: 2, TotalPaid: "200"}); err != nil {
		t.Fatalf("purchase: %v", err)
	}

	w, body := h.do(t, http.MethodGet, "/api/raffles?creator=alice&limit=1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("unexpected code %d", w.Code)
	}
	items := body["data"].([]any)
	meta := body["meta"].(map[string]any)
	if len(items) != 1 || meta["total"].(float64) != 2 || meta["has_next"] != true {
		t.Fatalf("unexpected page %v", body)
	}
	if items[0].(map[string]any)["raffle_id"] != "3" {
		t.Fatalf("expected newest raffle first, got %v", items[0])
	}

	w, _ = h.do(t, http.MethodGet, "/api/raffles?status=pending", "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown status, got %d", w.Code)
	}

	w, body = h.do(t, http.MethodGet, "/api/raffles/1", "")
	if w.Code != http.StatusOK || body["data"].(map[string]any)["tickets_sold"].(float64) != 2 {
		t.Fatalf("unexpected raffle %d %v", w.Code, body)
	}
	w, _ = h.do(t, http.MethodGet, "/api/raffles/99", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}

	w, body = h.do(t, http.MethodGet, "/api/raffles/1/participants", "")
	if w.Code != http.StatusOK {
		t.Fatalf("unexpected code %d", w.Code)
	}
	parts := body["data"].([]any)
	if len(parts) != 1 || parts[0].(map[string]any)["address"] != "carol" {
		t.Fatalf("unexpected participants %v", parts)
	}
	w, _ = h.do(t, http.MethodGet, "/api/raffles/99/participants", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h := newHarness()
	w, _ := h.do(t, http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected metrics to be served, got %d", w.Code)
	}
}
