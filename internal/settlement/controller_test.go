package settlement

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"raffleScope/internal/chain"
	"raffleScope/internal/ledger"
	"raffleScope/internal/model"
	"raffleScope/internal/storage/memory"
)

type fakeLedger struct {
	mu       sync.Mutex
	ready    bool
	snaps    map[string]model.LedgerSnapshot
	ended    map[string]model.LedgerSnapshot
	endErr   error
	endCalls []string
	queries  int
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		ready: true,
		snaps: make(map[string]model.LedgerSnapshot),
		ended: make(map[string]model.LedgerSnapshot),
	}
}

func (f *fakeLedger) QueryRaffle(_ context.Context, id string) (model.LedgerSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries++
	snap, ok := f.snaps[id]
	if !ok {
		return model.LedgerSnapshot{}, errors.New("raffle not found on ledger")
	}
	return snap, nil
}

func (f *fakeLedger) EndRaffle(_ context.Context, id string, sample model.RandomnessSample) (*chain.ExecResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.endCalls = append(f.endCalls, id)
	if after, ok := f.ended[id]; ok {
		f.snaps[id] = after
	}
	if f.endErr != nil {
		return nil, f.endErr
	}
	return &chain.ExecResult{TxHash: "END" + id, Height: 900}, nil
}

func (f *fakeLedger) SignerReady() bool { return f.ready }

type fakeBeacon struct {
	sample  model.RandomnessSample
	err     error
	entered chan struct{}
	release chan struct{}
}

func (b *fakeBeacon) Latest(ctx context.Context) (model.RandomnessSample, error) {
	if b.entered != nil {
		close(b.entered)
		<-b.release
	}
	return b.sample, b.err
}

var testSample = model.RandomnessSample{Round: 4123456, Randomness: "a3f1b2c4d5e6f708", Signature: "8b0f"}

func strPtr(s string) *string { return &s }

func seedRaffle(t *testing.T, store *memory.Store, id string, sold, max uint64, end time.Time) {
	t.Helper()
	ctx := context.Background()
	if _, err := store.InsertRaffle(ctx, model.Raffle{RaffleID: id, Status: model.StatusActive, MaxTickets: max, EndTime: end}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if sold > 0 {
		if _, err := store.RecordPurchase(ctx, model.TicketPurchase{TxHash: "buy" + id, RaffleID: id, Buyer: "b", Quantity: sold, TotalPaid: "1"}); err != nil {
			t.Fatalf("purchase: %v", err)
		}
	}
}

func newTestController(store *memory.Store, l *fakeLedger, b *fakeBeacon, now time.Time) *Controller {
	c := NewController(Config{SafetyBuffer: 30 * time.Second, ReadBackRetries: 1, ReadBackBackoff: time.Millisecond}, store, l, b, nil)
	c.now = func() time.Time { return now }
	return c
}

func TestRunOnceSettlesEligibleRaffle(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	store := memory.NewStore()
	seedRaffle(t, store, "1", 36, 100, now.Add(-time.Minute))

	l := newFakeLedger()
	l.snaps["1"] = model.LedgerSnapshot{Status: model.StatusActive, TicketsSold: 37, MaxTickets: 100}
	l.ended["1"] = model.LedgerSnapshot{Status: model.StatusCompleted, Winner: strPtr("w1"), TicketsSold: 37, MaxTickets: 100}

	c := newTestController(store, l, &fakeBeacon{sample: testSample}, now)
	report, err := c.RunOnce(ctx)
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if report.Scanned != 1 || report.Settled != 1 || report.PassID == "" {
		t.Fatalf("unexpected report %+v", report)
	}

	r, _, _ := store.GetRaffle(ctx, "1")
	if r.Status != model.StatusCompleted || *r.Winner != "w1" {
		t.Fatalf("unexpected raffle %+v", r)
	}
	// index uses the ledger count (37), not the stale store count
	if *r.WinningTicketIndex != 18 || *r.RandomnessRound != 4123456 || r.TicketsSold != 37 {
		t.Fatalf("unexpected settlement fields %+v", r)
	}
	if *r.EndReason != model.EndReasonTime || *r.EndTxHash != "END1" {
		t.Fatalf("unexpected end fields reason=%s tx=%s", *r.EndReason, *r.EndTxHash)
	}
}

func TestEligibility(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	store := memory.NewStore()
	seedRaffle(t, store, "past", 1, 10, now.Add(-time.Minute))
	seedRaffle(t, store, "in-buffer", 1, 10, now.Add(-10*time.Second))
	seedRaffle(t, store, "soldout", 10, 10, now.Add(time.Hour))
	seedRaffle(t, store, "empty", 0, 10, now.Add(-time.Hour))
	seedRaffle(t, store, "future", 3, 10, now.Add(time.Hour))

	c := newTestController(store, newFakeLedger(), &fakeBeacon{}, now)
	n, err := c.EligibleCount(ctx)
	if err != nil {
		t.Fatalf("eligible count: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 eligible raffles, got %d", n)
	}
}

func TestRunOnceSkipsWhenBusy(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	store := memory.NewStore()
	seedRaffle(t, store, "1", 5, 10, now.Add(-time.Hour))

	l := newFakeLedger()
	l.snaps["1"] = model.LedgerSnapshot{Status: model.StatusActive, TicketsSold: 5, MaxTickets: 10}
	l.ended["1"] = model.LedgerSnapshot{Status: model.StatusCompleted, Winner: strPtr("w"), TicketsSold: 5, MaxTickets: 10}
	b := &fakeBeacon{sample: testSample, entered: make(chan struct{}), release: make(chan struct{})}
	c := newTestController(store, l, b, now)

	done := make(chan error, 1)
	go func() {
		_, err := c.RunOnce(ctx)
		done <- err
	}()
	<-b.entered

	if !c.Busy() {
		t.Fatalf("expected controller to report busy")
	}
	report, err := c.RunOnce(ctx)
	if !errors.Is(err, ErrBusy) || !report.Busy {
		t.Fatalf("expected busy skip, got %+v %v", report, err)
	}
	if err := c.SettleExpired(ctx, []model.Raffle{{RaffleID: "1"}}); err != nil {
		t.Fatalf("expected busy sweep to be a no-op, got %v", err)
	}

	close(b.release)
	if err := <-done; err != nil {
		t.Fatalf("first pass: %v", err)
	}
	if len(l.endCalls) != 1 {
		t.Fatalf("expected exactly one end_raffle, got %v", l.endCalls)
	}
	if c.Busy() {
		t.Fatalf("expected guard to be released")
	}
}

func TestLedgerClosedRaffleIsReconciledWithoutTx(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	store := memory.NewStore()
	seedRaffle(t, store, "1", 3, 10, now.Add(-time.Hour))

	l := newFakeLedger()
	l.snaps["1"] = model.LedgerSnapshot{Status: model.StatusCompleted, Winner: strPtr("w9"), TicketsSold: 4, MaxTickets: 10}

	c := newTestController(store, l, &fakeBeacon{err: errors.New("beacon must not be called")}, now)
	report, err := c.RunOnce(ctx)
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if report.Skipped != 1 || len(l.endCalls) != 0 {
		t.Fatalf("expected reconcile without tx, report %+v calls %v", report, l.endCalls)
	}
	r, _, _ := store.GetRaffle(ctx, "1")
	if r.Status != model.StatusCompleted || *r.Winner != "w9" || r.TicketsSold != 4 || *r.EndReason != model.EndReasonTime {
		t.Fatalf("unexpected reconciled raffle %+v", r)
	}
}

func TestBenignRejectionReconciles(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	store := memory.NewStore()
	seedRaffle(t, store, "1", 10, 10, now.Add(time.Hour))

	l := newFakeLedger()
	l.snaps["1"] = model.LedgerSnapshot{Status: model.StatusActive, TicketsSold: 10, MaxTickets: 10}
	l.endErr = &ledger.RejectionError{Kind: ledger.KindNotActive, Code: 5, Log: "Raffle not active"}

	// another actor closed the raffle before our tx landed
	l.ended["1"] = model.LedgerSnapshot{Status: model.StatusCompleted, Winner: strPtr("w2"), TicketsSold: 10, MaxTickets: 10}

	c := newTestController(store, l, &fakeBeacon{sample: testSample}, now)
	report, err := c.RunOnce(ctx)
	if err != nil {
		t.Fatalf("benign rejection should not fail the pass: %v", err)
	}
	if report.Skipped != 1 || report.Failed != 0 {
		t.Fatalf("unexpected report %+v", report)
	}
	r, _, _ := store.GetRaffle(ctx, "1")
	if r.Status != model.StatusCompleted || *r.Winner != "w2" || *r.EndReason != model.EndReasonSoldOut {
		t.Fatalf("expected reconciled raffle, got %+v", r)
	}
	if r.WinningTicketIndex != nil {
		t.Fatalf("benign skip must not record a local winning index")
	}
}

func TestUnclassifiedRejectionSurfaces(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	store := memory.NewStore()
	seedRaffle(t, store, "1", 2, 10, now.Add(-time.Hour))

	l := newFakeLedger()
	l.snaps["1"] = model.LedgerSnapshot{Status: model.StatusActive, TicketsSold: 2, MaxTickets: 10}
	l.endErr = &ledger.RejectionError{Kind: ledger.KindUnclassified, Code: 11, Log: "out of gas"}

	c := newTestController(store, l, &fakeBeacon{sample: testSample}, now)
	report, err := c.RunOnce(ctx)
	if !errors.Is(err, ErrPassIncomplete) || report.Failed != 1 {
		t.Fatalf("expected failed pass, got %+v %v", report, err)
	}
	r, _, _ := store.GetRaffle(ctx, "1")
	if r.Status != model.StatusActive {
		t.Fatalf("raffle should remain eligible, got %s", r.Status)
	}
}

func TestReadBackFailureLeavesStoreUntouched(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	store := memory.NewStore()
	seedRaffle(t, store, "1", 2, 10, now.Add(-time.Hour))

	l := newFakeLedger()
	// ledger keeps reporting active with no winner after the tx
	l.snaps["1"] = model.LedgerSnapshot{Status: model.StatusActive, TicketsSold: 2, MaxTickets: 10}

	c := newTestController(store, l, &fakeBeacon{sample: testSample}, now)
	report, err := c.RunOnce(ctx)
	if !errors.Is(err, ErrPassIncomplete) || report.Failed != 1 {
		t.Fatalf("expected failed pass, got %+v %v", report, err)
	}
	r, _, _ := store.GetRaffle(ctx, "1")
	if r.Status != model.StatusActive || r.Winner != nil || r.WinningTicketIndex != nil {
		t.Fatalf("store must not carry a locally derived winner: %+v", r)
	}
}

func TestSignerNotReadyFailsRaffle(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	store := memory.NewStore()
	seedRaffle(t, store, "1", 2, 10, now.Add(-time.Hour))

	l := newFakeLedger()
	l.ready = false
	c := newTestController(store, l, &fakeBeacon{sample: testSample}, now)
	report, err := c.RunOnce(ctx)
	if !errors.Is(err, ErrPassIncomplete) || report.Failed != 1 || l.queries != 0 {
		t.Fatalf("expected precondition failure without ledger calls, got %+v %v", report, err)
	}
	if !errors.Is(err, ledger.ErrSigningNotReady) || !ledger.IsPrecondition(err) {
		t.Fatalf("expected pass error to carry the precondition, got %v", err)
	}
}

func TestBeaconFailureAbortsOnlyThatRaffle(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	store := memory.NewStore()
	seedRaffle(t, store, "1", 2, 10, now.Add(-time.Hour))
	seedRaffle(t, store, "2", 2, 10, now.Add(-time.Minute))

	l := newFakeLedger()
	l.snaps["1"] = model.LedgerSnapshot{Status: model.StatusActive, TicketsSold: 2, MaxTickets: 10}
	l.snaps["2"] = model.LedgerSnapshot{Status: model.StatusCancelled, TicketsSold: 2, MaxTickets: 10}

	c := newTestController(store, l, &fakeBeacon{err: errors.New("beacon down")}, now)
	report, err := c.RunOnce(ctx)
	if !errors.Is(err, ErrPassIncomplete) {
		t.Fatalf("expected incomplete pass, got %v", err)
	}
	if report.Failed != 1 || report.Skipped != 1 || len(l.endCalls) != 0 {
		t.Fatalf("unexpected report %+v calls %v", report, l.endCalls)
	}
	r, _, _ := store.GetRaffle(ctx, "2")
	if r.Status != model.StatusCancelled {
		t.Fatalf("expected raffle 2 reconciled to cancelled, got %s", r.Status)
	}
}
