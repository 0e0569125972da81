package memory

import (
	"context"
	"testing"
	"time"

	"raffleScope/internal/model"
)

func seedRaffle(t *testing.T, s *Store, id string, maxTickets uint64, end time.Time) {
	t.Helper()
	ok, err := s.InsertRaffle(context.Background(), model.Raffle{
		RaffleID:   id,
		Creator:    "testcore1creator",
		MaxTickets: maxTickets,
		EndTime:    end,
		Status:     model.StatusActive,
	})
	if err != nil || !ok {
		t.Fatalf("insert %s: ok=%v err=%v", id, ok, err)
	}
}

func TestInsertRaffleDuplicateIsNoop(t *testing.T) {
	s := NewStore()
	seedRaffle(t, s, "1", 10, time.Now())

	ok, err := s.InsertRaffle(context.Background(), model.Raffle{RaffleID: "1", Creator: "other"})
	if err != nil || ok {
		t.Fatalf("expected duplicate insert to be a no-op, ok=%v err=%v", ok, err)
	}
	r, _, _ := s.GetRaffle(context.Background(), "1")
	if r.Creator != "testcore1creator" {
		t.Fatalf("duplicate insert overwrote raffle: %+v", r)
	}
}

func TestRecordPurchaseIdempotent(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	seedRaffle(t, s, "1", 5, time.Now())

	t1 := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	p := model.TicketPurchase{TxHash: "A", EventIndex: 0, RaffleID: "1", Buyer: "b1", Quantity: 2, TotalPaid: "2.5", Denom: "utestcore", PurchasedAt: t1}
	for i := 0; i < 3; i++ {
		if _, err := s.RecordPurchase(ctx, p); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	second := p
	second.TxHash = "B"
	second.Quantity = 4
	second.TotalPaid = "5"
	second.PurchasedAt = t1.Add(time.Minute)
	ok, err := s.RecordPurchase(ctx, second)
	if err != nil || !ok {
		t.Fatalf("second purchase ok=%v err=%v", ok, err)
	}

	r, _, _ := s.GetRaffle(ctx, "1")
	if r.TicketsSold != 5 {
		t.Fatalf("expected tickets sold clamped to 5, got %d", r.TicketsSold)
	}
	parts, total, err := s.ListParticipants(ctx, "1", 10, 0)
	if err != nil || total != 1 {
		t.Fatalf("participants total=%d err=%v", total, err)
	}
	got := parts[0]
	if got.TicketCount != 6 || got.TotalPaid != "7.5" {
		t.Fatalf("unexpected aggregate %+v", got)
	}
	if !got.FirstPurchase.Equal(t1) || !got.LastPurchase.Equal(t1.Add(time.Minute)) {
		t.Fatalf("unexpected purchase window %+v", got)
	}
}

func TestEndedWinnerAndReconcile(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	seedRaffle(t, s, "1", 10, time.Now())

	if ok, _ := s.SetRaffleWinner(ctx, "1", "w", 3); !ok {
		t.Fatalf("expected winner update to apply")
	}
	if ok, _ := s.MarkRaffleEnded(ctx, "1", model.RaffleEnding{EndReason: model.EndReasonTime, RandomnessRound: 9, Height: 12, TxHash: "E"}); !ok {
		t.Fatalf("expected ended update to apply")
	}
	r, _, _ := s.GetRaffle(ctx, "1")
	if r.Status != model.StatusCompleted || *r.Winner != "w" || *r.WinningTicketIndex != 3 || *r.RandomnessRound != 9 {
		t.Fatalf("unexpected raffle %+v", r)
	}
	if ok, _ := s.MarkRaffleEnded(ctx, "missing", model.RaffleEnding{}); ok {
		t.Fatalf("expected missing raffle to report false")
	}

	seedRaffle(t, s, "2", 4, time.Now())
	winner := "ledger-winner"
	if err := s.ReconcileRaffle(ctx, "2", model.LedgerSnapshot{Status: model.StatusCompleted, Winner: &winner, TicketsSold: 4, MaxTickets: 4}); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	r2, _, _ := s.GetRaffle(ctx, "2")
	if r2.Status != model.StatusCompleted || *r2.Winner != winner || r2.TicketsSold != 4 || *r2.EndReason != model.EndReasonSoldOut {
		t.Fatalf("unexpected reconciled raffle %+v", r2)
	}
}

func TestListEligibleAndExpired(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	seedRaffle(t, s, "past", 10, now.Add(-time.Hour))
	seedRaffle(t, s, "buffer", 10, now.Add(-10*time.Second))
	seedRaffle(t, s, "future", 2, now.Add(time.Hour))
	seedRaffle(t, s, "empty", 10, now.Add(-time.Hour))
	for i, id := range []string{"past", "buffer", "future"} {
		qty := uint64(1)
		if id == "future" {
			qty = 2
		}
		_, err := s.RecordPurchase(ctx, model.TicketPurchase{TxHash: id, EventIndex: i, RaffleID: id, Buyer: "b", Quantity: qty, TotalPaid: "1"})
		if err != nil {
			t.Fatalf("purchase: %v", err)
		}
	}

	eligible, err := s.ListEligible(ctx, now, 30*time.Second)
	if err != nil {
		t.Fatalf("eligible: %v", err)
	}
	if len(eligible) != 2 || eligible[0].RaffleID != "past" || eligible[1].RaffleID != "future" {
		t.Fatalf("unexpected eligible set %+v", ids(eligible))
	}

	expired, err := s.ListExpired(ctx, now)
	if err != nil {
		t.Fatalf("expired: %v", err)
	}
	if len(expired) != 2 || expired[0].RaffleID != "past" || expired[1].RaffleID != "buffer" {
		t.Fatalf("unexpected expired set %+v", ids(expired))
	}

	list, total, err := s.ListRaffles(ctx, model.RaffleFilter{Statuses: []model.RaffleStatus{model.StatusActive}, Limit: 2})
	if err != nil || total != 4 || len(list) != 2 {
		t.Fatalf("unexpected list total=%d len=%d err=%v", total, len(list), err)
	}
}

func TestStateRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	if _, ok, _ := s.LoadState(ctx, "indexer"); ok {
		t.Fatalf("expected no state")
	}
	if err := s.SaveState(ctx, "indexer", 42); err != nil {
		t.Fatalf("save: %v", err)
	}
	v, ok, err := s.LoadState(ctx, "indexer")
	if err != nil || !ok || v != 42 {
		t.Fatalf("unexpected state %d ok=%v err=%v", v, ok, err)
	}
}

func ids(rs []model.Raffle) []string {
	out := make([]string, 0, len(rs))
	for _, r := range rs {
		out = append(out, r.RaffleID)
	}
	return out
}

func TestUncappedRaffleIsNotSoldOut(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	seedRaffle(t, s, "open", 0, now.Add(time.Hour))

	if _, err := s.RecordPurchase(ctx, model.TicketPurchase{TxHash: "A", RaffleID: "open", Buyer: "b", Quantity: 7, TotalPaid: "7"}); err != nil {
		t.Fatalf("purchase: %v", err)
	}
	r, _, _ := s.GetRaffle(ctx, "open")
	if r.TicketsSold != 7 {
		t.Fatalf("expected uncapped count 7, got %d", r.TicketsSold)
	}
	eligible, err := s.ListEligible(ctx, now, 30*time.Second)
	if err != nil {
		t.Fatalf("eligible: %v", err)
	}
	if len(eligible) != 0 {
		t.Fatalf("uncapped raffle before its end must not be eligible, got %v", ids(eligible))
	}
}
