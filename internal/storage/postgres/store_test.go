package postgres

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"raffleScope/internal/model"
)

// openTestStore connects to RAFFLE_TEST_PG_DSN and skips when it is unset.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("RAFFLE_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("RAFFLE_TEST_PG_DSN not set")
	}
	ctx := context.Background()
	s, err := NewStore(ctx, dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(s.Close)
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return s
}

func TestUncappedRaffleIsNotSoldOut(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	id := fmt.Sprintf("open-%d", now.UnixNano())

	ok, err := s.InsertRaffle(ctx, model.Raffle{RaffleID: id, Creator: "c", TicketPrice: "1", Status: model.StatusActive, EndTime: now.Add(time.Hour), CreateTxHash: "T0"})
	if err != nil || !ok {
		t.Fatalf("insert: ok=%v err=%v", ok, err)
	}
	if _, err := s.RecordPurchase(ctx, model.TicketPurchase{TxHash: id, RaffleID: id, Buyer: "b", Quantity: 7, TotalPaid: "7", PurchasedAt: now}); err != nil {
		t.Fatalf("purchase: %v", err)
	}

	r, ok, err := s.GetRaffle(ctx, id)
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if r.TicketsSold != 7 {
		t.Fatalf("expected uncapped count 7, got %d", r.TicketsSold)
	}

	eligible, err := s.ListEligible(ctx, now, 30*time.Second)
	if err != nil {
		t.Fatalf("eligible: %v", err)
	}
	for _, e := range eligible {
		if e.RaffleID == id {
			t.Fatalf("uncapped raffle before its end must not be eligible")
		}
	}
}
