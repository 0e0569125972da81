package storage

import (
	"context"
	"time"

	"raffleScope/internal/model"
)

// Store persists raffle projections and indexer state.
//
// Writers are keyed by raffle id and (raffle id, address); repeating a write
// with the same input leaves the store unchanged.
type Store interface {
	// InsertRaffle inserts a new raffle. It returns false when the id already exists.
	InsertRaffle(ctx context.Context, r model.Raffle) (bool, error)
	// RecordPurchase stores a purchase and, only on first sight, folds it into the
	// participant aggregate and the raffle's ticketsSold.
	RecordPurchase(ctx context.Context, p model.TicketPurchase) (bool, error)
	MarkRaffleEnded(ctx context.Context, raffleID string, e model.RaffleEnding) (bool, error)
	SetRaffleWinner(ctx context.Context, raffleID, winner string, ticketIndex uint64) (bool, error)
	MarkRaffleCancelled(ctx context.Context, raffleID string, height uint64, txHash string) (bool, error)
	CompleteSettlement(ctx context.Context, raffleID string, s model.Settlement) error
	ReconcileRaffle(ctx context.Context, raffleID string, snap model.LedgerSnapshot) error

	GetRaffle(ctx context.Context, raffleID string) (model.Raffle, bool, error)
	ListRaffles(ctx context.Context, f model.RaffleFilter) ([]model.Raffle, int, error)
	ListEligible(ctx context.Context, now time.Time, buffer time.Duration) ([]model.Raffle, error)
	ListExpired(ctx context.Context, now time.Time) ([]model.Raffle, error)
	ListParticipants(ctx context.Context, raffleID string, limit, offset int) ([]model.Participant, int, error)

	LoadState(ctx context.Context, name string) (uint64, bool, error)
	SaveState(ctx context.Context, name string, value uint64) error

	Ping(ctx context.Context) error
	Close()
}

// Archive is an append-only sink for raw extracted events and decode failures.
type Archive interface {
	PutEvents(events []model.LedgerEvent) error
	PutDecodeErrors(errs []model.DecodeError) error
}

// ReconciledEndReason derives the end reason recorded when the ledger closed a raffle
// without this process observing the raffle_ended event.
func ReconciledEndReason(snap model.LedgerSnapshot) model.EndReason {
	if snap.MaxTickets > 0 && snap.TicketsSold >= snap.MaxTickets {
		return model.EndReasonSoldOut
	}
	return model.EndReasonTime
}

// ClampSold caps a ticket count at the raffle maximum.
func ClampSold(sold, maxTickets uint64) uint64 {
	if maxTickets > 0 && sold > maxTickets {
		return maxTickets
	}
	return sold
}
