package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"raffleScope/internal/model"
	"raffleScope/internal/storage"
)

type participantKey struct {
	raffleID string
	address  string
}

// Store is an in-process implementation of storage.Store.
type Store struct {
	mu           sync.RWMutex
	raffles      map[string]model.Raffle
	participants map[participantKey]model.Participant
	purchases    map[string]model.TicketPurchase
	state        map[string]uint64
	now          func() time.Time
}

var _ storage.Store = (*Store)(nil)

func NewStore() *Store {
	return &Store{
		raffles:      make(map[string]model.Raffle),
		participants: make(map[participantKey]model.Participant),
		purchases:    make(map[string]model.TicketPurchase),
		state:        make(map[string]uint64),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) Ping(context.Context) error { return nil }
func (s *Store) Close()                     {}

func (s *Store) InsertRaffle(_ context.Context, r model.Raffle) (bool, error) {
	if r.RaffleID == "" {
		return false, fmt.Errorf("raffle id required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.raffles[r.RaffleID]; ok {
		return false, nil
	}
	now := s.now()
	r.CreatedAt = now
	r.UpdatedAt = now
	s.raffles[r.RaffleID] = r
	return true, nil
}

func (s *Store) RecordPurchase(_ context.Context, p model.TicketPurchase) (bool, error) {
	paid, err := decimal.NewFromString(p.TotalPaid)
	if err != nil {
		return false, fmt.Errorf("total paid %q: %w", p.TotalPaid, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := fmt.Sprintf("%s:%d", p.TxHash, p.EventIndex)
	if _, ok := s.purchases[key]; ok {
		return false, nil
	}
	s.purchases[key] = p

	pk := participantKey{raffleID: p.RaffleID, address: p.Buyer}
	part, ok := s.participants[pk]
	if !ok {
		part = model.Participant{
			RaffleID:      p.RaffleID,
			Address:       p.Buyer,
			TotalPaid:     "0",
			FirstPurchase: p.PurchasedAt,
			LastPurchase:  p.PurchasedAt,
			PaymentDenom:  p.Denom,
		}
	}
	prev, err := decimal.NewFromString(part.TotalPaid)
	if err != nil {
		return false, fmt.Errorf("participant total %q: %w", part.TotalPaid, err)
	}
	part.TicketCount += p.Quantity
	part.TotalPaid = prev.Add(paid).String()
	if p.PurchasedAt.Before(part.FirstPurchase) {
		part.FirstPurchase = p.PurchasedAt
	}
	if p.PurchasedAt.After(part.LastPurchase) {
		part.LastPurchase = p.PurchasedAt
	}
	s.participants[pk] = part

	if r, ok := s.raffles[p.RaffleID]; ok {
		r.TicketsSold = storage.ClampSold(r.TicketsSold+p.Quantity, r.MaxTickets)
		r.UpdatedAt = s.now()
		s.raffles[p.RaffleID] = r
	}
	return true, nil
}

func (s *Store) update(raffleID string, fn func(r *model.Raffle)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.raffles[raffleID]
	if !ok {
		return false
	}
	fn(&r)
	r.UpdatedAt = s.now()
	s.raffles[raffleID] = r
	return true
}

func (s *Store) MarkRaffleEnded(_ context.Context, raffleID string, e model.RaffleEnding) (bool, error) {
	return s.update(raffleID, func(r *model.Raffle) {
		r.Status = model.StatusCompleted
		reason := e.EndReason
		round := e.RandomnessRound
		height := e.Height
		hash := e.TxHash
		r.EndReason = &reason
		r.RandomnessRound = &round
		r.EndedHeight = &height
		r.EndTxHash = &hash
	}), nil
}

func (s *Store) SetRaffleWinner(_ context.Context, raffleID, winner string, ticketIndex uint64) (bool, error) {
	return s.update(raffleID, func(r *model.Raffle) {
		r.Winner = &winner
		r.WinningTicketIndex = &ticketIndex
	}), nil
}

func (s *Store) MarkRaffleCancelled(_ context.Context, raffleID string, height uint64, txHash string) (bool, error) {
	return s.update(raffleID, func(r *model.Raffle) {
		r.Status = model.StatusCancelled
		r.EndedHeight = &height
		r.EndTxHash = &txHash
	}), nil
}

func (s *Store) CompleteSettlement(_ context.Context, raffleID string, st model.Settlement) error {
	ok := s.update(raffleID, func(r *model.Raffle) {
		r.Status = model.StatusCompleted
		r.Winner = &st.Winner
		r.WinningTicketIndex = &st.WinningTicketIndex
		r.RandomnessRound = &st.RandomnessRound
		r.EndReason = &st.EndReason
		r.EndTxHash = &st.TxHash
		r.EndedHeight = &st.Height
		r.TicketsSold = storage.ClampSold(st.TicketsSold, r.MaxTickets)
	})
	if !ok {
		return fmt.Errorf("raffle %s not found", raffleID)
	}
	return nil
}

func (s *Store) ReconcileRaffle(_ context.Context, raffleID string, snap model.LedgerSnapshot) error {
	ok := s.update(raffleID, func(r *model.Raffle) {
		if snap.Status != "" {
			r.Status = snap.Status
		}
		if snap.Winner != nil {
			w := *snap.Winner
			r.Winner = &w
		}
		r.TicketsSold = storage.ClampSold(snap.TicketsSold, r.MaxTickets)
		if r.Status == model.StatusCompleted && r.EndReason == nil {
			reason := storage.ReconciledEndReason(snap)
			r.EndReason = &reason
		}
	})
	if !ok {
		return fmt.Errorf("raffle %s not found", raffleID)
	}
	return nil
}

func (s *Store) GetRaffle(_ context.Context, raffleID string) (model.Raffle, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.raffles[raffleID]
	return r, ok, nil
}

func (s *Store) ListRaffles(_ context.Context, f model.RaffleFilter) ([]model.Raffle, int, error) {
	statuses := make(map[model.RaffleStatus]bool, len(f.Statuses))
	for _, st := range f.Statuses {
		statuses[st] = true
	}
	matched := s.filter(func(r model.Raffle) bool {
		if len(statuses) > 0 && !statuses[r.Status] {
			return false
		}
		return f.Creator == "" || r.Creator == f.Creator
	})
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedHeight != matched[j].CreatedHeight {
			return matched[i].CreatedHeight > matched[j].CreatedHeight
		}
		return matched[i].RaffleID > matched[j].RaffleID
	})
	return page(matched, f.Limit, f.Offset), len(matched), nil
}

func (s *Store) ListEligible(_ context.Context, now time.Time, buffer time.Duration) ([]model.Raffle, error) {
	out := s.filter(func(r model.Raffle) bool { return r.EligibleForSettlement(now, buffer) })
	sortByEndTime(out)
	return out, nil
}

func (s *Store) ListExpired(_ context.Context, now time.Time) ([]model.Raffle, error) {
	out := s.filter(func(r model.Raffle) bool { return r.Expired(now) })
	sortByEndTime(out)
	return out, nil
}

func (s *Store) ListParticipants(_ context.Context, raffleID string, limit, offset int) ([]model.Participant, int, error) {
	s.mu.RLock()
	var out []model.Participant
	for k, p := range s.participants {
		if k.raffleID == raffleID {
			out = append(out, p)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].TicketCount != out[j].TicketCount {
			return out[i].TicketCount > out[j].TicketCount
		}
		return out[i].Address < out[j].Address
	})
	return page(out, limit, offset), len(out), nil
}

func (s *Store) LoadState(_ context.Context, name string) (uint64, bool, error) {
	if name == "" {
		return 0, false, fmt.Errorf("state name required")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.state[name]
	return v, ok, nil
}

func (s *Store) SaveState(_ context.Context, name string, value uint64) error {
	if name == "" {
		return fmt.Errorf("state name required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state[name] = value
	return nil
}

func (s *Store) filter(keep func(model.Raffle) bool) []model.Raffle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Raffle
	for _, r := range s.raffles {
		if keep(r) {
			out = append(out, r)
		}
	}
	return out
}

func sortByEndTime(rs []model.Raffle) {
	sort.Slice(rs, func(i, j int) bool {
		if !rs[i].EndTime.Equal(rs[j].EndTime) {
			return rs[i].EndTime.Before(rs[j].EndTime)
		}
		return rs[i].RaffleID < rs[j].RaffleID
	})
}

func page[T any](items []T, limit, offset int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
