package contract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"raffleScope/internal/chain"
	"raffleScope/internal/model"
)

// ErrRaffleNotFound is returned when the contract has no raffle with the id.
var ErrRaffleNotFound = errors.New("raffle not found on ledger")

// Gateway is the subset of the ledger gateway the bindings use.
type Gateway interface {
	QueryContract(ctx context.Context, address string, query interface{}) (json.RawMessage, error)
	ExecuteContract(ctx context.Context, sender string, msg interface{}, funds []chain.Coin) (*chain.ExecResult, error)
	SignerReady() bool
	SenderAddress() string
}

// Timestamp is a CosmWasm timestamp: nanoseconds since epoch encoded as a string.
type Timestamp string

// Time converts the timestamp. An empty value yields the zero time.
func (t Timestamp) Time() (time.Time, error) {
	if t == "" {
		return time.Time{}, nil
	}
	nanos, err := strconv.ParseInt(string(t), 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", string(t), err)
	}
	return time.Unix(0, nanos).UTC(), nil
}

// RaffleView is the contract's raffle query response.
type RaffleView struct {
	ID          uint64     `json:"id"`
	Creator     string     `json:"creator"`
	NFTContract string     `json:"nft_contract"`
	TokenID     string     `json:"token_id"`
	Price       chain.Coin `json:"price"`
	MaxTickets  uint64     `json:"max_tickets"`
	TotalSold   uint64     `json:"total_sold"`
	StartTime   *Timestamp `json:"start_time"`
	EndTime     Timestamp  `json:"end_time"`
	Status      string     `json:"status"`
	Winner      *string    `json:"winner"`
}

// Snapshot converts the view into the fields settlement reconciles from.
func (v RaffleView) Snapshot() model.LedgerSnapshot {
	return model.LedgerSnapshot{
		Status:      model.RaffleStatus(v.Status),
		Winner:      v.Winner,
		TicketsSold: v.TotalSold,
		MaxTickets:  v.MaxTickets,
	}
}

type raffleQuery struct {
	Raffle struct {
		RaffleID uint64 `json:"raffle_id"`
	} `json:"raffle"`
}

type raffleResponse struct {
	Raffle *RaffleView `json:"raffle"`
}

// EndRaffleMsg closes a raffle with a drand sample.
type EndRaffleMsg struct {
	RaffleID   uint64 `json:"raffle_id"`
	DrandRound uint64 `json:"drand_round"`
	Randomness string `json:"randomness"`
	Signature  string `json:"signature"`
}

type executeMsg struct {
	EndRaffle *EndRaffleMsg `json:"end_raffle,omitempty"`
}

// Raffles binds the raffle contract's query and execute messages.
type Raffles struct {
	gw Gateway
}

// NewRaffles builds contract bindings over a gateway.
func NewRaffles(gw Gateway) *Raffles {
	return &Raffles{gw: gw}
}

// ParseRaffleID converts a projected raffle id into the contract's u64 id.
func ParseRaffleID(raffleID string) (uint64, error) {
	id, err := strconv.ParseUint(raffleID, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid raffle id %q: %w", raffleID, err)
	}
	return id, nil
}

// Raffle queries the contract for a raffle.
func (r *Raffles) Raffle(ctx context.Context, raffleID string) (*RaffleView, error) {
	id, err := ParseRaffleID(raffleID)
	if err != nil {
		return nil, err
	}
	var q raffleQuery
	q.Raffle.RaffleID = id

	raw, err := r.gw.QueryContract(ctx, "", q)
	if err != nil {
		return nil, fmt.Errorf("query raffle %s: %w", raffleID, err)
	}
	var resp raffleResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode raffle %s: %w", raffleID, err)
	}
	if resp.Raffle == nil {
		return nil, fmt.Errorf("%w: %s", ErrRaffleNotFound, raffleID)
	}
	return resp.Raffle, nil
}

// QueryRaffle returns the authoritative ledger state of a raffle.
func (r *Raffles) QueryRaffle(ctx context.Context, raffleID string) (model.LedgerSnapshot, error) {
	view, err := r.Raffle(ctx, raffleID)
	if err != nil {
		return model.LedgerSnapshot{}, err
	}
	return view.Snapshot(), nil
}

// EndRaffle submits end_raffle from the signing account.
func (r *Raffles) EndRaffle(ctx context.Context, raffleID string, sample model.RandomnessSample) (*chain.ExecResult, error) {
	id, err := ParseRaffleID(raffleID)
	if err != nil {
		return nil, err
	}
	msg := executeMsg{EndRaffle: &EndRaffleMsg{
		RaffleID:   id,
		DrandRound: sample.Round,
		Randomness: sample.Randomness,
		Signature:  sample.Signature,
	}}
	return r.gw.ExecuteContract(ctx, r.gw.SenderAddress(), msg, nil)
}

// SignerReady reports whether end_raffle can be submitted.
func (r *Raffles) SignerReady() bool {
	return r.gw.SignerReady()
}
