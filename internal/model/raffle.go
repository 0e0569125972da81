package model

import "time"

// RaffleStatus is the persisted lifecycle status of a raffle.
type RaffleStatus string

const (
	StatusActive    RaffleStatus = "active"
	StatusCompleted RaffleStatus = "completed"
	StatusCancelled RaffleStatus = "cancelled"
)

// EndReason records why a raffle was closed.
type EndReason string

const (
	EndReasonTime    EndReason = "time"
	EndReasonSoldOut EndReason = "soldout"
)

// PaymentType distinguishes native-denom from cw20 ticket payments.
type PaymentType string

const (
	PaymentNative PaymentType = "native"
	PaymentCW20   PaymentType = "cw20"
)

// Raffle is the projected state of one on-chain raffle.
type Raffle struct {
	RaffleID           string       `json:"raffle_id"`
	Creator            string       `json:"creator"`
	NFTContract        string       `json:"nft_contract"`
	TokenID            string       `json:"token_id"`
	TicketPrice        string       `json:"ticket_price"`
	MaxTickets         uint64       `json:"max_tickets"`
	TicketsSold        uint64       `json:"tickets_sold"`
	StartTime          time.Time    `json:"start_time"`
	EndTime            time.Time    `json:"end_time"`
	PaymentType        PaymentType  `json:"payment_type"`
	PaymentDenom       string       `json:"payment_denom,omitempty"`
	PaymentCW20        string       `json:"payment_cw20,omitempty"`
	RevenueAddress     string       `json:"revenue_address"`
	Status             RaffleStatus `json:"status"`
	Winner             *string      `json:"winner,omitempty"`
	WinningTicketIndex *uint64      `json:"winning_ticket_index,omitempty"`
	RandomnessRound    *uint64      `json:"randomness_round,omitempty"`
	EndReason          *EndReason   `json:"end_reason,omitempty"`
	CreatedHeight      uint64       `json:"created_height"`
	EndedHeight        *uint64      `json:"ended_height,omitempty"`
	CreateTxHash       string       `json:"create_tx_hash"`
	EndTxHash          *string      `json:"end_tx_hash,omitempty"`
	CreatedAt          time.Time    `json:"created_at"`
	UpdatedAt          time.Time    `json:"updated_at"`
}

// SoldOut reports whether every ticket has been sold.
func (r Raffle) SoldOut() bool {
	return r.MaxTickets > 0 && r.TicketsSold >= r.MaxTickets
}

// EligibleForSettlement reports whether the raffle should be closed at now.
// The buffer delays time-based closing so the randomness beacon has published
// a round the contract will accept.
func (r Raffle) EligibleForSettlement(now time.Time, buffer time.Duration) bool {
	if r.Status != StatusActive || r.TicketsSold == 0 {
		return false
	}
	if r.SoldOut() {
		return true
	}
	return !r.EndTime.After(now.Add(-buffer))
}

// Expired reports whether an active raffle with sales is past its end time.
func (r Raffle) Expired(now time.Time) bool {
	return r.Status == StatusActive && r.TicketsSold > 0 && !r.EndTime.After(now)
}

// RaffleEnding carries the fields written when a raffle_ended event is projected.
type RaffleEnding struct {
	EndReason       EndReason
	RandomnessRound uint64
	Height          uint64
	TxHash          string
}

// Settlement carries the fields written after this process closed a raffle.
type Settlement struct {
	Winner             string
	WinningTicketIndex uint64
	RandomnessRound    uint64
	EndReason          EndReason
	TxHash             string
	Height             uint64
	TicketsSold        uint64
}

// LedgerSnapshot is the authoritative raffle state read back from the contract.
type LedgerSnapshot struct {
	Status      RaffleStatus
	Winner      *string
	TicketsSold uint64
	MaxTickets  uint64
}

// RaffleFilter selects raffles for listing.
type RaffleFilter struct {
	Statuses []RaffleStatus
	Creator  string
	Limit    int
	Offset   int
}
