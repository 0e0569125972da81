package model

import "time"

// Contract event actions emitted by the raffle contract.
const (
	ActionRaffleCreated   = "raffle_created"
	ActionTicketsBought   = "tickets_bought"
	ActionRaffleEnded     = "raffle_ended"
	ActionWinnerSelected  = "winner_selected"
	ActionRaffleCancelled = "raffle_cancelled"
)

// Event is a decoded contract event. Concrete types are the variants below.
type Event interface {
	Raw() LedgerEvent
	Raffle() string
}

// EventMeta is shared by all event variants.
type EventMeta struct {
	Ledger   LedgerEvent
	RaffleID string
}

func (m EventMeta) Raw() LedgerEvent { return m.Ledger }
func (m EventMeta) Raffle() string   { return m.RaffleID }

// RaffleCreated is the decoded raffle_created payload.
type RaffleCreated struct {
	EventMeta
	Creator        string
	NFTContract    string
	TokenID        string
	TicketPrice    string
	PaymentDenom   string
	PaymentCW20    string
	MaxTickets     uint64
	StartTime      time.Time
	EndTime        time.Time
	RevenueAddress string
}

// TicketsBought is the decoded tickets_bought payload.
type TicketsBought struct {
	EventMeta
	Buyer     string
	Quantity  uint64
	TotalPaid string
	Denom     string
}

// RaffleEnded is the decoded raffle_ended payload.
type RaffleEnded struct {
	EventMeta
	EndReason       EndReason
	RandomnessRound uint64
}

// WinnerSelected is the decoded winner_selected payload.
type WinnerSelected struct {
	EventMeta
	Winner      string
	TicketIndex uint64
}

// RaffleCancelled is the decoded raffle_cancelled payload.
type RaffleCancelled struct {
	EventMeta
	Creator string
}

// UnknownEvent carries an action this process does not project.
type UnknownEvent struct {
	EventMeta
}

// MalformedEvent carries a known action whose attributes failed to decode.
type MalformedEvent struct {
	EventMeta
	Err error
}

// Record builds the initial projection of a raffle_created event.
func (e RaffleCreated) Record() Raffle {
	paymentType := PaymentNative
	if e.PaymentCW20 != "" {
		paymentType = PaymentCW20
	}
	start := e.StartTime
	if start.IsZero() {
		start = e.Ledger.Timestamp
	}
	return Raffle{
		RaffleID:       e.RaffleID,
		Creator:        e.Creator,
		NFTContract:    e.NFTContract,
		TokenID:        e.TokenID,
		TicketPrice:    e.TicketPrice,
		MaxTickets:     e.MaxTickets,
		StartTime:      start,
		EndTime:        e.EndTime,
		PaymentType:    paymentType,
		PaymentDenom:   e.PaymentDenom,
		PaymentCW20:    e.PaymentCW20,
		RevenueAddress: e.RevenueAddress,
		Status:         StatusActive,
		CreatedHeight:  e.Ledger.Height,
		CreateTxHash:   e.Ledger.TxHash,
	}
}

// Purchase converts a tickets_bought event into a purchase record.
func (e TicketsBought) Purchase() TicketPurchase {
	return TicketPurchase{
		TxHash:      e.Ledger.TxHash,
		EventIndex:  e.Ledger.EventIndex,
		RaffleID:    e.RaffleID,
		Buyer:       e.Buyer,
		Quantity:    e.Quantity,
		TotalPaid:   e.TotalPaid,
		Denom:       e.Denom,
		Height:      e.Ledger.Height,
		PurchasedAt: e.Ledger.Timestamp,
	}
}
