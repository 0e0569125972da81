package model

import "time"

// Participant aggregates all ticket purchases of one address in one raffle.
type Participant struct {
	RaffleID      string    `json:"raffle_id"`
	Address       string    `json:"address"`
	TicketCount   uint64    `json:"ticket_count"`
	TotalPaid     string    `json:"total_paid"`
	FirstPurchase time.Time `json:"first_purchase"`
	LastPurchase  time.Time `json:"last_purchase"`
	PaymentDenom  string    `json:"payment_denom"`
}

// TicketPurchase is one tickets_bought event, keyed by its position on chain.
type TicketPurchase struct {
	TxHash      string    `json:"tx_hash"`
	EventIndex  int       `json:"event_index"`
	RaffleID    string    `json:"raffle_id"`
	Buyer       string    `json:"buyer"`
	Quantity    uint64    `json:"quantity"`
	TotalPaid   string    `json:"total_paid"`
	Denom       string    `json:"denom"`
	Height      uint64    `json:"height"`
	PurchasedAt time.Time `json:"purchased_at"`
}
