package model

import (
	"strconv"
	"time"
)

// LedgerEvent is one contract event as extracted from a transaction result.
// A wasm event that carries several action attributes yields one LedgerEvent per action.
type LedgerEvent struct {
	Action     string            `json:"action"`
	Contract   string            `json:"contract"`
	Attributes map[string]string `json:"attributes"`
	Height     uint64            `json:"height"`
	TxHash     string            `json:"tx_hash"`
	EventIndex int               `json:"event_index"`
	Timestamp  time.Time         `json:"timestamp"`
}

// Key uniquely identifies the event on chain.
func (e LedgerEvent) Key() string {
	return e.TxHash + ":" + strconv.Itoa(e.EventIndex)
}
