package ledger

import (
	"time"

	"raffleScope/internal/chain"
	"raffleScope/internal/model"
)

const (
	wasmEventType = "wasm"
	attrContract  = "_contract_address"
	attrAction    = "action"
	attrRaffleID  = "raffle_id"
)

// ExtractEvents splits the wasm events of a successful tx into logical contract events.
// Each action attribute starts a new event; raffle_id carries forward within one wasm event.
// Only runs emitted by contract are kept.
func ExtractEvents(tx chain.TxResponse, contract string, height uint64, ts time.Time) []model.LedgerEvent {
	if tx.TxResult.Code != 0 {
		return nil
	}

	var out []model.LedgerEvent
	for _, ev := range tx.TxResult.Events {
		if ev.Type != wasmEventType {
			continue
		}

		var (
			current  *model.LedgerEvent
			emitter  string
			raffleID string
		)
		flush := func() {
			if current == nil {
				return
			}
			if current.Contract == contract {
				if _, ok := current.Attributes[attrRaffleID]; !ok && raffleID != "" {
					current.Attributes[attrRaffleID] = raffleID
				}
				current.EventIndex = len(out)
				out = append(out, *current)
			}
			current = nil
		}

		for _, attr := range ev.Attributes {
			switch attr.Key {
			case attrContract:
				flush()
				emitter = attr.Value
				raffleID = ""
			case attrAction:
				flush()
				current = &model.LedgerEvent{
					Action:     attr.Value,
					Contract:   emitter,
					Attributes: make(map[string]string),
					Height:     height,
					TxHash:     tx.Hash,
					Timestamp:  ts,
				}
			default:
				if current == nil {
					continue
				}
				current.Attributes[attr.Key] = attr.Value
				if attr.Key == attrRaffleID {
					raffleID = attr.Value
				}
			}
		}
		flush()
	}
	return out
}

// hasContractEvents reports whether any wasm event in the tx was emitted by contract.
func hasContractEvents(tx chain.TxResponse, contract string) bool {
	for _, ev := range tx.TxResult.Events {
		if ev.Type != wasmEventType {
			continue
		}
		for _, attr := range ev.Attributes {
			if attr.Key == attrContract && attr.Value == contract {
				return true
			}
		}
	}
	return false
}
