package model

// DecodeError records a contract event that could not be decoded.
type DecodeError struct {
	Height     uint64 `json:"height"`
	TxHash     string `json:"tx_hash"`
	EventIndex int    `json:"event_index"`
	Contract   string `json:"contract"`
	Action     string `json:"action"`
	Error      string `json:"error"`
}
