package model

// RandomnessSample is one published beacon round.
type RandomnessSample struct {
	Round      uint64 `json:"round"`
	Randomness string `json:"randomness"`
	Signature  string `json:"signature"`
}
