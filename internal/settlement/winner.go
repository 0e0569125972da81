package settlement

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"
)

// WinningIndex maps beacon randomness onto a ticket index in [0, sold).
// The first eight bytes of the randomness are read big-endian; shorter values
// are right-padded with zero bytes.
func WinningIndex(randomnessHex string, sold uint64) (uint64, error) {
	if sold == 0 {
		return 0, fmt.Errorf("no tickets sold")
	}
	raw, err := hex.DecodeString(strings.TrimPrefix(randomnessHex, "0x"))
	if err != nil {
		return 0, fmt.Errorf("decode randomness: %w", err)
	}
	if len(raw) == 0 {
		return 0, fmt.Errorf("empty randomness")
	}

	var buf [8]byte
	copy(buf[:], raw)
	return binary.BigEndian.Uint64(buf[:]) % sold, nil
}
