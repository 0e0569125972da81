package chain

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/bech32"
)

// AddressFromPubKey derives the bech32 account address for a compressed secp256k1 key.
func AddressFromPubKey(prefix string, compressed []byte) (string, error) {
	if len(compressed) != 33 {
		return "", fmt.Errorf("expected 33-byte compressed public key, got %d", len(compressed))
	}
	return EncodeAddress(prefix, btcutil.Hash160(compressed))
}

// EncodeAddress bech32-encodes raw address bytes under the prefix.
func EncodeAddress(prefix string, raw []byte) (string, error) {
	conv, err := bech32.ConvertBits(raw, 8, 5, true)
	if err != nil {
		return "", err
	}
	return bech32.Encode(prefix, conv)
}

// DecodeAddress returns the prefix and raw bytes of a bech32 address.
func DecodeAddress(addr string) (string, []byte, error) {
	hrp, data, err := bech32.Decode(addr)
	if err != nil {
		return "", nil, fmt.Errorf("invalid address %q: %w", addr, err)
	}
	raw, err := bech32.ConvertBits(data, 5, 8, false)
	if err != nil {
		return "", nil, fmt.Errorf("invalid address %q: %w", addr, err)
	}
	return hrp, raw, nil
}

// ValidateAddress checks that addr is bech32 with the expected prefix.
func ValidateAddress(addr, prefix string) error {
	hrp, _, err := DecodeAddress(addr)
	if err != nil {
		return err
	}
	if prefix != "" && hrp != prefix {
		return fmt.Errorf("address %q has prefix %q, want %q", addr, hrp, prefix)
	}
	return nil
}
