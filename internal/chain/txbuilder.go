package chain

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

const (
	typeURLExecuteContract = "/cosmwasm.wasm.v1.MsgExecuteContract"
	typeURLSecp256k1PubKey = "/cosmos.crypto.secp256k1.PubKey"
	typeURLBaseAccount     = "/cosmos.auth.v1beta1.BaseAccount"

	signModeDirect = 1
)

// Coin is an amount of a single denom. Amount is a decimal integer string.
type Coin struct {
	Denom  string `json:"denom"`
	Amount string `json:"amount"`
}

// String renders the coin in the "<amount><denom>" form the chain uses.
func (c Coin) String() string {
	return c.Amount + c.Denom
}

// TxParams are the inputs needed to build and sign one transaction.
type TxParams struct {
	ChainID       string
	AccountNumber uint64
	Sequence      uint64
	PubKey        []byte
	Memo          string
	Fee           []Coin
	GasLimit      uint64
}

func appendBytesField(b []byte, num protowire.Number, v []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func appendStringField(b []byte, num protowire.Number, v string) []byte {
	if v == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, v)
}

func appendVarintField(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func encodeCoin(c Coin) []byte {
	var b []byte
	b = appendStringField(b, 1, c.Denom)
	b = appendStringField(b, 2, c.Amount)
	return b
}

func encodeAny(typeURL string, value []byte) []byte {
	var b []byte
	b = appendStringField(b, 1, typeURL)
	b = appendBytesField(b, 2, value)
	return b
}

// EncodeExecuteContract encodes a MsgExecuteContract wrapped in an Any.
func EncodeExecuteContract(sender, contract string, msg []byte, funds []Coin) []byte {
	var m []byte
	m = appendStringField(m, 1, sender)
	m = appendStringField(m, 2, contract)
	m = appendBytesField(m, 3, msg)
	for _, c := range funds {
		m = appendBytesField(m, 5, encodeCoin(c))
	}
	return encodeAny(typeURLExecuteContract, m)
}

// EncodeTxBody encodes a TxBody holding the given Any-wrapped messages.
func EncodeTxBody(msgs [][]byte, memo string) []byte {
	var b []byte
	for _, m := range msgs {
		b = appendBytesField(b, 1, m)
	}
	b = appendStringField(b, 2, memo)
	return b
}

// EncodeAuthInfo encodes a single-signer AuthInfo in SIGN_MODE_DIRECT.
func EncodeAuthInfo(p TxParams) []byte {
	var pk []byte
	pk = appendBytesField(pk, 1, p.PubKey)

	var single []byte
	single = appendVarintField(single, 1, signModeDirect)
	var modeInfo []byte
	modeInfo = appendBytesField(modeInfo, 1, single)

	var signer []byte
	signer = appendBytesField(signer, 1, encodeAny(typeURLSecp256k1PubKey, pk))
	signer = appendBytesField(signer, 2, modeInfo)
	signer = appendVarintField(signer, 3, p.Sequence)

	var fee []byte
	for _, c := range p.Fee {
		fee = appendBytesField(fee, 1, encodeCoin(c))
	}
	fee = appendVarintField(fee, 2, p.GasLimit)

	var b []byte
	b = appendBytesField(b, 1, signer)
	b = appendBytesField(b, 2, fee)
	return b
}

// EncodeSignDoc encodes the SIGN_MODE_DIRECT sign document.
func EncodeSignDoc(body, authInfo []byte, chainID string, accountNumber uint64) []byte {
	var b []byte
	b = appendBytesField(b, 1, body)
	b = appendBytesField(b, 2, authInfo)
	b = appendStringField(b, 3, chainID)
	b = appendVarintField(b, 4, accountNumber)
	return b
}

// EncodeTxRaw encodes the broadcastable TxRaw.
func EncodeTxRaw(body, authInfo []byte, signatures ...[]byte) []byte {
	var b []byte
	b = appendBytesField(b, 1, body)
	b = appendBytesField(b, 2, authInfo)
	for _, sig := range signatures {
		b = appendBytesField(b, 3, sig)
	}
	return b
}

// EncodeAccountQuery encodes a QueryAccountRequest.
func EncodeAccountQuery(address string) []byte {
	return appendStringField(nil, 1, address)
}

// EncodeSmartQuery encodes a QuerySmartContractStateRequest.
func EncodeSmartQuery(contract string, query []byte) []byte {
	var b []byte
	b = appendStringField(b, 1, contract)
	b = appendBytesField(b, 2, query)
	return b
}

// DecodeSmartQueryResponse extracts the JSON payload of a QuerySmartContractStateResponse.
func DecodeSmartQueryResponse(b []byte) ([]byte, error) {
	var data []byte
	err := walkFields(b, func(num protowire.Number, raw []byte, _ uint64) error {
		if num == 1 {
			data = raw
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Account is the signing state of a BaseAccount.
type Account struct {
	Address       string
	AccountNumber uint64
	Sequence      uint64
}

// DecodeAccountResponse decodes a QueryAccountResponse holding a BaseAccount.
func DecodeAccountResponse(b []byte) (*Account, error) {
	var anyBytes []byte
	err := walkFields(b, func(num protowire.Number, raw []byte, _ uint64) error {
		if num == 1 {
			anyBytes = raw
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if anyBytes == nil {
		return nil, errors.New("account response is empty")
	}

	var typeURL string
	var value []byte
	err = walkFields(anyBytes, func(num protowire.Number, raw []byte, _ uint64) error {
		switch num {
		case 1:
			typeURL = string(raw)
		case 2:
			value = raw
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if typeURL != typeURLBaseAccount {
		return nil, fmt.Errorf("unsupported account type %q", typeURL)
	}

	acc := &Account{}
	err = walkFields(value, func(num protowire.Number, raw []byte, v uint64) error {
		switch num {
		case 1:
			acc.Address = string(raw)
		case 3:
			acc.AccountNumber = v
		case 4:
			acc.Sequence = v
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return acc, nil
}

// walkFields visits each top-level field. Bytes fields arrive in raw, varints in v.
func walkFields(b []byte, fn func(num protowire.Number, raw []byte, v uint64) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		switch typ {
		case protowire.VarintType:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return protowire.ParseError(m)
			}
			if err := fn(num, nil, v); err != nil {
				return err
			}
			b = b[m:]
		case protowire.BytesType:
			raw, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return protowire.ParseError(m)
			}
			if err := fn(num, raw, 0); err != nil {
				return err
			}
			b = b[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return protowire.ParseError(m)
			}
			b = b[m:]
		}
	}
	return nil
}
