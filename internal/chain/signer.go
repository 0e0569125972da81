package chain

import (
	"context"
	"crypto/ecdsa"
	"crypto/sha256"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
)

const (
	pathAccount    = "/cosmos.auth.v1beta1.Query/Account"
	pathSmartQuery = "/cosmwasm.wasm.v1.Query/SmartContractState"
)

// ErrNotConfirmed is returned when a broadcast tx is not included before the confirm timeout.
var ErrNotConfirmed = errors.New("tx not confirmed")

// SignerConfig describes the signing identity and fee policy.
type SignerConfig struct {
	PrivateKeyHex  string
	AddressPrefix  string
	ChainID        string
	Memo           string
	Fee            Coin
	GasLimit       uint64
	ConfirmTimeout time.Duration
	PollInterval   time.Duration
}

// TxError reports a transaction rejected at CheckTx or failed at DeliverTx.
type TxError struct {
	Stage     string
	TxHash    string
	Code      uint32
	Codespace string
	Log       string
}

func (e *TxError) Error() string {
	return fmt.Sprintf("tx %s failed at %s: codespace=%s code=%d log=%s", e.TxHash, e.Stage, e.Codespace, e.Code, e.Log)
}

// ExecResult is the outcome of an included transaction.
type ExecResult struct {
	TxHash string
	Height uint64
	Events []ABCIEvent
}

// Signer signs and broadcasts contract executions for one account.
type Signer struct {
	client  *Client
	cfg     SignerConfig
	key     *ecdsa.PrivateKey
	pubKey  []byte
	address string

	// serializes broadcasts so account sequences don't collide
	mu sync.Mutex
}

// NewSigner loads the key and resolves the chain id from the node when not configured.
func NewSigner(ctx context.Context, client *Client, cfg SignerConfig) (*Signer, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(cfg.PrivateKeyHex), "0x"))
	if err != nil {
		return nil, fmt.Errorf("load signer key: %w", err)
	}
	pubKey := crypto.CompressPubkey(&key.PublicKey)
	address, err := AddressFromPubKey(cfg.AddressPrefix, pubKey)
	if err != nil {
		return nil, err
	}
	if cfg.ChainID == "" {
		status, err := client.Status(ctx)
		if err != nil {
			return nil, fmt.Errorf("resolve chain id: %w", err)
		}
		cfg.ChainID = status.ChainID
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = 30 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}

	return &Signer{
		client:  client,
		cfg:     cfg,
		key:     key,
		pubKey:  pubKey,
		address: address,
	}, nil
}

// Address returns the bech32 address of the signing account.
func (s *Signer) Address() string {
	return s.address
}

// ChainID returns the chain id transactions are signed for.
func (s *Signer) ChainID() string {
	return s.cfg.ChainID
}

// Account fetches the account number and sequence for the signer.
func (s *Signer) Account(ctx context.Context) (*Account, error) {
	value, err := s.client.ABCIQuery(ctx, pathAccount, EncodeAccountQuery(s.address))
	if err != nil {
		return nil, fmt.Errorf("query account %s: %w", s.address, err)
	}
	return DecodeAccountResponse(value)
}

// ExecuteContract signs a MsgExecuteContract, broadcasts it and waits for inclusion.
func (s *Signer) ExecuteContract(ctx context.Context, contract string, msg []byte, funds []Coin) (*ExecResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acc, err := s.Account(ctx)
	if err != nil {
		return nil, err
	}

	body := EncodeTxBody([][]byte{EncodeExecuteContract(s.address, contract, msg, funds)}, s.cfg.Memo)
	var fee []Coin
	if s.cfg.Fee.Amount != "" {
		fee = []Coin{s.cfg.Fee}
	}
	authInfo := EncodeAuthInfo(TxParams{
		ChainID:       s.cfg.ChainID,
		AccountNumber: acc.AccountNumber,
		Sequence:      acc.Sequence,
		PubKey:        s.pubKey,
		Fee:           fee,
		GasLimit:      s.cfg.GasLimit,
	})
	signDoc := EncodeSignDoc(body, authInfo, s.cfg.ChainID, acc.AccountNumber)
	digest := sha256.Sum256(signDoc)
	sig, err := crypto.Sign(digest[:], s.key)
	if err != nil {
		return nil, fmt.Errorf("sign tx: %w", err)
	}

	txBytes := EncodeTxRaw(body, authInfo, sig[:64])
	res, err := s.client.BroadcastTxSync(ctx, txBytes)
	if err != nil {
		return nil, err
	}
	if res.Code != 0 {
		return nil, &TxError{Stage: "check", TxHash: res.Hash, Code: res.Code, Codespace: res.Codespace, Log: res.Log}
	}

	return s.waitForTx(ctx, res.Hash)
}

func (s *Signer) waitForTx(ctx context.Context, hash string) (*ExecResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ConfirmTimeout)
	defer cancel()

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		tx, err := s.client.Tx(ctx, hash)
		switch {
		case err == nil:
			height, err := tx.BlockHeight()
			if err != nil {
				return nil, err
			}
			if tx.TxResult.Code != 0 {
				return nil, &TxError{
					Stage:     "deliver",
					TxHash:    hash,
					Code:      tx.TxResult.Code,
					Codespace: tx.TxResult.Codespace,
					Log:       tx.TxResult.Log,
				}
			}
			return &ExecResult{TxHash: hash, Height: height, Events: tx.TxResult.Events}, nil
		case errors.Is(err, ErrTxNotFound):
		default:
			if ctx.Err() == nil {
				return nil, err
			}
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s", ErrNotConfirmed, hash)
		case <-ticker.C:
		}
	}
}

// QuerySmart runs a JSON smart query against a contract and returns the JSON response.
func (c *Client) QuerySmart(ctx context.Context, contract string, query []byte) ([]byte, error) {
	value, err := c.ABCIQuery(ctx, pathSmartQuery, EncodeSmartQuery(contract, query))
	if err != nil {
		return nil, err
	}
	return DecodeSmartQueryResponse(value)
}
