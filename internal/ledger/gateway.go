package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"raffleScope/internal/chain"
	"raffleScope/internal/model"
)

// Reader is the read side of a ledger node.
type Reader interface {
	LatestHeight(ctx context.Context) (uint64, error)
	SearchTxs(ctx context.Context, query string, perPage int) ([]chain.TxResponse, error)
	BlockTime(ctx context.Context, height uint64) (time.Time, error)
	QuerySmart(ctx context.Context, contract string, query []byte) ([]byte, error)
}

// Executor signs and submits contract executions.
type Executor interface {
	Address() string
	ExecuteContract(ctx context.Context, contract string, msg []byte, funds []chain.Coin) (*chain.ExecResult, error)
}

// Config configures the gateway.
type Config struct {
	Contract string
	PerPage  int
}

// Gateway is the single access point to one ledger and one contract.
type Gateway struct {
	reader   Reader
	signer   Executor
	contract string
	perPage  int
	logger   *zap.Logger
}

// NewGateway builds a gateway. signer may be nil for a read-only gateway.
func NewGateway(reader Reader, signer Executor, cfg Config, logger *zap.Logger) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PerPage <= 0 {
		cfg.PerPage = 100
	}
	return &Gateway{
		reader:   reader,
		signer:   signer,
		contract: cfg.Contract,
		perPage:  cfg.PerPage,
		logger:   logger,
	}
}

// Contract returns the configured contract address.
func (g *Gateway) Contract() string {
	return g.contract
}

// SignerReady reports whether writes can be submitted.
func (g *Gateway) SignerReady() bool {
	return g.signer != nil && g.contract != ""
}

// SenderAddress returns the signing address, or "" when no signer is configured.
func (g *Gateway) SenderAddress() string {
	if g.signer == nil {
		return ""
	}
	return g.signer.Address()
}

// CurrentHeight returns the latest ledger height.
func (g *Gateway) CurrentHeight(ctx context.Context) (uint64, error) {
	return g.reader.LatestHeight(ctx)
}

// RawEventsInRange returns contract events in [from, to] from successful txs, in ledger order.
func (g *Gateway) RawEventsInRange(ctx context.Context, from, to uint64) ([]model.LedgerEvent, error) {
	if g.contract == "" {
		return nil, ErrContractNotConfigured
	}
	if from > to {
		return nil, fmt.Errorf("invalid range: from %d > to %d", from, to)
	}

	query := fmt.Sprintf("wasm._contract_address='%s' AND tx.height>=%d AND tx.height<=%d", g.contract, from, to)
	txs, err := g.reader.SearchTxs(ctx, query, g.perPage)
	if err != nil {
		return nil, err
	}

	var out []model.LedgerEvent
	for _, tx := range txs {
		if tx.TxResult.Code != 0 || !hasContractEvents(tx, g.contract) {
			continue
		}
		height, err := tx.BlockHeight()
		if err != nil {
			return nil, err
		}
		ts, err := g.reader.BlockTime(ctx, height)
		if err != nil {
			return nil, fmt.Errorf("block time %d: %w", height, err)
		}
		out = append(out, ExtractEvents(tx, g.contract, height, ts)...)
	}
	return out, nil
}

// EventsInRange returns the typed contract events in [from, to].
func (g *Gateway) EventsInRange(ctx context.Context, from, to uint64) ([]model.Event, error) {
	raw, err := g.RawEventsInRange(ctx, from, to)
	if err != nil {
		return nil, err
	}
	out := make([]model.Event, 0, len(raw))
	for _, ev := range raw {
		out = append(out, Decode(ev))
	}
	return out, nil
}

// QueryContract runs a smart query and returns the raw JSON response.
// An empty address queries the configured contract.
func (g *Gateway) QueryContract(ctx context.Context, address string, query interface{}) (json.RawMessage, error) {
	if address == "" {
		address = g.contract
	}
	if address == "" {
		return nil, ErrContractNotConfigured
	}
	payload, err := json.Marshal(query)
	if err != nil {
		return nil, fmt.Errorf("encode query: %w", err)
	}
	return g.reader.QuerySmart(ctx, address, payload)
}

// ExecuteContract signs and submits msg to the configured contract as sender.
// Ledger refusals are returned as *RejectionError; transport errors pass through.
func (g *Gateway) ExecuteContract(ctx context.Context, sender string, msg interface{}, funds []chain.Coin) (*chain.ExecResult, error) {
	if g.signer == nil {
		return nil, ErrSigningNotReady
	}
	if g.contract == "" {
		return nil, ErrContractNotConfigured
	}
	if sender != "" && sender != g.signer.Address() {
		return nil, fmt.Errorf("%w: %s", ErrSenderMismatch, sender)
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode msg: %w", err)
	}

	res, err := g.signer.ExecuteContract(ctx, g.contract, payload, funds)
	if err != nil {
		return nil, classifyExecError(err)
	}
	g.logger.Info("contract executed",
		zap.String("contract", g.contract),
		zap.String("tx_hash", res.TxHash),
		zap.Uint64("height", res.Height),
	)
	return res, nil
}
