package chain

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/rpc"
)

// ErrTxNotFound is returned by Tx when the node has not indexed the hash yet.
var ErrTxNotFound = errors.New("tx not found")

// Client wraps a go-ethereum JSON-RPC client pointed at a CometBFT node.
type Client struct {
	rpcClient *rpc.Client
	timeout   time.Duration

	mu      sync.RWMutex
	tsCache map[uint64]time.Time
}

// NewClient creates a new chain client from the RPC URL.
func NewClient(ctx context.Context, rpcURL string, timeout time.Duration) (*Client, error) {
	rpcClient, err := rpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, err
	}

	return &Client{
		rpcClient: rpcClient,
		timeout:   timeout,
		tsCache:   make(map[uint64]time.Time),
	}, nil
}

// Close closes the underlying RPC client.
func (c *Client) Close() {
	if c.rpcClient != nil {
		c.rpcClient.Close()
	}
}

func (c *Client) call(ctx context.Context, result interface{}, method string, args ...interface{}) error {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	return c.rpcClient.CallContext(ctx, result, method, args...)
}

// Status returns the node status.
func (c *Client) Status(ctx context.Context) (*Status, error) {
	var res statusResult
	if err := c.call(ctx, &res, "status"); err != nil {
		return nil, err
	}
	height, err := parseHeight(res.SyncInfo.LatestBlockHeight)
	if err != nil {
		return nil, fmt.Errorf("latest block height: %w", err)
	}
	return &Status{
		ChainID:         res.NodeInfo.Network,
		LatestHeight:    height,
		LatestBlockTime: res.SyncInfo.LatestBlockTime,
		CatchingUp:      res.SyncInfo.CatchingUp,
	}, nil
}

// LatestHeight returns the latest block height.
func (c *Client) LatestHeight(ctx context.Context) (uint64, error) {
	status, err := c.Status(ctx)
	if err != nil {
		return 0, err
	}
	return status.LatestHeight, nil
}

// BlockTime returns the block timestamp, using an in-memory cache.
func (c *Client) BlockTime(ctx context.Context, height uint64) (time.Time, error) {
	c.mu.RLock()
	ts, ok := c.tsCache[height]
	c.mu.RUnlock()
	if ok {
		return ts, nil
	}

	var res blockResult
	if err := c.call(ctx, &res, "block", strconv.FormatUint(height, 10)); err != nil {
		return time.Time{}, err
	}

	ts = res.Block.Header.Time.UTC()
	c.mu.Lock()
	c.tsCache[height] = ts
	c.mu.Unlock()

	return ts, nil
}

// SearchTxs runs a tx_search query and pages through every result in ascending order.
func (c *Client) SearchTxs(ctx context.Context, query string, perPage int) ([]TxResponse, error) {
	if perPage <= 0 {
		perPage = 100
	}

	var out []TxResponse
	for page := 1; ; page++ {
		var res txSearchResult
		err := c.call(ctx, &res, "tx_search", query, false, strconv.Itoa(page), strconv.Itoa(perPage), "asc")
		if err != nil {
			return nil, err
		}
		total, err := strconv.Atoi(res.TotalCount)
		if err != nil {
			return nil, fmt.Errorf("parse total_count %q: %w", res.TotalCount, err)
		}
		out = append(out, res.Txs...)
		if len(res.Txs) == 0 || len(out) >= total {
			break
		}
	}
	return out, nil
}

// ABCIQuery runs a gRPC-routed query through abci_query at the latest height.
func (c *Client) ABCIQuery(ctx context.Context, path string, data []byte) ([]byte, error) {
	var res abciQueryResult
	hexData := strings.ToUpper(hex.EncodeToString(data))
	if err := c.call(ctx, &res, "abci_query", path, hexData, "0", false); err != nil {
		return nil, err
	}
	if res.Response.Code != 0 {
		return nil, &QueryError{Code: res.Response.Code, Codespace: res.Response.Codespace, Log: res.Response.Log}
	}
	return res.Response.Value, nil
}

// BroadcastTxSync submits a signed transaction and waits for CheckTx.
func (c *Client) BroadcastTxSync(ctx context.Context, txBytes []byte) (*BroadcastResult, error) {
	var res BroadcastResult
	if err := c.call(ctx, &res, "broadcast_tx_sync", txBytes); err != nil {
		return nil, err
	}
	return &res, nil
}

// Tx looks up an included transaction by hex hash.
func (c *Client) Tx(ctx context.Context, hash string) (*TxResponse, error) {
	raw, err := hex.DecodeString(hash)
	if err != nil {
		return nil, fmt.Errorf("invalid tx hash %q: %w", hash, err)
	}
	var res TxResponse
	if err := c.call(ctx, &res, "tx", raw, false); err != nil {
		if strings.Contains(ErrorMessage(err), "not found") {
			return nil, ErrTxNotFound
		}
		return nil, err
	}
	return &res, nil
}

// ErrorMessage returns the error text including any JSON-RPC error data.
// CometBFT puts the useful detail (e.g. "tx already exists in cache") in data.
func ErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	var dataErr rpc.DataError
	if errors.As(err, &dataErr) {
		if data := dataErr.ErrorData(); data != nil {
			msg = fmt.Sprintf("%s: %v", msg, data)
		}
	}
	return msg
}

func parseHeight(value string) (uint64, error) {
	if value == "" {
		return 0, fmt.Errorf("empty height")
	}
	return strconv.ParseUint(value, 10, 64)
}
