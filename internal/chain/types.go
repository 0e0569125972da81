package chain

import (
	"fmt"
	"strconv"
	"time"
)

// Status is the subset of the node status the services need.
type Status struct {
	ChainID         string
	LatestHeight    uint64
	LatestBlockTime time.Time
	CatchingUp      bool
}

// EventAttribute is a key/value pair attached to an ABCI event.
type EventAttribute struct {
	Key   string `json:"key"`
	Value string `json:"value"`
	Index bool   `json:"index"`
}

// ABCIEvent is an event emitted during transaction execution.
type ABCIEvent struct {
	Type       string           `json:"type"`
	Attributes []EventAttribute `json:"attributes"`
}

// ExecTxResult is the DeliverTx result of an included transaction.
type ExecTxResult struct {
	Code      uint32      `json:"code"`
	Codespace string      `json:"codespace"`
	Log       string      `json:"log"`
	GasWanted string      `json:"gas_wanted"`
	GasUsed   string      `json:"gas_used"`
	Events    []ABCIEvent `json:"events"`
}

// TxResponse is an included transaction as returned by tx and tx_search.
type TxResponse struct {
	Hash     string       `json:"hash"`
	Height   string       `json:"height"`
	Index    uint32       `json:"index"`
	TxResult ExecTxResult `json:"tx_result"`
}

// BlockHeight parses the string-encoded height.
func (t TxResponse) BlockHeight() (uint64, error) {
	h, err := strconv.ParseUint(t.Height, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("tx %s height %q: %w", t.Hash, t.Height, err)
	}
	return h, nil
}

// BroadcastResult is the CheckTx outcome of broadcast_tx_sync.
type BroadcastResult struct {
	Code      uint32 `json:"code"`
	Codespace string `json:"codespace"`
	Log       string `json:"log"`
	Hash      string `json:"hash"`
}

// QueryError is a non-zero abci_query response.
type QueryError struct {
	Code      uint32
	Codespace string
	Log       string
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("abci query failed: codespace=%s code=%d log=%s", e.Codespace, e.Code, e.Log)
}

type statusResult struct {
	NodeInfo struct {
		Network string `json:"network"`
	} `json:"node_info"`
	SyncInfo struct {
		LatestBlockHeight string    `json:"latest_block_height"`
		LatestBlockTime   time.Time `json:"latest_block_time"`
		CatchingUp        bool      `json:"catching_up"`
	} `json:"sync_info"`
}

type blockResult struct {
	Block struct {
		Header struct {
			Height string    `json:"height"`
			Time   time.Time `json:"time"`
		} `json:"header"`
	} `json:"block"`
}

type txSearchResult struct {
	Txs        []TxResponse `json:"txs"`
	TotalCount string       `json:"total_count"`
}

type abciQueryResult struct {
	Response struct {
		Code      uint32 `json:"code"`
		Codespace string `json:"codespace"`
		Log       string `json:"log"`
		Value     []byte `json:"value"`
		Height    string `json:"height"`
	} `json:"response"`
}
