package ledger

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/rpc"

	"raffleScope/internal/chain"
)

var (
	// ErrSigningNotReady is returned when a write is attempted without a signer.
	ErrSigningNotReady = errors.New("signing not ready")
	// ErrContractNotConfigured is returned when no contract address is configured.
	ErrContractNotConfigured = errors.New("contract not configured")
	// ErrSenderMismatch is returned when the requested sender is not the signing account.
	ErrSenderMismatch = errors.New("sender is not the signing account")
)

// IsPrecondition reports whether err is a local precondition failure that no
// retry can fix.
func IsPrecondition(err error) bool {
	return errors.Is(err, ErrSigningNotReady) ||
		errors.Is(err, ErrContractNotConfigured) ||
		errors.Is(err, ErrSenderMismatch)
}

// RejectionKind classifies a remote rejection of a transaction.
type RejectionKind string

const (
	KindAlreadyPending RejectionKind = "already_pending"
	KindNotActive      RejectionKind = "not_active"
	KindNotReady       RejectionKind = "not_ready"
	KindUnclassified   RejectionKind = "unclassified"
)

var rejectionVocabulary = []struct {
	match string
	kind  RejectionKind
}{
	{"tx already exists in cache", KindAlreadyPending},
	{"raffle not active", KindNotActive},
	{"raffle not ready to end", KindNotReady},
}

// ClassifyRejection maps a rejection log to its kind.
func ClassifyRejection(log string) RejectionKind {
	lower := strings.ToLower(log)
	for _, v := range rejectionVocabulary {
		if strings.Contains(lower, v.match) {
			return v.kind
		}
	}
	return KindUnclassified
}

// RejectionError is a transaction the ledger refused.
type RejectionError struct {
	Kind   RejectionKind
	Code   int
	Log    string
	TxHash string
}

func (e *RejectionError) Error() string {
	if e.TxHash != "" {
		return fmt.Sprintf("ledger rejected tx %s (%s, code %d): %s", e.TxHash, e.Kind, e.Code, e.Log)
	}
	return fmt.Sprintf("ledger rejected tx (%s, code %d): %s", e.Kind, e.Code, e.Log)
}

// Benign reports whether the rejection means another actor already settled or is settling.
func (e *RejectionError) Benign() bool {
	return e.Kind != KindUnclassified
}

// AsRejection unwraps a RejectionError from err.
func AsRejection(err error) (*RejectionError, bool) {
	var rej *RejectionError
	if errors.As(err, &rej) {
		return rej, true
	}
	return nil, false
}

// classifyExecError turns signer errors into rejections. Transport failures pass through unmodified.
func classifyExecError(err error) error {
	var txErr *chain.TxError
	if errors.As(err, &txErr) {
		return &RejectionError{
			Kind:   ClassifyRejection(txErr.Log),
			Code:   int(txErr.Code),
			Log:    txErr.Log,
			TxHash: txErr.TxHash,
		}
	}

	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		msg := chain.ErrorMessage(err)
		return &RejectionError{
			Kind: ClassifyRejection(msg),
			Code: rpcErr.ErrorCode(),
			Log:  msg,
		}
	}
	return err
}
