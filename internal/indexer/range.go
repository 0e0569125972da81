package indexer

import (
	"errors"
	"fmt"
)

// ErrInvalidRange is returned for an inverted height range or a zero batch size.
var ErrInvalidRange = errors.New("invalid height range")

// HeightRange is an inclusive span of ledger heights.
type HeightRange struct {
	From uint64
	To   uint64
}

// SplitRange cuts [from, to] into consecutive batches of at most batchSize heights.
func SplitRange(from, to, batchSize uint64) ([]HeightRange, error) {
	if batchSize == 0 {
		return nil, fmt.Errorf("%w: batch size is zero", ErrInvalidRange)
	}
	if to < from {
		return nil, fmt.Errorf("%w: %d is after %d", ErrInvalidRange, from, to)
	}

	ranges := make([]HeightRange, 0, (to-from)/batchSize+1)
	for start := from; ; start += batchSize {
		end := to
		if to-start >= batchSize {
			end = start + batchSize - 1
		}
		ranges = append(ranges, HeightRange{From: start, To: end})
		if end == to {
			return ranges, nil
		}
	}
}
