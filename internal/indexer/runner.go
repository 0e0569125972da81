package indexer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"raffleScope/internal/ledger"
	"raffleScope/internal/metrics"
	"raffleScope/internal/model"
	"raffleScope/internal/retry"
	"raffleScope/internal/storage"
)

// ErrProjectionFailed is returned when some events of a range could not be projected.
var ErrProjectionFailed = errors.New("projection incomplete")

// RunConfig holds runtime settings for the indexer.
type RunConfig struct {
	StartHeight  uint64
	BatchSize    uint64
	MaxRetries   int
	RetryBackoff time.Duration
}

// Source is the ledger side the indexer reads from.
type Source interface {
	CurrentHeight(ctx context.Context) (uint64, error)
	EventsInRange(ctx context.Context, from, to uint64) ([]model.Event, error)
}

// ExpirySettler closes raffles found by the expiry sweep.
type ExpirySettler interface {
	SettleExpired(ctx context.Context, raffles []model.Raffle) error
}

// Status is a point-in-time view of indexer progress.
type Status struct {
	CurrentHeight uint64 `json:"current_height"`
	LastProcessed uint64 `json:"last_processed"`
	Lag           uint64 `json:"lag"`
}

// Runner polls the ledger and projects contract events into the store.
type Runner struct {
	cfg     RunConfig
	source  Source
	store   storage.Store
	cursor  CursorStore
	archive storage.Archive
	settler ExpirySettler
	logger  *zap.Logger
	now     func() time.Time

	// serializes ticks; reprocess runs alongside since projection is idempotent
	tickMu sync.Mutex

	mu            sync.RWMutex
	initialized   bool
	lastProcessed uint64
}

// NewRunner builds a Runner with its dependencies.
func NewRunner(cfg RunConfig, source Source, store storage.Store, cursor CursorStore, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 100
	}
	return &Runner{
		cfg:    cfg,
		source: source,
		store:  store,
		cursor: cursor,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// SetArchive enables archiving of raw events and decode failures.
func (r *Runner) SetArchive(a storage.Archive) {
	r.archive = a
}

// SetSettler wires the settlement side used by the expiry sweep.
func (r *Runner) SetSettler(s ExpirySettler) {
	r.settler = s
}

// Init loads the cursor. Without a persisted cursor the indexer starts at
// StartHeight, or at the current tip when StartHeight is zero.
func (r *Runner) Init(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.initLocked(ctx)
}

func (r *Runner) initLocked(ctx context.Context) error {
	if r.initialized {
		return nil
	}
	if r.source == nil {
		return fmt.Errorf("ledger source is nil")
	}
	if r.store == nil {
		return fmt.Errorf("store is nil")
	}

	if r.cursor != nil {
		last, ok, err := r.cursor.Load(ctx)
		if err != nil {
			return fmt.Errorf("load cursor: %w", err)
		}
		if ok {
			r.lastProcessed = last
			r.initialized = true
			r.logger.Info("resume from cursor", zap.Uint64("last_processed", last))
			return nil
		}
	}

	if r.cfg.StartHeight > 0 {
		r.lastProcessed = r.cfg.StartHeight - 1
	} else {
		current, err := r.currentHeightWithRetry(ctx)
		if err != nil {
			return fmt.Errorf("get current height: %w", err)
		}
		r.lastProcessed = current
	}
	r.initialized = true
	r.logger.Info("cursor initialized", zap.Uint64("last_processed", r.lastProcessed))
	return nil
}

// Tick processes at most one batch of new heights.
func (r *Runner) Tick(ctx context.Context) error {
	r.tickMu.Lock()
	defer r.tickMu.Unlock()

	r.mu.Lock()
	err := r.initLocked(ctx)
	last := r.lastProcessed
	r.mu.Unlock()
	if err != nil {
		return err
	}

	current, err := r.currentHeightWithRetry(ctx)
	if err != nil {
		return fmt.Errorf("get current height: %w", err)
	}
	metrics.ChainHeight.Set(float64(current))

	if current <= last {
		return nil
	}
	from := last + 1
	to := last + r.cfg.BatchSize
	if to > current {
		to = current
	}

	start := time.Now()
	report, err := r.processRange(ctx, from, to)
	if err != nil {
		return err
	}
	if report.Failed > 0 {
		return fmt.Errorf("%w: %d of %d events failed in [%d, %d]", ErrProjectionFailed, report.Failed, report.Events, from, to)
	}

	if r.cursor != nil {
		if err := r.cursor.Save(ctx, to); err != nil {
			return fmt.Errorf("save cursor: %w", err)
		}
	}
	r.mu.Lock()
	if to > r.lastProcessed {
		r.lastProcessed = to
	}
	r.mu.Unlock()
	metrics.CursorHeight.Set(float64(to))
	metrics.BatchDuration.Observe(time.Since(start).Seconds())

	r.logger.Info("batch complete",
		zap.Int("events", report.Events),
		zap.Int("applied", report.Applied),
		zap.Uint64("from", from),
		zap.Uint64("to", to),
	)
	return nil
}

// Reprocess projects every event in [from, to] without moving the cursor.
func (r *Runner) Reprocess(ctx context.Context, from, to uint64) (ProjectionReport, error) {
	ranges, err := SplitRange(from, to, r.cfg.BatchSize)
	if err != nil {
		return ProjectionReport{}, err
	}

	var total ProjectionReport
	for _, hr := range ranges {
		select {
		case <-ctx.Done():
			return total, ctx.Err()
		default:
		}

		report, err := r.processRange(ctx, hr.From, hr.To)
		total.add(report)
		if err != nil {
			return total, err
		}
	}

	if total.Failed > 0 || total.Malformed > 0 {
		return total, fmt.Errorf("%w: %d store failures, %d malformed events in [%d, %d]",
			ErrProjectionFailed, total.Failed, total.Malformed, from, to)
	}
	r.logger.Info("reprocess complete", zap.Uint64("from", from), zap.Uint64("to", to), zap.Int("events", total.Events))
	return total, nil
}

// Sweep hands active raffles past their end time to the settler.
func (r *Runner) Sweep(ctx context.Context) error {
	expired, err := r.store.ListExpired(ctx, r.now())
	if err != nil {
		return fmt.Errorf("list expired raffles: %w", err)
	}
	if len(expired) == 0 {
		return nil
	}
	if r.settler == nil {
		r.logger.Warn("expired raffles found but no settler configured", zap.Int("count", len(expired)))
		return nil
	}
	r.logger.Info("expired raffles found", zap.Int("count", len(expired)))
	return r.settler.SettleExpired(ctx, expired)
}

// Status queries the current height and reports progress.
func (r *Runner) Status(ctx context.Context) (Status, error) {
	current, err := r.source.CurrentHeight(ctx)
	if err != nil {
		return Status{}, err
	}
	last := r.LastProcessed()

	st := Status{CurrentHeight: current, LastProcessed: last}
	if current > last {
		st.Lag = current - last
	}
	return st, nil
}

// LastProcessed returns the in-memory cursor.
func (r *Runner) LastProcessed() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastProcessed
}

func (r *Runner) processRange(ctx context.Context, from, to uint64) (ProjectionReport, error) {
	r.logger.Debug("fetch events", zap.Uint64("from", from), zap.Uint64("to", to))

	events, err := r.eventsWithRetry(ctx, from, to)
	if err != nil {
		return ProjectionReport{}, fmt.Errorf("fetch events [%d, %d]: %w", from, to, err)
	}

	if r.archive != nil && len(events) > 0 {
		raw := make([]model.LedgerEvent, 0, len(events))
		for _, ev := range events {
			raw = append(raw, ev.Raw())
		}
		if err := r.archive.PutEvents(raw); err != nil {
			r.logger.Warn("archive events failed", zap.Error(err))
		}
	}

	return r.project(ctx, events), nil
}

func (r *Runner) eventsWithRetry(ctx context.Context, from, to uint64) ([]model.Event, error) {
	var events []model.Event
	err := retry.Do(ctx, r.cfg.MaxRetries, r.cfg.RetryBackoff, func(ctx context.Context) error {
		var err error
		events, err = r.source.EventsInRange(ctx, from, to)
		if ledger.IsPrecondition(err) {
			return retry.Permanent(err)
		}
		if err != nil {
			r.logger.Warn("fetch events failed", zap.Error(err), zap.Uint64("from", from), zap.Uint64("to", to))
		}
		return err
	})
	return events, err
}

func (r *Runner) currentHeightWithRetry(ctx context.Context) (uint64, error) {
	var height uint64
	err := retry.Do(ctx, r.cfg.MaxRetries, r.cfg.RetryBackoff, func(ctx context.Context) error {
		var err error
		height, err = r.source.CurrentHeight(ctx)
		if err != nil {
			r.logger.Warn("current height fetch failed", zap.Error(err))
		}
		return err
	})
	return height, err
}
