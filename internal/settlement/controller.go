package settlement

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"raffleScope/internal/chain"
	"raffleScope/internal/ledger"
	"raffleScope/internal/metrics"
	"raffleScope/internal/model"
	"raffleScope/internal/retry"
	"raffleScope/internal/storage"
)

var (
	// ErrBusy is returned when another settlement pass is in flight.
	ErrBusy = errors.New("settlement pass already running")
	// ErrPassIncomplete is returned when at least one raffle of a pass failed.
	ErrPassIncomplete = errors.New("settlement pass incomplete")
	// ErrWinnerNotVisible is returned when the ledger has not yet exposed a winner after end_raffle.
	ErrWinnerNotVisible = errors.New("winner not visible on ledger")
)

const (
	outcomeSettled    = "settled"
	outcomeReconciled = "reconciled"
	outcomeSkipped    = "skipped"
	outcomeFailed     = "failed"
)

// Ledger is the contract side of settlement.
type Ledger interface {
	QueryRaffle(ctx context.Context, raffleID string) (model.LedgerSnapshot, error)
	EndRaffle(ctx context.Context, raffleID string, sample model.RandomnessSample) (*chain.ExecResult, error)
	SignerReady() bool
}

// Beacon supplies fresh randomness.
type Beacon interface {
	Latest(ctx context.Context) (model.RandomnessSample, error)
}

// Config holds settlement settings.
type Config struct {
	SafetyBuffer    time.Duration
	ReadBackRetries int
	ReadBackBackoff time.Duration
}

// PassReport summarizes one settlement pass.
type PassReport struct {
	PassID  string `json:"pass_id,omitempty"`
	Scanned int    `json:"scanned"`
	Settled int    `json:"settled"`
	Skipped int    `json:"skipped"`
	Failed  int    `json:"failed"`
	Busy    bool   `json:"busy"`
}

// Controller closes eligible raffles on the ledger and records the result.
type Controller struct {
	cfg    Config
	store  storage.Store
	ledger Ledger
	beacon Beacon
	logger *zap.Logger
	now    func() time.Time

	running atomic.Bool
}

// NewController builds a settlement controller.
func NewController(cfg Config, store storage.Store, l Ledger, b Beacon, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.SafetyBuffer < 0 {
		cfg.SafetyBuffer = 0
	}
	if cfg.ReadBackRetries <= 0 {
		cfg.ReadBackRetries = 5
	}
	if cfg.ReadBackBackoff <= 0 {
		cfg.ReadBackBackoff = 2 * time.Second
	}
	return &Controller{
		cfg:    cfg,
		store:  store,
		ledger: l,
		beacon: b,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Busy reports whether a pass is in flight.
func (c *Controller) Busy() bool {
	return c.running.Load()
}

// SignerReady reports whether end_raffle can be submitted.
func (c *Controller) SignerReady() bool {
	return c.ledger.SignerReady()
}

// EligibleCount returns the number of raffles the next pass would attempt.
func (c *Controller) EligibleCount(ctx context.Context) (int, error) {
	eligible, err := c.store.ListEligible(ctx, c.now(), c.cfg.SafetyBuffer)
	if err != nil {
		return 0, err
	}
	return len(eligible), nil
}

// RunOnce scans for eligible raffles and settles each one. A pass that finds
// another in flight returns ErrBusy without touching the ledger.
func (c *Controller) RunOnce(ctx context.Context) (PassReport, error) {
	if !c.running.CompareAndSwap(false, true) {
		metrics.SettlementPassesSkipped.Inc()
		return PassReport{Busy: true}, ErrBusy
	}
	defer c.running.Store(false)

	eligible, err := c.store.ListEligible(ctx, c.now(), c.cfg.SafetyBuffer)
	if err != nil {
		return PassReport{}, fmt.Errorf("list eligible raffles: %w", err)
	}
	metrics.EligibleRaffles.Set(float64(len(eligible)))
	return c.settleAll(ctx, eligible)
}

// SettleExpired settles raffles found by the indexer's expiry sweep. It shares
// the single-flight guard with RunOnce and skips silently when busy.
func (c *Controller) SettleExpired(ctx context.Context, raffles []model.Raffle) error {
	if !c.running.CompareAndSwap(false, true) {
		metrics.SettlementPassesSkipped.Inc()
		c.logger.Info("settlement in flight, expiry sweep skipped", zap.Int("expired", len(raffles)))
		return nil
	}
	defer c.running.Store(false)

	_, err := c.settleAll(ctx, raffles)
	return err
}

func (c *Controller) settleAll(ctx context.Context, raffles []model.Raffle) (PassReport, error) {
	report := PassReport{PassID: uuid.NewString(), Scanned: len(raffles)}
	if len(raffles) == 0 {
		return report, nil
	}
	logger := c.logger.With(zap.String("pass_id", report.PassID))
	logger.Info("settlement pass started", zap.Int("raffles", len(raffles)))

	var precondition error
	for _, r := range raffles {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		outcome, err := c.settle(ctx, logger, r)
		metrics.SettlementAttempts.WithLabelValues(outcome).Inc()
		switch outcome {
		case outcomeSettled:
			report.Settled++
		case outcomeFailed:
			report.Failed++
			if precondition == nil && ledger.IsPrecondition(err) {
				precondition = err
			}
			logger.Error("settlement failed", zap.String("raffle_id", r.RaffleID), zap.Error(err))
		default:
			report.Skipped++
		}
	}

	logger.Info("settlement pass finished",
		zap.Int("settled", report.Settled),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", report.Failed),
	)
	if report.Failed > 0 && precondition != nil {
		return report, fmt.Errorf("%w: %d of %d raffles failed: %w", ErrPassIncomplete, report.Failed, report.Scanned, precondition)
	}
	if report.Failed > 0 {
		return report, fmt.Errorf("%w: %d of %d raffles failed", ErrPassIncomplete, report.Failed, report.Scanned)
	}
	return report, nil
}

// Settle attempts to close a single raffle outside a scheduled pass.
func (c *Controller) Settle(ctx context.Context, raffleID string) (PassReport, error) {
	r, ok, err := c.store.GetRaffle(ctx, raffleID)
	if err != nil {
		return PassReport{}, err
	}
	if !ok {
		return PassReport{}, fmt.Errorf("raffle %s not found in store", raffleID)
	}
	if !c.running.CompareAndSwap(false, true) {
		metrics.SettlementPassesSkipped.Inc()
		return PassReport{Busy: true}, ErrBusy
	}
	defer c.running.Store(false)
	return c.settleAll(ctx, []model.Raffle{r})
}

func (c *Controller) settle(ctx context.Context, logger *zap.Logger, r model.Raffle) (string, error) {
	logger = logger.With(zap.String("raffle_id", r.RaffleID))

	if !c.ledger.SignerReady() {
		return outcomeFailed, ledger.ErrSigningNotReady
	}

	snap, err := c.ledger.QueryRaffle(ctx, r.RaffleID)
	if err != nil {
		return outcomeFailed, fmt.Errorf("query ledger: %w", err)
	}
	if snap.TicketsSold != r.TicketsSold {
		logger.Warn("tickets sold mismatch, using ledger value",
			zap.Uint64("store", r.TicketsSold),
			zap.Uint64("ledger", snap.TicketsSold),
		)
	}
	if snap.Status != model.StatusActive {
		if err := c.store.ReconcileRaffle(ctx, r.RaffleID, snap); err != nil {
			return outcomeFailed, fmt.Errorf("reconcile: %w", err)
		}
		logger.Info("raffle already closed on ledger, reconciled", zap.String("ledger_status", string(snap.Status)))
		return outcomeReconciled, nil
	}
	if snap.TicketsSold == 0 {
		if err := c.store.ReconcileRaffle(ctx, r.RaffleID, snap); err != nil {
			return outcomeFailed, fmt.Errorf("reconcile: %w", err)
		}
		return outcomeSkipped, nil
	}

	sample, err := c.beacon.Latest(ctx)
	if err != nil {
		return outcomeFailed, fmt.Errorf("fetch randomness: %w", err)
	}
	index, err := WinningIndex(sample.Randomness, snap.TicketsSold)
	if err != nil {
		return outcomeFailed, err
	}

	res, err := c.ledger.EndRaffle(ctx, r.RaffleID, sample)
	if err != nil {
		if rej, ok := ledger.AsRejection(err); ok && rej.Benign() {
			logger.Info("end_raffle rejected as already handled, reconciling",
				zap.String("kind", string(rej.Kind)),
				zap.String("log", rej.Log),
			)
			if err := c.reconcileFromLedger(ctx, r.RaffleID); err != nil {
				logger.Warn("reconcile after benign rejection failed", zap.Error(err))
			}
			return outcomeSkipped, nil
		}
		return outcomeFailed, fmt.Errorf("end_raffle: %w", err)
	}
	logger.Info("end_raffle included",
		zap.String("tx_hash", res.TxHash),
		zap.Uint64("height", res.Height),
		zap.Uint64("round", sample.Round),
	)

	after, err := c.readBack(ctx, r.RaffleID)
	if err != nil {
		return outcomeFailed, fmt.Errorf("read back winner after tx %s: %w", res.TxHash, err)
	}

	settlement := model.Settlement{
		Winner:             *after.Winner,
		WinningTicketIndex: index,
		RandomnessRound:    sample.Round,
		EndReason:          storage.ReconciledEndReason(after),
		TxHash:             res.TxHash,
		Height:             res.Height,
		TicketsSold:        after.TicketsSold,
	}
	if err := c.store.CompleteSettlement(ctx, r.RaffleID, settlement); err != nil {
		return outcomeFailed, fmt.Errorf("store settlement: %w", err)
	}
	logger.Info("raffle settled",
		zap.String("winner", settlement.Winner),
		zap.Uint64("ticket_index", index),
		zap.String("end_reason", string(settlement.EndReason)),
	)
	return outcomeSettled, nil
}

func (c *Controller) readBack(ctx context.Context, raffleID string) (model.LedgerSnapshot, error) {
	var snap model.LedgerSnapshot
	err := retry.Do(ctx, c.cfg.ReadBackRetries, c.cfg.ReadBackBackoff, func(ctx context.Context) error {
		s, err := c.ledger.QueryRaffle(ctx, raffleID)
		if ledger.IsPrecondition(err) {
			return retry.Permanent(err)
		}
		if err != nil {
			return err
		}
		if s.Winner == nil || *s.Winner == "" {
			return ErrWinnerNotVisible
		}
		snap = s
		return nil
	})
	return snap, err
}

func (c *Controller) reconcileFromLedger(ctx context.Context, raffleID string) error {
	snap, err := c.ledger.QueryRaffle(ctx, raffleID)
	if err != nil {
		return err
	}
	return c.store.ReconcileRaffle(ctx, raffleID, snap)
}
