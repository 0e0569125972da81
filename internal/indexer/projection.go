package indexer

import (
	"context"

	"go.uber.org/zap"

	"raffleScope/internal/metrics"
	"raffleScope/internal/model"
)

const (
	outcomeApplied   = "applied"
	outcomeDuplicate = "duplicate"
	outcomeMissing   = "missing"
	outcomeUnknown   = "unknown"
	outcomeMalformed = "malformed"
	outcomeFailed    = "failed"
)

// ProjectionReport counts what happened to each event of a batch.
type ProjectionReport struct {
	Events     int `json:"events"`
	Applied    int `json:"applied"`
	Duplicates int `json:"duplicates"`
	Missing    int `json:"missing"`
	Unknown    int `json:"unknown"`
	Malformed  int `json:"malformed"`
	Failed     int `json:"failed"`
}

func (p *ProjectionReport) add(o ProjectionReport) {
	p.Events += o.Events
	p.Applied += o.Applied
	p.Duplicates += o.Duplicates
	p.Missing += o.Missing
	p.Unknown += o.Unknown
	p.Malformed += o.Malformed
	p.Failed += o.Failed
}

func (p *ProjectionReport) count(outcome string) {
	switch outcome {
	case outcomeApplied:
		p.Applied++
	case outcomeDuplicate:
		p.Duplicates++
	case outcomeMissing:
		p.Missing++
	case outcomeUnknown:
		p.Unknown++
	case outcomeMalformed:
		p.Malformed++
	case outcomeFailed:
		p.Failed++
	}
}

// project applies events in order. A failure on one event does not stop its siblings.
func (r *Runner) project(ctx context.Context, events []model.Event) ProjectionReport {
	report := ProjectionReport{Events: len(events)}
	var decodeErrs []model.DecodeError

	for _, ev := range events {
		raw := ev.Raw()
		outcome, err := r.apply(ctx, ev)
		if err != nil {
			outcome = outcomeFailed
			r.logger.Error("project event failed",
				zap.String("action", raw.Action),
				zap.String("raffle_id", ev.Raffle()),
				zap.String("tx_hash", raw.TxHash),
				zap.Int("event_index", raw.EventIndex),
				zap.Uint64("height", raw.Height),
				zap.Error(err),
			)
		}
		if m, ok := ev.(model.MalformedEvent); ok {
			decodeErrs = append(decodeErrs, model.DecodeError{
				Height:     raw.Height,
				TxHash:     raw.TxHash,
				EventIndex: raw.EventIndex,
				Contract:   raw.Contract,
				Action:     raw.Action,
				Error:      m.Err.Error(),
			})
		}
		report.count(outcome)
		metrics.EventsProjected.WithLabelValues(raw.Action, outcome).Inc()
	}

	if r.archive != nil && len(decodeErrs) > 0 {
		if err := r.archive.PutDecodeErrors(decodeErrs); err != nil {
			r.logger.Warn("archive decode errors failed", zap.Error(err))
		}
	}
	return report
}

func (r *Runner) apply(ctx context.Context, ev model.Event) (string, error) {
	switch e := ev.(type) {
	case model.RaffleCreated:
		inserted, err := r.store.InsertRaffle(ctx, e.Record())
		if err != nil {
			return "", err
		}
		if !inserted {
			return outcomeDuplicate, nil
		}
		r.logger.Info("raffle created", zap.String("raffle_id", e.RaffleID), zap.String("creator", e.Creator))
		return outcomeApplied, nil

	case model.TicketsBought:
		inserted, err := r.store.RecordPurchase(ctx, e.Purchase())
		if err != nil {
			return "", err
		}
		if !inserted {
			return outcomeDuplicate, nil
		}
		return outcomeApplied, nil

	case model.RaffleEnded:
		return updated(r.store.MarkRaffleEnded(ctx, e.RaffleID, model.RaffleEnding{
			EndReason:       e.EndReason,
			RandomnessRound: e.RandomnessRound,
			Height:          e.Ledger.Height,
			TxHash:          e.Ledger.TxHash,
		}))

	case model.WinnerSelected:
		return updated(r.store.SetRaffleWinner(ctx, e.RaffleID, e.Winner, e.TicketIndex))

	case model.RaffleCancelled:
		return updated(r.store.MarkRaffleCancelled(ctx, e.RaffleID, e.Ledger.Height, e.Ledger.TxHash))

	case model.MalformedEvent:
		r.logger.Warn("malformed contract event",
			zap.String("action", e.Ledger.Action),
			zap.String("tx_hash", e.Ledger.TxHash),
			zap.Error(e.Err),
		)
		return outcomeMalformed, nil

	default:
		raw := ev.Raw()
		r.logger.Info("ignoring contract event", zap.String("action", raw.Action), zap.String("tx_hash", raw.TxHash))
		return outcomeUnknown, nil
	}
}

func updated(ok bool, err error) (string, error) {
	if err != nil {
		return "", err
	}
	if !ok {
		return outcomeMissing, nil
	}
	return outcomeApplied, nil
}
