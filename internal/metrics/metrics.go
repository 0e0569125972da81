// Package metrics holds the Prometheus collectors shared by the indexer and settlement loops.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	ChainHeight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "raffle_chain_height",
		Help: "Latest ledger height observed",
	})

	CursorHeight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "raffle_indexer_cursor_height",
		Help: "Highest ledger height fully projected",
	})

	EventsProjected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "raffle_indexer_events_total",
		Help: "Contract events processed by the indexer, by action and result",
	}, []string{"action", "result"})

	BatchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "raffle_indexer_batch_duration_seconds",
		Help:    "Time taken to fetch and project one height batch",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
	})

	SettlementAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "raffle_settlement_attempts_total",
		Help: "Settlement attempts by outcome",
	}, []string{"outcome"})

	SettlementPassesSkipped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "raffle_settlement_passes_skipped_total",
		Help: "Settlement passes skipped because another pass was in flight",
	})

	EligibleRaffles = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "raffle_settlement_eligible",
		Help: "Raffles eligible for settlement at the last scan",
	})
)

func init() {
	prometheus.MustRegister(
		ChainHeight,
		CursorHeight,
		EventsProjected,
		BatchDuration,
		SettlementAttempts,
		SettlementPassesSkipped,
		EligibleRaffles,
	)
}
