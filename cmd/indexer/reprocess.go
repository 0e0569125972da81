package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"raffleScope/internal/config"
	"raffleScope/internal/indexer"
	"raffleScope/internal/storage"
)

func runReprocess(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadReprocess(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, err := connectLedger(ctx, cfg.Chain, nil, logger)
	if err != nil {
		return err
	}
	defer conn.Close()

	store, _, err := openStore(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer store.Close()

	runner := indexer.NewRunner(indexer.RunConfig{
		BatchSize:    cfg.BatchSize,
		MaxRetries:   cfg.MaxRetries,
		RetryBackoff: cfg.RetryBackoff,
	}, conn.Gateway, store, nil, logger)
	if cfg.Store.ArchiveDir != "" {
		runner.SetArchive(storage.NewJsonlArchive(cfg.Store.ArchiveDir))
	}

	logger.Info("reprocess start",
		zap.String("rpc", cfg.Chain.RPCURL),
		zap.String("contract", cfg.Chain.Contract),
		zap.Uint64("from", cfg.From),
		zap.Uint64("to", cfg.To),
		zap.Uint64("batch_size", cfg.BatchSize),
	)

	report, err := runner.Reprocess(ctx, cfg.From, cfg.To)
	logger.Info("reprocess report",
		zap.Int("events", report.Events),
		zap.Int("applied", report.Applied),
		zap.Int("duplicates", report.Duplicates),
		zap.Int("missing", report.Missing),
		zap.Int("unknown", report.Unknown),
		zap.Int("malformed", report.Malformed),
		zap.Int("failed", report.Failed),
	)
	return err
}
