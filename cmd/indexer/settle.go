package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"raffleScope/internal/config"
	"raffleScope/internal/settlement"
)

func runSettle(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadSettle(cfgFile, cmd.Flags())
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

	conn, err := connectLedger(ctx, cfg.Chain, &cfg.Signer, logger)
	if err != nil {
		return err
	}
	defer conn.Close()

	store, _, err := openStore(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer store.Close()

	controller := newController(cfg.Beacon, cfg.Settlement, store, conn, logger)

	logger.Info("settle start",
		zap.String("contract", cfg.Chain.Contract),
		zap.String("sender", conn.Gateway.SenderAddress()),
		zap.String("raffle_id", cfg.RaffleID),
		zap.Duration("safety_buffer", cfg.Settlement.SafetyBuffer),
	)

	var report settlement.PassReport
	if cfg.RaffleID != "" {
		report, err = controller.Settle(ctx, cfg.RaffleID)
	} else {
		report, err = controller.RunOnce(ctx)
	}
	logger.Info("settle complete",
		zap.String("pass_id", report.PassID),
		zap.Int("scanned", report.Scanned),
		zap.Int("settled", report.Settled),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", report.Failed),
	)
	return err
}
