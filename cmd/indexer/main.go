package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"raffleScope/internal/api"
	"raffleScope/internal/config"
	"raffleScope/internal/indexer"
	"raffleScope/internal/scheduler"
	"raffleScope/internal/settlement"
	"raffleScope/internal/storage"
)

func main() {
	root := &cobra.Command{
		Use:          "indexer",
		Short:        "Raffle ledger indexer and settlement service",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Index the raffle contract and settle finished raffles",
		RunE:  runService,
	}

	addChainFlags(runCmd)
	addSignerFlags(runCmd)
	addStoreFlags(runCmd)
	addBeaconFlags(runCmd)
	addSettlementFlags(runCmd)
	runCmd.Flags().Uint64("start-height", 0, "first height to index when no cursor is stored, 0 means current tip")
	runCmd.Flags().Uint64("batch-size", 100, "heights per batch")
	runCmd.Flags().Duration("poll-interval", 5*time.Second, "indexer poll interval")
	runCmd.Flags().Duration("sweep-interval", 2*time.Minute, "expiry sweep interval")
	runCmd.Flags().Bool("indexer-enabled", true, "start the indexer loops at boot")
	runCmd.Flags().Int("max-retries", 3, "maximum retry attempts per RPC call")
	runCmd.Flags().Duration("retry-backoff", 500*time.Millisecond, "initial retry backoff")
	runCmd.Flags().String("listen", ":3000", "operator HTTP listen address")
	runCmd.Flags().Uint64("lag-threshold", 100, "cursor lag above which health reports degraded")
	runCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(runCmd)

	reprocessCmd := &cobra.Command{
		Use:   "reprocess",
		Short: "Re-project a height range without moving the cursor",
		RunE:  runReprocess,
	}

	addChainFlags(reprocessCmd)
	addStoreFlags(reprocessCmd)
	reprocessCmd.Flags().Uint64("from", 0, "start height (inclusive)")
	reprocessCmd.Flags().Uint64("to", 0, "end height (inclusive)")
	reprocessCmd.Flags().Uint64("batch-size", 100, "heights per batch")
	reprocessCmd.Flags().Int("max-retries", 3, "maximum retry attempts per RPC call")
	reprocessCmd.Flags().Duration("retry-backoff", 500*time.Millisecond, "initial retry backoff")
	reprocessCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(reprocessCmd)

	settleCmd := &cobra.Command{
		Use:   "settle",
		Short: "Run one settlement pass",
		RunE:  runSettle,
	}

	addChainFlags(settleCmd)
	addSignerFlags(settleCmd)
	addStoreFlags(settleCmd)
	addBeaconFlags(settleCmd)
	addSettlementFlags(settleCmd)
	settleCmd.Flags().String("raffle-id", "", "settle only this raffle")
	settleCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(settleCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func addChainFlags(cmd *cobra.Command) {
	cmd.Flags().String("rpc", "", "CometBFT RPC URL")
	cmd.Flags().Duration("rpc-timeout", 10*time.Second, "per-call RPC timeout")
	cmd.Flags().String("contract", "", "raffle contract address")
	cmd.Flags().Int("per-page", 100, "tx_search page size")
}

func addSignerFlags(cmd *cobra.Command) {
	cmd.Flags().String("private-key", "", "hex secp256k1 key of the settlement account")
	cmd.Flags().String("address-prefix", "testcore", "bech32 account prefix")
	cmd.Flags().String("chain-id", "", "chain id, resolved from the node when empty")
	cmd.Flags().String("fee-denom", "utestcore", "fee denom")
	cmd.Flags().String("fee-amount", "200000", "fee amount per settlement tx")
	cmd.Flags().Uint64("gas-limit", 1000000, "gas limit per settlement tx")
	cmd.Flags().Duration("confirm-timeout", 30*time.Second, "time to wait for tx inclusion")
}

func addStoreFlags(cmd *cobra.Command) {
	cmd.Flags().String("store", config.StorePostgres, "projection store (postgres, memory)")
	cmd.Flags().String("pg-dsn", "", "Postgres DSN")
	cmd.Flags().String("archive-dir", "", "directory for JSONL event archives, empty disables")
}

func addBeaconFlags(cmd *cobra.Command) {
	cmd.Flags().String("beacon-url", "https://api.drand.sh", "drand HTTP endpoint")
	cmd.Flags().Duration("beacon-timeout", 10*time.Second, "drand request timeout")
	cmd.Flags().Float64("beacon-rps", 2, "drand requests per second")
	cmd.Flags().Int("beacon-burst", 2, "drand request burst")
}

func addSettlementFlags(cmd *cobra.Command) {
	cmd.Flags().Bool("settlement-enabled", false, "start the settlement loop at boot")
	cmd.Flags().Duration("settle-interval", time.Minute, "settlement scan interval")
	cmd.Flags().Duration("safety-buffer", 30*time.Second, "delay after end time before settling")
	cmd.Flags().Int("readback-retries", 5, "winner read-back attempts after end_raffle")
	cmd.Flags().Duration("readback-backoff", 2*time.Second, "initial read-back backoff")
}

func runService(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
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

	store, cursor, err := openStore(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer store.Close()

	runner := indexer.NewRunner(indexer.RunConfig{
		StartHeight:  cfg.StartHeight,
		BatchSize:    cfg.BatchSize,
		MaxRetries:   cfg.MaxRetries,
		RetryBackoff: cfg.RetryBackoff,
	}, conn.Gateway, store, cursor, logger)
	if cfg.Store.ArchiveDir != "" {
		runner.SetArchive(storage.NewJsonlArchive(cfg.Store.ArchiveDir))
	}

	controller := newController(cfg.Beacon, cfg.Settlement, store, conn, logger)
	runner.SetSettler(controller)

	if err := runner.Init(ctx); err != nil {
		return err
	}

	sup := scheduler.NewSupervisor(ctx, logger)
	sup.Register(scheduler.GroupIndexer,
		scheduler.Task{Name: "index", Every: cfg.PollInterval, Run: runner.Tick},
		scheduler.Task{Name: "expiry-sweep", Every: cfg.SweepInterval, Run: runner.Sweep},
	)
	sup.Register(scheduler.GroupSettlement,
		scheduler.Task{Name: "settle", Every: cfg.Settlement.Interval, Run: func(ctx context.Context) error {
			_, err := controller.RunOnce(ctx)
			if errors.Is(err, settlement.ErrBusy) {
				return nil
			}
			return err
		}},
	)
	defer sup.StopAll()

	if cfg.IndexerEnabled {
		if err := sup.Start(scheduler.GroupIndexer); err != nil {
			return err
		}
	}
	if cfg.Settlement.Enabled {
		if !conn.Gateway.SignerReady() {
			logger.Warn("settlement enabled without a signer, passes will fail until a key is configured")
		}
		if err := sup.Start(scheduler.GroupSettlement); err != nil {
			return err
		}
	}

	logger.Info("service start",
		zap.String("rpc", cfg.Chain.RPCURL),
		zap.String("chain_id", conn.ChainID),
		zap.String("contract", cfg.Chain.Contract),
		zap.String("store", cfg.Store.Kind),
		zap.Uint64("start_height", cfg.StartHeight),
		zap.Uint64("batch_size", cfg.BatchSize),
		zap.Bool("signer_ready", conn.Gateway.SignerReady()),
		zap.String("sender", conn.Gateway.SenderAddress()),
		zap.Uint64("last_processed", runner.LastProcessed()),
	)

	router := api.NewRouter(
		&api.SystemHandler{
			Info: api.SystemInfo{
				ChainID:       conn.ChainID,
				Contract:      cfg.Chain.Contract,
				SenderAddress: conn.Gateway.SenderAddress(),
			},
			Indexer:      runner,
			Settlement:   controller,
			Loops:        sup,
			Store:        store,
			LagThreshold: cfg.LagThreshold,
			Logger:       logger,
		},
		&api.RaffleHandler{Store: store},
	)
	if err := api.Serve(ctx, cfg.Listen, router, logger); err != nil {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
