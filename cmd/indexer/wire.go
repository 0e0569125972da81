package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"raffleScope/internal/beacon"
	"raffleScope/internal/chain"
	"raffleScope/internal/config"
	"raffleScope/internal/contract"
	"raffleScope/internal/indexer"
	"raffleScope/internal/ledger"
	"raffleScope/internal/settlement"
	"raffleScope/internal/storage"
	"raffleScope/internal/storage/memory"
	"raffleScope/internal/storage/postgres"
)

const cursorName = "raffle_indexer"

type ledgerConn struct {
	Client  *chain.Client
	Gateway *ledger.Gateway
	ChainID string
}

func (c *ledgerConn) Close() {
	c.Client.Close()
}

// connectLedger dials the node and builds the gateway. A nil or keyless
// signer config yields a read-only gateway.
func connectLedger(ctx context.Context, chainCfg config.ChainConfig, signerCfg *config.SignerConfig, logger *zap.Logger) (*ledgerConn, error) {
	client, err := chain.NewClient(ctx, chainCfg.RPCURL, chainCfg.RPCTimeout)
	if err != nil {
		return nil, fmt.Errorf("connect rpc: %w", err)
	}

	conn := &ledgerConn{Client: client}
	var executor ledger.Executor
	if signerCfg != nil && signerCfg.Enabled() {
		signer, err := chain.NewSigner(ctx, client, chain.SignerConfig{
			PrivateKeyHex:  signerCfg.PrivateKey,
			AddressPrefix:  signerCfg.AddressPrefix,
			ChainID:        signerCfg.ChainID,
			Fee:            chain.Coin{Denom: signerCfg.FeeDenom, Amount: signerCfg.FeeAmount},
			GasLimit:       signerCfg.GasLimit,
			ConfirmTimeout: signerCfg.ConfirmTimeout,
		})
		if err != nil {
			client.Close()
			return nil, err
		}
		executor = signer
		conn.ChainID = signer.ChainID()
		logger.Info("signer loaded", zap.String("address", signer.Address()), zap.String("chain_id", conn.ChainID))
	} else {
		logger.Warn("no private key configured, gateway is read-only")
	}

	if conn.ChainID == "" {
		if signerCfg != nil && signerCfg.ChainID != "" {
			conn.ChainID = signerCfg.ChainID
		} else if st, err := client.Status(ctx); err == nil {
			conn.ChainID = st.ChainID
		} else {
			logger.Warn("chain id lookup failed", zap.Error(err))
		}
	}

	conn.Gateway = ledger.NewGateway(client, executor, ledger.Config{
		Contract: chainCfg.Contract,
		PerPage:  chainCfg.PerPage,
	}, logger)
	return conn, nil
}

// openStore opens the projection store and the cursor store that goes with it.
func openStore(ctx context.Context, cfg config.StoreConfig) (storage.Store, indexer.CursorStore, error) {
	switch cfg.Kind {
	case config.StorePostgres:
		pg, err := postgres.NewStore(ctx, cfg.PGDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		if err := pg.Migrate(ctx); err != nil {
			pg.Close()
			return nil, nil, err
		}
		return pg, &indexer.DBCursorStore{Store: pg, Name: cursorName}, nil
	case config.StoreMemory:
		mem := memory.NewStore()
		return mem, &indexer.DBCursorStore{Store: mem, Name: cursorName}, nil
	default:
		return nil, nil, fmt.Errorf("unknown store %q", cfg.Kind)
	}
}

func newController(beaconCfg config.BeaconConfig, cfg config.SettlementConfig, store storage.Store, conn *ledgerConn, logger *zap.Logger) *settlement.Controller {
	drand := beacon.NewClient(beacon.Config{
		BaseURL: beaconCfg.URL,
		Timeout: beaconCfg.Timeout,
		RPS:     beaconCfg.RPS,
		Burst:   beaconCfg.Burst,
	}, logger)

	return settlement.NewController(settlement.Config{
		SafetyBuffer:    cfg.SafetyBuffer,
		ReadBackRetries: cfg.ReadBackRetries,
		ReadBackBackoff: cfg.ReadBackBackoff,
	}, store, contract.NewRaffles(conn.Gateway), drand, logger)
}
