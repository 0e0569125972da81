package config

import (
	"fmt"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// SettleConfig holds configuration for a one-shot settlement pass.
type SettleConfig struct {
	Chain      ChainConfig
	Signer     SignerConfig
	Store      StoreConfig
	Beacon     BeaconConfig
	Settlement SettlementConfig
	RaffleID   string
	LogLevel   string
}

// LoadSettle merges config file, environment variables, and flags into SettleConfig.
func LoadSettle(cfgFile string, flags *pflag.FlagSet) (SettleConfig, error) {
	v, err := newViper(cfgFile, flags, func(v *viper.Viper) {
		setChainDefaults(v)
		setSignerDefaults(v)
		setStoreDefaults(v)
		setBeaconDefaults(v)
		setSettlementDefaults(v)
		v.SetDefault("log-level", "info")
	})
	if err != nil {
		return SettleConfig{}, err
	}

	cfg := SettleConfig{
		Chain:      readChain(v),
		Signer:     readSigner(v),
		Store:      readStore(v),
		Beacon:     readBeacon(v),
		Settlement: readSettlement(v),
		RaffleID:   v.GetString("raffle-id"),
		LogLevel:   v.GetString("log-level"),
	}
	return cfg, nil
}

// Validate checks that a pass can submit transactions.
func (c SettleConfig) Validate() error {
	if c.Chain.RPCURL == "" {
		return fmt.Errorf("rpc url is required")
	}
	if c.Chain.Contract == "" {
		return fmt.Errorf("contract address is required")
	}
	if !c.Signer.Enabled() {
		return fmt.Errorf("private key is required to settle")
	}
	return c.Store.Validate()
}
