package config

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// ReprocessConfig holds configuration for the reprocess command.
type ReprocessConfig struct {
	Chain        ChainConfig
	Store        StoreConfig
	From         uint64
	To           uint64
	BatchSize    uint64
	MaxRetries   int
	RetryBackoff time.Duration
	LogLevel     string
}

// LoadReprocess merges config file, environment variables, and flags into ReprocessConfig.
func LoadReprocess(cfgFile string, flags *pflag.FlagSet) (ReprocessConfig, error) {
	v, err := newViper(cfgFile, flags, func(v *viper.Viper) {
		setChainDefaults(v)
		setStoreDefaults(v)
		v.SetDefault("batch-size", uint64(100))
		v.SetDefault("max-retries", 3)
		v.SetDefault("retry-backoff", 500*time.Millisecond)
		v.SetDefault("log-level", "info")
	})
	if err != nil {
		return ReprocessConfig{}, err
	}

	cfg := ReprocessConfig{
		Chain:        readChain(v),
		Store:        readStore(v),
		From:         v.GetUint64("from"),
		To:           v.GetUint64("to"),
		BatchSize:    v.GetUint64("batch-size"),
		MaxRetries:   v.GetInt("max-retries"),
		RetryBackoff: v.GetDuration("retry-backoff"),
		LogLevel:     v.GetString("log-level"),
	}
	return cfg, nil
}

// Validate checks the height range and connection settings.
func (c ReprocessConfig) Validate() error {
	if c.Chain.RPCURL == "" {
		return fmt.Errorf("rpc url is required")
	}
	if c.Chain.Contract == "" {
		return fmt.Errorf("contract address is required")
	}
	if c.From == 0 || c.To == 0 {
		return fmt.Errorf("from and to heights are required")
	}
	if c.From > c.To {
		return fmt.Errorf("from height %d is after to height %d", c.From, c.To)
	}
	return c.Store.Validate()
}
