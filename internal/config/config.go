package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Store kinds.
const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// ChainConfig locates the ledger and the raffle contract.
type ChainConfig struct {
	RPCURL     string
	RPCTimeout time.Duration
	Contract   string
	PerPage    int
}

// SignerConfig holds the settlement signing identity and fee budget.
type SignerConfig struct {
	PrivateKey     string
	AddressPrefix  string
	ChainID        string
	FeeDenom       string
	FeeAmount      string
	GasLimit       uint64
	ConfirmTimeout time.Duration
}

// Enabled reports whether a signing key was configured.
func (s SignerConfig) Enabled() bool {
	return strings.TrimSpace(s.PrivateKey) != ""
}

// StoreConfig selects the projection store and cursor persistence.
// The cursor is kept in the same store as the projection.
type StoreConfig struct {
	Kind       string
	PGDSN      string
	ArchiveDir string
}

// BeaconConfig configures the drand client.
type BeaconConfig struct {
	URL     string
	Timeout time.Duration
	RPS     float64
	Burst   int
}

// SettlementConfig holds settlement loop settings.
type SettlementConfig struct {
	Enabled         bool
	Interval        time.Duration
	SafetyBuffer    time.Duration
	ReadBackRetries int
	ReadBackBackoff time.Duration
}

// Config holds configuration for the run command.
type Config struct {
	Chain      ChainConfig
	Signer     SignerConfig
	Store      StoreConfig
	Beacon     BeaconConfig
	Settlement SettlementConfig

	StartHeight    uint64
	BatchSize      uint64
	PollInterval   time.Duration
	SweepInterval  time.Duration
	IndexerEnabled bool
	MaxRetries     int
	RetryBackoff   time.Duration

	Listen       string
	LagThreshold uint64
	LogLevel     string
}

// Load merges config file, environment variables, and flags into Config.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v, err := newViper(cfgFile, flags, func(v *viper.Viper) {
		setChainDefaults(v)
		setSignerDefaults(v)
		setStoreDefaults(v)
		setBeaconDefaults(v)
		setSettlementDefaults(v)

		v.SetDefault("start-height", uint64(0))
		v.SetDefault("batch-size", uint64(100))
		v.SetDefault("poll-interval", 5*time.Second)
		v.SetDefault("sweep-interval", 2*time.Minute)
		v.SetDefault("indexer-enabled", true)
		v.SetDefault("max-retries", 3)
		v.SetDefault("retry-backoff", 500*time.Millisecond)
		v.SetDefault("listen", ":3000")
		v.SetDefault("lag-threshold", uint64(100))
		v.SetDefault("log-level", "info")
	})
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Chain:      readChain(v),
		Signer:     readSigner(v),
		Store:      readStore(v),
		Beacon:     readBeacon(v),
		Settlement: readSettlement(v),

		StartHeight:    v.GetUint64("start-height"),
		BatchSize:      v.GetUint64("batch-size"),
		PollInterval:   v.GetDuration("poll-interval"),
		SweepInterval:  v.GetDuration("sweep-interval"),
		IndexerEnabled: v.GetBool("indexer-enabled"),
		MaxRetries:     v.GetInt("max-retries"),
		RetryBackoff:   v.GetDuration("retry-backoff"),

		Listen:       v.GetString("listen"),
		LagThreshold: v.GetUint64("lag-threshold"),
		LogLevel:     v.GetString("log-level"),
	}
	return cfg, nil
}

// Validate checks the settings the run command cannot start without.
func (c Config) Validate() error {
	if c.Chain.RPCURL == "" {
		return fmt.Errorf("rpc url is required")
	}
	if c.Chain.Contract == "" {
		return fmt.Errorf("contract address is required")
	}
	if err := c.Store.Validate(); err != nil {
		return err
	}
	if c.BatchSize == 0 {
		return fmt.Errorf("batch size must be positive")
	}
	if c.PollInterval < time.Second || c.SweepInterval < time.Second || c.Settlement.Interval < time.Second {
		return fmt.Errorf("loop intervals must be at least 1s")
	}
	return nil
}

// Validate checks the store selection.
func (s StoreConfig) Validate() error {
	switch s.Kind {
	case StorePostgres:
		if s.PGDSN == "" {
			return fmt.Errorf("pg dsn is required for the postgres store")
		}
	case StoreMemory:
	default:
		return fmt.Errorf("unknown store %q", s.Kind)
	}
	return nil
}

func newViper(cfgFile string, flags *pflag.FlagSet, defaults func(v *viper.Viper)) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix("RAFFLE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	defaults(v)

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}
	return v, nil
}

func setChainDefaults(v *viper.Viper) {
	v.SetDefault("rpc-timeout", 10*time.Second)
	v.SetDefault("per-page", 100)
}

func readChain(v *viper.Viper) ChainConfig {
	return ChainConfig{
		RPCURL:     v.GetString("rpc"),
		RPCTimeout: v.GetDuration("rpc-timeout"),
		Contract:   strings.TrimSpace(v.GetString("contract")),
		PerPage:    v.GetInt("per-page"),
	}
}

func setSignerDefaults(v *viper.Viper) {
	v.SetDefault("address-prefix", "testcore")
	v.SetDefault("fee-denom", "utestcore")
	v.SetDefault("fee-amount", "200000")
	v.SetDefault("gas-limit", uint64(1000000))
	v.SetDefault("confirm-timeout", 30*time.Second)
}

func readSigner(v *viper.Viper) SignerConfig {
	return SignerConfig{
		PrivateKey:     v.GetString("private-key"),
		AddressPrefix:  v.GetString("address-prefix"),
		ChainID:        v.GetString("chain-id"),
		FeeDenom:       v.GetString("fee-denom"),
		FeeAmount:      v.GetString("fee-amount"),
		GasLimit:       v.GetUint64("gas-limit"),
		ConfirmTimeout: v.GetDuration("confirm-timeout"),
	}
}

func setStoreDefaults(v *viper.Viper) {
	v.SetDefault("store", StorePostgres)
}

func readStore(v *viper.Viper) StoreConfig {
	return StoreConfig{
		Kind:       strings.ToLower(v.GetString("store")),
		PGDSN:      v.GetString("pg-dsn"),
		ArchiveDir: v.GetString("archive-dir"),
	}
}

func setBeaconDefaults(v *viper.Viper) {
	v.SetDefault("beacon-url", "https://api.drand.sh")
	v.SetDefault("beacon-timeout", 10*time.Second)
	v.SetDefault("beacon-rps", 2.0)
	v.SetDefault("beacon-burst", 2)
}

func readBeacon(v *viper.Viper) BeaconConfig {
	return BeaconConfig{
		URL:     v.GetString("beacon-url"),
		Timeout: v.GetDuration("beacon-timeout"),
		RPS:     v.GetFloat64("beacon-rps"),
		Burst:   v.GetInt("beacon-burst"),
	}
}

func setSettlementDefaults(v *viper.Viper) {
	v.SetDefault("settlement-enabled", false)
	v.SetDefault("settle-interval", time.Minute)
	v.SetDefault("safety-buffer", 30*time.Second)
	v.SetDefault("readback-retries", 5)
	v.SetDefault("readback-backoff", 2*time.Second)
}

func readSettlement(v *viper.Viper) SettlementConfig {
	return SettlementConfig{
		Enabled:         v.GetBool("settlement-enabled"),
		Interval:        v.GetDuration("settle-interval"),
		SafetyBuffer:    v.GetDuration("safety-buffer"),
		ReadBackRetries: v.GetInt("readback-retries"),
		ReadBackBackoff: v.GetDuration("readback-backoff"),
	}
}
