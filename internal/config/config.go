package config

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Store backends.
const (
	StoreFile     = "file"
	StoreBolt     = "bolt"
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// PoolSpec is a pool registered at startup.
type PoolSpec struct {
	Name           string
	DerivationPath []string
}

// Config holds configuration values loaded from flags, env, or config file.
type Config struct {
	RPCURL      string
	RPCUser     string
	RPCPassword string
	Network     string
	Listen      string

	Store     string
	StatePath string
	PGDSN     string
	Journal   string

	Seed  []byte
	Pools []PoolSpec

	FinalityDepth     uint64
	StartHeight       uint64
	PollInterval      time.Duration
	BatchSize         uint64
	Checkpoint        string
	CheckpointEnabled bool
	MaxRetries        int
	RetryBackoff      time.Duration

	FeeFallback     float64
	FeeTTL          time.Duration
	FeeTargetBlocks int

	LiabilityRateNum uint64
	LiabilityRateDen uint64
	MinDeposit       uint64
	MaxDeposit       uint64
	ProtocolFeeBps   uint64

	LogLevel string
}

// Load merges config file, environment variables, and flags into Config.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("POOLD")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("network", "regtest")
	v.SetDefault("listen", "127.0.0.1:8380")
	v.SetDefault("store", StoreFile)
	v.SetDefault("state-path", "./data/state.json")
	v.SetDefault("journal", "./data/events.jsonl")
	v.SetDefault("finality-depth", uint64(6))
	v.SetDefault("poll-interval", 30*time.Second)
	v.SetDefault("batch-size", uint64(50))
	v.SetDefault("checkpoint", "./data/checkpoint.json")
	v.SetDefault("checkpoint-enabled", true)
	v.SetDefault("max-retries", 5)
	v.SetDefault("retry-backoff", 500*time.Millisecond)
	v.SetDefault("fee-fallback", 10.0)
	v.SetDefault("fee-ttl", time.Minute)
	v.SetDefault("fee-target-blocks", 3)
	v.SetDefault("liability-rate", "1/1")
	v.SetDefault("min-deposit", uint64(50_000))
	v.SetDefault("max-deposit", uint64(35_000_000))
	v.SetDefault("protocol-fee-bps", uint64(200))
	v.SetDefault("log-level", "info")

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("poold")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := Config{
		RPCURL:            v.GetString("rpc"),
		RPCUser:           v.GetString("rpc-user"),
		RPCPassword:       v.GetString("rpc-pass"),
		Network:           v.GetString("network"),
		Listen:            v.GetString("listen"),
		Store:             strings.ToLower(v.GetString("store")),
		StatePath:         v.GetString("state-path"),
		PGDSN:             v.GetString("pg-dsn"),
		Journal:           v.GetString("journal"),
		FinalityDepth:     v.GetUint64("finality-depth"),
		StartHeight:       v.GetUint64("start-height"),
		PollInterval:      v.GetDuration("poll-interval"),
		BatchSize:         v.GetUint64("batch-size"),
		Checkpoint:        v.GetString("checkpoint"),
		CheckpointEnabled: v.GetBool("checkpoint-enabled"),
		MaxRetries:        v.GetInt("max-retries"),
		RetryBackoff:      v.GetDuration("retry-backoff"),
		FeeFallback:       v.GetFloat64("fee-fallback"),
		FeeTTL:            v.GetDuration("fee-ttl"),
		FeeTargetBlocks:   v.GetInt("fee-target-blocks"),
		MinDeposit:        v.GetUint64("min-deposit"),
		MaxDeposit:        v.GetUint64("max-deposit"),
		ProtocolFeeBps:    v.GetUint64("protocol-fee-bps"),
		LogLevel:          v.GetString("log-level"),
	}

	switch cfg.Store {
	case StoreFile, StoreBolt, StorePostgres, StoreMemory:
	default:
		return Config{}, fmt.Errorf("unknown store %q", cfg.Store)
	}
	if cfg.Store == StorePostgres && cfg.PGDSN == "" {
		return Config{}, fmt.Errorf("pg-dsn is required for the postgres store")
	}

	num, den, err := parseRate(v.GetString("liability-rate"))
	if err != nil {
		return Config{}, err
	}
	cfg.LiabilityRateNum, cfg.LiabilityRateDen = num, den

	if seed := strings.TrimSpace(v.GetString("seed")); seed != "" {
		if cfg.Seed, err = hex.DecodeString(seed); err != nil {
			return Config{}, fmt.Errorf("seed must be hex: %w", err)
		}
	}

	if cfg.Pools, err = parsePools(getStringSlice(v, "pools")); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// parseRate reads "num/den" or a bare integer.
func parseRate(input string) (uint64, uint64, error) {
	input = strings.TrimSpace(input)
	numStr, denStr, found := strings.Cut(input, "/")
	if !found {
		denStr = "1"
	}
	var num, den uint64
	if _, err := fmt.Sscanf(strings.TrimSpace(numStr), "%d", &num); err != nil {
		return 0, 0, fmt.Errorf("invalid liability-rate %q", input)
	}
	if _, err := fmt.Sscanf(strings.TrimSpace(denStr), "%d", &den); err != nil || den == 0 || num == 0 {
		return 0, 0, fmt.Errorf("invalid liability-rate %q", input)
	}
	return num, den, nil
}

// parsePools reads entries of the form "name=86'/1'/0'".
func parsePools(entries []string) ([]PoolSpec, error) {
	out := make([]PoolSpec, 0, len(entries))
	for _, entry := range entries {
		name, path, ok := strings.Cut(entry, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid pool %q, expected name=path", entry)
		}
		segments := cleanStrings(strings.Split(path, "/"))
		if len(segments) == 0 {
			return nil, fmt.Errorf("pool %s has an empty derivation path", name)
		}
		out = append(out, PoolSpec{Name: name, DerivationPath: segments})
	}
	return out, nil
}

func getStringSlice(v *viper.Viper, key string) []string {
	if !v.IsSet(key) {
		return nil
	}

	val := v.Get(key)
	switch typed := val.(type) {
	case []string:
		return cleanStrings(typed)
	case string:
		return splitAndClean(typed)
	case []interface{}:
		items := make([]string, 0, len(typed))
		for _, item := range typed {
			items = append(items, fmt.Sprintf("%v", item))
		}
		return cleanStrings(items)
	default:
		return nil
	}
}

func splitAndClean(input string) []string {
	if input == "" {
		return nil
	}
	parts := strings.Split(input, ",")
	return cleanStrings(parts)
}

func cleanStrings(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		out = append(out, item)
	}
	return out
}
