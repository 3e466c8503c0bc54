package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	root := &cobra.Command{
		Use:          "poold",
		Short:        "Pooled bitcoin custody daemon",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the chain watcher",
		RunE:  runServe,
	}
	addStateFlags(serveCmd.Flags())
	addKeyFlags(serveCmd.Flags())
	addRPCFlags(serveCmd.Flags())
	serveCmd.Flags().String("listen", "127.0.0.1:8380", "HTTP listen address")
	serveCmd.Flags().Uint64("finality-depth", 6, "confirmations before a state is final")
	serveCmd.Flags().Uint64("start-height", 0, "first block processed without a checkpoint, 0 means tip")
	serveCmd.Flags().Duration("poll-interval", 30*time.Second, "chain poll interval")
	serveCmd.Flags().Uint64("batch-size", 50, "blocks per watcher batch")
	serveCmd.Flags().String("checkpoint", "./data/checkpoint.json", "watcher checkpoint file path")
	serveCmd.Flags().Bool("checkpoint-enabled", true, "enable watcher checkpointing")
	serveCmd.Flags().Int("max-retries", 5, "maximum retry attempts")
	serveCmd.Flags().Duration("retry-backoff", 500*time.Millisecond, "initial retry backoff")
	serveCmd.Flags().Float64("fee-fallback", 10, "fee rate in sat/vB used when the node has no estimate")
	serveCmd.Flags().Duration("fee-ttl", time.Minute, "fee estimate cache lifetime")
	serveCmd.Flags().Int("fee-target-blocks", 3, "confirmation target for fee estimates")
	serveCmd.Flags().String("liability-rate", "1/1", "liability issued per deposited sat, as num/den")
	serveCmd.Flags().Uint64("min-deposit", 50_000, "minimum deposit in sats")
	serveCmd.Flags().Uint64("max-deposit", 35_000_000, "maximum deposit in sats")
	serveCmd.Flags().Uint64("protocol-fee-bps", 200, "protocol fee in basis points")
	root.AddCommand(serveCmd)

	poolCmd := &cobra.Command{
		Use:   "pool",
		Short: "Manage pools",
	}
	poolInitCmd := &cobra.Command{
		Use:   "init",
		Short: "Derive a custody address and register a pool",
		RunE:  runPoolInit,
	}
	addStateFlags(poolInitCmd.Flags())
	addKeyFlags(poolInitCmd.Flags())
	poolInitCmd.Flags().String("name", "", "pool name")
	poolInitCmd.Flags().String("path", "", "derivation path, e.g. 86'/1'/0'")
	poolListCmd := &cobra.Command{
		Use:   "list",
		Short: "List registered pools",
		RunE:  runPoolList,
	}
	addStateFlags(poolListCmd.Flags())
	poolCmd.AddCommand(poolInitCmd, poolListCmd)
	root.AddCommand(poolCmd)

	inspectCmd := &cobra.Command{
		Use:   "inspect",
		Short: "Print the persisted state and journal of a pool",
		RunE:  runInspect,
	}
	addStateFlags(inspectCmd.Flags())
	inspectCmd.Flags().String("pool", "", "pool address, empty for all pools")
	inspectCmd.Flags().Bool("events", true, "include journal events")
	root.AddCommand(inspectCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func addStateFlags(flags *pflag.FlagSet) {
	flags.String("store", "file", "state store (file, bolt, postgres, memory)")
	flags.String("state-path", "./data/state.json", "state file or bbolt database path")
	flags.String("pg-dsn", "", "Postgres DSN")
	flags.String("journal", "./data/events.jsonl", "event journal JSONL path, empty disables")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
}

func addKeyFlags(flags *pflag.FlagSet) {
	flags.String("seed", "", "hex custody seed")
	flags.String("network", "regtest", "bitcoin network (mainnet, testnet, signet, regtest)")
	flags.StringSlice("pools", nil, "pools to register at startup (name=path, comma-separated)")
}

func addRPCFlags(flags *pflag.FlagSet) {
	flags.String("rpc", "", "bitcoind RPC URL")
	flags.String("rpc-user", "", "bitcoind RPC user")
	flags.String("rpc-pass", "", "bitcoind RPC password")
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
