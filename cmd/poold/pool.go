package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"poolKeeper/internal/config"
)

func runPoolInit(cmd *cobra.Command, _ []string) error {
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

	name, _ := cmd.Flags().GetString("name")
	path, _ := cmd.Flags().GetString("path")
	if strings.TrimSpace(name) == "" || strings.TrimSpace(path) == "" {
		return fmt.Errorf("--name and --path are required")
	}
	if len(cfg.Seed) == 0 {
		return fmt.Errorf("seed is required")
	}
	segments := strings.Split(strings.Trim(path, "/"), "/")

	ctx := context.Background()
	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	svc, err := buildService(ctx, cfg, store, collaborators{}, logger)
	if err != nil {
		return err
	}
	info, err := svc.InitPool(ctx, strings.TrimSpace(name), segments)
	if err != nil {
		return err
	}
	return printJSON(info)
}

func runPoolList(cmd *cobra.Command, _ []string) error {
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

	ctx := context.Background()
	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	cfg.Pools = nil
	svc, err := buildService(ctx, cfg, store, collaborators{}, logger)
	if err != nil {
		return err
	}
	return printJSON(svc.PoolList())
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
