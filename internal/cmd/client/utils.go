package client

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	cfgpkg "github.com/rzbill/replog/internal/config"
	"github.com/rzbill/replog/internal/gossip"
	"github.com/rzbill/replog/internal/kvview"
	"github.com/rzbill/replog/internal/runtime"
)

// grpcAddrFromEnv returns the gossip gRPC address from REPLOG_GRPC or a default.
func grpcAddrFromEnv() string {
	if addr := os.Getenv("REPLOG_GRPC"); addr != "" {
		return addr
	}
	return "127.0.0.1:7070"
}

// dialGossip dials a node's gossip endpoint with insecure transport for local/dev.
func dialGossip(addr string) func(ctx context.Context) (*gossip.Client, error) {
	return func(context.Context) (*gossip.Client, error) { return gossip.Dial(addr) }
}

// printJSON writes v as indented JSON to the command's output.
func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// eventsFromFlags builds the events for an append: --json events first, then
// --clear, then every --set, then every --del.
func eventsFromFlags(cmd *cobra.Command) ([]kvview.Event, error) {
	raw, _ := cmd.Flags().GetString("json")
	clearView, _ := cmd.Flags().GetBool("clear")
	sets, _ := cmd.Flags().GetStringArray("set")
	dels, _ := cmd.Flags().GetStringArray("del")

	var events []kvview.Event
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &events); err != nil {
			return nil, fmt.Errorf("invalid --json: %w", err)
		}
	}
	if clearView {
		events = append(events, kvview.Clear())
	}
	for _, s := range sets {
		k, v, ok := strings.Cut(s, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --set %q; use key=value", s)
		}
		events = append(events, kvview.Set(k, v))
	}
	for _, k := range dels {
		events = append(events, kvview.Delete(k))
	}
	if len(events) == 0 {
		return nil, fmt.Errorf("nothing to append; use --set, --del, --clear or --json")
	}
	for i, e := range events {
		if err := e.Validate(); err != nil {
			return nil, fmt.Errorf("event %d: %w", i, err)
		}
	}
	return events, nil
}

func addStorageFlags(cmd *cobra.Command) {
	cmd.Flags().String("config", os.Getenv("REPLOG_CONFIG"), "Config file (yaml|json|toml)")
	cmd.Flags().String("data-dir", "", "Data directory (overrides config)")
	cmd.Flags().String("engine", "", "Storage engine: "+strings.Join(cfgpkg.Engines, "|")+" (overrides config)")
}

// openOffline opens the data directory named by the storage flags without
// starting a node.
func openOffline(cmd *cobra.Command) (*runtime.Runtime, error) {
	path, _ := cmd.Flags().GetString("config")
	dataDir, _ := cmd.Flags().GetString("data-dir")
	engine, _ := cmd.Flags().GetString("engine")

	cfg, err := cfgpkg.Load(path)
	if err != nil {
		return nil, err
	}
	if dataDir != "" {
		cfg.Storage.DataDir = dataDir
	}
	if engine != "" {
		cfg.Storage.Engine = engine
	}
	if cfg.Storage.Engine == "memory" {
		return nil, fmt.Errorf("engine memory has nothing to read offline")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return runtime.Open(runtime.Options{Config: cfg})
}
