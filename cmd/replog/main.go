package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	clientcmd "github.com/rzbill/replog/internal/cmd/client"
	serverrun "github.com/rzbill/replog/internal/cmd/server"
	cfgpkg "github.com/rzbill/replog/internal/config"
	logpkg "github.com/rzbill/replog/pkg/log"
)

func main() {
	// CLI logger; the server builds its own from config.
	level := os.Getenv("REPLOG_LOG_LEVEL")
	parsed, err := logpkg.ParseLevel(level)
	if err != nil || level == "" {
		parsed = logpkg.InfoLevel
	}
	logger := logpkg.NewLogger(
		logpkg.WithLevel(parsed),
		logpkg.WithFormatter(&logpkg.TextFormatter{}),
		logpkg.WithOutput(logpkg.NewConsoleOutput()),
	)

	rootCmd := &cobra.Command{
		Use:          "replog",
		Short:        "replog replicated log-view node and client",
		Long:         "replog runs a replica of the replicated event log and talks to running replicas.",
		SilenceUsage: true,
	}

	serverCmd := &cobra.Command{Use: "server", Short: "Server commands"}
	serverCmd.AddCommand(newServerStartCommand(logger))
	rootCmd.AddCommand(serverCmd)

	clientcmd.Register(rootCmd, apiURL)

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newServerStartCommand(logger logpkg.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "start",
		Short:   "Start a replica (gossip gRPC and HTTP API)",
		Aliases: []string{"run"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, _ := cmd.Flags().GetString("config")
			cfg, err := cfgpkg.Load(path)
			if err != nil {
				return err
			}
			if err := applyFlags(cmd, &cfg); err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			logger.Info("starting replog",
				logpkg.Str("engine", cfg.Storage.Engine),
				logpkg.Str("data_dir", cfg.Storage.DataDir),
				logpkg.Int("peers", len(cfg.Gossip.Peers)))
			if err := serverrun.Run(cmd.Context(), serverrun.Options{Config: cfg}); err != nil {
				return fmt.Errorf("server error: %w", err)
			}
			// brief delay to allow logs flush
			time.Sleep(100 * time.Millisecond)
			return nil
		},
	}
	f := cmd.Flags()
	f.String("config", os.Getenv("REPLOG_CONFIG"), "Config file (yaml|json|toml)")
	f.String("data-dir", "", "Data directory (if not specified, uses OS-specific application data directory)")
	f.String("engine", "", "Storage engine: "+strings.Join(cfgpkg.Engines, "|"))
	f.String("grpc", "", "Gossip gRPC listen address")
	f.String("http", "", "HTTP listen address")
	f.String("cluster-id", "", "Replica identity (random when empty)")
	f.StringSlice("peers", nil, "Gossip peer addresses")
	f.String("fsync", "", "Fsync mode: always|interval|never")
	f.Int("fsync-interval-ms", 0, "When --fsync=interval, group-commit window in ms")
	f.String("log-level", "", "Log level: debug|info|warn|error")
	f.String("log-format", "", "Log format: text|json")
	f.Int("snapshot-interval", 0, "Take a snapshot every N versions (0 disables)")
	return cmd
}

// applyFlags overrides cfg with every flag set on the command line.
func applyFlags(cmd *cobra.Command, cfg *cfgpkg.Config) error {
	f := cmd.Flags()
	str := func(name string, dst *string) {
		if f.Changed(name) {
			*dst, _ = f.GetString(name)
		}
	}
	str("data-dir", &cfg.Storage.DataDir)
	str("engine", &cfg.Storage.Engine)
	str("grpc", &cfg.Server.GRPCAddr)
	str("http", &cfg.Server.HTTPAddr)
	str("cluster-id", &cfg.Cluster.ID)
	str("fsync", &cfg.Storage.Fsync)
	str("log-level", &cfg.Log.Level)
	str("log-format", &cfg.Log.Format)
	if f.Changed("peers") {
		cfg.Gossip.Peers, _ = f.GetStringSlice("peers")
	}
	if f.Changed("fsync-interval-ms") {
		ms, _ := f.GetInt("fsync-interval-ms")
		if ms < 0 {
			return fmt.Errorf("--fsync-interval-ms must not be negative")
		}
		cfg.Storage.FsyncInterval = time.Duration(ms) * time.Millisecond
	}
	if f.Changed("snapshot-interval") {
		n, _ := f.GetInt("snapshot-interval")
		cfg.Snapshots.Enabled = n > 0
		if n > 0 {
			cfg.Snapshots.Interval = n
		}
	}
	return nil
}

func apiURL() string {
	if v := os.Getenv("REPLOG_HTTP"); v != "" {
		return v
	}
	return "http://127.0.0.1:8080"
}
