package config

import (
	"os"
	"strings"
)

// FromEnv overlays the short-form REPLOG_* variables that have no nested
// equivalent: REPLOG_DATA_DIR, REPLOG_ENGINE, REPLOG_FSYNC, REPLOG_PEERS
// (comma separated), REPLOG_GRPC_ADDR and REPLOG_HTTP_ADDR.
func FromEnv(cfg *Config) {
	if v := os.Getenv("REPLOG_DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("REPLOG_ENGINE"); v != "" {
		cfg.Storage.Engine = v
	}
	if v := os.Getenv("REPLOG_FSYNC"); v != "" {
		cfg.Storage.Fsync = v
	}
	if v := os.Getenv("REPLOG_GRPC_ADDR"); v != "" {
		cfg.Server.GRPCAddr = v
	}
	if v := os.Getenv("REPLOG_HTTP_ADDR"); v != "" {
		cfg.Server.HTTPAddr = v
	}
	if v := os.Getenv("REPLOG_PEERS"); v != "" {
		cfg.Gossip.Peers = SplitList(v)
	}
}

// SplitList splits a comma separated list, dropping blanks.
func SplitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
