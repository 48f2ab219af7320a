package client

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rzbill/replog/internal/commitstore"
	"github.com/rzbill/replog/internal/filter"
	"github.com/rzbill/replog/internal/kvview"
	"github.com/rzbill/replog/internal/logview"
	"github.com/rzbill/replog/internal/publish"
	"github.com/rzbill/replog/internal/runtime"
)

// errStop ends a commit scan early.
var errStop = errors.New("stop")

func newReplayCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replay <stream>",
		Short: "Recover a stream from a data directory and print its view",
		Long: `Recover a stream the way a node activates it: load the latest snapshot,
then fold every indexed commit after it. The data directory must not be in
use by a running node when the engine takes an exclusive lock (bolt, pebble).`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			noSnap, _ := cmd.Flags().GetBool("no-snapshot")
			rt, err := openOffline(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close() }()

			// No Write happens here, so TakeSnapshots only enables loading.
			ad, err := logview.New(runtime.Stores[kvview.View](rt, nil), logview.Options[kvview.View, kvview.Event]{
				Stream:        args[0],
				ReplicaID:     rt.ClusterID(),
				Initial:       kvview.Initial,
				Fold:          kvview.Fold,
				TakeSnapshots: !noSnap,
			})
			if err != nil {
				return err
			}
			if err := ad.Activate(cmd.Context()); err != nil {
				return fmt.Errorf("replay %s: %w", args[0], err)
			}
			return printJSON(cmd, map[string]any{
				"stream":  args[0],
				"version": ad.ConfirmedVersion(),
				"view":    ad.ConfirmedView(),
			})
		},
	}
	addStorageFlags(cmd)
	cmd.Flags().Bool("no-snapshot", false, "Ignore snapshots and fold from version 1")
	return cmd
}

func newCommitsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "commits",
		Short: "Dump commit records from a data directory",
		Long: `Dump commit records in sequence order, one JSON object per line.
--filter takes a CEL expression over stream, version, sequence, origin,
ts_ms, size, events and now_ms, e.g.

  stream == "cart-1" && events.exists(e, e.op == "clear")`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			expr, _ := cmd.Flags().GetString("filter")
			limit, _ := cmd.Flags().GetInt("limit")
			f, err := filter.Compile(expr)
			if err != nil {
				return err
			}
			rt, err := openOffline(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close() }()

			out := cmd.OutOrStdout()
			n := 0
			err = rt.Commits().Scan(cmd.Context(), func(c commitstore.Commit) error {
				if !f.Match(c) {
					return nil
				}
				b, err := publish.Encode(c, nil)
				if err != nil {
					return fmt.Errorf("commit %d: %w", c.Sequence, err)
				}
				if _, err := fmt.Fprintln(out, string(b)); err != nil {
					return err
				}
				n++
				if limit > 0 && n >= limit {
					return errStop
				}
				return nil
			})
			if errors.Is(err, errStop) {
				return nil
			}
			return err
		},
	}
	addStorageFlags(cmd)
	cmd.Flags().String("filter", "", "CEL filter expression")
	cmd.Flags().Int("limit", 0, "Stop after this many matches (0 = all)")
	return cmd
}
