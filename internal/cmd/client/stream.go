package client

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rzbill/replog/internal/cmd/client/transports"
)

// BaseURLFunc returns the base URL of a node's HTTP API.
type BaseURLFunc func() string

// newTransport is swapped in tests.
var newTransport = func(base string) transports.StreamsTransport {
	return transports.NewHTTPTransport(base, nil)
}

func newAppendCommand(baseURL BaseURLFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "append <stream>",
		Short: "Append events to a stream and wait for the commit",
		Example: `  replog append cart-1 --set item=book --set qty=2
  replog append cart-1 --del qty
  replog append cart-1 --json '[{"op":"clear"}]'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			events, err := eventsFromFlags(cmd)
			if err != nil {
				return err
			}
			version, err := newTransport(baseURL()).Append(cmd.Context(), args[0], events)
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]any{"stream": args[0], "version": version})
		},
	}
	cmd.Flags().StringArray("set", nil, "Set key=value (repeatable)")
	cmd.Flags().StringArray("del", nil, "Delete key (repeatable)")
	cmd.Flags().Bool("clear", false, "Clear the view before --set and --del")
	cmd.Flags().String("json", "", "JSON array of events, applied first")
	return cmd
}

func newViewCommand(baseURL BaseURLFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "view <stream>",
		Short: "Print a stream's confirmed view",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sync, _ := cmd.Flags().GetBool("sync")
			wait, _ := cmd.Flags().GetDuration("wait")
			t := newTransport(baseURL())
			var (
				v   transports.View
				err error
			)
			if wait > 0 {
				after, _ := cmd.Flags().GetUint64("after")
				v, err = t.WaitView(cmd.Context(), args[0], after, wait)
			} else {
				v, err = t.View(cmd.Context(), args[0], sync)
			}
			if err != nil {
				return err
			}
			return printJSON(cmd, v)
		},
	}
	cmd.Flags().Bool("sync", false, "Catch up with storage before reading")
	cmd.Flags().Duration("wait", 0, "Wait up to this long for a version past --after")
	cmd.Flags().Uint64("after", 0, "Version to wait past (with --wait)")
	return cmd
}

func newEventsCommand(baseURL BaseURLFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events <stream>",
		Short: "Print committed events of a version range",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			from, _ := cmd.Flags().GetUint64("from")
			to, _ := cmd.Flags().GetUint64("to")
			if to > 0 && from > to {
				return fmt.Errorf("--from must not exceed --to")
			}
			seg, err := newTransport(baseURL()).Segment(cmd.Context(), args[0], from, to)
			if err != nil {
				return err
			}
			return printJSON(cmd, seg)
		},
	}
	cmd.Flags().Uint64("from", 1, "First version")
	cmd.Flags().Uint64("to", 0, "Last version (default: confirmed version)")
	return cmd
}

func newStatsCommand(baseURL BaseURLFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats [stream]",
		Short: "Print activation stats for one stream or every active stream",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t := newTransport(baseURL())
			if len(args) == 0 {
				st, err := t.Stats(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(cmd, map[string]any{"streams": st})
			}
			st, err := t.StreamStats(cmd.Context(), args[0])
			if errors.Is(err, transports.ErrNotActive) {
				return fmt.Errorf("stream %q is not active on this node", args[0])
			}
			if err != nil {
				return err
			}
			return printJSON(cmd, st)
		},
	}
	return cmd
}

func newHealthCommand(baseURL BaseURLFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check a node over HTTP, or a peer's gossip endpoint with --peer",
		RunE: func(cmd *cobra.Command, _ []string) error {
			peer, _ := cmd.Flags().GetBool("peer")
			var (
				h   transports.Health
				err error
			)
			if peer {
				addr, _ := cmd.Flags().GetString("grpc")
				h, err = transports.NewGrpcTransport(dialGossip(addr)).Health(cmd.Context())
			} else {
				h, err = newTransport(baseURL()).Health(cmd.Context())
			}
			if err != nil {
				return err
			}
			if err := printJSON(cmd, h); err != nil {
				return err
			}
			if h.Status != "ok" {
				return fmt.Errorf("node status %s", h.Status)
			}
			return nil
		},
	}
	cmd.Flags().Bool("peer", false, "Use the gossip gRPC endpoint")
	cmd.Flags().String("grpc", grpcAddrFromEnv(), "Gossip gRPC address for --peer")
	return cmd
}
