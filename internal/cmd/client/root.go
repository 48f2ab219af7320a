package client

import (
	"github.com/spf13/cobra"
)

// Register adds the client commands to root: the HTTP stream commands, the
// health check and the offline data-directory commands.
func Register(root *cobra.Command, baseURL BaseURLFunc) {
	root.AddCommand(
		newAppendCommand(baseURL),
		newViewCommand(baseURL),
		newEventsCommand(baseURL),
		newStatsCommand(baseURL),
		newHealthCommand(baseURL),
		newReplayCommand(),
		newCommitsCommand(),
	)
}

// NewRoot constructs a root Cobra command holding only the client commands.
func NewRoot(baseURL BaseURLFunc) *cobra.Command {
	root := &cobra.Command{
		Use:          "replog",
		Short:        "replog client commands",
		SilenceUsage: true,
	}
	Register(root, baseURL)
	return root
}
