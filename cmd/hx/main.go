package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/odvcencio/hx/pkg/object"
)

func main() {
	root := &cobra.Command{
		Use:   "hx",
		Short: "Content-addressed version control with binary sync",
	}

	root.AddCommand(newVersionCmd())
	root.AddCommand(newInitCmd())
	root.AddCommand(newAddCmd())
	root.AddCommand(newRmCmd())
	root.AddCommand(newStatusCmd())
	root.AddCommand(newCommitCmd())
	root.AddCommand(newLogCmd())
	root.AddCommand(newBranchCmd())
	root.AddCommand(newRemoteCmd())
	root.AddCommand(newPushCmd())
	root.AddCommand(newPullCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "hx 0.1.0-dev")
		},
	}
}

func shortHash(h object.Hash) string {
	if len(h) > 8 {
		return string(h[:8])
	}
	return string(h)
}
