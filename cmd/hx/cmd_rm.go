package main

import (
	"github.com/spf13/cobra"

	"github.com/odvcencio/hx/pkg/repo"
)

func newRmCmd() *cobra.Command {
	var cached bool
	var unstage bool

	cmd := &cobra.Command{
		Use:   "rm <path>...",
		Short: "Stage file removals, or unstage with --unstage",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := repo.Open(".")
			if err != nil {
				return err
			}
			if unstage {
				return r.Unstage(args)
			}
			return r.Remove(args, !cached)
		},
	}

	cmd.Flags().BoolVar(&cached, "cached", false, "stage the removal but keep the working tree file")
	cmd.Flags().BoolVar(&unstage, "unstage", false, "clear the staged state instead of removing")
	return cmd
}
