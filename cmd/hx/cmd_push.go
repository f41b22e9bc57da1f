package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/odvcencio/hx/pkg/repo"
	hxsync "github.com/odvcencio/hx/pkg/sync"
)

func newPushCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "push [remote] [branch]",
		Short: "Upload local history and move the remote branch",
		Args:  cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := repo.Open(".")
			if err != nil {
				return err
			}

			remoteArg, branchArg := "", ""
			if len(args) > 0 {
				remoteArg = args[0]
			}
			if len(args) > 1 {
				branchArg = args[1]
			}

			addr, err := resolveRemote(r, remoteArg)
			if err != nil {
				return err
			}
			ref, err := currentRefName(r, branchArg)
			if err != nil {
				return err
			}

			conn, err := dialRemote(addr)
			if err != nil {
				return err
			}
			defer conn.Close()

			client := &hxsync.Client{Repo: r}
			res, err := client.Push(cmd.Context(), conn, ref, force)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if res.UpToDate {
				fmt.Fprintln(out, "Everything up to date")
				return nil
			}
			fmt.Fprintf(out, "Pushed %d objects to %s (%s -> %s)\n", res.ObjectsSent, addr, ref, shortHash(res.NewTip))
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "allow non-fast-forward updates")
	return cmd
}
