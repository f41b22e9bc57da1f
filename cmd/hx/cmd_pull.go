package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/odvcencio/hx/pkg/repo"
	hxsync "github.com/odvcencio/hx/pkg/sync"
)

func newPullCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pull [remote] [branch]",
		Short: "Fetch remote history and fast-forward the local branch",
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
			res, err := client.Pull(cmd.Context(), conn, ref)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if res.UpToDate {
				fmt.Fprintln(out, "Already up to date")
				return nil
			}
			fmt.Fprintf(out, "Received %d objects from %s (%s: %s -> %s)\n",
				res.ObjectsReceived, addr, ref, shortHash(res.OldTip), shortHash(res.NewTip))
			return nil
		},
	}
}
