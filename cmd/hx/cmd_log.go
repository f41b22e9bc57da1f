package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/odvcencio/hx/pkg/repo"
)

func newLogCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "log",
		Short: "Show commit history",
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := repo.Open(".")
			if err != nil {
				return err
			}

			head, err := r.ResolveRef("HEAD")
			if err != nil {
				return err
			}
			if head == "" {
				fmt.Fprintln(cmd.OutOrStdout(), "no commits yet")
				return nil
			}

			entries, err := r.Log(head, limit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, e := range entries {
				ts := time.Unix(e.Commit.Timestamp, 0).Format(time.RFC1123)
				fmt.Fprintf(out, "commit %s\n", e.Hash)
				fmt.Fprintf(out, "Author: %s\n", e.Commit.Author)
				fmt.Fprintf(out, "Date:   %s\n\n", ts)
				fmt.Fprintf(out, "    %s\n\n", e.Commit.Message)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "max-count", "n", 0, "limit the number of commits (0 = all)")
	return cmd
}
