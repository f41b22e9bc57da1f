package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/odvcencio/hx/pkg/repo"
)

func newBranchCmd() *cobra.Command {
	var deleteName string

	cmd := &cobra.Command{
		Use:   "branch [name]",
		Short: "List branches, or create one at the current HEAD",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := repo.Open(".")
			if err != nil {
				return err
			}

			if deleteName != "" {
				if err := r.DeleteBranch(deleteName); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted branch %s\n", deleteName)
				return nil
			}

			if len(args) == 1 {
				head, err := r.ResolveRef("HEAD")
				if err != nil {
					return err
				}
				if head == "" {
					return fmt.Errorf("cannot branch before the first commit")
				}
				return r.CreateBranch(args[0], head)
			}

			names, err := r.ListBranches()
			if err != nil {
				return err
			}
			current, _ := r.CurrentBranch()
			out := cmd.OutOrStdout()
			for _, name := range names {
				marker := "  "
				if name == current {
					marker = "* "
				}
				fmt.Fprintf(out, "%s%s\n", marker, name)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&deleteName, "delete", "d", "", "delete the named branch")
	return cmd
}
