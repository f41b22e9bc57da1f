package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/odvcencio/hx/pkg/repo"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the working tree status",
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := repo.Open(".")
			if err != nil {
				return err
			}

			entries, warning, err := r.Status()
			if err != nil {
				return err
			}
			if warning != "" {
				fmt.Fprintf(os.Stderr, "warning: %s\n", warning)
			}

			out := cmd.OutOrStdout()
			if branch, err := r.CurrentBranch(); err == nil && branch != "" {
				fmt.Fprintf(out, "On branch %s\n", branch)
			}
			if len(entries) == 0 {
				fmt.Fprintln(out, "nothing to commit, working tree clean")
				return nil
			}

			var staged, unstaged, untracked []string
			for _, e := range entries {
				if e.IndexStatus != repo.StatusClean {
					staged = append(staged, fmt.Sprintf("  %-10s %s", indexStatusLabel(e.IndexStatus), e.Path))
				}
				switch e.WorkStatus {
				case repo.StatusClean:
				case repo.StatusUntracked:
					untracked = append(untracked, "  "+e.Path)
				default:
					unstaged = append(unstaged, fmt.Sprintf("  %-10s %s", workStatusLabel(e.WorkStatus), e.Path))
				}
			}

			if len(staged) > 0 {
				fmt.Fprintln(out, "Changes to be committed:")
				for _, line := range staged {
					fmt.Fprintln(out, line)
				}
			}
			if len(unstaged) > 0 {
				fmt.Fprintln(out, "Changes not staged for commit:")
				for _, line := range unstaged {
					fmt.Fprintln(out, line)
				}
			}
			if len(untracked) > 0 {
				fmt.Fprintln(out, "Untracked files:")
				for _, line := range untracked {
					fmt.Fprintln(out, line)
				}
			}
			return nil
		},
	}
}

func indexStatusLabel(s repo.FileStatus) string {
	switch s {
	case repo.StatusNew:
		return "new:"
	case repo.StatusModified:
		return "modified:"
	case repo.StatusDeleted:
		return "deleted:"
	}
	return "changed:"
}

func workStatusLabel(s repo.FileStatus) string {
	switch s {
	case repo.StatusDirty:
		return "modified:"
	case repo.StatusDeleted:
		return "deleted:"
	}
	return "changed:"
}
