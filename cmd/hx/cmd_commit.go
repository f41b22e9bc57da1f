package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/odvcencio/hx/pkg/repo"
)

func newCommitCmd() *cobra.Command {
	var message string
	var author string

	cmd := &cobra.Command{
		Use:   "commit",
		Short: "Record staged changes to the repository",
		RunE: func(cmd *cobra.Command, args []string) error {
			if message == "" {
				return fmt.Errorf("commit message is required (-m)")
			}

			r, err := repo.Open(".")
			if err != nil {
				return err
			}

			if author == "" {
				author = configuredAuthor(r)
			}

			h, err := r.Commit(message, author)
			if err != nil {
				return err
			}

			branch := "HEAD"
			head, err := r.Head()
			if err == nil && strings.HasPrefix(head, "refs/heads/") {
				branch = strings.TrimPrefix(head, "refs/heads/")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "[%s %s] %s\n", branch, shortHash(h), message)
			return nil
		},
	}

	cmd.Flags().StringVarP(&message, "message", "m", "", "commit message")
	cmd.Flags().StringVar(&author, "author", "", "override author (default: config, then $USER)")
	return cmd
}

func configuredAuthor(r *repo.Repo) string {
	if cfg, err := r.ReadConfig(); err == nil && cfg.User.Name != "" {
		return cfg.User.Author()
	}
	if user := os.Getenv("USER"); user != "" {
		return user
	}
	return "unknown"
}
