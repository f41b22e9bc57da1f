package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/odvcencio/hx/pkg/repo"
	hxsync "github.com/odvcencio/hx/pkg/sync"
)

func main() {
	var (
		listenAddr  string
		repoPath    string
		idleTimeout time.Duration
		logLevel    string
	)

	root := &cobra.Command{
		Use:   "hxd",
		Short: "Sync server daemon for hx repositories",
		RunE: func(cmd *cobra.Command, args []string) error {
			level := slog.LevelInfo
			if err := level.UnmarshalText([]byte(logLevel)); err != nil {
				return fmt.Errorf("invalid log level %q: %w", logLevel, err)
			}
			logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

			r, err := repo.Open(repoPath)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return serve(ctx, logger, r, listenAddr, idleTimeout)
		},
	}

	root.Flags().StringVarP(&listenAddr, "listen", "l", ":9418", "TCP listen address")
	root.Flags().StringVar(&repoPath, "repo", ".", "repository to serve")
	root.Flags().DurationVar(&idleTimeout, "idle-timeout", hxsync.DefaultIdleTimeout, "per-frame peer deadline")
	root.Flags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serve(ctx context.Context, logger *slog.Logger, r *repo.Repo, addr string, idleTimeout time.Duration) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	defer ln.Close()

	logger.Info("listening", "addr", ln.Addr().String(), "repo", r.RootDir)

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				logger.Info("shutting down")
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			logger.Warn("accept failed", "err", err)
			continue
		}

		go func() {
			defer conn.Close()
			peer := conn.RemoteAddr().String()
			log := logger.With("peer", peer)
			log.Debug("session start")

			sess := &hxsync.Session{Repo: r, Logger: log, IdleTimeout: idleTimeout}
			if err := sess.Serve(ctx, conn); err != nil {
				log.Warn("session failed", "err", err)
				return
			}
			log.Debug("session done")
		}()
	}
}
