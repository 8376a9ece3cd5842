package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"repodash/internal/config"
	"repodash/internal/connection"
	"repodash/internal/directory"
	"repodash/internal/logging"
	"repodash/internal/markdown"
	"repodash/internal/session"
	"repodash/internal/terminal"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "✗ %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// ──── Configuration & logging ────
	cfg, err := config.LoadClient()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.NewStderr(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ──── Collaborators ────
	assembler := markdown.New(markdown.WithLogger(logger))

	var transcript *terminal.Transcript
	if cfg.TranscriptPath != "" {
		var css strings.Builder
		if err := assembler.StyleSheet(&css); err != nil {
			logger.Warn("highlight stylesheet unavailable", zap.Error(err))
		}
		transcript = terminal.NewTranscript(cfg.TranscriptPath, css.String(), logger)
	}
	ui := terminal.NewUI(os.Stdout, transcript)

	dir, err := directory.NewClient(cfg.ServerURL, cfg.Token, nil, logger)
	if err != nil {
		return err
	}

	conn := connection.New(cfg.SocketURL(),
		connection.WithToken(cfg.Token),
		connection.WithLogger(logger),
		connection.WithPolicy(connection.ReconnectPolicy{
			Delay:       cfg.Reconnect.Delay,
			MaxAttempts: cfg.Reconnect.MaxAttempts,
			Multiplier:  cfg.Reconnect.Multiplier,
			MaxDelay:    cfg.Reconnect.MaxDelay,
		}),
	)
	defer conn.Close()

	chat := session.New(conn, dir, assembler, ui, session.Options{
		StreamRenderLimit: cfg.StreamRenderLimit,
		Logger:            logger,
	})

	// ──── Run ────
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return chat.Run(gctx)
	})
	g.Go(func() error {
		conn.Open()
		if err := chat.RefreshConversations(gctx); err != nil {
			logger.Warn("initial conversation list unavailable", zap.Error(err))
		}
		fmt.Fprintln(os.Stdout, "type /help for commands")
		if err := terminal.RunInput(gctx, os.Stdin, os.Stdout, chat); err != nil {
			return fmt.Errorf("read input: %w", err)
		}
		// Input ended: stop the session loop too.
		stop()
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
