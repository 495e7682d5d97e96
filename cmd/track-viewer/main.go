package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/freshbasket/livetrack/config"
	"github.com/freshbasket/livetrack/internal/integrations/storeapi"
	"github.com/freshbasket/livetrack/internal/logging"
)

func main() {
	cfg := &config.Config{}
	if path := os.Getenv("configPath"); path != "" {
		var err error
		if cfg, err = config.LoadConfig(path); err != nil {
			panic(fmt.Sprintf("failed to load config: %v", err))
		}
	}
	// Views go to stdout; keep logs on stderr.
	logger, closer := logging.New(cfg.Log, "track-viewer", os.Stderr)
	slog.SetDefault(logger)
	defer closer.Close()

	opts, err := parseFlags(os.Args[1:], cfg.Viewer)
	if err != nil {
		fmt.Fprintln(os.Stderr, "usage: track-viewer -order ORDER_ID [-api URL] [-interval 10s] [-timeout 10s] [-once]")
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	client := storeapi.New(opts.apiBaseURL, "", opts.fetchTimeout)
	if err := runViewer(ctx, opts, client, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("track-viewer stopped", "error", err.Error())
		os.Exit(1)
	}
}
