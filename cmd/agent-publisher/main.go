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
	"github.com/freshbasket/livetrack/internal/logging"
)

func main() {
	cfg, err := config.LoadConfig(os.Getenv("configPath"))
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	logCloser := logging.Setup(cfg.Log, "agent-publisher")
	defer logCloser.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	err = RunAgentPublisher(ctx, cfg, defaultPublisherFactories(), controlHTTPOpts{})
	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("agent-publisher stopped", "error", err.Error())
		cancel()
		_ = logCloser.Close()
		os.Exit(1)
	}
}
