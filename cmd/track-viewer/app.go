package main

import (
	"context"
	"encoding/json"
	"flag"
	"io"
	"sync"
	"time"

	"github.com/freshbasket/livetrack/config"
	"github.com/freshbasket/livetrack/internal/services/viewer"
	"github.com/pkg/errors"
)

type viewerOpts struct {
	orderID      string
	apiBaseURL   string
	interval     time.Duration
	fetchTimeout time.Duration
	once         bool
}

// parseFlags overlays command-line flags on the viewer section of cfg.
func parseFlags(args []string, cfg config.ViewerConfig) (viewerOpts, error) {
	opts := viewerOpts{
		apiBaseURL:   cfg.APIBaseURL,
		interval:     time.Duration(cfg.RefreshSeconds) * time.Second,
		fetchTimeout: time.Duration(cfg.FetchTimeoutSeconds) * time.Second,
	}
	if opts.apiBaseURL == "" {
		opts.apiBaseURL = "http://localhost:8080"
	}
	if opts.interval <= 0 {
		opts.interval = 10 * time.Second
	}
	if opts.fetchTimeout <= 0 {
		opts.fetchTimeout = 10 * time.Second
	}

	fs := flag.NewFlagSet("track-viewer", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&opts.orderID, "order", "", "order id to follow")
	fs.StringVar(&opts.apiBaseURL, "api", opts.apiBaseURL, "tracking api base url")
	fs.DurationVar(&opts.interval, "interval", opts.interval, "refresh interval")
	fs.DurationVar(&opts.fetchTimeout, "timeout", opts.fetchTimeout, "per-request timeout")
	fs.BoolVar(&opts.once, "once", false, "print one view and exit")
	if err := fs.Parse(args); err != nil {
		return viewerOpts{}, err
	}
	if opts.orderID == "" {
		return viewerOpts{}, errors.New("-order is required")
	}
	return opts, nil
}

// runViewer writes every rendered view to out as one JSON line until ctx ends.
func runViewer(ctx context.Context, opts viewerOpts, f viewer.Fetcher, out io.Writer) error {
	var mu sync.Mutex
	enc := json.NewEncoder(out)
	write := func(view viewer.View) {
		mu.Lock()
		defer mu.Unlock()
		_ = enc.Encode(view)
	}

	v := viewer.New(f).WithSettings(opts.interval, opts.fetchTimeout)
	if opts.once {
		if err := v.Open(ctx, opts.orderID); err != nil {
			return err
		}
		v.Close()
		write(v.View())
		return nil
	}

	v.OnUpdate(write)
	if err := v.Open(ctx, opts.orderID); err != nil {
		return err
	}
	<-ctx.Done()
	v.Close()
	return ctx.Err()
}
