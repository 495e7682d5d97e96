package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/freshbasket/livetrack/internal/api/trackingapi"
	"github.com/freshbasket/livetrack/internal/broker/kafka"
	"github.com/freshbasket/livetrack/internal/broker/messages"
	"github.com/go-chi/chi/v5"
	"github.com/robfig/cron/v3"
	httpSwagger "github.com/swaggo/http-swagger"
)

type trackAPIOpts struct {
	httpAddr    string
	swaggerPath string

	topic         string
	consumerGroup string

	pruneSchedule string
	staleAfter    time.Duration

	api trackingapi.Options

	// readiness checks keyed by dependency name, served on /readyz.
	checks map[string]func(context.Context) error

	onListen func(httpAddr string)
}

type kafkaConsumer interface {
	Consume(ctx context.Context, handler func(key, value []byte) error) error
}

type trackingService interface {
	trackingapi.Service
	ApplyLocationUpdate(ctx context.Context, msg messages.AgentLocationUpdated) error
	PruneStaleLocations(ctx context.Context, maxAge time.Duration) (int, error)
}

// runTrackAPI serves HTTP until ctx ends. consumer may be nil when locations
// are written directly instead of through Kafka.
func runTrackAPI(ctx context.Context, opts trackAPIOpts, svc trackingService, rl trackingapi.RateLimiter, consumer kafkaConsumer) error {
	if opts.swaggerPath != "" {
		if _, err := os.Stat(opts.swaggerPath); os.IsNotExist(err) {
			return fmt.Errorf("swagger file not found: %s", opts.swaggerPath)
		}
	}

	lis, err := net.Listen("tcp", opts.httpAddr)
	if err != nil {
		return err
	}
	if opts.onListen != nil {
		opts.onListen(lis.Addr().String())
	}

	httpErr := make(chan error, 1)
	go func() {
		httpErr <- runHTTPServer(ctx, lis, trackingapi.New(svc, rl, opts.api), opts.swaggerPath, opts.checks)
	}()

	consumerErr := make(chan error, 1)
	if consumer != nil {
		go func() {
			slog.Info("kafka consumer started", "topic", opts.topic, "group", opts.consumerGroup)
			consumerErr <- consumer.Consume(ctx, locationHandler(ctx, svc))
		}()
	}

	stopPruner, err := startPruner(ctx, svc, opts.pruneSchedule, opts.staleAfter)
	if err != nil {
		return err
	}
	defer stopPruner()

	select {
	case <-ctx.Done():
		<-httpErr
		return ctx.Err()
	case err := <-httpErr:
		return err
	case err := <-consumerErr:
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("kafka consumer stopped: %w", err)
	}
}

func locationHandler(ctx context.Context, svc trackingService) func(key, value []byte) error {
	return func(_ []byte, value []byte) error {
		var m messages.AgentLocationUpdated
		if err := json.Unmarshal(value, &m); err != nil {
			return kafka.Permanent(err)
		}
		if m.OrderID == "" {
			return kafka.Permanent(fmt.Errorf("message %s has no order_id", m.EventID))
		}
		return svc.ApplyLocationUpdate(ctx, m)
	}
}

// startPruner deletes stored coordinates older than staleAfter on schedule.
func startPruner(ctx context.Context, svc trackingService, schedule string, staleAfter time.Duration) (func(), error) {
	if schedule == "" || staleAfter <= 0 {
		return func() {}, nil
	}
	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		pruneCtx, cancel := context.WithTimeout(ctx, time.Minute)
		defer cancel()
		n, err := svc.PruneStaleLocations(pruneCtx, staleAfter)
		if err != nil {
			slog.Error("prune stale locations", "error", err.Error())
			return
		}
		if n > 0 {
			slog.Info("stale locations pruned", "count", n)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("invalid prune schedule %q: %w", schedule, err)
	}
	c.Start()
	slog.Info("location pruner scheduled", "schedule", schedule, "stale_after", staleAfter.String())
	return func() { <-c.Stop().Done() }, nil
}

func readyHandler(checks map[string]func(context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		failed := map[string]string{}
		for name, check := range checks {
			if err := check(ctx); err != nil {
				failed[name] = err.Error()
			}
		}
		w.Header().Set("Content-Type", "application/json")
		if len(failed) > 0 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]any{"status": "unavailable", "failed": failed})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
	}
}

func runHTTPServer(ctx context.Context, lis net.Listener, api *trackingapi.TrackingAPI, swaggerPath string, checks map[string]func(context.Context) error) error {
	r := chi.NewRouter()
	r.Get("/readyz", readyHandler(checks))
	if swaggerPath != "" {
		r.Get("/swagger.json", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Cache-Control", "no-store")
			http.ServeFile(w, r, swaggerPath)
		})
		swaggerURL := "/swagger.json"
		if fi, err := os.Stat(swaggerPath); err == nil {
			swaggerURL = fmt.Sprintf("/swagger.json?v=%d", fi.ModTime().Unix())
		}
		r.Get("/docs/*", httpSwagger.Handler(httpSwagger.URL(swaggerURL)))
	}
	r.Group(api.Routes)

	srv := &http.Server{Handler: r, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("HTTP server listening", "addr", lis.Addr().String())
	if err := srv.Serve(lis); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
