package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/freshbasket/livetrack/config"
	"github.com/freshbasket/livetrack/internal/cache/rediscache"
	"github.com/freshbasket/livetrack/internal/geo"
	"github.com/freshbasket/livetrack/internal/integrations/geolocation"
	"github.com/freshbasket/livetrack/internal/integrations/geolocation/fake"
	"github.com/freshbasket/livetrack/internal/integrations/geolocation/httpgps"
	"github.com/freshbasket/livetrack/internal/integrations/storeapi"
	"github.com/freshbasket/livetrack/internal/models"
	"github.com/freshbasket/livetrack/internal/services/publisher"
	"github.com/freshbasket/livetrack/internal/sessionstore"
)

type publisherFactories struct {
	newBackend      func(cfg *config.Config) publisher.Backend
	newSource       func(cfg *config.Config) geolocation.Source
	newSessionStore func(cfg *config.Config) (store publisher.SessionStore, closeFn func(), err error)
}

func defaultPublisherFactories() publisherFactories {
	return publisherFactories{
		newBackend: func(cfg *config.Config) publisher.Backend {
			return storeapi.New(cfg.Agent.APIBaseURL, cfg.Agent.AgentID, secondsOr(cfg.Agent.PublishTimeoutSeconds, 10))
		},
		newSource: func(cfg *config.Config) geolocation.Source {
			interval := time.Duration(cfg.Agent.GPSIntervalMs) * time.Millisecond
			if interval <= 0 {
				interval = time.Second
			}
			switch cfg.Agent.GPSMode {
			case "http":
				if cfg.Agent.GPSBaseURL != "" {
					return httpgps.New(cfg.Agent.GPSBaseURL, cfg.Agent.GPSAPIKey, interval)
				}
				slog.Warn("gps_mode is http but gps_base_url is empty, using fake source")
			}
			start := models.Coordinate{Latitude: cfg.Agent.FakeStartLat, Longitude: cfg.Agent.FakeStartLon}
			if start.Latitude == 0 && start.Longitude == 0 {
				start = geo.DefaultCenter
			}
			return fake.New(start, cfg.Agent.AgentID, interval)
		},
		newSessionStore: func(cfg *config.Config) (publisher.SessionStore, func(), error) {
			switch cfg.Agent.SessionStore {
			case "redis":
				rdb := rediscache.Dial(cfg.Redis.Addr(), cfg.Redis.Password, cfg.Redis.DB)
				store := sessionstore.NewCacheStore(rediscache.New(rdb), cfg.Agent.AgentID)
				return store, func() { _ = rdb.Close() }, nil
			case "", "file":
				path := cfg.Agent.StateFile
				if path == "" {
					path = "livetrack-session.yaml"
				}
				return sessionstore.NewFileStore(path), func() {}, nil
			default:
				return nil, nil, fmt.Errorf("unknown session_store %q", cfg.Agent.SessionStore)
			}
		},
	}
}

func secondsOr(v, def int) time.Duration {
	if v <= 0 {
		v = def
	}
	return time.Duration(v) * time.Second
}

func acquireOptions(cfg *config.Config) geolocation.Options {
	opts := geolocation.DefaultOptions()
	if cfg.Agent.AcquireTimeoutSeconds > 0 {
		opts.Timeout = time.Duration(cfg.Agent.AcquireTimeoutSeconds) * time.Second
	}
	if cfg.Agent.HighAccuracy != nil {
		opts.HighAccuracy = *cfg.Agent.HighAccuracy
	}
	return opts
}

func newPublisher(cfg *config.Config, f publisherFactories) (*publisher.Publisher, func(), error) {
	if cfg.Agent.AgentID == "" {
		return nil, nil, fmt.Errorf("agent.agent_id is required")
	}
	store, closeFn, err := f.newSessionStore(cfg)
	if err != nil {
		return nil, nil, err
	}
	p := publisher.New(f.newSource(cfg), f.newBackend(cfg), store).
		WithSettings(
			secondsOr(cfg.Agent.HeartbeatSeconds, 5),
			secondsOr(cfg.Agent.PublishTimeoutSeconds, 10),
			acquireOptions(cfg),
		).
		OnChange(func(s models.TrackingSession) {
			attrs := []any{"state", s.State, "order_id", s.OrderID}
			if s.LastError != nil {
				attrs = append(attrs, "error_kind", s.LastError.Kind, "error", s.LastError.Message)
			}
			slog.Info("sharing session changed", attrs...)
		})
	return p, closeFn, nil
}

// RunAgentPublisher resumes a persisted session and serves the control API
// until ctx ends.
func RunAgentPublisher(ctx context.Context, cfg *config.Config, f publisherFactories, httpOpts controlHTTPOpts) error {
	p, closeFn, err := newPublisher(cfg, f)
	if err != nil {
		return err
	}
	defer closeFn()
	defer p.Shutdown()

	resumeCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	resumed, err := p.Resume(resumeCtx)
	cancel()
	switch {
	case err != nil:
		slog.Warn("could not resume sharing session", "error", err.Error())
	case resumed:
		slog.Info("sharing session resumed", "order_id", p.Session().OrderID)
	}

	if httpOpts.httpAddr == "" {
		httpOpts.httpAddr = cfg.Agent.ControlAddr
	}
	httpOpts.publisher = p
	return runControlServer(ctx, httpOpts)
}
