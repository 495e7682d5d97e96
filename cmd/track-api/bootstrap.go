package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/freshbasket/livetrack/config"
	"github.com/freshbasket/livetrack/internal/api/trackingapi"
	"github.com/freshbasket/livetrack/internal/broker/kafka"
	"github.com/freshbasket/livetrack/internal/broker/messages"
	"github.com/freshbasket/livetrack/internal/cache"
	"github.com/freshbasket/livetrack/internal/cache/memcache"
	"github.com/freshbasket/livetrack/internal/cache/rediscache"
	"github.com/freshbasket/livetrack/internal/logging"
	"github.com/freshbasket/livetrack/internal/services/tracking"
	"github.com/freshbasket/livetrack/internal/storage/pgtracking"
)

type trackAPIApp struct {
	ctx    context.Context
	cancel context.CancelFunc
	opts   trackAPIOpts

	svc      *tracking.Service
	rl       trackingapi.RateLimiter
	consumer *kafka.Consumer

	closers []func()
}

// apiOptsFromConfig fills in defaults for everything the config leaves empty.
func apiOptsFromConfig(cfg *config.Config, swaggerPath string) trackAPIOpts {
	lt := cfg.LiveTrack

	httpAddr := lt.HTTPAddr
	if httpAddr == "" {
		httpAddr = ":8080"
	}
	consumerGroup := lt.KafkaConsumerGroup
	if consumerGroup == "" {
		consumerGroup = "track-api"
	}
	topic := cfg.Kafka.AgentLocationTopicName
	if topic == "" {
		topic = messages.TopicAgentLocationUpdated
	}
	rate := int64(lt.LocationRatePerMinute)
	if rate <= 0 {
		rate = 120
	}
	staleHours := lt.StaleLocationHours
	if staleHours <= 0 {
		staleHours = 24
	}
	schedule := lt.PruneSchedule
	if schedule == "" {
		schedule = "@hourly"
	}

	return trackAPIOpts{
		httpAddr:      httpAddr,
		swaggerPath:   swaggerPath,
		topic:         topic,
		consumerGroup: consumerGroup,
		pruneSchedule: schedule,
		staleAfter:    time.Duration(staleHours) * time.Hour,
		api: trackingapi.Options{
			LocationRatePerMinute: rate,
			AdminToken:            lt.AdminToken,
		},
	}
}

func snapshotTTL(cfg *config.Config) time.Duration {
	ttl := time.Duration(cfg.LiveTrack.SnapshotTTLSeconds) * time.Second
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	return ttl
}

func mustBootstrapTrackAPI() *trackAPIApp {
	cfgPath := os.Getenv("configPath")
	if cfgPath == "" {
		panic("configPath env var is required")
	}
	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	logCloser := logging.Setup(cfg.Log, "track-api")
	opts := apiOptsFromConfig(cfg, os.Getenv("swaggerPath"))

	st, err := pgtracking.Connect(context.Background(), cfg.Database.ConnString(),
		pgtracking.Options{MaxConns: cfg.Database.MaxConns, ConnectTimeout: 5 * time.Second}, 60*time.Second)
	if err != nil {
		panic(fmt.Sprintf("failed to open postgres: %v", err))
	}

	cl := newCacheLayer(cfg.Redis)
	opts.checks = map[string]func(context.Context) error{"postgres": st.Ping}
	if cl.ping != nil {
		opts.checks["redis"] = cl.ping
	}

	app := &trackAPIApp{
		opts:    opts,
		rl:      cl.limiter,
		closers: []func(){closeQuietly(logCloser), st.Close, cl.close},
	}

	svc := tracking.New(st, cl.cache, snapshotTTL(cfg))
	if cfg.LiveTrack.PublishViaKafka {
		producer := kafka.NewProducer(cfg.Kafka.Brokers())
		svc.WithProducer(producer, opts.topic)
		app.consumer = kafka.NewConsumer(kafka.ConsumerConfig{
			Brokers:        cfg.Kafka.Brokers(),
			Topic:          opts.topic,
			GroupID:        opts.consumerGroup,
			HandlerRetries: 3,
		})
		app.closers = append(app.closers, closeQuietly(producer), closeQuietly(app.consumer))
	}
	app.svc = svc

	app.ctx, app.cancel = signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	return app
}

type cacheLayer struct {
	cache   cache.BytesCache
	limiter trackingapi.RateLimiter
	ping    func(context.Context) error
	close   func()
}

// newCacheLayer shares one Redis pool between the snapshot cache and the
// limiter. With no redis host configured, snapshots are cached in process and
// location updates are not rate limited.
func newCacheLayer(rc config.RedisConfig) cacheLayer {
	if rc.Host == "" {
		slog.Warn("redis host not configured, using in-process snapshot cache without rate limiting")
		return cacheLayer{cache: memcache.New(time.Minute), close: func() {}}
	}
	rdb := rediscache.Dial(rc.Addr(), rc.Password, rc.DB)
	c := rediscache.New(rdb)
	return cacheLayer{
		cache:   c,
		limiter: rediscache.NewRateLimiter(rdb),
		ping:    c.Ping,
		close:   func() { _ = rdb.Close() },
	}
}

func closeQuietly(c io.Closer) func() {
	return func() { _ = c.Close() }
}

func (a *trackAPIApp) Close() {
	if a.cancel != nil {
		a.cancel()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func (a *trackAPIApp) Run() error {
	// A nil *kafka.Consumer must not reach runTrackAPI as a non-nil interface.
	var consumer kafkaConsumer
	if a.consumer != nil {
		consumer = a.consumer
	}
	return runTrackAPI(a.ctx, a.opts, a.svc, a.rl, consumer)
}
