// Package pgtracking is the Postgres repository behind the tracking service.
package pgtracking

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

type Options struct {
	// MaxConns caps the pool; 0 keeps the pgxpool default.
	MaxConns       int32
	ConnectTimeout time.Duration
}

// Storage keeps orders and the last known agent coordinate per order.
type Storage struct {
	db *pgxpool.Pool
}

// New opens a pool, checks the server answers and creates the tables.
func New(ctx context.Context, connString string, opts Options) (*Storage, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, errors.Wrap(err, "parse pg config")
	}
	if opts.MaxConns > 0 {
		cfg.MaxConns = opts.MaxConns
	}
	if opts.ConnectTimeout > 0 {
		cfg.ConnConfig.ConnectTimeout = opts.ConnectTimeout
	}

	db, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "connect pg")
	}
	s := &Storage{db: db}
	if err := s.Ping(ctx); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Connect retries New until it succeeds, wait elapses or ctx ends. Postgres
// often starts after the API in compose setups.
func Connect(ctx context.Context, connString string, opts Options, wait time.Duration) (*Storage, error) {
	ctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	for attempt := 1; ; attempt++ {
		st, err := New(ctx, connString, opts)
		if err == nil {
			return st, nil
		}
		slog.Warn("postgres not ready", "attempt", attempt, "error", err.Error())

		select {
		case <-ctx.Done():
			return nil, errors.Wrapf(err, "postgres not ready after %d attempts", attempt)
		case <-time.After(time.Second):
		}
	}
}

func (s *Storage) Ping(ctx context.Context) error {
	return errors.Wrap(s.db.Ping(ctx), "ping pg")
}

func (s *Storage) Close() {
	if s.db != nil {
		s.db.Close()
	}
}
