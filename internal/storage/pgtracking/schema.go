package pgtracking

import (
	"context"

	"github.com/pkg/errors"
)

func (s *Storage) initSchema(ctx context.Context) error {
	stmts := []string{
		`
CREATE TABLE IF NOT EXISTS orders (
  id TEXT PRIMARY KEY,
  status TEXT NOT NULL,
  customer_id TEXT NOT NULL DEFAULT '',
  agent_id TEXT NULL,
  agent_name TEXT NULL,
  store_lat DOUBLE PRECISION NULL,
  store_lon DOUBLE PRECISION NULL,
  store_address TEXT NULL,
  delivery_lat DOUBLE PRECISION NULL,
  delivery_lon DOUBLE PRECISION NULL,
  delivery_address TEXT NULL,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_agent_id ON orders(agent_id)`,
		`
CREATE TABLE IF NOT EXISTS agent_locations (
  order_id TEXT PRIMARY KEY REFERENCES orders(id) ON DELETE CASCADE,
  agent_id TEXT NOT NULL,
  latitude DOUBLE PRECISION NOT NULL,
  longitude DOUBLE PRECISION NOT NULL,
  accuracy_m DOUBLE PRECISION NULL,
  captured_at TIMESTAMPTZ NULL,
  updated_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_agent_locations_updated_at ON agent_locations(updated_at)`,
	}

	for _, q := range stmts {
		if _, err := s.db.Exec(ctx, q); err != nil {
			return errors.Wrap(err, "init schema")
		}
	}
	return nil
}
