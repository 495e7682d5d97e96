package pgtracking

import (
	"context"
	"time"

	"github.com/freshbasket/livetrack/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

// UpsertAgentLocation overwrites the order's coordinate unless the stored one
// was captured later. It reports whether the row changed.
func (s *Storage) UpsertAgentLocation(ctx context.Context, loc models.AgentLocation) (bool, error) {
	updatedAt := loc.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	tag, err := s.db.Exec(ctx, `
INSERT INTO agent_locations (
  order_id, agent_id, latitude, longitude, accuracy_m, captured_at, updated_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (order_id) DO UPDATE SET
  agent_id = EXCLUDED.agent_id,
  latitude = EXCLUDED.latitude,
  longitude = EXCLUDED.longitude,
  accuracy_m = EXCLUDED.accuracy_m,
  captured_at = EXCLUDED.captured_at,
  updated_at = EXCLUDED.updated_at
WHERE agent_locations.captured_at IS NULL
   OR EXCLUDED.captured_at IS NULL
   OR EXCLUDED.captured_at >= agent_locations.captured_at
`, loc.OrderID, loc.AgentID, loc.Latitude, loc.Longitude, loc.AccuracyMeters, loc.CapturedAt, updatedAt)
	if err != nil {
		return false, errors.Wrap(err, "upsert agent location")
	}
	return tag.RowsAffected() > 0, nil
}

// GetAgentLocation returns nil without error when the order has no coordinate.
func (s *Storage) GetAgentLocation(ctx context.Context, orderID string) (*models.AgentLocation, error) {
	var loc models.AgentLocation
	err := s.db.QueryRow(ctx, `
SELECT order_id, agent_id, latitude, longitude, accuracy_m, captured_at, updated_at
FROM agent_locations
WHERE order_id = $1
`, orderID).Scan(
		&loc.OrderID, &loc.AgentID, &loc.Latitude, &loc.Longitude,
		&loc.AccuracyMeters, &loc.CapturedAt, &loc.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "select agent location")
	}
	return &loc, nil
}

func (s *Storage) DeleteAgentLocation(ctx context.Context, orderID string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM agent_locations WHERE order_id = $1`, orderID)
	return errors.Wrap(err, "delete agent location")
}

// PruneAgentLocations deletes coordinates last written before cutoff and
// returns the affected order ids.
func (s *Storage) PruneAgentLocations(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := s.db.Query(ctx, `
DELETE FROM agent_locations
WHERE updated_at < $1
RETURNING order_id
`, cutoff.UTC())
	if err != nil {
		return nil, errors.Wrap(err, "prune agent locations")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "scan pruned order id")
		}
		ids = append(ids, id)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return ids, nil
}
