package pgtracking

import (
	"context"
	"time"

	"github.com/freshbasket/livetrack/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

const orderColumns = `
  id, status, customer_id, agent_id, agent_name,
  store_lat, store_lon, store_address,
  delivery_lat, delivery_lon, delivery_address,
  created_at, updated_at`

func placeArgs(p *models.Place) (lat, lon *float64, addr *string) {
	if p == nil {
		return nil, nil, nil
	}
	return &p.Latitude, &p.Longitude, p.Address
}

func scanPlace(lat, lon *float64, addr *string) *models.Place {
	if lat == nil || lon == nil {
		return nil
	}
	return &models.Place{Latitude: *lat, Longitude: *lon, Address: addr}
}

func scanOrder(row pgx.Row) (*models.Order, error) {
	var o models.Order
	var storeLat, storeLon, delivLat, delivLon *float64
	var storeAddr, delivAddr *string
	if err := row.Scan(
		&o.ID, &o.Status, &o.CustomerID, &o.AgentID, &o.AgentName,
		&storeLat, &storeLon, &storeAddr,
		&delivLat, &delivLon, &delivAddr,
		&o.CreatedAt, &o.UpdatedAt,
	); err != nil {
		return nil, err
	}
	o.StoreLocation = scanPlace(storeLat, storeLon, storeAddr)
	o.DeliveryLocation = scanPlace(delivLat, delivLon, delivAddr)
	return &o, nil
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return models.ErrOrderNotFound
	}
	return err
}

// CreateOrder inserts a Pending order. Creating an id that already exists
// returns the stored order unchanged.
func (s *Storage) CreateOrder(ctx context.Context, in models.OrderCreateInput) (*models.Order, error) {
	now := time.Now().UTC()
	sLat, sLon, sAddr := placeArgs(in.StoreLocation)
	dLat, dLon, dAddr := placeArgs(in.DeliveryLocation)

	_, err := s.db.Exec(ctx, `
INSERT INTO orders (
  id, status, customer_id,
  store_lat, store_lon, store_address,
  delivery_lat, delivery_lon, delivery_address,
  created_at, updated_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$10)
ON CONFLICT (id) DO NOTHING
`, in.ID, models.OrderStatusPending, in.CustomerID, sLat, sLon, sAddr, dLat, dLon, dAddr, now)
	if err != nil {
		return nil, errors.Wrap(err, "insert order")
	}
	return s.GetOrder(ctx, in.ID)
}

func (s *Storage) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	o, err := scanOrder(s.db.QueryRow(ctx, `SELECT`+orderColumns+` FROM orders WHERE id = $1`, id))
	if err != nil {
		return nil, errors.Wrap(notFound(err), "select order")
	}
	return o, nil
}

// ListOrdersByAgent returns the agent's orders, newest first.
func (s *Storage) ListOrdersByAgent(ctx context.Context, agentID string) ([]*models.Order, error) {
	rows, err := s.db.Query(ctx, `SELECT`+orderColumns+`
FROM orders
WHERE agent_id = $1
ORDER BY created_at DESC, id
`, agentID)
	if err != nil {
		return nil, errors.Wrap(err, "select agent orders")
	}
	defer rows.Close()

	out := []*models.Order{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan order")
		}
		out = append(out, o)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

// SetOrderStatus stores a new status. When the order leaves the trackable set
// its stored agent coordinate is removed in the same transaction.
func (s *Storage) SetOrderStatus(ctx context.Context, id, status string) (*models.Order, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	o, err := scanOrder(tx.QueryRow(ctx, `
UPDATE orders SET status = $2, updated_at = now()
WHERE id = $1
RETURNING`+orderColumns, id, status))
	if err != nil {
		return nil, errors.Wrap(notFound(err), "update order status")
	}

	if !models.IsAgentTrackable(status) {
		if _, err := tx.Exec(ctx, `DELETE FROM agent_locations WHERE order_id = $1`, id); err != nil {
			return nil, errors.Wrap(err, "delete agent location")
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit tx")
	}
	return o, nil
}

func (s *Storage) AssignAgent(ctx context.Context, id, agentID, agentName string) (*models.Order, error) {
	var name *string
	if agentName != "" {
		name = &agentName
	}
	o, err := scanOrder(s.db.QueryRow(ctx, `
UPDATE orders SET agent_id = $2, agent_name = $3, updated_at = now()
WHERE id = $1
RETURNING`+orderColumns, id, agentID, name))
	if err != nil {
		return nil, errors.Wrap(notFound(err), "assign agent")
	}
	return o, nil
}
