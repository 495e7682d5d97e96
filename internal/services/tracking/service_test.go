package tracking

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/freshbasket/livetrack/internal/cache/memcache"
	"github.com/freshbasket/livetrack/internal/models"
	"github.com/stretchr/testify/require"
)

// memRepo mirrors pgtracking semantics in memory.
type memRepo struct {
	mu     sync.Mutex
	orders map[string]*models.Order
	locs   map[string]*models.AgentLocation
}

func newMemRepo() *memRepo {
	return &memRepo{orders: map[string]*models.Order{}, locs: map[string]*models.AgentLocation{}}
}

func (r *memRepo) CreateOrder(_ context.Context, in models.OrderCreateInput) (*models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if o, ok := r.orders[in.ID]; ok {
		c := *o
		return &c, nil
	}
	now := time.Now().UTC()
	o := &models.Order{
		ID: in.ID, Status: models.OrderStatusPending, CustomerID: in.CustomerID,
		StoreLocation: in.StoreLocation, DeliveryLocation: in.DeliveryLocation,
		CreatedAt: now, UpdatedAt: now,
	}
	r.orders[in.ID] = o
	c := *o
	return &c, nil
}

func (r *memRepo) GetOrder(_ context.Context, id string) (*models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return nil, models.ErrOrderNotFound
	}
	c := *o
	return &c, nil
}

func (r *memRepo) ListOrdersByAgent(_ context.Context, agentID string) ([]*models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []*models.Order{}
	for _, o := range r.orders {
		if o.AgentID != nil && *o.AgentID == agentID {
			c := *o
			out = append(out, &c)
		}
	}
	return out, nil
}

func (r *memRepo) SetOrderStatus(_ context.Context, id, status string) (*models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return nil, models.ErrOrderNotFound
	}
	o.Status = status
	if !models.IsAgentTrackable(status) {
		delete(r.locs, id)
	}
	c := *o
	return &c, nil
}

func (r *memRepo) AssignAgent(_ context.Context, id, agentID, agentName string) (*models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return nil, models.ErrOrderNotFound
	}
	o.AgentID = &agentID
	o.AgentName = &agentName
	c := *o
	return &c, nil
}

func (r *memRepo) UpsertAgentLocation(_ context.Context, loc models.AgentLocation) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.locs[loc.OrderID]; ok && cur.CapturedAt != nil && loc.CapturedAt != nil && loc.CapturedAt.Before(*cur.CapturedAt) {
		return false, nil
	}
	c := loc
	r.locs[loc.OrderID] = &c
	return true, nil
}

func (r *memRepo) GetAgentLocation(_ context.Context, orderID string) (*models.AgentLocation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locs[orderID]
	if !ok {
		return nil, nil
	}
	c := *l
	return &c, nil
}

func (r *memRepo) PruneAgentLocations(_ context.Context, cutoff time.Time) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []string
	for id, l := range r.locs {
		if l.UpdatedAt.Before(cutoff) {
			delete(r.locs, id)
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func TestService_OrderLifecycle(t *testing.T) {
	ctx := context.Background()
	svc := New(newMemRepo(), memcache.New(time.Minute), time.Minute)

	_, err := svc.CreateOrder(ctx, models.OrderCreateInput{
		ID:               "ORD-100",
		CustomerID:       "cust-1",
		StoreLocation:    &models.Place{Latitude: 9.15, Longitude: 77.85},
		DeliveryLocation: &models.Place{Latitude: 9.20, Longitude: 77.90},
	})
	require.NoError(t, err)

	snap, err := svc.GetTrackingSnapshot(ctx, "ORD-100")
	require.NoError(t, err)
	require.False(t, snap.TrackingEnabled)
	require.Equal(t, models.OrderStatusPending, snap.Status)

	_, err = svc.AssignAgent(ctx, "ORD-100", "agent-1", "Ravi")
	require.NoError(t, err)

	err = svc.RecordAgentLocation(ctx, "agent-1", models.AgentCoordinateUpdate{OrderID: "ORD-100", Latitude: 9.17, Longitude: 77.87})
	require.ErrorIs(t, err, models.ErrOrderNotTrackable)

	_, err = svc.UpdateOrderStatus(ctx, "agent-1", "ORD-100", models.OrderStatusProcessing)
	require.NoError(t, err)

	// Assigned but nothing published yet.
	snap, err = svc.GetTrackingSnapshot(ctx, "ORD-100")
	require.NoError(t, err)
	require.False(t, snap.TrackingEnabled)
	require.Nil(t, snap.AgentLocation)
	require.Equal(t, "Ravi", snap.AssignedAgent.Name)

	require.NoError(t, svc.RecordAgentLocation(ctx, "agent-1", models.AgentCoordinateUpdate{OrderID: "ORD-100", Latitude: 9.17, Longitude: 77.87}))

	snap, err = svc.GetTrackingSnapshot(ctx, "ORD-100")
	require.NoError(t, err)
	require.True(t, snap.TrackingEnabled)
	require.Equal(t, 9.17, snap.AgentLocation.Latitude)
	require.Equal(t, 77.87, snap.AgentLocation.Longitude)

	_, err = svc.UpdateOrderStatus(ctx, "agent-1", "ORD-100", models.OrderStatusShipped)
	require.NoError(t, err)
	require.NoError(t, svc.RecordAgentLocation(ctx, "agent-1", models.AgentCoordinateUpdate{OrderID: "ORD-100", Latitude: 9.18, Longitude: 77.88}))

	snap, err = svc.GetTrackingSnapshot(ctx, "ORD-100")
	require.NoError(t, err)
	require.Equal(t, models.OrderStatusShipped, snap.Status)
	require.Equal(t, 9.18, snap.AgentLocation.Latitude)

	_, err = svc.UpdateOrderStatus(ctx, "agent-1", "ORD-100", models.OrderStatusDelivered)
	require.NoError(t, err)

	snap, err = svc.GetTrackingSnapshot(ctx, "ORD-100")
	require.NoError(t, err)
	require.False(t, snap.TrackingEnabled)
	require.Nil(t, snap.AgentLocation)

	orders, err := svc.ListAgentOrders(ctx, "agent-1")
	require.NoError(t, err)
	require.Len(t, orders, 1)
	require.Equal(t, models.OrderStatusDelivered, orders[0].Status)
}

func TestService_LastWriteWinsByCaptureTime(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo()
	svc := New(repo, nil, 0)

	_, err := svc.CreateOrder(ctx, models.OrderCreateInput{ID: "ORD-1"})
	require.NoError(t, err)
	_, err = svc.AssignAgent(ctx, "ORD-1", "agent-1", "")
	require.NoError(t, err)
	_, err = svc.UpdateOrderStatus(ctx, "agent-1", "ORD-1", models.OrderStatusProcessing)
	require.NoError(t, err)

	later := time.Now().UTC()
	earlier := later.Add(-10 * time.Second)
	require.NoError(t, svc.RecordAgentLocation(ctx, "agent-1", models.AgentCoordinateUpdate{OrderID: "ORD-1", Latitude: 2, Longitude: 2, CapturedAt: &later}))
	require.NoError(t, svc.RecordAgentLocation(ctx, "agent-1", models.AgentCoordinateUpdate{OrderID: "ORD-1", Latitude: 1, Longitude: 1, CapturedAt: &earlier}))

	snap, err := svc.GetTrackingSnapshot(ctx, "ORD-1")
	require.NoError(t, err)
	require.Equal(t, 2.0, snap.AgentLocation.Latitude)
	require.Nil(t, snap.AssignedAgent)
}
