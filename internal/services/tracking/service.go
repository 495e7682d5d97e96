package tracking

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/freshbasket/livetrack/internal/broker/messages"
	"github.com/freshbasket/livetrack/internal/cache"
	"github.com/freshbasket/livetrack/internal/geo"
	"github.com/freshbasket/livetrack/internal/models"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// ErrInvalidArgument marks request validation failures.
var ErrInvalidArgument = errors.New("invalid argument")

func invalid(format string, args ...any) error {
	return errors.Wrap(ErrInvalidArgument, fmt.Sprintf(format, args...))
}

type Repository interface {
	CreateOrder(ctx context.Context, in models.OrderCreateInput) (*models.Order, error)
	GetOrder(ctx context.Context, id string) (*models.Order, error)
	ListOrdersByAgent(ctx context.Context, agentID string) ([]*models.Order, error)
	SetOrderStatus(ctx context.Context, id, status string) (*models.Order, error)
	AssignAgent(ctx context.Context, id, agentID, agentName string) (*models.Order, error)
	UpsertAgentLocation(ctx context.Context, loc models.AgentLocation) (bool, error)
	GetAgentLocation(ctx context.Context, orderID string) (*models.AgentLocation, error)
	PruneAgentLocations(ctx context.Context, cutoff time.Time) ([]string, error)
}

type Producer interface {
	PublishJSON(ctx context.Context, topic, key string, v any) error
}

type Service struct {
	repo        Repository
	cache       cache.BytesCache
	snapshotTTL time.Duration

	producer Producer
	topic    string
}

func New(repo Repository, c cache.BytesCache, snapshotTTL time.Duration) *Service {
	return &Service{repo: repo, cache: c, snapshotTTL: snapshotTTL}
}

// WithProducer routes accepted coordinates through Kafka. Without a producer
// they are written to storage directly.
func (s *Service) WithProducer(p Producer, topic string) *Service {
	s.producer = p
	s.topic = topic
	if s.topic == "" {
		s.topic = messages.TopicAgentLocationUpdated
	}
	return s
}

func (s *Service) cacheEnabled() bool {
	return s.cache != nil && s.snapshotTTL > 0
}

// RecordAgentLocation accepts a coordinate from the agent assigned to the order.
func (s *Service) RecordAgentLocation(ctx context.Context, agentID string, upd models.AgentCoordinateUpdate) error {
	if agentID == "" {
		return invalid("agent id is required")
	}
	if upd.OrderID == "" {
		return invalid("orderId is required")
	}
	if err := geo.ValidateCoordinate(upd.Latitude, upd.Longitude); err != nil {
		return invalid("%s", err.Error())
	}
	if upd.AccuracyMeters != nil && *upd.AccuracyMeters < 0 {
		return invalid("accuracyMeters must not be negative")
	}

	order, err := s.repo.GetOrder(ctx, upd.OrderID)
	if err != nil {
		return err
	}
	if order.AgentID == nil || *order.AgentID != agentID {
		return models.ErrNotAssigned
	}
	if !models.IsAgentTrackable(order.Status) {
		return errors.Wrapf(models.ErrOrderNotTrackable, "order is %s", order.Status)
	}

	msg := messages.AgentLocationUpdated{
		EventID:        uuid.NewString(),
		OrderID:        upd.OrderID,
		AgentID:        agentID,
		Latitude:       upd.Latitude,
		Longitude:      upd.Longitude,
		AccuracyMeters: upd.AccuracyMeters,
		CapturedAt:     upd.CapturedAt,
		ReceivedAt:     time.Now().UTC(),
	}
	if s.producer != nil {
		return s.producer.PublishJSON(ctx, s.topic, msg.OrderID, msg)
	}
	return s.ApplyLocationUpdate(ctx, msg)
}

// ApplyLocationUpdate stores a coordinate and refreshes the cached snapshot.
// Updates for orders that have since left a trackable status are dropped.
func (s *Service) ApplyLocationUpdate(ctx context.Context, msg messages.AgentLocationUpdated) error {
	if msg.OrderID == "" {
		return invalid("order_id is required")
	}
	if msg.ReceivedAt.IsZero() {
		msg.ReceivedAt = time.Now().UTC()
	}

	order, err := s.repo.GetOrder(ctx, msg.OrderID)
	if errors.Is(err, models.ErrOrderNotFound) {
		slog.Warn("location for unknown order dropped", "order_id", msg.OrderID, "event_id", msg.EventID)
		return nil
	}
	if err != nil {
		return err
	}
	if !models.IsAgentTrackable(order.Status) {
		slog.Info("location for finished order dropped", "order_id", msg.OrderID, "status", order.Status)
		return nil
	}

	applied, err := s.repo.UpsertAgentLocation(ctx, msg.Location())
	if err != nil {
		return err
	}
	if !applied {
		return nil
	}

	if s.cacheEnabled() {
		loc := msg.Location()
		snap := buildSnapshot(order, &loc)
		s.putSnapshot(ctx, snap)
	}
	return nil
}

// GetTrackingSnapshot serves from cache and falls back to storage.
func (s *Service) GetTrackingSnapshot(ctx context.Context, orderID string) (*models.TrackingSnapshot, error) {
	if orderID == "" {
		return nil, invalid("orderId is required")
	}

	if s.cacheEnabled() {
		b, ok, err := s.cache.Get(ctx, snapshotKey(orderID))
		if err == nil && ok {
			var snap models.TrackingSnapshot
			if json.Unmarshal(b, &snap) == nil {
				return &snap, nil
			}
		}
	}

	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	var loc *models.AgentLocation
	if models.IsAgentTrackable(order.Status) {
		if loc, err = s.repo.GetAgentLocation(ctx, orderID); err != nil {
			return nil, err
		}
	}

	snap := buildSnapshot(order, loc)
	if s.cacheEnabled() {
		s.putSnapshot(ctx, snap)
	}
	return snap, nil
}

// buildSnapshot enables tracking only once an assigned agent has a stored coordinate.
func buildSnapshot(o *models.Order, loc *models.AgentLocation) *models.TrackingSnapshot {
	snap := &models.TrackingSnapshot{
		OrderID:          o.ID,
		Status:           o.Status,
		StoreLocation:    o.StoreLocation,
		DeliveryLocation: o.DeliveryLocation,
	}
	if o.AgentName != nil && *o.AgentName != "" {
		snap.AssignedAgent = &models.AssignedAgent{Name: *o.AgentName}
	}
	if o.AgentID != nil && loc != nil {
		snap.TrackingEnabled = true
		snap.AgentLocation = &models.Place{Latitude: loc.Latitude, Longitude: loc.Longitude}
		t := loc.UpdatedAt
		snap.AgentUpdatedAt = &t
	}
	return snap
}

func (s *Service) putSnapshot(ctx context.Context, snap *models.TrackingSnapshot) {
	b, _ := json.Marshal(snap)
	if err := s.cache.Set(ctx, snapshotKey(snap.OrderID), b, s.snapshotTTL); err != nil {
		slog.Warn("cache tracking snapshot", "order_id", snap.OrderID, "error", err.Error())
	}
}

func (s *Service) invalidate(ctx context.Context, orderID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, snapshotKey(orderID)); err != nil {
		slog.Warn("invalidate tracking snapshot", "order_id", orderID, "error", err.Error())
	}
}

func (s *Service) ListAgentOrders(ctx context.Context, agentID string) ([]*models.Order, error) {
	if agentID == "" {
		return nil, invalid("agent id is required")
	}
	return s.repo.ListOrdersByAgent(ctx, agentID)
}

func (s *Service) GetAgentOrder(ctx context.Context, agentID, orderID string) (*models.Order, error) {
	if agentID == "" {
		return nil, invalid("agent id is required")
	}
	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.AgentID == nil || *order.AgentID != agentID {
		return nil, models.ErrNotAssigned
	}
	return order, nil
}

// UpdateOrderStatus applies an agent's status change. Leaving a trackable
// status removes the stored coordinate.
func (s *Service) UpdateOrderStatus(ctx context.Context, agentID, orderID, status string) (*models.Order, error) {
	if !models.IsKnownStatus(status) {
		return nil, invalid("unknown status %q", status)
	}
	order, err := s.GetAgentOrder(ctx, agentID, orderID)
	if err != nil {
		return nil, err
	}
	if !models.CanTransition(order.Status, status) {
		return nil, invalid("cannot change status from %s to %s", order.Status, status)
	}

	updated, err := s.repo.SetOrderStatus(ctx, orderID, status)
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, orderID)
	slog.Info("order status changed", "order_id", orderID, "from", order.Status, "to", status, "agent_id", agentID)
	return updated, nil
}

func validatePlace(field string, p *models.Place) error {
	if p == nil {
		return nil
	}
	if err := geo.ValidateCoordinate(p.Latitude, p.Longitude); err != nil {
		return invalid("%s: %s", field, err.Error())
	}
	return nil
}

func (s *Service) CreateOrder(ctx context.Context, in models.OrderCreateInput) (*models.Order, error) {
	if err := validatePlace("storeLocation", in.StoreLocation); err != nil {
		return nil, err
	}
	if err := validatePlace("deliveryLocation", in.DeliveryLocation); err != nil {
		return nil, err
	}
	if in.ID == "" {
		in.ID = uuid.NewString()
	}
	return s.repo.CreateOrder(ctx, in)
}

func (s *Service) AssignAgent(ctx context.Context, orderID, agentID, agentName string) (*models.Order, error) {
	if orderID == "" {
		return nil, invalid("orderId is required")
	}
	if agentID == "" {
		return nil, invalid("agentId is required")
	}
	o, err := s.repo.AssignAgent(ctx, orderID, agentID, agentName)
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, orderID)
	return o, nil
}

// PruneStaleLocations deletes coordinates not refreshed within maxAge.
func (s *Service) PruneStaleLocations(ctx context.Context, maxAge time.Duration) (int, error) {
	if maxAge <= 0 {
		return 0, invalid("maxAge must be positive")
	}
	ids, err := s.repo.PruneAgentLocations(ctx, time.Now().UTC().Add(-maxAge))
	if err != nil {
		return 0, err
	}
	for _, id := range ids {
		s.invalidate(ctx, id)
	}
	return len(ids), nil
}

func snapshotKey(orderID string) string {
	return fmt.Sprintf("order:%s:track", orderID)
}
