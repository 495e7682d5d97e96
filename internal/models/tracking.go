package models

import "time"

// Order statuses as the storefront stores them.
const (
	OrderStatusPending    = "Pending"
	OrderStatusProcessing = "Processing"
	OrderStatusShipped    = "Shipped"
	OrderStatusDelivered  = "Delivered"
	OrderStatusCancelled  = "Cancelled"
)

// IsAgentTrackable reports whether an agent may publish its location for an order in this status.
func IsAgentTrackable(status string) bool {
	return status == OrderStatusProcessing || status == OrderStatusShipped
}

// IsInMotion reports whether a customer view should auto-refresh for this status.
func IsInMotion(status string) bool {
	return status == OrderStatusProcessing || status == OrderStatusShipped
}

// IsKnownStatus reports whether status is one of the order statuses above.
func IsKnownStatus(status string) bool {
	switch status {
	case OrderStatusPending, OrderStatusProcessing, OrderStatusShipped, OrderStatusDelivered, OrderStatusCancelled:
		return true
	}
	return false
}

var statusTransitions = map[string][]string{
	OrderStatusPending:    {OrderStatusProcessing, OrderStatusCancelled},
	OrderStatusProcessing: {OrderStatusShipped, OrderStatusCancelled},
	OrderStatusShipped:    {OrderStatusDelivered, OrderStatusCancelled},
}

// CanTransition reports whether an order may move from one status to another.
// Setting the current status again is allowed.
func CanTransition(from, to string) bool {
	if from == to {
		return IsKnownStatus(to)
	}
	for _, s := range statusTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

type Coordinate struct {
	Latitude  float64 `json:"latitude" yaml:"latitude"`
	Longitude float64 `json:"longitude" yaml:"longitude"`
}

type Place struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Address   *string `json:"address,omitempty"`
}

func (p *Place) Coordinate() *Coordinate {
	if p == nil {
		return nil
	}
	return &Coordinate{Latitude: p.Latitude, Longitude: p.Longitude}
}

type Order struct {
	ID               string    `json:"id"`
	Status           string    `json:"status"`
	CustomerID       string    `json:"customerId"`
	AgentID          *string   `json:"agentId,omitempty"`
	AgentName        *string   `json:"agentName,omitempty"`
	StoreLocation    *Place    `json:"storeLocation,omitempty"`
	DeliveryLocation *Place    `json:"deliveryLocation,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

type OrderCreateInput struct {
	ID               string `json:"id"`
	CustomerID       string `json:"customerId"`
	StoreLocation    *Place `json:"storeLocation,omitempty"`
	DeliveryLocation *Place `json:"deliveryLocation,omitempty"`
}

// AgentLocation is the single current coordinate stored per order.
type AgentLocation struct {
	OrderID        string
	AgentID        string
	Latitude       float64
	Longitude      float64
	AccuracyMeters *float64
	CapturedAt     *time.Time
	UpdatedAt      time.Time
}

// AgentCoordinateUpdate is what the agent device sends to the backend.
type AgentCoordinateUpdate struct {
	OrderID        string     `json:"orderId"`
	Latitude       float64    `json:"latitude"`
	Longitude      float64    `json:"longitude"`
	AccuracyMeters *float64   `json:"accuracyMeters,omitempty"`
	CapturedAt     *time.Time `json:"capturedAt,omitempty"`
}

type AssignedAgent struct {
	Name string `json:"name"`
}

// TrackingSnapshot is what the customer view polls. AgentLocation is set iff TrackingEnabled.
type TrackingSnapshot struct {
	OrderID          string         `json:"orderId"`
	Status           string         `json:"status"`
	TrackingEnabled  bool           `json:"trackingEnabled"`
	StoreLocation    *Place         `json:"storeLocation,omitempty"`
	AgentLocation    *Place         `json:"agentLocation,omitempty"`
	DeliveryLocation *Place         `json:"deliveryLocation,omitempty"`
	AssignedAgent    *AssignedAgent `json:"assignedAgent,omitempty"`
	AgentUpdatedAt   *time.Time     `json:"agentUpdatedAt,omitempty"`
}
