package messages

import (
	"time"

	"github.com/freshbasket/livetrack/internal/models"
)

const TopicAgentLocationUpdated = "agent.location.updated"

// AgentLocationUpdated is published by the API for every accepted coordinate
// and applied to storage by the consumer. The Kafka key is the order id.
type AgentLocationUpdated struct {
	EventID        string     `json:"event_id"`
	OrderID        string     `json:"order_id"`
	AgentID        string     `json:"agent_id"`
	Latitude       float64    `json:"latitude"`
	Longitude      float64    `json:"longitude"`
	AccuracyMeters *float64   `json:"accuracy_m,omitempty"`
	CapturedAt     *time.Time `json:"captured_at,omitempty"`
	ReceivedAt     time.Time  `json:"received_at"`
}

func (m AgentLocationUpdated) Location() models.AgentLocation {
	return models.AgentLocation{
		OrderID:        m.OrderID,
		AgentID:        m.AgentID,
		Latitude:       m.Latitude,
		Longitude:      m.Longitude,
		AccuracyMeters: m.AccuracyMeters,
		CapturedAt:     m.CapturedAt,
		UpdatedAt:      m.ReceivedAt,
	}
}
