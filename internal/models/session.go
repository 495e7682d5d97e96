package models

import "time"

// Fix is one position reading from a geolocation source.
type Fix struct {
	Latitude       float64   `json:"latitude"`
	Longitude      float64   `json:"longitude"`
	AccuracyMeters float64   `json:"accuracyMeters"`
	CapturedAt     time.Time `json:"capturedAt"`
}

func (f Fix) Coordinate() Coordinate {
	return Coordinate{Latitude: f.Latitude, Longitude: f.Longitude}
}

// SharingState is the durable part of a tracking session. It is written as one
// record so that the active flag and the order id never disagree.
type SharingState struct {
	SharingActive   bool      `json:"sharingActive" yaml:"sharing_active"`
	TrackingOrderID string    `json:"trackingOrderId" yaml:"tracking_order_id"`
	SessionID       string    `json:"sessionId,omitempty" yaml:"session_id,omitempty"`
	StartedAt       time.Time `json:"startedAt,omitempty" yaml:"started_at,omitempty"`
}

type SessionError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// TrackingSession is the in-memory view of the agent's sharing session.
type TrackingSession struct {
	SessionID           string        `json:"sessionId,omitempty"`
	OrderID             string        `json:"orderId,omitempty"`
	State               string        `json:"state"`
	IsActive            bool          `json:"isActive"`
	LastKnownCoordinate *Fix          `json:"lastKnownCoordinate,omitempty"`
	LastError           *SessionError `json:"lastError,omitempty"`
	StartedAt           *time.Time    `json:"startedAt,omitempty"`
}
