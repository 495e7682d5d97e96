// Package geo builds the map model shared by the agent dashboard and the
// customer tracking view: center, markers and the store→agent→destination line.
// Everything here is pure.
package geo

import (
	"fmt"
	"math"

	"github.com/freshbasket/livetrack/internal/models"
)

// DefaultCenter is used when none of the three points is known.
var DefaultCenter = models.Coordinate{Latitude: 9.9252, Longitude: 78.1198}

const DefaultZoom = 13

const earthRadiusKm = 6371.0

type MarkerKind string

const (
	MarkerStore       MarkerKind = "store"
	MarkerAgent       MarkerKind = "agent"
	MarkerDestination MarkerKind = "destination"
)

type Marker struct {
	Kind     MarkerKind        `json:"kind"`
	Label    string            `json:"label"`
	Position models.Coordinate `json:"position"`
}

type MapView struct {
	Center  models.Coordinate   `json:"center"`
	Zoom    int                 `json:"zoom"`
	Markers []Marker            `json:"markers"`
	Route   []models.Coordinate `json:"route"`
	// RemainingKm is the straight-line distance agent→destination, when both are known.
	RemainingKm *float64 `json:"remainingKm,omitempty"`
}

// Center prefers the agent, then the store, then DefaultCenter.
func Center(store, agent, dest *models.Coordinate) models.Coordinate {
	return CenterOr(store, agent, dest, DefaultCenter)
}

func CenterOr(store, agent, _ *models.Coordinate, fallback models.Coordinate) models.Coordinate {
	if agent != nil {
		return *agent
	}
	if store != nil {
		return *store
	}
	return fallback
}

// Route returns the non-nil points in store, agent, destination order.
func Route(store, agent, dest *models.Coordinate) []models.Coordinate {
	out := make([]models.Coordinate, 0, 3)
	for _, p := range []*models.Coordinate{store, agent, dest} {
		if p != nil {
			out = append(out, *p)
		}
	}
	return out
}

type Labels struct {
	Store       string
	Agent       string
	Destination string
}

func DefaultLabels() Labels {
	return Labels{Store: "Store", Agent: "Delivery agent", Destination: "Delivery address"}
}

// BuildMap assembles everything a map widget needs.
func BuildMap(store, agent, dest *models.Coordinate, labels Labels, fallback models.Coordinate) MapView {
	mv := MapView{
		Center: CenterOr(store, agent, dest, fallback),
		Zoom:   DefaultZoom,
		Route:  Route(store, agent, dest),
	}
	if store != nil {
		mv.Markers = append(mv.Markers, Marker{Kind: MarkerStore, Label: labels.Store, Position: *store})
	}
	if agent != nil {
		mv.Markers = append(mv.Markers, Marker{Kind: MarkerAgent, Label: labels.Agent, Position: *agent})
	}
	if dest != nil {
		mv.Markers = append(mv.Markers, Marker{Kind: MarkerDestination, Label: labels.Destination, Position: *dest})
	}
	if km, ok := RemainingKm(agent, dest); ok {
		mv.RemainingKm = &km
	}
	return mv
}

// DistanceKm is the haversine distance between two coordinates.
func DistanceKm(a, b models.Coordinate) float64 {
	lat1 := toRad(a.Latitude)
	lat2 := toRad(b.Latitude)
	dLat := lat2 - lat1
	dLon := toRad(b.Longitude - a.Longitude)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Asin(math.Min(1, math.Sqrt(h)))
}

func RemainingKm(agent, dest *models.Coordinate) (float64, bool) {
	if agent == nil || dest == nil {
		return 0, false
	}
	return DistanceKm(*agent, *dest), true
}

func toRad(deg float64) float64 { return deg * math.Pi / 180 }

type CoordinateError struct {
	Field   string
	Value   float64
	Message string
}

func (e *CoordinateError) Error() string {
	return fmt.Sprintf("%s: %s (value: %.6f)", e.Field, e.Message, e.Value)
}

// ValidateCoordinate rejects non-finite and out-of-range decimal degrees.
func ValidateCoordinate(lat, lon float64) error {
	if err := validateAxis("latitude", lat, 90); err != nil {
		return err
	}
	return validateAxis("longitude", lon, 180)
}

func validateAxis(field string, v, limit float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return &CoordinateError{Field: field, Value: v, Message: "must be a finite number"}
	}
	if v < -limit || v > limit {
		return &CoordinateError{Field: field, Value: v, Message: fmt.Sprintf("must be between %.0f and %.0f", -limit, limit)}
	}
	return nil
}
