// Package bike
package bike

import (
	"time"
)

type Status string

const (
	StatusIdle   Status = "idle"
	StatusRiding Status = "riding"
	StatusFault  Status = "fault"
)

// Valid reports whether s is one of the three statuses a bike can hold.
// Hardware-reported statuses outside this set are ignored by the ingestor.
func (s Status) Valid() bool {
	return s == StatusIdle || s == StatusRiding || s == StatusFault
}

// Bike represents a bicycle in the fleet.
type Bike struct {
	// ID is the internal identifier; telemetry topics carry it as the
	// second path segment (bike/<id>/heartbeat).
	ID int64
	// Code is the human-readable label printed on the frame (e.g. "001").
	Code string `db:"bike_code"`

	Status Status

	CurrentLat *float64 `db:"current_lat"`
	CurrentLng *float64 `db:"current_lng"`

	// Battery is a percentage in [0,100], reported by heartbeats.
	Battery int

	LastHeartbeat *time.Time `db:"last_heartbeat"`
	CreatedAt     time.Time  `db:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at"`
}
