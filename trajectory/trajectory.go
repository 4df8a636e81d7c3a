// Package trajectory stores the GPS breadcrumb trail reported by bikes.
// Samples are append-only.
package trajectory

import (
	"database/sql"
	"time"
)

const (
	ModeReal      = "real"
	ModeSimulated = "simulated"
)

type Sample struct {
	ID      int64
	BikeID  int64         `db:"bike_id"`
	OrderID sql.NullInt64 `db:"order_id"`

	Latitude  float64
	Longitude float64

	// Mode distinguishes real device fixes from simulated ones.
	Mode       string
	RecordedAt time.Time `db:"recorded_at"`
}
