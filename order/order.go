package order

import (
	"database/sql"
	"time"

	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	// StatusCancelled is reserved; no operation produces it.
	StatusCancelled Status = "cancelled"
)

// Order is one rental session: opened by an unlock, closed by a lock.
// UserID and BikeID are nullable because the owning rows may be deleted
// while the order is retained.
type Order struct {
	ID     int64
	UserID sql.NullInt64 `db:"user_id"`
	BikeID sql.NullInt64 `db:"bike_id"`

	StartTime       time.Time     `db:"start_time"`
	EndTime         sql.NullTime  `db:"end_time"`
	DurationMinutes sql.NullInt32 `db:"duration_minutes"`

	StartLat *float64 `db:"start_lat"`
	StartLng *float64 `db:"start_lng"`
	EndLat   *float64 `db:"end_lat"`
	EndLng   *float64 `db:"end_lng"`

	Cost       decimal.NullDecimal `db:"cost"`
	DistanceKM decimal.NullDecimal `db:"distance_km"`

	Status    Status
	CreatedAt time.Time `db:"created_at"`
}
