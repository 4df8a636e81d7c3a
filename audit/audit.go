// Package audit is the append-only system log. The core only ever writes.
package audit

import (
	"database/sql"
	"time"
)

type LogType string

const (
	TypeAuth      LogType = "auth"
	TypeGPS       LogType = "gps"
	TypeHeartbeat LogType = "heartbeat"
	TypeError     LogType = "error"
)

type Entry struct {
	ID        int64
	BikeID    sql.NullInt64 `db:"bike_id"`
	LogType   LogType       `db:"log_type"`
	Message   string
	CreatedAt time.Time `db:"created_at"`
}
