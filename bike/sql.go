package bike

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
)

var ErrNotFound = errors.New("bike not found")

type Repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Create(ctx context.Context, code string) (Bike, error) {
	var b Bike
	err := r.db.GetContext(ctx, &b, createBike, code)
	return b, err
}

const createBike = `INSERT INTO bikes (bike_code) VALUES ($1) RETURNING *`

func (r *Repository) GetByID(ctx context.Context, id int64) (Bike, error) {
	var b Bike
	err := r.db.GetContext(ctx, &b, getBikeByID, id)
	if errors.Is(err, sql.ErrNoRows) {
		return b, ErrNotFound
	}
	return b, err
}

const getBikeByID = `SELECT * FROM bikes WHERE id = $1`

func (r *Repository) GetByCode(ctx context.Context, code string) (Bike, error) {
	var b Bike
	err := r.db.GetContext(ctx, &b, getBikeByCode, code)
	if errors.Is(err, sql.ErrNoRows) {
		return b, ErrNotFound
	}
	return b, err
}

const getBikeByCode = `SELECT * FROM bikes WHERE bike_code = $1`

// List returns a page of bikes, optionally filtered by status, with the
// unfiltered-by-paging total.
func (r *Repository) List(ctx context.Context, status *Status, offset, limit int) ([]Bike, int, error) {
	var (
		bikes []Bike
		total int
		err   error
	)
	if status != nil {
		if err = r.db.GetContext(ctx, &total, countBikesByStatus, *status); err != nil {
			return nil, 0, err
		}
		err = r.db.SelectContext(ctx, &bikes, listBikesByStatus, *status, offset, limit)
	} else {
		if err = r.db.GetContext(ctx, &total, countBikes); err != nil {
			return nil, 0, err
		}
		err = r.db.SelectContext(ctx, &bikes, listBikes, offset, limit)
	}
	return bikes, total, err
}

const countBikes = `SELECT count(*) FROM bikes`
const countBikesByStatus = `SELECT count(*) FROM bikes WHERE status = $1`
const listBikes = `SELECT * FROM bikes ORDER BY id OFFSET $1 LIMIT $2`
const listBikesByStatus = `SELECT * FROM bikes WHERE status = $1 ORDER BY id OFFSET $2 LIMIT $3`

// SetStatus overwrites the status unconditionally. Used by the admin surface
// and by heartbeat reconciliation, not by session transitions.
func (r *Repository) SetStatus(ctx context.Context, id int64, status Status) (Bike, error) {
	var b Bike
	err := r.db.GetContext(ctx, &b, setBikeStatus, id, status)
	if errors.Is(err, sql.ErrNoRows) {
		return b, ErrNotFound
	}
	return b, err
}

const setBikeStatus = `UPDATE bikes SET status = $2, updated_at = now() WHERE id = $1 RETURNING *`

// ApplyHeartbeat updates the telemetry-owned columns. When status is non-nil
// it overwrites bikes.status with whatever the hardware reported.
func (r *Repository) ApplyHeartbeat(ctx context.Context, id int64, lat, lng float64, battery int, status *Status) error {
	var err error
	if status != nil {
		_, err = r.db.ExecContext(ctx, applyHeartbeatWithStatus, id, lat, lng, battery, *status)
	} else {
		_, err = r.db.ExecContext(ctx, applyHeartbeat, id, lat, lng, battery)
	}
	return err
}

const applyHeartbeat = `
UPDATE bikes SET current_lat = $2, current_lng = $3, battery = $4, last_heartbeat = now(), updated_at = now()
WHERE id = $1`

const applyHeartbeatWithStatus = `
UPDATE bikes SET current_lat = $2, current_lng = $3, battery = $4, status = $5, last_heartbeat = now(), updated_at = now()
WHERE id = $1`

// ApplyPosition updates coordinates and the heartbeat timestamp only.
func (r *Repository) ApplyPosition(ctx context.Context, id int64, lat, lng float64) error {
	_, err := r.db.ExecContext(ctx, applyPosition, id, lat, lng)
	return err
}

const applyPosition = `
UPDATE bikes SET current_lat = $2, current_lng = $3, last_heartbeat = now(), updated_at = now()
WHERE id = $1`

// GetForUpdateTx reads a bike row holding its row lock for the span of tx.
func (r *Repository) GetForUpdateTx(ctx context.Context, tx *sqlx.Tx, id int64) (Bike, error) {
	var b Bike
	err := tx.GetContext(ctx, &b, getBikeForUpdate, id)
	if errors.Is(err, sql.ErrNoRows) {
		return b, ErrNotFound
	}
	return b, err
}

const getBikeForUpdate = `SELECT * FROM bikes WHERE id = $1 FOR UPDATE`

// TryTransitionTx flips the status from expected to next inside tx. It
// reports false when the row was not in the expected status, which is how
// every session transition guards against a concurrent transition that
// slipped in ahead of it.
func (r *Repository) TryTransitionTx(ctx context.Context, tx *sqlx.Tx, id int64, expected, next Status) (bool, error) {
	res, err := tx.ExecContext(ctx, transitionBike, id, expected, next)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

const transitionBike = `UPDATE bikes SET status = $3, updated_at = now() WHERE id = $1 AND status = $2`

// SetStatusTx overwrites the status inside tx regardless of the current
// value. Fallback for a lock whose bike left 'riding' under its feet via a
// hardware-reported status.
func (r *Repository) SetStatusTx(ctx context.Context, tx *sqlx.Tx, id int64, status Status) error {
	_, err := tx.ExecContext(ctx, setBikeStatusTx, id, status)
	return err
}

const setBikeStatusTx = `UPDATE bikes SET status = $2, updated_at = now() WHERE id = $1`

// SetPositionTx updates coordinates as part of a session transition.
func (r *Repository) SetPositionTx(ctx context.Context, tx *sqlx.Tx, id int64, lat, lng float64) error {
	_, err := tx.ExecContext(ctx, setBikePosition, id, lat, lng)
	return err
}

const setBikePosition = `UPDATE bikes SET current_lat = $2, current_lng = $3, updated_at = now() WHERE id = $1`

// StatusCounts returns the number of bikes per status for the dashboard.
func (r *Repository) StatusCounts(ctx context.Context) (map[Status]int, error) {
	rows := []struct {
		Status Status `db:"status"`
		N      int    `db:"n"`
	}{}
	if err := r.db.SelectContext(ctx, &rows, statusCounts); err != nil {
		return nil, err
	}
	counts := make(map[Status]int, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.N
	}
	return counts, nil
}

const statusCounts = `SELECT status, count(*) AS n FROM bikes GROUP BY status`
