package audit

import (
	"context"

	"github.com/jmoiron/sqlx"
)

type Repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Append(ctx context.Context, bikeID *int64, logType LogType, message string) error {
	_, err := r.db.ExecContext(ctx, appendEntry, bikeID, logType, message)
	return err
}

const appendEntry = `INSERT INTO system_logs (bike_id, log_type, message) VALUES ($1, $2, $3)`

func (r *Repository) ListByBike(ctx context.Context, bikeID int64, limit int) ([]Entry, error) {
	var entries []Entry
	err := r.db.SelectContext(ctx, &entries, listByBike, bikeID, limit)
	return entries, err
}

const listByBike = `SELECT * FROM system_logs WHERE bike_id = $1 ORDER BY created_at DESC LIMIT $2`
