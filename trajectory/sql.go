package trajectory

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

func (r *Repository) Append(ctx context.Context, bikeID int64, orderID *int64, lat, lng float64, mode string) error {
	_, err := r.db.ExecContext(ctx, appendSample, bikeID, orderID, lat, lng, mode)
	return err
}

const appendSample = `
INSERT INTO bike_trajectories (bike_id, order_id, latitude, longitude, mode)
VALUES ($1, $2, $3, $4, $5)`

func (r *Repository) ListByBike(ctx context.Context, bikeID int64, orderID *int64, limit int) ([]Sample, error) {
	var samples []Sample
	var err error
	if orderID != nil {
		err = r.db.SelectContext(ctx, &samples, listByBikeAndOrder, bikeID, *orderID, limit)
	} else {
		err = r.db.SelectContext(ctx, &samples, listByBike, bikeID, limit)
	}
	return samples, err
}

const listByBike = `
SELECT * FROM bike_trajectories WHERE bike_id = $1 ORDER BY recorded_at DESC LIMIT $2`

const listByBikeAndOrder = `
SELECT * FROM bike_trajectories WHERE bike_id = $1 AND order_id = $2 ORDER BY recorded_at DESC LIMIT $3`
