package order

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

var (
	ErrNotFound = errors.New("order not found")
	ErrNoActive = errors.New("no active order")
)

type Repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) GetByID(ctx context.Context, id int64) (Order, error) {
	var o Order
	err := r.db.GetContext(ctx, &o, getOrderByID, id)
	if errors.Is(err, sql.ErrNoRows) {
		return o, ErrNotFound
	}
	return o, err
}

const getOrderByID = `SELECT * FROM orders WHERE id = $1`

func (r *Repository) List(ctx context.Context, userID *int64, offset, limit int) ([]Order, error) {
	var orders []Order
	var err error
	if userID != nil {
		err = r.db.SelectContext(ctx, &orders, listOrdersByUser, *userID, offset, limit)
	} else {
		err = r.db.SelectContext(ctx, &orders, listOrders, offset, limit)
	}
	return orders, err
}

const listOrders = `SELECT * FROM orders ORDER BY created_at DESC OFFSET $1 LIMIT $2`
const listOrdersByUser = `SELECT * FROM orders WHERE user_id = $1 ORDER BY created_at DESC OFFSET $2 LIMIT $3`

// GetActiveByBike returns the single active order for a bike, used when a
// GPS sample needs the session it belongs to.
func (r *Repository) GetActiveByBike(ctx context.Context, bikeID int64) (Order, error) {
	var o Order
	err := r.db.GetContext(ctx, &o, getActiveByBike, bikeID)
	if errors.Is(err, sql.ErrNoRows) {
		return o, ErrNoActive
	}
	return o, err
}

const getActiveByBike = `SELECT * FROM orders WHERE bike_id = $1 AND status = 'active'`

// CreateTx opens an order inside the unlock transaction. Start coordinates
// are nil for the card-at-the-lock flow, which carries none.
func (r *Repository) CreateTx(ctx context.Context, tx *sqlx.Tx, userID, bikeID int64, start time.Time, lat, lng *float64) (Order, error) {
	var o Order
	err := tx.GetContext(ctx, &o, createOrder, userID, bikeID, start, lat, lng)
	return o, err
}

const createOrder = `
INSERT INTO orders (user_id, bike_id, start_time, start_lat, start_lng, status)
VALUES ($1, $2, $3, $4, $5, 'active')
RETURNING *`

// GetForUpdateTx reads an order holding its row lock for the span of tx.
func (r *Repository) GetForUpdateTx(ctx context.Context, tx *sqlx.Tx, id int64) (Order, error) {
	var o Order
	err := tx.GetContext(ctx, &o, getOrderForUpdate, id)
	if errors.Is(err, sql.ErrNoRows) {
		return o, ErrNotFound
	}
	return o, err
}

const getOrderForUpdate = `SELECT * FROM orders WHERE id = $1 FOR UPDATE`

// GetActiveForUserAndBikeTx locates the active order for a (user, bike) pair
// inside tx, for the card-driven lock flow where no order id is presented.
func (r *Repository) GetActiveForUserAndBikeTx(ctx context.Context, tx *sqlx.Tx, userID, bikeID int64) (Order, error) {
	var o Order
	err := tx.GetContext(ctx, &o, getActiveForUserAndBike, userID, bikeID)
	if errors.Is(err, sql.ErrNoRows) {
		return o, ErrNoActive
	}
	return o, err
}

const getActiveForUserAndBike = `
SELECT * FROM orders WHERE user_id = $1 AND bike_id = $2 AND status = 'active' FOR UPDATE`

// CompleteTx closes an order inside the lock transaction. The status guard
// makes the active -> completed transition one-way even if two lock attempts
// race past the earlier checks.
func (r *Repository) CompleteTx(ctx context.Context, tx *sqlx.Tx, id int64, end time.Time, minutes int, endLat, endLng *float64, cost decimal.Decimal) (Order, error) {
	var o Order
	err := tx.GetContext(ctx, &o, completeOrder, id, end, minutes, endLat, endLng, cost)
	if errors.Is(err, sql.ErrNoRows) {
		return o, ErrNotFound
	}
	return o, err
}

const completeOrder = `
UPDATE orders SET
    end_time = $2,
    duration_minutes = $3,
    end_lat = $4,
    end_lng = $5,
    cost = $6,
    status = 'completed'
WHERE id = $1 AND status = 'active'
RETURNING *`

// CountCreatedOn counts orders created on a calendar day, for dashboard stats.
func (r *Repository) CountCreatedOn(ctx context.Context, day time.Time) (int, error) {
	var n int
	err := r.db.GetContext(ctx, &n, countCreatedOn, day.Format("2006-01-02"))
	return n, err
}

const countCreatedOn = `SELECT count(*) FROM orders WHERE created_at::date = $1::date`

// RevenueOn sums completed-order cost for a calendar day.
func (r *Repository) RevenueOn(ctx context.Context, day time.Time) (decimal.Decimal, error) {
	var revenue decimal.Decimal
	err := r.db.GetContext(ctx, &revenue, revenueOn, day.Format("2006-01-02"))
	return revenue, err
}

const revenueOn = `
SELECT COALESCE(sum(cost), 0) FROM orders
WHERE created_at::date = $1::date AND status = 'completed'`
