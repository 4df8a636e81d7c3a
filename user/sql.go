package user

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

var (
	ErrNotFound  = errors.New("user not found")
	ErrCardInUse = errors.New("rfid card already bound")
	ErrCardBound = errors.New("user already has a card bound")
)

type Repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Create(ctx context.Context, username, phone string, balance decimal.Decimal) (User, error) {
	var u User
	err := r.db.GetContext(ctx, &u, createUser, username, phone, balance)
	return u, err
}

const createUser = `INSERT INTO users (username, phone, balance) VALUES ($1, $2, $3) RETURNING *`

// CreateWithCard creates a user with an RFID card bound at registration time.
// The unique index on rfid_card backs the one-user-per-card invariant; a
// duplicate insert surfaces as ErrCardInUse.
func (r *Repository) CreateWithCard(ctx context.Context, rfidCard, username, phone string, balance decimal.Decimal) (User, error) {
	var u User
	err := r.db.GetContext(ctx, &u, createUserWithCard, rfidCard, username, phone, balance)
	if isUniqueViolation(err) {
		return u, ErrCardInUse
	}
	return u, err
}

const createUserWithCard = `INSERT INTO users (rfid_card, username, phone, balance) VALUES ($1, $2, $3, $4) RETURNING *`

func (r *Repository) GetByID(ctx context.Context, id int64) (User, error) {
	var u User
	err := r.db.GetContext(ctx, &u, getUserByID, id)
	if errors.Is(err, sql.ErrNoRows) {
		return u, ErrNotFound
	}
	return u, err
}

const getUserByID = `SELECT * FROM users WHERE id = $1`

func (r *Repository) GetByRFID(ctx context.Context, rfidCard string) (User, error) {
	var u User
	err := r.db.GetContext(ctx, &u, getUserByRFID, rfidCard)
	if errors.Is(err, sql.ErrNoRows) {
		return u, ErrNotFound
	}
	return u, err
}

const getUserByRFID = `SELECT * FROM users WHERE rfid_card = $1`

func (r *Repository) List(ctx context.Context, offset, limit int) ([]User, error) {
	var users []User
	err := r.db.SelectContext(ctx, &users, listUsers, offset, limit)
	return users, err
}

const listUsers = `SELECT * FROM users ORDER BY id OFFSET $1 LIMIT $2`

func (r *Repository) Count(ctx context.Context) (int, error) {
	var n int
	err := r.db.GetContext(ctx, &n, countUsers)
	return n, err
}

const countUsers = `SELECT count(*) FROM users`

// Topup credits the balance atomically and returns the updated row.
func (r *Repository) Topup(ctx context.Context, id int64, amount decimal.Decimal) (User, error) {
	var u User
	err := r.db.GetContext(ctx, &u, topupUser, id, amount)
	if errors.Is(err, sql.ErrNoRows) {
		return u, ErrNotFound
	}
	return u, err
}

const topupUser = `UPDATE users SET balance = balance + $2, updated_at = now() WHERE id = $1 RETURNING *`

// UpdateProfile sets username/phone/status, leaving empty fields untouched.
func (r *Repository) UpdateProfile(ctx context.Context, id int64, username, phone *string, status *Status) (User, error) {
	var u User
	err := r.db.GetContext(ctx, &u, updateProfile, id, username, phone, status)
	if errors.Is(err, sql.ErrNoRows) {
		return u, ErrNotFound
	}
	return u, err
}

const updateProfile = `
UPDATE users SET
    username = COALESCE($2, username),
    phone = COALESCE($3, phone),
    status = COALESCE($4, status),
    updated_at = now()
WHERE id = $1
RETURNING *`

// BindCard attaches a card to a user that has none.
func (r *Repository) BindCard(ctx context.Context, id int64, rfidCard string) (User, error) {
	var u User
	if err := r.db.GetContext(ctx, &u, getUserByID, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return u, ErrNotFound
		}
		return u, err
	}
	if u.RFIDCard != nil {
		return u, ErrCardBound
	}

	err := r.db.GetContext(ctx, &u, bindCard, id, rfidCard)
	if isUniqueViolation(err) {
		return u, ErrCardInUse
	}
	return u, err
}

const bindCard = `UPDATE users SET rfid_card = $2, updated_at = now() WHERE id = $1 RETURNING *`

// GetByRFIDTx reads a user by card inside tx.
func (r *Repository) GetByRFIDTx(ctx context.Context, tx *sqlx.Tx, rfidCard string) (User, error) {
	var u User
	err := tx.GetContext(ctx, &u, getUserByRFID, rfidCard)
	if errors.Is(err, sql.ErrNoRows) {
		return u, ErrNotFound
	}
	return u, err
}

// GetForUpdateTx reads a user row holding its row lock, so a concurrent
// top-up cannot interleave with the balance debit.
func (r *Repository) GetForUpdateTx(ctx context.Context, tx *sqlx.Tx, id int64) (User, error) {
	var u User
	err := tx.GetContext(ctx, &u, getUserForUpdate, id)
	if errors.Is(err, sql.ErrNoRows) {
		return u, ErrNotFound
	}
	return u, err
}

const getUserForUpdate = `SELECT * FROM users WHERE id = $1 FOR UPDATE`

// DebitTx subtracts amount from the balance inside tx and returns the new
// balance. The caller has already verified the balance covers the amount
// while holding the row lock.
func (r *Repository) DebitTx(ctx context.Context, tx *sqlx.Tx, id int64, amount decimal.Decimal) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := tx.GetContext(ctx, &balance, debitUser, id, amount)
	return balance, err
}

const debitUser = `UPDATE users SET balance = balance - $2, updated_at = now() WHERE id = $1 RETURNING balance`

// isUniqueViolation matches Postgres error code 23505 without depending on
// driver internals beyond the SQLSTATE surface.
func isUniqueViolation(err error) bool {
	type sqlState interface{ SQLState() string }
	var st sqlState
	return errors.As(err, &st) && st.SQLState() == "23505"
}
