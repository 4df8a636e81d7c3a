// Package session implements the rental session lifecycle: unlock, lock,
// card-driven authentication and the admin escape hatch. Every operation
// that moves a bike between idle and riding runs inside one store
// transaction holding the bike's row lock, with the status flip applied as a
// compare-and-swap, so two racing transitions on the same bike cannot both
// observe the precondition and both succeed.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/cyclehub/rental-backend/audit"
	"github.com/cyclehub/rental-backend/bike"
	"github.com/cyclehub/rental-backend/order"
	"github.com/cyclehub/rental-backend/user"
)

const (
	ActionUnlock = "unlock"
	ActionLock   = "lock"

	CommandForceUnlock = "force_unlock"
	CommandForceLock   = "force_lock"
)

// Dispatcher is the outbound control channel to the bikes. Delivery is
// best-effort; implementations log failures and never return them.
type Dispatcher interface {
	// Command publishes an instruction addressed by bike code or id.
	Command(bikeAddr, action string, orderID *int64)
	// Respond publishes an authentication response addressed by bike id.
	Respond(bikeID int64, success bool, message string, balance *decimal.Decimal, orderID *int64)
}

type Config struct {
	InitialBalance decimal.Decimal
	MinBalance     decimal.Decimal
	PricePerMinute decimal.Decimal
}

type Engine struct {
	db     *sqlx.DB
	users  *user.Repository
	bikes  *bike.Repository
	orders *order.Repository
	audits *audit.Repository
	disp   Dispatcher
	cfg    Config
	logger *slog.Logger

	now func() time.Time
}

func NewEngine(db *sqlx.DB, users *user.Repository, bikes *bike.Repository, orders *order.Repository,
	audits *audit.Repository, disp Dispatcher, cfg Config, logger *slog.Logger) *Engine {
	return &Engine{
		db:     db,
		users:  users,
		bikes:  bikes,
		orders: orders,
		audits: audits,
		disp:   disp,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

type UnlockResult struct {
	Order   order.Order
	UserID  int64
	Balance decimal.Decimal
}

type LockResult struct {
	Order           order.Order
	DurationMinutes int
	Cost            decimal.Decimal
	NewBalance      decimal.Decimal
}

// Unlock opens a session for the app flow: the bike is addressed by id and
// the rider's card must already be registered.
func (e *Engine) Unlock(ctx context.Context, rfidCard string, bikeID int64, lat, lng float64) (UnlockResult, error) {
	b, err := e.bikes.GetByID(ctx, bikeID)
	if err != nil {
		return UnlockResult{}, e.unlockFailed(err)
	}
	return e.unlock(ctx, rfidCard, b, &lat, &lng, false)
}

// UnlockByCode opens a session for the hardware flow: the bike is addressed
// by its printed code and an unknown card auto-registers a rider with the
// configured starting balance.
func (e *Engine) UnlockByCode(ctx context.Context, rfidCard, bikeCode string, lat, lng float64) (UnlockResult, error) {
	b, err := e.bikes.GetByCode(ctx, bikeCode)
	if err != nil {
		return UnlockResult{}, e.unlockFailed(err)
	}
	return e.unlock(ctx, rfidCard, b, &lat, &lng, true)
}

func (e *Engine) unlockFailed(err error) error {
	opsCounter.WithLabelValues("unlock", "failure").Inc()
	if errors.Is(err, bike.ErrNotFound) {
		return ErrBikeNotFound
	}
	return err
}

func (e *Engine) unlock(ctx context.Context, rfidCard string, b bike.Bike, lat, lng *float64, autoRegister bool) (UnlockResult, error) {
	u, err := e.resolveRider(ctx, rfidCard, autoRegister)
	if err != nil {
		return UnlockResult{}, e.unlockFailed(err)
	}
	if u.Status != user.StatusActive {
		return UnlockResult{}, e.unlockFailed(ErrAccountFrozen)
	}
	if u.Balance.LessThan(e.cfg.MinBalance) {
		return UnlockResult{}, e.unlockFailed(ErrInsufficientBalance)
	}

	o, err := e.openSession(ctx, u, b, lat, lng)
	if err != nil {
		return UnlockResult{}, e.unlockFailed(err)
	}

	e.disp.Command(bikeAddr(b), ActionUnlock, &o.ID)
	opsCounter.WithLabelValues("unlock", "success").Inc()
	e.logger.Info("session opened",
		"order_id", o.ID, "user_id", u.ID, "bike_code", b.Code)

	return UnlockResult{Order: o, UserID: u.ID, Balance: u.Balance}, nil
}

// resolveRider looks the rider up by card, auto-registering on the hardware
// flow. Registration sticks even when a later precondition fails: a fresh
// card swiped at an unavailable bike still creates the account.
func (e *Engine) resolveRider(ctx context.Context, rfidCard string, autoRegister bool) (user.User, error) {
	u, err := e.users.GetByRFID(ctx, rfidCard)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, user.ErrNotFound) {
		return user.User{}, err
	}
	if !autoRegister {
		return user.User{}, ErrUserNotFound
	}

	u, err = e.users.CreateWithCard(ctx, rfidCard, generatedUsername(rfidCard), "", e.cfg.InitialBalance)
	if err != nil {
		return user.User{}, err
	}
	e.logger.Info("auto-registered rider", "user_id", u.ID, "rfid_card", rfidCard)
	return u, nil
}

func generatedUsername(rfidCard string) string {
	suffix := rfidCard
	if len(suffix) > 4 {
		suffix = suffix[len(suffix)-4:]
	}
	return "user_" + suffix
}

// openSession is the unlock critical section: bike row lock, idle check,
// compare-and-swap to riding, order insert, all in one transaction.
func (e *Engine) openSession(ctx context.Context, u user.User, b bike.Bike, lat, lng *float64) (order.Order, error) {
	tx, err := e.db.BeginTxx(ctx, nil)
	if err != nil {
		return order.Order{}, err
	}
	defer tx.Rollback()

	locked, err := e.bikes.GetForUpdateTx(ctx, tx, b.ID)
	if err != nil {
		if errors.Is(err, bike.ErrNotFound) {
			return order.Order{}, ErrBikeNotFound
		}
		return order.Order{}, err
	}
	if locked.Status != bike.StatusIdle {
		return order.Order{}, &BikeUnavailableError{Status: locked.Status}
	}

	ok, err := e.bikes.TryTransitionTx(ctx, tx, b.ID, bike.StatusIdle, bike.StatusRiding)
	if err != nil {
		return order.Order{}, err
	}
	if !ok {
		// The row lock should make this unreachable; the CAS stays as the
		// transition guard shared with every other session operation.
		return order.Order{}, &BikeUnavailableError{Status: locked.Status}
	}

	if lat != nil && lng != nil {
		if err := e.bikes.SetPositionTx(ctx, tx, b.ID, *lat, *lng); err != nil {
			return order.Order{}, err
		}
	}

	o, err := e.orders.CreateTx(ctx, tx, u.ID, b.ID, e.now(), lat, lng)
	if err != nil {
		return order.Order{}, err
	}

	return o, tx.Commit()
}

// Lock closes a session by order id. On insufficient balance nothing is
// applied: the order stays active and the bike stays riding, because the
// server cannot physically relock the bike.
func (e *Engine) Lock(ctx context.Context, orderID int64, rfidCard string, endLat, endLng float64) (LockResult, error) {
	res, b, err := e.lock(ctx, orderID, rfidCard, endLat, endLng)
	if err != nil {
		opsCounter.WithLabelValues("lock", "failure").Inc()
		return LockResult{}, err
	}

	e.disp.Command(bikeAddr(b), ActionLock, nil)
	opsCounter.WithLabelValues("lock", "success").Inc()
	e.logger.Info("session closed",
		"order_id", res.Order.ID, "minutes", res.DurationMinutes, "cost", res.Cost)
	return res, nil
}

func (e *Engine) lock(ctx context.Context, orderID int64, rfidCard string, endLat, endLng float64) (LockResult, bike.Bike, error) {
	tx, err := e.db.BeginTxx(ctx, nil)
	if err != nil {
		return LockResult{}, bike.Bike{}, err
	}
	defer tx.Rollback()

	o, err := e.orders.GetForUpdateTx(ctx, tx, orderID)
	if err != nil {
		if errors.Is(err, order.ErrNotFound) {
			return LockResult{}, bike.Bike{}, ErrOrderNotFound
		}
		return LockResult{}, bike.Bike{}, err
	}

	u, err := e.users.GetByRFIDTx(ctx, tx, rfidCard)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return LockResult{}, bike.Bike{}, ErrUserMismatch
		}
		return LockResult{}, bike.Bike{}, err
	}
	if !o.UserID.Valid || o.UserID.Int64 != u.ID {
		return LockResult{}, bike.Bike{}, ErrUserMismatch
	}

	res, b, err := e.closeLocked(ctx, tx, o, u, &endLat, &endLng)
	if err != nil {
		return LockResult{}, bike.Bike{}, err
	}
	return res, b, tx.Commit()
}

// closeLocked settles an order already held FOR UPDATE: status check, fare,
// balance check under the user's row lock, order completion, bike back to
// idle, balance debit. Caller owns the transaction.
func (e *Engine) closeLocked(ctx context.Context, tx *sqlx.Tx, o order.Order, u user.User, endLat, endLng *float64) (LockResult, bike.Bike, error) {
	if o.Status != order.StatusActive {
		return LockResult{}, bike.Bike{}, &OrderNotActiveError{Status: o.Status}
	}

	end := e.now()
	minutes, cost := Fare(o.StartTime, end, e.cfg.PricePerMinute)

	locked, err := e.users.GetForUpdateTx(ctx, tx, u.ID)
	if err != nil {
		return LockResult{}, bike.Bike{}, err
	}
	if locked.Balance.LessThan(cost) {
		return LockResult{}, bike.Bike{}, ErrInsufficientBalance
	}

	completed, err := e.orders.CompleteTx(ctx, tx, o.ID, end, minutes, endLat, endLng, cost)
	if err != nil {
		return LockResult{}, bike.Bike{}, err
	}

	var b bike.Bike
	if o.BikeID.Valid {
		b, err = e.bikes.GetForUpdateTx(ctx, tx, o.BikeID.Int64)
		switch {
		case err == nil:
			ok, err := e.bikes.TryTransitionTx(ctx, tx, b.ID, bike.StatusRiding, bike.StatusIdle)
			if err != nil {
				return LockResult{}, bike.Bike{}, err
			}
			if !ok {
				// A hardware-reported status moved the bike off 'riding'
				// mid-session. The session still ends idle.
				e.logger.Warn("bike left riding state before lock",
					"bike_id", b.ID, "status", b.Status)
				if err := e.bikes.SetStatusTx(ctx, tx, b.ID, bike.StatusIdle); err != nil {
					return LockResult{}, bike.Bike{}, err
				}
			}
			if endLat != nil && endLng != nil {
				if err := e.bikes.SetPositionTx(ctx, tx, b.ID, *endLat, *endLng); err != nil {
					return LockResult{}, bike.Bike{}, err
				}
			}
		case errors.Is(err, bike.ErrNotFound):
			// Bike deleted mid-session; settle the order anyway.
			b = bike.Bike{}
		default:
			return LockResult{}, bike.Bike{}, err
		}
	}

	balance, err := e.users.DebitTx(ctx, tx, u.ID, cost)
	if err != nil {
		return LockResult{}, bike.Bike{}, err
	}

	return LockResult{
		Order:           completed,
		DurationMinutes: minutes,
		Cost:            cost,
		NewBalance:      balance,
	}, b, nil
}

// AuthOutcome is what the lock hardware hears back after a card swipe,
// regardless of which precondition failed.
type AuthOutcome struct {
	Success bool
	Message string
	UserID  *int64
	Balance *decimal.Decimal
	OrderID *int64
}

// Authenticate handles the card-at-the-lock flow: validate the rider, then
// open or close a session addressed purely by bike id, and always publish
// the outcome back to the originating bike.
func (e *Engine) Authenticate(ctx context.Context, rfidUID string, bikeID int64, action string) AuthOutcome {
	out := e.authenticate(ctx, rfidUID, bikeID, action)

	e.disp.Respond(bikeID, out.Success, out.Message, out.Balance, out.OrderID)

	outcome := "failure"
	if out.Success {
		outcome = "success"
	}
	opsCounter.WithLabelValues("authenticate", outcome).Inc()
	return out
}

func (e *Engine) authenticate(ctx context.Context, rfidUID string, bikeID int64, action string) AuthOutcome {
	b, err := e.bikes.GetByID(ctx, bikeID)
	if err != nil {
		return AuthOutcome{Message: "bike not registered"}
	}

	u, err := e.users.GetByRFID(ctx, rfidUID)
	if err != nil {
		return AuthOutcome{Message: "card not registered"}
	}
	if u.Status != user.StatusActive {
		return AuthOutcome{Message: "account frozen"}
	}

	switch action {
	case ActionUnlock:
		if u.Balance.LessThan(e.cfg.MinBalance) {
			return AuthOutcome{Message: insufficientBalanceMessage(e.cfg.MinBalance)}
		}
		o, err := e.openSession(ctx, u, b, nil, nil)
		if err != nil {
			return AuthOutcome{Message: authFailureMessage(err), UserID: &u.ID}
		}
		e.logger.Info("session opened by card",
			"order_id", o.ID, "user_id", u.ID, "bike_id", b.ID)
		return AuthOutcome{
			Success: true,
			Message: "unlocked",
			UserID:  &u.ID,
			Balance: &u.Balance,
			OrderID: &o.ID,
		}

	case ActionLock:
		res, err := e.lockByCard(ctx, u, b)
		if err != nil {
			return AuthOutcome{Message: authFailureMessage(err), UserID: &u.ID}
		}
		e.logger.Info("session closed by card",
			"order_id", res.Order.ID, "minutes", res.DurationMinutes, "cost", res.Cost)
		return AuthOutcome{
			Success: true,
			Message: "returned",
			UserID:  &u.ID,
			Balance: &res.NewBalance,
			OrderID: &res.Order.ID,
		}

	default:
		return AuthOutcome{Message: "unknown action: " + action}
	}
}

func (e *Engine) lockByCard(ctx context.Context, u user.User, b bike.Bike) (LockResult, error) {
	tx, err := e.db.BeginTxx(ctx, nil)
	if err != nil {
		return LockResult{}, err
	}
	defer tx.Rollback()

	o, err := e.orders.GetActiveForUserAndBikeTx(ctx, tx, u.ID, b.ID)
	if err != nil {
		if errors.Is(err, order.ErrNoActive) {
			return LockResult{}, ErrNoActiveOrder
		}
		return LockResult{}, err
	}

	res, _, err := e.closeLocked(ctx, tx, o, u, nil, nil)
	if err != nil {
		return LockResult{}, err
	}
	return res, tx.Commit()
}

func authFailureMessage(err error) string {
	switch {
	case errors.Is(err, ErrInsufficientBalance):
		return "insufficient balance"
	case errors.Is(err, ErrNoActiveOrder):
		return "no active order"
	default:
		var unavailable *BikeUnavailableError
		if errors.As(err, &unavailable) {
			return unavailable.Error()
		}
		var notActive *OrderNotActiveError
		if errors.As(err, &notActive) {
			return notActive.Error()
		}
		return "operation failed"
	}
}

func insufficientBalanceMessage(min decimal.Decimal) string {
	return fmt.Sprintf("insufficient balance, minimum %s required", min.StringFixed(2))
}

// AdminForceCommand sends a raw force_unlock/force_lock to a bike, bypassing
// session preconditions and the per-bike critical section. State is not
// touched; the device and subsequent telemetry are the source of truth.
func (e *Engine) AdminForceCommand(ctx context.Context, bikeID int64, command, reason string) error {
	if command != CommandForceUnlock && command != CommandForceLock {
		return ErrInvalidCommand
	}

	b, err := e.bikes.GetByID(ctx, bikeID)
	if err != nil {
		if errors.Is(err, bike.ErrNotFound) {
			return ErrBikeNotFound
		}
		return err
	}

	e.disp.Command(bikeAddr(b), command, nil)

	msg := fmt.Sprintf("admin command: %s, reason: %s", command, reason)
	if err := e.audits.Append(ctx, &b.ID, audit.TypeAuth, msg); err != nil {
		e.logger.Error("failed to append admin audit entry", "error", err)
	}

	e.logger.Info("admin command sent", "bike_id", bikeID, "command", command, "reason", reason)
	return nil
}

// bikeAddr picks the command address: the printed code when known, the
// numeric id otherwise.
func bikeAddr(b bike.Bike) string {
	if b.Code != "" {
		return b.Code
	}
	return strconv.FormatInt(b.ID, 10)
}
