package session

import (
	"errors"
	"fmt"

	"github.com/cyclehub/rental-backend/bike"
	"github.com/cyclehub/rental-backend/order"
)

var (
	ErrBikeNotFound        = errors.New("bike not found")
	ErrUserNotFound        = errors.New("user not found")
	ErrAccountFrozen       = errors.New("account frozen")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrOrderNotFound       = errors.New("order not found")
	ErrUserMismatch        = errors.New("user does not match order")
	ErrNoActiveOrder       = errors.New("no active order for user and bike")
	ErrInvalidCommand      = errors.New("invalid admin command")
)

// BikeUnavailableError reports the status that made the bike unavailable.
type BikeUnavailableError struct {
	Status bike.Status
}

func (e *BikeUnavailableError) Error() string {
	return fmt.Sprintf("bike unavailable, current status: %s", e.Status)
}

// OrderNotActiveError reports the status that prevented closing an order.
type OrderNotActiveError struct {
	Status order.Status
}

func (e *OrderNotActiveError) Error() string {
	return fmt.Sprintf("order is not active, current status: %s", e.Status)
}
