package user

import (
	"time"

	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusActive Status = "active"
	StatusFrozen Status = "frozen"
)

// User represents a rider account. RFIDCard is nil until a card is bound;
// at most one user may hold a given card.
type User struct {
	ID       int64
	RFIDCard *string `db:"rfid_card"`
	Username string
	Phone    string

	// Balance is the prepaid balance in currency units, two decimal places.
	Balance decimal.Decimal

	Status    Status
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}
