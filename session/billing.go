package session

import (
	"time"

	"github.com/shopspring/decimal"
)

// Fare computes billed minutes and cost for a ride. Minutes are the elapsed
// wall-clock time floored to whole minutes, so a lock in the same minute as
// the unlock is free. Cost is rounded to two decimal places.
func Fare(start, end time.Time, perMinute decimal.Decimal) (int, decimal.Decimal) {
	elapsed := end.Sub(start)
	if elapsed < 0 {
		elapsed = 0
	}
	minutes := int(elapsed / time.Minute)
	cost := perMinute.Mul(decimal.NewFromInt(int64(minutes))).Round(2)
	return minutes, cost
}
