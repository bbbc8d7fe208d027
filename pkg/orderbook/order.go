package orderbook

import (
	"time"

	"github.com/shopspring/decimal"
)

type Side string

const (
	BUY  Side = "BUY"
	SELL Side = "SELL"
)

// Opposite returns the counter side.
func (s Side) Opposite() Side {
	if s == BUY {
		return SELL
	}
	return BUY
}

// Order is the book-resident view of a live order: just enough state to run
// price-time matching. The full record lives in the order store; the book is
// a derived cache rebuildable from it.
type Order struct {
	ID        string
	Side      Side
	Price     decimal.Decimal
	MinPrice  decimal.Decimal
	MaxPrice  decimal.Decimal
	Remaining decimal.Decimal
	CreatedAt time.Time
	ExpiresAt *time.Time
}

// Expired reports whether the order carries an expiry at or before now.
func (o *Order) Expired(now time.Time) bool {
	return o.ExpiresAt != nil && !o.ExpiresAt.After(now)
}

// InBand reports whether p lies inside the order's [MinPrice, MaxPrice]
// variance band, bounds inclusive.
func (o *Order) InBand(p decimal.Decimal) bool {
	return p.GreaterThanOrEqual(o.MinPrice) && p.LessThanOrEqual(o.MaxPrice)
}
