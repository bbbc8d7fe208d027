package model

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// VarianceDenominator converts basis points to a price fraction.
const VarianceDenominator = 10000

var (
	ErrIllegalTransition = errors.New("illegal status transition")
	ErrOverfill          = errors.New("fill exceeds remaining quantity")
)

// Order is a resting or filled trading intent. Mutated only by the worker
// owning its trading pair; terminal orders are retained as audit record.
type Order struct {
	ID          string `gorm:"primaryKey"`
	UserAddress string
	ChainID     int64

	Side        OrderSide
	BaseToken   string
	QuoteToken  string
	Quantity    decimal.Decimal `gorm:"type:numeric"`
	Price       decimal.Decimal `gorm:"type:numeric"`
	VarianceBps int64
	MinPrice    decimal.Decimal `gorm:"type:numeric"`
	MaxPrice    decimal.Decimal `gorm:"type:numeric"`

	FilledQuantity    decimal.Decimal `gorm:"type:numeric"`
	RemainingQuantity decimal.Decimal `gorm:"type:numeric"`
	Status            OrderStatus

	// commit-reveal linkage, opaque to matching
	CommitmentHash string
	OnchainOrderID string
	SellAmount     decimal.Decimal `gorm:"type:numeric"`
	BuyAmount      decimal.Decimal `gorm:"type:numeric"`

	CreatedAt   time.Time
	CommittedAt *time.Time
	RevealedAt  *time.Time
	ExpiresAt   *time.Time
	UpdatedAt   time.Time
}

func (Order) TableName() string {
	return "orders"
}

// Pair is the trading pair key used for worker routing and book lookup.
func (o *Order) Pair() string {
	return o.BaseToken + "/" + o.QuoteToken
}

// PriceBand computes min/max price from a reference price and a variance in
// basis points: price*(1 -+ variance/10000).
func PriceBand(price decimal.Decimal, varianceBps int64) (min, max decimal.Decimal) {
	delta := price.Mul(decimal.NewFromInt(varianceBps)).Div(decimal.NewFromInt(VarianceDenominator))
	return price.Sub(delta), price.Add(delta)
}

// Transition moves the order to the requested status, enforcing the
// lifecycle table. Statuses never regress.
func (o *Order) Transition(to OrderStatus) error {
	if !o.Status.CanTransition(to) {
		return ErrIllegalTransition
	}
	o.Status = to
	return nil
}

// ApplyFill decrements remaining quantity by qty and advances status to
// PARTIALLY_FILLED or FILLED accordingly.
func (o *Order) ApplyFill(qty decimal.Decimal) error {
	if qty.GreaterThan(o.RemainingQuantity) {
		return ErrOverfill
	}
	o.FilledQuantity = o.FilledQuantity.Add(qty)
	o.RemainingQuantity = o.RemainingQuantity.Sub(qty)
	next := OrderStatusPartiallyFilled
	if o.RemainingQuantity.IsZero() {
		next = OrderStatusFilled
	}
	return o.Transition(next)
}

// Expired reports whether the order carries an expiry in the past.
func (o *Order) Expired(now time.Time) bool {
	return o.ExpiresAt != nil && !o.ExpiresAt.After(now)
}

func (o *Order) CanCancel() bool {
	return o.Status.Live()
}

// Cancel moves the order to CANCELLED and zeroes the remaining quantity, so
// that remaining == 0 holds exactly for terminal orders.
func (o *Order) Cancel() error {
	if err := o.Transition(OrderStatusCancelled); err != nil {
		return err
	}
	o.RemainingQuantity = decimal.Zero
	return nil
}
