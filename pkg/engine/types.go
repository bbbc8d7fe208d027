package engine

import (
	"time"

	"github.com/joripage/darkpool-engine/pkg/engine/model"
	"github.com/shopspring/decimal"
)

// SubmitOrderRequest carries one new trading intent. Quantity, price and the
// optional commit-reveal amounts arrive as strings and are parsed as exact
// decimals; floats never enter the money path.
type SubmitOrderRequest struct {
	UserAddress string
	ChainID     int64
	Side        model.OrderSide
	BaseToken   string
	QuoteToken  string
	Quantity    string
	Price       string
	VarianceBps int64

	// optional
	ExpiresInSeconds int64
	CommitmentHash   string
	OnchainOrderID   string
	SellAmount       string
	BuyAmount        string
}

type SubmitOrderResult struct {
	Order   *model.Order
	Matches []*model.Match
}

type CancelOrderRequest struct {
	OrderID     string
	UserAddress string
}

// BookLevel is one aggregated price level of a depth snapshot.
type BookLevel struct {
	Price    decimal.Decimal
	Quantity decimal.Decimal
	Orders   int
}

type BookSnapshot struct {
	BaseToken  string
	QuoteToken string
	Bids       []BookLevel
	Asks       []BookLevel
	Timestamp  time.Time
}

type HealthReport struct {
	Healthy       bool
	Version       string
	UptimeSeconds int64
	TotalOrders   int64
	TotalMatches  int64
}
