package engine

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/joripage/darkpool-engine/pkg/engine/model"
	"github.com/shopspring/decimal"
)

// buildOrder validates a submit request and produces the fully-formed order
// in REVEALED state. Any failure wraps ErrInvalidArgument and nothing has
// been persisted yet.
func buildOrder(req *SubmitOrderRequest, now time.Time) (*model.Order, error) {
	if req.UserAddress == "" {
		return nil, fmt.Errorf("%w: user address required", ErrInvalidArgument)
	}
	if req.BaseToken == "" || req.QuoteToken == "" {
		return nil, fmt.Errorf("%w: base and quote token required", ErrInvalidArgument)
	}
	if req.Side != model.OrderSideBuy && req.Side != model.OrderSideSell {
		return nil, fmt.Errorf("%w: side must be BUY or SELL", ErrInvalidArgument)
	}
	if req.VarianceBps < 0 || req.VarianceBps > model.VarianceDenominator {
		return nil, fmt.Errorf("%w: variance must be 0-10000 bps", ErrInvalidArgument)
	}

	quantity, err := parsePositiveDecimal("quantity", req.Quantity)
	if err != nil {
		return nil, err
	}
	price, err := parsePositiveDecimal("price", req.Price)
	if err != nil {
		return nil, err
	}

	sellAmount, err := parseOptionalDecimal("sell_amount", req.SellAmount)
	if err != nil {
		return nil, err
	}
	buyAmount, err := parseOptionalDecimal("buy_amount", req.BuyAmount)
	if err != nil {
		return nil, err
	}

	minPrice, maxPrice := model.PriceBand(price, req.VarianceBps)

	order := &model.Order{
		ID:          uuid.NewString(),
		UserAddress: req.UserAddress,
		ChainID:     req.ChainID,
		Side:        req.Side,
		BaseToken:   req.BaseToken,
		QuoteToken:  req.QuoteToken,
		Quantity:    quantity,
		Price:       price,
		VarianceBps: req.VarianceBps,
		MinPrice:    minPrice,
		MaxPrice:    maxPrice,

		FilledQuantity:    decimal.Zero,
		RemainingQuantity: quantity,
		Status:            model.OrderStatusRevealed,

		CommitmentHash: req.CommitmentHash,
		OnchainOrderID: req.OnchainOrderID,
		SellAmount:     sellAmount,
		BuyAmount:      buyAmount,

		CreatedAt:  now,
		RevealedAt: &now,
		UpdatedAt:  now,
	}

	if req.ExpiresInSeconds < 0 {
		return nil, fmt.Errorf("%w: expiry must not be negative", ErrInvalidArgument)
	}
	if req.ExpiresInSeconds > 0 {
		expires := now.Add(time.Duration(req.ExpiresInSeconds) * time.Second)
		order.ExpiresAt = &expires
	}

	return order, nil
}

func parsePositiveDecimal(name, raw string) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Zero, fmt.Errorf("%w: %s required", ErrInvalidArgument, name)
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %s is not a decimal", ErrInvalidArgument, name)
	}
	if !d.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: %s must be positive", ErrInvalidArgument, name)
	}
	return d, nil
}

func parseOptionalDecimal(name, raw string) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %s is not a decimal", ErrInvalidArgument, name)
	}
	return d, nil
}
