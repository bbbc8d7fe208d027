package orderbook

import "errors"

var (
	ErrOrderNotFound  = errors.New("order not found in book")
	ErrDuplicateOrder = errors.New("order already in book")
)
