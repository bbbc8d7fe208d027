package model

// OrderStatus is a closed state machine. Transitions outside the table are
// rejected at Transition time, never checked ad hoc with string comparisons.
type OrderStatus string

const (
	OrderStatusPending         OrderStatus = "PENDING"
	OrderStatusCommitted       OrderStatus = "COMMITTED"
	OrderStatusRevealed        OrderStatus = "REVEALED"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusFilled          OrderStatus = "FILLED"
	OrderStatusCancelled       OrderStatus = "CANCELLED"
)

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:         {OrderStatusCommitted, OrderStatusCancelled},
	OrderStatusCommitted:       {OrderStatusRevealed, OrderStatusCancelled},
	OrderStatusRevealed:        {OrderStatusPartiallyFilled, OrderStatusFilled, OrderStatusCancelled},
	OrderStatusPartiallyFilled: {OrderStatusPartiallyFilled, OrderStatusFilled, OrderStatusCancelled},
	OrderStatusFilled:          {},
	OrderStatusCancelled:       {},
}

// CanTransition reports whether from -> to is an edge of the order lifecycle.
func (s OrderStatus) CanTransition(to OrderStatus) bool {
	for _, next := range orderTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition is possible.
func (s OrderStatus) Terminal() bool {
	return len(orderTransitions[s]) == 0
}

// Live reports whether the order is matchable from the book.
func (s OrderStatus) Live() bool {
	return s == OrderStatusRevealed || s == OrderStatusPartiallyFilled
}

// SettlementStatus is the match settlement lifecycle. The engine only ever
// writes PENDING; the downstream settlement worker advances the rest.
type SettlementStatus string

const (
	SettlementStatusPending  SettlementStatus = "PENDING"
	SettlementStatusSettling SettlementStatus = "SETTLING"
	SettlementStatusSettled  SettlementStatus = "SETTLED"
	SettlementStatusFailed   SettlementStatus = "FAILED"
)

var settlementTransitions = map[SettlementStatus][]SettlementStatus{
	SettlementStatusPending:  {SettlementStatusSettling, SettlementStatusFailed},
	SettlementStatusSettling: {SettlementStatusSettled, SettlementStatusFailed},
	SettlementStatusSettled:  {},
	SettlementStatusFailed:   {},
}

func (s SettlementStatus) CanTransition(to SettlementStatus) bool {
	for _, next := range settlementTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

func (s SettlementStatus) Terminal() bool {
	return len(settlementTransitions[s]) == 0
}
