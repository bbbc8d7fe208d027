package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Match is an immutable record of one execution between a buy and a sell
// order. The engine writes it with settlement status PENDING; the settlement
// worker owns every later transition.
type Match struct {
	ID          string `gorm:"primaryKey"`
	BuyOrderID  string
	SellOrderID string
	BuyUser     string
	SellUser    string
	BaseToken   string
	QuoteToken  string
	Quantity    decimal.Decimal `gorm:"type:numeric"`
	Price       decimal.Decimal `gorm:"type:numeric"`

	SettlementStatus SettlementStatus

	MatchedAt time.Time
	SettledAt *time.Time
}

func (Match) TableName() string {
	return "matches"
}

func (m *Match) Pair() string {
	return m.BaseToken + "/" + m.QuoteToken
}

// TransitionSettlement advances the settlement state machine.
func (m *Match) TransitionSettlement(to SettlementStatus) error {
	if !m.SettlementStatus.CanTransition(to) {
		return ErrIllegalTransition
	}
	m.SettlementStatus = to
	if to == SettlementStatusSettled {
		now := time.Now()
		m.SettledAt = &now
	}
	return nil
}
