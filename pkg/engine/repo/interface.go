package repo

import (
	"context"
	"errors"

	"github.com/joripage/darkpool-engine/pkg/engine/model"
)

// ErrNotFound is returned by lookups that match no record, regardless of the
// backing store.
var ErrNotFound = errors.New("record not found")

type IOrder interface {
	Create(ctx context.Context, record *model.Order) error
	Update(ctx context.Context, record *model.Order) error
	GetByID(ctx context.Context, id string) (*model.Order, error)
	// ListLive returns the matchable orders of a pair in creation order, the
	// feed used to rebuild a book from the store.
	ListLive(ctx context.Context, baseToken, quoteToken string) ([]*model.Order, error)
}

type IMatch interface {
	Create(ctx context.Context, record *model.Match) error
	GetByID(ctx context.Context, id string) (*model.Match, error)
	// UpdateSettlement persists record's settlement state, guarded by the
	// status the caller transitioned from; a row no longer in that state is
	// reported as ErrNotFound.
	UpdateSettlement(ctx context.Context, record *model.Match, from model.SettlementStatus) error
	ListBySettlementStatus(ctx context.Context, status model.SettlementStatus, limit int) ([]*model.Match, error)
}

// IRepo is the order store: the single durable source of truth. Transaction
// runs fn against a transactional view; any error rolls the whole pass back.
type IRepo interface {
	Order() IOrder
	Match() IMatch
	Transaction(ctx context.Context, fn func(IRepo) error) error
}
