package engine

import (
	"context"

	"github.com/joripage/darkpool-engine/pkg/broadcaster"
	"github.com/joripage/darkpool-engine/pkg/engine/model"
)

// Service is the engine facade consumed by gateways.
type Service interface {
	SubmitOrder(ctx context.Context, req *SubmitOrderRequest) (*SubmitOrderResult, error)
	CancelOrder(ctx context.Context, req *CancelOrderRequest) (*model.Order, error)
	GetOrderBook(ctx context.Context, base, quote string, depth int) (*BookSnapshot, error)
	StreamMatches(ctx context.Context, filter broadcaster.Filter) (*broadcaster.Subscription, error)
	Health() *HealthReport
}

var _ Service = (*Engine)(nil)
