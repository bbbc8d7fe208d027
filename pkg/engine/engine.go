// Package engine implements the dark-pool matching core: order intake and
// validation, per-pair serialized matching with price-time priority and
// variance bands, transactional persistence and match-event streaming.
package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joripage/darkpool-engine/pkg/broadcaster"
	"github.com/joripage/darkpool-engine/pkg/engine/model"
	"github.com/joripage/darkpool-engine/pkg/engine/repo"
)

const Version = "1.0.0"

const (
	defaultWorkers       = 4
	defaultQueueSize     = 1024
	defaultDepth         = 20
	defaultSweepInterval = 30 * time.Second
)

type Config struct {
	Workers       int
	QueueSize     int
	DefaultDepth  int
	SweepInterval time.Duration
	StreamBuffer  int
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.Workers <= 0 {
		out.Workers = defaultWorkers
	}
	if out.QueueSize <= 0 {
		out.QueueSize = defaultQueueSize
	}
	if out.DefaultDepth <= 0 {
		out.DefaultDepth = defaultDepth
	}
	if out.SweepInterval <= 0 {
		out.SweepInterval = defaultSweepInterval
	}
	return out
}

// MatchForwarder pushes committed matches to the downstream settlement
// process. Called only after the persistence transaction commits.
type MatchForwarder interface {
	Forward(ctx context.Context, m *model.Match) error
}

// DepthCache receives aggregated depth snapshots after each book mutation,
// for cheap reads by the gateway layer.
type DepthCache interface {
	Store(ctx context.Context, snap *BookSnapshot) error
}

type Engine struct {
	cfg   Config
	repo  repo.IRepo
	bus   *broadcaster.Broadcaster
	coord *coordinator

	forwarder  MatchForwarder
	depthCache DepthCache

	startedAt time.Time
	cancel    context.CancelFunc
	stopOnce  sync.Once
	stopped   atomic.Bool

	totalOrders  int64
	totalMatches int64
}

func New(cfg Config, store repo.IRepo) *Engine {
	e := &Engine{
		cfg:  cfg.withDefaults(),
		repo: store,
		bus:  broadcaster.New(cfg.StreamBuffer),
	}
	e.coord = newCoordinator(e)
	return e
}

// SetMatchForwarder wires the settlement egress. Must be called before Start.
func (e *Engine) SetMatchForwarder(f MatchForwarder) {
	e.forwarder = f
}

// SetDepthCache wires the depth snapshot sink. Must be called before Start.
func (e *Engine) SetDepthCache(d DepthCache) {
	e.depthCache = d
}

func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	e.startedAt = time.Now()
	e.coord.start(ctx)
}

func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		e.stopped.Store(true)
		if e.cancel != nil {
			e.cancel()
		}
		e.coord.wg.Wait()
		e.bus.Close()
	})
}

// SubmitOrder validates the request, persists the order as REVEALED and runs
// one matching pass on the pair's owning worker. The order is durably
// committed before any matching read, so it is visible to every subsequent
// pass without waiting tricks.
func (e *Engine) SubmitOrder(ctx context.Context, req *SubmitOrderRequest) (*SubmitOrderResult, error) {
	if e.stopped.Load() {
		return nil, ErrStopped
	}

	order, err := buildOrder(req, time.Now())
	if err != nil {
		return nil, err
	}

	if err := e.repo.Order().Create(ctx, order); err != nil {
		return nil, fmt.Errorf("%w: persist order: %v", ErrInternal, err)
	}

	resp, err := e.coord.dispatch(ctx, &request{
		kind:  reqSubmit,
		base:  order.BaseToken,
		quote: order.QuoteToken,
		order: order,
	})
	if err != nil {
		return nil, err
	}
	return &SubmitOrderResult{Order: resp.order, Matches: resp.matches}, nil
}

// CancelOrder cancels a live order owned by the caller. The check runs
// inside the pair's owning worker, so a cancel and a concurrent matching
// pass on the same order can never both win.
func (e *Engine) CancelOrder(ctx context.Context, req *CancelOrderRequest) (*model.Order, error) {
	if e.stopped.Load() {
		return nil, ErrStopped
	}
	if req.OrderID == "" || req.UserAddress == "" {
		return nil, fmt.Errorf("%w: order id and user address required", ErrInvalidArgument)
	}

	// resolve the pair for routing; the worker re-reads authoritative state
	rec, err := e.repo.Order().GetByID(ctx, req.OrderID)
	if err != nil {
		if err == repo.ErrNotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrInternal, err)
	}

	resp, err := e.coord.dispatch(ctx, &request{
		kind:   reqCancel,
		base:   rec.BaseToken,
		quote:  rec.QuoteToken,
		cancel: req,
	})
	if err != nil {
		return nil, err
	}
	return resp.order, nil
}

// GetOrderBook returns aggregated depth for a pair, served through the
// owning worker for a consistent view. depth <= 0 falls back to the default.
func (e *Engine) GetOrderBook(ctx context.Context, base, quote string, depth int) (*BookSnapshot, error) {
	if e.stopped.Load() {
		return nil, ErrStopped
	}
	if base == "" || quote == "" {
		return nil, fmt.Errorf("%w: base and quote token required", ErrInvalidArgument)
	}
	if depth <= 0 {
		depth = e.cfg.DefaultDepth
	}

	resp, err := e.coord.dispatch(ctx, &request{
		kind:  reqDepth,
		base:  base,
		quote: quote,
		depth: depth,
	})
	if err != nil {
		return nil, err
	}
	return resp.snapshot, nil
}

// StreamMatches subscribes to committed matches passing the filter, in
// commit order. The subscription closes when ctx is cancelled, the caller
// closes it, or the subscriber falls too far behind.
func (e *Engine) StreamMatches(ctx context.Context, filter broadcaster.Filter) (*broadcaster.Subscription, error) {
	if e.stopped.Load() {
		return nil, ErrStopped
	}
	sub := e.bus.Subscribe(filter)
	go func() {
		select {
		case <-ctx.Done():
			sub.Close()
		case <-sub.Done():
		}
	}()
	return sub, nil
}

// Health reports liveness and the aggregate counters kept by the workers.
// Safe to call concurrently with ongoing matching.
func (e *Engine) Health() *HealthReport {
	return &HealthReport{
		Healthy:       !e.stopped.Load(),
		Version:       Version,
		UptimeSeconds: int64(time.Since(e.startedAt).Seconds()),
		TotalOrders:   atomic.LoadInt64(&e.totalOrders),
		TotalMatches:  atomic.LoadInt64(&e.totalMatches),
	}
}
