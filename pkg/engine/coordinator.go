package engine

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/joripage/darkpool-engine/pkg/engine/model"
	"github.com/joripage/darkpool-engine/pkg/engine/repo"
	"github.com/joripage/darkpool-engine/pkg/orderbook"
	"go.uber.org/zap"
)

type reqKind int

const (
	reqSubmit reqKind = iota
	reqCancel
	reqDepth
)

type request struct {
	kind   reqKind
	ctx    context.Context
	base   string
	quote  string
	order  *model.Order        // reqSubmit
	cancel *CancelOrderRequest // reqCancel
	depth  int                 // reqDepth
	resp   chan response
}

func (r *request) pairKey() string {
	return r.base + "/" + r.quote
}

type response struct {
	order    *model.Order
	matches  []*model.Match
	snapshot *BookSnapshot
	err      error
}

// pairState is one trading pair's book plus the live order records backing
// it. Only the owning worker ever touches it, so it carries no lock.
type pairState struct {
	book   *orderbook.Book
	orders map[string]*model.Order
}

// coordinator routes every request for a pair to the same worker: matching,
// cancels and depth reads on one pair form a single serialized history while
// distinct pairs run in parallel.
type coordinator struct {
	workers []*worker
	wg      sync.WaitGroup
}

func newCoordinator(e *Engine) *coordinator {
	c := &coordinator{}
	for i := 0; i < e.cfg.Workers; i++ {
		c.workers = append(c.workers, &worker{
			id:       i,
			engine:   e,
			requests: make(chan *request, e.cfg.QueueSize),
			pairs:    make(map[string]*pairState),
		})
	}
	return c
}

func (c *coordinator) start(ctx context.Context) {
	for _, w := range c.workers {
		c.wg.Add(1)
		go func(w *worker) {
			defer c.wg.Done()
			w.run(ctx)
		}(w)
	}
}

// workerFor maps a pair to its owning worker by FNV-1a hash, so routing is
// consistent across the engine's lifetime.
func (c *coordinator) workerFor(pair string) *worker {
	h := fnv.New32a()
	_, _ = h.Write([]byte(pair))
	return c.workers[int(h.Sum32())%len(c.workers)]
}

// dispatch enqueues a request without blocking; a full queue is rejected
// with ErrQueueFull rather than growing unbounded.
func (c *coordinator) dispatch(ctx context.Context, req *request) (*response, error) {
	req.ctx = ctx
	req.resp = make(chan response, 1)

	w := c.workerFor(req.pairKey())
	select {
	case w.requests <- req:
	default:
		return nil, ErrQueueFull
	}

	select {
	case resp := <-req.resp:
		if resp.err != nil {
			return nil, resp.err
		}
		return &resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type worker struct {
	id       int
	engine   *Engine
	requests chan *request
	pairs    map[string]*pairState
}

func (w *worker) run(ctx context.Context) {
	sweep := time.NewTicker(w.engine.cfg.SweepInterval)
	defer sweep.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case req := <-w.requests:
			w.handle(req)
		case <-sweep.C:
			w.sweepExpired(ctx, time.Now())
		}
	}
}

func (w *worker) handle(req *request) {
	var resp response
	switch req.kind {
	case reqSubmit:
		resp = w.handleSubmit(req.ctx, req.order)
	case reqCancel:
		resp = w.handleCancel(req.ctx, req.base, req.quote, req.cancel)
	case reqDepth:
		resp = w.handleDepth(req.ctx, req.base, req.quote, req.depth)
	}
	req.resp <- resp
}

// ensurePair returns the pair's state, populating the book from the order
// store on first access. The store is the source of truth; the book is a
// cache kept authoritative by this worker's incremental updates.
func (w *worker) ensurePair(ctx context.Context, base, quote string) (*pairState, error) {
	key := base + "/" + quote
	if ps, ok := w.pairs[key]; ok {
		return ps, nil
	}

	records, err := w.engine.repo.Order().ListLive(ctx, base, quote)
	if err != nil {
		return nil, fmt.Errorf("%w: load book %s: %v", ErrInternal, key, err)
	}

	ps := &pairState{
		book:   orderbook.NewBook(key),
		orders: make(map[string]*model.Order, len(records)),
	}
	for _, rec := range records {
		ps.orders[rec.ID] = rec
		if err := ps.book.Insert(bookOrderOf(rec)); err != nil {
			return nil, fmt.Errorf("%w: rebuild book %s: %v", ErrInternal, key, err)
		}
	}
	w.pairs[key] = ps
	return ps, nil
}

func bookOrderOf(rec *model.Order) *orderbook.Order {
	return &orderbook.Order{
		ID:        rec.ID,
		Side:      orderbook.Side(rec.Side),
		Price:     rec.Price,
		MinPrice:  rec.MinPrice,
		MaxPrice:  rec.MaxPrice,
		Remaining: rec.RemainingQuantity,
		CreatedAt: rec.CreatedAt,
		ExpiresAt: rec.ExpiresAt,
	}
}

func (w *worker) handleSubmit(ctx context.Context, order *model.Order) response {
	ps, err := w.ensurePair(ctx, order.BaseToken, order.QuoteToken)
	if err != nil {
		return response{err: err}
	}

	// The submit was persisted before dispatch; a lazy book load racing it
	// may have picked the stored row up already.
	if _, ok := ps.book.Get(order.ID); ok {
		_ = ps.book.Remove(order.ID)
		delete(ps.orders, order.ID)
	}

	now := time.Now()
	updated := *order

	if updated.Expired(now) {
		// dead on arrival: cancel instead of resting a zombie
		if err := updated.Cancel(); err != nil {
			return response{err: fmt.Errorf("%w: %v", ErrInternal, err)}
		}
		updated.UpdatedAt = now
		if err := w.engine.repo.Order().Update(ctx, &updated); err != nil {
			return response{err: fmt.Errorf("%w: persist expiry: %v", ErrInternal, err)}
		}
		atomic.AddInt64(&w.engine.totalOrders, 1)
		return response{order: &updated}
	}

	incoming := bookOrderOf(order)
	fills := ps.book.PlanMatches(incoming, now)

	makers := make(map[string]*model.Order, len(fills))
	matches := make([]*model.Match, 0, len(fills))
	for _, f := range fills {
		maker, ok := makers[f.MakerID]
		if !ok {
			live, found := ps.orders[f.MakerID]
			if !found {
				return response{err: fmt.Errorf("%w: maker %s not tracked", ErrInternal, f.MakerID)}
			}
			cp := *live
			maker = &cp
			makers[f.MakerID] = maker
		}
		if err := maker.ApplyFill(f.Quantity); err != nil {
			return response{err: fmt.Errorf("%w: maker fill: %v", ErrInternal, err)}
		}
		if err := updated.ApplyFill(f.Quantity); err != nil {
			return response{err: fmt.Errorf("%w: taker fill: %v", ErrInternal, err)}
		}
		maker.UpdatedAt = now
		updated.UpdatedAt = now
		matches = append(matches, newMatch(&updated, maker, f, now))
	}

	// Persist the whole pass atomically before the book or any counter moves:
	// a failed transaction leaves no partially-applied state behind.
	if len(matches) > 0 {
		err := w.engine.repo.Transaction(ctx, func(tx repo.IRepo) error {
			for _, m := range matches {
				if err := tx.Match().Create(ctx, m); err != nil {
					return err
				}
			}
			for _, maker := range makers {
				if err := tx.Order().Update(ctx, maker); err != nil {
					return err
				}
			}
			return tx.Order().Update(ctx, &updated)
		})
		if err != nil {
			// The pass rolled back whole, but the incoming order is already
			// durable and live in the store. Rest it unfilled so the cached
			// book keeps tracking it; otherwise it could neither match nor
			// be cancelled until a process restart reloads the pair.
			rest := *order
			if insErr := ps.book.Insert(bookOrderOf(&rest)); insErr != nil {
				zap.S().Warnw("rest after failed pass",
					"order_id", rest.ID, "err", insErr)
			} else {
				ps.orders[rest.ID] = &rest
			}
			return response{err: fmt.Errorf("%w: persist matching pass: %v", ErrInternal, err)}
		}
	}

	if err := ps.book.Commit(incoming, fills); err != nil {
		return response{err: fmt.Errorf("%w: apply matching pass: %v", ErrInternal, err)}
	}
	for id, maker := range makers {
		if maker.Status.Live() {
			ps.orders[id] = maker
		} else {
			delete(ps.orders, id)
		}
	}
	if updated.Status.Live() {
		ps.orders[updated.ID] = &updated
	}

	atomic.AddInt64(&w.engine.totalOrders, 1)
	atomic.AddInt64(&w.engine.totalMatches, int64(len(matches)))

	for _, m := range matches {
		w.engine.bus.Publish(m)
	}
	w.forwardMatches(ctx, matches)
	w.storeDepth(ctx, ps, order.BaseToken, order.QuoteToken)

	return response{order: &updated, matches: matches}
}

// newMatch records one execution; the maker side set the price.
func newMatch(taker, maker *model.Order, f orderbook.Fill, now time.Time) *model.Match {
	buy, sell := taker, maker
	if taker.Side == model.OrderSideSell {
		buy, sell = maker, taker
	}
	return &model.Match{
		ID:               uuid.NewString(),
		BuyOrderID:       buy.ID,
		SellOrderID:      sell.ID,
		BuyUser:          buy.UserAddress,
		SellUser:         sell.UserAddress,
		BaseToken:        taker.BaseToken,
		QuoteToken:       taker.QuoteToken,
		Quantity:         f.Quantity,
		Price:            f.Price,
		SettlementStatus: model.SettlementStatusPending,
		MatchedAt:        now,
	}
}

func (w *worker) handleCancel(ctx context.Context, base, quote string, req *CancelOrderRequest) response {
	ps, err := w.ensurePair(ctx, base, quote)
	if err != nil {
		return response{err: err}
	}

	live, ok := ps.orders[req.OrderID]
	if !ok {
		// not live in this book: distinguish unknown, foreign and terminal
		rec, err := w.engine.repo.Order().GetByID(ctx, req.OrderID)
		if errors.Is(err, repo.ErrNotFound) {
			return response{err: ErrNotFound}
		}
		if err != nil {
			return response{err: fmt.Errorf("%w: %v", ErrInternal, err)}
		}
		if rec.UserAddress != req.UserAddress {
			return response{err: ErrNotOwner}
		}
		return response{err: ErrOrderNotLive}
	}
	if live.UserAddress != req.UserAddress {
		return response{err: ErrNotOwner}
	}

	updated := *live
	if err := updated.Cancel(); err != nil {
		return response{err: ErrOrderNotLive}
	}
	updated.UpdatedAt = time.Now()
	if err := w.engine.repo.Order().Update(ctx, &updated); err != nil {
		return response{err: fmt.Errorf("%w: persist cancel: %v", ErrInternal, err)}
	}

	_ = ps.book.Remove(req.OrderID)
	delete(ps.orders, req.OrderID)
	w.storeDepth(ctx, ps, base, quote)

	return response{order: &updated}
}

func (w *worker) handleDepth(ctx context.Context, base, quote string, depth int) response {
	ps, err := w.ensurePair(ctx, base, quote)
	if err != nil {
		return response{err: err}
	}
	return response{snapshot: snapshotOf(ps, base, quote, depth)}
}

func snapshotOf(ps *pairState, base, quote string, depth int) *BookSnapshot {
	snap := &BookSnapshot{
		BaseToken:  base,
		QuoteToken: quote,
		Timestamp:  time.Now(),
	}
	for _, lvl := range ps.book.Depth(orderbook.BUY, depth) {
		snap.Bids = append(snap.Bids, BookLevel{Price: lvl.Price, Quantity: lvl.Quantity, Orders: lvl.Orders})
	}
	for _, lvl := range ps.book.Depth(orderbook.SELL, depth) {
		snap.Asks = append(snap.Asks, BookLevel{Price: lvl.Price, Quantity: lvl.Quantity, Orders: lvl.Orders})
	}
	return snap
}

// sweepExpired evicts resting orders whose expiry passed. Failures are left
// in place for the next sweep; expiry is also enforced lazily at matching
// time, so a resting zombie can never fill.
func (w *worker) sweepExpired(ctx context.Context, now time.Time) {
	for key, ps := range w.pairs {
		for _, stale := range ps.book.Expired(now) {
			rec, ok := ps.orders[stale.ID]
			if !ok {
				_ = ps.book.Remove(stale.ID)
				continue
			}
			updated := *rec
			if err := updated.Cancel(); err != nil {
				continue
			}
			updated.UpdatedAt = now
			if err := w.engine.repo.Order().Update(ctx, &updated); err != nil {
				zap.S().Warnw("expiry sweep persist failed",
					"pair", key, "order_id", stale.ID, "err", err)
				continue
			}
			_ = ps.book.Remove(stale.ID)
			delete(ps.orders, stale.ID)
		}
	}
}

func (w *worker) forwardMatches(ctx context.Context, matches []*model.Match) {
	if w.engine.forwarder == nil {
		return
	}
	for _, m := range matches {
		if err := w.engine.forwarder.Forward(ctx, m); err != nil {
			zap.S().Warnw("match forward failed", "match_id", m.ID, "err", err)
		}
	}
}

func (w *worker) storeDepth(ctx context.Context, ps *pairState, base, quote string) {
	if w.engine.depthCache == nil {
		return
	}
	snap := snapshotOf(ps, base, quote, w.engine.cfg.DefaultDepth)
	if err := w.engine.depthCache.Store(ctx, snap); err != nil {
		zap.S().Warnw("depth cache store failed", "pair", base+"/"+quote, "err", err)
	}
}
