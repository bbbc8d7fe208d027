package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/joripage/darkpool-engine/pkg/broadcaster"
	"github.com/joripage/darkpool-engine/pkg/engine/model"
	"github.com/joripage/darkpool-engine/pkg/engine/repo"
	"github.com/shopspring/decimal"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	eng := New(Config{
		Workers:       2,
		QueueSize:     256,
		SweepInterval: time.Hour,
	}, repo.NewInMemoryRepo())
	eng.Start(context.Background())
	t.Cleanup(eng.Stop)
	return eng
}

func submitReq(user string, side model.OrderSide, qty, price string, bps int64) *SubmitOrderRequest {
	return &SubmitOrderRequest{
		UserAddress: user,
		Side:        side,
		BaseToken:   "WETH",
		QuoteToken:  "USDC",
		Quantity:    qty,
		Price:       price,
		VarianceBps: bps,
	}
}

func mustSubmit(t *testing.T, eng *Engine, req *SubmitOrderRequest) *SubmitOrderResult {
	t.Helper()
	res, err := eng.SubmitOrder(context.Background(), req)
	if err != nil {
		t.Fatalf("SubmitOrder: %v", err)
	}
	return res
}

func TestSubmitRestsWithoutCounterparty(t *testing.T) {
	eng := newTestEngine(t)

	res := mustSubmit(t, eng, submitReq("0xalice", model.OrderSideBuy, "10", "500", 100))
	if len(res.Matches) != 0 {
		t.Fatalf("expected no matches, got %d", len(res.Matches))
	}
	if res.Order.Status != model.OrderStatusRevealed {
		t.Fatalf("expected REVEALED, got %s", res.Order.Status)
	}
	if !res.Order.RemainingQuantity.Equal(decimal.RequireFromString("10")) {
		t.Fatalf("remaining = %s", res.Order.RemainingQuantity)
	}
	if !res.Order.MinPrice.Equal(decimal.RequireFromString("495")) ||
		!res.Order.MaxPrice.Equal(decimal.RequireFromString("505")) {
		t.Fatalf("band = [%s, %s]", res.Order.MinPrice, res.Order.MaxPrice)
	}
}

func TestSubmitMatchesRestingOrder(t *testing.T) {
	eng := newTestEngine(t)

	sell := mustSubmit(t, eng, submitReq("0xbob", model.OrderSideSell, "10", "498", 100))
	buy := mustSubmit(t, eng, submitReq("0xalice", model.OrderSideBuy, "10", "500", 100))

	if len(buy.Matches) != 1 {
		t.Fatalf("expected 1 match, got %d", len(buy.Matches))
	}
	m := buy.Matches[0]
	// resting side set the execution price
	if !m.Price.Equal(decimal.RequireFromString("498")) {
		t.Fatalf("price = %s, want 498", m.Price)
	}
	if m.BuyOrderID != buy.Order.ID || m.SellOrderID != sell.Order.ID {
		t.Fatalf("match links wrong orders")
	}
	if m.BuyUser != "0xalice" || m.SellUser != "0xbob" {
		t.Fatalf("match users = %s/%s", m.BuyUser, m.SellUser)
	}
	if m.SettlementStatus != model.SettlementStatusPending {
		t.Fatalf("settlement = %s", m.SettlementStatus)
	}
	if buy.Order.Status != model.OrderStatusFilled {
		t.Fatalf("taker status = %s", buy.Order.Status)
	}
	if !buy.Order.RemainingQuantity.IsZero() {
		t.Fatalf("taker remaining = %s", buy.Order.RemainingQuantity)
	}

	maker, err := eng.repo.Order().GetByID(context.Background(), sell.Order.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if maker.Status != model.OrderStatusFilled || !maker.RemainingQuantity.IsZero() {
		t.Fatalf("maker status=%s remaining=%s", maker.Status, maker.RemainingQuantity)
	}
}

func TestPartialFillLeavesRemainder(t *testing.T) {
	eng := newTestEngine(t)

	mustSubmit(t, eng, submitReq("0xbob", model.OrderSideSell, "6", "500", 0))
	buy := mustSubmit(t, eng, submitReq("0xalice", model.OrderSideBuy, "10", "500", 0))

	if len(buy.Matches) != 1 {
		t.Fatalf("expected 1 match, got %d", len(buy.Matches))
	}
	if buy.Order.Status != model.OrderStatusPartiallyFilled {
		t.Fatalf("status = %s", buy.Order.Status)
	}
	if !buy.Order.RemainingQuantity.Equal(decimal.RequireFromString("4")) {
		t.Fatalf("remaining = %s", buy.Order.RemainingQuantity)
	}

	snap, err := eng.GetOrderBook(context.Background(), "WETH", "USDC", 10)
	if err != nil {
		t.Fatalf("GetOrderBook: %v", err)
	}
	if len(snap.Bids) != 1 || len(snap.Asks) != 0 {
		t.Fatalf("depth bids=%d asks=%d", len(snap.Bids), len(snap.Asks))
	}
	if !snap.Bids[0].Quantity.Equal(decimal.RequireFromString("4")) {
		t.Fatalf("bid depth = %s", snap.Bids[0].Quantity)
	}
}

func TestOutOfBandDoesNotMatch(t *testing.T) {
	eng := newTestEngine(t)

	mustSubmit(t, eng, submitReq("0xbob", model.OrderSideSell, "10", "510", 100))
	buy := mustSubmit(t, eng, submitReq("0xalice", model.OrderSideBuy, "10", "500", 100))

	if len(buy.Matches) != 0 {
		t.Fatalf("510 is outside [495, 505], got %d matches", len(buy.Matches))
	}

	snap, err := eng.GetOrderBook(context.Background(), "WETH", "USDC", 10)
	if err != nil {
		t.Fatalf("GetOrderBook: %v", err)
	}
	if len(snap.Bids) != 1 || len(snap.Asks) != 1 {
		t.Fatalf("both orders should rest, bids=%d asks=%d", len(snap.Bids), len(snap.Asks))
	}
}

func TestSubmitValidation(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	cases := []struct {
		name string
		req  *SubmitOrderRequest
	}{
		{"missing user", submitReq("", model.OrderSideBuy, "10", "500", 0)},
		{"bad side", &SubmitOrderRequest{UserAddress: "0xa", Side: "HOLD", BaseToken: "WETH", QuoteToken: "USDC", Quantity: "1", Price: "1"}},
		{"zero quantity", submitReq("0xa", model.OrderSideBuy, "0", "500", 0)},
		{"negative price", submitReq("0xa", model.OrderSideBuy, "10", "-1", 0)},
		{"non-decimal quantity", submitReq("0xa", model.OrderSideBuy, "ten", "500", 0)},
		{"variance too large", submitReq("0xa", model.OrderSideBuy, "10", "500", 10001)},
		{"negative variance", submitReq("0xa", model.OrderSideBuy, "10", "500", -1)},
	}
	for _, tc := range cases {
		if _, err := eng.SubmitOrder(ctx, tc.req); !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("%s: err = %v, want ErrInvalidArgument", tc.name, err)
		}
	}
}

func TestCancelOrder(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	res := mustSubmit(t, eng, submitReq("0xalice", model.OrderSideBuy, "10", "500", 100))

	cancelled, err := eng.CancelOrder(ctx, &CancelOrderRequest{OrderID: res.Order.ID, UserAddress: "0xalice"})
	if err != nil {
		t.Fatalf("CancelOrder: %v", err)
	}
	if cancelled.Status != model.OrderStatusCancelled {
		t.Fatalf("status = %s", cancelled.Status)
	}
	if !cancelled.RemainingQuantity.IsZero() {
		t.Fatalf("remaining = %s, cancelled orders hold no quantity", cancelled.RemainingQuantity)
	}

	// the book no longer offers it
	snap, err := eng.GetOrderBook(ctx, "WETH", "USDC", 10)
	if err != nil {
		t.Fatalf("GetOrderBook: %v", err)
	}
	if len(snap.Bids) != 0 {
		t.Fatalf("cancelled order still resting")
	}

	// a later submit cannot hit it
	sell := mustSubmit(t, eng, submitReq("0xbob", model.OrderSideSell, "10", "500", 100))
	if len(sell.Matches) != 0 {
		t.Fatalf("matched a cancelled order")
	}
}

func TestCancelErrors(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	res := mustSubmit(t, eng, submitReq("0xalice", model.OrderSideBuy, "10", "500", 100))

	if _, err := eng.CancelOrder(ctx, &CancelOrderRequest{OrderID: res.Order.ID, UserAddress: "0xmallory"}); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("foreign cancel err = %v, want ErrNotOwner", err)
	}
	if _, err := eng.CancelOrder(ctx, &CancelOrderRequest{OrderID: "no-such-order", UserAddress: "0xalice"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown cancel err = %v, want ErrNotFound", err)
	}

	if _, err := eng.CancelOrder(ctx, &CancelOrderRequest{OrderID: res.Order.ID, UserAddress: "0xalice"}); err != nil {
		t.Fatalf("CancelOrder: %v", err)
	}
	if _, err := eng.CancelOrder(ctx, &CancelOrderRequest{OrderID: res.Order.ID, UserAddress: "0xalice"}); !errors.Is(err, ErrOrderNotLive) {
		t.Fatalf("double cancel err = %v, want ErrOrderNotLive", err)
	}
}

func TestCancelFilledOrder(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	sell := mustSubmit(t, eng, submitReq("0xbob", model.OrderSideSell, "10", "500", 0))
	mustSubmit(t, eng, submitReq("0xalice", model.OrderSideBuy, "10", "500", 0))

	if _, err := eng.CancelOrder(ctx, &CancelOrderRequest{OrderID: sell.Order.ID, UserAddress: "0xbob"}); !errors.Is(err, ErrOrderNotLive) {
		t.Fatalf("cancel filled err = %v, want ErrOrderNotLive", err)
	}
}

func TestStreamMatchesUserFilter(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	sub, err := eng.StreamMatches(ctx, broadcaster.Filter{UserAddress: "0xalice"})
	if err != nil {
		t.Fatalf("StreamMatches: %v", err)
	}
	defer sub.Close()

	mustSubmit(t, eng, submitReq("0xbob", model.OrderSideSell, "5", "500", 0))
	mustSubmit(t, eng, submitReq("0xcarol", model.OrderSideBuy, "5", "500", 0))

	mustSubmit(t, eng, submitReq("0xbob", model.OrderSideSell, "5", "500", 0))
	mustSubmit(t, eng, submitReq("0xalice", model.OrderSideBuy, "5", "500", 0))

	select {
	case m := <-sub.C():
		if m.BuyUser != "0xalice" && m.SellUser != "0xalice" {
			t.Fatalf("filter leaked match %s/%s", m.BuyUser, m.SellUser)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no match delivered")
	}

	select {
	case m, ok := <-sub.C():
		if ok {
			t.Fatalf("unexpected extra match %s/%s", m.BuyUser, m.SellUser)
		}
	case <-time.After(100 * time.Millisecond):
	}
}

func TestConcurrentSubmitsNeverOverclaim(t *testing.T) {
	eng := newTestEngine(t)

	mustSubmit(t, eng, submitReq("0xbob", model.OrderSideSell, "10", "500", 0))

	const buyers = 8
	var wg sync.WaitGroup
	results := make([]*SubmitOrderResult, buyers)
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := eng.SubmitOrder(context.Background(), submitReq("0xbuyer", model.OrderSideBuy, "10", "500", 0))
			if err != nil {
				t.Errorf("SubmitOrder: %v", err)
				return
			}
			results[i] = res
		}(i)
	}
	wg.Wait()

	total := decimal.Zero
	for _, res := range results {
		if res == nil {
			continue
		}
		for _, m := range res.Matches {
			total = total.Add(m.Quantity)
		}
	}
	if !total.Equal(decimal.RequireFromString("10")) {
		t.Fatalf("matched %s against a 10-quantity maker", total)
	}
}

func TestQueueFullRejects(t *testing.T) {
	eng := New(Config{
		Workers:       1,
		QueueSize:     1,
		SweepInterval: time.Hour,
	}, repo.NewInMemoryRepo())
	// never started: the queue accepts exactly one request, then rejects
	t.Cleanup(eng.Stop)

	req := &request{kind: reqDepth, base: "WETH", quote: "USDC", depth: 1}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, _ = eng.coord.dispatch(ctx, req)

	_, err := eng.coord.dispatch(ctx, &request{kind: reqDepth, base: "WETH", quote: "USDC", depth: 1})
	if !errors.Is(err, ErrQueueFull) {
		t.Fatalf("err = %v, want ErrQueueFull", err)
	}
}

func TestStoppedEngineRejects(t *testing.T) {
	eng := New(Config{Workers: 1, QueueSize: 8, SweepInterval: time.Hour}, repo.NewInMemoryRepo())
	eng.Start(context.Background())
	eng.Stop()

	if _, err := eng.SubmitOrder(context.Background(), submitReq("0xa", model.OrderSideBuy, "1", "1", 0)); !errors.Is(err, ErrStopped) {
		t.Fatalf("submit err = %v, want ErrStopped", err)
	}
	if _, err := eng.CancelOrder(context.Background(), &CancelOrderRequest{OrderID: "x", UserAddress: "y"}); !errors.Is(err, ErrStopped) {
		t.Fatalf("cancel err = %v, want ErrStopped", err)
	}
	if _, err := eng.GetOrderBook(context.Background(), "WETH", "USDC", 1); !errors.Is(err, ErrStopped) {
		t.Fatalf("depth err = %v, want ErrStopped", err)
	}
}

func TestHealthCounters(t *testing.T) {
	eng := newTestEngine(t)

	mustSubmit(t, eng, submitReq("0xbob", model.OrderSideSell, "5", "500", 0))
	mustSubmit(t, eng, submitReq("0xalice", model.OrderSideBuy, "5", "500", 0))

	h := eng.Health()
	if !h.Healthy {
		t.Fatal("engine should report healthy")
	}
	if h.Version != Version {
		t.Fatalf("version = %s", h.Version)
	}
	if h.TotalOrders != 2 {
		t.Fatalf("total orders = %d", h.TotalOrders)
	}
	if h.TotalMatches != 1 {
		t.Fatalf("total matches = %d", h.TotalMatches)
	}

	eng.Stop()
	if eng.Health().Healthy {
		t.Fatal("stopped engine should report unhealthy")
	}
}

func TestLazyBookRebuildFromStore(t *testing.T) {
	store := repo.NewInMemoryRepo()

	eng := New(Config{Workers: 1, QueueSize: 64, SweepInterval: time.Hour}, store)
	eng.Start(context.Background())
	mustSubmit(t, eng, submitReq("0xbob", model.OrderSideSell, "10", "500", 0))
	eng.Stop()

	// a fresh engine over the same store sees the resting order
	eng2 := New(Config{Workers: 1, QueueSize: 64, SweepInterval: time.Hour}, store)
	eng2.Start(context.Background())
	t.Cleanup(eng2.Stop)

	buy := mustSubmit(t, eng2, submitReq("0xalice", model.OrderSideBuy, "10", "500", 0))
	if len(buy.Matches) != 1 {
		t.Fatalf("rebuilt book missed the resting order, matches = %d", len(buy.Matches))
	}
}

// flakyStore injects a one-shot Transaction failure over a real store.
type flakyStore struct {
	repo.IRepo
	failNext atomic.Bool
}

func (s *flakyStore) Transaction(ctx context.Context, fn func(repo.IRepo) error) error {
	if s.failNext.CompareAndSwap(true, false) {
		return errors.New("connection reset")
	}
	return s.IRepo.Transaction(ctx, fn)
}

func newFlakyEngine(t *testing.T) (*Engine, *flakyStore) {
	t.Helper()
	store := &flakyStore{IRepo: repo.NewInMemoryRepo()}
	eng := New(Config{Workers: 1, QueueSize: 64, SweepInterval: time.Hour}, store)
	eng.Start(context.Background())
	t.Cleanup(eng.Stop)
	return eng, store
}

func liveOrderOf(t *testing.T, eng *Engine, user string) *model.Order {
	t.Helper()
	live, err := eng.repo.Order().ListLive(context.Background(), "WETH", "USDC")
	if err != nil {
		t.Fatalf("ListLive: %v", err)
	}
	for _, o := range live {
		if o.UserAddress == user {
			return o
		}
	}
	t.Fatalf("no live order for %s", user)
	return nil
}

// A failed matching-pass transaction rolls the fills back but the incoming
// order is already durable; the pair book must keep tracking it so the owner
// can still cancel it.
func TestFailedMatchingPassOrderStaysCancellable(t *testing.T) {
	eng, store := newFlakyEngine(t)
	ctx := context.Background()

	mustSubmit(t, eng, submitReq("0xbob", model.OrderSideSell, "10", "500", 0))

	store.failNext.Store(true)
	if _, err := eng.SubmitOrder(ctx, submitReq("0xalice", model.OrderSideBuy, "10", "500", 0)); !errors.Is(err, ErrInternal) {
		t.Fatalf("submit err = %v, want ErrInternal", err)
	}

	buy := liveOrderOf(t, eng, "0xalice")
	if buy.Status != model.OrderStatusRevealed || !buy.RemainingQuantity.Equal(decimal.RequireFromString("10")) {
		t.Fatalf("rolled-back order status=%s remaining=%s", buy.Status, buy.RemainingQuantity)
	}

	cancelled, err := eng.CancelOrder(ctx, &CancelOrderRequest{OrderID: buy.ID, UserAddress: "0xalice"})
	if err != nil {
		t.Fatalf("owner cancel of live order: %v", err)
	}
	if cancelled.Status != model.OrderStatusCancelled {
		t.Fatalf("status = %s", cancelled.Status)
	}

	snap, err := eng.GetOrderBook(ctx, "WETH", "USDC", 10)
	if err != nil {
		t.Fatalf("GetOrderBook: %v", err)
	}
	if len(snap.Bids) != 0 {
		t.Fatalf("cancelled order still resting in rebuilt book")
	}
}

// After a failed pass the surviving order must also stay matchable for later
// incoming orders, without a restart or cache reload.
func TestFailedMatchingPassOrderStaysMatchable(t *testing.T) {
	eng, store := newFlakyEngine(t)

	mustSubmit(t, eng, submitReq("0xbob", model.OrderSideSell, "10", "500", 0))

	store.failNext.Store(true)
	if _, err := eng.SubmitOrder(context.Background(), submitReq("0xalice", model.OrderSideBuy, "10", "500", 0)); !errors.Is(err, ErrInternal) {
		t.Fatalf("submit err = %v, want ErrInternal", err)
	}

	sell := mustSubmit(t, eng, submitReq("0xcarol", model.OrderSideSell, "10", "500", 0))
	if len(sell.Matches) != 1 {
		t.Fatalf("buy invisible to matching after failed pass, matches = %d", len(sell.Matches))
	}
	m := sell.Matches[0]
	if m.BuyUser != "0xalice" || m.SellUser != "0xcarol" {
		t.Fatalf("match users = %s/%s", m.BuyUser, m.SellUser)
	}
	// the buy rested unfilled, so it is the maker and its price stands
	if !m.Quantity.Equal(decimal.RequireFromString("10")) {
		t.Fatalf("quantity = %s", m.Quantity)
	}
}
