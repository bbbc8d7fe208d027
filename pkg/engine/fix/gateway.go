package fixgw

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/joripage/darkpool-engine/pkg/broadcaster"
	"github.com/joripage/darkpool-engine/pkg/engine"
	"github.com/joripage/darkpool-engine/pkg/engine/model"
	"github.com/joripage/darkpool-engine/pkg/logging"
	"github.com/quickfixgo/enum"
	"github.com/quickfixgo/fix44/newordersingle"
	"github.com/quickfixgo/fix44/ordercancelrequest"
	"github.com/quickfixgo/quickfix"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// orderRef remembers where an order came from so execution reports can be
// pushed back to the owning session.
type orderRef struct {
	orderID   string
	clOrdID   string
	sessionID quickfix.SessionID
	account   string
	symbol    string
	side      enum.Side
	qty       decimal.Decimal
	cumQty    decimal.Decimal
}

// Gateway translates between FIX 4.4 messages and the engine service.
type Gateway struct {
	svc engine.Service

	mu        sync.RWMutex
	byOrderID map[string]*orderRef
	byClOrdID map[string]string

	streamCancel context.CancelFunc
}

func newGateway(svc engine.Service) *Gateway {
	return &Gateway{
		svc:       svc,
		byOrderID: make(map[string]*orderRef),
		byClOrdID: make(map[string]string),
	}
}

// splitSymbol parses "BASE/QUOTE" into its token pair.
func splitSymbol(symbol string) (string, string, bool) {
	parts := strings.SplitN(symbol, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

func (gw *Gateway) onNewOrderSingle(msg newordersingle.NewOrderSingle, sessionID quickfix.SessionID) quickfix.MessageRejectError {
	clOrdID, _ := msg.GetClOrdID()
	symbol, _ := msg.GetSymbol()
	side, _ := msg.GetSide()
	price, _ := msg.GetPrice()
	orderQty, _ := msg.GetOrderQty()
	account, _ := msg.GetAccount()
	pegOffset, _ := msg.GetPegOffsetValue()

	log, ctx := logging.GetLogger(logging.WithRequestID(context.Background(), clOrdID))

	base, quote, ok := splitSymbol(symbol)
	if !ok {
		gw.sendReject(sessionID, clOrdID, symbol, side, orderQty, "invalid symbol, want BASE/QUOTE")
		return nil
	}

	req := &engine.SubmitOrderRequest{
		UserAddress: account,
		Side: map[enum.Side]model.OrderSide{
			enum.Side_BUY:  model.OrderSideBuy,
			enum.Side_SELL: model.OrderSideSell,
		}[side],
		BaseToken:   base,
		QuoteToken:  quote,
		Quantity:    orderQty.String(),
		Price:       price.String(),
		VarianceBps: pegOffset.IntPart(),
	}
	if expireTime, err := msg.GetExpireTime(); err == nil && !expireTime.IsZero() {
		secs := int64(time.Until(expireTime).Seconds())
		if secs <= 0 {
			secs = 1
		}
		req.ExpiresInSeconds = secs
	}

	res, err := gw.svc.SubmitOrder(ctx, req)
	if err != nil {
		log.Warn(ctx, "order rejected", zap.Error(err))
		gw.sendReject(sessionID, clOrdID, symbol, side, orderQty, err.Error())
		return nil
	}
	log.Info(ctx, "order accepted",
		zap.String("order_id", res.Order.ID), zap.Int("matches", len(res.Matches)))

	ref := &orderRef{
		orderID:   res.Order.ID,
		clOrdID:   clOrdID,
		sessionID: sessionID,
		account:   account,
		symbol:    symbol,
		side:      side,
		qty:       res.Order.Quantity,
		cumQty:    decimal.Zero,
	}
	gw.mu.Lock()
	gw.byOrderID[ref.orderID] = ref
	gw.byClOrdID[clOrdID] = ref.orderID
	gw.mu.Unlock()

	gw.sendNew(ref)
	return nil
}

func (gw *Gateway) onOrderCancelRequest(msg ordercancelrequest.OrderCancelRequest, sessionID quickfix.SessionID) quickfix.MessageRejectError {
	clOrdID, _ := msg.GetClOrdID()
	origClOrdID, _ := msg.GetOrigClOrdID()
	account, _ := msg.GetAccount()

	gw.mu.RLock()
	orderID, ok := gw.byClOrdID[origClOrdID]
	ref := gw.byOrderID[orderID]
	gw.mu.RUnlock()
	if !ok || ref == nil {
		gw.sendCancelReject(sessionID, clOrdID, origClOrdID, "unknown order")
		return nil
	}

	log, ctx := logging.GetLogger(logging.WithRequestID(context.Background(), clOrdID))

	cancelled, err := gw.svc.CancelOrder(ctx, &engine.CancelOrderRequest{
		OrderID:     orderID,
		UserAddress: account,
	})
	if err != nil {
		log.Warn(ctx, "cancel rejected", zap.String("order_id", orderID), zap.Error(err))
		gw.sendCancelReject(sessionID, clOrdID, origClOrdID, err.Error())
		return nil
	}

	gw.sendCancelled(ref, cancelled)
	return nil
}

// startMatchStream subscribes to all committed matches and pushes fill
// reports to the sessions that own each side.
func (gw *Gateway) startMatchStream() {
	ctx, cancel := context.WithCancel(context.Background())
	gw.streamCancel = cancel

	sub, err := gw.svc.StreamMatches(ctx, broadcaster.Filter{})
	if err != nil {
		zap.S().Errorw("subscribe match stream fail", "err", err)
		cancel()
		return
	}

	go func() {
		for m := range sub.C() {
			gw.onMatch(m)
		}
	}()
}

func (gw *Gateway) stopMatchStream() {
	if gw.streamCancel != nil {
		gw.streamCancel()
	}
}

func (gw *Gateway) onMatch(m *model.Match) {
	for _, orderID := range []string{m.BuyOrderID, m.SellOrderID} {
		gw.mu.Lock()
		ref, ok := gw.byOrderID[orderID]
		if ok {
			ref.cumQty = ref.cumQty.Add(m.Quantity)
		}
		gw.mu.Unlock()
		if !ok {
			continue
		}
		gw.sendFill(ref, m)
	}
}
