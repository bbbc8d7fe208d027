package fixgw

import (
	"time"

	"github.com/google/uuid"
	"github.com/joripage/darkpool-engine/pkg/engine/model"
	"github.com/quickfixgo/enum"
	"github.com/quickfixgo/field"
	"github.com/quickfixgo/fix44/executionreport"
	"github.com/quickfixgo/fix44/ordercancelreject"
	"github.com/quickfixgo/quickfix"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const qtyScale = 8

func (gw *Gateway) sendNew(ref *orderRef) {
	msg := executionreport.New(
		field.NewOrderID(ref.orderID),
		field.NewExecID(uuid.NewString()),
		field.NewExecType(enum.ExecType_NEW),
		field.NewOrdStatus(enum.OrdStatus_NEW),
		field.NewSide(ref.side),
		field.NewLeavesQty(ref.qty, qtyScale),
		field.NewCumQty(decimal.Zero, qtyScale),
		field.NewAvgPx(decimal.Zero, qtyScale),
	)
	msg.SetClOrdID(ref.clOrdID)
	msg.SetSymbol(ref.symbol)
	msg.SetAccount(ref.account)
	msg.SetOrderQty(ref.qty, qtyScale)
	msg.SetTransactTime(time.Now())

	gw.send(msg, ref.sessionID)
}

func (gw *Gateway) sendReject(sessionID quickfix.SessionID, clOrdID, symbol string, side enum.Side, qty decimal.Decimal, reason string) {
	msg := executionreport.New(
		field.NewOrderID("NONE"),
		field.NewExecID(uuid.NewString()),
		field.NewExecType(enum.ExecType_REJECTED),
		field.NewOrdStatus(enum.OrdStatus_REJECTED),
		field.NewSide(side),
		field.NewLeavesQty(decimal.Zero, qtyScale),
		field.NewCumQty(decimal.Zero, qtyScale),
		field.NewAvgPx(decimal.Zero, qtyScale),
	)
	msg.SetClOrdID(clOrdID)
	msg.SetSymbol(symbol)
	msg.SetOrderQty(qty, qtyScale)
	msg.SetText(reason)
	msg.SetTransactTime(time.Now())

	gw.send(msg, sessionID)
}

func (gw *Gateway) sendCancelled(ref *orderRef, order *model.Order) {
	msg := executionreport.New(
		field.NewOrderID(ref.orderID),
		field.NewExecID(uuid.NewString()),
		field.NewExecType(enum.ExecType_CANCELED),
		field.NewOrdStatus(enum.OrdStatus_CANCELED),
		field.NewSide(ref.side),
		field.NewLeavesQty(decimal.Zero, qtyScale),
		field.NewCumQty(order.FilledQuantity, qtyScale),
		field.NewAvgPx(decimal.Zero, qtyScale),
	)
	msg.SetClOrdID(ref.clOrdID)
	msg.SetSymbol(ref.symbol)
	msg.SetAccount(ref.account)
	msg.SetOrderQty(ref.qty, qtyScale)
	msg.SetTransactTime(time.Now())

	gw.send(msg, ref.sessionID)
}

func (gw *Gateway) sendCancelReject(sessionID quickfix.SessionID, clOrdID, origClOrdID, reason string) {
	msg := ordercancelreject.New(
		field.NewOrderID("NONE"),
		field.NewClOrdID(clOrdID),
		field.NewOrigClOrdID(origClOrdID),
		field.NewOrdStatus(enum.OrdStatus_REJECTED),
		field.NewCxlRejResponseTo(enum.CxlRejResponseTo_ORDER_CANCEL_REQUEST),
	)
	msg.SetText(reason)

	gw.send(msg, sessionID)
}

func (gw *Gateway) sendFill(ref *orderRef, m *model.Match) {
	leaves := ref.qty.Sub(ref.cumQty)
	if leaves.IsNegative() {
		leaves = decimal.Zero
	}
	ordStatus := enum.OrdStatus_PARTIALLY_FILLED
	execType := enum.ExecType_PARTIAL_FILL
	if leaves.IsZero() {
		ordStatus = enum.OrdStatus_FILLED
		execType = enum.ExecType_FILL
	}

	msg := executionreport.New(
		field.NewOrderID(ref.orderID),
		field.NewExecID(uuid.NewString()),
		field.NewExecType(execType),
		field.NewOrdStatus(ordStatus),
		field.NewSide(ref.side),
		field.NewLeavesQty(leaves, qtyScale),
		field.NewCumQty(ref.cumQty, qtyScale),
		field.NewAvgPx(m.Price, qtyScale),
	)
	msg.SetClOrdID(ref.clOrdID)
	msg.SetSymbol(ref.symbol)
	msg.SetAccount(ref.account)
	msg.SetOrderQty(ref.qty, qtyScale)
	msg.SetLastQty(m.Quantity, qtyScale)
	msg.SetLastPx(m.Price, qtyScale)
	msg.SetTransactTime(m.MatchedAt)

	gw.send(msg, ref.sessionID)
}

func (gw *Gateway) send(msg quickfix.Messagable, sessionID quickfix.SessionID) {
	if err := quickfix.SendToTarget(msg, sessionID); err != nil {
		zap.S().Warnw("send fix message fail", "err", err)
	}
}
