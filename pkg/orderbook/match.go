package orderbook

import (
	"time"

	"github.com/shopspring/decimal"
)

// Fill is one planned execution against a resting maker order. The maker's
// limit price is the execution price; the incoming order is the taker.
type Fill struct {
	MakerID  string
	Price    decimal.Decimal
	Quantity decimal.Decimal
}

// PlanMatches runs one matching pass for an incoming order against the
// opposite side and returns the planned fills. Nothing is mutated: the caller
// persists the pass first and then applies it with Commit, so a failed
// transaction leaves book and orders untouched.
//
// A resting candidate is eligible iff its limit price lies inside the
// incoming order's variance band. Execution happens at the resting price, so
// this keeps every fill inside both orders' bands (the resting price is in
// its own band trivially). The eligible prices form one contiguous interval,
// which lets the scan skip levels priced before the band and stop at the
// first level past it.
func (b *Book) PlanMatches(incoming *Order, now time.Time) []Fill {
	if incoming.Expired(now) {
		return nil
	}

	var fills []Fill
	remaining := incoming.Remaining
	counter := b.sideOf(incoming.Side.Opposite())

	for _, lvl := range counter.levels {
		if remaining.IsZero() {
			break
		}
		if beyondBand(incoming, lvl.price) {
			break
		}
		if !incoming.InBand(lvl.price) {
			continue
		}
		for i := 0; i < lvl.queue.Len() && remaining.GreaterThan(decimal.Zero); i++ {
			maker := lvl.queue.At(i)
			if maker.Expired(now) {
				continue
			}
			qty := decimal.Min(remaining, maker.Remaining)
			if qty.IsZero() {
				continue
			}
			fills = append(fills, Fill{
				MakerID:  maker.ID,
				Price:    lvl.price,
				Quantity: qty,
			})
			remaining = remaining.Sub(qty)
		}
	}

	return fills
}

// beyondBand reports whether a counter-side level price is past the incoming
// band in scan direction: above MaxPrice for a BUY walking asks upward, below
// MinPrice for a SELL walking bids downward.
func beyondBand(incoming *Order, levelPrice decimal.Decimal) bool {
	if incoming.Side == BUY {
		return levelPrice.GreaterThan(incoming.MaxPrice)
	}
	return levelPrice.LessThan(incoming.MinPrice)
}

// Commit applies a persisted matching pass to the book: maker quantities are
// decremented (filled makers evicted), the incoming order's remainder rests
// on its side. Must only be called after the pass was durably committed.
func (b *Book) Commit(incoming *Order, fills []Fill) error {
	for _, f := range fills {
		maker, ok := b.byID[f.MakerID]
		if !ok {
			return ErrOrderNotFound
		}
		maker.Remaining = maker.Remaining.Sub(f.Quantity)
		incoming.Remaining = incoming.Remaining.Sub(f.Quantity)
		if maker.Remaining.IsZero() {
			if err := b.Remove(maker.ID); err != nil {
				return err
			}
		}
	}
	if incoming.Remaining.GreaterThan(decimal.Zero) {
		return b.Insert(incoming)
	}
	return nil
}
