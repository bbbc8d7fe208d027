package orderbook

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func bandOrder(id string, side Side, price, qty string, varianceBps int64, at time.Time) *Order {
	p := dec(price)
	delta := p.Mul(decimal.NewFromInt(varianceBps)).Div(decimal.NewFromInt(10000))
	return &Order{
		ID:        id,
		Side:      side,
		Price:     p,
		MinPrice:  p.Sub(delta),
		MaxPrice:  p.Add(delta),
		Remaining: dec(qty),
		CreatedAt: at,
	}
}

// BUY 1000 @ 500 with 100 bps band [495, 505] sweeps SELL 600 @ 498 then
// SELL 400 @ 502 and ends fully filled.
func TestVarianceBandSweep(t *testing.T) {
	b := NewBook("T1/T2")
	now := time.Now()

	_ = b.Insert(bandOrder("S1", SELL, "498", "600", 0, now))
	_ = b.Insert(bandOrder("S2", SELL, "502", "400", 0, now))

	buy := bandOrder("B1", BUY, "500", "1000", 100, now)
	fills := b.PlanMatches(buy, now)

	if len(fills) != 2 {
		t.Fatalf("expected 2 fills, got %d: %+v", len(fills), fills)
	}
	if fills[0].MakerID != "S1" || !fills[0].Price.Equal(dec("498")) || !fills[0].Quantity.Equal(dec("600")) {
		t.Errorf("first fill wrong: %+v", fills[0])
	}
	if fills[1].MakerID != "S2" || !fills[1].Price.Equal(dec("502")) || !fills[1].Quantity.Equal(dec("400")) {
		t.Errorf("second fill wrong: %+v", fills[1])
	}

	if err := b.Commit(buy, fills); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if !buy.Remaining.IsZero() {
		t.Errorf("incoming not fully filled: %s left", buy.Remaining)
	}
	if b.Len() != 0 {
		t.Errorf("expected empty book after sweep, got %d orders", b.Len())
	}
}

// A SELL priced just outside the incoming band must remain resting.
func TestOutOfBandRests(t *testing.T) {
	b := NewBook("T1/T2")
	now := time.Now()

	_ = b.Insert(bandOrder("S1", SELL, "510", "500", 0, now))

	buy := bandOrder("B1", BUY, "500", "1000", 100, now) // band [495, 505]
	fills := b.PlanMatches(buy, now)
	if len(fills) != 0 {
		t.Fatalf("expected no fills, got %+v", fills)
	}

	if err := b.Commit(buy, nil); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if _, ok := b.Get("S1"); !ok {
		t.Errorf("S1 should still rest")
	}
	if _, ok := b.Get("B1"); !ok {
		t.Errorf("unmatched incoming should rest")
	}
}

// Zero variance only matches counter-orders at exactly the stated price.
func TestZeroVarianceExactPrice(t *testing.T) {
	b := NewBook("T1/T2")
	now := time.Now()

	_ = b.Insert(bandOrder("S1", SELL, "99.99", "10", 0, now))
	_ = b.Insert(bandOrder("S2", SELL, "100", "10", 0, now))
	_ = b.Insert(bandOrder("S3", SELL, "100.01", "10", 0, now))

	buy := bandOrder("B1", BUY, "100", "30", 0, now)
	fills := b.PlanMatches(buy, now)

	if len(fills) != 1 || fills[0].MakerID != "S2" || !fills[0].Price.Equal(dec("100")) {
		t.Fatalf("expected single exact-price fill against S2, got %+v", fills)
	}
}

// Cheaper asks below the band are skipped, not matched.
func TestBelowBandSkipped(t *testing.T) {
	b := NewBook("T1/T2")
	now := time.Now()

	_ = b.Insert(bandOrder("S1", SELL, "490", "100", 0, now)) // below [495, 505]
	_ = b.Insert(bandOrder("S2", SELL, "500", "100", 0, now))

	buy := bandOrder("B1", BUY, "500", "100", 100, now)
	fills := b.PlanMatches(buy, now)

	if len(fills) != 1 || fills[0].MakerID != "S2" {
		t.Fatalf("expected fill against S2 only, got %+v", fills)
	}
}

// Among equal prices, the earlier-created order is matched first.
func TestPriceTimePriority(t *testing.T) {
	b := NewBook("T1/T2")
	now := time.Now()

	_ = b.Insert(bandOrder("S1", SELL, "100", "5", 0, now))
	_ = b.Insert(bandOrder("S2", SELL, "100", "5", 0, now.Add(time.Millisecond)))

	buy := bandOrder("B1", BUY, "100", "7", 0, now.Add(time.Second))
	fills := b.PlanMatches(buy, now.Add(time.Second))

	if len(fills) != 2 {
		t.Fatalf("expected 2 fills, got %+v", fills)
	}
	if fills[0].MakerID != "S1" || !fills[0].Quantity.Equal(dec("5")) {
		t.Errorf("S1 should fill first: %+v", fills[0])
	}
	if fills[1].MakerID != "S2" || !fills[1].Quantity.Equal(dec("2")) {
		t.Errorf("S2 should take the remainder: %+v", fills[1])
	}
}

func TestSellIncomingAgainstBids(t *testing.T) {
	b := NewBook("T1/T2")
	now := time.Now()

	_ = b.Insert(bandOrder("B1", BUY, "505", "300", 0, now))
	_ = b.Insert(bandOrder("B2", BUY, "499", "300", 0, now))
	_ = b.Insert(bandOrder("B3", BUY, "480", "300", 0, now)) // below seller band

	sell := bandOrder("X1", SELL, "500", "700", 100, now) // band [495, 505]
	fills := b.PlanMatches(sell, now)

	if len(fills) != 2 {
		t.Fatalf("expected 2 fills, got %+v", fills)
	}
	if fills[0].MakerID != "B1" || !fills[0].Price.Equal(dec("505")) {
		t.Errorf("best bid should set first price: %+v", fills[0])
	}
	if fills[1].MakerID != "B2" || !fills[1].Quantity.Equal(dec("300")) {
		t.Errorf("second fill wrong: %+v", fills[1])
	}
}

// Partial pass: maker keeps the remainder and its queue position.
func TestPartialMakerFill(t *testing.T) {
	b := NewBook("T1/T2")
	now := time.Now()

	_ = b.Insert(bandOrder("S1", SELL, "100", "10", 0, now))

	buy := bandOrder("B1", BUY, "100", "4", 0, now)
	fills := b.PlanMatches(buy, now)
	if err := b.Commit(buy, fills); err != nil {
		t.Fatalf("commit: %v", err)
	}

	maker, ok := b.Get("S1")
	if !ok {
		t.Fatalf("maker evicted on partial fill")
	}
	if !maker.Remaining.Equal(dec("6")) {
		t.Errorf("expected remaining 6, got %s", maker.Remaining)
	}
	if _, ok := b.Get("B1"); ok {
		t.Errorf("fully filled incoming must not rest")
	}
}

// Fill planning never claims more than a maker's remaining quantity even when
// several levels are swept.
func TestNoOverclaim(t *testing.T) {
	b := NewBook("T1/T2")
	now := time.Now()

	_ = b.Insert(bandOrder("S1", SELL, "100", "3", 0, now))
	_ = b.Insert(bandOrder("S2", SELL, "101", "3", 0, now))

	buy := bandOrder("B1", BUY, "100.5", "100", 100, now)
	fills := b.PlanMatches(buy, now)

	total := decimal.Zero
	for _, f := range fills {
		maker, _ := b.Get(f.MakerID)
		if f.Quantity.GreaterThan(maker.Remaining) {
			t.Errorf("fill %+v exceeds maker remaining %s", f, maker.Remaining)
		}
		total = total.Add(f.Quantity)
	}
	if !total.Equal(dec("6")) {
		t.Errorf("expected total 6 filled, got %s", total)
	}
}

func TestExpiredMakerSkipped(t *testing.T) {
	b := NewBook("T1/T2")
	now := time.Now()
	past := now.Add(-time.Minute)

	stale := bandOrder("S1", SELL, "100", "10", 0, past)
	stale.ExpiresAt = &past
	_ = b.Insert(stale)
	_ = b.Insert(bandOrder("S2", SELL, "100", "10", 0, now))

	buy := bandOrder("B1", BUY, "100", "10", 0, now)
	fills := b.PlanMatches(buy, now)

	if len(fills) != 1 || fills[0].MakerID != "S2" {
		t.Fatalf("expected expired maker skipped, got %+v", fills)
	}
}

func TestExpiredIncomingNeverMatches(t *testing.T) {
	b := NewBook("T1/T2")
	now := time.Now()
	past := now.Add(-time.Minute)

	_ = b.Insert(bandOrder("S1", SELL, "100", "10", 0, now))

	buy := bandOrder("B1", BUY, "100", "10", 0, past)
	buy.ExpiresAt = &past
	if fills := b.PlanMatches(buy, now); len(fills) != 0 {
		t.Fatalf("expired incoming must not match, got %+v", fills)
	}
}
