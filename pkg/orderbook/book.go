package orderbook

import (
	"sort"
	"time"

	"github.com/gammazero/deque"
	"github.com/shopspring/decimal"
)

// priceLevel holds the FIFO queue of resting orders at one price.
type priceLevel struct {
	price decimal.Decimal
	queue *deque.Deque[*Order]
}

func (l *priceLevel) total() decimal.Decimal {
	sum := decimal.Zero
	for i := 0; i < l.queue.Len(); i++ {
		sum = sum.Add(l.queue.At(i).Remaining)
	}
	return sum
}

// bookSide keeps price levels sorted best-first: descending for bids,
// ascending for asks. Within a level, earlier submission wins.
type bookSide struct {
	side   Side
	levels []*priceLevel
}

func newBookSide(side Side) *bookSide {
	return &bookSide{side: side}
}

// better reports whether price a ranks before price b on this side.
func (s *bookSide) better(a, b decimal.Decimal) bool {
	if s.side == BUY {
		return a.GreaterThan(b)
	}
	return a.LessThan(b)
}

func (s *bookSide) findLevel(price decimal.Decimal) (int, bool) {
	i := sort.Search(len(s.levels), func(i int) bool {
		return !s.better(s.levels[i].price, price)
	})
	if i < len(s.levels) && s.levels[i].price.Equal(price) {
		return i, true
	}
	return i, false
}

func (s *bookSide) insert(o *Order) {
	i, ok := s.findLevel(o.Price)
	if !ok {
		lvl := &priceLevel{price: o.Price, queue: &deque.Deque[*Order]{}}
		s.levels = append(s.levels, nil)
		copy(s.levels[i+1:], s.levels[i:])
		s.levels[i] = lvl
	}
	s.levels[i].queue.PushBack(o)
}

func (s *bookSide) remove(o *Order) bool {
	i, ok := s.findLevel(o.Price)
	if !ok {
		return false
	}
	q := s.levels[i].queue
	for j := 0; j < q.Len(); j++ {
		if q.At(j).ID == o.ID {
			q.Remove(j)
			if q.Len() == 0 {
				s.levels = append(s.levels[:i], s.levels[i+1:]...)
			}
			return true
		}
	}
	return false
}

// Level is one aggregated depth entry.
type Level struct {
	Price    decimal.Decimal
	Quantity decimal.Decimal
	Orders   int
}

// Book holds the live orders of one trading pair, both sides in price-time
// priority. It is owned by exactly one worker; no internal locking.
type Book struct {
	pair string
	bids *bookSide
	asks *bookSide
	byID map[string]*Order
}

func NewBook(pair string) *Book {
	return &Book{
		pair: pair,
		bids: newBookSide(BUY),
		asks: newBookSide(SELL),
		byID: make(map[string]*Order),
	}
}

func (b *Book) Pair() string {
	return b.pair
}

func (b *Book) Len() int {
	return len(b.byID)
}

func (b *Book) sideOf(s Side) *bookSide {
	if s == BUY {
		return b.bids
	}
	return b.asks
}

// Insert rests an order on its side.
func (b *Book) Insert(o *Order) error {
	if _, ok := b.byID[o.ID]; ok {
		return ErrDuplicateOrder
	}
	b.sideOf(o.Side).insert(o)
	b.byID[o.ID] = o
	return nil
}

// Remove evicts an order on cancel, full fill or expiry.
func (b *Book) Remove(orderID string) error {
	o, ok := b.byID[orderID]
	if !ok {
		return ErrOrderNotFound
	}
	b.sideOf(o.Side).remove(o)
	delete(b.byID, orderID)
	return nil
}

// Get returns the resting order with the given id, if any.
func (b *Book) Get(orderID string) (*Order, bool) {
	o, ok := b.byID[orderID]
	return o, ok
}

// Depth aggregates up to max price levels of one side, best price first.
func (b *Book) Depth(side Side, max int) []Level {
	s := b.sideOf(side)
	n := len(s.levels)
	if max > 0 && max < n {
		n = max
	}
	out := make([]Level, 0, n)
	for _, lvl := range s.levels[:n] {
		out = append(out, Level{
			Price:    lvl.price,
			Quantity: lvl.total(),
			Orders:   lvl.queue.Len(),
		})
	}
	return out
}

// Expired collects resting orders whose expiry has passed, for the periodic
// sweep. The caller decides how to evict and persist them.
func (b *Book) Expired(now time.Time) []*Order {
	var out []*Order
	for _, o := range b.byID {
		if o.Expired(now) {
			out = append(out, o)
		}
	}
	return out
}
