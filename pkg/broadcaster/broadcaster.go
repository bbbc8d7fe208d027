// Package broadcaster fans committed match events out to streaming
// subscribers. Each subscriber owns a bounded buffer; one that cannot keep up
// is disconnected rather than allowed to stall a matching worker.
package broadcaster

import (
	"sync"
	"sync/atomic"

	"github.com/joripage/darkpool-engine/pkg/engine/model"
	"go.uber.org/zap"
)

const DefaultBuffer = 64

// Filter selects which matches a subscriber receives. Zero-value fields are
// wildcards; UserAddress matches buyer or seller.
type Filter struct {
	BaseToken   string
	QuoteToken  string
	UserAddress string
}

func (f Filter) Matches(m *model.Match) bool {
	if f.BaseToken != "" && f.BaseToken != m.BaseToken {
		return false
	}
	if f.QuoteToken != "" && f.QuoteToken != m.QuoteToken {
		return false
	}
	if f.UserAddress != "" && f.UserAddress != m.BuyUser && f.UserAddress != m.SellUser {
		return false
	}
	return true
}

type Subscription struct {
	id     uint64
	filter Filter
	ch     chan *model.Match
	done   chan struct{}
	b      *Broadcaster

	closeOnce sync.Once
	dropped   atomic.Bool
}

// C delivers matches passing the subscription filter in commit order. It is
// closed when the subscription is cancelled or dropped.
func (s *Subscription) C() <-chan *model.Match {
	return s.ch
}

// Done is closed once the subscription ends, whoever ended it. Safe to
// select on alongside an external context.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Dropped reports whether the bus disconnected this subscriber for falling
// behind. Safe to poll concurrently with Publish.
func (s *Subscription) Dropped() bool {
	return s.dropped.Load()
}

// Close cancels the subscription.
func (s *Subscription) Close() {
	s.b.unsubscribe(s.id)
}

func (s *Subscription) shutdown() {
	s.closeOnce.Do(func() {
		close(s.ch)
		close(s.done)
	})
}

type Broadcaster struct {
	mu     sync.Mutex
	subs   map[uint64]*Subscription
	nextID uint64
	buffer int
	closed bool
}

func New(buffer int) *Broadcaster {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Broadcaster{
		subs:   make(map[uint64]*Subscription),
		buffer: buffer,
	}
}

// Subscribe registers a new subscriber. The returned subscription must be
// closed by the caller when done.
func (b *Broadcaster) Subscribe(filter Filter) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &Subscription{
		id:     b.nextID,
		filter: filter,
		ch:     make(chan *model.Match, b.buffer),
		done:   make(chan struct{}),
		b:      b,
	}
	if b.closed {
		sub.shutdown()
		return sub
	}
	b.subs[sub.id] = sub
	return sub
}

// Publish delivers one committed match to every matching subscriber. It never
// blocks: a subscriber with a full buffer is dropped and its channel closed.
// Must be called after the match's persistence transaction has committed.
func (b *Broadcaster) Publish(m *model.Match) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, sub := range b.subs {
		if !sub.filter.Matches(m) {
			continue
		}
		select {
		case sub.ch <- m:
		default:
			zap.S().Warnw("dropping slow match subscriber",
				"subscriber_id", id, "pair", m.Pair())
			sub.dropped.Store(true)
			delete(b.subs, id)
			sub.shutdown()
		}
	}
}

func (b *Broadcaster) unsubscribe(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub, ok := b.subs[id]; ok {
		delete(b.subs, id)
		sub.shutdown()
	}
}

// Close disconnects every subscriber.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for id, sub := range b.subs {
		delete(b.subs, id)
		sub.shutdown()
	}
}

// Len reports the number of active subscribers.
func (b *Broadcaster) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
