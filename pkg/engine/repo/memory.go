package repo

import (
	"context"
	"sort"
	"sync"

	"github.com/joripage/darkpool-engine/pkg/engine/model"
)

// InMemoryRepo is a map-backed IRepo used by the engine test suite and local
// runs without postgres. Transaction holds the store lock for its whole
// extent, takes a snapshot and restores it on error, mirroring the
// all-or-nothing behavior of the SQL store.
type InMemoryRepo struct {
	mu      sync.RWMutex
	orders  map[string]*model.Order
	matches map[string]*model.Match
}

func NewInMemoryRepo() *InMemoryRepo {
	return &InMemoryRepo{
		orders:  make(map[string]*model.Order),
		matches: make(map[string]*model.Match),
	}
}

func (r *InMemoryRepo) Order() IOrder {
	return &memOrderRepo{r: r, locked: true}
}

func (r *InMemoryRepo) Match() IMatch {
	return &memMatchRepo{r: r, locked: true}
}

func (r *InMemoryRepo) Transaction(ctx context.Context, fn func(IRepo) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ordersSnap := make(map[string]*model.Order, len(r.orders))
	for k, v := range r.orders {
		cp := *v
		ordersSnap[k] = &cp
	}
	matchesSnap := make(map[string]*model.Match, len(r.matches))
	for k, v := range r.matches {
		cp := *v
		matchesSnap[k] = &cp
	}

	// fn sees an unlocked view; the store lock is already held here
	if err := fn(&txRepo{r: r}); err != nil {
		r.orders = ordersSnap
		r.matches = matchesSnap
		return err
	}
	return nil
}

// txRepo is the view handed to Transaction callbacks: same maps, no locking.
type txRepo struct {
	r *InMemoryRepo
}

func (t *txRepo) Order() IOrder {
	return &memOrderRepo{r: t.r}
}

func (t *txRepo) Match() IMatch {
	return &memMatchRepo{r: t.r}
}

func (t *txRepo) Transaction(ctx context.Context, fn func(IRepo) error) error {
	return fn(t)
}

type memOrderRepo struct {
	r      *InMemoryRepo
	locked bool
}

func (s *memOrderRepo) lock() func() {
	if !s.locked {
		return func() {}
	}
	s.r.mu.Lock()
	return s.r.mu.Unlock
}

func (s *memOrderRepo) rlock() func() {
	if !s.locked {
		return func() {}
	}
	s.r.mu.RLock()
	return s.r.mu.RUnlock
}

func (s *memOrderRepo) Create(ctx context.Context, record *model.Order) error {
	defer s.lock()()
	cp := *record
	s.r.orders[record.ID] = &cp
	return nil
}

func (s *memOrderRepo) Update(ctx context.Context, record *model.Order) error {
	defer s.lock()()
	if _, ok := s.r.orders[record.ID]; !ok {
		return ErrNotFound
	}
	cp := *record
	s.r.orders[record.ID] = &cp
	return nil
}

func (s *memOrderRepo) GetByID(ctx context.Context, id string) (*model.Order, error) {
	defer s.rlock()()
	record, ok := s.r.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *record
	return &cp, nil
}

func (s *memOrderRepo) ListLive(ctx context.Context, baseToken, quoteToken string) ([]*model.Order, error) {
	defer s.rlock()()
	var out []*model.Order
	for _, record := range s.r.orders {
		if record.BaseToken == baseToken && record.QuoteToken == quoteToken && record.Status.Live() {
			cp := *record
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

type memMatchRepo struct {
	r      *InMemoryRepo
	locked bool
}

func (s *memMatchRepo) lock() func() {
	if !s.locked {
		return func() {}
	}
	s.r.mu.Lock()
	return s.r.mu.Unlock
}

func (s *memMatchRepo) rlock() func() {
	if !s.locked {
		return func() {}
	}
	s.r.mu.RLock()
	return s.r.mu.RUnlock
}

func (s *memMatchRepo) Create(ctx context.Context, record *model.Match) error {
	defer s.lock()()
	cp := *record
	s.r.matches[record.ID] = &cp
	return nil
}

func (s *memMatchRepo) GetByID(ctx context.Context, id string) (*model.Match, error) {
	defer s.rlock()()
	record, ok := s.r.matches[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *record
	return &cp, nil
}

func (s *memMatchRepo) UpdateSettlement(ctx context.Context, record *model.Match, from model.SettlementStatus) error {
	defer s.lock()()
	existing, ok := s.r.matches[record.ID]
	if !ok || existing.SettlementStatus != from {
		return ErrNotFound
	}
	existing.SettlementStatus = record.SettlementStatus
	existing.SettledAt = record.SettledAt
	return nil
}

func (s *memMatchRepo) ListBySettlementStatus(ctx context.Context, status model.SettlementStatus, limit int) ([]*model.Match, error) {
	defer s.rlock()()
	var out []*model.Match
	for _, record := range s.r.matches {
		if record.SettlementStatus == status {
			cp := *record
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MatchedAt.Before(out[j].MatchedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
