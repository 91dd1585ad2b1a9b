// Package memory implements the record store in process. A unit of work
// holds the store lock for its whole duration and works on a copy of the
// state that replaces the live state only when the unit succeeds.
package memory

import (
	"cmp"
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/alanyoungcy/predmarket/internal/domain"
)

type positionKey struct {
	market    domain.MarketID
	predictor domain.Identity
}

type state struct {
	markets   map[domain.MarketID]domain.Market
	positions map[positionKey]domain.Position
	accounts  map[domain.Identity]uint64
	escrows   map[domain.MarketID]uint64
}

func (st *state) clone() *state {
	return &state{
		markets:   maps.Clone(st.markets),
		positions: maps.Clone(st.positions),
		accounts:  maps.Clone(st.accounts),
		escrows:   maps.Clone(st.escrows),
	}
}

// Store implements domain.RecordStore.
type Store struct {
	mu    sync.Mutex
	state *state
}

// New returns an empty Store.
func New() *Store {
	return &Store{state: &state{
		markets:   make(map[domain.MarketID]domain.Market),
		positions: make(map[positionKey]domain.Position),
		accounts:  make(map[domain.Identity]uint64),
		escrows:   make(map[domain.MarketID]uint64),
	}}
}

// Atomic runs fn against a private copy of the state. fn must only use the
// Records it is given; calling back into the Store itself would deadlock.
func (s *Store) Atomic(ctx context.Context, fn func(ctx context.Context, r domain.Records) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	work := s.state.clone()
	if err := fn(ctx, records{view{st: work}}); err != nil {
		return err
	}
	s.state = work
	return nil
}

func (s *Store) Markets() domain.MarketStore     { return marketStore{view{s: s}} }
func (s *Store) Positions() domain.PositionStore { return positionStore{view{s: s}} }
func (s *Store) Custody() domain.Custody         { return custody{view{s: s}} }

// view resolves to the unit-of-work state when st is set and to the live
// state, under the store lock, otherwise.
type view struct {
	s  *Store
	st *state
}

func (v view) with(fn func(st *state) error) error {
	if v.st != nil {
		return fn(v.st)
	}
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	return fn(v.s.state)
}

type records struct{ v view }

func (r records) Markets() domain.MarketStore     { return marketStore{r.v} }
func (r records) Positions() domain.PositionStore { return positionStore{r.v} }
func (r records) Custody() domain.Custody         { return custody{r.v} }

type marketStore struct{ v view }

func (m marketStore) Create(_ context.Context, mk domain.Market) error {
	return m.v.with(func(st *state) error {
		if _, ok := st.markets[mk.ID]; ok {
			return domain.ErrMarketExists
		}
		st.markets[mk.ID] = mk
		return nil
	})
}

func (m marketStore) Get(_ context.Context, id domain.MarketID) (domain.Market, error) {
	var out domain.Market
	err := m.v.with(func(st *state) error {
		mk, ok := st.markets[id]
		if !ok {
			return domain.ErrMarketNotFound
		}
		out = mk
		return nil
	})
	return out, err
}

func (m marketStore) Update(_ context.Context, mk domain.Market) error {
	return m.v.with(func(st *state) error {
		if _, ok := st.markets[mk.ID]; !ok {
			return domain.ErrMarketNotFound
		}
		st.markets[mk.ID] = mk
		return nil
	})
}

func (m marketStore) List(_ context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	var out []domain.Market
	err := m.v.with(func(st *state) error {
		for _, mk := range st.markets {
			if inRange(mk.CreatedAt, opts) {
				out = append(out, mk)
			}
		}
		return nil
	})
	slices.SortFunc(out, func(a, b domain.Market) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	return page(out, opts), err
}

func (m marketStore) ListResolvedBefore(_ context.Context, before time.Time, limit int) ([]domain.Market, error) {
	var out []domain.Market
	err := m.v.with(func(st *state) error {
		for _, mk := range st.markets {
			if mk.Resolution.IsResolved() && mk.ResolvedAt.Before(before) {
				out = append(out, mk)
			}
		}
		return nil
	})
	slices.SortFunc(out, func(a, b domain.Market) int {
		if c := a.ResolvedAt.Compare(b.ResolvedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return page(out, domain.ListOpts{Limit: limit}), err
}

type positionStore struct{ v view }

func (p positionStore) Create(_ context.Context, pos domain.Position) error {
	return p.v.with(func(st *state) error {
		if _, ok := st.markets[pos.MarketID]; !ok {
			return domain.ErrMarketNotFound
		}
		k := positionKey{pos.MarketID, pos.Predictor}
		if _, ok := st.positions[k]; ok {
			return domain.ErrPositionExists
		}
		st.positions[k] = pos
		return nil
	})
}

func (p positionStore) Get(_ context.Context, id domain.MarketID, predictor domain.Identity) (domain.Position, error) {
	var out domain.Position
	err := p.v.with(func(st *state) error {
		pos, ok := st.positions[positionKey{id, predictor}]
		if !ok {
			return domain.ErrPositionNotFound
		}
		out = pos
		return nil
	})
	return out, err
}

func (p positionStore) Update(_ context.Context, pos domain.Position) error {
	return p.v.with(func(st *state) error {
		k := positionKey{pos.MarketID, pos.Predictor}
		if _, ok := st.positions[k]; !ok {
			return domain.ErrPositionNotFound
		}
		st.positions[k] = pos
		return nil
	})
}

func (p positionStore) ListByMarket(_ context.Context, id domain.MarketID, opts domain.ListOpts) ([]domain.Position, error) {
	var out []domain.Position
	err := p.v.with(func(st *state) error {
		for k, pos := range st.positions {
			if k.market == id && inRange(pos.CreatedAt, opts) {
				out = append(out, pos)
			}
		}
		return nil
	})
	slices.SortFunc(out, func(a, b domain.Position) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.Predictor, b.Predictor)
	})
	return page(out, opts), err
}

type custody struct{ v view }

func (c custody) Credit(_ context.Context, account domain.Identity, amount uint64) error {
	return c.v.with(func(st *state) error {
		bal := st.accounts[account]
		if bal+amount < bal {
			return domain.ErrInvalidAmount
		}
		st.accounts[account] = bal + amount
		return nil
	})
}

func (c custody) Balance(_ context.Context, account domain.Identity) (uint64, error) {
	var bal uint64
	err := c.v.with(func(st *state) error {
		bal = st.accounts[account]
		return nil
	})
	return bal, err
}

func (c custody) Escrow(_ context.Context, from domain.Identity, id domain.MarketID, amount uint64) error {
	return c.v.with(func(st *state) error {
		bal := st.accounts[from]
		if bal < amount {
			return domain.ErrInsufficientFunds
		}
		esc := st.escrows[id]
		if esc+amount < esc {
			return domain.ErrInvalidAmount
		}
		st.accounts[from] = bal - amount
		st.escrows[id] = esc + amount
		return nil
	})
}

func (c custody) Release(_ context.Context, id domain.MarketID, to domain.Identity, amount uint64) error {
	return c.v.with(func(st *state) error {
		esc := st.escrows[id]
		if esc < amount {
			return domain.ErrInsufficientFunds
		}
		bal := st.accounts[to]
		if bal+amount < bal {
			return domain.ErrInvalidAmount
		}
		st.escrows[id] = esc - amount
		st.accounts[to] = bal + amount
		return nil
	})
}

func (c custody) EscrowBalance(_ context.Context, id domain.MarketID) (uint64, error) {
	var bal uint64
	err := c.v.with(func(st *state) error {
		bal = st.escrows[id]
		return nil
	})
	return bal, err
}

func inRange(t time.Time, opts domain.ListOpts) bool {
	if opts.Since != nil && t.Before(*opts.Since) {
		return false
	}
	if opts.Until != nil && t.After(*opts.Until) {
		return false
	}
	return true
}

func page[T any](items []T, opts domain.ListOpts) []T {
	if opts.Offset > 0 {
		if opts.Offset >= len(items) {
			return nil
		}
		items = items[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(items) {
		items = items[:opts.Limit]
	}
	return items
}

// Compile-time interface checks.
var (
	_ domain.RecordStore   = (*Store)(nil)
	_ domain.MarketStore   = marketStore{}
	_ domain.PositionStore = positionStore{}
	_ domain.Custody       = custody{}
)
