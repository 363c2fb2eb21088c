package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/seantiz/ragserve/internal/metrics"
)

// Pool strategies.
const (
	StrategyRoundRobin = "round_robin"
	StrategyCheckout   = "checkout"
)

// ErrNoSlots is returned when a pool is asked for zero slots.
var ErrNoSlots = errors.New("engine pool needs at least one slot")

// Slot is one pooled engine.
type Slot struct {
	Index  int
	Engine Engine
	pool   Pool
}

// Release hands the slot back to its pool.
func (s *Slot) Release() {
	if s.pool != nil {
		s.pool.Release(s)
	}
}

// Pool hands out engine slots.
type Pool interface {
	// Acquire returns the next slot. Round-robin pools never block;
	// checkout pools wait for a free slot until ctx is done.
	Acquire(ctx context.Context) (*Slot, error)
	Release(s *Slot)
	Size() int
}

// Builder constructs the engine for slot i.
type Builder func(ctx context.Context, i int) (Engine, error)

// NewPool builds size engines up front and returns a pool over them using
// the named strategy.
func NewPool(ctx context.Context, strategy string, size int, build Builder, m *metrics.Collector) (Pool, error) {
	if size <= 0 {
		return nil, ErrNoSlots
	}

	engines := make([]Engine, size)
	for i := range size {
		e, err := build(ctx, i)
		if err != nil {
			return nil, fmt.Errorf("build engine %d: %w", i, err)
		}
		engines[i] = e
	}

	switch strategy {
	case StrategyRoundRobin, "":
		return NewRoundRobinPool(engines, m), nil
	case StrategyCheckout:
		return NewCheckoutPool(engines, m), nil
	default:
		return nil, fmt.Errorf("unknown pool strategy %q", strategy)
	}
}

// RoundRobinPool shares every slot between concurrent callers and hands them
// out in strict rotation.
type RoundRobinPool struct {
	mu      sync.Mutex
	slots   []*Slot
	next    int
	metrics *metrics.Collector
}

// NewRoundRobinPool wraps engines in a rotating pool. engines must not be empty.
func NewRoundRobinPool(engines []Engine, m *metrics.Collector) *RoundRobinPool {
	p := &RoundRobinPool{metrics: m}
	for i, e := range engines {
		p.slots = append(p.slots, &Slot{Index: i, Engine: e})
	}
	return p
}

// Acquire returns the slot after the previously returned one. It never blocks
// beyond the counter update and ignores ctx.
func (p *RoundRobinPool) Acquire(_ context.Context) (*Slot, error) {
	p.mu.Lock()
	s := p.slots[p.next]
	p.next = (p.next + 1) % len(p.slots)
	p.mu.Unlock()

	p.metrics.RecordSlotAcquired(s.Index)
	return s, nil
}

// Release is a no-op; slots stay shared.
func (p *RoundRobinPool) Release(*Slot) {}

func (p *RoundRobinPool) Size() int { return len(p.slots) }

// CheckoutPool lends each slot to one caller at a time.
type CheckoutPool struct {
	free    chan *Slot
	size    int
	metrics *metrics.Collector
}

// NewCheckoutPool wraps engines in an exclusive pool. engines must not be empty.
func NewCheckoutPool(engines []Engine, m *metrics.Collector) *CheckoutPool {
	p := &CheckoutPool{
		free:    make(chan *Slot, len(engines)),
		size:    len(engines),
		metrics: m,
	}
	for i, e := range engines {
		p.free <- &Slot{Index: i, Engine: e, pool: p}
	}
	return p
}

// Acquire waits for a free slot.
func (p *CheckoutPool) Acquire(ctx context.Context) (*Slot, error) {
	select {
	case s := <-p.free:
		p.metrics.RecordSlotAcquired(s.Index)
		return s, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Release returns s to the pool. Each acquired slot must be released once.
func (p *CheckoutPool) Release(s *Slot) {
	p.free <- s
}

func (p *CheckoutPool) Size() int { return p.size }
