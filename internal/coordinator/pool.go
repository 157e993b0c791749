package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrPoolExhausted is returned for requests that can never be satisfied
// because they exceed the pool's total capacity.
var ErrPoolExhausted = errors.New("request exceeds pool capacity")

// ResourcePool accounts for concurrency slots and an abstract memory budget
// consumed by in-flight work. Capacity never goes negative: a request that
// cannot be granted immediately waits in arrival order, and no later request
// overtakes an earlier one.
type ResourcePool struct {
	slotCapacity int
	memCapacity  int64

	mu       sync.Mutex
	freeSlot int
	freeMem  int64
	waiters  []*poolWaiter
}

type poolWaiter struct {
	memory int64
	ready  chan struct{}
}

// NewResourcePool builds a pool with the given slot count and memory budget.
func NewResourcePool(slots int, memoryUnits int64) *ResourcePool {
	if slots < 1 {
		slots = 1
	}
	if memoryUnits < 0 {
		memoryUnits = 0
	}
	return &ResourcePool{
		slotCapacity: slots,
		memCapacity:  memoryUnits,
		freeSlot:     slots,
		freeMem:      memoryUnits,
	}
}

// Acquire claims one slot plus the given memory units, blocking in FIFO order
// until capacity frees up or the context ends.
func (p *ResourcePool) Acquire(ctx context.Context, memoryUnits int64) error {
	if memoryUnits < 0 {
		memoryUnits = 0
	}
	if memoryUnits > p.memCapacity {
		return fmt.Errorf("%w: %d memory units requested, %d total", ErrPoolExhausted, memoryUnits, p.memCapacity)
	}

	p.mu.Lock()
	if len(p.waiters) == 0 && p.freeSlot > 0 && p.freeMem >= memoryUnits {
		p.freeSlot--
		p.freeMem -= memoryUnits
		p.mu.Unlock()
		return nil
	}
	waiter := &poolWaiter{memory: memoryUnits, ready: make(chan struct{})}
	p.waiters = append(p.waiters, waiter)
	p.mu.Unlock()

	select {
	case <-waiter.ready:
		return nil
	case <-ctx.Done():
		p.mu.Lock()
		select {
		case <-waiter.ready:
			// Granted while cancelling; hand the capacity back.
			p.freeSlot++
			p.freeMem += memoryUnits
			p.grantLocked()
		default:
			for i, queued := range p.waiters {
				if queued == waiter {
					p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
					break
				}
			}
		}
		p.mu.Unlock()
		return ctx.Err()
	}
}

// Release returns one slot and the given memory units, then serves waiters in
// arrival order.
func (p *ResourcePool) Release(memoryUnits int64) {
	if memoryUnits < 0 {
		memoryUnits = 0
	}
	p.mu.Lock()
	p.freeSlot++
	p.freeMem += memoryUnits
	if p.freeSlot > p.slotCapacity {
		p.freeSlot = p.slotCapacity
	}
	if p.freeMem > p.memCapacity {
		p.freeMem = p.memCapacity
	}
	p.grantLocked()
	p.mu.Unlock()
}

// grantLocked serves the waiter queue head-first and stops at the first
// request that does not fit, preserving arrival order.
func (p *ResourcePool) grantLocked() {
	for len(p.waiters) > 0 {
		head := p.waiters[0]
		if p.freeSlot < 1 || p.freeMem < head.memory {
			return
		}
		p.freeSlot--
		p.freeMem -= head.memory
		p.waiters = p.waiters[1:]
		close(head.ready)
	}
}

// InUse reports the currently claimed slots and memory units.
func (p *ResourcePool) InUse() (slots int, memoryUnits int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.slotCapacity - p.freeSlot, p.memCapacity - p.freeMem
}
