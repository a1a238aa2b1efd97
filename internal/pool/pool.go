// Package pool provides a store of reusable buffers shared by every producer
// and consumer on the capture write path.
//
// A buffer can be acquired on one goroutine and released on another; the pool
// is backed by a lock-free multi-producer/multi-consumer queue so callers never
// coordinate with each other.
package pool

import "sync/atomic"

// Stats is a snapshot of pool activity.
type Stats struct {
	Allocations uint64 // buffers made because the pool could not serve a request
	Reuses      uint64 // requests served from the pool
	Releases    uint64 // buffers handed back
}

// Pool holds previously used buffers of element type T in first-in
// first-out order. The zero value is not usable; create pools with [New].
type Pool[T any] struct {
	head atomic.Pointer[node[T]]
	tail atomic.Pointer[node[T]]

	allocations atomic.Uint64
	reuses      atomic.Uint64
	releases    atomic.Uint64
}

type node[T any] struct {
	buf  []T
	next atomic.Pointer[node[T]]
}

// New returns an empty pool.
func New[T any]() *Pool[T] {
	p := &Pool[T]{}
	sentinel := &node[T]{}
	p.head.Store(sentinel)
	p.tail.Store(sentinel)
	return p
}

// Acquire returns a buffer of length minSize. The buffer at the front of the
// pool is used when its capacity is large enough; otherwise a new buffer is
// allocated and the undersized one goes back into the pool, where it stays in
// circulation. The contents of a reused buffer are not cleared.
//
// The caller owns the returned buffer until it hands it to [Pool.Release].
func (p *Pool[T]) Acquire(minSize int) []T {
	buf, ok := p.poll()
	if !ok {
		p.allocations.Add(1)
		return make([]T, minSize)
	}
	if cap(buf) < minSize {
		p.offer(buf)
		p.allocations.Add(1)
		return make([]T, minSize)
	}
	p.reuses.Add(1)
	return buf[:minSize]
}

// Release returns buf to the pool. There is no upper bound on how many
// buffers the pool retains. The caller must not touch buf afterwards.
func (p *Pool[T]) Release(buf []T) {
	p.releases.Add(1)
	p.offer(buf)
}

// Len counts the buffers currently resident in the pool. The result is only
// exact when no other goroutine is using the pool.
func (p *Pool[T]) Len() int {
	n := 0
	for cur := p.head.Load().next.Load(); cur != nil; cur = cur.next.Load() {
		n++
	}
	return n
}

// Stats returns the activity counters.
func (p *Pool[T]) Stats() Stats {
	return Stats{
		Allocations: p.allocations.Load(),
		Reuses:      p.reuses.Load(),
		Releases:    p.releases.Load(),
	}
}

// offer appends buf at the tail (Michael-Scott enqueue).
func (p *Pool[T]) offer(buf []T) {
	n := &node[T]{buf: buf}
	for {
		tail := p.tail.Load()
		next := tail.next.Load()
		if tail != p.tail.Load() {
			continue
		}
		if next != nil {
			// Tail is lagging; help it along.
			p.tail.CompareAndSwap(tail, next)
			continue
		}
		if tail.next.CompareAndSwap(nil, n) {
			p.tail.CompareAndSwap(tail, n)
			return
		}
	}
}

// poll removes the buffer at the head, if any.
func (p *Pool[T]) poll() ([]T, bool) {
	for {
		head := p.head.Load()
		tail := p.tail.Load()
		next := head.next.Load()
		if head != p.head.Load() {
			continue
		}
		if next == nil {
			return nil, false
		}
		if head == tail {
			p.tail.CompareAndSwap(tail, next)
			continue
		}
		if p.head.CompareAndSwap(head, next) {
			// next is the new sentinel; only the winner of the CAS reads it.
			buf := next.buf
			next.buf = nil
			return buf, true
		}
	}
}
