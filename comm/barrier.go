package comm

import (
	"context"
	"sync"
)

// Barrier is a reusable barrier for n goroutines. A waiter whose context
// ends leaves the barrier broken for the current generation.
type Barrier struct {
	mu    sync.Mutex
	n     int
	count int
	gen   chan struct{} // closed when the current generation is complete
}

func NewBarrier(n int) *Barrier {
	return &Barrier{n: n, gen: make(chan struct{})}
}

func (b *Barrier) Wait(ctx context.Context) error {
	b.mu.Lock()
	gen := b.gen
	b.count++
	if b.count == b.n {
		b.count = 0
		b.gen = make(chan struct{})
		b.mu.Unlock()
		close(gen)
		return nil
	}
	b.mu.Unlock()
	select {
	case <-gen:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
