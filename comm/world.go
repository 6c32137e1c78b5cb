package comm

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// World runs Size ranks as goroutines in one process. Collectives meet on
// a shared barrier; all-reduce values go through per-rank slots and
// exchanges through a MailBox.
type World struct {
	size    int
	barrier *Barrier
	mb      *MailBox[[]byte]
	slots   [][]int
}

func NewWorld(size int) (w *World, err error) {
	if size < 1 {
		return nil, fmt.Errorf("world size must be positive, have %d", size)
	}
	w = &World{
		size:    size,
		barrier: NewBarrier(size),
		mb:      NewMailBox[[]byte](size),
		slots:   make([][]int, size),
	}
	return
}

func (w *World) Size() int { return w.size }

// Comm returns the endpoint of rank
func (w *World) Comm(rank int) Communicator {
	if rank < 0 || rank >= w.size {
		panic(fmt.Sprintf("rank %d out of world of size %d", rank, w.size))
	}
	return &endpoint{w: w, rank: rank}
}

// Run calls fn once per rank, each in its own goroutine. The first error
// cancels the context handed to the other ranks, which unblocks any
// collective they are waiting in.
func (w *World) Run(ctx context.Context, fn func(ctx context.Context, c Communicator) error) error {
	g, gctx := errgroup.WithContext(ctx)
	for rank := 0; rank < w.size; rank++ {
		c := w.Comm(rank)
		g.Go(func() error {
			if err := fn(gctx, c); err != nil {
				return fmt.Errorf("rank %d: %w", c.Rank(), err)
			}
			return nil
		})
	}
	return g.Wait()
}

type endpoint struct {
	w    *World
	rank int
}

func (e *endpoint) Rank() int { return e.rank }

func (e *endpoint) Size() int { return e.w.size }

func (e *endpoint) Barrier(ctx context.Context) error {
	return e.w.barrier.Wait(ctx)
}

func (e *endpoint) AllReduceInt(ctx context.Context, op Op, v int) (int, error) {
	res, err := e.AllReduceInts(ctx, op, []int{v})
	if err != nil {
		return 0, err
	}
	return res[0], nil
}

func (e *endpoint) AllReduceInts(ctx context.Context, op Op, v []int) (res []int, err error) {
	w := e.w
	w.slots[e.rank] = v
	if err = w.barrier.Wait(ctx); err != nil {
		return
	}
	res = make([]int, len(v))
	copy(res, w.slots[0])
	for r := 1; r < w.size; r++ {
		other := w.slots[r]
		if len(other) != len(v) {
			err = fmt.Errorf("all-reduce length mismatch: rank %d has %d, rank %d has %d",
				e.rank, len(v), r, len(other))
			break
		}
		for i := range res {
			res[i] = op.apply(res[i], other[i])
		}
	}
	// Slots may be reused only after every rank has read them
	if berr := w.barrier.Wait(ctx); err == nil {
		err = berr
	}
	return
}

func (e *endpoint) Exchange(ctx context.Context, out map[int][][]byte) (in []Message, err error) {
	mb := e.w.mb
	for target := range out {
		if target < 0 || target >= e.w.size {
			return nil, fmt.Errorf("exchange to rank %d outside world of size %d", target, e.w.size)
		}
	}
	for target := 0; target < e.w.size; target++ {
		for _, payload := range out[target] {
			mb.PostMessage(e.rank, target, payload)
		}
	}
	mb.DeliverMyMessages(e.rank)
	if err = e.w.barrier.Wait(ctx); err != nil {
		return
	}
	mb.ReceiveMyMessages(e.rank)
	for i, payload := range mb.ReceiveMsgQs[e.rank] {
		in = append(in, Message{Source: mb.ReceiveFrom[e.rank][i], Payload: payload})
	}
	mb.ClearMyMessages(e.rank)
	// Nobody posts the next round until every rank has drained this one
	err = e.w.barrier.Wait(ctx)
	return
}
