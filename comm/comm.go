package comm

import (
	"context"
	"fmt"
)

// Op is an all-reduce aggregation
type Op uint8

const (
	OpSum Op = iota
	OpMax
	OpMin
)

func (op Op) String() string {
	switch op {
	case OpSum:
		return "Sum"
	case OpMax:
		return "Max"
	case OpMin:
		return "Min"
	}
	return fmt.Sprintf("Op(%d)", uint8(op))
}

func (op Op) apply(a, b int) int {
	switch op {
	case OpMax:
		return max(a, b)
	case OpMin:
		return min(a, b)
	default:
		return a + b
	}
}

// Message is one payload received from rank Source
type Message struct {
	Source  int
	Payload []byte
}

// Communicator is one rank's view of the collective layer. Every rank must
// call the same sequence of collectives; a rank returning early leaves the
// others blocked until their context ends.
type Communicator interface {
	Rank() int
	Size() int
	Barrier(ctx context.Context) error
	AllReduceInt(ctx context.Context, op Op, v int) (int, error)
	// AllReduceInts reduces element wise; all ranks pass the same length
	AllReduceInts(ctx context.Context, op Op, v []int) ([]int, error)
	// Exchange sends out[rank] to each rank and returns what every rank sent
	// here, ordered by source rank and then send order.
	Exchange(ctx context.Context, out map[int][][]byte) ([]Message, error)
}
