package curve

import (
	"errors"
	"fmt"
	"sort"

	"github.com/notargets/gocurve/types"
	"gonum.org/v1/gonum/spatial/r3"
)

var ErrDiscontinuousSequence = errors.New("discontinuous fragment sequence")

// Fragment is the part of a curve's history computed by one rank between
// two hand-offs, checkpoints or the curve's end. Only the last fragment of a
// curve carries a terminal state.
type Fragment struct {
	ID          int
	FragmentSeq int
	Direction   types.Direction
	Seed        Seed
	Steps       []types.Step
	State       types.TerminationState
	Diagnostics types.Diagnostic
}

// AsFragment returns the whole of a merged curve as fragment zero
func (c *IntegralCurve) AsFragment() Fragment {
	return Fragment{
		ID:          c.ID,
		Direction:   c.Direction,
		Seed:        c.Seed,
		Steps:       c.Steps,
		State:       c.State,
		Diagnostics: c.Diagnostics,
	}
}

func discontinuous(id int, format string, args ...any) error {
	return fmt.Errorf("%w: curve %d: %s", ErrDiscontinuousSequence, id, fmt.Sprintf(format, args...))
}

// MergeSequence joins the fragments of one curve into a single curve. The
// input is not modified. Fragments must number 0..n-1 and their steps must
// number 0..m-1 in fragment order; the terminal state is the last
// fragment's.
func MergeSequence(fragments []Fragment) (c IntegralCurve, err error) {
	if len(fragments) == 0 {
		return c, fmt.Errorf("%w: no fragments", ErrDiscontinuousSequence)
	}
	sorted := make([]Fragment, len(fragments))
	copy(sorted, fragments)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].FragmentSeq < sorted[j].FragmentSeq
	})
	var (
		id    = sorted[0].ID
		last  = sorted[len(sorted)-1]
		total int
	)
	for i, frag := range sorted {
		switch {
		case frag.ID != id:
			return c, discontinuous(id, "fragment of curve %d mixed in", frag.ID)
		case frag.FragmentSeq != i:
			return c, discontinuous(id, "fragment %d where %d expected", frag.FragmentSeq, i)
		case i < len(sorted)-1 && frag.State != types.Running:
			return c, discontinuous(id, "fragment %d ends in %s before the last fragment", i, frag.State)
		}
		for _, st := range frag.Steps {
			if st.Seq != total {
				return c, discontinuous(id, "step %d where %d expected in fragment %d", st.Seq, total, i)
			}
			total++
		}
	}

	c = IntegralCurve{
		ID:        id,
		Seed:      sorted[0].Seed,
		Direction: sorted[0].Direction,
		Steps:     make([]types.Step, 0, total),
		NumSteps:  total,
		Time:      sorted[0].Seed.Time,
		Position:  sorted[0].Seed.Position,
		DomainID:  -1,
		State:     last.State,
	}
	for _, frag := range sorted {
		c.Steps = append(c.Steps, frag.Steps...)
		c.Diagnostics |= frag.Diagnostics
	}
	if total > 0 {
		end := c.Steps[total-1]
		c.Time, c.Position, c.Velocity = end.Time, end.Position, end.Velocity
		c.ArcLength, c.Distance = end.ArcLength, end.Distance
	}
	return
}

// Length is the arc length through the merged steps starting at the seed
func (c *IntegralCurve) Length() (l float64) {
	prev := c.Seed.Position
	for _, st := range c.Steps {
		l += r3.Norm(r3.Sub(st.Position, prev))
		prev = st.Position
	}
	return
}
