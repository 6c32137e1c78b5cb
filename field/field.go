package field

import (
	"errors"
	"fmt"

	"github.com/notargets/gocurve/types"
	"gonum.org/v1/gonum/spatial/r3"
)

var (
	ErrOutsideDomain    = errors.New("point outside domain")
	ErrOutsideTimeRange = errors.New("time outside field time range")
	ErrNoScalar         = errors.New("field has no scalar array")
)

// Centering tells where value arrays are sampled
type Centering uint8

const (
	PointCentered Centering = iota
	CellCentered
)

func (c Centering) String() string {
	return [...]string{"Point", "Cell"}[c]
}

// Field is one domain of a decomposed vector field. Implementations are read
// only after construction and may be shared by any number of goroutines.
type Field interface {
	DomainID() int
	Bounds() types.Box      // including ghost cells
	OwnedBounds() types.Box // non-ghost cells only
	TimeRange() (t0, t1 float64)
	IsTimeVarying() bool
	HasScalar() bool
	Evaluate(t float64, p r3.Vec, hint *CellHint) (r3.Vec, error)
	EvaluateScalar(t float64, p r3.Vec, hint *CellHint) (float64, error)
	// IsInside is true only when p lies in a non-ghost cell
	IsInside(t float64, p r3.Vec, hint *CellHint) bool
}

// CellHint remembers the last cell hit in each domain for one curve. A nil
// hint is valid and disables the shortcut.
type CellHint struct {
	cells map[int]int
}

func NewCellHint() *CellHint {
	return &CellHint{cells: make(map[int]int)}
}

func (h *CellHint) Cell(domain int) (cell int, ok bool) {
	if h == nil {
		return -1, false
	}
	cell, ok = h.cells[domain]
	return
}

func (h *CellHint) Set(domain, cell int) {
	if h == nil {
		return
	}
	if h.cells == nil {
		h.cells = make(map[int]int)
	}
	h.cells[domain] = cell
}

func (h *CellHint) Reset() {
	if h != nil {
		clear(h.cells)
	}
}

// samples holds the one or two time levels of a field's value arrays
type samples struct {
	t0, t1   float64
	velocity [][]r3.Vec
	scalar   [][]float64
}

func newSamples(t0, t1 float64, velocity [][]r3.Vec, scalar [][]float64, count int) (s samples, err error) {
	switch len(velocity) {
	case 1:
	case 2:
		if !(t1 > t0) {
			return s, fmt.Errorf("time varying field needs t1 > t0, have [%g, %g]", t0, t1)
		}
	default:
		return s, fmt.Errorf("need one or two velocity samples, have %d", len(velocity))
	}
	for i, v := range velocity {
		if len(v) != count {
			return s, fmt.Errorf("velocity sample %d has %d values, want %d", i, len(v), count)
		}
	}
	if len(scalar) != 0 {
		if len(scalar) != len(velocity) {
			return s, fmt.Errorf("have %d scalar samples for %d velocity samples", len(scalar), len(velocity))
		}
		for i, v := range scalar {
			if len(v) != count {
				return s, fmt.Errorf("scalar sample %d has %d values, want %d", i, len(v), count)
			}
		}
	}
	return samples{t0: t0, t1: t1, velocity: velocity, scalar: scalar}, nil
}

func (s *samples) isTimeVarying() bool { return len(s.velocity) == 2 }

func (s *samples) hasScalar() bool { return len(s.scalar) != 0 }

// timeWeight returns the blend weight of the second sample
func (s *samples) timeWeight(t float64) (w float64, err error) {
	if !s.isTimeVarying() {
		return 0, nil
	}
	if t < s.t0 || t > s.t1 {
		return 0, fmt.Errorf("%w: t = %g, range [%g, %g]", ErrOutsideTimeRange, t, s.t0, s.t1)
	}
	return (t - s.t0) / (s.t1 - s.t0), nil
}

// interpolate blends weighted values at the given indices over both samples
func (s *samples) interpolate(w float64, idx []int, wts []float64) (v r3.Vec) {
	for n, sample := range s.velocity {
		var sv r3.Vec
		for i, id := range idx {
			sv = r3.Add(sv, r3.Scale(wts[i], sample[id]))
		}
		tw := 1 - w
		if n == 1 {
			tw = w
		}
		v = r3.Add(v, r3.Scale(tw, sv))
	}
	return
}

func (s *samples) interpolateScalar(w float64, idx []int, wts []float64) (v float64) {
	for n, sample := range s.scalar {
		var sv float64
		for i, id := range idx {
			sv += wts[i] * sample[id]
		}
		tw := 1 - w
		if n == 1 {
			tw = w
		}
		v += tw * sv
	}
	return
}
