package field

import (
	"fmt"
	"math"
	"sort"

	"github.com/notargets/gocurve/types"
	"gonum.org/v1/gonum/spatial/r3"
)

// GridConfig describes a rectilinear grid domain. Point centered arrays are
// indexed i + NX*(j + NY*k) over nodes, cell centered arrays the same way over
// cells. Ghost, when present, flags cells.
type GridConfig struct {
	DomainID  int
	X, Y, Z   []float64
	Centering Centering
	Velocity  [][]r3.Vec // one sample, or two for a time varying field
	Scalar    [][]float64
	Ghost     []bool
	T0, T1    float64
}

// Grid is a rectilinear grid field
type Grid struct {
	id        int
	axes      [3][]float64
	centering Centering
	ghost     []bool
	bounds    types.Box
	owned     types.Box
	samples
}

func NewGrid(cfg GridConfig) (g *Grid, err error) {
	g = &Grid{
		id:        cfg.DomainID,
		axes:      [3][]float64{cfg.X, cfg.Y, cfg.Z},
		centering: cfg.Centering,
		ghost:     cfg.Ghost,
	}
	for d, ax := range g.axes {
		if len(ax) < 2 {
			return nil, fmt.Errorf("grid axis %d needs at least two coordinates", d)
		}
		for i := 1; i < len(ax); i++ {
			if !(ax[i] > ax[i-1]) {
				return nil, fmt.Errorf("grid axis %d is not strictly increasing at %d", d, i)
			}
		}
	}
	var (
		nCells = g.dim(0) * g.dim(1) * g.dim(2)
		count  = nCells
	)
	if cfg.Centering == PointCentered {
		count = len(cfg.X) * len(cfg.Y) * len(cfg.Z)
	}
	if g.samples, err = newSamples(cfg.T0, cfg.T1, cfg.Velocity, cfg.Scalar, count); err != nil {
		return nil, err
	}
	if len(g.ghost) != 0 && len(g.ghost) != nCells {
		return nil, fmt.Errorf("ghost flags have %d values, want %d", len(g.ghost), nCells)
	}
	g.bounds = types.NewBox(
		r3.Vec{X: cfg.X[0], Y: cfg.Y[0], Z: cfg.Z[0]},
		r3.Vec{X: cfg.X[len(cfg.X)-1], Y: cfg.Y[len(cfg.Y)-1], Z: cfg.Z[len(cfg.Z)-1]})
	g.owned = types.EmptyBox()
	for c := 0; c < nCells; c++ {
		if !g.isGhost(c) {
			g.owned = g.owned.Union(g.cellBounds(c))
		}
	}
	if g.owned.IsEmpty() {
		return nil, fmt.Errorf("grid domain %d has no owned cells", cfg.DomainID)
	}
	return
}

// dim is the cell count along axis d
func (g *Grid) dim(d int) int { return len(g.axes[d]) - 1 }

func (g *Grid) isGhost(c int) bool { return len(g.ghost) != 0 && g.ghost[c] }

func (g *Grid) cellIJK(c int) (ijk [3]int) {
	ijk[0] = c % g.dim(0)
	ijk[1] = (c / g.dim(0)) % g.dim(1)
	ijk[2] = c / (g.dim(0) * g.dim(1))
	return
}

func (g *Grid) cellBounds(c int) types.Box {
	ijk := g.cellIJK(c)
	return types.NewBox(
		r3.Vec{X: g.axes[0][ijk[0]], Y: g.axes[1][ijk[1]], Z: g.axes[2][ijk[2]]},
		r3.Vec{X: g.axes[0][ijk[0]+1], Y: g.axes[1][ijk[1]+1], Z: g.axes[2][ijk[2]+1]})
}

// locateAxis returns the cell along axis d with ax[i] <= v < ax[i+1], the last
// cell also holding its high node.
func (g *Grid) locateAxis(d int, v float64) (i int, ok bool) {
	ax := g.axes[d]
	n := len(ax)
	if v < ax[0] || v > ax[n-1] || math.IsNaN(v) {
		return -1, false
	}
	i = sort.SearchFloat64s(ax, v)
	if i == n || ax[i] != v {
		i--
	}
	return min(i, n-2), true
}

func (g *Grid) locate(p r3.Vec, hint *CellHint) (c int, ijk [3]int, ok bool) {
	if !g.bounds.Contains(p) {
		return -1, ijk, false
	}
	coords := [3]float64{p.X, p.Y, p.Z}
	if hc, found := hint.Cell(g.id); found && hc >= 0 && hc < g.dim(0)*g.dim(1)*g.dim(2) {
		// Accept the hint only if it is the cell the search would pick
		ijk = g.cellIJK(hc)
		match := true
		for d := 0; d < 3 && match; d++ {
			lo, hi := g.axes[d][ijk[d]], g.axes[d][ijk[d]+1]
			last := ijk[d] == g.dim(d)-1
			match = coords[d] >= lo && (coords[d] < hi || (last && coords[d] == hi))
		}
		if match {
			return hc, ijk, true
		}
	}
	for d := 0; d < 3; d++ {
		if ijk[d], ok = g.locateAxis(d, coords[d]); !ok {
			return -1, ijk, false
		}
	}
	c = ijk[0] + g.dim(0)*(ijk[1]+g.dim(1)*ijk[2])
	hint.Set(g.id, c)
	return c, ijk, true
}

// weights returns the array indices and interpolation weights for p
func (g *Grid) weights(p r3.Vec, hint *CellHint) (idx []int, wts []float64, err error) {
	c, ijk, ok := g.locate(p, hint)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %v in grid domain %d", ErrOutsideDomain, p, g.id)
	}
	if g.centering == CellCentered {
		return []int{c}, []float64{1}, nil
	}
	var (
		coords = [3]float64{p.X, p.Y, p.Z}
		frac   [3]float64
		nx, ny = len(g.axes[0]), len(g.axes[1])
	)
	for d := 0; d < 3; d++ {
		lo, hi := g.axes[d][ijk[d]], g.axes[d][ijk[d]+1]
		frac[d] = (coords[d] - lo) / (hi - lo)
	}
	idx = make([]int, 8)
	wts = make([]float64, 8)
	for corner := 0; corner < 8; corner++ {
		w := 1.
		var node [3]int
		for d := 0; d < 3; d++ {
			bit := (corner >> d) & 1
			node[d] = ijk[d] + bit
			if bit == 1 {
				w *= frac[d]
			} else {
				w *= 1 - frac[d]
			}
		}
		idx[corner] = node[0] + nx*(node[1]+ny*node[2])
		wts[corner] = w
	}
	return
}

func (g *Grid) Evaluate(t float64, p r3.Vec, hint *CellHint) (v r3.Vec, err error) {
	var (
		w   float64
		idx []int
		wts []float64
	)
	if w, err = g.timeWeight(t); err != nil {
		return
	}
	if idx, wts, err = g.weights(p, hint); err != nil {
		return
	}
	return g.interpolate(w, idx, wts), nil
}

func (g *Grid) EvaluateScalar(t float64, p r3.Vec, hint *CellHint) (s float64, err error) {
	var (
		w   float64
		idx []int
		wts []float64
	)
	if !g.hasScalar() {
		return 0, ErrNoScalar
	}
	if w, err = g.timeWeight(t); err != nil {
		return
	}
	if idx, wts, err = g.weights(p, hint); err != nil {
		return
	}
	return g.interpolateScalar(w, idx, wts), nil
}

func (g *Grid) IsInside(t float64, p r3.Vec, hint *CellHint) bool {
	c, _, ok := g.locate(p, hint)
	return ok && !g.isGhost(c)
}

func (g *Grid) DomainID() int               { return g.id }
func (g *Grid) Bounds() types.Box           { return g.bounds }
func (g *Grid) OwnedBounds() types.Box      { return g.owned }
func (g *Grid) TimeRange() (t0, t1 float64) { return g.t0, g.t1 }
func (g *Grid) IsTimeVarying() bool         { return g.isTimeVarying() }
func (g *Grid) HasScalar() bool             { return g.hasScalar() }
