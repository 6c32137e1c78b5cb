package field

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/notargets/gocurve/mesh"
	"github.com/notargets/gocurve/types"
	"github.com/notargets/gocurve/utils"
	"gonum.org/v1/gonum/spatial/r3"
)

// Sampling describes how a decomposed field is filled from functions.
// Times with zero or one entries gives a steady field; n > 1 entries give
// n-1 time windows between consecutive sample times.
type Sampling struct {
	Centering Centering
	Velocity  VelocityFunc
	Scalar    ScalarFunc
	Times     []float64
}

func (s Sampling) validate() error {
	if s.Velocity == nil {
		return fmt.Errorf("sampling has no velocity function")
	}
	for i := 1; i < len(s.Times); i++ {
		if !(s.Times[i] > s.Times[i-1]) {
			return fmt.Errorf("sample times must increase, have %v", s.Times)
		}
	}
	return nil
}

// windows returns the sample time pairs of each window
func (s Sampling) windows() (w [][2]float64, steady bool) {
	if len(s.Times) < 2 {
		t := 0.
		if len(s.Times) == 1 {
			t = s.Times[0]
		}
		return [][2]float64{{t, t}}, true
	}
	for i := 1; i < len(s.Times); i++ {
		w = append(w, [2]float64{s.Times[i-1], s.Times[i]})
	}
	return
}

func (s Sampling) sample(points []r3.Vec, times []float64) (vel [][]r3.Vec, sc [][]float64) {
	for _, t := range times {
		v := make([]r3.Vec, len(points))
		for i, p := range points {
			v[i] = s.Velocity(t, p)
		}
		vel = append(vel, v)
		if s.Scalar != nil {
			c := make([]float64, len(points))
			for i, p := range points {
				c[i] = s.Scalar(t, p)
			}
			sc = append(sc, c)
		}
	}
	return
}

// Piece is one domain of a decomposed field with all of its time windows
type Piece struct {
	ID      int
	Owned   types.Box
	Bounds  types.Box
	Windows []Field
}

// TimeRange spans every window, infinite for steady pieces
func (p Piece) TimeRange() (t0, t1 float64) {
	if len(p.Windows) == 0 || !p.Windows[0].IsTimeVarying() {
		return math.Inf(-1), math.Inf(1)
	}
	t0, _ = p.Windows[0].TimeRange()
	_, t1 = p.Windows[len(p.Windows)-1].TimeRange()
	return
}

// GridDecomposition splits a uniform grid over Box into Splits pieces with
// Ghost layers of ghost cells on interior faces.
type GridDecomposition struct {
	Box    types.Box
	Cells  [3]int
	Splits [3]int
	Ghost  int
}

func SplitGrid(gd GridDecomposition, s Sampling) (pieces []Piece, err error) {
	if err = s.validate(); err != nil {
		return
	}
	for d := 0; d < 3; d++ {
		if gd.Cells[d] < 1 || gd.Splits[d] < 1 || gd.Splits[d] > gd.Cells[d] {
			return nil, fmt.Errorf("invalid grid decomposition: cells %v, splits %v", gd.Cells, gd.Splits)
		}
	}
	if gd.Ghost < 0 {
		return nil, fmt.Errorf("ghost layers must be non-negative, have %d", gd.Ghost)
	}
	var (
		size     = gd.Box.Size()
		lo       = [3]float64{gd.Box.Min.X, gd.Box.Min.Y, gd.Box.Min.Z}
		extent   = [3]float64{size.X, size.Y, size.Z}
		wins, st = s.windows()
	)
	coord := func(d, i int) float64 {
		if i == gd.Cells[d] {
			return lo[d] + extent[d]
		}
		return lo[d] + extent[d]*float64(i)/float64(gd.Cells[d])
	}
	for bz := 0; bz < gd.Splits[2]; bz++ {
		for by := 0; by < gd.Splits[1]; by++ {
			for bx := 0; bx < gd.Splits[0]; bx++ {
				var (
					b         = [3]int{bx, by, bz}
					own, span [3][2]int
					axes      [3][]float64
				)
				for d := 0; d < 3; d++ {
					own[d] = utils.Split1D(gd.Cells[d], gd.Splits[d], b[d])
					span[d] = [2]int{max(0, own[d][0]-gd.Ghost), min(gd.Cells[d], own[d][1]+gd.Ghost)}
					for i := span[d][0]; i <= span[d][1]; i++ {
						axes[d] = append(axes[d], coord(d, i))
					}
				}
				var (
					nc    = [3]int{len(axes[0]) - 1, len(axes[1]) - 1, len(axes[2]) - 1}
					ghost = make([]bool, nc[0]*nc[1]*nc[2])
				)
				for k := 0; k < nc[2]; k++ {
					for j := 0; j < nc[1]; j++ {
						for i := 0; i < nc[0]; i++ {
							g := [3]int{i + span[0][0], j + span[1][0], k + span[2][0]}
							isGhost := false
							for d := 0; d < 3; d++ {
								isGhost = isGhost || g[d] < own[d][0] || g[d] >= own[d][1]
							}
							ghost[i+nc[0]*(j+nc[1]*k)] = isGhost
						}
					}
				}
				points := gridPoints(axes, s.Centering)
				piece := Piece{ID: bx + gd.Splits[0]*(by+gd.Splits[1]*bz)}
				for _, w := range wins {
					times := w[:]
					if st {
						times = w[:1]
					}
					vel, sc := s.sample(points, times)
					var g *Grid
					if g, err = NewGrid(GridConfig{
						DomainID:  piece.ID,
						X:         axes[0],
						Y:         axes[1],
						Z:         axes[2],
						Centering: s.Centering,
						Velocity:  vel,
						Scalar:    sc,
						Ghost:     ghost,
						T0:        w[0],
						T1:        w[1],
					}); err != nil {
						return nil, err
					}
					piece.Windows = append(piece.Windows, g)
				}
				piece.Owned = piece.Windows[0].OwnedBounds()
				piece.Bounds = piece.Windows[0].Bounds()
				pieces = append(pieces, piece)
			}
		}
	}
	return
}

func gridPoints(axes [3][]float64, centering Centering) (points []r3.Vec) {
	if centering == PointCentered {
		for _, z := range axes[2] {
			for _, y := range axes[1] {
				for _, x := range axes[0] {
					points = append(points, r3.Vec{X: x, Y: y, Z: z})
				}
			}
		}
		return
	}
	mid := func(ax []float64, i int) float64 { return 0.5 * (ax[i] + ax[i+1]) }
	for k := 0; k < len(axes[2])-1; k++ {
		for j := 0; j < len(axes[1])-1; j++ {
			for i := 0; i < len(axes[0])-1; i++ {
				points = append(points, r3.Vec{X: mid(axes[0], i), Y: mid(axes[1], j), Z: mid(axes[2], k)})
			}
		}
	}
	return
}

// SplitTetMesh tetrahedralizes a box, decomposes it and builds one TetField
// per partition and time window.
func SplitTetMesh(box types.Box, cfg mesh.PartitionConfig, s Sampling,
	logger *slog.Logger) (pieces []Piece, err error) {
	if err = s.validate(); err != nil {
		return
	}
	for d := 0; d < 3; d++ {
		if cfg.Cells[d] < 1 {
			return nil, fmt.Errorf("invalid tet decomposition: cells %v", cfg.Cells)
		}
	}
	var (
		m        = mesh.NewBoxMesh(box, cfg.Cells)
		parts    []mesh.Partition
		wins, st = s.windows()
	)
	if logger != nil {
		m.LogStatistics(logger)
	}
	if parts, err = mesh.Decompose(m, cfg, logger); err != nil {
		return
	}
	for _, part := range parts {
		var points []r3.Vec
		if s.Centering == PointCentered {
			points = part.Mesh.Vertices
		} else {
			for k := 0; k < part.Mesh.NumElements; k++ {
				points = append(points, part.Mesh.Centroid(k))
			}
		}
		piece := Piece{ID: part.ID, Owned: part.Owned, Bounds: part.Bounds}
		for _, w := range wins {
			times := w[:]
			if st {
				times = w[:1]
			}
			vel, sc := s.sample(points, times)
			var tf *TetField
			if tf, err = NewTetField(TetConfig{
				DomainID:  part.ID,
				Mesh:      part.Mesh,
				Centering: s.Centering,
				Velocity:  vel,
				Scalar:    sc,
				Ghost:     part.Ghost,
				T0:        w[0],
				T1:        w[1],
			}); err != nil {
				return nil, err
			}
			piece.Windows = append(piece.Windows, tf)
		}
		pieces = append(pieces, piece)
	}
	return
}

// SplitAnalytic tiles box with Splits analytic pieces, each padded by ghost
// of its own width on interior faces.
func SplitAnalytic(box types.Box, splits [3]int, ghost float64, s Sampling) (pieces []Piece, err error) {
	if err = s.validate(); err != nil {
		return
	}
	var (
		size     = box.Size()
		lo       = [3]float64{box.Min.X, box.Min.Y, box.Min.Z}
		extent   = [3]float64{size.X, size.Y, size.Z}
		wins, st = s.windows()
	)
	for d := 0; d < 3; d++ {
		if splits[d] < 1 {
			return nil, fmt.Errorf("invalid analytic decomposition: splits %v", splits)
		}
	}
	edge := func(d, i int) float64 {
		if i == splits[d] {
			return lo[d] + extent[d]
		}
		return lo[d] + extent[d]*float64(i)/float64(splits[d])
	}
	for bz := 0; bz < splits[2]; bz++ {
		for by := 0; by < splits[1]; by++ {
			for bx := 0; bx < splits[0]; bx++ {
				owned := types.NewBox(
					r3.Vec{X: edge(0, bx), Y: edge(1, by), Z: edge(2, bz)},
					r3.Vec{X: edge(0, bx+1), Y: edge(1, by+1), Z: edge(2, bz+1)})
				bounds := types.NewBox(
					r3.Vec{X: max(box.Min.X, owned.Min.X-ghost), Y: max(box.Min.Y, owned.Min.Y-ghost), Z: max(box.Min.Z, owned.Min.Z-ghost)},
					r3.Vec{X: min(box.Max.X, owned.Max.X+ghost), Y: min(box.Max.Y, owned.Max.Y+ghost), Z: min(box.Max.Z, owned.Max.Z+ghost)})
				piece := Piece{ID: bx + splits[0]*(by+splits[1]*bz), Owned: owned, Bounds: bounds}
				for _, w := range wins {
					var a *Analytic
					if a, err = NewAnalytic(AnalyticConfig{
						DomainID:    piece.ID,
						Bounds:      bounds,
						Owned:       owned,
						Global:      box,
						Velocity:    s.Velocity,
						Scalar:      s.Scalar,
						TimeVarying: !st,
						T0:          w[0],
						T1:          w[1],
					}); err != nil {
						return nil, err
					}
					piece.Windows = append(piece.Windows, a)
				}
				pieces = append(pieces, piece)
			}
		}
	}
	return
}
