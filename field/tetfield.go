package field

import (
	"fmt"
	"sort"

	"github.com/james-bowman/sparse"
	"github.com/notargets/gocurve/mesh"
	"github.com/notargets/gocurve/types"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
)

const (
	baryTol = 1.e-10
	maxWalk = 64
)

// TetConfig describes a tetrahedral domain. Point centered arrays hold one
// value per mesh vertex, cell centered arrays one per element. Ghost, when
// present, flags elements.
type TetConfig struct {
	DomainID  int
	Mesh      *mesh.Mesh
	Centering Centering
	Velocity  [][]r3.Vec
	Scalar    [][]float64
	Ghost     []bool
	T0, T1    float64
}

// TetField is a field on a tetrahedral mesh. Cells are located by walking
// face neighbors from the hint cell, then by searching the vertex stars of
// the last visited cell, then by scanning every cell box.
type TetField struct {
	id        int
	m         *mesh.Mesh
	centering Centering
	ghost     []bool
	bounds    types.Box
	owned     types.Box
	origin    []r3.Vec      // vertex 0 of each cell
	jinv      [][9]float64  // inverse of [v1-v0 v2-v0 v3-v0], row major
	cellBox   []types.Box
	starPtr   []int // vertex to element incidence, CSR row pointers
	starInd   []int
	samples
}

func NewTetField(cfg TetConfig) (tf *TetField, err error) {
	if cfg.Mesh == nil || cfg.Mesh.NumElements == 0 {
		return nil, fmt.Errorf("tet domain %d has no mesh", cfg.DomainID)
	}
	var (
		m     = cfg.Mesh
		count = m.NumElements
	)
	if cfg.Centering == PointCentered {
		count = m.NumVertices
	}
	tf = &TetField{
		id:        cfg.DomainID,
		m:         m,
		centering: cfg.Centering,
		ghost:     cfg.Ghost,
		bounds:    m.Bounds(),
		owned:     types.EmptyBox(),
		origin:    make([]r3.Vec, m.NumElements),
		jinv:      make([][9]float64, m.NumElements),
		cellBox:   make([]types.Box, m.NumElements),
	}
	if tf.samples, err = newSamples(cfg.T0, cfg.T1, cfg.Velocity, cfg.Scalar, count); err != nil {
		return nil, err
	}
	if len(tf.ghost) != 0 && len(tf.ghost) != m.NumElements {
		return nil, fmt.Errorf("ghost flags have %d values, want %d", len(tf.ghost), m.NumElements)
	}
	for k, verts := range m.EToV {
		if m.ElementTypes[k] != mesh.Tet {
			return nil, fmt.Errorf("element %d is a %s, only tets are supported", k, m.ElementTypes[k])
		}
		var (
			v0         = m.Vertices[verts[0]]
			e1, e2, e3 = r3.Sub(m.Vertices[verts[1]], v0), r3.Sub(m.Vertices[verts[2]], v0), r3.Sub(m.Vertices[verts[3]], v0)
			inv        mat.Dense
		)
		J := mat.NewDense(3, 3, []float64{
			e1.X, e2.X, e3.X,
			e1.Y, e2.Y, e3.Y,
			e1.Z, e2.Z, e3.Z,
		})
		if err = inv.Inverse(J); err != nil {
			return nil, fmt.Errorf("degenerate element %d in tet domain %d: %w", k, cfg.DomainID, err)
		}
		raw := inv.RawMatrix()
		for i := 0; i < 3; i++ {
			copy(tf.jinv[k][3*i:3*i+3], raw.Data[i*raw.Stride:i*raw.Stride+3])
		}
		tf.origin[k] = v0
		tf.cellBox[k] = m.ElementBounds(k)
		if !tf.isGhost(k) {
			tf.owned = tf.owned.Union(tf.cellBox[k])
		}
	}
	if tf.owned.IsEmpty() {
		return nil, fmt.Errorf("tet domain %d has no owned cells", cfg.DomainID)
	}
	tf.buildIncidence()
	return
}

func (tf *TetField) buildIncidence() {
	dok := sparse.NewDOK(tf.m.NumVertices, tf.m.NumElements)
	for k, verts := range tf.m.EToV {
		for _, v := range verts {
			dok.Set(v, k, 1)
		}
	}
	raw := dok.ToCSR().RawMatrix()
	tf.starPtr = append([]int(nil), raw.Indptr...)
	tf.starInd = append([]int(nil), raw.Ind...)
	for v := 0; v < tf.m.NumVertices; v++ {
		sort.Ints(tf.starInd[tf.starPtr[v]:tf.starPtr[v+1]])
	}
}

func (tf *TetField) isGhost(k int) bool { return len(tf.ghost) != 0 && tf.ghost[k] }

func (tf *TetField) barycentric(k int, p r3.Vec) (bary [4]float64) {
	var (
		d = r3.Sub(p, tf.origin[k])
		J = &tf.jinv[k]
	)
	bary[1] = J[0]*d.X + J[1]*d.Y + J[2]*d.Z
	bary[2] = J[3]*d.X + J[4]*d.Y + J[5]*d.Z
	bary[3] = J[6]*d.X + J[7]*d.Y + J[8]*d.Z
	bary[0] = 1 - bary[1] - bary[2] - bary[3]
	return
}

func inTet(bary [4]float64) bool {
	for _, b := range bary {
		if b < -baryTol {
			return false
		}
	}
	return true
}

// walk moves through face neighbors toward p, leaving each cell through the
// face opposite its most negative barycentric coordinate. On failure it
// returns the last cell visited.
func (tf *TetField) walk(start int, p r3.Vec) (k int, bary [4]float64, ok bool) {
	k = start
	for step := 0; step < maxWalk; step++ {
		bary = tf.barycentric(k, p)
		if inTet(bary) {
			return k, bary, true
		}
		worst := 0
		for i := 1; i < 4; i++ {
			if bary[i] < bary[worst] {
				worst = i
			}
		}
		next := tf.m.EToE[k][mesh.OppositeFace[worst]]
		if next < 0 {
			return k, bary, false
		}
		k = next
	}
	return k, bary, false
}

// searchStar tests every cell sharing a vertex with cell k
func (tf *TetField) searchStar(k int, p r3.Vec, ownedOnly bool) (int, [4]float64, bool) {
	for _, v := range tf.m.EToV[k] {
		for _, kk := range tf.starInd[tf.starPtr[v]:tf.starPtr[v+1]] {
			if ownedOnly && tf.isGhost(kk) {
				continue
			}
			if bary := tf.barycentric(kk, p); inTet(bary) {
				return kk, bary, true
			}
		}
	}
	return -1, [4]float64{}, false
}

func (tf *TetField) scan(p r3.Vec) (int, [4]float64, bool) {
	for k, box := range tf.cellBox {
		if !box.Contains(p) {
			continue
		}
		if bary := tf.barycentric(k, p); inTet(bary) {
			return k, bary, true
		}
	}
	return -1, [4]float64{}, false
}

func (tf *TetField) locate(p r3.Vec, hint *CellHint) (k int, bary [4]float64, ok bool) {
	if !tf.bounds.Contains(p) {
		return -1, bary, false
	}
	if hk, found := hint.Cell(tf.id); found && hk >= 0 && hk < tf.m.NumElements {
		if k, bary, ok = tf.walk(hk, p); !ok {
			k, bary, ok = tf.searchStar(k, p, false)
		}
	}
	if !ok {
		if k, bary, ok = tf.scan(p); !ok {
			return -1, bary, false
		}
	}
	hint.Set(tf.id, k)
	return
}

func (tf *TetField) weights(p r3.Vec, hint *CellHint) (idx []int, wts []float64, err error) {
	k, bary, ok := tf.locate(p, hint)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %v in tet domain %d", ErrOutsideDomain, p, tf.id)
	}
	if tf.centering == CellCentered {
		return []int{k}, []float64{1}, nil
	}
	return tf.m.EToV[k], bary[:], nil
}

func (tf *TetField) Evaluate(t float64, p r3.Vec, hint *CellHint) (v r3.Vec, err error) {
	var (
		w   float64
		idx []int
		wts []float64
	)
	if w, err = tf.timeWeight(t); err != nil {
		return
	}
	if idx, wts, err = tf.weights(p, hint); err != nil {
		return
	}
	return tf.interpolate(w, idx, wts), nil
}

func (tf *TetField) EvaluateScalar(t float64, p r3.Vec, hint *CellHint) (s float64, err error) {
	var (
		w   float64
		idx []int
		wts []float64
	)
	if !tf.hasScalar() {
		return 0, ErrNoScalar
	}
	if w, err = tf.timeWeight(t); err != nil {
		return
	}
	if idx, wts, err = tf.weights(p, hint); err != nil {
		return
	}
	return tf.interpolateScalar(w, idx, wts), nil
}

// IsInside is true when p lies in an owned cell. A point on a face shared by
// a ghost and an owned cell counts as owned.
func (tf *TetField) IsInside(t float64, p r3.Vec, hint *CellHint) bool {
	k, _, ok := tf.locate(p, hint)
	if !ok {
		return false
	}
	if !tf.isGhost(k) {
		return true
	}
	_, _, ok = tf.searchStar(k, p, true)
	return ok
}

func (tf *TetField) DomainID() int               { return tf.id }
func (tf *TetField) Bounds() types.Box           { return tf.bounds }
func (tf *TetField) OwnedBounds() types.Box      { return tf.owned }
func (tf *TetField) TimeRange() (t0, t1 float64) { return tf.t0, tf.t1 }
func (tf *TetField) IsTimeVarying() bool         { return tf.isTimeVarying() }
func (tf *TetField) HasScalar() bool             { return tf.hasScalar() }
