package router

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/notargets/gocurve/field"
	"github.com/notargets/gocurve/types"
	"gonum.org/v1/gonum/spatial/r3"
)

var ErrNotFound = errors.New("no domain owns the point")

// Domain is the routing record of one domain. Bounds includes ghost cells,
// Owned does not. Steady domains use an infinite time range.
type Domain struct {
	ID     int
	Rank   int
	Bounds types.Box
	Owned  types.Box
	T0, T1 float64
}

func (d Domain) Active(t float64) bool {
	return t >= d.T0 && t <= d.T1
}

// Steady returns the time range of a domain that is valid at all times
func Steady() (t0, t1 float64) {
	return math.Inf(-1), math.Inf(1)
}

type index struct {
	domains []Domain // ascending ID
	byID    map[int]int
	tree    *intervalTree
	global  types.Box
}

func newIndex(domains []Domain) (idx *index, err error) {
	idx = &index{
		domains: make([]Domain, len(domains)),
		byID:    make(map[int]int, len(domains)),
		global:  types.EmptyBox(),
	}
	copy(idx.domains, domains)
	sort.Slice(idx.domains, func(i, j int) bool { return idx.domains[i].ID < idx.domains[j].ID })
	ivs := make([]interval, len(idx.domains))
	for i, d := range idx.domains {
		if _, dup := idx.byID[d.ID]; dup {
			return nil, fmt.Errorf("duplicate domain id %d", d.ID)
		}
		if d.Owned.IsEmpty() || d.Bounds.IsEmpty() {
			return nil, fmt.Errorf("domain %d has an empty box", d.ID)
		}
		if d.Rank < 0 {
			return nil, fmt.Errorf("domain %d has negative rank %d", d.ID, d.Rank)
		}
		if !(d.T1 >= d.T0) {
			return nil, fmt.Errorf("domain %d has time range [%g, %g]", d.ID, d.T0, d.T1)
		}
		idx.byID[d.ID] = i
		idx.global = idx.global.Union(d.Owned)
		ivs[i] = interval{lo: d.Bounds.Min.X, hi: d.Bounds.Max.X, item: i}
	}
	idx.tree = newIntervalTree(ivs)
	return
}

// Router maps positions to the rank and domain that own them. Local domains
// answer through their attached field, remote domains through their owned
// box.
type Router struct {
	mu    sync.RWMutex
	idx   *index
	local map[int]field.Field
}

func New(domains []Domain) (r *Router, err error) {
	r = &Router{local: make(map[int]field.Field)}
	if err = r.Rebuild(domains); err != nil {
		return nil, err
	}
	return
}

// Rebuild replaces the index. Queries running concurrently see either the
// old or the new index.
func (r *Router) Rebuild(domains []Domain) error {
	idx, err := newIndex(domains)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.idx = idx
	r.mu.Unlock()
	return nil
}

// Attach registers fields held by this rank for exact ownership tests
func (r *Router) Attach(fields ...field.Field) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, f := range fields {
		r.local[f.DomainID()] = f
	}
}

func (r *Router) Domains() (domains []Domain) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append(domains, r.idx.domains...)
}

func (r *Router) Domain(id int) (d Domain, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	i, ok := r.idx.byID[id]
	if ok {
		d = r.idx.domains[i]
	}
	return
}

// Global is the union of all owned boxes
func (r *Router) Global() types.Box {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.idx.global
}

// Locate returns the rank and domain owning p at time t. Candidates are
// tried in ascending domain id and the first owner wins.
func (r *Router) Locate(p r3.Vec, t float64) (rank, domainID int, err error) {
	return r.LocateExcept(p, t, -1)
}

// LocateExcept is Locate skipping domain exclude, used when the curve has
// just left exclude.
func (r *Router) LocateExcept(p r3.Vec, t float64, exclude int) (rank, domainID int, err error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	idx := r.idx
	candidates := idx.tree.stab(p.X, nil)
	sort.Ints(candidates)
	for _, i := range candidates {
		d := idx.domains[i]
		if d.ID == exclude || !d.Active(t) || !d.Bounds.Contains(p) {
			continue
		}
		if f, ok := r.local[d.ID]; ok {
			if f.IsInside(t, p, nil) {
				return d.Rank, d.ID, nil
			}
			continue
		}
		if d.Owned.ContainsHalfOpen(p, idx.global) {
			return d.Rank, d.ID, nil
		}
	}
	return -1, -1, fmt.Errorf("%w: %v at t = %g", ErrNotFound, p, t)
}

// FromPieces builds routing records for decomposed field pieces using
// rankOf to place each piece.
func FromPieces(pieces []field.Piece, rankOf func(id int) int) (domains []Domain) {
	for _, pc := range pieces {
		t0, t1 := pc.TimeRange()
		domains = append(domains, Domain{
			ID:     pc.ID,
			Rank:   rankOf(pc.ID),
			Bounds: pc.Bounds,
			Owned:  pc.Owned,
			T0:     t0,
			T1:     t1,
		})
	}
	return
}
