package field

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/notargets/gocurve/types"
)

var ErrUnknownDomain = errors.New("domain not held by this field set")

type window struct {
	field Field
	refs  int
}

// Set holds the fields of one rank keyed by domain and time window
type Set struct {
	mu      sync.Mutex
	windows map[int][]*window // sorted by window start
}

func NewSet(fields ...Field) (s *Set) {
	s = &Set{windows: make(map[int][]*window)}
	for _, f := range fields {
		s.Add(f)
	}
	return
}

func (s *Set) Add(f Field) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := f.DomainID()
	s.windows[id] = append(s.windows[id], &window{field: f})
	sort.SliceStable(s.windows[id], func(i, j int) bool {
		ti, _ := s.windows[id][i].field.TimeRange()
		tj, _ := s.windows[id][j].field.TimeRange()
		return ti < tj
	})
}

// Domains returns the held domain ids in ascending order
func (s *Set) Domains() (ids []int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, ws := range s.windows {
		if len(ws) != 0 {
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)
	return
}

// Geometry returns one field per held domain for spatial queries, which do
// not depend on the time window.
func (s *Set) Geometry() (fields []Field) {
	for _, id := range s.Domains() {
		s.mu.Lock()
		fields = append(fields, s.windows[id][0].field)
		s.mu.Unlock()
	}
	return
}

func (s *Set) Len() (n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ws := range s.windows {
		n += len(ws)
	}
	return
}

// Lookup returns the field of domain whose window brackets t in the
// integration direction: [t0, t1) forward and (t0, t1] backward. Steady
// fields match any time.
func (s *Set) Lookup(domainID int, t float64, dir types.Direction) (f Field, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ws, ok := s.windows[domainID]
	if !ok || len(ws) == 0 {
		return nil, fmt.Errorf("%w: %d", ErrUnknownDomain, domainID)
	}
	for _, w := range ws {
		if !w.field.IsTimeVarying() {
			return w.field, nil
		}
		t0, t1 := w.field.TimeRange()
		if dir == types.Forward && t >= t0 && t < t1 {
			return w.field, nil
		}
		if dir == types.Backward && t > t0 && t <= t1 {
			return w.field, nil
		}
	}
	return nil, fmt.Errorf("%w: no window of domain %d holds t = %g", ErrOutsideTimeRange, domainID, t)
}

func (s *Set) find(f Field) *window {
	for _, w := range s.windows[f.DomainID()] {
		if w.field == f {
			return w
		}
	}
	return nil
}

// Acquire pins a field against eviction
func (s *Set) Acquire(f Field) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if w := s.find(f); w != nil {
		w.refs++
	}
}

func (s *Set) Release(f Field) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if w := s.find(f); w != nil && w.refs > 0 {
		w.refs--
	}
}

func (s *Set) RefCount(f Field) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if w := s.find(f); w != nil {
		return w.refs
	}
	return 0
}

// Evict drops a field whose reference count is zero and reports whether it
// was removed.
func (s *Set) Evict(f Field) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := f.DomainID()
	for i, w := range s.windows[id] {
		if w.field != f {
			continue
		}
		if w.refs > 0 {
			return false
		}
		s.windows[id] = append(s.windows[id][:i], s.windows[id][i+1:]...)
		if len(s.windows[id]) == 0 {
			delete(s.windows, id)
		}
		return true
	}
	return false
}
