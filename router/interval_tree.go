package router

import (
	"sort"
)

// interval is the closed extent [lo, hi] of one domain along x
type interval struct {
	lo, hi float64
	item   int
}

// centeredNode holds the intervals that contain center, sorted two ways so
// a stab can stop at the first interval that misses.
type centeredNode struct {
	center      float64
	byLo        []interval // ascending lo
	byHi        []interval // descending hi
	left, right *centeredNode
}

// intervalTree is a static centered interval tree
type intervalTree struct {
	root *centeredNode
	size int
}

func newIntervalTree(ivs []interval) (t *intervalTree) {
	t = &intervalTree{size: len(ivs)}
	work := make([]interval, len(ivs))
	copy(work, ivs)
	t.root = buildCentered(work)
	return
}

func buildCentered(ivs []interval) (n *centeredNode) {
	if len(ivs) == 0 {
		return nil
	}
	ends := make([]float64, 0, 2*len(ivs))
	for _, iv := range ivs {
		ends = append(ends, iv.lo, iv.hi)
	}
	sort.Float64s(ends)
	n = &centeredNode{center: ends[len(ends)/2]}
	var left, right []interval
	for _, iv := range ivs {
		switch {
		case iv.hi < n.center:
			left = append(left, iv)
		case iv.lo > n.center:
			right = append(right, iv)
		default:
			n.byLo = append(n.byLo, iv)
		}
	}
	n.byHi = make([]interval, len(n.byLo))
	copy(n.byHi, n.byLo)
	sort.SliceStable(n.byLo, func(i, j int) bool { return n.byLo[i].lo < n.byLo[j].lo })
	sort.SliceStable(n.byHi, func(i, j int) bool { return n.byHi[i].hi > n.byHi[j].hi })
	n.left = buildCentered(left)
	n.right = buildCentered(right)
	return
}

// stab appends the items of every interval containing x
func (t *intervalTree) stab(x float64, items []int) []int {
	for n := t.root; n != nil; {
		switch {
		case x < n.center:
			for _, iv := range n.byLo {
				if iv.lo > x {
					break
				}
				items = append(items, iv.item)
			}
			n = n.left
		case x > n.center:
			for _, iv := range n.byHi {
				if iv.hi < x {
					break
				}
				items = append(items, iv.item)
			}
			n = n.right
		default:
			for _, iv := range n.byLo {
				items = append(items, iv.item)
			}
			return items
		}
	}
	return items
}

// depth is the height of the tree, used in tests and statistics
func (t *intervalTree) depth() int {
	var walk func(n *centeredNode) int
	walk = func(n *centeredNode) int {
		if n == nil {
			return 0
		}
		return 1 + max(walk(n.left), walk(n.right))
	}
	return walk(t.root)
}
