package types

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// Box is an axis aligned bounding box
type Box struct {
	Min, Max r3.Vec
}

func NewBox(min, max r3.Vec) Box {
	return Box{Min: min, Max: max}
}

// EmptyBox returns a box that any Extend call will replace
func EmptyBox() Box {
	inf := math.Inf(1)
	return Box{
		Min: r3.Vec{X: inf, Y: inf, Z: inf},
		Max: r3.Vec{X: -inf, Y: -inf, Z: -inf},
	}
}

func (b Box) IsEmpty() bool {
	return b.Min.X > b.Max.X || b.Min.Y > b.Max.Y || b.Min.Z > b.Max.Z
}

// IsUnset is true for the zero value and for empty boxes, which callers use
// to mean "not given"
func (b Box) IsUnset() bool {
	return b == Box{} || b.IsEmpty()
}

// IsDegenerate is true when the box has no volume
func (b Box) IsDegenerate() bool {
	return !(b.Max.X > b.Min.X && b.Max.Y > b.Min.Y && b.Max.Z > b.Min.Z)
}

// Contains is the closed containment test
func (b Box) Contains(p r3.Vec) bool {
	return p.X >= b.Min.X && p.X <= b.Max.X &&
		p.Y >= b.Min.Y && p.Y <= b.Max.Y &&
		p.Z >= b.Min.Z && p.Z <= b.Max.Z
}

// ContainsHalfOpen includes the low faces and excludes the high faces, except
// where a high face coincides with the matching face of global.
func (b Box) ContainsHalfOpen(p r3.Vec, global Box) bool {
	in := func(v, lo, hi, ghi float64) bool {
		if v < lo {
			return false
		}
		if hi == ghi {
			return v <= hi
		}
		return v < hi
	}
	return in(p.X, b.Min.X, b.Max.X, global.Max.X) &&
		in(p.Y, b.Min.Y, b.Max.Y, global.Max.Y) &&
		in(p.Z, b.Min.Z, b.Max.Z, global.Max.Z)
}

func (b Box) Extend(p r3.Vec) Box {
	return Box{
		Min: r3.Vec{X: math.Min(b.Min.X, p.X), Y: math.Min(b.Min.Y, p.Y), Z: math.Min(b.Min.Z, p.Z)},
		Max: r3.Vec{X: math.Max(b.Max.X, p.X), Y: math.Max(b.Max.Y, p.Y), Z: math.Max(b.Max.Z, p.Z)},
	}
}

func (b Box) Union(o Box) Box {
	if o.IsEmpty() {
		return b
	}
	return b.Extend(o.Min).Extend(o.Max)
}

func (b Box) Size() r3.Vec { return r3.Sub(b.Max, b.Min) }

func (b Box) Center() r3.Vec { return r3.Scale(0.5, r3.Add(b.Min, b.Max)) }

func (b Box) String() string {
	return fmt.Sprintf("[%g,%g]x[%g,%g]x[%g,%g]",
		b.Min.X, b.Max.X, b.Min.Y, b.Max.Y, b.Min.Z, b.Max.Z)
}
