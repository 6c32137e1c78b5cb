package curve

import (
	"errors"
	"fmt"
	"math"

	"github.com/notargets/gocurve/types"
	"gonum.org/v1/gonum/spatial/r3"
)

var ErrInvalidParameters = errors.New("invalid curve parameters")

const (
	DefaultHandoffEpsilon   = 1.e-6
	DefaultMaxFragmentSteps = 4096
)

// Plane is the set of points x with Normal.x = Offset
type Plane struct {
	Normal r3.Vec
	Offset float64
}

// Signed is positive on the side Normal points to
func (p Plane) Signed(x r3.Vec) float64 {
	return r3.Dot(p.Normal, x) - p.Offset
}

// Crossed reports a sign change of the plane distance from a to b. Leaving
// the plane does not count, landing on it does.
func (p Plane) Crossed(a, b r3.Vec) bool {
	sa, sb := p.Signed(a), p.Signed(b)
	return (sa < 0 && sb >= 0) || (sa > 0 && sb <= 0)
}

// Params are the termination parameters of one curve
type Params struct {
	Policy           types.PolicyKind
	MaxSteps         int
	MaxDistance      float64 // zero disables the distance limit
	TimeLimited      bool
	MaxTime          float64
	Boundary         *Plane
	HandoffEpsilon   float64
	MaxFragmentSteps int
}

// WithDefaults fills unset tuning parameters
func (p Params) WithDefaults() Params {
	if p.HandoffEpsilon == 0 {
		p.HandoffEpsilon = DefaultHandoffEpsilon
	}
	if p.MaxFragmentSteps == 0 {
		p.MaxFragmentSteps = DefaultMaxFragmentSteps
	}
	return p
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidParameters, fmt.Sprintf(format, args...))
}

// Validate checks p for a curve seeded at time t0 integrating in dir
func (p Params) Validate(t0 float64, dir types.Direction) error {
	switch {
	case p.Policy > types.Displacement:
		return invalid("unknown policy %d", p.Policy)
	case p.MaxSteps < 1:
		return invalid("max steps must be positive, have %d", p.MaxSteps)
	case p.MaxDistance < 0 || math.IsNaN(p.MaxDistance):
		return invalid("max distance must not be negative, have %g", p.MaxDistance)
	case !(p.HandoffEpsilon > 0):
		return invalid("handoff epsilon must be positive, have %g", p.HandoffEpsilon)
	case p.MaxFragmentSteps < 1:
		return invalid("max fragment steps must be positive, have %d", p.MaxFragmentSteps)
	case dir != types.Forward && dir != types.Backward:
		return invalid("unknown direction %d", dir)
	case math.IsNaN(t0) || math.IsInf(t0, 0):
		return invalid("seed time %g", t0)
	}
	if p.Policy == types.Pathline && !p.TimeLimited {
		return invalid("pathlines need a time limit")
	}
	if p.TimeLimited {
		if math.IsNaN(p.MaxTime) || dir.Sign()*(p.MaxTime-t0) <= 0 {
			return invalid("max time %g is not after seed time %g going %s", p.MaxTime, t0, dir)
		}
	}
	if p.Boundary != nil && r3.Norm(p.Boundary.Normal) == 0 {
		return invalid("boundary plane has a zero normal")
	}
	return nil
}

// Seed is the start of one curve
type Seed struct {
	Position  r3.Vec
	Time      float64
	Direction types.Direction
}

func (s Seed) Validate() error {
	p := s.Position
	for _, v := range []float64{p.X, p.Y, p.Z} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return invalid("seed position %v", p)
		}
	}
	return nil
}
