package field

import (
	"fmt"

	"github.com/notargets/gocurve/types"
	"gonum.org/v1/gonum/spatial/r3"
)

type VelocityFunc func(t float64, p r3.Vec) r3.Vec

type ScalarFunc func(t float64, p r3.Vec) float64

// AnalyticConfig describes a function backed domain. Bounds may extend past
// Owned to act as a ghost layer. Ownership is half open against Global, so
// boxes that tile Global claim every point exactly once.
type AnalyticConfig struct {
	DomainID    int
	Bounds      types.Box
	Owned       types.Box
	Global      types.Box
	Velocity    VelocityFunc
	Scalar      ScalarFunc
	TimeVarying bool
	T0, T1      float64
}

type Analytic struct {
	cfg AnalyticConfig
}

func NewAnalytic(cfg AnalyticConfig) (a *Analytic, err error) {
	if cfg.Velocity == nil {
		return nil, fmt.Errorf("analytic domain %d has no velocity function", cfg.DomainID)
	}
	if cfg.Owned.IsUnset() {
		cfg.Owned = cfg.Bounds
	}
	if cfg.Bounds.IsUnset() {
		cfg.Bounds = cfg.Owned
	}
	if cfg.Owned.IsDegenerate() {
		return nil, fmt.Errorf("analytic domain %d has no volume: %v", cfg.DomainID, cfg.Owned)
	}
	if !cfg.Bounds.Contains(cfg.Owned.Min) || !cfg.Bounds.Contains(cfg.Owned.Max) {
		return nil, fmt.Errorf("analytic domain %d: owned box %v is not inside %v",
			cfg.DomainID, cfg.Owned, cfg.Bounds)
	}
	if cfg.Global.IsUnset() {
		cfg.Global = cfg.Owned
	}
	if cfg.TimeVarying && !(cfg.T1 > cfg.T0) {
		return nil, fmt.Errorf("time varying analytic domain %d needs t1 > t0", cfg.DomainID)
	}
	return &Analytic{cfg: cfg}, nil
}

func (a *Analytic) check(t float64, p r3.Vec) error {
	if a.cfg.TimeVarying && (t < a.cfg.T0 || t > a.cfg.T1) {
		return fmt.Errorf("%w: t = %g, range [%g, %g]", ErrOutsideTimeRange, t, a.cfg.T0, a.cfg.T1)
	}
	if !a.cfg.Bounds.Contains(p) {
		return fmt.Errorf("%w: %v in analytic domain %d", ErrOutsideDomain, p, a.cfg.DomainID)
	}
	return nil
}

func (a *Analytic) Evaluate(t float64, p r3.Vec, _ *CellHint) (r3.Vec, error) {
	if err := a.check(t, p); err != nil {
		return r3.Vec{}, err
	}
	return a.cfg.Velocity(t, p), nil
}

func (a *Analytic) EvaluateScalar(t float64, p r3.Vec, _ *CellHint) (float64, error) {
	if a.cfg.Scalar == nil {
		return 0, ErrNoScalar
	}
	if err := a.check(t, p); err != nil {
		return 0, err
	}
	return a.cfg.Scalar(t, p), nil
}

func (a *Analytic) IsInside(_ float64, p r3.Vec, _ *CellHint) bool {
	return a.cfg.Owned.ContainsHalfOpen(p, a.cfg.Global)
}

func (a *Analytic) DomainID() int               { return a.cfg.DomainID }
func (a *Analytic) Bounds() types.Box           { return a.cfg.Bounds }
func (a *Analytic) OwnedBounds() types.Box      { return a.cfg.Owned }
func (a *Analytic) TimeRange() (t0, t1 float64) { return a.cfg.T0, a.cfg.T1 }
func (a *Analytic) IsTimeVarying() bool         { return a.cfg.TimeVarying }
func (a *Analytic) HasScalar() bool             { return a.cfg.Scalar != nil }

// Uniform returns a constant velocity function
func Uniform(v r3.Vec) VelocityFunc {
	return func(float64, r3.Vec) r3.Vec { return v }
}

// SolidRotation returns rotation about the z axis through center with angular
// rate omega.
func SolidRotation(center r3.Vec, omega float64) VelocityFunc {
	return func(_ float64, p r3.Vec) r3.Vec {
		d := r3.Sub(p, center)
		return r3.Vec{X: -omega * d.Y, Y: omega * d.X}
	}
}
