package solver

import (
	"errors"
	"fmt"
	"math"

	"github.com/notargets/gocurve/field"
	"github.com/notargets/gocurve/types"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/spatial/r3"
)

var (
	ErrFieldEvaluationFailed = errors.New("field evaluation failed")
	ErrStepRejected          = errors.New("step rejected too many times")
)

// Config holds the integration parameters shared by every curve on a rank
type Config struct {
	Method        Method
	AbsTol        float64
	RelTol        float64
	DtMin         float64
	DtMax         float64
	InitialDt     float64 // estimated from the field when zero
	MaxRejections int
}

func DefaultConfig() Config {
	return Config{
		Method:        DoPri5,
		AbsTol:        1.e-6,
		RelTol:        1.e-6,
		DtMin:         1.e-8,
		DtMax:         0.1,
		MaxRejections: 30,
	}
}

func (c Config) Validate() error {
	switch {
	case c.Method < 0 || c.Method >= NumberOfMethods:
		return fmt.Errorf("unknown rk method %d", int(c.Method))
	case !(c.AbsTol > 0) || !(c.RelTol >= 0):
		return fmt.Errorf("tolerances must be positive, have atol %g, rtol %g", c.AbsTol, c.RelTol)
	case !(c.DtMin > 0) || !(c.DtMax >= c.DtMin):
		return fmt.Errorf("need 0 < DtMin <= DtMax, have [%g, %g]", c.DtMin, c.DtMax)
	case c.InitialDt < 0:
		return fmt.Errorf("initial dt must not be negative, have %g", c.InitialDt)
	case c.MaxRejections < 1:
		return fmt.Errorf("max rejections must be positive, have %d", c.MaxRejections)
	}
	return nil
}

// Result is the outcome of one accepted step. Step carries the new time,
// position and velocity; its bookkeeping fields are left to the caller.
type Result struct {
	Step          types.Step
	AchievedDt    float64 // signed
	ErrorEstimate float64 // scaled error norm of the accepted step
	NextDt        float64 // signed
	Rejections    int
	Evaluations   int
	Diagnostics   types.Diagnostic
}

// Solver advances one point through a field. A Solver keeps scratch space
// and must not be shared between goroutines.
type Solver struct {
	cfg Config
	tab *tableau
	ks  []r3.Vec
}

func New(cfg Config) (s *Solver, err error) {
	if err = cfg.Validate(); err != nil {
		return
	}
	s = &Solver{cfg: cfg}
	if s.tab, err = newTableau(cfg.Method); err != nil {
		return nil, err
	}
	s.ks = make([]r3.Vec, s.tab.stages)
	return
}

func (s *Solver) Config() Config { return s.cfg }

func (s *Solver) Order() int { return s.tab.order }

func (s *Solver) clampDt(h float64) float64 {
	return math.Max(s.cfg.DtMin, math.Min(h, s.cfg.DtMax))
}

func evaluationError(err error) error {
	return fmt.Errorf("%w: %w", ErrFieldEvaluationFailed, err)
}

// Advance takes one accepted step from cur with signed step size dt. The
// step magnitude is clamped to [DtMin, DtMax] and, when limit > 0, to limit,
// which lets a caller land exactly on an end time even below DtMin. A step
// that still fails the tolerance at the smallest allowed size is accepted
// with DiagStepUnderflow.
func (s *Solver) Advance(f field.Field, hint *field.CellHint, cur types.Step,
	dt, limit float64) (res Result, err error) {
	if dt == 0 || math.IsNaN(dt) {
		return res, fmt.Errorf("invalid step size %g", dt)
	}
	var (
		sign  = math.Copysign(1, dt)
		h     = s.clampDt(math.Abs(dt))
		floor = s.cfg.DtMin
	)
	if limit > 0 {
		h = math.Min(h, limit)
		floor = math.Min(floor, limit)
	}
	k1, err := f.Evaluate(cur.Time, cur.Position, hint)
	if err != nil {
		return res, evaluationError(err)
	}
	res.Evaluations = 1
	for {
		var y, ye r3.Vec
		if y, ye, err = s.attempt(f, hint, cur, k1, sign*h); err != nil {
			return res, evaluationError(err)
		}
		res.Evaluations += s.tab.stages - 1
		rer := s.errorNorm(cur.Position, ye)
		fac := 0.9 * math.Exp(-math.Log(1.e-8+rer)/float64(s.tab.order))
		fac = math.Max(0.2, math.Min(fac, 2.0))

		if rer > 1 && h > floor {
			res.Rejections++
			if res.Rejections > s.cfg.MaxRejections {
				return res, fmt.Errorf("%w: %d rejections at t = %g, dt = %g",
					ErrStepRejected, res.Rejections, cur.Time, sign*h)
			}
			h = math.Max(h*fac, floor)
			continue
		}
		if rer > 1 {
			res.Diagnostics |= types.DiagStepUnderflow
		}

		tNew := cur.Time + sign*h
		vel := s.ks[s.tab.stages-1]
		if !s.tab.firstStageAsLast {
			if vel, err = f.Evaluate(tNew, y, hint); err != nil {
				return res, evaluationError(err)
			}
			res.Evaluations++
		}
		res.Step = types.Step{Time: tNew, Position: y, Velocity: vel}
		res.AchievedDt = sign * h
		res.ErrorEstimate = rer
		res.NextDt = sign * s.clampDt(h*fac)
		return res, nil
	}
}

// attempt evaluates the stages of one step of signed size h and returns the
// new solution and the local error estimate.
func (s *Solver) attempt(f field.Field, hint *field.CellHint, cur types.Step,
	k1 r3.Vec, h float64) (y, ye r3.Vec, err error) {
	tab := s.tab
	s.ks[0] = k1
	for stg := 1; stg < tab.stages; stg++ {
		yc := cur.Position
		for ic := 0; ic < stg; ic++ {
			if a := tab.a[stg][ic]; a != 0 {
				yc = r3.Add(yc, r3.Scale(h*a, s.ks[ic]))
			}
		}
		if s.ks[stg], err = f.Evaluate(cur.Time+h*tab.c[stg], yc, hint); err != nil {
			return
		}
	}
	y = cur.Position
	for stg := 0; stg < tab.stages; stg++ {
		if b := tab.b[stg]; b != 0 {
			y = r3.Add(y, r3.Scale(h*b, s.ks[stg]))
		}
		if e := tab.e[stg]; e != 0 {
			ye = r3.Add(ye, r3.Scale(h*e, s.ks[stg]))
		}
	}
	return
}

// errorNorm is the RMS of the error scaled by atol + rtol*|y|
func (s *Solver) errorNorm(y, ye r3.Vec) float64 {
	scaled := []float64{
		ye.X / (s.cfg.AbsTol + s.cfg.RelTol*math.Abs(y.X)),
		ye.Y / (s.cfg.AbsTol + s.cfg.RelTol*math.Abs(y.Y)),
		ye.Z / (s.cfg.AbsTol + s.cfg.RelTol*math.Abs(y.Z)),
	}
	return floats.Norm(scaled, 2) / math.Sqrt(float64(len(scaled)))
}

// EstimateInitialDt returns a starting step magnitude from the local
// velocity and a finite difference estimate of its derivative, or the
// configured InitialDt when set.
func (s *Solver) EstimateInitialDt(f field.Field, hint *field.CellHint, cur types.Step,
	dir types.Direction) float64 {
	if s.cfg.InitialDt > 0 {
		return s.clampDt(s.cfg.InitialDt)
	}
	var (
		y        = [3]float64{cur.Position.X, cur.Position.Y, cur.Position.Z}
		h, h1    float64
		dnf, dny float64
	)
	fv1, err := f.Evaluate(cur.Time, cur.Position, hint)
	if err != nil {
		return s.cfg.DtMin
	}
	fv := [3]float64{fv1.X, fv1.Y, fv1.Z}
	rc := func(id int) float64 { return s.cfg.AbsTol + s.cfg.RelTol*math.Abs(y[id]) }
	for id := 0; id < 3; id++ {
		dnf += math.Pow(fv[id]/rc(id), 2)
		dny += math.Pow(y[id]/rc(id), 2)
	}
	if math.Min(dnf, dny) < 1e-10 {
		h = 1.e-6
	} else {
		h = 1.e-2 * math.Sqrt(dny/dnf)
	}
	h = math.Min(h, s.cfg.DtMax)

	// explicit Euler step
	f2, err := f.Evaluate(cur.Time+dir.Sign()*h, r3.Add(cur.Position, r3.Scale(dir.Sign()*h, fv1)), hint)
	if err != nil {
		return s.clampDt(h)
	}
	f2v := [3]float64{f2.X, f2.Y, f2.Z}
	var der2 float64
	for id := 0; id < 3; id++ {
		der2 += math.Pow((f2v[id]-fv[id])/rc(id), 2)
	}
	// estimate for second derivative
	der2 = math.Sqrt(der2) / h
	der12 := math.Max(der2, math.Sqrt(dnf))
	if der12 <= 1.e-15 {
		h1 = math.Max(1.e-6, h*1.e-3)
	} else {
		h1 = math.Pow(1.e-2/der12, 1.0/float64(s.tab.order))
	}
	return s.clampDt(math.Min(1e2*h, h1))
}
