package curve

import (
	"errors"
	"fmt"
	"math"

	"github.com/notargets/gocurve/field"
	"github.com/notargets/gocurve/solver"
	"github.com/notargets/gocurve/types"
	"gonum.org/v1/gonum/spatial/r3"
)

// Outcome is the result of one call to Step
type Outcome uint8

const (
	Advanced Outcome = iota
	Terminated
	NeedsHandoff
)

func (o Outcome) String() string {
	return [...]string{"Advanced", "Terminated", "NeedsHandoff"}[o]
}

const maxApproachSteps = 256

// IntegralCurve is one streamline or pathline. Steps holds only the current
// fragment; earlier fragments are retired by the owning rank. The exported
// fields are the state carried across ranks.
type IntegralCurve struct {
	ID        int
	Seed      Seed
	Params    Params
	Direction types.Direction

	Steps       []types.Step
	FragmentSeq int

	NumSteps  int
	ArcLength float64
	Distance  float64
	Time      float64
	Position  r3.Vec
	Velocity  r3.Vec
	DomainID  int

	// Solver continuation
	LastDt         float64
	LastErrorRatio float64

	State       types.TerminationState
	Diagnostics types.Diagnostic
	Handoffs    int
	Bounces     int // hand-offs since the last accepted step

	// Pending is the push over point past a domain boundary. It becomes a
	// step in the next domain, or is dropped if there is none.
	Pending *types.Step

	hint *field.CellHint
}

// NewCurve validates seed and params and returns a running curve at the seed
func NewCurve(id int, seed Seed, params Params) (c *IntegralCurve, err error) {
	params = params.WithDefaults()
	if err = seed.Validate(); err != nil {
		return
	}
	if err = params.Validate(seed.Time, seed.Direction); err != nil {
		return
	}
	c = &IntegralCurve{
		ID:        id,
		Seed:      seed,
		Params:    params,
		Direction: seed.Direction,
		Time:      seed.Time,
		Position:  seed.Position,
		DomainID:  -1,
		State:     types.Running,
	}
	return
}

func (c *IntegralCurve) IsRunning() bool { return c.State == types.Running }

// Terminate moves a running curve to state and leaves terminal curves alone
func (c *IntegralCurve) Terminate(state types.TerminationState) {
	if c.State == types.Running {
		c.State = state
	}
}

func (c *IntegralCurve) Hint() *field.CellHint {
	if c.hint == nil {
		c.hint = field.NewCellHint()
	}
	return c.hint
}

// current is the last accepted point as a solver input
func (c *IntegralCurve) current() types.Step {
	return types.Step{
		Seq:       c.NumSteps - 1,
		Time:      c.Time,
		Position:  c.Position,
		Velocity:  c.Velocity,
		ArcLength: c.ArcLength,
		Distance:  c.Distance,
	}
}

// timeLimit is the largest step magnitude that stays inside the field's time
// window and the curve's time limit, or zero when unbounded.
func (c *IntegralCurve) timeLimit(f field.Field) (limit float64) {
	limit = math.Inf(1)
	if f.IsTimeVarying() {
		t0, t1 := f.TimeRange()
		if c.Direction == types.Forward {
			limit = t1 - c.Time
		} else {
			limit = c.Time - t0
		}
	}
	if c.Params.TimeLimited {
		limit = math.Min(limit, c.Direction.Sign()*(c.Params.MaxTime-c.Time))
	}
	if math.IsInf(limit, 1) {
		return 0
	}
	return math.Max(limit, math.SmallestNonzeroFloat64)
}

// accept appends one step, updates the counters and applies the termination
// predicates in priority order.
func (c *IntegralCurve) accept(f field.Field, st types.Step, errorRatio float64, diag types.Diagnostic) {
	prev := c.Position
	st.Seq = c.NumSteps
	c.ArcLength += r3.Norm(r3.Sub(st.Position, prev))
	st.ArcLength = c.ArcLength
	if c.Params.Policy == types.Displacement {
		c.Distance = r3.Norm(r3.Sub(st.Position, c.Seed.Position))
	} else {
		c.Distance = c.ArcLength
	}
	st.Distance = c.Distance
	if f != nil && f.HasScalar() {
		if s, err := f.EvaluateScalar(st.Time, st.Position, c.hint); err == nil {
			st.Scalar = s
		}
	}
	c.Steps = append(c.Steps, st)
	c.NumSteps++
	c.Time, c.Position, c.Velocity = st.Time, st.Position, st.Velocity
	c.LastErrorRatio = errorRatio
	c.Diagnostics |= diag
	c.Bounces = 0

	p := c.Params
	switch {
	case c.NumSteps >= p.MaxSteps:
		c.State = types.MaxStepsReached
	case p.MaxDistance > 0 && c.Distance >= p.MaxDistance:
		c.State = types.MaxDistanceReached
	case p.TimeLimited && c.reachedTime(p.MaxTime):
		c.State = types.MaxTimeReached
	case p.Boundary != nil && p.Boundary.Crossed(prev, st.Position):
		c.State = types.ExplicitBoundaryHit
	}
}

func (c *IntegralCurve) reachedTime(t float64) bool {
	tol := 1.e-12 * math.Max(1, math.Abs(t))
	return c.Direction.Sign()*(c.Time-t) >= -tol
}

// NeedsCheckpoint is true when the current fragment is full
func (c *IntegralCurve) NeedsCheckpoint() bool {
	return c.IsRunning() && len(c.Steps) >= c.Params.MaxFragmentSteps
}

// Step advances the curve by one solver step through f, the local field
// covering the curve's position and time. A step that leaves the owned
// region is never appended; the curve instead closes in on the boundary and
// reports NeedsHandoff with the point across it pending. The first Step in
// the next field accepts that point and nothing else.
func (c *IntegralCurve) Step(f field.Field, s *solver.Solver) (out Outcome, err error) {
	if !c.IsRunning() {
		return Terminated, nil
	}
	c.DomainID = f.DomainID()
	if c.Pending != nil {
		return c.commitPending(f)
	}
	hint := c.Hint()
	cur := c.current()
	if _, err = f.Evaluate(c.Time, c.Position, hint); err != nil {
		if errors.Is(err, field.ErrOutsideDomain) {
			// The curve is not in this domain at all
			c.Diagnostics |= types.DiagMisrouted
			return NeedsHandoff, nil
		}
		return Advanced, fmt.Errorf("curve %d: %w", c.ID, err)
	}
	dt := c.LastDt
	if dt == 0 {
		dt = c.Direction.Sign() * s.EstimateInitialDt(f, hint, cur, c.Direction)
	}
	limit := c.timeLimit(f)

	res, err := s.Advance(f, hint, cur, dt, limit)
	switch {
	case err == nil && f.IsInside(res.Step.Time, res.Step.Position, hint):
		c.LastDt = res.NextDt
		c.accept(f, res.Step, res.ErrorEstimate, res.Diagnostics)
		if !c.IsRunning() {
			return Terminated, nil
		}
		return Advanced, nil
	case err == nil:
		return c.approachBoundary(f, s, math.Abs(res.AchievedDt), dt)
	case errors.Is(err, solver.ErrStepRejected):
		c.Terminate(types.SolverFailed)
		return Terminated, nil
	case errors.Is(err, solver.ErrFieldEvaluationFailed):
		h := math.Max(s.Config().DtMin, math.Min(math.Abs(dt), s.Config().DtMax))
		if limit > 0 {
			h = math.Min(h, limit)
		}
		return c.approachBoundary(f, s, h, dt)
	default:
		return Advanced, fmt.Errorf("curve %d: %w", c.ID, err)
	}
}

// approachBoundary bisects the failed step size h until the remaining step
// is shorter than HandoffEpsilon, accepting every sub-step that stays in the
// owned region, then takes an explicit Euler step of length HandoffEpsilon
// across the boundary. A push over point outside f is held in Pending, not
// accepted. The approach stops early when the fragment fills up.
func (c *IntegralCurve) approachBoundary(f field.Field, s *solver.Solver, h, savedDt float64) (Outcome, error) {
	var (
		hint = c.Hint()
		sign = c.Direction.Sign()
		eps  = c.Params.HandoffEpsilon
	)
	defer func() { c.LastDt = savedDt }()
	velocity := func() r3.Vec {
		if v, err := f.Evaluate(c.Time, c.Position, hint); err == nil {
			return v
		}
		return c.Velocity
	}
	for n := 0; n < maxApproachSteps; n++ {
		h *= 0.5
		if r3.Norm(velocity())*h < eps {
			break
		}
		lim := h
		if tl := c.timeLimit(f); tl > 0 {
			lim = math.Min(lim, tl)
		}
		res, err := s.Advance(f, hint, c.current(), sign*h, lim)
		switch {
		case err == nil && f.IsInside(res.Step.Time, res.Step.Position, hint):
			c.accept(f, res.Step, res.ErrorEstimate, res.Diagnostics)
			if !c.IsRunning() {
				return Terminated, nil
			}
			if c.NeedsCheckpoint() {
				return Advanced, nil
			}
			h *= 2
		case err == nil, errors.Is(err, solver.ErrFieldEvaluationFailed):
		case errors.Is(err, solver.ErrStepRejected):
			c.Terminate(types.SolverFailed)
			return Terminated, nil
		default:
			return Advanced, fmt.Errorf("curve %d: %w", c.ID, err)
		}
	}

	v := velocity()
	speed := r3.Norm(v)
	if speed == 0 {
		// Stagnant at the boundary, nothing can carry the curve across
		c.Terminate(types.LeftDomainPermanently)
		return Terminated, nil
	}
	dtPush := eps / speed
	if tl := c.timeLimit(f); tl > 0 {
		dtPush = math.Min(dtPush, tl)
	}
	push := types.Step{
		Time:     c.Time + sign*dtPush,
		Position: r3.Add(c.Position, r3.Scale(sign*dtPush, v)),
		Velocity: v,
	}
	if !f.IsInside(push.Time, push.Position, hint) {
		c.Pending = &push
		return NeedsHandoff, nil
	}
	if vp, err := f.Evaluate(push.Time, push.Position, hint); err == nil {
		push.Velocity = vp
	}
	c.accept(f, push, c.LastErrorRatio, 0)
	if !c.IsRunning() {
		return Terminated, nil
	}
	return Advanced, nil
}

// commitPending accepts the push over point as the first step in f, with
// the velocity f reports there.
func (c *IntegralCurve) commitPending(f field.Field) (Outcome, error) {
	st := *c.Pending
	v, err := f.Evaluate(st.Time, st.Position, c.Hint())
	switch {
	case errors.Is(err, field.ErrOutsideDomain):
		c.Diagnostics |= types.DiagMisrouted
		return NeedsHandoff, nil
	case err != nil:
		return Advanced, fmt.Errorf("curve %d: %w", c.ID, err)
	}
	st.Velocity = v
	c.Pending = nil
	c.accept(f, st, c.LastErrorRatio, 0)
	if !c.IsRunning() {
		return Terminated, nil
	}
	return Advanced, nil
}

// Continuation is the time and position integration resumes from
func (c *IntegralCurve) Continuation() (t float64, p r3.Vec) {
	if c.Pending != nil {
		return c.Pending.Time, c.Pending.Position
	}
	return c.Time, c.Position
}

// DropPending ends a hand-off that found no next domain at the last
// accepted step
func (c *IntegralCurve) DropPending() { c.Pending = nil }

// Retire closes the current fragment and starts the next one
func (c *IntegralCurve) Retire() (frag Fragment) {
	frag = Fragment{
		ID:          c.ID,
		FragmentSeq: c.FragmentSeq,
		Direction:   c.Direction,
		Seed:        c.Seed,
		Steps:       c.Steps,
		State:       c.State,
		Diagnostics: c.Diagnostics,
	}
	c.Steps = nil
	c.FragmentSeq++
	return
}

// Detach prepares the curve to leave its rank: the cell hint is dropped
// and the hand-off counted.
func (c *IntegralCurve) Detach() {
	c.hint = nil
	c.Handoffs++
	c.Bounces++
}
