package curve

import (
	"math"
	"math/rand"
	"testing"

	"github.com/notargets/gocurve/field"
	"github.com/notargets/gocurve/solver"
	"github.com/notargets/gocurve/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"
)

var (
	bigBox = types.NewBox(r3.Vec{X: -10, Y: -10, Z: -10}, r3.Vec{X: 10, Y: 10, Z: 10})
	xHat   = r3.Vec{X: 1}
)

func analytic(t *testing.T, cfg field.AnalyticConfig) field.Field {
	f, err := field.NewAnalytic(cfg)
	require.NoError(t, err)
	return f
}

// fixedStep returns a solver taking steps of exactly dt unless capped
func fixedStep(t *testing.T, dt float64) *solver.Solver {
	cfg := solver.DefaultConfig()
	cfg.DtMin, cfg.DtMax, cfg.InitialDt = dt, dt, dt
	s, err := solver.New(cfg)
	require.NoError(t, err)
	return s
}

func newCurve(t *testing.T, p Params) *IntegralCurve {
	c, err := NewCurve(1, Seed{Position: r3.Vec{}, Direction: types.Forward}, p)
	require.NoError(t, err)
	return c
}

// run steps c until it leaves the Advanced outcome
func run(t *testing.T, c *IntegralCurve, f field.Field, s *solver.Solver) Outcome {
	for i := 0; i < 100000; i++ {
		out, err := c.Step(f, s)
		require.NoError(t, err)
		if out != Advanced {
			return out
		}
	}
	t.Fatal("curve did not stop")
	return Advanced
}

func TestParams(t *testing.T) {
	seed := Seed{Time: 1, Direction: types.Forward}
	good := Params{MaxSteps: 10}
	_, err := NewCurve(0, seed, good)
	require.NoError(t, err)
	bad := []Params{
		{MaxSteps: 0},
		{MaxSteps: 10, MaxDistance: -1},
		{MaxSteps: 10, Policy: types.Pathline},
		{MaxSteps: 10, TimeLimited: true, MaxTime: 0.5},
		{MaxSteps: 10, TimeLimited: true, MaxTime: 1},
		{MaxSteps: 10, Boundary: &Plane{}},
		{MaxSteps: 10, HandoffEpsilon: -1},
		{MaxSteps: 10, Policy: types.PolicyKind(9)},
	}
	for i, p := range bad {
		_, err := NewCurve(0, seed, p)
		assert.ErrorIs(t, err, ErrInvalidParameters, "case %d", i)
	}
	{ // Backward pathlines need an earlier max time
		back := Seed{Time: 1, Direction: types.Backward}
		_, err := NewCurve(0, back, Params{MaxSteps: 10, Policy: types.Pathline, TimeLimited: true, MaxTime: 0})
		assert.NoError(t, err)
		_, err = NewCurve(0, back, Params{MaxSteps: 10, Policy: types.Pathline, TimeLimited: true, MaxTime: 2})
		assert.ErrorIs(t, err, ErrInvalidParameters)
	}
	_, err = NewCurve(0, Seed{Direction: types.Direction(0)}, good)
	assert.ErrorIs(t, err, ErrInvalidParameters)
	_, err = NewCurve(0, Seed{Position: r3.Vec{X: math.NaN()}, Direction: types.Forward}, good)
	assert.ErrorIs(t, err, ErrInvalidParameters)

	p := good.WithDefaults()
	assert.Equal(t, DefaultHandoffEpsilon, p.HandoffEpsilon)
	assert.Equal(t, DefaultMaxFragmentSteps, p.MaxFragmentSteps)
	plane := Plane{Normal: xHat, Offset: 1}
	assert.True(t, plane.Crossed(r3.Vec{}, r3.Vec{X: 1}))
	assert.True(t, plane.Crossed(r3.Vec{X: 2}, r3.Vec{X: 0.5}))
	assert.False(t, plane.Crossed(r3.Vec{X: 1}, r3.Vec{X: 2}))
}

func TestTerminationPriority(t *testing.T) {
	var (
		f = analytic(t, field.AnalyticConfig{Bounds: bigBox, Velocity: field.Uniform(xHat)})
		s = fixedStep(t, 0.1)
	)
	{ // Distance is hit at step 2 of 5
		c := newCurve(t, Params{MaxSteps: 5, MaxDistance: 0.15})
		assert.Equal(t, Terminated, run(t, c, f, s))
		assert.Equal(t, types.MaxDistanceReached, c.State)
		assert.Equal(t, 2, c.NumSteps)
	}
	{ // Simultaneous thresholds resolve to the step limit
		c := newCurve(t, Params{MaxSteps: 2, MaxDistance: 0.15, Boundary: &Plane{Normal: xHat, Offset: 0.15}})
		assert.Equal(t, Terminated, run(t, c, f, s))
		assert.Equal(t, types.MaxStepsReached, c.State)
		assert.Equal(t, 2, c.NumSteps)
	}
	{ // Distance outranks time in the same step
		c := newCurve(t, Params{MaxSteps: 100, MaxDistance: 0.15, TimeLimited: true, MaxTime: 0.2})
		assert.Equal(t, Terminated, run(t, c, f, s))
		assert.Equal(t, types.MaxDistanceReached, c.State)
		assert.Equal(t, 2, c.NumSteps)
		assert.InDelta(t, 0.2, c.Time, 1.e-12)
	}
	{ // Time outranks the plane in the same step
		c := newCurve(t, Params{MaxSteps: 100, TimeLimited: true, MaxTime: 0.2,
			Boundary: &Plane{Normal: xHat, Offset: 0.15}})
		assert.Equal(t, Terminated, run(t, c, f, s))
		assert.Equal(t, types.MaxTimeReached, c.State)
		assert.Equal(t, 2, c.NumSteps)
	}
	{ // Time limited curves land on the max time
		c := newCurve(t, Params{MaxSteps: 100, TimeLimited: true, MaxTime: 0.25})
		assert.Equal(t, Terminated, run(t, c, f, s))
		assert.Equal(t, types.MaxTimeReached, c.State)
		assert.Equal(t, 3, c.NumSteps)
		assert.InDelta(t, 0.25, c.Time, 1.e-12)
		assert.InDelta(t, 0.25, c.Position.X, 1.e-12)
	}
	{ // Plane crossing
		c := newCurve(t, Params{MaxSteps: 100, Boundary: &Plane{Normal: xHat, Offset: 0.35}})
		assert.Equal(t, Terminated, run(t, c, f, s))
		assert.Equal(t, types.ExplicitBoundaryHit, c.State)
		assert.Equal(t, 4, c.NumSteps)
	}
	{ // Terminal states are final
		c := newCurve(t, Params{MaxSteps: 1})
		assert.Equal(t, Terminated, run(t, c, f, s))
		c.Terminate(types.Cancelled)
		assert.Equal(t, types.MaxStepsReached, c.State)
		out, err := c.Step(f, s)
		require.NoError(t, err)
		assert.Equal(t, Terminated, out)
		assert.Equal(t, 1, c.NumSteps)
	}
}

func TestDistanceMetrics(t *testing.T) {
	// Solid rotation around the origin keeps |x| fixed while the arc grows
	f := analytic(t, field.AnalyticConfig{Bounds: bigBox, Velocity: field.SolidRotation(r3.Vec{}, 1)})
	cfg := solver.DefaultConfig()
	cfg.AbsTol, cfg.RelTol = 1.e-10, 1.e-10
	s, err := solver.New(cfg)
	require.NoError(t, err)
	seed := Seed{Position: r3.Vec{X: 1}, Direction: types.Forward}
	{
		c, err := NewCurve(0, seed, Params{Policy: types.Streamline, MaxSteps: 100000, MaxDistance: 3})
		require.NoError(t, err)
		run(t, c, f, s)
		assert.Equal(t, types.MaxDistanceReached, c.State)
		assert.InDelta(t, c.ArcLength, c.Distance, 1.e-15)
		assert.InDelta(t, c.Length(), c.ArcLength, 1.e-12)
	}
	{ // Displacement never exceeds the chord 2
		c, err := NewCurve(0, seed, Params{Policy: types.Displacement, MaxSteps: 100000, MaxDistance: 1.9})
		require.NoError(t, err)
		run(t, c, f, s)
		assert.Equal(t, types.MaxDistanceReached, c.State)
		assert.InDelta(t, r3.Norm(r3.Sub(c.Position, seed.Position)), c.Distance, 1.e-15)
		assert.Less(t, c.Distance, c.ArcLength)
	}
}

func TestDomainExit(t *testing.T) {
	var (
		global = types.NewBox(r3.Vec{}, r3.Vec{X: 2, Y: 1, Z: 1})
		domA   = types.NewBox(r3.Vec{}, r3.Vec{X: 1, Y: 1, Z: 1})
		f      = analytic(t, field.AnalyticConfig{Bounds: domA, Global: global, Velocity: field.Uniform(xHat)})
		s      = fixedStep(t, 0.1)
	)
	c, err := NewCurve(3, Seed{Position: r3.Vec{X: 0.1, Y: 0.5, Z: 0.5}, Direction: types.Forward},
		Params{MaxSteps: 10000})
	require.NoError(t, err)
	assert.Equal(t, NeedsHandoff, run(t, c, f, s))
	assert.True(t, c.IsRunning())
	eps := c.Params.HandoffEpsilon
	// Every accepted step stays in A, the point just past the boundary waits
	assert.Equal(t, c.NumSteps, len(c.Steps))
	for i, st := range c.Steps {
		assert.Equal(t, i, st.Seq)
		assert.Less(t, st.Position.X, 1.)
	}
	assert.Equal(t, c.Position, c.Steps[len(c.Steps)-1].Position)
	assert.GreaterOrEqual(t, c.Position.X+eps, 1.)
	require.NotNil(t, c.Pending)
	tc, pc := c.Continuation()
	assert.Equal(t, c.Pending.Position, pc)
	assert.Equal(t, c.Pending.Time, tc)
	assert.GreaterOrEqual(t, pc.X, 1.)
	assert.Less(t, pc.X, 1+2*eps)
	// The step size before the approach is kept
	assert.Equal(t, 0.1, c.LastDt)
	{ // The next domain picks the curve up
		c := *c
		pending := *c.Pending
		domB := types.NewBox(r3.Vec{X: 1}, r3.Vec{X: 2, Y: 1, Z: 1})
		g := analytic(t, field.AnalyticConfig{DomainID: 1, Bounds: domB, Global: global,
			Velocity: field.Uniform(r3.Vec{X: 2})})
		require.True(t, g.IsInside(pending.Time, pending.Position, nil))
		c.Detach()
		frag := c.Retire()
		assert.Equal(t, 0, frag.FragmentSeq)
		assert.Equal(t, 1, c.Bounces)
		out, err := c.Step(g, s)
		require.NoError(t, err)
		assert.Equal(t, Advanced, out)
		assert.Nil(t, c.Pending)
		assert.Equal(t, 0, c.Bounces)
		assert.Equal(t, 1, c.DomainID)
		require.Len(t, c.Steps, 1)
		assert.Equal(t, frag.Steps[len(frag.Steps)-1].Seq+1, c.Steps[0].Seq)
		assert.Equal(t, pending.Position, c.Steps[0].Position)
		// The committed point carries the velocity of the field it lies in
		assert.Equal(t, r3.Vec{X: 2}, c.Steps[0].Velocity)
	}
	{ // Without a next domain the curve ends at its last step in A
		last := c.Position
		c.DropPending()
		c.Terminate(types.LeftDomainPermanently)
		_, p := c.Continuation()
		assert.Equal(t, last, p)
		frag := c.Retire()
		assert.Less(t, frag.Steps[len(frag.Steps)-1].Position.X, 1.)
	}
}

func TestCheckpointBound(t *testing.T) {
	var (
		global = types.NewBox(r3.Vec{}, r3.Vec{X: 2, Y: 1, Z: 1})
		domA   = types.NewBox(r3.Vec{}, r3.Vec{X: 1, Y: 1, Z: 1})
		f      = analytic(t, field.AnalyticConfig{Bounds: domA, Global: global, Velocity: field.Uniform(xHat)})
		s      = fixedStep(t, 0.3)
		frags  []Fragment
		out    Outcome
	)
	c, err := NewCurve(0, Seed{Position: r3.Vec{Y: 0.5, Z: 0.5}, Direction: types.Forward},
		Params{MaxSteps: 10000, MaxFragmentSteps: 4})
	require.NoError(t, err)
	// The boundary approach accepts many short steps in one Step call
	for out != NeedsHandoff {
		out, err = c.Step(f, s)
		require.NoError(t, err)
		require.True(t, c.IsRunning())
		if c.NeedsCheckpoint() {
			frags = append(frags, c.Retire())
		}
	}
	frags = append(frags, c.Retire())
	assert.GreaterOrEqual(t, len(frags), 5)
	seq := 0
	for _, fr := range frags {
		assert.LessOrEqual(t, len(fr.Steps), 4, "fragment %d", fr.FragmentSeq)
		for _, st := range fr.Steps {
			assert.Equal(t, seq, st.Seq)
			seq++
		}
	}
	assert.Equal(t, c.NumSteps, seq)
	assert.NotNil(t, c.Pending)
}

func TestMisroutedAndFailures(t *testing.T) {
	f := analytic(t, field.AnalyticConfig{Bounds: types.NewBox(r3.Vec{}, r3.Vec{X: 1, Y: 1, Z: 1}),
		Velocity: field.SolidRotation(r3.Vec{}, 1)})
	{
		c, err := NewCurve(0, Seed{Position: r3.Vec{X: 5}, Direction: types.Forward}, Params{MaxSteps: 10})
		require.NoError(t, err)
		out, err := c.Step(f, fixedStep(t, 0.1))
		require.NoError(t, err)
		assert.Equal(t, NeedsHandoff, out)
		assert.True(t, c.Diagnostics.Has(types.DiagMisrouted))
		assert.Zero(t, c.NumSteps)
	}
	{
		cfg := solver.DefaultConfig()
		cfg.DtMin, cfg.DtMax, cfg.InitialDt = 1.e-12, 0.5, 0.5
		cfg.AbsTol, cfg.RelTol = 1.e-15, 0
		cfg.MaxRejections = 1
		s, err := solver.New(cfg)
		require.NoError(t, err)
		c, err := NewCurve(0, Seed{Position: r3.Vec{X: 0.5, Y: 0.1}, Direction: types.Forward}, Params{MaxSteps: 10})
		require.NoError(t, err)
		out, err := c.Step(f, s)
		require.NoError(t, err)
		assert.Equal(t, Terminated, out)
		assert.Equal(t, types.SolverFailed, c.State)
	}
}

func TestTimeWindow(t *testing.T) {
	f := analytic(t, field.AnalyticConfig{Bounds: bigBox, Velocity: field.Uniform(xHat),
		TimeVarying: true, T0: 0, T1: 0.25})
	c, err := NewCurve(0, Seed{Direction: types.Forward},
		Params{Policy: types.Pathline, MaxSteps: 100, TimeLimited: true, MaxTime: 1})
	require.NoError(t, err)
	s := fixedStep(t, 0.1)
	for i := 0; i < 3; i++ {
		out, err := c.Step(f, s)
		require.NoError(t, err)
		assert.Equal(t, Advanced, out)
	}
	// The third step stops at the window end
	assert.InDelta(t, 0.25, c.Time, 1.e-12)
	assert.True(t, c.IsRunning())
}

func buildFragments(t *testing.T, n, every int) (frags []Fragment, c *IntegralCurve) {
	f := analytic(t, field.AnalyticConfig{Bounds: bigBox, Velocity: field.Uniform(xHat)})
	s := fixedStep(t, 0.1)
	c = newCurve(t, Params{MaxSteps: n, MaxFragmentSteps: every})
	for c.IsRunning() {
		_, err := c.Step(f, s)
		require.NoError(t, err)
		if c.NeedsCheckpoint() {
			frags = append(frags, c.Retire())
		}
	}
	frags = append(frags, c.Retire())
	return
}

func TestMergeSequence(t *testing.T) {
	frags, c := buildFragments(t, 10, 3)
	require.Len(t, frags, 4)
	assert.Equal(t, []int{3, 3, 3, 1}, []int{len(frags[0].Steps), len(frags[1].Steps),
		len(frags[2].Steps), len(frags[3].Steps)})
	assert.Equal(t, types.Running, frags[2].State)
	assert.Equal(t, types.MaxStepsReached, frags[3].State)
	{ // Order of arrival does not matter and the input is untouched
		shuffled := append([]Fragment(nil), frags...)
		rand.New(rand.NewSource(3)).Shuffle(len(shuffled), func(i, j int) {
			shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
		})
		before := append([]Fragment(nil), shuffled...)
		merged, err := MergeSequence(shuffled)
		require.NoError(t, err)
		assert.Equal(t, before, shuffled)
		assert.Equal(t, 10, merged.NumSteps)
		assert.Equal(t, types.MaxStepsReached, merged.State)
		for i, st := range merged.Steps {
			assert.Equal(t, i, st.Seq)
		}
		assert.Equal(t, c.Position, merged.Position)
		assert.Equal(t, c.ArcLength, merged.ArcLength)
		// Merging the merged curve again is a no-op
		again, err := MergeSequence([]Fragment{merged.AsFragment()})
		require.NoError(t, err)
		assert.Equal(t, merged, again)
	}
	{
		_, err := MergeSequence(nil)
		assert.ErrorIs(t, err, ErrDiscontinuousSequence)
		// Missing middle fragment
		_, err = MergeSequence([]Fragment{frags[0], frags[2], frags[3]})
		assert.ErrorIs(t, err, ErrDiscontinuousSequence)
		// Missing step inside a fragment
		broken := append([]Fragment(nil), frags...)
		broken[1].Steps = broken[1].Steps[1:]
		_, err = MergeSequence(broken)
		assert.ErrorIs(t, err, ErrDiscontinuousSequence)
		// Foreign fragment
		foreign := append([]Fragment(nil), frags...)
		foreign[2].ID = 99
		_, err = MergeSequence(foreign)
		assert.ErrorIs(t, err, ErrDiscontinuousSequence)
		// Terminal state before the end
		early := append([]Fragment(nil), frags...)
		early[1].State = types.Cancelled
		_, err = MergeSequence(early)
		assert.ErrorIs(t, err, ErrDiscontinuousSequence)
	}
	{ // An empty carried fragment keeps the numbering
		withEmpty := []Fragment{frags[0], {ID: frags[0].ID, FragmentSeq: 1}}
		for _, fr := range frags[1:] {
			fr.FragmentSeq++
			withEmpty = append(withEmpty, fr)
		}
		merged, err := MergeSequence(withEmpty)
		require.NoError(t, err)
		assert.Equal(t, 10, merged.NumSteps)
	}
}
