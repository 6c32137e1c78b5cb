package scheduler

import (
	"context"
	"math"
	"testing"

	"github.com/notargets/gocurve/curve"
	"github.com/notargets/gocurve/field"
	"github.com/notargets/gocurve/mesh"
	"github.com/notargets/gocurve/metrics"
	"github.com/notargets/gocurve/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"
)

var xHat = r3.Vec{X: 1}

func box(x0, y0, z0, x1, y1, z1 float64) types.Box {
	return types.NewBox(r3.Vec{X: x0, Y: y0, Z: z0}, r3.Vec{X: x1, Y: y1, Z: z1})
}

// channel is two unit cubes side by side with uniform flow along x
func channel(t *testing.T, times ...float64) Problem {
	pieces, err := field.SplitAnalytic(box(0, 0, 0, 2, 1, 1), [3]int{2, 1, 1}, 0,
		field.Sampling{Velocity: field.Uniform(xHat), Times: times})
	require.NoError(t, err)
	return Problem{Pieces: pieces, RankOf: func(id int) int { return id }}
}

// rotation is a 2x2 grid decomposition of solid body rotation
func rotation(t *testing.T) Problem {
	pieces, err := field.SplitGrid(field.GridDecomposition{
		Box:    box(-1, -1, 0, 1, 1, 1),
		Cells:  [3]int{8, 8, 2},
		Splits: [3]int{2, 2, 1},
		Ghost:  1,
	}, field.Sampling{Velocity: field.SolidRotation(r3.Vec{}, 1)})
	require.NoError(t, err)
	return Problem{Pieces: pieces}
}

func streamSeed(p r3.Vec, params curve.Params) Seed {
	return Seed{Position: p, Direction: types.Forward, Params: params}
}

func run(t *testing.T, cfg Config, prob Problem, seeds []Seed) Result {
	res, err := Run(context.Background(), cfg, prob, seeds)
	require.NoError(t, err)
	return res
}

func assertContiguous(t *testing.T, c curve.IntegralCurve) {
	assert.Equal(t, c.NumSteps, len(c.Steps))
	for i, st := range c.Steps {
		if !assert.Equal(t, i, st.Seq, "curve %d", c.ID) {
			return
		}
	}
}

func TestDomainExit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Ranks = 2
	cfg.Metrics = metrics.New()
	seeds := []Seed{streamSeed(r3.Vec{X: 0.1, Y: 0.5, Z: 0.5}, curve.Params{MaxSteps: 10000})}
	res := run(t, cfg, channel(t), seeds)
	require.Empty(t, res.Failures)
	require.Len(t, res.Curves, 1)
	c := res.Curves[0]
	assertContiguous(t, c)
	assert.Equal(t, types.LeftDomainPermanently, c.State)
	eps := curve.DefaultHandoffEpsilon
	{ // The crossing into B lands just past x = 1
		var crossed bool
		for i := 1; i < len(c.Steps); i++ {
			if c.Steps[i-1].Position.X < 1 && c.Steps[i].Position.X >= 1 {
				crossed = true
				assert.Less(t, c.Steps[i].Position.X, 1+2*eps)
			}
		}
		assert.True(t, crossed)
	}
	// Nothing lies past x = 2, the curve ends on its last step in B
	for _, st := range c.Steps {
		assert.LessOrEqual(t, st.Position.X, 2.)
		assert.InDelta(t, 1., st.Velocity.X, 1.e-12)
	}
	assert.LessOrEqual(t, c.Position.X, 2.)
	assert.Greater(t, c.Position.X, 2-2*eps)
	assert.InDelta(t, 0.5, c.Position.Y, 1.e-12)
	assert.InDelta(t, c.Position.X-0.1, c.ArcLength, 1.e-9)
	assert.Equal(t, 1, res.Stats.Handoffs)
	assert.Equal(t, 1, res.Stats.States[types.LeftDomainPermanently])
	assert.Equal(t, float64(res.Stats.Steps), cfg.Metrics.Value("gocurve_steps_total", nil))
	assert.Equal(t, 1., cfg.Metrics.Value("gocurve_handoffs_total", map[string]string{"rank": "0"}))
	assert.Equal(t, 1., cfg.Metrics.Value("gocurve_terminations_total", nil))
	assert.Equal(t, float64(res.Stats.Rounds), cfg.Metrics.Value("gocurve_rounds_total", nil))
}

func rotationSeeds() (seeds []Seed) {
	for i := 0; i < 12; i++ {
		var (
			r   = 0.25 + 0.05*float64(i)
			phi = 0.5 * float64(i)
			p   = r3.Vec{X: r * math.Cos(phi), Y: r * math.Sin(phi), Z: 0.5}
		)
		params := curve.Params{MaxSteps: 200 + 10*i}
		if i%3 == 1 {
			params.MaxDistance = 2
		}
		if i%4 == 2 {
			params.Boundary = &curve.Plane{Normal: r3.Vec{Y: 1}, Offset: -0.1}
		}
		dir := types.Forward
		if i%2 == 1 {
			dir = types.Backward
		}
		seeds = append(seeds, Seed{Position: p, Direction: dir, Params: params})
	}
	return
}

func TestRankCountInvariance(t *testing.T) {
	var (
		prob  = rotation(t)
		seeds = rotationSeeds()
		base  Result
	)
	for _, ranks := range []int{1, 2, 3, 4} {
		cfg := DefaultConfig()
		cfg.Ranks = ranks
		cfg.StepsPerRound = 7
		res := run(t, cfg, prob, seeds)
		require.Empty(t, res.Failures)
		require.Len(t, res.Curves, len(seeds))
		for i, c := range res.Curves {
			assert.Equal(t, i, c.ID)
			assertContiguous(t, c)
			assert.NotEqual(t, types.Running, c.State)
		}
		if ranks == 1 {
			base = res
			assert.Zero(t, res.Stats.Handoffs)
			continue
		}
		assert.Positive(t, res.Stats.Handoffs)
		for i := range seeds {
			assert.Equal(t, base.Curves[i].State, res.Curves[i].State, "ranks %d curve %d", ranks, i)
			assert.Equal(t, base.Curves[i].Steps, res.Curves[i].Steps, "ranks %d curve %d", ranks, i)
		}
	}
	// Every kind of stop shows up and curves circle without leaving
	assert.Positive(t, base.Stats.States[types.MaxStepsReached])
	assert.Positive(t, base.Stats.States[types.MaxDistanceReached])
	assert.Positive(t, base.Stats.States[types.ExplicitBoundaryHit])
	for _, c := range base.Curves {
		r0 := math.Hypot(c.Seed.Position.X, c.Seed.Position.Y)
		assert.InDelta(t, r0, math.Hypot(c.Position.X, c.Position.Y), 1.e-3)
	}
}

func TestDeterminism(t *testing.T) {
	var (
		prob  = rotation(t)
		seeds = rotationSeeds()
		cfg   = DefaultConfig()
	)
	cfg.Ranks = 3
	cfg.StepsPerRound = 5
	first := run(t, cfg, prob, seeds)
	second := run(t, cfg, prob, seeds)
	assert.Equal(t, first.Curves, second.Curves)
	assert.Equal(t, first.Stats, second.Stats)
}

func TestTetDomains(t *testing.T) {
	pieces, err := field.SplitTetMesh(box(0, 0, 0, 2, 1, 1),
		mesh.PartitionConfig{Cells: [3]int{4, 2, 2}, Splits: [3]int{2, 1, 1}, Ghost: true},
		field.Sampling{Velocity: field.Uniform(xHat)}, nil)
	require.NoError(t, err)
	cfg := DefaultConfig()
	cfg.Ranks = 2
	seeds := []Seed{
		streamSeed(r3.Vec{X: 0.1, Y: 0.3, Z: 0.6}, curve.Params{MaxSteps: 10000}),
		streamSeed(r3.Vec{X: 1.5, Y: 0.7, Z: 0.2}, curve.Params{MaxSteps: 10000}),
	}
	res := run(t, cfg, Problem{Pieces: pieces}, seeds)
	require.Len(t, res.Curves, 2)
	for _, c := range res.Curves {
		assertContiguous(t, c)
		assert.Equal(t, types.LeftDomainPermanently, c.State)
		assert.InDelta(t, 2., c.Position.X, 1.e-5)
		assert.InDelta(t, c.Seed.Position.Y, c.Position.Y, 1.e-9)
	}
	assert.Equal(t, 1, res.Stats.Handoffs)
}

func TestCancellation(t *testing.T) {
	seeds := []Seed{
		streamSeed(r3.Vec{X: 0.1, Y: 0.5, Z: 0.5}, curve.Params{MaxSteps: 10000}),
		streamSeed(r3.Vec{X: 0.2, Y: 0.5, Z: 0.5}, curve.Params{MaxSteps: 10000}),
	}
	{ // Explicit ids are stopped before their first step
		cfg := DefaultConfig()
		cfg.Ranks = 2
		cfg.Cancel = NewCancelSet()
		cfg.Cancel.Cancel(1)
		res := run(t, cfg, channel(t), seeds)
		require.Len(t, res.Curves, 2)
		assert.Equal(t, types.LeftDomainPermanently, res.Curves[0].State)
		assert.Equal(t, types.Cancelled, res.Curves[1].State)
		assert.Zero(t, res.Curves[1].NumSteps)
	}
	{ // A cancelled context still completes the run
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		cfg := DefaultConfig()
		cfg.Ranks = 2
		res, err := Run(ctx, cfg, channel(t), seeds)
		require.NoError(t, err)
		require.Len(t, res.Curves, 2)
		assert.Equal(t, 2, res.Stats.States[types.Cancelled])
	}
	{ // Round limit
		cfg := DefaultConfig()
		cfg.Ranks = 2
		cfg.StepsPerRound = 1
		cfg.MaxRounds = 2
		res := run(t, cfg, channel(t), seeds)
		for _, c := range res.Curves {
			assert.Equal(t, types.Cancelled, c.State)
			assert.True(t, c.Diagnostics.Has(types.DiagRoundLimit))
			assert.Equal(t, 2, c.NumSteps)
		}
		assert.Equal(t, 3, res.Stats.Rounds)
	}
}

func TestSeedFailures(t *testing.T) {
	seeds := []Seed{
		streamSeed(r3.Vec{X: 5, Y: 0.5, Z: 0.5}, curve.Params{MaxSteps: 10}),
		streamSeed(r3.Vec{X: 0.5, Y: 0.5, Z: 0.5}, curve.Params{MaxSteps: 0}),
		streamSeed(r3.Vec{X: 1.5, Y: 0.5, Z: 0.5}, curve.Params{MaxSteps: 3}),
		{Position: r3.Vec{X: 0.5, Y: 0.5, Z: 0.5}, Direction: types.Forward,
			Params: curve.Params{Policy: types.Pathline, MaxSteps: 10}},
	}
	cfg := DefaultConfig()
	cfg.Ranks = 2
	res := run(t, cfg, channel(t), seeds)
	require.Len(t, res.Failures, 3)
	assert.Equal(t, 0, res.Failures[0].ID)
	assert.ErrorIs(t, res.Failures[0].Err, ErrSeedOutsideDomains)
	assert.Equal(t, 1, res.Failures[1].ID)
	assert.ErrorIs(t, res.Failures[1].Err, curve.ErrInvalidParameters)
	assert.Equal(t, 3, res.Failures[2].ID)
	assert.ErrorIs(t, res.Failures[2].Err, curve.ErrInvalidParameters)
	require.Len(t, res.Curves, 1)
	assert.Equal(t, 2, res.Curves[0].ID)
	assert.Equal(t, types.MaxStepsReached, res.Curves[0].State)

	{ // Configuration errors fail the run
		_, err := Run(context.Background(), Config{Ranks: -1}, channel(t), seeds)
		assert.Error(t, err)
		_, err = Run(context.Background(), DefaultConfig(), Problem{}, seeds)
		assert.Error(t, err)
		prob := channel(t)
		prob.RankOf = func(int) int { return 7 }
		_, err = Run(context.Background(), DefaultConfig(), prob, seeds)
		assert.Error(t, err)
	}
}

func TestMessageOverflow(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Ranks = 2
	cfg.Solver.DtMax = 0.005
	cfg.MaxMessageBytes = 2000
	seeds := []Seed{streamSeed(r3.Vec{X: 0.1, Y: 0.5, Z: 0.5}, curve.Params{MaxSteps: 10000})}
	res := run(t, cfg, channel(t), seeds)
	require.Len(t, res.Curves, 1)
	c := res.Curves[0]
	assert.Positive(t, res.Stats.Overflows)
	assert.True(t, c.Diagnostics.Has(types.DiagTruncatedHistory))
	assertContiguous(t, c)
	assert.Equal(t, types.LeftDomainPermanently, c.State)
	assert.Greater(t, c.NumSteps, 300)
}

func TestOverflowWithoutHistory(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Ranks = 2
	cfg.MaxMessageBytes = 300
	seeds := []Seed{
		streamSeed(r3.Vec{X: 0.1, Y: 0.3, Z: 0.5}, curve.Params{MaxSteps: 10000}),
		streamSeed(r3.Vec{X: 0.1, Y: 0.7, Z: 0.5}, curve.Params{MaxSteps: 10000}),
	}
	// Curves that cannot be sent even without their steps end, the run does not
	res := run(t, cfg, channel(t), seeds)
	require.Empty(t, res.Failures)
	require.Len(t, res.Curves, 2)
	assert.Equal(t, 2, res.Stats.Overflows)
	assert.Equal(t, 2, res.Stats.States[types.Cancelled])
	for _, c := range res.Curves {
		assert.Equal(t, types.Cancelled, c.State)
		assert.True(t, c.Diagnostics.Has(types.DiagTruncatedHistory))
		assertContiguous(t, c)
		assert.Less(t, c.Position.X, 1.)
		assert.Positive(t, c.NumSteps)
	}
}

func TestCheckpoints(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Ranks = 2
	seeds := []Seed{streamSeed(r3.Vec{X: 0.1, Y: 0.5, Z: 0.5},
		curve.Params{MaxSteps: 10000, MaxFragmentSteps: 4})}
	res := run(t, cfg, channel(t), seeds)
	require.Len(t, res.Curves, 1)
	c := res.Curves[0]
	assertContiguous(t, c)
	assert.GreaterOrEqual(t, res.Stats.Fragments, c.NumSteps/4)
}

func TestPathlineWindows(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Ranks = 2
	path := func(maxTime float64) Seed {
		return Seed{Position: r3.Vec{X: 0.1, Y: 0.5, Z: 0.5}, Direction: types.Forward,
			Params: curve.Params{Policy: types.Pathline, MaxSteps: 10000, TimeLimited: true, MaxTime: maxTime}}
	}
	res := run(t, cfg, channel(t, 0, 0.5, 1), []Seed{path(0.8), path(3)})
	require.Len(t, res.Curves, 2)
	{
		c := res.Curves[0]
		assert.Equal(t, types.MaxTimeReached, c.State)
		assert.InDelta(t, 0.8, c.Time, 1.e-12)
		assert.InDelta(t, 0.9, c.Position.X, 1.e-9)
		assertContiguous(t, c)
	}
	{ // The last window ends before the max time
		c := res.Curves[1]
		assert.Equal(t, types.LeftTimeRange, c.State)
		assert.InDelta(t, 1., c.Time, 1.e-12)
		assert.InDelta(t, 1.1, c.Position.X, 1.e-9)
		assertContiguous(t, c)
	}
	{ // Seeds outside every window fail
		late := path(5)
		late.Time = 2
		res := run(t, cfg, channel(t, 0, 0.5, 1), []Seed{late})
		require.Len(t, res.Failures, 1)
		assert.ErrorIs(t, res.Failures[0].Err, ErrSeedOutsideDomains)
	}
}
