package solver

import (
	"math"
	"testing"

	"github.com/notargets/gocurve/field"
	"github.com/notargets/gocurve/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"
)

func analytic(t *testing.T, v field.VelocityFunc) field.Field {
	f, err := field.NewAnalytic(field.AnalyticConfig{
		Bounds:   types.NewBox(r3.Vec{X: -2, Y: -2, Z: -2}, r3.Vec{X: 2, Y: 2, Z: 2}),
		Velocity: v,
	})
	require.NoError(t, err)
	return f
}

func newSolver(t *testing.T, cfg Config) *Solver {
	s, err := New(cfg)
	require.NoError(t, err)
	return s
}

// integrate advances from p over duration with adaptive steps
func integrate(t *testing.T, s *Solver, f field.Field, p r3.Vec, duration float64) (cur types.Step, steps int) {
	cur = types.Step{Position: p}
	dt := math.Copysign(s.EstimateInitialDt(f, nil, cur, types.Forward), duration)
	for math.Abs(cur.Time) < math.Abs(duration) {
		res, err := s.Advance(f, nil, cur, dt, math.Abs(duration)-math.Abs(cur.Time))
		require.NoError(t, err)
		cur, dt = res.Step, res.NextDt
		steps++
	}
	return
}

func TestMethods(t *testing.T) {
	for _, label := range []string{"", "DoPri5", "rkf45", "RK2"} {
		m, err := NewMethod(label)
		require.NoError(t, err)
		tab, err := newTableau(m)
		require.NoError(t, err)
		{ // Consistency: rows of a sum to c, weights sum to one, error weights to zero
			var sb, se float64
			for i := 0; i < tab.stages; i++ {
				var sa float64
				for j := 0; j < i; j++ {
					sa += tab.a[i][j]
				}
				assert.InDelta(t, tab.c[i], sa, 1.e-14, tab.name)
				sb += tab.b[i]
				se += tab.e[i]
			}
			assert.InDelta(t, 1., sb, 1.e-14, tab.name)
			assert.InDelta(t, 0., se, 1.e-14, tab.name)
		}
	}
	_, err := NewMethod("euler")
	assert.Error(t, err)
	assert.Equal(t, "RKF45", RKF45.String())
}

func TestConfig(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
	bad := []func(*Config){
		func(c *Config) { c.AbsTol = 0 },
		func(c *Config) { c.DtMin = 0 },
		func(c *Config) { c.DtMax = c.DtMin / 2 },
		func(c *Config) { c.MaxRejections = 0 },
		func(c *Config) { c.Method = NumberOfMethods },
		func(c *Config) { c.InitialDt = -1 },
	}
	for i, mod := range bad {
		cfg := DefaultConfig()
		mod(&cfg)
		_, err := New(cfg)
		assert.Error(t, err, "case %d", i)
	}
}

func TestAdvanceUniform(t *testing.T) {
	var (
		v = r3.Vec{X: 1, Y: -0.5}
		f = analytic(t, field.Uniform(v))
		s = newSolver(t, DefaultConfig())
	)
	cur := types.Step{Time: 1, Position: r3.Vec{X: 0.1, Y: 0.2, Z: 0.3}}
	res, err := s.Advance(f, nil, cur, 0.05, 0)
	require.NoError(t, err)
	assert.Equal(t, 0.05, res.AchievedDt)
	assert.InDelta(t, 1.05, res.Step.Time, 1.e-15)
	assert.InDelta(t, 0.15, res.Step.Position.X, 1.e-14)
	assert.InDelta(t, 0.175, res.Step.Position.Y, 1.e-14)
	assert.Equal(t, v, res.Step.Velocity)
	assert.Zero(t, res.Rejections)
	// Zero error doubles the step
	assert.InDelta(t, 0.1, res.NextDt, 1.e-15)
	assert.Equal(t, 7, res.Evaluations)
	{ // Backward steps run time and position in reverse
		res, err := s.Advance(f, nil, cur, -0.05, 0)
		require.NoError(t, err)
		assert.InDelta(t, 0.95, res.Step.Time, 1.e-15)
		assert.InDelta(t, 0.05, res.Step.Position.X, 1.e-14)
		assert.Less(t, res.NextDt, 0.)
	}
	{ // DtMax clamps, a limit caps even below DtMin
		res, err := s.Advance(f, nil, cur, 10, 0)
		require.NoError(t, err)
		assert.Equal(t, DefaultConfig().DtMax, res.AchievedDt)
		res, err = s.Advance(f, nil, cur, 0.05, 0.03)
		require.NoError(t, err)
		assert.Equal(t, 0.03, res.AchievedDt)
		res, err = s.Advance(f, nil, cur, 0.05, 1.e-10)
		require.NoError(t, err)
		assert.Equal(t, 1.e-10, res.AchievedDt)
	}
	_, err = s.Advance(f, nil, cur, 0, 0)
	assert.Error(t, err)
}

func TestAdvanceRotation(t *testing.T) {
	f := analytic(t, field.SolidRotation(r3.Vec{}, 1))
	for _, m := range []Method{DoPri5, RKF45, RK23} {
		cfg := DefaultConfig()
		cfg.Method = m
		cfg.AbsTol, cfg.RelTol = 1.e-9, 1.e-9
		cfg.DtMin = 1.e-10
		s := newSolver(t, cfg)
		{ // One revolution returns to the start
			start := r3.Vec{X: 1, Z: 0.25}
			end, steps := integrate(t, s, f, start, 2*math.Pi)
			assert.InDelta(t, 2*math.Pi, end.Time, 1.e-12, m.String())
			assert.InDelta(t, 0, r3.Norm(r3.Sub(end.Position, start)), 1.e-5, m.String())
			assert.Greater(t, steps, 10)
			// The velocity belongs to the new position
			assert.InDelta(t, 0, r3.Norm(r3.Sub(end.Velocity, r3.Vec{X: -end.Position.Y, Y: end.Position.X})), 1.e-12)
		}
		{ // Half a revolution backward
			start := r3.Vec{Y: 1}
			end, _ := integrate(t, s, f, start, -math.Pi)
			assert.InDelta(t, -math.Pi, end.Time, 1.e-12)
			assert.InDelta(t, 0, r3.Norm(r3.Sub(end.Position, r3.Vec{Y: -1})), 1.e-5, m.String())
		}
	}
}

func TestAdvanceFailures(t *testing.T) {
	f := analytic(t, field.SolidRotation(r3.Vec{}, 1))
	{ // Underflow: a DtMin step above tolerance is accepted and flagged
		cfg := DefaultConfig()
		cfg.DtMin, cfg.DtMax = 0.5, 0.5
		cfg.AbsTol, cfg.RelTol = 1.e-14, 0
		s := newSolver(t, cfg)
		res, err := s.Advance(f, nil, types.Step{Position: r3.Vec{X: 1}}, 0.5, 0)
		require.NoError(t, err)
		assert.True(t, res.Diagnostics.Has(types.DiagStepUnderflow))
		assert.Zero(t, res.Rejections)
		assert.Greater(t, res.ErrorEstimate, 1.)
	}
	{ // Exhausted rejections
		cfg := DefaultConfig()
		cfg.DtMin, cfg.DtMax = 1.e-12, 1
		cfg.AbsTol, cfg.RelTol = 1.e-14, 0
		cfg.MaxRejections = 1
		s := newSolver(t, cfg)
		_, err := s.Advance(f, nil, types.Step{Position: r3.Vec{X: 1}}, 1, 0)
		assert.ErrorIs(t, err, ErrStepRejected)
	}
	{ // A stage outside the field fails the step and keeps the cause
		s := newSolver(t, DefaultConfig())
		g := analytic(t, field.Uniform(r3.Vec{X: 1}))
		_, err := s.Advance(g, nil, types.Step{Position: r3.Vec{X: 1.99}}, 0.1, 0)
		assert.ErrorIs(t, err, ErrFieldEvaluationFailed)
		assert.ErrorIs(t, err, field.ErrOutsideDomain)
		_, err = s.Advance(g, nil, types.Step{Position: r3.Vec{X: 3}}, 0.1, 0)
		assert.ErrorIs(t, err, ErrFieldEvaluationFailed)
	}
}

func TestEstimateInitialDt(t *testing.T) {
	f := analytic(t, field.SolidRotation(r3.Vec{}, 1))
	cfg := DefaultConfig()
	s := newSolver(t, cfg)
	cur := types.Step{Position: r3.Vec{X: 1}}
	h := s.EstimateInitialDt(f, nil, cur, types.Forward)
	assert.True(t, h >= cfg.DtMin && h <= cfg.DtMax, "%g", h)
	// A stationary field gets a finite step
	g := analytic(t, field.Uniform(r3.Vec{}))
	h = s.EstimateInitialDt(g, nil, cur, types.Backward)
	assert.True(t, h >= cfg.DtMin && h <= cfg.DtMax, "%g", h)
	// Outside the field falls back to DtMin
	assert.Equal(t, cfg.DtMin, s.EstimateInitialDt(f, nil, types.Step{Position: r3.Vec{X: 5}}, types.Forward))
	cfg.InitialDt = 0.02
	s = newSolver(t, cfg)
	assert.Equal(t, 0.02, s.EstimateInitialDt(f, nil, cur, types.Forward))
}
