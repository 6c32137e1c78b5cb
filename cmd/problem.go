/*
Copyright © 2020 NAME HERE <EMAIL ADDRESS>

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cmd

import (
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/notargets/gocurve/InputParameters"
	"github.com/notargets/gocurve/curve"
	"github.com/notargets/gocurve/field"
	"github.com/notargets/gocurve/mesh"
	"github.com/notargets/gocurve/scheduler"
	"github.com/notargets/gocurve/solver"
	"github.com/notargets/gocurve/types"
	"gonum.org/v1/gonum/spatial/r3"
)

func vec(a [3]float64) r3.Vec { return r3.Vec{X: a[0], Y: a[1], Z: a[2]} }

// ABC is the Arnold-Beltrami-Childress flow with coefficients c
func ABC(c r3.Vec) field.VelocityFunc {
	return func(_ float64, p r3.Vec) r3.Vec {
		return r3.Vec{
			X: c.X*math.Sin(p.Z) + c.Z*math.Cos(p.Y),
			Y: c.Y*math.Sin(p.X) + c.X*math.Cos(p.Z),
			Z: c.Z*math.Sin(p.Y) + c.Y*math.Cos(p.X),
		}
	}
}

func newVelocity(vp InputParameters.VelocityParameters) (fn field.VelocityFunc, err error) {
	switch strings.ToLower(vp.Kind) {
	case "uniform":
		fn = field.Uniform(vec(vp.Vector))
	case "rotation":
		fn = field.SolidRotation(vec(vp.Center), vp.Omega)
	case "abc":
		fn = ABC(vec(vp.Vector))
	default:
		err = fmt.Errorf("unknown velocity kind: %q", vp.Kind)
	}
	return
}

func newSampling(dp InputParameters.DomainParameters) (s field.Sampling, err error) {
	if s.Velocity, err = newVelocity(dp.Velocity); err != nil {
		return
	}
	if strings.EqualFold(dp.Centering, "Cell") {
		s.Centering = field.CellCentered
	}
	if strings.EqualFold(dp.Scalar, "Speed") {
		u := s.Velocity
		s.Scalar = func(t float64, p r3.Vec) float64 { return r3.Norm(u(t, p)) }
	}
	s.Times = dp.Times
	return
}

// newPieces decomposes the configured domain into field pieces
func newPieces(dp InputParameters.DomainParameters, logger *slog.Logger) (pieces []field.Piece, err error) {
	var (
		s   field.Sampling
		box = types.NewBox(vec(dp.Min), vec(dp.Max))
	)
	if s, err = newSampling(dp); err != nil {
		return
	}
	switch strings.ToLower(dp.Kind) {
	case "grid":
		return field.SplitGrid(field.GridDecomposition{
			Box: box, Cells: dp.Cells, Splits: dp.Splits, Ghost: dp.Ghost,
		}, s)
	case "tet":
		return field.SplitTetMesh(box, mesh.PartitionConfig{
			Cells: dp.Cells, Splits: dp.Splits, Ghost: dp.Ghost > 0,
		}, s, logger)
	case "analytic":
		// Ghost counts cells when a cell size is given, otherwise there is no overlap
		var ghost float64
		if dp.Cells[0] > 0 && dp.Ghost > 0 {
			ghost = float64(dp.Ghost) * box.Size().X / float64(dp.Cells[0])
		}
		return field.SplitAnalytic(box, dp.Splits, ghost, s)
	}
	return nil, fmt.Errorf("unknown domain kind: %q", dp.Kind)
}

func newSolverConfig(sp InputParameters.SolverParameters) (cfg solver.Config, err error) {
	cfg = solver.DefaultConfig()
	if cfg.Method, err = solver.NewMethod(sp.Method); err != nil {
		return
	}
	set := func(dst *float64, v float64) {
		if v != 0 {
			*dst = v
		}
	}
	set(&cfg.AbsTol, sp.AbsTol)
	set(&cfg.RelTol, sp.RelTol)
	set(&cfg.DtMin, sp.DtMin)
	set(&cfg.DtMax, sp.DtMax)
	set(&cfg.InitialDt, sp.InitialDt)
	if sp.MaxRejections != 0 {
		cfg.MaxRejections = sp.MaxRejections
	}
	return
}

func newParams(tp InputParameters.TerminationParameters) (p curve.Params, err error) {
	if p.Policy, err = types.NewPolicyKind(tp.Policy); err != nil {
		return
	}
	p.MaxSteps = tp.MaxSteps
	p.MaxDistance = tp.MaxDistance
	if tp.MaxTime != nil {
		p.TimeLimited, p.MaxTime = true, *tp.MaxTime
	}
	if tp.Boundary != nil {
		p.Boundary = &curve.Plane{Normal: vec(tp.Boundary.Normal), Offset: tp.Boundary.Offset}
	}
	p.HandoffEpsilon = tp.HandoffEpsilon
	p.MaxFragmentSteps = tp.MaxFragmentSteps
	return p.WithDefaults(), nil
}

func newSeeds(ip *InputParameters.AdvectionParameters) (seeds []scheduler.Seed, err error) {
	var params curve.Params
	if params, err = newParams(ip.Termination); err != nil {
		return
	}
	for i, sp := range ip.SeedList() {
		var dir types.Direction
		if dir, err = types.NewDirection(sp.Direction); err != nil {
			return nil, fmt.Errorf("seed %d: %w", i, err)
		}
		seeds = append(seeds, scheduler.Seed{
			Position:  vec(sp.Position),
			Time:      sp.Time,
			Direction: dir,
			Params:    params,
		})
	}
	return
}

// newRun builds everything scheduler.Run needs from the input file
func newRun(ip *InputParameters.AdvectionParameters, logger *slog.Logger) (cfg scheduler.Config,
	prob scheduler.Problem, seeds []scheduler.Seed, err error) {
	cfg = scheduler.DefaultConfig()
	cfg.Logger = logger
	if ip.Ranks > 0 {
		cfg.Ranks = ip.Ranks
	}
	if ip.StepsPerRound > 0 {
		cfg.StepsPerRound = ip.StepsPerRound
	}
	cfg.MaxRounds = ip.MaxRounds
	if ip.MaxMessageBytes > 0 {
		cfg.MaxMessageBytes = ip.MaxMessageBytes
	}
	if cfg.Solver, err = newSolverConfig(ip.Solver); err != nil {
		return
	}
	if prob.Pieces, err = newPieces(ip.Domain, logger); err != nil {
		return
	}
	seeds, err = newSeeds(ip)
	return
}
