package scheduler

import (
	"context"
	"sort"

	"github.com/notargets/gocurve/comm"
	"github.com/notargets/gocurve/router"
	"github.com/notargets/gocurve/types"
)

// Run advances every seed through the decomposed field on cfg.Ranks ranks
// and returns the merged curves. Cancelling ctx stops the running curves at
// the next round boundary; the run still completes and reports them as
// Cancelled. A returned error means the run itself failed.
func Run(ctx context.Context, cfg Config, prob Problem, seeds []Seed) (res Result, err error) {
	cfg = cfg.withDefaults()
	if err = cfg.Validate(); err != nil {
		return
	}
	rankOf, err := prob.rankMap(cfg.Ranks)
	if err != nil {
		return
	}
	domains := router.FromPieces(prob.Pieces, rankOf)
	world, err := comm.NewWorld(cfg.Ranks)
	if err != nil {
		return
	}
	workers := make([]*worker, cfg.Ranks)
	cfg.Logger.Info("advecting", "seeds", len(seeds), "ranks", cfg.Ranks, "domains", len(domains),
		"method", cfg.Solver.Method)
	err = world.Run(context.WithoutCancel(ctx), func(cctx context.Context, c comm.Communicator) error {
		w, err := newWorker(ctx, c, cfg, prob, domains, rankOf)
		if err != nil {
			return err
		}
		workers[c.Rank()] = w
		return w.run(cctx, seeds)
	})
	if err != nil {
		return
	}

	res.Stats.States = make(map[types.TerminationState]int)
	res.Stats.Rounds = workers[0].stats.Rounds
	for _, w := range workers {
		res.Curves = append(res.Curves, w.curves...)
		res.Failures = append(res.Failures, w.failures...)
		res.Stats.add(w.stats)
	}
	sort.Slice(res.Curves, func(i, j int) bool { return res.Curves[i].ID < res.Curves[j].ID })
	sort.SliceStable(res.Failures, func(i, j int) bool { return res.Failures[i].ID < res.Failures[j].ID })
	for _, c := range res.Curves {
		res.Stats.States[c.State]++
	}
	cfg.Logger.Info("advection done", "curves", len(res.Curves), "failures", len(res.Failures),
		"rounds", res.Stats.Rounds, "steps", res.Stats.Steps, "handoffs", res.Stats.Handoffs)
	return
}
