package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/notargets/gocurve/comm"
	"github.com/notargets/gocurve/curve"
	"github.com/notargets/gocurve/field"
	"github.com/notargets/gocurve/router"
	"github.com/notargets/gocurve/solver"
	"github.com/notargets/gocurve/types"
)

// worker is the state of one rank
type worker struct {
	c      comm.Communicator
	cfg    Config
	cancel context.Context // cancellation only, collectives use their own context
	set    *field.Set
	router *router.Router
	solver *solver.Solver
	logger *slog.Logger

	active   []*curve.IntegralCurve // ascending id
	frags    []curve.Fragment
	pinned   map[int]field.Field
	round    int
	stats    Stats
	curves   []curve.IntegralCurve
	failures []Failure
}

func newWorker(cancel context.Context, c comm.Communicator, cfg Config, prob Problem,
	domains []router.Domain, rankOf func(int) int) (w *worker, err error) {
	w = &worker{
		c:      c,
		cfg:    cfg,
		cancel: cancel,
		set:    field.NewSet(),
		logger: cfg.Logger.With("rank", c.Rank()),
		pinned: make(map[int]field.Field),
	}
	for _, pc := range prob.Pieces {
		if rankOf(pc.ID) != c.Rank() {
			continue
		}
		for _, f := range pc.Windows {
			w.set.Add(f)
		}
	}
	if w.router, err = router.New(domains); err != nil {
		return nil, err
	}
	w.router.Attach(w.set.Geometry()...)
	if w.solver, err = solver.New(cfg.Solver); err != nil {
		return nil, err
	}
	return
}

func (w *worker) fail(id int, seed Seed, err error) {
	w.failures = append(w.failures, Failure{ID: id, Seed: seed, Err: err})
}

// seed creates the curves this rank owns. Every rank proposes the lowest
// local domain that owns each seed and the global minimum wins.
func (w *worker) seed(ctx context.Context, seeds []Seed) error {
	var (
		claims   = make([]int, len(seeds))
		valid    = make([]bool, len(seeds))
		geometry = w.set.Geometry()
		reporter = w.c.Rank() == 0
	)
	for i, s := range seeds {
		claims[i] = math.MaxInt
		if _, err := curve.NewCurve(i, s.curveSeed(), s.Params); err != nil {
			if reporter {
				w.fail(i, s, err)
			}
			continue
		}
		valid[i] = true
		for _, f := range geometry {
			if !f.IsInside(s.Time, s.Position, nil) {
				continue
			}
			if _, err := w.set.Lookup(f.DomainID(), s.Time, s.Direction); err != nil {
				continue
			}
			claims[i] = f.DomainID()
			break
		}
	}
	owners, err := w.c.AllReduceInts(ctx, comm.OpMin, claims)
	if err != nil {
		return err
	}
	for i, s := range seeds {
		switch {
		case !valid[i]:
		case owners[i] == math.MaxInt:
			if reporter {
				w.fail(i, s, fmt.Errorf("%w: %v at t = %g", ErrSeedOutsideDomains, s.Position, s.Time))
			}
		case owners[i] == claims[i]:
			c, _ := curve.NewCurve(i, s.curveSeed(), s.Params)
			c.DomainID = owners[i]
			w.active = append(w.active, c)
		}
	}
	return nil
}

// pin keeps the field window a curve integrates through referenced
func (w *worker) pin(c *curve.IntegralCurve, f field.Field) {
	if old, ok := w.pinned[c.ID]; ok {
		if old == f {
			return
		}
		w.set.Release(old)
	}
	w.set.Acquire(f)
	w.pinned[c.ID] = f
}

func (w *worker) unpin(c *curve.IntegralCurve) {
	if old, ok := w.pinned[c.ID]; ok {
		w.set.Release(old)
		delete(w.pinned, c.ID)
	}
}

func (w *worker) applyCancellations() {
	var (
		all   = w.cancel.Err() != nil
		limit = w.cfg.MaxRounds > 0 && w.round >= w.cfg.MaxRounds
	)
	for _, c := range w.active {
		switch {
		case limit:
			c.Diagnostics |= types.DiagRoundLimit
			c.Terminate(types.Cancelled)
		case all || w.cfg.Cancel.Has(c.ID):
			c.Terminate(types.Cancelled)
		}
	}
}

// advance steps c through local fields until it stops running, needs a
// hand-off or uses up the round budget. It reports whether c needs routing.
func (w *worker) advance(c *curve.IntegralCurve) (handoff bool) {
	for iter := 0; c.IsRunning() && (w.cfg.StepsPerRound == 0 || iter < w.cfg.StepsPerRound); iter++ {
		t, _ := c.Continuation()
		f, err := w.set.Lookup(c.DomainID, t, c.Direction)
		switch {
		case errors.Is(err, field.ErrOutsideTimeRange):
			c.Terminate(types.LeftTimeRange)
			continue
		case err != nil:
			c.Diagnostics |= types.DiagMisrouted
			return true
		}
		w.pin(c, f)
		before := c.NumSteps
		out, err := c.Step(f, w.solver)
		w.stats.Steps += c.NumSteps - before
		if err != nil {
			if errors.Is(err, field.ErrOutsideTimeRange) {
				c.Terminate(types.LeftTimeRange)
			} else {
				w.logger.Warn("curve failed", "curve", c.ID, "round", w.round, "error", err)
				c.Terminate(types.SolverFailed)
			}
		}
		if c.NeedsCheckpoint() {
			w.frags = append(w.frags, c.Retire())
		}
		if out == curve.NeedsHandoff {
			return true
		}
	}
	return false
}

// route resolves the next domain of a curve that left its domain. It
// returns false when the curve was terminated instead.
func (w *worker) route(c *curve.IntegralCurve) (rank int, ok bool) {
	c.Detach()
	t, p := c.Continuation()
	if c.Bounces > maxBounces {
		w.logger.Debug("curve stuck between domains", "curve", c.ID, "round", w.round, "position", p)
		c.DropPending()
		c.Terminate(types.LeftDomainPermanently)
		return -1, false
	}
	rank, domain, err := w.router.LocateExcept(p, t, c.DomainID)
	if err != nil {
		c.DropPending()
		c.Terminate(types.LeftDomainPermanently)
		return -1, false
	}
	c.DomainID = domain
	return rank, true
}

func (w *worker) finish(c *curve.IntegralCurve) {
	w.unpin(c)
	w.frags = append(w.frags, c.Retire())
}

// encode serializes a departing curve. An oversized history is retired
// here and the curve leaves with its continuation state only. A curve whose
// continuation state alone is too large stops here as Cancelled.
func (w *worker) encode(c *curve.IntegralCurve) (b []byte, sent bool, err error) {
	b, err = comm.Encode(c, w.cfg.MaxMessageBytes)
	if errors.Is(err, comm.ErrSerializationOverflow) {
		w.stats.Overflows++
		c.Diagnostics |= types.DiagTruncatedHistory
		w.frags = append(w.frags, c.Retire())
		b, err = comm.Encode(c, w.cfg.MaxMessageBytes)
	}
	switch {
	case errors.Is(err, comm.ErrSerializationOverflow):
		w.logger.Warn("curve too large to send", "curve", c.ID, "round", w.round, "error", err)
		c.DropPending()
		c.Terminate(types.Cancelled)
		return nil, false, nil
	case err != nil:
		return nil, false, fmt.Errorf("curve %d: %w", c.ID, err)
	}
	w.cfg.Metrics.AddMessageBytes(w.c.Rank(), len(b))
	return b, true, nil
}

// step runs the local part of one round and returns the outgoing curves
func (w *worker) step() (out map[int][][]byte, err error) {
	var (
		queue = w.active
		me    = w.c.Rank()
		sent  int
	)
	out = make(map[int][][]byte)
	w.active = nil
	for _, c := range queue {
		if !w.advance(c) {
			if c.IsRunning() {
				w.active = append(w.active, c)
			} else {
				w.finish(c)
			}
			continue
		}
		dst, ok := w.route(c)
		switch {
		case !ok:
			w.finish(c)
		case dst == me:
			w.active = append(w.active, c)
		default:
			w.unpin(c)
			var (
				b       []byte
				encoded bool
			)
			if b, encoded, err = w.encode(c); err != nil {
				return nil, err
			}
			if !encoded {
				w.finish(c)
				continue
			}
			out[dst] = append(out[dst], b)
			sent++
			w.stats.Handoffs++
		}
	}
	w.cfg.Metrics.AddHandoffs(me, sent)
	return
}

func (w *worker) receive(in []comm.Message) error {
	for _, msg := range in {
		c, err := comm.Decode[*curve.IntegralCurve](msg.Payload)
		if err != nil {
			return fmt.Errorf("message from rank %d: %w", msg.Source, err)
		}
		// The carried history is complete; this rank starts the next fragment
		w.frags = append(w.frags, c.Retire())
		w.active = append(w.active, c)
	}
	sort.Slice(w.active, func(i, j int) bool { return w.active[i].ID < w.active[j].ID })
	return nil
}

// run is the round loop of one rank followed by the fragment gather
func (w *worker) run(ctx context.Context, seeds []Seed) (err error) {
	if err = w.seed(ctx, seeds); err != nil {
		return
	}
	me := w.c.Rank()
	for w.round = 0; ; w.round++ {
		start := time.Now()
		stepsBefore := w.stats.Steps
		w.applyCancellations()
		var out map[int][][]byte
		if out, err = w.step(); err != nil {
			return
		}
		var in []comm.Message
		if in, err = w.c.Exchange(ctx, out); err != nil {
			return
		}
		if err = w.receive(in); err != nil {
			return
		}
		var total int
		if total, err = w.c.AllReduceInt(ctx, comm.OpSum, len(w.active)); err != nil {
			return
		}
		w.cfg.Metrics.AddSteps(me, w.stats.Steps-stepsBefore)
		w.cfg.Metrics.SetActive(me, len(w.active))
		if me == 0 {
			w.cfg.Metrics.Round(time.Since(start))
		}
		w.logger.Debug("round", "round", w.round, "active", len(w.active), "global", total,
			"received", len(in), "steps", w.stats.Steps-stepsBefore)
		if total == 0 {
			break
		}
	}
	w.stats.Rounds = w.round + 1
	return w.gather(ctx, seeds)
}

// gather sends every fragment to its curve's home rank, id mod size, and
// merges the curves homed here.
func (w *worker) gather(ctx context.Context, seeds []Seed) error {
	out := make(map[int][][]byte)
	for _, fr := range w.frags {
		b, err := comm.Encode(fr, 0)
		if err != nil {
			return fmt.Errorf("fragment %d of curve %d: %w", fr.FragmentSeq, fr.ID, err)
		}
		home := fr.ID % w.c.Size()
		out[home] = append(out[home], b)
	}
	w.stats.Fragments = len(w.frags)
	w.frags = nil
	in, err := w.c.Exchange(ctx, out)
	if err != nil {
		return err
	}
	groups := make(map[int][]curve.Fragment)
	for _, msg := range in {
		fr, err := comm.Decode[curve.Fragment](msg.Payload)
		if err != nil {
			return fmt.Errorf("fragment from rank %d: %w", msg.Source, err)
		}
		groups[fr.ID] = append(groups[fr.ID], fr)
	}
	ids := make([]int, 0, len(groups))
	for id := range groups {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		merged, err := curve.MergeSequence(groups[id])
		if err != nil {
			w.logger.Warn("discarding curve", "curve", id, "error", err)
			w.fail(id, seeds[id], err)
			continue
		}
		merged.Params = seeds[id].Params.WithDefaults()
		w.cfg.Metrics.Terminated(merged.State)
		w.curves = append(w.curves, merged)
	}
	return nil
}
