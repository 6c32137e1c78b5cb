package scheduler

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/notargets/gocurve/comm"
	"github.com/notargets/gocurve/curve"
	"github.com/notargets/gocurve/field"
	"github.com/notargets/gocurve/metrics"
	"github.com/notargets/gocurve/solver"
	"github.com/notargets/gocurve/types"
	"github.com/notargets/gocurve/utils"
	"gonum.org/v1/gonum/spatial/r3"
)

var ErrSeedOutsideDomains = errors.New("seed is outside every domain")

// maxBounces is the number of hand-offs without an accepted step after
// which a curve is considered stuck between domains.
const maxBounces = 2

// Seed is one requested curve. Its index in the seed list is the curve id.
type Seed struct {
	Position  r3.Vec
	Time      float64
	Direction types.Direction
	Params    curve.Params
}

func (s Seed) curveSeed() curve.Seed {
	return curve.Seed{Position: s.Position, Time: s.Time, Direction: s.Direction}
}

type Config struct {
	Ranks           int
	Solver          solver.Config
	StepsPerRound   int // Step calls per curve per round, zero is unlimited
	MaxRounds       int // zero is unlimited
	MaxMessageBytes int
	Cancel          *CancelSet
	Logger          *slog.Logger
	Metrics         *metrics.Metrics
}

func DefaultConfig() Config {
	return Config{
		Ranks:           1,
		Solver:          solver.DefaultConfig(),
		StepsPerRound:   1000,
		MaxMessageBytes: comm.DefaultMaxMessageBytes,
	}
}

func (cfg Config) withDefaults() Config {
	if cfg.Ranks == 0 {
		cfg.Ranks = 1
	}
	if cfg.MaxMessageBytes == 0 {
		cfg.MaxMessageBytes = comm.DefaultMaxMessageBytes
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	return cfg
}

func (cfg Config) Validate() error {
	switch {
	case cfg.Ranks < 1:
		return fmt.Errorf("ranks must be positive, have %d", cfg.Ranks)
	case cfg.StepsPerRound < 0:
		return fmt.Errorf("steps per round must not be negative, have %d", cfg.StepsPerRound)
	case cfg.MaxRounds < 0:
		return fmt.Errorf("max rounds must not be negative, have %d", cfg.MaxRounds)
	case cfg.MaxMessageBytes < 0:
		return fmt.Errorf("max message bytes must not be negative, have %d", cfg.MaxMessageBytes)
	}
	return cfg.Solver.Validate()
}

// Problem is a decomposed field and the placement of its pieces. RankOf
// defaults to a block split of piece ids over the ranks.
type Problem struct {
	Pieces []field.Piece
	RankOf func(domainID int) int
}

func (p Problem) rankMap(ranks int) (rankOf func(int) int, err error) {
	if len(p.Pieces) == 0 {
		return nil, fmt.Errorf("problem has no field pieces")
	}
	rankOf = p.RankOf
	if rankOf == nil {
		ids := make([]int, len(p.Pieces))
		for i, pc := range p.Pieces {
			ids[i] = pc.ID
		}
		sort.Ints(ids)
		for i, id := range ids {
			if id != i {
				return nil, fmt.Errorf("default rank map needs piece ids 0..%d, have %v", len(ids)-1, ids)
			}
		}
		rankOf = utils.NewRankMap(ranks, len(ids)).RankOf
	}
	for _, pc := range p.Pieces {
		if r := rankOf(pc.ID); r < 0 || r >= ranks {
			return nil, fmt.Errorf("piece %d placed on rank %d of %d", pc.ID, r, ranks)
		}
	}
	return
}

// CancelSet collects curve ids to stop at the next round boundary. It is
// safe to use while a run is in progress; a nil set cancels nothing.
type CancelSet struct {
	mu  sync.RWMutex
	ids map[int]struct{}
}

func NewCancelSet() *CancelSet {
	return &CancelSet{ids: make(map[int]struct{})}
}

func (cs *CancelSet) Cancel(ids ...int) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	for _, id := range ids {
		cs.ids[id] = struct{}{}
	}
}

func (cs *CancelSet) Has(id int) bool {
	if cs == nil {
		return false
	}
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	_, ok := cs.ids[id]
	return ok
}

// Failure is a curve that produced no output
type Failure struct {
	ID   int
	Seed Seed
	Err  error
}

type Stats struct {
	Rounds    int
	Steps     int
	Handoffs  int
	Overflows int
	Fragments int
	States    map[types.TerminationState]int
}

func (s *Stats) add(o Stats) {
	s.Steps += o.Steps
	s.Handoffs += o.Handoffs
	s.Overflows += o.Overflows
	s.Fragments += o.Fragments
}

// Result holds the merged curves and failures, both sorted by curve id
type Result struct {
	Curves   []curve.IntegralCurve
	Failures []Failure
	Stats    Stats
}
