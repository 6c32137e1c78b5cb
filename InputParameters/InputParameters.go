package InputParameters

import (
	"fmt"
	"io"
	"strings"

	"github.com/ghodss/yaml"
)

type SolverParameters struct {
	Method        string  `json:"Method"`
	AbsTol        float64 `json:"AbsTol"`
	RelTol        float64 `json:"RelTol"`
	DtMin         float64 `json:"DtMin"`
	DtMax         float64 `json:"DtMax"`
	InitialDt     float64 `json:"InitialDt"`
	MaxRejections int     `json:"MaxRejections"`
}

type PlaneParameters struct {
	Normal [3]float64 `json:"Normal"`
	Offset float64    `json:"Offset"`
}

type TerminationParameters struct {
	Policy           string           `json:"Policy"`
	MaxSteps         int              `json:"MaxSteps"`
	MaxDistance      float64          `json:"MaxDistance"`
	MaxTime          *float64         `json:"MaxTime"` // absent means not time limited
	Boundary         *PlaneParameters `json:"Boundary"`
	HandoffEpsilon   float64          `json:"HandoffEpsilon"`
	MaxFragmentSteps int              `json:"MaxFragmentSteps"`
}

// VelocityParameters selects an analytic velocity: Uniform uses Vector,
// Rotation spins about Center's z axis at Omega, ABC is the
// Arnold-Beltrami-Childress flow with coefficients Vector.
type VelocityParameters struct {
	Kind   string     `json:"Kind"`
	Vector [3]float64 `json:"Vector"`
	Center [3]float64 `json:"Center"`
	Omega  float64    `json:"Omega"`
}

type DomainParameters struct {
	Kind      string             `json:"Kind"` // Grid, Tet or Analytic
	Min       [3]float64         `json:"Min"`
	Max       [3]float64         `json:"Max"`
	Cells     [3]int             `json:"Cells"`
	Splits    [3]int             `json:"Splits"`
	Ghost     int                `json:"Ghost"`
	Centering string             `json:"Centering"`
	Scalar    string             `json:"Scalar"` // Speed samples |u| alongside the velocity
	Times     []float64          `json:"Times"`
	Velocity  VelocityParameters `json:"Velocity"`
}

type SeedParameters struct {
	Position  [3]float64 `json:"Position"`
	Time      float64    `json:"Time"`
	Direction string     `json:"Direction"`
}

// SeedLine places Count seeds evenly from Start to End
type SeedLine struct {
	Start     [3]float64 `json:"Start"`
	End       [3]float64 `json:"End"`
	Count     int        `json:"Count"`
	Time      float64    `json:"Time"`
	Direction string     `json:"Direction"`
}

// Parameters obtained from the YAML input file
type AdvectionParameters struct {
	Title           string                `json:"Title"`
	Ranks           int                   `json:"Ranks"`
	StepsPerRound   int                   `json:"StepsPerRound"`
	MaxRounds       int                   `json:"MaxRounds"`
	MaxMessageBytes int                   `json:"MaxMessageBytes"`
	Solver          SolverParameters      `json:"Solver"`
	Termination     TerminationParameters `json:"Termination"`
	Domain          DomainParameters      `json:"Domain"`
	Seeds           []SeedParameters      `json:"Seeds"`
	SeedLines       []SeedLine            `json:"SeedLines"`
}

func (ip *AdvectionParameters) Parse(data []byte) error {
	if err := yaml.Unmarshal(data, ip); err != nil {
		return fmt.Errorf("parse input: %w", err)
	}
	return ip.Validate()
}

func oneOf(name, value string, allowed ...string) error {
	for _, a := range allowed {
		if strings.EqualFold(value, a) {
			return nil
		}
	}
	return fmt.Errorf("%s %q is not one of %v", name, value, allowed)
}

// Validate checks the input for problems that can be reported before any
// field is built. Numerical ranges are checked again by the components.
func (ip *AdvectionParameters) Validate() error {
	d := ip.Domain
	switch {
	case ip.Ranks < 0:
		return fmt.Errorf("Ranks must not be negative, have %d", ip.Ranks)
	case ip.Termination.MaxSteps < 1:
		return fmt.Errorf("Termination.MaxSteps must be positive, have %d", ip.Termination.MaxSteps)
	case len(ip.Seeds) == 0 && len(ip.SeedLines) == 0:
		return fmt.Errorf("no Seeds or SeedLines")
	}
	if err := oneOf("Domain.Kind", d.Kind, "Grid", "Tet", "Analytic"); err != nil {
		return err
	}
	if err := oneOf("Domain.Velocity.Kind", d.Velocity.Kind, "Uniform", "Rotation", "ABC"); err != nil {
		return err
	}
	if d.Centering != "" {
		if err := oneOf("Domain.Centering", d.Centering, "Point", "Cell"); err != nil {
			return err
		}
	}
	if d.Scalar != "" {
		if err := oneOf("Domain.Scalar", d.Scalar, "Speed"); err != nil {
			return err
		}
	}
	for i := 0; i < 3; i++ {
		if !(d.Max[i] > d.Min[i]) {
			return fmt.Errorf("Domain box is empty along axis %d: [%g, %g]", i, d.Min[i], d.Max[i])
		}
		if d.Splits[i] < 1 {
			return fmt.Errorf("Domain.Splits must be positive, have %v", d.Splits)
		}
		if !strings.EqualFold(d.Kind, "Analytic") && d.Cells[i] < d.Splits[i] {
			return fmt.Errorf("Domain.Cells %v must be at least Domain.Splits %v", d.Cells, d.Splits)
		}
	}
	for i, sl := range ip.SeedLines {
		if sl.Count < 1 {
			return fmt.Errorf("SeedLines[%d].Count must be positive, have %d", i, sl.Count)
		}
	}
	return nil
}

// SeedList expands the seed lines after the explicit seeds
func (ip *AdvectionParameters) SeedList() (seeds []SeedParameters) {
	seeds = append(seeds, ip.Seeds...)
	for _, sl := range ip.SeedLines {
		for n := 0; n < sl.Count; n++ {
			var frac float64
			if sl.Count > 1 {
				frac = float64(n) / float64(sl.Count-1)
			}
			var p [3]float64
			for i := 0; i < 3; i++ {
				p[i] = sl.Start[i] + frac*(sl.End[i]-sl.Start[i])
			}
			seeds = append(seeds, SeedParameters{Position: p, Time: sl.Time, Direction: sl.Direction})
		}
	}
	return
}

func (ip *AdvectionParameters) Print(w io.Writer) {
	fmt.Fprintf(w, "\"%s\"\t\t= Title\n", ip.Title)
	fmt.Fprintf(w, "[%d]\t\t\t\t= Ranks\n", ip.Ranks)
	fmt.Fprintf(w, "[%s]\t\t\t= Method\n", ip.Solver.Method)
	fmt.Fprintf(w, "%8.2e\t\t= AbsTol\n", ip.Solver.AbsTol)
	fmt.Fprintf(w, "%8.2e\t\t= RelTol\n", ip.Solver.RelTol)
	fmt.Fprintf(w, "[%s]\t\t\t= Policy\n", ip.Termination.Policy)
	fmt.Fprintf(w, "[%d]\t\t\t\t= MaxSteps\n", ip.Termination.MaxSteps)
	if ip.Termination.MaxTime != nil {
		fmt.Fprintf(w, "%8.5f\t\t= MaxTime\n", *ip.Termination.MaxTime)
	}
	fmt.Fprintf(w, "[%s]\t\t\t= Domain\n", ip.Domain.Kind)
	fmt.Fprintf(w, "%v x %v\t= Cells x Splits\n", ip.Domain.Cells, ip.Domain.Splits)
	fmt.Fprintf(w, "[%s]\t\t= Velocity\n", ip.Domain.Velocity.Kind)
	fmt.Fprintf(w, "[%d]\t\t\t\t= Seeds\n", len(ip.SeedList()))
}
