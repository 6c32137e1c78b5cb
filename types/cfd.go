package types

import (
	"fmt"
	"strings"
)

// Direction is the sign of integration in time
type Direction int8

const (
	Forward  Direction = 1
	Backward Direction = -1
)

func (d Direction) Sign() float64 {
	if d == Backward {
		return -1
	}
	return 1
}

func (d Direction) String() string {
	if d == Backward {
		return "Backward"
	}
	return "Forward"
}

var DirectionNameMap = map[string]Direction{
	"forward":  Forward,
	"fwd":      Forward,
	"backward": Backward,
	"bwd":      Backward,
}

func NewDirection(label string) (d Direction, err error) {
	var ok bool
	if len(label) == 0 {
		return Forward, nil
	}
	if d, ok = DirectionNameMap[strings.ToLower(strings.TrimSpace(label))]; !ok {
		err = fmt.Errorf("unknown integration direction: %q", label)
	}
	return
}

// TerminationState is the lifecycle state of an integral curve. Running is
// the only non-terminal value, there are no transitions out of a terminal
// state.
type TerminationState uint8

const (
	Running TerminationState = iota
	MaxStepsReached
	MaxDistanceReached
	MaxTimeReached
	ExplicitBoundaryHit
	LeftDomainPermanently
	Cancelled
	SolverFailed
	LeftTimeRange
	NumTerminationStates
)

func (ts TerminationState) String() string {
	if ts >= NumTerminationStates {
		return fmt.Sprintf("TerminationState(%d)", uint8(ts))
	}
	return [...]string{"Running", "MaxStepsReached", "MaxDistanceReached",
		"MaxTimeReached", "ExplicitBoundaryHit", "LeftDomainPermanently",
		"Cancelled", "SolverFailed", "LeftTimeRange"}[ts]
}

func (ts TerminationState) IsTerminal() bool { return ts != Running }

// PolicyKind selects the distance metric and validation rules of a curve
type PolicyKind uint8

const (
	Streamline   PolicyKind = iota // distance is arc length, steady field
	Pathline                       // distance is arc length, time limited
	Displacement                   // distance is |x - seed|
)

func (pk PolicyKind) String() string {
	return [...]string{"Streamline", "Pathline", "Displacement"}[pk]
}

var PolicyNameMap = map[string]PolicyKind{
	"streamline":   Streamline,
	"stream":       Streamline,
	"pathline":     Pathline,
	"path":         Pathline,
	"displacement": Displacement,
}

func NewPolicyKind(label string) (pk PolicyKind, err error) {
	var ok bool
	if len(label) == 0 {
		return Streamline, nil
	}
	if pk, ok = PolicyNameMap[strings.ToLower(strings.TrimSpace(label))]; !ok {
		err = fmt.Errorf("unknown termination policy: %q", label)
	}
	return
}

// Diagnostic flags are attached to a curve's result, they never abort a run
type Diagnostic uint8

const (
	DiagStepUnderflow    Diagnostic = 1 << iota // accepted a DtMin step above tolerance
	DiagTruncatedHistory                        // history retired early by a message overflow
	DiagMisrouted                               // arrived at a domain that did not contain it
	DiagRoundLimit                              // stopped by the scheduler round limit
)

func (d Diagnostic) Has(flag Diagnostic) bool { return d&flag != 0 }

func (d Diagnostic) String() string {
	if d == 0 {
		return "none"
	}
	var names []string
	for i, name := range []string{"StepUnderflow", "TruncatedHistory", "Misrouted", "RoundLimit"} {
		if d&(1<<i) != 0 {
			names = append(names, name)
		}
	}
	return strings.Join(names, "|")
}
