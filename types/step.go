package types

import "gonum.org/v1/gonum/spatial/r3"

// Step is one accepted integration step. Seq is the global index of the step
// within its curve, independent of which rank computed it.
type Step struct {
	Seq       int
	Time      float64
	Position  r3.Vec
	Velocity  r3.Vec
	Scalar    float64
	ArcLength float64 // accumulated up to and including this step
	Distance  float64 // policy metric up to and including this step
}
