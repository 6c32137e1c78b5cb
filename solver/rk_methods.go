package solver

import (
	"fmt"
	"strings"
)

// Method selects an embedded Runge-Kutta pair
type Method int

const (
	DoPri5 Method = iota // DoPri5(4)
	RKF45                // RKF4(5)
	RK23                 // RK2(3)
	NumberOfMethods
)

func (m Method) String() string {
	if m < 0 || m >= NumberOfMethods {
		return fmt.Sprintf("Method(%d)", int(m))
	}
	return [...]string{"DoPri5", "RKF45", "RK23"}[m]
}

var MethodNameMap = map[string]Method{
	"dopri5": DoPri5,
	"dopri":  DoPri5,
	"rkf45":  RKF45,
	"rkf4":   RKF45,
	"rk23":   RK23,
	"rk2":    RK23,
}

func NewMethod(label string) (m Method, err error) {
	var ok bool
	if len(label) == 0 {
		return DoPri5, nil
	}
	if m, ok = MethodNameMap[strings.ToLower(strings.TrimSpace(label))]; !ok {
		err = fmt.Errorf("unknown integration method: %q", label)
	}
	return
}

// tableau holds the coefficients of one embedded pair. e is the difference
// of the two solution weights, so e dotted with the stages is the local
// error estimate.
type tableau struct {
	name             string
	stages, order    int
	firstStageAsLast bool // last stage is evaluated at the new solution
	a                [][]float64
	b, c, e          []float64
}

func newTableau(m Method) (tab *tableau, err error) {
	tab = &tableau{}
	switch m {
	case RK23:
		tab.stages, tab.order = 3, 3
		tab.name = "RK23"
		makeCoeffs(tab)
		setCoeffsRK23(tab)
	case RKF45:
		tab.stages, tab.order = 6, 4
		tab.name = "RKF45"
		makeCoeffs(tab)
		setCoeffsRKF45(tab)
	case DoPri5:
		tab.stages, tab.order = 7, 5
		tab.name = "DoPri5"
		tab.firstStageAsLast = true
		makeCoeffs(tab)
		setCoeffsDoPri5(tab)
	default:
		return nil, fmt.Errorf("unknown rk method %d", int(m))
	}
	return
}

func makeCoeffs(tab *tableau) {
	tab.b, tab.c, tab.e = make([]float64, tab.stages), make([]float64, tab.stages), make([]float64, tab.stages)
	tab.a = make([][]float64, tab.stages)
	for i := range tab.a {
		tab.a[i] = make([]float64, tab.stages)
	}
}

func setCoeffsRK23(tab *tableau) {
	tab.a[1][0] = 1.0
	tab.a[2][0] = 1.0 / 4.0
	tab.a[2][1] = 1.0 / 4.0

	tab.c[1] = 1.0
	tab.c[2] = 0.5

	tab.b[0] = 1.0 / 6.0
	tab.b[1] = 1.0 / 6.0
	tab.b[2] = 2.0 / 3.0

	tab.e[0] = -1.0 / 3.0
	tab.e[1] = -1.0 / 3.0
	tab.e[2] = 2.0 / 3.0
}

func setCoeffsRKF45(tab *tableau) {
	tab.a[1][0] = 1.0 / 4
	tab.a[2][0] = 3.0 / 32.0
	tab.a[2][1] = 9.0 / 32.0
	tab.a[3][0] = 1932.0 / 2197.0
	tab.a[3][1] = -7200.0 / 2197.0
	tab.a[3][2] = 7296.0 / 2197.0
	tab.a[4][0] = 439.0 / 216.0
	tab.a[4][1] = -8.0
	tab.a[4][2] = 3680.0 / 513.0
	tab.a[4][3] = -845.0 / 4104.0
	tab.a[5][0] = -8.0 / 27.0
	tab.a[5][1] = 2.0
	tab.a[5][2] = -3544.0 / 2565.0
	tab.a[5][3] = 1859.0 / 4104.0
	tab.a[5][4] = -11.0 / 40.0

	tab.c[1] = 1.0 / 4.0
	tab.c[2] = 3.0 / 8
	tab.c[3] = 12.0 / 13.0
	tab.c[4] = 1.0
	tab.c[5] = 1.0 / 2.0

	tab.b[0] = 25.0 / 216.0
	tab.b[2] = 1408.0 / 2565.0
	tab.b[3] = 2197.0 / 4104.0
	tab.b[4] = -1.0 / 5.0

	fifth := []float64{16.0 / 135.0, 0.0, 6656.0 / 12825.0, 28561.0 / 56430.0, -9.0 / 50.0, 2.0 / 55.0}
	for i := range tab.e {
		tab.e[i] = tab.b[i] - fifth[i]
	}
}

func setCoeffsDoPri5(tab *tableau) {
	tab.a[1][0] = 0.2
	tab.a[2][0] = 3.0 / 40.0
	tab.a[2][1] = 9.0 / 40.0
	tab.a[3][0] = 44.0 / 45.0
	tab.a[3][1] = -56.0 / 15.0
	tab.a[3][2] = 32.0 / 9.0
	tab.a[4][0] = 19372.0 / 6561.0
	tab.a[4][1] = -25360.0 / 2187.0
	tab.a[4][2] = 64448.0 / 6561.0
	tab.a[4][3] = -212.0 / 729.0
	tab.a[5][0] = 9017.0 / 3168.0
	tab.a[5][1] = -355.0 / 33.0
	tab.a[5][2] = 46732.0 / 5247.0
	tab.a[5][3] = 49.0 / 176.0
	tab.a[5][4] = -5103.0 / 18656.0
	tab.a[6][0] = 35.0 / 384.0
	tab.a[6][2] = 500.0 / 1113.0
	tab.a[6][3] = 125.0 / 192.0
	tab.a[6][4] = -2187.0 / 6784.0
	tab.a[6][5] = 11.0 / 84.0

	tab.b[0] = 35.0 / 384.0
	tab.b[2] = 500.0 / 1113.0
	tab.b[3] = 125.0 / 192.0
	tab.b[4] = -2187.0 / 6784.0
	tab.b[5] = 11.0 / 84.0

	tab.c[1] = 0.2
	tab.c[2] = 0.3
	tab.c[3] = 0.8
	tab.c[4] = 8.0 / 9.0
	tab.c[5] = 1.0
	tab.c[6] = 1.0

	tab.e[0] = 71.0 / 57600.0
	tab.e[2] = -71.0 / 16695.0
	tab.e[3] = 71.0 / 1920.0
	tab.e[4] = -17253.0 / 339200.0
	tab.e[5] = 22.0 / 525.0
	tab.e[6] = -1.0 / 40.0
}
