package mesh

import (
	"fmt"

	"github.com/notargets/gocurve/types"
	"gonum.org/v1/gonum/spatial/r3"
)

// kuhnPermutations are the axis orders of the six tets that tile a hex
var kuhnPermutations = [6][3]int{
	{0, 1, 2}, {0, 2, 1}, {1, 0, 2}, {1, 2, 0}, {2, 0, 1}, {2, 1, 0},
}

// NewBoxMesh tetrahedralizes box with cells[0]*cells[1]*cells[2] hexahedra,
// each split into six tets along its main diagonal. Every hex uses the same
// split so faces match across hexes.
func NewBoxMesh(box types.Box, cells [3]int) (m *Mesh) {
	for d := 0; d < 3; d++ {
		if cells[d] < 1 {
			panic(fmt.Sprintf("cell count %v must be positive in every direction", cells))
		}
	}
	var (
		nx, ny, nz = cells[0] + 1, cells[1] + 1, cells[2] + 1
		size       = box.Size()
		vertices   = make([]r3.Vec, 0, nx*ny*nz)
		etov       = make([][]int, 0, 6*cells[0]*cells[1]*cells[2])
	)
	vid := func(i, j, k int) int { return i + nx*(j+ny*k) }
	for k := 0; k < nz; k++ {
		for j := 0; j < ny; j++ {
			for i := 0; i < nx; i++ {
				vertices = append(vertices, r3.Vec{
					X: box.Min.X + size.X*float64(i)/float64(cells[0]),
					Y: box.Min.Y + size.Y*float64(j)/float64(cells[1]),
					Z: box.Min.Z + size.Z*float64(k)/float64(cells[2]),
				})
			}
		}
	}
	for k := 0; k < cells[2]; k++ {
		for j := 0; j < cells[1]; j++ {
			for i := 0; i < cells[0]; i++ {
				// Hex corner c has its x, y, z offsets in bits 0, 1, 2
				var corner [8]int
				for c := 0; c < 8; c++ {
					corner[c] = vid(i+(c&1), j+((c>>1)&1), k+((c>>2)&1))
				}
				for _, perm := range kuhnPermutations {
					a, b := 1<<perm[0], 1<<perm[1]
					etov = append(etov, []int{corner[0], corner[a], corner[a|b], corner[7]})
				}
			}
		}
	}
	return NewMesh(vertices, etov)
}
