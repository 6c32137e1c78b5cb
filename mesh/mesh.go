package mesh

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/notargets/gocurve/types"
	"gonum.org/v1/gonum/spatial/r3"
)

// ElementType represents different element types
type ElementType int

const (
	Tet ElementType = iota
	Hex
)

func (e ElementType) String() string {
	return [...]string{"Tet", "Hex"}[e]
}

// Face represents a face of an element
type Face struct {
	Vertices []int // Sorted vertex indices
	Element  int   // Parent element
	LocalID  int   // Local face ID within element
}

// Mesh is an unstructured mesh with face connectivity
type Mesh struct {
	// Geometry
	Vertices []r3.Vec

	// Element data
	EToV         [][]int       // Element to vertex connectivity [nelems][nverts_per_elem]
	ElementTypes []ElementType // Element type for each element

	// Connectivity (built by BuildConnectivity)
	EToE [][]int // Element to element connectivity, -1 on the mesh boundary
	EToF [][]int // Neighbor's local face index across each face
	EToP []int   // Element to partition mapping (set by Decompose)

	Faces   []Face
	FaceMap map[string]int // Map from sorted vertex string to face ID

	NumElements int
	NumVertices int
	NumFaces    int
}

// NewMesh creates a mesh of tetrahedra and builds connectivity
func NewMesh(vertices []r3.Vec, etov [][]int) (m *Mesh) {
	m = &Mesh{
		Vertices:     vertices,
		EToV:         etov,
		ElementTypes: make([]ElementType, len(etov)),
		FaceMap:      make(map[string]int),
		NumElements:  len(etov),
		NumVertices:  len(vertices),
	}
	for k, verts := range etov {
		if len(verts) != 4 {
			panic(fmt.Sprintf("element %d has %d vertices, want 4", k, len(verts)))
		}
		for _, v := range verts {
			if v < 0 || v >= len(vertices) {
				panic(fmt.Sprintf("element %d references vertex %d of %d", k, v, len(vertices)))
			}
		}
		m.ElementTypes[k] = Tet
	}
	m.BuildConnectivity()
	return
}

// BuildConnectivity builds element-to-element and face connectivity
func (m *Mesh) BuildConnectivity() {
	m.EToE = make([][]int, m.NumElements)
	m.EToF = make([][]int, m.NumElements)
	m.Faces = m.Faces[:0]
	m.FaceMap = make(map[string]int)

	for elemID := 0; elemID < m.NumElements; elemID++ {
		faceVertices := GetElementFaces(m.ElementTypes[elemID], m.EToV[elemID])

		m.EToE[elemID] = make([]int, len(faceVertices))
		m.EToF[elemID] = make([]int, len(faceVertices))
		for i := range m.EToE[elemID] {
			m.EToE[elemID][i] = -1
			m.EToF[elemID][i] = -1
		}

		for localFaceID, faceVerts := range faceVertices {
			sorted := make([]int, len(faceVerts))
			copy(sorted, faceVerts)
			sort.Ints(sorted)
			key := fmt.Sprintf("%v", sorted)

			if faceID, exists := m.FaceMap[key]; exists {
				// Interior face
				face := &m.Faces[faceID]
				m.EToE[elemID][localFaceID] = face.Element
				m.EToE[face.Element][face.LocalID] = elemID
				m.EToF[elemID][localFaceID] = face.LocalID
				m.EToF[face.Element][face.LocalID] = localFaceID
			} else {
				m.FaceMap[key] = len(m.Faces)
				m.Faces = append(m.Faces, Face{
					Vertices: sorted,
					Element:  elemID,
					LocalID:  localFaceID,
				})
			}
		}
	}
	m.NumFaces = len(m.Faces)
}

// GetElementFaces returns the face vertices for each element type
func GetElementFaces(elemType ElementType, vertices []int) [][]int {
	switch elemType {
	case Tet:
		return [][]int{
			{vertices[0], vertices[2], vertices[1]}, // Face 0
			{vertices[0], vertices[1], vertices[3]}, // Face 1
			{vertices[1], vertices[2], vertices[3]}, // Face 2
			{vertices[0], vertices[3], vertices[2]}, // Face 3
		}
	case Hex:
		return [][]int{
			{vertices[0], vertices[3], vertices[2], vertices[1]}, // Face 0 (bottom)
			{vertices[4], vertices[5], vertices[6], vertices[7]}, // Face 1 (top)
			{vertices[0], vertices[1], vertices[5], vertices[4]}, // Face 2
			{vertices[1], vertices[2], vertices[6], vertices[5]}, // Face 3
			{vertices[2], vertices[3], vertices[7], vertices[6]}, // Face 4
			{vertices[3], vertices[0], vertices[4], vertices[7]}, // Face 5
		}
	default:
		return [][]int{}
	}
}

// OppositeFace is the local tet face that does not touch local vertex v
var OppositeFace = [4]int{2, 3, 1, 0}

// Centroid returns the vertex average of element k
func (m *Mesh) Centroid(k int) (c r3.Vec) {
	for _, v := range m.EToV[k] {
		c = r3.Add(c, m.Vertices[v])
	}
	return r3.Scale(1/float64(len(m.EToV[k])), c)
}

// ElementBounds returns the bounding box of element k
func (m *Mesh) ElementBounds(k int) (b types.Box) {
	b = types.EmptyBox()
	for _, v := range m.EToV[k] {
		b = b.Extend(m.Vertices[v])
	}
	return
}

func (m *Mesh) Bounds() (b types.Box) {
	b = types.EmptyBox()
	for _, p := range m.Vertices {
		b = b.Extend(p)
	}
	return
}

// LogStatistics logs mesh statistics at debug level
func (m *Mesh) LogStatistics(logger *slog.Logger) {
	boundaryFaces := 0
	for i := 0; i < m.NumElements; i++ {
		for _, neighbor := range m.EToE[i] {
			if neighbor < 0 {
				boundaryFaces++
			}
		}
	}
	logger.Debug("mesh statistics",
		"vertices", m.NumVertices,
		"elements", m.NumElements,
		"faces", m.NumFaces,
		"boundary_faces", boundaryFaces)
}
