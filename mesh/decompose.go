package mesh

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/notargets/gocurve/types"
	"github.com/notargets/gocurve/utils"
	"gonum.org/v1/gonum/spatial/r3"
)

// PartitionConfig holds configuration for box mesh decomposition
type PartitionConfig struct {
	Cells  [3]int // Hex cells per direction of the source box mesh
	Splits [3]int // Partitions per direction
	Ghost  bool   // Add a ring of vertex-sharing ghost elements
}

// Partition is one domain of a decomposed mesh. Mesh holds the local
// elements, owned elements first, with vertices renumbered; VertexIDs maps
// local vertex ids back to the global mesh.
type Partition struct {
	ID        int
	Elements  []int // Global element ids, owned first
	Ghost     []bool
	NumOwned  int
	Owned     types.Box
	Bounds    types.Box
	Mesh      *Mesh
	VertexIDs []int
}

// Decompose splits a box mesh into Splits[0]*Splits[1]*Splits[2] partitions.
// Elements are assigned by the hex cell that holds their centroid, and the
// cuts fall on hex boundaries, so every owned region is a box.
func Decompose(m *Mesh, cfg PartitionConfig, logger *slog.Logger) (parts []Partition, err error) {
	for d := 0; d < 3; d++ {
		if cfg.Splits[d] < 1 || cfg.Cells[d] < 1 {
			return nil, fmt.Errorf("invalid decomposition: cells %v, splits %v", cfg.Cells, cfg.Splits)
		}
		if cfg.Splits[d] > cfg.Cells[d] {
			return nil, fmt.Errorf("invalid decomposition: %d splits over %d cells in direction %d",
				cfg.Splits[d], cfg.Cells[d], d)
		}
	}
	var (
		nparts = cfg.Splits[0] * cfg.Splits[1] * cfg.Splits[2]
		bounds = m.Bounds()
		size   = bounds.Size()
		maps   [3]*utils.RankMap
	)
	for d := 0; d < 3; d++ {
		maps[d] = utils.NewRankMap(cfg.Splits[d], cfg.Cells[d])
	}
	cellOf := func(v, lo, extent float64, n int) int {
		i := int(math.Floor((v - lo) / extent * float64(n)))
		return max(0, min(n-1, i))
	}

	m.EToP = make([]int, m.NumElements)
	for k := 0; k < m.NumElements; k++ {
		c := m.Centroid(k)
		bx := maps[0].RankOf(cellOf(c.X, bounds.Min.X, size.X, cfg.Cells[0]))
		by := maps[1].RankOf(cellOf(c.Y, bounds.Min.Y, size.Y, cfg.Cells[1]))
		bz := maps[2].RankOf(cellOf(c.Z, bounds.Min.Z, size.Z, cfg.Cells[2]))
		m.EToP[k] = bx + cfg.Splits[0]*(by+cfg.Splits[1]*bz)
	}

	parts = make([]Partition, nparts)
	for p := range parts {
		parts[p].ID = p
		parts[p].Owned = types.EmptyBox()
	}
	for k := 0; k < m.NumElements; k++ {
		p := &parts[m.EToP[k]]
		p.Elements = append(p.Elements, k)
		p.Ghost = append(p.Ghost, false)
		p.Owned = p.Owned.Union(m.ElementBounds(k))
	}
	for p := range parts {
		parts[p].NumOwned = len(parts[p].Elements)
		if parts[p].NumOwned == 0 {
			return nil, fmt.Errorf("partition %d has no elements", p)
		}
	}

	if cfg.Ghost {
		addGhostRing(m, parts)
	}
	for p := range parts {
		parts[p].Mesh, parts[p].VertexIDs = m.Extract(parts[p].Elements)
		parts[p].Bounds = parts[p].Mesh.Bounds()
	}
	analyzePartition(m, parts, logger)
	return
}

// addGhostRing appends to each partition the foreign elements that share a
// vertex with one of its owned elements, in ascending element order.
func addGhostRing(m *Mesh, parts []Partition) {
	touched := make([]int, m.NumVertices)
	for p := range parts {
		mark := p + 1
		for _, k := range parts[p].Elements[:parts[p].NumOwned] {
			for _, v := range m.EToV[k] {
				touched[v] = mark
			}
		}
		for k := 0; k < m.NumElements; k++ {
			if m.EToP[k] == p {
				continue
			}
			for _, v := range m.EToV[k] {
				if touched[v] == mark {
					parts[p].Elements = append(parts[p].Elements, k)
					parts[p].Ghost = append(parts[p].Ghost, true)
					break
				}
			}
		}
	}
}

// Extract returns a mesh made of the given elements with vertices renumbered
// in order of first use, plus the local to global vertex map.
func (m *Mesh) Extract(elements []int) (sub *Mesh, vertexIDs []int) {
	var (
		local    = make(map[int]int)
		etov     = make([][]int, len(elements))
		subVerts = make([]r3.Vec, 0)
	)
	for i, k := range elements {
		etov[i] = make([]int, len(m.EToV[k]))
		for j, v := range m.EToV[k] {
			lv, ok := local[v]
			if !ok {
				lv = len(vertexIDs)
				local[v] = lv
				vertexIDs = append(vertexIDs, v)
				subVerts = append(subVerts, m.Vertices[v])
			}
			etov[i][j] = lv
		}
	}
	sub = NewMesh(subVerts, etov)
	return
}

// PartitionStats holds statistics for a single partition
type PartitionStats struct {
	ID           int
	NumElements  int
	NumGhosts    int
	NumNeighbors map[int]int // neighbor partition -> shared faces
}

// analyzePartition computes and logs partition quality metrics
func analyzePartition(m *Mesh, parts []Partition, logger *slog.Logger) {
	if logger == nil {
		return
	}
	stats := make([]PartitionStats, len(parts))
	for p := range parts {
		stats[p] = PartitionStats{
			ID:           p,
			NumElements:  parts[p].NumOwned,
			NumGhosts:    len(parts[p].Elements) - parts[p].NumOwned,
			NumNeighbors: make(map[int]int),
		}
	}
	cutFaces := 0
	for elem := 0; elem < m.NumElements; elem++ {
		for _, neighbor := range m.EToE[elem] {
			if neighbor > elem && m.EToP[neighbor] != m.EToP[elem] {
				cutFaces++
				stats[m.EToP[elem]].NumNeighbors[m.EToP[neighbor]]++
				stats[m.EToP[neighbor]].NumNeighbors[m.EToP[elem]]++
			}
		}
	}
	var (
		avgLoad float64
		maxLoad int
		minLoad = math.MaxInt
	)
	for _, s := range stats {
		avgLoad += float64(s.NumElements)
		maxLoad = max(maxLoad, s.NumElements)
		minLoad = min(minLoad, s.NumElements)
	}
	avgLoad /= float64(len(stats))
	logger.Debug("partition analysis",
		"partitions", len(parts),
		"cut_faces", cutFaces,
		"imbalance_pct", 100*(float64(maxLoad)/avgLoad-1),
		"load_min", minLoad,
		"load_max", maxLoad)
	for p, s := range stats {
		logger.Debug("partition",
			"id", s.ID,
			"elements", s.NumElements,
			"ghosts", s.NumGhosts,
			"neighbors", len(s.NumNeighbors),
			"owned", parts[p].Owned.String())
	}
}
