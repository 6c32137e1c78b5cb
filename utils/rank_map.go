package utils

import "fmt"

// RankMap assigns a contiguous block of domain ids to each rank. NumDomains
// is split into NumRanks buckets with a maximum imbalance of one domain.
type RankMap struct {
	NumDomains int
	NumRanks   int
	Buckets    [][2]int // Beginning and end domain id of each rank's block
}

func NewRankMap(numRanks, numDomains int) (rm *RankMap) {
	if numRanks < 1 {
		panic(fmt.Sprintf("rank count must be positive, have %d", numRanks))
	}
	rm = &RankMap{
		NumDomains: numDomains,
		NumRanks:   numRanks,
		Buckets:    make([][2]int, numRanks),
	}
	for n := 0; n < numRanks; n++ {
		rm.Buckets[n] = Split1D(numDomains, numRanks, n)
	}
	return
}

// RankOf returns the rank owning domain id, or -1 when id is out of range
func (rm *RankMap) RankOf(id int) (rank int) {
	_, rank = rm.rankWithTryCount(id)
	return
}

func (rm *RankMap) rankWithTryCount(id int) (tryCount, rank int) {
	if id < 0 || id >= rm.NumDomains {
		return 0, -1
	}
	// Initial guess
	rank = int(float64(rm.NumRanks*id) / float64(rm.NumDomains))
	for !(rm.Buckets[rank][0] <= id && rm.Buckets[rank][1] > id) {
		if rm.Buckets[rank][0] > id {
			rank--
		} else {
			rank++
		}
		if rank == -1 || rank == rm.NumRanks {
			return 0, -1
		}
		tryCount++
	}
	return
}

func (rm *RankMap) DomainRange(rank int) (idMin, idMax int) {
	idMin, idMax = rm.Buckets[rank][0], rm.Buckets[rank][1]
	return
}

func (rm *RankMap) DomainCount(rank int) int {
	idMin, idMax := rm.DomainRange(rank)
	return idMax - idMin
}

// Domains lists the domain ids of rank in ascending order
func (rm *RankMap) Domains(rank int) (ids []int) {
	idMin, idMax := rm.DomainRange(rank)
	for id := idMin; id < idMax; id++ {
		ids = append(ids, id)
	}
	return
}

// Split1D splits [0, maxIndex) into nParts pieces and returns piece n. The
// remainder is spread over the first pieces so sizes differ by at most one.
func Split1D(maxIndex, nParts, n int) (bucket [2]int) {
	var (
		nPart            = maxIndex / nParts
		startAdd, endAdd int
		remainder        = maxIndex % nParts
	)
	if remainder != 0 {
		if n+1 > remainder {
			startAdd = remainder
			endAdd = 0
		} else {
			startAdd = n
			endAdd = 1
		}
	}
	bucket[0] = n*nPart + startAdd
	bucket[1] = bucket[0] + nPart + endAdd
	return
}
