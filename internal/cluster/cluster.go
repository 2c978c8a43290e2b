// Package cluster assigns storage classes to clusters for cluster-style record ids.
package cluster

import (
	"hash/fnv"

	"github.com/jacentio/lattice/record"
)

// Base is the first cluster id handed out to user classes; lower ids are
// reserved by OrientDB-style stores for internal classes.
const Base = 9

// ID computes the cluster id of a storage class.
// With numClusters<=1, every class maps to Base.
// With numClusters>1, classes are distributed across clusters by name hash.
func ID(class string, numClusters int) int64 {
	if numClusters <= 1 {
		return Base
	}
	h := fnv.New32a()
	h.Write([]byte(class))
	return Base + int64(h.Sum32()%uint32(numClusters))
}

// Sequence mints consecutive record ids per cluster.
type Sequence struct {
	numClusters int
	next        map[int64]int64
}

// NewSequence creates a Sequence over numClusters clusters.
func NewSequence(numClusters int) *Sequence {
	return &Sequence{numClusters: numClusters, next: make(map[int64]int64)}
}

// Next returns the next record id for class.
func (s *Sequence) Next(class string) record.RID {
	c := ID(class, s.numClusters)
	pos := s.next[c]
	s.next[c] = pos + 1
	return record.NewRID(c, pos)
}

// Clone returns an independent copy of the sequence state.
func (s *Sequence) Clone() *Sequence {
	out := NewSequence(s.numClusters)
	for k, v := range s.next {
		out.next[k] = v
	}
	return out
}
