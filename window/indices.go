package window

import (
	"sort"

	"github.com/grailbio/base/bitset"
	"github.com/grailbio/base/log"
)

// MarkerIndices is the per-window bidirectional map between the indices of
// a full marker list ("ref" coordinates) and the indices of the subset
// genotyped in the target ("targ" coordinates), plus the splice points at
// which adjacent windows' outputs are joined.
type MarkerIndices struct {
	targToRef []int32
	refToTarg []int32
	inTarget  []uintptr // bitset over ref coordinates

	// Splice points in both coordinate systems.  The emitted region of a
	// window is [PrevSplice, NextSplice).
	PrevRefSplice, NextRefSplice int
	PrevSplice, NextSplice       int // target coordinates
	// OverlapStart is the first target marker of the trailing overlap
	// region; [OverlapStart, NextSplice) is carried into the next window.
	OverlapStart int
}

// NewMarkerIndices builds the map.  inTarget[m] marks full-list markers
// genotyped in the target; prevOverlap and nextOverlap are the window's
// leading/trailing shared record counts, in full-list coordinates.
func NewMarkerIndices(inTarget []bool, prevOverlap, nextOverlap int) *MarkerIndices {
	n := len(inTarget)
	if prevOverlap+nextOverlap > n {
		log.Panicf("window.NewMarkerIndices: overlap %d+%d exceeds %d markers",
			prevOverlap, nextOverlap, n)
	}
	mi := &MarkerIndices{
		refToTarg: make([]int32, n),
		inTarget:  make([]uintptr, (n+bitset.BitsPerWord-1)/bitset.BitsPerWord),
	}
	for m, in := range inTarget {
		if in {
			mi.refToTarg[m] = int32(len(mi.targToRef))
			mi.targToRef = append(mi.targToRef, int32(m))
			bitset.Set(mi.inTarget, m)
		} else {
			mi.refToTarg[m] = -1
		}
	}
	// The splice midpoints: the leading overlap region is [0, prevOverlap),
	// the trailing one [nextOverlapStart, n).
	nextOverlapStart := n - nextOverlap
	mi.PrevRefSplice = prevOverlap / 2
	mi.NextRefSplice = (n + nextOverlapStart) / 2
	mi.PrevSplice = mi.lowerBound(mi.PrevRefSplice)
	mi.NextSplice = mi.lowerBound(mi.NextRefSplice)
	mi.OverlapStart = mi.lowerBound(nextOverlapStart)
	return mi
}

// lowerBound returns the smallest target index whose ref index is >= m.
func (mi *MarkerIndices) lowerBound(m int) int {
	return sort.Search(len(mi.targToRef), func(i int) bool {
		return mi.targToRef[i] >= int32(m)
	})
}

// NTarg returns the number of target markers.
func (mi *MarkerIndices) NTarg() int { return len(mi.targToRef) }

// NRef returns the number of full-list markers.
func (mi *MarkerIndices) NRef() int { return len(mi.refToTarg) }

// TargToRef maps a target index to its full-list index.
func (mi *MarkerIndices) TargToRef(j int) int { return int(mi.targToRef[j]) }

// RefToTarg maps a full-list index to its target index, or -1.
func (mi *MarkerIndices) RefToTarg(m int) int { return int(mi.refToTarg[m]) }

// InTarget reports whether full-list marker m is genotyped in the target.
func (mi *MarkerIndices) InTarget(m int) bool { return bitset.Test(mi.inTarget, m) }

// TargIndices returns the full-list indices of the target markers as ints,
// for use with vcf.RestrictGT.
func (mi *MarkerIndices) TargIndices() []int {
	out := make([]int, len(mi.targToRef))
	for i, v := range mi.targToRef {
		out[i] = int(v)
	}
	return out
}
