package phasing

import (
	"math"
	"math/rand"
	"sort"
)

// phaseBaum runs the stage-1 forward/backward phase update for one target
// sample.  The state space is the sample's composite reference; the two
// channels carry the sample's two haplotypes under the start-of-iteration
// orientation.  The backward pass saves the state vectors at every
// unphased-heterozygote and missing-allele marker; the forward pass then
// advances segment-by-segment between unphased heterozygotes, decides each
// segment's orientation from the four channel/backward pairings, and
// imputes missing alleles from the saved backward vectors.
type phaseBaum struct {
	pd *PhaseData
	st *CompStates
	h  *hmm
	s  int

	nMarkers int
	// h1, h2 are the start-of-iteration allele sequences over HiFreq
	// markers (the emission baseline).
	h1, h2 []int32
	// o1, o2 accumulate the output orientation; segments are exchanged
	// between them as decisions are made.
	o1, o2 []int32
	// unph and miss are strictly increasing HiFreq marker indices.
	unph, miss []int32

	alleles    [][]int32 // state alleles per marker, filled lazily
	savedB1    map[int32][]float32
	savedB2    map[int32][]float32
	fwd1, fwd2 []float32
	sum1, sum2 float32

	// Per-segment missing-site bookkeeping: forward snapshots taken when
	// the sweep passes a missing marker, resolved at the segment's end.
	segMiss []segMissing

	lr []float64 // likelihood ratio per unphased het, parallel to unph
}

type segMissing struct {
	j          int32
	fwd1, fwd2 []float32
}

// newPhaseBaum prepares the per-sample pass.
func newPhaseBaum(pd *PhaseData, st *CompStates, s int, h1, h2, unph, miss []int32) *phaseBaum {
	n := pd.fd.NHiFreq()
	b := &phaseBaum{
		pd:       pd,
		st:       st,
		h:        newHMM(pd.fd, pd.pRecomb, st.NStates()),
		s:        s,
		nMarkers: n,
		h1:       h1,
		h2:       h2,
		o1:       append([]int32(nil), h1...),
		o2:       append([]int32(nil), h2...),
		unph:     unph,
		miss:     miss,
		alleles:  make([][]int32, n),
		savedB1:  map[int32][]float32{},
		savedB2:  map[int32][]float32{},
		fwd1:     make([]float32, st.NStates()),
		fwd2:     make([]float32, st.NStates()),
		lr:       make([]float64, len(unph)),
	}
	return b
}

// stateAlleles returns (caching) the state alleles at HiFreq marker j.
func (b *phaseBaum) stateAlleles(j int) []int32 {
	if b.alleles[j] == nil {
		buf := make([]int32, b.st.NStates())
		b.st.FillAlleles(j, buf)
		b.alleles[j] = buf
	}
	return b.alleles[j]
}

// isBoundary reports whether j is an unphased het or missing marker.
func (b *phaseBaum) isBoundary(j int32) bool {
	if i := sort.Search(len(b.unph), func(i int) bool { return b.unph[i] >= j }); i < len(b.unph) && b.unph[i] == j {
		return true
	}
	if i := sort.Search(len(b.miss), func(i int) bool { return b.miss[i] >= j }); i < len(b.miss) && b.miss[i] == j {
		return true
	}
	return false
}

// run executes the pass and returns the output orientation plus the
// surviving unphased subset.
func (b *phaseBaum) run(rng *rand.Rand) (o1, o2 []int32, stillUnphased []int32) {
	if b.st.NStates() < 2 {
		// A single state carries no phase information; keep the current
		// orientation.
		return b.o1, b.o2, b.keepUnphased(rng)
	}
	b.backwardPass()
	b.forwardPass()
	return b.o1, b.o2, b.keepUnphased(rng)
}

// backwardPass saves bwd1/bwd2 (excluding the marker's own emission) at
// every boundary marker.
func (b *phaseBaum) backwardPass() {
	S := b.st.NStates()
	bwd1 := make([]float32, S)
	bwd2 := make([]float32, S)
	uniform(bwd1)
	uniform(bwd2)
	for j := b.nMarkers - 1; j >= 0; j-- {
		if b.isBoundary(int32(j)) {
			b.savedB1[int32(j)] = append([]float32(nil), bwd1...)
			b.savedB2[int32(j)] = append([]float32(nil), bwd2...)
		}
		al := b.stateAlleles(j)
		b.bwdEmit(bwd1, al, b.h1[j])
		b.bwdEmit(bwd2, al, b.h2[j])
		if j > 0 {
			b.bwdTransition(bwd1, j)
			b.bwdTransition(bwd2, j)
		}
	}
}

// bwdEmit folds the emission at the current marker and renormalises.
func (b *phaseBaum) bwdEmit(bwd []float32, alleles []int32, obs int32) {
	sum := float32(0)
	for k := range bwd {
		bwd[k] *= b.h.em(alleles[k], obs)
		sum += bwd[k]
	}
	if sum <= 0 {
		uniform(bwd)
		return
	}
	inv := 1 / sum
	for k := range bwd {
		bwd[k] *= inv
	}
}

// bwdTransition applies the transition across the interval ending at j.
func (b *phaseBaum) bwdTransition(bwd []float32, j int) {
	p := b.h.pRecomb[j]
	shift := p / float32(len(bwd))
	scale := 1 - p
	for k := range bwd {
		bwd[k] = scale*bwd[k] + shift
	}
}

// fwdTransition advances a channel across the interval ending at j; the
// result sums to 1.
func (b *phaseBaum) fwdTransition(fwd []float32, sum float32, j int) float32 {
	p := b.h.pRecomb[j]
	scale := (1 - p) / sum
	shift := p / float32(len(fwd))
	for k := range fwd {
		fwd[k] = scale*fwd[k] + shift
	}
	return 1
}

// fwdEmit folds an emission into a channel and returns the new sum.
func (b *phaseBaum) fwdEmit(fwd []float32, alleles []int32, obs int32) float32 {
	sum := float32(0)
	for k := range fwd {
		fwd[k] *= b.h.em(alleles[k], obs)
		sum += fwd[k]
	}
	if sum <= 0 {
		uniform(fwd)
		return 1
	}
	return sum
}

// forwardPass advances both channels, deciding segment orientations at
// unphased heterozygotes and imputing missing alleles at segment ends.
func (b *phaseBaum) forwardPass() {
	uniform(b.fwd1)
	uniform(b.fwd2)
	b.sum1, b.sum2 = 1, 1
	nextUnph := 0
	segStart := 0
	for j := 0; j < b.nMarkers; j++ {
		if j > 0 {
			b.sum1 = b.fwdTransition(b.fwd1, b.sum1, j)
			b.sum2 = b.fwdTransition(b.fwd2, b.sum2, j)
		}
		al := b.stateAlleles(j)
		switch {
		case nextUnph < len(b.unph) && b.unph[nextUnph] == int32(j):
			swap := b.decide(j, al, nextUnph)
			b.resolveSegment(segStart, j, swap)
			segStart = j
			nextUnph++
			b.sum1 = b.fwdEmit(b.fwd1, al, b.h1[j])
			b.sum2 = b.fwdEmit(b.fwd2, al, b.h2[j])
		case b.isMissing(int32(j)):
			b.segMiss = append(b.segMiss, segMissing{
				j:    int32(j),
				fwd1: append([]float32(nil), b.fwd1...),
				fwd2: append([]float32(nil), b.fwd2...),
			})
			b.sum1 = b.fwdEmit(b.fwd1, al, b.h1[j])
			b.sum2 = b.fwdEmit(b.fwd2, al, b.h2[j])
		default:
			b.sum1 = b.fwdEmit(b.fwd1, al, b.h1[j])
			b.sum2 = b.fwdEmit(b.fwd2, al, b.h2[j])
		}
	}
	// Final segment: no decision pending; resolve its missing sites with
	// the current orientation.
	b.resolveSegment(segStart, b.nMarkers, false)
}

func (b *phaseBaum) isMissing(j int32) bool {
	i := sort.Search(len(b.miss), func(i int) bool { return b.miss[i] >= j })
	return i < len(b.miss) && b.miss[i] == j
}

// decide computes the four pairings of the forward channels with the saved
// backward vectors at unphased het j and records the likelihood ratio.
func (b *phaseBaum) decide(j int, al []int32, unphIdx int) bool {
	bwdL := b.savedB1[int32(j)]
	bwdR := b.savedB2[int32(j)]
	x, y := b.h1[j], b.h2[j]
	var p11, p12, p21, p22 float64
	for k := range b.fwd1 {
		e1 := float64(b.h.em(al[k], x))
		e2 := float64(b.h.em(al[k], y))
		f1, f2 := float64(b.fwd1[k]), float64(b.fwd2[k])
		l, r := float64(bwdL[k]), float64(bwdR[k])
		p11 += f1 * e1 * l
		p12 += f1 * e2 * r
		p21 += f2 * e1 * l
		p22 += f2 * e2 * r
	}
	keep := p11 * p22
	cross := p12 * p21
	swap := keep < cross
	hi, lo := keep, cross
	if swap {
		hi, lo = cross, keep
	}
	if lo <= 0 {
		b.lr[unphIdx] = math.Inf(1)
	} else {
		b.lr[unphIdx] = hi / lo
	}
	return swap
}

// resolveSegment finishes the half-open segment [start, end): exchanges
// the output orientation when swap is set, re-aligns the forward channels
// with the backward frame, and imputes the segment's missing alleles from
// the forward snapshots and saved backward vectors (respecting the
// segment's final orientation).
func (b *phaseBaum) resolveSegment(start, end int, swap bool) {
	if swap {
		for j := start; j < end; j++ {
			b.o1[j], b.o2[j] = b.o2[j], b.o1[j]
		}
		b.fwd1, b.fwd2 = b.fwd2, b.fwd1
		b.sum1, b.sum2 = b.sum2, b.sum1
	}
	for _, sm := range b.segMiss {
		f1, f2 := sm.fwd1, sm.fwd2
		if swap {
			f1, f2 = f2, f1
		}
		al := b.stateAlleles(int(sm.j))
		nAlleles := b.pd.fd.HiFreqGT.Markers().Marker(int(sm.j)).NAlleles()
		b.o1[sm.j] = b.imputeAllele(f1, b.savedB1[sm.j], al, nAlleles)
		b.o2[sm.j] = b.imputeAllele(f2, b.savedB2[sm.j], al, nAlleles)
	}
	b.segMiss = b.segMiss[:0]
}

// imputeAllele chooses argmax_a sum_k fwd[k]*em(a, allele_k)*bwd[k].
func (b *phaseBaum) imputeAllele(fwd, bwd []float32, al []int32, nAlleles int) int32 {
	best, bestMass := int32(0), -1.0
	for a := 0; a < nAlleles; a++ {
		mass := 0.0
		for k := range fwd {
			mass += float64(fwd[k]) * float64(b.h.em(al[k], int32(a))) * float64(bwd[k])
		}
		if mass > bestMass {
			best, bestMass = int32(a), mass
		}
	}
	return best
}

// keepUnphased selects the heterozygotes that remain unphased for the next
// iteration: a fraction pLeave = n^(-1/itsRemaining) of them, those with
// the lowest likelihood ratios.  At the final iteration every het is
// committed.
func (b *phaseBaum) keepUnphased(rng *rand.Rand) []int32 {
	n := len(b.unph)
	if n == 0 {
		return nil
	}
	remaining := b.pd.fd.Opts.totalIts() - b.pd.it - 1
	if remaining <= 0 {
		return nil
	}
	pLeave := math.Pow(float64(n), -1.0/float64(remaining))
	if pLeave > 1 {
		pLeave = 1
	}
	nLeave := int(pLeave * float64(n))
	if nLeave >= n {
		nLeave = n
	}
	if nLeave == 0 {
		return nil
	}
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	// Shuffle before the stable ordering so ties are broken randomly but
	// reproducibly.
	rng.Shuffle(n, func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })
	sort.SliceStable(idx, func(i, j int) bool { return b.lr[idx[i]] < b.lr[idx[j]] })
	keep := make([]int32, 0, nLeave)
	for _, i := range idx[:nLeave] {
		keep = append(keep, b.unph[i])
	}
	sort.Slice(keep, func(i, j int) bool { return keep[i] < keep[j] })
	return keep
}
