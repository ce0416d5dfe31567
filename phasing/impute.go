package phasing

import (
	"sort"
	"sync"

	"github.com/grailbio/base/log"
	"github.com/grailbio/base/traverse"
	"github.com/grailbio/phase/vcf"
)

// MarkerPost holds per-haplotype allele posteriors of one stage-2 marker,
// used for DS/AP/GP output.
type MarkerPost struct {
	AP1, AP2 [][]float32 // [sample][allele]
}

// partialAllele is a deferred stage-2 choice: some posterior mass landed
// on target haplotypes whose own allele at the marker was still
// undetermined during the first pass.  It is resolved against the final
// phased panel in the second pass.
type partialAllele struct {
	sample  int
	marker  int    // target-marker index
	hap     int    // 0 or 1 within the sample
	buckets []float64
	pending []pendingMass
	// restrict lists the admissible alleles (nil = all).
	restrict []int
}

type pendingMass struct {
	hap  int // target haplotype index whose allele was undetermined
	mass float64
}

// hapImputer collects deferred choices from concurrent sample workers;
// entries are rare, so a single mutex-guarded list suffices.  The list is
// consumed serially after the sample barrier.
type hapImputer struct {
	mu       sync.Mutex
	partials []*partialAllele
}

func (hi *hapImputer) add(p *partialAllele) {
	hi.mu.Lock()
	hi.partials = append(hi.partials, p)
	hi.mu.Unlock()
}

// stage2Result carries the optional posterior output of stage 2.
type stage2Result struct {
	posts map[int]*MarkerPost // keyed by target-marker index
}

// runStage2 completes the haplotypes at low-frequency markers after
// stage-1 phasing: for each target haplotype, state posteriors at the
// flanking high-frequency markers are interpolated and distributed over
// the alleles carried by the referenced real haplotypes; undetermined
// target-haplotype contributions are resolved in a second pass against the
// final panel.  wantPost requests per-marker posterior retention for
// DS/AP/GP output.
func runStage2(fd *FixedData, ep *EstPhase, baseSeed int64, recombFactor float64, wantPost bool) *stage2Result {
	opts := fd.Opts
	it := opts.totalIts() // distinct seed domain from the stage-1 iterations
	snapshot := hiFreqSnapshot(fd, ep)
	stepRng := taskRand(baseSeed, saltSteps, it)
	cs := newCodedSteps(fd, snapshot, stepRng)
	pd := &PhaseData{
		fd:           fd,
		it:           it,
		recombFactor: recombFactor,
		pRecomb:      fd.PRecomb(recombFactor),
		snapshot:     snapshot,
		cs:           cs,
		maxStates:    opts.PhaseStates,
	}
	if max := fd.NHaps - 2; pd.maxStates > max && max > 0 {
		pd.maxStates = max
	}
	pd.nb = findNeighbors(fd, cs, it, baseSeed)
	pd.lf = findLowFreqMatches(fd, cs, snapshot, it, baseSeed)

	// Low-frequency markers and the anchor HiFreq markers that flank them.
	var lowMarkers []int
	anchorSet := map[int]bool{}
	nTargMarkers := fd.TargGT.NMarkers()
	for m := 0; m < nTargMarkers; m++ {
		if fd.AllToHi[m] >= 0 {
			continue
		}
		lowMarkers = append(lowMarkers, m)
		a, bb := fd.anchors(m)
		anchorSet[a] = true
		anchorSet[bb] = true
	}
	if len(lowMarkers) == 0 {
		return &stage2Result{}
	}
	anchors := make([]int, 0, len(anchorSet))
	for j := range anchorSet {
		anchors = append(anchors, j)
	}
	sort.Ints(anchors)

	res := &stage2Result{}
	if wantPost {
		res.posts = map[int]*MarkerPost{}
		for _, m := range lowMarkers {
			mp := &MarkerPost{
				AP1: make([][]float32, ep.NSamples()),
				AP2: make([][]float32, ep.NSamples()),
			}
			res.posts[m] = mp
		}
	}

	imp := &hapImputer{}
	nSamples := ep.NSamples()
	err := traverse.Each(nSamples, func(s int) error {
		stage2Sample(pd, ep, s, lowMarkers, anchors, imp, res, baseSeed)
		return nil
	})
	if err != nil {
		log.Panicf("phasing.runStage2: %v", err)
	}

	resolvePartials(fd, ep, imp, res)

	// Every genotype is now phased.
	for s := 0; s < nSamples; s++ {
		sp := ep.Get(s)
		if len(sp.Unphased) > 0 {
			ep.Put(s, &SamplePhase{Row1: sp.Row1, Row2: sp.Row2, Missing: sp.Missing})
		}
	}
	return res
}

// anchors returns the flanking HiFreq indices (a <= m <= b) of a target
// marker, clamped at the window edges.
func (fd *FixedData) anchors(m int) (int, int) {
	a := int(fd.PrevHiFreq[m])
	if a < 0 {
		return 0, 0
	}
	b := a + 1
	if b >= len(fd.HiFreq) {
		b = a
	}
	return a, b
}

// stage2Sample imputes the low-frequency alleles of one sample.
func stage2Sample(pd *PhaseData, ep *EstPhase, s int, lowMarkers, anchors []int,
	imp *hapImputer, res *stage2Result, baseSeed int64) {
	fd := pd.fd
	sp := ep.Get(s)
	allMarkers := ep.Markers()

	post := [2]map[int][]float32{}
	var states [2]*CompStates
	for hap := 0; hap < 2; hap++ {
		h := 2*s + hap
		rng := taskRand(baseSeed, saltImpute, 2*(pd.it*ep.NSamples()+s)+hap)
		st := buildStates(fd, pd.cs, pd.nb, pd.lf, []int{h}, pd.maxStates, pd.snapshot, rng)
		states[hap] = st
		post[hap] = anchorPosteriors(pd, st, h, anchors)
	}

	row1 := append([]uint64(nil), sp.Row1...)
	row2 := append([]uint64(nil), sp.Row2...)
	for _, m := range lowMarkers {
		g1, g2 := fd.TargGT.Allele1(m, s), fd.TargGT.Allele2(m, s)
		nAlleles := fd.TargGT.Markers().Marker(m).NAlleles()
		switch {
		case g1 >= 0 && g1 == g2:
			allMarkers.SetAlleleAt(row1, m, g1)
			allMarkers.SetAlleleAt(row2, m, g1)
			if res.posts != nil {
				res.posts[m].AP1[s] = hardPost(nAlleles, g1)
				res.posts[m].AP2[s] = hardPost(nAlleles, g1)
			}
		case g1 >= 0 && g2 >= 0 && isPhasedAt(fd, m, s):
			allMarkers.SetAlleleAt(row1, m, g1)
			allMarkers.SetAlleleAt(row2, m, g2)
			if res.posts != nil {
				res.posts[m].AP1[s] = hardPost(nAlleles, g1)
				res.posts[m].AP2[s] = hardPost(nAlleles, g2)
			}
		default:
			imputePair(pd, ep, s, m, g1, g2, states, post, row1, row2, imp, res)
		}
	}
	ep.Put(s, &SamplePhase{Row1: row1, Row2: row2, Unphased: sp.Unphased, Missing: sp.Missing})
}

func hardPost(nAlleles, a int) []float32 {
	p := make([]float32, nAlleles)
	p[a] = 1
	return p
}

// isPhasedAt reports whether the input genotype of sample s at marker m
// carried a phased separator (or lies in the phased overlap).
func isPhasedAt(fd *FixedData, m, s int) bool {
	switch gt := fd.TargGT.(type) {
	case *vcf.BasicGT:
		return gt.Rec(m).Phased(s)
	case *vcf.SplicedGT:
		return gt.Phased(m, s)
	default:
		return fd.TargGT.IsPhased()
	}
}

// imputePair fills both haplotypes of sample s at target marker m from the
// interpolated state posteriors.
func imputePair(pd *PhaseData, ep *EstPhase, s, m, g1, g2 int,
	states [2]*CompStates, post [2]map[int][]float32,
	row1, row2 []uint64, imp *hapImputer, res *stage2Result) {
	fd := pd.fd
	allMarkers := ep.Markers()
	a, bb := fd.anchors(m)
	w := float64(fd.PrevWt[m])
	nAlleles := fd.TargGT.Markers().Marker(m).NAlleles()

	var restrict []int
	if g1 >= 0 && g2 >= 0 && g1 != g2 {
		restrict = []int{g1, g2}
	}

	type hapChoice struct {
		buckets []float64
		unknown float64
		pending []pendingMass
	}
	var choices [2]hapChoice
	for hap := 0; hap < 2; hap++ {
		st := states[hap]
		pa, pb := post[hap][a], post[hap][bb]
		buckets := make([]float64, nAlleles)
		ch := hapChoice{buckets: buckets}
		for k := 0; k < st.NStates(); k++ {
			p := w*float64(pa[k]) + (1-w)*float64(pb[k])
			if p <= 0 {
				continue
			}
			refHap := st.Hap(a, k)
			if al, known := hapAlleleAt(fd, ep, refHap, m); known {
				if al < nAlleles {
					buckets[al] += p
				}
			} else {
				ch.unknown += p
				ch.pending = append(ch.pending, pendingMass{hap: refHap, mass: p})
			}
		}
		choices[hap] = ch
	}

	al1 := argmaxBucket(choices[0].buckets, restrict)
	al2 := argmaxBucket(choices[1].buckets, restrict)
	if restrict != nil {
		// Heterozygote: the two haplotypes take complementary alleles;
		// orient by the joint bucket product.
		keep := choices[0].buckets[g1] * choices[1].buckets[g2]
		cross := choices[0].buckets[g2] * choices[1].buckets[g1]
		if keep >= cross {
			al1, al2 = g1, g2
		} else {
			al1, al2 = g2, g1
		}
	}
	allMarkers.SetAlleleAt(row1, m, al1)
	allMarkers.SetAlleleAt(row2, m, al2)
	if res.posts != nil {
		res.posts[m].AP1[s] = normBuckets(choices[0].buckets, choices[0].unknown)
		res.posts[m].AP2[s] = normBuckets(choices[1].buckets, choices[1].unknown)
	}
	for hap := 0; hap < 2; hap++ {
		ch := choices[hap]
		chosen := al1
		if hap == 1 {
			chosen = al2
		}
		if ch.unknown > ch.buckets[chosen] && len(ch.pending) > 0 {
			imp.add(&partialAllele{
				sample:   s,
				marker:   m,
				hap:      hap,
				buckets:  append([]float64(nil), ch.buckets...),
				pending:  ch.pending,
				restrict: restrict,
			})
		}
	}
}

// hapAlleleAt returns the allele of a combined haplotype index at target
// marker m, and whether it is determined: reference haplotypes always are;
// target haplotypes only when the owning sample's input genotype pins the
// allele (homozygote or phased input).
func hapAlleleAt(fd *FixedData, ep *EstPhase, refHap, m int) (int, bool) {
	if refHap >= fd.NTargHaps {
		return fd.RefGT.Allele(m, refHap-fd.NTargHaps), true
	}
	s := refHap / 2
	g1, g2 := fd.TargGT.Allele1(m, s), fd.TargGT.Allele2(m, s)
	if g1 >= 0 && g1 == g2 {
		return g1, true
	}
	if g1 >= 0 && g2 >= 0 && isPhasedAt(fd, m, s) {
		if refHap&1 == 0 {
			return g1, true
		}
		return g2, true
	}
	return -1, false
}

func argmaxBucket(buckets []float64, restrict []int) int {
	best, bestMass := 0, -1.0
	if restrict != nil {
		for _, a := range restrict {
			if buckets[a] > bestMass {
				best, bestMass = a, buckets[a]
			}
		}
		return best
	}
	for a, mass := range buckets {
		if mass > bestMass {
			best, bestMass = a, mass
		}
	}
	return best
}

func normBuckets(buckets []float64, unknown float64) []float32 {
	total := unknown
	for _, v := range buckets {
		total += v
	}
	out := make([]float32, len(buckets))
	if total <= 0 {
		out[0] = 1
		return out
	}
	for a, v := range buckets {
		out[a] = float32(v / total)
	}
	return out
}

// resolvePartials is the second pass: deferred posterior mass is remapped
// through the final phased panel and each deferred allele re-chosen.
func resolvePartials(fd *FixedData, ep *EstPhase, imp *hapImputer, res *stage2Result) {
	if len(imp.partials) == 0 {
		return
	}
	allMarkers := ep.Markers()
	// Group by sample so each sample's rows are rewritten once.
	bySample := map[int][]*partialAllele{}
	for _, p := range imp.partials {
		bySample[p.sample] = append(bySample[p.sample], p)
	}
	samples := make([]int, 0, len(bySample))
	for s := range bySample {
		samples = append(samples, s)
		// Arrival order is scheduling-dependent; a stable order keeps the
		// resolution reproducible.
		list := bySample[s]
		sort.Slice(list, func(i, j int) bool {
			if list[i].marker != list[j].marker {
				return list[i].marker < list[j].marker
			}
			return list[i].hap < list[j].hap
		})
	}
	sort.Ints(samples)
	for _, s := range samples {
		sp := ep.Get(s)
		row1 := append([]uint64(nil), sp.Row1...)
		row2 := append([]uint64(nil), sp.Row2...)
		for _, p := range bySample[s] {
			buckets := append([]float64(nil), p.buckets...)
			for _, pm := range p.pending {
				osp := ep.Get(pm.hap / 2)
				row := osp.Row1
				if pm.hap&1 == 1 {
					row = osp.Row2
				}
				al := allMarkers.AlleleAt(row, p.marker)
				if al < len(buckets) {
					buckets[al] += pm.mass
				}
			}
			chosen := argmaxBucket(buckets, p.restrict)
			row := row1
			if p.hap == 1 {
				row = row2
			}
			allMarkers.SetAlleleAt(row, p.marker, chosen)
			if p.restrict != nil {
				// Keep the unordered genotype: the other haplotype takes
				// the complementary allele.
				other := p.restrict[0]
				if chosen == other {
					other = p.restrict[1]
				}
				otherRow := row2
				if p.hap == 1 {
					otherRow = row1
				}
				allMarkers.SetAlleleAt(otherRow, p.marker, other)
			}
			if res.posts != nil {
				ap := res.posts[p.marker].AP1
				if p.hap == 1 {
					ap = res.posts[p.marker].AP2
				}
				ap[s] = normBuckets(buckets, 0)
			}
		}
		ep.Put(s, &SamplePhase{Row1: row1, Row2: row2, Unphased: sp.Unphased, Missing: sp.Missing})
	}
}

// anchorPosteriors computes the state posterior of haplotype h at each
// anchor HiFreq marker via forward/backward with linear rescaling.
func anchorPosteriors(pd *PhaseData, st *CompStates, h int, anchors []int) map[int][]float32 {
	fd := pd.fd
	S := st.NStates()
	M := fd.NHiFreq()
	hm := newHMM(fd, pd.pRecomb, S)

	obs := make([]int32, M)
	for j := 0; j < M; j++ {
		obs[j] = int32(pd.snapshot.Allele(j, h))
	}
	al := make([]int32, S)

	// Backward pass storing bwd (excluding own emission) at anchors.
	bwdAt := map[int][]float32{}
	bwd := make([]float32, S)
	uniform(bwd)
	ai := len(anchors) - 1
	for j := M - 1; j >= 0; j-- {
		if ai >= 0 && anchors[ai] == j {
			bwdAt[j] = append([]float32(nil), bwd...)
			ai--
		}
		if j > 0 {
			st.FillAlleles(j, al)
			hm.bwdUpdate(bwd, j, al, obs[j])
		}
	}

	// Forward pass combining into posteriors at anchors.
	post := map[int][]float32{}
	fwd := make([]float32, S)
	uniform(fwd)
	sum := float32(1)
	ai = 0
	for j := 0; j < M && ai < len(anchors); j++ {
		st.FillAlleles(j, al)
		if j == 0 {
			sum = hm.fwdEmitInto(fwd, al, obs[j])
		} else {
			sum = hm.fwdUpdate(fwd, sum, j, al, obs[j])
		}
		if anchors[ai] == j {
			b := bwdAt[j]
			p := make([]float32, S)
			total := float32(0)
			for k := 0; k < S; k++ {
				p[k] = fwd[k] * b[k]
				total += p[k]
			}
			if total > 0 {
				inv := 1 / total
				for k := range p {
					p[k] *= inv
				}
			} else {
				uniform(p)
			}
			post[j] = p
			ai++
		}
	}
	return post
}
