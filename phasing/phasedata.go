package phasing

import (
	"sort"

	"github.com/grailbio/base/log"
	"github.com/grailbio/base/traverse"
	"github.com/grailbio/phase/vcf"
)

// PhaseData is the per-iteration working data of stage 1: the
// start-of-iteration snapshot of the estimated haplotypes over the HiFreq
// markers, the iteration's coded steps, the PBWT and low-frequency
// neighbour streams, and the recombination probabilities for the current
// recombination factor.
type PhaseData struct {
	fd           *FixedData
	it           int
	recombFactor float64
	pRecomb      []float32
	snapshot     *vcf.HapsGT
	cs           *CodedSteps
	nb           *pbwtNeighbors
	lf           [][]int32
	maxStates    int
}

// newPhaseData snapshots the estimate and rebuilds the iteration's
// neighbour streams.
func newPhaseData(fd *FixedData, ep *EstPhase, it int, recombFactor float64, baseSeed int64) *PhaseData {
	pd := &PhaseData{
		fd:           fd,
		it:           it,
		recombFactor: recombFactor,
		pRecomb:      fd.PRecomb(recombFactor),
		maxStates:    fd.Opts.PhaseStates,
	}
	if max := fd.NHaps - 2; pd.maxStates > max && max > 0 {
		pd.maxStates = max
	}
	pd.snapshot = hiFreqSnapshot(fd, ep)
	stepRng := taskRand(baseSeed, saltSteps, it)
	pd.cs = newCodedSteps(fd, pd.snapshot, stepRng)
	pd.nb = findNeighbors(fd, pd.cs, it, baseSeed)
	pd.lf = findLowFreqMatches(fd, pd.cs, pd.snapshot, it, baseSeed)
	return pd
}

// hiFreqSnapshot packs the current estimate of every target haplotype over
// the HiFreq markers.
func hiFreqSnapshot(fd *FixedData, ep *EstPhase) *vcf.HapsGT {
	hiMarkers := fd.HiFreqGT.Markers()
	allMarkers := ep.Markers()
	nSamples := ep.NSamples()
	rows := make([][]uint64, 2*nSamples)
	err := traverse.Each(nSamples, func(s int) error {
		sp := ep.Get(s)
		a1 := make([]int, len(fd.HiFreq))
		a2 := make([]int, len(fd.HiFreq))
		for j, m := range fd.HiFreq {
			a1[j] = allMarkers.AlleleAt(sp.Row1, m)
			a2[j] = allMarkers.AlleleAt(sp.Row2, m)
		}
		rows[2*s] = hiMarkers.Pack(a1)
		rows[2*s+1] = hiMarkers.Pack(a2)
		return nil
	})
	if err != nil {
		log.Panicf("phasing.hiFreqSnapshot: %v", err)
	}
	return vcf.NewHapsGT(hiMarkers, fd.TargGT.Samples(), rows)
}

// phaseIteration runs the stage-1 phase update for every sample in
// parallel.  Each sample observes the start-of-iteration snapshot and
// publishes its update atomically; the caller provides the happens-before
// barrier between iterations.
func phaseIteration(pd *PhaseData, ep *EstPhase, baseSeed int64) {
	fd := pd.fd
	nSamples := ep.NSamples()
	err := traverse.Each(nSamples, func(s int) error {
		rng := taskRand(baseSeed, saltPhase, pd.it*nSamples+s)
		sp := ep.Get(s)

		// Map unphased/missing markers into HiFreq coordinates.
		var hiUnph, hiMiss []int32
		for _, m := range sp.Unphased {
			if j := fd.AllToHi[m]; j >= 0 {
				hiUnph = append(hiUnph, j)
			}
		}
		for _, m := range sp.Missing {
			if j := fd.AllToHi[m]; j >= 0 {
				hiMiss = append(hiMiss, j)
			}
		}

		h1 := make([]int32, fd.NHiFreq())
		h2 := make([]int32, fd.NHiFreq())
		for j := range h1 {
			h1[j] = int32(pd.snapshot.Allele(j, 2*s))
			h2[j] = int32(pd.snapshot.Allele(j, 2*s+1))
		}

		st := buildStates(fd, pd.cs, pd.nb, pd.lf, []int{2 * s, 2*s + 1},
			pd.maxStates, pd.snapshot, taskRand(baseSeed, saltStates, pd.it*nSamples+s))
		pb := newPhaseBaum(pd, st, s, h1, h2, hiUnph, hiMiss)
		o1, o2, still := pb.run(rng)

		// Publish: new packed rows with the HiFreq alleles replaced, and
		// the shrunken unphased list (low-frequency entries untouched
		// until stage 2).
		row1 := append([]uint64(nil), sp.Row1...)
		row2 := append([]uint64(nil), sp.Row2...)
		allMarkers := ep.Markers()
		for j, m := range fd.HiFreq {
			allMarkers.SetAlleleAt(row1, m, int(o1[j]))
			allMarkers.SetAlleleAt(row2, m, int(o2[j]))
		}
		unphased := make([]int32, 0, len(sp.Unphased))
		si := 0
		for _, m := range sp.Unphased {
			if j := fd.AllToHi[m]; j >= 0 {
				// Keep only if it survived the pass.
				for si < len(still) && still[si] < j {
					si++
				}
				if si < len(still) && still[si] == j {
					unphased = append(unphased, m)
				}
				continue
			}
			unphased = append(unphased, m)
		}
		sort.Slice(unphased, func(i, j int) bool { return unphased[i] < unphased[j] })
		ep.Put(s, &SamplePhase{Row1: row1, Row2: row2, Unphased: unphased, Missing: sp.Missing})
		return nil
	})
	if err != nil {
		log.Panicf("phasing.phaseIteration: %v", err)
	}
}
