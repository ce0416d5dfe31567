package phasing

import (
	"math"
	"math/rand"
	"sort"

	"github.com/grailbio/phase/vcf"
)

// minScaledSteps is the floor on the step count after scale-factor
// adjustment.
const minScaledSteps = 40

// CodedSteps partitions the high-frequency markers into genetic-length
// steps and assigns each haplotype (targets first, then reference) an
// integer sequence id per step describing its allele pattern across the
// step's markers.  Sequence id 0 is reserved for patterns observed only in
// reference haplotypes, which are pooled.
type CodedSteps struct {
	starts   []int32   // HiFreq start marker per step, ascending
	seqs     [][]int32 // [step][hap] sequence id
	nSeqs    []int32   // [step] number of distinct ids, pooled id 0 included
	nHaps    int
	nMarkers int
}

// newCodedSteps builds the step partition and codes.  The first step
// boundary is offset by a uniform random fraction of the step length; a
// scale factor != 1 adjusts the number of steps by inserting midpoint
// starts (factor > 1) or sampling a subset of starts (factor < 1), with a
// floor of minScaledSteps.
func newCodedSteps(fd *FixedData, snapshot *vcf.HapsGT, rng *rand.Rand) *CodedSteps {
	nMarkers := fd.NHiFreq()
	stepCM := fd.Opts.PhaseStep
	offset := rng.Float64() * stepCM

	var starts []int32
	next := fd.HiGenPos[0] + offset
	for j := 0; j < nMarkers; j++ {
		if len(starts) == 0 || fd.HiGenPos[j] >= next {
			starts = append(starts, int32(j))
			for next <= fd.HiGenPos[j] {
				next += stepCM
			}
		}
	}
	starts = rescaleSteps(starts, nMarkers, fd.Opts.scaleFactor(), rng)

	cs := &CodedSteps{
		starts:   starts,
		seqs:     make([][]int32, len(starts)),
		nSeqs:    make([]int32, len(starts)),
		nHaps:    fd.NHaps,
		nMarkers: nMarkers,
	}
	for k := range starts {
		cs.codeStep(fd, snapshot, k)
	}
	return cs
}

// rescaleSteps adjusts the step-start list to ceil(n*factor) entries
// (minimum minScaledSteps, maximum one start per marker).
func rescaleSteps(starts []int32, nMarkers int, factor float64, rng *rand.Rand) []int32 {
	if factor == 1.0 {
		return starts
	}
	want := int(math.Ceil(float64(len(starts)) * factor))
	if want < minScaledSteps {
		want = minScaledSteps
	}
	if want > nMarkers {
		want = nMarkers
	}
	if want <= 0 || want == len(starts) {
		return starts
	}
	if want < len(starts) {
		// Sample a subset of starts, keeping the first.
		perm := rng.Perm(len(starts) - 1)
		keep := map[int32]bool{starts[0]: true}
		for _, i := range perm {
			if len(keep) == want {
				break
			}
			keep[starts[i+1]] = true
		}
		out := make([]int32, 0, want)
		for _, st := range starts {
			if keep[st] {
				out = append(out, st)
			}
		}
		return out
	}
	// Insert midpoint starts of randomly chosen existing intervals until
	// the target count is reached.
	set := map[int32]bool{}
	for _, st := range starts {
		set[st] = true
	}
	for guard := 0; len(set) < want && guard < 4*want; guard++ {
		i := rng.Intn(len(starts))
		lo := int(starts[i])
		hi := nMarkers
		if i+1 < len(starts) {
			hi = int(starts[i+1])
		}
		if hi-lo < 2 {
			continue
		}
		set[int32((lo+hi)/2)] = true
	}
	out := make([]int32, 0, len(set))
	for st := range set {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// codeStep assigns sequence ids for step k.  Target haplotypes are coded
// first, creating ids from 1 upward; reference haplotypes then reuse the
// target ids, and any reference pattern never observed in a target
// haplotype collapses to the pooled id 0.
func (cs *CodedSteps) codeStep(fd *FixedData, snapshot *vcf.HapsGT, k int) {
	start, end := cs.Start(k), cs.End(k)
	seq := make([]int32, cs.nHaps)
	for h := range seq {
		seq[h] = 1
	}
	nextID := int32(1)
	table := map[int64]int32{}
	for j := start; j < end; j++ {
		for h := 0; h < fd.NTargHaps; h++ {
			key := int64(seq[h])<<32 | int64(snapshot.Allele(j, h))
			id, ok := table[key]
			if !ok {
				id = nextID
				nextID++
				table[key] = id
			}
			seq[h] = id
		}
		if fd.HiFreqRef != nil {
			for h := fd.NTargHaps; h < cs.nHaps; h++ {
				if seq[h] == 0 {
					continue
				}
				key := int64(seq[h])<<32 | int64(fd.HiFreqRef.Allele(j, h-fd.NTargHaps))
				seq[h] = table[key] // missing keys yield the pooled id 0
			}
		}
	}
	cs.seqs[k] = seq
	cs.nSeqs[k] = nextID
}

// NSteps returns the number of steps.
func (cs *CodedSteps) NSteps() int { return len(cs.starts) }

// Start returns the first HiFreq marker of step k.
func (cs *CodedSteps) Start(k int) int { return int(cs.starts[k]) }

// End returns one past the last HiFreq marker of step k.
func (cs *CodedSteps) End(k int) int {
	if k+1 < len(cs.starts) {
		return int(cs.starts[k+1])
	}
	return cs.nMarkers
}

// Seq returns the sequence id of haplotype h at step k.
func (cs *CodedSteps) Seq(k, h int) int32 { return cs.seqs[k][h] }

// NSeqs returns the number of distinct sequence ids at step k.
func (cs *CodedSteps) NSeqs(k int) int { return int(cs.nSeqs[k]) }

// NHaps returns the number of coded haplotypes.
func (cs *CodedSteps) NHaps() int { return cs.nHaps }

// MidMarker returns the midpoint marker of step k.
func (cs *CodedSteps) MidMarker(k int) int { return (cs.Start(k) + cs.End(k)) / 2 }
