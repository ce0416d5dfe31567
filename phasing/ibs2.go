package phasing

import (
	"sort"

	"github.com/grailbio/phase/vcf"
)

const (
	// IBS2 partition windows aim for half the minimum segment length but
	// are clamped to this marker-count range.
	minStepMarkers = 100
	maxStepMarkers = 1500

	// Segments for one pair separated by at most this genetic gap are
	// merged.
	ibs2MergeCM = 4.0
)

// SampleSeg records that a target sample and another sample share both
// alleles at every marker of an inclusive high-frequency marker range.
type SampleSeg struct {
	Sample     int32 // other-sample index in the combined (target, ref) order
	Start, End int32 // inclusive HiFreq marker range, Start <= End
}

// Ibs2 stores, for each target sample, its IBS2 segments against every
// other sample (target or reference), sorted by (Sample, Start).  Lookup
// is a linear scan: per-sample lists are short in practice.
type Ibs2 struct {
	segs         [][]SampleSeg
	nTargSamples int
}

// unordered genotype of combined sample cs at HiFreq marker m.  Alleles
// are returned low,high; missing alleles are -1.
type genoFn func(m, cs int) (int, int)

// NewIbs2 discovers IBS2 segments of at least minCM centimorgans on the
// high-frequency marker view.  ref may be nil.
func NewIbs2(targ vcf.GT, ref vcf.GT, genPos []float64, minCM float64) *Ibs2 {
	nTarg := targ.NSamples()
	nAll := nTarg
	if ref != nil {
		nAll += ref.NSamples()
	}
	geno := func(m, cs int) (int, int) {
		var a1, a2 int
		if cs < nTarg {
			a1, a2 = targ.Allele1(m, cs), targ.Allele2(m, cs)
		} else {
			a1, a2 = ref.Allele1(m, cs-nTarg), ref.Allele2(m, cs-nTarg)
		}
		if a2 < a1 {
			a1, a2 = a2, a1
		}
		return a1, a2
	}

	ib := &Ibs2{segs: make([][]SampleSeg, nTarg), nTargSamples: nTarg}
	nMarkers := targ.NMarkers()

	// Step 1: partition markers into windows of >= minCM/2 cM, clamped.
	type span struct{ start, end int } // half-open marker range
	var windows []span
	for start := 0; start < nMarkers; {
		end := start + 1
		for end < nMarkers &&
			(end-start < minStepMarkers || genPos[end]-genPos[start] < minCM/2) &&
			end-start < maxStepMarkers {
			end++
		}
		windows = append(windows, span{start, end})
		start = end
	}

	// Steps 2-3: per window, recursively partition samples by unordered
	// genotype; convert surviving classes to segments.
	for _, win := range windows {
		classes := partitionWindow(geno, nAll, win.start, win.end)
		for _, cl := range classes {
			for _, cs := range cl {
				if int(cs) >= nTarg {
					continue
				}
				for _, other := range cl {
					if other != cs {
						ib.segs[cs] = append(ib.segs[cs],
							SampleSeg{Sample: other, Start: int32(win.start), End: int32(win.end - 1)})
					}
				}
			}
		}
	}

	// Steps 4-6: merge, extend, re-merge, filter by genetic length.
	for s := range ib.segs {
		segs := ib.segs[s]
		sortSegs(segs)
		segs = dedupSegs(segs)
		segs = mergeSegs(segs, genPos, ibs2MergeCM)
		extendSegs(segs, geno, s, nMarkers)
		segs = mergeSegs(segs, genPos, ibs2MergeCM)
		out := segs[:0]
		for _, seg := range segs {
			if genPos[seg.End]-genPos[seg.Start] >= minCM {
				out = append(out, seg)
			}
		}
		ib.segs[s] = out
	}
	return ib
}

// partitionWindow recursively splits the sample set by the unordered
// genotype at each marker of [start, end).  Samples with a missing allele
// propagate into every sub-partition.  Classes that are homozygous at
// every marker of the window are discarded.
func partitionWindow(geno genoFn, nSamples, start, end int) [][]int32 {
	type class struct {
		members []int32
		hasHet  bool
	}
	cur := []class{{members: make([]int32, nSamples)}}
	for i := range cur[0].members {
		cur[0].members[i] = int32(i)
	}
	for m := start; m < end; m++ {
		var next []class
		for _, cl := range cur {
			var wild []int32
			split := map[[2]int][]int32{}
			for _, cs := range cl.members {
				a1, a2 := geno(m, int(cs))
				if a1 < 0 || a2 < 0 {
					wild = append(wild, cs)
					continue
				}
				key := [2]int{a1, a2}
				split[key] = append(split[key], cs)
			}
			if len(split) == 0 {
				// Every member is missing here; the class passes through.
				if len(wild) >= 2 {
					next = append(next, class{members: wild, hasHet: cl.hasHet})
				}
				continue
			}
			for key, members := range split {
				members = append(members, wild...)
				if len(members) < 2 {
					continue
				}
				next = append(next, class{
					members: members,
					hasHet:  cl.hasHet || key[0] != key[1],
				})
			}
		}
		cur = next
		if len(cur) == 0 {
			return nil
		}
	}
	var out [][]int32
	for _, cl := range cur {
		if cl.hasHet && len(cl.members) >= 2 {
			out = append(out, cl.members)
		}
	}
	return out
}

func sortSegs(segs []SampleSeg) {
	sort.Slice(segs, func(i, j int) bool {
		if segs[i].Sample != segs[j].Sample {
			return segs[i].Sample < segs[j].Sample
		}
		return segs[i].Start < segs[j].Start
	})
}

// dedupSegs drops duplicate segments produced by missing-allele samples
// landing in several partitions of the same window.
func dedupSegs(segs []SampleSeg) []SampleSeg {
	out := segs[:0]
	for _, seg := range segs {
		if n := len(out); n > 0 && out[n-1] == seg {
			continue
		}
		out = append(out, seg)
	}
	return out
}

// mergeSegs merges consecutive same-pair segments whose genetic gap is at
// most gapCM.  segs must be sorted.
func mergeSegs(segs []SampleSeg, genPos []float64, gapCM float64) []SampleSeg {
	out := segs[:0]
	for _, seg := range segs {
		if n := len(out); n > 0 && out[n-1].Sample == seg.Sample &&
			seg.Start > out[n-1].End &&
			genPos[seg.Start]-genPos[out[n-1].End] <= gapCM {
			out[n-1].End = seg.End
			continue
		}
		out = append(out, seg)
	}
	return out
}

// extendSegs widens each segment marker-by-marker while the pair stays
// unordered-IBS2 (missing alleles match anything) and the extension does
// not cross the neighbouring segment for the same pair.
func extendSegs(segs []SampleSeg, geno genoFn, s, nMarkers int) {
	match := func(m int, other int32) bool {
		a1, a2 := geno(m, s)
		b1, b2 := geno(m, int(other))
		if a1 < 0 || a2 < 0 || b1 < 0 || b2 < 0 {
			return true
		}
		return a1 == b1 && a2 == b2
	}
	for i := range segs {
		lo := 0
		if i > 0 && segs[i-1].Sample == segs[i].Sample {
			lo = int(segs[i-1].End) + 1
		}
		hi := nMarkers - 1
		if i+1 < len(segs) && segs[i+1].Sample == segs[i].Sample {
			hi = int(segs[i+1].Start) - 1
		}
		for segs[i].Start > int32(lo) && match(int(segs[i].Start)-1, segs[i].Sample) {
			segs[i].Start--
		}
		for segs[i].End < int32(hi) && match(int(segs[i].End)+1, segs[i].Sample) {
			segs[i].End++
		}
	}
}

// AreIbs2 reports whether target sample s and combined sample other are
// IBS2 at HiFreq marker m.
func (ib *Ibs2) AreIbs2(s int, other int, m int) bool {
	for _, seg := range ib.segs[s] {
		if int(seg.Sample) == other && seg.Start <= int32(m) && int32(m) <= seg.End {
			return true
		}
	}
	return false
}

// Segs returns sample s's segment list (for tests).
func (ib *Ibs2) Segs(s int) []SampleSeg { return ib.segs[s] }
