package phasing

import (
	"math/rand"

	"github.com/grailbio/base/log"
	"github.com/grailbio/base/traverse"
	"github.com/grailbio/phase/vcf"
)

// findLowFreqMatches returns, per step and target haplotype, a haplotype
// from a different sample that shares a low-frequency allele carried in
// the step and a long IBS run beyond it (-1 when none).  Candidate lists
// are seeded from the rare-allele carrier lists of the step's markers and
// repeatedly refined by the coded sequence at the following steps; deeper
// refinements overwrite shallower assignments.
func findLowFreqMatches(fd *FixedData, cs *CodedSteps, snapshot *vcf.HapsGT, it int, baseSeed int64) [][]int32 {
	nSteps := cs.NSteps()
	out := make([][]int32, nSteps)
	if fd.LowFreqSuppressed {
		for k := range out {
			row := make([]int32, fd.NTargHaps)
			for h := range row {
				row[h] = -1
			}
			out[k] = row
		}
		return out
	}
	err := traverse.Each(nSteps, func(k int) error {
		rng := taskRand(baseSeed, saltLowFreq, it*nSteps+k)
		out[k] = matchStep(fd, cs, snapshot, k, rng)
		return nil
	})
	if err != nil {
		log.Panicf("phasing.findLowFreqMatches: %v", err)
	}
	return out
}

func matchStep(fd *FixedData, cs *CodedSteps, snapshot *vcf.HapsGT, k int, rng *rand.Rand) []int32 {
	result := make([]int32, fd.NTargHaps)
	for h := range result {
		result[h] = -1
	}
	lists := seedLists(fd, snapshot, cs.Start(k), cs.End(k))
	for level := k; level < cs.NSteps() && len(lists) > 0; level++ {
		if level > k {
			lists = splitLists(fd, lists, cs, level)
		}
		for _, list := range lists {
			assignMatches(fd, list, result, rng)
		}
	}
	return result
}

// seedLists collects, for each low-frequency allele at a HiFreq marker of
// [start, end), the haplotypes carrying it: target haplotypes from the
// current phase snapshot, reference haplotypes from sparse carrier lists.
func seedLists(fd *FixedData, snapshot *vcf.HapsGT, start, end int) [][]int32 {
	var lists [][]int32
	for j := start; j < end; j++ {
		m := fd.HiFreq[j]
		nAlleles := fd.TargGT.Markers().Marker(m).NAlleles()
		for a := 0; a < nAlleles; a++ {
			carriers := fd.Carriers.List(m, a)
			if carriers == nil || len(carriers) == 0 {
				continue
			}
			var list []int32
			for _, s := range carriers {
				if snapshot.Allele(j, int(2*s)) == a {
					list = append(list, 2*s)
				}
				if snapshot.Allele(j, int(2*s+1)) == a {
					list = append(list, 2*s+1)
				}
			}
			if fd.RefGT != nil {
				rec := fd.RefGT.Rec(m)
				if rec.IsSparse() && a != rec.MajorAllele() {
					for _, h := range rec.Carriers(a) {
						list = append(list, int32(fd.NTargHaps)+h)
					}
				}
			}
			if liveList(fd, list) {
				lists = append(lists, list)
			}
		}
	}
	return lists
}

// splitLists partitions every list by the coded sequence at the given
// step, keeping partitions with at least two haplotypes from at least two
// samples.
func splitLists(fd *FixedData, lists [][]int32, cs *CodedSteps, level int) [][]int32 {
	var next [][]int32
	for _, list := range lists {
		bySeq := map[int32][]int32{}
		var seqs []int32
		for _, h := range list {
			s := cs.Seq(level, int(h))
			if _, ok := bySeq[s]; !ok {
				seqs = append(seqs, s)
			}
			bySeq[s] = append(bySeq[s], h)
		}
		for _, s := range seqs {
			if sub := bySeq[s]; liveList(fd, sub) {
				next = append(next, sub)
			}
		}
	}
	return next
}

// liveList reports whether the list holds >= 2 haplotypes not all from the
// same sample.
func liveList(fd *FixedData, list []int32) bool {
	if len(list) < 2 {
		return false
	}
	first := combinedSample(fd, int(list[0]))
	for _, h := range list[1:] {
		if combinedSample(fd, int(h)) != first {
			return true
		}
	}
	return false
}

// assignMatches picks, for every target haplotype in the list, a random
// other-sample haplotype from the list, rotating past same-sample
// collisions.
func assignMatches(fd *FixedData, list []int32, result []int32, rng *rand.Rand) {
	if !liveList(fd, list) {
		return
	}
	for _, h := range list {
		if int(h) >= fd.NTargHaps {
			continue
		}
		own := combinedSample(fd, int(h))
		r := rng.Intn(len(list))
		for tries := 0; tries < len(list); tries++ {
			c := list[(r+tries)%len(list)]
			if combinedSample(fd, int(c)) != own {
				result[h] = c
				break
			}
		}
	}
}
