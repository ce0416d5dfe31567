package phasing

import (
	"math/rand"
	"sync/atomic"

	"github.com/grailbio/base/log"
	"github.com/grailbio/base/traverse"
	"github.com/grailbio/phase/vcf"
)

// SamplePhase is one sample's current phase estimate: the two haplotype
// rows packed over all target markers of the window, the remaining
// unphased heterozygote markers, and the missing-genotype markers.  The
// struct is immutable; EstPhase replaces whole instances atomically.
type SamplePhase struct {
	// Row1, Row2 are packed allele rows (vcf.Markers bit layout) over all
	// target markers.
	Row1, Row2 []uint64
	// Unphased lists strictly increasing target-marker indices of
	// heterozygotes whose phase is still undetermined.
	Unphased []int32
	// Missing lists strictly increasing target-marker indices with a
	// missing input genotype.
	Missing []int32
}

// EstPhase is the shared mutable phasing state for one window.  Worker
// threads read the start-of-iteration snapshot of each sample and publish
// replacement SamplePhase values with atomic stores; readers always see a
// consistent snapshot.
type EstPhase struct {
	markers *vcf.Markers
	slots   []atomic.Value // of *SamplePhase
}

// NewEstPhase builds the initial estimate from the window's target
// genotypes: heterozygotes are randomly oriented, missing alleles are
// drawn from the observed allele frequencies.  Seeding is per sample.
func NewEstPhase(gt vcf.GT, baseSeed int64) *EstPhase {
	markers := gt.Markers()
	nSamples := gt.NSamples()
	nMarkers := gt.NMarkers()
	ep := &EstPhase{markers: markers, slots: make([]atomic.Value, nSamples)}

	// Allele frequencies for missing-genotype draws.
	freq := make([][]float64, nMarkers)
	for m := 0; m < nMarkers; m++ {
		counts := make([]float64, markers.Marker(m).NAlleles())
		total := 0.0
		for s := 0; s < nSamples; s++ {
			for _, a := range [2]int{gt.Allele1(m, s), gt.Allele2(m, s)} {
				if a >= 0 {
					counts[a]++
					total++
				}
			}
		}
		if total == 0 {
			counts[0] = 1
			total = 1
		}
		for a := range counts {
			counts[a] /= total
		}
		freq[m] = counts
	}

	phasedOverlap := 0
	if sp, ok := gt.(*vcf.SplicedGT); ok {
		phasedOverlap = sp.NOverlap()
	}

	err := traverse.Each(nSamples, func(s int) error {
		rng := taskRand(baseSeed, saltInit, s)
		a1 := make([]int, nMarkers)
		a2 := make([]int, nMarkers)
		var unphased, missing []int32
		for m := 0; m < nMarkers; m++ {
			v1, v2 := gt.Allele1(m, s), gt.Allele2(m, s)
			switch {
			case v1 < 0 || v2 < 0:
				missing = append(missing, int32(m))
				a1[m] = drawAllele(rng, freq[m])
				a2[m] = drawAllele(rng, freq[m])
			case v1 == v2:
				a1[m], a2[m] = v1, v2
			default:
				phased := m < phasedOverlap
				if !phased {
					if b, ok := gt.(*vcf.BasicGT); ok {
						phased = b.Rec(m).Phased(s)
					} else if sp, ok := gt.(*vcf.SplicedGT); ok {
						phased = sp.Phased(m, s)
					} else {
						phased = gt.IsPhased()
					}
				}
				if phased {
					a1[m], a2[m] = v1, v2
				} else {
					unphased = append(unphased, int32(m))
					if rng.Intn(2) == 0 {
						a1[m], a2[m] = v1, v2
					} else {
						a1[m], a2[m] = v2, v1
					}
				}
			}
		}
		ep.slots[s].Store(&SamplePhase{
			Row1:     markers.Pack(a1),
			Row2:     markers.Pack(a2),
			Unphased: unphased,
			Missing:  missing,
		})
		return nil
	})
	if err != nil {
		log.Panicf("phasing.NewEstPhase: %v", err)
	}
	return ep
}

// drawAllele samples an allele from a frequency vector.
func drawAllele(rng *rand.Rand, freq []float64) int {
	u := rng.Float64()
	acc := 0.0
	for a, f := range freq {
		acc += f
		if u < acc {
			return a
		}
	}
	return len(freq) - 1
}

// NSamples returns the number of samples.
func (ep *EstPhase) NSamples() int { return len(ep.slots) }

// Markers returns the all-target-marker list backing the packed rows.
func (ep *EstPhase) Markers() *vcf.Markers { return ep.markers }

// Get returns the current snapshot for sample s.
func (ep *EstPhase) Get(s int) *SamplePhase {
	return ep.slots[s].Load().(*SamplePhase)
}

// Put publishes a replacement snapshot for sample s.  The unphased list
// may only shrink relative to the snapshot the update was derived from.
func (ep *EstPhase) Put(s int, sp *SamplePhase) { ep.slots[s].Store(sp) }

// Haps materialises the current estimate as a phased GT view.
func (ep *EstPhase) Haps(samples *vcf.Samples) *vcf.HapsGT {
	rows := make([][]uint64, 2*len(ep.slots))
	for s := range ep.slots {
		sp := ep.Get(s)
		rows[2*s] = sp.Row1
		rows[2*s+1] = sp.Row2
	}
	return vcf.NewHapsGT(ep.markers, samples, rows)
}
