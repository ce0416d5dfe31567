package phasing

import (
	"math"

	"github.com/grailbio/base/log"
	"github.com/grailbio/phase/gmap"
	"github.com/grailbio/phase/vcf"
)

// minIbs2CM is the minimum genetic length of a reported IBS2 segment.
const minIbs2CM = 2.0

// FixedData is the per-window immutable precompute: target genotypes
// composed with the previous window's phased overlap, carrier
// classification, the high-frequency marker subset with its restricted
// views, IBS2 segments, and the interpolation weights tying low-frequency
// markers to their flanking high-frequency markers.
type FixedData struct {
	Opts  *Opts
	Chrom vcf.ChromID

	// TargGT covers all target markers of the window; when the window has
	// a phased leading overlap it is a vcf.SplicedGT.
	TargGT vcf.GT
	// RefGT is the reference panel restricted to the target markers, or
	// nil.
	RefGT *vcf.RefGT

	Carriers *Carriers
	// LowFreqSuppressed is set when the high-frequency subset fallback
	// forced every marker to be treated as high-frequency.
	LowFreqSuppressed bool

	// HiFreq holds the target-marker indices of the high-frequency subset;
	// AllToHi maps target-marker index to subset index (-1 when absent).
	HiFreq  []int
	AllToHi []int32

	// HiFreqGT and HiFreqRef are restrictions to the HiFreq subset.
	HiFreqGT  vcf.GT
	HiFreqRef vcf.GT // nil without a panel

	// Haplotype counts over the HiFreq view: targets first, then
	// reference.
	NTargHaps int
	NHaps     int

	Ibs2 *Ibs2

	// GenPos is the genetic position of every target marker; HiGenPos of
	// every HiFreq marker.
	GenPos   []float64
	HiGenPos []float64
	// HiGenDist[j] is the genetic distance between HiFreq markers j-1 and
	// j (0 at j = 0).
	HiGenDist []float64

	// PrevHiFreq[m] is the HiFreq index of the last high-frequency marker
	// at a position <= the position of target marker m (-1 before the
	// first); PrevWt[m] is the linear interpolation weight toward it.
	PrevHiFreq []int32
	PrevWt     []float32

	// PErr is the allele-mismatch emission probability.
	PErr float32
}

// NewFixedData computes the window precompute.  targGT must already be
// composed with any phased overlap from the previous window; refGT may be
// nil.
func NewFixedData(opts *Opts, targGT vcf.GT, refGT *vcf.RefGT, gm *gmap.Map) *FixedData {
	nTarg := targGT.NMarkers()
	fd := &FixedData{
		Opts:      opts,
		Chrom:     targGT.Markers().Marker(0).Chrom(),
		TargGT:    targGT,
		RefGT:     refGT,
		NTargHaps: targGT.NHaps(),
	}

	fd.Carriers = NewCarriers(targGT, opts.Rare)

	for m := 0; m < nTarg; m++ {
		if fd.Carriers.IsHiFreqMarker(m) {
			fd.HiFreq = append(fd.HiFreq, m)
		}
	}
	// Fallback: with too few or almost-all high-frequency markers the
	// two-stage split is not worthwhile; treat every marker as
	// high-frequency and ignore carrier lists.
	if len(fd.HiFreq) < 2 || float64(len(fd.HiFreq)) > 0.9*float64(nTarg) {
		fd.HiFreq = make([]int, nTarg)
		for m := range fd.HiFreq {
			fd.HiFreq[m] = m
		}
		fd.LowFreqSuppressed = true
	}
	fd.AllToHi = make([]int32, nTarg)
	for m := range fd.AllToHi {
		fd.AllToHi[m] = -1
	}
	for j, m := range fd.HiFreq {
		fd.AllToHi[m] = int32(j)
	}

	if len(fd.HiFreq) == nTarg {
		fd.HiFreqGT = targGT
		if refGT != nil {
			fd.HiFreqRef = refGT
		}
	} else {
		fd.HiFreqGT = vcf.RestrictGT(targGT, fd.HiFreq)
		if refGT != nil {
			fd.HiFreqRef = vcf.RestrictGT(refGT, fd.HiFreq)
		}
	}
	fd.NHaps = fd.NTargHaps
	if refGT != nil {
		fd.NHaps += refGT.NHaps()
	}

	fd.GenPos = make([]float64, nTarg)
	for m := 0; m < nTarg; m++ {
		fd.GenPos[m] = gm.GenPos(fd.Chrom, targGT.Markers().Marker(m).Pos())
	}
	fd.HiGenPos = make([]float64, len(fd.HiFreq))
	fd.HiGenDist = make([]float64, len(fd.HiFreq))
	for j, m := range fd.HiFreq {
		fd.HiGenPos[j] = fd.GenPos[m]
		if j > 0 {
			fd.HiGenDist[j] = fd.HiGenPos[j] - fd.HiGenPos[j-1]
		}
	}

	fd.Ibs2 = NewIbs2(fd.HiFreqGT, fd.HiFreqRef, fd.HiGenPos, minIbs2CM)

	fd.computeInterpWeights()

	fd.PErr = opts.liStephensPErr(fd.NHaps)
	if len(fd.HiFreq) == 0 {
		log.Panicf("phasing.NewFixedData: window with no markers")
	}
	return fd
}

// computeInterpWeights fills PrevHiFreq and PrevWt: the weight is 1.0 at a
// high-frequency marker and decays linearly in cM to 0.0 at the next
// high-frequency marker.
func (fd *FixedData) computeInterpWeights() {
	nTarg := len(fd.GenPos)
	fd.PrevHiFreq = make([]int32, nTarg)
	fd.PrevWt = make([]float32, nTarg)
	j := -1 // last HiFreq index with position <= current marker
	for m := 0; m < nTarg; m++ {
		for j+1 < len(fd.HiFreq) && fd.HiFreq[j+1] <= m {
			j++
		}
		fd.PrevHiFreq[m] = int32(j)
		switch {
		case j < 0:
			fd.PrevWt[m] = 0
		case fd.HiFreq[j] == m:
			fd.PrevWt[m] = 1
		case j+1 >= len(fd.HiFreq):
			fd.PrevWt[m] = 1
		default:
			span := fd.HiGenPos[j+1] - fd.HiGenPos[j]
			if span <= 0 {
				fd.PrevWt[m] = 1
				break
			}
			w := (fd.HiGenPos[j+1] - fd.GenPos[m]) / span
			if w < 0 {
				w = 0
			} else if w > 1 {
				w = 1
			}
			fd.PrevWt[m] = float32(w)
		}
	}
}

// NHiFreq returns the size of the high-frequency subset.
func (fd *FixedData) NHiFreq() int { return len(fd.HiFreq) }

// Stage2Needed reports whether low-frequency markers exist, so stage-2
// completion must run after stage-1 phasing.
func (fd *FixedData) Stage2Needed() bool {
	return !fd.LowFreqSuppressed && len(fd.HiFreq) < fd.TargGT.NMarkers()
}

// HiRefAllele returns the allele of combined haplotype h (targets first,
// then reference) at HiFreq marker j, reading targets from the supplied
// phased snapshot.
func (fd *FixedData) HiRefAllele(snapshot *vcf.HapsGT, j, h int) int {
	if h < fd.NTargHaps {
		return snapshot.Allele(j, h)
	}
	return fd.HiFreqRef.Allele(j, h-fd.NTargHaps)
}

// PRecomb precomputes the per-HiFreq-marker recombination probabilities
// for a recombination factor: p[j] = 1 - exp(-factor * dist(j-1, j)).
func (fd *FixedData) PRecomb(factor float64) []float32 {
	p := make([]float32, len(fd.HiGenDist))
	for j := 1; j < len(p); j++ {
		p[j] = float32(-math.Expm1(-factor * fd.HiGenDist[j]))
	}
	return p
}
