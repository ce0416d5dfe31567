package phasing

import "github.com/grailbio/phase/vcf"

// zeroCarriers is the shared empty (but non-nil) carrier list, so a nil
// slice can serve as the "high-frequency allele" sentinel.
var zeroCarriers = []int32{}

// Carriers classifies every (marker, allele) of the target genotypes.
// carrier lists hold target sample indices in increasing order; a nil list
// marks an allele with more than maxCarriers carriers (high-frequency).
type Carriers struct {
	// lists[m][a] is nil for high-frequency alleles, zeroCarriers when the
	// allele is absent, else the sorted carrier sample list.
	lists [][][]int32
	// maxCarriers is floor(nSamples * rare).
	maxCarriers int
}

// NewCarriers scans the target genotypes.  A sample carries allele a at
// marker m when either of its input alleles equals a; missing alleles
// carry nothing.
func NewCarriers(gt vcf.GT, rare float64) *Carriers {
	nSamples := gt.NSamples()
	nMarkers := gt.NMarkers()
	max := int(float64(nSamples) * rare)
	c := &Carriers{lists: make([][][]int32, nMarkers), maxCarriers: max}
	for m := 0; m < nMarkers; m++ {
		nAlleles := gt.Markers().Marker(m).NAlleles()
		lists := make([][]int32, nAlleles)
		counts := make([]int, nAlleles)
		for s := 0; s < nSamples; s++ {
			a1, a2 := gt.Allele1(m, s), gt.Allele2(m, s)
			if a1 >= 0 {
				counts[a1]++
			}
			if a2 >= 0 && a2 != a1 {
				counts[a2]++
			}
		}
		for a := 0; a < nAlleles; a++ {
			switch {
			case counts[a] > max:
				lists[a] = nil
			case counts[a] == 0:
				lists[a] = zeroCarriers
			default:
				lists[a] = make([]int32, 0, counts[a])
			}
		}
		for s := 0; s < nSamples; s++ {
			a1, a2 := gt.Allele1(m, s), gt.Allele2(m, s)
			if a1 >= 0 && lists[a1] != nil && counts[a1] > 0 {
				lists[a1] = appendCarrier(lists[a1], int32(s))
			}
			if a2 >= 0 && a2 != a1 && lists[a2] != nil && counts[a2] > 0 {
				lists[a2] = appendCarrier(lists[a2], int32(s))
			}
		}
		c.lists[m] = lists
	}
	return c
}

func appendCarrier(list []int32, s int32) []int32 {
	if n := len(list); n > 0 && list[n-1] == s {
		return list
	}
	return append(list, s)
}

// MaxCarriers returns the rare-allele carrier bound.
func (c *Carriers) MaxCarriers() int { return c.maxCarriers }

// IsHiFreq reports whether allele a of marker m exceeded the carrier
// bound.
func (c *Carriers) IsHiFreq(m, a int) bool { return c.lists[m][a] == nil }

// List returns the carrier samples of a low-frequency allele (empty when
// the allele is absent); nil for high-frequency alleles.
func (c *Carriers) List(m, a int) []int32 { return c.lists[m][a] }

// IsHiFreqMarker reports whether marker m has at least two high-frequency
// alleles.
func (c *Carriers) IsHiFreqMarker(m int) bool {
	n := 0
	for _, list := range c.lists[m] {
		if list == nil {
			n++
			if n >= 2 {
				return true
			}
		}
	}
	return false
}
