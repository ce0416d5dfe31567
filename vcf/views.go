package vcf

import "github.com/grailbio/base/log"

// BasicGT is a GT backed by per-marker GTRec records, possibly unphased and
// with missing alleles.
type BasicGT struct {
	markers *Markers
	samples *Samples
	recs    []*GTRec
	phased  bool
}

// NewBasicGT wraps records in marker order.
func NewBasicGT(samples *Samples, recs []*GTRec) *BasicGT {
	markers := make([]Marker, len(recs))
	phased := true
	for i, r := range recs {
		markers[i] = r.Marker()
		if !r.AllPhased() {
			phased = false
		}
		if r.NSamples() != samples.NSamples() {
			log.Panicf("vcf.NewBasicGT: record %s has %d samples, want %d",
				r.Marker(), r.NSamples(), samples.NSamples())
		}
	}
	return &BasicGT{markers: NewMarkers(markers), samples: samples, recs: recs, phased: phased}
}

// Markers implements GT.
func (g *BasicGT) Markers() *Markers { return g.markers }

// Samples implements GT.
func (g *BasicGT) Samples() *Samples { return g.samples }

// NMarkers implements GT.
func (g *BasicGT) NMarkers() int { return len(g.recs) }

// NHaps implements GT.
func (g *BasicGT) NHaps() int { return 2 * g.samples.NSamples() }

// NSamples implements GT.
func (g *BasicGT) NSamples() int { return g.samples.NSamples() }

// IsPhased implements GT.
func (g *BasicGT) IsPhased() bool { return g.phased }

// Allele1 implements GT.
func (g *BasicGT) Allele1(m, s int) int { return g.recs[m].Allele1(s) }

// Allele2 implements GT.
func (g *BasicGT) Allele2(m, s int) int { return g.recs[m].Allele2(s) }

// Allele implements GT.  For unphased records the within-sample order is
// the input order, which is only meaningful when IsPhased() is true.
func (g *BasicGT) Allele(m, h int) int {
	if h&1 == 0 {
		return g.recs[m].Allele1(h >> 1)
	}
	return g.recs[m].Allele2(h >> 1)
}

// Rec returns the m-th record.
func (g *BasicGT) Rec(m int) *GTRec { return g.recs[m] }

// RefGT is a phased GT backed by reference-panel records.
type RefGT struct {
	markers *Markers
	samples *Samples
	recs    []*RefGTRec
}

// NewRefGT wraps reference records in marker order.
func NewRefGT(samples *Samples, recs []*RefGTRec) *RefGT {
	markers := make([]Marker, len(recs))
	for i, r := range recs {
		markers[i] = r.Marker()
		if r.NHaps() != 2*samples.NSamples() {
			log.Panicf("vcf.NewRefGT: record %s has %d haps, want %d",
				r.Marker(), r.NHaps(), 2*samples.NSamples())
		}
	}
	return &RefGT{markers: NewMarkers(markers), samples: samples, recs: recs}
}

// Markers implements GT.
func (g *RefGT) Markers() *Markers { return g.markers }

// Samples implements GT.
func (g *RefGT) Samples() *Samples { return g.samples }

// NMarkers implements GT.
func (g *RefGT) NMarkers() int { return len(g.recs) }

// NHaps implements GT.
func (g *RefGT) NHaps() int { return 2 * g.samples.NSamples() }

// NSamples implements GT.
func (g *RefGT) NSamples() int { return g.samples.NSamples() }

// IsPhased implements GT.
func (g *RefGT) IsPhased() bool { return true }

// Allele1 implements GT.
func (g *RefGT) Allele1(m, s int) int { return g.recs[m].Allele(2 * s) }

// Allele2 implements GT.
func (g *RefGT) Allele2(m, s int) int { return g.recs[m].Allele(2*s + 1) }

// Allele implements GT.
func (g *RefGT) Allele(m, h int) int { return g.recs[m].Allele(h) }

// Rec returns the m-th record.
func (g *RefGT) Rec(m int) *RefGTRec { return g.recs[m] }

// RestrictedGT is a view of a GT over a strictly increasing marker subset.
type RestrictedGT struct {
	base    GT
	indices []int
	markers *Markers
}

// RestrictGT builds the restriction view.  indices must be strictly
// increasing positions into base's marker list.
func RestrictGT(base GT, indices []int) *RestrictedGT {
	return &RestrictedGT{
		base:    base,
		indices: indices,
		markers: base.Markers().Restrict(indices),
	}
}

// Markers implements GT.
func (g *RestrictedGT) Markers() *Markers { return g.markers }

// Samples implements GT.
func (g *RestrictedGT) Samples() *Samples { return g.base.Samples() }

// NMarkers implements GT.
func (g *RestrictedGT) NMarkers() int { return len(g.indices) }

// NHaps implements GT.
func (g *RestrictedGT) NHaps() int { return g.base.NHaps() }

// NSamples implements GT.
func (g *RestrictedGT) NSamples() int { return g.base.NSamples() }

// IsPhased implements GT.
func (g *RestrictedGT) IsPhased() bool { return g.base.IsPhased() }

// Allele1 implements GT.
func (g *RestrictedGT) Allele1(m, s int) int { return g.base.Allele1(g.indices[m], s) }

// Allele2 implements GT.
func (g *RestrictedGT) Allele2(m, s int) int { return g.base.Allele2(g.indices[m], s) }

// Allele implements GT.
func (g *RestrictedGT) Allele(m, h int) int { return g.base.Allele(g.indices[m], h) }

// BaseIdx maps a restricted marker index back to the base marker index.
func (g *RestrictedGT) BaseIdx(m int) int { return g.indices[m] }

// SplicedGT overlays a phased overlap on the leading markers of a base GT:
// the first overlap.NMarkers() markers read from the overlap, the rest from
// base.  The overlap markers must equal the leading base markers.
type SplicedGT struct {
	base    GT
	overlap *HapsGT
	nOver   int
}

// SpliceGT builds the spliced view.
func SpliceGT(overlap *HapsGT, base GT) *SplicedGT {
	n := overlap.NMarkers()
	if n > base.NMarkers() {
		log.Panicf("vcf.SpliceGT: overlap %d longer than window %d", n, base.NMarkers())
	}
	for m := 0; m < n; m++ {
		if !overlap.Markers().Marker(m).Equal(base.Markers().Marker(m)) {
			log.Panicf("vcf.SpliceGT: overlap marker %s != window marker %s",
				overlap.Markers().Marker(m), base.Markers().Marker(m))
		}
	}
	return &SplicedGT{base: base, overlap: overlap, nOver: n}
}

// Markers implements GT.
func (g *SplicedGT) Markers() *Markers { return g.base.Markers() }

// Samples implements GT.
func (g *SplicedGT) Samples() *Samples { return g.base.Samples() }

// NMarkers implements GT.
func (g *SplicedGT) NMarkers() int { return g.base.NMarkers() }

// NHaps implements GT.
func (g *SplicedGT) NHaps() int { return g.base.NHaps() }

// NSamples implements GT.
func (g *SplicedGT) NSamples() int { return g.base.NSamples() }

// IsPhased implements GT.
func (g *SplicedGT) IsPhased() bool { return g.base.IsPhased() }

// NOverlap returns the number of leading markers served by the overlap.
func (g *SplicedGT) NOverlap() int { return g.nOver }

// Allele1 implements GT.
func (g *SplicedGT) Allele1(m, s int) int {
	if m < g.nOver {
		return g.overlap.Allele1(m, s)
	}
	return g.base.Allele1(m, s)
}

// Allele2 implements GT.
func (g *SplicedGT) Allele2(m, s int) int {
	if m < g.nOver {
		return g.overlap.Allele2(m, s)
	}
	return g.base.Allele2(m, s)
}

// Allele implements GT.
func (g *SplicedGT) Allele(m, h int) int {
	if m < g.nOver {
		return g.overlap.Allele(m, h)
	}
	return g.base.Allele(m, h)
}

// Phased reports whether sample s is phased at marker m, honouring the
// overlap region (always phased there).
func (g *SplicedGT) Phased(m, s int) bool {
	if m < g.nOver {
		return true
	}
	if b, ok := g.base.(*BasicGT); ok {
		return b.Rec(m).Phased(s)
	}
	return g.base.IsPhased()
}
