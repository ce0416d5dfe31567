package vcf

import "github.com/grailbio/base/log"

// GT is the uniform read-only view of per-marker genotype data that the
// phasing engine consumes.  Haplotype h belongs to sample h/2; sample s
// owns haplotypes 2s and 2s+1.  Allele values are allele indices, or -1
// for a missing allele (phased views never return -1).
type GT interface {
	Markers() *Markers
	Samples() *Samples
	NMarkers() int
	NHaps() int
	NSamples() int
	// IsPhased reports whether every genotype is phased and non-missing,
	// which makes Allele(m, h) meaningful.
	IsPhased() bool
	Allele1(m, s int) int
	Allele2(m, s int) int
	Allele(m, h int) int
}

// HapsGT is a phased, non-missing GT backed by one packed bit row per
// haplotype.  It is the working representation of phased output and of
// spliced window overlap.
type HapsGT struct {
	markers *Markers
	samples *Samples
	rows    [][]uint64 // one row per haplotype
}

// NewHapsGT wraps packed haplotype rows.  rows[h] must have been produced
// by markers.Pack.
func NewHapsGT(markers *Markers, samples *Samples, rows [][]uint64) *HapsGT {
	if len(rows) != 2*samples.NSamples() {
		log.Panicf("vcf.NewHapsGT: %d rows for %d samples", len(rows), samples.NSamples())
	}
	return &HapsGT{markers: markers, samples: samples, rows: rows}
}

// Markers implements GT.
func (g *HapsGT) Markers() *Markers { return g.markers }

// Samples implements GT.
func (g *HapsGT) Samples() *Samples { return g.samples }

// NMarkers implements GT.
func (g *HapsGT) NMarkers() int { return g.markers.NMarkers() }

// NHaps implements GT.
func (g *HapsGT) NHaps() int { return len(g.rows) }

// NSamples implements GT.
func (g *HapsGT) NSamples() int { return g.samples.NSamples() }

// IsPhased implements GT; HapsGT is phased by construction.
func (g *HapsGT) IsPhased() bool { return true }

// Allele1 implements GT.
func (g *HapsGT) Allele1(m, s int) int { return g.markers.AlleleAt(g.rows[2*s], m) }

// Allele2 implements GT.
func (g *HapsGT) Allele2(m, s int) int { return g.markers.AlleleAt(g.rows[2*s+1], m) }

// Allele implements GT.
func (g *HapsGT) Allele(m, h int) int { return g.markers.AlleleAt(g.rows[h], m) }

// Row returns the packed bit row of haplotype h.  Callers must not modify
// it.
func (g *HapsGT) Row(h int) []uint64 { return g.rows[h] }
