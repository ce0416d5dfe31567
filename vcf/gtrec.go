package vcf

import (
	"sort"

	"github.com/grailbio/base/log"
)

// GTRec holds the genotypes of one marker across all target samples.
// Alleles are int16 allele indices with -1 for missing.  The record is
// immutable after construction.
type GTRec struct {
	marker    Marker
	alleles1  []int16
	alleles2  []int16
	phased    []bool
	allPhased bool
}

// NewGTRec builds a record.  a1, a2, and phased must have equal length;
// phased may be nil when every genotype is phased.
func NewGTRec(marker Marker, a1, a2 []int16, phased []bool) *GTRec {
	if len(a1) != len(a2) || (phased != nil && len(phased) != len(a1)) {
		log.Panicf("vcf.NewGTRec: inconsistent slice lengths at %s", marker)
	}
	all := true
	if phased != nil {
		for _, p := range phased {
			if !p {
				all = false
				break
			}
		}
	}
	return &GTRec{marker: marker, alleles1: a1, alleles2: a2, phased: phased, allPhased: all}
}

// Marker returns the record's marker.
func (r *GTRec) Marker() Marker { return r.marker }

// NSamples returns the number of samples in the record.
func (r *GTRec) NSamples() int { return len(r.alleles1) }

// Allele1 returns the first allele of sample s, or -1 when missing.
func (r *GTRec) Allele1(s int) int { return int(r.alleles1[s]) }

// Allele2 returns the second allele of sample s, or -1 when missing.
func (r *GTRec) Allele2(s int) int { return int(r.alleles2[s]) }

// Phased reports whether sample s's genotype carried the phased separator.
func (r *GTRec) Phased(s int) bool { return r.phased == nil || r.phased[s] }

// AllPhased reports whether every genotype in the record is phased.
func (r *GTRec) AllPhased() bool { return r.allPhased }

// RefGTRec holds the phased, non-missing genotypes of one marker across a
// reference panel.  Representation is either dense (packed allele bits for
// every haplotype) or sparse (a major allele that is omitted, plus sorted
// carrier haplotype lists for each minor allele).
type RefGTRec struct {
	marker Marker
	nHaps  int
	// dense representation; nil when sparse.
	bits  []uint64
	nBits uint8
	// sparse representation.
	major    int
	carriers [][]int32 // per allele; nil at the major allele
}

// NewDenseRefRec builds a dense record from per-haplotype alleles.
func NewDenseRefRec(marker Marker, alleles []int) *RefGTRec {
	nBits := 0
	for v := marker.NAlleles() - 1; v > 0; v >>= 1 {
		nBits++
	}
	r := &RefGTRec{marker: marker, nHaps: len(alleles), nBits: uint8(nBits)}
	r.bits = make([]uint64, (len(alleles)*nBits+63)/64)
	for h, a := range alleles {
		if a < 0 || a >= marker.NAlleles() {
			log.Panicf("vcf.NewDenseRefRec: allele %d out of range at %s", a, marker)
		}
		setBits(r.bits, h*nBits, nBits, uint64(a))
	}
	return r
}

// NewSparseRefRec builds a sparse record.  carriers[a] lists the haplotype
// indices carrying allele a; the slot of the major allele must be nil, and
// every other haplotype is assumed to carry the major allele.
func NewSparseRefRec(marker Marker, nHaps, major int, carriers [][]int32) *RefGTRec {
	if len(carriers) != marker.NAlleles() || carriers[major] != nil {
		log.Panicf("vcf.NewSparseRefRec: bad carrier lists at %s", marker)
	}
	for _, list := range carriers {
		if !sort.SliceIsSorted(list, func(i, j int) bool { return list[i] < list[j] }) {
			log.Panicf("vcf.NewSparseRefRec: unsorted carrier list at %s", marker)
		}
	}
	return &RefGTRec{marker: marker, nHaps: nHaps, major: major, carriers: carriers}
}

// NewRefRecFromAlleles picks the compact representation: if the haplotypes
// not carrying the most frequent allele number at most maxSparse, the
// record is stored sparsely with that allele as the omitted major;
// otherwise densely.
func NewRefRecFromAlleles(marker Marker, alleles []int, maxSparse int) *RefGTRec {
	counts := make([]int, marker.NAlleles())
	for _, a := range alleles {
		counts[a]++
	}
	major, best := 0, -1
	for a, c := range counts {
		if c > best {
			major, best = a, c
		}
	}
	nMinor := len(alleles) - best
	if nMinor > maxSparse {
		return NewDenseRefRec(marker, alleles)
	}
	carriers := make([][]int32, marker.NAlleles())
	for a := range carriers {
		if a != major && counts[a] > 0 {
			carriers[a] = make([]int32, 0, counts[a])
		}
	}
	for h, a := range alleles {
		if a != major {
			carriers[a] = append(carriers[a], int32(h))
		}
	}
	return NewSparseRefRec(marker, len(alleles), major, carriers)
}

// Marker returns the record's marker.
func (r *RefGTRec) Marker() Marker { return r.marker }

// NHaps returns the number of haplotypes.
func (r *RefGTRec) NHaps() int { return r.nHaps }

// IsSparse reports whether the record uses the carrier-list representation.
func (r *RefGTRec) IsSparse() bool { return r.bits == nil }

// MajorAllele returns the omitted allele of a sparse record.
func (r *RefGTRec) MajorAllele() int { return r.major }

// Carriers returns the sorted carrier haplotypes of allele a in a sparse
// record (nil at the major allele).  Callers must not modify the slice.
func (r *RefGTRec) Carriers(a int) []int32 { return r.carriers[a] }

// Allele returns the allele of haplotype h.
func (r *RefGTRec) Allele(h int) int {
	if r.bits != nil {
		return int(getBits(r.bits, h*int(r.nBits), int(r.nBits)))
	}
	for a, list := range r.carriers {
		if list == nil {
			continue
		}
		i := sort.Search(len(list), func(i int) bool { return list[i] >= int32(h) })
		if i < len(list) && list[i] == int32(h) {
			return a
		}
	}
	return r.major
}
