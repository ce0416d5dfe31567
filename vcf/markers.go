package vcf

import (
	"math/bits"

	"github.com/grailbio/base/log"
)

// Markers is an ordered, immutable marker list.  It precomputes the number
// of bits needed to store one allele index per marker and the bit offset of
// each marker within a packed haplotype row, and provides the exact
// pack/unpack round trip between allele vectors and packed bit arrays.
type Markers struct {
	markers []Marker
	nBits   []uint8 // bits per allele index, ceil(log2(nAlleles))
	offsets []int32 // cumulative bit offset of each marker
	sumBits int
}

// NewMarkers wraps the given marker slice.  The slice is owned by the
// returned Markers and must not be modified afterwards.
func NewMarkers(markers []Marker) *Markers {
	if len(markers) == 0 {
		log.Panicf("vcf.NewMarkers: empty marker list")
	}
	m := &Markers{
		markers: markers,
		nBits:   make([]uint8, len(markers)),
		offsets: make([]int32, len(markers)),
	}
	off := 0
	for i, mk := range markers {
		m.nBits[i] = uint8(bits.Len(uint(mk.NAlleles() - 1)))
		m.offsets[i] = int32(off)
		off += int(m.nBits[i])
	}
	m.sumBits = off
	return m
}

// NMarkers returns the number of markers.
func (m *Markers) NMarkers() int { return len(m.markers) }

// Marker returns the i-th marker.
func (m *Markers) Marker(i int) Marker { return m.markers[i] }

// BitsPerAllele returns the number of bits used to encode one allele index
// of marker i.  A monomorphic marker takes zero bits.
func (m *Markers) BitsPerAllele(i int) int { return int(m.nBits[i]) }

// SumHaplotypeBits returns the total number of bits in one packed
// haplotype row.
func (m *Markers) SumHaplotypeBits() int { return m.sumBits }

// HapWords returns the number of 64-bit words in one packed haplotype row.
func (m *Markers) HapWords() int { return (m.sumBits + 63) / 64 }

// Pack encodes the allele vector a (one allele index per marker) into a
// fresh packed bit array.
func (m *Markers) Pack(a []int) []uint64 {
	dst := make([]uint64, m.HapWords())
	m.PackTo(dst, a)
	return dst
}

// PackTo encodes a into dst, which must have HapWords() words.  dst is
// zeroed first.
func (m *Markers) PackTo(dst []uint64, a []int) {
	if len(a) != len(m.markers) {
		log.Panicf("vcf.Markers.PackTo: %d alleles for %d markers", len(a), len(m.markers))
	}
	for i := range dst {
		dst[i] = 0
	}
	for i, v := range a {
		if v < 0 || v >= m.markers[i].NAlleles() {
			log.Panicf("vcf.Markers.PackTo: allele %d out of range at marker %d (%s)",
				v, i, m.markers[i])
		}
		setBits(dst, int(m.offsets[i]), int(m.nBits[i]), uint64(v))
	}
}

// Unpack decodes every marker's allele from the packed row into a.
func (m *Markers) Unpack(src []uint64, a []int) {
	for i := range m.markers {
		a[i] = int(getBits(src, int(m.offsets[i]), int(m.nBits[i])))
	}
}

// AlleleAt decodes the allele of marker i from the packed row.
func (m *Markers) AlleleAt(src []uint64, i int) int {
	return int(getBits(src, int(m.offsets[i]), int(m.nBits[i])))
}

// SetAlleleAt overwrites the allele of marker i in the packed row.
func (m *Markers) SetAlleleAt(dst []uint64, i, allele int) {
	clearBits(dst, int(m.offsets[i]), int(m.nBits[i]))
	setBits(dst, int(m.offsets[i]), int(m.nBits[i]), uint64(allele))
}

// Restrict returns a Markers view of the given strictly increasing marker
// indices.  The underlying Marker values are shared; packed-bit offsets are
// recomputed for the restricted list.
func (m *Markers) Restrict(indices []int) *Markers {
	sub := make([]Marker, len(indices))
	prev := -1
	for i, idx := range indices {
		if idx <= prev || idx >= len(m.markers) {
			log.Panicf("vcf.Markers.Restrict: bad index %d after %d", idx, prev)
		}
		prev = idx
		sub[i] = m.markers[idx]
	}
	return NewMarkers(sub)
}

// setBits writes the low n bits of v at bit offset off.  Bits may span a
// word boundary; callers guarantee the target bits are currently zero.
func setBits(dst []uint64, off, n int, v uint64) {
	if n == 0 {
		return
	}
	w, b := off>>6, uint(off&63)
	dst[w] |= v << b
	if b+uint(n) > 64 {
		dst[w+1] |= v >> (64 - b)
	}
}

// clearBits zeroes n bits at bit offset off.
func clearBits(dst []uint64, off, n int) {
	if n == 0 {
		return
	}
	mask := uint64(1)<<uint(n) - 1
	w, b := off>>6, uint(off&63)
	dst[w] &^= mask << b
	if b+uint(n) > 64 {
		dst[w+1] &^= mask >> (64 - b)
	}
}

// getBits reads n bits at bit offset off.
func getBits(src []uint64, off, n int) uint64 {
	if n == 0 {
		return 0
	}
	w, b := off>>6, uint(off&63)
	v := src[w] >> b
	if b+uint(n) > 64 {
		v |= src[w+1] << (64 - b)
	}
	return v & (uint64(1)<<uint(n) - 1)
}
