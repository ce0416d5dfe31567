// Package bref implements the bref3 random-access binary reference-panel
// format: a header carrying the sample list followed by per-marker records
// in position order, each stored either densely (packed allele bits for
// every haplotype) or sparsely (omitted major allele plus sorted carrier
// lists per minor allele).
//
// Concrete layout (all integers little-endian; uvarint/varint are the Go
// binary varint encodings; strings are uvarint length + bytes):
//
//	magic   [6]byte  "bref3\x01"
//	nSamples uvarint, then nSamples sample-id strings
//	blocks:
//	  0x03 chromStart: chromosome-name string; subsequent records belong
//	       to this chromosome
//	  0x01 dense record:
//	       pos uvarint, id string, nAlleles uvarint, allele strings,
//	       end varint (-1 when absent),
//	       packed allele bits, ceil(nHaps*bitsPerAllele/8) bytes
//	  0x02 sparse record: same site fields, then
//	       major uvarint, and per non-major allele a uvarint carrier
//	       count followed by delta-encoded sorted haplotype indices
//	  0x00 end of stream
//
// Records within a chromosome must be in strictly increasing position
// order.  The reader exposes a forward iterator; random allele(m, h)
// queries are served by the decoded vcf.RefGTRec values themselves.
package bref

// Magic identifies a bref3 stream.
var Magic = [6]byte{'b', 'r', 'e', 'f', '3', 0x01}

// Block tags.
const (
	tagEnd        = 0x00
	tagDense      = 0x01
	tagSparse     = 0x02
	tagChromStart = 0x03
)
