package bref

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/grailbio/base/file"
	"github.com/grailbio/phase/vcf"
)

// Writer encodes reference records into a bref3 stream.
type Writer struct {
	w       *bufio.Writer
	samples *vcf.Samples
	nHaps   int

	chrom   vcf.ChromID
	started bool
	lastPos int32

	scratch [binary.MaxVarintLen64]byte
	closer  func() error
}

// Create creates path through base/file and returns a Writer with the
// header already written.
func Create(ctx context.Context, path string, samples *vcf.Samples) (*Writer, error) {
	f, err := file.Create(ctx, path)
	if err != nil {
		return nil, err
	}
	w, err := NewWriter(f.Writer(ctx), samples)
	if err != nil {
		_ = f.Close(ctx)
		return nil, err
	}
	w.closer = func() error { return f.Close(ctx) }
	return w, nil
}

// NewWriter writes the bref3 header to sink and returns a Writer.
func NewWriter(sink io.Writer, samples *vcf.Samples) (*Writer, error) {
	w := &Writer{w: bufio.NewWriterSize(sink, 1<<20), samples: samples, nHaps: 2 * samples.NSamples()}
	if _, err := w.w.Write(Magic[:]); err != nil {
		return nil, err
	}
	w.putUvarint(uint64(samples.NSamples()))
	for i := 0; i < samples.NSamples(); i++ {
		w.putString(samples.Name(i))
	}
	return w, nil
}

func (w *Writer) putUvarint(v uint64) {
	n := binary.PutUvarint(w.scratch[:], v)
	w.w.Write(w.scratch[:n]) // nolint: errcheck
}

func (w *Writer) putVarint(v int64) {
	n := binary.PutVarint(w.scratch[:], v)
	w.w.Write(w.scratch[:n]) // nolint: errcheck
}

func (w *Writer) putString(s string) {
	w.putUvarint(uint64(len(s)))
	w.w.WriteString(s) // nolint: errcheck
}

// Write appends one record.  Records must arrive in ascending
// chromosome/position order.
func (w *Writer) Write(rec *vcf.RefGTRec) error {
	if rec.NHaps() != w.nHaps {
		return fmt.Errorf("bref: record %s has %d haplotypes, want %d",
			rec.Marker(), rec.NHaps(), w.nHaps)
	}
	m := rec.Marker()
	if !w.started || m.Chrom() != w.chrom {
		w.w.WriteByte(tagChromStart) // nolint: errcheck
		w.putString(m.Chrom().String())
		w.started, w.chrom, w.lastPos = true, m.Chrom(), 0
	} else if m.Pos() <= w.lastPos {
		return fmt.Errorf("bref: non-monotone position at %s", m)
	}
	w.lastPos = m.Pos()

	if rec.IsSparse() {
		w.w.WriteByte(tagSparse) // nolint: errcheck
	} else {
		w.w.WriteByte(tagDense) // nolint: errcheck
	}
	w.putUvarint(uint64(m.Pos()))
	w.putString(m.ID())
	w.putUvarint(uint64(m.NAlleles()))
	for a := 0; a < m.NAlleles(); a++ {
		w.putString(m.Allele(a))
	}
	w.putVarint(int64(m.End()))

	if rec.IsSparse() {
		w.putUvarint(uint64(rec.MajorAllele()))
		for a := 0; a < m.NAlleles(); a++ {
			if a == rec.MajorAllele() {
				continue
			}
			carriers := rec.Carriers(a)
			w.putUvarint(uint64(len(carriers)))
			prev := int32(0)
			for _, h := range carriers {
				w.putUvarint(uint64(h - prev))
				prev = h
			}
		}
		return nil
	}
	nBits := bitsPerAllele(m.NAlleles())
	nBytes := (w.nHaps*nBits + 7) / 8
	buf := make([]byte, nBytes)
	// Repack haplotype alleles into a byte-aligned little-endian bit
	// stream.
	bitOff := 0
	for h := 0; h < w.nHaps; h++ {
		v := uint(rec.Allele(h))
		for b := 0; b < nBits; b++ {
			if v&(1<<uint(b)) != 0 {
				buf[(bitOff+b)>>3] |= 1 << uint((bitOff+b)&7)
			}
		}
		bitOff += nBits
	}
	_, err := w.w.Write(buf)
	return err
}

// Close terminates and flushes the stream.
func (w *Writer) Close() error {
	if err := w.w.WriteByte(tagEnd); err != nil {
		return err
	}
	if err := w.w.Flush(); err != nil {
		return err
	}
	if w.closer != nil {
		return w.closer()
	}
	return nil
}

// bitsPerAllele returns ceil(log2(nAlleles)).
func bitsPerAllele(nAlleles int) int {
	n := 0
	for v := nAlleles - 1; v > 0; v >>= 1 {
		n++
	}
	return n
}
