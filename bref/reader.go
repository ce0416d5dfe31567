package bref

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"strings"

	"github.com/grailbio/base/file"
	"github.com/grailbio/phase/vcf"
	"github.com/klauspost/pgzip"
)

// Reader decodes a bref3 stream into vcf.RefGTRec records.
type Reader struct {
	name    string
	r       *bufio.Reader
	samples *vcf.Samples
	nHaps   int
	chrom   vcf.ChromID
	inChrom bool
	done    bool
	closer  func() error
}

// Open opens a bref3 path (optionally gzipped) through base/file and
// parses the header.
func Open(ctx context.Context, path string) (*Reader, error) {
	f, err := file.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	var src io.Reader = f.Reader(ctx)
	closer := func() error { return f.Close(ctx) }
	if strings.HasSuffix(path, ".gz") {
		zr, err := pgzip.NewReader(bufio.NewReaderSize(src, 4<<20))
		if err != nil {
			_ = f.Close(ctx)
			return nil, fmt.Errorf("%s: %v", path, err)
		}
		src = zr
		closer = func() error {
			zr.Close() // nolint: errcheck
			return f.Close(ctx)
		}
	}
	r, err := NewReader(path, src)
	if err != nil {
		_ = closer()
		return nil, err
	}
	r.closer = closer
	return r, nil
}

// NewReader parses the bref3 header from src.  name is used in diagnostics
// only.
func NewReader(name string, src io.Reader) (*Reader, error) {
	r := &Reader{name: name, r: bufio.NewReaderSize(src, 1<<20)}
	var magic [6]byte
	if _, err := io.ReadFull(r.r, magic[:]); err != nil {
		return nil, fmt.Errorf("%s: not a bref3 file: %v", name, err)
	}
	if !bytes.Equal(magic[:], Magic[:]) {
		return nil, fmt.Errorf("%s: not a bref3 file (bad magic)", name)
	}
	n, err := r.uvarint()
	if err != nil {
		return nil, err
	}
	ids := make([]string, n)
	for i := range ids {
		if ids[i], err = r.str(); err != nil {
			return nil, err
		}
	}
	samples, err := vcf.NewSamples(ids)
	if err != nil {
		return nil, fmt.Errorf("%s: %v", name, err)
	}
	r.samples = samples
	r.nHaps = 2 * len(ids)
	return r, nil
}

// Samples returns the panel sample list.
func (r *Reader) Samples() *vcf.Samples { return r.samples }

// Close releases the underlying file, if the Reader owns one.
func (r *Reader) Close() error {
	if r.closer != nil {
		return r.closer()
	}
	return nil
}

func (r *Reader) uvarint() (uint64, error) {
	v, err := binary.ReadUvarint(r.r)
	if err != nil {
		return 0, fmt.Errorf("%s: truncated bref3 stream: %v", r.name, err)
	}
	return v, nil
}

func (r *Reader) varint() (int64, error) {
	v, err := binary.ReadVarint(r.r)
	if err != nil {
		return 0, fmt.Errorf("%s: truncated bref3 stream: %v", r.name, err)
	}
	return v, nil
}

func (r *Reader) str() (string, error) {
	n, err := r.uvarint()
	if err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r.r, buf); err != nil {
		return "", fmt.Errorf("%s: truncated bref3 string: %v", r.name, err)
	}
	return string(buf), nil
}

// Read returns the next record, or io.EOF after the end tag.
func (r *Reader) Read() (*vcf.RefGTRec, error) {
	for {
		if r.done {
			return nil, io.EOF
		}
		tag, err := r.r.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("%s: truncated bref3 stream: %v", r.name, err)
		}
		switch tag {
		case tagEnd:
			r.done = true
			return nil, io.EOF
		case tagChromStart:
			name, err := r.str()
			if err != nil {
				return nil, err
			}
			r.chrom = vcf.InternChrom(name)
			r.inChrom = true
		case tagDense, tagSparse:
			if !r.inChrom {
				return nil, fmt.Errorf("%s: record before chromosome block", r.name)
			}
			return r.readRec(tag)
		default:
			return nil, fmt.Errorf("%s: unknown bref3 block tag 0x%02x", r.name, tag)
		}
	}
}

func (r *Reader) readRec(tag byte) (*vcf.RefGTRec, error) {
	pos, err := r.uvarint()
	if err != nil {
		return nil, err
	}
	id, err := r.str()
	if err != nil {
		return nil, err
	}
	nAlleles, err := r.uvarint()
	if err != nil {
		return nil, err
	}
	if nAlleles == 0 {
		return nil, fmt.Errorf("%s: record at pos %d has zero alleles", r.name, pos)
	}
	alleles := make([]string, nAlleles)
	for i := range alleles {
		if alleles[i], err = r.str(); err != nil {
			return nil, err
		}
	}
	end, err := r.varint()
	if err != nil {
		return nil, err
	}
	marker, err := vcf.NewMarker(r.chrom, int32(pos), id, alleles, int32(end))
	if err != nil {
		return nil, fmt.Errorf("%s: %v", r.name, err)
	}

	if tag == tagSparse {
		major, err := r.uvarint()
		if err != nil {
			return nil, err
		}
		if int(major) >= len(alleles) {
			return nil, fmt.Errorf("%s: major allele %d out of range at %s", r.name, major, marker)
		}
		carriers := make([][]int32, nAlleles)
		for a := range carriers {
			if a == int(major) {
				continue
			}
			n, err := r.uvarint()
			if err != nil {
				return nil, err
			}
			if n == 0 {
				continue
			}
			list := make([]int32, n)
			prev := int64(0)
			for i := range list {
				d, err := r.uvarint()
				if err != nil {
					return nil, err
				}
				prev += int64(d)
				if prev >= int64(r.nHaps) {
					return nil, fmt.Errorf("%s: carrier index %d out of range at %s", r.name, prev, marker)
				}
				list[i] = int32(prev)
			}
			carriers[a] = list
		}
		return vcf.NewSparseRefRec(marker, r.nHaps, int(major), carriers), nil
	}

	nBits := bitsPerAllele(int(nAlleles))
	nBytes := (r.nHaps*nBits + 7) / 8
	buf := make([]byte, nBytes)
	if _, err := io.ReadFull(r.r, buf); err != nil {
		return nil, fmt.Errorf("%s: truncated dense record at %s: %v", r.name, marker, err)
	}
	hapAlleles := make([]int, r.nHaps)
	bitOff := 0
	for h := 0; h < r.nHaps; h++ {
		v := 0
		for b := 0; b < nBits; b++ {
			if buf[(bitOff+b)>>3]&(1<<uint((bitOff+b)&7)) != 0 {
				v |= 1 << uint(b)
			}
		}
		if v >= int(nAlleles) {
			return nil, fmt.Errorf("%s: allele %d out of range at %s", r.name, v, marker)
		}
		hapAlleles[h] = v
		bitOff += nBits
	}
	return vcf.NewDenseRefRec(marker, hapAlleles), nil
}
