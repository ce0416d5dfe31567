package vcf

import (
	"bufio"
	"compress/flate"
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/grailbio/base/file"
	"github.com/grailbio/phase/encoding/bgzf"
)

// WriteOpts selects the FORMAT fields emitted alongside GT for imputed
// records.
type WriteOpts struct {
	DS bool // per-ALT-allele posterior dose
	AP bool // per-haplotype allele posteriors (AP1/AP2)
	GP bool // genotype posteriors
}

// Writer emits a BGZF-framed VCF 4.2 stream.  Genotypes are always written
// phased.  Close writes the empty BGZF EOF block.
type Writer struct {
	samples *Samples
	opts    WriteOpts
	bw      *bgzf.Writer
	buf     *bufio.Writer
	line    []byte
	closer  func() error
}

// Create creates the output path through base/file and returns a Writer.
func Create(ctx context.Context, path string, samples *Samples, opts WriteOpts) (*Writer, error) {
	f, err := file.Create(ctx, path)
	if err != nil {
		return nil, err
	}
	w, err := NewWriter(f.Writer(ctx), samples, opts)
	if err != nil {
		_ = f.Close(ctx)
		return nil, err
	}
	w.closer = func() error { return f.Close(ctx) }
	return w, nil
}

// NewWriter wraps an io.Writer sink.
func NewWriter(sink io.Writer, samples *Samples, opts WriteOpts) (*Writer, error) {
	bw, err := bgzf.NewWriter(sink, flate.DefaultCompression)
	if err != nil {
		return nil, err
	}
	return &Writer{
		samples: samples,
		opts:    opts,
		bw:      bw,
		buf:     bufio.NewWriterSize(bw, 1<<20),
	}, nil
}

// WriteHeader writes the meta lines and the #CHROM header.
func (w *Writer) WriteHeader() error {
	fmt.Fprintf(w.buf, "##fileformat=VCFv4.2\n")
	fmt.Fprintf(w.buf, "##FORMAT=<ID=GT,Number=1,Type=String,Description=\"Genotype\">\n")
	if w.opts.DS {
		fmt.Fprintf(w.buf, "##FORMAT=<ID=DS,Number=A,Type=Float,Description=\"estimated ALT dose [P(RA) + 2*P(AA)]\">\n")
	}
	if w.opts.AP {
		fmt.Fprintf(w.buf, "##FORMAT=<ID=AP1,Number=A,Type=Float,Description=\"estimated ALT dose on first haplotype\">\n")
		fmt.Fprintf(w.buf, "##FORMAT=<ID=AP2,Number=A,Type=Float,Description=\"estimated ALT dose on second haplotype\">\n")
	}
	if w.opts.GP {
		fmt.Fprintf(w.buf, "##FORMAT=<ID=GP,Number=G,Type=Float,Description=\"estimated genotype probability\">\n")
	}
	fmt.Fprintf(w.buf, "#CHROM\tPOS\tID\tREF\tALT\tQUAL\tFILTER\tINFO\tFORMAT")
	for i := 0; i < w.samples.NSamples(); i++ {
		w.buf.WriteByte('\t')
		w.buf.WriteString(w.samples.Name(i))
	}
	return w.buf.WriteByte('\n')
}

// sitePrefix appends the eight fixed columns plus FORMAT.
func (w *Writer) sitePrefix(m Marker, format string) {
	w.line = w.line[:0]
	w.line = append(w.line, m.Chrom().String()...)
	w.line = append(w.line, '\t')
	w.line = strconv.AppendInt(w.line, int64(m.Pos()), 10)
	w.line = append(w.line, '\t')
	w.line = append(w.line, m.ID()...)
	w.line = append(w.line, '\t')
	w.line = append(w.line, m.Allele(0)...)
	w.line = append(w.line, '\t')
	if m.NAlleles() == 1 {
		w.line = append(w.line, '.')
	} else {
		for a := 1; a < m.NAlleles(); a++ {
			if a > 1 {
				w.line = append(w.line, ',')
			}
			w.line = append(w.line, m.Allele(a)...)
		}
	}
	w.line = append(w.line, "\t.\tPASS\t"...)
	if m.End() >= 0 {
		w.line = append(w.line, "END="...)
		w.line = strconv.AppendInt(w.line, int64(m.End()), 10)
	} else {
		w.line = append(w.line, '.')
	}
	w.line = append(w.line, '\t')
	w.line = append(w.line, format...)
}

// WritePhased writes one record with only the GT field.  allele(h) returns
// the phased allele of haplotype h.
func (w *Writer) WritePhased(m Marker, allele func(h int) int) error {
	w.sitePrefix(m, "GT")
	for s := 0; s < w.samples.NSamples(); s++ {
		w.line = append(w.line, '\t')
		w.line = strconv.AppendInt(w.line, int64(allele(2*s)), 10)
		w.line = append(w.line, '|')
		w.line = strconv.AppendInt(w.line, int64(allele(2*s+1)), 10)
	}
	w.line = append(w.line, '\n')
	_, err := w.buf.Write(w.line)
	return err
}

// WriteImputed writes one record with GT plus the configured posterior
// fields.  ap1[s][a] and ap2[s][a] are the per-haplotype allele posteriors
// of sample s.
func (w *Writer) WriteImputed(m Marker, allele func(h int) int, ap1, ap2 [][]float32) error {
	format := "GT"
	if w.opts.DS {
		format += ":DS"
	}
	if w.opts.AP {
		format += ":AP1:AP2"
	}
	if w.opts.GP {
		format += ":GP"
	}
	w.sitePrefix(m, format)
	nAlleles := m.NAlleles()
	for s := 0; s < w.samples.NSamples(); s++ {
		w.line = append(w.line, '\t')
		w.line = strconv.AppendInt(w.line, int64(allele(2*s)), 10)
		w.line = append(w.line, '|')
		w.line = strconv.AppendInt(w.line, int64(allele(2*s+1)), 10)
		p1, p2 := ap1[s], ap2[s]
		if w.opts.DS {
			w.line = append(w.line, ':')
			for a := 1; a < nAlleles; a++ {
				if a > 1 {
					w.line = append(w.line, ',')
				}
				w.line = appendProb(w.line, p1[a]+p2[a])
			}
		}
		if w.opts.AP {
			for _, p := range [2][]float32{p1, p2} {
				w.line = append(w.line, ':')
				for a := 1; a < nAlleles; a++ {
					if a > 1 {
						w.line = append(w.line, ',')
					}
					w.line = appendProb(w.line, p[a])
				}
			}
		}
		if w.opts.GP {
			w.line = append(w.line, ':')
			// Unordered genotypes in VCF GP order: for alleles j <= k the
			// index is k(k+1)/2 + j.
			first := true
			for k := 0; k < nAlleles; k++ {
				for j := 0; j <= k; j++ {
					if !first {
						w.line = append(w.line, ',')
					}
					first = false
					gp := p1[j]*p2[k] + p1[k]*p2[j]
					if j == k {
						gp = p1[j] * p2[j]
					}
					w.line = appendProb(w.line, gp)
				}
			}
		}
	}
	w.line = append(w.line, '\n')
	_, err := w.buf.Write(w.line)
	return err
}

// appendProb formats a probability-like value with two decimals.
func appendProb(dst []byte, v float32) []byte {
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	return strconv.AppendFloat(dst, float64(v), 'f', 2, 32)
}

// Close flushes buffered records and writes the BGZF EOF block.
func (w *Writer) Close() error {
	if err := w.buf.Flush(); err != nil {
		return err
	}
	if err := w.bw.Close(); err != nil {
		return err
	}
	if w.closer != nil {
		return w.closer()
	}
	return nil
}
