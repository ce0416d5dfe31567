package vcf

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/klauspost/pgzip"
)

// Region restricts reading to one chromosome, optionally to an inclusive
// base-pair interval.
type Region struct {
	Chrom string
	Start int32 // 0 means unbounded
	End   int32 // 0 means unbounded
}

// ParseRegion parses "chrom" or "chrom:start-end".
func ParseRegion(s string) (Region, error) {
	if s == "" {
		return Region{}, nil
	}
	colon := strings.LastIndexByte(s, ':')
	if colon < 0 {
		return Region{Chrom: s}, nil
	}
	r := Region{Chrom: s[:colon]}
	span := s[colon+1:]
	dash := strings.IndexByte(span, '-')
	if dash < 0 {
		return Region{}, fmt.Errorf("malformed chrom interval %q", s)
	}
	start, err := strconv.ParseInt(span[:dash], 10, 32)
	if err != nil {
		return Region{}, fmt.Errorf("malformed chrom interval %q", s)
	}
	end, err := strconv.ParseInt(span[dash+1:], 10, 32)
	if err != nil || end < start || start < 1 {
		return Region{}, fmt.Errorf("malformed chrom interval %q", s)
	}
	r.Start, r.End = int32(start), int32(end)
	return r, nil
}

// contains reports whether the marker position passes the region filter.
func (r Region) contains(chrom string, pos int32) bool {
	if r.Chrom == "" {
		return true
	}
	if chrom != r.Chrom {
		return false
	}
	if r.Start != 0 && pos < r.Start {
		return false
	}
	if r.End != 0 && pos > r.End {
		return false
	}
	return true
}

// ReadOpts configures a Reader.
type ReadOpts struct {
	Region         Region
	ExcludeSamples map[string]bool
	// ExcludeMarkers entries match either the marker identifier or the
	// CHROM:POS form.
	ExcludeMarkers map[string]bool
}

// Reader parses a text VCF stream into GTRec records.  Only the GT FORMAT
// field is read, and it must be listed first.
type Reader struct {
	name    string
	scanner *bufio.Scanner
	opts    ReadOpts
	samples *Samples
	keep    []int // input sample columns kept, after exclusion
	lineNo  int

	lastChrom ChromID
	lastPos   int32
	started   bool

	closer func() error
}

// Open opens a VCF path (plain or .gz/.bgz) through base/file.
func Open(ctx context.Context, path string, opts ReadOpts) (*Reader, error) {
	f, err := file.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	var src io.Reader = f.Reader(ctx)
	closer := func() error { return f.Close(ctx) }
	if strings.HasSuffix(path, ".gz") || strings.HasSuffix(path, ".bgz") {
		zr, err := pgzip.NewReader(bufio.NewReaderSize(src, 4<<20))
		if err != nil {
			_ = f.Close(ctx)
			return nil, errors.E(err, path)
		}
		src = zr
		closer = func() error {
			zr.Close() // nolint: errcheck
			return f.Close(ctx)
		}
	}
	r, err := NewReader(path, src, opts)
	if err != nil {
		_ = closer()
		return nil, err
	}
	r.closer = closer
	return r, nil
}

// NewReader parses the VCF header from src and returns a record reader.
// name is used in diagnostics only.
func NewReader(name string, src io.Reader, opts ReadOpts) (*Reader, error) {
	r := &Reader{name: name, opts: opts}
	r.scanner = bufio.NewScanner(src)
	r.scanner.Buffer(make([]byte, 1<<20), 1<<26)
	for r.scanner.Scan() {
		r.lineNo++
		line := r.scanner.Text()
		if strings.HasPrefix(line, "##") {
			continue
		}
		if strings.HasPrefix(line, "#CHROM") {
			return r, r.parseHeaderLine(line)
		}
		return nil, r.formatErr("missing #CHROM header line")
	}
	if err := r.scanner.Err(); err != nil {
		return nil, errors.E(err, name)
	}
	return nil, r.formatErr("missing #CHROM header line")
}

func (r *Reader) parseHeaderLine(line string) error {
	cols := strings.Split(line, "\t")
	if len(cols) < 10 {
		return r.formatErr("header has no sample columns")
	}
	if cols[8] != "FORMAT" {
		return r.formatErr("column 9 is %q, want FORMAT", cols[8])
	}
	var ids []string
	for i, id := range cols[9:] {
		if r.opts.ExcludeSamples[id] {
			continue
		}
		ids = append(ids, id)
		r.keep = append(r.keep, i)
	}
	if len(ids) == 0 {
		return r.formatErr("all samples excluded")
	}
	samples, err := NewSamples(ids)
	if err != nil {
		return r.formatErr("%v", err)
	}
	r.samples = samples
	return nil
}

// Samples returns the kept sample list.
func (r *Reader) Samples() *Samples { return r.samples }

// Close releases the underlying file, if the Reader owns one.
func (r *Reader) Close() error {
	if r.closer != nil {
		return r.closer()
	}
	return nil
}

func (r *Reader) formatErr(format string, args ...interface{}) error {
	return fmt.Errorf("%s:%d: %s", r.name, r.lineNo, fmt.Sprintf(format, args...))
}

// Read returns the next record passing the filters, or io.EOF.
func (r *Reader) Read() (*GTRec, error) {
	for r.scanner.Scan() {
		r.lineNo++
		line := r.scanner.Text()
		if len(line) == 0 || line[0] == '#' {
			continue
		}
		rec, keep, err := r.parseRecord(line)
		if err != nil {
			return nil, err
		}
		if keep {
			return rec, nil
		}
	}
	if err := r.scanner.Err(); err != nil {
		return nil, errors.E(err, r.name)
	}
	return nil, io.EOF
}

func (r *Reader) parseRecord(line string) (*GTRec, bool, error) {
	cols := strings.Split(line, "\t")
	if len(cols) < 10 {
		return nil, false, r.formatErr("record has %d columns, want >= 10", len(cols))
	}
	chromName := cols[0]
	pos64, err := strconv.ParseInt(cols[1], 10, 32)
	if err != nil || pos64 < 1 {
		return nil, false, r.formatErr("bad POS %q", cols[1])
	}
	pos := int32(pos64)
	if !r.opts.Region.contains(chromName, pos) {
		return nil, false, nil
	}
	if r.opts.ExcludeMarkers != nil {
		if r.opts.ExcludeMarkers[cols[2]] || r.opts.ExcludeMarkers[chromName+":"+cols[1]] {
			return nil, false, nil
		}
		excluded := false
		for _, id := range strings.Split(cols[2], ";") {
			if r.opts.ExcludeMarkers[id] {
				excluded = true
				break
			}
		}
		if excluded {
			return nil, false, nil
		}
	}
	chrom := InternChrom(chromName)
	if r.started {
		if chrom == r.lastChrom && pos <= r.lastPos {
			return nil, false, r.formatErr("non-monotone position %s:%d after %d",
				chromName, pos, r.lastPos)
		}
	}
	r.started, r.lastChrom, r.lastPos = true, chrom, pos

	alleles := make([]string, 1, 2)
	alleles[0] = cols[3]
	if cols[4] != "." {
		alleles = append(alleles, strings.Split(cols[4], ",")...)
	}
	end := int32(-1)
	if idx := strings.Index(cols[7], "END="); idx >= 0 &&
		(idx == 0 || cols[7][idx-1] == ';') {
		v := cols[7][idx+4:]
		if semi := strings.IndexByte(v, ';'); semi >= 0 {
			v = v[:semi]
		}
		e, err := strconv.ParseInt(v, 10, 32)
		if err != nil {
			return nil, false, r.formatErr("bad INFO END %q", v)
		}
		end = int32(e)
	}
	marker, err := NewMarker(chrom, pos, cols[2], alleles, end)
	if err != nil {
		return nil, false, r.formatErr("%v", err)
	}
	if !strings.HasPrefix(cols[8], "GT") ||
		(len(cols[8]) > 2 && cols[8][2] != ':') {
		return nil, false, r.formatErr("FORMAT %q does not start with GT", cols[8])
	}

	n := len(r.keep)
	a1 := make([]int16, n)
	a2 := make([]int16, n)
	phased := make([]bool, n)
	nAlleles := marker.NAlleles()
	for i, col := range r.keep {
		tok := cols[9+col]
		if colon := strings.IndexByte(tok, ':'); colon >= 0 {
			tok = tok[:colon]
		}
		sep := strings.IndexAny(tok, "|/")
		if sep < 0 {
			return nil, false, r.formatErr("haploid or malformed genotype %q", tok)
		}
		v1, err1 := parseAllele(tok[:sep], nAlleles)
		v2, err2 := parseAllele(tok[sep+1:], nAlleles)
		if err1 != nil || err2 != nil {
			return nil, false, r.formatErr("bad genotype %q at %s", tok, marker)
		}
		a1[i], a2[i] = v1, v2
		phased[i] = tok[sep] == '|' && v1 >= 0 && v2 >= 0
	}
	return NewGTRec(marker, a1, a2, phased), true, nil
}

func parseAllele(s string, nAlleles int) (int16, error) {
	if s == "." {
		return -1, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 || v >= nAlleles {
		return 0, fmt.Errorf("allele %q out of range", s)
	}
	return int16(v), nil
}

// RefReader adapts a Reader into a stream of phased reference records.
type RefReader struct {
	r *Reader
	// MaxSparse is the carrier-count bound above which records are stored
	// densely; see NewRefRecFromAlleles.
	maxSparse int
	scratch   []int
}

// NewRefReader wraps r.  maxSparse <= 0 picks nHaps/16.
func NewRefReader(r *Reader, maxSparse int) *RefReader {
	if maxSparse <= 0 {
		maxSparse = (2 * r.Samples().NSamples()) / 16
	}
	return &RefReader{r: r, maxSparse: maxSparse}
}

// Samples returns the panel sample list.
func (rr *RefReader) Samples() *Samples { return rr.r.Samples() }

// Close closes the underlying reader.
func (rr *RefReader) Close() error { return rr.r.Close() }

// Read returns the next reference record, or io.EOF.  Unphased or missing
// genotypes are a format error: a reference panel must be complete.
func (rr *RefReader) Read() (*RefGTRec, error) {
	rec, err := rr.r.Read()
	if err != nil {
		return nil, err
	}
	n := rec.NSamples()
	if cap(rr.scratch) < 2*n {
		rr.scratch = make([]int, 2*n)
	}
	alleles := rr.scratch[:2*n]
	for s := 0; s < n; s++ {
		if !rec.Phased(s) || rec.Allele1(s) < 0 || rec.Allele2(s) < 0 {
			return nil, fmt.Errorf("%s: unphased or missing reference genotype for sample %s at %s",
				rr.r.name, rr.r.samples.Name(s), rec.Marker())
		}
		alleles[2*s] = rec.Allele1(s)
		alleles[2*s+1] = rec.Allele2(s)
	}
	return NewRefRecFromAlleles(rec.Marker(), alleles, rr.maxSparse), nil
}
