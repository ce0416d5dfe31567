// Package window splits an ordered stream of genotype records into
// overlapping genetic-length windows and maps reference-marker indices to
// target-marker indices within each window.
package window

import (
	"fmt"
	"io"

	"github.com/grailbio/base/log"
	"github.com/grailbio/phase/vcf"
)

// PairRec is one marker of the merged input stream: the reference-panel
// record (nil when no panel was supplied) and the target record (nil at
// reference-only markers).
type PairRec struct {
	Ref  *vcf.RefGTRec
	Targ *vcf.GTRec
}

// Marker returns the record's marker.
func (r PairRec) Marker() vcf.Marker {
	if r.Ref != nil {
		return r.Ref.Marker()
	}
	return r.Targ.Marker()
}

// InTarget reports whether the marker is genotyped in the target samples.
func (r PairRec) InTarget() bool { return r.Targ != nil }

// Source yields PairRec records in ascending chromosome/position order,
// then io.EOF.
type Source interface {
	Next() (PairRec, error)
}

// TargSource adapts a target-only VCF reader into a Source.
type TargSource struct {
	r *vcf.Reader
}

// NewTargSource wraps a target reader.
func NewTargSource(r *vcf.Reader) *TargSource { return &TargSource{r: r} }

// Next implements Source.
func (s *TargSource) Next() (PairRec, error) {
	rec, err := s.r.Read()
	if err != nil {
		return PairRec{}, err
	}
	return PairRec{Targ: rec}, nil
}

// RefSource yields reference records.
type RefSource interface {
	Read() (*vcf.RefGTRec, error)
}

// MergedSource aligns a target stream against a reference-panel stream by
// (chromosome, position, alleles).  Reference markers absent from the
// target are passed through with Targ == nil.  Target markers absent from
// the panel are dropped and counted (reported once at EOF); conflicting
// allele lists at a shared position are a fatal data-consistency error.
type MergedSource struct {
	targ *vcf.Reader
	ref  RefSource

	targRec *vcf.GTRec
	targEOF bool
	refRec  *vcf.RefGTRec
	refEOF  bool
	primed  bool

	nDropped int
}

// NewMergedSource builds the aligned source.
func NewMergedSource(targ *vcf.Reader, ref RefSource) *MergedSource {
	return &MergedSource{targ: targ, ref: ref}
}

func (s *MergedSource) fillTarg() error {
	if s.targRec != nil || s.targEOF {
		return nil
	}
	rec, err := s.targ.Read()
	if err == io.EOF {
		s.targEOF = true
		return nil
	}
	if err != nil {
		return err
	}
	s.targRec = rec
	return nil
}

func (s *MergedSource) fillRef() error {
	if s.refRec != nil || s.refEOF {
		return nil
	}
	rec, err := s.ref.Read()
	if err == io.EOF {
		s.refEOF = true
		return nil
	}
	if err != nil {
		return err
	}
	s.refRec = rec
	return nil
}

// Next implements Source.
func (s *MergedSource) Next() (PairRec, error) {
	s.primed = true
	for {
		if err := s.fillTarg(); err != nil {
			return PairRec{}, err
		}
		if err := s.fillRef(); err != nil {
			return PairRec{}, err
		}
		switch {
		case s.refEOF && s.targEOF:
			if s.nDropped > 0 {
				log.Printf("window: dropped %d target markers absent from the reference panel", s.nDropped)
				s.nDropped = 0
			}
			return PairRec{}, io.EOF
		case s.refEOF:
			// Trailing target markers with no panel coverage.
			s.targRec, s.nDropped = nil, s.nDropped+1
			continue
		case s.targEOF:
			rec := s.refRec
			s.refRec = nil
			return PairRec{Ref: rec}, nil
		}
		rm, tm := s.refRec.Marker(), s.targRec.Marker()
		switch {
		case rm.Chrom() != tm.Chrom():
			// Reference chromosomes not present in the target stream are
			// skipped until the panel reaches the target's chromosome.
			s.refRec = nil
			continue
		case rm.Pos() < tm.Pos():
			rec := s.refRec
			s.refRec = nil
			return PairRec{Ref: rec}, nil
		case rm.Pos() > tm.Pos():
			s.targRec, s.nDropped = nil, s.nDropped+1
			continue
		default:
			if !rm.Equal(tm) {
				return PairRec{}, fmt.Errorf(
					"inconsistent alleles between target and reference at %s vs %s", tm, rm)
			}
			pr := PairRec{Ref: s.refRec, Targ: s.targRec}
			s.refRec, s.targRec = nil, nil
			return pr, nil
		}
	}
}
