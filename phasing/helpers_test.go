package phasing

import (
	"fmt"
	"testing"

	"github.com/grailbio/phase/vcf"
	"github.com/stretchr/testify/require"
)

// testOpts returns a small, fast configuration for engine tests.
func testOpts() *Opts {
	opts := DefaultOpts
	opts.Out = "out"
	opts.GT = "gt.vcf"
	opts.Burnin = 3
	opts.Iterations = 5
	opts.NThreads = 2
	opts.Seed = 12345
	return &opts
}

// genotype is one sample's unordered input genotype at one marker;
// allele -1 is missing.
type genotype struct {
	a1, a2 int16
	phased bool
}

func hom(a int16) genotype          { return genotype{a, a, true} }
func het(a, b int16) genotype       { return genotype{a, b, false} }
func phasedHet(a, b int16) genotype { return genotype{a, b, true} }
func missing() genotype             { return genotype{-1, -1, false} }

// makeGT builds a BasicGT from rows[marker][sample].  Markers are biallelic
// and spaced 100kb (0.1 cM at the default rate) apart.
func makeGT(t *testing.T, chrom string, rows [][]genotype) *vcf.BasicGT {
	nSamples := len(rows[0])
	ids := make([]string, nSamples)
	for i := range ids {
		ids[i] = fmt.Sprintf("t%02d", i)
	}
	samples, err := vcf.NewSamples(ids)
	require.NoError(t, err)
	recs := make([]*vcf.GTRec, len(rows))
	for m, row := range rows {
		require.Equal(t, nSamples, len(row))
		marker, err := vcf.NewMarker(vcf.InternChrom(chrom), int32(100000*(m+1)), ".",
			[]string{"A", "C"}, -1)
		require.NoError(t, err)
		a1 := make([]int16, nSamples)
		a2 := make([]int16, nSamples)
		ph := make([]bool, nSamples)
		for s, g := range row {
			a1[s], a2[s], ph[s] = g.a1, g.a2, g.phased && g.a1 >= 0
		}
		recs[m] = vcf.NewGTRec(marker, a1, a2, ph)
	}
	return vcf.NewBasicGT(samples, recs)
}

// makeRefGT builds a phased reference panel from rows[marker][hap].
func makeRefGT(t *testing.T, chrom string, rows [][]int) *vcf.RefGT {
	nHaps := len(rows[0])
	require.Equal(t, 0, nHaps%2)
	ids := make([]string, nHaps/2)
	for i := range ids {
		ids[i] = fmt.Sprintf("r%02d", i)
	}
	samples, err := vcf.NewSamples(ids)
	require.NoError(t, err)
	recs := make([]*vcf.RefGTRec, len(rows))
	for m, row := range rows {
		marker, err := vcf.NewMarker(vcf.InternChrom(chrom), int32(100000*(m+1)), ".",
			[]string{"A", "C"}, -1)
		require.NoError(t, err)
		recs[m] = vcf.NewRefRecFromAlleles(marker, row, nHaps/4+1)
	}
	return vcf.NewRefGT(samples, recs)
}

// unordered returns the sorted allele pair of sample s at marker m.
func unordered(gt vcf.GT, m, s int) (int, int) {
	a, b := gt.Allele1(m, s), gt.Allele2(m, s)
	if b < a {
		a, b = b, a
	}
	return a, b
}
