package phasing

import (
	"io"
	"testing"

	"github.com/grailbio/phase/vcf"
	"github.com/grailbio/phase/window"
	"github.com/grailbio/testutil/expect"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// collector implements OutputWriter, retaining emitted records.
type collector struct {
	nHaps   int
	markers []vcf.Marker
	haps    [][]int // per record: allele per haplotype
}

func (c *collector) record(m vcf.Marker, allele func(h int) int, nHaps int) {
	row := make([]int, nHaps)
	for h := range row {
		row[h] = allele(h)
	}
	c.markers = append(c.markers, m)
	c.haps = append(c.haps, row)
}

func (c *collector) WritePhased(m vcf.Marker, allele func(h int) int) error {
	c.record(m, allele, c.nHaps)
	return nil
}

func (c *collector) WriteImputed(m vcf.Marker, allele func(h int) int, ap1, ap2 [][]float32) error {
	c.record(m, allele, c.nHaps)
	return nil
}

var _ OutputWriter = (*collector)(nil)

type gtSource struct {
	gt *vcf.BasicGT
	m  int
}

func (s *gtSource) Next() (window.PairRec, error) {
	if s.m >= s.gt.NMarkers() {
		return window.PairRec{}, io.EOF
	}
	rec := s.gt.Rec(s.m)
	s.m++
	return window.PairRec{Targ: rec}, nil
}

// pairSource serves aligned target+reference records.
type pairSource struct {
	gt  *vcf.BasicGT
	ref *vcf.RefGT
	m   int
}

func (s *pairSource) Next() (window.PairRec, error) {
	if s.m >= s.gt.NMarkers() {
		return window.PairRec{}, io.EOF
	}
	pr := window.PairRec{Targ: s.gt.Rec(s.m), Ref: s.ref.Rec(s.m)}
	s.m++
	return pr, nil
}

func (c *collector) run(t *testing.T, opts *Opts, gt *vcf.BasicGT, ref *vcf.RefGT) {
	c.nHaps = gt.NHaps()
	var src window.Source
	var refSamples *vcf.Samples
	if ref != nil {
		src = &pairSource{gt: gt, ref: ref}
		refSamples = ref.Samples()
	} else {
		src = &gtSource{gt: gt}
	}
	require.NoError(t, Run(opts, gt.Samples(), refSamples, src, nil, c))
}

// checkGenotypesPreserved asserts that emitted haplotype pairs carry the
// input's unordered genotypes wherever the input was called.
func checkGenotypesPreserved(t *testing.T, gt *vcf.BasicGT, c *collector) {
	require.Equal(t, gt.NMarkers(), len(c.markers))
	for m := range c.markers {
		require.True(t, c.markers[m].Equal(gt.Markers().Marker(m)))
		for s := 0; s < gt.NSamples(); s++ {
			in1, in2 := unordered(gt, m, s)
			if in1 < 0 {
				continue // missing input: imputed freely
			}
			out1, out2 := c.haps[m][2*s], c.haps[m][2*s+1]
			if out2 < out1 {
				out1, out2 = out2, out1
			}
			assert.Equal(t, [2]int{in1, in2}, [2]int{out1, out2},
				"marker %d sample %d", m, s)
		}
	}
}

// TestPhasePureHeterozygotes: identical twins with all-heterozygote
// genotypes phase to identical haplotype pairs up to a swap.  A third,
// input-phased sample provides the haplotype backbone both twins align
// to.
func TestPhasePureHeterozygotes(t *testing.T) {
	rows := make([][]genotype, 4)
	for m := range rows {
		rows[m] = []genotype{het(0, 1), het(0, 1), phasedHet(0, 1)}
	}
	opts := testOpts()
	opts.NE = 1e4
	gt := makeGT(t, "purehet", rows)
	c := &collector{}
	c.run(t, opts, gt, nil)

	checkGenotypesPreserved(t, gt, c)
	// The twins agree up to a haplotype swap.
	same, crossed := true, true
	for m := range c.haps {
		row := c.haps[m]
		if row[0] != row[2] || row[1] != row[3] {
			same = false
		}
		if row[0] != row[3] || row[1] != row[2] {
			crossed = false
		}
	}
	assert.True(t, same || crossed, "twin haplotypes disagree: %v", c.haps)
}

// TestImputeMissingFromRef: a missing genotype surrounded by homozygous
// reference imputes to the panel's allele.
func TestImputeMissingFromRef(t *testing.T) {
	rows := [][]genotype{
		{hom(0)}, {missing()}, {hom(0)},
	}
	refRows := [][]int{
		{0, 0, 0, 0, 0, 0},
		{0, 0, 0, 0, 0, 0},
		{0, 0, 0, 0, 0, 0},
	}
	opts := testOpts()
	gt := makeGT(t, "missref", rows)
	ref := makeRefGT(t, "missref-ref", refRows)
	c := &collector{}
	c.run(t, opts, gt, ref)

	require.Equal(t, 3, len(c.haps))
	for m := range c.haps {
		assert.Equal(t, []int{0, 0}, c.haps[m], "marker %d", m)
	}
}

// TestWindowSplice: multi-window runs emit every marker exactly once, in
// order, preserving genotypes across the splice points.
func TestWindowSplice(t *testing.T) {
	nMarkers := 60 // 6 cM at 0.1 cM spacing
	rows := make([][]genotype, nMarkers)
	for m := range rows {
		rows[m] = []genotype{het(0, 1), hom(int16(m % 2)), het(0, 1), hom(0)}
	}
	opts := testOpts()
	opts.WindowCM = 2.0
	opts.OverlapCM = 0.5
	gt := makeGT(t, "splice", rows)
	c := &collector{}
	c.run(t, opts, gt, nil)
	checkGenotypesPreserved(t, gt, c)
}

// TestDeterminism: identical seed and thread count reproduce the output
// bit for bit.
func TestDeterminism(t *testing.T) {
	nMarkers := 30
	rows := make([][]genotype, nMarkers)
	for m := range rows {
		rows[m] = []genotype{het(0, 1), hom(0), het(0, 1), hom(1), het(0, 1), hom(int16(m % 2))}
	}
	opts := testOpts()
	gt := makeGT(t, "det", rows)

	c1 := &collector{}
	c1.run(t, opts, gt, nil)
	c2 := &collector{}
	c2.run(t, opts, gt, nil)
	require.Equal(t, c1.haps, c2.haps)
}

// TestPhasingMonotonicity: the per-sample unphased set shrinks every
// iteration and is empty after the final one.
func TestPhasingMonotonicity(t *testing.T) {
	nMarkers := 25
	rows := make([][]genotype, nMarkers)
	for m := range rows {
		rows[m] = []genotype{het(0, 1), het(0, 1), hom(0), hom(1)}
	}
	opts := testOpts()
	gt := makeGT(t, "mono", rows)
	fd := NewFixedData(opts, gt, nil, nil)
	ep := NewEstPhase(gt, opts.Seed)

	prev := make([]map[int32]bool, ep.NSamples())
	for s := range prev {
		prev[s] = map[int32]bool{}
		for _, m := range ep.Get(s).Unphased {
			prev[s][m] = true
		}
	}
	// The het samples start with every marker unphased.
	expect.EQ(t, len(prev[0]), nMarkers)
	recomb := opts.initRecombFactor(fd.NHaps)
	for it := 0; it < opts.totalIts(); it++ {
		pd := newPhaseData(fd, ep, it, recomb, opts.Seed)
		phaseIteration(pd, ep, opts.Seed)
		for s := 0; s < ep.NSamples(); s++ {
			cur := ep.Get(s).Unphased
			for _, m := range cur {
				assert.True(t, prev[s][m], "iteration %d: marker %d newly unphased", it, m)
			}
			next := map[int32]bool{}
			for _, m := range cur {
				next[m] = true
			}
			prev[s] = next
		}
	}
	for s := 0; s < ep.NSamples(); s++ {
		assert.Empty(t, ep.Get(s).Unphased, "sample %d still unphased", s)
	}
}
