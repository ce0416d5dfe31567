package vcf

import (
	"math/rand"
	"testing"

	"github.com/grailbio/testutil/expect"
	"github.com/stretchr/testify/require"
)

// TestRefRecRepresentations checks that the sparse and dense
// representations answer identical Allele queries.
func TestRefRecRepresentations(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	marker := testMarker(t, "1", 500, "A", "C", "G")
	nHaps := 64
	alleles := make([]int, nHaps)
	for h := range alleles {
		// Allele 0 dominates; 1 and 2 are rare.
		switch {
		case rng.Intn(10) == 0:
			alleles[h] = 1
		case rng.Intn(20) == 0:
			alleles[h] = 2
		}
	}
	dense := NewDenseRefRec(marker, alleles)
	sparse := NewRefRecFromAlleles(marker, alleles, nHaps) // bound never exceeded: sparse
	require.True(t, sparse.IsSparse())
	require.False(t, dense.IsSparse())
	for h := 0; h < nHaps; h++ {
		expect.EQ(t, dense.Allele(h), alleles[h])
		expect.EQ(t, sparse.Allele(h), alleles[h])
	}
}

func TestRefRecThreshold(t *testing.T) {
	marker := testMarker(t, "1", 600, "A", "C")
	alleles := []int{0, 0, 0, 1, 1, 1}
	// Most frequent allele has 3 carriers; a bound below 3 minor carriers
	// forces the dense form.
	dense := NewRefRecFromAlleles(marker, alleles, 2)
	require.False(t, dense.IsSparse())
	sparse := NewRefRecFromAlleles(marker, alleles, 3)
	require.True(t, sparse.IsSparse())
	require.Equal(t, []int32{3, 4, 5}, sparse.Carriers(1))
}

func TestViews(t *testing.T) {
	samples, err := NewSamples([]string{"S1", "S2"})
	require.NoError(t, err)
	recs := []*GTRec{
		NewGTRec(testMarker(t, "1", 100, "A", "C"), []int16{0, 1}, []int16{1, 1}, nil),
		NewGTRec(testMarker(t, "1", 200, "G", "T"), []int16{0, 0}, []int16{0, 1}, nil),
		NewGTRec(testMarker(t, "1", 300, "A", "T"), []int16{1, 0}, []int16{1, 0}, nil),
	}
	gt := NewBasicGT(samples, recs)
	expect.EQ(t, gt.NMarkers(), 3)
	expect.EQ(t, gt.NHaps(), 4)
	expect.EQ(t, gt.Allele(0, 1), 1)
	expect.EQ(t, gt.Allele(1, 3), 1)

	sub := RestrictGT(gt, []int{0, 2})
	expect.EQ(t, sub.NMarkers(), 2)
	expect.EQ(t, sub.Allele1(1, 0), 1)
	expect.EQ(t, sub.BaseIdx(1), 2)

	// Splice a phased overlap over the first marker.
	over := NewMarkers([]Marker{recs[0].Marker()})
	rows := [][]uint64{over.Pack([]int{1}), over.Pack([]int{0}), over.Pack([]int{1}), over.Pack([]int{1})}
	overlap := NewHapsGT(over, samples, rows)
	spliced := SpliceGT(overlap, gt)
	expect.EQ(t, spliced.Allele1(0, 0), 1) // from overlap, not the record
	expect.EQ(t, spliced.Allele2(0, 0), 0)
	expect.EQ(t, spliced.Allele1(1, 0), 0) // past the overlap
	require.True(t, spliced.Phased(0, 1))
}
