package phasing

import (
	"testing"

	"github.com/grailbio/testutil/expect"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCarriersClassification(t *testing.T) {
	// 100 samples; rare bound floor(100 * 0.03) = 3 carriers.
	nSamples := 100
	row := make([]genotype, nSamples)
	for s := range row {
		row[s] = hom(0)
	}
	// Two carriers of allele 1: one het, one hom.
	row[5] = het(0, 1)
	row[9] = genotype{1, 1, true}
	gt := makeGT(t, "carriers", [][]genotype{row, row})
	c := NewCarriers(gt, 0.03)
	expect.EQ(t, c.MaxCarriers(), 3)
	assert.True(t, c.IsHiFreq(0, 0))
	assert.False(t, c.IsHiFreq(0, 1))
	require.Equal(t, []int32{5, 9}, c.List(0, 1))
	// Allele 0 is high-frequency at every marker but allele 1 is rare, so
	// the marker is not a high-frequency marker.
	assert.False(t, c.IsHiFreqMarker(0))
}

// TestHiFreqFallback exercises both fallback bounds: fewer than 2
// high-frequency markers, and more than 90% of markers high-frequency.
func TestHiFreqFallback(t *testing.T) {
	opts := testOpts()

	// All markers polymorphic and common: |H| = nMarkers > 0.9*nMarkers.
	rows := make([][]genotype, 20)
	for m := range rows {
		rows[m] = []genotype{het(0, 1), hom(0), hom(1), het(0, 1)}
	}
	fd := NewFixedData(opts, makeGT(t, "fb-high", rows), nil, nil)
	assert.True(t, fd.LowFreqSuppressed)
	expect.EQ(t, fd.NHiFreq(), 20)
	assert.False(t, fd.Stage2Needed())

	// One common marker among rare ones: |H| = 1 < 2.  Raise the rare
	// bound so single carriers classify as rare.
	opts.Rare = 0.03
	nSamples := 100
	rows = make([][]genotype, 10)
	for m := range rows {
		rows[m] = make([]genotype, nSamples)
		for s := range rows[m] {
			rows[m][s] = hom(0)
		}
		if m == 0 {
			for s := 0; s < nSamples/2; s++ {
				rows[m][s] = het(0, 1)
			}
		} else {
			rows[m][m] = het(0, 1) // a single carrier: rare
		}
	}
	fd = NewFixedData(opts, makeGT(t, "fb-low", rows), nil, nil)
	assert.True(t, fd.LowFreqSuppressed)
	expect.EQ(t, fd.NHiFreq(), 10)
}

// TestHiFreqSubset: a balanced mix keeps a strict high-frequency subset
// and interpolation weights tie each low-frequency marker to its
// neighbours.
func TestHiFreqSubset(t *testing.T) {
	opts := testOpts()
	opts.Rare = 0.03
	nSamples := 100
	nMarkers := 20
	rows := make([][]genotype, nMarkers)
	for m := range rows {
		rows[m] = make([]genotype, nSamples)
		for s := range rows[m] {
			rows[m][s] = hom(0)
		}
		if m%2 == 0 {
			// Common marker: half the samples carry allele 1.
			for s := 0; s < nSamples/2; s++ {
				rows[m][s] = het(0, 1)
			}
		} else {
			rows[m][0] = het(0, 1) // rare
		}
	}
	fd := NewFixedData(opts, makeGT(t, "subset", rows), nil, nil)
	require.False(t, fd.LowFreqSuppressed)
	expect.EQ(t, fd.NHiFreq(), 10)
	assert.True(t, fd.Stage2Needed())

	for m := 0; m < nMarkers; m++ {
		if m%2 == 0 {
			expect.EQ(t, int(fd.AllToHi[m]), m/2)
			assert.Equal(t, float32(1), fd.PrevWt[m])
		} else {
			expect.EQ(t, int(fd.AllToHi[m]), -1)
			expect.EQ(t, int(fd.PrevHiFreq[m]), m/2)
			if m < nMarkers-1 {
				// Markers are equidistant: the weight toward the previous
				// high-frequency marker is 1/2.
				assert.InDelta(t, 0.5, float64(fd.PrevWt[m]), 1e-6)
			}
		}
	}
}
