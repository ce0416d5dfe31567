package phasing

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// rawSteps builds a CodedSteps directly from a symbol matrix
// syms[step][hap], one marker per step.
func rawSteps(syms [][]int32) *CodedSteps {
	nSteps := len(syms)
	nHaps := len(syms[0])
	cs := &CodedSteps{
		starts:   make([]int32, nSteps),
		seqs:     syms,
		nSeqs:    make([]int32, nSteps),
		nHaps:    nHaps,
		nMarkers: nSteps,
	}
	for k := range syms {
		cs.starts[k] = int32(k)
		max := int32(0)
		for _, v := range syms[k] {
			if v > max {
				max = v
			}
		}
		cs.nSeqs[k] = max + 1
	}
	return cs
}

// matchStart returns the smallest step s such that haps x and y carry
// identical symbols on [s, k].
func matchStart(syms [][]int32, x, y int32, k int) int {
	s := k + 1
	for j := k; j >= 0 && syms[j][x] == syms[j][y]; j-- {
		s = j
	}
	return s
}

// TestPbwtDivergence: after a forward sweep through step k, adjacent
// prefix-array entries a[i-1], a[i] match exactly on steps [d[i], k], and
// d[i] is tight (they differ at d[i]-1 when d[i] > 0).  Sentinels hold at
// both ends.
func TestPbwtDivergence(t *testing.T) {
	rng := rand.New(rand.NewSource(10))
	for trial := 0; trial < 10; trial++ {
		nHaps := 8 + rng.Intn(24)
		nSteps := 5 + rng.Intn(20)
		syms := make([][]int32, nSteps)
		for k := range syms {
			syms[k] = make([]int32, nHaps)
			for h := range syms[k] {
				syms[k][h] = int32(rng.Intn(2 + rng.Intn(3)))
			}
		}
		cs := rawSteps(syms)
		sw := newSweep(nil, cs, 10, rng)
		sw.reset(0)
		for k := 0; k < nSteps; k++ {
			sw.updateFwd(k)

			// The prefix array is a permutation.
			seen := make([]bool, nHaps)
			for _, h := range sw.a {
				require.False(t, seen[h])
				seen[h] = true
			}
			// Sentinels.
			assert.Equal(t, int32(k+1), sw.d[0])
			assert.Equal(t, int32(k+1), sw.d[nHaps])
			for i := 1; i < nHaps; i++ {
				want := matchStart(syms, sw.a[i-1], sw.a[i], k)
				assert.Equal(t, int32(want), sw.d[i], "step %d pos %d", k, i)
			}
		}
	}
}

// TestPbwtBackwardDivergence mirrors the forward property: d[i] is the
// largest step s such that a[i-1], a[i] match on [k, s].
func TestPbwtBackwardDivergence(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	nHaps := 16
	nSteps := 12
	syms := make([][]int32, nSteps)
	for k := range syms {
		syms[k] = make([]int32, nHaps)
		for h := range syms[k] {
			syms[k][h] = int32(rng.Intn(3))
		}
	}
	cs := rawSteps(syms)
	sw := newSweep(nil, cs, 10, rng)
	sw.reset(int32(nSteps - 1))
	for k := nSteps - 1; k >= 0; k-- {
		sw.updateBwd(k)
		assert.Equal(t, int32(k-1), sw.d[0])
		assert.Equal(t, int32(k-1), sw.d[nHaps])
		for i := 1; i < nHaps; i++ {
			want := k - 1
			for j := k; j < nSteps && syms[j][sw.a[i-1]] == syms[j][sw.a[i]]; j++ {
				want = j
			}
			assert.Equal(t, int32(want), sw.d[i], "step %d pos %d", k, i)
		}
	}
}

// TestPbwtNeighborSelection: for a target haplotype the sweep selects one
// of the longest suffix matches in its candidate window, and never the
// target's own sample.
func TestPbwtNeighborSelection(t *testing.T) {
	// 10 haplotypes (5 target samples), 5 single-marker steps.  Hap 0's
	// longest-match partner is hap 4 (matches on steps 1-4); hap 1 (its
	// own sample's other hap) matches everywhere but must be excluded.
	syms := [][]int32{
		{0, 0, 1, 1, 1, 0, 1, 0, 1, 1},
		{1, 1, 0, 0, 1, 0, 1, 0, 0, 0},
		{0, 0, 1, 1, 0, 1, 1, 0, 1, 1},
		{1, 1, 0, 0, 1, 0, 0, 1, 0, 0},
		{0, 0, 1, 0, 0, 1, 1, 0, 1, 1},
	}
	cs := rawSteps(syms)
	fd := &FixedData{
		NTargHaps: 10,
		NHaps:     10,
		Ibs2:      &Ibs2{segs: make([][]SampleSeg, 5), nTargSamples: 5},
		HiFreq:    []int{0, 1, 2, 3, 4},
	}
	rng := rand.New(rand.NewSource(12))
	sw := newSweep(fd, cs, 3, rng)
	out := make([][]int32, 5)
	for k := range out {
		out[k] = make([]int32, 10)
	}
	sw.reset(0)
	for k := 0; k < 5; k++ {
		sw.updateFwd(k)
		sw.record(k, int32(k), true, out[k])
	}
	// At the last step, hap 0's candidate window holds its best suffix
	// matches: hap 1 (identical, but same sample, excluded), hap 4
	// (matches steps 1-4), and hap 7 (matches steps 2-4).  The selection
	// must be one of the qualifying two.
	got := out[4][0]
	require.True(t, got >= 0)
	assert.Contains(t, []int32{4, 7}, got)
}

// TestZeroBuffer: a zero cM buffer is legal and the batch still sweeps.
func TestZeroBuffer(t *testing.T) {
	rows := make([][]genotype, 30)
	for m := range rows {
		rows[m] = []genotype{het(0, 1), hom(0), hom(1), het(0, 1)}
	}
	opts := testOpts()
	opts.BufferCM = 0
	gt := makeGT(t, "zerobuf", rows)
	fd := NewFixedData(opts, gt, nil, nil)
	ep := NewEstPhase(gt, opts.Seed)
	snapshot := hiFreqSnapshot(fd, ep)
	cs := newCodedSteps(fd, snapshot, rand.New(rand.NewSource(13)))
	nb := findNeighbors(fd, cs, 0, opts.Seed)
	require.Equal(t, cs.NSteps(), len(nb.fwd))
	require.Equal(t, cs.NSteps(), len(nb.bwd))
	for k := range nb.fwd {
		require.Equal(t, fd.NTargHaps, len(nb.fwd[k]))
	}
}
