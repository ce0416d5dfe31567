package phasing

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// statesFixture builds the full per-iteration inputs of the state builder.
func statesFixture(t *testing.T, nSamples, nMarkers int) (*FixedData, *PhaseData) {
	rng := rand.New(rand.NewSource(14))
	rows := make([][]genotype, nMarkers)
	for m := range rows {
		rows[m] = make([]genotype, nSamples)
		for s := range rows[m] {
			switch rng.Intn(3) {
			case 0:
				rows[m][s] = hom(0)
			case 1:
				rows[m][s] = hom(1)
			default:
				rows[m][s] = het(0, 1)
			}
		}
	}
	opts := testOpts()
	gt := makeGT(t, "states", rows)
	fd := NewFixedData(opts, gt, nil, nil)
	ep := NewEstPhase(gt, opts.Seed)
	pd := newPhaseData(fd, ep, 0, opts.initRecombFactor(fd.NHaps), opts.Seed)
	return fd, pd
}

// TestCompositeCapacityAndCoverage: the queue never exceeds maxStates, and
// every slot's segment list is contiguous and covers [0, nMarkers).
func TestCompositeCapacityAndCoverage(t *testing.T) {
	fd, pd := statesFixture(t, 12, 80)
	for s := 0; s < 4; s++ {
		for _, maxStates := range []int{2, 4, 8} {
			st := buildStates(fd, pd.cs, pd.nb, pd.lf, []int{2 * s, 2*s + 1},
				maxStates, pd.snapshot, rand.New(rand.NewSource(int64(100+s))))
			require.True(t, st.NStates() >= 1)
			require.True(t, st.NStates() <= maxStates)
			for k := 0; k < st.NStates(); k++ {
				segs := st.segs[k]
				require.NotEmpty(t, segs)
				// Segment ends are non-decreasing, and the final end is the
				// marker count.
				prev := int32(0)
				for _, seg := range segs {
					require.True(t, seg.end >= prev)
					prev = seg.end
				}
				assert.Equal(t, int32(fd.NHiFreq()), segs[len(segs)-1].end)
			}
			// Every marker resolves to a real haplotype.
			for _, j := range []int{0, fd.NHiFreq() / 2, fd.NHiFreq() - 1} {
				for k := 0; k < st.NStates(); k++ {
					h := st.Hap(j, k)
					require.True(t, h >= 0 && h < fd.NHaps)
					al := st.Allele(j, k)
					require.True(t, al >= 0 && al < 2)
				}
			}
		}
	}
}

// TestCompositeNoSelf: composite slots never reference the target sample's
// own haplotypes (PBWT and low-frequency selection exclude them).
func TestCompositeNoSelf(t *testing.T) {
	fd, pd := statesFixture(t, 8, 60)
	for s := 0; s < 8; s++ {
		st := buildStates(fd, pd.cs, pd.nb, pd.lf, []int{2 * s, 2*s + 1},
			6, pd.snapshot, rand.New(rand.NewSource(int64(200+s))))
		for k := 0; k < st.NStates(); k++ {
			for _, seg := range st.segs[k] {
				assert.NotEqual(t, s, int(seg.hap)/2, "slot %d references own sample", k)
			}
		}
	}
}

// TestCompositeFallback: with no events at all the builder falls back to
// random non-self haplotypes.
func TestCompositeFallback(t *testing.T) {
	fd, pd := statesFixture(t, 6, 40)
	empty := &pbwtNeighbors{
		fwd: make([][]int32, pd.cs.NSteps()),
		bwd: make([][]int32, pd.cs.NSteps()),
	}
	for k := range empty.fwd {
		empty.fwd[k] = make([]int32, fd.NTargHaps)
		empty.bwd[k] = make([]int32, fd.NTargHaps)
		for h := range empty.fwd[k] {
			empty.fwd[k][h] = -1
			empty.bwd[k][h] = -1
		}
	}
	st := buildStates(fd, pd.cs, empty, nil, []int{0, 1}, 4,
		pd.snapshot, rand.New(rand.NewSource(15)))
	require.True(t, st.NStates() >= 1)
	require.True(t, st.NStates() <= 4)
	for k := 0; k < st.NStates(); k++ {
		assert.NotEqual(t, 0, int(st.segs[k][0].hap)/2)
	}
}
