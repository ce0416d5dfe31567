package window

import (
	"math/rand"
	"testing"

	"github.com/grailbio/testutil/expect"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestMarkerIndicesMapping checks the bidirectional mapping invariants on
// random masks.
func TestMarkerIndicesMapping(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	for trial := 0; trial < 20; trial++ {
		n := 10 + rng.Intn(500)
		inTarget := make([]bool, n)
		for m := range inTarget {
			inTarget[m] = rng.Intn(3) > 0
		}
		inTarget[0] = true // ensure a non-empty target list
		prevOverlap := rng.Intn(n / 3)
		nextOverlap := rng.Intn(n / 3)
		mi := NewMarkerIndices(inTarget, prevOverlap, nextOverlap)

		for j := 0; j < mi.NTarg(); j++ {
			expect.EQ(t, mi.RefToTarg(mi.TargToRef(j)), j)
		}
		for m := 0; m < n; m++ {
			if mi.RefToTarg(m) == -1 {
				assert.False(t, inTarget[m])
				assert.False(t, mi.InTarget(m))
			} else {
				assert.True(t, inTarget[m])
				assert.True(t, mi.InTarget(m))
			}
		}
		// Splice ordering.
		require.True(t, 0 <= mi.PrevSplice)
		require.True(t, mi.PrevSplice <= mi.NextSplice)
		require.True(t, mi.NextSplice <= mi.NTarg())
		require.True(t, mi.OverlapStart <= mi.NTarg())
	}
}

// TestSpliceComplement checks that the emitted regions of two adjacent
// windows tile the shared overlap exactly: for an overlap of k records,
// window 1 emits the leading part and window 2 the rest, with no gap and
// no duplication.
func TestSpliceComplement(t *testing.T) {
	for _, k := range []int{0, 1, 2, 5, 9, 10} {
		n1, n2 := 40, 35
		all1 := make([]bool, n1)
		for i := range all1 {
			all1[i] = true
		}
		all2 := make([]bool, n2)
		for i := range all2 {
			all2[i] = true
		}
		w1 := NewMarkerIndices(all1, 0, k)
		w2 := NewMarkerIndices(all2, k, 0)

		// Window 1's marker n1-k+j is window 2's marker j.
		emitted := map[int]int{}
		for m := w1.PrevSplice; m < w1.NextSplice; m++ {
			if j := m - (n1 - k); j >= 0 {
				emitted[j]++
			}
		}
		for m := w2.PrevSplice; m < w2.NextSplice; m++ {
			if m < k {
				emitted[m]++
			}
		}
		for j := 0; j < k; j++ {
			assert.Equal(t, 1, emitted[j], "overlap %d, position %d", k, j)
		}
	}
}
