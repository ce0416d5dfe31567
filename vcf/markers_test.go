package vcf

import (
	"math/rand"
	"testing"

	"github.com/grailbio/testutil/expect"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMarker(t *testing.T, chrom string, pos int32, alleles ...string) Marker {
	m, err := NewMarker(InternChrom(chrom), pos, ".", alleles, -1)
	require.NoError(t, err)
	return m
}

func TestMarkerValidation(t *testing.T) {
	_, err := NewMarker(InternChrom("1"), 100, ".", nil, -1)
	assert.Error(t, err)
	_, err = NewMarker(InternChrom("1"), 100, ".", []string{"A", "A"}, -1)
	assert.Error(t, err)
	_, err = NewMarker(InternChrom("1"), 100, ".", []string{"A", ""}, -1)
	assert.Error(t, err)
}

func TestMarkerCompare(t *testing.T) {
	a := testMarker(t, "1", 100, "A", "C")
	b := testMarker(t, "1", 100, "A", "C")
	c := testMarker(t, "1", 200, "A", "C")
	d := testMarker(t, "1", 100, "A", "G")
	assert.True(t, a.Equal(b))
	assert.Equal(t, -1, a.Compare(c))
	assert.Equal(t, 1, c.Compare(a))
	assert.NotEqual(t, 0, a.Compare(d))

	// Identifiers do not participate in equality.
	e, err := NewMarker(InternChrom("1"), 100, "rs123", []string{"A", "C"}, -1)
	require.NoError(t, err)
	assert.True(t, a.Equal(e))
}

func TestBitsPerAllele(t *testing.T) {
	markers := NewMarkers([]Marker{
		testMarker(t, "1", 100, "A"),                          // 0 bits
		testMarker(t, "1", 200, "A", "C"),                     // 1 bit
		testMarker(t, "1", 300, "A", "C", "G"),                // 2 bits
		testMarker(t, "1", 400, "A", "C", "G", "T"),           // 2 bits
		testMarker(t, "1", 500, "A", "C", "G", "T", "ACGTT"),  // 3 bits
	})
	want := []int{0, 1, 2, 2, 3}
	for i, w := range want {
		expect.EQ(t, markers.BitsPerAllele(i), w)
	}
	expect.EQ(t, markers.SumHaplotypeBits(), 8)
}

// TestPackRoundTrip checks that unpack(pack(a)) == a for random allele
// vectors over random multi-allelic marker lists.
func TestPackRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for trial := 0; trial < 20; trial++ {
		nMarkers := 1 + rng.Intn(300)
		mk := make([]Marker, nMarkers)
		for i := range mk {
			nAlleles := 1 + rng.Intn(6)
			alleles := make([]string, nAlleles)
			for a := range alleles {
				alleles[a] = string(rune('A' + a))
			}
			var err error
			mk[i], err = NewMarker(InternChrom("7"), int32(100*(i+1)), ".", alleles, -1)
			require.NoError(t, err)
		}
		markers := NewMarkers(mk)

		a := make([]int, nMarkers)
		for i := range a {
			a[i] = rng.Intn(mk[i].NAlleles())
		}
		packed := markers.Pack(a)
		got := make([]int, nMarkers)
		markers.Unpack(packed, got)
		require.Equal(t, a, got)

		// Random access must agree with the bulk decode.
		for i := 0; i < 50; i++ {
			m := rng.Intn(nMarkers)
			expect.EQ(t, markers.AlleleAt(packed, m), a[m])
		}

		// In-place updates round trip as well.
		m := rng.Intn(nMarkers)
		v := rng.Intn(mk[m].NAlleles())
		markers.SetAlleleAt(packed, m, v)
		expect.EQ(t, markers.AlleleAt(packed, m), v)
	}
}

func TestRestrict(t *testing.T) {
	markers := NewMarkers([]Marker{
		testMarker(t, "1", 100, "A", "C"),
		testMarker(t, "1", 200, "A", "C", "G"),
		testMarker(t, "1", 300, "A", "T"),
	})
	sub := markers.Restrict([]int{0, 2})
	require.Equal(t, 2, sub.NMarkers())
	assert.True(t, sub.Marker(1).Equal(markers.Marker(2)))
	expect.EQ(t, sub.SumHaplotypeBits(), 2)
}
