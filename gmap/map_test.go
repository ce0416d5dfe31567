package gmap

import (
	"strings"
	"testing"

	"github.com/grailbio/phase/vcf"
	"github.com/grailbio/testutil/expect"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testMap = `20 . 0.0 1000000
20 . 1.0 2000000
20 . 1.5 4000000
21 . 0.0 500000
21 . 2.0 1500000
`

func TestMapInterpolation(t *testing.T) {
	m, err := New("test.map", strings.NewReader(testMap))
	require.NoError(t, err)
	c20 := vcf.InternChrom("20")

	// Exact positions.
	expect.EQ(t, m.GenPos(c20, 1000000), 0.0)
	expect.EQ(t, m.GenPos(c20, 2000000), 1.0)
	// Linear interpolation inside an interval.
	expect.EQ(t, m.GenPos(c20, 1500000), 0.5)
	expect.EQ(t, m.GenPos(c20, 3000000), 1.25)
	// Extrapolation at the default rate outside the mapped interval.
	assert.InDelta(t, -0.5, m.GenPos(c20, 500000), 1e-9)
	assert.InDelta(t, 2.5, m.GenPos(c20, 5000000), 1e-9)

	assert.InDelta(t, 0.5, m.GenDist(c20, 1000000, 1500000), 1e-9)

	// A chromosome absent from the map uses the default rate.
	c22 := vcf.InternChrom("22")
	assert.InDelta(t, 1.0, m.GenPos(c22, 1000000), 1e-9)

	// A nil map uses the default rate everywhere.
	var nilMap *Map
	assert.InDelta(t, 2.0, nilMap.GenPos(c20, 2000000), 1e-9)
}

func TestMapErrors(t *testing.T) {
	_, err := New("bad.map", strings.NewReader("20 . 0.0\n"))
	assert.Error(t, err)
	_, err = New("bad.map", strings.NewReader("20 . 1.0 2000\n20 . 0.5 3000\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "strictly increasing")
}
