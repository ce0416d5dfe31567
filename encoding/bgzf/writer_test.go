package bgzf

import (
	"bytes"
	"io/ioutil"
	"math/rand"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriter(t *testing.T) {
	// Create random bytes.
	for _, length := range []int{0, 1, 100, 65279, 65280, 65281, 500000} {
		t.Logf("length: %d", length)
		input := make([]byte, length)
		n, err := rand.Read(input)
		require.Nil(t, err)
		assert.Equal(t, length, n)

		// Write bgzf
		var buf bytes.Buffer
		w, err := NewWriter(&buf, 1)
		require.Nil(t, err)
		n, err = w.Write(input)
		assert.Nil(t, err)
		assert.Equal(t, length, n)
		err = w.Close()
		assert.Nil(t, err)

		// The output must end with the EOF terminator block.
		raw := buf.Bytes()
		require.True(t, len(raw) >= len(terminator))
		assert.Equal(t, terminator, raw[len(raw)-len(terminator):])

		// Verify payload via a multistream gzip reader.
		r, err := gzip.NewReader(&buf)
		require.Nil(t, err)
		actual, err := ioutil.ReadAll(r)
		require.Nil(t, err)
		assert.Equal(t, input, actual)
	}
}

func TestBlockSizing(t *testing.T) {
	// Writing more than one block's worth of data must produce multiple
	// complete gzip members, each with the BC extra subfield.
	input := bytes.Repeat([]byte{'g', 'a', 't', 'c'}, (DefaultUncompressedBlockSize/4)+100)
	var buf bytes.Buffer
	w, err := NewWriter(&buf, 5)
	require.Nil(t, err)
	_, err = w.Write(input)
	require.Nil(t, err)
	require.Nil(t, w.Close())

	raw := buf.Bytes()
	nBlocks := 0
	for off := 0; off < len(raw); {
		require.Equal(t, byte(0x1f), raw[off])
		require.Equal(t, byte(0x8b), raw[off+1])
		require.Equal(t, bgzfExtraPrefix[:], raw[off+12:off+16])
		bsize := int(raw[off+16]) | int(raw[off+17])<<8
		off += bsize + 1
		nBlocks++
	}
	// payload blocks + terminator
	assert.Equal(t, 3, nBlocks)
}
