package compression

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	g := NewGate(0)
	rnd := rand.New(rand.NewSource(1))
	for _, size := range []int{0, 1, 17, 4096, 100_000} {
		in := make([]byte, size)
		rnd.Read(in)
		out, err := g.Compress(in)
		require.NoError(t, err)
		back, err := g.Decompress(out)
		require.NoError(t, err)
		assert.True(t, bytes.Equal(in, back), "size %d", size)
	}
}

func TestThreshold(t *testing.T) {
	g := NewGate(10)
	assert.False(t, g.ShouldCompress(make([]byte, 10)))
	assert.True(t, g.ShouldCompress(make([]byte, 11)))

	small := []byte("short")
	out, compressed, err := g.Apply(small)
	require.NoError(t, err)
	assert.False(t, compressed)
	assert.Equal(t, small, out)

	big := bytes.Repeat([]byte("abc"), 100)
	out, compressed, err = g.Apply(big)
	require.NoError(t, err)
	assert.True(t, compressed)
	assert.Less(t, len(out), len(big))

	back, err := g.Restore(out, compressed)
	require.NoError(t, err)
	assert.Equal(t, big, back)
}

func TestRestoreIgnoresContentWhenFlagIsFalse(t *testing.T) {
	g := NewGate(0)
	compressed, _ := g.Compress(bytes.Repeat([]byte("x"), 64))
	out, err := g.Restore(compressed, false)
	require.NoError(t, err)
	assert.Equal(t, compressed, out)
}

func TestDecompressGarbage(t *testing.T) {
	_, err := NewGate(0).Decompress([]byte{0xff, 0xff, 0xff, 0xff, 0xff, 0x01})
	assert.Error(t, err)
}
