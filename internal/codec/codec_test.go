package codec

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Name  string   `codec:"name"`
	Seq   int64    `codec:"seq"`
	Body  []byte   `codec:"body"`
	Items []string `codec:"items"`
}

func TestMarshalRoundTrip(t *testing.T) {
	in := sample{Name: "n", Seq: -42, Body: []byte{0, 1, 2}, Items: []string{"a", "b"}}
	data, err := Marshal(in)
	require.NoError(t, err)

	var out sample
	require.NoError(t, Unmarshal(data, &out))
	assert.Equal(t, in, out)
}

func TestFramesBackToBack(t *testing.T) {
	var buf []byte
	buf = AppendFrame(buf, []byte("one"))
	buf = AppendFrame(buf, nil)
	buf = AppendFrame(buf, []byte("three"))
	assert.Equal(t, FrameSize(3)+FrameSize(0)+FrameSize(5), len(buf))

	r := NewFrameReader(buf)
	var got []string
	for rec, ok := r.Next(); ok; rec, ok = r.Next() {
		got = append(got, string(rec))
	}
	require.NoError(t, r.Err())
	assert.Equal(t, []string{"one", "", "three"}, got)
}

func TestTruncatedFrame(t *testing.T) {
	buf := AppendFrame(nil, []byte("complete"))
	buf = AppendFrame(buf, []byte("cut short"))
	buf = buf[:len(buf)-3]

	r := NewFrameReader(buf)
	rec, ok := r.Next()
	require.True(t, ok)
	assert.Equal(t, "complete", string(rec))

	_, ok = r.Next()
	assert.False(t, ok)
	assert.True(t, errors.Is(r.Err(), ErrTruncated))
}
