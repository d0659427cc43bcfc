package message

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Cradle-storage/internal/storeerr"
)

var base = time.Date(2024, 5, 1, 12, 0, 0, 123456789, time.UTC)

func toStore(seq int64, offset time.Duration, content string) ToStore {
	return ToStore{
		Book:         "book1",
		SessionAlias: "sess:A",
		Direction:    First,
		Sequence:     seq,
		Timestamp:    base.Add(offset),
		Content:      []byte(content),
	}
}

func TestIDStringRoundTrip(t *testing.T) {
	id := ID{Book: `b\1`, SessionAlias: "s:1", Direction: Second, Timestamp: base, Sequence: 77}
	parsed, err := ParseID(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, parsed)
	assert.Equal(t, `b\\1:s\:1:2:20240501120000123456789:77`, id.String())
}

func TestParseIDRejectsGarbage(t *testing.T) {
	_, err := ParseID("only:three:parts")
	assert.True(t, storeerr.Is(err, storeerr.ValidationError))

	_, err = ParseID("b:s:3:20240501120000123456789:1")
	assert.Error(t, err)
}

func TestParseDirectionAliases(t *testing.T) {
	for in, want := range map[string]Direction{"1": First, "in": First, "SECOND": Second, "OUT": Second} {
		got, err := ParseDirection(in)
		require.NoError(t, err)
		assert.Equal(t, want, got, in)
	}
}

func TestBatchEnforcesStreamOrder(t *testing.T) {
	b := NewBatch(0)
	_, err := b.Add(toStore(10, 0, "a"))
	require.NoError(t, err)
	_, err = b.Add(toStore(11, time.Millisecond, "b"))
	require.NoError(t, err)

	_, err = b.Add(toStore(11, 2*time.Millisecond, "dup"))
	assert.True(t, storeerr.Is(err, storeerr.ValidationError), "sequence must grow strictly")

	_, err = b.Add(toStore(12, 0, "older"))
	assert.True(t, storeerr.Is(err, storeerr.ValidationError), "timestamp must not go back")

	other := toStore(12, 3*time.Millisecond, "x")
	other.Direction = Second
	_, err = b.Add(other)
	assert.True(t, storeerr.Is(err, storeerr.ValidationError), "stream must match")

	same := toStore(12, time.Millisecond, "same ts is fine")
	_, err = b.Add(same)
	require.NoError(t, err)

	assert.Equal(t, 3, b.Count())
	assert.Equal(t, int64(10), b.FirstSequence())
	assert.Equal(t, int64(12), b.LastSequence())
	assert.Equal(t, base, b.FirstTimestamp())
	assert.Equal(t, base.Add(time.Millisecond), b.LastTimestamp())
}

func TestBatchSizeLimit(t *testing.T) {
	b := NewBatch(100)
	_, err := b.Add(toStore(1, 0, "small"))
	require.NoError(t, err)
	big := toStore(2, 0, string(make([]byte, 200)))
	assert.False(t, b.HasSpace(big))
	_, err = b.Add(big)
	assert.True(t, storeerr.Is(err, storeerr.ValidationError))
}

func TestSerializeRoundTrip(t *testing.T) {
	b := NewBatch(0)
	for i := int64(0); i < 5; i++ {
		m := toStore(100+i, time.Duration(i)*time.Second, "payload")
		m.Metadata = map[string]string{"k": "v"}
		m.ProtocolVersion = "fix"
		_, err := b.Add(m)
		require.NoError(t, err)
	}

	content, err := Serialize(b)
	require.NoError(t, err)

	decoded, err := Deserialize(b.ID(), content)
	require.NoError(t, err)
	assert.Equal(t, b.Messages(), decoded)

	target := b.Messages()[3].ID
	one, err := DeserializeOne(target, content)
	require.NoError(t, err)
	require.NotNil(t, one)
	assert.Equal(t, target, one.ID)

	missing := target
	missing.Sequence = 1000
	one, err = DeserializeOne(missing, content)
	require.NoError(t, err)
	assert.Nil(t, one)
}

func TestDeserializeMalformed(t *testing.T) {
	b := NewBatch(0)
	_, err := b.Add(toStore(1, 0, "x"))
	require.NoError(t, err)
	content, err := Serialize(b)
	require.NoError(t, err)

	_, err = Deserialize(b.ID(), content[:len(content)-1])
	assert.True(t, storeerr.Is(err, storeerr.MalformedSerializedRecord))
}
