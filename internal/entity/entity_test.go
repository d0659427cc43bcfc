package entity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Cradle-storage/internal/book"
	"Cradle-storage/internal/compression"
	"Cradle-storage/internal/healing"
	"Cradle-storage/internal/message"
	"Cradle-storage/internal/storage"
	"Cradle-storage/internal/storeerr"
	"Cradle-storage/internal/testevent"
)

var (
	base = time.Date(2024, 5, 1, 12, 0, 0, 500, time.UTC)
	page = book.PageID{Book: "book1", Name: "p1"}
)

func messageBatch(t *testing.T, n int, content []byte) *message.Batch {
	t.Helper()
	b := message.NewBatch(0)
	for i := 0; i < n; i++ {
		_, err := b.Add(message.ToStore{
			Book:         "book1",
			SessionAlias: "session",
			Direction:    message.Second,
			Sequence:     int64(100 + i),
			Timestamp:    base.Add(time.Duration(i) * time.Millisecond),
			Content:      content,
			Metadata:     map[string]string{"i": string(rune('a' + i))},
		})
		require.NoError(t, err)
	}
	return b
}

// throughStore writes row to a memory store and reads it back.
func throughStore(t *testing.T, table *storage.Table, row storage.Row) storage.Row {
	t.Helper()
	ctx := context.Background()
	s := storage.NewMemoryStorage()
	require.NoError(t, s.CreateTable(ctx, table))
	require.NoError(t, s.Insert(ctx, table.Name, row))

	partition := storage.Row{}
	for _, c := range table.PartitionColumns() {
		partition[c.Name] = row[c.Name]
	}
	page, err := s.Select(ctx, storage.Query{Table: table.Name, Partition: partition})
	require.NoError(t, err)
	require.Len(t, page.Rows, 1)
	return page.Rows[0]
}

func TestMessageBatchRoundTrip(t *testing.T) {
	for name, threshold := range map[string]int{"plain": 1 << 20, "compressed": 16} {
		t.Run(name, func(t *testing.T) {
			gate := compression.NewGate(threshold)
			batch := messageBatch(t, 5, bytes.Repeat([]byte("payload "), 8))

			ent, err := NewMessageBatch(batch, page, gate)
			require.NoError(t, err)
			assert.Equal(t, threshold == 16, ent.Compressed)

			got, err := MessageBatchFromRow(throughStore(t, Messages, ent.ToRow()), Full)
			require.NoError(t, err)
			assert.Equal(t, int64(100), got.FirstSequence)
			assert.Equal(t, int64(104), got.LastSequence)
			assert.Equal(t, 5, got.Count)
			assert.Equal(t, batch.ID(), got.ID())

			msgs, err := got.Messages(gate)
			require.NoError(t, err)
			assert.Equal(t, batch.Messages(), msgs)

			one, err := got.Message(msgs[3].ID, gate)
			require.NoError(t, err)
			require.NotNil(t, one)
			assert.Equal(t, msgs[3], *one)

			missing := msgs[0].ID
			missing.Sequence = 99
			one, err = got.Message(missing, gate)
			require.NoError(t, err)
			assert.Nil(t, one)
		})
	}
}

func TestMessageBatchMetadataOnly(t *testing.T) {
	gate := compression.NewGate(1 << 20)
	ent, err := NewMessageBatch(messageBatch(t, 2, []byte("x")), page, gate)
	require.NoError(t, err)

	meta, err := MessageBatchFromRow(ent.ToRow(), MetadataOnly)
	require.NoError(t, err)
	assert.Nil(t, meta.Content)

	_, err = meta.Messages(gate)
	assert.True(t, storeerr.Is(err, storeerr.ValidationError))
}

func TestMislabeledCompressedContent(t *testing.T) {
	gate := compression.NewGate(1 << 20)
	ent, err := NewMessageBatch(messageBatch(t, 3, []byte("legacy")), page, gate)
	require.NoError(t, err)
	ent.Compressed = true

	_, err = ent.Messages(gate)
	require.Error(t, err)
	assert.True(t, storeerr.Is(err, storeerr.DecompressionFailure))
	assert.Contains(t, err.Error(), ent.ID().String())
}

func TestSerializationFailureIsNotBackend(t *testing.T) {
	cause := errors.New("unsupported value")
	err := serializationErr(cause, "message batch", "B", "p1", "B:s1:1:42")

	assert.True(t, storeerr.Is(err, storeerr.ValidationError))
	assert.False(t, storeerr.Is(err, storeerr.Backend))
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "message batch")
}

func TestSingleTestEventRoundTrip(t *testing.T) {
	gate := compression.NewGate(8)
	parent := testevent.ID{Book: "book1", Scope: "sc", StartTimestamp: base, ID: "root"}
	single := &testevent.Single{
		ID:           testevent.ID{Book: "book1", Scope: "sc", StartTimestamp: base.Add(time.Second), ID: "e1"},
		Name:         "check",
		Type:         "verification",
		ParentID:     &parent,
		EndTimestamp: base.Add(3 * time.Second),
		Success:      true,
		Content:      []byte(`{"status":"passed","details":"all fields match"}`),
		MessageIDs: []message.ID{
			{Book: "book1", SessionAlias: "s", Direction: message.First, Timestamp: base, Sequence: 1},
		},
	}

	ent, err := NewTestEvent(single, page, gate)
	require.NoError(t, err)
	assert.True(t, ent.Compressed)
	assert.False(t, ent.Root)
	assert.Equal(t, 2*time.Second, ent.Duration())

	stored := TestEventFromRow(throughStore(t, TestEvents, ent.ToRow()), Full)
	got, err := stored.Event(gate)
	require.NoError(t, err)
	assert.Equal(t, single, got)
}

func TestBatchTestEventRoundTrip(t *testing.T) {
	gate := compression.NewGate(32)
	parent := testevent.ID{Book: "book1", Scope: "sc", StartTimestamp: base, ID: "root"}
	batchID := testevent.ID{Book: "book1", Scope: "sc", StartTimestamp: base.Add(time.Second), ID: "batch"}
	b, err := testevent.NewBatch(batchID, "batch", "", &parent, 0)
	require.NoError(t, err)
	first := testevent.ID{Book: "book1", Scope: "sc", StartTimestamp: base.Add(time.Second), ID: "a"}
	require.NoError(t, b.Add(testevent.BatchedEvent{ID: first, Name: "a", ParentID: &parent, Success: true,
		Content: bytes.Repeat([]byte("z"), 64)}))
	require.NoError(t, b.Add(testevent.BatchedEvent{
		ID:           testevent.ID{Book: "book1", Scope: "sc", StartTimestamp: base.Add(2 * time.Second), ID: "b"},
		Name:         "b",
		ParentID:     &first,
		EndTimestamp: base.Add(5 * time.Second),
	}))

	ent, err := NewTestEvent(b, page, gate)
	require.NoError(t, err)
	assert.True(t, ent.EventBatch)
	assert.Equal(t, 2, ent.EventCount)
	assert.False(t, ent.Success)
	assert.Equal(t, base.Add(5*time.Second), ent.EndTimestamp)

	stored := TestEventFromRow(throughStore(t, TestEvents, ent.ToRow()), Full)
	got, err := stored.Event(gate)
	require.NoError(t, err)
	restored, ok := got.(*testevent.Batch)
	require.True(t, ok)
	assert.Equal(t, b.Events(), restored.Events())
	assert.Equal(t, batchID, restored.ID)
	assert.Len(t, restored.Children(first), 1)
}

func TestPageAndBookRows(t *testing.T) {
	p := book.PageInfo{ID: page, Started: base, Ended: base.Add(time.Hour), Comment: "first", Updated: base}
	assert.Equal(t, p, PageFromRow(throughStore(t, Pages, PageRow(p))))

	open := book.PageInfo{ID: page, Started: base}
	assert.True(t, PageFromRow(throughStore(t, Pages, PageRow(open))).Active())

	b := book.New("book1", "Book One", "desc", base, nil)
	got := BookFromRow(throughStore(t, Books, BookRow("inst", b)), []book.PageInfo{p})
	assert.Equal(t, "Book One", got.FullName)
	assert.Equal(t, base, got.Created)
	assert.Equal(t, 1, got.PageCount())
}

func TestHealingRow(t *testing.T) {
	i := healing.New("book1", time.Hour, 2*time.Hour, json.RawMessage(`{"healedEventsNumber":7}`))
	got := HealingFromRow(throughStore(t, HealingIntervals, HealingRow(i)))
	assert.Equal(t, i, got)
}
