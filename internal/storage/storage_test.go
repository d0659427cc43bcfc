package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var eventsTable = &Table{
	Name: "events",
	Columns: []Column{
		{Name: "book", Type: TypeText, Role: Partition},
		{Name: "scope", Type: TypeText, Role: Partition},
		{Name: "day", Type: TypeDate, Role: Clustering},
		{Name: "seq", Type: TypeBigint, Role: Clustering},
		{Name: "name", Type: TypeText},
		{Name: "ok", Type: TypeBool},
		{Name: "at", Type: TypeTimestamp},
		{Name: "tod", Type: TypeTime},
		{Name: "body", Type: TypeBlob},
		{Name: "tags", Type: TypeTextSet},
		{Name: "count", Type: TypeInt},
	},
}

var day1 = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
var day2 = day1.AddDate(0, 0, 1)

func partition() Row {
	return Row{"book": "b1", "scope": "s1"}
}

func eventRow(day time.Time, seq int64) Row {
	row := partition()
	row["day"] = day
	row["seq"] = seq
	row["name"] = fmt.Sprintf("event-%d", seq)
	row["ok"] = seq%2 == 0
	return row
}

type backend struct {
	name string
	open func(t *testing.T) Storage
}

var backends = []backend{
	{"memory", func(t *testing.T) Storage { return NewMemoryStorage() }},
	{"bolt", func(t *testing.T) Storage {
		s, err := NewBoltStorage(filepath.Join(t.TempDir(), "cradle.db"))
		require.NoError(t, err)
		return s
	}},
}

func forEachBackend(t *testing.T, fn func(t *testing.T, s Storage)) {
	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			s := b.open(t)
			defer s.Close()
			require.NoError(t, s.CreateTable(context.Background(), eventsTable))
			fn(t, s)
		})
	}
}

func seqs(rows []Row) []int64 {
	out := make([]int64, len(rows))
	for i, r := range rows {
		out[i] = r.Int64("seq")
	}
	return out
}

func selectAll(t *testing.T, s Storage, q Query) ([]Row, int) {
	t.Helper()
	ctx := context.Background()
	page, err := s.Select(ctx, q)
	require.NoError(t, err)
	rows := page.Rows
	pages := 1
	for page.HasMore {
		page, err = s.FetchNext(ctx, page)
		require.NoError(t, err)
		rows = append(rows, page.Rows...)
		pages++
	}
	return rows, pages
}

func TestKeyOrdering(t *testing.T) {
	ints := []int64{-1 << 62, -5, -1, 0, 1, 7, 1 << 40}
	var prev []byte
	for _, n := range ints {
		k, err := EncodeKey([]Type{TypeBigint}, []interface{}{n})
		require.NoError(t, err)
		if prev != nil {
			assert.Less(t, string(prev), string(k), "key for %d", n)
		}
		prev = k
	}

	texts := []string{"", "a", "a\x00", "a\x00b", "ab", "b"}
	prev = nil
	for _, s := range texts {
		k, err := EncodeKey([]Type{TypeText, TypeBigint}, []interface{}{s, int64(0)})
		require.NoError(t, err)
		if prev != nil {
			assert.Less(t, string(prev), string(k), "key for %q", s)
		}
		prev = k
	}
}

func TestEncodeKeyRejectsBadValues(t *testing.T) {
	_, err := EncodeKey([]Type{TypeBigint}, []interface{}{"x"})
	assert.True(t, errors.Is(err, ErrInvalidRow))

	_, err = EncodeKey([]Type{TypeText}, []interface{}{"a", "b"})
	assert.True(t, errors.Is(err, ErrInvalidRow))
}

func TestPagedSelect(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Storage) {
		ctx := context.Background()
		for i := int64(10); i >= 1; i-- {
			require.NoError(t, s.Insert(ctx, "events", eventRow(day1, i)))
		}

		rows, pages := selectAll(t, s, Query{Table: "events", Partition: partition(), PageSize: 3})
		assert.Equal(t, []int64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, seqs(rows))
		assert.Equal(t, 4, pages)

		rows, _ = selectAll(t, s, Query{Table: "events", Partition: partition(), PageSize: 4, Reverse: true})
		assert.Equal(t, []int64{10, 9, 8, 7, 6, 5, 4, 3, 2, 1}, seqs(rows))
	})
}

func TestExactPageHasNoTrailingPage(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Storage) {
		ctx := context.Background()
		for i := int64(1); i <= 3; i++ {
			require.NoError(t, s.Insert(ctx, "events", eventRow(day1, i)))
		}
		page, err := s.Select(ctx, Query{Table: "events", Partition: partition(), PageSize: 3})
		require.NoError(t, err)
		assert.Len(t, page.Rows, 3)
		assert.False(t, page.HasMore)
	})
}

func TestClusteringBounds(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Storage) {
		ctx := context.Background()
		for i := int64(1); i <= 5; i++ {
			require.NoError(t, s.Insert(ctx, "events", eventRow(day1, i)))
			require.NoError(t, s.Insert(ctx, "events", eventRow(day2, i)))
		}

		q := Query{
			Table:     "events",
			Partition: partition(),
			From:      &Bound{Values: []interface{}{day1, int64(3)}, Inclusive: true},
			To:        &Bound{Values: []interface{}{day2, int64(2)}},
		}
		rows, _ := selectAll(t, s, q)
		assert.Equal(t, []int64{3, 4, 5, 1}, seqs(rows))

		// A prefix bound covers every row of the day.
		q = Query{
			Table:     "events",
			Partition: partition(),
			From:      &Bound{Values: []interface{}{day2}, Inclusive: true},
			To:        &Bound{Values: []interface{}{day2}, Inclusive: true},
			Reverse:   true,
			PageSize:  2,
		}
		rows, _ = selectAll(t, s, q)
		assert.Equal(t, []int64{5, 4, 3, 2, 1}, seqs(rows))
		for _, r := range rows {
			assert.Equal(t, day2, r.Time("day"))
		}

		q = Query{Table: "events", Partition: partition(), From: &Bound{Values: []interface{}{day1}}}
		rows, _ = selectAll(t, s, q)
		assert.Len(t, rows, 5)
	})
}

func TestWhereFilter(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Storage) {
		ctx := context.Background()
		for i := int64(1); i <= 9; i++ {
			require.NoError(t, s.Insert(ctx, "events", eventRow(day1, i)))
		}
		q := Query{
			Table:     "events",
			Partition: partition(),
			Where:     func(r Row) bool { return r.Bool("ok") },
			PageSize:  2,
		}
		rows, _ := selectAll(t, s, q)
		assert.Equal(t, []int64{2, 4, 6, 8}, seqs(rows))
	})
}

func TestUpdateMergesRegularColumns(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Storage) {
		ctx := context.Background()
		at := time.Date(2024, 3, 1, 12, 0, 0, 5, time.UTC)
		row := eventRow(day1, 1)
		row["at"] = at
		row["tod"] = 90 * time.Minute
		row["body"] = []byte{0, 1, 2}
		row["tags"] = []string{"y", "x", "y"}
		row["count"] = 3
		require.NoError(t, s.Insert(ctx, "events", row))

		update := partition()
		update["day"] = day1
		update["seq"] = int64(1)
		update["ok"] = true
		require.NoError(t, s.Update(ctx, "events", update))

		rows, _ := selectAll(t, s, Query{Table: "events", Partition: partition()})
		require.Len(t, rows, 1)
		got := rows[0]
		assert.True(t, got.Bool("ok"))
		assert.Equal(t, "event-1", got.String("name"))
		assert.Equal(t, at, got.Time("at"))
		assert.Equal(t, 90*time.Minute, got.Duration("tod"))
		assert.Equal(t, []byte{0, 1, 2}, got.Bytes("body"))
		assert.Equal(t, []string{"x", "y"}, got.Strings("tags"))
		assert.Equal(t, 3, got.Int("count"))
	})
}

func TestInvalidWrites(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Storage) {
		ctx := context.Background()
		err := s.Insert(ctx, "missing", eventRow(day1, 1))
		assert.True(t, errors.Is(err, ErrUnknownTable))

		row := eventRow(day1, 1)
		delete(row, "seq")
		assert.True(t, errors.Is(s.Insert(ctx, "events", row), ErrInvalidRow))

		row = eventRow(day1, 1)
		row["seq"] = "one"
		assert.True(t, errors.Is(s.Insert(ctx, "events", row), ErrInvalidRow))

		row = eventRow(day1, 1)
		row["unknown"] = 1
		assert.True(t, errors.Is(s.Insert(ctx, "events", row), ErrInvalidRow))
	})
}

func TestPartitionsAreIsolated(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Storage) {
		ctx := context.Background()
		require.NoError(t, s.Insert(ctx, "events", eventRow(day1, 1)))
		other := eventRow(day1, 2)
		other["scope"] = "s2"
		require.NoError(t, s.Insert(ctx, "events", other))

		rows, _ := selectAll(t, s, Query{Table: "events", Partition: partition()})
		assert.Equal(t, []int64{1}, seqs(rows))

		rows, _ = selectAll(t, s, Query{Table: "events", Partition: Row{"book": "b1", "scope": "none"}})
		assert.Empty(t, rows)
	})
}

func TestBoltStorageReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cradle.db")
	ctx := context.Background()

	s, err := NewBoltStorage(path)
	require.NoError(t, err)
	require.NoError(t, s.CreateTable(ctx, eventsTable))
	require.NoError(t, s.Insert(ctx, "events", eventRow(day1, 42)))
	require.NoError(t, s.Close())

	s, err = NewBoltStorage(path)
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.CreateTable(ctx, eventsTable))
	rows, _ := selectAll(t, s, Query{Table: "events", Partition: partition()})
	assert.Equal(t, []int64{42}, seqs(rows))
}

func TestMemoryStorageClosed(t *testing.T) {
	s := NewMemoryStorage()
	ctx := context.Background()
	require.NoError(t, s.CreateTable(ctx, eventsTable))
	require.NoError(t, s.Insert(ctx, "events", eventRow(day1, 1)))
	assert.Equal(t, 1, s.PartitionSize("events", partition()))

	require.NoError(t, s.Close())
	assert.ErrorIs(t, s.Insert(ctx, "events", eventRow(day1, 2)), ErrClosed)
	_, err := s.Select(ctx, Query{Table: "events", Partition: partition()})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(fmt.Errorf("select: %w", ErrOverloaded)))
	assert.True(t, IsRetryable(ErrTimeout))
	assert.False(t, IsRetryable(ErrUnavailable))
	assert.False(t, IsRetryable(nil))
}
