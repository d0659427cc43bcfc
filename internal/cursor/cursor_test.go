package cursor

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"Cradle-storage/internal/future"
	"Cradle-storage/internal/storage"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// pages serves a fixed list of result pages and counts the fetches.
type pages struct {
	list    [][]int
	fetches int32
	failAt  int
}

func (ps *pages) page(i int) *storage.ResultPage {
	rows := make([]storage.Row, 0, len(ps.list[i]))
	for _, n := range ps.list[i] {
		rows = append(rows, storage.Row{"n": int64(n)})
	}
	return storage.NewResultPage(storage.Query{Table: "t"}, rows, []byte(strconv.Itoa(i)), i < len(ps.list)-1)
}

func (ps *pages) next(ctx context.Context, p *storage.ResultPage) *future.Future[*storage.ResultPage] {
	atomic.AddInt32(&ps.fetches, 1)
	i, _ := strconv.Atoi(string(p.PagingState))
	return future.Go(func() (*storage.ResultPage, error) {
		if ps.failAt == i+1 {
			return nil, storage.ErrUnavailable
		}
		return ps.page(i + 1), nil
	})
}

func rowN(r storage.Row) (int64, error) {
	return r.Int64("n"), nil
}

func (ps *pages) iter(ctx context.Context) *Paged[int64] {
	return NewPaged(ctx, ps.page(0), ps.next, rowN)
}

func TestPagedWalksAllPages(t *testing.T) {
	ps := &pages{list: [][]int{{1, 2, 3}, {}, {}, {4}, {5, 6}}}
	got, err := Collect[int64](ps.iter(context.Background()))
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3, 4, 5, 6}, got)
	assert.EqualValues(t, 4, atomic.LoadInt32(&ps.fetches))
}

func TestPagedPrefetchesOnePage(t *testing.T) {
	ps := &pages{list: [][]int{{1, 2}, {3}, {4}}}
	it := ps.iter(context.Background())
	defer it.Close()

	// The second page is requested as soon as the first one is delivered.
	assert.EqualValues(t, 1, atomic.LoadInt32(&ps.fetches))
	require.True(t, it.Next())
	require.True(t, it.Next())
	assert.EqualValues(t, 1, atomic.LoadInt32(&ps.fetches))

	require.True(t, it.Next())
	assert.Equal(t, int64(3), it.Value())
	assert.EqualValues(t, 2, atomic.LoadInt32(&ps.fetches))
}

func TestPagedFetchFailureEndsSequence(t *testing.T) {
	ps := &pages{list: [][]int{{1}, {2}, {3}}, failAt: 2}
	got, err := Collect[int64](ps.iter(context.Background()))
	assert.ErrorIs(t, err, storage.ErrUnavailable)
	assert.Equal(t, []int64{1, 2}, got)
}

func TestPagedRowFailureIsIsolated(t *testing.T) {
	ps := &pages{list: [][]int{{1, 2, 3}}}
	it := NewPaged(context.Background(), ps.page(0), ps.next, func(r storage.Row) (int64, error) {
		if n := r.Int64("n"); n != 2 {
			return n, nil
		}
		return 0, errors.New("malformed")
	})
	defer it.Close()

	var good []int64
	failed := 0
	for it.Next() {
		if it.Err() != nil {
			failed++
			continue
		}
		good = append(good, it.Value())
	}
	require.NoError(t, it.Err())
	assert.Equal(t, []int64{1, 3}, good)
	assert.Equal(t, 1, failed)
}

func TestPagedStopsWhenCancelled(t *testing.T) {
	ps := &pages{list: [][]int{{1}, {2}}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	it := ps.iter(ctx)
	require.True(t, it.Next())
	assert.False(t, it.Next())
	assert.EqualValues(t, 0, atomic.LoadInt32(&ps.fetches))
}

func TestValueWithoutNextPanics(t *testing.T) {
	it := Slice([]int{1})
	assert.Panics(t, func() { it.Value() })
	require.True(t, it.Next())
	assert.NotPanics(t, func() { it.Value() })
	require.False(t, it.Next())
	assert.Panics(t, func() { it.Value() })
}

func TestCompose(t *testing.T) {
	it := Limit(
		Filter(
			Map(Slice([]int{1, 2, 3, 4, 5, 6, 7, 8}), func(n int) (string, error) { return strconv.Itoa(n * 10), nil }),
			func(s string) bool { return s != "30" }),
		4)
	got, err := Collect(it)
	require.NoError(t, err)
	assert.Equal(t, []string{"10", "20", "40", "50"}, got)
}

func TestFlatMapFailurePassesThrough(t *testing.T) {
	it := FlatMap(Slice([]int{1, 2, 3}), func(n int) ([]int, error) {
		if n == 2 {
			return nil, fmt.Errorf("batch %d is broken", n)
		}
		return []int{n, n}, nil
	})
	defer it.Close()

	var got []int
	var errs []error
	for it.Next() {
		if err := it.Err(); err != nil {
			errs = append(errs, err)
			continue
		}
		got = append(got, it.Value())
	}
	assert.Equal(t, []int{1, 1, 3, 3}, got)
	require.Len(t, errs, 1)
	assert.EqualError(t, errs[0], "batch 2 is broken")
}

func TestConcatOpensSegmentsLazily(t *testing.T) {
	segments := [][]int{{1, 2}, {}, {3}}
	opened := 0
	it := Concat(func() (Iterator[int], error) {
		if opened == len(segments) {
			return nil, nil
		}
		opened++
		return Slice(segments[opened-1]), nil
	})

	require.True(t, it.Next())
	assert.Equal(t, 1, opened)
	got, err := Collect(it)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3}, got)
	assert.Equal(t, 3, opened)
}

func TestConcatOpenFailure(t *testing.T) {
	calls := 0
	it := Concat(func() (Iterator[int], error) {
		calls++
		if calls == 2 {
			return nil, errors.New("no such page")
		}
		return Slice([]int{calls}), nil
	})
	got, err := Collect(it)
	assert.EqualError(t, err, "no such page")
	assert.Equal(t, []int{1}, got)
}

func TestConcatOverPagedSegments(t *testing.T) {
	segments := []*pages{
		{list: [][]int{{1, 2}, {3}}},
		{list: [][]int{{4}, {5, 6}}},
	}
	i := 0
	it := Concat(func() (Iterator[int64], error) {
		if i == len(segments) {
			return nil, nil
		}
		i++
		return segments[i-1].iter(context.Background()), nil
	})
	got, err := Collect(it)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3, 4, 5, 6}, got)
}

func TestLimitClosesSource(t *testing.T) {
	ps := &pages{list: [][]int{{1, 2}, {3}, {4}}}
	got, err := Collect(Limit[int64](ps.iter(context.Background()), 2))
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, got)
}
