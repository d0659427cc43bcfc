package fetcher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Cradle-storage/internal/storage"
	"Cradle-storage/internal/storeerr"
	"Cradle-storage/internal/throttle"
)

// stubStorage fails the first `failures` calls with err, then answers with
// a two-page result.
type stubStorage struct {
	mu       sync.Mutex
	calls    int
	failures int
	err      error
	lastSize int
}

func (s *stubStorage) answer(q storage.Query, more bool) (*storage.ResultPage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.lastSize = q.PageSize
	if s.calls <= s.failures {
		return nil, s.err
	}
	return storage.NewResultPage(q, []storage.Row{{"n": s.calls}}, []byte("state"), more), nil
}

func (s *stubStorage) CreateTable(context.Context, *storage.Table) error { return nil }
func (s *stubStorage) Insert(context.Context, string, storage.Row) error { return s.write() }
func (s *stubStorage) Update(context.Context, string, storage.Row) error { return s.write() }
func (s *stubStorage) Close() error { return nil }
func (s *stubStorage) Select(_ context.Context, q storage.Query) (*storage.ResultPage, error) {
	return s.answer(q, true)
}
func (s *stubStorage) FetchNext(_ context.Context, p *storage.ResultPage) (*storage.ResultPage, error) {
	return s.answer(p.Query(), false)
}

func (s *stubStorage) write() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.calls <= s.failures {
		return s.err
	}
	return nil
}

func (s *stubStorage) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func newFetcher(store storage.Storage, attempts int) *Fetcher {
	policy := Policy{MaxAttempts: attempts, MinBackoff: time.Millisecond, MaxBackoff: 4 * time.Millisecond, Multiplier: 2}
	return New(store, throttle.NewOperator(2, nil), policy, 100, nil)
}

func TestBackoffSchedule(t *testing.T) {
	p := Policy{MaxAttempts: 5, MinBackoff: 10 * time.Millisecond, MaxBackoff: 50 * time.Millisecond, Multiplier: 2}
	assert.Equal(t, time.Duration(0), p.Backoff(0))
	assert.Equal(t, 10*time.Millisecond, p.Backoff(1))
	assert.Equal(t, 20*time.Millisecond, p.Backoff(2))
	assert.Equal(t, 40*time.Millisecond, p.Backoff(3))
	assert.Equal(t, 50*time.Millisecond, p.Backoff(4))

	flat := Policy{MinBackoff: time.Second}
	assert.Equal(t, time.Second, flat.Backoff(3))
}

func TestRetryAbsorbsTransientFailures(t *testing.T) {
	store := &stubStorage{failures: 2, err: storage.ErrOverloaded}
	f := newFetcher(store, 3)

	page, err := f.FetchFirst(context.Background(), storage.Query{Table: "messages"})
	require.NoError(t, err)
	assert.Equal(t, 3, store.count())
	assert.True(t, page.HasMore)
}

func TestRetryExhausted(t *testing.T) {
	store := &stubStorage{failures: 100, err: storage.ErrTimeout}
	f := newFetcher(store, 4)

	_, err := f.FetchFirst(context.Background(), storage.Query{Table: "messages"})
	require.Error(t, err)
	assert.True(t, storeerr.Is(err, storeerr.RetryExhausted))
	assert.True(t, errors.Is(err, storage.ErrTimeout))
	assert.Equal(t, 4, store.count())
}

func TestNonRetryableFailsFast(t *testing.T) {
	store := &stubStorage{failures: 100, err: storage.ErrUnavailable}
	f := newFetcher(store, 4)

	_, err := f.FetchFirst(context.Background(), storage.Query{Table: "messages"})
	require.Error(t, err)
	assert.True(t, storeerr.Is(err, storeerr.NonRetryableBackendFailure))
	assert.True(t, errors.Is(err, storage.ErrUnavailable))
	assert.Equal(t, 1, store.count())
}

func TestPageSizeIsClamped(t *testing.T) {
	store := &stubStorage{}
	f := newFetcher(store, 1)

	_, err := f.FetchFirst(context.Background(), storage.Query{Table: "messages", PageSize: 1000})
	require.NoError(t, err)
	assert.Equal(t, 100, store.lastSize)

	_, err = f.FetchFirst(context.Background(), storage.Query{Table: "messages", PageSize: 10})
	require.NoError(t, err)
	assert.Equal(t, 10, store.lastSize)
}

func TestFetchNext(t *testing.T) {
	store := &stubStorage{}
	f := newFetcher(store, 1)
	ctx := context.Background()

	first, err := f.FetchFirstAsync(ctx, storage.Query{Table: "messages"}).Get(ctx)
	require.NoError(t, err)

	next, err := f.FetchNextAsync(ctx, first).Get(ctx)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.False(t, next.HasMore)

	last, err := f.FetchNext(ctx, next)
	require.NoError(t, err)
	assert.Nil(t, last)
	assert.Nil(t, f.FetchNextAsync(ctx, next))
}

func TestCancelledRetry(t *testing.T) {
	store := &stubStorage{failures: 100, err: storage.ErrOverloaded}
	policy := Policy{MaxAttempts: 10, MinBackoff: time.Hour}
	f := New(store, throttle.NewOperator(1, nil), policy, 0, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err := f.FetchFirst(ctx, storage.Query{Table: "messages"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, store.count())
}

func TestExecRetriesWrites(t *testing.T) {
	store := &stubStorage{failures: 1, err: storage.ErrOverloaded}
	f := newFetcher(store, 2)

	err := f.Exec(context.Background(), "messages", func(ctx context.Context, s storage.Storage) error {
		return s.Insert(ctx, "messages", storage.Row{})
	})
	require.NoError(t, err)
	assert.Equal(t, 2, store.count())
}
