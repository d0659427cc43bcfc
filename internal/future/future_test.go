package future

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestGoCompletes(t *testing.T) {
	f := Go(func() (int, error) { return 42, nil })
	v, err := f.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestCompleteOnlyOnce(t *testing.T) {
	f := New[string]()
	assert.True(t, f.Complete("first", nil))
	assert.False(t, f.Complete("second", errors.New("late")))

	v, err := f.Result()
	require.NoError(t, err)
	assert.Equal(t, "first", v)
}

func TestGetHonoursContext(t *testing.T) {
	f := New[int]()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := f.Get(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	f.Complete(1, nil)
}

func TestThenPassesFailureThrough(t *testing.T) {
	boom := errors.New("boom")
	called := false
	next := Then(Failed[int](boom), func(int) (string, error) {
		called = true
		return "", nil
	})
	_, err := next.Result()
	assert.Same(t, boom, err)
	assert.False(t, called)

	mapped, err := Then(Completed(2), func(v int) (int, error) { return v * 10, nil }).Result()
	require.NoError(t, err)
	assert.Equal(t, 20, mapped)
}

func TestOnComplete(t *testing.T) {
	got := make(chan int, 1)
	Completed(7).OnComplete(func(v int, err error) { got <- v })
	select {
	case v := <-got:
		assert.Equal(t, 7, v)
	case <-time.After(time.Second):
		t.Fatal("callback not invoked")
	}
}
