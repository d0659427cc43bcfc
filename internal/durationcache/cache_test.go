package durationcache

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Cradle-storage/internal/book"
)

func TestUpdateIsMonotonic(t *testing.T) {
	c, err := New(10)
	require.NoError(t, err)
	key := Key{Book: "b", Page: "p1", Scope: "s"}

	assert.True(t, c.Update(key, 5*time.Second))
	assert.False(t, c.Update(key, 2*time.Second))

	d, ok := c.Get(key)
	require.True(t, ok)
	assert.Equal(t, 5*time.Second, d)

	assert.True(t, c.Update(key, 7*time.Second))
	d, _ = c.Get(key)
	assert.Equal(t, 7*time.Second, d)
}

func TestRemovePageEvictsOnlyThatPage(t *testing.T) {
	c, err := New(10)
	require.NoError(t, err)
	c.Update(Key{Book: "b", Page: "p1", Scope: "s1"}, time.Second)
	c.Update(Key{Book: "b", Page: "p1", Scope: "s2"}, time.Second)
	c.Update(Key{Book: "b", Page: "p2", Scope: "s1"}, time.Second)
	c.Update(Key{Book: "other", Page: "p1", Scope: "s1"}, time.Second)

	assert.Equal(t, 2, c.RemovePage(book.PageID{Book: "b", Name: "p1"}))
	assert.Equal(t, 2, c.Len())

	_, ok := c.Get(Key{Book: "b", Page: "p1", Scope: "s1"})
	assert.False(t, ok)
	_, ok = c.Get(Key{Book: "b", Page: "p2", Scope: "s1"})
	assert.True(t, ok)
	_, ok = c.Get(Key{Book: "other", Page: "p1", Scope: "s1"})
	assert.True(t, ok)
}

func TestSizeBound(t *testing.T) {
	c, err := New(2)
	require.NoError(t, err)
	c.Update(Key{Scope: "a"}, time.Second)
	c.Update(Key{Scope: "b"}, time.Second)
	c.Update(Key{Scope: "c"}, time.Second)

	assert.Equal(t, 2, c.Len())
	_, ok := c.Get(Key{Scope: "a"})
	assert.False(t, ok)
}

func TestConcurrentUpdatesKeepMaximum(t *testing.T) {
	c, err := New(10)
	require.NoError(t, err)
	key := Key{Book: "b", Page: "p", Scope: "s"}

	var wg sync.WaitGroup
	for i := 1; i <= 100; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			c.Update(key, time.Duration(n)*time.Millisecond)
		}(i)
	}
	wg.Wait()

	d, ok := c.Get(key)
	require.True(t, ok)
	assert.Equal(t, 100*time.Millisecond, d)
}

func TestNewRejectsZeroSize(t *testing.T) {
	_, err := New(0)
	assert.Error(t, err)
}
