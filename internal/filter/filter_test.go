package filter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Cradle-storage/internal/book"
	"Cradle-storage/internal/message"
	"Cradle-storage/internal/storeerr"
	"Cradle-storage/internal/testevent"
)

var base = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func at(sec int) time.Time {
	return base.Add(time.Duration(sec) * time.Second)
}

// threePages is a book created at 0 with p1[10,20), p2[20,30) and the open p3 from 30.
func threePages() *book.BookInfo {
	pages := []book.PageInfo{
		{ID: book.PageID{Book: "B", Name: "p1"}, Started: at(10), Ended: at(20)},
		{ID: book.PageID{Book: "B", Name: "p2"}, Started: at(20), Ended: at(30)},
		{ID: book.PageID{Book: "B", Name: "p3"}, Started: at(30)},
	}
	return book.New("B", "", "", at(0), pages)
}

func TestCondOperators(t *testing.T) {
	assert.True(t, MatchSequence(EqualTo[int64](5), 5))
	assert.False(t, MatchSequence(EqualTo[int64](5), 6))
	assert.True(t, MatchSequence(LessThan[int64](5), 4))
	assert.False(t, MatchSequence(LessThan[int64](5), 5))
	assert.True(t, MatchSequence(LessOrEqualTo[int64](5), 5))
	assert.True(t, MatchSequence(GreaterThan[int64](5), 6))
	assert.False(t, MatchSequence(GreaterThan[int64](5), 5))
	assert.True(t, MatchSequence(GreaterOrEqualTo[int64](5), 5))
	assert.True(t, MatchSequence(nil, 1))

	assert.True(t, MatchTime(GreaterOrEqualTo(at(1)), at(1)))
	assert.False(t, MatchTime(LessThan(at(1)), at(1)))
}

func TestMessageFilterValidate(t *testing.T) {
	f := MessageFilter{Book: "B", SessionAlias: "s", Direction: message.First}
	require.NoError(t, f.Validate())

	bad := f
	bad.SessionAlias = ""
	assert.True(t, storeerr.Is(bad.Validate(), storeerr.ValidationError))

	bad = f
	bad.Direction = 0
	assert.True(t, storeerr.Is(bad.Validate(), storeerr.ValidationError))

	bad = f
	bad.TimestampFrom = LessThan(at(1))
	assert.True(t, storeerr.Is(bad.Validate(), storeerr.ValidationError))
}

func TestMessageFilterMatch(t *testing.T) {
	f := MessageFilter{
		Book: "B", SessionAlias: "s", Direction: message.First,
		Sequence:      GreaterThan[int64](10),
		TimestampFrom: GreaterOrEqualTo(at(5)),
		TimestampTo:   LessThan(at(8)),
	}
	id := message.ID{Book: "B", SessionAlias: "s", Direction: message.First, Timestamp: at(5), Sequence: 11}
	assert.True(t, f.MatchMessage(id))

	id.Sequence = 10
	assert.False(t, f.MatchMessage(id))

	id.Sequence = 11
	id.Timestamp = at(8)
	assert.False(t, f.MatchMessage(id))
}

func TestTestEventFilterCheck(t *testing.T) {
	b := threePages()
	ok := func(f TestEventFilter) bool {
		res, err := f.Check(b)
		require.NoError(t, err)
		return res
	}

	assert.True(t, ok(TestEventFilter{Book: "B", Scope: "sc"}))

	_, err := (&TestEventFilter{Scope: "sc"}).Check(b)
	assert.True(t, storeerr.Is(err, storeerr.ValidationError))

	_, err = (&TestEventFilter{Book: "B"}).Check(b)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scope is mandatory")

	_, err = (&TestEventFilter{Book: "B", Scope: "sc", Page: "nope"}).Check(b)
	assert.True(t, storeerr.Is(err, storeerr.UnknownPage))

	parent := testevent.ID{Book: "other", Scope: "sc", StartTimestamp: at(1), ID: "p"}
	_, err = (&TestEventFilter{Book: "B", Scope: "sc", ParentID: &parent}).Check(b)
	assert.True(t, storeerr.Is(err, storeerr.ValidationError))

	_, err = (&TestEventFilter{Book: "B", Scope: "sc",
		StartTimestampFrom: GreaterOrEqualTo(at(15)), StartTimestampTo: LessOrEqualTo(at(12))}).Check(b)
	assert.True(t, storeerr.Is(err, storeerr.ValidationError))

	// A right bound before the book was created matches nothing, silently.
	assert.False(t, ok(TestEventFilter{Book: "B", Scope: "sc", StartTimestampTo: LessThan(at(-1))}))

	// Bounds outside the requested page match nothing.
	assert.False(t, ok(TestEventFilter{Book: "B", Scope: "sc", Page: "p1", StartTimestampFrom: GreaterThan(at(25))}))
	assert.False(t, ok(TestEventFilter{Book: "B", Scope: "sc", Page: "p2", StartTimestampTo: LessThan(at(15))}))
	assert.True(t, ok(TestEventFilter{Book: "B", Scope: "sc", Page: "p3", StartTimestampFrom: GreaterThan(at(1000))}))
}

func TestTestEventFilterMatch(t *testing.T) {
	parent := testevent.ID{Book: "B", Scope: "sc", StartTimestamp: at(1), ID: "p"}
	other := testevent.ID{Book: "B", Scope: "sc", StartTimestamp: at(1), ID: "q"}
	f := TestEventFilter{Book: "B", Scope: "sc", ParentID: &parent, StartTimestampFrom: GreaterOrEqualTo(at(10))}

	assert.True(t, f.MatchEvent(at(10), &parent))
	assert.False(t, f.MatchEvent(at(9), &parent))
	assert.False(t, f.MatchEvent(at(10), &other))
	assert.False(t, f.MatchEvent(at(10), nil))
}

func TestResolveWholeBook(t *testing.T) {
	b := threePages()
	now := at(100)

	bounds, err := Resolve(nil, nil, "", b, now)
	require.NoError(t, err)
	assert.False(t, bounds.Empty)
	assert.Equal(t, at(10), bounds.Left)
	assert.Equal(t, now, bounds.Right)
	assert.Equal(t, "p1", bounds.FirstPage.ID.Name)
	assert.Equal(t, "p3", bounds.LastPage.ID.Name)
}

func TestResolveExplicitBounds(t *testing.T) {
	b := threePages()
	now := at(100)

	bounds, err := Resolve(GreaterOrEqualTo(at(22)), LessOrEqualTo(at(35)), "", b, now)
	require.NoError(t, err)
	assert.Equal(t, at(22), bounds.Left)
	assert.Equal(t, at(35), bounds.Right)
	assert.Equal(t, "p2", bounds.FirstPage.ID.Name)
	assert.Equal(t, "p3", bounds.LastPage.ID.Name)

	// Bounds wider than the book are clamped to its pages.
	bounds, err = Resolve(GreaterOrEqualTo(at(-50)), LessOrEqualTo(at(500)), "", b, now)
	require.NoError(t, err)
	assert.Equal(t, at(10), bounds.Left)
	assert.Equal(t, now, bounds.Right)
	assert.Equal(t, "p1", bounds.FirstPage.ID.Name)
}

func TestResolvePinnedPage(t *testing.T) {
	b := threePages()
	now := at(100)

	bounds, err := Resolve(nil, nil, "p2", b, now)
	require.NoError(t, err)
	assert.Equal(t, at(20), bounds.Left)
	assert.Equal(t, at(30), bounds.Right)
	assert.Equal(t, "p2", bounds.FirstPage.ID.Name)
	assert.Equal(t, "p2", bounds.LastPage.ID.Name)

	bounds, err = Resolve(GreaterOrEqualTo(at(25)), nil, "p2", b, now)
	require.NoError(t, err)
	assert.Equal(t, at(25), bounds.Left)

	bounds, err = Resolve(nil, nil, "p3", b, now)
	require.NoError(t, err)
	assert.Equal(t, now, bounds.Right)

	_, err = Resolve(nil, nil, "missing", b, now)
	assert.True(t, storeerr.Is(err, storeerr.UnknownPage))
}

func TestResolveEmpty(t *testing.T) {
	b := threePages()
	now := at(100)

	bounds, err := Resolve(nil, LessThan(at(-5)), "", b, now)
	require.NoError(t, err)
	assert.True(t, bounds.Empty)

	bounds, err = Resolve(nil, LessThan(at(5)), "", b, now)
	require.NoError(t, err)
	assert.True(t, bounds.Empty)

	bounds, err = Resolve(GreaterThan(at(25)), nil, "p1", b, now)
	require.NoError(t, err)
	assert.True(t, bounds.Empty)

	bounds, err = Resolve(nil, nil, "", book.New("E", "", "", at(0), nil), now)
	require.NoError(t, err)
	assert.True(t, bounds.Empty)
}
