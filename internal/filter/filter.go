package filter

import (
	"cmp"
	"fmt"
	"time"

	"Cradle-storage/internal/book"
	"Cradle-storage/internal/message"
	"Cradle-storage/internal/storeerr"
	"Cradle-storage/internal/testevent"
)

// Op is a comparison operator.
type Op int

const (
	Equal Op = iota + 1
	Less
	LessOrEqual
	Greater
	GreaterOrEqual
)

func (o Op) String() string {
	switch o {
	case Equal:
		return "="
	case Less:
		return "<"
	case LessOrEqual:
		return "<="
	case Greater:
		return ">"
	case GreaterOrEqual:
		return ">="
	default:
		return "?"
	}
}

// Cond compares a value against Value with Op.
type Cond[T any] struct {
	Op    Op
	Value T
}

func EqualTo[T any](v T) *Cond[T]          { return &Cond[T]{Op: Equal, Value: v} }
func LessThan[T any](v T) *Cond[T]         { return &Cond[T]{Op: Less, Value: v} }
func LessOrEqualTo[T any](v T) *Cond[T]    { return &Cond[T]{Op: LessOrEqual, Value: v} }
func GreaterThan[T any](v T) *Cond[T]      { return &Cond[T]{Op: Greater, Value: v} }
func GreaterOrEqualTo[T any](v T) *Cond[T] { return &Cond[T]{Op: GreaterOrEqual, Value: v} }

// Holds reports whether the condition is met given order, the result of
// comparing the checked value with Value.
func (c *Cond[T]) Holds(order int) bool {
	switch c.Op {
	case Equal:
		return order == 0
	case Less:
		return order < 0
	case LessOrEqual:
		return order <= 0
	case Greater:
		return order > 0
	case GreaterOrEqual:
		return order >= 0
	}
	return false
}

func (c *Cond[T]) String() string {
	return fmt.Sprintf("%s %v", c.Op, c.Value)
}

func (c *Cond[T]) isLower() bool {
	return c.Op == Greater || c.Op == GreaterOrEqual
}

func (c *Cond[T]) isUpper() bool {
	return c.Op == Less || c.Op == LessOrEqual
}

// MatchSequence reports whether v satisfies c; a nil condition matches all.
func MatchSequence(c *Cond[int64], v int64) bool {
	return c == nil || c.Holds(cmp.Compare(v, c.Value))
}

// MatchTime reports whether t satisfies c; a nil condition matches all.
func MatchTime(c *Cond[time.Time], t time.Time) bool {
	return c == nil || c.Holds(t.Compare(c.Value))
}

// MessageFilter selects messages of one session and direction.
type MessageFilter struct {
	Book          string
	Page          string
	SessionAlias  string
	Direction     message.Direction
	Sequence      *Cond[int64]
	TimestampFrom *Cond[time.Time]
	TimestampTo   *Cond[time.Time]
	// Limit caps the number of returned items; zero means no limit.
	Limit int
}

// Validate checks that the filter is complete and its bounds point the
// right way.
func (f *MessageFilter) Validate() error {
	if f.Book == "" {
		return storeerr.New(storeerr.ValidationError, "bookId is mandatory")
	}
	if f.SessionAlias == "" {
		return storeerr.New(storeerr.ValidationError, "sessionAlias is mandatory", storeerr.WithBook(f.Book))
	}
	if !f.Direction.Valid() {
		return storeerr.New(storeerr.ValidationError, "direction is mandatory", storeerr.WithBook(f.Book))
	}
	if f.TimestampFrom != nil && !f.TimestampFrom.isLower() {
		return storeerr.New(storeerr.ValidationError, "timestampFrom must be a '>' or '>=' condition", storeerr.WithBook(f.Book))
	}
	if f.TimestampTo != nil && !f.TimestampTo.isUpper() {
		return storeerr.New(storeerr.ValidationError, "timestampTo must be a '<' or '<=' condition", storeerr.WithBook(f.Book))
	}
	if f.Limit < 0 {
		return storeerr.New(storeerr.ValidationError, "limit must not be negative", storeerr.WithBook(f.Book))
	}
	return nil
}

// MatchMessage applies the per-message conditions.
func (f *MessageFilter) MatchMessage(id message.ID) bool {
	return MatchSequence(f.Sequence, id.Sequence) &&
		MatchTime(f.TimestampFrom, id.Timestamp) &&
		MatchTime(f.TimestampTo, id.Timestamp)
}

func (f *MessageFilter) String() string {
	s := fmt.Sprintf("book=%s session=%s direction=%s", f.Book, f.SessionAlias, f.Direction)
	if f.Page != "" {
		s += " page=" + f.Page
	}
	if f.Sequence != nil {
		s += " sequence" + f.Sequence.String()
	}
	if f.TimestampFrom != nil {
		s += " timestamp" + f.TimestampFrom.String()
	}
	if f.TimestampTo != nil {
		s += " timestamp" + f.TimestampTo.String()
	}
	if f.Limit > 0 {
		s += fmt.Sprintf(" limit=%d", f.Limit)
	}
	return s
}

// TestEventFilter selects test events of one scope.
type TestEventFilter struct {
	Book               string
	Page               string
	Scope              string
	StartTimestampFrom *Cond[time.Time]
	StartTimestampTo   *Cond[time.Time]
	ParentID           *testevent.ID
	// Limit caps the number of returned items; zero means no limit.
	Limit int
}

// Check validates the filter against b. It returns false without an error
// when the filter can match nothing: the right bound precedes the book's
// creation, or the bounds lie outside the requested page. Contradicting
// bounds are an error.
func (f *TestEventFilter) Check(b *book.BookInfo) (bool, error) {
	if f.Book == "" {
		return false, storeerr.New(storeerr.ValidationError, "bookId is mandatory")
	}
	if b == nil || b.ID != f.Book {
		return false, storeerr.New(storeerr.UnknownBook, "book '"+f.Book+"' is unknown", storeerr.WithBook(f.Book))
	}

	var page book.PageInfo
	if f.Page != "" {
		p, ok := b.Page(f.Page)
		if !ok {
			return false, storeerr.New(storeerr.UnknownPage, "page '"+f.Page+"' is unknown",
				storeerr.WithBook(b.ID), storeerr.WithPage(f.Page))
		}
		page = p
	}

	if f.Scope == "" {
		return false, storeerr.New(storeerr.ValidationError, "scope is mandatory", storeerr.WithBook(b.ID))
	}
	if f.ParentID != nil && f.ParentID.Book != b.ID {
		return false, storeerr.New(storeerr.ValidationError,
			fmt.Sprintf("Requested book (%s) doesn't match book of requested parent (%s)", b.ID, f.ParentID),
			storeerr.WithBook(b.ID))
	}
	if f.Limit < 0 {
		return false, storeerr.New(storeerr.ValidationError, "limit must not be negative", storeerr.WithBook(b.ID))
	}

	var from, to *time.Time
	if f.StartTimestampFrom != nil {
		from = &f.StartTimestampFrom.Value
	}
	if f.StartTimestampTo != nil {
		to = &f.StartTimestampTo.Value
	}
	if from != nil && to != nil && from.After(*to) {
		return false, storeerr.New(storeerr.ValidationError,
			fmt.Sprintf("Left bound for start timestamp (%s) is after the right bound (%s)",
				from.UTC().Format(time.RFC3339Nano), to.UTC().Format(time.RFC3339Nano)),
			storeerr.WithBook(b.ID))
	}
	if to != nil && to.Before(b.Created) {
		return false, nil
	}
	if f.Page != "" {
		if from != nil && !page.Active() && from.After(page.Ended) {
			return false, nil
		}
		if to != nil && to.Before(page.Started) {
			return false, nil
		}
	}
	return true, nil
}

// MatchEvent applies the per-event conditions.
func (f *TestEventFilter) MatchEvent(start time.Time, parent *testevent.ID) bool {
	if !MatchTime(f.StartTimestampFrom, start) || !MatchTime(f.StartTimestampTo, start) {
		return false
	}
	if f.ParentID != nil {
		return parent != nil && parent.String() == f.ParentID.String()
	}
	return true
}

func (f *TestEventFilter) String() string {
	s := fmt.Sprintf("book=%s scope=%s", f.Book, f.Scope)
	if f.Page != "" {
		s += " page=" + f.Page
	}
	if f.StartTimestampFrom != nil {
		s += " start" + f.StartTimestampFrom.String()
	}
	if f.StartTimestampTo != nil {
		s += " start" + f.StartTimestampTo.String()
	}
	if f.ParentID != nil {
		s += " parent=" + f.ParentID.String()
	}
	if f.Limit > 0 {
		s += fmt.Sprintf(" limit=%d", f.Limit)
	}
	return s
}
