package filter

import (
	"time"

	"Cradle-storage/internal/book"
	"Cradle-storage/internal/storeerr"
)

// Bounds is the inclusive time window and page span a read covers.
type Bounds struct {
	Left      time.Time
	Right     time.Time
	FirstPage book.PageInfo
	LastPage  book.PageInfo
	// Empty is set when nothing can match; the other fields are then unset.
	Empty bool
}

// Resolve merges explicit time bounds with the pages of b. The left bound
// is the later of from and the start of the first relevant page, the right
// bound the earlier of to and the end of the last relevant page (now for
// the open page). pageName, when set, pins both ends to that page.
func Resolve(from, to *Cond[time.Time], pageName string, b *book.BookInfo, now time.Time) (Bounds, error) {
	var page *book.PageInfo
	if pageName != "" {
		p, ok := b.Page(pageName)
		if !ok {
			return Bounds{}, storeerr.New(storeerr.UnknownPage, "page '"+pageName+"' is unknown",
				storeerr.WithBook(b.ID), storeerr.WithPage(pageName))
		}
		page = &p
	}
	if b.PageCount() == 0 {
		return Bounds{Empty: true}, nil
	}

	// Left bound.
	var left *time.Time
	if from != nil {
		v := from.Value
		left = &v
	}
	if page != nil && (left == nil || left.Before(page.Started)) {
		v := page.Started
		left = &v
	}
	var first book.PageInfo
	switch {
	case page != nil:
		first = *page
	case left == nil:
		first, _ = b.FirstPage()
	default:
		p, err := b.FindPage(*left)
		if err != nil {
			p, _ = b.FirstPage()
		}
		first = p
	}
	if left == nil || left.Before(first.Started) {
		v := first.Started
		left = &v
	}

	// Right bound.
	right := now
	hasRight := false
	if to != nil {
		right, hasRight = to.Value, true
	}
	if page != nil {
		if end := page.EndOrNow(now); !hasRight || end.Before(right) {
			right = end
		}
	}
	if right.Before(b.Created) {
		return Bounds{Empty: true}, nil
	}
	var last book.PageInfo
	if page != nil {
		last = *page
	} else {
		p, err := b.FindPage(right)
		if err != nil {
			return Bounds{Empty: true}, nil
		}
		last = p
	}
	if end := last.EndOrNow(now); end.Before(right) {
		right = end
	}

	if right.Before(*left) || last.Started.Before(first.Started) {
		return Bounds{Empty: true}, nil
	}
	return Bounds{Left: *left, Right: right, FirstPage: first, LastPage: last}, nil
}
