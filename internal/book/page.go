package book

import (
	"fmt"
	"time"
)

// PageID identifies a page within a book.
type PageID struct {
	Book string `json:"book"`
	Name string `json:"name"`
}

func (id PageID) String() string {
	return fmt.Sprintf("%s:%s", id.Book, id.Name)
}

// PageInfo describes one time partition of a book. Started is inclusive,
// Ended is exclusive; a zero Ended marks the page that is still open.
type PageInfo struct {
	ID      PageID    `json:"id"`
	Started time.Time `json:"started"`
	Ended   time.Time `json:"ended,omitempty"`
	Comment string    `json:"comment,omitempty"`
	Updated time.Time `json:"updated,omitempty"`
}

// Active reports whether the page has no end yet.
func (p PageInfo) Active() bool {
	return p.Ended.IsZero()
}

// Contains reports whether t falls in [Started, Ended).
func (p PageInfo) Contains(t time.Time) bool {
	if t.Before(p.Started) {
		return false
	}
	return p.Active() || t.Before(p.Ended)
}

// EndOrNow returns the page end, or now for the open page.
func (p PageInfo) EndOrNow(now time.Time) time.Time {
	if p.Active() {
		return now
	}
	return p.Ended
}

// Equal compares pages by identity and bounds.
func (p PageInfo) Equal(other PageInfo) bool {
	return p.ID == other.ID && p.Started.Equal(other.Started) && p.Ended.Equal(other.Ended)
}
