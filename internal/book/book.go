package book

import (
	"fmt"
	"sort"
	"time"

	"Cradle-storage/internal/storeerr"
)

// BookInfo is an immutable snapshot of a book and its ordered pages. Every
// change produces a new value, so a snapshot can be read without locking.
type BookInfo struct {
	ID          string
	FullName    string
	Description string
	Created     time.Time
	pages       []PageInfo
}

// New returns a book without pages. Pages are sorted by start time.
func New(id, fullName, description string, created time.Time, pages []PageInfo) *BookInfo {
	b := &BookInfo{
		ID:          id,
		FullName:    fullName,
		Description: description,
		Created:     created,
	}
	b.pages = sortedCopy(pages)
	return b
}

func sortedCopy(pages []PageInfo) []PageInfo {
	out := make([]PageInfo, len(pages))
	copy(out, pages)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Started.Before(out[j].Started) })
	return out
}

// Pages returns a copy of the page list in start order.
func (b *BookInfo) Pages() []PageInfo {
	out := make([]PageInfo, len(b.pages))
	copy(out, b.pages)
	return out
}

func (b *BookInfo) PageCount() int {
	return len(b.pages)
}

func (b *BookInfo) FirstPage() (PageInfo, bool) {
	if len(b.pages) == 0 {
		return PageInfo{}, false
	}
	return b.pages[0], true
}

func (b *BookInfo) LastPage() (PageInfo, bool) {
	if len(b.pages) == 0 {
		return PageInfo{}, false
	}
	return b.pages[len(b.pages)-1], true
}

// ActivePage returns the open page. Only the last page can be open.
func (b *BookInfo) ActivePage() (PageInfo, bool) {
	last, ok := b.LastPage()
	if !ok || !last.Active() {
		return PageInfo{}, false
	}
	return last, true
}

// Page looks a page up by name.
func (b *BookInfo) Page(name string) (PageInfo, bool) {
	for _, p := range b.pages {
		if p.ID.Name == name {
			return p, true
		}
	}
	return PageInfo{}, false
}

// FindPage returns the latest page whose start is not after t.
func (b *BookInfo) FindPage(t time.Time) (PageInfo, error) {
	i := sort.Search(len(b.pages), func(i int) bool { return b.pages[i].Started.After(t) })
	if i == 0 {
		return PageInfo{}, storeerr.New(storeerr.UnknownPage, "timestamp "+t.UTC().Format(time.RFC3339Nano)+" precedes every page", storeerr.WithBook(b.ID))
	}
	return b.pages[i-1], nil
}

// NextPage returns the first page starting after start.
func (b *BookInfo) NextPage(start time.Time) (PageInfo, bool) {
	i := sort.Search(len(b.pages), func(i int) bool { return b.pages[i].Started.After(start) })
	if i == len(b.pages) {
		return PageInfo{}, false
	}
	return b.pages[i], true
}

// PreviousPage returns the last page starting before start.
func (b *BookInfo) PreviousPage(start time.Time) (PageInfo, bool) {
	i := sort.Search(len(b.pages), func(i int) bool { return !b.pages[i].Started.Before(start) })
	if i == 0 {
		return PageInfo{}, false
	}
	return b.pages[i-1], true
}

// CheckNewPage validates a page switch without applying it.
func (b *BookInfo) CheckNewPage(name string, start time.Time) error {
	if _, exists := b.Page(name); exists {
		return storeerr.New(storeerr.PageAlreadyExists, "page '"+name+"' already exists", storeerr.WithBook(b.ID), storeerr.WithPage(name))
	}
	if last, ok := b.LastPage(); ok && !start.After(last.Started) {
		return storeerr.New(storeerr.InvalidPageOrdering,
			fmt.Sprintf("start of new page '%s' (%s) must be after start of page '%s' (%s)",
				name, start.UTC().Format(time.RFC3339Nano), last.ID.Name, last.Started.UTC().Format(time.RFC3339Nano)),
			storeerr.WithBook(b.ID), storeerr.WithPage(name))
	}
	return nil
}

// WithNewPage returns a copy of the book with page appended. The page that
// was open is closed at the new page's start.
func (b *BookInfo) WithNewPage(page PageInfo) (*BookInfo, error) {
	if err := b.CheckNewPage(page.ID.Name, page.Started); err != nil {
		return nil, err
	}
	pages := make([]PageInfo, len(b.pages), len(b.pages)+1)
	copy(pages, b.pages)
	if n := len(pages); n > 0 && pages[n-1].Active() {
		pages[n-1].Ended = page.Started
		pages[n-1].Updated = page.Started
	}
	page.ID.Book = b.ID
	pages = append(pages, page)
	return &BookInfo{
		ID:          b.ID,
		FullName:    b.FullName,
		Description: b.Description,
		Created:     b.Created,
		pages:       pages,
	}, nil
}

// WithPages returns a copy of the book holding exactly pages.
func (b *BookInfo) WithPages(pages []PageInfo) *BookInfo {
	return New(b.ID, b.FullName, b.Description, b.Created, pages)
}
