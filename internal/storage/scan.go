package storage

import "bytes"

// pageCollector gathers one result page from rows visited in query order.
type pageCollector struct {
	q    Query
	r    keyRange
	size int
	rows []Row
	last []byte
	more bool
}

func newPageCollector(q Query, r keyRange) *pageCollector {
	return &pageCollector{q: q, r: r, size: pageSize(q)}
}

// visit consumes the next key in scan order and reports whether the scan
// should go on. Once the page is full load is no longer called.
func (c *pageCollector) visit(key []byte, load func() (Row, error)) (bool, error) {
	if !c.r.contains(key) {
		return false, nil
	}
	if len(c.rows) >= c.size {
		c.more = true
		return false, nil
	}
	row, err := load()
	if err != nil {
		return false, err
	}
	c.last = append(c.last[:0], key...)
	if c.q.Where == nil || c.q.Where(row) {
		c.rows = append(c.rows, row)
	}
	return true, nil
}

func (c *pageCollector) page() *ResultPage {
	p := &ResultPage{Rows: c.rows, HasMore: c.more, query: c.q}
	if c.more {
		p.PagingState = append([]byte(nil), c.last...)
	}
	return p
}

// startAfter narrows r so that a scan resumes past the paging state.
func startAfter(r keyRange, state []byte, reverse bool) keyRange {
	if state == nil {
		return r
	}
	if reverse {
		if r.hi == nil || bytes.Compare(state, r.hi) < 0 {
			r.hi = state
		}
		return r
	}
	next := append(append([]byte(nil), state...), 0)
	if r.lo == nil || bytes.Compare(next, r.lo) > 0 {
		r.lo = next
	}
	return r
}
