package storage

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"
)

// PartitionKey represents a unique identifier for a partition
type PartitionKey struct {
	Table string
	Key   string
}

// String returns string representation of partition key
func (pk PartitionKey) String() string {
	return fmt.Sprintf("%s-%x", pk.Table, pk.Key)
}

type entry struct {
	key []byte
	row Row
}

func (e entry) load() (Row, error) {
	return e.row.clone(), nil
}

// MemoryStorage provides in-memory tabular storage
type MemoryStorage struct {
	tables map[string]*Table
	// partitions holds rows sorted by clustering key
	partitions map[PartitionKey][]entry
	closed     bool
	mu         sync.RWMutex
}

// NewMemoryStorage creates a new in-memory storage instance
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		tables:     make(map[string]*Table),
		partitions: make(map[PartitionKey][]entry),
	}
}

func (ms *MemoryStorage) CreateTable(ctx context.Context, t *Table) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if ms.closed {
		return ErrClosed
	}
	if _, exists := ms.tables[t.Name]; !exists {
		ms.tables[t.Name] = t
	}
	return nil
}

func (ms *MemoryStorage) Insert(ctx context.Context, table string, row Row) error {
	return ms.write(ctx, table, row, false)
}

func (ms *MemoryStorage) Update(ctx context.Context, table string, row Row) error {
	return ms.write(ctx, table, row, true)
}

func (ms *MemoryStorage) write(ctx context.Context, table string, row Row, merge bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	if ms.closed {
		return ErrClosed
	}
	pk, ck, row, err := ms.locate(table, row)
	if err != nil {
		return err
	}

	rows := ms.partitions[pk]
	i := sort.Search(len(rows), func(i int) bool { return bytes.Compare(rows[i].key, ck) >= 0 })
	if i < len(rows) && bytes.Equal(rows[i].key, ck) {
		if merge {
			merged := rows[i].row.clone()
			for name, v := range row {
				merged[name] = v
			}
			row = merged
		}
		rows[i].row = row
		return nil
	}

	rows = append(rows, entry{})
	copy(rows[i+1:], rows[i:])
	rows[i] = entry{key: ck, row: row}
	ms.partitions[pk] = rows
	return nil
}

func (ms *MemoryStorage) locate(table string, row Row) (PartitionKey, []byte, Row, error) {
	t, ok := ms.tables[table]
	if !ok {
		return PartitionKey{}, nil, nil, fmt.Errorf("%w: %s", ErrUnknownTable, table)
	}
	row, err := t.Normalize(row)
	if err != nil {
		return PartitionKey{}, nil, nil, err
	}
	pk, err := t.PartitionKey(row)
	if err != nil {
		return PartitionKey{}, nil, nil, err
	}
	ck, err := t.ClusteringKey(row)
	if err != nil {
		return PartitionKey{}, nil, nil, err
	}
	return PartitionKey{Table: table, Key: string(pk)}, ck, row, nil
}

func (ms *MemoryStorage) Select(ctx context.Context, q Query) (*ResultPage, error) {
	return ms.scan(ctx, q, nil)
}

func (ms *MemoryStorage) FetchNext(ctx context.Context, p *ResultPage) (*ResultPage, error) {
	if !p.HasMore {
		return &ResultPage{query: p.query}, nil
	}
	return ms.scan(ctx, p.query, p.PagingState)
}

func (ms *MemoryStorage) scan(ctx context.Context, q Query, state []byte) (*ResultPage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ms.mu.RLock()
	defer ms.mu.RUnlock()

	if ms.closed {
		return nil, ErrClosed
	}
	t, ok := ms.tables[q.Table]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTable, q.Table)
	}
	pk, err := t.PartitionKey(q.Partition)
	if err != nil {
		return nil, err
	}
	r, err := clusteringRange(t, q)
	if err != nil {
		return nil, err
	}
	r = startAfter(r, state, q.Reverse)

	rows := ms.partitions[PartitionKey{Table: q.Table, Key: string(pk)}]
	c := newPageCollector(q, r)
	if q.Reverse {
		i := len(rows) - 1
		if r.hi != nil {
			i = sort.Search(len(rows), func(i int) bool { return bytes.Compare(rows[i].key, r.hi) >= 0 }) - 1
		}
		for ; i >= 0; i-- {
			if more, err := c.visit(rows[i].key, rows[i].load); err != nil {
				return nil, err
			} else if !more {
				break
			}
		}
	} else {
		i := 0
		if r.lo != nil {
			i = sort.Search(len(rows), func(i int) bool { return bytes.Compare(rows[i].key, r.lo) >= 0 })
		}
		for ; i < len(rows); i++ {
			if more, err := c.visit(rows[i].key, rows[i].load); err != nil {
				return nil, err
			} else if !more {
				break
			}
		}
	}
	return c.page(), nil
}

// PartitionSize returns the number of rows in a partition
func (ms *MemoryStorage) PartitionSize(table string, partition Row) int {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	t, ok := ms.tables[table]
	if !ok {
		return 0
	}
	pk, err := t.PartitionKey(partition)
	if err != nil {
		return 0
	}
	return len(ms.partitions[PartitionKey{Table: table, Key: string(pk)}])
}

// Clear removes all rows from storage (useful for testing)
func (ms *MemoryStorage) Clear() {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	ms.partitions = make(map[PartitionKey][]entry)
}

func (ms *MemoryStorage) Close() error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	ms.closed = true
	return nil
}
