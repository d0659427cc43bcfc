package storage

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/boltdb/bolt"

	"Cradle-storage/internal/codec"
)

// BoltStorage keeps every table in its own bucket with a nested bucket per
// partition. Clustering keys are the bucket keys, so bolt cursors walk a
// partition in clustering order.
type BoltStorage struct {
	db     *bolt.DB
	tables map[string]*Table
	mu     sync.RWMutex
}

// NewBoltStorage opens (or creates) the database file at path.
func NewBoltStorage(path string) (*BoltStorage, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt database %s: %v: %w", path, err, ErrUnavailable)
	}
	return &BoltStorage{db: db, tables: make(map[string]*Table)}, nil
}

func (bs *BoltStorage) CreateTable(ctx context.Context, t *Table) error {
	bs.mu.Lock()
	defer bs.mu.Unlock()

	err := bs.db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(t.Name))
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to create table %s: %w", t.Name, err)
	}
	if _, exists := bs.tables[t.Name]; !exists {
		bs.tables[t.Name] = t
	}
	return nil
}

func (bs *BoltStorage) table(name string) (*Table, error) {
	bs.mu.RLock()
	defer bs.mu.RUnlock()

	t, ok := bs.tables[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTable, name)
	}
	return t, nil
}

func (bs *BoltStorage) Insert(ctx context.Context, table string, row Row) error {
	return bs.write(ctx, table, row, false)
}

func (bs *BoltStorage) Update(ctx context.Context, table string, row Row) error {
	return bs.write(ctx, table, row, true)
}

func (bs *BoltStorage) write(ctx context.Context, table string, row Row, merge bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t, err := bs.table(table)
	if err != nil {
		return err
	}
	row, err = t.Normalize(row)
	if err != nil {
		return err
	}
	pk, err := t.PartitionKey(row)
	if err != nil {
		return err
	}
	ck, err := t.ClusteringKey(row)
	if err != nil {
		return err
	}

	err = bs.db.Update(func(tx *bolt.Tx) error {
		tb := tx.Bucket([]byte(table))
		if tb == nil {
			return fmt.Errorf("%w: %s", ErrUnknownTable, table)
		}
		part, err := tb.CreateBucketIfNotExists(partitionBucketName(pk))
		if err != nil {
			return err
		}
		if merge {
			if existing := part.Get(rowKey(ck)); existing != nil {
				old, err := decodeRow(t, existing)
				if err != nil {
					return err
				}
				for name, v := range row {
					old[name] = v
				}
				row = old
			}
		}
		value, err := encodeRow(t, row)
		if err != nil {
			return err
		}
		return part.Put(rowKey(ck), value)
	})
	if err != nil {
		return fmt.Errorf("failed to write %s row: %w", table, err)
	}
	return nil
}

// partitionBucketName and rowKey keep empty keys usable, bolt rejects them.
func partitionBucketName(pk []byte) []byte {
	return append([]byte{'p'}, pk...)
}

func rowKey(ck []byte) []byte {
	return append([]byte{'k'}, ck...)
}

func (bs *BoltStorage) Select(ctx context.Context, q Query) (*ResultPage, error) {
	return bs.scan(ctx, q, nil)
}

func (bs *BoltStorage) FetchNext(ctx context.Context, p *ResultPage) (*ResultPage, error) {
	if !p.HasMore {
		return &ResultPage{query: p.query}, nil
	}
	return bs.scan(ctx, p.query, p.PagingState)
}

func (bs *BoltStorage) scan(ctx context.Context, q Query, state []byte) (*ResultPage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t, err := bs.table(q.Table)
	if err != nil {
		return nil, err
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

	c := newPageCollector(q, r)
	err = bs.db.View(func(tx *bolt.Tx) error {
		tb := tx.Bucket([]byte(q.Table))
		if tb == nil {
			return fmt.Errorf("%w: %s", ErrUnknownTable, q.Table)
		}
		part := tb.Bucket(partitionBucketName(pk))
		if part == nil {
			return nil
		}
		cur := part.Cursor()
		var k, v []byte
		if q.Reverse {
			k, v = seekLast(cur, r.hi)
		} else if r.lo != nil {
			k, v = cur.Seek(rowKey(r.lo))
		} else {
			k, v = cur.First()
		}
		for ; k != nil; k, v = step(cur, q.Reverse) {
			value := v
			more, err := c.visit(k[1:], func() (Row, error) { return decodeRow(t, value) })
			if err != nil {
				return err
			}
			if !more {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", q.Table, err)
	}
	return c.page(), nil
}

// seekLast positions cur on the last key below hi (or the last key at all).
func seekLast(cur *bolt.Cursor, hi []byte) ([]byte, []byte) {
	if hi == nil {
		return cur.Last()
	}
	k, _ := cur.Seek(rowKey(hi))
	if k == nil {
		return cur.Last()
	}
	return cur.Prev()
}

func step(cur *bolt.Cursor, reverse bool) ([]byte, []byte) {
	if reverse {
		return cur.Prev()
	}
	return cur.Next()
}

func (bs *BoltStorage) Close() error {
	return bs.db.Close()
}

// cell is the persisted form of one column value.
type cell struct {
	Null bool     `codec:"n,omitempty"`
	I    int64    `codec:"i,omitempty"`
	S    string   `codec:"s,omitempty"`
	B    []byte   `codec:"b,omitempty"`
	L    []string `codec:"l,omitempty"`
}

// encodeRow writes the values of a normalized row in column order.
func encodeRow(t *Table, row Row) ([]byte, error) {
	cells := make([]cell, len(t.Columns))
	for i, col := range t.Columns {
		v, ok := row[col.Name]
		if !ok {
			cells[i].Null = true
			continue
		}
		switch col.Type {
		case TypeText:
			cells[i].S = v.(string)
		case TypeBigint:
			cells[i].I = v.(int64)
		case TypeInt:
			cells[i].I = int64(v.(int))
		case TypeBool:
			if v.(bool) {
				cells[i].I = 1
			}
		case TypeTimestamp, TypeDate:
			cells[i].I = v.(time.Time).UnixNano()
		case TypeTime:
			cells[i].I = int64(v.(time.Duration))
		case TypeBlob:
			cells[i].B = v.([]byte)
		case TypeTextSet:
			cells[i].L = v.([]string)
		}
	}
	return codec.Marshal(cells)
}

func decodeRow(t *Table, data []byte) (Row, error) {
	var cells []cell
	if err := codec.Unmarshal(data, &cells); err != nil {
		return nil, err
	}
	if len(cells) != len(t.Columns) {
		return nil, fmt.Errorf("%w: %s row has %d values for %d columns", ErrInvalidRow, t.Name, len(cells), len(t.Columns))
	}
	row := make(Row, len(cells))
	for i, col := range t.Columns {
		c := cells[i]
		if c.Null {
			continue
		}
		switch col.Type {
		case TypeText:
			row[col.Name] = c.S
		case TypeBigint:
			row[col.Name] = c.I
		case TypeInt:
			row[col.Name] = int(c.I)
		case TypeBool:
			row[col.Name] = c.I == 1
		case TypeTimestamp, TypeDate:
			row[col.Name] = time.Unix(0, c.I).UTC()
		case TypeTime:
			row[col.Name] = time.Duration(c.I)
		case TypeBlob:
			row[col.Name] = bytes.Clone(c.B)
		case TypeTextSet:
			row[col.Name] = c.L
		}
	}
	return row, nil
}
