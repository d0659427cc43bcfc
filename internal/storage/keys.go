package storage

import (
	"encoding/binary"
	"fmt"
	"time"
)

// Key components are self-delimiting and compare bytewise in the same
// order as their values, so a composite key sorts like a tuple and a key
// prefix bounds exactly the rows sharing those leading values.

const (
	textEscape     = 0x00
	textEscapedNul = 0xFF
	textTerminator = 0x01
)

// EncodeKey encodes values of the given types as one ordered key. values
// may be shorter than types, which yields a prefix.
func EncodeKey(types []Type, values []interface{}) ([]byte, error) {
	if len(values) > len(types) {
		return nil, fmt.Errorf("%w: %d key values for %d key columns", ErrInvalidRow, len(values), len(types))
	}
	var key []byte
	for i, v := range values {
		nv, err := normalize(types[i], v)
		if err != nil {
			return nil, fmt.Errorf("%w: key component %d: %v", ErrInvalidRow, i, err)
		}
		if nv == nil {
			return nil, fmt.Errorf("%w: key component %d is null", ErrInvalidRow, i)
		}
		key = appendKeyValue(key, types[i], nv)
	}
	return key, nil
}

func encodeColumns(table string, cols []Column, row Row) ([]byte, error) {
	types := make([]Type, 0, len(cols))
	values := make([]interface{}, 0, len(cols))
	for _, c := range cols {
		v, ok := row[c.Name]
		if !ok {
			return nil, fmt.Errorf("%w: key column %s.%s is missing", ErrInvalidRow, table, c.Name)
		}
		types = append(types, c.Type)
		values = append(values, v)
	}
	return EncodeKey(types, values)
}

func appendKeyValue(dst []byte, typ Type, v interface{}) []byte {
	switch typ {
	case TypeText:
		return appendText(dst, []byte(v.(string)))
	case TypeBlob:
		return appendText(dst, v.([]byte))
	case TypeBigint:
		return appendInt(dst, v.(int64))
	case TypeInt:
		return appendInt(dst, int64(v.(int)))
	case TypeBool:
		if v.(bool) {
			return append(dst, 1)
		}
		return append(dst, 0)
	case TypeTimestamp, TypeDate:
		return appendInt(dst, v.(time.Time).UnixNano())
	case TypeTime:
		return appendInt(dst, int64(v.(time.Duration)))
	case TypeTextSet:
		for _, s := range v.([]string) {
			dst = append(dst, 1)
			dst = appendText(dst, []byte(s))
		}
		return append(dst, 0)
	}
	panic(fmt.Sprintf("storage: no key encoding for %s", typ))
}

func appendText(dst, s []byte) []byte {
	for _, c := range s {
		if c == textEscape {
			dst = append(dst, textEscape, textEscapedNul)
			continue
		}
		dst = append(dst, c)
	}
	return append(dst, textEscape, textTerminator)
}

func appendInt(dst []byte, n int64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(n)^(1<<63))
	return append(dst, buf[:]...)
}

// prefixEnd returns the smallest key greater than every key starting with
// prefix, or nil if there is none.
func prefixEnd(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xFF {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}

// keyRange is the half-open interval [lo, hi) of clustering keys a query
// covers. A nil bound is unbounded.
type keyRange struct {
	lo, hi []byte
}

func (r keyRange) contains(key []byte) bool {
	if r.lo != nil && string(key) < string(r.lo) {
		return false
	}
	if r.hi != nil && string(key) >= string(r.hi) {
		return false
	}
	return true
}

func clusteringRange(t *Table, q Query) (keyRange, error) {
	cols := t.ClusteringColumns()
	types := make([]Type, len(cols))
	for i, c := range cols {
		types[i] = c.Type
	}
	var r keyRange
	if q.From != nil {
		lo, err := EncodeKey(types, q.From.Values)
		if err != nil {
			return r, err
		}
		if !q.From.Inclusive {
			if lo = prefixEnd(lo); lo == nil {
				return keyRange{lo: []byte{}, hi: []byte{}}, nil
			}
		}
		r.lo = lo
	}
	if q.To != nil {
		hi, err := EncodeKey(types, q.To.Values)
		if err != nil {
			return r, err
		}
		if q.To.Inclusive {
			hi = prefixEnd(hi)
		}
		r.hi = hi
	}
	return r, nil
}
