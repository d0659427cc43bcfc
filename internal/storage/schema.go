package storage

import (
	"fmt"
	"sort"
	"time"
)

// Type is the semantic type of a column.
type Type int

const (
	TypeText Type = iota + 1
	TypeBigint
	TypeInt
	TypeBool
	TypeTimestamp
	TypeBlob
	// TypeDate is a calendar day (UTC), stored as time.Time at midnight.
	TypeDate
	// TypeTime is a time of day, stored as time.Duration since midnight.
	TypeTime
	TypeTextSet
)

func (t Type) String() string {
	switch t {
	case TypeText:
		return "text"
	case TypeBigint:
		return "bigint"
	case TypeInt:
		return "int"
	case TypeBool:
		return "boolean"
	case TypeTimestamp:
		return "timestamp"
	case TypeBlob:
		return "blob"
	case TypeDate:
		return "date"
	case TypeTime:
		return "time"
	case TypeTextSet:
		return "set<text>"
	default:
		return fmt.Sprintf("Type(%d)", int(t))
	}
}

// Role tells how a column takes part in the primary key.
type Role int

const (
	Regular Role = iota
	Partition
	Clustering
)

// Column describes one column of a table.
type Column struct {
	Name string
	Type Type
	Role Role
}

// Table is an explicit schema: partition columns select the partition,
// clustering columns order rows within it.
type Table struct {
	Name    string
	Columns []Column
}

// Column returns the column with the given name.
func (t *Table) Column(name string) (Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

func (t *Table) columnsWithRole(role Role) []Column {
	var out []Column
	for _, c := range t.Columns {
		if c.Role == role {
			out = append(out, c)
		}
	}
	return out
}

func (t *Table) PartitionColumns() []Column {
	return t.columnsWithRole(Partition)
}

func (t *Table) ClusteringColumns() []Column {
	return t.columnsWithRole(Clustering)
}

// PartitionKey encodes the partition columns of row.
func (t *Table) PartitionKey(row Row) ([]byte, error) {
	return encodeColumns(t.Name, t.PartitionColumns(), row)
}

// ClusteringKey encodes the clustering columns of row.
func (t *Table) ClusteringKey(row Row) ([]byte, error) {
	return encodeColumns(t.Name, t.ClusteringColumns(), row)
}

// Normalize checks row against the schema and returns a copy holding
// values in their canonical Go types. Key columns are mandatory.
func (t *Table) Normalize(row Row) (Row, error) {
	out := make(Row, len(row))
	for name, v := range row {
		col, ok := t.Column(name)
		if !ok {
			return nil, fmt.Errorf("%w: unknown column %s.%s", ErrInvalidRow, t.Name, name)
		}
		nv, err := normalize(col.Type, v)
		if err != nil {
			return nil, fmt.Errorf("%w: column %s.%s: %v", ErrInvalidRow, t.Name, name, err)
		}
		if nv != nil {
			out[name] = nv
		}
	}
	for _, c := range t.Columns {
		if c.Role == Regular {
			continue
		}
		if _, ok := out[c.Name]; !ok {
			return nil, fmt.Errorf("%w: key column %s.%s is missing", ErrInvalidRow, t.Name, c.Name)
		}
	}
	return out, nil
}

// normalize converts v to the canonical Go type of typ. A nil value, or a
// zero timestamp, yields nil.
func normalize(typ Type, v interface{}) (interface{}, error) {
	if v == nil {
		return nil, nil
	}
	switch typ {
	case TypeText:
		if s, ok := v.(string); ok {
			return s, nil
		}
	case TypeBigint:
		switch n := v.(type) {
		case int64:
			return n, nil
		case int:
			return int64(n), nil
		case int32:
			return int64(n), nil
		}
	case TypeInt:
		switch n := v.(type) {
		case int:
			return n, nil
		case int32:
			return int(n), nil
		case int64:
			return int(n), nil
		}
	case TypeBool:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case TypeTimestamp:
		if ts, ok := v.(time.Time); ok {
			if ts.IsZero() {
				return nil, nil
			}
			return ts.UTC(), nil
		}
	case TypeBlob:
		if b, ok := v.([]byte); ok {
			return b, nil
		}
	case TypeDate:
		if ts, ok := v.(time.Time); ok {
			return DateOf(ts), nil
		}
	case TypeTime:
		switch d := v.(type) {
		case time.Duration:
			return d, nil
		case time.Time:
			return TimeOfDay(d), nil
		}
	case TypeTextSet:
		if set, ok := v.([]string); ok {
			return normalizeSet(set), nil
		}
	}
	return nil, fmt.Errorf("value of type %T does not fit %s", v, typ)
}

func normalizeSet(set []string) []string {
	if len(set) == 0 {
		return nil
	}
	out := make([]string, len(set))
	copy(out, set)
	sort.Strings(out)
	n := 1
	for i := 1; i < len(out); i++ {
		if out[i] != out[n-1] {
			out[n] = out[i]
			n++
		}
	}
	return out[:n]
}

// DateOf returns the UTC midnight of t's day.
func DateOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// TimeOfDay returns the time elapsed since UTC midnight of t's day.
func TimeOfDay(t time.Time) time.Duration {
	return t.UTC().Sub(DateOf(t))
}

// Row maps column names to values.
type Row map[string]interface{}

func (r Row) String(name string) string {
	s, _ := r[name].(string)
	return s
}

func (r Row) Int64(name string) int64 {
	n, _ := r[name].(int64)
	return n
}

func (r Row) Int(name string) int {
	n, _ := r[name].(int)
	return n
}

func (r Row) Bool(name string) bool {
	b, _ := r[name].(bool)
	return b
}

// Time returns a timestamp or date column; zero if unset.
func (r Row) Time(name string) time.Time {
	t, _ := r[name].(time.Time)
	return t
}

func (r Row) Duration(name string) time.Duration {
	d, _ := r[name].(time.Duration)
	return d
}

func (r Row) Bytes(name string) []byte {
	b, _ := r[name].([]byte)
	return b
}

func (r Row) Strings(name string) []string {
	s, _ := r[name].([]string)
	return s
}

// Has reports whether the column is set.
func (r Row) Has(name string) bool {
	_, ok := r[name]
	return ok
}

func (r Row) clone() Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}
