package storage

import (
	"fmt"
	"sort"
	"strconv"
	"time"
)

// Record is one logical sparse row: column name to value.
// Absence of a column means it was never set or has been deleted.
type Record map[string]string

// Clone returns a copy of r. A nil Record clones to an empty one.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Columns returns the column names of r in sorted order.
func (r Record) Columns() []string {
	cols := make([]string, 0, len(r))
	for k := range r {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	return cols
}

// Changes is a set of column mutations passed to Insert.
// A string value upserts the column; a nil value deletes it.
type Changes map[string]any

// ChangesFrom returns Changes that upsert every column of r.
func ChangesFrom(r Record) Changes {
	out := make(Changes, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Columns returns the column names of c in sorted order.
func (c Changes) Columns() []string {
	cols := make([]string, 0, len(c))
	for k := range c {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	return cols
}

// CheckChanges verifies every value in changes can be written inline.
// Binary values and unsupported types yield a configuration error naming the
// column; nothing should be written when this fails.
func CheckChanges(row string, changes Changes) error {
	for _, col := range changes.Columns() {
		switch v := changes[col].(type) {
		case nil, string:
		case []byte:
			return &Error{
				Code:    ErrCodeConfiguration,
				Op:      "insert",
				Message: "binary value must be streamed, not stored inline",
				Row:     row,
				Column:  col,
			}
		default:
			return &Error{
				Code:    ErrCodeConfiguration,
				Op:      "insert",
				Message: fmt.Sprintf("unsupported value type %T", v),
				Row:     row,
				Column:  col,
			}
		}
	}
	return nil
}

// ToStore renders common scalar values as stored column strings.
// Times are stored as Unix milliseconds.
func ToStore(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	case time.Time:
		return strconv.FormatInt(t.UnixMilli(), 10)
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(v)
	}
}
