// Package models provides the row model pqshim reads and writes.
//
// A Row is an ordered name to value mapping: field order is the order in
// which fields were first set, and lookups by name are constant time.
package models

import (
	"bytes"
	"fmt"

	"github.com/goccy/go-json"
)

// Row is a single pipeline row. The zero value is an empty row ready to use.
// Rows are not safe for concurrent mutation.
type Row struct {
	// Source identifies where the row came from (for rows produced by a
	// reader, the file path of the split)
	Source string

	names  []string
	values []interface{}
	index  map[string]int
}

// NewRow creates a row with capacity for n fields.
func NewRow(n int) *Row {
	return &Row{
		names:  make([]string, 0, n),
		values: make([]interface{}, 0, n),
		index:  make(map[string]int, n),
	}
}

// RowOf builds a row from alternating name, value pairs. It panics on an odd
// number of arguments or a non-string name, which makes it suited to tests
// and literals only.
func RowOf(pairs ...interface{}) *Row {
	if len(pairs)%2 != 0 {
		panic("models.RowOf: odd number of arguments")
	}
	r := NewRow(len(pairs) / 2)
	for i := 0; i < len(pairs); i += 2 {
		name, ok := pairs[i].(string)
		if !ok {
			panic(fmt.Sprintf("models.RowOf: name at %d is %T, not string", i, pairs[i]))
		}
		r.Set(name, pairs[i+1])
	}
	return r
}

// Set assigns value to name. A new name is appended; an existing name keeps
// its position.
func (r *Row) Set(name string, value interface{}) {
	if r.index == nil {
		r.index = make(map[string]int)
	}
	if i, ok := r.index[name]; ok {
		r.values[i] = value
		return
	}
	r.index[name] = len(r.names)
	r.names = append(r.names, name)
	r.values = append(r.values, value)
}

// Get returns the value of name and whether the row has that field.
func (r *Row) Get(name string) (interface{}, bool) {
	i, ok := r.index[name]
	if !ok {
		return nil, false
	}
	return r.values[i], true
}

// Len returns the number of fields.
func (r *Row) Len() int {
	return len(r.names)
}

// Names returns the field names in order. The slice must not be modified.
func (r *Row) Names() []string {
	return r.names
}

// Values returns the field values in order. The slice must not be modified.
func (r *Row) Values() []interface{} {
	return r.values
}

// ToMap returns a copy of the row as a map.
func (r *Row) ToMap() map[string]interface{} {
	m := make(map[string]interface{}, len(r.names))
	for i, n := range r.names {
		m[n] = r.values[i]
	}
	return m
}

// String renders the row for logs and test failures.
func (r *Row) String() string {
	s := "{"
	for i, n := range r.names {
		if i > 0 {
			s += ", "
		}
		s += fmt.Sprintf("%s: %v", n, r.values[i])
	}
	return s + "}"
}

// MarshalJSON renders the row as a JSON object whose keys keep field order.
// Binary values are base64 encoded and dates use RFC 3339.
func (r *Row) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, n := range r.names {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(n)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(r.values[i])
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", n, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
