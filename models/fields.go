package models

import (
	"bytes"
	"encoding/json"
)

// Fields is an insertion-ordered string-keyed map. Values are strings,
// []string, []Fields or anything else encoding/json can marshal. Order is
// kept so that output objects read in schema order.
type Fields struct {
	keys   []string
	values map[string]any
}

func NewFields() Fields {
	return Fields{values: make(map[string]any)}
}

// Set stores v under k. A new key is appended; an existing key keeps its slot.
func (f *Fields) Set(k string, v any) {
	if f.values == nil {
		f.values = make(map[string]any)
	}
	if _, ok := f.values[k]; !ok {
		f.keys = append(f.keys, k)
	}
	f.values[k] = v
}

func (f Fields) Get(k string) (any, bool) {
	v, ok := f.values[k]
	return v, ok
}

// String returns the value under k if it is a string, else "".
func (f Fields) String(k string) string {
	s, _ := f.values[k].(string)
	return s
}

func (f Fields) Has(k string) bool {
	_, ok := f.values[k]
	return ok
}

func (f Fields) Keys() []string {
	return append([]string(nil), f.keys...)
}

func (f Fields) Len() int {
	return len(f.keys)
}

// Clone copies the key order and the top-level values.
func (f Fields) Clone() Fields {
	out := Fields{
		keys:   append([]string(nil), f.keys...),
		values: make(map[string]any, len(f.values)),
	}
	for k, v := range f.values {
		out.values[k] = v
	}
	return out
}

// Equal compares key order and JSON form of the values.
func (f Fields) Equal(o Fields) bool {
	a, errA := json.Marshal(f)
	b, errB := json.Marshal(o)
	return errA == nil && errB == nil && bytes.Equal(a, b)
}

func (f Fields) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	buf.WriteByte('{')
	for i, k := range f.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := enc.Encode(k); err != nil {
			return nil, err
		}
		trimNewline(&buf)
		buf.WriteByte(':')
		if err := enc.Encode(f.values[k]); err != nil {
			return nil, err
		}
		trimNewline(&buf)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func trimNewline(buf *bytes.Buffer) {
	if n := buf.Len(); n > 0 && buf.Bytes()[n-1] == '\n' {
		buf.Truncate(n - 1)
	}
}

// IsEmpty reports whether v carries no information: nil, "", or an empty list.
func IsEmpty(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return val == ""
	case []string:
		return len(val) == 0
	case []Fields:
		return len(val) == 0
	case []any:
		return len(val) == 0
	case Fields:
		return val.Len() == 0
	}
	return false
}
