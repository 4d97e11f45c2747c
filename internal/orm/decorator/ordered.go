package decorator

import (
	"bytes"
	"sort"

	json "github.com/goccy/go-json"
)

// OrderedMap is a JSON object that keeps its keys in insertion order
type OrderedMap struct {
	keys   []string
	values map[string]interface{}
}

// NewOrderedMap creates an empty ordered map
func NewOrderedMap() *OrderedMap {
	return &OrderedMap{values: make(map[string]interface{})}
}

// Set adds or replaces key. A new key goes last.
func (m *OrderedMap) Set(key string, value interface{}) {
	if _, ok := m.values[key]; !ok {
		m.keys = append(m.keys, key)
	}
	m.values[key] = value
}

// Get returns the value of key
func (m *OrderedMap) Get(key string) (interface{}, bool) {
	v, ok := m.values[key]
	return v, ok
}

// Keys returns the keys in order
func (m *OrderedMap) Keys() []string {
	return m.keys
}

// Len returns the number of keys
func (m *OrderedMap) Len() int {
	return len(m.keys)
}

// SortKeys sorts the keys of m and of every nested ordered map with less
func (m *OrderedMap) SortKeys(less func(a, b string) bool) {
	sort.SliceStable(m.keys, func(i, j int) bool { return less(m.keys[i], m.keys[j]) })
	for _, v := range m.values {
		sortNested(v, less)
	}
}

func sortNested(v interface{}, less func(a, b string) bool) {
	switch val := v.(type) {
	case *OrderedMap:
		val.SortKeys(less)
	case []interface{}:
		for _, elem := range val {
			sortNested(elem, less)
		}
	}
}

// ToMap converts m, recursively, into plain maps
func (m *OrderedMap) ToMap() map[string]interface{} {
	out := make(map[string]interface{}, len(m.keys))
	for _, k := range m.keys {
		out[k] = plain(m.values[k])
	}
	return out
}

func plain(v interface{}) interface{} {
	switch val := v.(type) {
	case *OrderedMap:
		return val.ToMap()
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, elem := range val {
			out[i] = plain(elem)
		}
		return out
	}
	return v
}

// MarshalJSON writes the keys in order
func (m *OrderedMap) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range m.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		value, err := json.Marshal(m.values[k])
		if err != nil {
			return nil, err
		}
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Delete removes key
func (m *OrderedMap) Delete(key string) {
	if _, ok := m.values[key]; !ok {
		return
	}
	delete(m.values, key)
	for i, k := range m.keys {
		if k == key {
			m.keys = append(m.keys[:i:i], m.keys[i+1:]...)
			break
		}
	}
}

// Clone deep copies m, nested ordered maps and slices included
func (m *OrderedMap) Clone() *OrderedMap {
	if m == nil {
		return nil
	}
	c := &OrderedMap{keys: make([]string, len(m.keys)), values: make(map[string]interface{}, len(m.values))}
	copy(c.keys, m.keys)
	for k, v := range m.values {
		c.values[k] = cloneValue(v)
	}
	return c
}

func cloneValue(v interface{}) interface{} {
	switch val := v.(type) {
	case *OrderedMap:
		return val.Clone()
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, elem := range val {
			out[i] = cloneValue(elem)
		}
		return out
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, elem := range val {
			out[k] = cloneValue(elem)
		}
		return out
	}
	return v
}
