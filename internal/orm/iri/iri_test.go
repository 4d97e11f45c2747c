package iri

import (
	"bytes"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormat(t *testing.T) {
	assert.Equal(t, "/api/article/123", Format("/api", "article", 123))
	assert.Equal(t, "/api/article/123", Format("/api/", "/article", "123"))
	assert.Equal(t, "/article/7", Format("", "article", int64(7)))
	assert.Equal(t, "/api/user/1/articles", Subresource("/api", "user", 1, "articles"))
}

func TestParseID(t *testing.T) {
	tests := []struct {
		name string
		in   interface{}
		want interface{}
	}{
		{"int", 5, int64(5)},
		{"int64", int64(5), int64(5)},
		{"whole float", float64(12), int64(12)},
		{"fraction", 1.5, 1.5},
		{"json number", json.Number("42"), int64(42)},
		{"numeric string", "42", int64(42)},
		{"iri", "/api/article/123", int64(123)},
		{"iri trailing slash", "/api/article/123/", int64(123)},
		{"uuid", "3F2504E0-4F89-11D3-9A0C-0305E82C3301", "3f2504e0-4f89-11d3-9a0c-0305e82c3301"},
		{"uuid iri", "/api/user/3f2504e0-4f89-11d3-9a0c-0305e82c3301", "3f2504e0-4f89-11d3-9a0c-0305e82c3301"},
		{"slug", "hello", "hello"},
		{"nil", nil, nil},
		{"bool", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseID(tt.in))
		})
	}
}

func TestParseID_DecodedPayload(t *testing.T) {
	dec := json.NewDecoder(bytes.NewReader([]byte(`{"role": 9, "author": "/api/user/4"}`)))
	dec.UseNumber()
	var body map[string]interface{}
	require.NoError(t, dec.Decode(&body))

	assert.Equal(t, int64(9), ParseID(body["role"]))
	assert.Equal(t, int64(4), ParseID(body["author"]))
}
