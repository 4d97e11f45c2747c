// Package iri formats and parses the resource identifiers used in payloads,
// such as /api/article/123.
package iri

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// Format builds the IRI of an item, e.g. Format("/api", "article", 123) is "/api/article/123"
func Format(prefix, route string, id interface{}) string {
	return joinPath(prefix, route, fmt.Sprint(id))
}

// Subresource builds the IRI of a nested collection, e.g. "/api/user/1/articles"
func Subresource(prefix, route string, id interface{}, prop string) string {
	return joinPath(prefix, route, fmt.Sprint(id), prop)
}

// IsIRI reports whether s looks like an IRI rather than a bare id
func IsIRI(s string) bool {
	return strings.Contains(s, "/")
}

// ParseID normalizes an id submitted by a client.
//
// Integers are returned as int64, numeric strings and IRI suffixes too.
// UUID strings are returned canonicalized. Any other string is returned as is,
// and non-string values are passed through.
func ParseID(v interface{}) interface{} {
	switch id := v.(type) {
	case json.Number:
		if n, err := id.Int64(); err == nil {
			return n
		}
		return id.String()
	case float64:
		if id == float64(int64(id)) {
			return int64(id)
		}
		return id
	case int:
		return int64(id)
	case int32:
		return int64(id)
	case string:
		return parseString(id)
	}
	return v
}

func parseString(s string) interface{} {
	s = strings.TrimSpace(s)
	if IsIRI(s) {
		s = strings.TrimRight(s, "/")
		s = s[strings.LastIndex(s, "/")+1:]
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if u, err := uuid.Parse(s); err == nil {
		return u.String()
	}
	return s
}

func joinPath(parts ...string) string {
	var b strings.Builder
	for _, p := range parts {
		p = strings.Trim(p, "/")
		if p == "" {
			continue
		}
		b.WriteByte('/')
		b.WriteString(p)
	}
	if b.Len() == 0 {
		return "/"
	}
	return b.String()
}
