package reader

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/conduit-lang/entityroutes/internal/orm/query"
	"github.com/conduit-lang/entityroutes/internal/orm/schema"
)

// Pagination bounds
const (
	DefaultTake = 25
	MaxTake     = 100
)

// ErrInvalidParams is returned for malformed collection query parameters
var ErrInvalidParams = errors.New("invalid query parameters")

// OrderBy orders a collection by a dot-path
type OrderBy struct {
	Path      string
	Direction string
}

// Filter restricts a collection on a dot-path
type Filter struct {
	Path     string
	Operator query.Operator
	Value    string
}

// Params are the collection query parameters:
//
//	?take=10&skip=20&orderBy=name:asc,role.title:desc&filter[role.title]=Admin&filter[age][gte]=18
type Params struct {
	Take    int
	Skip    int
	OrderBy []OrderBy
	Filters []Filter
}

// DefaultParams returns the first page with no ordering nor filter
func DefaultParams() Params {
	return Params{Take: DefaultTake}
}

// ParseParams reads collection parameters from a query string. Unknown keys are ignored.
func ParseParams(values url.Values) (Params, error) {
	p := DefaultParams()

	if raw := values.Get("take"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return p, fmt.Errorf("%w: take must be a positive integer", ErrInvalidParams)
		}
		p.Take = n
	}
	if p.Take == 0 {
		p.Take = DefaultTake
	}
	if p.Take > MaxTake {
		p.Take = MaxTake
	}

	if raw := values.Get("skip"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return p, fmt.Errorf("%w: skip must be a positive integer", ErrInvalidParams)
		}
		p.Skip = n
	}

	for _, raw := range values["orderBy"] {
		for _, part := range strings.Split(raw, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			path, dir, _ := strings.Cut(part, ":")
			dir = strings.ToLower(dir)
			if dir == "" {
				dir = "asc"
			}
			if dir != "asc" && dir != "desc" {
				return p, fmt.Errorf("%w: unknown order direction %q", ErrInvalidParams, dir)
			}
			p.OrderBy = append(p.OrderBy, OrderBy{Path: path, Direction: dir})
		}
	}

	// map iteration order is random, filters are kept sorted for stable SQL
	keys := make([]string, 0, len(values))
	for key := range values {
		if strings.HasPrefix(key, "filter[") {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	for _, key := range keys {
		path, opName, err := parseFilterKey(key)
		if err != nil {
			return p, err
		}
		op, err := query.ParseOperator(opName)
		if err != nil {
			return p, fmt.Errorf("%w: %v", ErrInvalidParams, err)
		}
		for _, value := range values[key] {
			p.Filters = append(p.Filters, Filter{Path: path, Operator: op, Value: value})
		}
	}

	return p, nil
}

// parseFilterKey splits "filter[role.title]" or "filter[age][gte]"
func parseFilterKey(key string) (path, op string, err error) {
	rest := strings.TrimPrefix(key, "filter[")
	path, rest, ok := strings.Cut(rest, "]")
	if !ok || path == "" {
		return "", "", fmt.Errorf("%w: malformed filter %q", ErrInvalidParams, key)
	}
	if rest == "" {
		return path, "", nil
	}
	if !strings.HasPrefix(rest, "[") || !strings.HasSuffix(rest, "]") {
		return "", "", fmt.Errorf("%w: malformed filter %q", ErrInvalidParams, key)
	}
	return path, rest[1 : len(rest)-1], nil
}

// value converts the raw filter value for the column it applies to
func (f Filter) value(col *schema.ColumnMetadata) interface{} {
	switch f.Operator {
	case query.OpIsNull, query.OpIsNotNull:
		return nil
	case query.OpIn, query.OpNotIn, query.OpBetween:
		parts := strings.Split(f.Value, ",")
		values := make([]interface{}, len(parts))
		for i, part := range parts {
			values[i] = coerce(col, strings.TrimSpace(part))
		}
		return values
	}
	return coerce(col, f.Value)
}

func coerce(col *schema.ColumnMetadata, raw string) interface{} {
	if col == nil {
		return raw
	}
	switch col.Type {
	case schema.TypeInt, schema.TypeBigInt:
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return n
		}
	case schema.TypeFloat, schema.TypeDecimal:
		if f, err := strconv.ParseFloat(raw, 64); err == nil {
			return f
		}
	case schema.TypeBool:
		if b, err := strconv.ParseBool(raw); err == nil {
			return b
		}
	}
	return raw
}
