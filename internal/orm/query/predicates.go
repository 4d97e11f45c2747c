package query

import (
	"fmt"
	"strings"
)

// Operator represents a comparison operator
type Operator int

const (
	OpEqual Operator = iota
	OpNotEqual
	OpGreaterThan
	OpGreaterThanOrEqual
	OpLessThan
	OpLessThanOrEqual
	OpIn
	OpNotIn
	OpLike
	OpILike
	OpIsNull
	OpIsNotNull
	OpBetween
)

// String returns the string representation of the operator
func (o Operator) String() string {
	switch o {
	case OpEqual:
		return "="
	case OpNotEqual:
		return "!="
	case OpGreaterThan:
		return ">"
	case OpGreaterThanOrEqual:
		return ">="
	case OpLessThan:
		return "<"
	case OpLessThanOrEqual:
		return "<="
	case OpIn:
		return "IN"
	case OpNotIn:
		return "NOT IN"
	case OpLike:
		return "LIKE"
	case OpILike:
		return "ILIKE"
	case OpIsNull:
		return "IS NULL"
	case OpIsNotNull:
		return "IS NOT NULL"
	case OpBetween:
		return "BETWEEN"
	default:
		return "UNKNOWN"
	}
}

// ParseOperator maps the short names accepted in query strings ("eq", "gte", "in", ...)
func ParseOperator(s string) (Operator, error) {
	switch strings.ToLower(s) {
	case "", "eq", "=":
		return OpEqual, nil
	case "neq", "ne", "!=":
		return OpNotEqual, nil
	case "gt", ">":
		return OpGreaterThan, nil
	case "gte", ">=":
		return OpGreaterThanOrEqual, nil
	case "lt", "<":
		return OpLessThan, nil
	case "lte", "<=":
		return OpLessThanOrEqual, nil
	case "in":
		return OpIn, nil
	case "nin", "notin":
		return OpNotIn, nil
	case "like":
		return OpLike, nil
	case "ilike":
		return OpILike, nil
	case "null":
		return OpIsNull, nil
	case "notnull":
		return OpIsNotNull, nil
	case "between":
		return OpBetween, nil
	default:
		return OpEqual, fmt.Errorf("unknown operator: %s", s)
	}
}

// Condition represents a WHERE condition on an "alias.prop" column
type Condition struct {
	Column   string
	Operator Operator
	Value    interface{}
	Or       bool // true for OR, false for AND
}

// Dialect selects the placeholder syntax
type Dialect int

const (
	Postgres Dialect = iota
	SQLite
)

// DialectFor returns the dialect of a database/sql driver name
func DialectFor(driver string) Dialect {
	switch driver {
	case "sqlite3", "sqlite":
		return SQLite
	default:
		return Postgres
	}
}

// params accumulates bind arguments in the order they appear in the statement
type params struct {
	dialect Dialect
	args    []interface{}
}

func (p *params) add(v interface{}) string {
	p.args = append(p.args, v)
	if p.dialect == SQLite {
		return "?"
	}
	return fmt.Sprintf("$%d", len(p.args))
}

// conditionToSQL converts a condition on an already quoted column to SQL with parameterized values
func conditionToSQL(column string, cond *Condition, p *params) (string, error) {
	switch cond.Operator {
	case OpEqual, OpNotEqual, OpGreaterThan, OpGreaterThanOrEqual, OpLessThan, OpLessThanOrEqual, OpLike, OpILike:
		return fmt.Sprintf("%s %s %s", column, cond.Operator, p.add(cond.Value)), nil

	case OpIn, OpNotIn:
		values, ok := cond.Value.([]interface{})
		if !ok {
			return "", fmt.Errorf("%s operator requires []interface{} value", cond.Operator)
		}
		if len(values) == 0 {
			if cond.Operator == OpIn {
				return "1 = 0", nil
			}
			return "1 = 1", nil
		}
		placeholders := make([]string, len(values))
		for i, v := range values {
			placeholders[i] = p.add(v)
		}
		return fmt.Sprintf("%s %s (%s)", column, cond.Operator, strings.Join(placeholders, ", ")), nil

	case OpIsNull, OpIsNotNull:
		return fmt.Sprintf("%s %s", column, cond.Operator), nil

	case OpBetween:
		values, ok := cond.Value.([]interface{})
		if !ok || len(values) != 2 {
			return "", fmt.Errorf("BETWEEN operator requires [min, max] values")
		}
		return fmt.Sprintf("%s BETWEEN %s AND %s", column, p.add(values[0]), p.add(values[1])), nil

	default:
		return "", fmt.Errorf("unsupported operator: %v", cond.Operator)
	}
}
