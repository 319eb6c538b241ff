package store

import (
	"fmt"
	"strconv"
	"strings"
)

// Dialect renders the SQL fragments that differ between datastores. JSON paths
// are fixed identifiers from the metric registry, never user input.
type Dialect interface {
	Name() string
	// Placeholder returns the n-th (1-based) bind parameter marker.
	Placeholder(n int) string
	// JSONText extracts a metadata member as text, NULL when absent.
	JSONText(column string, path ...string) string
	// JSONNumber extracts a metadata member as a float, NULL unless it is a number.
	JSONNumber(column string, path ...string) string
	// Day renders a timestamp column as a UTC YYYY-MM-DD string.
	Day(column string) string
}

func SQLiteDialect() Dialect   { return sqliteDialect{} }
func PostgresDialect() Dialect { return postgresDialect{} }

type sqliteDialect struct{}

func (sqliteDialect) Name() string           { return "sqlite" }
func (sqliteDialect) Placeholder(int) string { return "?" }

func (sqliteDialect) JSONText(column string, path ...string) string {
	return fmt.Sprintf("json_extract(%s, '%s')", column, jsonPath(path))
}

func (sqliteDialect) JSONNumber(column string, path ...string) string {
	p := jsonPath(path)
	return fmt.Sprintf("(CASE WHEN json_type(%s, '%s') IN ('integer', 'real') THEN CAST(json_extract(%s, '%s') AS REAL) END)",
		column, p, column, p)
}

func (sqliteDialect) Day(column string) string {
	return fmt.Sprintf("substr(%s, 1, 10)", column)
}

type postgresDialect struct{}

func (postgresDialect) Name() string             { return "postgres" }
func (postgresDialect) Placeholder(n int) string { return "$" + strconv.Itoa(n) }

func (postgresDialect) JSONText(column string, path ...string) string {
	return column + jsonbChain(path, "->>")
}

func (postgresDialect) JSONNumber(column string, path ...string) string {
	return fmt.Sprintf("(CASE WHEN jsonb_typeof(%s%s) = 'number' THEN (%s%s)::float8 END)",
		column, jsonbChain(path, "->"), column, jsonbChain(path, "->>"))
}

func (postgresDialect) Day(column string) string {
	return fmt.Sprintf("to_char(%s AT TIME ZONE 'UTC', 'YYYY-MM-DD')", column)
}

func jsonPath(path []string) string {
	checkPath(path)
	return "$." + strings.Join(path, ".")
}

// jsonbChain renders path as a jsonb operator chain; last is the operator
// applied to the final member.
func jsonbChain(path []string, last string) string {
	checkPath(path)
	var b strings.Builder
	for i, p := range path {
		if i == len(path)-1 {
			b.WriteString(last)
		} else {
			b.WriteString("->")
		}
		b.WriteString("'" + p + "'")
	}
	return b.String()
}

func checkPath(path []string) {
	if len(path) == 0 {
		panic("store: empty json path")
	}
	for _, p := range path {
		if !isIdentifier(p) {
			panic(fmt.Sprintf("store: invalid json path segment %q", p))
		}
	}
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r != '_' && (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}
