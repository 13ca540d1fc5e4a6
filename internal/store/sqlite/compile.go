package sqlite

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/roach88/recbind/internal/ir"
	"github.com/roach88/recbind/internal/store"
)

// plainField matches field names that can be addressed as `$.name` in a JSON
// path without quoting.
var plainField = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// compiledQuery is a parameterized SELECT over the records table.
type compiledQuery struct {
	sql    string
	params []any

	// exact is true when the WHERE clause fully expresses the query, so rows
	// need no further matching in Go.
	exact bool
}

// compiler turns store queries into SQL.
//
// All values are parameterized, never interpolated. Row queries always end in
// ORDER BY seq, id so results are deterministic.
type compiler struct {
	collection string
}

// compileSelect builds the row query for q.
func (c compiler) compileSelect(q store.Query) compiledQuery {
	where, params, exact := c.compileWhere(q)
	return compiledQuery{
		sql: "SELECT data FROM records WHERE " + where +
			" ORDER BY seq ASC, id COLLATE BINARY ASC",
		params: params,
		exact:  exact && q.Expr == "",
	}
}

// compileGroupBy builds the aggregate query for q. Each group field yields a
// type column and a value column; missing fields group with null.
func (c compiler) compileGroupBy(q store.Query, fields []string) (compiledQuery, error) {
	var cols, groups []string
	var params []any
	for i, f := range fields {
		path, ok := jsonPath(f)
		if !ok {
			return compiledQuery{}, fmt.Errorf("group by %q: unsupported field name", f)
		}
		cols = append(cols,
			fmt.Sprintf("COALESCE(json_type(data, ?), 'null') AS t%d", i),
			fmt.Sprintf("json_extract(data, ?) AS v%d", i))
		groups = append(groups, fmt.Sprintf("t%d", i), fmt.Sprintf("v%d", i))
		params = append(params, path, path)
	}

	where, whereParams, exact := c.compileWhere(q)
	params = append(params, whereParams...)

	sql := fmt.Sprintf("SELECT %s, COUNT(*) AS n FROM records WHERE %s GROUP BY %s",
		strings.Join(cols, ", "),
		where,
		strings.Join(groups, ", "))
	return compiledQuery{sql: sql, params: params, exact: exact && q.Expr == ""}, nil
}

// compileWhere returns the WHERE fragment for live records of the collection
// matching q.Where. Conditions it cannot express are left to Go and reported
// through exact=false.
func (c compiler) compileWhere(q store.Query) (string, []any, bool) {
	parts := []string{"collection = ?", "deleted = 0"}
	params := []any{c.collection}
	exact := true

	keys := make([]string, 0, len(q.Where))
	for k := range q.Where {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, field := range keys {
		frag, fragParams, ok := compileEquals(field, q.Where[field])
		if !ok {
			exact = false
			continue
		}
		parts = append(parts, frag)
		params = append(params, fragParams...)
	}
	return strings.Join(parts, " AND "), params, exact
}

// compileEquals compiles field == value. The JSON type is checked alongside
// the value because json_extract maps true to 1.
func compileEquals(field string, value ir.IRValue) (string, []any, bool) {
	path, ok := jsonPath(field)
	if !ok {
		return "", nil, false
	}
	switch v := value.(type) {
	case ir.IRString:
		return "json_type(data, ?) = 'text' AND json_extract(data, ?) = ?", []any{path, path, string(v)}, true
	case ir.IRInt:
		return "json_type(data, ?) = 'integer' AND json_extract(data, ?) = ?", []any{path, path, int64(v)}, true
	case ir.IRBool:
		typ := "false"
		if v {
			typ = "true"
		}
		return "json_type(data, ?) = ?", []any{path, typ}, true
	case nil, ir.IRNull:
		return "COALESCE(json_type(data, ?), 'null') = 'null'", []any{path}, true
	default:
		return "", nil, false
	}
}

func jsonPath(field string) (string, bool) {
	if !plainField.MatchString(field) {
		return "", false
	}
	return "$." + field, true
}
