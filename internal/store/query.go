package store

import (
	"fmt"
	"sort"
	"sync"

	exprlang "github.com/expr-lang/expr"
	exprvm "github.com/expr-lang/expr/vm"

	"github.com/roach88/recbind/internal/ir"
)

// Query selects records of one collection.
//
// Where is a field-equality document ({"status": "open"}); Expr is an
// optional expr-lang predicate evaluated with the record's fields as
// variables (`priority > 2 && owner != ""`). Both must hold for a match.
//
// Params are transport parameters handed to the adapter untouched. They never
// take part in matching but do take part in the request key, so two requests
// differing only in Params are never coalesced.
type Query struct {
	Where  ir.IRObject
	Expr   string
	Params ir.IRObject
}

// Where builds a Query from alternating key/value pairs.
//
//	store.Where("status", ir.IRString("open"))
//
// It panics on an odd number of arguments, a non-string key, or a value
// ir.FromNative rejects (floats, for example), like regexp.MustCompile does
// for a bad pattern. Build Query.Where directly for untrusted input.
func Where(pairs ...any) Query {
	if len(pairs)%2 != 0 {
		panic(fmt.Sprintf("store.Where: odd number of arguments (%d)", len(pairs)))
	}
	where := make(ir.IRObject, len(pairs)/2)
	for i := 0; i < len(pairs); i += 2 {
		key, ok := pairs[i].(string)
		if !ok {
			panic(fmt.Sprintf("store.Where: key %d is %T, not string", i/2, pairs[i]))
		}
		v, err := ir.FromNative(pairs[i+1])
		if err != nil {
			panic(fmt.Sprintf("store.Where: %s: %v", key, err))
		}
		where[key] = v
	}
	return Query{Where: where}
}

// WithParams returns a copy of q with params merged over q.Params.
func (q Query) WithParams(params ir.IRObject) Query {
	q.Params = q.Params.Merge(params)
	return q
}

// Document renders the query as a single object, used for request keys and
// log output.
func (q Query) Document() ir.IRObject {
	doc := ir.IRObject{}
	if len(q.Where) > 0 {
		doc["where"] = q.Where
	}
	if q.Expr != "" {
		doc["expr"] = ir.IRString(q.Expr)
	}
	if len(q.Params) > 0 {
		doc["params"] = q.Params
	}
	return doc
}

// String renders the query document as canonical JSON.
func (q Query) String() string {
	data, err := ir.MarshalCanonical(q.Document())
	if err != nil {
		return fmt.Sprintf("<invalid query: %v>", err)
	}
	return string(data)
}

// Matcher is a compiled Query.
type Matcher struct {
	where   ir.IRObject
	program *exprvm.Program
	expr    string
}

// Match reports whether rec satisfies the query. An error means the
// expression could not be evaluated against this record.
func (m *Matcher) Match(rec ir.IRObject) (bool, error) {
	for k, want := range m.where {
		if !ir.Equal(rec[k], want) {
			return false, nil
		}
	}
	if m.program == nil {
		return true, nil
	}

	env, _ := ir.ToNative(rec).(map[string]any)
	if env == nil {
		env = map[string]any{}
	}
	out, err := exprlang.Run(m.program, env)
	if err != nil {
		return false, fmt.Errorf("evaluate %q: %w", m.expr, err)
	}
	matched, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("evaluate %q: expected bool, got %T", m.expr, out)
	}
	return matched, nil
}

// programCache memoizes compiled expr programs by expression text.
type programCache struct {
	mu       sync.RWMutex
	programs map[string]*exprvm.Program
}

func newProgramCache() *programCache {
	return &programCache{programs: make(map[string]*exprvm.Program)}
}

func (c *programCache) loadOrCompile(expression string) (*exprvm.Program, error) {
	c.mu.RLock()
	program, ok := c.programs[expression]
	c.mu.RUnlock()
	if ok {
		return program, nil
	}

	program, err := exprlang.Compile(expression,
		exprlang.Env(map[string]any{}),
		exprlang.AllowUndefinedVariables(),
	)
	if err != nil {
		return nil, fmt.Errorf("compile expr %q: %w", expression, err)
	}

	c.mu.Lock()
	c.programs[expression] = program
	c.mu.Unlock()
	return program, nil
}

var defaultPrograms = newProgramCache()

// CompileQuery compiles q for repeated matching. Expressions are cached
// process-wide by their text.
func CompileQuery(q Query) (*Matcher, error) {
	m := &Matcher{where: q.Where, expr: q.Expr}
	if q.Expr == "" {
		return m, nil
	}
	program, err := defaultPrograms.loadOrCompile(q.Expr)
	if err != nil {
		return nil, err
	}
	m.program = program
	return m, nil
}

// GroupRows aggregates rows by the given fields. Each output row carries the
// group's field values plus "count". Rows are ordered by the canonical JSON
// of their group values so output is deterministic.
func GroupRows(rows []ir.IRObject, fields []string) []ir.IRObject {
	type group struct {
		key   string
		row   ir.IRObject
		count int64
	}
	groups := make(map[string]*group)
	for _, rec := range rows {
		values := make(ir.IRArray, len(fields))
		row := make(ir.IRObject, len(fields)+1)
		for i, f := range fields {
			v, ok := rec[f]
			if !ok {
				v = ir.IRNull{}
			}
			values[i] = v
			row[f] = ir.CloneValue(v)
		}
		keyBytes, err := ir.MarshalCanonical(values)
		if err != nil {
			continue
		}
		key := string(keyBytes)
		g, ok := groups[key]
		if !ok {
			g = &group{key: key, row: row}
			groups[key] = g
		}
		g.count++
	}

	ordered := make([]*group, 0, len(groups))
	for _, g := range groups {
		ordered = append(ordered, g)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].key < ordered[j].key })

	out := make([]ir.IRObject, len(ordered))
	for i, g := range ordered {
		g.row["count"] = ir.IRInt(g.count)
		out[i] = g.row
	}
	return out
}
