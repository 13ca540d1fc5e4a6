package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/recbind/internal/ir"
)

func task(id, status string, priority int64) ir.IRObject {
	return ir.IRObject{
		"id":       ir.IRString(id),
		"status":   ir.IRString(status),
		"priority": ir.IRInt(priority),
	}
}

func TestWhere(t *testing.T) {
	q := Where("status", "open", "priority", 2)
	assert.Equal(t, ir.IRObject{"status": ir.IRString("open"), "priority": ir.IRInt(2)}, q.Where)
}

func TestWhere_PanicsOnBadPairs(t *testing.T) {
	tests := []struct {
		name  string
		pairs []any
		msg   string
	}{
		{"float value", []any{"priority", 2.5}, "priority"},
		{"non-string key", []any{"status", "open", 7, "x"}, "key 1 is int"},
		{"dangling key", []any{"status", "open", "owner"}, "odd number of arguments"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer func() {
				r := recover()
				require.NotNil(t, r, "Where must not silently drop a pair")
				assert.Contains(t, r, tt.msg)
			}()
			Where(tt.pairs...)
		})
	}
}

func TestQuery_WithParamsDoesNotMutate(t *testing.T) {
	base := Where("status", "open")
	withParams := base.WithParams(ir.O("_", ir.IRBool(true)))

	assert.Nil(t, base.Params)
	assert.Equal(t, ir.IRObject{"_": ir.IRBool(true)}, withParams.Params)
}

func TestQuery_String(t *testing.T) {
	q := Query{Where: ir.O("status", ir.IRString("open")), Expr: "priority > 1"}
	assert.Equal(t, `{"expr":"priority > 1","where":{"status":"open"}}`, q.String())
	assert.Equal(t, `{}`, Query{}.String())
}

func TestMatcher(t *testing.T) {
	tests := []struct {
		name string
		q    Query
		rec  ir.IRObject
		want bool
	}{
		{"empty query matches", Query{}, task("1", "open", 1), true},
		{"where equal", Where("status", "open"), task("1", "open", 1), true},
		{"where differs", Where("status", "done"), task("1", "open", 1), false},
		{"where missing field", Where("owner", "ann"), task("1", "open", 1), false},
		{"where null matches missing", Query{Where: ir.O("owner", ir.IRNull{})}, task("1", "open", 1), true},
		{"expr true", Query{Expr: "priority >= 2"}, task("1", "open", 3), true},
		{"expr false", Query{Expr: "priority >= 2"}, task("1", "open", 1), false},
		{"where and expr", Query{Where: ir.O("status", ir.IRString("open")), Expr: "priority > 0"}, task("1", "done", 5), false},
		{"params ignored", Where("status", "open").WithParams(ir.O("_", ir.IRBool(true))), task("1", "open", 1), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := CompileQuery(tt.q)
			require.NoError(t, err)
			got, err := m.Match(tt.rec)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCompileQuery_BadExpr(t *testing.T) {
	_, err := CompileQuery(Query{Expr: "priority >"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "compile expr")
}

func TestMatcher_NonBoolExpr(t *testing.T) {
	m, err := CompileQuery(Query{Expr: "priority + 1"})
	require.NoError(t, err)

	_, err = m.Match(task("1", "open", 1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected bool")
}

func TestGroupRows(t *testing.T) {
	rows := []ir.IRObject{
		task("1", "open", 1),
		task("2", "done", 1),
		task("3", "open", 2),
		{"id": ir.IRString("4")},
	}

	got := GroupRows(rows, []string{"status"})

	assert.Equal(t, []ir.IRObject{
		{"status": ir.IRString("done"), "count": ir.IRInt(1)},
		{"status": ir.IRString("open"), "count": ir.IRInt(2)},
		{"status": ir.IRNull{}, "count": ir.IRInt(1)},
	}, got)
}

func TestGroupRows_MultipleFields(t *testing.T) {
	rows := []ir.IRObject{
		task("1", "open", 1),
		task("2", "open", 1),
		task("3", "open", 2),
	}

	got := GroupRows(rows, []string{"status", "priority"})

	require.Len(t, got, 2)
	assert.Equal(t, ir.IRInt(1), got[0]["priority"])
	assert.Equal(t, ir.IRInt(2), got[0]["count"])
	assert.Equal(t, ir.IRInt(2), got[1]["priority"])
	assert.Equal(t, ir.IRInt(1), got[1]["count"])
}
