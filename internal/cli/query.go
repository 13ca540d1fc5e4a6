package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/recbind/internal/ir"
	"github.com/roach88/recbind/internal/store"
)

// QueryOptions holds the flags shared by commands that select records.
type QueryOptions struct {
	Where []string
	Expr  string
}

func addQueryFlags(cmd *cobra.Command, opts *QueryOptions) {
	cmd.Flags().StringArrayVarP(&opts.Where, "where", "w", nil, "field equality filter as key=value (repeatable)")
	cmd.Flags().StringVar(&opts.Expr, "expr", "", `expr-lang predicate over record fields, e.g. 'priority > 2'`)
}

// Query builds the store query. Values that parse as JSON keep their type
// (priority=2 is an integer, done=true a boolean); anything else is a string.
func (o QueryOptions) Query() (store.Query, error) {
	q := store.Query{Expr: o.Expr}
	if len(o.Where) == 0 {
		return q, nil
	}

	q.Where = make(ir.IRObject, len(o.Where))
	for _, pair := range o.Where {
		key, raw, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return store.Query{}, fmt.Errorf("invalid --where %q: want key=value", pair)
		}
		v, err := ir.ParseValue([]byte(raw))
		if err != nil {
			v = ir.IRString(raw)
		}
		q.Where[key] = v
	}
	return q, nil
}

// readRecord parses a JSON object argument; "-" reads it from stdin.
func readRecord(cmd *cobra.Command, arg string) (ir.IRObject, error) {
	data := []byte(arg)
	if arg == "-" {
		var err error
		data, err = io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
	}
	rec, err := ir.ParseObject(data)
	if err != nil {
		return nil, fmt.Errorf("invalid record JSON: %w", err)
	}
	return rec, nil
}
