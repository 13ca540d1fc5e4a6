package store

import (
	"fmt"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"

	"github.com/roach88/recbind/internal/ir"
)

// schema validates records against a CUE definition.
//
// The source is a CUE struct body, e.g.
//
//	status: "open" | "done"
//	priority?: int & >=0
//
// Top-level structs are open, so records may carry fields the schema does not
// mention. Validation requires every non-optional field to be concrete.
type schema struct {
	// cue.Context and the values built from it are not safe for concurrent use.
	mu    sync.Mutex
	ctx   *cue.Context
	value cue.Value
}

func compileSchema(src string) (*schema, error) {
	ctx := cuecontext.New()
	v := ctx.CompileString(src, cue.Filename("schema.cue"))
	if err := v.Err(); err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	if k := v.IncompleteKind(); k != cue.StructKind {
		return nil, fmt.Errorf("compile schema: expected struct, got %v", k)
	}
	return &schema{ctx: ctx, value: v}, nil
}

func (s *schema) validate(rec ir.IRObject) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data := s.ctx.Encode(ir.ToNative(rec))
	if err := data.Err(); err != nil {
		return err
	}
	unified := s.value.Unify(data)
	return unified.Validate(cue.Concrete(true))
}
