package harness

import (
	"github.com/roach88/recbind/internal/ir"
)

// Trace event types.
const (
	TraceStep    = "step"
	TraceStore   = "event"
	TraceAdapter = "adapter"
	TraceRender  = "render"
)

// TraceEvent is one entry of a scenario trace.
//
// Name depends on Type: the step op, the store event kind ("add", "remove",
// "groupBy"), the adapter call ("create", "update", "destroy", "find",
// "findAll") or the rendered component.
type TraceEvent struct {
	Type   string      `json:"type"`
	Name   string      `json:"name"`
	Args   ir.IRObject `json:"args,omitempty"`
	Result string      `json:"result,omitempty"`
	Seq    int64       `json:"seq"`
}

// Key returns the "type:name" form used by trace assertions.
func (e TraceEvent) Key() string {
	return e.Type + ":" + e.Name
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every expect clause and assertion held.
	Pass bool `json:"pass"`

	// Trace holds steps, store events, adapter calls and renders in order.
	Trace []TraceEvent `json:"trace"`

	// Errors holds expect and assertion failures.
	Errors []string `json:"errors,omitempty"`

	// Cache is the collection's cache after the flow, ordered by id.
	Cache []ir.IRObject `json:"cache"`
}

// NewResult creates a passing result with an empty trace.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
		Cache:  []ir.IRObject{},
	}
}

// AddError records a failure and marks the result failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddTrace appends an event, numbering it after the previous one.
func (r *Result) AddTrace(typ, name string, args ir.IRObject, result string) {
	r.Trace = append(r.Trace, TraceEvent{
		Type:   typ,
		Name:   name,
		Args:   args,
		Result: result,
		Seq:    int64(len(r.Trace) + 1),
	})
}
