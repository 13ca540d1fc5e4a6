package harness

import (
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/recbind/internal/binder"
	"github.com/roach88/recbind/internal/ir"
	"github.com/roach88/recbind/internal/store"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Trace    []TraceEvent
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, event := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s", event.Seq, event.Key())
			if event.Args != nil {
				data, err := ir.MarshalCanonical(event.Args)
				if err == nil {
					fmt.Fprintf(&buf, " %s", data)
				}
			}
			buf.WriteString("\n")
		}
	}
	return buf.String()
}

// AssertionContext is the final state assertions read from.
type AssertionContext struct {
	Binder     *binder.Binder
	Adapter    *store.MemoryAdapter
	Collection string

	components map[string]*component
}

// EvaluateAssertions checks every assertion and returns one message per
// failure.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errs []string
	for i, a := range assertions {
		if err := evaluate(result.Trace, a, actx); err != nil {
			errs = append(errs, fmt.Sprintf("assertions[%d]: %s", i, err.Error()))
		}
	}
	return errs
}

func evaluate(trace []TraceEvent, a Assertion, actx *AssertionContext) error {
	switch a.Type {
	case AssertTraceContains:
		return assertTraceContains(trace, a)
	case AssertTraceOrder:
		return assertTraceOrder(trace, a)
	case AssertTraceCount:
		return assertTraceCount(trace, a)
	case AssertCacheState:
		rec, ok := actx.Binder.Get(a.ID)
		return assertRecord(a, rec, ok)
	case AssertStoredState:
		rec, ok := actx.Adapter.Stored(actx.Collection, a.ID)
		return assertRecord(a, rec, ok)
	case AssertProperty:
		return assertProperty(a, actx)
	case AssertRenders:
		return assertRenders(a, actx)
	case AssertPendingSave:
		if got := actx.Binder.Saving(a.ID); got != a.Pending {
			return &AssertionError{
				Type:     a.Type,
				Expected: fmt.Sprintf("pending save for %s: %t", a.ID, a.Pending),
				Actual:   fmt.Sprintf("pending save for %s: %t", a.ID, got),
			}
		}
		return nil
	}
	return fmt.Errorf("unknown assertion type %q", a.Type)
}

func assertTraceContains(trace []TraceEvent, a Assertion) error {
	for _, event := range trace {
		if event.Key() == a.Event && matchFields(event.Args, a.Args) == "" {
			return nil
		}
	}
	return &AssertionError{
		Type:     a.Type,
		Expected: fmt.Sprintf("%s with args %v", a.Event, a.Args),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceOrder checks that the first occurrences of a.Events appear in
// order. Other events may appear in between.
func assertTraceOrder(trace []TraceEvent, a Assertion) error {
	positions := make(map[string]int)
	for i, event := range trace {
		key := event.Key()
		if _, seen := positions[key]; !seen {
			positions[key] = i + 1
		}
	}

	for _, key := range a.Events {
		if positions[key] == 0 {
			return &AssertionError{
				Type:     a.Type,
				Expected: fmt.Sprintf("all events present: %v", a.Events),
				Actual:   fmt.Sprintf("missing event: %s", key),
				Trace:    trace,
			}
		}
	}
	for i := 1; i < len(a.Events); i++ {
		prev, curr := a.Events[i-1], a.Events[i]
		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     a.Type,
				Expected: fmt.Sprintf("events in order: %v", a.Events),
				Actual: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					prev, positions[prev], curr, positions[curr]),
				Trace: trace,
			}
		}
	}
	return nil
}

func assertTraceCount(trace []TraceEvent, a Assertion) error {
	count := 0
	for _, event := range trace {
		if event.Key() == a.Event {
			count++
		}
	}
	if count != *a.Count {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%s occurs %d times", a.Event, *a.Count),
			Actual:   fmt.Sprintf("%s occurs %d times", a.Event, count),
			Trace:    trace,
		}
	}
	return nil
}

func assertRecord(a Assertion, rec ir.IRObject, found bool) error {
	if a.Absent {
		if found {
			return &AssertionError{
				Type:     a.Type,
				Expected: fmt.Sprintf("no record %s", a.ID),
				Actual:   fmt.Sprintf("found %s", canonical(rec)),
			}
		}
		return nil
	}
	if !found {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("record %s with %v", a.ID, a.Expect),
			Actual:   "not found",
		}
	}
	if msg := matchFields(rec, a.Expect); msg != "" {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("record %s with %v", a.ID, a.Expect),
			Actual:   msg,
		}
	}
	return nil
}

func assertProperty(a Assertion, actx *AssertionContext) error {
	fail := func(expected, actual string) error {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%s.%s %s", a.Component, a.Property, expected),
			Actual:   actual,
		}
	}

	c, ok := actx.components[a.Component]
	if !ok {
		return fail("bound", fmt.Sprintf("unknown component %q", a.Component))
	}
	value, set := c.props[a.Property]
	if !set {
		return fail("set", "never set")
	}

	switch v := value.(type) {
	case store.ResultSet:
		if a.Count == nil {
			return fail("is a record", fmt.Sprintf("result set of %d rows", v.Len()))
		}
		if v.Len() != *a.Count {
			return fail(fmt.Sprintf("has %d rows", *a.Count), fmt.Sprintf("%d rows", v.Len()))
		}
	case ir.IRObject:
		if a.Absent {
			return fail("is nil", canonical(v))
		}
		if msg := matchFields(v, a.Expect); msg != "" {
			return fail(fmt.Sprintf("matches %v", a.Expect), msg)
		}
	case nil:
		if !a.Absent {
			return fail("is set", "nil")
		}
	default:
		return fail("is a record or result set", fmt.Sprintf("%T", value))
	}
	return nil
}

func assertRenders(a Assertion, actx *AssertionContext) error {
	got := 0
	if c, ok := actx.components[a.Component]; ok {
		got = c.renders
	}
	if got != *a.Count {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%s rendered %d times", a.Component, *a.Count),
			Actual:   fmt.Sprintf("%s rendered %d times", a.Component, got),
		}
	}
	return nil
}

// matchFields checks that every key of expected is present in actual with an
// equal value, and describes the first mismatch. A nil expected value also
// matches a missing key.
func matchFields(actual ir.IRObject, expected map[string]any) string {
	keys := make([]string, 0, len(expected))
	for k := range expected {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		want, err := ir.FromNative(expected[k])
		if err != nil {
			return fmt.Sprintf("field %q: %v", k, err)
		}
		got, ok := actual[k]
		if !ok {
			if _, isNull := want.(ir.IRNull); isNull {
				continue
			}
			return fmt.Sprintf("field %q missing", k)
		}
		if !ir.Equal(got, want) {
			return fmt.Sprintf("field %q: expected %s, got %s", k, canonical(want), canonical(got))
		}
	}
	return ""
}

func canonical(v any) string {
	data, err := ir.MarshalCanonical(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
