package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/recbind/internal/ir"
)

// TraceSnapshot is what a golden file holds: the trace and the final cache.
type TraceSnapshot struct {
	ScenarioName string
	Collection   string
	Trace        []TraceEvent
	Cache        []ir.IRObject
}

// toCanonical converts the snapshot into IR values so it can go through
// ir.MarshalCanonical.
func (s *TraceSnapshot) toCanonical() ir.IRObject {
	trace := make(ir.IRArray, len(s.Trace))
	for i, event := range s.Trace {
		obj := ir.IRObject{
			"type": ir.IRString(event.Type),
			"name": ir.IRString(event.Name),
			"seq":  ir.IRInt(event.Seq),
		}
		if event.Args != nil {
			obj["args"] = event.Args
		}
		if event.Result != "" {
			obj["result"] = ir.IRString(event.Result)
		}
		trace[i] = obj
	}

	cache := make(ir.IRArray, len(s.Cache))
	for i, rec := range s.Cache {
		cache[i] = rec
	}

	return ir.IRObject{
		"scenario_name": ir.IRString(s.ScenarioName),
		"collection":    ir.IRString(s.Collection),
		"trace":         trace,
		"cache":         cache,
	}
}

// Snapshot renders a result as the canonical JSON stored in golden files.
func Snapshot(name, collection string, result *Result) ([]byte, error) {
	snapshot := TraceSnapshot{
		ScenarioName: name,
		Collection:   collection,
		Trace:        result.Trace,
		Cache:        result.Cache,
	}
	return ir.MarshalCanonical(snapshot.toCanonical())
}

// RunWithGolden executes a scenario, fails t on any expect or assertion
// failure, and compares the snapshot against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	for _, msg := range result.Errors {
		t.Error(msg)
	}
	return result, AssertGolden(t, scenario.Name, scenario.Collection, result)
}

// AssertGolden compares an existing result against its golden file.
func AssertGolden(t *testing.T, name, collection string, result *Result) error {
	t.Helper()

	data, err := Snapshot(name, collection, result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, data)
	return nil
}
