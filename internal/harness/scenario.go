package harness

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultCollection is used when a scenario names none.
const DefaultCollection = "task"

// Scenario is a scripted binder run.
type Scenario struct {
	// Name uniquely identifies the scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what the scenario checks.
	Description string `yaml:"description"`

	// Collection is the collection the binder wraps. Defaults to "task".
	Collection string `yaml:"collection,omitempty"`

	// IDAttribute overrides the id field name.
	IDAttribute string `yaml:"id_attribute,omitempty"`

	// Schema is optional CUE source records must satisfy.
	Schema string `yaml:"schema,omitempty"`

	// Seed records are written straight to the adapter before anything runs.
	// They produce no trace.
	Seed []map[string]any `yaml:"seed,omitempty"`

	// Setup steps run before the flow and must not fail.
	Setup []Step `yaml:"setup,omitempty"`

	// Flow is the main sequence of steps.
	Flow []Step `yaml:"flow"`

	// Assertions are evaluated after the flow.
	Assertions []Assertion `yaml:"assertions"`
}

// Step is one binder operation.
type Step struct {
	Op string `yaml:"op"`

	Record    map[string]any `yaml:"record,omitempty"`
	ID        string         `yaml:"id,omitempty"`
	Where     map[string]any `yaml:"where,omitempty"`
	Expr      string         `yaml:"expr,omitempty"`
	Fields    []string       `yaml:"fields,omitempty"`
	Force     bool           `yaml:"force,omitempty"`
	Component string         `yaml:"component,omitempty"`
	Property  string         `yaml:"property,omitempty"`
	Duration  string         `yaml:"duration,omitempty"`

	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// ExpectClause checks a step's outcome.
type ExpectClause struct {
	// Error is a substring the step's error must contain. Empty means the
	// step must succeed.
	Error string `yaml:"error,omitempty"`

	// Count is the expected number of returned rows.
	Count *int `yaml:"count,omitempty"`

	// Record is a subset of the returned record.
	Record map[string]any `yaml:"record,omitempty"`
}

// Assertion validates the trace or final state.
type Assertion struct {
	Type string `yaml:"type"`

	// Event is a "type:name" trace key (trace_contains, trace_count).
	Event string `yaml:"event,omitempty"`

	// Args is a subset of the event args (trace_contains).
	Args map[string]any `yaml:"args,omitempty"`

	// Events is the expected order (trace_order).
	Events []string `yaml:"events,omitempty"`

	// Count is an occurrence, row or render count.
	Count *int `yaml:"count,omitempty"`

	// ID names the record (cache_state, stored_state, pending_save).
	ID string `yaml:"id,omitempty"`

	Component string `yaml:"component,omitempty"`
	Property  string `yaml:"property,omitempty"`

	// Expect is a subset of the record's fields.
	Expect map[string]any `yaml:"expect,omitempty"`

	// Absent asserts there is no record.
	Absent bool `yaml:"absent,omitempty"`

	// Pending is the expected pending_save state.
	Pending bool `yaml:"pending,omitempty"`
}

// Step ops.
const (
	OpCreate    = "create"
	OpSave      = "save"
	OpSaveNow   = "save_now"
	OpInject    = "inject"
	OpFind      = "find"
	OpFindAll   = "find_all"
	OpGroupBy   = "group_by"
	OpRemove    = "remove"
	OpDestroy   = "destroy"
	OpRefresh   = "refresh"
	OpBind      = "bind"
	OpBindAll   = "bind_all"
	OpBindOne   = "bind_one"
	OpUnbind    = "unbind"
	OpUnbindAll = "unbind_all"
	OpAdvance   = "advance"
	OpFlush     = "flush"
)

// Assertion types.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertCacheState    = "cache_state"
	AssertStoredState   = "stored_state"
	AssertProperty      = "property"
	AssertRenders       = "renders"
	AssertPendingSave   = "pending_save"
)

// LoadScenario reads and parses a scenario YAML file. Unknown fields are
// rejected so typos surface as errors.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if scenario.Collection == "" {
		scenario.Collection = DefaultCollection
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, step := range s.Setup {
		if err := validateStep(step); err != nil {
			return fmt.Errorf("setup[%d]: %w", i, err)
		}
	}
	for i, step := range s.Flow {
		if err := validateStep(step); err != nil {
			return fmt.Errorf("flow[%d]: %w", i, err)
		}
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(a); err != nil {
			return fmt.Errorf("assertions[%d]: %w", i, err)
		}
	}
	return nil
}

func validateStep(step Step) error {
	switch step.Op {
	case "":
		return fmt.Errorf("op is required")
	case OpCreate, OpSave, OpSaveNow, OpInject:
		if step.Record == nil {
			return fmt.Errorf("record is required for %s", step.Op)
		}
	case OpFind, OpRemove, OpDestroy, OpRefresh:
		if step.ID == "" {
			return fmt.Errorf("id is required for %s", step.Op)
		}
	case OpFindAll:
	case OpGroupBy:
		if len(step.Fields) == 0 {
			return fmt.Errorf("fields are required for group_by")
		}
	case OpBind, OpUnbindAll:
		if step.Component == "" {
			return fmt.Errorf("component is required for %s", step.Op)
		}
	case OpBindAll, OpUnbind:
		if step.Component == "" || step.Property == "" {
			return fmt.Errorf("component and property are required for %s", step.Op)
		}
	case OpBindOne:
		if step.Component == "" || step.Property == "" || step.ID == "" {
			return fmt.Errorf("component, property and id are required for bind_one")
		}
	case OpAdvance:
		d, err := time.ParseDuration(step.Duration)
		if err != nil {
			return fmt.Errorf("advance: invalid duration %q", step.Duration)
		}
		if d < 0 {
			return fmt.Errorf("advance: negative duration %q", step.Duration)
		}
	case OpFlush:
	default:
		return fmt.Errorf("unknown op %q", step.Op)
	}
	return nil
}

func validateAssertion(a Assertion) error {
	switch a.Type {
	case "":
		return fmt.Errorf("type is required")
	case AssertTraceContains:
		if a.Event == "" {
			return fmt.Errorf("event is required for trace_contains")
		}
	case AssertTraceOrder:
		if len(a.Events) == 0 {
			return fmt.Errorf("events list is required for trace_order")
		}
	case AssertTraceCount:
		if a.Event == "" {
			return fmt.Errorf("event is required for trace_count")
		}
		if a.Count == nil || *a.Count < 0 {
			return fmt.Errorf("count must be non-negative for trace_count")
		}
	case AssertCacheState, AssertStoredState:
		if a.ID == "" {
			return fmt.Errorf("id is required for %s", a.Type)
		}
		if !a.Absent && len(a.Expect) == 0 {
			return fmt.Errorf("expect or absent is required for %s", a.Type)
		}
	case AssertProperty:
		if a.Component == "" || a.Property == "" {
			return fmt.Errorf("component and property are required for property")
		}
		if a.Count == nil && !a.Absent && len(a.Expect) == 0 {
			return fmt.Errorf("count, expect or absent is required for property")
		}
	case AssertRenders:
		if a.Component == "" {
			return fmt.Errorf("component is required for renders")
		}
		if a.Count == nil {
			return fmt.Errorf("count is required for renders")
		}
	case AssertPendingSave:
		if a.ID == "" {
			return fmt.Errorf("id is required for pending_save")
		}
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	return nil
}
