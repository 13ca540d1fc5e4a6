package store

import (
	"context"
	"sort"

	"github.com/roach88/recbind/internal/ir"
)

// DefaultIDAttribute is used when a MapperConfig leaves IDAttribute empty.
const DefaultIDAttribute = "id"

// Method is a record-level operation registered on a mapper, invoked through
// Store.Call with the record it applies to.
type Method func(ctx context.Context, rec ir.IRObject) (any, error)

// MapperConfig describes a collection.
type MapperConfig struct {
	// IDAttribute names the field holding the record id. Defaults to "id".
	IDAttribute string

	// Schema is optional CUE source every created or saved record must satisfy.
	Schema string

	// Methods are record operations callable through Store.Call.
	Methods map[string]Method

	// SafeInject, when set, receives every record pushed through
	// Store.Inject instead of the default direct cache write.
	SafeInject func(rec ir.IRObject)
}

// Mapper is the registered definition of a collection.
type Mapper struct {
	name        string
	idAttribute string
	schema      *schema
	methods     map[string]Method
	safeInject  func(rec ir.IRObject)
}

func newMapper(name string, cfg MapperConfig) (*Mapper, error) {
	m := &Mapper{
		name:        name,
		idAttribute: cfg.IDAttribute,
		methods:     make(map[string]Method, len(cfg.Methods)),
		safeInject:  cfg.SafeInject,
	}
	if m.idAttribute == "" {
		m.idAttribute = DefaultIDAttribute
	}
	for k, fn := range cfg.Methods {
		m.methods[k] = fn
	}
	if cfg.Schema != "" {
		s, err := compileSchema(cfg.Schema)
		if err != nil {
			return nil, err
		}
		m.schema = s
	}
	return m, nil
}

// Name returns the collection name.
func (m *Mapper) Name() string {
	return m.name
}

// IDAttribute returns the field holding the record id.
func (m *Mapper) IDAttribute() string {
	return m.idAttribute
}

// ID returns the record's id; ok is false when it is missing or empty.
func (m *Mapper) ID(rec ir.IRObject) (string, bool) {
	id, ok := rec.Str(m.idAttribute)
	return id, ok && id != ""
}

// Methods returns the registered method names in sorted order.
func (m *Mapper) Methods() []string {
	names := make([]string, 0, len(m.methods))
	for k := range m.methods {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Validate checks rec against the mapper's schema. Always nil without one.
func (m *Mapper) Validate(rec ir.IRObject) error {
	if m.schema == nil {
		return nil
	}
	if err := m.schema.validate(rec); err != nil {
		return &ValidationError{Collection: m.name, Err: err}
	}
	return nil
}
