package sqlite

import (
	"fmt"

	"github.com/roach88/recbind/internal/ir"
)

// marshalRecord converts a record to canonical JSON TEXT for storage.
// Canonical output makes equal records byte-identical, which group-by on
// nested values relies on.
func marshalRecord(rec ir.IRObject) (string, error) {
	if rec == nil {
		rec = ir.IRObject{}
	}
	data, err := ir.MarshalCanonical(rec)
	if err != nil {
		return "", fmt.Errorf("marshal record: %w", err)
	}
	return string(data), nil
}

// unmarshalRecord parses stored JSON TEXT. Large integers survive because
// ir.ParseObject decodes numbers as json.Number.
func unmarshalRecord(data string) (ir.IRObject, error) {
	if data == "" || data == "{}" {
		return ir.IRObject{}, nil
	}
	obj, err := ir.ParseObject([]byte(data))
	if err != nil {
		return nil, fmt.Errorf("unmarshal record: %w", err)
	}
	return obj, nil
}

// groupValue rebuilds a field value from the json_type / json_extract pair
// selected by a group-by query.
func groupValue(jsonType string, raw any) (ir.IRValue, error) {
	switch jsonType {
	case "null":
		return ir.IRNull{}, nil
	case "true":
		return ir.IRBool(true), nil
	case "false":
		return ir.IRBool(false), nil
	case "integer":
		n, ok := raw.(int64)
		if !ok {
			return nil, fmt.Errorf("group value: integer column holds %T", raw)
		}
		return ir.IRInt(n), nil
	case "text":
		return ir.IRString(asText(raw)), nil
	case "array", "object":
		v, err := ir.ParseValue([]byte(asText(raw)))
		if err != nil {
			return nil, fmt.Errorf("group value: %w", err)
		}
		return v, nil
	default:
		return nil, fmt.Errorf("group value: unsupported JSON type %q", jsonType)
	}
}

func asText(raw any) string {
	switch v := raw.(type) {
	case string:
		return v
	case []byte:
		return string(v)
	default:
		return fmt.Sprint(v)
	}
}
