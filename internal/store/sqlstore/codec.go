package sqlstore

import (
	"encoding/json"
	"fmt"
	"time"

	"mdcatalog/internal/schema"
)

// encode converts a stored field value into a driver argument.
func encode(f schema.FieldDescriptor, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	if f.Many || f.Type == schema.TypeJSON {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", f.Name, err)
		}
		return string(b), nil
	}
	return v, nil
}

// decode converts a scanned column back into the stored representation.
func decode(f schema.FieldDescriptor, raw any) (any, error) {
	if raw == nil {
		return nil, nil
	}
	if f.Many || f.Type == schema.TypeJSON {
		var data []byte
		switch t := raw.(type) {
		case []byte:
			data = t
		case string:
			data = []byte(t)
		default:
			return nil, fmt.Errorf("decode %s: unexpected %T", f.Name, raw)
		}
		if f.Many {
			var ids []string
			if err := json.Unmarshal(data, &ids); err != nil {
				return nil, fmt.Errorf("decode %s: %w", f.Name, err)
			}
			return ids, nil
		}
		var v any
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("decode %s: %w", f.Name, err)
		}
		return v, nil
	}

	switch f.Type {
	case schema.TypeNumber:
		switch t := raw.(type) {
		case float64:
			return t, nil
		case float32:
			return float64(t), nil
		case int64:
			return float64(t), nil
		}
	case schema.TypeBoolean:
		switch t := raw.(type) {
		case bool:
			return t, nil
		case int64:
			return t != 0, nil
		}
	default:
		switch t := raw.(type) {
		case string:
			return t, nil
		case []byte:
			return string(t), nil
		}
	}
	return nil, fmt.Errorf("decode %s: unexpected %T for %s", f.Name, raw, f.Type)
}

func decodeBool(raw any) (bool, error) {
	switch t := raw.(type) {
	case bool:
		return t, nil
	case int64:
		return t != 0, nil
	}
	return false, fmt.Errorf("decode is_blocked: unexpected %T", raw)
}

func decodeTime(raw any) (time.Time, error) {
	switch t := raw.(type) {
	case time.Time:
		return t.UTC(), nil
	case string:
		return time.Parse(timeLayout, t)
	case []byte:
		return time.Parse(timeLayout, string(t))
	}
	return time.Time{}, fmt.Errorf("decode timestamp: unexpected %T", raw)
}
