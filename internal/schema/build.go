package schema

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"mdcatalog/internal/dsl"
	"mdcatalog/internal/reference"
)

// FromDSL converts parsed DSL blocks into a sealed registry. Blocks are
// registered in the order given, so callers pass them leaves first. Enum
// fields with a catalog=Name option take their values from enums.
func FromDSL(entities []*dsl.Entity, enums map[string]reference.EnumDirectory) (*Registry, error) {
	reg := NewRegistry()
	for _, e := range entities {
		kind, err := kindFromDSL(e, enums)
		if err != nil {
			return nil, err
		}
		if err := reg.Register(kind); err != nil {
			return nil, fmt.Errorf("%s: %w", e.Source, err)
		}
	}
	reg.Seal()
	return reg, nil
}

func kindFromDSL(e *dsl.Entity, enums map[string]reference.EnumDirectory) (EntityKind, error) {
	kind := EntityKind{Name: e.Name, Module: e.Module}
	for _, df := range e.Fields {
		fd, err := fieldFromDSL(e.Name, df, enums)
		if err != nil {
			return kind, err
		}
		kind.Fields = append(kind.Fields, fd)
		if df.Flag("unique") {
			kind.UniqueFields = appendUnique(kind.UniqueFields, df.Name)
		}
	}
	for _, set := range e.Constraints.Unique {
		if len(set) != 1 {
			return kind, invalid(e.Name, "", "composite unique constraint %v is not supported", set)
		}
		kind.UniqueFields = appendUnique(kind.UniqueFields, set[0])
	}
	return kind, nil
}

func fieldFromDSL(kind string, df dsl.Field, enums map[string]reference.EnumDirectory) (FieldDescriptor, error) {
	fd := FieldDescriptor{
		Name:     df.Name,
		Required: df.Flag("required"),
		Trim:     df.Flag("trim"),
		Derived:  df.Flag("derived"),
	}

	switch df.Type {
	case "string", "text":
		fd.Type = TypeString
	case "number", "int", "float", "decimal":
		fd.Type = TypeNumber
	case "bool", "boolean":
		fd.Type = TypeBoolean
	case "json":
		fd.Type = TypeJSON
	case "enum":
		fd.Type = TypeEnum
		fd.EnumValues = append([]string(nil), df.Enum...)
		if name, ok := df.Option("catalog"); ok {
			dir, found := enums[name]
			if !found {
				return fd, invalid(kind, df.Name, "unknown enum catalog %q", name)
			}
			fd.EnumValues = dir.Codes()
		}
	case "ref":
		fd.Type = TypeReference
		fd.Target = df.RefTarget
	case "array":
		if df.ElemType != "ref" {
			return fd, invalid(kind, df.Name, "arrays of %q are not supported", df.ElemType)
		}
		fd.Type = TypeReference
		fd.Target = df.RefTarget
		fd.Many = true
	default:
		return fd, invalid(kind, df.Name, "unknown field type %q", df.Type)
	}

	if err := numberBounds(kind, df, &fd); err != nil {
		return fd, err
	}
	if raw, ok := df.Option("default"); ok {
		def, err := parseDefault(fd, raw)
		if err != nil {
			return fd, invalid(kind, df.Name, "default %q: %v", raw, err)
		}
		fd.Default = def
	}
	return fd, nil
}

// numberBounds reads the integer, min= and max= options of number fields.
func numberBounds(kind string, df dsl.Field, fd *FieldDescriptor) error {
	_, hasMin := df.Option("min")
	_, hasMax := df.Option("max")
	if fd.Type != TypeNumber {
		if hasMin || hasMax || df.Flag("integer") {
			return invalid(kind, df.Name, "integer, min and max apply to number fields only")
		}
		return nil
	}
	fd.Integer = df.Flag("integer")
	for _, opt := range []struct {
		name string
		dst  **float64
	}{{"min", &fd.Min}, {"max", &fd.Max}} {
		raw, ok := df.Option(opt.name)
		if !ok {
			continue
		}
		n, err := strconv.ParseFloat(raw, 64)
		if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
			return invalid(kind, df.Name, "%s=%q is not a finite number", opt.name, raw)
		}
		*opt.dst = &n
	}
	return nil
}

func parseDefault(fd FieldDescriptor, raw string) (any, error) {
	switch fd.Type {
	case TypeString, TypeEnum:
		return raw, nil
	case TypeNumber:
		return strconv.ParseFloat(raw, 64)
	case TypeBoolean:
		return strconv.ParseBool(raw)
	case TypeJSON:
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return nil, err
		}
		return v, nil
	}
	return nil, fmt.Errorf("defaults are not supported on %s fields", describeType(fd))
}

func appendUnique(list []string, name string) []string {
	for _, n := range list {
		if n == name {
			return list
		}
	}
	return append(list, name)
}
