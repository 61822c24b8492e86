package api

import (
	"fmt"
	"time"
)

// Valve value types accepted by ValveSpec.Type. An empty type accepts
// any value unchecked.
const (
	ValveString   = "string"
	ValveInt      = "int"
	ValveFloat    = "float"
	ValveBool     = "bool"
	ValveDuration = "duration"
)

// ValveSpec defines a single named configuration option exposed by a
// pipe.
type ValveSpec struct {
	Name        string      `json:"name"`
	Type        string      `json:"type"`
	Default     interface{} `json:"default,omitempty"`
	Description string      `json:"description"`
	Required    bool        `json:"required"`

	// Secret marks values that must not appear in listings or logs.
	Secret bool `json:"secret,omitempty"`
}

// ValveSchema is the ordered set of valves a pipe exposes
type ValveSchema []ValveSpec

// Spec returns the spec for the named valve
func (s ValveSchema) Spec(name string) (ValveSpec, bool) {
	for _, spec := range s {
		if spec.Name == name {
			return spec, true
		}
	}
	return ValveSpec{}, false
}

// Defaults returns the default value layer of the schema
func (s ValveSchema) Defaults() map[string]interface{} {
	defaults := make(map[string]interface{})
	for _, spec := range s {
		if spec.Default != nil {
			defaults[spec.Name] = spec.Default
		}
	}
	return defaults
}

// Validate checks that the schema itself is well formed
func (s ValveSchema) Validate() error {
	seen := make(map[string]bool)
	for _, spec := range s {
		if spec.Name == "" {
			return fmt.Errorf("valve name must not be empty")
		}
		if seen[spec.Name] {
			return fmt.Errorf("valve %s declared twice", spec.Name)
		}
		seen[spec.Name] = true

		switch spec.Type {
		case "", ValveString, ValveInt, ValveFloat, ValveBool, ValveDuration:
		default:
			return fmt.Errorf("valve %s has unknown type %s", spec.Name, spec.Type)
		}

		if spec.Default != nil {
			if _, err := coerceValve(spec, spec.Default); err != nil {
				return fmt.Errorf("valve %s has invalid default: %w", spec.Name, err)
			}
		}
	}
	return nil
}

// Valves is a resolved, immutable option set. The host builds it before
// a pipe is bound; pipes read it during invocations and never write it.
// A configuration change produces a new Valves value via a fresh
// resolution, it never mutates an existing one.
type Valves struct {
	values map[string]interface{}
}

// ResolveValves merges the given layers over the schema defaults, later
// layers winning, and checks the result against the schema: every value
// must coerce to its declared type and every required valve must be
// set. Unknown keys are kept untyped so hosts can pass through options
// a newer pipe version understands.
func ResolveValves(schema ValveSchema, layers ...map[string]interface{}) (Valves, error) {
	if err := schema.Validate(); err != nil {
		return Valves{}, fmt.Errorf("invalid valve schema: %w", err)
	}

	merged := schema.Defaults()
	for _, layer := range layers {
		for k, v := range layer {
			merged[k] = v
		}
	}

	values := make(map[string]interface{}, len(merged))
	for k, v := range merged {
		spec, known := schema.Spec(k)
		if !known {
			values[k] = v
			continue
		}
		coerced, err := coerceValve(spec, v)
		if err != nil {
			return Valves{}, fmt.Errorf("valve %s: %w", k, err)
		}
		values[k] = coerced
	}

	for _, spec := range schema {
		if !spec.Required {
			continue
		}
		v, ok := values[spec.Name]
		if !ok {
			return Valves{}, fmt.Errorf("required valve %s is not set", spec.Name)
		}
		if s, isString := v.(string); isString && s == "" {
			return Valves{}, fmt.Errorf("required valve %s is empty", spec.Name)
		}
	}

	return Valves{values: values}, nil
}

// NewValves builds an untyped valve set without schema checking. Meant
// for tests and for pipes constructed outside a host.
func NewValves(values map[string]interface{}) Valves {
	copied := make(map[string]interface{}, len(values))
	for k, v := range values {
		copied[k] = v
	}
	return Valves{values: copied}
}

// coerceValve converts a raw value to the spec's declared type
func coerceValve(spec ValveSpec, value interface{}) (interface{}, error) {
	switch spec.Type {
	case "":
		return value, nil
	case ValveString:
		if s, ok := value.(string); ok {
			return s, nil
		}
	case ValveInt:
		switch n := value.(type) {
		case int:
			return int64(n), nil
		case int32:
			return int64(n), nil
		case int64:
			return n, nil
		case float64:
			if n == float64(int64(n)) {
				return int64(n), nil
			}
		}
	case ValveFloat:
		switch n := value.(type) {
		case float64:
			return n, nil
		case float32:
			return float64(n), nil
		case int:
			return float64(n), nil
		case int64:
			return float64(n), nil
		}
	case ValveBool:
		if b, ok := value.(bool); ok {
			return b, nil
		}
	case ValveDuration:
		switch d := value.(type) {
		case time.Duration:
			return d, nil
		case string:
			parsed, err := time.ParseDuration(d)
			if err != nil {
				return nil, fmt.Errorf("invalid duration %s: %w", d, err)
			}
			return parsed, nil
		case int:
			return time.Duration(d) * time.Second, nil
		case int64:
			return time.Duration(d) * time.Second, nil
		case float64:
			return time.Duration(d * float64(time.Second)), nil
		}
	}
	return nil, fmt.Errorf("expected %s, got %T", spec.Type, value)
}

// Has reports whether the named valve is set
func (v Valves) Has(name string) bool {
	_, ok := v.values[name]
	return ok
}

// Get returns the raw value of the named valve
func (v Valves) Get(name string) (interface{}, bool) {
	val, ok := v.values[name]
	return val, ok
}

// String returns the named valve as a string, or "" when unset
func (v Valves) String(name string) string {
	return v.StringOr(name, "")
}

// StringOr returns the named valve as a string, or fallback when unset
func (v Valves) StringOr(name, fallback string) string {
	if s, ok := v.values[name].(string); ok {
		return s
	}
	return fallback
}

// Int returns the named valve as an int, or 0 when unset
func (v Valves) Int(name string) int {
	return v.IntOr(name, 0)
}

// IntOr returns the named valve as an int, or fallback when unset
func (v Valves) IntOr(name string, fallback int) int {
	switch n := v.values[name].(type) {
	case int64:
		return int(n)
	case int:
		return n
	case float64:
		return int(n)
	}
	return fallback
}

// Float returns the named valve as a float64, or 0 when unset
func (v Valves) Float(name string) float64 {
	switch n := v.values[name].(type) {
	case float64:
		return n
	case int64:
		return float64(n)
	case int:
		return float64(n)
	}
	return 0
}

// Bool returns the named valve as a bool, or false when unset
func (v Valves) Bool(name string) bool {
	if b, ok := v.values[name].(bool); ok {
		return b
	}
	return false
}

// Duration returns the named valve as a duration, or 0 when unset
func (v Valves) Duration(name string) time.Duration {
	return v.DurationOr(name, 0)
}

// DurationOr returns the named valve as a duration, or fallback when
// unset or unparsable
func (v Valves) DurationOr(name string, fallback time.Duration) time.Duration {
	switch d := v.values[name].(type) {
	case time.Duration:
		return d
	case string:
		if parsed, err := time.ParseDuration(d); err == nil {
			return parsed
		}
	case int64:
		return time.Duration(d) * time.Second
	}
	return fallback
}

// Len returns the number of set valves
func (v Valves) Len() int {
	return len(v.values)
}

// Map returns a copy of the underlying values
func (v Valves) Map() map[string]interface{} {
	copied := make(map[string]interface{}, len(v.values))
	for k, val := range v.values {
		copied[k] = val
	}
	return copied
}
