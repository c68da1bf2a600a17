// Package vertical holds the per-vertical lead schemas and validates incoming
// payloads against them.
package vertical

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/ignite/lead-router/internal/domain"
)

// Registry stores the latest published version of each vertical.
// It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	verticals map[string]domain.Vertical
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{verticals: make(map[string]domain.Vertical)}
}

// Register publishes v. Re-registering an identical schema is a no-op. A
// schema that only adds optional fields becomes the next version. Any other
// change fails with a *SchemaConflictError.
func (r *Registry) Register(v domain.Vertical) (domain.Vertical, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	next, changed, err := r.resolve(v)
	if err != nil {
		return domain.Vertical{}, err
	}
	if changed {
		r.verticals[next.Name] = cloneVertical(next)
	}
	return next, nil
}

// Prepare runs the Register checks without publishing. changed reports
// whether the result differs from the registered version and needs Publish.
func (r *Registry) Prepare(v domain.Vertical) (next domain.Vertical, changed bool, err error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.resolve(v)
}

// Publish stores a vertical returned by Prepare. It is ignored when the
// registry already holds the same or a later version.
func (r *Registry) Publish(v domain.Vertical) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.verticals[v.Name]; ok && existing.Version >= v.Version {
		return
	}
	r.verticals[v.Name] = cloneVertical(v)
}

// resolve must be called with mu held.
func (r *Registry) resolve(v domain.Vertical) (domain.Vertical, bool, error) {
	if err := checkSchema(v); err != nil {
		return domain.Vertical{}, false, err
	}

	existing, ok := r.verticals[v.Name]
	if !ok {
		if v.Version == 0 {
			v.Version = 1
		}
		return cloneVertical(v), true, nil
	}

	conflicts, added := diffSchemas(existing, v)
	if len(conflicts) > 0 {
		return domain.Vertical{}, false, &SchemaConflictError{Vertical: v.Name, Fields: conflicts}
	}
	if !sameKeys(existing.DedupeKeys, v.DedupeKeys) {
		return domain.Vertical{}, false, &SchemaConflictError{Vertical: v.Name, Fields: []string{"dedupe_keys"}}
	}
	if added == 0 {
		return cloneVertical(existing), false, nil
	}

	v.Version = existing.Version + 1
	return cloneVertical(v), true, nil
}

// Get returns the current version of a vertical.
func (r *Registry) Get(name string) (domain.Vertical, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.verticals[name]
	if !ok {
		return domain.Vertical{}, false
	}
	return cloneVertical(v), true
}

// List returns every registered vertical sorted by name.
func (r *Registry) List() []domain.Vertical {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Vertical, 0, len(r.verticals))
	for _, v := range r.verticals {
		out = append(out, cloneVertical(v))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Validate coerces payload to the vertical's declared types. Every violation
// is collected into a single *ValidationError. Fields the schema does not
// declare pass through with JSON numbers normalized to float64.
func (r *Registry) Validate(name string, payload map[string]any) (map[string]any, error) {
	v, ok := r.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownVertical, name)
	}

	out := make(map[string]any, len(payload))
	for k, val := range payload {
		if _, declared := v.Field(k); !declared {
			out[k] = normalizeUndeclared(val)
		}
	}

	var violations []Violation
	for _, f := range v.Fields {
		raw, present := payload[f.Name]
		if !present || raw == nil || isBlank(raw) {
			if f.Required {
				violations = append(violations, Violation{Field: f.Name, Kind: MissingField})
			}
			continue
		}
		coerced, err := coerce(f.Type, raw)
		if err != nil {
			violations = append(violations, Violation{Field: f.Name, Kind: TypeMismatch, Detail: err.Error()})
			continue
		}
		out[f.Name] = coerced
	}

	if len(violations) > 0 {
		return nil, &ValidationError{Vertical: name, Violations: violations}
	}
	return out, nil
}

func checkSchema(v domain.Vertical) error {
	if strings.TrimSpace(v.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidSchema)
	}
	seen := make(map[string]bool, len(v.Fields))
	for _, f := range v.Fields {
		if f.Name == "" {
			return fmt.Errorf("%w: %s: field without name", ErrInvalidSchema, v.Name)
		}
		if seen[f.Name] {
			return fmt.Errorf("%w: %s: duplicate field %s", ErrInvalidSchema, v.Name, f.Name)
		}
		if !f.Type.Valid() {
			return fmt.Errorf("%w: %s: field %s has unknown type %q", ErrInvalidSchema, v.Name, f.Name, f.Type)
		}
		seen[f.Name] = true
	}
	for _, k := range v.DedupeKeys {
		if !seen[k] {
			return fmt.Errorf("%w: %s: dedupe key %s is not a declared field", ErrInvalidSchema, v.Name, k)
		}
	}
	return nil
}

// diffSchemas returns the fields that changed incompatibly and how many
// optional fields were added.
func diffSchemas(old, next domain.Vertical) (conflicts []string, added int) {
	for _, f := range old.Fields {
		nf, ok := next.Field(f.Name)
		if !ok || nf.Type != f.Type || nf.Required != f.Required {
			conflicts = append(conflicts, f.Name)
		}
	}
	for _, nf := range next.Fields {
		if _, ok := old.Field(nf.Name); ok {
			continue
		}
		if nf.Required {
			conflicts = append(conflicts, nf.Name)
			continue
		}
		added++
	}
	return conflicts, added
}

func sameKeys(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func cloneVertical(v domain.Vertical) domain.Vertical {
	v.Fields = append([]domain.FieldDef(nil), v.Fields...)
	v.DedupeKeys = append([]string(nil), v.DedupeKeys...)
	return v
}

func isBlank(v any) bool {
	s, ok := v.(string)
	return ok && strings.TrimSpace(s) == ""
}

func coerce(t domain.FieldType, v any) (any, error) {
	switch t {
	case domain.FieldString:
		switch x := v.(type) {
		case string:
			return strings.TrimSpace(x), nil
		case json.Number:
			return x.String(), nil
		}
		return nil, fmt.Errorf("expected string, got %T", v)

	case domain.FieldInteger:
		if n, ok := v.(json.Number); ok {
			if i, err := n.Int64(); err == nil {
				return i, nil
			}
		}
		f, err := toFloat(v)
		if err != nil {
			return nil, fmt.Errorf("expected integer: %v", err)
		}
		if f != math.Trunc(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("expected integer, got %v", v)
		}
		// float64(math.MaxInt64) rounds up to 2^63, which is already out of range.
		if f < math.MinInt64 || f >= math.MaxInt64 {
			return nil, fmt.Errorf("integer out of range: %v", v)
		}
		return int64(f), nil

	case domain.FieldNumber:
		f, err := toFloat(v)
		if err != nil {
			return nil, fmt.Errorf("expected number: %v", err)
		}
		return f, nil

	case domain.FieldBoolean:
		switch x := v.(type) {
		case bool:
			return x, nil
		case string:
			b, err := strconv.ParseBool(strings.TrimSpace(x))
			if err != nil {
				return nil, fmt.Errorf("expected boolean, got %q", x)
			}
			return b, nil
		}
		return nil, fmt.Errorf("expected boolean, got %T", v)
	}
	return nil, fmt.Errorf("unsupported field type %q", t)
}

func toFloat(v any) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case int32:
		return float64(x), nil
	case json.Number:
		return x.Float64()
	case string:
		return strconv.ParseFloat(strings.TrimSpace(x), 64)
	}
	return 0, fmt.Errorf("not numeric: %T", v)
}

func normalizeUndeclared(v any) any {
	if n, ok := v.(json.Number); ok {
		if f, err := n.Float64(); err == nil {
			return f
		}
		return n.String()
	}
	return v
}
