package domain

// FieldType enumerates the value types a vertical field may declare.
type FieldType string

const (
	FieldString  FieldType = "string"
	FieldInteger FieldType = "integer"
	FieldNumber  FieldType = "number"
	FieldBoolean FieldType = "boolean"
)

// Valid reports whether t is a known field type.
func (t FieldType) Valid() bool {
	switch t {
	case FieldString, FieldInteger, FieldNumber, FieldBoolean:
		return true
	}
	return false
}

// FieldDef declares a single lead field within a vertical schema.
type FieldDef struct {
	Name     string    `json:"name" yaml:"name"`
	Type     FieldType `json:"type" yaml:"type"`
	Required bool      `json:"required" yaml:"required"`
}

// Vertical is a lead category with its own field schema. A published
// vertical is immutable; replacing it produces a new Version.
type Vertical struct {
	Name       string     `json:"name" yaml:"name"`
	Version    int        `json:"version" yaml:"version"`
	Fields     []FieldDef `json:"fields" yaml:"fields"`
	DedupeKeys []string   `json:"dedupe_keys,omitempty" yaml:"dedupe_keys"`
}

// Field returns the definition for name, if declared.
func (v Vertical) Field(name string) (FieldDef, bool) {
	for _, f := range v.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldDef{}, false
}

// FingerprintKeys returns the fields hashed for duplicate detection.
// Without explicit dedupe keys, every required field is used.
func (v Vertical) FingerprintKeys() []string {
	if len(v.DedupeKeys) > 0 {
		return v.DedupeKeys
	}
	var keys []string
	for _, f := range v.Fields {
		if f.Required {
			keys = append(keys, f.Name)
		}
	}
	return keys
}
