package vertical

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/ignite/lead-router/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func autoInsurance() domain.Vertical {
	return domain.Vertical{
		Name: "auto_insurance",
		Fields: []domain.FieldDef{
			{Name: "zip", Type: domain.FieldString, Required: true},
			{Name: "age", Type: domain.FieldInteger},
			{Name: "income", Type: domain.FieldNumber},
			{Name: "homeowner", Type: domain.FieldBoolean},
		},
	}
}

func TestRegister_NewAndIdempotent(t *testing.T) {
	r := NewRegistry()

	v, err := r.Register(autoInsurance())
	require.NoError(t, err)
	assert.Equal(t, 1, v.Version)

	v, err = r.Register(autoInsurance())
	require.NoError(t, err)
	assert.Equal(t, 1, v.Version, "identical schema must not bump the version")
}

func TestRegister_CompatibleExtensionBumpsVersion(t *testing.T) {
	r := NewRegistry()
	_, err := r.Register(autoInsurance())
	require.NoError(t, err)

	next := autoInsurance()
	next.Fields = append(next.Fields, domain.FieldDef{Name: "vehicle_year", Type: domain.FieldInteger})
	v, err := r.Register(next)
	require.NoError(t, err)
	assert.Equal(t, 2, v.Version)

	got, ok := r.Get("auto_insurance")
	require.True(t, ok)
	assert.Len(t, got.Fields, 5)
}

func TestRegister_SchemaConflict(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*domain.Vertical)
		field  string
	}{
		{"type change", func(v *domain.Vertical) { v.Fields[1].Type = domain.FieldString }, "age"},
		{"required flip", func(v *domain.Vertical) { v.Fields[1].Required = true }, "age"},
		{"removed field", func(v *domain.Vertical) { v.Fields = v.Fields[:3] }, "homeowner"},
		{"new required field", func(v *domain.Vertical) {
			v.Fields = append(v.Fields, domain.FieldDef{Name: "phone", Type: domain.FieldString, Required: true})
		}, "phone"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry()
			_, err := r.Register(autoInsurance())
			require.NoError(t, err)

			next := autoInsurance()
			tt.mutate(&next)
			_, err = r.Register(next)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrSchemaConflict))

			var sc *SchemaConflictError
			require.True(t, errors.As(err, &sc))
			assert.Contains(t, sc.Fields, tt.field)

			got, _ := r.Get("auto_insurance")
			assert.Equal(t, 1, got.Version, "conflicting register must not replace the schema")
		})
	}
}

func TestRegister_InvalidSchema(t *testing.T) {
	r := NewRegistry()
	_, err := r.Register(domain.Vertical{Name: "x", Fields: []domain.FieldDef{{Name: "a", Type: "date"}}})
	assert.ErrorIs(t, err, ErrInvalidSchema)

	_, err = r.Register(domain.Vertical{Name: "x", DedupeKeys: []string{"nope"}})
	assert.ErrorIs(t, err, ErrInvalidSchema)

	_, err = r.Register(domain.Vertical{Name: " "})
	assert.ErrorIs(t, err, ErrInvalidSchema)
}

func TestValidate_CoercesTypes(t *testing.T) {
	r := NewRegistry()
	_, _ = r.Register(autoInsurance())

	out, err := r.Validate("auto_insurance", map[string]any{
		"zip":       " 94107 ",
		"age":       json.Number("34"),
		"income":    "52000.50",
		"homeowner": "true",
		"source":    json.Number("7"),
	})
	require.NoError(t, err)
	assert.Equal(t, "94107", out["zip"])
	assert.Equal(t, int64(34), out["age"])
	assert.Equal(t, 52000.50, out["income"])
	assert.Equal(t, true, out["homeowner"])
	assert.Equal(t, float64(7), out["source"], "undeclared numbers pass through as float64")
}

func TestValidate_EnumeratesAllViolations(t *testing.T) {
	r := NewRegistry()
	_, _ = r.Register(autoInsurance())

	_, err := r.Validate("auto_insurance", map[string]any{
		"age":       "thirty",
		"income":    34.5,
		"homeowner": 1,
	})
	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	require.Len(t, ve.Violations, 3)

	kinds := map[string]ViolationKind{}
	for _, v := range ve.Violations {
		kinds[v.Field] = v.Kind
	}
	assert.Equal(t, MissingField, kinds["zip"])
	assert.Equal(t, TypeMismatch, kinds["age"])
	assert.Equal(t, TypeMismatch, kinds["homeowner"])
}

func TestValidate_BlankRequiredIsMissing(t *testing.T) {
	r := NewRegistry()
	_, _ = r.Register(autoInsurance())

	_, err := r.Validate("auto_insurance", map[string]any{"zip": "   "})
	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, MissingField, ve.Violations[0].Kind)
}

func TestValidate_FractionalInteger(t *testing.T) {
	r := NewRegistry()
	_, _ = r.Register(autoInsurance())

	_, err := r.Validate("auto_insurance", map[string]any{"zip": "94107", "age": 34.5})
	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "age", ve.Violations[0].Field)
}

func TestValidate_UnknownVertical(t *testing.T) {
	_, err := NewRegistry().Validate("solar", map[string]any{})
	assert.ErrorIs(t, err, ErrUnknownVertical)
}

func TestValidate_IntegerRange(t *testing.T) {
	r := NewRegistry()
	_, _ = r.Register(autoInsurance())

	tests := []struct {
		name string
		age  any
		want int64
		ok   bool
	}{
		{"exponent within range", json.Number("1e3"), 1000, true},
		{"exact above float precision", json.Number("9007199254740993"), 9007199254740993, true},
		{"max int64", json.Number("9223372036854775807"), 9223372036854775807, true},
		{"above int64", json.Number("1e19"), 0, false},
		{"below int64", json.Number("-1e19"), 0, false},
		{"float above int64", 1e19, 0, false},
		{"string above int64", "99999999999999999999", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := r.Validate("auto_insurance", map[string]any{"zip": "94107", "age": tt.age})
			if tt.ok {
				require.NoError(t, err)
				assert.Equal(t, tt.want, out["age"])
				return
			}
			var ve *ValidationError
			require.True(t, errors.As(err, &ve))
			assert.Equal(t, "age", ve.Violations[0].Field)
			assert.Equal(t, TypeMismatch, ve.Violations[0].Kind)
		})
	}
}

func TestPrepare_DoesNotPublish(t *testing.T) {
	r := NewRegistry()

	v, changed, err := r.Prepare(autoInsurance())
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, 1, v.Version)
	_, ok := r.Get("auto_insurance")
	assert.False(t, ok)

	r.Publish(v)
	got, ok := r.Get("auto_insurance")
	require.True(t, ok)
	assert.Equal(t, 1, got.Version)

	_, changed, err = r.Prepare(autoInsurance())
	require.NoError(t, err)
	assert.False(t, changed, "identical schema needs no publish")
}

func TestPublish_KeepsLaterVersion(t *testing.T) {
	r := NewRegistry()
	_, err := r.Register(autoInsurance())
	require.NoError(t, err)
	next := autoInsurance()
	next.Fields = append(next.Fields, domain.FieldDef{Name: "vehicle_year", Type: domain.FieldInteger})
	_, err = r.Register(next)
	require.NoError(t, err)

	stale := autoInsurance()
	stale.Version = 1
	r.Publish(stale)

	got, _ := r.Get("auto_insurance")
	assert.Equal(t, 2, got.Version)
	assert.Len(t, got.Fields, 5)
}
