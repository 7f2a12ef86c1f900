package validation

import (
	"fmt"

	"github.com/xeipuuv/gojsonschema"

	"github.com/helenavibes/ML-service/internal/models"
)

// DefaultRequiredFields are the fields every record must carry unless configured otherwise
var DefaultRequiredFields = []string{"feature1", "feature2"}

// Validator splits records into valid and invalid sets.
// Implementations must preserve input order within each output and place
// every record in exactly one of them.
type Validator interface {
	Validate(records []models.Record) (valid, invalid []models.Record)
}

// RequiredFields accepts a record iff every listed field is present
type RequiredFields struct {
	fields []string
}

// NewRequiredFields creates a presence validator. An empty list falls back to DefaultRequiredFields.
func NewRequiredFields(fields ...string) *RequiredFields {
	if len(fields) == 0 {
		fields = DefaultRequiredFields
	}
	return &RequiredFields{fields: append([]string(nil), fields...)}
}

// Fields returns the required field names
func (v *RequiredFields) Fields() []string {
	return append([]string(nil), v.fields...)
}

func (v *RequiredFields) Validate(records []models.Record) (valid, invalid []models.Record) {
	return partition(records, v.accepts)
}

func (v *RequiredFields) accepts(record models.Record) bool {
	for _, field := range v.fields {
		if !record.Has(field) {
			return false
		}
	}
	return true
}

// SchemaValidator accepts a record iff it validates against a JSON Schema
type SchemaValidator struct {
	schema *gojsonschema.Schema
}

// NewSchemaValidator compiles the given JSON Schema document
func NewSchemaValidator(schema string) (*SchemaValidator, error) {
	compiled, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(schema))
	if err != nil {
		return nil, fmt.Errorf("failed to compile record schema: %w", err)
	}
	return &SchemaValidator{schema: compiled}, nil
}

func (v *SchemaValidator) Validate(records []models.Record) (valid, invalid []models.Record) {
	return partition(records, v.accepts)
}

func (v *SchemaValidator) accepts(record models.Record) bool {
	result, err := v.schema.Validate(gojsonschema.NewGoLoader(map[string]interface{}(record)))
	if err != nil {
		return false
	}
	return result.Valid()
}

// New picks a validator: a schema validator when schema is non-empty, a
// required-fields validator otherwise.
func New(requiredFields []string, schema string) (Validator, error) {
	if schema != "" {
		return NewSchemaValidator(schema)
	}
	return NewRequiredFields(requiredFields...), nil
}

func partition(records []models.Record, accepts func(models.Record) bool) (valid, invalid []models.Record) {
	valid = make([]models.Record, 0, len(records))
	invalid = make([]models.Record, 0)
	for _, record := range records {
		if record != nil && accepts(record) {
			valid = append(valid, record)
		} else {
			invalid = append(invalid, record)
		}
	}
	return valid, invalid
}
