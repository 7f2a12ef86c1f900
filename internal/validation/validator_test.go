package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helenavibes/ML-service/internal/models"
)

func TestRequiredFields(t *testing.T) {
	v := NewRequiredFields()
	assert.Equal(t, []string{"feature1", "feature2"}, v.Fields())

	tests := []struct {
		name            string
		records         []models.Record
		expectedValid   int
		expectedInvalid int
	}{
		{"empty input", nil, 0, 0},
		{"all valid", []models.Record{{"feature1": 1, "feature2": 2}, {"feature1": "a", "feature2": nil}}, 2, 0},
		{"missing field", []models.Record{{"feature1": 1}}, 0, 1},
		{"mixed", []models.Record{{"feature1": 1, "feature2": 2}, {"feature2": 2}, {}}, 1, 2},
		{"nil record", []models.Record{nil}, 0, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			valid, invalid := v.Validate(tt.records)
			assert.Len(t, valid, tt.expectedValid)
			assert.Len(t, invalid, tt.expectedInvalid)
		})
	}
}

func TestRequiredFieldsPreservesOrder(t *testing.T) {
	v := NewRequiredFields("id")
	records := []models.Record{{"id": 1}, {"x": 1}, {"id": 2}, {"x": 2}, {"id": 3}}

	valid, invalid := v.Validate(records)

	require.Len(t, valid, 3)
	require.Len(t, invalid, 2)
	for i, r := range valid {
		assert.Equal(t, i+1, r["id"])
	}
	assert.Equal(t, 1, invalid[0]["x"])
	assert.Equal(t, 2, invalid[1]["x"])
}

func TestSchemaValidator(t *testing.T) {
	schema := `{
		"type": "object",
		"required": ["feature1", "feature2"],
		"properties": {
			"feature1": {"type": "number"},
			"feature2": {"type": "number"}
		}
	}`

	v, err := NewSchemaValidator(schema)
	require.NoError(t, err)

	valid, invalid := v.Validate([]models.Record{
		{"feature1": 1.5, "feature2": 2},
		{"feature1": "text", "feature2": 2},
		{"feature1": 1},
	})

	assert.Len(t, valid, 1)
	assert.Len(t, invalid, 2)
}

func TestNew(t *testing.T) {
	t.Run("required fields by default", func(t *testing.T) {
		v, err := New([]string{"a"}, "")
		require.NoError(t, err)
		assert.IsType(t, &RequiredFields{}, v)
	})

	t.Run("schema when provided", func(t *testing.T) {
		v, err := New(nil, `{"type": "object"}`)
		require.NoError(t, err)
		assert.IsType(t, &SchemaValidator{}, v)
	})

	t.Run("broken schema", func(t *testing.T) {
		_, err := New(nil, `{"type": 12}`)
		assert.Error(t, err)
	})
}
