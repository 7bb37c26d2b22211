package schema

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/pqshim/pkg/errors"
)

const peopleSchema = `
fields:
  - column: name
    name: Name
    type: string
  - column: age
    name: Age
    type: Integer
    nullable: false
  - column: address.city
    type: STRING
`

func TestParse(t *testing.T) {
	d, err := Parse([]byte(peopleSchema))
	require.NoError(t, err)

	want := []FieldMapping{
		{ColumnPath: "name", PipelineName: "Name", Type: TypeString, Nullable: true},
		{ColumnPath: "age", PipelineName: "Age", Type: TypeInteger, Nullable: false},
		{ColumnPath: "address.city", PipelineName: "address.city", Type: TypeString, Nullable: true},
	}
	assert.Equal(t, want, d.Fields())
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		errType errors.ErrorType
	}{
		{"not yaml", "fields: [", errors.ErrorTypeConfig},
		{"no fields", "fields: []", errors.ErrorTypeConfig},
		{"unknown type", "fields:\n  - column: a\n    type: decimal\n", errors.ErrorTypeValidation},
		{"duplicate", "fields:\n  - column: a\n    type: string\n  - column: a\n    type: string\n", errors.ErrorTypeDuplicateField},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			require.Error(t, err)
			assert.True(t, errors.IsType(err, tt.errType), "got %v", err)
		})
	}
}

func TestMarshalRoundTrip(t *testing.T) {
	d := nestedDescription()
	data, err := d.Marshal()
	require.NoError(t, err)

	back, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, d.Fields(), back.Fields())
}

func TestLoadFileSubstitutesEnv(t *testing.T) {
	t.Setenv("PQSHIM_TEST_COLUMN", "city")
	path := filepath.Join(t.TempDir(), "schema.yaml")
	require.NoError(t, os.WriteFile(path, []byte("fields:\n  - column: ${PQSHIM_TEST_COLUMN}\n    name: City\n    type: string\n"), 0o600))

	d, err := LoadFile(path)
	require.NoError(t, err)
	m, ok := d.FieldByPipelineName("City")
	require.True(t, ok)
	assert.Equal(t, "city", m.ColumnPath)
}

func TestLoadFileMissing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}
