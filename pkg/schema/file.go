package schema

import (
	"gopkg.in/yaml.v3"

	"github.com/ajitpratap0/pqshim/pkg/config"
	"github.com/ajitpratap0/pqshim/pkg/errors"
)

// fileField is one entry of a schema document. Nullable is a pointer so an
// absent key keeps the nullable default.
type fileField struct {
	Column   string `yaml:"column"`
	Name     string `yaml:"name,omitempty"`
	Type     string `yaml:"type"`
	Nullable *bool  `yaml:"nullable,omitempty"`
}

type fileDocument struct {
	Fields []fileField `yaml:"fields"`
}

// LoadFile reads a YAML schema document:
//
//	fields:
//	  - column: address.city
//	    name: City
//	    type: string
//	    nullable: false
//
// ${VAR} references are substituted from the environment. A missing name
// defaults to the column path.
func LoadFile(path string) (*Description, error) {
	var doc fileDocument
	if err := config.Load(path, &doc); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to load schema file").
			WithDetail("path", path)
	}
	return fromDocument(doc)
}

// Parse builds a description from YAML bytes.
func Parse(data []byte) (*Description, error) {
	var doc fileDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to parse schema document")
	}
	return fromDocument(doc)
}

func fromDocument(doc fileDocument) (*Description, error) {
	if len(doc.Fields) == 0 {
		return nil, errors.New(errors.ErrorTypeConfig, "schema document declares no fields")
	}

	d := NewDescription()
	for _, f := range doc.Fields {
		t, err := ParseSemanticType(f.Type)
		if err != nil {
			return nil, err
		}
		name := f.Name
		if name == "" {
			name = f.Column
		}
		var opts []FieldOption
		if f.Nullable != nil {
			opts = append(opts, WithNullable(*f.Nullable))
		}
		if err := d.AddField(f.Column, name, t, opts...); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// Marshal renders the description as a YAML schema document.
func (d *Description) Marshal() ([]byte, error) {
	fields := d.Fields()
	doc := fileDocument{Fields: make([]fileField, 0, len(fields))}
	for _, m := range fields {
		nullable := m.Nullable
		doc.Fields = append(doc.Fields, fileField{
			Column:   m.ColumnPath,
			Name:     m.PipelineName,
			Type:     m.Type.String(),
			Nullable: &nullable,
		})
	}
	data, err := yaml.Marshal(doc)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to marshal schema document")
	}
	return data, nil
}
