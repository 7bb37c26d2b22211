package schema

import (
	"strings"

	"github.com/apache/arrow-go/v18/parquet"
	pqschema "github.com/apache/arrow-go/v18/parquet/schema"

	"github.com/ajitpratap0/pqshim/pkg/errors"
)

// logicalTypeOf returns the logical annotation of a column, upgrading a
// legacy converted type when the footer carried no logical type.
func logicalTypeOf(col *pqschema.Column) pqschema.LogicalType {
	if lt := col.LogicalType(); lt != nil && !lt.IsNone() {
		return lt
	}
	var dec pqschema.DecimalMetadata
	if p, ok := col.SchemaNode().(*pqschema.PrimitiveNode); ok {
		dec = p.DecimalMetadata()
	}
	return col.ConvertedType().ToLogicalType(dec)
}

// InferType maps a leaf column onto the semantic type it decodes to. Columns
// outside the supported table (decimal, time, uuid, interval, float16,
// repeated columns and so on) fail with an unsupported_type error.
func InferType(col *pqschema.Column) (SemanticType, error) {
	if col.MaxRepetitionLevel() > 0 {
		return "", unsupported(col, "repeated columns are not supported")
	}

	lt := logicalTypeOf(col)
	none := lt == nil || lt.IsNone()

	switch col.PhysicalType() {
	case parquet.Types.Boolean:
		if none {
			return TypeBoolean, nil
		}
	case parquet.Types.Int32:
		if none {
			return TypeInteger, nil
		}
		switch lt.(type) {
		case pqschema.IntLogicalType:
			return TypeInteger, nil
		case pqschema.DateLogicalType:
			return TypeDate, nil
		}
	case parquet.Types.Int64:
		if none {
			return TypeInteger, nil
		}
		switch lt.(type) {
		case pqschema.IntLogicalType:
			return TypeInteger, nil
		case pqschema.TimestampLogicalType:
			return TypeDate, nil
		}
	case parquet.Types.Int96:
		return TypeDate, nil
	case parquet.Types.Float, parquet.Types.Double:
		if none {
			return TypeNumber, nil
		}
	case parquet.Types.ByteArray:
		if none {
			return TypeString, nil
		}
		switch lt.(type) {
		case pqschema.StringLogicalType, pqschema.EnumLogicalType,
			pqschema.JSONLogicalType, pqschema.BSONLogicalType:
			return TypeString, nil
		}
	case parquet.Types.FixedLenByteArray:
		if none {
			return TypeBinary, nil
		}
	}

	if none {
		return "", unsupported(col, "physical type has no semantic mapping")
	}
	return "", unsupported(col, "logical type "+lt.String()+" is not supported")
}

func unsupported(col *pqschema.Column, reason string) *errors.Error {
	return errors.Newf(errors.ErrorTypeUnsupportedType, "column %s (%s): %s", col.Path(), col.PhysicalType(), reason).
		WithDetail("column", col.Path())
}

// Compatible reports whether a mapping can be served by a file column. The
// column must infer to the mapping's type, except that BINARY also accepts
// text byte arrays and STRING also accepts unannotated fixed-length byte
// arrays. Repeated columns never match.
func Compatible(m FieldMapping, col *pqschema.Column) bool {
	inferred, err := InferType(col)
	if err != nil {
		return false
	}
	if inferred == m.Type {
		return true
	}
	switch {
	case m.Type == TypeBinary && inferred == TypeString:
		return col.PhysicalType() == parquet.Types.ByteArray
	case m.Type == TypeString && inferred == TypeBinary:
		return col.PhysicalType() == parquet.Types.FixedLenByteArray
	}
	return false
}

// FromColumnarSchema infers a description from a file schema. Every leaf
// column becomes a mapping whose column path and pipeline name are both the
// leaf's dotted path; leaves with a definition level are nullable. A name
// element containing a dot is reported as an unsupported column.
func FromColumnarSchema(sc *pqschema.Schema) (*Description, error) {
	if sc == nil || sc.NumColumns() == 0 {
		return nil, errors.New(errors.ErrorTypeSchemaMismatch, "file schema has no columns")
	}

	d := NewDescription()
	for i := 0; i < sc.NumColumns(); i++ {
		col := sc.Column(i)
		t, err := InferType(col)
		if err != nil {
			return nil, err
		}
		for _, elem := range col.ColumnPath() {
			if strings.Contains(elem, ".") {
				return nil, errors.Newf(errors.ErrorTypeUnsupportedType,
					"column %q has a dot in its name and cannot be addressed by a dotted path", elem).
					WithDetail("column", col.Path())
			}
		}
		path := col.Path()
		if err := d.AddField(path, path, t, WithNullable(col.MaxDefinitionLevel() > 0)); err != nil {
			return nil, err
		}
	}
	return d, nil
}
