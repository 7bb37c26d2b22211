package schema

import (
	"math"
	"strings"
	"time"

	"github.com/apache/arrow-go/v18/arrow"

	"github.com/ajitpratap0/pqshim/pkg/errors"
)

// SemanticType is the row-side type of a field.
type SemanticType string

// Semantic types understood by readers and writers.
const (
	TypeString  SemanticType = "STRING"
	TypeInteger SemanticType = "INTEGER"
	TypeNumber  SemanticType = "NUMBER"
	TypeBoolean SemanticType = "BOOLEAN"
	TypeDate    SemanticType = "DATE"
	TypeBinary  SemanticType = "BINARY"
)

// SemanticTypes lists every semantic type in declaration order.
var SemanticTypes = []SemanticType{TypeString, TypeInteger, TypeNumber, TypeBoolean, TypeDate, TypeBinary}

// ParseSemanticType parses a type name case-insensitively.
func ParseSemanticType(s string) (SemanticType, error) {
	t := SemanticType(strings.ToUpper(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", errors.Newf(errors.ErrorTypeValidation, "unknown semantic type %q", s)
	}
	return t, nil
}

// Valid reports whether t is one of the declared semantic types.
func (t SemanticType) Valid() bool {
	switch t {
	case TypeString, TypeInteger, TypeNumber, TypeBoolean, TypeDate, TypeBinary:
		return true
	}
	return false
}

func (t SemanticType) String() string {
	return string(t)
}

// ArrowType returns the arrow type rows of this semantic type are buffered
// in. Deriving the parquet schema from it yields STRING=BYTE_ARRAY(String),
// INTEGER=INT64(Int 64 signed), NUMBER=DOUBLE, BOOLEAN=BOOLEAN,
// DATE=INT64(Timestamp millis UTC) and BINARY=BYTE_ARRAY.
func (t SemanticType) ArrowType() arrow.DataType {
	switch t {
	case TypeString:
		return arrow.BinaryTypes.String
	case TypeInteger:
		return arrow.PrimitiveTypes.Int64
	case TypeNumber:
		return arrow.PrimitiveTypes.Float64
	case TypeBoolean:
		return arrow.FixedWidthTypes.Boolean
	case TypeDate:
		return arrow.FixedWidthTypes.Timestamp_ms
	case TypeBinary:
		return arrow.BinaryTypes.Binary
	}
	return nil
}

// Coerce converts a row value to the canonical Go value of t:
// string, int64, float64, bool, time.Time (UTC) or []byte.
// Strings are never parsed into numbers; a cross-kind value is a
// value_type error. v must not be nil.
func (t SemanticType) Coerce(v interface{}) (interface{}, error) {
	switch t {
	case TypeString:
		switch val := v.(type) {
		case string:
			return val, nil
		case []byte:
			return string(val), nil
		}
	case TypeInteger:
		if n, ok := asInt64(v); ok {
			return n, nil
		}
		if isUnsigned(v) {
			return nil, errors.Newf(errors.ErrorTypeValueType, "value %v overflows INTEGER", v)
		}
	case TypeNumber:
		switch val := v.(type) {
		case float64:
			return val, nil
		case float32:
			return float64(val), nil
		}
		if n, ok := asInt64(v); ok {
			return float64(n), nil
		}
		if u, ok := v.(uint64); ok {
			return float64(u), nil
		}
		if u, ok := v.(uint); ok {
			return float64(u), nil
		}
	case TypeBoolean:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case TypeDate:
		if ts, ok := v.(time.Time); ok {
			return ts.UTC(), nil
		}
	case TypeBinary:
		switch val := v.(type) {
		case []byte:
			return val, nil
		case string:
			return []byte(val), nil
		}
	default:
		return nil, errors.Newf(errors.ErrorTypeValidation, "unknown semantic type %q", string(t))
	}
	return nil, errors.Newf(errors.ErrorTypeValueType, "expected %s, got %T", t, v)
}

// asInt64 converts every Go integer kind that fits in an int64.
func asInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint:
		if uint64(n) <= math.MaxInt64 {
			return int64(n), true
		}
	case uint64:
		if n <= math.MaxInt64 {
			return int64(n), true
		}
	}
	return 0, false
}

func isUnsigned(v interface{}) bool {
	switch v.(type) {
	case uint, uint64:
		return true
	}
	return false
}
