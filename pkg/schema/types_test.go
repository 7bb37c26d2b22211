package schema

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/pqshim/pkg/errors"
)

func TestParseSemanticType(t *testing.T) {
	for _, st := range SemanticTypes {
		got, err := ParseSemanticType(string(st))
		require.NoError(t, err)
		assert.Equal(t, st, got)
	}

	got, err := ParseSemanticType(" integer ")
	require.NoError(t, err)
	assert.Equal(t, TypeInteger, got)

	_, err = ParseSemanticType("decimal")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
}

func TestCoerce(t *testing.T) {
	ts := time.Date(2020, 5, 17, 10, 30, 0, 0, time.FixedZone("CEST", 2*3600))

	tests := []struct {
		name string
		typ  SemanticType
		in   interface{}
		want interface{}
	}{
		{"string", TypeString, "Andrey", "Andrey"},
		{"string from bytes", TypeString, []byte("Kai"), "Kai"},
		{"integer int", TypeInteger, 11, int64(11)},
		{"integer int8", TypeInteger, int8(-3), int64(-3)},
		{"integer uint32", TypeInteger, uint32(7), int64(7)},
		{"integer uint64 fits", TypeInteger, uint64(math.MaxInt64), int64(math.MaxInt64)},
		{"number float32", TypeNumber, float32(1.5), float64(1.5)},
		{"number float64", TypeNumber, 2.25, 2.25},
		{"number from int", TypeNumber, int64(3), float64(3)},
		{"number from uint64", TypeNumber, uint64(4), float64(4)},
		{"boolean", TypeBoolean, true, true},
		{"date normalized to utc", TypeDate, ts, ts.UTC()},
		{"binary", TypeBinary, []byte{0x1, 0x2}, []byte{0x1, 0x2}},
		{"binary from string", TypeBinary, "ab", []byte("ab")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.typ.Coerce(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCoerceRejectsCrossKindValues(t *testing.T) {
	tests := []struct {
		name string
		typ  SemanticType
		in   interface{}
	}{
		{"numeric string into integer", TypeInteger, "11"},
		{"word into number", TypeNumber, "eleven"},
		{"float into integer", TypeInteger, 1.5},
		{"uint64 overflow", TypeInteger, uint64(math.MaxUint64)},
		{"int into boolean", TypeBoolean, 1},
		{"string into date", TypeDate, "2020-01-01"},
		{"int into string", TypeString, 5},
		{"bool into binary", TypeBinary, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.typ.Coerce(tt.in)
			require.Error(t, err)
			assert.True(t, errors.IsType(err, errors.ErrorTypeValueType), "got %v", err)
		})
	}
}

func TestArrowTypeDefinedForEverySemanticType(t *testing.T) {
	for _, st := range SemanticTypes {
		assert.NotNil(t, st.ArrowType(), st)
	}
	assert.Nil(t, SemanticType("DECIMAL").ArrowType())
}
