// Package errors provides examples of structured error handling in pqshim.
package errors_test

import (
	"fmt"
	"io"

	"github.com/ajitpratap0/pqshim/pkg/errors"
)

// Example demonstrates basic error creation and wrapping.
func Example() {
	err := errors.New(errors.ErrorTypeSchemaMismatch, "column b is missing").
		WithDetail("path", "/data/sample.parquet").
		WithDetail("column", "b")

	fmt.Println(err.Error())

	// Output:
	// schema_mismatch: column b is missing
}

// ExampleWrap shows how to wrap existing errors with context.
func ExampleWrap() {
	originalErr := io.ErrUnexpectedEOF

	err := errors.Wrap(originalErr, errors.ErrorTypeIO, "failed to read footer").
		WithDetail("file", "part-0.parquet")

	if errors.IsType(err, errors.ErrorTypeIO) {
		fmt.Println("This is an io error")
	}

	if errors.Is(err, io.ErrUnexpectedEOF) {
		fmt.Println("Original error was unexpected EOF")
	}

	// Output:
	// This is an io error
	// Original error was unexpected EOF
}

// ExampleIsType demonstrates checking error types.
func ExampleIsType() {
	dupErr := errors.New(errors.ErrorTypeDuplicateField, "field Name declared twice")
	wrapped := errors.Wrap(dupErr, errors.ErrorTypeConfig, "loading schema file failed")

	fmt.Printf("Is duplicate field: %v\n", errors.IsType(dupErr, errors.ErrorTypeDuplicateField))
	fmt.Printf("Wrapped error is config type: %v\n", errors.IsType(wrapped, errors.ErrorTypeConfig))
	fmt.Printf("Outer type wins: %v\n", errors.IsType(wrapped, errors.ErrorTypeDuplicateField))

	// Output:
	// Is duplicate field: true
	// Wrapped error is config type: true
	// Outer type wins: false
}

// ExampleIsRetryable shows that this layer never asks for retries.
func ExampleIsRetryable() {
	ioErr := errors.New(errors.ErrorTypeIO, "connection reset")
	fmt.Println(errors.IsRetryable(ioErr))

	// Output:
	// false
}

// ExampleNewf demonstrates formatted messages.
func ExampleNewf() {
	err := errors.Newf(errors.ErrorTypeValueType, "field %s expects %s, got %T", "Age", "INTEGER", "eleven")
	fmt.Println(err)

	// Output:
	// value_type: field Age expects INTEGER, got string
}

// ExampleDetail finds the failing file below a wrapping error.
func ExampleDetail() {
	cause := errors.New(errors.ErrorTypeRecordDecode, "bad footer").
		WithDetail("path", "/data/part-3.parquet")
	err := errors.Wrap(cause, errors.ErrorTypeInternal, "copy failed")

	path, ok := errors.Detail(err, "path")
	fmt.Println(path, ok)

	_, ok = errors.Detail(err, "column")
	fmt.Println(ok)

	// Output:
	// /data/part-3.parquet true
	// false
}
