// Package testutil provides testing utilities for pqshim
package testutil

import (
	"context"
	"strings"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/ajitpratap0/pqshim/pkg/config"
	"github.com/ajitpratap0/pqshim/pkg/filesystem"
	"github.com/ajitpratap0/pqshim/pkg/logger"
)

// TestLogger creates a test logger that writes to the test output.
func TestLogger(t *testing.T) *zap.Logger {
	return zaptest.NewLogger(t)
}

// LoggedContext returns a context whose logger fields name the test.
func LoggedContext(t *testing.T) context.Context {
	return context.WithValue(context.Background(), logger.JobIDKey, t.Name())
}

// MemFS returns a Local filesystem over a fresh in-memory afero filesystem.
func MemFS() *filesystem.Local {
	return filesystem.NewLocalFromFs(afero.NewMemMapFs())
}

// JobConfig returns a default job configuration with small row groups and
// batches, after applying mutate.
func JobConfig(mutate ...func(*config.JobConfig)) *config.JobConfig {
	cfg := config.NewJobConfig()
	cfg.Writer.RowGroupRows = 100
	cfg.Reader.BatchSize = 16
	cfg.Job.Workers = 2
	for _, m := range mutate {
		m(cfg)
	}
	return cfg
}

// RecordFromJSON builds an arrow record from a JSON array of objects.
// The caller must release the record.
func RecordFromJSON(t *testing.T, sc *arrow.Schema, rows string) arrow.Record {
	t.Helper()
	rec, _, err := array.RecordFromJSON(memory.DefaultAllocator, sc, strings.NewReader(rows))
	require.NoError(t, err)
	return rec
}

// WriteParquet writes recs to path on fs with the arrow parquet writer
// directly, one row group per record. It builds fixtures that were not
// produced by pqshim.
func WriteParquet(t *testing.T, fs afero.Fs, path string, recs []arrow.Record, opts ...parquet.WriterProperty) {
	t.Helper()
	require.NotEmpty(t, recs)

	f, err := fs.Create(path)
	require.NoError(t, err)

	props := parquet.NewWriterProperties(opts...)
	fw, err := pqarrow.NewFileWriter(recs[0].Schema(), f, props, pqarrow.DefaultWriterProps())
	require.NoError(t, err)
	for _, rec := range recs {
		require.NoError(t, fw.Write(rec))
	}
	// closes f as well
	require.NoError(t, fw.Close())
}

// RequireNoError fails the test immediately if err is not nil.
// The msg parameter provides additional context in the failure message.
func RequireNoError(t *testing.T, err error, msg string) {
	t.Helper()
	if err != nil {
		t.Fatalf("%s: %v", msg, err)
	}
}
