// Package pqshim translates between Parquet files and pipeline rows.
//
// A Parquet file is a set of row groups followed by a footer. pqshim plans
// row-group aligned splits over local or s3:// paths, decodes each split into
// rows of named values and writes rows back into new Parquet files that only
// become visible once they were closed successfully.
//
// # Architecture
//
// pqshim is organized around a schema description shared by readers and
// writers:
//
// 1. Schema Description: an ordered list of field mappings, each linking a
// dotted column path (address.city) to a pipeline field name and one of the
// semantic types STRING, INTEGER, FLOAT, BOOLEAN, DATE and BINARY.
//
// 2. Planner: lists the files of an input path and groups their row groups
// into splits of roughly split.block_size bytes. A small file is one split.
//
// 3. Reader: decodes the row groups whose first byte falls inside a split,
// projecting only the mapped columns and converting them into rows.
//
// 4. Writer: buffers rows into row groups and commits the file on Close. A
// failed or aborted writer leaves nothing at the destination.
//
// # Quick Start
//
// Write and read back a file:
//
//	import (
//	    "context"
//	    "github.com/ajitpratap0/pqshim/pkg/filesystem"
//	    "github.com/ajitpratap0/pqshim/pkg/formats/columnar"
//	    "github.com/ajitpratap0/pqshim/pkg/models"
//	    "github.com/ajitpratap0/pqshim/pkg/schema"
//	)
//
//	desc := schema.NewDescription().
//	    MustAddField("name", "Name", schema.TypeString).
//	    MustAddField("address.city", "City", schema.TypeString)
//
//	fs := filesystem.NewLocal()
//	err := columnar.WithWriter(ctx, fs, desc, "/tmp/people.parquet", nil, func(w *columnar.Writer) error {
//	    return w.Write(models.RowOf("Name", "Andrey", "City", "Lisbon"))
//	})
//
//	splits, _ := columnar.NewPlanner(fs, nil, nil).Plan(ctx, "/tmp/people.parquet")
//	err = columnar.WithReader(ctx, fs, splits[0], desc, nil, func(r *columnar.Reader) error {
//	    return r.ForEach(func(row *models.Row) error {
//	        fmt.Println(row)
//	        return nil
//	    })
//	})
//
// # Key Packages
//
//	pkg/formats/columnar - Planner, Reader and Writer
//	pkg/schema           - Schema descriptions, inference and schema files
//	pkg/models           - Ordered rows of named values
//	pkg/filesystem       - Local and S3 backends with atomic output
//	pkg/config           - Job configuration (viper, PQSHIM_ environment)
//	pkg/errors           - Structured error handling
//	pkg/logger           - Structured logging
//	pkg/metrics          - Prometheus metrics
//	pkg/observability    - OpenTelemetry tracing
//	internal/pipeline    - Parallel copy runner with row transforms
//
// # Configuration
//
// Jobs are configured through keys grouped in sections:
//
//	input.dir, input.suffixes     - What to read
//	output.dir                    - Where copies are written
//	schema.file                   - Optional YAML schema document
//	split.block_size              - Target split size in bytes
//	writer.row_group_rows         - Rows per row group
//	writer.row_group_bytes        - Buffered bytes per row group
//	writer.compression            - snappy, gzip, zstd, brotli, lz4, none
//	reader.batch_size             - Rows decoded per batch
//	job.workers                   - Splits read concurrently
//	s3.region, s3.endpoint        - S3 backend settings
//
// Every key can be overridden from the environment (split.block_size is read
// from PQSHIM_SPLIT_BLOCK_SIZE). YAML files support ${VAR_NAME} substitution.
//
// # Command Line
//
//	pqshim plan   s3://bucket/events/            # splits as JSON lines
//	pqshim cat    ./data --limit 10              # rows as JSON lines
//	pqshim schema ./data > schema.yaml           # inferred schema document
//	pqshim copy   ./data ./compacted --workers 8 # parallel copy
//	pqshim config -c job.yaml                    # resolved configuration
package pqshim
