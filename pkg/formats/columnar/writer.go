package columnar

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/ajitpratap0/pqshim/pkg/config"
	"github.com/ajitpratap0/pqshim/pkg/errors"
	"github.com/ajitpratap0/pqshim/pkg/filesystem"
	"github.com/ajitpratap0/pqshim/pkg/logger"
	"github.com/ajitpratap0/pqshim/pkg/metrics"
	"github.com/ajitpratap0/pqshim/pkg/models"
	"github.com/ajitpratap0/pqshim/pkg/observability"
	"github.com/ajitpratap0/pqshim/pkg/schema"
)

// createdBy is recorded in the footer of every file written.
const createdBy = "pqshim"

// countingWriter counts bytes handed to the output and remembers the first
// write failure, which the parquet footer writer would otherwise drop.
type countingWriter struct {
	w   io.Writer
	n   int64
	err error
}

func (c *countingWriter) Write(p []byte) (int, error) {
	if c.err != nil {
		return 0, c.err
	}
	n, err := c.w.Write(p)
	c.n += int64(n)
	if err != nil {
		c.err = err
	}
	return n, err
}

// Writer encodes rows into one Parquet file. Rows are buffered in an arrow
// record builder and flushed as a row group once the buffer holds
// writer.row_group_rows rows or about writer.row_group_bytes bytes. The
// output only appears at its location after a successful Close. A Writer is
// not safe for concurrent use.
type Writer struct {
	location string
	desc     *schema.Description
	fields   []schema.FieldMapping
	byName   map[string]int
	logger   *zap.Logger
	backend  string
	timer    *metrics.Timer
	counter  prometheus.Counter

	state   State
	out     filesystem.OutputFile
	sink    *countingWriter
	fw      *pqarrow.FileWriter
	builder *array.RecordBuilder
	structs []*array.StructBuilder
	leaves  []array.Builder

	rowGroupRows  int64
	rowGroupBytes int64
	buffered      int64
	bufferedBytes int64
	rowsWritten   int64
	rowGroups     int
	err           error
}

// OpenWriter creates an uncommitted output at location and writes the
// Parquet header for desc's columnar schema.
func OpenWriter(ctx context.Context, fs filesystem.FileSystem, desc *schema.Description, location string, cfg *config.JobConfig) (w *Writer, err error) {
	ctx, span := observability.StartSpan(ctx, "columnar.OpenWriter",
		attribute.String("output.path", location),
		attribute.String("filesystem", fs.Name()),
	)
	defer func() { observability.EndSpan(span, err) }()

	if desc == nil {
		return nil, errors.New(errors.ErrorTypeValidation, "writer requires a schema description")
	}
	if cfg == nil {
		cfg = config.NewJobConfig()
	}
	codec, err := Codec(cfg.Writer.Compression)
	if err != nil {
		return nil, err
	}
	arrowSchema, err := desc.ToArrowSchema()
	if err != nil {
		return nil, err
	}

	fields := desc.Fields()
	w = &Writer{
		location: location,
		desc:     desc,
		fields:   fields,
		byName:   make(map[string]int, len(fields)),
		logger:   logger.FromContext(ctx, nil).With(zap.String("output", location)),
		backend:  fs.Name(),
		timer:    metrics.NewTimer("writer"),
		counter:  metrics.RowsWritten.WithLabelValues(fs.Name()),
		state:    StateUnopened,
	}
	for i, m := range fields {
		w.byName[m.PipelineName] = i
	}

	out, err := fs.Create(ctx, location)
	if err != nil {
		return nil, ioError(err, "failed to create output", location)
	}
	w.out = out
	w.sink = &countingWriter{w: out}

	defer func() {
		if err != nil {
			_ = out.Abort()
			w = nil
		}
	}()

	rowGroupRows := cfg.Writer.RowGroupRows
	if rowGroupRows <= 0 {
		rowGroupRows = config.DefaultRowGroupRows
	}
	props := parquet.NewWriterProperties(
		parquet.WithCompression(codec),
		parquet.WithCreatedBy(createdBy),
		parquet.WithMaxRowGroupLength(rowGroupRows),
		parquet.WithAllocator(memory.DefaultAllocator),
	)
	arrowProps := pqarrow.NewArrowWriterProperties(pqarrow.WithAllocator(memory.DefaultAllocator))

	if err := guardWrite(func() error {
		fw, err := pqarrow.NewFileWriter(arrowSchema, w.sink, props, arrowProps)
		if err != nil {
			return err
		}
		w.fw = fw
		return nil
	}); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeIO, "failed to write parquet header").WithDetail("path", location)
	}
	if w.sink.err != nil {
		return nil, errors.Wrap(w.sink.err, errors.ErrorTypeIO, "failed to write parquet header").WithDetail("path", location)
	}

	w.rowGroupRows = rowGroupRows
	w.rowGroupBytes = cfg.Writer.RowGroupBytes
	w.builder = array.NewRecordBuilder(memory.DefaultAllocator, arrowSchema)
	w.bindBuilders(arrowSchema)
	w.state = StateOpen

	w.logger.Info("opened writer",
		zap.Int("columns", len(fields)),
		zap.String("compression", codec.String()),
		zap.Int64("row_group_rows", rowGroupRows))
	return w, nil
}

// bindBuilders finds the builder of every mapped leaf and every group.
func (w *Writer) bindBuilders(sc *arrow.Schema) {
	byPath := make(map[string]array.Builder, len(w.fields))
	var walk func(b array.Builder, f arrow.Field, path string)
	walk = func(b array.Builder, f arrow.Field, path string) {
		st, ok := f.Type.(*arrow.StructType)
		if !ok {
			byPath[path] = b
			return
		}
		sb := b.(*array.StructBuilder)
		w.structs = append(w.structs, sb)
		for i, child := range st.Fields() {
			walk(sb.FieldBuilder(i), child, path+"."+child.Name)
		}
	}
	for i, f := range sc.Fields() {
		walk(w.builder.Field(i), f, f.Name)
	}

	w.leaves = make([]array.Builder, len(w.fields))
	for i, m := range w.fields {
		w.leaves[i] = byPath[m.ColumnPath]
	}
}

// Write buffers one row. Every field of row must be mapped and every value
// must fit its semantic type; a missing field or nil value is written as
// null. A rejected row leaves the buffer untouched. After an I/O failure
// every call returns that failure.
func (w *Writer) Write(row *models.Row) error {
	switch {
	case w.state == StateClosed:
		return errors.New(errors.ErrorTypeValidation, "writer is closed").WithDetail("path", w.location)
	case w.err != nil:
		return w.err
	}

	values, size, err := w.validate(row)
	if err != nil {
		return err
	}

	for _, sb := range w.structs {
		sb.Append(true)
	}
	for i, v := range values {
		appendValue(w.leaves[i], v)
	}
	w.buffered++
	w.bufferedBytes += size
	w.rowsWritten++
	w.counter.Inc()

	if w.buffered >= w.rowGroupRows || (w.rowGroupBytes > 0 && w.bufferedBytes >= w.rowGroupBytes) {
		return w.flush()
	}
	return nil
}

// validate coerces every value of row, in mapping order, and returns an
// estimate of the row's encoded size.
func (w *Writer) validate(row *models.Row) ([]interface{}, int64, error) {
	if row == nil {
		return nil, 0, errors.New(errors.ErrorTypeValidation, "row is nil")
	}
	values := make([]interface{}, len(w.fields))
	seen := make([]bool, len(w.fields))
	var size int64

	names, raw := row.Names(), row.Values()
	for j, name := range names {
		i, ok := w.byName[name]
		if !ok {
			return nil, 0, errors.Newf(errors.ErrorTypeFieldNotMapped, "field %s is not mapped", name).
				WithDetail("field", name)
		}
		seen[i] = true
		if raw[j] == nil {
			continue
		}
		v, err := w.fields[i].Type.Coerce(raw[j])
		if err != nil {
			return nil, 0, errors.Newf(errors.ErrorTypeValueType, "field %s: %s", name, errorMessage(err)).
				WithDetail("field", name).
				WithDetail("type", w.fields[i].Type.String())
		}
		values[i] = v
		size += valueSize(v)
	}

	for i, m := range w.fields {
		if values[i] == nil && !m.Nullable {
			reason := "is null"
			if !seen[i] {
				reason = "is missing"
			}
			return nil, 0, errors.Newf(errors.ErrorTypeValueType, "non-nullable field %s %s", m.PipelineName, reason).
				WithDetail("field", m.PipelineName)
		}
	}
	return values, size, nil
}

func errorMessage(err error) string {
	var e *errors.Error
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}

func valueSize(v interface{}) int64 {
	switch val := v.(type) {
	case string:
		return int64(len(val)) + 4
	case []byte:
		return int64(len(val)) + 4
	case bool:
		return 1
	default:
		return 8
	}
}

// appendValue appends a coerced value, or null for nil.
func appendValue(b array.Builder, v interface{}) {
	if v == nil {
		b.AppendNull()
		return
	}
	switch bb := b.(type) {
	case *array.StringBuilder:
		bb.Append(v.(string))
	case *array.Int64Builder:
		bb.Append(v.(int64))
	case *array.Float64Builder:
		bb.Append(v.(float64))
	case *array.BooleanBuilder:
		bb.Append(v.(bool))
	case *array.TimestampBuilder:
		bb.Append(arrow.Timestamp(v.(time.Time).UnixMilli()))
	case *array.BinaryBuilder:
		bb.Append(v.([]byte))
	default:
		panic(fmt.Sprintf("columnar: no append for builder %T", b))
	}
}

// flush writes the buffered rows as one row group.
func (w *Writer) flush() error {
	if w.buffered == 0 {
		return nil
	}
	rec := w.builder.NewRecord()
	defer rec.Release()

	rows := w.buffered
	w.buffered = 0
	w.bufferedBytes = 0

	err := guardWrite(func() error { return w.fw.Write(rec) })
	if err == nil {
		err = w.sink.err
	}
	if err != nil {
		w.err = errors.Wrap(err, errors.ErrorTypeIO, "failed to write row group").WithDetail("path", w.location)
		w.logger.Error("writer failed", zap.Error(err))
		return w.err
	}

	w.rowGroups++
	metrics.RowGroupsFlushed.Inc()
	w.logger.Debug("flushed row group",
		zap.Int64("rows", rows),
		zap.Int("row_group", w.rowGroups),
		zap.Int64("bytes_written", w.sink.n))
	return nil
}

// guardWrite runs fn, turning a panic from the parquet encoder into an
// error. The encoder panics on some sink failures.
func guardWrite(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(error); ok {
				err = e
				return
			}
			err = fmt.Errorf("parquet encoder panicked: %v", r)
		}
	}()
	return fn()
}

// Close flushes the last row group, writes the footer and commits the
// output. When the session has failed, Close aborts the output instead and
// returns the failure. Close is idempotent.
func (w *Writer) Close() (err error) {
	if w.state == StateClosed {
		return w.err
	}
	_, span := observability.StartSpan(context.Background(), "columnar.Writer.Close",
		attribute.String("output.path", w.location),
	)
	defer func() {
		span.SetAttributes(
			attribute.Int64("rows", w.rowsWritten),
			attribute.Int("row_groups", w.rowGroups),
			attribute.Int64("bytes", w.sink.n),
		)
		observability.EndSpan(span, err)
	}()
	defer func() { w.timer.Observe(err) }()

	if w.err == nil {
		w.err = w.finish()
	}
	if w.err != nil {
		w.discard()
		w.logger.Warn("aborted output", zap.Error(w.err))
		return w.err
	}

	w.release()
	metrics.BytesWritten.WithLabelValues(w.backend).Add(float64(w.sink.n))
	w.logger.Info("closed writer",
		zap.Int64("rows", w.rowsWritten),
		zap.Int("row_groups", w.rowGroups),
		zap.Int64("bytes", w.sink.n))
	return nil
}

func (w *Writer) finish() error {
	if err := w.flush(); err != nil {
		return err
	}
	err := guardWrite(w.fw.Close)
	if err == nil {
		err = w.sink.err
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeIO, "failed to write parquet footer").WithDetail("path", w.location)
	}
	if err := w.out.Commit(); err != nil {
		return ioError(err, "failed to commit output", w.location)
	}
	return nil
}

// Abort discards the output. Rows written so far are lost; later calls to
// Write fail. Abort after a successful Close is a no-op.
func (w *Writer) Abort() error {
	if w.state == StateClosed {
		return nil
	}
	err := w.discard()
	w.timer.Observe(errors.New(errors.ErrorTypeValidation, "writer aborted"))
	w.logger.Info("aborted writer", zap.Int64("rows_discarded", w.rowsWritten))
	return err
}

// discard abandons the encoder without writing a footer and aborts the
// output.
func (w *Writer) discard() error {
	err := w.out.Abort()
	w.release()
	if err != nil {
		return ioError(err, "failed to abort output", w.location)
	}
	return nil
}

func (w *Writer) release() {
	if w.builder != nil {
		w.builder.Release()
		w.builder = nil
	}
	w.state = StateClosed
}

// RowsWritten returns the number of rows accepted by Write.
func (w *Writer) RowsWritten() int64 { return w.rowsWritten }

// BytesWritten returns the number of encoded bytes handed to the output.
func (w *Writer) BytesWritten() int64 { return w.sink.n }

// RowGroups returns the number of row groups flushed.
func (w *Writer) RowGroups() int { return w.rowGroups }

// Location returns the output path.
func (w *Writer) Location() string { return w.location }

// State returns the lifecycle state.
func (w *Writer) State() State { return w.state }

// Schema returns the description rows are encoded with.
func (w *Writer) Schema() *schema.Description { return w.desc }

// WithWriter opens a writer, runs fn and closes the writer. If fn fails or
// panics the output is aborted; a panic is re-raised after the abort.
func WithWriter(ctx context.Context, fs filesystem.FileSystem, desc *schema.Description, location string, cfg *config.JobConfig, fn func(*Writer) error) (err error) {
	w, err := OpenWriter(ctx, fs, desc, location, cfg)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			_ = w.Abort()
			panic(p)
		}
	}()

	if err := fn(w); err != nil {
		_ = w.Abort()
		return err
	}
	return w.Close()
}
