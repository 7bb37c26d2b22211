package columnar

import (
	"context"
	stderrors "errors"
	"io"
	"math"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet/file"
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

// Reader decodes the rows of one split. It reads lazily, one batch at a
// time, and is not safe for concurrent use.
type Reader struct {
	split   Split
	desc    *schema.Description
	fields  []schema.FieldMapping
	logger  *zap.Logger
	timer   *metrics.Timer
	counter prometheus.Counter

	state     State
	file      filesystem.File
	parquet   *file.Reader
	records   pqarrow.RecordReader
	rowGroups []int

	record   arrow.Record
	columns  [][]arrow.Array
	row      int
	rowsRead int64
	err      error
}

// OpenReader opens split and validates desc against the file's schema:
// every mapped column must exist and be compatible with its semantic type.
// Unmapped columns are never decoded. A nil desc is inferred from the file.
// On failure every acquired resource is released.
func OpenReader(ctx context.Context, fs filesystem.FileSystem, split Split, desc *schema.Description, cfg *config.JobConfig) (r *Reader, err error) {
	ctx, span := observability.StartSpan(ctx, "columnar.OpenReader",
		attribute.String("split.path", split.Path),
		attribute.Int64("split.start", split.Start),
		attribute.Int64("split.length", split.Length),
	)
	defer func() { observability.EndSpan(span, err) }()

	if cfg == nil {
		cfg = config.NewJobConfig()
	}
	ctx = logger.WithSplit(ctx, split.String())
	r = &Reader{
		split:   split,
		logger:  logger.FromContext(ctx, nil),
		timer:   metrics.NewTimer("reader"),
		counter: metrics.RowsRead.WithLabelValues(fs.Name()),
		state:   StateUnopened,
	}

	f, err := fs.Open(ctx, split.Path)
	if err != nil {
		return nil, ioError(err, "failed to open input file", split.Path)
	}
	r.file = f

	opened := r
	defer func() {
		if err != nil {
			_ = opened.release()
			opened.state = StateClosed
			r = nil
		}
	}()
	defer recoverDecode(&err, split.Path)

	if err := r.open(ctx, desc, cfg); err != nil {
		return nil, err
	}

	r.logger.Info("opened reader",
		zap.Int("row_groups", len(r.rowGroups)),
		zap.Int("columns", len(r.fields)))
	return r, nil
}

func (r *Reader) open(ctx context.Context, desc *schema.Description, cfg *config.JobConfig) error {
	pf, err := file.NewParquetReader(r.file)
	if err != nil {
		return decodeError(err, "failed to read parquet footer", r.split.Path)
	}
	r.parquet = pf

	meta := pf.MetaData()
	if desc == nil {
		if desc, err = schema.FromColumnarSchema(meta.Schema); err != nil {
			return err
		}
	}
	desc.Freeze()
	r.desc = desc
	r.fields = desc.Fields()
	if len(r.fields) == 0 {
		return errors.New(errors.ErrorTypeValidation, "description has no fields")
	}

	leaves := make([]int, 0, len(r.fields))
	for _, m := range r.fields {
		idx := meta.Schema.ColumnIndexByName(m.ColumnPath)
		if idx < 0 {
			return errors.Newf(errors.ErrorTypeSchemaMismatch, "column %s is missing", m.ColumnPath).
				WithDetail("path", r.split.Path).
				WithDetail("column", m.ColumnPath)
		}
		col := meta.Schema.Column(idx)
		if !schema.Compatible(m, col) {
			return errors.Newf(errors.ErrorTypeSchemaMismatch, "column %s (%s) cannot be read as %s",
				m.ColumnPath, col.PhysicalType(), m.Type).
				WithDetail("path", r.split.Path).
				WithDetail("column", m.ColumnPath)
		}
		leaves = append(leaves, idx)
	}

	for i := 0; i < meta.NumRowGroups(); i++ {
		start, err := rowGroupStart(meta.RowGroup(i))
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeRecordDecode, "invalid row group metadata").
				WithDetail("path", r.split.Path).
				WithDetail("row_group", i)
		}
		if r.split.Contains(start) {
			r.rowGroups = append(r.rowGroups, i)
		}
	}

	r.state = StateOpen
	if len(r.rowGroups) == 0 {
		return r.finish()
	}

	fr, err := pqarrow.NewFileReader(pf, pqarrow.ArrowReadProperties{BatchSize: cfg.Reader.BatchSize}, memory.DefaultAllocator)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeRecordDecode, "failed to create arrow reader").WithDetail("path", r.split.Path)
	}
	rr, err := fr.GetRecordReader(ctx, leaves, r.rowGroups)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeRecordDecode, "failed to create record reader").WithDetail("path", r.split.Path)
	}
	r.records = rr
	return nil
}

// Next returns the next row, or io.EOF once the split is exhausted. After
// a decode failure every call returns that failure.
func (r *Reader) Next() (*models.Row, error) {
	switch {
	case r.state == StateClosed:
		return nil, errors.New(errors.ErrorTypeValidation, "reader is closed").WithDetail("path", r.split.Path)
	case r.state == StateUnopened:
		return nil, errors.New(errors.ErrorTypeValidation, "reader is not open").WithDetail("path", r.split.Path)
	case r.err != nil:
		return nil, r.err
	case r.state == StateExhausted:
		return nil, io.EOF
	}

	for r.record == nil || r.row >= int(r.record.NumRows()) {
		if !r.advance() {
			if r.err != nil {
				return nil, r.err
			}
			return nil, io.EOF
		}
	}

	row, err := r.decodeRow(r.row)
	if err != nil {
		r.fail(err)
		return nil, r.err
	}
	r.row++
	r.rowsRead++
	r.counter.Inc()
	return row, nil
}

// advance loads the next batch. It returns false at the end of the split
// or on failure, which is then held in r.err.
func (r *Reader) advance() (ok bool) {
	defer func() {
		if p := recover(); p != nil {
			r.fail(errors.Newf(errors.ErrorTypeRecordDecode, "parquet decoder panicked: %v", p))
			ok = false
		}
	}()

	r.record = nil
	if !r.records.Next() {
		if err := r.records.Err(); err != nil && !stderrors.Is(err, io.EOF) {
			r.fail(decodeError(err, "failed to decode row batch", r.split.Path))
			return false
		}
		if err := r.finish(); err != nil {
			r.fail(err)
		}
		return false
	}

	rec := r.records.Record()
	columns := make([][]arrow.Array, len(r.fields))
	for i, m := range r.fields {
		chain, err := resolveColumn(rec, m.Segments())
		if err != nil {
			r.fail(err)
			return false
		}
		columns[i] = chain
	}
	r.record = rec
	r.columns = columns
	r.row = 0
	r.logger.Debug("decoded batch", zap.Int64("rows", rec.NumRows()))
	return true
}

// resolveColumn returns the arrays along a column path, outermost first.
func resolveColumn(rec arrow.Record, segments []string) ([]arrow.Array, error) {
	indices := rec.Schema().FieldIndices(segments[0])
	if len(indices) == 0 {
		return nil, errors.Newf(errors.ErrorTypeRecordDecode, "decoded batch has no column %s", segments[0])
	}
	arr := rec.Column(indices[0])
	chain := []arrow.Array{arr}
	for _, seg := range segments[1:] {
		st, ok := arr.(*array.Struct)
		if !ok {
			return nil, errors.Newf(errors.ErrorTypeRecordDecode, "column %s is not a group", seg)
		}
		idx, ok := st.DataType().(*arrow.StructType).FieldIdx(seg)
		if !ok {
			return nil, errors.Newf(errors.ErrorTypeRecordDecode, "decoded group has no column %s", seg)
		}
		arr = st.Field(idx)
		chain = append(chain, arr)
	}
	return chain, nil
}

func (r *Reader) decodeRow(i int) (*models.Row, error) {
	row := models.NewRow(len(r.fields))
	row.Source = r.split.Path
	for f, m := range r.fields {
		chain := r.columns[f]
		null := false
		for _, arr := range chain {
			if arr.IsNull(i) {
				null = true
				break
			}
		}
		if null {
			if !m.Nullable {
				return nil, errors.Newf(errors.ErrorTypeRecordDecode, "null value in non-nullable column %s", m.ColumnPath).
					WithDetail("path", r.split.Path)
			}
			row.Set(m.PipelineName, nil)
			continue
		}
		v, err := decodeValue(m, chain[len(chain)-1], i)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeRecordDecode, "failed to decode column "+m.ColumnPath).
				WithDetail("path", r.split.Path)
		}
		row.Set(m.PipelineName, v)
	}
	return row, nil
}

// decodeValue converts element i of arr to the Go value of m's semantic type.
func decodeValue(m schema.FieldMapping, arr arrow.Array, i int) (interface{}, error) {
	switch m.Type {
	case schema.TypeString:
		switch a := arr.(type) {
		case *array.String:
			return a.Value(i), nil
		case *array.LargeString:
			return a.Value(i), nil
		case *array.Binary:
			return string(a.Value(i)), nil
		case *array.FixedSizeBinary:
			return string(a.Value(i)), nil
		}
	case schema.TypeBinary:
		switch a := arr.(type) {
		case *array.Binary:
			return cloneBytes(a.Value(i)), nil
		case *array.LargeBinary:
			return cloneBytes(a.Value(i)), nil
		case *array.FixedSizeBinary:
			return cloneBytes(a.Value(i)), nil
		case *array.String:
			return []byte(a.Value(i)), nil
		}
	case schema.TypeInteger:
		switch a := arr.(type) {
		case *array.Int64:
			return a.Value(i), nil
		case *array.Int32:
			return int64(a.Value(i)), nil
		case *array.Int16:
			return int64(a.Value(i)), nil
		case *array.Int8:
			return int64(a.Value(i)), nil
		case *array.Uint32:
			return int64(a.Value(i)), nil
		case *array.Uint16:
			return int64(a.Value(i)), nil
		case *array.Uint8:
			return int64(a.Value(i)), nil
		case *array.Uint64:
			v := a.Value(i)
			if v > math.MaxInt64 {
				return nil, errors.Newf(errors.ErrorTypeRecordDecode, "value %d overflows INTEGER", v)
			}
			return int64(v), nil
		}
	case schema.TypeNumber:
		switch a := arr.(type) {
		case *array.Float64:
			return a.Value(i), nil
		case *array.Float32:
			return float64(a.Value(i)), nil
		}
	case schema.TypeBoolean:
		if a, ok := arr.(*array.Boolean); ok {
			return a.Value(i), nil
		}
	case schema.TypeDate:
		switch a := arr.(type) {
		case *array.Timestamp:
			unit := a.DataType().(*arrow.TimestampType).Unit
			return a.Value(i).ToTime(unit).UTC(), nil
		case *array.Date32:
			return a.Value(i).ToTime().UTC(), nil
		case *array.Date64:
			return a.Value(i).ToTime().UTC(), nil
		}
	}
	return nil, errors.Newf(errors.ErrorTypeRecordDecode, "cannot decode %s as %s", arr.DataType(), m.Type)
}

func cloneBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// fail aborts the sequence with err and releases the file.
func (r *Reader) fail(err error) {
	if r.err == nil {
		r.err = err
		r.logger.Error("reader failed", zap.Error(err), zap.Int64("rows_read", r.rowsRead))
	}
	_ = r.release()
}

// finish moves to Exhausted and releases the file.
func (r *Reader) finish() error {
	r.state = StateExhausted
	r.logger.Debug("reader exhausted", zap.Int64("rows_read", r.rowsRead))
	return r.release()
}

func (r *Reader) release() error {
	r.record = nil
	r.columns = nil
	if r.records != nil {
		r.records.Release()
		r.records = nil
	}

	var err error
	switch {
	case r.parquet != nil:
		// closes the underlying file as well
		err = r.parquet.Close()
	case r.file != nil:
		err = r.file.Close()
	}
	r.parquet = nil
	r.file = nil
	if err != nil {
		return ioError(err, "failed to close input file", r.split.Path)
	}
	return nil
}

// Close releases the reader. It is valid in every state and idempotent.
func (r *Reader) Close() error {
	if r.state == StateClosed {
		return nil
	}
	err := r.release()
	r.state = StateClosed

	r.timer.Observe(r.err)
	r.logger.Info("closed reader", zap.Int64("rows_read", r.rowsRead))
	return err
}

// ForEach calls fn for every remaining row and closes the reader, whatever
// the outcome. It returns the first error from decoding, fn or Close.
func (r *Reader) ForEach(fn func(*models.Row) error) (err error) {
	defer func() {
		if cerr := r.Close(); err == nil {
			err = cerr
		}
	}()

	for {
		row, err := r.Next()
		if stderrors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(row); err != nil {
			return err
		}
	}
}

// Schema returns the description rows are decoded with.
func (r *Reader) Schema() *schema.Description { return r.desc }

// Split returns the split being read.
func (r *Reader) Split() Split { return r.split }

// State returns the lifecycle state.
func (r *Reader) State() State { return r.state }

// RowsRead returns the number of rows yielded so far.
func (r *Reader) RowsRead() int64 { return r.rowsRead }

// WithReader opens a reader for split, runs fn and closes the reader on
// every exit path.
func WithReader(ctx context.Context, fs filesystem.FileSystem, split Split, desc *schema.Description, cfg *config.JobConfig, fn func(*Reader) error) (err error) {
	r, err := OpenReader(ctx, fs, split, desc, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := r.Close(); err == nil {
			err = cerr
		}
	}()
	return fn(r)
}
