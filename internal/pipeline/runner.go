// Package pipeline runs pqshim copy jobs: every split of an input path is
// read in parallel and the rows are funneled into one Parquet writer.
//
// # Architecture
//
// A run consists of:
//   - Planner: divides the input into row-group aligned splits
//   - Readers: at most job.workers splits are decoded concurrently
//   - Transforms: optional row modifications, applied in order
//   - Writer: a single goroutine encoding rows into one output file
//
// # Basic Usage
//
//	runner := pipeline.NewRunner(fs, job, desc,
//	    pipeline.WithTransform(pipeline.FieldMapperTransform(mapping)),
//	)
//	stats, err := runner.Run(ctx)
//
// With more than one worker rows of different splits interleave; rows of one
// split keep their file order. The output is committed only when every split
// was read and written without error.
package pipeline

import (
	"context"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ajitpratap0/pqshim/pkg/config"
	"github.com/ajitpratap0/pqshim/pkg/errors"
	"github.com/ajitpratap0/pqshim/pkg/filesystem"
	"github.com/ajitpratap0/pqshim/pkg/formats/columnar"
	"github.com/ajitpratap0/pqshim/pkg/logger"
	"github.com/ajitpratap0/pqshim/pkg/models"
	"github.com/ajitpratap0/pqshim/pkg/observability"
	"github.com/ajitpratap0/pqshim/pkg/schema"
)

// Stats summarizes a finished run.
type Stats struct {
	Input        string        `json:"input"`
	Output       string        `json:"output"`
	Splits       int           `json:"splits"`
	RowsRead     int64         `json:"rows_read"`
	RowsWritten  int64         `json:"rows_written"`
	RowsDropped  int64         `json:"rows_dropped"`
	RowGroups    int           `json:"row_groups"`
	BytesWritten int64         `json:"bytes_written"`
	Duration     time.Duration `json:"duration"`
}

// Runner copies the rows of an input path into one output file.
type Runner struct {
	in         filesystem.FileSystem
	out        filesystem.FileSystem
	cfg        *config.JobConfig
	readDesc   *schema.Description
	writeDesc  *schema.Description
	transforms []Transform
	logger     *zap.Logger

	rowsRead    int64
	rowsDropped int64
}

// RunnerOption customizes a Runner.
type RunnerOption func(*Runner)

// WithOutputFileSystem writes the output through fs instead of the input
// filesystem.
func WithOutputFileSystem(fs filesystem.FileSystem) RunnerOption {
	return func(r *Runner) { r.out = fs }
}

// WithWriteSchema encodes rows with desc instead of the read description.
// Transforms are expected to turn read rows into rows desc accepts.
func WithWriteSchema(desc *schema.Description) RunnerOption {
	return func(r *Runner) { r.writeDesc = desc }
}

// WithTransform appends a transform.
func WithTransform(t Transform) RunnerOption {
	return func(r *Runner) { r.transforms = append(r.transforms, t) }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) RunnerOption {
	return func(r *Runner) { r.logger = l }
}

// NewRunner creates a runner for the job cfg. A nil desc is inferred from
// the first split of the input.
func NewRunner(fs filesystem.FileSystem, cfg *config.JobConfig, desc *schema.Description, opts ...RunnerOption) *Runner {
	if cfg == nil {
		cfg = config.NewJobConfig()
	}
	r := &Runner{
		in:       fs,
		out:      fs,
		cfg:      cfg,
		readDesc: desc,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = logger.OrDefault(r.logger).With(zap.String("component", "runner"))
	return r
}

// Run plans cfg.Input.Dir, reads every split and writes the rows to a new
// part file in cfg.Output.Dir. The first failure cancels the remaining
// readers and aborts the output.
func (r *Runner) Run(ctx context.Context) (stats *Stats, err error) {
	ctx, span := observability.StartSpan(ctx, "pipeline.Run",
		attribute.String("input.path", r.cfg.Input.Dir),
		attribute.String("output.dir", r.cfg.Output.Dir),
	)
	defer func() { observability.EndSpan(span, err) }()

	if r.cfg.Input.Dir == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "input.dir is not set")
	}
	if r.cfg.Output.Dir == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "output.dir is not set")
	}

	start := time.Now()
	atomic.StoreInt64(&r.rowsRead, 0)
	atomic.StoreInt64(&r.rowsDropped, 0)

	splits, err := columnar.NewPlanner(r.in, r.cfg, r.logger).Plan(ctx, r.cfg.Input.Dir)
	if err != nil {
		return nil, err
	}

	readDesc := r.readDesc
	if readDesc == nil {
		if readDesc, err = r.inferDescription(ctx, splits[0]); err != nil {
			return nil, err
		}
	}
	writeDesc := r.writeDesc
	if writeDesc == nil {
		writeDesc = readDesc
	}

	location := columnar.OutputLocation(r.cfg)
	r.logger.Info("starting run",
		zap.String("input", r.cfg.Input.Dir),
		zap.String("output", location),
		zap.Int("splits", len(splits)),
		zap.Int("workers", r.cfg.Job.GetWorkers()))

	var w *columnar.Writer
	err = columnar.WithWriter(ctx, r.out, writeDesc, location, r.cfg, func(writer *columnar.Writer) error {
		w = writer
		return r.copy(ctx, splits, readDesc, writer)
	})
	if err != nil {
		r.logger.Error("run failed", zap.Error(err), zap.Int64("rows_read", atomic.LoadInt64(&r.rowsRead)))
		return nil, err
	}

	stats = &Stats{
		Input:        r.cfg.Input.Dir,
		Output:       location,
		Splits:       len(splits),
		RowsRead:     atomic.LoadInt64(&r.rowsRead),
		RowsWritten:  w.RowsWritten(),
		RowsDropped:  atomic.LoadInt64(&r.rowsDropped),
		RowGroups:    w.RowGroups(),
		BytesWritten: w.BytesWritten(),
		Duration:     time.Since(start),
	}
	span.SetAttributes(attribute.Int64("rows", stats.RowsWritten))

	throughput := float64(stats.RowsWritten) / stats.Duration.Seconds()
	r.logger.Info("run completed",
		zap.String("output", location),
		zap.Int64("rows_read", stats.RowsRead),
		zap.Int64("rows_written", stats.RowsWritten),
		zap.Int64("rows_dropped", stats.RowsDropped),
		zap.Int64("bytes_written", stats.BytesWritten),
		zap.Duration("duration", stats.Duration),
		zap.Float64("throughput_rps", throughput))
	return stats, nil
}

// inferDescription reads the footer of split's file and returns the
// description inferred from it.
func (r *Runner) inferDescription(ctx context.Context, split columnar.Split) (*schema.Description, error) {
	reader, err := columnar.OpenReader(ctx, r.in, split, nil, r.cfg)
	if err != nil {
		return nil, err
	}
	desc := reader.Schema()
	if err := reader.Close(); err != nil {
		return nil, err
	}
	r.logger.Debug("inferred schema", zap.String("path", split.Path), zap.Int("fields", desc.Len()))
	return desc, nil
}

// copy runs the readers and the writer loop until every split is drained or
// one of them fails.
func (r *Runner) copy(ctx context.Context, splits []columnar.Split, desc *schema.Description, w *columnar.Writer) error {
	buffer := int(r.cfg.Reader.BatchSize)
	if buffer <= 0 {
		buffer = int(config.DefaultBatchSize)
	}
	rows := make(chan *models.Row, buffer)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(rows)
		return r.readAll(gctx, splits, desc, rows)
	})
	g.Go(func() error {
		return r.writeAll(gctx, w, rows)
	})
	return g.Wait()
}

// readAll reads splits on at most job.workers goroutines.
func (r *Runner) readAll(ctx context.Context, splits []columnar.Split, desc *schema.Description, rows chan<- *models.Row) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Job.GetWorkers())

	for _, split := range splits {
		if gctx.Err() != nil {
			break
		}
		split := split
		g.Go(func() error {
			return r.readSplit(gctx, split, desc, rows)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

func (r *Runner) readSplit(ctx context.Context, split columnar.Split, desc *schema.Description, rows chan<- *models.Row) error {
	ctx = logger.WithSplit(ctx, split.String())
	return columnar.WithReader(ctx, r.in, split, desc, r.cfg, func(reader *columnar.Reader) error {
		return reader.ForEach(func(row *models.Row) error {
			atomic.AddInt64(&r.rowsRead, 1)
			select {
			case rows <- row:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	})
}

// writeAll is the only goroutine touching w.
func (r *Runner) writeAll(ctx context.Context, w *columnar.Writer, rows <-chan *models.Row) error {
	transform := chain(r.transforms)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case row, ok := <-rows:
			if !ok {
				return nil
			}
			out, err := transform(ctx, row)
			if err != nil {
				return err
			}
			if out == nil {
				atomic.AddInt64(&r.rowsDropped, 1)
				continue
			}
			if err := w.Write(out); err != nil {
				return err
			}
		}
	}
}
