package columnar

import (
	"context"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/apache/arrow-go/v18/parquet/file"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/ajitpratap0/pqshim/pkg/config"
	"github.com/ajitpratap0/pqshim/pkg/errors"
	"github.com/ajitpratap0/pqshim/pkg/filesystem"
	"github.com/ajitpratap0/pqshim/pkg/logger"
	"github.com/ajitpratap0/pqshim/pkg/metrics"
	"github.com/ajitpratap0/pqshim/pkg/observability"
)

// Planner divides input paths into splits aligned to row group boundaries.
type Planner struct {
	fs     filesystem.FileSystem
	cfg    *config.JobConfig
	logger *zap.Logger
}

// NewPlanner creates a planner. A nil cfg uses defaults and a nil logger
// uses the global logger.
func NewPlanner(fs filesystem.FileSystem, cfg *config.JobConfig, log *zap.Logger) *Planner {
	if cfg == nil {
		cfg = config.NewJobConfig()
	}
	return &Planner{
		fs:     fs,
		cfg:    cfg,
		logger: logger.OrDefault(log).With(zap.String("component", "planner")),
	}
}

type rowGroupSpan struct {
	start int64
	size  int64
	rows  int64
}

// Plan lists the Parquet files at or below inputPath and returns their
// splits in path order, then offset order. Hidden files (any path element
// below inputPath starting with "_" or "."), files without a configured
// suffix and empty files are skipped.
func (p *Planner) Plan(ctx context.Context, inputPath string) (splits []Split, err error) {
	ctx, span := observability.StartSpan(ctx, "columnar.Plan",
		attribute.String("input.path", inputPath),
		attribute.String("filesystem", p.fs.Name()),
	)
	defer func() {
		span.SetAttributes(attribute.Int("splits", len(splits)))
		observability.EndSpan(span, err)
	}()

	exists, err := p.fs.Exists(ctx, inputPath)
	if err != nil {
		return nil, ioError(err, "failed to check input path", inputPath)
	}
	if !exists {
		return nil, errors.New(errors.ErrorTypePathNotFound, "input path does not exist").WithDetail("path", inputPath)
	}

	listed, err := p.fs.List(ctx, inputPath)
	if err != nil {
		return nil, ioError(err, "failed to list input path", inputPath)
	}

	var files []filesystem.FileInfo
	for _, f := range listed {
		if !p.accept(inputPath, f) {
			p.logger.Debug("skipping file", zap.String("path", f.Path), zap.Int64("length", f.Length))
			continue
		}
		files = append(files, f)
	}
	if len(files) == 0 {
		return nil, errors.New(errors.ErrorTypeEmptyInput, "no readable files under input path").
			WithDetail("path", inputPath).
			WithDetail("listed", len(listed))
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })

	var rowGroups, rows int64
	for _, f := range files {
		fileSplits, inspected, err := p.planFile(ctx, f)
		if err != nil {
			return nil, err
		}
		for _, s := range fileSplits {
			rowGroups += int64(s.RowGroups)
		}
		rows += inspected
		splits = append(splits, fileSplits...)
	}

	metrics.SplitsPlanned.Add(float64(len(splits)))
	p.logger.Info("planned splits",
		zap.String("input", inputPath),
		zap.Int("files", len(files)),
		zap.Int("splits", len(splits)),
		zap.Int64("row_groups", rowGroups),
		zap.Int64("rows", rows),
		zap.Int64("block_size", p.cfg.Split.BlockSize))
	return splits, nil
}

func (p *Planner) accept(inputPath string, f filesystem.FileInfo) bool {
	if f.Length == 0 {
		return false
	}
	rel := relativePath(inputPath, f.Path)
	if rel == "" {
		rel = path.Base(f.Path)
	}
	for _, elem := range strings.Split(rel, "/") {
		if strings.HasPrefix(elem, "_") || strings.HasPrefix(elem, ".") {
			return false
		}
	}
	return p.cfg.Input.HasSuffix(f.Path)
}

// relativePath returns filePath below inputPath. Local listings come back
// cleaned, so a local input is cleaned before the comparison.
func relativePath(inputPath, filePath string) string {
	if !filesystem.IsS3Path(inputPath) {
		inputPath = filepath.ToSlash(filepath.Clean(inputPath))
		filePath = filepath.ToSlash(filepath.Clean(filePath))
		if inputPath == "." {
			return filePath
		}
	}
	return strings.TrimPrefix(strings.TrimPrefix(filePath, inputPath), "/")
}

// planFile returns the splits of one file and the number of rows found in
// its footer (0 when the footer was not read).
func (p *Planner) planFile(ctx context.Context, info filesystem.FileInfo) ([]Split, int64, error) {
	blockSize := p.cfg.Split.BlockSize
	if blockSize <= 0 || info.Length < blockSize {
		return []Split{WholeFile(info.Path, info.Length)}, 0, nil
	}

	groups, err := p.readRowGroups(ctx, info.Path)
	if err != nil {
		return nil, 0, err
	}
	if len(groups) == 0 {
		return []Split{WholeFile(info.Path, info.Length)}, 0, nil
	}

	var (
		splits     []Split
		rows       int64
		splitStart int64
		count      int
	)
	for i, g := range groups {
		rows += g.rows
		count++
		if i == len(groups)-1 {
			break
		}
		if g.start+g.size-splitStart >= blockSize {
			next := groups[i+1].start
			splits = append(splits, Split{
				Path:       info.Path,
				Start:      splitStart,
				Length:     next - splitStart,
				FileLength: info.Length,
				RowGroups:  count,
			})
			splitStart = next
			count = 0
		}
	}
	splits = append(splits, Split{
		Path:       info.Path,
		Start:      splitStart,
		Length:     info.Length - splitStart,
		FileLength: info.Length,
		RowGroups:  count,
	})

	p.logger.Debug("planned file",
		zap.String("path", info.Path),
		zap.Int("row_groups", len(groups)),
		zap.Int("splits", len(splits)))
	return splits, rows, nil
}

func (p *Planner) readRowGroups(ctx context.Context, filePath string) (groups []rowGroupSpan, err error) {
	f, err := p.fs.Open(ctx, filePath)
	if err != nil {
		return nil, ioError(err, "failed to open input file", filePath)
	}
	defer f.Close()
	defer recoverDecode(&err, filePath)

	fr, err := file.NewParquetReader(f)
	if err != nil {
		return nil, decodeError(err, "failed to read parquet footer", filePath)
	}

	meta := fr.MetaData()
	groups = make([]rowGroupSpan, 0, meta.NumRowGroups())
	for i := 0; i < meta.NumRowGroups(); i++ {
		rg := meta.RowGroup(i)
		start, err := rowGroupStart(rg)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeRecordDecode, "invalid row group metadata").
				WithDetail("path", filePath).
				WithDetail("row_group", i)
		}
		groups = append(groups, rowGroupSpan{start: start, size: rowGroupSize(rg), rows: rg.NumRows()})
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].start < groups[j].start })
	return groups, nil
}

// ioError keeps an already typed filesystem error and types anything else
// as an io failure.
func ioError(err error, msg, path string) error {
	if errors.GetType(err) != "" {
		return err
	}
	return errors.Wrap(err, errors.ErrorTypeIO, msg).WithDetail("path", path)
}

// decodeError types a failure of the parquet decoder. A filesystem io
// failure anywhere in the chain keeps the io type; anything else is
// corrupt input.
func decodeError(err error, msg, path string) error {
	var cause *errors.Error
	if errors.As(err, &cause) && cause.Type == errors.ErrorTypeIO {
		return errors.Wrap(err, errors.ErrorTypeIO, msg).WithDetail("path", path)
	}
	return errors.Wrap(err, errors.ErrorTypeRecordDecode, msg).WithDetail("path", path)
}

// recoverDecode turns a panic inside the parquet decoder into a
// record_decode error.
func recoverDecode(err *error, path string) {
	if r := recover(); r != nil {
		*err = errors.Newf(errors.ErrorTypeRecordDecode, "parquet decoder panicked: %v", r).WithDetail("path", path)
	}
}
