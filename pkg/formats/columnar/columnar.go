// Package columnar translates between Parquet files and pipeline rows.
//
// A Planner divides an input path into row-group aligned Splits; a Reader
// decodes one split into rows described by a schema.Description; a Writer
// encodes rows into a single Parquet file that only becomes visible at its
// destination once the Writer is closed successfully.
//
// Basic usage:
//
//	planner := columnar.NewPlanner(fs, job, nil)
//	splits, err := planner.Plan(ctx, job.Input.Dir)
//	...
//	err = columnar.WithWriter(ctx, fs, desc, columnar.OutputLocation(job), job, func(w *columnar.Writer) error {
//	    for _, split := range splits {
//	        err := columnar.WithReader(ctx, fs, split, desc, job, func(r *columnar.Reader) error {
//	            return r.ForEach(w.Write)
//	        })
//	        if err != nil {
//	            return err
//	        }
//	    }
//	    return nil
//	})
package columnar

import (
	"fmt"
	"strings"

	"github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/apache/arrow-go/v18/parquet/metadata"
	"github.com/google/uuid"

	"github.com/ajitpratap0/pqshim/pkg/config"
	"github.com/ajitpratap0/pqshim/pkg/errors"
	"github.com/ajitpratap0/pqshim/pkg/filesystem"
)

// FileExtension is the suffix of files produced by writers.
const FileExtension = ".parquet"

// Split is a contiguous byte range of one input file. It holds every row
// group whose first byte lies in [Start, Start+Length).
type Split struct {
	Path       string `json:"path"`
	Start      int64  `json:"start"`
	Length     int64  `json:"length"`
	FileLength int64  `json:"file_length"`
	// RowGroups is the number of row groups planned into the split (0 when
	// the file was not inspected)
	RowGroups int `json:"row_groups"`
}

// End returns the first offset past the split.
func (s Split) End() int64 { return s.Start + s.Length }

// Contains reports whether offset belongs to the split.
func (s Split) Contains(offset int64) bool {
	return offset >= s.Start && offset < s.End()
}

// String identifies the split in logs.
func (s Split) String() string {
	return fmt.Sprintf("%s[%d:%d]", s.Path, s.Start, s.End())
}

// WholeFile returns a split covering all of a file of the given length.
func WholeFile(path string, length int64) Split {
	return Split{Path: path, Start: 0, Length: length, FileLength: length}
}

// State is the lifecycle state of a Reader or Writer.
type State int

const (
	// StateUnopened is the state before the session acquired its file
	StateUnopened State = iota
	// StateOpen is a live session
	StateOpen
	// StateExhausted is a reader that yielded its last row
	StateExhausted
	// StateClosed is a released session
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnopened:
		return "unopened"
	case StateOpen:
		return "open"
	case StateExhausted:
		return "exhausted"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Codec returns the parquet compression codec for a writer.compression
// setting. An empty name selects snappy.
func Codec(name string) (compress.Compression, error) {
	switch strings.ToLower(name) {
	case "", "snappy":
		return compress.Codecs.Snappy, nil
	case "gzip":
		return compress.Codecs.Gzip, nil
	case "zstd":
		return compress.Codecs.Zstd, nil
	case "brotli":
		return compress.Codecs.Brotli, nil
	case "lz4":
		return compress.Codecs.Lz4Raw, nil
	case "none", "uncompressed":
		return compress.Codecs.Uncompressed, nil
	}
	return compress.Codecs.Uncompressed, errors.Newf(errors.ErrorTypeConfig, "unsupported compression %q", name).
		WithDetail("supported", config.SupportedCompressions)
}

// OutputLocation returns a fresh part file path inside the configured output
// directory: <dir>/part-<uuid>.parquet.
func OutputLocation(cfg *config.JobConfig) string {
	return filesystem.Join(cfg.Output.Dir, "part-"+uuid.NewString()+FileExtension)
}

// rowGroupStart is the offset of the first byte of a row group: the
// dictionary page of its first column chunk when that comes first, its
// first data page otherwise.
func rowGroupStart(rg *metadata.RowGroupMetaData) (int64, error) {
	if rg.NumColumns() == 0 {
		return 0, errors.New(errors.ErrorTypeRecordDecode, "row group has no column chunks")
	}
	col, err := rg.ColumnChunk(0)
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrorTypeRecordDecode, "failed to read column chunk metadata")
	}
	start := col.DataPageOffset()
	if col.HasDictionaryPage() && col.DictionaryPageOffset() > 0 && col.DictionaryPageOffset() < start {
		start = col.DictionaryPageOffset()
	}
	return start, nil
}

// rowGroupSize is the compressed byte size of a row group, summed over its
// column chunks when the footer omits the total.
func rowGroupSize(rg *metadata.RowGroupMetaData) int64 {
	if size := rg.TotalCompressedSize(); size > 0 {
		return size
	}
	var size int64
	for i := 0; i < rg.NumColumns(); i++ {
		col, err := rg.ColumnChunk(i)
		if err != nil {
			continue
		}
		size += col.TotalCompressedSize()
	}
	return size
}
