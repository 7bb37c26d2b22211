// Package config provides job configuration for pqshim.
//
// Settings live in a key/value Configuration (backed by viper, with
// environment overrides prefixed PQSHIM_) and are read by components through
// the typed JobConfig view, which carries defaults and validation.
//
// Example usage:
//
//	conf := config.New()
//	conf.Set(config.KeyInputDir, "/data/in")
//	conf.Set(config.KeyBlockSize, "134217728")
//
//	job, err := conf.JobConfig()
//	if err != nil {
//	    log.Fatal(err)
//	}
package config

import (
	"fmt"
	"runtime"
	"strings"
)

// JobConfig is the typed view of a job's settings. It is organized into
// sections the same way the configuration keys are.
type JobConfig struct {
	// Input describes where rows are read from
	Input InputConfig `yaml:"input" json:"input"`

	// Output describes where rows are written to
	Output OutputConfig `yaml:"output" json:"output"`

	// Schema points at an optional YAML schema document
	Schema SchemaConfig `yaml:"schema" json:"schema"`

	// Split controls input planning
	Split SplitConfig `yaml:"split" json:"split"`

	// Writer controls row group sizing and compression
	Writer WriterConfig `yaml:"writer" json:"writer"`

	// Reader controls decoding
	Reader ReaderConfig `yaml:"reader" json:"reader"`

	// Job controls parallelism of the runner
	Job RunnerConfig `yaml:"job" json:"job"`

	// S3 configures the S3 filesystem backend
	S3 S3Config `yaml:"s3" json:"s3"`

	// Log configures the global logger
	Log LogConfig `yaml:"log" json:"log"`
}

// InputConfig contains input location settings.
type InputConfig struct {
	// Dir is a file or directory path, local or s3://bucket/prefix
	Dir string `yaml:"dir" json:"dir"`
	// Suffixes restricts planning to files ending with one of them (empty = all)
	Suffixes []string `yaml:"suffixes,omitempty" json:"suffixes,omitempty"`
}

// OutputConfig contains output location settings.
type OutputConfig struct {
	// Dir is the output directory, local or s3://bucket/prefix
	Dir string `yaml:"dir" json:"dir"`
}

// SchemaConfig points at a schema document.
type SchemaConfig struct {
	File string `yaml:"file" json:"file"`
}

// SplitConfig contains planning settings.
type SplitConfig struct {
	// BlockSize is the target byte span of a split
	BlockSize int64 `yaml:"block_size" json:"block_size"`
}

// WriterConfig contains writer settings.
type WriterConfig struct {
	// RowGroupRows flushes a row group once it holds this many rows
	RowGroupRows int64 `yaml:"row_group_rows" json:"row_group_rows"`
	// RowGroupBytes flushes a row group once its buffered size reaches this
	RowGroupBytes int64 `yaml:"row_group_bytes" json:"row_group_bytes"`
	// Compression is the codec name (snappy, gzip, zstd, brotli, lz4, none)
	Compression string `yaml:"compression" json:"compression"`
}

// ReaderConfig contains reader settings.
type ReaderConfig struct {
	// BatchSize is the number of rows decoded per batch
	BatchSize int64 `yaml:"batch_size" json:"batch_size"`
}

// RunnerConfig contains runner settings.
type RunnerConfig struct {
	// Workers is the number of splits read concurrently
	Workers int `yaml:"workers" json:"workers"`
}

// S3Config contains S3 backend settings.
type S3Config struct {
	Region   string `yaml:"region" json:"region"`
	Endpoint string `yaml:"endpoint" json:"endpoint"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level string `yaml:"level" json:"level"`
}

const (
	// DefaultBlockSize is the target split size (128 MiB)
	DefaultBlockSize int64 = 128 << 20
	// DefaultRowGroupRows is the default row count per row group
	DefaultRowGroupRows int64 = 64 * 1024
	// DefaultRowGroupBytes is the default buffered size per row group (128 MiB)
	DefaultRowGroupBytes int64 = 128 << 20
	// DefaultBatchSize is the default decode batch size
	DefaultBatchSize int64 = 1024
	// DefaultCompression is the default codec
	DefaultCompression = "snappy"
	// DefaultRegion is the default AWS region
	DefaultRegion = "us-east-1"
)

// SupportedCompressions lists the accepted writer.compression values.
var SupportedCompressions = []string{"snappy", "gzip", "zstd", "brotli", "lz4", "none"}

// NewJobConfig creates a JobConfig with defaults applied.
func NewJobConfig() *JobConfig {
	return &JobConfig{
		Split: SplitConfig{
			BlockSize: DefaultBlockSize,
		},
		Writer: WriterConfig{
			RowGroupRows:  DefaultRowGroupRows,
			RowGroupBytes: DefaultRowGroupBytes,
			Compression:   DefaultCompression,
		},
		Reader: ReaderConfig{
			BatchSize: DefaultBatchSize,
		},
		Job: RunnerConfig{
			Workers: runtime.NumCPU(),
		},
		S3: S3Config{
			Region: DefaultRegion,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Validate validates the configuration for correctness.
func (c *JobConfig) Validate() error {
	if c.Split.BlockSize <= 0 {
		return fmt.Errorf("split.block_size must be positive")
	}
	if c.Writer.RowGroupRows <= 0 {
		return fmt.Errorf("writer.row_group_rows must be positive")
	}
	if c.Writer.RowGroupBytes <= 0 {
		return fmt.Errorf("writer.row_group_bytes must be positive")
	}
	if !isSupportedCompression(c.Writer.Compression) {
		return fmt.Errorf("writer.compression %q is not one of %s",
			c.Writer.Compression, strings.Join(SupportedCompressions, ", "))
	}
	if c.Reader.BatchSize <= 0 {
		return fmt.Errorf("reader.batch_size must be positive")
	}
	if c.Job.Workers <= 0 {
		return fmt.Errorf("job.workers must be positive")
	}
	return nil
}

// GetWorkers returns the number of workers, ensuring it's at least 1
func (r *RunnerConfig) GetWorkers() int {
	if r.Workers <= 0 {
		return runtime.NumCPU()
	}
	return r.Workers
}

// HasSuffix reports whether name passes the suffix filter.
func (i *InputConfig) HasSuffix(name string) bool {
	if len(i.Suffixes) == 0 {
		return true
	}
	for _, s := range i.Suffixes {
		if strings.HasSuffix(name, s) {
			return true
		}
	}
	return false
}

func isSupportedCompression(name string) bool {
	name = strings.ToLower(name)
	for _, c := range SupportedCompressions {
		if c == name {
			return true
		}
	}
	return false
}
