package main

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/ajitpratap0/pqshim/internal/pipeline"
	"github.com/ajitpratap0/pqshim/pkg/config"
	"github.com/ajitpratap0/pqshim/pkg/errors"
	"github.com/ajitpratap0/pqshim/pkg/filesystem"
	"github.com/ajitpratap0/pqshim/pkg/formats/columnar"
	"github.com/ajitpratap0/pqshim/pkg/logger"
	"github.com/ajitpratap0/pqshim/pkg/models"
	"github.com/ajitpratap0/pqshim/pkg/schema"
)

// errStop ends a row scan once the requested number of rows was printed.
var errStop = errors.New(errors.ErrorTypeInternal, "row limit reached")

// bind routes the named flags of cmd to configuration keys.
func (a *app) bind(cmd *cobra.Command, flags map[string]string) error {
	for name, key := range flags {
		if err := a.conf.BindFlag(key, cmd.Flags().Lookup(name)); err != nil {
			return err
		}
	}
	return nil
}

// job resolves the job configuration, with input.dir taken from the first
// argument when one was given.
func (a *app) job(args []string) (*config.JobConfig, error) {
	if len(args) > 0 {
		a.conf.Set(config.KeyInputDir, args[0])
	}
	job, err := a.conf.JobConfig()
	if err != nil {
		return nil, err
	}
	if job.Input.Dir == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "no input path: pass one or set input.dir")
	}
	return job, nil
}

// description loads schema.file, or returns nil to infer the schema from
// the data.
func description(job *config.JobConfig) (*schema.Description, error) {
	if job.Schema.File == "" {
		return nil, nil
	}
	return schema.LoadFile(job.Schema.File)
}

// printJSON writes v as one JSON line.
func (a *app) printJSON(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to encode output")
	}
	_, err = fmt.Fprintln(a.out, string(data))
	return err
}

func (a *app) plan(ctx context.Context, job *config.JobConfig) (filesystem.FileSystem, []columnar.Split, error) {
	fs, err := filesystem.ForPath(ctx, job.Input.Dir, job)
	if err != nil {
		return nil, nil, err
	}
	splits, err := columnar.NewPlanner(fs, job, logger.Get()).Plan(ctx, job.Input.Dir)
	if err != nil {
		return nil, nil, err
	}
	return fs, splits, nil
}

func (a *app) planCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan [path]",
		Short: "Print the splits of an input path as JSON lines",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.bind(cmd, map[string]string{
				"block-size": config.KeyBlockSize,
				"suffix":     config.KeyInputSuffixes,
			}); err != nil {
				return err
			}
			job, err := a.job(args)
			if err != nil {
				return err
			}
			_, splits, err := a.plan(cmd.Context(), job)
			if err != nil {
				return err
			}
			for _, s := range splits {
				if err := a.printJSON(s); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().Int64("block-size", config.DefaultBlockSize, "Target split size in bytes")
	cmd.Flags().StringSlice("suffix", nil, "Only plan files ending with one of these suffixes")
	return cmd
}

func (a *app) catCommand() *cobra.Command {
	var limit int64
	cmd := &cobra.Command{
		Use:   "cat [path]",
		Short: "Print the rows of an input path as JSON lines",
		Long: `Print the rows of an input path as JSON lines.

Rows are decoded with the schema file given by --schema (or schema.file);
without one the schema is inferred from each file.

Example:
  pqshim cat s3://bucket/events/ --schema events.yaml --limit 10`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.bind(cmd, map[string]string{
				"schema":     config.KeySchemaFile,
				"batch-size": config.KeyBatchSize,
				"suffix":     config.KeyInputSuffixes,
			}); err != nil {
				return err
			}
			job, err := a.job(args)
			if err != nil {
				return err
			}
			desc, err := description(job)
			if err != nil {
				return err
			}
			fs, splits, err := a.plan(cmd.Context(), job)
			if err != nil {
				return err
			}

			var printed int64
			for _, split := range splits {
				err := columnar.WithReader(cmd.Context(), fs, split, desc, job, func(r *columnar.Reader) error {
					return r.ForEach(func(row *models.Row) error {
						if limit > 0 && printed >= limit {
							return errStop
						}
						printed++
						return a.printJSON(row)
					})
				})
				if errors.Is(err, errStop) {
					return nil
				}
				if err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().String("schema", "", "Path to a YAML schema file")
	cmd.Flags().Int64("batch-size", config.DefaultBatchSize, "Rows decoded per batch")
	cmd.Flags().StringSlice("suffix", nil, "Only read files ending with one of these suffixes")
	cmd.Flags().Int64Var(&limit, "limit", 0, "Stop after this many rows (0 = all)")
	return cmd
}

func (a *app) schemaCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "schema [path]",
		Short: "Print the schema inferred from the first file of an input path",
		Long: `Print the schema inferred from the first file of an input path as a YAML
schema document, ready to be edited and passed back with --schema.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			job, err := a.job(args)
			if err != nil {
				return err
			}
			fs, splits, err := a.plan(cmd.Context(), job)
			if err != nil {
				return err
			}

			first := splits[0]
			r, err := columnar.OpenReader(cmd.Context(), fs, columnar.WholeFile(first.Path, first.FileLength), nil, job)
			if err != nil {
				return err
			}
			defer r.Close()

			data, err := r.Schema().Marshal()
			if err != nil {
				return err
			}
			_, err = a.out.Write(data)
			return err
		},
	}
}

func (a *app) copyCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "copy [input] [output-dir]",
		Short: "Copy the rows of an input path into one new Parquet file",
		Long: `Copy the rows of an input path into one new Parquet file.

Splits are read in parallel (job.workers) and written by a single writer into
<output-dir>/part-<uuid>.parquet. The output only appears once every row was
written; on failure nothing is left behind.

Example:
  pqshim copy s3://bucket/raw/ ./compacted --compression zstd --workers 8`,
		Args: cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.bind(cmd, map[string]string{
				"schema":         config.KeySchemaFile,
				"workers":        config.KeyWorkers,
				"compression":    config.KeyCompression,
				"row-group-rows": config.KeyRowGroupRows,
				"block-size":     config.KeyBlockSize,
				"suffix":         config.KeyInputSuffixes,
			}); err != nil {
				return err
			}
			if len(args) > 1 {
				a.conf.Set(config.KeyOutputDir, args[1])
			}
			job, err := a.job(args)
			if err != nil {
				return err
			}
			desc, err := description(job)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			in, err := filesystem.ForPath(ctx, job.Input.Dir, job)
			if err != nil {
				return err
			}
			out, err := filesystem.ForPath(ctx, job.Output.Dir, job)
			if err != nil {
				return err
			}

			log := logger.Get().With(zap.String("component", "pqshim-cli"))
			stats, err := pipeline.NewRunner(in, job, desc,
				pipeline.WithOutputFileSystem(out),
				pipeline.WithLogger(log),
			).Run(ctx)
			if err != nil {
				return err
			}
			return a.printJSON(stats)
		},
	}
	cmd.Flags().String("schema", "", "Path to a YAML schema file")
	cmd.Flags().Int("workers", 0, "Splits read concurrently")
	cmd.Flags().String("compression", config.DefaultCompression, "Output codec (snappy, gzip, zstd, brotli, lz4, none)")
	cmd.Flags().Int64("row-group-rows", config.DefaultRowGroupRows, "Rows per output row group")
	cmd.Flags().Int64("block-size", config.DefaultBlockSize, "Target split size in bytes")
	cmd.Flags().StringSlice("suffix", nil, "Only read files ending with one of these suffixes")
	return cmd
}

func (a *app) configCommand() *cobra.Command {
	var save string
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the resolved job configuration as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			job, err := a.conf.JobConfig()
			if err != nil {
				return err
			}
			if save != "" {
				return config.Save(save, job)
			}
			data, err := yaml.Marshal(job)
			if err != nil {
				return errors.Wrap(err, errors.ErrorTypeInternal, "failed to encode configuration")
			}
			_, err = a.out.Write(data)
			return err
		},
	}
	cmd.Flags().StringVar(&save, "save", "", "Write the configuration to this file instead of printing it")
	return cmd
}
