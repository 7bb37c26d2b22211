package config

import (
	"strings"

	"github.com/spf13/cast"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/ajitpratap0/pqshim/pkg/errors"
)

// Configuration keys understood by JobConfig.
const (
	KeyInputDir      = "input.dir"
	KeyInputSuffixes = "input.suffixes"
	KeyOutputDir     = "output.dir"
	KeySchemaFile    = "schema.file"
	KeyBlockSize     = "split.block_size"
	KeyRowGroupRows  = "writer.row_group_rows"
	KeyRowGroupBytes = "writer.row_group_bytes"
	KeyCompression   = "writer.compression"
	KeyBatchSize     = "reader.batch_size"
	KeyWorkers       = "job.workers"
	KeyS3Region      = "s3.region"
	KeyS3Endpoint    = "s3.endpoint"
	KeyLogLevel      = "log.level"
)

// EnvPrefix prefixes environment overrides: split.block_size is read from
// PQSHIM_SPLIT_BLOCK_SIZE.
const EnvPrefix = "PQSHIM"

// Configuration is the key/value store a job is described by. Values set
// explicitly win over environment variables, which win over loaded files,
// which win over defaults.
type Configuration struct {
	v *viper.Viper
}

// New creates a Configuration populated with defaults and bound to the
// environment.
func New() *Configuration {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	d := NewJobConfig()
	v.SetDefault(KeyBlockSize, d.Split.BlockSize)
	v.SetDefault(KeyRowGroupRows, d.Writer.RowGroupRows)
	v.SetDefault(KeyRowGroupBytes, d.Writer.RowGroupBytes)
	v.SetDefault(KeyCompression, d.Writer.Compression)
	v.SetDefault(KeyBatchSize, d.Reader.BatchSize)
	v.SetDefault(KeyWorkers, d.Job.Workers)
	v.SetDefault(KeyS3Region, d.S3.Region)
	v.SetDefault(KeyLogLevel, d.Log.Level)

	return &Configuration{v: v}
}

// Get returns the value of key rendered as a string and whether it is set
// (explicitly, by environment, by file or by default). List values are
// joined with commas.
func (c *Configuration) Get(key string) (string, bool) {
	if !c.v.IsSet(key) {
		return "", false
	}
	switch val := c.v.Get(key).(type) {
	case []string:
		return strings.Join(val, ","), true
	case []interface{}:
		return strings.Join(cast.ToStringSlice(val), ","), true
	default:
		return cast.ToString(val), true
	}
}

// Set stores a value for key, overriding every other source.
func (c *Configuration) Set(key string, value interface{}) {
	c.v.Set(key, value)
}

// BindFlag makes flag the source of key whenever the flag was changed on
// the command line.
func (c *Configuration) BindFlag(key string, flag *pflag.Flag) error {
	if err := c.v.BindPFlag(key, flag); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "failed to bind flag").
			WithDetail("key", key)
	}
	return nil
}

// LoadFile merges a YAML document into the configuration. ${VAR} references
// in the file are substituted from the environment first.
func (c *Configuration) LoadFile(path string) error {
	settings := map[string]interface{}{}
	if err := Load(path, &settings); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "failed to load configuration file").
			WithDetail("path", path)
	}
	if err := c.v.MergeConfigMap(settings); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "failed to merge configuration file").
			WithDetail("path", path)
	}
	return nil
}

// JobConfig resolves the typed view of the configuration and validates it.
func (c *Configuration) JobConfig() (*JobConfig, error) {
	cfg := NewJobConfig()

	cfg.Input.Dir = c.v.GetString(KeyInputDir)
	cfg.Input.Suffixes = splitList(c.v.Get(KeyInputSuffixes))
	cfg.Output.Dir = c.v.GetString(KeyOutputDir)
	cfg.Schema.File = c.v.GetString(KeySchemaFile)
	cfg.Writer.Compression = strings.ToLower(c.v.GetString(KeyCompression))
	cfg.S3.Region = c.v.GetString(KeyS3Region)
	cfg.S3.Endpoint = c.v.GetString(KeyS3Endpoint)
	cfg.Log.Level = c.v.GetString(KeyLogLevel)

	ints := []struct {
		key string
		dst *int64
	}{
		{KeyBlockSize, &cfg.Split.BlockSize},
		{KeyRowGroupRows, &cfg.Writer.RowGroupRows},
		{KeyRowGroupBytes, &cfg.Writer.RowGroupBytes},
		{KeyBatchSize, &cfg.Reader.BatchSize},
	}
	for _, i := range ints {
		n, err := cast.ToInt64E(c.v.Get(i.key))
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid integer setting").
				WithDetail("key", i.key)
		}
		*i.dst = n
	}

	workers, err := cast.ToIntE(c.v.Get(KeyWorkers))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid integer setting").
			WithDetail("key", KeyWorkers)
	}
	cfg.Job.Workers = workers

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid job configuration")
	}
	return cfg, nil
}

// AllSettings returns every resolved setting as a nested map.
func (c *Configuration) AllSettings() map[string]interface{} {
	return c.v.AllSettings()
}

func splitList(raw interface{}) []string {
	var items []string
	switch val := raw.(type) {
	case nil:
		return nil
	case string:
		items = strings.Split(val, ",")
	default:
		items = cast.ToStringSlice(val)
	}

	out := make([]string, 0, len(items))
	for _, s := range items {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
