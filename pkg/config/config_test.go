package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/pqshim/pkg/errors"
)

func TestJobConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *JobConfig)
		wantErr string
	}{
		{"defaults", func(c *JobConfig) {}, ""},
		{"zero block size", func(c *JobConfig) { c.Split.BlockSize = 0 }, "split.block_size"},
		{"negative row group rows", func(c *JobConfig) { c.Writer.RowGroupRows = -1 }, "writer.row_group_rows"},
		{"zero row group bytes", func(c *JobConfig) { c.Writer.RowGroupBytes = 0 }, "writer.row_group_bytes"},
		{"unknown codec", func(c *JobConfig) { c.Writer.Compression = "lzo" }, "writer.compression"},
		{"zero batch", func(c *JobConfig) { c.Reader.BatchSize = 0 }, "reader.batch_size"},
		{"zero workers", func(c *JobConfig) { c.Job.Workers = 0 }, "job.workers"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewJobConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestInputConfigHasSuffix(t *testing.T) {
	in := InputConfig{}
	assert.True(t, in.HasSuffix("anything.csv"))

	in.Suffixes = []string{".parquet"}
	assert.True(t, in.HasSuffix("part-0.parquet"))
	assert.False(t, in.HasSuffix("part-0.csv"))
}

func TestConfigurationGetSet(t *testing.T) {
	conf := New()

	_, ok := conf.Get(KeyInputDir)
	assert.False(t, ok)

	conf.Set(KeyInputDir, "/tmp/in")
	v, ok := conf.Get(KeyInputDir)
	assert.True(t, ok)
	assert.Equal(t, "/tmp/in", v)

	v, ok = conf.Get(KeyCompression)
	assert.True(t, ok)
	assert.Equal(t, "snappy", v)

	conf.Set(KeyInputSuffixes, []string{".parquet", ".pq"})
	v, ok = conf.Get(KeyInputSuffixes)
	assert.True(t, ok)
	assert.Equal(t, ".parquet,.pq", v)
}

func TestConfigurationEnvOverride(t *testing.T) {
	t.Setenv("PQSHIM_SPLIT_BLOCK_SIZE", "4096")
	t.Setenv("PQSHIM_OUTPUT_DIR", "/tmp/out")

	cfg, err := New().JobConfig()
	require.NoError(t, err)
	assert.Equal(t, int64(4096), cfg.Split.BlockSize)
	assert.Equal(t, "/tmp/out", cfg.Output.Dir)
}

func TestConfigurationJobConfigRejectsBadInteger(t *testing.T) {
	conf := New()
	conf.Set(KeyRowGroupRows, "many")

	_, err := conf.JobConfig()
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestConfigurationJobConfigRejectsInvalid(t *testing.T) {
	conf := New()
	conf.Set(KeyCompression, "lzo")

	_, err := conf.JobConfig()
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestConfigurationLoadFileWithEnvSubstitution(t *testing.T) {
	t.Setenv("PQSHIM_TEST_BUCKET", "my-bucket")

	path := filepath.Join(t.TempDir(), "job.yaml")
	doc := `
input:
  dir: s3://${PQSHIM_TEST_BUCKET}/in
  suffixes:
    - .parquet
split:
  block_size: 2048
writer:
  compression: ZSTD
  row_group_rows: 10
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	conf := New()
	require.NoError(t, conf.LoadFile(path))

	cfg, err := conf.JobConfig()
	require.NoError(t, err)
	assert.Equal(t, "s3://my-bucket/in", cfg.Input.Dir)
	assert.Equal(t, []string{".parquet"}, cfg.Input.Suffixes)
	assert.Equal(t, int64(2048), cfg.Split.BlockSize)
	assert.Equal(t, int64(10), cfg.Writer.RowGroupRows)
	assert.Equal(t, "zstd", cfg.Writer.Compression)
}

func TestConfigurationSetWinsOverFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "job.yaml")
	require.NoError(t, os.WriteFile(path, []byte("output:\n  dir: /from/file\n"), 0o600))

	conf := New()
	require.NoError(t, conf.LoadFile(path))
	conf.Set(KeyOutputDir, "/from/set")

	v, ok := conf.Get(KeyOutputDir)
	require.True(t, ok)
	assert.Equal(t, "/from/set", v)
}

func TestConfigurationLoadFileMissing(t *testing.T) {
	err := New().LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestSaveThenLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "saved.yaml")
	cfg := NewJobConfig()
	cfg.Input.Dir = "/data/in"
	cfg.Writer.RowGroupRows = 7
	require.NoError(t, Save(path, cfg))

	conf := New()
	require.NoError(t, conf.LoadFile(path))
	got, err := conf.JobConfig()
	require.NoError(t, err)
	assert.Equal(t, "/data/in", got.Input.Dir)
	assert.Equal(t, int64(7), got.Writer.RowGroupRows)
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()
	var out map[string]interface{}

	err := Load(filepath.Join(dir, "absent.yaml"), &out)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeIO), "got %v", err)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("input: [unclosed"), 0o644))
	err = Load(bad, &out)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig), "got %v", err)
	path, ok := errors.Detail(err, "path")
	require.True(t, ok)
	assert.Equal(t, bad, path)
}

func TestSaveLeavesNoTemporaryFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, Save(filepath.Join(dir, "job.yaml"), NewJobConfig()))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "job.yaml", entries[0].Name())

	err = Save(filepath.Join(dir, "missing", "job.yaml"), NewJobConfig())
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeIO), "got %v", err)
}

func TestSubstituteEnvVars(t *testing.T) {
	t.Setenv("PQSHIM_A", "alpha")
	assert.Equal(t, "x alpha y", substituteEnvVars("x ${PQSHIM_A} y"))
	assert.Equal(t, "x  y", substituteEnvVars("x ${PQSHIM_UNSET_VAR} y"))
	assert.Equal(t, "x ${open", substituteEnvVars("x ${open"))
}
