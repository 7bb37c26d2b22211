package config

import (
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ajitpratap0/pqshim/pkg/errors"
)

// Load reads the YAML document at filePath into out. ${VAR} references are
// replaced with environment values before parsing.
func Load(filePath string, out interface{}) error {
	data, err := os.ReadFile(filePath) //nolint:gosec // G304: File path is controlled by caller
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeIO, "failed to read file").WithDetail("path", filePath)
	}
	if err := yaml.Unmarshal([]byte(substituteEnvVars(string(data))), out); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "failed to parse YAML").WithDetail("path", filePath)
	}
	return nil
}

// Save writes cfg as YAML. The file is written next to filePath first and
// renamed into place, so a reader never sees half a document.
func Save(filePath string, cfg *JobConfig) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to marshal configuration")
	}

	tmp := filePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil { //nolint:gosec
		return errors.Wrap(err, errors.ErrorTypeIO, "failed to write file").WithDetail("path", tmp)
	}
	if err := os.Rename(tmp, filePath); err != nil {
		_ = os.Remove(tmp)
		return errors.Wrap(err, errors.ErrorTypeIO, "failed to replace file").WithDetail("path", filePath)
	}
	return nil
}

// substituteEnvVars replaces ${VAR_NAME} with environment variable values.
// An unterminated reference is left as is.
func substituteEnvVars(content string) string {
	var b strings.Builder
	for {
		start := strings.Index(content, "${")
		if start == -1 {
			break
		}
		end := strings.Index(content[start:], "}")
		if end == -1 {
			break
		}
		end += start

		b.WriteString(content[:start])
		b.WriteString(os.Getenv(content[start+2 : end]))
		content = content[end+1:]
	}
	b.WriteString(content)
	return b.String()
}
