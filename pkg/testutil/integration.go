package testutil

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/ajitpratap0/pqshim/pkg/filesystem"
)

// IntegrationTestSuite gives every test of a suite its own scratch directory
// on the local filesystem and a context bounded by the suite deadline.
type IntegrationTestSuite struct {
	suite.Suite
	ctx     context.Context
	cancel  context.CancelFunc
	started time.Time
	fs      *filesystem.Local
	dir     string
}

func (s *IntegrationTestSuite) SetupSuite() {
	s.started = time.Now()
	s.ctx, s.cancel = context.WithTimeout(context.Background(), 5*time.Minute)
	s.fs = filesystem.NewLocal()
}

func (s *IntegrationTestSuite) TearDownSuite() {
	s.cancel()
	s.T().Logf("integration suite finished in %v", time.Since(s.started))
}

// SetupTest allocates a fresh scratch directory; testing removes it once the
// test returns.
func (s *IntegrationTestSuite) SetupTest() {
	s.dir = s.T().TempDir()
}

// Context is cancelled when the suite deadline passes or the suite ends.
func (s *IntegrationTestSuite) Context() context.Context {
	return s.ctx
}

// Path joins elems below the scratch directory of the running test.
func (s *IntegrationTestSuite) Path(elems ...string) string {
	return filepath.Join(append([]string{s.dir}, elems...)...)
}

func (s *IntegrationTestSuite) FS() *filesystem.Local {
	return s.fs
}

// CreateTempFile writes content to name below the scratch directory, creating
// parent directories, and returns the full path.
func (s *IntegrationTestSuite) CreateTempFile(name string, content []byte) string {
	path := s.Path(name)
	require.NoError(s.T(), os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(s.T(), os.WriteFile(path, content, 0o644))
	return path
}

// IntegrationTest skips t under -short.
func IntegrationTest(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
}
