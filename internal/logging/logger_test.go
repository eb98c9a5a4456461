package logging

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestNewDevelopmentLogger confirms the development logger builds and logs.
func TestNewDevelopmentLogger(t *testing.T) {
	t.Parallel()

	logger, err := New(Config{Development: true})
	require.NoError(t, err)
	require.NotNil(t, logger)
	defer logger.Sync() //nolint:errcheck // best-effort flush
	logger.Info("development logger ready")
}

// TestNewProductionLogger ensures the production logger configuration succeeds.
func TestNewProductionLogger(t *testing.T) {
	t.Parallel()

	logger, err := New(Config{})
	require.NoError(t, err)
	require.NotNil(t, logger)
	defer logger.Sync() //nolint:errcheck // best-effort flush
	logger.Info("production logger ready")
}

func TestNewWritesLogFile(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "LOGS")
	stamp := time.Date(2024, 5, 1, 13, 4, 5, 0, time.UTC)
	logger, err := New(Config{Dir: dir, Now: func() time.Time { return stamp }})
	require.NoError(t, err)
	logger.Info("written to file")
	_ = logger.Sync()

	data, err := os.ReadFile(filepath.Join(dir, "scout_20240501_130405.log"))
	require.NoError(t, err)
	require.Contains(t, string(data), "written to file")
}
