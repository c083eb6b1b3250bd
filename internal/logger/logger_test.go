package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Run("should create logger with defaults", func(t *testing.T) {
		l, err := New(DefaultConfig())
		require.NoError(t, err)
		defer l.Close()

		assert.NotNil(t, l)
	})

	t.Run("should fall back to info on invalid level", func(t *testing.T) {
		l, err := New(Config{Level: "bogus", Console: true})
		require.NoError(t, err)
		defer l.Close()

		logger := l.GetZerolog()
		assert.Equal(t, "info", logger.GetLevel().String())
	})

	t.Run("should create log file and parent directory", func(t *testing.T) {
		tmpDir := t.TempDir()
		logPath := filepath.Join(tmpDir, "logs", "lariat.log")

		l, err := New(Config{Level: "debug", File: logPath})
		require.NoError(t, err)
		defer l.Close()

		logger := l.GetZerolog()
		logger.Info().Msg("written to file")

		data, err := os.ReadFile(logPath)
		require.NoError(t, err)
		assert.Contains(t, string(data), "written to file")
	})
}
