package tool

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupBuiltins(t *testing.T) (*Registry, string) {
	t.Helper()

	workspace := t.TempDir()
	registry := NewRegistry(zerolog.Nop())
	require.NoError(t, RegisterBuiltins(registry, BuiltinOptions{WorkspaceRoot: workspace}))

	return registry, workspace
}

func TestRegisterBuiltins(t *testing.T) {
	t.Run("should register the baseline tool set", func(t *testing.T) {
		registry, _ := setupBuiltins(t)

		for _, name := range []string{"current_time", "read_file", "write_file", "edit_file"} {
			assert.NotNil(t, registry.Get(name), "missing tool %s", name)
		}
	})

	t.Run("should require a registry", func(t *testing.T) {
		assert.Error(t, RegisterBuiltins(nil, BuiltinOptions{}))
	})
}

func TestCurrentTimeTool(t *testing.T) {
	ctx := context.Background()

	t.Run("should default to UTC", func(t *testing.T) {
		registry, _ := setupBuiltins(t)

		result, err := registry.Execute(ctx, "current_time", nil, nil)
		require.NoError(t, err)

		output := result.Output.(map[string]interface{})
		assert.Equal(t, "UTC", output["timezone"])
	})

	t.Run("should reject an unknown timezone", func(t *testing.T) {
		registry, _ := setupBuiltins(t)

		_, err := registry.Execute(ctx, "current_time", map[string]interface{}{
			"timezone": "Nowhere/Atlantis",
		}, nil)
		assert.Error(t, err)
	})
}

func TestFileTools(t *testing.T) {
	ctx := context.Background()

	t.Run("should write then read back a file", func(t *testing.T) {
		registry, workspace := setupBuiltins(t)

		_, err := registry.Execute(ctx, "write_file", map[string]interface{}{
			"path":    "notes/hello.txt",
			"content": "hello world",
		}, nil)
		require.NoError(t, err)

		data, err := os.ReadFile(filepath.Join(workspace, "notes", "hello.txt"))
		require.NoError(t, err)
		assert.Equal(t, "hello world", string(data))

		result, err := registry.Execute(ctx, "read_file", map[string]interface{}{
			"path": "notes/hello.txt",
		}, nil)
		require.NoError(t, err)

		output := result.Output.(map[string]interface{})
		assert.Equal(t, "hello world", output["content"])
		assert.Equal(t, false, output["truncated"])
	})

	t.Run("should append when asked", func(t *testing.T) {
		registry, workspace := setupBuiltins(t)

		for _, chunk := range []string{"one\n", "two\n"} {
			_, err := registry.Execute(ctx, "write_file", map[string]interface{}{
				"path":    "log.txt",
				"content": chunk,
				"append":  true,
			}, nil)
			require.NoError(t, err)
		}

		data, err := os.ReadFile(filepath.Join(workspace, "log.txt"))
		require.NoError(t, err)
		assert.Equal(t, "one\ntwo\n", string(data))
	})

	t.Run("should mark truncated reads", func(t *testing.T) {
		registry, workspace := setupBuiltins(t)
		require.NoError(t, os.WriteFile(filepath.Join(workspace, "big.txt"), []byte("0123456789"), 0644))

		result, err := registry.Execute(ctx, "read_file", map[string]interface{}{
			"path":      "big.txt",
			"max_bytes": float64(4),
		}, nil)
		require.NoError(t, err)

		output := result.Output.(map[string]interface{})
		assert.Equal(t, "0123", output["content"])
		assert.Equal(t, true, output["truncated"])
	})

	t.Run("should replace text in place", func(t *testing.T) {
		registry, workspace := setupBuiltins(t)
		require.NoError(t, os.WriteFile(filepath.Join(workspace, "cfg.txt"), []byte("mode=a mode=a"), 0644))

		result, err := registry.Execute(ctx, "edit_file", map[string]interface{}{
			"path":        "cfg.txt",
			"search":      "mode=a",
			"replace":     "mode=b",
			"replace_all": true,
		}, nil)
		require.NoError(t, err)

		output := result.Output.(map[string]interface{})
		assert.Equal(t, 2, output["occurrences"])

		data, err := os.ReadFile(filepath.Join(workspace, "cfg.txt"))
		require.NoError(t, err)
		assert.Equal(t, "mode=b mode=b", string(data))
	})

	t.Run("should fail when search text is absent", func(t *testing.T) {
		registry, workspace := setupBuiltins(t)
		require.NoError(t, os.WriteFile(filepath.Join(workspace, "cfg.txt"), []byte("abc"), 0644))

		_, err := registry.Execute(ctx, "edit_file", map[string]interface{}{
			"path":    "cfg.txt",
			"search":  "missing",
			"replace": "x",
		}, nil)
		assert.Error(t, err)
	})

	t.Run("should refuse paths outside the workspace", func(t *testing.T) {
		registry, _ := setupBuiltins(t)

		_, err := registry.Execute(ctx, "read_file", map[string]interface{}{
			"path": "../../etc/passwd",
		}, nil)
		assert.Error(t, err)
	})
}
