package tool

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// BuiltinOptions configures built-in tool registration.
type BuiltinOptions struct {
	// WorkspaceRoot confines file tools; paths outside it are rejected.
	WorkspaceRoot string
}

// RegisterBuiltins registers baseline runtime and filesystem tools.
func RegisterBuiltins(registry *Registry, opts BuiltinOptions) error {
	if registry == nil {
		return errors.New("registry is required")
	}

	tools := []Definition{
		currentTimeTool(),
		readFileTool(opts),
		writeFileTool(opts),
		editFileTool(opts),
	}

	for _, def := range tools {
		if err := registry.Register(def); err != nil {
			return fmt.Errorf("failed to register tool %s: %w", def.Name, err)
		}
	}
	return nil
}

func currentTimeTool() Definition {
	return Definition{
		Name:        "current_time",
		Description: "Get the current date and time, optionally in a named IANA timezone.",
		Parameters: []Parameter{
			{Name: "timezone", Type: "string", Description: "IANA timezone name, e.g. Asia/Tokyo (default UTC)"},
		},
		Handler: func(_ context.Context, args map[string]interface{}) (interface{}, error) {
			loc := time.UTC
			if name, ok := args["timezone"].(string); ok && name != "" {
				parsed, err := time.LoadLocation(name)
				if err != nil {
					return nil, fmt.Errorf("unknown timezone %s", name)
				}
				loc = parsed
			}
			now := time.Now().In(loc)
			return map[string]interface{}{
				"iso":      now.Format(time.RFC3339),
				"unix":     now.Unix(),
				"timezone": loc.String(),
			}, nil
		},
	}
}

func readFileTool(opts BuiltinOptions) Definition {
	return Definition{
		Name:        "read_file",
		Description: "Read a file from the workspace.",
		Parameters: []Parameter{
			{Name: "path", Type: "string", Description: "Relative file path", Required: true},
			{Name: "max_bytes", Type: "number", Description: "Maximum bytes to read (default 200000)"},
		},
		Handler: func(_ context.Context, args map[string]interface{}) (interface{}, error) {
			pathValue, _ := args["path"].(string)
			target, err := resolvePathInWorkspace(opts.WorkspaceRoot, pathValue)
			if err != nil {
				return nil, err
			}

			maxBytes := int64(200000)
			if raw, ok := args["max_bytes"].(float64); ok && raw > 0 {
				maxBytes = int64(raw)
			}

			data, truncated, err := readFileWithLimit(target, maxBytes)
			if err != nil {
				return nil, err
			}

			return map[string]interface{}{
				"path":      pathValue,
				"content":   string(data),
				"truncated": truncated,
				"bytes":     len(data),
			}, nil
		},
	}
}

func writeFileTool(opts BuiltinOptions) Definition {
	return Definition{
		Name:        "write_file",
		Description: "Write content to a file in the workspace.",
		Parameters: []Parameter{
			{Name: "path", Type: "string", Description: "Relative file path", Required: true},
			{Name: "content", Type: "string", Description: "File content", Required: true},
			{Name: "append", Type: "boolean", Description: "Append to file (default false)"},
		},
		Handler: func(_ context.Context, args map[string]interface{}) (interface{}, error) {
			pathValue, _ := args["path"].(string)
			target, err := resolvePathInWorkspace(opts.WorkspaceRoot, pathValue)
			if err != nil {
				return nil, err
			}
			content, _ := args["content"].(string)
			appendMode, _ := args["append"].(bool)

			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return nil, err
			}

			flag := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
			if appendMode {
				flag = os.O_CREATE | os.O_WRONLY | os.O_APPEND
			}
			file, err := os.OpenFile(target, flag, 0644)
			if err != nil {
				return nil, err
			}
			defer file.Close()
			if _, err := file.WriteString(content); err != nil {
				return nil, err
			}

			return map[string]interface{}{
				"path":   pathValue,
				"bytes":  len(content),
				"append": appendMode,
			}, nil
		},
	}
}

func editFileTool(opts BuiltinOptions) Definition {
	return Definition{
		Name:        "edit_file",
		Description: "Replace text in a workspace file.",
		Parameters: []Parameter{
			{Name: "path", Type: "string", Description: "Relative file path", Required: true},
			{Name: "search", Type: "string", Description: "Text to search for", Required: true},
			{Name: "replace", Type: "string", Description: "Replacement text", Required: true},
			{Name: "replace_all", Type: "boolean", Description: "Replace all occurrences (default false)"},
		},
		Handler: func(_ context.Context, args map[string]interface{}) (interface{}, error) {
			pathValue, _ := args["path"].(string)
			target, err := resolvePathInWorkspace(opts.WorkspaceRoot, pathValue)
			if err != nil {
				return nil, err
			}
			search, _ := args["search"].(string)
			replace, _ := args["replace"].(string)
			replaceAll, _ := args["replace_all"].(bool)
			if search == "" {
				return nil, fmt.Errorf("search is required")
			}

			data, err := os.ReadFile(target)
			if err != nil {
				return nil, err
			}
			content := string(data)

			occurrences := 0
			updated := content
			if replaceAll {
				occurrences = strings.Count(content, search)
				updated = strings.ReplaceAll(content, search, replace)
			} else if idx := strings.Index(content, search); idx >= 0 {
				occurrences = 1
				updated = content[:idx] + replace + content[idx+len(search):]
			}
			if occurrences == 0 {
				return nil, fmt.Errorf("search text not found")
			}

			if err := os.WriteFile(target, []byte(updated), 0644); err != nil {
				return nil, err
			}

			return map[string]interface{}{
				"path":        pathValue,
				"occurrences": occurrences,
			}, nil
		},
	}
}

func resolvePathInWorkspace(workspaceRoot, pathValue string) (string, error) {
	workspaceRoot = strings.TrimSpace(workspaceRoot)
	if workspaceRoot == "" {
		return "", fmt.Errorf("workspace root is not configured")
	}
	workspaceRoot = filepath.Clean(workspaceRoot)

	pathValue = strings.TrimSpace(pathValue)
	if pathValue == "" {
		return "", fmt.Errorf("path is required")
	}
	if strings.Contains(pathValue, "://") {
		return "", fmt.Errorf("path must be a local file")
	}

	candidate := pathValue
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(workspaceRoot, candidate)
	}
	candidate = filepath.Clean(candidate)

	rel, err := filepath.Rel(workspaceRoot, candidate)
	if err != nil {
		return "", err
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q is outside workspace root", pathValue)
	}
	return candidate, nil
}

func readFileWithLimit(path string, limit int64) ([]byte, bool, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, false, err
	}
	defer file.Close()

	var buf bytes.Buffer
	if limit <= 0 {
		limit = 200000
	}
	if _, err := io.CopyN(&buf, file, limit); err != nil && !errors.Is(err, io.EOF) {
		return nil, false, err
	}

	truncated := false
	extra := make([]byte, 1)
	if _, err := file.Read(extra); err == nil {
		truncated = true
	}
	return buf.Bytes(), truncated, nil
}
