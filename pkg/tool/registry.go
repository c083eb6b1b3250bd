package tool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lariat-ai/lariat/internal/observability"
	"github.com/rs/zerolog"
	"github.com/xeipuuv/gojsonschema"
)

// ErrNotFound is returned when a requested tool is not registered.
var ErrNotFound = errors.New("tool not found")

// Parameter defines a parameter for a tool
type Parameter struct {
	Name        string        `json:"name"`
	Type        string        `json:"type"`
	Description string        `json:"description"`
	Required    bool          `json:"required"`
	Enum        []interface{} `json:"enum,omitempty"`
	Minimum     *float64      `json:"minimum,omitempty"`
	Maximum     *float64      `json:"maximum,omitempty"`
	Default     interface{}   `json:"default,omitempty"`
}

// Handler is the function signature for tool execution
type Handler func(ctx context.Context, args map[string]interface{}) (interface{}, error)

// Definition defines a tool's metadata and handler
type Definition struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Parameters  []Parameter `json:"parameters"`
	Handler     Handler     `json:"-"`
}

// InputSchema returns the JSON-schema-shaped declaration sent to model
// backends.
func (d *Definition) InputSchema() map[string]interface{} {
	properties := make(map[string]interface{}, len(d.Parameters))
	required := []string{}

	for _, param := range d.Parameters {
		prop := map[string]interface{}{
			"type":        param.Type,
			"description": param.Description,
		}
		if len(param.Enum) > 0 {
			prop["enum"] = param.Enum
		}
		if param.Minimum != nil {
			prop["minimum"] = *param.Minimum
		}
		if param.Maximum != nil {
			prop["maximum"] = *param.Maximum
		}
		if param.Default != nil {
			prop["default"] = param.Default
		}
		properties[param.Name] = prop

		if param.Required {
			required = append(required, param.Name)
		}
	}

	schema := map[string]interface{}{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// Result represents the outcome of one tool execution
type Result struct {
	Success  bool                   `json:"success"`
	Output   interface{}            `json:"output,omitempty"`
	Error    string                 `json:"error,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// ExecuteOptions carries per-call execution settings.
type ExecuteOptions struct {
	// Timeout bounds the handler; zero means DefaultTimeout.
	Timeout time.Duration
}

// DefaultTimeout bounds a tool handler when the caller supplies none.
const DefaultTimeout = 30 * time.Second

// Registry manages tool definitions and executes them with argument
// validation.
type Registry struct {
	logger zerolog.Logger

	mu      sync.RWMutex
	tools   map[string]*Definition
	schemas map[string]*gojsonschema.Schema
}

// NewRegistry creates an empty tool registry.
func NewRegistry(logger zerolog.Logger) *Registry {
	observability.EnsureRegistered()

	return &Registry{
		logger:  logger.With().Str("component", "tool").Logger(),
		tools:   make(map[string]*Definition),
		schemas: make(map[string]*gojsonschema.Schema),
	}
}

// Register adds a tool, replacing any previous definition with the same name.
func (r *Registry) Register(def Definition) error {
	if err := validateDefinition(def); err != nil {
		return fmt.Errorf("invalid tool definition: %w", err)
	}

	schema, err := compileSchema(def)
	if err != nil {
		return fmt.Errorf("failed to compile schema for %s: %w", def.Name, err)
	}

	r.mu.Lock()
	r.tools[def.Name] = &def
	r.schemas[def.Name] = schema
	r.mu.Unlock()

	r.logger.Info().Str("tool", def.Name).Msg("Tool registered")
	return nil
}

// Unregister removes a tool.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	delete(r.tools, name)
	delete(r.schemas, name)
	r.mu.Unlock()
}

// Get returns a tool definition by name, or nil.
func (r *Registry) Get(name string) *Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// List returns all registered tool names.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	return names
}

// Execute validates args against the tool's schema and runs the handler under
// a timeout. Lookup failures and invalid arguments fail before the handler
// runs.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]interface{}, opts *ExecuteOptions) (Result, error) {
	start := time.Now()

	r.mu.RLock()
	def := r.tools[name]
	schema := r.schemas[name]
	r.mu.RUnlock()

	if def == nil {
		observability.RecordToolExecution(name, time.Since(start), false)
		return Result{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}

	if err := validateArgs(schema, args); err != nil {
		observability.RecordToolExecution(name, time.Since(start), false)
		return Result{}, fmt.Errorf("invalid arguments for %s: %w", name, err)
	}

	timeout := DefaultTimeout
	if opts != nil && opts.Timeout > 0 {
		timeout = opts.Timeout
	}

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resultCh := make(chan interface{}, 1)
	errCh := make(chan error, 1)

	go func() {
		output, err := def.Handler(execCtx, args)
		if err != nil {
			errCh <- err
			return
		}
		resultCh <- output
	}()

	select {
	case output := <-resultCh:
		duration := time.Since(start)
		observability.RecordToolExecution(name, duration, true)
		r.logger.Debug().Str("tool", name).Dur("duration", duration).Msg("Tool executed")
		return Result{
			Success: true,
			Output:  output,
			Metadata: map[string]interface{}{
				"duration_ms": duration.Milliseconds(),
			},
		}, nil

	case err := <-errCh:
		duration := time.Since(start)
		observability.RecordToolExecution(name, duration, false)
		r.logger.Error().Str("tool", name).Err(err).Msg("Tool execution failed")
		return Result{}, fmt.Errorf("tool %s failed: %w", name, err)

	case <-execCtx.Done():
		duration := time.Since(start)
		observability.RecordToolExecution(name, duration, false)
		r.logger.Error().Str("tool", name).Dur("duration", duration).Msg("Tool execution timeout")
		return Result{}, fmt.Errorf("tool %s timed out after %v: %w", name, timeout, execCtx.Err())
	}
}

func validateDefinition(def Definition) error {
	if def.Name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if def.Description == "" {
		return fmt.Errorf("tool description cannot be empty")
	}
	if def.Handler == nil {
		return fmt.Errorf("tool handler cannot be nil")
	}

	validTypes := map[string]bool{
		"string": true, "number": true, "boolean": true,
		"object": true, "array": true, "integer": true,
	}
	for _, param := range def.Parameters {
		if param.Name == "" {
			return fmt.Errorf("parameter name cannot be empty")
		}
		if !validTypes[param.Type] {
			return fmt.Errorf("invalid parameter type %s for %s", param.Type, param.Name)
		}
	}
	return nil
}

func compileSchema(def Definition) (*gojsonschema.Schema, error) {
	schemaMap := def.InputSchema()
	schemaMap["additionalProperties"] = false
	return gojsonschema.NewSchema(gojsonschema.NewGoLoader(schemaMap))
}

func validateArgs(schema *gojsonschema.Schema, args map[string]interface{}) error {
	if schema == nil {
		return nil
	}
	if args == nil {
		args = map[string]interface{}{}
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(args))
	if err != nil {
		return err
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, verr := range result.Errors() {
			msgs = append(msgs, verr.String())
		}
		return fmt.Errorf("validation errors: %v", msgs)
	}
	return nil
}
