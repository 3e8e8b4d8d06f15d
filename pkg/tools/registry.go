package tools

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/averno/clerk/internal/observability"
	"github.com/rs/zerolog/log"
	"github.com/xeipuuv/gojsonschema"
)

// Parameter defines a parameter for a tool
type Parameter struct {
	Name        string        `json:"name"`
	Type        string        `json:"type"`
	Description string        `json:"description"`
	Required    bool          `json:"required"`
	Enum        []interface{} `json:"enum,omitempty"`
	Default     interface{}   `json:"default,omitempty"`
}

// Definition defines a tool's metadata and handler
type Definition struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Parameters  []Parameter `json:"parameters"`
	Handler     Handler     `json:"-"`
}

// Handler executes one tool call for one session. Business-level
// failures are reported inside the returned payload, not as errors,
// so the model can react to them in natural language.
type Handler func(ctx context.Context, sessionID string, params map[string]interface{}) (interface{}, error)

// Result represents the outcome of a tool execution
type Result struct {
	Success  bool                   `json:"success"`
	Output   interface{}            `json:"output,omitempty"`
	Error    string                 `json:"error,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Registry manages and executes the tool set
type Registry struct {
	tools   map[string]*Definition
	schemas map[string]*gojsonschema.Schema
	mu      sync.RWMutex
}

// NewRegistry creates an empty tool registry
func NewRegistry() *Registry {
	observability.EnsureRegistered()

	return &Registry{
		tools:   make(map[string]*Definition),
		schemas: make(map[string]*gojsonschema.Schema),
	}
}

// Register registers a new tool
func (r *Registry) Register(def Definition) error {
	if err := validateDefinition(def); err != nil {
		return fmt.Errorf("invalid tool definition: %w", err)
	}

	schema, err := generateJSONSchema(def)
	if err != nil {
		return fmt.Errorf("failed to generate schema: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.tools[def.Name] = &def
	r.schemas[def.Name] = schema

	log.Info().Str("tool", def.Name).Msg("Tool registered")

	return nil
}

// Get returns a tool definition by name
func (r *Registry) Get(name string) *Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// List returns all registered tool names
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	return names
}

// Count returns the number of registered tools
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Descriptors returns the callable-tool descriptors handed to the model
func (r *Registry) Descriptors() []map[string]interface{} {
	r.mu.RLock()
	defer r.mu.RUnlock()

	descriptors := make([]map[string]interface{}, 0, len(r.tools))
	for _, def := range r.tools {
		inputSchema := map[string]interface{}{
			"type":       "object",
			"properties": make(map[string]interface{}),
		}

		properties := inputSchema["properties"].(map[string]interface{})
		required := []string{}

		for _, param := range def.Parameters {
			prop := map[string]interface{}{
				"type":        param.Type,
				"description": param.Description,
			}
			if len(param.Enum) > 0 {
				prop["enum"] = param.Enum
			}
			properties[param.Name] = prop

			if param.Required {
				required = append(required, param.Name)
			}
		}

		if len(required) > 0 {
			inputSchema["required"] = required
		}

		descriptors = append(descriptors, map[string]interface{}{
			"name":         def.Name,
			"description":  def.Description,
			"input_schema": inputSchema,
		})
	}

	return descriptors
}

// Execute runs a tool with schema validation and a bounded timeout
func (r *Registry) Execute(ctx context.Context, toolName, sessionID string, params map[string]interface{}, timeout time.Duration) Result {
	start := time.Now()

	r.mu.RLock()
	tool := r.tools[toolName]
	schema := r.schemas[toolName]
	r.mu.RUnlock()

	if tool == nil {
		log.Error().Str("tool", toolName).Msg("Tool not found")
		observability.RecordToolExecution(toolName, time.Since(start), false)
		return Result{
			Success: false,
			Error:   fmt.Sprintf("tool not found: %s", toolName),
		}
	}

	if err := validateParameters(schema, params); err != nil {
		log.Error().Str("tool", toolName).Err(err).Msg("Parameter validation failed")
		observability.RecordToolExecution(toolName, time.Since(start), false)
		return Result{
			Success: false,
			Error:   fmt.Sprintf("parameter validation failed: %v", err),
		}
	}

	log.Debug().Str("tool", toolName).Str("session_id", sessionID).Msg("Executing tool")

	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resultChan := make(chan interface{}, 1)
	errChan := make(chan error, 1)

	go func() {
		result, err := tool.Handler(timeoutCtx, sessionID, params)
		if err != nil {
			errChan <- err
		} else {
			resultChan <- result
		}
	}()

	select {
	case result := <-resultChan:
		duration := time.Since(start)
		observability.RecordToolExecution(toolName, duration, true)

		log.Debug().
			Str("tool", toolName).
			Dur("duration", duration).
			Msg("Tool execution completed")

		return Result{
			Success: true,
			Output:  result,
			Metadata: map[string]interface{}{
				"duration": duration.Milliseconds(),
			},
		}

	case err := <-errChan:
		duration := time.Since(start)
		observability.RecordToolExecution(toolName, duration, false)

		log.Error().
			Str("tool", toolName).
			Dur("duration", duration).
			Err(err).
			Msg("Tool execution failed")

		return Result{
			Success: false,
			Error:   err.Error(),
			Metadata: map[string]interface{}{
				"duration": duration.Milliseconds(),
			},
		}

	case <-timeoutCtx.Done():
		duration := time.Since(start)
		observability.RecordToolExecution(toolName, duration, false)

		log.Error().
			Str("tool", toolName).
			Dur("duration", duration).
			Msg("Tool execution timeout")

		return Result{
			Success: false,
			Error:   fmt.Sprintf("tool execution timeout after %v", timeout),
			Metadata: map[string]interface{}{
				"duration": duration.Milliseconds(),
			},
		}
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

	for _, param := range def.Parameters {
		if param.Name == "" {
			return fmt.Errorf("parameter name cannot be empty")
		}
		if param.Type == "" {
			return fmt.Errorf("parameter type cannot be empty for %s", param.Name)
		}
		if param.Description == "" {
			return fmt.Errorf("parameter description cannot be empty for %s", param.Name)
		}

		validTypes := map[string]bool{
			"string": true, "number": true, "boolean": true,
			"object": true, "array": true, "integer": true,
		}
		if !validTypes[param.Type] {
			return fmt.Errorf("invalid parameter type %s for %s", param.Type, param.Name)
		}
	}

	return nil
}

func generateJSONSchema(def Definition) (*gojsonschema.Schema, error) {
	schemaMap := map[string]interface{}{
		"type":                 "object",
		"additionalProperties": false,
		"properties":           make(map[string]interface{}),
	}

	properties := schemaMap["properties"].(map[string]interface{})
	required := []string{}

	for _, param := range def.Parameters {
		paramSchema := map[string]interface{}{
			"type":        param.Type,
			"description": param.Description,
		}

		if len(param.Enum) > 0 {
			paramSchema["enum"] = param.Enum
		}
		if param.Default != nil {
			paramSchema["default"] = param.Default
		}

		properties[param.Name] = paramSchema

		if param.Required {
			required = append(required, param.Name)
		}
	}

	if len(required) > 0 {
		schemaMap["required"] = required
	}

	schemaLoader := gojsonschema.NewGoLoader(schemaMap)
	return gojsonschema.NewSchema(schemaLoader)
}

func validateParameters(schema *gojsonschema.Schema, params map[string]interface{}) error {
	if schema == nil {
		return nil
	}

	paramsLoader := gojsonschema.NewGoLoader(params)
	result, err := schema.Validate(paramsLoader)
	if err != nil {
		return err
	}

	if !result.Valid() {
		errors := []string{}
		for _, err := range result.Errors() {
			errors = append(errors, err.String())
		}
		return fmt.Errorf("validation errors: %v", errors)
	}

	return nil
}
