// Package toolregistry builds the per-turn tool set: built-in tools backed
// by the adapter interfaces, plus custom command-templated tools declared in
// configuration. Every dispatch validates the call's arguments against the
// tool's JSON schema before the executor runs.
package toolregistry

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/evrenesat/asky/pkg/models"
)

// Tool parameter limits. Oversized names or argument payloads are rejected
// before any schema compilation or executor dispatch.
const (
	MaxToolNameLength = 256
	MaxToolParamsSize = 10 << 20
)

// Executor runs one tool call and returns its result. It never returns a Go
// error for a tool-level failure — that is represented as
// ToolResult{IsError: true} — only for dispatch-layer problems.
type Executor func(ctx context.Context, params json.RawMessage) (*models.ToolResult, error)

type entry struct {
	def      models.ToolDefinition
	schema   *jsonschema.Schema
	executor Executor
}

// Registry is a per-turn tool set: schema + executor, looked up by name.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

// New returns an empty Registry. Built-in tools are added via RegisterBuiltins
// and custom tools via RegisterCustom; the TOOL_REGISTRY_BUILD hook runs
// after both, letting plugins add or remove entries before the turn begins.
func New() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// Register adds or replaces a tool definition with its schema-validating
// executor. The schema is compiled once at registration time.
func (r *Registry) Register(def models.ToolDefinition, executor Executor) error {
	var schema *jsonschema.Schema
	if len(def.Parameters) > 0 {
		compiled, err := compileSchema(def.Name, def.Parameters)
		if err != nil {
			return fmt.Errorf("compile schema for tool %q: %w", def.Name, err)
		}
		schema = compiled
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[def.Name] = &entry{def: def, schema: schema, executor: executor}
	return nil
}

// Unregister removes a tool by name. No-op if absent.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, name)
}

// AsToolDefinitions returns every registered tool's schema for passing to
// the LLM adapter.
func (r *Registry) AsToolDefinitions() []models.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.ToolDefinition, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.def)
	}
	return out
}

// Execute validates params against the tool's schema and dispatches to its
// executor. Lookup failures and validation failures come back as error
// results, not Go errors, so the model sees them as tool output.
func (r *Registry) Execute(ctx context.Context, name string, params json.RawMessage) (*models.ToolResult, error) {
	if len(name) > MaxToolNameLength {
		return &models.ToolResult{Content: fmt.Sprintf("tool name exceeds maximum length of %d characters", MaxToolNameLength), IsError: true}, nil
	}
	if len(params) > MaxToolParamsSize {
		return &models.ToolResult{Content: fmt.Sprintf("tool parameters exceed maximum size of %d bytes", MaxToolParamsSize), IsError: true}, nil
	}

	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		return &models.ToolResult{Content: "tool not found: " + name, IsError: true}, nil
	}

	if e.schema != nil {
		var decoded any
		if err := json.Unmarshal(params, &decoded); err != nil {
			return &models.ToolResult{Content: "invalid parameters JSON: " + err.Error(), IsError: true}, nil
		}
		if err := e.schema.Validate(decoded); err != nil {
			return &models.ToolResult{Content: "parameters failed schema validation: " + err.Error(), IsError: true}, nil
		}
	}

	return e.executor(ctx, params)
}

var schemaCache sync.Map

// compileSchema compiles a tool's parameter schema, caching by name+source
// so repeated per-turn registry builds don't recompile identical schemas.
func compileSchema(name string, schemaJSON json.RawMessage) (*jsonschema.Schema, error) {
	key := name + ":" + string(schemaJSON)
	if cached, ok := schemaCache.Load(key); ok {
		return cached.(*jsonschema.Schema), nil
	}

	compiled, err := jsonschema.CompileString("tool:"+name, string(schemaJSON))
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	schemaCache.Store(key, compiled)
	return compiled, nil
}

// CustomToolSpec declares a command-templated tool: its name/description and
// a command template with {{param}}-style placeholders interpolated from the
// validated arguments before the command is handed to the configured runner.
type CustomToolSpec struct {
	Name        string
	Description string
	Parameters  json.RawMessage
	Template    string
}

// CommandRunner executes an interpolated command line and returns its
// output. The concrete subprocess execution lives outside this package.
type CommandRunner func(ctx context.Context, command string) (string, error)

// RegisterCustom registers a command-templated tool. args keys not present
// in the template are ignored; template placeholders with no matching arg
// are left unexpanded (surfaced as a tool error at execution, not silently).
func (r *Registry) RegisterCustom(spec CustomToolSpec, run CommandRunner) error {
	def := models.ToolDefinition{Name: spec.Name, Description: spec.Description, Parameters: spec.Parameters}
	return r.Register(def, func(ctx context.Context, params json.RawMessage) (*models.ToolResult, error) {
		var args map[string]any
		if len(params) > 0 {
			if err := json.Unmarshal(params, &args); err != nil {
				return &models.ToolResult{Content: "invalid parameters: " + err.Error(), IsError: true}, nil
			}
		}

		command, err := interpolateTemplate(spec.Template, args)
		if err != nil {
			return &models.ToolResult{Content: err.Error(), IsError: true}, nil
		}

		output, err := run(ctx, command)
		if err != nil {
			return &models.ToolResult{Content: err.Error(), IsError: true}, nil
		}
		return &models.ToolResult{Content: output}, nil
	})
}

func interpolateTemplate(template string, args map[string]any) (string, error) {
	result := template
	for key, value := range args {
		placeholder := "{{" + key + "}}"
		result = strings.ReplaceAll(result, placeholder, fmt.Sprint(value))
	}
	if strings.Contains(result, "{{") && strings.Contains(result, "}}") {
		return "", fmt.Errorf("unresolved placeholder in command template")
	}
	return result, nil
}
