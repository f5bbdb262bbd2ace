package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/openraccoon/raccoon/pkg/models"
)

// MaxToolNameLength caps tool names to keep registry keys and log lines
// bounded.
const MaxToolNameLength = 256

// ToolHandler executes a locally registered tool. The returned value is
// stringified by the caller before it reaches the event stream.
type ToolHandler func(ctx context.Context, args map[string]any) (any, error)

var (
	// ErrUnknownTool reports a call against a name the registry has never
	// seen.
	ErrUnknownTool = errors.New("unknown tool")

	// ErrNoHandler marks a tool that is declared but not locally
	// executable; the caller should route the call to a remote tool
	// server instead.
	ErrNoHandler = errors.New("no handler registered for tool")
)

// ValidationError carries the per-argument problems found by Validate.
type ValidationError struct {
	Tool     string
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("tool validation failed for %q: %s", e.Tool, strings.Join(e.Problems, "; "))
}

// toolSchema is the subset of JSON Schema the registry checks by hand:
// declared property types and the required list. Anything beyond that is
// accepted as long as the full schema compiles.
type toolSchema struct {
	Type       string                    `json:"type"`
	Properties map[string]schemaProperty `json:"properties"`
	Required   []string                  `json:"required"`
}

type schemaProperty struct {
	Type string `json:"type"`
}

type toolEntry struct {
	descriptor models.ToolDescriptor
	schema     toolSchema
	handler    ToolHandler
}

// ToolRegistry manages tools by name with thread-safe registration and
// lookup. A registered tool may carry a local handler; tools without one
// are declared-only and execute remotely.
type ToolRegistry struct {
	mu    sync.RWMutex
	tools map[string]*toolEntry
}

// NewToolRegistry creates an empty registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{
		tools: make(map[string]*toolEntry),
	}
}

// Register adds a tool, replacing any prior entry with the same name. The
// input schema must compile as JSON Schema; handler may be nil for tools
// that execute remotely.
func (r *ToolRegistry) Register(desc models.ToolDescriptor, handler ToolHandler) error {
	if desc.Name == "" {
		return errors.New("tool name is required")
	}
	if len(desc.Name) > MaxToolNameLength {
		return fmt.Errorf("tool name exceeds maximum length of %d characters", MaxToolNameLength)
	}

	var schema toolSchema
	if len(desc.InputSchema) > 0 {
		if _, err := jsonschema.CompileString(desc.Name+".schema.json", string(desc.InputSchema)); err != nil {
			return fmt.Errorf("tool %q: schema does not compile: %w", desc.Name, err)
		}
		if err := json.Unmarshal(desc.InputSchema, &schema); err != nil {
			return fmt.Errorf("tool %q: schema is not an object: %w", desc.Name, err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[desc.Name] = &toolEntry{
		descriptor: desc,
		schema:     schema,
		handler:    handler,
	}
	return nil
}

// Unregister removes a tool. Removing an absent name is a no-op.
func (r *ToolRegistry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// Has reports whether a tool is registered.
func (r *ToolRegistry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[name]
	return ok
}

// Count returns the number of registered tools.
func (r *ToolRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// List returns the registered descriptors sorted by name.
func (r *ToolRegistry) List() []models.ToolDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	descs := make([]models.ToolDescriptor, 0, len(r.tools))
	for _, entry := range r.tools {
		descs = append(descs, entry.descriptor)
	}
	sort.Slice(descs, func(i, j int) bool { return descs[i].Name < descs[j].Name })
	return descs
}

// Validate checks args against the tool's declared schema and returns a
// list of problems, empty when the call is valid. Only declared property
// types and the required list are enforced; extra arguments and
// unrecognized type keywords pass.
func (r *ToolRegistry) Validate(name string, args map[string]any) []string {
	r.mu.RLock()
	entry, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return []string{fmt.Sprintf("Unknown tool: %s", name)}
	}

	var problems []string
	for _, required := range entry.schema.Required {
		if _, present := args[required]; !present {
			problems = append(problems, fmt.Sprintf("Missing required parameter: %s", required))
		}
	}

	names := make([]string, 0, len(args))
	for argName := range args {
		names = append(names, argName)
	}
	sort.Strings(names)

	for _, argName := range names {
		prop, declared := entry.schema.Properties[argName]
		if !declared {
			continue
		}
		if problem := checkArgType(argName, prop.Type, args[argName]); problem != "" {
			problems = append(problems, problem)
		}
	}
	return problems
}

// CheckDescriptor reports the problems that would make Register reject
// the descriptor, without registering anything. An empty slice means the
// descriptor is acceptable.
func CheckDescriptor(desc models.ToolDescriptor) []string {
	var problems []string
	if desc.Name == "" {
		problems = append(problems, "tool name is required")
	} else if len(desc.Name) > MaxToolNameLength {
		problems = append(problems, fmt.Sprintf("tool name exceeds maximum length of %d characters", MaxToolNameLength))
	}

	if len(desc.InputSchema) == 0 {
		return problems
	}
	schemaName := desc.Name
	if schemaName == "" {
		schemaName = "tool"
	}
	if _, err := jsonschema.CompileString(schemaName+".schema.json", string(desc.InputSchema)); err != nil {
		problems = append(problems, fmt.Sprintf("schema does not compile: %v", err))
		return problems
	}
	var schema toolSchema
	if err := json.Unmarshal(desc.InputSchema, &schema); err != nil {
		problems = append(problems, fmt.Sprintf("schema is not an object: %v", err))
		return problems
	}
	if schema.Type != "" && schema.Type != "object" {
		problems = append(problems, fmt.Sprintf("schema type must be \"object\", got %q", schema.Type))
	}
	return problems
}

// Execute validates and runs a tool. Unknown tools, validation failures,
// and missing handlers are all fatal for the call; the caller reports
// them as error results.
func (r *ToolRegistry) Execute(ctx context.Context, name string, args map[string]any) (any, error) {
	r.mu.RLock()
	entry, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}

	if problems := r.Validate(name, args); len(problems) > 0 {
		return nil, &ValidationError{Tool: name, Problems: problems}
	}

	if entry.handler == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoHandler, name)
	}
	return entry.handler(ctx, args)
}

// checkArgType enforces a declared JSON-Schema type keyword against a
// runtime value. number accepts integers and floats, integer rejects
// fractional floats, boolean is strict. Unrecognized keywords pass.
func checkArgType(name, declared string, value any) string {
	switch declared {
	case "string":
		if _, ok := value.(string); !ok {
			return fmt.Sprintf("Parameter %s must be a string", name)
		}
	case "integer":
		switch v := value.(type) {
		case int, int32, int64:
		case float64:
			if v != math.Trunc(v) {
				return fmt.Sprintf("Parameter %s must be an integer", name)
			}
		case float32:
			if float64(v) != math.Trunc(float64(v)) {
				return fmt.Sprintf("Parameter %s must be an integer", name)
			}
		default:
			return fmt.Sprintf("Parameter %s must be an integer", name)
		}
	case "number":
		switch value.(type) {
		case int, int32, int64, float32, float64:
		default:
			return fmt.Sprintf("Parameter %s must be a number", name)
		}
	case "boolean":
		if _, ok := value.(bool); !ok {
			return fmt.Sprintf("Parameter %s must be a boolean", name)
		}
	case "array":
		if _, ok := value.([]any); !ok {
			return fmt.Sprintf("Parameter %s must be an array", name)
		}
	case "object":
		if _, ok := value.(map[string]any); !ok {
			return fmt.Sprintf("Parameter %s must be an object", name)
		}
	}
	return ""
}
