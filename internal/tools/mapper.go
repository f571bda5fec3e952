// Package tools is the bridge between model-facing tool calls and the
// skill scripts that implement them. It owns the static tool table,
// validates tool parameters against their schemas, builds script argv,
// and interprets execution results back into model-consumable payloads.
package tools

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/xeipuuv/gojsonschema"

	"github.com/scribe-notes/scribe/internal/workspace"
)

var (
	// ErrUnknownTool indicates a tool name absent from the table.
	ErrUnknownTool = errors.New("unknown tool")
	// ErrInvalidParameters indicates input that fails the tool's schema.
	ErrInvalidParameters = errors.New("invalid tool parameters")
)

// redactedPlaceholder replaces content-bearing argv values in audit
// records.
const redactedPlaceholder = "[redacted]"

// Invocation is a fully resolved, validated skill call.
type Invocation struct {
	SkillID string
	Script  string
	Args    []string
	// AuditArgs mirrors Args with content-bearing values redacted.
	AuditArgs []string
}

// Mapper resolves model tool calls to skill invocations.
type Mapper struct {
	validator *workspace.Validator
	table     map[string]*definition
	names     []string
}

// NewMapper compiles every tool schema up front so a bad table entry
// fails at startup, not on the first call.
func NewMapper(validator *workspace.Validator) (*Mapper, error) {
	m := &Mapper{
		validator: validator,
		table:     make(map[string]*definition, len(toolTable)),
	}
	for i := range toolTable {
		def := &toolTable[i]
		schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(def.schemaDocument()))
		if err != nil {
			return nil, fmt.Errorf("compile schema for tool %s: %w", def.name, err)
		}
		def.compiled = schema
		m.table[def.name] = def
		m.names = append(m.names, def.name)
	}
	sort.Strings(m.names)
	return m, nil
}

// MapToolCall validates the input and returns the invocation to run.
// Filesystem tools get their path parameters validated against the
// workspace before anything is built; a rejected path never reaches the
// executor.
func (m *Mapper) MapToolCall(name string, input json.RawMessage) (*Invocation, error) {
	def, ok := m.table[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}

	if len(input) == 0 {
		input = json.RawMessage("{}")
	}
	result, err := def.compiled.Validate(gojsonschema.NewBytesLoader(input))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidParameters, name, err)
	}
	if !result.Valid() {
		return nil, fmt.Errorf("%w: %s: %s", ErrInvalidParameters, name, schemaErrors(result))
	}

	var params map[string]any
	if err := json.Unmarshal(input, &params); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidParameters, name, err)
	}

	for _, key := range def.pathParams {
		raw, present := params[key]
		if !present {
			continue
		}
		value, _ := raw.(string)
		if _, err := m.validator.Resolve(value); err != nil {
			return nil, fmt.Errorf("tool %s parameter %q: %w", name, key, err)
		}
		normalized, err := workspace.Normalize(value)
		if err != nil {
			return nil, fmt.Errorf("tool %s parameter %q: %w", name, key, err)
		}
		if normalized == "" {
			normalized = "."
		}
		params[key] = normalized
	}

	args := def.buildArgs(params)
	args = append(args, "--json")

	return &Invocation{
		SkillID:   def.skillID,
		Script:    def.script,
		Args:      args,
		AuditArgs: redactArgs(args, def.redactFlags),
	}, nil
}

// Names returns all tool names, sorted.
func (m *Mapper) Names() []string {
	return append([]string(nil), m.names...)
}

// CatalogEntry is the model-facing description of one tool.
type CatalogEntry struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

// Catalog returns the model-facing tool list, sorted by name.
func (m *Mapper) Catalog() []CatalogEntry {
	out := make([]CatalogEntry, 0, len(m.names))
	for _, name := range m.names {
		def := m.table[name]
		out = append(out, CatalogEntry{
			Name:        def.name,
			Description: def.description,
			InputSchema: def.schemaDocument(),
		})
	}
	return out
}

// AnthropicTools returns the table in the SDK's tool parameter shape.
func (m *Mapper) AnthropicTools() []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(m.names))
	for _, name := range m.names {
		def := m.table[name]
		out = append(out, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        def.name,
				Description: anthropic.String(def.description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: def.properties,
					Required:   def.required,
				},
			},
		})
	}
	return out
}

// redactArgs replaces the value following each redacted flag.
func redactArgs(args []string, flags []string) []string {
	if len(flags) == 0 {
		return args
	}
	out := append([]string(nil), args...)
	for i := 0; i < len(out)-1; i++ {
		for _, flag := range flags {
			if out[i] == flag {
				out[i+1] = redactedPlaceholder
			}
		}
	}
	return out
}

func schemaErrors(result *gojsonschema.Result) string {
	msgs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		msgs = append(msgs, e.String())
	}
	sort.Strings(msgs)
	if len(msgs) == 0 {
		return "schema validation failed"
	}
	return msgs[0]
}
