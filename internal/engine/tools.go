package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// ToolFunc executes one tool call. args is the decoded argument object.
type ToolFunc func(ctx context.Context, args map[string]any) (ToolResult, error)

// Tool is a registered tool definition.
type Tool struct {
	Name        string
	Description string
	SchemaJSON  string
	Fn          ToolFunc
}

// ToolResult is the structured outcome of a tool execution. Every field is
// JSON-serialisable; Error is present iff Success is false.
type ToolResult struct {
	Success   bool   `json:"success"`
	Result    any    `json:"result,omitempty"`
	Error     string `json:"error,omitempty"`
	ErrorType string `json:"error_type,omitempty"`
	Summary   string `json:"summary,omitempty"`
}

// JSON renders the result for a tool message. Marshalling a ToolResult
// cannot fail for the value shapes tools produce, but keep a fallback.
func (r ToolResult) JSON() string {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Sprintf(`{"success":false,"error":%q}`, err.Error())
	}
	return string(data)
}

// ValidateArgs validates the provided arguments against the tool's schema.
func (t Tool) ValidateArgs(args map[string]any) error {
	schemaLoader := gojsonschema.NewStringLoader(t.SchemaJSON)
	documentLoader := gojsonschema.NewGoLoader(args)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}

	if !result.Valid() {
		var errorMsgs []string
		for _, verr := range result.Errors() {
			errorMsgs = append(errorMsgs, verr.String())
		}
		return &ToolValidationError{ToolName: t.Name, Errors: errorMsgs}
	}
	return nil
}

// ToolRegistry maps tool names to definitions.
type ToolRegistry map[string]Tool

// Register adds or replaces a tool. Registration is idempotent on name;
// the last write wins.
func (r ToolRegistry) Register(t Tool) {
	r[t.Name] = t
}

// Schemas emits the current function-schema payload consumed by provider
// adapters, in stable name order.
func (r ToolRegistry) Schemas() []ToolSchema {
	names := make([]string, 0, len(r))
	for name := range r {
		names = append(names, name)
	}
	sort.Strings(names)

	s := make([]ToolSchema, 0, len(r))
	for _, name := range names {
		t := r[name]
		s = append(s, ToolSchema{
			Name:        t.Name,
			Description: t.Description,
			JSONSchema:  t.SchemaJSON,
		})
	}
	return s
}

// Execute dispatches one tool call. It never returns an error to the agent
// loop: unknown tools, bad argument JSON, validation failures, tool errors
// and panics all become a structured failure result that is fed back to the
// model as a tool message.
func (r ToolRegistry) Execute(ctx context.Context, name, argsJSON string) (result ToolResult) {
	t, ok := r[name]
	if !ok {
		return ToolResult{
			Success: false,
			Error:   fmt.Sprintf("Tool '%s' not found. Available: %s", name, strings.Join(r.names(), ", ")),
		}
	}

	var args map[string]any
	if argsJSON != "" {
		if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
			return ToolResult{
				Success:   false,
				Error:     fmt.Sprintf("invalid tool arguments: %v", err),
				ErrorType: "json_decode",
			}
		}
	}
	if args == nil {
		args = make(map[string]any)
	}

	if err := t.ValidateArgs(args); err != nil {
		return ToolResult{
			Success:   false,
			Error:     err.Error(),
			ErrorType: "validation",
		}
	}

	defer func() {
		if rec := recover(); rec != nil {
			result = ToolResult{
				Success:   false,
				Error:     fmt.Sprintf("%v", rec),
				ErrorType: "panic",
			}
		}
	}()

	res, err := t.Fn(ctx, args)
	if err != nil {
		return ToolResult{
			Success:   false,
			Error:     err.Error(),
			ErrorType: fmt.Sprintf("%T", err),
		}
	}
	return res
}

func (r ToolRegistry) names() []string {
	names := make([]string, 0, len(r))
	for name := range r {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
