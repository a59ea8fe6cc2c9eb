// Package tools holds the capability map handed to the model during a turn.
//
// A Tool declares its JSON argument schema up front. Tools that act on behalf
// of the caller set BindsIdentity and declare IdentityParam in their schema;
// Bind then hides that parameter from the model and injects the caller's id.
package tools

import "context"

// IdentityParam is the argument name identity-bound tools receive the caller's
// user id under.
const IdentityParam = "userId"

// Property describes a single parameter property for JSON schema.
type Property struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
	Enum        []any  `json:"enum,omitempty"`
	// Items describes array element schema (required for type="array")
	Items *PropertyItems `json:"items,omitempty"`
}

// PropertyItems describes the schema for array elements.
type PropertyItems struct {
	Type string `json:"type"`
}

// Schema defines the JSON schema for tool arguments.
type Schema struct {
	Required   []string            `json:"required"`
	Properties map[string]Property `json:"properties"`
}

// Has reports whether the schema declares the named property.
func (s Schema) Has(name string) bool {
	_, ok := s.Properties[name]
	return ok
}

// JSONSchema renders the schema as the object form LLM tool definitions expect.
func (s Schema) JSONSchema() map[string]any {
	props := make(map[string]any, len(s.Properties))
	for name, p := range s.Properties {
		props[name] = p
	}
	required := s.Required
	if required == nil {
		required = []string{}
	}
	return map[string]any{
		"type":       "object",
		"properties": props,
		"required":   required,
	}
}

// ExecuteFunc is the signature for tool execution.
type ExecuteFunc func(ctx context.Context, args map[string]any) (string, error)

// Tool is a callable capability exposed to the model.
type Tool struct {
	Name        string
	Description string
	Schema      Schema
	Execute     ExecuteFunc

	// BindsIdentity marks a tool that expects the caller's user id under
	// IdentityParam. It is resolved when the tool is registered.
	BindsIdentity bool
}

// Validate checks if the tool definition is valid.
func (t *Tool) Validate() error {
	if t.Name == "" {
		return ErrToolNameEmpty
	}
	if t.Execute == nil {
		return ErrToolExecuteNil
	}
	if t.BindsIdentity && !t.Schema.Has(IdentityParam) {
		return ErrIdentityParamUndeclared
	}
	return nil
}

// Result wraps the outcome of a tool execution.
type Result struct {
	ToolName   string
	Output     string
	Error      error
	DurationMs int64
}
