package ai

import (
	"context"
	"errors"

	"github.com/suPer8Hu/lifehub/internal/tools"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Part types carried in Message.Parts.
const (
	PartText       = "text"
	PartReasoning  = "reasoning"
	PartToolCall   = "tool-call"
	PartToolResult = "tool-result"
)

var ErrEmptyResponse = errors.New("ai: empty response")

// Part is one element of a multi-part message.
type Part struct {
	Type       string         `json:"type"`
	Text       string         `json:"text,omitempty"`
	ToolCallID string         `json:"toolCallId,omitempty"`
	ToolName   string         `json:"toolName,omitempty"`
	Args       map[string]any `json:"args,omitempty"`
	Result     string         `json:"result,omitempty"`
}

// Message is a chat message exchanged with a provider. Content is used when
// Parts is empty.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content,omitempty"`
	Parts   []Part `json:"parts,omitempty"`
}

type ToolCall struct {
	ID   string         `json:"toolCallId"`
	Name string         `json:"toolName"`
	Args map[string]any `json:"args,omitempty"`
}

type ToolResult struct {
	ID     string         `json:"toolCallId"`
	Name   string         `json:"toolName"`
	Args   map[string]any `json:"args,omitempty"`
	Result string         `json:"result"`
}

// Step is one model round trip inside a single generation.
type Step struct {
	Text        string       `json:"text,omitempty"`
	ToolCalls   []ToolCall   `json:"toolCalls,omitempty"`
	ToolResults []ToolResult `json:"toolResults,omitempty"`
}

type Request struct {
	Model       string
	System      string
	Temperature *float64
	Messages    []Message
	// Tools may be nil. Providers execute tool calls through it.
	Tools *tools.Registry
}

type Response struct {
	Text      string
	Reasoning string
	// ToolCalls are the calls of the last step.
	ToolCalls []ToolCall
	Steps     []Step
	// Messages are the messages produced by the generation, in order.
	Messages []Message
}

type Provider interface {
	Generate(ctx context.Context, req Request) (*Response, error)
}

// Temperature returns a pointer for Request.Temperature.
func Temperature(v float64) *float64 { return &v }
