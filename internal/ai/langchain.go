package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/suPer8Hu/lifehub/internal/tools"
)

const defaultMaxSteps = 5

// LangChainProvider runs a tool-calling loop on top of any langchaingo model.
// Each round trip is recorded as a Step; tool calls are executed through the
// request's registry and fed back to the model until it answers with text or
// the step budget runs out.
type LangChainProvider struct {
	llm      llms.Model
	maxSteps int
}

func NewLangChainProvider(llm llms.Model, maxSteps int) *LangChainProvider {
	if maxSteps <= 0 || maxSteps > 20 {
		maxSteps = defaultMaxSteps
	}
	return &LangChainProvider{llm: llm, maxSteps: maxSteps}
}

// NewOpenAIProvider talks to the OpenAI API or any compatible endpoint.
func NewOpenAIProvider(baseURL, apiKey, model string, maxSteps int) (*LangChainProvider, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("openai: api key is required")
	}
	opts := []openai.Option{
		openai.WithToken(apiKey),
		openai.WithModel(model),
		openai.WithHTTPClient(&http.Client{Timeout: 90 * time.Second}),
	}
	if baseURL != "" {
		opts = append(opts, openai.WithBaseURL(strings.TrimRight(baseURL, "/")))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("openai: %w", err)
	}
	return NewLangChainProvider(llm, maxSteps), nil
}

func (p *LangChainProvider) Generate(ctx context.Context, req Request) (*Response, error) {
	msgs := make([]llms.MessageContent, 0, len(req.Messages)+1)
	if req.System != "" {
		msgs = append(msgs, llms.TextParts(llms.ChatMessageTypeSystem, req.System))
	}
	for _, m := range req.Messages {
		msgs = append(msgs, toMessageContent(m))
	}

	var opts []llms.CallOption
	if req.Model != "" {
		opts = append(opts, llms.WithModel(req.Model))
	}
	if req.Temperature != nil {
		opts = append(opts, llms.WithTemperature(*req.Temperature))
	}
	if defs := toolDefinitions(req.Tools); len(defs) > 0 {
		opts = append(opts, llms.WithTools(defs))
	}

	out := &Response{}
	for i := 0; i < p.maxSteps; i++ {
		resp, err := p.llm.GenerateContent(ctx, msgs, opts...)
		if err != nil {
			return nil, fmt.Errorf("generate content: %w", err)
		}
		if resp == nil || len(resp.Choices) == 0 {
			return nil, ErrEmptyResponse
		}
		choice := resp.Choices[0]
		if r := reasoningOf(choice); r != "" {
			out.Reasoning = r
		}
		out.Text = choice.Content

		step := Step{Text: choice.Content}
		assistant := Message{Role: RoleAssistant, Content: choice.Content}

		if len(choice.ToolCalls) == 0 || req.Tools.Count() == 0 {
			out.Steps = append(out.Steps, step)
			out.Messages = append(out.Messages, assistant)
			out.ToolCalls = nil
			return out, nil
		}

		aiParts := make([]llms.ContentPart, 0, len(choice.ToolCalls)+1)
		if choice.Content != "" {
			aiParts = append(aiParts, llms.TextContent{Text: choice.Content})
			assistant.Parts = append(assistant.Parts, Part{Type: PartText, Text: choice.Content})
		}
		for _, tc := range choice.ToolCalls {
			if tc.FunctionCall == nil {
				continue
			}
			call := ToolCall{ID: tc.ID, Name: tc.FunctionCall.Name, Args: parseArgs(tc.FunctionCall.Arguments)}
			step.ToolCalls = append(step.ToolCalls, call)
			aiParts = append(aiParts, tc)
			assistant.Parts = append(assistant.Parts, Part{
				Type: PartToolCall, ToolCallID: call.ID, ToolName: call.Name, Args: call.Args,
			})
		}
		msgs = append(msgs, llms.MessageContent{Role: llms.ChatMessageTypeAI, Parts: aiParts})

		toolMsg := Message{Role: RoleTool}
		for _, call := range step.ToolCalls {
			res := runTool(ctx, req.Tools, call)
			step.ToolResults = append(step.ToolResults, res)
			toolMsg.Parts = append(toolMsg.Parts, Part{
				Type: PartToolResult, ToolCallID: res.ID, ToolName: res.Name, Result: res.Result,
			})
			msgs = append(msgs, llms.MessageContent{
				Role:  llms.ChatMessageTypeTool,
				Parts: []llms.ContentPart{llms.ToolCallResponse{ToolCallID: res.ID, Name: res.Name, Content: res.Result}},
			})
		}

		out.Steps = append(out.Steps, step)
		out.Messages = append(out.Messages, assistant, toolMsg)
		out.ToolCalls = step.ToolCalls
	}
	return out, nil
}

// runTool never fails the generation; errors are reported back to the model.
func runTool(ctx context.Context, reg *tools.Registry, call ToolCall) ToolResult {
	res := ToolResult{ID: call.ID, Name: call.Name, Args: call.Args}
	args := call.Args
	if args == nil {
		args = map[string]any{}
	}
	r, err := reg.Execute(ctx, call.Name, args)
	if err != nil {
		res.Result = "Error: " + err.Error()
		return res
	}
	res.Result = r.Output
	return res
}

func toolDefinitions(reg *tools.Registry) []llms.Tool {
	if reg.Count() == 0 {
		return nil
	}
	all := reg.All()
	defs := make([]llms.Tool, 0, len(all))
	for _, t := range all {
		defs = append(defs, llms.Tool{
			Type: "function",
			Function: &llms.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Schema.JSONSchema(),
			},
		})
	}
	return defs
}

func toMessageContent(m Message) llms.MessageContent {
	role := chatMessageType(m.Role)
	if len(m.Parts) == 0 {
		return llms.TextParts(role, m.Content)
	}
	parts := make([]llms.ContentPart, 0, len(m.Parts))
	for _, p := range m.Parts {
		switch p.Type {
		case PartText:
			parts = append(parts, llms.TextContent{Text: p.Text})
		case PartToolCall:
			args, _ := json.Marshal(p.Args)
			parts = append(parts, llms.ToolCall{
				ID:           p.ToolCallID,
				Type:         "function",
				FunctionCall: &llms.FunctionCall{Name: p.ToolName, Arguments: string(args)},
			})
		case PartToolResult:
			parts = append(parts, llms.ToolCallResponse{ToolCallID: p.ToolCallID, Name: p.ToolName, Content: p.Result})
		}
	}
	return llms.MessageContent{Role: role, Parts: parts}
}

func chatMessageType(role string) llms.ChatMessageType {
	switch role {
	case RoleSystem:
		return llms.ChatMessageTypeSystem
	case RoleAssistant:
		return llms.ChatMessageTypeAI
	case RoleTool:
		return llms.ChatMessageTypeTool
	default:
		return llms.ChatMessageTypeHuman
	}
}

func parseArgs(raw string) map[string]any {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return map[string]any{}
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return map[string]any{}
	}
	return args
}

func reasoningOf(choice *llms.ContentChoice) string {
	if choice.GenerationInfo == nil {
		return ""
	}
	for _, key := range []string{"ReasoningContent", "reasoning_content", "reasoning"} {
		if s, ok := choice.GenerationInfo[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}
