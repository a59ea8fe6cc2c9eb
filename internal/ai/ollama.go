package ai

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms/openai"
)

// NewOllamaProvider uses Ollama's OpenAI-compatible /v1 endpoint.
func NewOllamaProvider(baseURL, model string, maxSteps int) (*LangChainProvider, error) {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if model == "" {
		model = "llama3:latest"
	}
	llm, err := openai.New(
		openai.WithBaseURL(strings.TrimRight(baseURL, "/")+"/v1"),
		// ollama ignores the key but the client refuses to start without one
		openai.WithToken("ollama"),
		openai.WithModel(model),
		openai.WithHTTPClient(&http.Client{Timeout: 90 * time.Second}),
	)
	if err != nil {
		return nil, fmt.Errorf("ollama: %w", err)
	}
	return NewLangChainProvider(llm, maxSteps), nil
}
