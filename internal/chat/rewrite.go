package chat

import (
	"context"
	"fmt"
	"strings"

	"github.com/suPer8Hu/lifehub/internal/ai"
)

const standaloneInstruction = "Given the following conversation and a follow up question, " +
	"rephrase the follow up question to be a standalone question, in its original language. " +
	"Reply with the standalone question only."

type HistoryEntry struct {
	Role    Role   `json:"role" binding:"required"`
	Content string `json:"content"`
}

// GenerateStandaloneQuestion rewrites followUp so it can be understood
// without history. Provider errors are returned.
func (s *Service) GenerateStandaloneQuestion(ctx context.Context, history []HistoryEntry, followUp string) (string, error) {
	provider, err := s.provider(ctx, s.rewriteModel)
	if err != nil {
		return "", err
	}

	prompt := fmt.Sprintf("Chat History:\n%s\nFollow Up Input: %s\nStandalone question:",
		serializeHistory(history), followUp)

	resp, err := provider.Generate(ctx, ai.Request{
		Model:       s.rewriteModel,
		System:      standaloneInstruction,
		Temperature: ai.Temperature(0),
		Messages:    []ai.Message{{Role: ai.RoleUser, Content: prompt}},
	})
	if err != nil {
		return "", fmt.Errorf("rewrite follow-up: %w: %w", ErrUpstream, err)
	}
	return replyText(resp), nil
}

func serializeHistory(history []HistoryEntry) string {
	var b strings.Builder
	for _, h := range history {
		switch h.Role {
		case RoleUser:
			b.WriteString("Human: ")
		case RoleAssistant:
			b.WriteString("Assistant: ")
		default:
			continue
		}
		b.WriteString(h.Content)
		b.WriteByte('\n')
	}
	return b.String()
}
