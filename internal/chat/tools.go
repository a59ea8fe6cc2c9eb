package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/suPer8Hu/lifehub/internal/tools"
)

// NewHistoryTools returns the engine's own tools: lookups over the caller's
// chat history plus a clock. The history tools are identity-bound.
func NewHistoryTools(repo *Repo, now func() time.Time) *tools.Registry {
	if now == nil {
		now = time.Now
	}
	reg := tools.NewRegistry()
	reg.MustRegister(searchMessagesTool(repo))
	reg.MustRegister(listChatsTool(repo))
	reg.MustRegister(currentTimeTool(now))
	return reg
}

type messageHit struct {
	ChatID    string    `json:"chat_id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

func searchMessagesTool(repo *Repo) *tools.Tool {
	return &tools.Tool{
		Name:        "search_messages",
		Description: "Search the user's past chat messages for a phrase. Returns the newest matches.",
		Schema: tools.Schema{
			Required: []string{"query", tools.IdentityParam},
			Properties: map[string]tools.Property{
				"query":             {Type: "string", Description: "Text to look for"},
				"limit":             {Type: "integer", Description: "Maximum number of matches (default 10)"},
				tools.IdentityParam: {Type: "string"},
			},
		},
		BindsIdentity: true,
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			userID, _ := args[tools.IdentityParam].(string)
			query, _ := args["query"].(string)
			if query == "" {
				return "", fmt.Errorf("query must be a non-empty string")
			}
			msgs, err := repo.SearchMessages(ctx, userID, query, intArg(args, "limit"))
			if err != nil {
				return "", err
			}
			hits := make([]messageHit, 0, len(msgs))
			for _, m := range msgs {
				hits = append(hits, messageHit{ChatID: m.ChatID, Role: m.Role, Content: m.Content, CreatedAt: m.CreatedAt})
			}
			return marshalResult(hits)
		},
	}
}

func listChatsTool(repo *Repo) *tools.Tool {
	return &tools.Tool{
		Name:        "list_chats",
		Description: "List the user's most recently active chats with their titles.",
		Schema: tools.Schema{
			Required: []string{tools.IdentityParam},
			Properties: map[string]tools.Property{
				"limit":             {Type: "integer", Description: "Maximum number of chats (default 20)"},
				tools.IdentityParam: {Type: "string"},
			},
		},
		BindsIdentity: true,
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			userID, _ := args[tools.IdentityParam].(string)
			chats, err := repo.ListChats(ctx, userID, intArg(args, "limit"))
			if err != nil {
				return "", err
			}
			return marshalResult(chats)
		},
	}
}

func currentTimeTool(now func() time.Time) *tools.Tool {
	return &tools.Tool{
		Name:        "current_time",
		Description: "Return the current date and time in RFC 3339 format (UTC).",
		Schema:      tools.Schema{Properties: map[string]tools.Property{}},
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			return now().UTC().Format(time.RFC3339), nil
		},
	}
}

// intArg reads a numeric argument. JSON decoding yields float64.
func intArg(args map[string]any, key string) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	default:
		return 0
	}
}

func marshalResult(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
