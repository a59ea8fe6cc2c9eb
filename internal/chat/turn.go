package chat

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"

	"github.com/suPer8Hu/lifehub/internal/ai"
)

// assistantSkew keeps the assistant half strictly after the user half when
// both are ordered by created_at.
const assistantSkew = time.Second

// SaveTurn writes the user message and the assistant reply of one turn in a
// single transaction and returns the assistant message.
func (s *Service) SaveTurn(ctx context.Context, userID, chatID, text string, resp *ai.Response) (*Message, error) {
	return s.saveTurn(ctx, userID, chatID, text, nil, resp)
}

// SaveTurnWithParent is SaveTurn with the user half attached to parentID.
func (s *Service) SaveTurnWithParent(ctx context.Context, userID, chatID, text, parentID string, resp *ai.Response) (*Message, error) {
	return s.saveTurn(ctx, userID, chatID, text, &parentID, resp)
}

func (s *Service) saveTurn(ctx context.Context, userID, chatID, text string, parentID *string, resp *ai.Response) (*Message, error) {
	if resp == nil {
		resp = &ai.Response{}
	}

	// datetime(3) keeps milliseconds; truncate so what we return matches
	// what a later read sees.
	tUser := s.now().UTC().Truncate(time.Millisecond)
	tAssistant := tUser.Add(assistantSkew)

	userMsg := &Message{
		ID:              s.newID(),
		ChatID:          chatID,
		UserID:          userID,
		Role:            RoleUser,
		Content:         text,
		ParentMessageID: parentID,
		MessageIndex:    strPtr(UserMessageIndex),
		CreatedAt:       tUser,
		UpdatedAt:       tUser,
	}
	assistantMsg := &Message{
		ID:              s.newID(),
		ChatID:          chatID,
		UserID:          userID,
		Role:            RoleAssistant,
		Content:         replyText(resp),
		ToolCalls:       aggregateToolCalls(resp.Steps),
		ParentMessageID: strPtr(userMsg.ID),
		MessageIndex:    strPtr(AssistantMessageIndex),
		CreatedAt:       tAssistant,
		UpdatedAt:       tAssistant,
	}
	if resp.Reasoning != "" {
		assistantMsg.Reasoning = strPtr(resp.Reasoning)
	}

	err := s.repo.InTx(ctx, func(tx *Repo) error {
		c, err := tx.GetChat(ctx, chatID)
		if err != nil {
			return err
		}
		if c == nil || c.UserID != userID {
			return ErrChatNotFound
		}
		if parentID != nil {
			p, err := tx.GetMessage(ctx, chatID, *parentID)
			if err != nil {
				return err
			}
			if p == nil {
				return ErrParentNotFound
			}
		}

		if err := tx.InsertMessage(ctx, userMsg); err != nil {
			return fmt.Errorf("insert user message: %w", err)
		}
		if err := tx.InsertMessage(ctx, assistantMsg); err != nil {
			return fmt.Errorf("insert assistant message: %w", err)
		}
		return tx.TouchChat(ctx, chatID, tAssistant)
	})
	if err != nil {
		return nil, err
	}
	return assistantMsg, nil
}

// replyText is the text of the last assistant message of the response, or
// resp.Text when the response carries no assistant message.
func replyText(resp *ai.Response) string {
	if resp == nil {
		return ""
	}
	for i := len(resp.Messages) - 1; i >= 0; i-- {
		m := resp.Messages[i]
		if m.Role != ai.RoleAssistant {
			continue
		}
		if len(m.Parts) == 0 {
			return m.Content
		}
		var b strings.Builder
		for _, p := range m.Parts {
			if p.Type == ai.PartText {
				b.WriteString(p.Text)
			}
		}
		return b.String()
	}
	return resp.Text
}

// aggregateToolCalls flattens every step into calls followed by results,
// step by step.
func aggregateToolCalls(steps []ai.Step) datatypes.JSONSlice[ToolInvocation] {
	var out datatypes.JSONSlice[ToolInvocation]
	for _, st := range steps {
		for _, c := range st.ToolCalls {
			out = append(out, ToolInvocation{
				Type:      InvocationCall,
				CallID:    c.ID,
				Name:      c.Name,
				Arguments: c.Args,
			})
		}
		for _, r := range st.ToolResults {
			out = append(out, ToolInvocation{
				Type:      InvocationResult,
				CallID:    r.ID,
				Name:      r.Name,
				Arguments: r.Args,
				Result:    strPtr(r.Result),
			})
		}
	}
	return out
}
