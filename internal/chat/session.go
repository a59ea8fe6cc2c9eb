package chat

import (
	"context"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/suPer8Hu/lifehub/internal/common"
)

const (
	titleSourceMessages = 3
	titleSnippetRunes   = 30
	titleMaxRunes       = 50
	titleSeparator      = " ... "

	titleTimeout = 10 * time.Second
	titleLockTTL = 30 * time.Second
)

// GetOrCreateActiveChat returns the chat with chatID, or (nil, nil) when it
// does not exist. With no chatID a new chat owned by userID is created.
func (s *Service) GetOrCreateActiveChat(ctx context.Context, userID string, chatID *string) (*Chat, error) {
	if chatID != nil {
		return s.repo.GetChat(ctx, *chatID)
	}

	id, err := common.NewULID()
	if err != nil {
		return nil, err
	}
	c := &Chat{ID: id, UserID: userID, Title: DefaultTitle}
	if err := s.repo.CreateChat(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// UpdateChatTitle derives a title from recent (oldest first) and stores it if
// the chat still has DefaultTitle. Failures are logged, never returned. It
// reports whether the title changed.
func (s *Service) UpdateChatTitle(ctx context.Context, chatID string, recent []Message) bool {
	title := titleFromMessages(recent)
	if title == "" {
		return false
	}
	changed, err := s.repo.UpdateTitleIfDefault(ctx, chatID, title)
	if err != nil {
		s.log.Warn("update chat title failed", zap.String("chat_id", chatID), zap.Error(err))
		return false
	}
	return changed
}

func (s *Service) refreshTitleAsync(parent context.Context, chatID string) {
	s.titles.Add(1)
	go func() {
		defer s.titles.Done()
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("title generation panicked", zap.String("chat_id", chatID), zap.Any("panic", r))
			}
		}()

		ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), titleTimeout)
		defer cancel()

		if s.titleLocker != nil {
			ok, err := s.titleLocker.TryLockTitle(ctx, chatID, titleLockTTL)
			if err != nil {
				s.log.Warn("title lock unavailable", zap.String("chat_id", chatID), zap.Error(err))
			} else if !ok {
				return
			}
		}

		recent, err := s.repo.ListRecentMessagesDesc(ctx, chatID, titleSourceMessages)
		if err != nil {
			s.log.Warn("load messages for title failed", zap.String("chat_id", chatID), zap.Error(err))
			return
		}
		slices.Reverse(recent)
		s.UpdateChatTitle(ctx, chatID, recent)
	}()
}

// titleFromMessages joins the first 30 characters of the last three messages
// with " ... " and caps the result at 50 characters.
func titleFromMessages(msgs []Message) string {
	if len(msgs) == 0 {
		return ""
	}
	if len(msgs) > titleSourceMessages {
		msgs = msgs[len(msgs)-titleSourceMessages:]
	}
	parts := make([]string, 0, len(msgs))
	for _, m := range msgs {
		parts = append(parts, truncateRunes(m.Content, titleSnippetRunes))
	}
	title := strings.Join(parts, titleSeparator)
	if utf8.RuneCountInString(title) > titleMaxRunes {
		title = truncateRunes(title, titleMaxRunes) + "..."
	}
	return title
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
