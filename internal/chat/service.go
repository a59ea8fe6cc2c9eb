package chat

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/suPer8Hu/lifehub/internal/ai"
	"github.com/suPer8Hu/lifehub/internal/tools"
)

const (
	defaultProvider = "ollama"
	defaultModel    = "llama3:latest"
)

// TitleLocker keeps concurrent turns on one chat from generating its title
// twice. Implementations must be safe for concurrent use.
type TitleLocker interface {
	TryLockTitle(ctx context.Context, chatID string, ttl time.Duration) (bool, error)
}

type Options struct {
	Provider     string
	ChatModel    string
	RewriteModel string
	SystemPrompt string
	// ContextWindowSize is how many past messages are replayed to the model.
	ContextWindowSize int
	Tools             *tools.Registry
	TitleLocker       TitleLocker
	Logger            *zap.Logger
}

type Service struct {
	repo     *Repo
	registry *ai.Registry

	providerName      string
	chatModel         string
	rewriteModel      string
	systemPrompt      string
	contextWindowSize int
	tools             *tools.Registry
	titleLocker       TitleLocker
	log               *zap.Logger

	now   func() time.Time
	newID func() string

	titles sync.WaitGroup
}

func NewService(repo *Repo, registry *ai.Registry, opts Options) *Service {
	if opts.ContextWindowSize <= 0 || opts.ContextWindowSize > 100 {
		opts.ContextWindowSize = 20
	}
	if opts.Provider == "" {
		opts.Provider = defaultProvider
	}
	if opts.ChatModel == "" {
		opts.ChatModel = defaultModel
	}
	if opts.RewriteModel == "" {
		opts.RewriteModel = opts.ChatModel
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Service{
		repo:              repo,
		registry:          registry,
		providerName:      opts.Provider,
		chatModel:         opts.ChatModel,
		rewriteModel:      opts.RewriteModel,
		systemPrompt:      opts.SystemPrompt,
		contextWindowSize: opts.ContextWindowSize,
		tools:             opts.Tools,
		titleLocker:       opts.TitleLocker,
		log:               opts.Logger.Named("chat"),
		now:               time.Now,
		newID:             uuid.NewString,
	}
}

// Wait blocks until background title generation has finished.
func (s *Service) Wait() {
	s.titles.Wait()
}

func (s *Service) provider(ctx context.Context, model string) (ai.Provider, error) {
	return s.registry.Get(ctx, s.providerName, model)
}

// TurnRequest is one user utterance. ChatID nil starts a new chat.
type TurnRequest struct {
	UserID string
	ChatID *string
	Text   string
	// ParentMessageID optionally branches the user half off an earlier
	// message (retry or edit).
	ParentMessageID *string
}

// Generation is the result of the first phase of a turn: the model has
// answered, nothing about the turn has been written yet.
type Generation struct {
	Chat            *Chat
	UserID          string
	Text            string
	ParentMessageID *string
	Response        *ai.Response
}

// Reply is the text shown to the user for this generation.
func (g *Generation) Reply() string {
	return replyText(g.Response)
}

// TurnOutcome is the result of committing a generation. Message is nil and
// Persisted false when the turn could not be written.
type TurnOutcome struct {
	Chat      *Chat
	Reply     string
	Message   *Message
	Persisted bool
}

// Generate resolves the chat, binds the caller's identity into the tool set
// and calls the model. Provider errors are wrapped with ErrUpstream.
func (s *Service) Generate(ctx context.Context, req TurnRequest) (*Generation, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, ErrEmptyMessage
	}

	c, err := s.GetOrCreateActiveChat(ctx, req.UserID, req.ChatID)
	if err != nil {
		return nil, err
	}
	if c == nil || c.UserID != req.UserID {
		return nil, ErrChatNotFound
	}

	if req.ParentMessageID != nil {
		p, err := s.repo.GetMessage(ctx, c.ID, *req.ParentMessageID)
		if err != nil {
			return nil, err
		}
		if p == nil {
			return nil, ErrParentNotFound
		}
	}

	history, err := s.history(ctx, c.ID)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	provider, err := s.provider(ctx, s.chatModel)
	if err != nil {
		return nil, err
	}

	resp, err := provider.Generate(ctx, ai.Request{
		Model:    s.chatModel,
		System:   s.systemPrompt,
		Messages: append(history, ai.Message{Role: ai.RoleUser, Content: req.Text}),
		Tools:    tools.Bind(s.tools, req.UserID),
	})
	if err != nil {
		return nil, fmt.Errorf("generate reply: %w: %w", ErrUpstream, err)
	}
	if resp == nil {
		resp = &ai.Response{}
	}

	return &Generation{
		Chat:            c,
		UserID:          req.UserID,
		Text:            req.Text,
		ParentMessageID: req.ParentMessageID,
		Response:        resp,
	}, nil
}

// Commit persists a generation as one turn. A persistence failure is logged
// and reported through TurnOutcome; the reply is always returned.
func (s *Service) Commit(ctx context.Context, gen *Generation) *TurnOutcome {
	out := &TurnOutcome{Chat: gen.Chat, Reply: gen.Reply()}

	msg, err := s.saveTurn(ctx, gen.UserID, gen.Chat.ID, gen.Text, gen.ParentMessageID, gen.Response)
	if err != nil {
		s.log.Warn("persist turn failed",
			zap.String("chat_id", gen.Chat.ID),
			zap.String("user_id", gen.UserID),
			zap.Error(err),
		)
		return out
	}
	out.Message = msg
	out.Persisted = true
	return out
}

// Converse runs a full turn: generate, commit, then refresh the chat title in
// the background while it is still the placeholder.
func (s *Service) Converse(ctx context.Context, req TurnRequest) (*TurnOutcome, error) {
	gen, err := s.Generate(ctx, req)
	if err != nil {
		return nil, err
	}
	out := s.Commit(ctx, gen)
	if out.Persisted && gen.Chat.Title == DefaultTitle {
		s.refreshTitleAsync(ctx, gen.Chat.ID)
	}
	return out, nil
}

// history returns the stored part of the context window, oldest first. The
// window includes the message about to be sent.
func (s *Service) history(ctx context.Context, chatID string) ([]ai.Message, error) {
	n := s.contextWindowSize - 1
	if n <= 0 {
		return nil, nil
	}
	recentDesc, err := s.repo.ListRecentMessagesDesc(ctx, chatID, n)
	if err != nil {
		return nil, err
	}
	slices.Reverse(recentDesc)

	out := make([]ai.Message, 0, len(recentDesc)+1)
	for _, m := range recentDesc {
		out = append(out, ai.Message{Role: string(m.Role), Content: m.Content})
	}
	return out, nil
}

// GetChatMessages returns one page of a chat's messages.
func (s *Service) GetChatMessages(ctx context.Context, chatID string, opts ListOptions) ([]Message, error) {
	return s.repo.ListMessages(ctx, chatID, opts)
}

// GetNestedConversation returns the page selected by opts as a forest.
func (s *Service) GetNestedConversation(ctx context.Context, chatID string, opts ListOptions) ([]*Node, error) {
	msgs, err := s.GetChatMessages(ctx, chatID, opts)
	if err != nil {
		return nil, err
	}
	return BuildTree(msgs), nil
}

// ValidateChatOwner returns ErrChatNotFound unless userID owns chatID.
func (s *Service) ValidateChatOwner(ctx context.Context, userID, chatID string) (*Chat, error) {
	c, err := s.repo.GetChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if c == nil || c.UserID != userID {
		return nil, ErrChatNotFound
	}
	return c, nil
}

func (s *Service) ListChats(ctx context.Context, userID string, limit int) ([]Chat, error) {
	return s.repo.ListChats(ctx, userID, limit)
}

// RecentMessages returns up to limit of the chat's latest messages, oldest first.
func (s *Service) RecentMessages(ctx context.Context, chatID string, limit int) ([]Message, error) {
	msgs, err := s.repo.ListRecentMessagesDesc(ctx, chatID, limit)
	if err != nil {
		return nil, err
	}
	slices.Reverse(msgs)
	return msgs, nil
}
