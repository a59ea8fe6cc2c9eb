package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	gormsqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/suPer8Hu/lifehub/internal/ai"
	"github.com/suPer8Hu/lifehub/internal/tools"
)

// fakeProvider records every request. run, when set, decides the answer.
type fakeProvider struct {
	mu   sync.Mutex
	reqs []ai.Request
	resp *ai.Response
	err  error
	run  func(ctx context.Context, req ai.Request) (*ai.Response, error)
}

func (p *fakeProvider) Generate(ctx context.Context, req ai.Request) (*ai.Response, error) {
	p.mu.Lock()
	p.reqs = append(p.reqs, req)
	p.mu.Unlock()
	if p.run != nil {
		return p.run(ctx, req)
	}
	return p.resp, p.err
}

func (p *fakeProvider) last() ai.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reqs[len(p.reqs)-1]
}

func textResponse(text string) *ai.Response {
	return &ai.Response{
		Text:     text,
		Messages: []ai.Message{{Role: ai.RoleAssistant, Content: text}},
	}
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(gormsqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, AutoMigrate(db))
	return db
}

type testEnv struct {
	db   *gorm.DB
	repo *Repo
	svc  *Service
	prov *fakeProvider
	logs *observer.ObservedLogs
}

func newTestEnv(t *testing.T, opts Options) *testEnv {
	t.Helper()
	db := openTestDB(t)
	repo := NewRepo(db)

	prov := &fakeProvider{resp: textResponse("ok")}
	reg := ai.NewRegistry()
	reg.Register("fake", func(ctx context.Context, model string) (ai.Provider, error) {
		return prov, nil
	})

	core, logs := observer.New(zapcore.DebugLevel)
	opts.Provider = "fake"
	opts.Logger = zap.New(core)

	svc := NewService(repo, reg, opts)
	t.Cleanup(svc.Wait)
	return &testEnv{db: db, repo: repo, svc: svc, prov: prov, logs: logs}
}

func (e *testEnv) createChat(t *testing.T, userID string) *Chat {
	t.Helper()
	c, err := e.svc.GetOrCreateActiveChat(context.Background(), userID, nil)
	require.NoError(t, err)
	return c
}

func (e *testEnv) messages(t *testing.T, chatID string) []Message {
	t.Helper()
	msgs, err := e.repo.ListMessages(context.Background(), chatID, ListOptions{})
	require.NoError(t, err)
	return msgs
}

func TestConverse_EndToEnd(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.prov.resp = &ai.Response{
		Text: "It's sunny in Paris.",
		Steps: []ai.Step{
			{ToolCalls: []ai.ToolCall{{ID: "c1", Name: "getWeather", Args: map[string]any{"city": "Paris"}}}},
			{
				Text:        "It's sunny in Paris.",
				ToolResults: []ai.ToolResult{{ID: "c1", Name: "getWeather", Args: map[string]any{"city": "Paris"}, Result: "sunny"}},
			},
		},
		Messages: []ai.Message{
			{Role: ai.RoleAssistant, Parts: []ai.Part{{Type: ai.PartToolCall, ToolCallID: "c1", ToolName: "getWeather"}}},
			{Role: ai.RoleTool, Parts: []ai.Part{{Type: ai.PartToolResult, ToolCallID: "c1", Result: "sunny"}}},
			{Role: ai.RoleAssistant, Parts: []ai.Part{{Type: ai.PartText, Text: "It's sunny in Paris."}}},
		},
	}

	out, err := env.svc.Converse(context.Background(), TurnRequest{UserID: "u1", Text: "What's the weather?"})
	require.NoError(t, err)
	env.svc.Wait()

	assert.True(t, out.Persisted)
	assert.Equal(t, "It's sunny in Paris.", out.Reply)
	require.NotNil(t, out.Message)
	assert.Equal(t, "u1", out.Chat.UserID)

	msgs := env.messages(t, out.Chat.ID)
	require.Len(t, msgs, 2)
	user, assistant := msgs[0], msgs[1]

	assert.Equal(t, RoleUser, user.Role)
	assert.Equal(t, "What's the weather?", user.Content)
	assert.Equal(t, RoleAssistant, assistant.Role)
	assert.Equal(t, "It's sunny in Paris.", assistant.Content)
	require.NotNil(t, assistant.ParentMessageID)
	assert.Equal(t, user.ID, *assistant.ParentMessageID)
	assert.Equal(t, time.Second, assistant.CreatedAt.Sub(user.CreatedAt))

	require.Len(t, assistant.ToolCalls, 2)
	assert.Equal(t, InvocationCall, assistant.ToolCalls[0].Type)
	assert.Equal(t, InvocationResult, assistant.ToolCalls[1].Type)
	require.NotNil(t, assistant.ToolCalls[1].Result)
	assert.Equal(t, "sunny", *assistant.ToolCalls[1].Result)

	c, err := env.repo.GetChat(context.Background(), out.Chat.ID)
	require.NoError(t, err)
	assert.Equal(t, "What's the weather? ... It's sunny in Paris.", c.Title)
}

func TestConverse_KeepsExistingTitle(t *testing.T) {
	env := newTestEnv(t, Options{})
	c := env.createChat(t, "u1")
	changed, err := env.repo.UpdateTitleIfDefault(context.Background(), c.ID, "Trip planning")
	require.NoError(t, err)
	require.True(t, changed)

	_, err = env.svc.Converse(context.Background(), TurnRequest{UserID: "u1", ChatID: &c.ID, Text: "hello"})
	require.NoError(t, err)
	env.svc.Wait()

	got, err := env.repo.GetChat(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, "Trip planning", got.Title)
}

type stubLocker struct {
	ok  bool
	err error
}

func (l stubLocker) TryLockTitle(ctx context.Context, chatID string, ttl time.Duration) (bool, error) {
	return l.ok, l.err
}

func TestConverse_TitleLockHeldElsewhere(t *testing.T) {
	env := newTestEnv(t, Options{TitleLocker: stubLocker{ok: false}})

	out, err := env.svc.Converse(context.Background(), TurnRequest{UserID: "u1", Text: "hello"})
	require.NoError(t, err)
	env.svc.Wait()

	c, err := env.repo.GetChat(context.Background(), out.Chat.ID)
	require.NoError(t, err)
	assert.Equal(t, DefaultTitle, c.Title)
}

func TestConverse_TitleLockErrorStillTitles(t *testing.T) {
	env := newTestEnv(t, Options{TitleLocker: stubLocker{err: errors.New("redis down")}})

	out, err := env.svc.Converse(context.Background(), TurnRequest{UserID: "u1", Text: "hello"})
	require.NoError(t, err)
	env.svc.Wait()

	c, err := env.repo.GetChat(context.Background(), out.Chat.ID)
	require.NoError(t, err)
	assert.Equal(t, "hello ... ok", c.Title)
	assert.Equal(t, 1, env.logs.FilterMessage("title lock unavailable").Len())
}

func TestGenerate_BindsCallerIdentity(t *testing.T) {
	var seen map[string]any
	reg := tools.NewRegistry()
	reg.MustRegister(&tools.Tool{
		Name:          "list_notes",
		BindsIdentity: true,
		Schema: tools.Schema{
			Required:   []string{tools.IdentityParam},
			Properties: map[string]tools.Property{tools.IdentityParam: {Type: "string"}},
		},
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			seen = args
			return "[]", nil
		},
	})
	env := newTestEnv(t, Options{Tools: reg})
	env.prov.run = func(ctx context.Context, req ai.Request) (*ai.Response, error) {
		tool := req.Tools.Get("list_notes")
		require.NotNil(t, tool)
		assert.False(t, tool.Schema.Has(tools.IdentityParam))
		_, err := req.Tools.Execute(ctx, "list_notes", map[string]any{tools.IdentityParam: "u2"})
		require.NoError(t, err)
		return textResponse("done"), nil
	}

	_, err := env.svc.Generate(context.Background(), TurnRequest{UserID: "u1", Text: "my notes?"})
	require.NoError(t, err)
	assert.Equal(t, "u1", seen[tools.IdentityParam])
	// the service's own registry still exposes the parameter
	assert.True(t, reg.Get("list_notes").Schema.Has(tools.IdentityParam))
}

func TestGenerate_ProviderErrorPropagates(t *testing.T) {
	env := newTestEnv(t, Options{})
	errUpstream := errors.New("upstream 503")
	env.prov.resp = nil
	env.prov.err = errUpstream
	c := env.createChat(t, "u1")

	_, err := env.svc.Converse(context.Background(), TurnRequest{UserID: "u1", ChatID: &c.ID, Text: "hi"})
	require.ErrorIs(t, err, errUpstream)
	require.ErrorIs(t, err, ErrUpstream)
	assert.Empty(t, env.messages(t, c.ID))
}

func TestGenerate_RejectsEmptyText(t *testing.T) {
	env := newTestEnv(t, Options{})
	_, err := env.svc.Generate(context.Background(), TurnRequest{UserID: "u1", Text: "  \n"})
	require.ErrorIs(t, err, ErrEmptyMessage)
	assert.Empty(t, env.prov.reqs)
}

func TestGenerate_UnknownOrForeignChat(t *testing.T) {
	env := newTestEnv(t, Options{})
	c := env.createChat(t, "owner")
	missing := "01J0000000000000000000000X"

	_, err := env.svc.Generate(context.Background(), TurnRequest{UserID: "intruder", ChatID: &c.ID, Text: "hi"})
	require.ErrorIs(t, err, ErrChatNotFound)

	_, err = env.svc.Generate(context.Background(), TurnRequest{UserID: "owner", ChatID: &missing, Text: "hi"})
	require.ErrorIs(t, err, ErrChatNotFound)
	assert.Empty(t, env.prov.reqs)
}

func TestGenerate_UsesContextWindow(t *testing.T) {
	const window = 3
	env := newTestEnv(t, Options{ContextWindowSize: window, SystemPrompt: "be brief"})
	c := env.createChat(t, "u2")

	base := time.Now().UTC().Truncate(time.Millisecond)
	for i := 0; i < 5; i++ {
		role := RoleUser
		if i%2 == 1 {
			role = RoleAssistant
		}
		require.NoError(t, env.repo.InsertMessage(context.Background(), &Message{
			ID:        uuid.NewString(),
			ChatID:    c.ID,
			UserID:    "u2",
			Role:      role,
			Content:   fmt.Sprintf("seed %d", i),
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}

	_, err := env.svc.Generate(context.Background(), TurnRequest{UserID: "u2", ChatID: &c.ID, Text: "new"})
	require.NoError(t, err)

	req := env.prov.last()
	assert.Equal(t, "be brief", req.System)
	require.Len(t, req.Messages, window)
	assert.Equal(t, "seed 3", req.Messages[0].Content)
	assert.Equal(t, "seed 4", req.Messages[1].Content)
	assert.Equal(t, ai.Message{Role: ai.RoleUser, Content: "new"}, req.Messages[2])
}

func TestCommit_PersistenceFailureStillReturnsReply(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.prov.resp = textResponse("here you go")

	gen, err := env.svc.Generate(context.Background(), TurnRequest{UserID: "u1", Text: "hi"})
	require.NoError(t, err)

	require.NoError(t, env.db.Migrator().DropTable(&Message{}))

	out := env.svc.Commit(context.Background(), gen)
	assert.False(t, out.Persisted)
	assert.Nil(t, out.Message)
	assert.Equal(t, "here you go", out.Reply)

	entries := env.logs.FilterMessage("persist turn failed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.WarnLevel, entries[0].Level)
	assert.Equal(t, gen.Chat.ID, entries[0].ContextMap()["chat_id"])
}

func TestGetNestedConversation(t *testing.T) {
	env := newTestEnv(t, Options{})
	c := env.createChat(t, "u1")

	clock := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	env.svc.now = func() time.Time { return clock }
	first, err := env.svc.SaveTurn(context.Background(), "u1", c.ID, "one", textResponse("uno"))
	require.NoError(t, err)

	clock = clock.Add(time.Minute)
	second, err := env.svc.SaveTurnWithParent(context.Background(), "u1", c.ID, "two", first.ID, textResponse("dos"))
	require.NoError(t, err)

	forest, err := env.svc.GetNestedConversation(context.Background(), c.ID, ListOptions{})
	require.NoError(t, err)
	require.Len(t, forest, 1)

	root := forest[0]
	assert.Equal(t, "one", root.Content)
	require.Len(t, root.Children, 1)
	assert.Equal(t, first.ID, root.Children[0].ID)
	require.Len(t, root.Children[0].Children, 1)
	userTwo := root.Children[0].Children[0]
	assert.Equal(t, "two", userTwo.Content)
	require.Len(t, userTwo.Children, 1)
	assert.Equal(t, second.ID, userTwo.Children[0].ID)
}

func TestGetChatMessages_OrderAndPaging(t *testing.T) {
	env := newTestEnv(t, Options{})
	c := env.createChat(t, "u1")

	clock := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	env.svc.now = func() time.Time { return clock }
	for _, text := range []string{"a", "b"} {
		_, err := env.svc.SaveTurn(context.Background(), "u1", c.ID, text, textResponse(text+"!"))
		require.NoError(t, err)
		clock = clock.Add(time.Minute)
	}

	all, err := env.svc.GetChatMessages(context.Background(), c.ID, ListOptions{})
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, []string{"a", "a!", "b", "b!"}, contents(all))

	desc, err := env.svc.GetChatMessages(context.Background(), c.ID, ListOptions{Desc: true, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"b!", "b"}, contents(desc))

	page, err := env.svc.GetChatMessages(context.Background(), c.ID, ListOptions{Limit: 2, Offset: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "b!"}, contents(page))

	byIndex, err := env.svc.GetChatMessages(context.Background(), c.ID, ListOptions{OrderBy: "messageIndex"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "a!", "b!"}, contents(byIndex))

	_, err = env.svc.GetChatMessages(context.Background(), c.ID, ListOptions{OrderBy: "content"})
	require.ErrorIs(t, err, ErrInvalidOrder)
}

func TestValidateChatOwner(t *testing.T) {
	env := newTestEnv(t, Options{})
	c := env.createChat(t, "u1")

	got, err := env.svc.ValidateChatOwner(context.Background(), "u1", c.ID)
	require.NoError(t, err)
	assert.Equal(t, c.ID, got.ID)

	_, err = env.svc.ValidateChatOwner(context.Background(), "u2", c.ID)
	require.ErrorIs(t, err, ErrChatNotFound)
}

func contents(msgs []Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Content)
	}
	return out
}
