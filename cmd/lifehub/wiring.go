package main

import (
	"context"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/suPer8Hu/lifehub/internal/ai"
	"github.com/suPer8Hu/lifehub/internal/chat"
	"github.com/suPer8Hu/lifehub/internal/config"
	"github.com/suPer8Hu/lifehub/internal/store/redisstore"
)

// newProviderRegistry registers every supported backend; the active one is
// picked by cfg.AIProvider.
func newProviderRegistry(cfg config.Config) *ai.Registry {
	reg := ai.NewRegistry()
	steps := cfg.ChatMaxToolSteps

	reg.Register("ollama", func(ctx context.Context, model string) (ai.Provider, error) {
		return ai.NewOllamaProvider(cfg.OllamaBaseURL, modelOr(model, cfg.OllamaModel), steps)
	})
	reg.Register("openrouter", func(ctx context.Context, model string) (ai.Provider, error) {
		return ai.NewOpenRouterProvider(ai.OpenRouterConfig{
			BaseURL: cfg.OpenRouterBaseURL,
			APIKey:  cfg.OpenRouterAPIKey,
			Model:   modelOr(model, cfg.OpenRouterModel),
			SiteURL: cfg.OpenRouterSiteURL,
			AppName: cfg.OpenRouterAppName,
		}, steps)
	})
	reg.Register("openai", func(ctx context.Context, model string) (ai.Provider, error) {
		return ai.NewOpenAIProvider(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, modelOr(model, cfg.OpenAIModel), steps)
	})
	return reg
}

func modelOr(model, def string) string {
	if m := strings.TrimSpace(model); m != "" {
		return m
	}
	return def
}

// newChatService builds the engine. rds may be nil, which disables the
// title lock.
func newChatService(cfg config.Config, gdb *gorm.DB, rds *redisstore.Store, log *zap.Logger) *chat.Service {
	repo := chat.NewRepo(gdb)
	opts := chat.Options{
		Provider:          cfg.AIProvider,
		ChatModel:         cfg.ChatModel(),
		RewriteModel:      cfg.ChatRewriteModel,
		SystemPrompt:      cfg.ChatSystemPrompt,
		ContextWindowSize: cfg.ChatContextWindowSize,
		Tools:             chat.NewHistoryTools(repo, nil),
		Logger:            log,
	}
	if rds != nil {
		opts.TitleLocker = rds
	}
	return chat.NewService(repo, newProviderRegistry(cfg), opts)
}

// connectRedis returns nil when Redis is unreachable; the engine runs
// without the title lock.
func connectRedis(ctx context.Context, cfg config.Config, log *zap.Logger) *redisstore.Store {
	rds := redisstore.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err := rds.Ping(ctx); err != nil {
		log.Warn("redis unavailable, title lock disabled", zap.String("addr", cfg.RedisAddr), zap.Error(err))
		_ = rds.Close()
		return nil
	}
	return rds
}
