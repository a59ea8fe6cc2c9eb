package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/suPer8Hu/lifehub/internal/ai"
	"github.com/suPer8Hu/lifehub/internal/auth"
	"github.com/suPer8Hu/lifehub/internal/config"
)

func TestTokenCommand(t *testing.T) {
	t.Setenv("JWT_SECRET", "cli-secret")

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"--env-file", filepath.Join(t.TempDir(), "none.env"), "token", "u42", "--ttl", "1m"})
	t.Cleanup(func() { rootCmd.SetArgs(nil); rootCmd.SetOut(nil) })

	require.NoError(t, rootCmd.Execute())

	sub, err := auth.ParseJWT(strings.TrimSpace(out.String()), "cli-secret")
	require.NoError(t, err)
	assert.Equal(t, "u42", sub)
}

func TestProviderRegistry(t *testing.T) {
	reg := newProviderRegistry(config.Config{
		OllamaBaseURL:    "http://localhost:11434",
		OllamaModel:      "llama3:latest",
		ChatMaxToolSteps: 3,
	})
	ctx := context.Background()

	p, err := reg.Get(ctx, "ollama", "")
	require.NoError(t, err)
	assert.NotNil(t, p)

	_, err = reg.Get(ctx, "openai", "gpt-4o-mini")
	assert.Error(t, err, "missing api key")

	_, err = reg.Get(ctx, "openrouter", "")
	assert.Error(t, err, "missing api key")

	_, err = reg.Get(ctx, "mystery", "")
	assert.ErrorIs(t, err, ai.ErrUnknownProvider)
}

func TestModelOr(t *testing.T) {
	assert.Equal(t, "a", modelOr(" a ", "b"))
	assert.Equal(t, "b", modelOr("  ", "b"))
}
