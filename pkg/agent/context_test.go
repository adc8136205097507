package agent

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openloop-dev/openloop/pkg/config"
	"github.com/openloop-dev/openloop/pkg/llm"
	"github.com/openloop-dev/openloop/pkg/models"
)

func TestBuildSystemPromptWithoutPinnedContext(t *testing.T) {
	env := newTestEnv(t, &scriptedClient{}, nil)
	sessionID, _ := env.startTurn(t, "hi")

	prompt := env.runner.buildSystemPrompt(context.Background(), sessionID, "test-model")
	assert.Equal(t, basePrompt, prompt)
}

func TestBuildSystemPromptRendersPinnedFile(t *testing.T) {
	env := newTestEnv(t, &scriptedClient{}, nil)
	sessionID, _ := env.startTurn(t, "hi")
	ctx := context.Background()

	require.NoError(t, os.WriteFile(filepath.Join(env.sandbox.Root(), "guide.md"), []byte("follow the guide"), 0o644))
	item, err := env.contexts.UpsertByRef(ctx, sessionID, models.ContextKindFile, "guide.md", "guide.md")
	require.NoError(t, err)
	require.NoError(t, env.contexts.SetPinned(ctx, sessionID, item.ID, true))

	prompt := env.runner.buildSystemPrompt(ctx, sessionID, "test-model")
	assert.Contains(t, prompt, "## Pinned context")
	assert.Contains(t, prompt, "### guide.md (file)")
	assert.Contains(t, prompt, "follow the guide")
}

func TestBuildSystemPromptSummarizesLargeContent(t *testing.T) {
	client := &scriptedClient{results: []*llm.Result{
		{Text: "a short summary", FinishReason: "stop"},
	}}
	env := newTestEnv(t, client, func(cfg *config.Config) {
		cfg.SummaryTriggerBytes = 100
	})
	sessionID, _ := env.startTurn(t, "hi")
	ctx := context.Background()

	big := strings.Repeat("lorem ipsum ", 50)
	require.NoError(t, os.WriteFile(filepath.Join(env.sandbox.Root(), "big.txt"), []byte(big), 0o644))
	item, err := env.contexts.UpsertByRef(ctx, sessionID, models.ContextKindFile, "big.txt", "big.txt")
	require.NoError(t, err)
	require.NoError(t, env.contexts.SetPinned(ctx, sessionID, item.ID, true))

	prompt := env.runner.buildSystemPrompt(ctx, sessionID, "test-model")
	assert.Contains(t, prompt, "a short summary")
	assert.NotContains(t, prompt, big)

	// summary cached: a second render must not hit the provider again
	refreshed, err := env.contexts.Get(ctx, sessionID, item.ID)
	require.NoError(t, err)
	assert.Equal(t, "a short summary", refreshed.Summary)
	assert.NotEmpty(t, refreshed.SummarySHA256)
}

func TestBuildHistoryBoundsWindow(t *testing.T) {
	env := newTestEnv(t, &scriptedClient{}, func(cfg *config.Config) {
		cfg.MaxHistoryMessages = 4
	})
	sessionID, _ := env.startTurn(t, "first")
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		_, err := env.sessions.AddMessage(ctx, sessionID, models.RoleAssistant, "reply")
		require.NoError(t, err)
		_, err = env.sessions.AddMessage(ctx, sessionID, models.RoleUser, "followup")
		require.NoError(t, err)
	}

	msgs, err := env.runner.buildHistory(ctx, sessionID)
	require.NoError(t, err)
	assert.Len(t, msgs, 4)
	assert.Equal(t, llm.RoleUser, msgs[len(msgs)-1].Role)
	assert.Equal(t, "followup", msgs[len(msgs)-1].Content)
}
