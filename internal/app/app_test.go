package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dopple/internal/config"
	"dopple/internal/persona"
	"dopple/internal/pipeline"
	"dopple/internal/pkg/logger"
	"dopple/internal/pkg/shutdown"
	"dopple/internal/scheduler"
)

func dryRunConfig() *config.Config {
	cfg := config.Default()
	cfg.Store.Provider = "memory"
	cfg.Providers.Likeness = "fake"
	return &cfg
}

func TestDryRunPassCompletesPersona(t *testing.T) {
	ctx := context.Background()
	a, err := New(ctx, dryRunConfig(), logger.Discard())
	require.NoError(t, err)
	defer a.Close(ctx)

	require.NoError(t, a.Store.Set(ctx, "uploads/ada.jpg", []byte("jpeg")))
	rec := &persona.Record{
		ID:        "ada",
		Name:      "Ada",
		Bio:       "Mathematician and writer of the first program.",
		Status:    persona.StatusUploaded,
		Scripts:   []persona.Script{{Key: "intro", Text: "Hi, I'm Ada."}},
		Photo:     &persona.Media{Key: "uploads/ada.jpg", ContentType: "image/jpeg"},
		CreatedAt: time.Now().UTC(),
	}
	data, err := rec.Encode()
	require.NoError(t, err)
	require.NoError(t, a.Store.Set(ctx, persona.KeyFor("ada"), data))

	sum, err := a.Scheduler.Run(ctx, scheduler.Request{Mode: scheduler.ModeShort})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Processed)
	assert.Equal(t, 1, sum.Summary.VideosCompleted)

	got, err := a.Writer.Load(ctx, persona.KeyFor("ada"))
	require.NoError(t, err)
	assert.Equal(t, persona.StatusReady, got.Status)
	assert.NotEmpty(t, got.ProviderState.RenderableID)
	require.NotNil(t, got.Agent)
	assert.Equal(t, pipeline.AgentSourceTemplate, got.Agent.Source)
	assert.Empty(t, got.ProviderState.VoiceHandle, "unconfigured cloner stores nothing")
}

func TestProvidersReportCredentials(t *testing.T) {
	cfg := dryRunConfig()
	cfg.Providers.Likeness = "heygen"
	cfg.Providers.HeyGen.APIKey = "hk"

	a, err := New(context.Background(), cfg, logger.Discard())
	require.NoError(t, err)
	defer a.Close(context.Background())

	configured := map[string]bool{}
	for _, p := range a.Providers {
		configured[p.Name()] = p.Configured()
	}
	assert.Equal(t, map[string]bool{"heygen": true, "elevenlabs": false, "openai": false}, configured)
	assert.Nil(t, a.Kicks)
	assert.Nil(t, a.Pool)
}

func TestRegisterHandsHooksToManager(t *testing.T) {
	a, err := New(context.Background(), dryRunConfig(), logger.Discard())
	require.NoError(t, err)

	m := shutdown.NewManager(logger.Discard(), time.Second)
	a.Register(m)
	m.Shutdown()

	select {
	case <-m.Done():
	case <-time.After(time.Second):
		t.Fatal("shutdown did not finish")
	}
}
