package ports

import "context"

// Provider adapters make exactly one attempt per call. Retries belong to the
// caller. Errors carry an errors.Code so the caller can tell a missing
// credential (CodeNotConfigured) from a transient fault or a rejection.

// LikenessProvider builds a talking likeness from a photo and renders clips
// with it.
type LikenessProvider interface {
	Name() string
	UploadAsset(ctx context.Context, data []byte, contentType string) (string, error)
	CreateLikenessGroup(ctx context.Context, assetHandle, displayName string) (string, error)
	ResolveRenderableID(ctx context.Context, groupHandle string) (string, error)
	SubmitRender(ctx context.Context, renderableID, voiceHandle, scriptText string) (string, error)
	PollRender(ctx context.Context, jobID string) (RenderStatus, error)
}

// RenderStatus is one poll answer. Media fields are set only on success.
type RenderStatus struct {
	Terminal        bool
	Succeeded       bool
	URL             string
	ThumbnailURL    string
	DurationSeconds float64
	Reason          string
}

// VoiceCloner turns a voice sample into a reusable voice handle.
type VoiceCloner interface {
	Name() string
	CloneVoice(ctx context.Context, sample []byte, contentType, name string) (string, error)
}

// AgentProfile is what the conversational agent is built from.
type AgentProfile struct {
	Name    string
	Bio     string
	Scripts []string
}

// AgentComposer writes the system prompt of a persona's conversational agent.
type AgentComposer interface {
	Name() string
	ComposeAgent(ctx context.Context, p AgentProfile) (string, error)
}
