// Package fake holds in-process provider doubles. They back tests and the
// LIKENESS_PROVIDER=fake dry-run mode, where no external account is billed.
package fake

import (
	"context"
	"fmt"
	"sync"

	"dopple/internal/ports"
)

// Operation names accepted by FailNext and Calls.
const (
	OpUploadAsset  = "upload_asset"
	OpCreateGroup  = "create_likeness_group"
	OpResolveID    = "resolve_renderable_id"
	OpSubmitRender = "submit_render"
	OpPollRender   = "poll_render"
	OpCloneVoice   = "clone_voice"
	OpComposeAgent = "compose_agent"
)

// Likeness is a scriptable ports.LikenessProvider.
type Likeness struct {
	// AutoComplete makes every poll of an unscripted job succeed.
	AutoComplete bool
	// Hook, when set, runs at the start of every call.
	Hook func(op string)

	mu     sync.Mutex
	seq    int
	calls  map[string]int
	errs   map[string][]error
	jobIDs []string
	polls  map[string]ports.RenderStatus
	texts  map[string]string
}

var _ ports.LikenessProvider = (*Likeness)(nil)

func NewLikeness() *Likeness {
	return &Likeness{
		calls: make(map[string]int),
		errs:  make(map[string][]error),
		polls: make(map[string]ports.RenderStatus),
		texts: make(map[string]string),
	}
}

func (f *Likeness) Name() string { return "fake" }

// FailNext queues errors returned by the next calls of op, one per call.
func (f *Likeness) FailNext(op string, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[op] = append(f.errs[op], errs...)
}

// NextJobIDs queues the ids returned by the next submissions. An empty
// string simulates a provider answering without an id.
func (f *Likeness) NextJobIDs(ids ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobIDs = append(f.jobIDs, ids...)
}

// SetRender scripts the answer to polls of jobID.
func (f *Likeness) SetRender(jobID string, st ports.RenderStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polls[jobID] = st
}

// Calls reports how many times op was invoked.
func (f *Likeness) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// ScriptText returns the text submitted for jobID.
func (f *Likeness) ScriptText(jobID string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.texts[jobID]
}

func (f *Likeness) begin(op string) error {
	if f.Hook != nil {
		f.Hook(op)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[op]++
	if q := f.errs[op]; len(q) > 0 {
		f.errs[op] = q[1:]
		return q[0]
	}
	return nil
}

func (f *Likeness) next(prefix string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	return fmt.Sprintf("%s-%d", prefix, f.seq)
}

func (f *Likeness) UploadAsset(_ context.Context, _ []byte, _ string) (string, error) {
	if err := f.begin(OpUploadAsset); err != nil {
		return "", err
	}
	return f.next("asset"), nil
}

func (f *Likeness) CreateLikenessGroup(_ context.Context, _, _ string) (string, error) {
	if err := f.begin(OpCreateGroup); err != nil {
		return "", err
	}
	return f.next("group"), nil
}

func (f *Likeness) ResolveRenderableID(_ context.Context, _ string) (string, error) {
	if err := f.begin(OpResolveID); err != nil {
		return "", err
	}
	return f.next("avatar"), nil
}

func (f *Likeness) SubmitRender(_ context.Context, _, _, scriptText string) (string, error) {
	if err := f.begin(OpSubmitRender); err != nil {
		return "", err
	}
	f.mu.Lock()
	var id string
	if len(f.jobIDs) > 0 {
		id, f.jobIDs = f.jobIDs[0], f.jobIDs[1:]
	} else {
		f.seq++
		id = fmt.Sprintf("job-%d", f.seq)
	}
	if id != "" {
		f.texts[id] = scriptText
	}
	f.mu.Unlock()
	return id, nil
}

func (f *Likeness) PollRender(_ context.Context, jobID string) (ports.RenderStatus, error) {
	if err := f.begin(OpPollRender); err != nil {
		return ports.RenderStatus{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if st, ok := f.polls[jobID]; ok {
		return st, nil
	}
	if f.AutoComplete {
		return ports.RenderStatus{
			Terminal:  true,
			Succeeded: true,
			URL:       "https://renders.invalid/" + jobID + ".mp4",
		}, nil
	}
	return ports.RenderStatus{}, nil
}

// Voices is a ports.VoiceCloner returning Handle or Err.
type Voices struct {
	Handle string
	Err    error

	mu    sync.Mutex
	calls int
}

var _ ports.VoiceCloner = (*Voices)(nil)

func (v *Voices) Name() string { return "fake" }

func (v *Voices) CloneVoice(_ context.Context, _ []byte, _, _ string) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.calls++
	if v.Err != nil {
		return "", v.Err
	}
	return v.Handle, nil
}

func (v *Voices) Calls() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.calls
}

// Agents is a ports.AgentComposer returning Prompt or Err.
type Agents struct {
	Prompt string
	Err    error

	mu    sync.Mutex
	calls int
}

var _ ports.AgentComposer = (*Agents)(nil)

func (a *Agents) Name() string { return "fake" }

func (a *Agents) ComposeAgent(_ context.Context, _ ports.AgentProfile) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	if a.Err != nil {
		return "", a.Err
	}
	return a.Prompt, nil
}

func (a *Agents) Calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}
