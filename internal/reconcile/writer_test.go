package reconcile

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dopple/internal/adapters/storage/memstore"
	"dopple/internal/persona"
	apperrors "dopple/internal/pkg/errors"
)

type recordingNotifier struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (n *recordingNotifier) NotifyReady(_ context.Context, id, contact, name string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, id+"|"+contact+"|"+name)
	return n.err
}

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func seed(t *testing.T, s *memstore.Store, r *persona.Record) string {
	t.Helper()
	data, err := r.Encode()
	require.NoError(t, err)
	key := persona.KeyFor(r.ID)
	s.Put(key, data)
	return key
}

func processing() *persona.Record {
	return &persona.Record{
		ID:            "p1",
		Name:          "Ada",
		Email:         "ada@example.com",
		Status:        persona.StatusProcessing,
		Scripts:       []persona.Script{{Key: "fun", Text: "hi"}},
		Renders:       map[string]persona.Render{},
		Pending:       map[string]persona.Pending{"fun": {JobID: "j1", StartedAt: now}},
		Failures:      map[string]string{},
		ProviderState: persona.ProviderState{AssetHandle: "a", GroupHandle: "g", RenderableID: "r"},
		CreatedAt:     now,
	}
}

func TestSaveSkipsUnchangedRecord(t *testing.T) {
	s := memstore.New()
	key := seed(t, s, processing())
	w := New(s, nil, nil, WithClock(func() time.Time { return now }))

	_, res, err := w.Save(context.Background(), key, processing())

	require.NoError(t, err)
	assert.False(t, res.Written)
	assert.Equal(t, 0, s.WriteCount())
}

func TestSaveNotifiesOnceOnReady(t *testing.T) {
	s := memstore.New()
	key := seed(t, s, processing())
	n := &recordingNotifier{}
	w := New(s, n, nil, WithClock(func() time.Time { return now }))

	done := processing()
	delete(done.Pending, "fun")
	done.Renders["fun"] = persona.Render{URL: "https://cdn/fun.mp4"}

	merged, res, err := w.Save(context.Background(), key, done)
	require.NoError(t, err)
	assert.True(t, res.Written)
	assert.True(t, res.Notified)
	assert.Equal(t, persona.StatusReady, merged.Status)
	require.NotNil(t, merged.NotifiedAt)
	assert.Equal(t, []string{"p1|ada@example.com|Ada"}, n.calls)

	// later passes see ready in the store and stay silent
	for i := 0; i < 3; i++ {
		again, err := w.Load(context.Background(), key)
		require.NoError(t, err)
		_, res, err = w.Save(context.Background(), key, again)
		require.NoError(t, err)
		assert.False(t, res.Notified)
	}
	assert.Len(t, n.calls, 1)
}

func TestSaveDoesNotRetryFailedNotification(t *testing.T) {
	s := memstore.New()
	key := seed(t, s, processing())
	n := &recordingNotifier{err: errors.New("smtp down")}
	w := New(s, n, nil)

	done := processing()
	delete(done.Pending, "fun")
	done.Renders["fun"] = persona.Render{URL: "u"}

	merged, res, err := w.Save(context.Background(), key, done)
	require.NoError(t, err)
	assert.True(t, res.Written)
	assert.False(t, res.Notified)
	assert.Nil(t, merged.NotifiedAt)

	n.err = nil
	again, err := w.Load(context.Background(), key)
	require.NoError(t, err)
	_, res, err = w.Save(context.Background(), key, again)
	require.NoError(t, err)
	assert.False(t, res.Notified)
	assert.Len(t, n.calls, 1)
}

func TestSaveMergesRacingProgress(t *testing.T) {
	s := memstore.New()

	// another pass already moved fun to renders and set a voice handle
	racer := processing()
	racer.Scripts = append(racer.Scripts, persona.Script{Key: "relax", Text: "breathe"})
	racer.Pending = map[string]persona.Pending{}
	racer.Renders["fun"] = persona.Render{URL: "u-fun"}
	racer.ProviderState.VoiceHandle = "voice-racer"
	key := seed(t, s, racer)

	mine := processing()
	mine.Scripts = racer.Scripts
	mine.Pending["relax"] = persona.Pending{JobID: "j2", StartedAt: now}
	mine.ProviderState.VoiceHandle = "voice-mine"

	w := New(s, nil, nil)
	merged, res, err := w.Save(context.Background(), key, mine)
	require.NoError(t, err)
	assert.True(t, res.Written)

	stored, err := w.Load(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, "u-fun", stored.Renders["fun"].URL)
	assert.Equal(t, "j2", stored.Pending["relax"].JobID)
	assert.NotContains(t, stored.Pending, "fun")
	assert.Equal(t, "voice-racer", stored.ProviderState.VoiceHandle)
	assert.Equal(t, persona.StatusProcessing, merged.Status)
	assert.NoError(t, stored.Validate())
}

func TestSaveRefusesToOverwriteMalformedBlob(t *testing.T) {
	s := memstore.New()
	s.Put("personas/p1.json", []byte("{not json"))
	w := New(s, nil, nil)

	_, _, err := w.Save(context.Background(), "personas/p1.json", processing())

	require.Error(t, err)
	assert.Equal(t, 0, s.WriteCount())
}

func TestSaveDoesNotRecreateDeletedRecord(t *testing.T) {
	s := memstore.New()
	n := &recordingNotifier{}
	w := New(s, n, nil)

	done := processing()
	delete(done.Pending, "fun")
	done.Renders["fun"] = persona.Render{URL: "https://cdn/fun.mp4"}

	_, res, err := w.Save(context.Background(), "personas/p1.json", done)

	require.Error(t, err)
	assert.True(t, apperrors.IsNotFound(err))
	assert.False(t, res.Written)
	assert.Equal(t, 0, s.WriteCount())
	assert.Empty(t, n.calls)
}
