// Package poller checks outstanding render jobs through one bounded worker
// pool and folds the answers back into their records.
package poller

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"dopple/internal/budget"
	"dopple/internal/persona"
	"dopple/internal/pkg/errors"
	"dopple/internal/pkg/logger"
	"dopple/internal/ports"
)

// Action names reported in run summaries.
const (
	ActRenderDone    = "render_done"
	ActRenderFailed  = "render_failed"
	ActRenderAbandon = "render_abandoned"
	ActPolled        = "polled"
)

type Config struct {
	// MaxConcurrency bounds simultaneous poll calls.
	MaxConcurrency int
	// MaxPolls abandons a job after this many inconclusive polls; 0 disables.
	MaxPolls int
	// MaxAge abandons a job this long after submission; 0 disables.
	MaxAge time.Duration
}

func DefaultConfig() Config {
	return Config{MaxConcurrency: 4, MaxPolls: 240, MaxAge: 6 * time.Hour}
}

type Poller struct {
	provider ports.LikenessProvider
	pool     *ants.Pool
	cfg      Config
	log      *logger.Logger
	now      func() time.Time
}

type Option func(*Poller)

func WithClock(now func() time.Time) Option { return func(p *Poller) { p.now = now } }

func New(provider ports.LikenessProvider, cfg Config, log *logger.Logger, opts ...Option) (*Poller, error) {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = DefaultConfig().MaxConcurrency
	}
	if log == nil {
		log = logger.Discard()
	}
	log = log.WithComponent("poller")

	pool, err := ants.NewPool(cfg.MaxConcurrency, ants.WithPanicHandler(func(p interface{}) {
		log.Error("panic in poll worker", "panic", fmt.Sprint(p))
	}))
	if err != nil {
		return nil, errors.Wrap(err, "poller.new", "create worker pool")
	}
	pl := &Poller{provider: provider, pool: pool, cfg: cfg, log: log, now: time.Now}
	for _, o := range opts {
		o(pl)
	}
	return pl, nil
}

// Close releases the worker pool.
func (p *Poller) Close() error {
	p.pool.Release()
	return nil
}

type answer struct {
	key    string
	script string
	jobID  string
	status ports.RenderStatus
	err    error
}

// Poll polls every pending job of records, keyed by store key, and updates
// the records in place. It returns the actions taken per key. No poll is
// started once b is exhausted; polls already running finish.
func (p *Poller) Poll(ctx context.Context, b *budget.Budget, records map[string]*persona.Record) map[string][]string {
	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		answers []answer
	)

	keys := make([]string, 0, len(records))
	for k := range records {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		rec := records[key]
		for _, script := range pendingKeys(rec) {
			if b.Exhausted() {
				break
			}
			a := answer{key: key, script: script, jobID: rec.Pending[script].JobID}
			wg.Add(1)
			err := p.pool.Submit(func() {
				defer wg.Done()
				if b.Exhausted() {
					return
				}
				a.status, a.err = p.provider.PollRender(ctx, a.jobID)
				mu.Lock()
				answers = append(answers, a)
				mu.Unlock()
			})
			if err != nil {
				wg.Done()
				p.log.FromContext(ctx).WithError(err).Warn("poll not scheduled", "key", key, "script", script)
			}
		}
	}
	wg.Wait()

	sort.Slice(answers, func(i, j int) bool {
		if answers[i].key != answers[j].key {
			return answers[i].key < answers[j].key
		}
		return answers[i].script < answers[j].script
	})

	actions := make(map[string][]string)
	for _, a := range answers {
		if act := p.apply(ctx, records[a.key], a); act != "" {
			actions[a.key] = append(actions[a.key], act+":"+a.script)
		}
	}
	return actions
}

func (p *Poller) apply(ctx context.Context, rec *persona.Record, a answer) string {
	log := p.log.FromContext(ctx).WithPersonaID(rec.ID).With("script", a.script, "job_id", a.jobID)

	job, ok := rec.Pending[a.script]
	if !ok || job.JobID != a.jobID {
		return ""
	}

	switch {
	case errors.IsNotConfigured(a.err):
		return ""
	case a.err != nil && errors.IsPermanent(a.err):
		log.Warn("render poll rejected", "error", a.err.Error())
		rec.Fail(a.script, a.err.Error())
		return ActRenderFailed
	case a.err == nil && a.status.Terminal && a.status.Succeeded && a.status.URL != "":
		delete(rec.Pending, a.script)
		delete(rec.Failures, a.script)
		rec.Renders[a.script] = persona.Render{
			URL:             a.status.URL,
			ThumbnailURL:    a.status.ThumbnailURL,
			DurationSeconds: a.status.DurationSeconds,
		}
		log.Info("render completed")
		return ActRenderDone
	case a.err == nil && a.status.Terminal && a.status.Succeeded:
		rec.Fail(a.script, "render completed without a url")
		log.Warn("render completed without a url")
		return ActRenderFailed
	case a.err == nil && a.status.Terminal:
		reason := a.status.Reason
		if reason == "" {
			reason = "render failed"
		}
		rec.Fail(a.script, reason)
		log.Warn("render failed", "reason", reason)
		return ActRenderFailed
	}

	if a.err != nil {
		log.Debug("render poll failed, will retry next pass", "error", a.err.Error())
	}
	job.Polls++
	if p.expired(job) {
		rec.Fail(a.script, fmt.Sprintf("abandoned after %d polls", job.Polls))
		log.Warn("render abandoned", "polls", job.Polls)
		return ActRenderAbandon
	}
	rec.Pending[a.script] = job
	return ActPolled
}

func (p *Poller) expired(job persona.Pending) bool {
	if p.cfg.MaxPolls > 0 && job.Polls >= p.cfg.MaxPolls {
		return true
	}
	return p.cfg.MaxAge > 0 && !job.StartedAt.IsZero() && p.now().Sub(job.StartedAt) >= p.cfg.MaxAge
}

func pendingKeys(rec *persona.Record) []string {
	keys := make([]string, 0, len(rec.Pending))
	for k := range rec.Pending {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
