// Package scheduler runs one time-boxed orchestrator pass: it selects
// candidate records newest first, advances each while budget remains, polls
// the in-flight renders of every visited record and writes the results.
package scheduler

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"dopple/internal/budget"
	"dopple/internal/persona"
	"dopple/internal/pipeline"
	"dopple/internal/pkg/errors"
	"dopple/internal/pkg/logger"
	"dopple/internal/poller"
	"dopple/internal/ports"
	"dopple/internal/reconcile"
)

type Mode string

const (
	ModeShort Mode = "short"
	ModeSweep Mode = "sweep"
)

// ParseMode maps user input to a mode; anything unrecognised is short.
func ParseMode(s string) Mode {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case string(ModeSweep), "scheduled", "cron":
		return ModeSweep
	default:
		return ModeShort
	}
}

const (
	ActMarkError   = "mark_error"
	ActNotifyReady = "notify_ready"
)

type Config struct {
	ShortBudget  time.Duration
	SweepBudget  time.Duration
	SafetyMargin time.Duration
	// MaxCandidates bounds how many unsettled records one pass visits.
	MaxCandidates int
}

func DefaultConfig() Config {
	return Config{
		ShortBudget:   25 * time.Second,
		SweepBudget:   14 * time.Minute,
		SafetyMargin:  5 * time.Second,
		MaxCandidates: 200,
	}
}

func (c Config) budgetFor(m Mode) time.Duration {
	if m == ModeSweep {
		return c.SweepBudget
	}
	return c.ShortBudget
}

// Advancer is the per-record transition function.
type Advancer interface {
	Advance(ctx context.Context, key string, rec *persona.Record, b *budget.Budget) pipeline.Outcome
}

// Poller folds render job answers into records.
type Poller interface {
	Poll(ctx context.Context, b *budget.Budget, records map[string]*persona.Record) map[string][]string
}

var (
	_ Advancer = (*pipeline.Machine)(nil)
	_ Poller   = (*poller.Poller)(nil)
)

type Deps struct {
	Store   ports.Store
	Writer  *reconcile.Writer
	Machine Advancer
	Poller  Poller
	Config  Config
	Log     *logger.Logger
	Now     func() time.Time
}

type Scheduler struct {
	store   ports.Store
	writer  *reconcile.Writer
	machine Advancer
	poller  Poller
	cfg     Config
	log     *logger.Logger
	now     func() time.Time

	mu sync.Mutex
	// settled holds keys of records no pass will change again. Records are
	// only mutated by passes, so a settled key is never read twice.
	settled map[string]bool
	// resume is the last key read by a pass whose window filled up; the
	// next pass starts reading after it.
	resume string
}

func New(d Deps) *Scheduler {
	s := &Scheduler{
		store:   d.Store,
		writer:  d.Writer,
		machine: d.Machine,
		poller:  d.Poller,
		cfg:     d.Config,
		log:     d.Log,
		now:     d.Now,
		settled: make(map[string]bool),
	}
	def := DefaultConfig()
	if s.cfg.ShortBudget <= 0 {
		s.cfg.ShortBudget = def.ShortBudget
	}
	if s.cfg.SweepBudget <= 0 {
		s.cfg.SweepBudget = def.SweepBudget
	}
	if s.cfg.SafetyMargin < 0 {
		s.cfg.SafetyMargin = def.SafetyMargin
	}
	if s.cfg.MaxCandidates <= 0 {
		s.cfg.MaxCandidates = def.MaxCandidates
	}
	if s.log == nil {
		s.log = logger.Discard()
	}
	s.log = s.log.WithComponent("scheduler")
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Request selects the mode of a pass. Focus ids are visited before every
// other candidate.
type Request struct {
	Mode  Mode
	Focus []string
}

type candidate struct {
	key string
	rec *persona.Record
	// focus ranks kicked records ahead of the newest-first order.
	focus bool
}

// Run executes one pass. Only a failure to list the store is returned as an
// error; every per-record problem is reported in the summary.
func (s *Scheduler) Run(ctx context.Context, req Request) (*Summary, error) {
	if req.Mode == "" {
		req.Mode = ModeShort
	}
	b := budget.NewWithClock(s.cfg.budgetFor(req.Mode), s.cfg.SafetyMargin, s.now)
	// Cancelling the caller only stops new steps; a provider call in flight
	// still gets its result written.
	b.HaltOn(ctx.Done())
	ctx = context.WithoutCancel(ctx)

	runID := uuid.NewString()
	ctx = logger.ContextWithRunID(ctx, runID)
	log := s.log.FromContext(ctx)
	sum := newSummary(runID, req.Mode)

	keys, err := s.store.List(ctx, persona.KeyPrefix)
	if err != nil {
		return nil, errors.Wrap(err, "scheduler.run", "list records")
	}
	log.Info("pass started", "mode", string(req.Mode), "keys", len(keys), "budget", b.Total().String())

	focused, rest := s.window(keys, req.Focus)
	cands := s.read(ctx, b, focused, rest, sum)
	sort.SliceStable(cands, func(i, j int) bool {
		a, c := cands[i], cands[j]
		if a.focus != c.focus {
			return a.focus
		}
		if !a.rec.CreatedAt.Equal(c.rec.CreatedAt) {
			return a.rec.CreatedAt.After(c.rec.CreatedAt)
		}
		return a.rec.ID < c.rec.ID
	})

	visited := make(map[string]*persona.Record)
	results := make(map[string]*Result)
	var order []string

	for _, c := range cands {
		if b.Exhausted() {
			sum.BudgetExhausted = true
			break
		}
		res := &Result{ID: c.rec.ID, Key: c.key}
		results[c.key] = res
		order = append(order, c.key)

		if err := c.rec.Validate(); err != nil {
			rec := s.markError(ctx, c.key, c.rec, err, res)
			visited[c.key] = rec
			continue
		}

		out := s.machine.Advance(ctx, c.key, c.rec, b)
		visited[c.key] = out.Record
		res.Actions = append(res.Actions, out.Actions...)
		if out.Err != nil {
			res.Error = out.Err.Error()
		}
		if out.BudgetStop {
			sum.BudgetExhausted = true
		}
	}

	inflight := make(map[string]*persona.Record)
	for key, rec := range visited {
		if len(rec.Pending) > 0 && rec.Status != persona.StatusError {
			inflight[key] = rec
		}
	}
	if len(inflight) > 0 {
		if b.Exhausted() {
			sum.BudgetExhausted = true
		}
		polled := s.poller.Poll(ctx, b, inflight)
		for _, key := range order {
			acts, ok := polled[key]
			if !ok {
				continue
			}
			res := results[key]
			res.Actions = append(res.Actions, acts...)
			merged, wr, err := s.writer.Save(ctx, key, inflight[key])
			visited[key] = merged
			if err != nil {
				log.WithError(err).Warn("write after poll failed", "key", key)
				res.Error = err.Error()
				continue
			}
			if wr.Notified {
				res.Actions = append(res.Actions, ActNotifyReady)
			}
		}
	}

	for _, key := range order {
		res := results[key]
		res.Status = visited[key].Status
		sum.add(*res, visited[key])
	}
	sum.Elapsed = b.Elapsed().Milliseconds()
	if b.Exhausted() {
		sum.BudgetExhausted = true
	}

	log.Info("pass finished",
		"processed", sum.Processed,
		"skipped", sum.Skipped,
		"budget_exhausted", sum.BudgetExhausted,
		"elapsed_ms", sum.Elapsed,
		"videos_completed", sum.Summary.VideosCompleted,
		"videos_pending", sum.Summary.VideosPending,
		"videos_failed", sum.Summary.VideosFailed,
	)
	return sum, nil
}

// window splits record keys into focus keys and the rest. The rest are in
// reverse key order, without keys known to be settled, rotated so reading
// resumes after the last key of the previous full window.
func (s *Scheduler) window(keys []string, focus []string) (focused, rest []candidate) {
	wanted := make(map[string]bool, len(focus))
	for _, id := range focus {
		wanted[persona.KeyFor(id)] = true
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	present := make(map[string]bool, len(keys))
	for _, k := range keys {
		if !strings.HasSuffix(k, ".json") {
			continue
		}
		present[k] = true
		switch {
		case wanted[k]:
			focused = append(focused, candidate{key: k, focus: true})
		case s.settled[k]:
		default:
			rest = append(rest, candidate{key: k})
		}
	}
	for k := range s.settled {
		if !present[k] {
			delete(s.settled, k)
		}
	}

	sort.Slice(rest, func(i, j int) bool { return rest[i].key > rest[j].key })
	if s.resume == "" {
		return focused, rest
	}
	start := sort.Search(len(rest), func(i int) bool { return rest[i].key < s.resume })
	rotated := make([]candidate, 0, len(rest))
	rotated = append(rotated, rest[start:]...)
	rotated = append(rotated, rest[:start]...)
	return focused, rotated
}

// read loads focus records, then up to MaxCandidates unsettled records from
// rest. Settled records are remembered and do not count against the
// window. A malformed record is reported and never written.
func (s *Scheduler) read(ctx context.Context, b *budget.Budget, focused, rest []candidate, sum *Summary) []candidate {
	out := make([]candidate, 0, len(focused)+s.cfg.MaxCandidates)
	for _, c := range focused {
		if b.Exhausted() {
			sum.BudgetExhausted = true
			return out
		}
		if rec, ok := s.load(ctx, c.key, sum); ok {
			c.rec = rec
			out = append(out, c)
		}
	}

	room := s.cfg.MaxCandidates - len(out)
	scanned := 0
	for _, c := range rest {
		if room <= 0 {
			break
		}
		if b.Exhausted() {
			sum.BudgetExhausted = true
			break
		}
		scanned++
		rec, ok := s.load(ctx, c.key, sum)
		if !ok {
			continue
		}
		if rec.Settled() {
			s.markSettled(c.key)
			continue
		}
		c.rec = rec
		out = append(out, c)
		room--
	}

	s.mu.Lock()
	if scanned < len(rest) && scanned > 0 {
		s.resume = rest[scanned-1].key
	} else if scanned == len(rest) {
		s.resume = ""
	}
	s.mu.Unlock()
	return out
}

func (s *Scheduler) load(ctx context.Context, key string, sum *Summary) (*persona.Record, bool) {
	rec, err := s.writer.Load(ctx, key)
	switch {
	case err == nil:
		return rec, true
	case errors.IsNotFound(err):
	case errors.IsMalformed(err):
		s.log.FromContext(ctx).WithError(err).Warn("skipping malformed record", "key", key)
		sum.skip(key, err)
	default:
		s.log.FromContext(ctx).WithError(err).Warn("skipping unreadable record", "key", key)
		sum.skip(key, err)
	}
	return nil, false
}

func (s *Scheduler) markSettled(key string) {
	s.mu.Lock()
	s.settled[key] = true
	s.mu.Unlock()
}

func (s *Scheduler) markError(ctx context.Context, key string, rec *persona.Record, cause error, res *Result) *persona.Record {
	log := s.log.FromContext(ctx).WithPersonaID(rec.ID)
	if rec.Status == persona.StatusError && rec.LastError != "" {
		return rec
	}
	rec = rec.Clone()
	rec.Status = persona.StatusError
	rec.LastError = cause.Error()
	res.Error = cause.Error()
	res.Actions = append(res.Actions, ActMarkError)
	log.Warn("record failed validation", "error", cause.Error())

	merged, _, err := s.writer.Save(ctx, key, rec)
	if err != nil {
		log.WithError(err).Warn("write of error status failed")
		res.Error = err.Error()
	}
	return merged
}
