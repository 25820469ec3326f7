// Package pipeline advances one persona record through its provider steps:
//
//	upload asset -> create likeness group -> resolve renderable id
//	  -> clone voice -> submit one render per script -> compose agent
//
// Every billed call is preceded by a reload of the stored record, so a step
// another pass already completed is adopted instead of repeated, and
// followed by a write, so a crash resumes at the next unset field.
package pipeline

import (
	"context"
	"time"

	"dopple/internal/budget"
	"dopple/internal/persona"
	"dopple/internal/pkg/errors"
	"dopple/internal/pkg/logger"
	"dopple/internal/ports"
	"dopple/internal/reconcile"
)

// Action names reported in run summaries.
const (
	ActUploadAsset   = "upload_asset"
	ActCreateGroup   = "create_likeness_group"
	ActResolveID     = "resolve_renderable_id"
	ActCloneVoice    = "clone_voice"
	ActSubmitRender  = "submit_render"
	ActFailRender    = "fail_render"
	ActComposeAgent  = "compose_agent"
	ActAdopt         = "adopt"
	ActSetupRejected = "setup_rejected"
)

type Deps struct {
	Store    ports.Store
	Writer   *reconcile.Writer
	Likeness ports.LikenessProvider
	// Voices and Agents are optional.
	Voices       ports.VoiceCloner
	Agents       ports.AgentComposer
	DefaultVoice string
	Retry        RetryPolicy
	Log          *logger.Logger
	Now          func() time.Time
	// Sleep waits between retry attempts; tests replace it.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Machine runs the per-persona transition function.
type Machine struct {
	store        ports.Store
	writer       *reconcile.Writer
	likeness     ports.LikenessProvider
	voices       ports.VoiceCloner
	agents       ports.AgentComposer
	defaultVoice string
	retry        RetryPolicy
	log          *logger.Logger
	now          func() time.Time
	sleep        func(ctx context.Context, d time.Duration) error
}

func New(d Deps) *Machine {
	m := &Machine{
		store:        d.Store,
		writer:       d.Writer,
		likeness:     d.Likeness,
		voices:       d.Voices,
		agents:       d.Agents,
		defaultVoice: d.DefaultVoice,
		retry:        d.Retry.withDefaults(),
		log:          d.Log,
		now:          d.Now,
		sleep:        d.Sleep,
	}
	if m.log == nil {
		m.log = logger.Discard()
	}
	m.log = m.log.WithComponent("pipeline")
	if m.now == nil {
		m.now = time.Now
	}
	if m.sleep == nil {
		m.sleep = sleepCtx
	}
	return m
}

// Outcome reports what Advance did to one record.
type Outcome struct {
	Record  *persona.Record
	Actions []string
	// Err is the step error that stopped progress, if any. It is never fatal.
	Err error
	// BudgetStop is set when the budget ran out before the record settled.
	BudgetStop bool
}

func (o *Outcome) did(action string) { o.Actions = append(o.Actions, action) }

// Advance runs every step the record still needs, within budget b. It never
// returns an error: failures are folded into the record or into Outcome.Err.
func (m *Machine) Advance(ctx context.Context, key string, rec *persona.Record, b *budget.Budget) Outcome {
	ctx = logger.ContextWithPersonaID(ctx, rec.ID)
	o := Outcome{Record: rec.Clone()}

	if o.Record.Status == persona.StatusError {
		return o
	}
	if !o.Record.Status.Terminal() {
		if !o.Record.SetupDone() && !m.setup(ctx, key, &o, b) {
			return o
		}
		if !m.cloneVoice(ctx, key, &o, b) {
			return o
		}
	}
	if o.Record.SetupDone() && len(o.Record.Unresolved()) > 0 && !m.submit(ctx, key, &o, b) {
		return o
	}
	m.composeAgent(ctx, key, &o, b)
	if o.Record.Settle() != o.Record.Status {
		m.persist(ctx, key, &o)
	}
	return o
}

type setupStep struct {
	action string
	done   func(*persona.Record) bool
	run    func(context.Context, *persona.Record) (string, error)
	set    func(*persona.Record, string)
}

func (m *Machine) setupSteps() []setupStep {
	return []setupStep{
		{
			action: ActUploadAsset,
			done:   func(r *persona.Record) bool { return r.ProviderState.AssetHandle != "" },
			run: func(ctx context.Context, r *persona.Record) (string, error) {
				data, contentType, err := m.media(ctx, "photo", r.Photo)
				if err != nil {
					return "", err
				}
				return m.likeness.UploadAsset(ctx, data, contentType)
			},
			set: func(r *persona.Record, v string) { r.ProviderState.AssetHandle = v },
		},
		{
			action: ActCreateGroup,
			done:   func(r *persona.Record) bool { return r.ProviderState.GroupHandle != "" },
			run: func(ctx context.Context, r *persona.Record) (string, error) {
				return m.likeness.CreateLikenessGroup(ctx, r.ProviderState.AssetHandle, r.DisplayName())
			},
			set: func(r *persona.Record, v string) { r.ProviderState.GroupHandle = v },
		},
		{
			action: ActResolveID,
			done:   func(r *persona.Record) bool { return r.ProviderState.RenderableID != "" },
			run: func(ctx context.Context, r *persona.Record) (string, error) {
				return m.likeness.ResolveRenderableID(ctx, r.ProviderState.GroupHandle)
			},
			set: func(r *persona.Record, v string) { r.ProviderState.RenderableID = v },
		},
	}
}

// setup runs the one-time steps in order and reports whether the record is
// ready for submission.
func (m *Machine) setup(ctx context.Context, key string, o *Outcome, b *budget.Budget) bool {
	log := m.log.FromContext(ctx)

	for _, step := range m.setupSteps() {
		if step.done(o.Record) {
			continue
		}
		if b.Exhausted() {
			o.BudgetStop = true
			return false
		}
		m.refresh(ctx, key, o)
		if step.done(o.Record) {
			o.did(ActAdopt + ":" + step.action)
			continue
		}

		value, err := m.call(ctx, b, func(ctx context.Context) (string, error) { return step.run(ctx, o.Record) })
		if err == nil && value == "" {
			err = errors.Rejected(step.action, "provider returned an empty handle")
		}
		if err != nil {
			o.Err = err
			switch {
			case errors.IsNotConfigured(err):
				log.WithError(err).Info("provider unavailable, leaving record untouched", "step", step.action)
			case errors.IsPermanent(err):
				log.WithError(err).Warn("setup step rejected", "step", step.action)
				o.Record.LastError = step.action + ": " + err.Error()
				o.Record.FailUnresolved(step.action + " rejected")
				o.did(ActSetupRejected + ":" + step.action)
				m.persist(ctx, key, o)
			default:
				log.WithError(err).Warn("setup step failed, will retry next pass", "step", step.action)
			}
			return false
		}

		step.set(o.Record, value)
		o.did(step.action)
		log.Info("setup step done", "step", step.action)
		if !m.persist(ctx, key, o) {
			return false
		}
	}

	o.Record.Status = persona.StatusProcessing
	return m.persist(ctx, key, o)
}

// cloneVoice is optional: without a sample or a configured cloner the
// default voice is used and nothing is stored. A rejected sample pins the
// default voice so the clone is not attempted again.
func (m *Machine) cloneVoice(ctx context.Context, key string, o *Outcome, b *budget.Budget) bool {
	r := o.Record
	if r.ProviderState.VoiceHandle != "" || r.Voice == nil || m.voices == nil {
		return true
	}
	if b.Exhausted() {
		o.BudgetStop = true
		return false
	}
	m.refresh(ctx, key, o)
	if o.Record.ProviderState.VoiceHandle != "" {
		o.did(ActAdopt + ":" + ActCloneVoice)
		return true
	}

	log := m.log.FromContext(ctx)
	handle, err := m.call(ctx, b, func(ctx context.Context) (string, error) {
		data, contentType, err := m.media(ctx, "voice", o.Record.Voice)
		if err != nil {
			return "", err
		}
		return m.voices.CloneVoice(ctx, data, contentType, o.Record.DisplayName())
	})
	switch {
	case err == nil:
		o.Record.ProviderState.VoiceHandle = handle
		o.did(ActCloneVoice)
		return m.persist(ctx, key, o)
	case errors.IsNotConfigured(err):
		log.Debug("voice cloning unavailable, using default voice")
		return true
	case errors.IsPermanent(err):
		log.WithError(err).Warn("voice sample rejected, using default voice")
		o.Record.ProviderState.VoiceHandle = m.defaultVoice
		o.Record.LastError = ActCloneVoice + ": " + err.Error()
		return m.persist(ctx, key, o)
	default:
		o.Err = err
		log.WithError(err).Warn("voice cloning failed, will retry next pass")
		return false
	}
}

// submit starts one render per unresolved script. A transient error stops
// submission for this record until the next pass.
func (m *Machine) submit(ctx context.Context, key string, o *Outcome, b *budget.Budget) bool {
	log := m.log.FromContext(ctx)
	voice := o.Record.ProviderState.VoiceHandle
	if voice == "" {
		voice = m.defaultVoice
	}

	for _, script := range o.Record.Unresolved() {
		if b.Exhausted() {
			o.BudgetStop = true
			return false
		}
		m.refresh(ctx, key, o)
		if o.Record.Resolved(script.Key) {
			o.did(ActAdopt + ":" + script.Key)
			continue
		}

		renderable := o.Record.ProviderState.RenderableID
		jobID, err := m.call(ctx, b, func(ctx context.Context) (string, error) {
			return m.likeness.SubmitRender(ctx, renderable, voice, script.Text)
		})
		switch {
		case err == nil && jobID != "":
			o.Record.Pending[script.Key] = persona.Pending{JobID: jobID, StartedAt: m.now().UTC()}
			o.did(ActSubmitRender + ":" + script.Key)
			log.Info("render submitted", "script", script.Key, "job_id", jobID)
		case err == nil:
			o.Record.Fail(script.Key, "provider returned no job id")
			o.did(ActFailRender + ":" + script.Key)
			log.Warn("render submission returned no job id", "script", script.Key)
		case errors.IsPermanent(err):
			o.Record.Fail(script.Key, err.Error())
			o.did(ActFailRender + ":" + script.Key)
			log.WithError(err).Warn("render submission rejected", "script", script.Key)
		default:
			o.Err = err
			log.WithError(err).Warn("render submission failed, will retry next pass", "script", script.Key)
			m.persist(ctx, key, o)
			return false
		}
		if !m.persist(ctx, key, o) {
			return false
		}
	}
	return m.persist(ctx, key, o)
}

// refresh adopts progress a racing pass stored since o.Record was read.
func (m *Machine) refresh(ctx context.Context, key string, o *Outcome) {
	stored, err := m.writer.Load(ctx, key)
	if err != nil {
		m.log.FromContext(ctx).WithError(err).Debug("reload before step failed")
		return
	}
	o.Record = persona.Merge(stored, o.Record)
}

// persist writes o.Record and reports whether the pass may continue.
func (m *Machine) persist(ctx context.Context, key string, o *Outcome) bool {
	merged, _, err := m.writer.Save(ctx, key, o.Record)
	o.Record = merged
	if err != nil {
		o.Err = err
		m.log.LogError(ctx, "persist after step failed", err, "key", key)
		return false
	}
	return true
}

// media loads an uploaded blob referenced by the record. A missing
// reference or blob can never succeed and is reported as a rejection.
func (m *Machine) media(ctx context.Context, kind string, ref *persona.Media) ([]byte, string, error) {
	if ref == nil || ref.Key == "" {
		return nil, "", errors.Rejected("pipeline.media", "record has no "+kind)
	}
	data, err := m.store.Get(ctx, ref.Key)
	if errors.IsNotFound(err) {
		return nil, "", errors.Rejected("pipeline.media", kind+" blob missing: "+ref.Key)
	}
	if err != nil {
		return nil, "", errors.Wrap(err, "pipeline.media", "read "+kind)
	}
	return data, ref.ContentType, nil
}
