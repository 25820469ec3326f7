package persona

import (
	"fmt"
	"sort"
	"strings"

	"dopple/internal/pkg/errors"
)

// Validate reports structural faults that no pass can repair: a record with
// no scripts, an unknown status, duplicate script keys, or a script key held
// in more than one of renders, pending and failures.
func (r *Record) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return errors.Validation("record has no id")
	}
	if !r.Status.Valid() {
		return errors.Validationf("unknown status %q", r.Status)
	}
	if len(r.Scripts) == 0 {
		return errors.Validation("record has no scripts")
	}
	seen := make(map[string]bool, len(r.Scripts))
	for _, s := range r.Scripts {
		if strings.TrimSpace(s.Key) == "" {
			return errors.Validation("script with empty key")
		}
		if seen[s.Key] {
			return errors.Validationf("duplicate script key %q", s.Key)
		}
		seen[s.Key] = true
	}
	if k := r.overlapping(); k != "" {
		return errors.Validationf("script key %q held in more than one of renders, pending, failures", k)
	}
	return nil
}

func (r *Record) overlapping() string {
	keys := make(map[string]int)
	for k := range r.Renders {
		keys[k]++
	}
	for k := range r.Pending {
		keys[k]++
	}
	for k := range r.Failures {
		keys[k]++
	}
	var bad []string
	for k, n := range keys {
		if n > 1 {
			bad = append(bad, k)
		}
	}
	if len(bad) == 0 {
		return ""
	}
	sort.Strings(bad)
	return bad[0]
}

// Resolved reports whether key already sits in renders, pending or failures.
func (r *Record) Resolved(key string) bool {
	if _, ok := r.Renders[key]; ok {
		return true
	}
	if _, ok := r.Pending[key]; ok {
		return true
	}
	_, ok := r.Failures[key]
	return ok
}

// Unresolved returns scripts with no render, job or failure, in script order.
func (r *Record) Unresolved() []Script {
	var out []Script
	for _, s := range r.Scripts {
		if !r.Resolved(s.Key) {
			out = append(out, s)
		}
	}
	return out
}

// SetupDone reports whether a renderable id has been resolved.
func (r *Record) SetupDone() bool {
	return r.ProviderState.RenderableID != ""
}

// Complete reports whether every script has a render with a url.
func (r *Record) Complete() bool {
	for _, s := range r.Scripts {
		if r.Renders[s.Key].URL == "" {
			return false
		}
	}
	return len(r.Scripts) > 0
}

// Settle derives the status from the record's contents. Error is sticky.
func (r *Record) Settle() Status {
	switch {
	case r.Status == StatusError:
		return StatusError
	case r.Complete():
		return StatusReady
	case len(r.Pending) == 0 && len(r.Unresolved()) == 0 && len(r.Failures) > 0:
		return StatusPartial
	case r.Status == StatusUploaded && !r.SetupDone():
		return StatusUploaded
	default:
		return StatusProcessing
	}
}

// Settled reports whether no pass has work left on the record: it is in
// error, or its final status is current with no job in flight and an agent
// prompt composed.
func (r *Record) Settled() bool {
	if r.Status == StatusError {
		return true
	}
	return r.Status.Terminal() && r.Settle() == r.Status &&
		len(r.Pending) == 0 && r.Agent != nil && r.Agent.SystemPrompt != ""
}

// Fail records key as permanently failed, dropping any pending job.
func (r *Record) Fail(key, reason string) {
	delete(r.Pending, key)
	if _, done := r.Renders[key]; done {
		return
	}
	r.Failures[key] = reason
}

// FailUnresolved fails every script not yet resolved and returns how many.
func (r *Record) FailUnresolved(reason string) int {
	n := 0
	for _, s := range r.Unresolved() {
		r.Failures[s.Key] = reason
		n++
	}
	return n
}

// Counts summarizes the clip maps.
type Counts struct {
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Pending   int `json:"pending"`
}

func (r *Record) Counts() Counts {
	return Counts{Completed: len(r.Renders), Failed: len(r.Failures), Pending: len(r.Pending)}
}

func (c Counts) String() string {
	return fmt.Sprintf("completed=%d failed=%d pending=%d", c.Completed, c.Failed, c.Pending)
}
