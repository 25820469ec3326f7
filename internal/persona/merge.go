package persona

import "encoding/json"

// Merge combines the copy currently in the store with a locally advanced
// copy of the same record. The result starts from mine and adopts whatever
// progress stored holds that mine lacks:
//
//   - write-once fields (provider state, agent prompt) keep the stored value
//     when both are set, so the first writer wins;
//   - each script key lands in exactly one map, by precedence
//     renders > failures > pending;
//   - for a key pending in both, the stored job wins and the poll counter
//     takes the larger value;
//   - notifiedAt keeps the earliest timestamp;
//   - fields owned by other collaborators take the stored value.
//
// Status is carried from mine; callers settle it afterwards.
func Merge(stored, mine *Record) *Record {
	out := mine.Clone()
	if stored == nil {
		return out
	}

	out.ProviderState = ProviderState{
		AssetHandle:  first(stored.ProviderState.AssetHandle, mine.ProviderState.AssetHandle),
		GroupHandle:  first(stored.ProviderState.GroupHandle, mine.ProviderState.GroupHandle),
		RenderableID: first(stored.ProviderState.RenderableID, mine.ProviderState.RenderableID),
		VoiceHandle:  first(stored.ProviderState.VoiceHandle, mine.ProviderState.VoiceHandle),
	}
	if stored.Agent != nil && stored.Agent.SystemPrompt != "" {
		a := *stored.Agent
		out.Agent = &a
	}

	switch {
	case stored.NotifiedAt == nil:
	case out.NotifiedAt == nil || stored.NotifiedAt.Before(*out.NotifiedAt):
		n := *stored.NotifiedAt
		out.NotifiedAt = &n
	}

	if stored.Status == StatusError {
		out.Status = StatusError
	}

	for k, r := range stored.Renders {
		if _, ok := out.Renders[k]; !ok {
			out.Renders[k] = r
		}
	}
	for k, reason := range stored.Failures {
		if _, ok := out.Failures[k]; !ok {
			out.Failures[k] = reason
		}
	}
	for k, p := range stored.Pending {
		local, ok := out.Pending[k]
		switch {
		case !ok:
			out.Pending[k] = p
		case local.JobID == p.JobID:
			if p.Polls > local.Polls {
				local.Polls = p.Polls
			}
			out.Pending[k] = local
		default:
			out.Pending[k] = p
		}
	}

	for k := range out.Renders {
		delete(out.Failures, k)
		delete(out.Pending, k)
	}
	for k := range out.Failures {
		delete(out.Pending, k)
	}

	for k, v := range stored.extra {
		if out.extra == nil {
			out.extra = make(map[string]json.RawMessage)
		}
		out.extra[k] = v
	}
	return out
}

func first(stored, mine string) string {
	if stored != "" {
		return stored
	}
	return mine
}
