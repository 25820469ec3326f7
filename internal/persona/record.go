// Package persona defines the stored pipeline record for one user
// submission and the pure rules over it: validation, status settlement and
// merge of two copies written by racing passes.
package persona

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"dopple/internal/pkg/errors"
)

// KeyPrefix is the store prefix under which records live.
const KeyPrefix = "personas/"

type Status string

const (
	StatusUploaded   Status = "uploaded"
	StatusProcessing Status = "processing"
	StatusReady      Status = "ready"
	StatusPartial    Status = "partial"
	StatusError      Status = "error"
)

func (s Status) Valid() bool {
	switch s {
	case StatusUploaded, StatusProcessing, StatusReady, StatusPartial, StatusError:
		return true
	}
	return false
}

// Terminal reports a status no pass will move away from on its own.
func (s Status) Terminal() bool {
	return s == StatusReady || s == StatusPartial || s == StatusError
}

type Script struct {
	Key  string `json:"key"`
	Text string `json:"text"`
}

type Render struct {
	URL             string  `json:"url"`
	ThumbnailURL    string  `json:"thumbnailUrl,omitempty"`
	DurationSeconds float64 `json:"durationSeconds,omitempty"`
}

type Pending struct {
	JobID     string    `json:"jobId"`
	StartedAt time.Time `json:"startedAt"`
	// Polls counts passes that polled the job without a terminal answer.
	Polls int `json:"polls,omitempty"`
}

// ProviderState memoizes one-time setup results. Every field is write-once.
type ProviderState struct {
	AssetHandle  string `json:"assetHandle,omitempty"`
	GroupHandle  string `json:"groupHandle,omitempty"`
	RenderableID string `json:"renderableId,omitempty"`
	VoiceHandle  string `json:"voiceHandle,omitempty"`
}

// Media points at an uploaded blob in the same store as the record.
type Media struct {
	Key         string `json:"key"`
	ContentType string `json:"contentType,omitempty"`
}

type Agent struct {
	SystemPrompt string `json:"systemPrompt"`
	// Source is "llm" or "template".
	Source string `json:"source,omitempty"`
}

// Record is the JSON document stored at personas/<id>.json.
type Record struct {
	ID            string             `json:"id"`
	Name          string             `json:"name,omitempty"`
	Email         string             `json:"email,omitempty"`
	Bio           string             `json:"bio,omitempty"`
	Status        Status             `json:"status"`
	Scripts       []Script           `json:"scripts"`
	Renders       map[string]Render  `json:"renders"`
	Pending       map[string]Pending `json:"pending"`
	Failures      map[string]string  `json:"failures"`
	ProviderState ProviderState      `json:"providerState"`
	Photo         *Media             `json:"photo,omitempty"`
	Voice         *Media             `json:"voice,omitempty"`
	Agent         *Agent             `json:"agent,omitempty"`
	LastError     string             `json:"lastError,omitempty"`
	NotifiedAt    *time.Time         `json:"notifiedAt,omitempty"`
	CreatedAt     time.Time          `json:"createdAt"`
	UpdatedAt     *time.Time         `json:"updatedAt,omitempty"`

	// extra holds fields written by other collaborators.
	extra map[string]json.RawMessage
}

var knownFields = []string{
	"id", "name", "email", "bio", "status", "scripts", "renders", "pending",
	"failures", "providerState", "photo", "voice", "agent", "lastError",
	"notifiedAt", "createdAt", "updatedAt",
}

type wire Record

// Decode parses a stored record. Any decoding failure is CodeMalformed.
func Decode(key string, data []byte) (*Record, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, errors.Malformed(key, errors.Validation("empty blob"))
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errors.Malformed(key, err)
	}
	var w wire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, errors.Malformed(key, err)
	}

	r := Record(w)
	for _, f := range knownFields {
		delete(raw, f)
	}
	if len(raw) > 0 {
		r.extra = raw
	}
	r.ensureMaps()
	return &r, nil
}

// Encode renders the record as JSON with sorted keys, so equal records
// always produce equal bytes.
func (r Record) Encode() ([]byte, error) {
	base, err := json.Marshal(wire(r))
	if err != nil {
		return nil, errors.Wrap(err, "persona.encode", "marshal record")
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(base, &fields); err != nil {
		return nil, errors.Wrap(err, "persona.encode", "flatten record")
	}
	for k, v := range r.extra {
		if _, taken := fields[k]; !taken {
			fields[k] = v
		}
	}
	out, err := json.Marshal(fields)
	if err != nil {
		return nil, errors.Wrap(err, "persona.encode", "marshal fields")
	}
	return out, nil
}

func (r Record) MarshalJSON() ([]byte, error) { return r.Encode() }

func (r *Record) UnmarshalJSON(data []byte) error {
	d, err := Decode("", data)
	if err != nil {
		return err
	}
	*r = *d
	return nil
}

// Clone returns a deep copy.
func (r *Record) Clone() *Record {
	c := *r
	c.Scripts = append([]Script(nil), r.Scripts...)
	c.Renders = make(map[string]Render, len(r.Renders))
	for k, v := range r.Renders {
		c.Renders[k] = v
	}
	c.Pending = make(map[string]Pending, len(r.Pending))
	for k, v := range r.Pending {
		c.Pending[k] = v
	}
	c.Failures = make(map[string]string, len(r.Failures))
	for k, v := range r.Failures {
		c.Failures[k] = v
	}
	if r.Photo != nil {
		p := *r.Photo
		c.Photo = &p
	}
	if r.Voice != nil {
		v := *r.Voice
		c.Voice = &v
	}
	if r.Agent != nil {
		a := *r.Agent
		c.Agent = &a
	}
	if r.NotifiedAt != nil {
		n := *r.NotifiedAt
		c.NotifiedAt = &n
	}
	if r.UpdatedAt != nil {
		u := *r.UpdatedAt
		c.UpdatedAt = &u
	}
	if r.extra != nil {
		c.extra = make(map[string]json.RawMessage, len(r.extra))
		for k, v := range r.extra {
			c.extra[k] = v
		}
	}
	return &c
}

func (r *Record) ensureMaps() {
	if r.Renders == nil {
		r.Renders = map[string]Render{}
	}
	if r.Pending == nil {
		r.Pending = map[string]Pending{}
	}
	if r.Failures == nil {
		r.Failures = map[string]string{}
	}
}

// DisplayName falls back to the id when intake stored no name.
func (r *Record) DisplayName() string {
	if n := strings.TrimSpace(r.Name); n != "" {
		return n
	}
	return r.ID
}

// IDFromKey extracts the persona id from "personas/<id>.json".
func IDFromKey(key string) string {
	return strings.TrimSuffix(strings.TrimPrefix(key, KeyPrefix), ".json")
}

// KeyFor is the inverse of IDFromKey.
func KeyFor(id string) string {
	return KeyPrefix + id + ".json"
}
