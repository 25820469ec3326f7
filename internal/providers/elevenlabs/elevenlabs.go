// Package elevenlabs clones a voice from a sample via the ElevenLabs
// instant voice cloning endpoint.
package elevenlabs

import (
	"bytes"
	"context"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"

	"dopple/internal/pkg/errors"
	"dopple/internal/ports"
	"dopple/internal/providers"
)

const (
	DefaultAPIBase = "https://api.elevenlabs.io"
	name           = "elevenlabs"
)

type Config struct {
	APIKey  string
	APIBase string
	// Description is attached to every cloned voice.
	Description string
}

type Client struct {
	cfg  Config
	http *providers.Client
}

var _ ports.VoiceCloner = (*Client)(nil)

func New(cfg Config, httpClient *http.Client) *Client {
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	if cfg.APIBase == "" {
		cfg.APIBase = DefaultAPIBase
	}
	if cfg.Description == "" {
		cfg.Description = "Persona voice clone"
	}
	return &Client{
		cfg:  cfg,
		http: providers.NewClient(name, httpClient, map[string]string{"xi-api-key": cfg.APIKey}),
	}
}

func (c *Client) Name() string { return name }

func (c *Client) Configured() bool { return c.cfg.APIKey != "" }

// CloneVoice uploads sample as multipart form data and returns the voice id.
func (c *Client) CloneVoice(ctx context.Context, sample []byte, contentType, voiceName string) (string, error) {
	const op = "elevenlabs.clone_voice"
	if !c.Configured() {
		return "", providers.NotConfigured(name)
	}
	if len(sample) == 0 {
		return "", errors.Rejected(op, "empty voice sample")
	}

	body, formType, err := form(sample, contentType, voiceName, c.cfg.Description)
	if err != nil {
		return "", errors.Wrap(err, op, "build form")
	}

	var out struct {
		VoiceID string `json:"voice_id"`
	}
	err = c.http.Do(ctx, providers.Request{
		Op:          op,
		Method:      http.MethodPost,
		URL:         c.cfg.APIBase + "/v1/voices/add",
		Body:        body,
		ContentType: formType,
	}, &out)
	if err != nil {
		return "", err
	}
	if out.VoiceID == "" {
		return "", errors.Rejected(op, "clone returned no voice_id")
	}
	return out.VoiceID, nil
}

func form(sample []byte, contentType, voiceName, description string) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	if err := mw.WriteField("name", voiceName); err != nil {
		return nil, "", err
	}
	if err := mw.WriteField("description", description); err != nil {
		return nil, "", err
	}

	if contentType == "" {
		contentType = http.DetectContentType(sample)
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="files"; filename="sample`+extension(contentType)+`"`)
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(sample); err != nil {
		return nil, "", err
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return &buf, mw.FormDataContentType(), nil
}

func extension(contentType string) string {
	switch {
	case strings.Contains(contentType, "mpeg"), strings.Contains(contentType, "mp3"):
		return ".mp3"
	case strings.Contains(contentType, "wav"):
		return ".wav"
	case strings.Contains(contentType, "webm"):
		return ".webm"
	case strings.Contains(contentType, "ogg"):
		return ".ogg"
	case strings.Contains(contentType, "mp4"), strings.Contains(contentType, "m4a"):
		return ".m4a"
	default:
		return ".bin"
	}
}
