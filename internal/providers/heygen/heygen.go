// Package heygen adapts the HeyGen REST API to ports.LikenessProvider:
// photo upload, photo-avatar group creation, avatar lookup, video
// generation and video status.
package heygen

import (
	"bytes"
	"context"
	"net/http"
	"net/url"
	"strings"

	"dopple/internal/pkg/errors"
	"dopple/internal/ports"
	"dopple/internal/providers"
)

const (
	DefaultAPIBase    = "https://api.heygen.com"
	DefaultUploadBase = "https://upload.heygen.com"
	name              = "heygen"
)

type Config struct {
	APIKey     string
	APIBase    string
	UploadBase string
	// Dimension of generated clips; zero means provider default.
	Width, Height int
}

// Client implements ports.LikenessProvider. A Client without an API key
// answers every call with CodeNotConfigured.
type Client struct {
	cfg  Config
	http *providers.Client
}

var _ ports.LikenessProvider = (*Client)(nil)

func New(cfg Config, httpClient *http.Client) *Client {
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	if cfg.APIBase == "" {
		cfg.APIBase = DefaultAPIBase
	}
	if cfg.UploadBase == "" {
		cfg.UploadBase = DefaultUploadBase
	}
	return &Client{
		cfg:  cfg,
		http: providers.NewClient(name, httpClient, map[string]string{"X-Api-Key": cfg.APIKey}),
	}
}

func (c *Client) Name() string { return name }

func (c *Client) Configured() bool { return c.cfg.APIKey != "" }

type envelope[T any] struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    *T     `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// unwrap treats a 2xx answer carrying an error object or no data as a
// rejection.
func unwrap[T any](op string, env envelope[T]) (*T, error) {
	if env.Error != nil && (env.Error.Message != "" || env.Error.Code != "") {
		return nil, errors.Rejected(op, strings.TrimSpace(env.Error.Code+" "+env.Error.Message))
	}
	if env.Data == nil {
		return nil, errors.Rejected(op, "response has no data")
	}
	return env.Data, nil
}

func (c *Client) UploadAsset(ctx context.Context, data []byte, contentType string) (string, error) {
	const op = "heygen.upload_asset"
	if !c.Configured() {
		return "", providers.NotConfigured(name)
	}
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}

	var env envelope[struct {
		ID       string `json:"id"`
		ImageKey string `json:"image_key"`
	}]
	err := c.http.Do(ctx, providers.Request{
		Op:          op,
		Method:      http.MethodPost,
		URL:         c.cfg.UploadBase + "/v1/asset",
		Body:        bytes.NewReader(data),
		ContentType: contentType,
	}, &env)
	if err != nil {
		return "", err
	}
	d, err := unwrap(op, env)
	if err != nil {
		return "", err
	}
	if d.ImageKey != "" {
		return d.ImageKey, nil
	}
	if d.ID == "" {
		return "", errors.Rejected(op, "upload returned no asset key")
	}
	return d.ID, nil
}

func (c *Client) CreateLikenessGroup(ctx context.Context, assetHandle, displayName string) (string, error) {
	const op = "heygen.create_avatar_group"
	if !c.Configured() {
		return "", providers.NotConfigured(name)
	}

	var env envelope[struct {
		ID      string `json:"id"`
		GroupID string `json:"group_id"`
	}]
	err := c.http.Do(ctx, providers.Request{
		Op:     op,
		Method: http.MethodPost,
		URL:    c.cfg.APIBase + "/v2/photo_avatar/avatar_group/create",
		JSON:   map[string]string{"name": displayName, "image_key": assetHandle},
	}, &env)
	if err != nil {
		return "", err
	}
	d, err := unwrap(op, env)
	if err != nil {
		return "", err
	}
	if d.GroupID != "" {
		return d.GroupID, nil
	}
	if d.ID == "" {
		return "", errors.Rejected(op, "group creation returned no id")
	}
	return d.ID, nil
}

// ResolveRenderableID returns the first avatar of the group. An empty group
// is still being trained and reported as transient.
func (c *Client) ResolveRenderableID(ctx context.Context, groupHandle string) (string, error) {
	const op = "heygen.resolve_avatar"
	if !c.Configured() {
		return "", providers.NotConfigured(name)
	}

	var env envelope[struct {
		AvatarList []struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		} `json:"avatar_list"`
	}]
	err := c.http.Do(ctx, providers.Request{
		Op:     op,
		Method: http.MethodGet,
		URL:    c.cfg.APIBase + "/v2/avatar_group/" + url.PathEscape(groupHandle) + "/avatars",
	}, &env)
	if err != nil {
		return "", err
	}
	d, err := unwrap(op, env)
	if err != nil {
		return "", err
	}
	for _, a := range d.AvatarList {
		if a.ID != "" && !strings.EqualFold(a.Status, "failed") {
			return a.ID, nil
		}
	}
	e := errors.New(errors.CodeUnavailable, "avatar group has no usable avatar yet")
	e.Op = op
	return "", e
}

type videoInput struct {
	Character struct {
		Type           string `json:"type"`
		TalkingPhotoID string `json:"talking_photo_id"`
	} `json:"character"`
	Voice struct {
		Type      string `json:"type"`
		InputText string `json:"input_text"`
		VoiceID   string `json:"voice_id"`
	} `json:"voice"`
}

type dimension struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

type generateRequest struct {
	VideoInputs []videoInput `json:"video_inputs"`
	Dimension   *dimension   `json:"dimension,omitempty"`
}

func (c *Client) SubmitRender(ctx context.Context, renderableID, voiceHandle, scriptText string) (string, error) {
	const op = "heygen.submit_render"
	if !c.Configured() {
		return "", providers.NotConfigured(name)
	}

	var in videoInput
	in.Character.Type = "talking_photo"
	in.Character.TalkingPhotoID = renderableID
	in.Voice.Type = "text"
	in.Voice.InputText = scriptText
	in.Voice.VoiceID = voiceHandle

	body := generateRequest{VideoInputs: []videoInput{in}}
	if c.cfg.Width > 0 && c.cfg.Height > 0 {
		body.Dimension = &dimension{Width: c.cfg.Width, Height: c.cfg.Height}
	}

	var env envelope[struct {
		VideoID string `json:"video_id"`
	}]
	err := c.http.Do(ctx, providers.Request{
		Op:     op,
		Method: http.MethodPost,
		URL:    c.cfg.APIBase + "/v2/video/generate",
		JSON:   body,
	}, &env)
	if err != nil {
		return "", err
	}
	d, err := unwrap(op, env)
	if err != nil {
		return "", err
	}
	// An empty id is returned as-is; the caller records it as a failure.
	return d.VideoID, nil
}

func (c *Client) PollRender(ctx context.Context, jobID string) (ports.RenderStatus, error) {
	const op = "heygen.poll_render"
	if !c.Configured() {
		return ports.RenderStatus{}, providers.NotConfigured(name)
	}

	var env envelope[struct {
		Status       string  `json:"status"`
		VideoURL     string  `json:"video_url"`
		ThumbnailURL string  `json:"thumbnail_url"`
		Duration     float64 `json:"duration"`
		Error        *struct {
			Code    any    `json:"code"`
			Message string `json:"message"`
			Detail  string `json:"detail"`
		} `json:"error"`
	}]
	err := c.http.Do(ctx, providers.Request{
		Op:     op,
		Method: http.MethodGet,
		URL:    c.cfg.APIBase + "/v1/video_status.get?video_id=" + url.QueryEscape(jobID),
	}, &env)
	if err != nil {
		return ports.RenderStatus{}, err
	}
	d, err := unwrap(op, env)
	if err != nil {
		return ports.RenderStatus{}, err
	}

	switch strings.ToLower(d.Status) {
	case "completed":
		return ports.RenderStatus{
			Terminal:        true,
			Succeeded:       true,
			URL:             d.VideoURL,
			ThumbnailURL:    d.ThumbnailURL,
			DurationSeconds: d.Duration,
		}, nil
	case "failed":
		reason := "render failed"
		if d.Error != nil {
			if m := strings.TrimSpace(d.Error.Message + " " + d.Error.Detail); m != "" {
				reason = m
			}
		}
		return ports.RenderStatus{Terminal: true, Reason: reason}, nil
	default:
		return ports.RenderStatus{}, nil
	}
}
