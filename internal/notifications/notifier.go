package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"dopple/internal/config"
	"dopple/internal/pkg/errors"
	"dopple/internal/ports"
)

const userAgent = "dopple/1.0"

// New builds the notifier for cfg. Both transports may be configured, in
// which case each must succeed for the notification to count as sent.
func New(cfg config.Notifications) ports.Notifier {
	timeout := cfg.RequestTimeout.Std()
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client := &http.Client{Timeout: timeout}

	var out multi
	if topic := strings.TrimSpace(cfg.NtfyTopic); topic != "" {
		out = append(out, &ntfy{endpoint: topic, publicURL: cfg.PublicURL, client: client})
	}
	if hook := strings.TrimSpace(cfg.WebhookURL); hook != "" {
		out = append(out, &webhook{endpoint: hook, publicURL: cfg.PublicURL, client: client})
	}
	switch len(out) {
	case 0:
		return Noop{}
	case 1:
		return out[0]
	default:
		return out
	}
}

// ChatURL is where a ready persona can be talked to.
func ChatURL(publicURL, personaID string) string {
	if publicURL == "" {
		return ""
	}
	return fmt.Sprintf("%s/chat.html?id=%s", publicURL, personaID)
}

func readyMessage(publicURL, personaID, displayName string) string {
	msg := fmt.Sprintf("%s is ready to chat.", displayName)
	if u := ChatURL(publicURL, personaID); u != "" {
		msg += "\n" + u
	}
	return msg
}

type ntfy struct {
	endpoint  string
	publicURL string
	client    *http.Client
}

func (n *ntfy) NotifyReady(ctx context.Context, personaID, contact, displayName string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint,
		strings.NewReader(readyMessage(n.publicURL, personaID, displayName)))
	if err != nil {
		return errors.Wrap(err, "notifications.ntfy", "build request")
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	req.Header.Set("Title", "Your dopple is ready")
	req.Header.Set("Tags", "dopple,ready")
	if u := ChatURL(n.publicURL, personaID); u != "" {
		req.Header.Set("Click", u)
	}
	if contact != "" {
		req.Header.Set("X-Email", contact)
	}
	return send(n.client, req, "notifications.ntfy")
}

// WebhookPayload is the JSON body posted to the webhook.
type WebhookPayload struct {
	Event       string `json:"event"`
	PersonaID   string `json:"personaId"`
	Contact     string `json:"contact,omitempty"`
	DisplayName string `json:"displayName"`
	ChatURL     string `json:"chatUrl,omitempty"`
}

type webhook struct {
	endpoint  string
	publicURL string
	client    *http.Client
}

func (w *webhook) NotifyReady(ctx context.Context, personaID, contact, displayName string) error {
	body, err := json.Marshal(WebhookPayload{
		Event:       "persona.ready",
		PersonaID:   personaID,
		Contact:     contact,
		DisplayName: displayName,
		ChatURL:     ChatURL(w.publicURL, personaID),
	})
	if err != nil {
		return errors.Wrap(err, "notifications.webhook", "encode payload")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.endpoint, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "notifications.webhook", "build request")
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "application/json")
	return send(w.client, req, "notifications.webhook")
}

func send(client *http.Client, req *http.Request, op string) error {
	resp, err := client.Do(req)
	if err != nil {
		return errors.WrapWithCode(err, errors.CodeUnavailable, op, "send notification")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return errors.Wrapf(errors.Unavailable(op), op, "returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type multi []ports.Notifier

func (m multi) NotifyReady(ctx context.Context, personaID, contact, displayName string) error {
	for _, n := range m {
		if err := n.NotifyReady(ctx, personaID, contact, displayName); err != nil {
			return err
		}
	}
	return nil
}

// Noop accepts every notification.
type Noop struct{}

func (Noop) NotifyReady(context.Context, string, string, string) error { return nil }
