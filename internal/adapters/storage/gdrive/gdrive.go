// Package gdrive stores blobs as files in one Google Drive folder. The blob
// key is the file name; Drive file ids are looked up by name and cached.
package gdrive

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"

	"dopple/internal/pkg/errors"
	"dopple/internal/ports"
)

// Client implements ports.Store backed by Google Drive.
type Client struct {
	srv      *drive.Service
	folderID string

	mu  sync.RWMutex
	ids map[string]string
}

var _ ports.Store = (*Client)(nil)

func NewClient(srv *drive.Service, folderID string) *Client {
	return &Client{srv: srv, folderID: folderID, ids: make(map[string]string)}
}

func (c *Client) Provider() string { return "gdrive" }

func (c *Client) List(ctx context.Context, prefix string) ([]string, error) {
	q := c.query(fmt.Sprintf("name contains '%s'", escape(prefix)))
	var keys []string
	err := c.srv.Files.List().
		Q(q).
		Fields("nextPageToken, files(id, name)").
		PageSize(1000).
		SupportsAllDrives(true).
		IncludeItemsFromAllDrives(true).
		Pages(ctx, func(page *drive.FileList) error {
			for _, f := range page.Files {
				if !strings.HasPrefix(f.Name, prefix) {
					continue
				}
				c.remember(f.Name, f.Id)
				keys = append(keys, f.Name)
			}
			return nil
		})
	if err != nil {
		return nil, classify(err, "gdrive.list", prefix)
	}
	sort.Strings(keys)
	return dedupe(keys), nil
}

func (c *Client) Get(ctx context.Context, key string) ([]byte, error) {
	id, err := c.lookup(ctx, key)
	if err != nil {
		return nil, err
	}
	resp, err := c.srv.Files.Get(id).
		SupportsAllDrives(true).
		Context(ctx).
		Download()
	if err != nil {
		if isStatus(err, http.StatusNotFound) {
			c.forget(key)
		}
		return nil, classify(err, "gdrive.get", key)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.CodeUnavailable, "gdrive.get", "read body")
	}
	return data, nil
}

func (c *Client) Set(ctx context.Context, key string, data []byte) error {
	id, err := c.lookup(ctx, key)
	switch {
	case err == nil:
		_, err = c.srv.Files.Update(id, &drive.File{}).
			Media(bytes.NewReader(data), googleapi.ContentType(contentType(key))).
			SupportsAllDrives(true).
			Context(ctx).
			Do()
		if err != nil {
			return classify(err, "gdrive.update", key)
		}
		return nil
	case errors.IsNotFound(err):
	default:
		return err
	}

	file := &drive.File{Name: key}
	if c.folderID != "" {
		file.Parents = []string{c.folderID}
	}
	created, err := c.srv.Files.Create(file).
		Media(bytes.NewReader(data), googleapi.ContentType(contentType(key))).
		SupportsAllDrives(true).
		Fields("id").
		Context(ctx).
		Do()
	if err != nil {
		return classify(err, "gdrive.create", key)
	}
	c.remember(key, created.Id)
	return nil
}

func (c *Client) lookup(ctx context.Context, key string) (string, error) {
	c.mu.RLock()
	id, ok := c.ids[key]
	c.mu.RUnlock()
	if ok {
		return id, nil
	}

	res, err := c.srv.Files.List().
		Q(c.query(fmt.Sprintf("name = '%s'", escape(key)))).
		Fields("files(id, name)").
		PageSize(2).
		SupportsAllDrives(true).
		IncludeItemsFromAllDrives(true).
		Context(ctx).
		Do()
	if err != nil {
		return "", classify(err, "gdrive.lookup", key)
	}
	if len(res.Files) == 0 {
		return "", errors.NotFound("blob", key)
	}
	c.remember(key, res.Files[0].Id)
	return res.Files[0].Id, nil
}

func (c *Client) query(clause string) string {
	q := clause + " and trashed = false"
	if c.folderID != "" {
		q += fmt.Sprintf(" and '%s' in parents", escape(c.folderID))
	}
	return q
}

func (c *Client) remember(key, id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ids[key] = id
}

func (c *Client) forget(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.ids, key)
}

func escape(s string) string {
	return strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(s)
}

func contentType(key string) string {
	if strings.HasSuffix(key, ".json") {
		return "application/json"
	}
	return "application/octet-stream"
}

func dedupe(sorted []string) []string {
	out := sorted[:0]
	for i, k := range sorted {
		if i == 0 || k != sorted[i-1] {
			out = append(out, k)
		}
	}
	return out
}

func isStatus(err error, code int) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == code
}

func classify(err error, op, key string) error {
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return errors.WrapWithCode(err, errors.CodeUnavailable, op, key)
	}
	switch {
	case gerr.Code == http.StatusNotFound:
		return errors.NotFound("blob", key)
	case gerr.Code == http.StatusUnauthorized || (gerr.Code == http.StatusForbidden && !rateLimited(gerr)):
		return errors.WrapWithCode(err, errors.CodeNotConfigured, op, "drive credentials rejected")
	case gerr.Code == http.StatusTooManyRequests || rateLimited(gerr):
		return errors.WrapWithCode(err, errors.CodeResourceExhaust, op, key)
	case gerr.Code >= 500:
		return errors.WrapWithCode(err, errors.CodeUnavailable, op, key)
	default:
		return errors.WrapWithCode(err, errors.CodeBadRequest, op, key)
	}
}

// rateLimited reports Drive's 403 quota errors, which are retryable.
func rateLimited(gerr *googleapi.Error) bool {
	for _, e := range gerr.Errors {
		if strings.Contains(e.Reason, "RateLimitExceeded") || strings.Contains(e.Reason, "rateLimitExceeded") {
			return true
		}
	}
	return false
}
