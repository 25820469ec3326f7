// Package reconcile persists advanced persona records without losing
// progress written by a racing pass, and fires the ready notification.
package reconcile

import (
	"bytes"
	"context"
	"time"

	"dopple/internal/persona"
	"dopple/internal/pkg/errors"
	"dopple/internal/pkg/logger"
	"dopple/internal/ports"
)

// Writer merges a local record with the stored copy and writes the result
// only when it differs.
type Writer struct {
	store    ports.Store
	notifier ports.Notifier
	log      *logger.Logger
	now      func() time.Time
}

type Option func(*Writer)

func WithClock(now func() time.Time) Option { return func(w *Writer) { w.now = now } }

func New(store ports.Store, notifier ports.Notifier, log *logger.Logger, opts ...Option) *Writer {
	if log == nil {
		log = logger.Discard()
	}
	w := &Writer{store: store, notifier: notifier, log: log.WithComponent("reconcile"), now: time.Now}
	for _, o := range opts {
		o(w)
	}
	return w
}

// Result describes what Save did.
type Result struct {
	Written  bool
	Notified bool
	Status   persona.Status
}

// Load reads and decodes the stored record.
func (w *Writer) Load(ctx context.Context, key string) (*persona.Record, error) {
	data, err := w.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	return persona.Decode(key, data)
}

// Save merges rec into the stored copy, settles the status and writes when
// the canonical encoding changed. On the transition into ready it notifies
// the contact once, before the write; a crash between the two may repeat
// the notification on a later pass, a failed notification is not retried.
// A record missing from the store is never recreated: Save returns the
// not-found error and writes nothing.
//
// The merged record is returned whether or not it was written.
func (w *Writer) Save(ctx context.Context, key string, rec *persona.Record) (*persona.Record, Result, error) {
	stored, err := w.Load(ctx, key)
	if err != nil {
		return rec, Result{Status: rec.Status}, errors.Wrap(err, "reconcile.save", "reload before write")
	}

	merged := persona.Merge(stored, rec)
	merged.Status = merged.Settle()
	res := Result{Status: merged.Status}

	same, err := equal(stored, merged)
	if err != nil {
		return merged, res, err
	}
	if same {
		return merged, res, nil
	}

	if merged.Status == persona.StatusReady && merged.NotifiedAt == nil && stored.Status != persona.StatusReady {
		res.Notified = w.notify(ctx, merged)
	}

	now := w.now().UTC()
	merged.UpdatedAt = &now
	data, err := merged.Encode()
	if err != nil {
		return merged, res, err
	}
	if err := w.store.Set(ctx, key, data); err != nil {
		return merged, res, errors.Wrap(err, "reconcile.save", "write record")
	}
	res.Written = true

	w.log.FromContext(ctx).Debug("record written",
		"key", key,
		"status", string(merged.Status),
		"counts", merged.Counts().String(),
	)
	return merged, res, nil
}

func (w *Writer) notify(ctx context.Context, rec *persona.Record) bool {
	log := w.log.FromContext(ctx).WithPersonaID(rec.ID)
	if w.notifier == nil {
		return false
	}
	if err := w.notifier.NotifyReady(ctx, rec.ID, rec.Email, rec.DisplayName()); err != nil {
		log.WithError(err).Warn("ready notification failed")
		return false
	}
	at := w.now().UTC()
	rec.NotifiedAt = &at
	log.Info("ready notification sent")
	return true
}

// equal compares two records ignoring updatedAt.
func equal(a, b *persona.Record) (bool, error) {
	ac, bc := a.Clone(), b.Clone()
	ac.UpdatedAt, bc.UpdatedAt = nil, nil
	ea, err := ac.Encode()
	if err != nil {
		return false, err
	}
	eb, err := bc.Encode()
	if err != nil {
		return false, err
	}
	return bytes.Equal(ea, eb), nil
}
