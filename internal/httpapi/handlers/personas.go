package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"dopple/internal/httpkit"
	"dopple/internal/persona"
	"dopple/internal/pkg/errors"
)

func personaID(r *http.Request) (string, error) {
	id := strings.TrimSpace(chi.URLParam(r, "personaId"))
	if id == "" || strings.ContainsAny(id, "/\\") || strings.HasPrefix(id, ".") {
		return "", errors.Validationf("invalid persona id %q", id)
	}
	return id, nil
}

// GetPersona returns the stored record.
func (h *Handler) GetPersona(w http.ResponseWriter, r *http.Request) error {
	id, err := personaID(r)
	if err != nil {
		return err
	}
	key := persona.KeyFor(id)
	data, err := h.store.Get(r.Context(), key)
	if err != nil {
		return err
	}
	rec, err := persona.Decode(key, data)
	if err != nil {
		return err
	}
	httpkit.WriteJSON(w, http.StatusOK, map[string]any{
		"persona": rec,
		"counts":  rec.Counts(),
	})
	return nil
}

// KickPersona queues a short pass focused on the persona.
func (h *Handler) KickPersona(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()
	id, err := personaID(r)
	if err != nil {
		return err
	}
	if h.kicks == nil {
		return errors.NotConfigured("kick queue")
	}
	if _, err := h.store.Get(ctx, persona.KeyFor(id)); err != nil {
		return err
	}
	if err := h.kicks.Push(ctx, id); err != nil {
		return err
	}
	h.log.FromContext(ctx).WithPersonaID(id).Info("persona kicked")
	httpkit.WriteJSON(w, http.StatusAccepted, map[string]any{"kicked": id})
	return nil
}
