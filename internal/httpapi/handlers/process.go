package handlers

import (
	"net/http"
	"strings"

	"dopple/internal/httpkit"
	"dopple/internal/pkg/errors"
	"dopple/internal/scheduler"
)

// TriggerHeader marks scheduled invocations, which get the sweep budget.
const TriggerHeader = "X-Trigger-Mode"

// Process runs one pass and answers with its summary. The request body is
// ignored. ?id= may be repeated to visit those personas first.
func (h *Handler) Process(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()

	mode := scheduler.ParseMode(r.URL.Query().Get("mode"))
	if trig := r.Header.Get(TriggerHeader); trig != "" && scheduler.ParseMode(trig) == scheduler.ModeSweep {
		mode = scheduler.ModeSweep
	}

	var focus []string
	for _, id := range r.URL.Query()["id"] {
		if id = strings.TrimSpace(id); id != "" {
			focus = append(focus, id)
		}
	}

	sum, err := h.runner.Run(ctx, scheduler.Request{Mode: mode, Focus: focus})
	if err != nil {
		return errors.WrapWithCode(err, errors.CodeInternal, "httpapi.process", "pass failed")
	}
	httpkit.WriteJSON(w, http.StatusOK, sum)
	return nil
}
