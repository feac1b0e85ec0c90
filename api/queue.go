package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/kilianp07/chargeslot/core/admission"
	"github.com/kilianp07/chargeslot/core/model"
)

// Queue is the walk-up queue surface served over HTTP.
type Queue interface {
	Join(ctx context.Context, stationID, requesterID string, priority *int) (admission.JoinResult, error)
	Status(ctx context.Context, stationID string) (admission.StatusSnapshot, error)
}

// JoinBody is the optional payload of POST /api/stations/{id}/queue.
type JoinBody struct {
	Priority *int `json:"priority"`
}

type queueHandlers struct {
	queue Queue
}

func (h queueHandlers) join(w http.ResponseWriter, r *http.Request) {
	var body JoinBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, fmt.Errorf("%w: decode body: %v", model.ErrValidation, err))
		return
	}
	res, err := h.queue.Join(r.Context(), r.PathValue("id"), principalFrom(r.Context()).RequesterID, body.Priority)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (h queueHandlers) status(w http.ResponseWriter, r *http.Request) {
	snap, err := h.queue.Status(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	snap.Entries = nonNil(snap.Entries)
	writeJSON(w, http.StatusOK, snap)
}
