package api

import (
	"context"
	"net/http"

	"github.com/kilianp07/chargeslot/core/model"
)

// StationAdmin approves stations. directory.MemoryDirectory implements it.
type StationAdmin interface {
	Verify(ctx context.Context, id string) (model.Station, error)
	ListUnverified(ctx context.Context) []model.Station
}

type adminHandlers struct {
	admin StationAdmin
}

func (h adminHandlers) unverified(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.admin.ListUnverified(r.Context()))
}

func (h adminHandlers) verify(w http.ResponseWriter, r *http.Request) {
	st, err := h.admin.Verify(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}
