package api

import (
	"net/http"

	"iptvmerge/internal/storage"
)

// NewRouter creates a new http.ServeMux and registers the API handlers.
// trigger may be nil, in which case run requests are rejected.
func NewRouter(store storage.Storer, trigger Trigger) *http.ServeMux {
	mux := http.NewServeMux()
	h := NewHandlers(store, trigger)

	mux.HandleFunc("POST /v1/runs", h.TriggerRun)
	mux.HandleFunc("GET /v1/runs", h.ListRuns)
	mux.HandleFunc("GET /v1/runs/{run_id}", h.GetRun)
	mux.HandleFunc("GET /v1/runs/{run_id}/results", h.ListRunResults)
	mux.HandleFunc("GET /v1/runs/{run_id}/playlist", h.GetRunPlaylist)
	mux.HandleFunc("GET /healthz", h.Healthz)

	return mux
}
