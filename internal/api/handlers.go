package api

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"iptvmerge/internal/aggregator"
	"iptvmerge/internal/models"
	"iptvmerge/internal/playlist"
	"iptvmerge/internal/runner"
	"iptvmerge/internal/storage"
)

// Trigger starts an aggregation run in the background.
type Trigger interface {
	Trigger() error
}

// Handlers holds dependencies for the API handlers.
type Handlers struct {
	store   storage.Storer
	trigger Trigger
}

// NewHandlers creates a new Handlers struct.
func NewHandlers(store storage.Storer, trigger Trigger) *Handlers {
	return &Handlers{store: store, trigger: trigger}
}

// TriggerRun starts a run unless one is already in progress.
func (h *Handlers) TriggerRun(w http.ResponseWriter, r *http.Request) {
	if h.trigger == nil {
		http.Error(w, "runs cannot be triggered on this server", http.StatusServiceUnavailable)
		return
	}
	if err := h.trigger.Trigger(); err != nil {
		if errors.Is(err, runner.ErrBusy) {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		log.Printf("trigger run error: %v", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// ListRuns handles listing runs with pagination, newest first.
func (h *Handlers) ListRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 50
	if l := q.Get("limit"); l != "" {
		if v, err := strconv.Atoi(l); err == nil && v > 0 && v <= 500 {
			limit = v
		}
	}

	var beforeTime time.Time
	var beforeID string
	if token := q.Get("page_token"); token != "" {
		// token is base64 of "<rfc3339nano>|<id>"
		if decoded, err := base64.URLEncoding.DecodeString(token); err == nil {
			parts := strings.SplitN(string(decoded), "|", 2)
			if len(parts) == 2 {
				if t, err := time.Parse(time.RFC3339Nano, parts[0]); err == nil {
					beforeTime = t
					beforeID = parts[1]
				}
			}
		}
	}

	items, err := h.store.ListRuns(r.Context(), storage.ListRunsParams{
		BeforeTime: beforeTime,
		BeforeID:   beforeID,
		Limit:      limit,
	})
	if err != nil {
		log.Printf("list runs error: %v", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	resp := struct {
		Items         []models.RunSummary `json:"items"`
		NextPageToken string              `json:"next_page_token"`
	}{
		Items: items,
	}
	if resp.Items == nil {
		resp.Items = []models.RunSummary{}
	}

	if len(items) == limit {
		last := items[len(items)-1]
		cursor := last.StartedAt.UTC().Format(time.RFC3339Nano) + "|" + last.ID
		resp.NextPageToken = base64.URLEncoding.EncodeToString([]byte(cursor))
	}

	writeJSON(w, http.StatusOK, resp)
}

// GetRun returns a run summary with the sources that failed to fetch.
func (h *Handlers) GetRun(w http.ResponseWriter, r *http.Request) {
	run, ok := h.lookupRun(w, r)
	if !ok {
		return
	}
	failures, err := h.store.ListFetchFailures(r.Context(), run.ID)
	if err != nil {
		log.Printf("list fetch failures error: %v", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	if failures == nil {
		failures = []models.FetchFailure{}
	}

	resp := struct {
		*models.RunSummary
		FetchFailures []models.FetchFailure `json:"fetch_failures"`
	}{RunSummary: run, FetchFailures: failures}
	writeJSON(w, http.StatusOK, resp)
}

// ListRunResults handles listing the per-record results of a run.
func (h *Handlers) ListRunResults(w http.ResponseWriter, r *http.Request) {
	run, ok := h.lookupRun(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	limit := 100
	if l := q.Get("limit"); l != "" {
		if v, err := strconv.Atoi(l); err == nil && v > 0 && v <= 1000 {
			limit = v
		}
	}
	outcome := models.Outcome(strings.ToLower(q.Get("outcome")))
	if outcome != "" && !outcome.Valid() {
		http.Error(w, "invalid outcome filter", http.StatusBadRequest)
		return
	}
	kept, _ := strconv.ParseBool(q.Get("kept"))

	results, err := h.store.ListRunResults(r.Context(), storage.ListRunResultsParams{
		RunID:    run.ID,
		Outcome:  outcome,
		KeptOnly: kept,
		Limit:    limit,
	})
	if err != nil {
		log.Printf("list results error: %v", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	if results == nil {
		results = []models.ProbeResult{}
	}

	resp := struct {
		Items []models.ProbeResult `json:"items"`
	}{Items: results}
	writeJSON(w, http.StatusOK, resp)
}

// GetRunPlaylist renders the kept records of a stored run as M3U.
func (h *Handlers) GetRunPlaylist(w http.ResponseWriter, r *http.Request) {
	run, ok := h.lookupRun(w, r)
	if !ok {
		return
	}
	results, err := h.store.ListRunResults(r.Context(), storage.ListRunResultsParams{RunID: run.ID, KeptOnly: true})
	if err != nil {
		log.Printf("list results error: %v", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	records := make([]models.Record, 0, len(results))
	for _, pr := range results {
		records = append(records, pr.Record)
	}
	aggregator.SortRecords(records)

	w.Header().Set("Content-Type", "audio/x-mpegurl; charset=utf-8")
	err = playlist.Write(w, records, playlist.Header{
		GeneratedAt: run.StartedAt,
		Sources:     run.Sources,
		Live:        run.LiveCount,
		Degraded:    run.Degraded,
		AssumedLive: run.AssumedLiveCount,
	})
	if err != nil {
		log.Printf("write playlist error: %v", err)
	}
}

// Healthz is a simple health check endpoint.
func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// lookupRun loads the run named in the path, writing the error response
// itself when the run cannot be loaded.
func (h *Handlers) lookupRun(w http.ResponseWriter, r *http.Request) (*models.RunSummary, bool) {
	run, err := h.store.GetRunByID(r.Context(), r.PathValue("run_id"))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			http.Error(w, "run not found", http.StatusNotFound)
			return nil, false
		}
		log.Printf("get run error: %v", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return nil, false
	}
	return run, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
