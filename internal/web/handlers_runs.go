package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/sheetimport/internal/core"
)

// runResponse combines the history record of a run with its live progress.
// Either may be absent: history only holds finished runs and progress is
// only kept for a while after a run ends.
type runResponse struct {
	Run      *core.RunRecord   `json:"run,omitempty"`
	Progress *core.RunProgress `json:"progress,omitempty"`
}

// handleListRuns returns recent runs, newest first.
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := min(parseIntParam(r, "limit", core.DefaultHistoryLimit), maxListLimit)

	runs, err := s.service.ListRuns(r.Context(), limit)
	if err != nil {
		respondError(w, r, err, http.StatusInternalServerError)
		return
	}
	writeJSON(w, r, map[string]any{"runs": runs})
}

// handleGetRun returns one run from history and, while tracked, its progress.
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	var resp runResponse
	rec, err := s.service.GetRun(r.Context(), runID)
	switch {
	case err == nil:
		resp.Run = rec
	case !errors.Is(err, core.ErrRunNotFound):
		respondError(w, r, err, http.StatusInternalServerError)
		return
	}

	if p, perr := s.service.GetRunProgress(runID); perr == nil {
		resp.Progress = &p
	}

	if resp.Run == nil && resp.Progress == nil {
		respondError(w, r, fmt.Errorf("%w: %s", core.ErrRunNotFound, runID), http.StatusNotFound)
		return
	}
	writeJSON(w, r, resp)
}

// handleActiveRuns returns progress for runs still in flight.
func (s *Server) handleActiveRuns(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, map[string]any{
		"runs":    s.service.ActiveRuns(),
		"limiter": s.service.LimiterStatus(),
	})
}

// handleCancelRun cancels an in-flight run.
func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	if err := s.service.CancelRun(runID); err != nil {
		respondError(w, r, err, 0)
		return
	}
	writeJSON(w, r, map[string]string{"runId": runID, "status": "cancelling"})
}

// handleRunProgress streams run progress via Server-Sent Events.
// Supports resumption via the lastEventId query parameter or the
// Last-Event-ID header; the event id is the progress percentage.
func (s *Server) handleRunProgress(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	lastEventIDStr := r.URL.Query().Get("lastEventId")
	if lastEventIDStr == "" {
		lastEventIDStr = r.Header.Get("Last-Event-ID")
	}
	lastEventID, _ := strconv.Atoi(lastEventIDStr)
	resuming := lastEventIDStr != ""

	progressCh, err := s.service.SubscribeProgress(runID)
	if err != nil {
		respondError(w, r, err, http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)

	for {
		select {
		case progress, ok := <-progressCh:
			if !ok {
				s.writeRunComplete(w, r, rc, runID)
				return
			}

			percent := progress.Percent()
			if resuming && percent <= lastEventID && !progress.Phase.Terminal() {
				continue
			}

			data, _ := json.Marshal(progress)
			fmt.Fprintf(w, "id: %d\nevent: progress\ndata: %s\n\n", percent, data)
			if err := rc.Flush(); err != nil {
				return
			}

		case <-r.Context().Done():
			return
		}
	}
}

// writeRunComplete sends the final result once the progress channel closes.
func (s *Server) writeRunComplete(w http.ResponseWriter, r *http.Request, rc *http.ResponseController, runID string) {
	result, _ := s.service.WaitRun(r.Context(), runID)
	data := []byte("{}")
	if result != nil {
		data, _ = json.Marshal(result)
	}
	fmt.Fprintf(w, "event: complete\ndata: %s\n\n", data)
	_ = rc.Flush()
}
