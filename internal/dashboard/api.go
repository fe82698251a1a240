package dashboard

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/dj-oyu/detection-dashboard/internal/backend"
	"github.com/dj-oyu/detection-dashboard/internal/charts"
	"github.com/dj-oyu/detection-dashboard/internal/lognorm"
	"github.com/dj-oyu/detection-dashboard/internal/logger"
	"github.com/dj-oyu/detection-dashboard/internal/model"
	"github.com/dj-oyu/detection-dashboard/internal/panel"
	"github.com/dj-oyu/detection-dashboard/internal/stream"
)

func (s *Server) handleStreamStart(w http.ResponseWriter, r *http.Request) {
	var src model.Source
	if err := json.NewDecoder(r.Body).Decode(&src); err != nil {
		writeError(w, "Invalid source", http.StatusBadRequest)
		return
	}
	if err := s.sess.StartStream(r.Context(), src); err != nil {
		writeStreamError(w, err)
		return
	}
	writeJSON(w, map[string]any{
		"status":     "started",
		"source":     src,
		"started_at": model.FromTime(time.Now()),
	})
}

func (s *Server) handleStreamStop(w http.ResponseWriter, r *http.Request) {
	if err := s.sess.StopStream(r.Context()); err != nil {
		writeStreamError(w, err)
		return
	}
	writeJSON(w, map[string]any{
		"status":     "stopped",
		"stopped_at": model.FromTime(time.Now()),
	})
}

// writeStreamError maps controller errors to HTTP statuses. Backend
// failures carry the backend's message and log tail.
func writeStreamError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, stream.ErrEmptySource):
		writeError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, stream.ErrBusy):
		writeError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, stream.ErrUnavailable):
		writeError(w, err.Error(), http.StatusServiceUnavailable)
	default:
		payload := map[string]any{"error": err.Error()}
		if apiErr, ok := backend.AsAPIError(err); ok {
			if apiErr.Message != "" {
				payload["error"] = apiErr.Message
			}
			if len(apiErr.LastLogs) > 0 {
				payload["last_logs"] = apiErr.LastLogs
			}
		}
		writeJSONWithStatus(w, payload, http.StatusBadGateway)
	}
}

func (s *Server) handlePlayback(pause bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if pause {
			s.sess.Playback.Pause()
		} else {
			s.sess.Playback.Resume()
		}
		writeJSON(w, map[string]any{"playback": s.sess.Playback.State()})
	}
}

func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	if !s.sess.Store.Connected() {
		writeError(w, stream.ErrUnavailable.Error(), http.StatusServiceUnavailable)
		return
	}
	if err := s.sess.Cleanup(r.Context()); err != nil {
		writeError(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, map[string]any{"status": "ok"})
}

func filterFromQuery(r *http.Request) (panel.Filter, error) {
	q := r.URL.Query()
	return panel.ParseFilter(q.Get("class"), q.Get("confidence"), q.Get("range"))
}

func (s *Server) handleCurrentDetections(w http.ResponseWriter, r *http.Request) {
	f, err := filterFromQuery(r)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	dets := panel.FilterCurrent(s.sess.Store.CurrentDetections(), f)
	writeJSON(w, map[string]any{
		"detections": dets,
		"count":      len(dets),
		"filters":    f,
	})
}

func (s *Server) handleDetectionHistory(w http.ResponseWriter, r *http.Request) {
	f, err := filterFromQuery(r)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	snap := s.sess.Store.Snapshot()
	filtered := panel.FilterHistory(snap.DetectionHistory, f, time.Now())
	writeJSON(w, map[string]any{
		"history": filtered,
		"count":   len(filtered),
		"total":   len(snap.DetectionHistory),
		"classes": panel.UniqueClasses(snap.CurrentDetections, snap.DetectionHistory),
		"filters": f,
	})
}

func (s *Server) handleTrajectories(w http.ResponseWriter, r *http.Request) {
	snap := s.sess.Store.Snapshot()
	writeJSON(w, map[string]any{
		"trajectories": snap.Trajectories,
		"analysis":     panel.AnalyzeTrajectories(snap.Trajectories),
	})
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	snap := s.sess.Store.Snapshot()
	writeJSON(w, map[string]any{"logs": lognorm.SortNewestFirst(snap.Logs)})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	f, err := filterFromQuery(r)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	exp, filename := s.sess.Export(r.Context(), f, time.Now())
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	if err := exp.Write(w); err != nil {
		logger.Warn("Export", "Write %s failed: %v", filename, err)
	}
}

func (s *Server) handleChart(w http.ResponseWriter, r *http.Request) {
	snap := s.sess.Store.Snapshot()
	size := charts.DefaultSize

	var err error
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-cache")
	switch mux.Vars(r)["kind"] {
	case "model":
		err = charts.RenderModel(w, snap.ModelHistory, size)
	default:
		err = charts.RenderSystem(w, snap.SystemHistory, size)
	}
	if errors.Is(err, charts.ErrNotEnoughData) {
		w.Header().Del("Cache-Control")
		writeError(w, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		logger.Warn("Charts", "Render failed: %v", err)
	}
}

func (s *Server) handleArchive(w http.ResponseWriter, r *http.Request) {
	if s.sess.Archive == nil {
		writeError(w, "archive disabled", http.StatusNotFound)
		return
	}
	since := time.Hour
	if v := r.URL.Query().Get("since"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			writeError(w, fmt.Sprintf("invalid since %q", v), http.StatusBadRequest)
			return
		}
		since = d
	}

	summary, err := s.sess.Archive.Summary(r.Context())
	if err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	samples, err := s.sess.Archive.ModelHistory(r.Context(), time.Now().Add(-since))
	if err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if samples == nil {
		samples = []model.ModelMetrics{}
	}
	writeJSON(w, map[string]any{"summary": summary, "model_samples": samples})
}
