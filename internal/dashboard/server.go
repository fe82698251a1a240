// Package dashboard serves the browser dashboard: the embedded page, the
// view model as JSON, SSE, WebSocket and WebRTC data channel pushes, stream
// controls and the MJPEG relay with overlays burned in.
package dashboard

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/dj-oyu/detection-dashboard/internal/logger"
	"github.com/dj-oyu/detection-dashboard/internal/metrics"
	"github.com/dj-oyu/detection-dashboard/internal/session"
)

// Server serves the dashboard endpoints for one session.
type Server struct {
	cfg          Config
	sess         *session.Session
	metrics      *metrics.Metrics
	broadcaster  *StateBroadcaster
	relay        *FrameRelay
	dataChannels *DataChannelServer
}

// NewServer returns a configured server with its broadcasters running.
func NewServer(cfg Config, sess *session.Session) *Server {
	def := DefaultConfig()
	if cfg.KeepaliveInterval <= 0 {
		cfg.KeepaliveInterval = def.KeepaliveInterval
	}
	if cfg.RelayIdleFrame <= 0 {
		cfg.RelayIdleFrame = def.RelayIdleFrame
	}
	if cfg.MaxDataChannels <= 0 {
		cfg.MaxDataChannels = def.MaxDataChannels
	}

	broadcaster := NewStateBroadcaster(sess)
	broadcaster.Start()

	relay := NewFrameRelay(RelaySource{
		FeedURL:    sess.Client.VideoFeedURL,
		Detections: sess.Store.CurrentDetections,
		Paused:     sess.Playback.Paused,
	}, cfg.RelayJPEGQuality, sess.Metrics)
	relay.Start()

	return &Server{
		cfg:          cfg,
		sess:         sess,
		metrics:      sess.Metrics,
		broadcaster:  broadcaster,
		relay:        relay,
		dataChannels: NewDataChannelServer(cfg.STUNServers, cfg.MaxDataChannels, broadcaster, sess.Metrics),
	}
}

// Handler exposes the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/", s.handleIndex).Methods(http.MethodGet)
	r.PathPrefix("/assets/").Handler(http.StripPrefix("/assets/", newAssetHandler(s.cfg.AssetsDir)))
	r.HandleFunc("/stream", s.handleStream).Methods(http.MethodGet)
	r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/state", s.handleState).Methods(http.MethodGet)
	api.HandleFunc("/state/stream", s.handleStateStream).Methods(http.MethodGet)
	api.HandleFunc("/ws", s.handleWebSocket).Methods(http.MethodGet)
	api.HandleFunc("/webrtc/offer", s.handleWebRTCOffer).Methods(http.MethodPost)

	api.HandleFunc("/stream/start", s.handleStreamStart).Methods(http.MethodPost)
	api.HandleFunc("/stream/stop", s.handleStreamStop).Methods(http.MethodPost)
	api.HandleFunc("/playback/pause", s.handlePlayback(true)).Methods(http.MethodPost)
	api.HandleFunc("/playback/resume", s.handlePlayback(false)).Methods(http.MethodPost)
	api.HandleFunc("/cleanup", s.handleCleanup).Methods(http.MethodPost)

	api.HandleFunc("/detections/current", s.handleCurrentDetections).Methods(http.MethodGet)
	api.HandleFunc("/detections/history", s.handleDetectionHistory).Methods(http.MethodGet)
	api.HandleFunc("/trajectories", s.handleTrajectories).Methods(http.MethodGet)
	api.HandleFunc("/logs", s.handleLogs).Methods(http.MethodGet)
	api.HandleFunc("/export", s.handleExport).Methods(http.MethodGet)
	api.HandleFunc("/charts/{kind:model|system}.png", s.handleChart).Methods(http.MethodGet)
	api.HandleFunc("/archive", s.handleArchive).Methods(http.MethodGet)

	cors := handlers.CORS(
		handlers.AllowedOrigins([]string{"*"}),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Content-Type", "Accept"}),
	)
	return handlers.CustomLoggingHandler(io.Discard, cors(r), logRequest)
}

// Close stops the broadcasters and disconnects push clients.
func (s *Server) Close() {
	s.dataChannels.Close()
	s.relay.Stop()
	s.broadcaster.Stop()
}

func logRequest(_ io.Writer, p handlers.LogFormatterParams) {
	logger.Debug("HTTP", "%s %s %d %dB", p.Request.Method, p.URL.RequestURI(), p.StatusCode, p.Size)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(indexHTML))
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	id, frameCh := s.relay.Subscribe()
	defer s.relay.Unsubscribe(id)
	streamMJPEGFromChannel(r.Context(), w, frameCh, s.cfg.RelayIdleFrame)
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, buildView(s.sess))
}

func (s *Server) handleStateStream(w http.ResponseWriter, r *http.Request) {
	s.metrics.SSEClients.Add(1)
	defer s.metrics.SSEClients.Add(^uint64(0))

	id, eventCh := s.broadcaster.Subscribe()
	defer s.broadcaster.Unsubscribe(id)
	streamStateEvents(r.Context(), w, eventCh, wantsProtobuf(r), s.cfg.KeepaliveInterval)
}

func (s *Server) handleWebRTCOffer(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, "Invalid offer data", http.StatusBadRequest)
		return
	}
	answer, err := s.dataChannels.HandleOffer(body)
	if err != nil {
		logger.Warn("WebRTC", "Offer rejected: %v", err)
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(answer)
}

func writeJSON(w http.ResponseWriter, payload any) {
	writeJSONWithStatus(w, payload, http.StatusOK)
}

func writeJSONWithStatus(w http.ResponseWriter, payload any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		_, _ = fmt.Fprintf(w, `{"error":%q}`, err.Error())
	}
}

func writeError(w http.ResponseWriter, msg string, status int) {
	writeJSONWithStatus(w, map[string]any{"error": msg}, status)
}
