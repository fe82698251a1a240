package dashboard

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dj-oyu/detection-dashboard/internal/session"
)

type fakeBackend struct {
	running   atomic.Bool
	failStart atomic.Bool
	frames    atomic.Int32
	jpeg      []byte
}

func newFakeBackend(t *testing.T) (*fakeBackend, *httptest.Server) {
	t.Helper()
	f := &fakeBackend{jpeg: testJPEG(t, 64, 48)}

	mux := http.NewServeMux()
	reply := func(w http.ResponseWriter, status int, v any) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(v)
	}
	ok := func(w http.ResponseWriter, v any) { reply(w, http.StatusOK, v) }

	mux.HandleFunc("/api/health", func(w http.ResponseWriter, r *http.Request) {
		ok(w, map[string]string{"status": "ok"})
	})
	mux.HandleFunc("/api/detections", func(w http.ResponseWriter, r *http.Request) {
		now := time.Now().UnixMilli()
		ok(w, []map[string]any{
			{"label": "person", "confidence": 0.9, "x": 1, "y": 2, "width": 3, "height": 4, "timestamp": now},
			{"label": "car", "confidence": 0.3, "x": 5, "y": 6, "width": 7, "height": 8, "timestamp": now},
		})
	})
	mux.HandleFunc("/api/detections/current", func(w http.ResponseWriter, r *http.Request) {
		ok(w, map[string]any{"detections": []map[string]any{
			{"label": "car", "confidence": 0.8, "x": 10, "y": 10, "width": 20, "height": 20},
			{"label": "dog", "confidence": 0.2, "x": 1, "y": 1, "width": 2, "height": 2},
		}})
	})
	mux.HandleFunc("/api/trajectories", func(w http.ResponseWriter, r *http.Request) {
		ok(w, []map[string]any{{"id": 3, "label": "person", "points": []map[string]any{
			{"x": 0, "y": 0, "timestamp": "2024-05-01T10:00:00Z"},
			{"x": 3, "y": 4, "timestamp": "2024-05-01T10:00:01Z"},
		}}})
	})
	mux.HandleFunc("/api/performance", func(w http.ResponseWriter, r *http.Request) {
		ok(w, map[string]any{"fps": 30, "inferenceTime": 12})
	})
	mux.HandleFunc("/api/system-metrics", func(w http.ResponseWriter, r *http.Request) {
		ok(w, map[string]any{"cpu": 40, "ram": 50})
	})
	mux.HandleFunc("/api/logs", func(w http.ResponseWriter, r *http.Request) {
		ok(w, map[string]any{"logs": []string{"✅ Model loaded", "❌ Camera missing"}})
	})
	mux.HandleFunc("/api/yolo/videos", func(w http.ResponseWriter, r *http.Request) {
		ok(w, map[string]any{"videos": []string{"videos/a.mp4"}})
	})
	mux.HandleFunc("/api/yolo/stream/status", func(w http.ResponseWriter, r *http.Request) {
		ok(w, map[string]any{"is_running": f.running.Load()})
	})
	mux.HandleFunc("/api/statistics/realtime", func(w http.ResponseWriter, r *http.Request) {
		ok(w, map[string]any{})
	})
	mux.HandleFunc("/api/yolo/stream/start", func(w http.ResponseWriter, r *http.Request) {
		if f.failStart.Load() {
			reply(w, http.StatusInternalServerError, map[string]any{
				"error":     "Failed to open video",
				"last_logs": []string{"opening videos/a.mp4", "cv2 error"},
			})
			return
		}
		f.running.Store(true)
		ok(w, map[string]string{"status": "started"})
	})
	mux.HandleFunc("/api/yolo/stream/stop", func(w http.ResponseWriter, r *http.Request) {
		f.running.Store(false)
		ok(w, map[string]string{"status": "stopped"})
	})
	mux.HandleFunc("/api/cleanup", func(w http.ResponseWriter, r *http.Request) {
		ok(w, map[string]string{"status": "ok"})
	})
	mux.HandleFunc("/video_feed", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=upstream")
		flusher := w.(http.Flusher)
		for {
			select {
			case <-r.Context().Done():
				return
			case <-time.After(20 * time.Millisecond):
			}
			_, err := fmt.Fprintf(w, "--upstream\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", len(f.jpeg))
			if err != nil {
				return
			}
			_, _ = w.Write(f.jpeg)
			_, _ = w.Write([]byte("\r\n"))
			flusher.Flush()
			f.frames.Add(1)
		}
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return f, srv
}

func testSessionConfig(url string) session.Config {
	cfg := session.DefaultConfig()
	cfg.BackendURL = url
	cfg.HealthInterval = 50 * time.Millisecond
	cfg.PollInterval = 20 * time.Millisecond
	cfg.LivePollInterval = 10 * time.Millisecond
	cfg.MetricsInterval = 20 * time.Millisecond
	cfg.HistoryInterval = 20 * time.Millisecond
	cfg.TrajectoryInterval = 20 * time.Millisecond
	cfg.StatisticsInterval = 20 * time.Millisecond
	cfg.LogInterval = 0
	return cfg
}

type testEnv struct {
	backend *fakeBackend
	sess    *session.Session
	server  *Server
	http    *httptest.Server
}

func newTestEnv(t *testing.T, mutate func(*Config)) *testEnv {
	t.Helper()
	f, upstream := newFakeBackend(t)

	cfg := DefaultConfig()
	cfg.AssetsDir = t.TempDir()
	cfg.KeepaliveInterval = 50 * time.Millisecond
	cfg.RelayIdleFrame = 50 * time.Millisecond
	cfg.Session = testSessionConfig(upstream.URL)
	if mutate != nil {
		mutate(&cfg)
	}

	sess, err := session.New(context.Background(), cfg.Session, nil)
	require.NoError(t, err)
	require.NoError(t, sess.Start())

	srv := NewServer(cfg, sess)
	hs := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		hs.CloseClientConnections()
		hs.Close()
		srv.Close()
		sess.Close()
	})

	require.Eventually(t, func() bool {
		snap := sess.Store.Snapshot()
		return snap.Connected && len(snap.DetectionHistory) == 2 && len(snap.Logs) == 2
	}, 2*time.Second, 10*time.Millisecond)

	return &testEnv{backend: f, sess: sess, server: srv, http: hs}
}

func (e *testEnv) get(t *testing.T, path string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Get(e.http.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, body
}

func (e *testEnv) postJSON(t *testing.T, path string, payload any) (*http.Response, []byte) {
	t.Helper()
	var body io.Reader = http.NoBody
	if payload != nil {
		data, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewReader(data)
	}
	resp, err := http.Post(e.http.URL+path, "application/json", body)
	require.NoError(t, err)
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, out
}

func readSSEEvent(url string, accept string, timeout time.Duration) (string, http.Header, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", nil, fmt.Errorf("build request: %w", err)
	}
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	buf := make([]byte, 0, 4096)
	tmp := make([]byte, 4096)
	for {
		n, readErr := resp.Body.Read(tmp)
		if n > 0 {
			buf = append(buf, tmp[:n]...)
			for {
				idx := bytes.Index(buf, []byte("\n\n"))
				if idx < 0 {
					break
				}
				event := string(buf[:idx])
				buf = buf[idx+2:]
				if strings.HasPrefix(event, ":") {
					continue
				}
				return event, resp.Header, nil
			}
		}
		if readErr != nil {
			if readErr == io.EOF {
				return "", nil, fmt.Errorf("sse stream closed before event")
			}
			return "", nil, fmt.Errorf("read sse: %w", readErr)
		}
	}
}

func sseData(t *testing.T, event string) string {
	t.Helper()
	for _, line := range strings.Split(event, "\n") {
		if strings.HasPrefix(line, "data:") {
			payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			require.NotEmpty(t, payload, "empty sse data line")
			return payload
		}
	}
	t.Fatalf("no data line in sse event: %q", event)
	return ""
}

func decodeJSONMap(t *testing.T, body []byte) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("decode json: %v\nbody=%s", err, string(body))
	}
	return payload
}

func requireString(t *testing.T, value any, field string) string {
	t.Helper()
	str, ok := value.(string)
	if !ok {
		t.Fatalf("expected %s to be string, got %T", field, value)
	}
	return str
}

func requireNumber(t *testing.T, value any, field string) float64 {
	t.Helper()
	num, ok := value.(float64)
	if !ok {
		t.Fatalf("expected %s to be number, got %T", field, value)
	}
	return num
}

func requireMap(t *testing.T, value any, field string) map[string]any {
	t.Helper()
	m, ok := value.(map[string]any)
	if !ok {
		t.Fatalf("expected %s to be object, got %T", field, value)
	}
	return m
}

func requireSlice(t *testing.T, value any, field string) []any {
	t.Helper()
	s, ok := value.([]any)
	if !ok {
		t.Fatalf("expected %s to be array, got %T", field, value)
	}
	return s
}
