package dashboard

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dj-oyu/detection-dashboard/internal/metrics"
	"github.com/dj-oyu/detection-dashboard/internal/model"
)

func testJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 200, G: 200, B: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

func nextFrame(t *testing.T, ch <-chan []byte) []byte {
	t.Helper()
	select {
	case frame, ok := <-ch:
		require.True(t, ok, "frame channel closed")
		return frame
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for frame")
		return nil
	}
}

func TestRelayPassesFramesThroughWithoutDetections(t *testing.T) {
	f, upstream := newFakeBackend(t)
	m := metrics.New()
	relay := NewFrameRelay(RelaySource{
		FeedURL:    func() string { return upstream.URL + "/video_feed" },
		Detections: func() []model.Detection { return nil },
	}, 0, m)
	relay.Start()
	t.Cleanup(relay.Stop)

	id, ch := relay.Subscribe()
	defer relay.Unsubscribe(id)

	assert.Equal(t, f.jpeg, nextFrame(t, ch))
	assert.NotZero(t, m.RelayFrames.Load())
}

func TestRelayBurnsInDetections(t *testing.T) {
	f, upstream := newFakeBackend(t)
	relay := NewFrameRelay(RelaySource{
		FeedURL: func() string { return upstream.URL + "/video_feed" },
		Detections: func() []model.Detection {
			return []model.Detection{{Label: "person", Confidence: 0.9, X: 10, Y: 10, Width: 20, Height: 20}}
		},
	}, 90, nil)
	relay.Start()
	t.Cleanup(relay.Stop)

	id, ch := relay.Subscribe()
	defer relay.Unsubscribe(id)

	frame := nextFrame(t, ch)
	assert.NotEqual(t, f.jpeg, frame)
	img, err := jpeg.Decode(bytes.NewReader(frame))
	require.NoError(t, err)
	assert.Equal(t, 64, img.Bounds().Dx())
	assert.Equal(t, 48, img.Bounds().Dy())
}

func TestRelayHoldsFramesWhilePaused(t *testing.T) {
	f, upstream := newFakeBackend(t)
	m := metrics.New()
	relay := NewFrameRelay(RelaySource{
		FeedURL: func() string { return upstream.URL + "/video_feed" },
		Paused:  func() bool { return true },
	}, 0, m)
	relay.Start()
	t.Cleanup(relay.Stop)

	id, ch := relay.Subscribe()
	defer relay.Unsubscribe(id)

	require.Eventually(t, func() bool { return f.frames.Load() >= 3 }, 2*time.Second, 10*time.Millisecond)
	select {
	case <-ch:
		t.Fatal("frame relayed while paused")
	default:
	}
	assert.Zero(t, m.RelayFrames.Load())
}

func TestRelayCountsUpstreamErrors(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = io.WriteString(w, "no video")
	}))
	t.Cleanup(upstream.Close)

	m := metrics.New()
	relay := NewFrameRelay(RelaySource{FeedURL: func() string { return upstream.URL }}, 0, m)
	relay.Start()
	t.Cleanup(relay.Stop)

	id, _ := relay.Subscribe()
	defer relay.Unsubscribe(id)
	require.Eventually(t, func() bool { return m.RelayErrors.Load() >= 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestStreamMJPEGWritesPlaceholderThenFrames(t *testing.T) {
	frameCh := make(chan []byte, 1)
	frame := testJPEG(t, 8, 8)
	frameCh <- frame

	ctx, cancel := context.WithCancel(context.Background())
	rec := httptest.NewRecorder()
	done := make(chan struct{})
	go func() {
		defer close(done)
		streamMJPEGFromChannel(ctx, rec, frameCh, time.Hour)
	}()
	time.Sleep(100 * time.Millisecond)
	cancel()
	<-done

	mediaType, params, err := mime.ParseMediaType(rec.Header().Get("Content-Type"))
	require.NoError(t, err)
	assert.Equal(t, "multipart/x-mixed-replace", mediaType)

	// The stream never terminates on its own. Each part already ends with
	// CRLF, so only the closing delimiter is missing.
	body := append(rec.Body.Bytes(), "--"+params["boundary"]+"--\r\n"...)
	reader := multipart.NewReader(bytes.NewReader(body), params["boundary"])
	first, err := reader.NextPart()
	require.NoError(t, err)
	placeholder, err := io.ReadAll(first)
	require.NoError(t, err)
	_, err = jpeg.Decode(bytes.NewReader(placeholder))
	require.NoError(t, err)

	second, err := reader.NextPart()
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", second.Header.Get("Content-Type"))
	got, err := io.ReadAll(second)
	require.NoError(t, err)
	assert.Equal(t, frame, got)
}

func TestStreamMJPEGRepeatsLastFrameWhenIdle(t *testing.T) {
	frameCh := make(chan []byte, 1)
	frame := testJPEG(t, 8, 8)

	ctx, cancel := context.WithCancel(context.Background())
	rec := httptest.NewRecorder()
	done := make(chan struct{})
	go func() {
		defer close(done)
		streamMJPEGFromChannel(ctx, rec, frameCh, 20*time.Millisecond)
	}()
	time.Sleep(30 * time.Millisecond)
	frameCh <- frame
	time.Sleep(150 * time.Millisecond)
	cancel()
	<-done

	_, params, err := mime.ParseMediaType(rec.Header().Get("Content-Type"))
	require.NoError(t, err)
	body := append(rec.Body.Bytes(), "--"+params["boundary"]+"--\r\n"...)
	reader := multipart.NewReader(bytes.NewReader(body), params["boundary"])

	var parts [][]byte
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		data, err := io.ReadAll(part)
		require.NoError(t, err)
		parts = append(parts, data)
	}

	// placeholder, the frame, then at least one repeat of it
	require.GreaterOrEqual(t, len(parts), 3)
	assert.Equal(t, frame, parts[len(parts)-1])
	assert.Equal(t, frame, parts[len(parts)-2])
}

func TestStreamEndpointRelaysUpstream(t *testing.T) {
	env := newTestEnv(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, env.http.URL+"/stream", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	_, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	require.NoError(t, err)
	reader := multipart.NewReader(resp.Body, params["boundary"])

	for i := 0; i < 2; i++ {
		part, err := reader.NextPart()
		require.NoError(t, err)
		data, err := io.ReadAll(part)
		require.NoError(t, err)
		_, err = jpeg.Decode(bytes.NewReader(data))
		require.NoError(t, err)
	}
	require.Eventually(t, func() bool { return env.backend.frames.Load() > 0 }, 2*time.Second, 10*time.Millisecond)
}
