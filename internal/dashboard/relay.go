package dashboard

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"sync"
	"time"

	"github.com/dj-oyu/detection-dashboard/internal/logger"
	"github.com/dj-oyu/detection-dashboard/internal/metrics"
	"github.com/dj-oyu/detection-dashboard/internal/model"
	"github.com/dj-oyu/detection-dashboard/internal/overlay"
)

const maxFrameBytes = 8 << 20

// RelaySource supplies what the relay needs per frame.
type RelaySource struct {
	FeedURL    func() string
	Detections func() []model.Detection
	Paused     func() bool
}

// FrameRelay reads the backend MJPEG feed while at least one client is
// watching, burns the current detections into each frame and fans the
// frames out. While playback is paused no new frames are sent, so clients
// keep showing the last one.
type FrameRelay struct {
	mu        sync.Mutex
	clients   map[int]chan []byte
	nextID    int
	src       RelaySource
	http      *http.Client
	renderer  *overlay.Renderer
	quality   int
	metrics   *metrics.Metrics
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	skipCount int
}

// NewFrameRelay creates a relay. Call Start to begin serving.
func NewFrameRelay(src RelaySource, quality int, m *metrics.Metrics) *FrameRelay {
	if quality <= 0 || quality > 100 {
		quality = jpeg.DefaultQuality
	}
	if m == nil {
		m = metrics.New()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &FrameRelay{
		clients:  make(map[int]chan []byte),
		src:      src,
		http:     &http.Client{},
		renderer: overlay.NewRenderer(),
		quality:  quality,
		metrics:  m,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
}

// Subscribe adds a new client and returns a channel for receiving frames.
func (fr *FrameRelay) Subscribe() (int, <-chan []byte) {
	fr.mu.Lock()
	defer fr.mu.Unlock()

	id := fr.nextID
	fr.nextID++
	ch := make(chan []byte, 2)
	fr.clients[id] = ch
	logger.Debug("FrameRelay", "Client #%d subscribed (total clients: %d)", id, len(fr.clients))
	return id, ch
}

// Unsubscribe removes a client.
func (fr *FrameRelay) Unsubscribe(id int) {
	fr.mu.Lock()
	defer fr.mu.Unlock()

	if ch, ok := fr.clients[id]; ok {
		close(ch)
		delete(fr.clients, id)
		logger.Debug("FrameRelay", "Client #%d unsubscribed (remaining clients: %d)", id, len(fr.clients))
		if len(fr.clients) == 0 {
			logger.Info("FrameRelay", "No clients remaining - upstream feed will be released")
		}
	}
}

// Start begins the relay loop.
func (fr *FrameRelay) Start() {
	go fr.run()
}

// Stop halts the relay, waits for the upstream reader to exit and ends
// every client stream.
func (fr *FrameRelay) Stop() {
	fr.cancel()
	<-fr.done

	fr.mu.Lock()
	defer fr.mu.Unlock()
	for id, ch := range fr.clients {
		close(ch)
		delete(fr.clients, id)
	}
}

func (fr *FrameRelay) clientCount() int {
	fr.mu.Lock()
	defer fr.mu.Unlock()
	return len(fr.clients)
}

func (fr *FrameRelay) run() {
	defer close(fr.done)
	for fr.ctx.Err() == nil {
		if fr.clientCount() == 0 {
			fr.skipCount++
			if fr.skipCount%100 == 0 {
				logger.Debug("FrameRelay", "No clients connected, idle for %d cycles", fr.skipCount)
			}
			fr.sleep(100 * time.Millisecond)
			continue
		}
		fr.skipCount = 0

		if err := fr.relay(); err != nil && fr.ctx.Err() == nil {
			fr.metrics.RelayErrors.Add(1)
			logger.Warn("FrameRelay", "Upstream feed: %v", err)
			fr.sleep(time.Second)
		}
	}
}

func (fr *FrameRelay) sleep(d time.Duration) {
	select {
	case <-fr.ctx.Done():
	case <-time.After(d):
	}
}

// relay reads one upstream connection until it fails or every client
// has left.
func (fr *FrameRelay) relay() error {
	ctx, cancel := context.WithCancel(fr.ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fr.src.FeedURL(), nil)
	if err != nil {
		return err
	}
	resp, err := fr.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("video feed returned %s", resp.Status)
	}

	mediaType, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil {
		return fmt.Errorf("video feed content type: %w", err)
	}
	boundary := params["boundary"]
	if boundary == "" {
		return fmt.Errorf("video feed %s has no boundary", mediaType)
	}

	logger.Info("FrameRelay", "Relaying upstream feed")
	reader := multipart.NewReader(resp.Body, boundary)
	for {
		if fr.clientCount() == 0 {
			return nil
		}
		part, err := reader.NextPart()
		if err != nil {
			if err == io.EOF {
				return fmt.Errorf("video feed ended")
			}
			return err
		}
		data, err := io.ReadAll(io.LimitReader(part, maxFrameBytes))
		part.Close()
		if err != nil {
			return err
		}
		if fr.src.Paused != nil && fr.src.Paused() {
			continue
		}
		frame, err := fr.render(data)
		if err != nil {
			logger.Debug("FrameRelay", "Passing frame through undecorated: %v", err)
			frame = data
		}
		fr.broadcast(frame)
	}
}

// render burns detections into a JPEG frame. Frames without detections
// are passed through unchanged.
func (fr *FrameRelay) render(data []byte) ([]byte, error) {
	var dets []model.Detection
	if fr.src.Detections != nil {
		dets = fr.src.Detections()
	}
	if len(dets) == 0 {
		return data, nil
	}

	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	canvas := overlay.CanvasFor(img)
	b := img.Bounds()
	fr.renderer.Draw(canvas, dets, canvas.Media(overlay.Size{W: float64(b.Dx()), H: float64(b.Dy())}))

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, canvas.Img, &jpeg.Options{Quality: fr.quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (fr *FrameRelay) broadcast(data []byte) {
	fr.mu.Lock()
	defer fr.mu.Unlock()

	for _, ch := range fr.clients {
		select {
		case ch <- data:
			fr.metrics.RelayFrames.Add(1)
		default:
			fr.metrics.RelayFramesDropped.Add(1)
		}
	}
}

// noSignalJPEG is sent before the first frame arrives.
func noSignalJPEG() ([]byte, error) {
	canvas := overlay.NewImageCanvas(640, 480)
	draw.Draw(canvas.Img, canvas.Img.Bounds(), image.NewUniform(color.RGBA{R: 32, G: 32, B: 32, A: 255}), image.Point{}, draw.Src)
	canvas.FillText("No signal", 290, 244, color.White)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, canvas.Img, &jpeg.Options{Quality: 75}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// streamMJPEGFromChannel writes frames as multipart/x-mixed-replace. When
// no frame arrives within idle the last frame (or a placeholder) is
// repeated to keep the connection alive.
func streamMJPEGFromChannel(ctx context.Context, w http.ResponseWriter, frameCh <-chan []byte, idle time.Duration) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")

	last, err := noSignalJPEG()
	if err != nil {
		http.Error(w, "Failed to render frame", http.StatusInternalServerError)
		return
	}

	write := func(jpegData []byte) bool {
		if _, err := w.Write([]byte("--frame\r\nContent-Type: image/jpeg\r\n\r\n")); err != nil {
			logger.Debug("MJPEG", "Client disconnected during write: %v", err)
			return false
		}
		if _, err := w.Write(jpegData); err != nil {
			logger.Debug("MJPEG", "Client disconnected during frame write: %v", err)
			return false
		}
		if _, err := w.Write([]byte("\r\n")); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}

	if !write(last) {
		return
	}
	timer := time.NewTimer(idle)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-frameCh:
			if !ok {
				return
			}
			last = data
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		case <-timer.C:
		}
		if !write(last) {
			return
		}
		timer.Reset(idle)
	}
}
