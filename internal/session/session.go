// Package session wires the view model store to the backend: connectivity,
// stream control, gated polling and the optional archive and alert feed.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dj-oyu/detection-dashboard/internal/alerts"
	"github.com/dj-oyu/detection-dashboard/internal/archive"
	"github.com/dj-oyu/detection-dashboard/internal/backend"
	"github.com/dj-oyu/detection-dashboard/internal/connectivity"
	"github.com/dj-oyu/detection-dashboard/internal/logger"
	"github.com/dj-oyu/detection-dashboard/internal/lognorm"
	"github.com/dj-oyu/detection-dashboard/internal/metrics"
	"github.com/dj-oyu/detection-dashboard/internal/model"
	"github.com/dj-oyu/detection-dashboard/internal/panel"
	"github.com/dj-oyu/detection-dashboard/internal/scheduler"
	"github.com/dj-oyu/detection-dashboard/internal/store"
	"github.com/dj-oyu/detection-dashboard/internal/stream"
)

const teardownTimeout = 3 * time.Second

// Session owns every long-lived component of one dashboard instance.
type Session struct {
	cfg Config

	Store      *store.Store
	Client     *backend.Client
	Monitor    *connectivity.Monitor
	Controller *stream.Controller
	Playback   *stream.Playback
	Metrics    *metrics.Metrics
	Archive    *archive.Archive // nil when disabled

	normalizer *lognorm.Normalizer
	scheduler  *scheduler.Scheduler
	alerts     *alerts.Subscriber

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// refreshMu orders scheduler updates so an older view of the
	// conditions never overwrites a newer one.
	refreshMu sync.Mutex
	closeOnce sync.Once
}

// New builds a session. Nothing talks to the backend until Start.
func New(parent context.Context, cfg Config, m *metrics.Metrics) (*Session, error) {
	cfg = cfg.withDefaults()
	if m == nil {
		m = metrics.New()
	}

	limits := store.DefaultLimits()
	limits.History = cfg.HistoryLimit
	st := store.New(store.WithLimits(limits), store.WithMetrics(m))

	client := backend.New(cfg.BackendURL, backend.WithHealthTimeout(cfg.HealthTimeout))
	pb := stream.NewPlayback(st)

	ctx, cancel := context.WithCancel(parent)
	s := &Session{
		cfg:        cfg,
		Store:      st,
		Client:     client,
		Monitor:    connectivity.New(client, st, m),
		Controller: stream.NewController(client, st, pb, m),
		Playback:   pb,
		Metrics:    m,
		normalizer: lognorm.New(),
		scheduler:  scheduler.New(ctx),
		ctx:        ctx,
		cancel:     cancel,
	}

	if cfg.ArchivePath != "" {
		a, err := archive.Open(cfg.ArchivePath)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("open archive: %w", err)
		}
		s.Archive = a
	}
	if cfg.Alerts.Enabled() {
		s.alerts = alerts.New(cfg.Alerts, st, m)
	}

	s.Monitor.OnChange(s.onConnectionChange)
	return s, nil
}

// Start registers the poll tasks and begins health checking immediately.
func (s *Session) Start() error {
	for _, t := range s.tasks() {
		if err := s.scheduler.Add(t); err != nil {
			return err
		}
	}
	if s.alerts != nil {
		if err := s.alerts.Start(); err != nil {
			logger.Warn("Session", "Alert feed disabled: %v", err)
		}
	}
	logger.Info("Session", "Polling backend at %s", s.Client.BaseURL())
	return nil
}

// Close stops a running stream, then cancels every task and waits for it.
// Safe to call more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
		s.Controller.Teardown(ctx)
		cancel()

		s.scheduler.Close()
		s.cancel()
		s.wg.Wait()

		if s.alerts != nil {
			s.alerts.Stop()
		}
		if s.Archive != nil {
			if err := s.Archive.Close(); err != nil {
				logger.Warn("Session", "Archive close failed: %v", err)
			}
		}
		logger.Info("Session", "Closed")
	})
}

// ActiveTasks lists the currently armed poll tasks.
func (s *Session) ActiveTasks() []string {
	return s.scheduler.Active()
}

// StartStream starts the backend stream and re-gates polling. The backend
// call is not cancelled with ctx: once sent, the backend may start streaming
// regardless, so the controller must learn the outcome. If the call times
// out the backend status decides whether the stream is adopted.
func (s *Session) StartStream(ctx context.Context, src model.Source) error {
	startCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.StartTimeout)
	defer cancel()

	err := s.Controller.Start(startCtx, src)
	if err != nil && contextError(err) && s.adoptIfRunning(src) {
		err = nil
	}
	s.refresh()
	return err
}

// adoptIfRunning asks the backend whether it is streaming and, if so,
// adopts src as the running stream.
func (s *Session) adoptIfRunning(src model.Source) bool {
	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.HealthTimeout)
	defer cancel()
	status, err := s.Client.StreamStatus(ctx)
	if err != nil {
		logger.Warn("Session", "Stream status after failed start: %v", err)
		return false
	}
	if !status.IsRunning {
		return false
	}
	return s.Controller.Adopt(src)
}

// StopStream stops the backend stream and re-gates polling.
func (s *Session) StopStream(ctx context.Context) error {
	err := s.Controller.Stop(ctx)
	s.refresh()
	return err
}

// Cleanup asks the backend to prune old data, then re-fetches history and
// trajectories.
func (s *Session) Cleanup(ctx context.Context) error {
	seq := s.Store.Begin(store.FeedCleanup)
	err := s.Client.Cleanup(ctx)
	if aborted(err) {
		return err
	}
	s.Store.CommitCleanup(seq, err)
	if err != nil {
		return err
	}
	logger.Info("Session", "Backend cleanup complete, reloading history")
	return errors.Join(s.pollHistory(ctx), s.pollTrajectories(ctx))
}

// Export builds a download of the current view model and records it in the
// archive when one is configured.
func (s *Session) Export(ctx context.Context, f panel.Filter, now time.Time) (panel.Export, string) {
	snap := s.Store.Snapshot()
	exp := panel.BuildExport(panel.Data{
		History:      snap.DetectionHistory,
		Trajectories: snap.Trajectories,
		Current:      snap.CurrentDetections,
	}, f, now)
	filename := exp.Filename(now)

	if s.Archive != nil {
		err := s.Archive.RecordExport(ctx, archive.ExportRecord{
			ID:                 exp.ExportInfo.ID,
			At:                 now,
			Filename:           filename,
			TotalDetections:    exp.ExportInfo.TotalDetections,
			FilteredDetections: exp.ExportInfo.FilteredDetections,
			Filters:            exp.Filters,
		})
		if err != nil {
			s.Metrics.ArchiveFailures.Add(1)
			logger.Warn("Session", "Recording export failed: %v", err)
		}
	}
	return exp, filename
}

// conditions derives scheduler inputs from the store and controller.
func (s *Session) conditions() scheduler.Conditions {
	c := scheduler.Conditions{
		Connected: s.Store.Connected(),
		Running:   s.Store.SystemStatus() == model.StatusRunning,
	}
	if src, ok := s.Controller.Source(); ok {
		c.Live = src.Live()
	}
	return c
}

func (s *Session) refresh() {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()
	s.scheduler.Update(s.conditions())
}

// onConnectionChange runs on the health task goroutine, which is never
// cancelled by Update.
func (s *Session) onConnectionChange(connected bool) {
	s.refresh()
	if !connected {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.bootstrap(s.ctx)
	}()
}

// bootstrap loads everything that is fetched once per connection.
func (s *Session) bootstrap(ctx context.Context) {
	logger.Info("Session", "Backend connected, loading initial data")
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	for _, load := range []func(context.Context) error{
		s.pollHistory,
		s.pollTrajectories,
		s.pollLogs,
		s.pollVideos,
	} {
		load := load
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := load(ctx); err != nil && !aborted(err) {
				logger.Warn("Session", "Initial load failed: %v", err)
			}
		}()
	}

	status, err := s.Client.StreamStatus(ctx)
	switch {
	case err != nil:
		logger.Debug("Session", "Stream status unavailable: %v", err)
	case status.IsRunning:
		if s.Controller.Adopt(sourceFromStatus(status)) {
			s.refresh()
		}
	default:
		if s.Controller.Release() {
			s.refresh()
		}
	}
	wg.Wait()
}

// sourceFromStatus guesses the source variant from the backend's
// current_video, which is either a file path or a camera URL.
func sourceFromStatus(st backend.StreamStatus) model.Source {
	v := st.CurrentVideo
	if i := strings.Index(v, "://"); i > 0 {
		return model.Source{Kind: model.SourceNetwork, URL: v}
	}
	return model.Source{Kind: model.SourceFile, Path: v}
}

func contextError(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}

// aborted reports whether err comes from a cancelled context, in which
// case the result is dropped instead of committed.
func aborted(err error) bool {
	return errors.Is(err, context.Canceled)
}
