// Package stream controls the backend detection stream and the display
// playback state. The two are separate state machines; see Playback.
package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dj-oyu/detection-dashboard/internal/backend"
	"github.com/dj-oyu/detection-dashboard/internal/logger"
	"github.com/dj-oyu/detection-dashboard/internal/metrics"
	"github.com/dj-oyu/detection-dashboard/internal/model"
	"github.com/dj-oyu/detection-dashboard/internal/store"
)

// State is the controller's lifecycle state.
type State string

const (
	StateIdle        State = "idle"
	StateStarting    State = "starting"
	StateStarted     State = "started"
	StateStopping    State = "stopping"
	StateUnavailable State = "unavailable"
)

var (
	// ErrEmptySource is returned when the selected source variant is missing
	// its path or URL. No request is sent.
	ErrEmptySource = errors.New("stream: source is empty")
	// ErrBusy is returned while another start or stop is in flight.
	ErrBusy = errors.New("stream: another action is in progress")
	// ErrUnavailable is returned while the backend is disconnected.
	ErrUnavailable = errors.New("stream: backend unavailable")
)

// Backend is the part of the backend client the controller needs.
type Backend interface {
	StartStream(ctx context.Context, src model.Source) error
	StopStream(ctx context.Context) error
}

// Controller starts and stops the backend stream. Only one action may be
// in flight at a time.
type Controller struct {
	backend  Backend
	store    *store.Store
	playback *Playback
	metrics  *metrics.Metrics

	mu     sync.Mutex
	state  State
	source *model.Source
}

// NewController creates an idle controller.
func NewController(b Backend, st *store.Store, pb *Playback, m *metrics.Metrics) *Controller {
	if m == nil {
		m = metrics.New()
	}
	return &Controller{backend: b, store: st, playback: pb, metrics: m, state: StateIdle}
}

// State returns the controller state as seen by the UI: Unavailable while
// the backend is disconnected, regardless of the local lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.visibleState()
}

func (c *Controller) visibleState() State {
	if !c.store.Connected() {
		return StateUnavailable
	}
	return c.state
}

// Source returns the source of the running stream, if any.
func (c *Controller) Source() (model.Source, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.source == nil {
		return model.Source{}, false
	}
	return *c.source, true
}

// Start asks the backend to stream src. On failure the controller returns
// to Idle and the backend's message and log tail are returned as a
// *backend.APIError.
func (c *Controller) Start(ctx context.Context, src model.Source) error {
	if err := src.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrEmptySource, err)
	}

	c.mu.Lock()
	if !c.store.Connected() {
		c.mu.Unlock()
		return ErrUnavailable
	}
	if c.state == StateStarting || c.state == StateStopping {
		c.mu.Unlock()
		return ErrBusy
	}
	if c.state == StateStarted {
		c.mu.Unlock()
		return fmt.Errorf("%w: stream already started", ErrBusy)
	}
	c.state = StateStarting
	c.mu.Unlock()
	c.store.ApplyStream(store.StreamUpdate{State: string(StateStarting), ClearError: true})

	logger.Info("Stream", "Starting stream from %s", src)
	err := c.backend.StartStream(ctx, src)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.state = StateIdle
		c.metrics.StreamStartFailures.Add(1)
		logger.Error("Stream", "Start failed: %v", err)
		c.store.ApplyStream(store.StreamUpdate{State: string(StateIdle), Error: streamError("start", err, c.store)})
		c.store.AppendLog(model.LevelError, "Failed to start stream: %v", err)
		return err
	}

	c.state = StateStarted
	c.source = &src
	c.metrics.StreamStarts.Add(1)
	running := model.StatusRunning
	c.store.ApplyStream(store.StreamUpdate{
		State:        string(StateStarted),
		SystemStatus: &running,
		Source:       &src,
		Playback:     string(c.playback.startStream()),
	})
	c.store.AppendLog(model.LevelInfo, "System started - Detection streaming activated")
	return nil
}

// Stop asks the backend to stop streaming. Stopping while Idle sends no
// request. A failed stop leaves the controller Started.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case StateIdle:
		c.mu.Unlock()
		return nil
	case StateStarting, StateStopping:
		c.mu.Unlock()
		return ErrBusy
	}
	if !c.store.Connected() {
		c.mu.Unlock()
		return ErrUnavailable
	}
	c.state = StateStopping
	c.mu.Unlock()
	c.store.ApplyStream(store.StreamUpdate{State: string(StateStopping), ClearError: true})

	logger.Info("Stream", "Stopping stream")
	err := c.backend.StopStream(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.state = StateStarted
		c.metrics.StreamStopFailures.Add(1)
		logger.Error("Stream", "Stop failed: %v", err)
		c.store.ApplyStream(store.StreamUpdate{State: string(StateStarted), Error: streamError("stop", err, c.store)})
		c.store.AppendLog(model.LevelError, "Failed to stop stream: %v", err)
		return err
	}
	c.markStopped()
	c.metrics.StreamStops.Add(1)
	c.store.AppendLog(model.LevelInfo, "System stopped - Detection streaming deactivated")
	return nil
}

// markStopped must be called with mu held.
func (c *Controller) markStopped() {
	c.state = StateIdle
	c.source = nil
	stopped := model.StatusStopped
	c.store.ApplyStream(store.StreamUpdate{
		State:        string(StateIdle),
		SystemStatus: &stopped,
		Playback:     string(c.playback.stopStream()),
		ClearSource:  true,
		ClearCurrent: true,
	})
}

// Adopt marks a stream that the backend reports as already running as
// Started, e.g. after the dashboard restarts mid-stream or a start request
// timed out after the backend began streaming. It is ignored unless the
// controller is Idle and reports whether it applied.
func (c *Controller) Adopt(src model.Source) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateIdle {
		return false
	}
	c.state = StateStarted
	c.source = &src
	running := model.StatusRunning
	c.store.ApplyStream(store.StreamUpdate{
		State:        string(StateStarted),
		SystemStatus: &running,
		Source:       &src,
		Playback:     string(c.playback.startStream()),
		ClearError:   true,
	})
	logger.Info("Stream", "Adopted running backend stream %s", src)
	return true
}

// Release moves a Started controller to Idle when the backend reports it
// is no longer streaming. No stop request is sent. It reports whether it
// applied.
func (c *Controller) Release() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateStarted {
		return false
	}
	c.markStopped()
	logger.Info("Stream", "Backend is no longer streaming, marking stream stopped")
	return true
}

// Teardown stops a started stream without surfacing failures. It is called
// when the session closes so the backend is not left streaming.
func (c *Controller) Teardown(ctx context.Context) {
	c.mu.Lock()
	started := c.state == StateStarted
	c.mu.Unlock()
	if !started {
		return
	}
	if err := c.backend.StopStream(ctx); err != nil {
		logger.Warn("Stream", "Teardown stop failed: %v", err)
		return
	}
	c.mu.Lock()
	c.markStopped()
	c.mu.Unlock()
	logger.Info("Stream", "Teardown stopped backend stream")
}

func streamError(action string, err error, st *store.Store) *store.StreamError {
	se := &store.StreamError{Action: action, Message: err.Error()}
	if apiErr, ok := backend.AsAPIError(err); ok {
		if apiErr.Message != "" {
			se.Message = apiErr.Message
		}
		se.LastLogs = apiErr.LastLogs
	}
	se.At = st.Now()
	return se
}
