package stream

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dj-oyu/detection-dashboard/internal/backend"
	"github.com/dj-oyu/detection-dashboard/internal/metrics"
	"github.com/dj-oyu/detection-dashboard/internal/model"
	"github.com/dj-oyu/detection-dashboard/internal/store"
)

type fakeBackend struct {
	mu       sync.Mutex
	starts   []model.Source
	stops    int
	startErr error
	stopErr  error
	block    chan struct{}
}

func (f *fakeBackend) StartStream(ctx context.Context, src model.Source) error {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts = append(f.starts, src)
	return f.startErr
}

func (f *fakeBackend) StopStream(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	return f.stopErr
}

func connectedStore(t *testing.T) *store.Store {
	t.Helper()
	st := store.New()
	st.CommitConnection(st.Begin(store.FeedConnection), true, nil)
	return st
}

func newController(b Backend, st *store.Store) *Controller {
	return NewController(b, st, NewPlayback(st), metrics.New())
}

func TestStartWithEmptySourceSendsNothing(t *testing.T) {
	fb := &fakeBackend{}
	c := newController(fb, connectedStore(t))

	err := c.Start(context.Background(), model.Source{Kind: model.SourceFile})
	assert.ErrorIs(t, err, ErrEmptySource)
	err = c.Start(context.Background(), model.Source{Kind: model.SourceNetwork})
	assert.ErrorIs(t, err, ErrEmptySource)

	assert.Empty(t, fb.starts)
	assert.Equal(t, StateIdle, c.State())
}

func TestStartWhileDisconnected(t *testing.T) {
	fb := &fakeBackend{}
	st := store.New()
	c := newController(fb, st)

	err := c.Start(context.Background(), model.Source{Kind: model.SourceFile, Path: "videos/a.mp4"})
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, StateUnavailable, c.State())
	assert.Empty(t, fb.starts)
}

func TestStartAndStopLifecycle(t *testing.T) {
	fb := &fakeBackend{}
	st := connectedStore(t)
	c := newController(fb, st)
	src := model.Source{Kind: model.SourceNetwork, URL: "rtsp://cam/1"}

	require.NoError(t, c.Start(context.Background(), src))
	assert.Equal(t, StateStarted, c.State())
	snap := st.Snapshot()
	assert.Equal(t, model.StatusRunning, snap.SystemStatus)
	assert.Equal(t, "playing", snap.Playback)
	require.NotNil(t, snap.Source)
	assert.Equal(t, src, *snap.Source)

	st.CommitCurrentDetections(st.Begin(store.FeedCurrent), []model.Detection{{Label: "person"}}, nil)

	require.NoError(t, c.Stop(context.Background()))
	assert.Equal(t, StateIdle, c.State())
	snap = st.Snapshot()
	assert.Equal(t, model.StatusStopped, snap.SystemStatus)
	assert.Empty(t, snap.CurrentDetections)
	assert.Nil(t, snap.Source)
	assert.Equal(t, "paused", snap.Playback)
	assert.Equal(t, 1, fb.stops)
}

func TestStartFailureSurfacesBackendMessage(t *testing.T) {
	fb := &fakeBackend{startErr: &backend.APIError{
		StatusCode: 500,
		Message:    "Failed to start stream. Check server logs for details.",
		LastLogs:   []string{"cv2 cannot open"},
	}}
	st := connectedStore(t)
	c := newController(fb, st)

	err := c.Start(context.Background(), model.Source{Kind: model.SourceFile, Path: "videos/missing.mp4"})
	apiErr, ok := backend.AsAPIError(err)
	require.True(t, ok)
	assert.Equal(t, []string{"cv2 cannot open"}, apiErr.LastLogs)

	assert.Equal(t, StateIdle, c.State())
	snap := st.Snapshot()
	assert.Equal(t, model.StatusStopped, snap.SystemStatus)
	require.NotNil(t, snap.StreamError)
	assert.Equal(t, "start", snap.StreamError.Action)
	assert.Equal(t, "Failed to start stream. Check server logs for details.", snap.StreamError.Message)
}

func TestStopWhileIdleIsNoop(t *testing.T) {
	fb := &fakeBackend{}
	c := newController(fb, connectedStore(t))
	require.NoError(t, c.Stop(context.Background()))
	assert.Zero(t, fb.stops)
}

func TestFailedStopKeepsStarted(t *testing.T) {
	fb := &fakeBackend{}
	st := connectedStore(t)
	c := newController(fb, st)
	require.NoError(t, c.Start(context.Background(), model.Source{Kind: model.SourceFile, Path: "videos/a.mp4"}))

	fb.stopErr = errors.New("connection reset")
	require.Error(t, c.Stop(context.Background()))
	assert.Equal(t, StateStarted, c.State())
	assert.Equal(t, model.StatusRunning, st.SystemStatus())
}

func TestConcurrentStartIsRejected(t *testing.T) {
	fb := &fakeBackend{block: make(chan struct{})}
	c := newController(fb, connectedStore(t))
	src := model.Source{Kind: model.SourceFile, Path: "videos/a.mp4"}

	done := make(chan error, 1)
	go func() { done <- c.Start(context.Background(), src) }()

	require.Eventually(t, func() bool { return c.State() == StateStarting }, time.Second, time.Millisecond)
	assert.ErrorIs(t, c.Start(context.Background(), src), ErrBusy)
	assert.ErrorIs(t, c.Stop(context.Background()), ErrBusy)

	close(fb.block)
	require.NoError(t, <-done)
	assert.Len(t, fb.starts, 1)
}

func TestTeardownSwallowsFailure(t *testing.T) {
	fb := &fakeBackend{}
	st := connectedStore(t)
	c := newController(fb, st)
	require.NoError(t, c.Start(context.Background(), model.Source{Kind: model.SourceFile, Path: "videos/a.mp4"}))

	fb.stopErr = errors.New("gone")
	c.Teardown(context.Background())
	assert.Equal(t, 1, fb.stops)

	fb.stopErr = nil
	c.Teardown(context.Background())
	assert.Equal(t, StateIdle, c.State())
	assert.Equal(t, 2, fb.stops)
}

func TestAdoptRunningStream(t *testing.T) {
	st := connectedStore(t)
	c := newController(&fakeBackend{}, st)
	assert.True(t, c.Adopt(model.Source{Kind: model.SourceFile, Path: "videos/people.mp4"}))
	assert.Equal(t, StateStarted, c.State())
	assert.True(t, st.Snapshot().Running())

	assert.False(t, c.Adopt(model.Source{Kind: model.SourceFile, Path: "videos/other.mp4"}))
	src, ok := c.Source()
	require.True(t, ok)
	assert.Equal(t, "videos/people.mp4", src.Path)
}

func TestAdoptClearsStartError(t *testing.T) {
	fb := &fakeBackend{startErr: context.DeadlineExceeded}
	st := connectedStore(t)
	c := newController(fb, st)
	src := model.Source{Kind: model.SourceFile, Path: "videos/a.mp4"}

	require.ErrorIs(t, c.Start(context.Background(), src), context.DeadlineExceeded)
	require.NotNil(t, st.Snapshot().StreamError)

	require.True(t, c.Adopt(src))
	snap := st.Snapshot()
	assert.Nil(t, snap.StreamError)
	assert.Equal(t, model.StatusRunning, snap.SystemStatus)
}

func TestReleaseSendsNoStop(t *testing.T) {
	fb := &fakeBackend{}
	st := connectedStore(t)
	c := newController(fb, st)

	assert.False(t, c.Release())
	require.NoError(t, c.Start(context.Background(), model.Source{Kind: model.SourceNetwork, URL: "rtsp://cam"}))
	st.CommitCurrentDetections(st.Begin(store.FeedCurrent), []model.Detection{{Label: "person"}}, nil)

	assert.True(t, c.Release())
	assert.Equal(t, StateIdle, c.State())
	assert.Zero(t, fb.stops)

	snap := st.Snapshot()
	assert.Equal(t, model.StatusStopped, snap.SystemStatus)
	assert.Empty(t, snap.CurrentDetections)
	assert.Nil(t, snap.Source)
	_, ok := c.Source()
	assert.False(t, ok)

	c.Teardown(context.Background())
	assert.Zero(t, fb.stops)
}

func TestPlaybackIsIndependentOfBackend(t *testing.T) {
	fb := &fakeBackend{}
	st := connectedStore(t)
	c := newController(fb, st)
	require.NoError(t, c.Start(context.Background(), model.Source{Kind: model.SourceFile, Path: "videos/a.mp4"}))

	c.playback.Pause()
	assert.Equal(t, "paused", st.Snapshot().Playback)
	assert.Equal(t, StateStarted, c.State())
	assert.Equal(t, 0, fb.stops)

	assert.Equal(t, Playing, c.playback.Toggle())
	assert.Equal(t, "playing", st.Snapshot().Playback)
}
