// Package store holds the dashboard's view model: the latest value of every
// backend feed plus the local stream and playback state.
//
// Every backend completion is committed with the sequence number it was
// issued under. Completions older than the last committed one for the same
// feed are discarded, so each feed is last-write-wins by issue order even
// when requests finish out of order.
package store

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dj-oyu/detection-dashboard/internal/logger"
	"github.com/dj-oyu/detection-dashboard/internal/metrics"
	"github.com/dj-oyu/detection-dashboard/internal/model"
)

// Feed names one independently updated slice of the view model.
type Feed string

const (
	FeedConnection    Feed = "connection"
	FeedCurrent       Feed = "current_detections"
	FeedHistory       Feed = "detection_history"
	FeedTrajectories  Feed = "trajectories"
	FeedModelMetrics  Feed = "model_metrics"
	FeedSystemMetrics Feed = "system_metrics"
	FeedLogs          Feed = "logs"
	FeedVideos        Feed = "videos"
	FeedStatistics    Feed = "statistics"
	FeedCleanup       Feed = "cleanup"
)

// Limits applied on commit.
type Limits struct {
	History       int
	MetricsWindow int
	Alerts        int
	LocalLogs     int
}

// DefaultLimits returns the bounds used by the dashboard.
func DefaultLimits() Limits {
	return Limits{
		History:       1000,
		MetricsWindow: 60,
		Alerts:        200,
		LocalLogs:     100,
	}
}

// Store is safe for concurrent use.
type Store struct {
	mu        sync.RWMutex
	limits    Limits
	issued    map[Feed]uint64
	committed map[Feed]uint64
	state     Snapshot
	localLogs []model.LogEntry
	now       func() time.Time

	subMu       sync.Mutex
	subscribers map[int]chan uint64
	nextSubID   int

	metrics *metrics.Metrics
}

// Option configures a Store.
type Option func(*Store)

// WithLimits overrides DefaultLimits.
func WithLimits(l Limits) Option {
	return func(s *Store) { s.limits = l }
}

// WithMetrics records commits and discards.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// WithClock replaces time.Now for feed status and local log timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates an empty store: disconnected, stopped, idle and playing.
func New(opts ...Option) *Store {
	s := &Store{
		limits:      DefaultLimits(),
		issued:      make(map[Feed]uint64),
		committed:   make(map[Feed]uint64),
		now:         time.Now,
		subscribers: make(map[int]chan uint64),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.state = Snapshot{
		SystemStatus:      model.StatusStopped,
		StreamState:       "idle",
		Playback:          "playing",
		CurrentDetections: []model.Detection{},
		DetectionHistory:  []model.HistoryEntry{},
		Trajectories:      map[string]model.Trajectory{},
		ModelHistory:      []model.ModelMetrics{},
		SystemHistory:     []model.SystemMetrics{},
		Logs:              []model.LogEntry{},
		Alerts:            []model.Alert{},
		Videos:            []string{},
		Feeds:             map[Feed]FeedStatus{},
	}
	return s
}

// Begin issues the next sequence number for feed. Pass it to the matching
// commit once the request completes.
func (s *Store) Begin(feed Feed) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.issued[feed]++
	return s.issued[feed]
}

// accept must be called with mu held. It reports whether seq is newer than
// the last committed completion for feed and, if so, records it.
func (s *Store) accept(feed Feed, seq uint64) bool {
	if seq <= s.committed[feed] {
		if s.metrics != nil {
			s.metrics.StaleDiscarded.Add(1)
		}
		logger.Debug("Store", "Discarding stale %s completion seq=%d committed=%d", feed, seq, s.committed[feed])
		return false
	}
	s.committed[feed] = seq
	return true
}

// invalidate makes every in-flight completion of feed stale. mu must be held.
func (s *Store) invalidate(feed Feed) {
	s.committed[feed] = s.issued[feed]
}

// succeed and fail update per-feed status. mu must be held.
func (s *Store) succeed(feed Feed) {
	st := s.state.Feeds[feed]
	st.LastSuccess = model.FromTime(s.now())
	st.ConsecutiveFailures = 0
	st.LastError = ""
	s.state.Feeds[feed] = st
	s.metrics.ObservePoll(string(feed), nil)
}

func (s *Store) fail(feed Feed, err error) {
	st := s.state.Feeds[feed]
	st.LastError = err.Error()
	st.LastFailure = model.FromTime(s.now())
	st.ConsecutiveFailures++
	s.state.Feeds[feed] = st
	s.metrics.ObservePoll(string(feed), err)
}

// bump must be called with mu held; notify afterwards without it.
func (s *Store) bump() uint64 {
	s.state.Revision++
	if s.metrics != nil {
		s.metrics.StoreRevision.Store(s.state.Revision)
	}
	return s.state.Revision
}

// commit runs apply under the write lock if seq is current, then notifies.
func (s *Store) commit(feed Feed, seq uint64, err error, apply func()) bool {
	s.mu.Lock()
	if !s.accept(feed, seq) {
		s.mu.Unlock()
		return false
	}
	if err != nil {
		s.fail(feed, err)
	} else {
		s.succeed(feed)
	}
	if apply != nil {
		apply()
	}
	rev := s.bump()
	s.mu.Unlock()
	s.notify(rev)
	return true
}

// update applies an unsequenced local mutation.
func (s *Store) update(apply func()) {
	s.mu.Lock()
	apply()
	rev := s.bump()
	s.mu.Unlock()
	s.notify(rev)
}

// CommitConnection records a health check outcome. changed is true when the
// accepted result flips the connection state.
func (s *Store) CommitConnection(seq uint64, connected bool, checkErr error) (accepted, changed bool) {
	accepted = s.commit(FeedConnection, seq, checkErr, func() {
		changed = s.state.Connected != connected
		s.state.Connected = connected
	})
	return accepted, changed
}

// CommitCurrentDetections replaces the current detections wholesale. On
// error the feed resets to empty since stale boxes would be misleading.
func (s *Store) CommitCurrentDetections(seq uint64, dets []model.Detection, err error) bool {
	return s.commit(FeedCurrent, seq, err, func() {
		if err != nil || dets == nil {
			s.state.CurrentDetections = []model.Detection{}
			return
		}
		s.state.CurrentDetections = dets
	})
}

// CommitHistory replaces the detection history, keeping the newest entries
// up to the history limit. On error the last good history is kept.
func (s *Store) CommitHistory(seq uint64, entries []model.HistoryEntry, err error) bool {
	return s.commit(FeedHistory, seq, err, func() {
		if err != nil {
			return
		}
		s.state.DetectionHistory = keepNewest(entries, s.limits.History)
	})
}

// CommitTrajectories replaces the trajectory map. On error the last good
// map is kept.
func (s *Store) CommitTrajectories(seq uint64, list []model.Trajectory, err error) bool {
	return s.commit(FeedTrajectories, seq, err, func() {
		if err != nil {
			return
		}
		s.state.Trajectories = model.TrajectoryIndex(list)
	})
}

// CommitModelMetrics sets the latest model sample and appends it to the
// rolling window. On error both are kept.
func (s *Store) CommitModelMetrics(seq uint64, m model.ModelMetrics, err error) bool {
	return s.commit(FeedModelMetrics, seq, err, func() {
		if err != nil {
			return
		}
		if m.Timestamp.IsZero() {
			m.Timestamp = model.FromTime(s.now())
		}
		s.state.ModelMetrics = &m
		s.state.ModelHistory = appendBounded(s.state.ModelHistory, m, s.limits.MetricsWindow)
	})
}

// CommitSystemMetrics sets the latest system sample and appends it to the
// rolling window. On error both are kept.
func (s *Store) CommitSystemMetrics(seq uint64, m model.SystemMetrics, err error) bool {
	return s.commit(FeedSystemMetrics, seq, err, func() {
		if err != nil {
			return
		}
		if m.Timestamp.IsZero() {
			m.Timestamp = model.FromTime(s.now())
		}
		s.state.SystemMetrics = &m
		s.state.SystemHistory = appendBounded(s.state.SystemHistory, m, s.limits.MetricsWindow)
	})
}

// CommitLogs replaces the backend log entries. On error the last good
// entries are kept and the failure is recorded as a local ERROR entry.
func (s *Store) CommitLogs(seq uint64, entries []model.LogEntry, err error) bool {
	return s.commit(FeedLogs, seq, err, func() {
		if err != nil {
			s.appendLocalLog(model.LevelError, "Failed to load logs: "+err.Error())
			return
		}
		s.state.Logs = entries
	})
}

// CommitVideos replaces the list of streamable files.
func (s *Store) CommitVideos(seq uint64, videos []string, err error) bool {
	return s.commit(FeedVideos, seq, err, func() {
		if err != nil {
			return
		}
		if videos == nil {
			videos = []string{}
		}
		s.state.Videos = videos
	})
}

// CommitStatistics sets the latest realtime statistics.
func (s *Store) CommitStatistics(seq uint64, st model.RealtimeStatistics, err error) bool {
	return s.commit(FeedStatistics, seq, err, func() {
		if err != nil {
			return
		}
		s.state.Statistics = &st
	})
}

// CommitCleanup records the outcome of a backend cleanup request.
func (s *Store) CommitCleanup(seq uint64, err error) bool {
	return s.commit(FeedCleanup, seq, err, nil)
}

// AddAlert appends an alert, dropping the oldest beyond the alert limit.
func (s *Store) AddAlert(a model.Alert) {
	s.update(func() {
		if a.Timestamp.IsZero() {
			a.Timestamp = model.FromTime(s.now())
		}
		s.state.Alerts = appendBounded(s.state.Alerts, a, s.limits.Alerts)
	})
}

// AppendLog adds a dashboard-originated log entry, e.g. stream start/stop.
func (s *Store) AppendLog(level model.LogLevel, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	s.update(func() { s.appendLocalLog(level, msg) })
}

func (s *Store) appendLocalLog(level model.LogLevel, msg string) {
	entry := model.LogEntry{Timestamp: model.FromTime(s.now()), Level: level, Message: msg}
	s.localLogs = appendBounded(s.localLogs, entry, s.limits.LocalLogs)
}

// StreamUpdate describes a stream controller transition.
type StreamUpdate struct {
	State        string
	SystemStatus *model.SystemStatus
	Playback     string
	Source       *model.Source
	ClearSource  bool
	ClearCurrent bool
	Error        *StreamError
	ClearError   bool
}

// ApplyStream records controller state. ClearCurrent empties the current
// detections and makes any in-flight current-detection poll stale.
func (s *Store) ApplyStream(u StreamUpdate) {
	s.update(func() {
		if u.State != "" {
			s.state.StreamState = u.State
		}
		if u.SystemStatus != nil {
			s.state.SystemStatus = *u.SystemStatus
		}
		if u.Playback != "" {
			s.state.Playback = u.Playback
		}
		if u.ClearSource {
			s.state.Source = nil
		}
		if u.Source != nil {
			src := *u.Source
			s.state.Source = &src
		}
		if u.ClearCurrent {
			s.invalidate(FeedCurrent)
			s.state.CurrentDetections = []model.Detection{}
		}
		if u.ClearError {
			s.state.StreamError = nil
		}
		if u.Error != nil {
			e := *u.Error
			s.state.StreamError = &e
		}
	})
}

// Connected reports the last accepted health check result.
func (s *Store) Connected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Connected
}

// SystemStatus returns the current system status.
func (s *Store) SystemStatus() model.SystemStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.SystemStatus
}

// CurrentDetections returns a copy of the current detections only, for
// callers that run per video frame.
func (s *Store) CurrentDetections() []model.Detection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.Detection{}, s.state.CurrentDetections...)
}

// Now returns the store clock as a Timestamp.
func (s *Store) Now() model.Timestamp {
	return model.FromTime(s.now())
}

// Revision returns the current revision.
func (s *Store) Revision() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Revision
}

// Snapshot returns a copy of the view model that callers may keep.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.clone(s.localLogs)
}

// Subscribe returns a channel receiving the revision after each commit.
// Slow subscribers miss intermediate revisions; the latest snapshot is
// always available from Snapshot.
func (s *Store) Subscribe() (int, <-chan uint64) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	id := s.nextSubID
	s.nextSubID++
	ch := make(chan uint64, 2)
	s.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes and closes a subscription.
func (s *Store) Unsubscribe(id int) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	if ch, ok := s.subscribers[id]; ok {
		close(ch)
		delete(s.subscribers, id)
	}
}

func (s *Store) notify(rev uint64) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subscribers {
		select {
		case ch <- rev:
		default:
		}
	}
}

func appendBounded[T any](list []T, v T, max int) []T {
	list = append(list, v)
	if max > 0 && len(list) > max {
		trimmed := make([]T, max)
		copy(trimmed, list[len(list)-max:])
		return trimmed
	}
	return list
}

// keepNewest keeps the max entries with the latest timestamps without
// reordering what is kept.
func keepNewest(entries []model.HistoryEntry, max int) []model.HistoryEntry {
	if entries == nil {
		return []model.HistoryEntry{}
	}
	if max <= 0 || len(entries) <= max {
		return entries
	}
	idx := make([]int, len(entries))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return entries[idx[a]].When().Millis() > entries[idx[b]].When().Millis()
	})
	keep := make([]bool, len(entries))
	for _, i := range idx[:max] {
		keep[i] = true
	}
	out := make([]model.HistoryEntry, 0, max)
	for i, e := range entries {
		if keep[i] {
			out = append(out, e)
		}
	}
	return out
}
