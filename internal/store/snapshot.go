package store

import (
	"maps"

	"github.com/dj-oyu/detection-dashboard/internal/model"
)

// FeedStatus tracks the health of one feed.
type FeedStatus struct {
	LastSuccess         model.Timestamp `json:"lastSuccess"`
	LastFailure         model.Timestamp `json:"lastFailure"`
	LastError           string          `json:"lastError,omitempty"`
	ConsecutiveFailures int             `json:"consecutiveFailures"`
}

// StreamError is the last failed start or stop, shown next to the control.
type StreamError struct {
	Action   string          `json:"action"`
	Message  string          `json:"message"`
	LastLogs []string        `json:"lastLogs,omitempty"`
	At       model.Timestamp `json:"at"`
}

// Snapshot is a point-in-time copy of the view model.
type Snapshot struct {
	Revision     uint64             `json:"revision"`
	Connected    bool               `json:"connected"`
	SystemStatus model.SystemStatus `json:"systemStatus"`
	StreamState  string             `json:"streamState"`
	Playback     string             `json:"playback"`
	Source       *model.Source      `json:"source,omitempty"`
	StreamError  *StreamError       `json:"streamError,omitempty"`

	CurrentDetections []model.Detection           `json:"currentDetections"`
	DetectionHistory  []model.HistoryEntry        `json:"detectionHistory"`
	Trajectories      map[string]model.Trajectory `json:"trajectories"`

	ModelMetrics  *model.ModelMetrics  `json:"modelMetrics,omitempty"`
	SystemMetrics *model.SystemMetrics `json:"systemMetrics,omitempty"`
	ModelHistory  []model.ModelMetrics  `json:"modelHistory"`
	SystemHistory []model.SystemMetrics `json:"systemHistory"`

	Logs       []model.LogEntry          `json:"logs"`
	Alerts     []model.Alert             `json:"alerts"`
	Videos     []string                  `json:"videos"`
	Statistics *model.RealtimeStatistics `json:"statistics,omitempty"`

	Feeds map[Feed]FeedStatus `json:"feeds"`
}

// clone copies every container so the snapshot shares no mutable state
// with the store. Records themselves are never mutated after commit.
func (s Snapshot) clone(localLogs []model.LogEntry) Snapshot {
	out := s
	out.CurrentDetections = append([]model.Detection{}, s.CurrentDetections...)
	out.DetectionHistory = append([]model.HistoryEntry{}, s.DetectionHistory...)
	out.Trajectories = make(map[string]model.Trajectory, len(s.Trajectories))
	for id, t := range s.Trajectories {
		t.Points = append([]model.TrajectoryPoint{}, t.Points...)
		out.Trajectories[id] = t
	}
	if s.ModelMetrics != nil {
		m := *s.ModelMetrics
		m.ObjectsByClass = maps.Clone(m.ObjectsByClass)
		out.ModelMetrics = &m
	}
	if s.SystemMetrics != nil {
		m := *s.SystemMetrics
		out.SystemMetrics = &m
	}
	out.ModelHistory = append([]model.ModelMetrics{}, s.ModelHistory...)
	out.SystemHistory = append([]model.SystemMetrics{}, s.SystemHistory...)
	out.Logs = make([]model.LogEntry, 0, len(s.Logs)+len(localLogs))
	out.Logs = append(out.Logs, s.Logs...)
	out.Logs = append(out.Logs, localLogs...)
	out.Alerts = append([]model.Alert{}, s.Alerts...)
	out.Videos = append([]string{}, s.Videos...)
	if s.Statistics != nil {
		st := *s.Statistics
		st.Windows = maps.Clone(st.Windows)
		out.Statistics = &st
	}
	if s.Source != nil {
		src := *s.Source
		out.Source = &src
	}
	if s.StreamError != nil {
		e := *s.StreamError
		e.LastLogs = append([]string(nil), e.LastLogs...)
		out.StreamError = &e
	}
	out.Feeds = maps.Clone(s.Feeds)
	return out
}

// Running reports whether the backend stream is running.
func (s Snapshot) Running() bool {
	return s.SystemStatus == model.StatusRunning
}
