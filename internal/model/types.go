package model

import "fmt"

// SystemStatus is the backend stream status as seen by the dashboard.
type SystemStatus string

const (
	StatusStopped SystemStatus = "stopped"
	StatusRunning SystemStatus = "running"
)

// Detection is one bounding-box classification for the current frame.
// Coordinates are in the pixel space of the source frame.
type Detection struct {
	ID         *int64     `json:"id,omitempty"`
	Label      string     `json:"label"`
	Confidence float64    `json:"confidence"`
	X          float64    `json:"x"`
	Y          float64    `json:"y"`
	Width      float64    `json:"width"`
	Height     float64    `json:"height"`
	Latitude   *float64   `json:"latitude,omitempty"`
	Longitude  *float64   `json:"longitude,omitempty"`
	Speed      *float64   `json:"speed,omitempty"`
	Distance   *float64   `json:"distance,omitempty"`
	Timestamp  *Timestamp `json:"timestamp,omitempty"`
}

// HistoryEntry is a stored detection. Its timestamp is mandatory.
type HistoryEntry struct {
	Detection
	HistoryID string `json:"historyId,omitempty"`
}

// When returns the entry timestamp, zero if the backend omitted it.
func (h HistoryEntry) When() Timestamp {
	if h.Timestamp == nil {
		return Timestamp{}
	}
	return *h.Timestamp
}

// TrajectoryPoint is one position of a tracked object.
type TrajectoryPoint struct {
	X         float64   `json:"x"`
	Y         float64   `json:"y"`
	Latitude  *float64  `json:"latitude,omitempty"`
	Longitude *float64  `json:"longitude,omitempty"`
	Speed     *float64  `json:"speed,omitempty"`
	Timestamp Timestamp `json:"timestamp"`
}

// Trajectory is the ordered path of one tracked object id.
type Trajectory struct {
	ID        FlexID            `json:"id"`
	Label     string            `json:"label"`
	StartTime Timestamp         `json:"startTime"`
	LastSeen  Timestamp         `json:"lastSeen"`
	IsActive  bool              `json:"isActive"`
	Points    []TrajectoryPoint `json:"points"`
}

// ModelMetrics is one performance sample reported by the detector.
type ModelMetrics struct {
	FPS            float64        `json:"fps"`
	InferenceTime  float64        `json:"inferenceTime"`
	ObjectCount    int            `json:"objectCount"`
	Precision      float64        `json:"precision"`
	Recall         float64        `json:"recall"`
	F1Score        float64        `json:"f1Score"`
	DetectionRate  float64        `json:"detectionRate"`
	IDSwitchCount  int            `json:"idSwitchCount"`
	MOTA           float64        `json:"mota"`
	MOTP           float64        `json:"motp"`
	ObjectsByClass map[string]int `json:"objectsByClass,omitempty"`
	Timestamp      Timestamp      `json:"timestamp"`
}

// SystemMetrics is one host resource sample reported by the backend.
type SystemMetrics struct {
	CPU       float64   `json:"cpu"`
	GPU       float64   `json:"gpu"`
	RAM       float64   `json:"ram"`
	Disk      float64   `json:"disk"`
	NetIn     float64   `json:"netIn"`
	NetOut    float64   `json:"netOut"`
	TempCPU   float64   `json:"tempCpu"`
	TempGPU   float64   `json:"tempGpu"`
	Battery   *float64  `json:"battery,omitempty"`
	Timestamp Timestamp `json:"timestamp"`
}

// LogLevel is the severity shown in the dashboard log list.
type LogLevel string

const (
	LevelInfo    LogLevel = "INFO"
	LevelWarning LogLevel = "WARNING"
	LevelError   LogLevel = "ERROR"
	LevelSuccess LogLevel = "SUCCESS"
)

// ParseLogLevel maps backend level names onto the dashboard levels.
func ParseLogLevel(s string) (LogLevel, bool) {
	switch s {
	case "INFO", "info", "DEBUG", "debug":
		return LevelInfo, true
	case "WARNING", "warning", "WARN", "warn":
		return LevelWarning, true
	case "ERROR", "error", "CRITICAL", "critical", "FATAL", "fatal":
		return LevelError, true
	case "SUCCESS", "success":
		return LevelSuccess, true
	}
	return "", false
}

// LogEntry is one normalized backend log line.
type LogEntry struct {
	Timestamp Timestamp `json:"timestamp"`
	Level     LogLevel  `json:"level"`
	Message   string    `json:"message"`
}

// Alert is a rule hit evaluated by the backend.
type Alert struct {
	Type      string    `json:"type"`
	Message   string    `json:"message"`
	Lat       float64   `json:"lat"`
	Lon       float64   `json:"lon"`
	Zone      string    `json:"zone"`
	Color     string    `json:"color"`
	Timestamp Timestamp `json:"timestamp"`
}

// SourceKind tags a Source.
type SourceKind string

const (
	SourceFile    SourceKind = "file"
	SourceNetwork SourceKind = "network"
)

// Source selects what the backend should run detection on.
type Source struct {
	Kind SourceKind `json:"kind"`
	Path string     `json:"path,omitempty"`
	URL  string     `json:"url,omitempty"`
}

// Validate reports whether the variant's required field is set.
func (s Source) Validate() error {
	switch s.Kind {
	case SourceFile:
		if s.Path == "" {
			return fmt.Errorf("file source requires a path")
		}
	case SourceNetwork:
		if s.URL == "" {
			return fmt.Errorf("network source requires a url")
		}
	default:
		return fmt.Errorf("unknown source kind %q", s.Kind)
	}
	return nil
}

// Live reports whether the source is a live network camera.
func (s Source) Live() bool {
	return s.Kind == SourceNetwork
}

func (s Source) String() string {
	if s.Kind == SourceNetwork {
		return "network:" + s.URL
	}
	return "file:" + s.Path
}

// RealtimeWindow is one time window of the backend's realtime statistics.
type RealtimeWindow struct {
	DetectionCount  int            `json:"detection_count"`
	UniqueObjects   int            `json:"unique_objects"`
	AvgConfidence   float64        `json:"avg_confidence"`
	AvgSpeed        float64        `json:"avg_speed"`
	Classes         map[string]int `json:"classes"`
	MostCommonClass *string        `json:"most_common_class"`
}

// RealtimeStatistics mirrors GET /statistics/realtime.
type RealtimeStatistics struct {
	Windows map[string]RealtimeWindow `json:"windows"`
	Global  struct {
		TotalDetections    int `json:"total_detections"`
		TotalTrajectories  int `json:"total_trajectories"`
		ActiveTrajectories int `json:"active_trajectories"`
		RecentTrajectories int `json:"recent_trajectories"`
	} `json:"global"`
}
