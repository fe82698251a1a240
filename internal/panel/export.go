package panel

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/dj-oyu/detection-dashboard/internal/model"
)

// ExportInfo describes an export.
type ExportInfo struct {
	ID                  string    `json:"id"`
	TotalDetections     int       `json:"totalDetections"`
	FilteredDetections  int       `json:"filteredDetections"`
	TimeRange           TimeRange `json:"timeRange"`
	ConfidenceThreshold float64   `json:"confidenceThreshold"`
	SelectedClass       string    `json:"selectedClass"`
	ExportTimestamp     string    `json:"exportTimestamp"`
}

// Export is the downloadable document. DetectionHistory is always the
// full unfiltered history; the filter is recorded as metadata.
type Export struct {
	ExportDate        string                      `json:"exportDate"`
	ExportInfo        ExportInfo                  `json:"exportInfo"`
	DetectionHistory  []model.HistoryEntry        `json:"detectionHistory"`
	TrajectoryHistory map[string]model.Trajectory `json:"trajectoryHistory"`
	CurrentDetections []model.Detection           `json:"currentDetections"`
	FilteredHistory   []model.HistoryEntry        `json:"filteredHistory"`
	Filters           Filter                      `json:"filters"`
}

// Data is what an export is built from.
type Data struct {
	History      []model.HistoryEntry
	Trajectories map[string]model.Trajectory
	Current      []model.Detection
}

// BuildExport assembles an export of d under filter f at now.
func BuildExport(d Data, f Filter, now time.Time) Export {
	filtered := FilterHistory(d.History, f, now)
	history := d.History
	if history == nil {
		history = []model.HistoryEntry{}
	}
	trajectories := d.Trajectories
	if trajectories == nil {
		trajectories = map[string]model.Trajectory{}
	}
	current := d.Current
	if current == nil {
		current = []model.Detection{}
	}
	return Export{
		ExportDate: now.UTC().Format(time.RFC3339Nano),
		ExportInfo: ExportInfo{
			ID:                  uuid.NewString(),
			TotalDetections:     len(history),
			FilteredDetections:  len(filtered),
			TimeRange:           f.TimeRange,
			ConfidenceThreshold: f.MinConfidence,
			SelectedClass:       f.Class,
			ExportTimestamp:     now.Local().Format("2006-01-02 15:04:05"),
		},
		DetectionHistory:  history,
		TrajectoryHistory: trajectories,
		CurrentDetections: current,
		FilteredHistory:   filtered,
		Filters:           f,
	}
}

// Filename returns detection_history_<date>_<range>.json.
func (e Export) Filename(now time.Time) string {
	return fmt.Sprintf("detection_history_%s_%s.json", now.UTC().Format("2006-01-02"), e.Filters.TimeRange)
}

// Write encodes e as indented JSON.
func (e Export) Write(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(e)
}

// Import decodes an export written by Write.
func Import(r io.Reader) (Export, error) {
	var e Export
	if err := json.NewDecoder(r).Decode(&e); err != nil {
		return Export{}, fmt.Errorf("decode export: %w", err)
	}
	return e, nil
}
