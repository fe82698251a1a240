// Package panel implements the detection panel's filtering, analytics and
// export. Filtering is a view concern: it never modifies stored history.
package panel

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/dj-oyu/detection-dashboard/internal/model"
)

// AllClasses is the class wildcard.
const AllClasses = "all"

// DefaultMinConfidence is the initial confidence threshold.
const DefaultMinConfidence = 0.5

// Classes lists the selectable classes, wildcard first.
var Classes = []string{
	AllClasses,
	"person",
	"soldier",
	"weapon",
	"military_vehicles",
	"civilian_vehicles",
	"military_aircraft",
	"civilian_aircraft",
}

// TimeRange is a history window relative to now.
type TimeRange string

const (
	Range1h  TimeRange = "1h"
	Range6h  TimeRange = "6h"
	Range24h TimeRange = "24h"
)

// Duration returns the window length. Unknown ranges fall back to 1h.
func (r TimeRange) Duration() time.Duration {
	switch r {
	case Range6h:
		return 6 * time.Hour
	case Range24h:
		return 24 * time.Hour
	default:
		return time.Hour
	}
}

// Filter holds the panel controls.
type Filter struct {
	Class         string    `json:"selectedClass"`
	MinConfidence float64   `json:"confidenceThreshold"`
	TimeRange     TimeRange `json:"timeRange"`
}

// DefaultFilter returns the panel's initial controls.
func DefaultFilter() Filter {
	return Filter{Class: AllClasses, MinConfidence: DefaultMinConfidence, TimeRange: Range24h}
}

// ParseFilter reads class, confidence and range query values over the
// defaults. Empty values keep the default.
func ParseFilter(class, confidence, timeRange string) (Filter, error) {
	f := DefaultFilter()
	if class != "" {
		f.Class = class
	}
	if confidence != "" {
		c, err := strconv.ParseFloat(confidence, 64)
		if err != nil || c < 0 || c > 1 {
			return f, fmt.Errorf("confidence must be a number in [0,1], got %q", confidence)
		}
		f.MinConfidence = c
	}
	if timeRange != "" {
		switch TimeRange(timeRange) {
		case Range1h, Range6h, Range24h:
			f.TimeRange = TimeRange(timeRange)
		default:
			return f, fmt.Errorf("range must be one of 1h, 6h, 24h, got %q", timeRange)
		}
	}
	return f, nil
}

func (f Filter) matches(d model.Detection) bool {
	classOK := f.Class == "" || f.Class == AllClasses || d.Label == f.Class
	return classOK && d.Confidence >= f.MinConfidence
}

// FilterCurrent applies class and confidence to current detections.
func FilterCurrent(dets []model.Detection, f Filter) []model.Detection {
	out := make([]model.Detection, 0, len(dets))
	for _, d := range dets {
		if f.matches(d) {
			out = append(out, d)
		}
	}
	return out
}

// FilterHistory applies class, confidence and the time window ending at
// now. An entry is inside the window when now - timestamp < range.
func FilterHistory(entries []model.HistoryEntry, f Filter, now time.Time) []model.HistoryEntry {
	window := f.TimeRange.Duration().Milliseconds()
	nowMs := now.UnixMilli()
	out := make([]model.HistoryEntry, 0, len(entries))
	for _, e := range entries {
		if nowMs-e.When().Millis() >= window {
			continue
		}
		if f.matches(e.Detection) {
			out = append(out, e)
		}
	}
	return out
}

// UniqueClasses returns the selectable classes followed by any other label
// seen in dets, sorted.
func UniqueClasses(dets []model.Detection, history []model.HistoryEntry) []string {
	known := make(map[string]bool, len(Classes))
	for _, c := range Classes {
		known[c] = true
	}
	extra := map[string]bool{}
	add := func(label string) {
		if label != "" && !known[label] {
			extra[label] = true
		}
	}
	for _, d := range dets {
		add(d.Label)
	}
	for _, h := range history {
		add(h.Label)
	}
	out := append([]string{}, Classes...)
	more := make([]string, 0, len(extra))
	for l := range extra {
		more = append(more, l)
	}
	sort.Strings(more)
	return append(out, more...)
}

// AnalyzeTrajectories summarizes every trajectory, ordered by id.
func AnalyzeTrajectories(trajectories map[string]model.Trajectory) []model.TrajectoryAnalysis {
	ids := make([]string, 0, len(trajectories))
	for id := range trajectories {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]model.TrajectoryAnalysis, 0, len(ids))
	for _, id := range ids {
		out = append(out, model.Analyze(trajectories[id]))
	}
	return out
}
