package model

import (
	"math"
	"sort"
)

// NormalizeTrajectory orders points by timestamp so that a trajectory's
// points never go back in time. Points with equal timestamps keep their
// backend order.
func NormalizeTrajectory(t Trajectory) Trajectory {
	points := make([]TrajectoryPoint, len(t.Points))
	copy(points, t.Points)
	sort.SliceStable(points, func(i, j int) bool {
		return points[i].Timestamp.Millis() < points[j].Timestamp.Millis()
	})
	t.Points = points
	if t.LastSeen.Before(t.StartTime.Time) {
		t.LastSeen = t.StartTime
	}
	return t
}

// TrajectoryIndex keys trajectories by id. A later entry with the same id
// replaces an earlier one.
func TrajectoryIndex(list []Trajectory) map[string]Trajectory {
	out := make(map[string]Trajectory, len(list))
	for _, t := range list {
		if t.ID == "" {
			continue
		}
		out[string(t.ID)] = NormalizeTrajectory(t)
	}
	return out
}

// TrajectoryAnalysis summarizes movement of one trajectory.
type TrajectoryAnalysis struct {
	ID            string    `json:"id"`
	Label         string    `json:"label"`
	StartTime     Timestamp `json:"startTime"`
	LastSeen      Timestamp `json:"lastSeen"`
	DurationMs    int64     `json:"duration"`
	TotalDistance float64   `json:"totalDistance"`
	AvgSpeed      float64   `json:"avgSpeed"` // pixels per second
	PointCount    int       `json:"pointCount"`
}

// Analyze computes duration, path length and average speed in pixel space.
func Analyze(t Trajectory) TrajectoryAnalysis {
	var distance float64
	for i := 1; i < len(t.Points); i++ {
		dx := t.Points[i].X - t.Points[i-1].X
		dy := t.Points[i].Y - t.Points[i-1].Y
		distance += math.Hypot(dx, dy)
	}
	duration := t.LastSeen.Millis() - t.StartTime.Millis()
	var speed float64
	if duration > 0 {
		speed = distance / float64(duration) * 1000
	}
	return TrajectoryAnalysis{
		ID:            string(t.ID),
		Label:         t.Label,
		StartTime:     t.StartTime,
		LastSeen:      t.LastSeen,
		DurationMs:    duration,
		TotalDistance: distance,
		AvgSpeed:      speed,
		PointCount:    len(t.Points),
	}
}
