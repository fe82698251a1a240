package session

import (
	"context"
	"time"

	"github.com/dj-oyu/detection-dashboard/internal/logger"
	"github.com/dj-oyu/detection-dashboard/internal/scheduler"
	"github.com/dj-oyu/detection-dashboard/internal/store"
)

func (s *Session) tasks() []scheduler.Task {
	tasks := []scheduler.Task{
		{
			Name:     "health",
			Interval: scheduler.Every(s.cfg.HealthInterval),
			Gate:     scheduler.Always,
			Timeout:  s.cfg.HealthTimeout + time.Second,
			Run: func(ctx context.Context) error {
				s.Monitor.Check(ctx)
				return nil
			},
		},
		{
			Name: "current_detections",
			Interval: func(c scheduler.Conditions) time.Duration {
				if c.Live {
					return s.cfg.LivePollInterval
				}
				return s.cfg.PollInterval
			},
			Gate: scheduler.WhenStreaming,
			Run:  s.pollCurrent,
		},
		{
			Name:     "metrics",
			Interval: scheduler.Every(s.cfg.MetricsInterval),
			Gate:     scheduler.WhenStreaming,
			Run:      s.pollMetrics,
		},
		{
			Name:     "history",
			Interval: scheduler.Every(s.cfg.HistoryInterval),
			Gate:     scheduler.WhenStreaming,
			Run:      s.pollHistory,
		},
		{
			Name:     "trajectories",
			Interval: scheduler.Every(s.cfg.TrajectoryInterval),
			Gate:     scheduler.WhenStreaming,
			Run:      s.pollTrajectories,
		},
		{
			Name:     "statistics",
			Interval: scheduler.Every(s.cfg.StatisticsInterval),
			Gate:     scheduler.WhenStreaming,
			Run:      s.pollStatistics,
		},
		{
			Name:     "logs",
			Interval: scheduler.Every(s.cfg.LogInterval),
			Gate:     scheduler.WhenConnected,
			Run:      s.pollLogs,
		},
		{
			Name:     "cleanup",
			Interval: scheduler.Every(s.cfg.CleanupInterval),
			Gate:     scheduler.WhenConnected,
			Timeout:  30 * time.Second,
			Run:      s.Cleanup,
		},
	}
	if s.Archive != nil {
		tasks = append(tasks, scheduler.Task{
			Name:     "archive_maintenance",
			Interval: scheduler.Every(time.Hour),
			Gate:     scheduler.Always,
			Timeout:  time.Minute,
			Run: func(ctx context.Context) error {
				n, err := s.Archive.Maintain(ctx, s.cfg.ArchiveRetention)
				if err != nil {
					return err
				}
				if n > 0 {
					logger.Info("Archive", "Pruned %d rows older than %v", n, s.cfg.ArchiveRetention)
				}
				return nil
			},
		})
	}
	return tasks
}

func (s *Session) pollCurrent(ctx context.Context) error {
	seq := s.Store.Begin(store.FeedCurrent)
	dets, err := s.Client.CurrentDetections(ctx)
	if aborted(err) {
		return err
	}
	s.Store.CommitCurrentDetections(seq, dets, err)
	return err
}

func (s *Session) pollMetrics(ctx context.Context) error {
	mseq := s.Store.Begin(store.FeedModelMetrics)
	perf, perr := s.Client.Performance(ctx)
	if aborted(perr) {
		return perr
	}
	if s.Store.CommitModelMetrics(mseq, perf, perr) && perr == nil && s.Archive != nil {
		s.archived(s.Archive.RecordModel(ctx, perf))
	}

	sseq := s.Store.Begin(store.FeedSystemMetrics)
	sys, serr := s.Client.SystemMetrics(ctx)
	if aborted(serr) {
		return serr
	}
	if s.Store.CommitSystemMetrics(sseq, sys, serr) && serr == nil && s.Archive != nil {
		s.archived(s.Archive.RecordSystem(ctx, sys))
	}

	if perr != nil {
		return perr
	}
	return serr
}

func (s *Session) archived(err error) {
	if err != nil {
		s.Metrics.ArchiveFailures.Add(1)
		logger.Debug("Archive", "Sample write failed: %v", err)
		return
	}
	s.Metrics.ArchiveSamples.Add(1)
}

func (s *Session) pollHistory(ctx context.Context) error {
	seq := s.Store.Begin(store.FeedHistory)
	entries, err := s.Client.DetectionHistory(ctx, s.cfg.HistoryLimit)
	if aborted(err) {
		return err
	}
	s.Store.CommitHistory(seq, entries, err)
	return err
}

func (s *Session) pollTrajectories(ctx context.Context) error {
	seq := s.Store.Begin(store.FeedTrajectories)
	list, err := s.Client.Trajectories(ctx)
	if aborted(err) {
		return err
	}
	s.Store.CommitTrajectories(seq, list, err)
	return err
}

func (s *Session) pollStatistics(ctx context.Context) error {
	seq := s.Store.Begin(store.FeedStatistics)
	stats, err := s.Client.RealtimeStatistics(ctx)
	if aborted(err) {
		return err
	}
	s.Store.CommitStatistics(seq, stats, err)
	return err
}

func (s *Session) pollLogs(ctx context.Context) error {
	seq := s.Store.Begin(store.FeedLogs)
	lines, err := s.Client.Logs(ctx)
	if aborted(err) {
		return err
	}
	s.Store.CommitLogs(seq, s.normalizer.Normalize(lines), err)
	return err
}

func (s *Session) pollVideos(ctx context.Context) error {
	seq := s.Store.Begin(store.FeedVideos)
	videos, err := s.Client.Videos(ctx)
	if aborted(err) {
		return err
	}
	s.Store.CommitVideos(seq, videos, err)
	return err
}
