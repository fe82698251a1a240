package session

import (
	"time"

	"github.com/dj-oyu/detection-dashboard/internal/alerts"
)

// Config holds backend location, poll cadences and optional integrations.
type Config struct {
	BackendURL string `yaml:"backend_url"`

	HealthInterval     time.Duration `yaml:"health_interval"`
	HealthTimeout      time.Duration `yaml:"health_timeout"`
	PollInterval       time.Duration `yaml:"poll_interval"`
	LivePollInterval   time.Duration `yaml:"live_poll_interval"`
	MetricsInterval    time.Duration `yaml:"metrics_interval"`
	HistoryInterval    time.Duration `yaml:"history_interval"`
	HistoryLimit       int           `yaml:"history_limit"`
	TrajectoryInterval time.Duration `yaml:"trajectory_interval"`
	LogInterval        time.Duration `yaml:"log_interval"` // 0 disables periodic log polling
	CleanupInterval    time.Duration `yaml:"cleanup_interval"`
	StatisticsInterval time.Duration `yaml:"statistics_interval"`
	StartTimeout       time.Duration `yaml:"start_timeout"`

	ArchivePath      string        `yaml:"archive_path"` // empty disables the archive
	ArchiveRetention time.Duration `yaml:"archive_retention"`

	Alerts alerts.Config `yaml:"alerts"`
}

// DefaultConfig returns the cadences the dashboard was tuned for.
func DefaultConfig() Config {
	return Config{
		BackendURL:         "http://localhost:5000",
		HealthInterval:     10 * time.Second,
		HealthTimeout:      2 * time.Second,
		PollInterval:       time.Second,
		LivePollInterval:   200 * time.Millisecond,
		MetricsInterval:    time.Second,
		HistoryInterval:    time.Second,
		HistoryLimit:       1000,
		TrajectoryInterval: 5 * time.Second,
		LogInterval:        5 * time.Second,
		CleanupInterval:    time.Hour,
		StatisticsInterval: 5 * time.Second,
		StartTimeout:       30 * time.Second,
		ArchiveRetention:   7 * 24 * time.Hour,
	}
}

// withDefaults fills zero cadences. LogInterval is left alone since zero
// is meaningful.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.BackendURL == "" {
		c.BackendURL = d.BackendURL
	}
	setDuration(&c.HealthInterval, d.HealthInterval)
	setDuration(&c.HealthTimeout, d.HealthTimeout)
	setDuration(&c.PollInterval, d.PollInterval)
	setDuration(&c.LivePollInterval, d.LivePollInterval)
	setDuration(&c.MetricsInterval, d.MetricsInterval)
	setDuration(&c.HistoryInterval, d.HistoryInterval)
	setDuration(&c.TrajectoryInterval, d.TrajectoryInterval)
	setDuration(&c.CleanupInterval, d.CleanupInterval)
	setDuration(&c.StatisticsInterval, d.StatisticsInterval)
	setDuration(&c.StartTimeout, d.StartTimeout)
	setDuration(&c.ArchiveRetention, d.ArchiveRetention)
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = d.HistoryLimit
	}
	return c
}

func setDuration(v *time.Duration, def time.Duration) {
	if *v <= 0 {
		*v = def
	}
}
