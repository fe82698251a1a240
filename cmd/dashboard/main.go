package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dj-oyu/detection-dashboard/internal/dashboard"
	"github.com/dj-oyu/detection-dashboard/internal/logger"
	"github.com/dj-oyu/detection-dashboard/internal/metrics"
	"github.com/dj-oyu/detection-dashboard/internal/session"
)

func main() {
	cfg := dashboard.DefaultConfig()

	// The file is loaded before flags are bound so flags win over it.
	configPath := findConfigArg(os.Args[1:])
	if configPath != "" {
		if err := dashboard.LoadFile(configPath, &cfg); err != nil {
			log.Fatalf("Config: %v", err)
		}
	}

	var logLevel string
	var logColor bool

	flag.String("config", configPath, "YAML config file")
	flag.StringVar(&cfg.Addr, "http", cfg.Addr, "HTTP server address")
	flag.StringVar(&cfg.AssetsDir, "assets", cfg.AssetsDir, "Web assets directory")
	flag.StringVar(&cfg.Session.BackendURL, "backend", cfg.Session.BackendURL, "Detection backend base URL")
	flag.DurationVar(&cfg.Session.PollInterval, "poll", cfg.Session.PollInterval, "Current detection poll interval")
	flag.DurationVar(&cfg.Session.LogInterval, "log-poll", cfg.Session.LogInterval, "Backend log poll interval (0 disables)")
	flag.IntVar(&cfg.Session.HistoryLimit, "history-limit", cfg.Session.HistoryLimit, "Detection history entries to keep")
	flag.StringVar(&cfg.Session.ArchivePath, "archive", cfg.Session.ArchivePath, "SQLite metrics archive path (empty disables)")
	flag.StringVar(&cfg.Session.Alerts.Broker, "mqtt-broker", cfg.Session.Alerts.Broker, "MQTT broker for alerts (empty disables)")
	flag.StringVar(&cfg.Session.Alerts.Topic, "mqtt-topic", cfg.Session.Alerts.Topic, "MQTT alert topic")
	flag.IntVar(&cfg.MaxDataChannels, "max-datachannels", cfg.MaxDataChannels, "Maximum WebRTC data channel clients")
	flag.IntVar(&cfg.RelayJPEGQuality, "jpeg-quality", cfg.RelayJPEGQuality, "JPEG quality for relayed frames")
	flag.StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error, silent)")
	flag.BoolVar(&logColor, "log-color", true, "Enable colored log output")
	flag.Parse()

	cfg.ApplyEnv()

	level, err := logger.ParseLevel(logLevel)
	if err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}
	logger.Init(level, os.Stderr, logColor)

	sess, err := session.New(context.Background(), cfg.Session, metrics.New())
	if err != nil {
		log.Fatalf("Session: %v", err)
	}
	if err := sess.Start(); err != nil {
		log.Fatalf("Session start: %v", err)
	}
	server := dashboard.NewServer(cfg, sess)

	logger.Info("Main", "Dashboard listening on %s", cfg.Addr)
	logger.Info("Main", "Backend: %s", cfg.Session.BackendURL)
	logger.Info("Main", "Log level: %s", level)

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info("Main", "Received %s, shutting down", sig)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	// SSE and MJPEG clients never go idle; closing the server first ends them.
	server.Close()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Warn("Main", "HTTP shutdown: %v", err)
	}
	sess.Close()
	logger.Info("Main", "Shutdown complete")
}

// findConfigArg returns the value of -config from args, if present.
func findConfigArg(args []string) string {
	for i, arg := range args {
		name, value, hasValue := strings.Cut(strings.TrimLeft(arg, "-"), "=")
		if !strings.HasPrefix(arg, "-") || name != "config" {
			continue
		}
		if hasValue {
			return value
		}
		if i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}
