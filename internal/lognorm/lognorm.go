// Package lognorm turns raw backend log lines into dashboard log entries.
package lognorm

import (
	"bytes"
	"encoding/json"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/dj-oyu/detection-dashboard/internal/model"
)

const maxMessageLen = 4000

// DefaultDenylist holds substrings of routine lines that never reach the UI.
var DefaultDenylist = []string{
	"GET /api/",
	"POST /api/",
	"/video_feed",
	"GET /health",
	"Press CTRL+C to quit",
	"polling",
}

var (
	// 127.0.0.1 - - [01/May/2024 10:00:00] "GET /api/detections HTTP/1.1" 200 -
	accessLogRe = regexp.MustCompile(`"(GET|POST|PUT|PATCH|DELETE|HEAD|OPTIONS) \S+ HTTP/\d(\.\d)?" \d{3}`)

	// 2024-05-01 10:00:00,123 - detector - INFO - message
	pythonLogRe = regexp.MustCompile(`^(\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}(?:,\d{3})?) - (\S+) - ([A-Z]+) - (.*)$`)
)

type symbolLevel struct {
	symbol string
	level  model.LogLevel
}

// Checked in order; the variation selector on ⚠️ and ℹ️ is optional.
var symbolLevels = []symbolLevel{
	{"✅", model.LevelSuccess},
	{"❌", model.LevelError},
	{"⚠", model.LevelWarning},
	{"🛑", model.LevelWarning},
	{"🚀", model.LevelInfo},
	{"📊", model.LevelInfo},
	{"🔍", model.LevelInfo},
	{"ℹ", model.LevelInfo},
}

// Normalizer classifies raw lines. The zero value is not usable; use New.
type Normalizer struct {
	now      func() time.Time
	denylist []string
}

// Option configures a Normalizer.
type Option func(*Normalizer)

// WithClock replaces time.Now for fallback timestamps.
func WithClock(now func() time.Time) Option {
	return func(n *Normalizer) { n.now = now }
}

// WithDenylist replaces DefaultDenylist.
func WithDenylist(substrings []string) Option {
	return func(n *Normalizer) { n.denylist = substrings }
}

// New returns a Normalizer.
func New(opts ...Option) *Normalizer {
	n := &Normalizer{now: time.Now, denylist: DefaultDenylist}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Normalize converts raw lines in order, dropping filtered ones.
func (n *Normalizer) Normalize(lines []string) []model.LogEntry {
	out := make([]model.LogEntry, 0, len(lines))
	for _, line := range lines {
		if entry, ok := n.Line(line); ok {
			out = append(out, entry)
		}
	}
	return out
}

// Line classifies one raw line. ok is false when the line is noise.
func (n *Normalizer) Line(raw string) (model.LogEntry, bool) {
	line := sanitize(raw)
	if line == "" {
		return model.LogEntry{}, false
	}

	if entry, ok := parseStructured(line); ok {
		return entry, true
	}

	if n.isNoise(line) {
		return model.LogEntry{}, false
	}

	if m := pythonLogRe.FindStringSubmatch(line); m != nil {
		msg := strings.TrimSpace(m[4])
		level, ok := model.ParseLogLevel(m[3])
		if !ok {
			level = model.LevelInfo
		}
		if sym, found := symbolLevelOf(msg); found && level == model.LevelInfo {
			level = sym
		}
		ts, ok := parsePythonTime(m[1])
		if !ok {
			ts = model.FromTime(n.now())
		}
		return model.LogEntry{Timestamp: ts, Level: level, Message: msg}, true
	}

	level := model.LevelInfo
	if sym, found := symbolLevelOf(line); found {
		level = sym
	}
	return model.LogEntry{Timestamp: model.FromTime(n.now()), Level: level, Message: line}, true
}

func (n *Normalizer) isNoise(line string) bool {
	if accessLogRe.MatchString(line) {
		return true
	}
	for _, s := range n.denylist {
		if s != "" && strings.Contains(line, s) {
			return true
		}
	}
	return false
}

// parseStructured accepts a JSON object carrying timestamp, level and message.
func parseStructured(line string) (model.LogEntry, bool) {
	if !strings.HasPrefix(line, "{") {
		return model.LogEntry{}, false
	}
	var rec struct {
		Timestamp json.RawMessage `json:"timestamp"`
		Level     string          `json:"level"`
		Message   string          `json:"message"`
	}
	if err := json.Unmarshal([]byte(line), &rec); err != nil {
		return model.LogEntry{}, false
	}
	raw := bytes.TrimSpace(rec.Timestamp)
	if len(raw) == 0 || rec.Level == "" || rec.Message == "" || bytes.Equal(raw, []byte("null")) {
		return model.LogEntry{}, false
	}
	var ts model.Timestamp
	_ = ts.UnmarshalJSON(raw)
	if ts.IsZero() {
		return model.LogEntry{}, false
	}
	level, ok := model.ParseLogLevel(rec.Level)
	if !ok {
		level = model.LevelInfo
	}
	return model.LogEntry{Timestamp: ts, Level: level, Message: rec.Message}, true
}

func symbolLevelOf(msg string) (model.LogLevel, bool) {
	for _, s := range symbolLevels {
		if strings.HasPrefix(msg, s.symbol) {
			return s.level, true
		}
	}
	return "", false
}

// parsePythonTime reads the asctime of the python logging module, which is
// in the backend host's local zone.
func parsePythonTime(s string) (model.Timestamp, bool) {
	layout := "2006-01-02 15:04:05"
	if strings.Contains(s, ",") {
		s = strings.Replace(s, ",", ".", 1)
		layout = "2006-01-02 15:04:05.000"
	}
	t, err := time.ParseInLocation(layout, s, time.Local)
	if err != nil {
		return model.Timestamp{}, false
	}
	return model.FromTime(t), true
}

func sanitize(raw string) string {
	msg := strings.TrimSpace(raw)
	msg = strings.ReplaceAll(msg, "\x00", "")
	msg = strings.TrimSpace(string(bytes.ToValidUTF8([]byte(msg), []byte("?"))))
	if len(msg) > maxMessageLen {
		msg = msg[:maxMessageLen]
	}
	return msg
}

// SortNewestFirst returns a copy ordered by timestamp descending. Entries
// with equal timestamps keep their relative order.
func SortNewestFirst(entries []model.LogEntry) []model.LogEntry {
	out := make([]model.LogEntry, len(entries))
	copy(out, entries)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Millis() > out[j].Timestamp.Millis()
	})
	return out
}
