package lognorm

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dj-oyu/detection-dashboard/internal/model"
)

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestNormalizer() *Normalizer {
	return New(WithClock(func() time.Time { return fixedNow }))
}

func TestStructuredRecordAcceptedAsIs(t *testing.T) {
	n := newTestNormalizer()
	entry, ok := n.Line(`{"timestamp":"2024-05-01T09:00:00Z","level":"WARNING","message":"GPU hot"}`)
	require.True(t, ok)
	assert.Equal(t, model.LevelWarning, entry.Level)
	assert.Equal(t, "GPU hot", entry.Message)
	assert.Equal(t, time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC).UnixMilli(), entry.Timestamp.Millis())
}

func TestIncompleteStructuredRecordFallsBack(t *testing.T) {
	n := newTestNormalizer()
	line := `{"level":"ERROR","message":"no timestamp"}`
	entry, ok := n.Line(line)
	require.True(t, ok)
	assert.Equal(t, model.LevelInfo, entry.Level)
	assert.Equal(t, line, entry.Message)
	assert.Equal(t, fixedNow.UnixMilli(), entry.Timestamp.Millis())
}

func TestSymbolPrefixes(t *testing.T) {
	n := newTestNormalizer()
	cases := map[string]model.LogLevel{
		"✅ Something":              model.LevelSuccess,
		"❌ Connection refused":     model.LevelError,
		"⚠️ Model not found":       model.LevelWarning,
		"🛑 Shutting down":          model.LevelWarning,
		"🚀 Starting detector":      model.LevelInfo,
		"plain line without level": model.LevelInfo,
	}
	for line, want := range cases {
		entry, ok := n.Line(line)
		require.True(t, ok, line)
		assert.Equal(t, want, entry.Level, line)
		assert.Equal(t, fixedNow.UnixMilli(), entry.Timestamp.Millis(), line)
	}
}

func TestPythonLoggingPrefix(t *testing.T) {
	n := newTestNormalizer()
	entry, ok := n.Line("2024-05-01 10:00:00,250 - maintenance - INFO - ✅ Backup created")
	require.True(t, ok)
	assert.Equal(t, model.LevelSuccess, entry.Level)
	assert.Equal(t, "✅ Backup created", entry.Message)
	want := time.Date(2024, 5, 1, 10, 0, 0, 250e6, time.Local)
	assert.Equal(t, want.UnixMilli(), entry.Timestamp.Millis())

	entry, ok = n.Line("2024-05-01 10:00:01,000 - app - ERROR - stream crashed")
	require.True(t, ok)
	assert.Equal(t, model.LevelError, entry.Level)
}

func TestNoiseIsDropped(t *testing.T) {
	n := newTestNormalizer()
	noisy := []string{
		`127.0.0.1 - - [01/May/2024 10:00:00] "GET /api/detections/current HTTP/1.1" 200 -`,
		`10.0.0.2 - - [01/May/2024 10:00:00] "OPTIONS /something HTTP/1.0" 204 -`,
		"GET /api/performance took 3ms",
		"serving /video_feed to client",
		"   ",
	}
	for _, line := range noisy {
		_, ok := n.Line(line)
		assert.False(t, ok, line)
	}

	got := n.Normalize(append(noisy, "❌ real problem"))
	require.Len(t, got, 1)
	assert.Equal(t, "❌ real problem", got[0].Message)
}

func TestCustomDenylist(t *testing.T) {
	n := New(WithDenylist([]string{"heartbeat"}))
	_, ok := n.Line("heartbeat ok")
	assert.False(t, ok)
	_, ok = n.Line("GET /api/health")
	assert.True(t, ok)
}

func TestSortNewestFirstIsRenderOnly(t *testing.T) {
	stored := []model.LogEntry{
		{Timestamp: model.FromMillis(1000), Message: "a"},
		{Timestamp: model.FromMillis(3000), Message: "b"},
		{Timestamp: model.FromMillis(2000), Message: "c"},
	}
	sorted := SortNewestFirst(stored)
	assert.Equal(t, []string{"b", "c", "a"}, messages(sorted))
	assert.Equal(t, []string{"a", "b", "c"}, messages(stored))
}

func messages(entries []model.LogEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Message
	}
	return out
}
