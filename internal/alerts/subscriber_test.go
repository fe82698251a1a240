package alerts

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dj-oyu/detection-dashboard/internal/metrics"
	"github.com/dj-oyu/detection-dashboard/internal/model"
)

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 0 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 1 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

type collectSink struct {
	mu     sync.Mutex
	alerts []model.Alert
}

func (c *collectSink) AddAlert(a model.Alert) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.alerts = append(c.alerts, a)
}

func TestDecodeSingleAndList(t *testing.T) {
	one, err := Decode([]byte(`{"type":"zone","message":"Person in restricted zone","lat":48.85,"lon":2.35,"zone":"A","color":"red","timestamp":"2024-05-01T10:00:00Z"}`))
	require.NoError(t, err)
	require.Len(t, one, 1)
	assert.Equal(t, "A", one[0].Zone)
	assert.Equal(t, int64(1714557600000), one[0].Timestamp.Millis())

	many, err := Decode([]byte(`[{"type":"zone","message":"a"},{"type":5},{"type":"speed","message":"b"}]`))
	require.NoError(t, err)
	assert.Len(t, many, 2)

	_, err = Decode([]byte(`{}`))
	assert.Error(t, err)
	_, err = Decode([]byte(` `))
	assert.Error(t, err)
}

func TestHandleForwardsToSink(t *testing.T) {
	sink := &collectSink{}
	m := metrics.New()
	s := New(Config{Broker: "tcp://localhost:1883", Topic: "detections/alerts"}, sink, m)

	s.handle(nil, fakeMessage{topic: "detections/alerts", payload: []byte(`{"type":"zone","message":"intrusion"}`)})
	s.handle(nil, fakeMessage{topic: "detections/alerts", payload: []byte(`not json`)})

	require.Len(t, sink.alerts, 1)
	assert.Equal(t, "intrusion", sink.alerts[0].Message)
	assert.Equal(t, uint64(1), m.AlertsReceived.Load())
}

func TestConfigEnabled(t *testing.T) {
	assert.False(t, Config{}.Enabled())
	assert.False(t, Config{Broker: "tcp://b:1883"}.Enabled())
	assert.True(t, Config{Broker: "tcp://b:1883", Topic: "t"}.Enabled())
	assert.Error(t, New(Config{}, &collectSink{}, nil).Start())
}
