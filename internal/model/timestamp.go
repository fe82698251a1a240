package model

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/relvacode/iso8601"
)

// Timestamp is an instant that the backend may send either as epoch
// milliseconds or as an ISO-8601 string. It is always written back as epoch
// milliseconds. Unparseable input decodes to the zero Timestamp.
type Timestamp struct {
	time.Time
}

// FromTime wraps t.
func FromTime(t time.Time) Timestamp {
	return Timestamp{Time: t.UTC()}
}

// FromMillis converts epoch milliseconds.
func FromMillis(ms int64) Timestamp {
	return Timestamp{Time: time.UnixMilli(ms).UTC()}
}

// Millis returns epoch milliseconds, 0 for the zero Timestamp.
func (t Timestamp) Millis() int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

// ParseTimestamp accepts epoch milliseconds (as text) or ISO-8601.
func ParseTimestamp(s string) (Timestamp, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Timestamp{}, false
	}
	if ms, err := strconv.ParseFloat(s, 64); err == nil {
		return FromMillis(int64(ms)), true
	}
	t, err := iso8601.ParseString(s)
	if err != nil {
		return Timestamp{}, false
	}
	return FromTime(t), true
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Timestamp) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*t = Timestamp{}
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			*t = Timestamp{}
			return nil
		}
		parsed, _ := ParseTimestamp(s)
		*t = parsed
		return nil
	}
	ms, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		*t = Timestamp{}
		return nil
	}
	*t = FromMillis(int64(ms))
	return nil
}

// MarshalJSON implements json.Marshaler.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	return []byte(strconv.FormatInt(t.Millis(), 10)), nil
}
