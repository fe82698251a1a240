package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// FlexID is an identifier the backend sends as either a number or a string.
type FlexID string

// UnmarshalJSON implements json.Unmarshaler.
func (id *FlexID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = FlexID(s)
		return nil
	}
	n, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return fmt.Errorf("invalid id %s", b)
	}
	*id = FlexID(strconv.FormatFloat(n, 'f', -1, 64))
	return nil
}

// DecodeList decodes a JSON array record by record. Records that fail to
// decode are skipped and counted instead of failing the whole list.
func DecodeList[T any](raw []byte) ([]T, int, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, 0, fmt.Errorf("decode list: %w", err)
	}
	out := make([]T, 0, len(items))
	skipped := 0
	for _, item := range items {
		var v T
		if err := json.Unmarshal(item, &v); err != nil {
			skipped++
			continue
		}
		out = append(out, v)
	}
	return out, skipped, nil
}

// DecodeCurrentDetections accepts either a bare array of detections or an
// object wrapping them as {"detections": [...]}.
func DecodeCurrentDetections(raw []byte) ([]Detection, int, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return []Detection{}, 0, nil
	}
	if trimmed[0] == '{' {
		var wrapper struct {
			Detections json.RawMessage `json:"detections"`
		}
		if err := json.Unmarshal(trimmed, &wrapper); err != nil {
			return nil, 0, fmt.Errorf("decode detections wrapper: %w", err)
		}
		if len(wrapper.Detections) == 0 || bytes.Equal(wrapper.Detections, []byte("null")) {
			return []Detection{}, 0, nil
		}
		trimmed = wrapper.Detections
	}
	return DecodeList[Detection](trimmed)
}
