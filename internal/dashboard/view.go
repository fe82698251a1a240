package dashboard

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/dj-oyu/detection-dashboard/internal/model"
	"github.com/dj-oyu/detection-dashboard/internal/panel"
	"github.com/dj-oyu/detection-dashboard/internal/session"
	"github.com/dj-oyu/detection-dashboard/internal/store"
)

// stateView is what browsers render. StreamState shadows the stored value
// so a disconnected backend reads as "unavailable".
type stateView struct {
	store.Snapshot
	StreamState string          `json:"streamState"`
	Classes     []string        `json:"classes"`
	Tasks       []string        `json:"tasks"`
	ServerTime  model.Timestamp `json:"serverTime"`
}

func buildView(sess *session.Session) stateView {
	snap := sess.Store.Snapshot()
	return stateView{
		Snapshot:    snap,
		StreamState: string(sess.Controller.State()),
		Classes:     panel.UniqueClasses(snap.CurrentDetections, snap.DetectionHistory),
		Tasks:       sess.ActiveTasks(),
		ServerTime:  model.FromTime(time.Now()),
	}
}

// SerializedEvent holds one state revision pre-serialized in both wire
// formats so fan-out does not re-encode per client.
type SerializedEvent struct {
	Revision     uint64
	JSONData     []byte
	ProtobufData []byte // base64 google.protobuf.Struct
}

func serializeView(v stateView) (*SerializedEvent, error) {
	jsonData, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("json marshal: %w", err)
	}

	var generic map[string]any
	if err := json.Unmarshal(jsonData, &generic); err != nil {
		return nil, fmt.Errorf("json reparse: %w", err)
	}
	st, err := structpb.NewStruct(generic)
	if err != nil {
		return nil, fmt.Errorf("struct conversion: %w", err)
	}
	pbData, err := proto.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("protobuf marshal: %w", err)
	}

	return &SerializedEvent{
		Revision:     v.Revision,
		JSONData:     jsonData,
		ProtobufData: []byte(base64.StdEncoding.EncodeToString(pbData)),
	}, nil
}
