package analysis

import (
	"encoding/json"
	"fmt"

	"derbyflow/internal/detector"
)

// Result is the artifact written for an analysis stage.
type Result struct {
	FPS       float64       `json:"fps"`
	CodecCode int64         `json:"codec_code"`
	Frames    []FrameRecord `json:"frames"`
}

// FrameRecord merges every detector's output for one kept frame. It encodes
// as a flat object with one key per detector category.
type FrameRecord struct {
	Index      int
	Timestamp  float64
	Detections map[string]detector.Result
}

const (
	keyFrameIndex     = "frame_index"
	keyFrameTimestamp = "frame_timestamp"
)

func (f FrameRecord) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(f.Detections)+2)
	for category, res := range f.Detections {
		out[category] = res
	}
	out[keyFrameIndex] = f.Index
	out[keyFrameTimestamp] = f.Timestamp
	return json.Marshal(out)
}

func (f *FrameRecord) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*f = FrameRecord{Detections: make(map[string]detector.Result, len(raw))}
	for key, value := range raw {
		var err error
		switch key {
		case keyFrameIndex:
			err = json.Unmarshal(value, &f.Index)
		case keyFrameTimestamp:
			err = json.Unmarshal(value, &f.Timestamp)
		default:
			var res detector.Result
			err = json.Unmarshal(value, &res)
			f.Detections[key] = res
		}
		if err != nil {
			return fmt.Errorf("frame record field %q: %w", key, err)
		}
	}
	return nil
}
