package pipeline

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"derbyflow/internal/asset"
	"derbyflow/internal/services"
)

// CommandStop asks a consumer loop to exit.
const CommandStop = "stop"

// WorkMessage is the queue payload. It carries either an asset to process or
// a control command.
type WorkMessage struct {
	VideoID  int64           `json:"VideoId,omitempty" validate:"required_without=Command"`
	Location *asset.Location `json:"s3,omitempty" validate:"required_without=Command"`
	Command  string          `json:"command,omitempty" validate:"omitempty,oneof=stop"`
}

// IsStop reports whether the message is the stop command.
func (m WorkMessage) IsStop() bool { return m.Command == CommandStop }

var validate = validator.New()

// NewWorkMessage builds the work item for an asset.
func NewWorkMessage(id int64, loc asset.Location) WorkMessage {
	return WorkMessage{VideoID: id, Location: &loc}
}

// StopMessage builds the stop command.
func StopMessage() WorkMessage {
	return WorkMessage{Command: CommandStop}
}

// Encode marshals the message to its queue body.
func (m WorkMessage) Encode() ([]byte, error) {
	if err := validate.Struct(m); err != nil {
		return nil, services.Wrap(services.ErrValidation, "pipeline", "encode message", "Invalid work message", err)
	}
	return json.Marshal(m)
}

// DecodeWorkMessage parses and validates a queue body. Commands are matched
// case-insensitively.
func DecodeWorkMessage(body []byte) (WorkMessage, error) {
	var msg WorkMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return WorkMessage{}, services.Wrap(services.ErrValidation, "pipeline", "decode message", "Malformed work message", err)
	}
	msg.Command = strings.ToLower(strings.TrimSpace(msg.Command))
	if err := validate.Struct(msg); err != nil {
		return WorkMessage{}, services.Wrap(services.ErrValidation, "pipeline", "decode message",
			fmt.Sprintf("Invalid work message %q", truncate(body, 200)), err)
	}
	return msg, nil
}

func truncate(body []byte, limit int) string {
	if len(body) <= limit {
		return string(body)
	}
	return string(body[:limit]) + "..."
}
