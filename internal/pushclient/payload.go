package pushclient

import (
	"encoding/json"
	"fmt"

	"github.com/bark-labs/webpush-relay/internal/model"
)

const (
	DefaultPayloadLimit = 1500
	DefaultBodyMaxRunes = 300
)

// Payload is an encoded push message.
type Payload struct {
	Data      []byte
	Truncated bool
}

// BuildPayload encodes msg. When the JSON exceeds limit bytes the body is cut to maxRunes
// runes plus an ellipsis and encoded again; that second encoding is used even if it is
// still over the limit.
func BuildPayload(msg model.PushMessage, limit, maxRunes int) (Payload, error) {
	if limit <= 0 {
		limit = DefaultPayloadLimit
	}
	if maxRunes <= 0 {
		maxRunes = DefaultBodyMaxRunes
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return Payload{}, fmt.Errorf("marshal payload: %w", err)
	}
	if len(data) <= limit {
		return Payload{Data: data}, nil
	}
	if runes := []rune(msg.Body); len(runes) > maxRunes {
		msg.Body = string(runes[:maxRunes]) + "…"
	}
	data, err = json.Marshal(msg)
	if err != nil {
		return Payload{}, fmt.Errorf("marshal small payload: %w", err)
	}
	return Payload{Data: data, Truncated: true}, nil
}
