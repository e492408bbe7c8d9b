package messaging

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Message types.
const (
	TypeCollectionCompleted = "collection_completed"
	TypePolicyReloaded      = "policy_reloaded"
)

// Envelope wraps every published payload.
type Envelope struct {
	MsgType   string    `json:"msg_type"`
	MsgID     string    `json:"msg_id"`
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

func (e *Envelope) Encode() ([]byte, error) { return json.Marshal(e) }

// NewEnvelope creates an outbound envelope with a new UUID and timestamp.
func NewEnvelope(msgType, source string, payload any) *Envelope {
	return &Envelope{
		MsgType:   msgType,
		MsgID:     uuid.New().String(),
		Source:    source,
		Timestamp: time.Now(),
		Payload:   payload,
	}
}

// RawEnvelope is used for two-stage unmarshalling: first decode the envelope,
// then decode payload based on msg_type.
type RawEnvelope struct {
	MsgType   string          `json:"msg_type"`
	MsgID     string          `json:"msg_id"`
	Source    string          `json:"source"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// DecodeEnvelope unmarshals a raw message into a typed Envelope with the correct payload type.
func DecodeEnvelope(data []byte) (*Envelope, error) {
	var raw RawEnvelope
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	env := &Envelope{
		MsgType:   raw.MsgType,
		MsgID:     raw.MsgID,
		Source:    raw.Source,
		Timestamp: raw.Timestamp,
	}
	switch raw.MsgType {
	case TypeCollectionCompleted:
		var p CollectionCompleted
		if err := json.Unmarshal(raw.Payload, &p); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", raw.MsgType, err)
		}
		env.Payload = p
	case TypePolicyReloaded:
		var p PolicyReloaded
		if err := json.Unmarshal(raw.Payload, &p); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", raw.MsgType, err)
		}
		env.Payload = p
	default:
		return nil, fmt.Errorf("unknown msg_type: %s", raw.MsgType)
	}
	return env, nil
}
