package outbox

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	ErrMissingEventID = errors.New("envelope has no event id")
	ErrMissingData    = errors.New("envelope has no data")
)

// ActorRef names who caused the event. Operator is set for manual actions;
// Component names the emitting service otherwise.
type ActorRef struct {
	Operator  string     `json:"operator,omitempty"`
	Component string     `json:"component,omitempty"`
	OwnerID   *uuid.UUID `json:"ownerId,omitempty"`
}

// Attributes flattens the actor for message metadata.
func (a *ActorRef) Attributes() map[string]string {
	attrs := map[string]string{}
	if a == nil {
		return attrs
	}
	if a.Operator != "" {
		attrs["operator"] = a.Operator
	}
	if a.Component != "" {
		attrs["component"] = a.Component
	}
	if a.OwnerID != nil {
		attrs["owner_id"] = a.OwnerID.String()
	}
	return attrs
}

// PayloadEnvelope is what outbox_events.payload holds and what subscribers
// receive as the message body.
type PayloadEnvelope struct {
	Version    int             `json:"version"`
	EventID    string          `json:"eventId"`
	OccurredAt time.Time       `json:"occurredAt"`
	Actor      *ActorRef       `json:"actor,omitempty"`
	Data       json.RawMessage `json:"data"`
}

// DecodeEnvelope parses a stored payload.
func DecodeEnvelope(raw []byte) (PayloadEnvelope, error) {
	var env PayloadEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return PayloadEnvelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.EventID == "" {
		return PayloadEnvelope{}, ErrMissingEventID
	}
	if data := bytes.TrimSpace(env.Data); len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return PayloadEnvelope{}, ErrMissingData
	}
	return env, nil
}
