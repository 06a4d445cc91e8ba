package outbox

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CurrentVersion is the envelope version written by Emit when none is set.
const CurrentVersion = 1

// Pub/Sub attribute keys stamped on every published envelope.
const (
	AttrEventID       = "event_id"
	AttrEventType     = "event_type"
	AttrAggregateType = "aggregate_type"
	AttrAggregateID   = "aggregate_id"
	AttrCreatedAt     = "created_at"
	AttrSchemaVersion = "schema_version"
)

// ErrEmptyData marks an envelope whose data field is absent or null.
var ErrEmptyData = errors.New("envelope data is empty")

// ActorRef says which user or component produced the event.
type ActorRef struct {
	UserID   *uuid.UUID `json:"userId,omitempty"`
	Provider string     `json:"provider,omitempty"`
	Source   string     `json:"source,omitempty"`
}

// PayloadEnvelope is the JSON document stored in outbox_events.payload and
// published verbatim as the Pub/Sub message body.
type PayloadEnvelope struct {
	Version    int             `json:"version"`
	EventID    string          `json:"eventId"`
	OccurredAt time.Time       `json:"occurredAt"`
	Actor      *ActorRef       `json:"actor,omitempty"`
	Data       json.RawMessage `json:"data"`
}

// DecodeEnvelope parses a stored envelope. Envelopes written by a newer
// release and envelopes without data are rejected.
func DecodeEnvelope(raw []byte) (PayloadEnvelope, error) {
	var envelope PayloadEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return envelope, fmt.Errorf("decode envelope: %w", err)
	}
	if envelope.Version > CurrentVersion {
		return envelope, fmt.Errorf("envelope version %d is newer than %d", envelope.Version, CurrentVersion)
	}
	trimmed := bytes.TrimSpace(envelope.Data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return envelope, ErrEmptyData
	}
	return envelope, nil
}
