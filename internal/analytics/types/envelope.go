package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/angelmondragon/paycore/pkg/enums"
	"github.com/angelmondragon/paycore/pkg/outbox"
)

// Envelope is a payment event as delivered on the analytics subscription.
type Envelope struct {
	EventID       string                    `json:"event_id"`
	EventType     enums.OutboxEventType     `json:"event_type"`
	Version       int                       `json:"version"`
	AggregateType enums.OutboxAggregateType `json:"aggregate_type"`
	AggregateID   string                    `json:"aggregate_id"`
	OccurredAt    time.Time                 `json:"occurred_at"`
	Payload       json.RawMessage           `json:"payload"`
}

// FromMessage rebuilds an Envelope from a published message body and its
// attributes. Routing metadata comes from attributes; identity and timing
// prefer the body and fall back to attributes for older publishers.
func FromMessage(data []byte, attrs map[string]string) (Envelope, error) {
	stored, err := outbox.DecodeEnvelope(data)
	if err != nil {
		return Envelope{}, err
	}
	attr := func(key string) string { return strings.TrimSpace(attrs[key]) }

	env := Envelope{
		EventID:     firstNonBlank(stored.EventID, attr(outbox.AttrEventID)),
		Version:     max(stored.Version, 1),
		AggregateID: attr(outbox.AttrAggregateID),
		OccurredAt:  stored.OccurredAt,
		Payload:     stored.Data,
	}
	if env.EventType, err = enums.ParseOutboxEventType(attr(outbox.AttrEventType)); err != nil {
		return Envelope{}, fmt.Errorf("event_type: %w", err)
	}
	if env.AggregateType, err = enums.ParseOutboxAggregateType(attr(outbox.AttrAggregateType)); err != nil {
		return Envelope{}, fmt.Errorf("aggregate_type: %w", err)
	}
	switch {
	case env.AggregateID == "":
		return Envelope{}, errors.New("aggregate_id missing")
	case env.EventID == "":
		return Envelope{}, errors.New("event_id missing")
	}
	if env.OccurredAt.IsZero() {
		if created, err := time.Parse(time.RFC3339Nano, attr(outbox.AttrCreatedAt)); err == nil {
			env.OccurredAt = created
		}
	}
	env.OccurredAt = env.OccurredAt.UTC()
	return env, nil
}

func firstNonBlank(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
