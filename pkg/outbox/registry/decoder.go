package registry

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/angelmondragon/paycore/pkg/enums"
	"github.com/angelmondragon/paycore/pkg/outbox/payloads"
)

// ErrNoDecoder is returned for an event type and version nobody registered.
var ErrNoDecoder = errors.New("no decoder registered")

// Decoder turns an envelope's data field into its typed payload.
type Decoder func(payload json.RawMessage) (any, error)

// JSON decodes into a fresh *T.
func JSON[T any]() Decoder {
	return func(payload json.RawMessage) (any, error) {
		target := new(T)
		if err := json.Unmarshal(payload, target); err != nil {
			return nil, err
		}
		return target, nil
	}
}

// v1Payloads is the payload type of every event at envelope version 1. The
// publisher and the analytics decoders both read from it.
var v1Payloads = map[enums.OutboxEventType]Decoder{
	enums.EventPaymentCaptured:       JSON[payloads.PaymentCapturedEvent](),
	enums.EventPaymentFailed:         JSON[payloads.PaymentFailedEvent](),
	enums.EventPaymentRefunded:       JSON[payloads.PaymentRefundedEvent](),
	enums.EventSubscriptionCancelled: JSON[payloads.SubscriptionCancelledEvent](),
}

type decoderKey struct {
	eventType enums.OutboxEventType
	version   int
}

// DecoderRegistry maps (event type, envelope version) to a decoder. It is
// filled at startup and read-only afterwards.
type DecoderRegistry struct {
	decoders map[decoderKey]Decoder
}

func NewDecoderRegistry() *DecoderRegistry {
	return &DecoderRegistry{decoders: make(map[decoderKey]Decoder)}
}

// Register adds a decoder. Registering the same type and version twice is an
// error.
func (r *DecoderRegistry) Register(eventType enums.OutboxEventType, version int, decoder Decoder) error {
	if decoder == nil {
		return fmt.Errorf("nil decoder for %s@v%d", eventType, version)
	}
	if version < 1 {
		return fmt.Errorf("invalid version %d for %s", version, eventType)
	}
	key := decoderKey{eventType: eventType, version: version}
	if _, dup := r.decoders[key]; dup {
		return fmt.Errorf("decoder for %s@v%d already registered", eventType, version)
	}
	r.decoders[key] = decoder
	return nil
}

func (r *DecoderRegistry) Decode(eventType enums.OutboxEventType, version int, payload json.RawMessage) (any, error) {
	decoder, ok := r.decoders[decoderKey{eventType: eventType, version: version}]
	if !ok {
		return nil, fmt.Errorf("%w for %s@v%d", ErrNoDecoder, eventType, version)
	}
	return decoder(payload)
}

// NewPaymentDecoders returns a registry holding the v1 payment payloads.
func NewPaymentDecoders() *DecoderRegistry {
	reg := NewDecoderRegistry()
	for eventType, decoder := range v1Payloads {
		// keys are unique and versions fixed, so Register cannot fail here
		_ = reg.Register(eventType, 1, decoder)
	}
	return reg
}
