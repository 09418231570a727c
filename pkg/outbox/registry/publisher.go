package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/angelmondragon/ispbox-backend/pkg/config"
	"github.com/angelmondragon/ispbox-backend/pkg/db/models"
	"github.com/angelmondragon/ispbox-backend/pkg/enums"
	"github.com/angelmondragon/ispbox-backend/pkg/outbox"
	"github.com/angelmondragon/ispbox-backend/pkg/outbox/payloads"
)

// EventDescriptor links an event type to its aggregate/topic/payload schema.
type EventDescriptor struct {
	EventType      enums.OutboxEventType
	AggregateType  enums.OutboxAggregateType
	Topic          string
	PayloadFactory func() interface{}
}

// ResolvedEvent is the result of decoding an outbox row.
type ResolvedEvent struct {
	Descriptor EventDescriptor
	Envelope   outbox.PayloadEnvelope
	Payload    interface{}
}

// EventRegistry maps each supported event type to its descriptor.
type EventRegistry struct {
	entries map[enums.OutboxEventType]EventDescriptor
}

// ErrUnroutable marks events with no topic to publish to.
var ErrUnroutable = errors.New("event has no route")

// NonRetryableError signals the dispatcher should stop retrying a row.
type NonRetryableError struct {
	Err error
}

// Error implements error.
func (e NonRetryableError) Error() string {
	if e.Err == nil {
		return "non-retryable error"
	}
	return e.Err.Error()
}

// Unwrap exposes the wrapped error.
func (e NonRetryableError) Unwrap() error {
	return e.Err
}

// NewEventRegistry builds the registry with the configured topic names.
// Money events go to the billing topic, network events to the network topic.
func NewEventRegistry(cfg config.PubSubConfig) (*EventRegistry, error) {
	if cfg.BillingTopic == "" {
		return nil, fmt.Errorf("billing topic is required")
	}
	if cfg.NetworkTopic == "" {
		return nil, fmt.Errorf("network topic is required")
	}

	reg := &EventRegistry{entries: make(map[enums.OutboxEventType]EventDescriptor)}
	billingTopic := cfg.BillingTopic
	networkTopic := cfg.NetworkTopic

	for _, desc := range []EventDescriptor{
		{
			EventType:      enums.EventInvoiceGenerated,
			AggregateType:  enums.AggregateInvoice,
			Topic:          billingTopic,
			PayloadFactory: func() interface{} { return &payloads.InvoiceGeneratedEvent{} },
		},
		{
			EventType:      enums.EventInvoiceCharged,
			AggregateType:  enums.AggregateInvoice,
			Topic:          billingTopic,
			PayloadFactory: func() interface{} { return &payloads.InvoiceChargedEvent{} },
		},
		{
			EventType:      enums.EventInvoicePaid,
			AggregateType:  enums.AggregateInvoice,
			Topic:          billingTopic,
			PayloadFactory: func() interface{} { return &payloads.InvoicePaidEvent{} },
		},
		{
			EventType:      enums.EventInvoiceCancelled,
			AggregateType:  enums.AggregateInvoice,
			Topic:          billingTopic,
			PayloadFactory: func() interface{} { return &payloads.InvoiceCancelledEvent{} },
		},
		{
			EventType:      enums.EventPaymentUnmatched,
			AggregateType:  enums.AggregatePaymentNotification,
			Topic:          billingTopic,
			PayloadFactory: func() interface{} { return &payloads.PaymentUnmatchedEvent{} },
		},
		{
			EventType:      enums.EventLedgerReversed,
			AggregateType:  enums.AggregateLedgerEntry,
			Topic:          billingTopic,
			PayloadFactory: func() interface{} { return &payloads.LedgerReversedEvent{} },
		},
		{
			EventType:      enums.EventVoucherSold,
			AggregateType:  enums.AggregateVoucherBatch,
			Topic:          billingTopic,
			PayloadFactory: func() interface{} { return &payloads.VoucherSoldEvent{} },
		},
		{
			EventType:      enums.EventVoucherBatchClosed,
			AggregateType:  enums.AggregateVoucherBatch,
			Topic:          billingTopic,
			PayloadFactory: func() interface{} { return &payloads.VoucherBatchClosedEvent{} },
		},
	} {
		reg.register(desc)
	}
	for _, desc := range []EventDescriptor{
		{
			EventType:      enums.EventPolicyPushFailed,
			AggregateType:  enums.AggregatePolicyPush,
			Topic:          networkTopic,
			PayloadFactory: func() interface{} { return &payloads.PolicyPushFailedEvent{} },
		},
		{
			EventType:      enums.EventReservationExpired,
			AggregateType:  enums.AggregateResourceToken,
			Topic:          networkTopic,
			PayloadFactory: func() interface{} { return &payloads.ReservationExpiredEvent{} },
		},
	} {
		reg.register(desc)
	}

	return reg, nil
}

func (r *EventRegistry) register(desc EventDescriptor) {
	if desc.PayloadFactory == nil {
		return
	}
	r.entries[desc.EventType] = desc
}

// Topics lists the distinct topics events are routed to, sorted.
func (r *EventRegistry) Topics() []string {
	topics := lo.Uniq(lo.MapToSlice(r.entries, func(_ enums.OutboxEventType, d EventDescriptor) string { return d.Topic }))
	slices.Sort(topics)
	return topics
}

// Resolve validates the row and decodes its typed payload.
func (r *EventRegistry) Resolve(event models.OutboxEvent) (*ResolvedEvent, error) {
	desc, ok := r.entries[event.EventType]
	if !ok {
		return nil, NewNonRetryableError(fmt.Errorf("%w: unsupported event type %s", ErrUnroutable, event.EventType))
	}
	if desc.AggregateType != event.AggregateType {
		return nil, NewNonRetryableError(fmt.Errorf("aggregate mismatch: expected %s got %s", desc.AggregateType, event.AggregateType))
	}
	if event.AggregateID == uuid.Nil {
		return nil, NewNonRetryableError(fmt.Errorf("missing aggregate_id"))
	}

	envelope, err := outbox.DecodeEnvelope(event.Payload)
	if err != nil {
		return nil, NewNonRetryableError(fmt.Errorf("%s: %w", event.EventType, err))
	}

	payload := desc.PayloadFactory()
	if payload == nil {
		return nil, NewNonRetryableError(fmt.Errorf("payload factory not configured for %s", event.EventType))
	}
	if err := json.Unmarshal(envelope.Data, payload); err != nil {
		return nil, NewNonRetryableError(fmt.Errorf("decode %s payload: %w", event.EventType, err))
	}

	return &ResolvedEvent{
		Descriptor: desc,
		Envelope:   envelope,
		Payload:    payload,
	}, nil
}

// NewNonRetryableError wraps an error to signal no retries.
func NewNonRetryableError(err error) NonRetryableError {
	return NonRetryableError{Err: err}
}
