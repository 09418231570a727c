package registry

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/ispbox-backend/pkg/config"
	"github.com/angelmondragon/ispbox-backend/pkg/db/models"
	"github.com/angelmondragon/ispbox-backend/pkg/enums"
	"github.com/angelmondragon/ispbox-backend/pkg/outbox"
	"github.com/angelmondragon/ispbox-backend/pkg/outbox/payloads"
)

func TestResolveInvoicePaid(t *testing.T) {
	reg := testRegistry(t)
	invoiceID := uuid.New()

	resolved, err := reg.Resolve(models.OutboxEvent{
		EventType:     enums.EventInvoicePaid,
		AggregateType: enums.AggregateInvoice,
		AggregateID:   invoiceID,
		Payload: envelopeFor(t, payloads.InvoicePaidEvent{
			InvoiceID: invoiceID,
			OwnerKind: enums.OwnerKindCustomer,
			OwnerID:   uuid.New(),
			Amount:    150007,
		}),
	})
	require.NoError(t, err)
	require.Equal(t, "billing-topic", resolved.Descriptor.Topic)
	require.Equal(t, enums.EventInvoicePaid, resolved.Descriptor.EventType)

	payload, ok := resolved.Payload.(*payloads.InvoicePaidEvent)
	require.True(t, ok, "payload type %T", resolved.Payload)
	require.Equal(t, invoiceID, payload.InvoiceID)
	require.EqualValues(t, 150007, payload.Amount)
	require.NotEmpty(t, resolved.Envelope.EventID)
	require.False(t, resolved.Envelope.OccurredAt.IsZero())
}

func TestResolvePolicyPushRoutesToNetworkTopic(t *testing.T) {
	pushID := uuid.New()
	resolved, err := testRegistry(t).Resolve(models.OutboxEvent{
		EventType:     enums.EventPolicyPushFailed,
		AggregateType: enums.AggregatePolicyPush,
		AggregateID:   pushID,
		Payload: envelopeFor(t, payloads.PolicyPushFailedEvent{
			PushID:   pushID,
			Profile:  "fup-1M",
			Attempts: 5,
		}),
	})
	require.NoError(t, err)
	require.Equal(t, "network-topic", resolved.Descriptor.Topic)
}

func TestResolveRejectsBadRows(t *testing.T) {
	reg := testRegistry(t)

	cases := []struct {
		name       string
		event      models.OutboxEvent
		unroutable bool
	}{
		{
			name: "unknown event type",
			event: models.OutboxEvent{
				EventType:     enums.OutboxEventType("invoice_exploded"),
				AggregateType: enums.AggregateInvoice,
				AggregateID:   uuid.New(),
				Payload:       rawEnvelope(t, []byte(`{"reason":"none"}`)),
			},
			unroutable: true,
		},
		{
			name: "aggregate mismatch",
			event: models.OutboxEvent{
				EventType:     enums.EventPolicyPushFailed,
				AggregateType: enums.AggregateInvoice,
				AggregateID:   uuid.New(),
				Payload:       rawEnvelope(t, []byte(`{"push_id":"00000000-0000-0000-0000-000000000000"}`)),
			},
		},
		{
			name: "missing aggregate id",
			event: models.OutboxEvent{
				EventType:     enums.EventPaymentUnmatched,
				AggregateType: enums.AggregatePaymentNotification,
				Payload:       rawEnvelope(t, []byte(`{}`)),
			},
		},
		{
			name: "null data",
			event: models.OutboxEvent{
				EventType:     enums.EventPaymentUnmatched,
				AggregateType: enums.AggregatePaymentNotification,
				AggregateID:   uuid.New(),
				Payload:       rawEnvelope(t, []byte("null")),
			},
		},
		{
			name: "payload is not an envelope",
			event: models.OutboxEvent{
				EventType:     enums.EventPaymentUnmatched,
				AggregateType: enums.AggregatePaymentNotification,
				AggregateID:   uuid.New(),
				Payload:       json.RawMessage(`[1,2,3]`),
			},
		},
		{
			name: "payload shape mismatch",
			event: models.OutboxEvent{
				EventType:     enums.EventInvoicePaid,
				AggregateType: enums.AggregateInvoice,
				AggregateID:   uuid.New(),
				Payload:       rawEnvelope(t, []byte(`{"amount":"lots"}`)),
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := reg.Resolve(tc.event)
			require.Error(t, err)

			var nonRetry NonRetryableError
			require.True(t, errors.As(err, &nonRetry), "expected non-retryable, got %T", err)
			require.Equal(t, tc.unroutable, errors.Is(err, ErrUnroutable))
		})
	}
}

func TestResolveReportsEmptyEnvelopeData(t *testing.T) {
	_, err := testRegistry(t).Resolve(models.OutboxEvent{
		EventType:     enums.EventPaymentUnmatched,
		AggregateType: enums.AggregatePaymentNotification,
		AggregateID:   uuid.New(),
		Payload:       rawEnvelope(t, nil),
	})
	require.ErrorIs(t, err, outbox.ErrMissingData)
}

func TestEveryEventTypeHasARoute(t *testing.T) {
	reg := testRegistry(t)
	for _, et := range enums.OutboxEventTypes() {
		desc, ok := reg.entries[et]
		require.True(t, ok, "no descriptor for %s", et)
		require.NotNil(t, desc.PayloadFactory(), "no payload factory for %s", et)
	}
}

func TestNewEventRegistryRequiresTopics(t *testing.T) {
	_, err := NewEventRegistry(config.PubSubConfig{BillingTopic: "b"})
	require.Error(t, err)
}

func TestEventRegistryTopicsAreDistinct(t *testing.T) {
	require.Equal(t, []string{"billing-topic", "network-topic"}, testRegistry(t).Topics())
}

func testRegistry(t *testing.T) *EventRegistry {
	t.Helper()
	reg, err := NewEventRegistry(config.PubSubConfig{
		BillingTopic: "billing-topic",
		NetworkTopic: "network-topic",
	})
	require.NoError(t, err)
	return reg
}

func envelopeFor(t *testing.T, payload any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	return rawEnvelope(t, data)
}

func rawEnvelope(t *testing.T, data []byte) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(outbox.PayloadEnvelope{
		Version:    1,
		EventID:    uuid.NewString(),
		OccurredAt: time.Now().UTC(),
		Data:       data,
	})
	require.NoError(t, err)
	return raw
}
