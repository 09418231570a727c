package models

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/ispbox-backend/pkg/enums"
)

func TestOutboxDeadLetterRoundTripsIdentity(t *testing.T) {
	event := OutboxEvent{
		ID:            uuid.New(),
		EventType:     enums.EventInvoicePaid,
		AggregateType: enums.AggregateInvoice,
		AggregateID:   uuid.New(),
		Payload:       json.RawMessage(`{"eventId":"x","data":{}}`),
		AttemptCount:  7,
	}
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	entry := event.DeadLetter(enums.OutboxDLQReasonMaxAttempts, errors.New("deadline exceeded"), at)
	require.Equal(t, event.ID, entry.EventID)
	require.Equal(t, 7, entry.AttemptCount)
	require.Equal(t, at, entry.FailedAt)
	require.NotNil(t, entry.ErrorMessage)
	require.Equal(t, "deadline exceeded", *entry.ErrorMessage)

	restored := entry.Event()
	require.Equal(t, event.ID, restored.ID)
	require.Equal(t, event.Payload, restored.Payload)
	require.Zero(t, restored.AttemptCount)
	require.Nil(t, restored.PublishedAt)

	require.Nil(t, event.DeadLetter(enums.OutboxDLQReasonNonRetryable, nil, at).ErrorMessage)
}
