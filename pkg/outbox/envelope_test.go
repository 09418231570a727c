package outbox_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/ispbox-backend/pkg/outbox"
)

func TestDecodeEnvelope(t *testing.T) {
	env, err := outbox.DecodeEnvelope([]byte(`{"version":1,"eventId":"e-1","occurredAt":"2026-03-01T09:00:00Z","data":{"amount":5}}`))
	require.NoError(t, err)
	require.Equal(t, "e-1", env.EventID)
	require.JSONEq(t, `{"amount":5}`, string(env.Data))

	_, err = outbox.DecodeEnvelope([]byte(`{"version":1,"data":{}}`))
	require.ErrorIs(t, err, outbox.ErrMissingEventID)

	_, err = outbox.DecodeEnvelope([]byte(`{"eventId":"e-2","data":null}`))
	require.ErrorIs(t, err, outbox.ErrMissingData)

	_, err = outbox.DecodeEnvelope([]byte(`not json`))
	require.Error(t, err)
}

func TestActorAttributes(t *testing.T) {
	var none *outbox.ActorRef
	require.Empty(t, none.Attributes())

	owner := uuid.New()
	attrs := (&outbox.ActorRef{Operator: "ops@isp", OwnerID: &owner}).Attributes()
	require.Equal(t, map[string]string{"operator": "ops@isp", "owner_id": owner.String()}, attrs)
}
