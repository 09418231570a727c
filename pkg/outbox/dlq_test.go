package outbox_test

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/ispbox-backend/pkg/db/dbtest"
	"github.com/angelmondragon/ispbox-backend/pkg/db/models"
	"github.com/angelmondragon/ispbox-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/ispbox-backend/pkg/errors"
	"github.com/angelmondragon/ispbox-backend/pkg/outbox"
	"github.com/angelmondragon/ispbox-backend/pkg/pagination"
)

func TestReplayRequeuesTerminalEvent(t *testing.T) {
	client := dbtest.Client(t)
	conn := client.DB()
	events := outbox.NewRepository(conn)
	dlq := outbox.NewDLQRepository(conn)
	svc := outbox.NewDLQService(client, events, dlq, nil)

	row := models.OutboxEvent{
		EventType:     enums.EventInvoiceGenerated,
		AggregateType: enums.AggregateInvoice,
		AggregateID:   uuid.New(),
		Payload:       json.RawMessage(`{"version":1}`),
	}
	require.NoError(t, conn.Create(&row).Error)
	require.NoError(t, events.MarkTerminalTx(conn, row.ID, assertErr("topic missing"), 5))
	msg := "topic missing"
	require.NoError(t, dlq.InsertTx(conn, models.OutboxDLQ{
		EventID:       row.ID,
		EventType:     row.EventType,
		AggregateType: row.AggregateType,
		AggregateID:   row.AggregateID,
		Payload:       row.Payload,
		ErrorReason:   enums.OutboxDLQReasonNonRetryable,
		ErrorMessage:  &msg,
		AttemptCount:  5,
	}))

	replayed, err := svc.Replay(context.Background(), row.ID, "noc@isp")
	require.NoError(t, err)
	require.Equal(t, row.ID, replayed.EventID)

	fetched, err := events.FetchUnpublishedForPublish(conn, 10, 5)
	require.NoError(t, err)
	require.Len(t, fetched, 1)
	require.Zero(t, fetched[0].AttemptCount)
	require.Nil(t, fetched[0].LastError)

	_, err = svc.Replay(context.Background(), row.ID, "noc@isp")
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeNotFound), "second replay finds no dead letter")
}

func TestReplayRestoresPurgedEvent(t *testing.T) {
	client := dbtest.Client(t)
	conn := client.DB()
	events := outbox.NewRepository(conn)
	dlq := outbox.NewDLQRepository(conn)
	svc := outbox.NewDLQService(client, events, dlq, nil)

	eventID := uuid.New()
	require.NoError(t, dlq.InsertTx(conn, models.OutboxDLQ{
		EventID:       eventID,
		EventType:     enums.EventInvoiceGenerated,
		AggregateType: enums.AggregateInvoice,
		AggregateID:   uuid.New(),
		Payload:       json.RawMessage(`{"version":1}`),
		ErrorReason:   enums.OutboxDLQReasonMaxAttempts,
	}))

	_, err := svc.Replay(context.Background(), eventID, "noc@isp")
	require.NoError(t, err)

	var restored models.OutboxEvent
	require.NoError(t, conn.First(&restored, "id = ?", eventID).Error)
	require.Equal(t, enums.EventInvoiceGenerated, restored.EventType)
}

func TestReplayRequiresOperator(t *testing.T) {
	client := dbtest.Client(t)
	svc := outbox.NewDLQService(client, outbox.NewRepository(client.DB()), outbox.NewDLQRepository(client.DB()), nil)

	_, err := svc.Replay(context.Background(), uuid.New(), " ")
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation))
}

func TestDLQListPagesNewestFirst(t *testing.T) {
	client := dbtest.Client(t)
	conn := client.DB()
	dlq := outbox.NewDLQRepository(conn)
	svc := outbox.NewDLQService(client, outbox.NewRepository(conn), dlq, nil)

	base := time.Now().UTC().Add(-time.Hour)
	var ids []uuid.UUID
	for i := range 3 {
		entry := models.OutboxDLQ{
			EventID:       uuid.New(),
			EventType:     enums.EventInvoiceGenerated,
			AggregateType: enums.AggregateInvoice,
			AggregateID:   uuid.New(),
			Payload:       json.RawMessage(`{}`),
			ErrorReason:   enums.OutboxDLQReasonMaxAttempts,
			CreatedAt:     base.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, dlq.InsertTx(conn, entry))
		ids = append(ids, entry.EventID)
	}

	page, err := svc.List(context.Background(), pagination.Params{Limit: 2})
	require.NoError(t, err)
	require.Len(t, page.Entries, 2)
	require.Equal(t, ids[2], page.Entries[0].EventID)
	require.NotEmpty(t, page.NextCursor)

	page, err = svc.List(context.Background(), pagination.Params{Limit: 2, Cursor: page.NextCursor})
	require.NoError(t, err)
	require.Len(t, page.Entries, 1)
	require.Equal(t, ids[0], page.Entries[0].EventID)
	require.Empty(t, page.NextCursor)
}

func TestDLQInsertTruncatesLongErrors(t *testing.T) {
	conn := dbtest.Open(t)
	dlq := outbox.NewDLQRepository(conn)
	msg := strings.Repeat("é", 600)
	entry := models.OutboxDLQ{
		EventID:       uuid.New(),
		EventType:     enums.EventInvoiceGenerated,
		AggregateType: enums.AggregateInvoice,
		AggregateID:   uuid.New(),
		Payload:       json.RawMessage(`{}`),
		ErrorReason:   enums.OutboxDLQReasonNonRetryable,
		ErrorMessage:  &msg,
	}
	require.NoError(t, dlq.InsertTx(conn, entry))

	var stored models.OutboxDLQ
	require.NoError(t, conn.First(&stored, "event_id = ?", entry.EventID).Error)
	require.LessOrEqual(t, len(*stored.ErrorMessage), 1024)
	require.True(t, strings.HasSuffix(*stored.ErrorMessage, "é"))
}
