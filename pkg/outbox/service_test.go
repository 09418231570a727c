package outbox_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/ispbox-backend/pkg/db/dbtest"
	"github.com/angelmondragon/ispbox-backend/pkg/db/models"
	"github.com/angelmondragon/ispbox-backend/pkg/enums"
	"github.com/angelmondragon/ispbox-backend/pkg/logger"
	"github.com/angelmondragon/ispbox-backend/pkg/outbox"
	"github.com/angelmondragon/ispbox-backend/pkg/outbox/payloads"
)

func TestEmitWritesEnvelope(t *testing.T) {
	conn := dbtest.Open(t)
	svc := outbox.NewService(outbox.NewRepository(conn), logger.New(logger.Options{ServiceName: "test"}))

	invoiceID := uuid.New()
	err := conn.Transaction(func(tx *gorm.DB) error {
		return svc.Emit(context.Background(), tx, outbox.DomainEvent{
			EventType:     enums.EventInvoiceCancelled,
			AggregateType: enums.AggregateInvoice,
			AggregateID:   invoiceID,
			Version:       1,
			Actor:         &outbox.ActorRef{Operator: "ops@isp"},
			Data:          payloads.InvoiceCancelledEvent{InvoiceID: invoiceID, Reason: "duplicate"},
		})
	})
	require.NoError(t, err)

	var rows []models.OutboxEvent
	require.NoError(t, conn.Find(&rows).Error)
	require.Len(t, rows, 1)

	var envelope outbox.PayloadEnvelope
	require.NoError(t, json.Unmarshal(rows[0].Payload, &envelope))
	require.Equal(t, 1, envelope.Version)
	require.Equal(t, rows[0].ID.String(), envelope.EventID)
	require.Equal(t, "ops@isp", envelope.Actor.Operator)

	var data payloads.InvoiceCancelledEvent
	require.NoError(t, json.Unmarshal(envelope.Data, &data))
	require.Equal(t, "duplicate", data.Reason)
}

func TestEmitIfNotExistsDeduplicates(t *testing.T) {
	conn := dbtest.Open(t)
	svc := outbox.NewService(outbox.NewRepository(conn), nil)
	event := outbox.DomainEvent{
		EventType:     enums.EventVoucherBatchClosed,
		AggregateType: enums.AggregateVoucherBatch,
		AggregateID:   uuid.New(),
		Data:          payloads.VoucherBatchClosedEvent{Status: enums.VoucherBatchSold},
	}

	for i := 0; i < 2; i++ {
		require.NoError(t, conn.Transaction(func(tx *gorm.DB) error {
			return svc.EmitIfNotExists(context.Background(), tx, event)
		}))
	}

	var count int64
	require.NoError(t, conn.Model(&models.OutboxEvent{}).Count(&count).Error)
	require.Equal(t, int64(1), count)
}

func TestEmitRequiresTransaction(t *testing.T) {
	svc := outbox.NewService(outbox.NewRepository(nil), nil)
	require.Error(t, svc.Emit(context.Background(), nil, outbox.DomainEvent{}))
}

func TestEmitRejectsMalformedEvents(t *testing.T) {
	conn := dbtest.Open(t)
	svc := outbox.NewService(outbox.NewRepository(conn), nil)

	bad := []outbox.DomainEvent{
		{EventType: "invoice_exploded", AggregateType: enums.AggregateInvoice, AggregateID: uuid.New()},
		{EventType: enums.EventInvoicePaid, AggregateType: "tenant", AggregateID: uuid.New()},
		{EventType: enums.EventInvoicePaid, AggregateType: enums.AggregateInvoice},
	}
	for _, event := range bad {
		require.Error(t, svc.Emit(context.Background(), conn, event))
	}

	var count int64
	require.NoError(t, conn.Model(&models.OutboxEvent{}).Count(&count).Error)
	require.Zero(t, count)
}

func TestRepositoryPublishLifecycle(t *testing.T) {
	conn := dbtest.Open(t)
	repo := outbox.NewRepository(conn)
	row := models.OutboxEvent{
		EventType:     enums.EventInvoiceGenerated,
		AggregateType: enums.AggregateInvoice,
		AggregateID:   uuid.New(),
		Payload:       json.RawMessage(`{}`),
	}
	require.NoError(t, repo.Insert(conn, row))

	fetched, err := repo.FetchUnpublishedForPublish(conn, 10, 3)
	require.NoError(t, err)
	require.Len(t, fetched, 1)

	require.NoError(t, repo.MarkFailedTx(conn, fetched[0].ID, assertErr("timeout")))
	require.NoError(t, repo.MarkTerminalTx(conn, fetched[0].ID, assertErr("gave up"), 3))

	fetched, err = repo.FetchUnpublishedForPublish(conn, 10, 3)
	require.NoError(t, err)
	require.Empty(t, fetched)
}

type assertErr string

func (e assertErr) Error() string { return string(e) }

func TestPurgeBeforeKeepsPendingRows(t *testing.T) {
	conn := dbtest.Open(t)
	repo := outbox.NewRepository(conn)
	old := time.Now().UTC().Add(-48 * time.Hour)
	published := old.Add(time.Minute)
	rows := []models.OutboxEvent{
		{EventType: enums.EventInvoiceGenerated, AggregateType: enums.AggregateInvoice, AggregateID: uuid.New(), Payload: json.RawMessage(`{}`), CreatedAt: old, PublishedAt: &published},
		{EventType: enums.EventInvoiceGenerated, AggregateType: enums.AggregateInvoice, AggregateID: uuid.New(), Payload: json.RawMessage(`{}`), CreatedAt: old, AttemptCount: 5},
		{EventType: enums.EventInvoiceGenerated, AggregateType: enums.AggregateInvoice, AggregateID: uuid.New(), Payload: json.RawMessage(`{}`), CreatedAt: old},
		{EventType: enums.EventInvoiceGenerated, AggregateType: enums.AggregateInvoice, AggregateID: uuid.New(), Payload: json.RawMessage(`{}`), PublishedAt: &published},
	}
	for _, row := range rows {
		require.NoError(t, repo.Insert(conn, row))
	}

	cutoff := time.Now().UTC().Add(-24 * time.Hour)
	deleted, err := repo.PurgeBefore(context.Background(), nil, cutoff, 5, 1)
	require.NoError(t, err)
	require.Equal(t, int64(1), deleted)

	deleted, err = repo.PurgeBefore(context.Background(), nil, cutoff, 5, 100)
	require.NoError(t, err)
	require.Equal(t, int64(1), deleted)

	var remaining int64
	require.NoError(t, conn.Model(&models.OutboxEvent{}).Count(&remaining).Error)
	require.Equal(t, int64(2), remaining)
}
