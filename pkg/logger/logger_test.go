package logger

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/angelmondragon/ispbox-backend/pkg/errors"
)

func TestErrorKeepsContextFieldsAndStack(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{ServiceName: "api", Output: buf, Static: map[string]any{"instance": "web.1"}})

	ctx := log.WithRequestID(context.Background(), "req-123")
	log.Error(ctx, "post failed", errors.New("connection reset"))

	out := buf.String()
	require.Contains(t, out, `"request_id":"req-123"`)
	require.Contains(t, out, `"instance":"web.1"`)
	require.Contains(t, out, `"stack"`)
}

func TestErrorOmitsStackForDomainCodes(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{ServiceName: "api", Output: buf})

	log.Error(context.Background(), "debit rejected", pkgerrors.New(pkgerrors.CodeInsufficientBalance, "balance 0"))

	require.Contains(t, buf.String(), `"error_code":"INSUFFICIENT_BALANCE"`)
	require.NotContains(t, buf.String(), `"stack"`)
}

func TestWithOwnerAndJobFields(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{ServiceName: "cron-worker", Output: buf})

	ctx := log.WithOwner(context.Background(), "customer", "c-1")
	ctx = log.WithJob(ctx, "usage-cycle-reset")
	log.Info(ctx, "cycle reset")

	for _, want := range []string{`"owner_kind":"customer"`, `"owner_id":"c-1"`, `"job":"usage-cycle-reset"`} {
		require.Contains(t, buf.String(), want)
	}
}

func TestWarnStackToggle(t *testing.T) {
	buf := &bytes.Buffer{}
	New(Options{ServiceName: "api", Output: buf, WarnStack: true}).Warn(context.Background(), "slow push")
	require.Contains(t, buf.String(), `"stack"`)
}

func TestLevelsAndFormat(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{ServiceName: "api", Level: zerolog.InfoLevel, Output: buf})
	log.Debug(context.Background(), "hidden")
	require.Zero(t, buf.Len())

	console := New(Options{ServiceName: "api", Format: "console", Output: buf})
	console.Info(context.Background(), "human readable")
	require.NotContains(t, buf.String(), `{"level"`)
	require.Contains(t, buf.String(), "human readable")

	require.Equal(t, zerolog.InfoLevel, ParseLevel(""))
	require.Equal(t, zerolog.InfoLevel, ParseLevel("invalid"))
	require.Equal(t, zerolog.WarnLevel, ParseLevel(" WARN "))
}
