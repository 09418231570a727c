package instance

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIDPrefersExplicitInstance(t *testing.T) {
	t.Setenv("DYNO", "web.1")
	t.Setenv("ISPBOX_INSTANCE_ID", "api-jkt-2")
	require.Equal(t, "api-jkt-2", ID())
}

func TestIDFallsBackToDyno(t *testing.T) {
	t.Setenv("ISPBOX_INSTANCE_ID", "")
	t.Setenv("DYNO", "worker.3")
	require.Equal(t, "worker.3", ID())
}

func TestIDNeverEmpty(t *testing.T) {
	t.Setenv("ISPBOX_INSTANCE_ID", "")
	t.Setenv("DYNO", "")
	require.NotEmpty(t, ID())
}
