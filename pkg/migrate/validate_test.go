package migrate

import (
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/require"
)

const okBody = "-- +goose Up\nSELECT 1;\n-- +goose Down\nSELECT 1;\n"

func TestValidateFSRejectsBadMigrations(t *testing.T) {
	cases := map[string]fstest.MapFS{
		"bad name": {"2026_init.sql": {Data: []byte(okBody)}},
		"duplicate version": {
			"20260301090000_a.sql": {Data: []byte(okBody)},
			"20260301090000_b.sql": {Data: []byte(okBody)},
		},
		"missing down":  {"20260301090000_a.sql": {Data: []byte("-- +goose Up\nSELECT 1;\n")}},
		"down first":    {"20260301090000_a.sql": {Data: []byte("-- +goose Down\n-- +goose Up\n")}},
		"no migrations": {"README.md": {Data: []byte("notes")}},
	}
	for name, fsys := range cases {
		t.Run(name, func(t *testing.T) {
			require.Error(t, ValidateFS(fsys))
		})
	}

	require.NoError(t, ValidateFS(fstest.MapFS{"20260301090000_a.sql": {Data: []byte(okBody)}}))
}

func TestLatestVersion(t *testing.T) {
	v, err := latestVersion(fstest.MapFS{
		"20260301090000_a.sql": {Data: []byte(okBody)},
		"20260401090000_b.sql": {Data: []byte(okBody)},
		"notes.txt":            {Data: []byte("x")},
	})
	require.NoError(t, err)
	require.Equal(t, "20260401090000", v)
}

func TestCreateSQLMigration(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 5, 2, 8, 30, 0, 0, time.UTC)

	path, err := CreateSQLMigration(dir, "Add Router  Sessions!", now)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "20260502083000_add_router_sessions.sql"), path)
	require.NoError(t, ValidateDir(dir))

	_, err = CreateSQLMigration(dir, "same second", now)
	require.ErrorContains(t, err, "not after latest")

	_, err = CreateSQLMigration(dir, "!!!", now.Add(time.Hour))
	require.Error(t, err)

	body, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(body), "-- rollback add_router_sessions")
}
