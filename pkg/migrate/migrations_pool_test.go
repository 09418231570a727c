package migrate_test

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/ispbox-backend/pkg/migrate"
)

func readMigration(t *testing.T, pattern string) string {
	t.Helper()
	matches, err := fs.Glob(migrate.Source(), pattern)
	require.NoError(t, err)
	require.NotEmpty(t, matches, "no migration file matches %s", pattern)
	data, err := fs.ReadFile(migrate.Source(), matches[0])
	require.NoError(t, err)
	return string(data)
}

func TestResourcePoolMigrationContainsConstraints(t *testing.T) {
	content := readMigration(t, "*_create_resource_pools.sql")

	checks := []string{
		"CREATE TABLE IF NOT EXISTS resource_tokens",
		"CREATE UNIQUE INDEX IF NOT EXISTS ux_resource_tokens_pool_value ON resource_tokens (pool_id, value)",
		"ON resource_tokens (pool_id, exclusive_key) WHERE exclusive_key IS NOT NULL",
		"CHECK (total_value = quantity * unit_price)",
		"DROP TABLE IF EXISTS resource_tokens",
	}

	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func TestLedgerMigrationIsAppendOnly(t *testing.T) {
	content := readMigration(t, "*_create_accounts.sql")

	checks := []string{
		"CREATE UNIQUE INDEX IF NOT EXISTS ux_ledger_entries_owner_seq ON ledger_entries (owner_kind, owner_id, seq)",
		"CHECK (amount > 0)",
		"BEFORE UPDATE OR DELETE ON ledger_entries",
	}

	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}
