package migrate_test

import (
	"strings"
	"testing"

	"github.com/angelmondragon/ispbox-backend/pkg/migrate"
)

func TestInvoiceMigrationGuardsUnpaidCodes(t *testing.T) {
	content := readMigration(t, "*_create_invoices.sql")

	checks := []string{
		"CHECK (unique_code BETWEEN 1 AND 999)",
		"CHECK (amount = subtotal + tax + unique_code)",
		"ON invoices (owner_kind, owner_id, unique_code) WHERE status = 'unpaid'",
		"ON invoices (owner_kind, owner_id, period_start) WHERE status <> 'cancelled'",
		"CHECK (line_total = unit_price * qty)",
	}

	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func TestMigrationsValidate(t *testing.T) {
	if err := migrate.ValidateDir("migrations"); err != nil {
		t.Fatalf("validate migrations on disk: %v", err)
	}
	if err := migrate.ValidateFS(migrate.Source()); err != nil {
		t.Fatalf("validate embedded migrations: %v", err)
	}
}
