package migrate

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"strconv"

	"github.com/pressly/goose/v3"
	"github.com/pressly/goose/v3/lock"
)

// DefaultDir is where new migrations are written; the binaries run the
// embedded copy.
const DefaultDir = "pkg/migrate/migrations"

//go:embed migrations/*.sql
var embedded embed.FS

// Source returns the migrations compiled into the binary.
func Source() fs.FS {
	sub, err := fs.Sub(embedded, "migrations")
	if err != nil {
		panic(err)
	}
	return sub
}

// NewProvider builds a goose provider for postgres. A session advisory lock
// serializes concurrent runs, so every service may auto-migrate on boot.
func NewProvider(db *sql.DB, fsys fs.FS) (*goose.Provider, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	if fsys == nil {
		fsys = Source()
	}
	locker, err := lock.NewPostgresSessionLocker()
	if err != nil {
		return nil, fmt.Errorf("create migration locker: %w", err)
	}
	provider, err := goose.NewProvider(goose.DialectPostgres, db, fsys, goose.WithSessionLocker(locker))
	if err != nil {
		return nil, fmt.Errorf("create goose provider: %w", err)
	}
	return provider, nil
}

// Up applies every pending migration.
func Up(ctx context.Context, p *goose.Provider) ([]*goose.MigrationResult, error) {
	results, err := p.Up(ctx)
	if err != nil {
		return results, fmt.Errorf("goose up: %w", err)
	}
	return results, nil
}

// Down rolls back the most recent migration.
func Down(ctx context.Context, p *goose.Provider) (*goose.MigrationResult, error) {
	result, err := p.Down(ctx)
	if err != nil {
		return result, fmt.Errorf("goose down: %w", err)
	}
	return result, nil
}

// To moves the schema up or down to target, a YYYYMMDDHHMMSS version.
func To(ctx context.Context, p *goose.Provider, target string) ([]*goose.MigrationResult, error) {
	version, err := strconv.ParseInt(target, 10, 64)
	if err != nil || version < 0 {
		return nil, fmt.Errorf("invalid version %q (expected YYYYMMDDHHMMSS)", target)
	}

	current, err := p.GetDBVersion(ctx)
	if err != nil {
		return nil, fmt.Errorf("get db version: %w", err)
	}

	switch {
	case current == version:
		return nil, nil
	case current < version:
		results, err := p.UpTo(ctx, version)
		if err != nil {
			return results, fmt.Errorf("goose up-to %d: %w", version, err)
		}
		return results, nil
	default:
		results, err := p.DownTo(ctx, version)
		if err != nil {
			return results, fmt.Errorf("goose down-to %d: %w", version, err)
		}
		return results, nil
	}
}
