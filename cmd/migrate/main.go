package main

import (
	"context"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"
	"github.com/pressly/goose/v3"

	"github.com/angelmondragon/ispbox-backend/internal/bootstrap"
	"github.com/angelmondragon/ispbox-backend/pkg/config"
	"github.com/angelmondragon/ispbox-backend/pkg/db"
	"github.com/angelmondragon/ispbox-backend/pkg/db/models"
	"github.com/angelmondragon/ispbox-backend/pkg/logger"
	"github.com/angelmondragon/ispbox-backend/pkg/migrate"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "migrate", Format: "console"})

	_ = godotenv.Load()

	cmd := flag.String("cmd", "up", "migration command: up|down|status|version|create|validate")
	dir := flag.String("dir", "", "migrations directory; empty uses the embedded set (create/validate default to "+migrate.DefaultDir+")")
	name := flag.String("name", "", "migration name (for create)")
	version := flag.String("version", "", "target version (YYYYMMDDHHMMSS) for -cmd=version")
	flag.Parse()

	// create and validate work on the source tree and need no config
	switch *cmd {
	case "create":
		if *name == "" {
			exit("missing -name for create")
		}
		path, err := migrate.CreateSQLMigration(orDefault(*dir), *name, time.Now())
		if err != nil {
			exit("failed to create migration: %v", err)
		}
		fmt.Println("created migration:", path)
		return
	case "validate":
		if err := migrate.ValidateDir(orDefault(*dir)); err != nil {
			exit("migration validation failed: %v", err)
		}
		fmt.Println("migration validation passed")
		return
	}

	cfg, err := config.Load()
	requireResource(logg, "config", err)

	logg = bootstrap.NewLogger("migrate", cfg)
	ctx := logg.WithField(context.Background(), "cmd", *cmd)

	dbClient, err := db.New(ctx, cfg.DB, logg)
	requireResource(logg, "database", err)
	defer dbClient.Close()

	if !dbClient.IsPostgres() {
		// goose scripts use postgres DDL; sqlite only supports a schema sync
		if *cmd != "up" {
			exit("-cmd=%s is not supported on sqlite", *cmd)
		}
		if err := dbClient.DB().WithContext(ctx).AutoMigrate(models.All()...); err != nil {
			exit("sqlite auto-migrate failed: %v", err)
		}
		logg.Info(ctx, "sqlite schema synced")
		return
	}

	sqlDB, err := dbClient.DB().DB()
	requireResource(logg, "sql database", err)

	var source fs.FS = migrate.Source()
	if *dir != "" {
		source = os.DirFS(*dir)
	}
	provider, err := migrate.NewProvider(sqlDB, source)
	requireResource(logg, "goose provider", err)

	switch *cmd {
	case "up":
		results, err := migrate.Up(ctx, provider)
		printResults(results)
		if err != nil {
			exit("%v", err)
		}
	case "down":
		result, err := migrate.Down(ctx, provider)
		if result != nil {
			printResults([]*goose.MigrationResult{result})
		}
		if err != nil {
			exit("%v", err)
		}
	case "status":
		statuses, err := provider.Status(ctx)
		if err != nil {
			exit("goose status failed: %v", err)
		}
		printStatus(statuses)
	case "version":
		if *version == "" {
			exit("missing -version for version command")
		}
		results, err := migrate.To(ctx, provider, *version)
		printResults(results)
		if err != nil {
			exit("%v", err)
		}
	default:
		exit("unknown -cmd value: %s", *cmd)
	}
}

func orDefault(dir string) string {
	if dir == "" {
		return migrate.DefaultDir
	}
	return dir
}

func printResults(results []*goose.MigrationResult) {
	if len(results) == 0 {
		fmt.Println("no migrations to apply")
		return
	}
	for _, r := range results {
		fmt.Println(r.String())
	}
}

func printStatus(statuses []*goose.MigrationStatus) {
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "VERSION\tSTATE\tAPPLIED AT\tFILE")
	for _, s := range statuses {
		applied := "-"
		if !s.AppliedAt.IsZero() {
			applied = s.AppliedAt.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", s.Source.Version, s.State, applied, s.Source.Path)
	}
	_ = tw.Flush()
}

func exit(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func requireResource(logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(context.Background(), "resource not working: "+resource, err)
	os.Exit(1)
}
