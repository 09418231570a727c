package db

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/angelmondragon/ispbox-backend/pkg/config"
	"github.com/angelmondragon/ispbox-backend/pkg/logger"
)

type plan struct {
	ID   int
	Name string `gorm:"uniqueIndex"`
}

func openSQLite(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	conn, err := gorm.Open(sqlite.Open("file:"+name+"?mode=memory&cache=shared"), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 gormlogger.Discard,
	})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&plan{}))
	return conn
}

func countPlans(t *testing.T, conn *gorm.DB) int64 {
	t.Helper()
	var n int64
	require.NoError(t, conn.Model(&plan{}).Count(&n).Error)
	return n
}

func TestWithTxCommitsAndRollsBack(t *testing.T) {
	conn := openSQLite(t)
	client := FromGorm(conn)
	ctx := context.Background()

	require.NoError(t, client.WithTx(ctx, func(tx *gorm.DB) error {
		return tx.Create(&plan{Name: "home-10m"}).Error
	}))
	require.EqualValues(t, 1, countPlans(t, conn))

	err := client.WithTx(ctx, func(tx *gorm.DB) error {
		if err := tx.Create(&plan{Name: "home-50m"}).Error; err != nil {
			return err
		}
		return errors.New("boom")
	})
	require.EqualError(t, err, "boom")
	require.EqualValues(t, 1, countPlans(t, conn))
}

func TestWithTxRollsBackOnPanic(t *testing.T) {
	conn := openSQLite(t)
	client := FromGorm(conn)

	require.Panics(t, func() {
		_ = client.WithTx(context.Background(), func(tx *gorm.DB) error {
			require.NoError(t, tx.Create(&plan{Name: "biz-100m"}).Error)
			panic("router exploded")
		})
	})
	require.Zero(t, countPlans(t, conn))
}

func TestIsUniqueViolationSQLite(t *testing.T) {
	conn := openSQLite(t)
	require.NoError(t, conn.Create(&plan{Name: "A"}).Error)

	err := conn.Create(&plan{Name: "A"}).Error
	require.True(t, IsUniqueViolation(err, ""))
	require.True(t, IsUniqueViolation(err, "plans.name"))
	require.False(t, IsUniqueViolation(errors.New("boom"), ""))
}

func TestNewSQLiteDriver(t *testing.T) {
	client, err := New(context.Background(), config.DBConfig{
		DSN:    "file:new_driver_test?mode=memory&cache=shared",
		Driver: DriverSQLite,
	}, nil)
	require.NoError(t, err)
	defer client.Close()

	require.False(t, client.IsPostgres())
	require.NoError(t, client.Ping(context.Background()))
}

func TestNewRejectsBadConfig(t *testing.T) {
	_, err := New(context.Background(), config.DBConfig{DSN: "x", Driver: "oracle"}, nil)
	require.ErrorContains(t, err, "unsupported database driver")

	_, err = New(context.Background(), config.DBConfig{Driver: DriverSQLite}, nil)
	require.Error(t, err)
}

func TestQueryLoggerTrace(t *testing.T) {
	buf := &bytes.Buffer{}
	logg := logger.New(logger.Options{ServiceName: "db-test", Output: buf})
	ql := newQueryLogger(logg, 50*time.Millisecond)
	ctx := context.Background()
	stmt := func() (string, int64) { return "SELECT * FROM plans", 0 }

	ql.Trace(ctx, time.Now(), stmt, nil)
	ql.Trace(ctx, time.Now(), stmt, gorm.ErrRecordNotFound)
	require.Zero(t, buf.Len())

	ql.Trace(ctx, time.Now().Add(-time.Second), stmt, nil)
	require.Contains(t, buf.String(), "slow query")
	require.Contains(t, buf.String(), "SELECT * FROM plans")

	buf.Reset()
	ql.Trace(ctx, time.Now(), stmt, errors.New("relation does not exist"))
	require.Contains(t, buf.String(), "query failed")
	require.Contains(t, buf.String(), "relation does not exist")

	buf.Reset()
	ql.LogMode(gormlogger.Silent).Trace(ctx, time.Now(), stmt, errors.New("ignored"))
	require.Zero(t, buf.Len())
}

func TestQueryLoggerNilLoggerDiscards(t *testing.T) {
	require.Equal(t, gormlogger.Discard, newQueryLogger(nil, time.Second))
}
