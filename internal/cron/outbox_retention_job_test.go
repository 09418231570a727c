package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fakePurger struct {
	batches   []int64
	err       error
	cutoffs   []time.Time
	terminals []int
	limits    []int
}

func (f *fakePurger) PurgeBefore(_ context.Context, _ *gorm.DB, cutoff time.Time, terminal, limit int) (int64, error) {
	f.cutoffs = append(f.cutoffs, cutoff)
	f.terminals = append(f.terminals, terminal)
	f.limits = append(f.limits, limit)
	if f.err != nil {
		return 0, f.err
	}
	if len(f.batches) == 0 {
		return 0, nil
	}
	n := f.batches[0]
	f.batches = f.batches[1:]
	return n, nil
}

type passthroughTx struct{ calls int }

func (p *passthroughTx) WithTx(_ context.Context, fn func(tx *gorm.DB) error) error {
	p.calls++
	return fn(nil)
}

func TestOutboxRetentionPurgesInBatches(t *testing.T) {
	repo := &fakePurger{batches: []int64{100, 100, 40}}
	tx := &passthroughTx{}
	job, err := NewOutboxRetentionJob(OutboxRetentionJobParams{
		Logger:           testLogger(),
		DB:               tx,
		Repository:       repo,
		RetentionDays:    7,
		TerminalAttempts: 8,
		BatchSize:        100,
	})
	require.NoError(t, err)
	require.Equal(t, "outbox-retention", job.Name())

	require.NoError(t, job.Run(context.Background()))
	require.Equal(t, 3, tx.calls)
	require.Equal(t, []int{100, 100, 100}, repo.limits)
	require.Equal(t, []int{8, 8, 8}, repo.terminals)
	require.Equal(t, 240, job.(*batchJob).Processed())
}

func TestOutboxRetentionCutoffAndDefaults(t *testing.T) {
	repo := &fakePurger{}
	job, err := NewOutboxRetentionJob(OutboxRetentionJobParams{Logger: testLogger(), DB: &passthroughTx{}, Repository: repo})
	require.NoError(t, err)
	before := time.Now().UTC()
	require.NoError(t, job.Run(context.Background()))

	require.Len(t, repo.cutoffs, 1)
	want := before.Add(-defaultRetentionDays * 24 * time.Hour)
	require.WithinDuration(t, want, repo.cutoffs[0], time.Minute)
	require.Equal(t, defaultTerminalAttempts, repo.terminals[0])
	require.Equal(t, defaultBatchSize, repo.limits[0])
}

func TestOutboxRetentionPropagatesError(t *testing.T) {
	job, err := NewOutboxRetentionJob(OutboxRetentionJobParams{
		Logger:     testLogger(),
		DB:         &passthroughTx{},
		Repository: &fakePurger{err: errors.New("boom")},
	})
	require.NoError(t, err)
	require.ErrorContains(t, job.Run(context.Background()), "outbox-retention: boom")
}

func TestOutboxRetentionRequiresDependencies(t *testing.T) {
	_, err := NewOutboxRetentionJob(OutboxRetentionJobParams{Logger: testLogger(), Repository: &fakePurger{}})
	require.Error(t, err)
	_, err = NewOutboxRetentionJob(OutboxRetentionJobParams{Logger: testLogger(), DB: &passthroughTx{}})
	require.Error(t, err)
}
