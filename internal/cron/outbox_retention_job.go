package cron

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/ispbox-backend/pkg/logger"
)

const (
	defaultRetentionDays    = 30
	defaultTerminalAttempts = 10
)

type OutboxRetentionJobParams struct {
	Logger     *logger.Logger
	DB         txRunner
	Repository outboxPurger
	// RetentionDays keeps published events for audit replays.
	RetentionDays int
	// TerminalAttempts matches the relay's max attempts; rows at or past it
	// already live in the DLQ.
	TerminalAttempts int
	BatchSize        int
}

type outboxPurger interface {
	PurgeBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time, terminalAttempts, limit int) (int64, error)
}

// NewOutboxRetentionJob deletes outbox rows that are published or dead-lettered
// and older than the retention window, in batches.
func NewOutboxRetentionJob(params OutboxRetentionJobParams) (Job, error) {
	switch {
	case params.DB == nil:
		return nil, errors.New("db runner required")
	case params.Repository == nil:
		return nil, errors.New("outbox repository required")
	}
	days := params.RetentionDays
	if days <= 0 {
		days = defaultRetentionDays
	}
	terminal := params.TerminalAttempts
	if terminal <= 0 {
		terminal = defaultTerminalAttempts
	}
	p := &outboxPurge{db: params.DB, repo: params.Repository, retention: time.Duration(days) * 24 * time.Hour, terminal: terminal, now: time.Now}
	return newBatchJob("outbox-retention", params.Logger, p.purge, params.BatchSize)
}

type outboxPurge struct {
	db        txRunner
	repo      outboxPurger
	retention time.Duration
	terminal  int
	now       func() time.Time
}

func (p *outboxPurge) purge(ctx context.Context, limit int) (int, error) {
	cutoff := p.now().UTC().Add(-p.retention)
	var deleted int64
	err := p.db.WithTx(ctx, func(tx *gorm.DB) error {
		n, err := p.repo.PurgeBefore(ctx, tx, cutoff, p.terminal, limit)
		deleted = n
		return err
	})
	return int(deleted), err
}
