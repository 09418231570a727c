package main

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/ispbox-backend/pkg/logger"
)

const (
	defaultPollInterval = 5 * time.Second
	defaultBatchSize    = 50
)

type redriver interface {
	RedriveDue(ctx context.Context, limit int) (int, error)
}

type DispatcherParams struct {
	Logger       *logger.Logger
	Enforcer     redriver
	PollInterval time.Duration
	BatchSize    int
}

// Dispatcher delivers policy pushes that the api never dispatched or whose
// lease elapsed mid-delivery.
type Dispatcher struct {
	logg      *logger.Logger
	enforcer  redriver
	interval  time.Duration
	batchSize int
}

func NewDispatcher(params DispatcherParams) (*Dispatcher, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Enforcer == nil {
		return nil, fmt.Errorf("enforcer required")
	}
	interval := params.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	return &Dispatcher{
		logg:      params.Logger,
		enforcer:  params.Enforcer,
		interval:  interval,
		batchSize: batch,
	}, nil
}

func (d *Dispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		d.drain(ctx)
		select {
		case <-ctx.Done():
			d.logg.Info(ctx, "policy dispatcher context canceled")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// drain keeps redriving while full batches come back.
func (d *Dispatcher) drain(ctx context.Context) {
	for ctx.Err() == nil {
		n, err := d.enforcer.RedriveDue(ctx, d.batchSize)
		if err != nil {
			d.logg.Error(ctx, "policy redrive failed", err)
			return
		}
		if n > 0 {
			d.logg.Info(d.logg.WithField(ctx, "pushes", n), "policy pushes redriven")
		}
		if n < d.batchSize {
			return
		}
	}
}
