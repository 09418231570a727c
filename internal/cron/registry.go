package cron

import (
	"context"
	"fmt"
	"time"
)

// Job is one unit of maintenance work run by the cron worker.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Schedule binds a job to the minimum gap between two of its runs. A zero
// Every runs the job on every scheduler tick.
type Schedule struct {
	Job   Job
	Every time.Duration
}

// Registry holds schedules in registration order. Job names double as lock
// and metric labels, so they must be unique.
type Registry struct {
	schedules []Schedule
	names     map[string]struct{}
}

func NewRegistry() *Registry {
	return &Registry{names: map[string]struct{}{}}
}

// Register adds job with cadence every.
func (r *Registry) Register(job Job, every time.Duration) error {
	if job == nil {
		return fmt.Errorf("cron: nil job")
	}
	name := job.Name()
	if name == "" {
		return fmt.Errorf("cron: job name required")
	}
	if every < 0 {
		return fmt.Errorf("cron: %s: negative cadence %s", name, every)
	}
	if _, dup := r.names[name]; dup {
		return fmt.Errorf("cron: job %q registered twice", name)
	}
	r.names[name] = struct{}{}
	r.schedules = append(r.schedules, Schedule{Job: job, Every: every})
	return nil
}

func (r *Registry) Schedules() []Schedule {
	out := make([]Schedule, len(r.schedules))
	copy(out, r.schedules)
	return out
}

// Names lists job names in registration order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.schedules))
	for _, s := range r.schedules {
		names = append(names, s.Job.Name())
	}
	return names
}
