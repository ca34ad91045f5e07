// Package prune runs the scheduled retention job that deletes old posts.
package prune

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/repostdhq/repostd/internal/config"
)

// Store deletes posts past the retention window.
type Store interface {
	DeletePostsOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Job deletes posts older than the configured retention window on a cron
// schedule.
type Job struct {
	logger *slog.Logger
	store  Store
	cron   *cron.Cron
	spec   string
	maxAge time.Duration
}

// NewJob creates the retention job. It returns nil when retention is
// disabled in the config.
func NewJob(log *slog.Logger, st Store, cfg config.RetentionConfig) (*Job, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if log == nil {
		log = slog.Default()
	}
	maxAge, err := cfg.MaxAgeDuration()
	if err != nil {
		return nil, err
	}
	return &Job{
		logger: log.With(slog.String("component", "prune")),
		store:  st,
		cron:   cron.New(),
		spec:   cfg.Cron,
		maxAge: maxAge,
	}, nil
}

// Start schedules the job. Safe to call on a nil Job.
func (j *Job) Start() error {
	if j == nil {
		return nil
	}
	if _, err := j.cron.AddFunc(j.spec, func() { j.Run(context.Background()) }); err != nil {
		return fmt.Errorf("schedule retention job: %w", err)
	}
	j.cron.Start()
	j.logger.Info("retention job scheduled",
		slog.String("cron", j.spec), slog.Duration("max_age", j.maxAge))
	return nil
}

// Run executes one prune pass.
func (j *Job) Run(ctx context.Context) {
	cutoff := time.Now().Add(-j.maxAge)
	deleted, err := j.store.DeletePostsOlderThan(ctx, cutoff)
	if err != nil {
		j.logger.Error("prune failed", slog.Any("error", err))
		return
	}
	j.logger.Info("prune done",
		slog.Int64("deleted", deleted), slog.Time("cutoff", cutoff))
}

// Stop halts the schedule and waits for a running pass. Safe on nil.
func (j *Job) Stop() {
	if j == nil {
		return
	}
	<-j.cron.Stop().Done()
}
