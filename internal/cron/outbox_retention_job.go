package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/angelmondragon/unimart-backend/pkg/logger"
)

const (
	defaultRetentionDays = 30
	retentionBatchSize   = 500
	retentionMaxBatches  = 40
)

type OutboxRetentionJobParams struct {
	Logger     *logger.Logger
	Repository publishedEventPruner
	// Retention is in days; zero means 30.
	Retention int
}

type publishedEventPruner interface {
	DeletePublishedBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error)
}

// NewOutboxRetentionJob prunes delivered ledger events in small batches so
// the delete never holds long locks on outbox_events. A cycle stops after
// retentionMaxBatches; the next cycle picks up the rest.
func NewOutboxRetentionJob(params OutboxRetentionJobParams) (Job, error) {
	switch {
	case params.Logger == nil:
		return nil, errors.New("logger required")
	case params.Repository == nil:
		return nil, errors.New("outbox repository required")
	}
	days := params.Retention
	if days <= 0 {
		days = defaultRetentionDays
	}
	return &outboxRetentionJob{
		logg:    params.Logger,
		pruner:  params.Repository,
		keep:    time.Duration(days) * 24 * time.Hour,
		batch:   retentionBatchSize,
		batches: retentionMaxBatches,
		now:     time.Now,
	}, nil
}

type outboxRetentionJob struct {
	logg    *logger.Logger
	pruner  publishedEventPruner
	keep    time.Duration
	batch   int
	batches int
	now     func() time.Time
}

func (j *outboxRetentionJob) Name() string { return "outbox-retention" }

func (j *outboxRetentionJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.keep)
	var total int64
	passes := 0
	for passes < j.batches {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := j.pruner.DeletePublishedBefore(ctx, cutoff, j.batch)
		passes++
		total += n
		if err != nil {
			return fmt.Errorf("prune published events before %s: %w", cutoff.Format(time.RFC3339), err)
		}
		if n < int64(j.batch) {
			break
		}
	}
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"cutoff":       cutoff,
		"rows_deleted": total,
		"batches":      passes,
	}), "outbox retention pass finished")
	return nil
}
