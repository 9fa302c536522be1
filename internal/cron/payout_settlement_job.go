package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/unimart-backend/pkg/logger"
)

type PayoutSettlementJobParams struct {
	Logger  *logger.Logger
	Payouts payoutSettler
	Window  time.Duration
}

type payoutSettler interface {
	SettleOlderThan(ctx context.Context, cutoff time.Time) (int, error)
}

// NewPayoutSettlementJob completes payouts that stayed pending longer than the
// settlement window without a failure report from the rail.
func NewPayoutSettlementJob(params PayoutSettlementJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Payouts == nil {
		return nil, fmt.Errorf("payout service required")
	}
	if params.Window <= 0 {
		return nil, fmt.Errorf("settlement window must be positive")
	}
	return &payoutSettlementJob{
		logg:    params.Logger,
		payouts: params.Payouts,
		window:  params.Window,
		now:     time.Now,
	}, nil
}

type payoutSettlementJob struct {
	logg    *logger.Logger
	payouts payoutSettler
	window  time.Duration
	now     func() time.Time
}

func (j *payoutSettlementJob) Name() string { return "payout-settlement" }

func (j *payoutSettlementJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.window)
	settled, err := j.payouts.SettleOlderThan(ctx, cutoff)
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"cutoff":          cutoff,
		"payouts_settled": settled,
	})
	if err != nil {
		return fmt.Errorf("payout settlement: %w", err)
	}
	j.logg.Info(logCtx, "payout settlement complete")
	return nil
}
