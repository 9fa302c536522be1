// Package relay drains queued ledger events from the outbox table onto Pub/Sub.
//
// Events for the same aggregate share an ordering key, so subscribers see a
// hold's held/released pair or a payout's requested/completed pair in the
// order the ledger committed them.
package relay

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/unimart-backend/pkg/config"
	"github.com/angelmondragon/unimart-backend/pkg/db/models"
	"github.com/angelmondragon/unimart-backend/pkg/enums"
	"github.com/angelmondragon/unimart-backend/pkg/logger"
	"github.com/angelmondragon/unimart-backend/pkg/metrics"
	"github.com/angelmondragon/unimart-backend/pkg/outbox/registry"
)

const (
	defaultBatchSize   = 50
	defaultPoll        = 500 * time.Millisecond
	defaultMaxAttempts = 10
	publishTimeout     = 15 * time.Second
	maxBackoff         = 10 * time.Second
	maxJitter          = 250 * time.Millisecond
)

type outcome string

const (
	outcomeDelivered outcome = "delivered"
	outcomeRetrying  outcome = "retrying"
	outcomeParked    outcome = "parked"
)

type database interface {
	Ping(context.Context) error
	WithTx(context.Context, func(tx *gorm.DB) error) error
}

// Broker hands out per-topic publishers.
type Broker interface {
	Ping(context.Context) error
	Topic(name string) Topic
}

// Topic publishes messages and resumes an ordering key after a failed publish.
type Topic interface {
	Publish(ctx context.Context, msg *gcppubsub.Message) Result
	ResumePublish(orderingKey string)
}

// Result resolves to the server-assigned message ID.
type Result interface {
	Get(ctx context.Context) (string, error)
}

type eventStore interface {
	Claim(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error)
	MarkDelivered(tx *gorm.DB, id uuid.UUID, at time.Time) error
	RecordFailure(tx *gorm.DB, id uuid.UUID, cause error) error
	Park(tx *gorm.DB, event models.OutboxEvent, entry models.OutboxDLQ, exhaustedAttempts int) error
}

type resolver interface {
	Resolve(models.OutboxEvent) (*registry.ResolvedEvent, error)
}

// Params wires a Relay. Zero-valued tuning knobs fall back to defaults.
type Params struct {
	DB       database
	Broker   Broker
	Events   eventStore
	Registry resolver
	Metrics  *metrics.RelayMetrics
	Logger   *logger.Logger
	Outbox   config.OutboxConfig
	Now      func() time.Time
}

// Relay moves committed outbox rows to Pub/Sub with at-least-once delivery.
type Relay struct {
	db          database
	broker      Broker
	events      eventStore
	registry    resolver
	metrics     *metrics.RelayMetrics
	logg        *logger.Logger
	now         func() time.Time
	batchSize   int
	maxAttempts int
	poll        time.Duration
}

func New(p Params) (*Relay, error) {
	switch {
	case p.DB == nil:
		return nil, errors.New("database is required")
	case p.Broker == nil:
		return nil, errors.New("broker is required")
	case p.Events == nil:
		return nil, errors.New("outbox repository is required")
	case p.Registry == nil:
		return nil, errors.New("event registry is required")
	case p.Logger == nil:
		return nil, errors.New("logger is required")
	}
	r := &Relay{
		db:          p.DB,
		broker:      p.Broker,
		events:      p.Events,
		registry:    p.Registry,
		metrics:     p.Metrics,
		logg:        p.Logger,
		now:         p.Now,
		batchSize:   p.Outbox.BatchSize,
		maxAttempts: p.Outbox.MaxAttempts,
		poll:        time.Duration(p.Outbox.PollIntervalMS) * time.Millisecond,
	}
	if r.now == nil {
		r.now = func() time.Time { return time.Now().UTC() }
	}
	if r.batchSize <= 0 {
		r.batchSize = defaultBatchSize
	}
	if r.maxAttempts <= 0 {
		r.maxAttempts = defaultMaxAttempts
	}
	if r.poll <= 0 {
		r.poll = defaultPoll
	}
	return r, nil
}

// Run polls until ctx is canceled. A full batch is followed immediately by the
// next one; an empty batch waits one poll interval; a failed batch backs off.
func (r *Relay) Run(ctx context.Context) error {
	if err := r.db.Ping(ctx); err != nil {
		return fmt.Errorf("database ping: %w", err)
	}
	if err := r.broker.Ping(ctx); err != nil {
		return fmt.Errorf("pubsub ping: %w", err)
	}

	failures := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		claimed, err := r.Drain(ctx)
		wait := r.poll
		switch {
		case err != nil:
			failures++
			wait = backoff(r.poll, failures)
			r.logg.Error(r.logg.WithField(ctx, "consecutive_failures", failures), "relay batch failed", err)
		case claimed >= r.batchSize:
			failures = 0
			continue
		default:
			failures = 0
		}
		if err := sleep(ctx, wait+jitter()); err != nil {
			return err
		}
	}
}

// Drain claims one batch and settles every row in it inside a single
// transaction. It returns how many rows were claimed.
func (r *Relay) Drain(ctx context.Context) (int, error) {
	claimed := 0
	err := r.db.WithTx(ctx, func(tx *gorm.DB) error {
		rows, err := r.events.Claim(tx, r.batchSize, r.maxAttempts)
		if err != nil {
			return fmt.Errorf("claim batch: %w", err)
		}
		claimed = len(rows)
		// a failed key is resumed only after the batch so later rows for the
		// same aggregate stay behind the failure
		failedKeys := map[string]Topic{}
		defer func() {
			for key, topic := range failedKeys {
				topic.ResumePublish(key)
			}
		}()
		for _, row := range rows {
			result, err := r.settle(ctx, tx, row, failedKeys)
			if err != nil {
				return err
			}
			r.metrics.Outcome(string(row.EventType), string(result))
		}
		return nil
	})
	return claimed, err
}

func (r *Relay) settle(ctx context.Context, tx *gorm.DB, row models.OutboxEvent, failedKeys map[string]Topic) (outcome, error) {
	ctx = r.logg.WithFields(ctx, map[string]any{
		"outbox_id":      row.ID.String(),
		"event_type":     row.EventType,
		"aggregate_type": row.AggregateType,
		"aggregate_id":   row.AggregateID.String(),
		"attempt_count":  row.AttemptCount,
	})

	resolved, err := r.registry.Resolve(row)
	if err != nil {
		return outcomeParked, r.park(ctx, tx, row, enums.OutboxDLQReasonNonRetryable, err)
	}
	ctx = r.logg.WithFields(ctx, map[string]any{"topic": resolved.Descriptor.Topic, "event_id": resolved.Envelope.EventID})

	key := row.AggregateID.String()
	topic := r.broker.Topic(resolved.Descriptor.Topic)
	if topic == nil {
		err := fmt.Errorf("no publisher for topic %s", resolved.Descriptor.Topic)
		return outcomeParked, r.park(ctx, tx, row, enums.OutboxDLQReasonNonRetryable, err)
	}
	if _, blocked := failedKeys[key]; blocked {
		err := errors.New("earlier event for the same aggregate failed in this batch")
		return outcomeRetrying, r.retry(ctx, tx, row, err)
	}

	if err := r.publish(ctx, topic, row, resolved); err != nil {
		failedKeys[key] = topic
		var nonRetryable registry.NonRetryableError
		if errors.As(err, &nonRetryable) {
			return outcomeParked, r.park(ctx, tx, row, enums.OutboxDLQReasonNonRetryable, err)
		}
		if row.AttemptCount+1 >= r.maxAttempts {
			return outcomeParked, r.park(ctx, tx, row, enums.OutboxDLQReasonMaxAttempts, fmt.Errorf("giving up after %d attempts: %w", row.AttemptCount+1, err))
		}
		return outcomeRetrying, r.retry(ctx, tx, row, err)
	}

	deliveredAt := r.now()
	if err := r.events.MarkDelivered(tx, row.ID, deliveredAt); err != nil {
		return "", fmt.Errorf("mark delivered %s: %w", row.ID, err)
	}
	r.metrics.ObserveLag(row.CreatedAt, deliveredAt)
	r.logg.Info(ctx, "ledger event relayed")
	return outcomeDelivered, nil
}

func (r *Relay) publish(ctx context.Context, topic Topic, row models.OutboxEvent, resolved *registry.ResolvedEvent) error {
	msg := &gcppubsub.Message{
		Data:        row.Payload,
		OrderingKey: row.AggregateID.String(),
		Attributes: map[string]string{
			"event_id":         resolved.Envelope.EventID,
			"event_type":       string(row.EventType),
			"aggregate_type":   string(row.AggregateType),
			"aggregate_id":     row.AggregateID.String(),
			"envelope_version": strconv.Itoa(resolved.Envelope.Version),
			"occurred_at":      resolved.Envelope.OccurredAt.UTC().Format(time.RFC3339Nano),
		},
	}
	publishCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	result := topic.Publish(publishCtx, msg)
	if result == nil {
		return registry.NewNonRetryableError(errors.New("publisher returned no result"))
	}
	_, err := result.Get(publishCtx)
	return err
}

func (r *Relay) retry(ctx context.Context, tx *gorm.DB, row models.OutboxEvent, cause error) error {
	r.logg.Warn(r.logg.WithField(ctx, "error", cause.Error()), "ledger event publish failed, will retry")
	if err := r.events.RecordFailure(tx, row.ID, cause); err != nil {
		return fmt.Errorf("record failure %s: %w", row.ID, err)
	}
	return nil
}

func (r *Relay) park(ctx context.Context, tx *gorm.DB, row models.OutboxEvent, reason enums.OutboxDLQErrorReason, cause error) error {
	ctx = r.logg.WithFields(ctx, map[string]any{"error_reason": reason, "error": cause.Error()})
	r.logg.Warn(ctx, "ledger event parked in dlq")

	msg := cause.Error()
	entry := models.OutboxDLQ{
		EventID:       row.ID,
		EventType:     row.EventType,
		AggregateType: row.AggregateType,
		AggregateID:   row.AggregateID,
		Payload:       row.Payload,
		ErrorReason:   reason,
		ErrorMessage:  &msg,
		AttemptCount:  row.AttemptCount,
		FailedAt:      r.now(),
	}
	if err := r.events.Park(tx, row, entry, r.maxAttempts); err != nil {
		return fmt.Errorf("park %s: %w", row.ID, err)
	}
	return nil
}

// backoff doubles base per consecutive failure, capped at maxBackoff.
func backoff(base time.Duration, failures int) time.Duration {
	d := base
	for i := 1; i < failures && d < maxBackoff; i++ {
		d *= 2
	}
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

func jitter() time.Duration {
	return rand.N(maxJitter)
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
