package stripewebhook

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/angelmondragon/unimart-backend/pkg/redis"
)

// EventScope namespaces Stripe event ids in the idempotency keyspace.
const EventScope = "stripe-event"

// EventGuard remembers Stripe event ids that were settled so a later
// redelivery is acknowledged without reaching the ledger. Markers are written
// only after settlement; deliveries that overlap in flight both reach the
// ledger, whose reference checks settle the event once.
type EventGuard struct {
	store redis.IdempotencyStore
	ttl   time.Duration
	scope string
}

func NewEventGuard(store redis.IdempotencyStore, ttl time.Duration) (*EventGuard, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl <= 0 {
		return nil, errors.New("ttl must be positive")
	}
	return &EventGuard{store: store, ttl: ttl, scope: EventScope}, nil
}

// Settled reports whether eventID was marked by MarkSettled.
func (g *EventGuard) Settled(ctx context.Context, eventID string) (bool, error) {
	key, err := g.key(eventID)
	if err != nil {
		return false, err
	}
	value, err := g.store.Get(ctx, key)
	switch {
	case errors.Is(err, redis.Nil):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("get idempotency key: %w", err)
	}
	return value != "", nil
}

// MarkSettled records that eventID reached the ledger successfully.
func (g *EventGuard) MarkSettled(ctx context.Context, eventID string) error {
	key, err := g.key(eventID)
	if err != nil {
		return err
	}
	if err := g.store.Set(ctx, key, time.Now().UTC().Format(time.RFC3339), g.ttl); err != nil {
		return fmt.Errorf("set idempotency key: %w", err)
	}
	return nil
}

func (g *EventGuard) key(eventID string) (string, error) {
	id := strings.TrimSpace(eventID)
	if id == "" {
		return "", errors.New("event id is required")
	}
	return g.store.IdempotencyKey(g.scope, id), nil
}
