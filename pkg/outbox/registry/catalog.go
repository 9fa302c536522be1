// Package registry knows every ledger event the outbox can carry: which
// aggregate owns it, which topic it is published on and how its payload decodes.
package registry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/unimart-backend/pkg/config"
	"github.com/angelmondragon/unimart-backend/pkg/db/models"
	"github.com/angelmondragon/unimart-backend/pkg/enums"
	"github.com/angelmondragon/unimart-backend/pkg/outbox"
	"github.com/angelmondragon/unimart-backend/pkg/outbox/payloads"
)

// EventDescriptor is the routing and schema entry for one event type.
type EventDescriptor struct {
	EventType     enums.OutboxEventType
	AggregateType enums.OutboxAggregateType
	Topic         string
	decode        func(json.RawMessage) (any, error)
}

// ResolvedEvent is an outbox row checked against its descriptor.
type ResolvedEvent struct {
	Descriptor EventDescriptor
	Envelope   outbox.PayloadEnvelope
	Payload    any
}

// EventRegistry is immutable once built.
type EventRegistry struct {
	entries map[enums.OutboxEventType]EventDescriptor
}

// NonRetryableError marks a row that will never publish no matter how often
// it is retried, so the relay parks it instead.
type NonRetryableError struct {
	Err error
}

func NewNonRetryableError(err error) NonRetryableError {
	return NonRetryableError{Err: err}
}

func (e NonRetryableError) Error() string {
	if e.Err == nil {
		return "non-retryable"
	}
	return e.Err.Error()
}

func (e NonRetryableError) Unwrap() error { return e.Err }

func permanent(format string, args ...any) error {
	return NonRetryableError{Err: fmt.Errorf(format, args...)}
}

func decoderFor[T any]() func(json.RawMessage) (any, error) {
	return func(raw json.RawMessage) (any, error) {
		payload := new(T)
		if err := json.Unmarshal(raw, payload); err != nil {
			return nil, err
		}
		return payload, nil
	}
}

// NewEventRegistry routes payout lifecycle events to the payout topic when one
// is configured and everything else to the ledger topic.
func NewEventRegistry(cfg config.PubSubConfig) (*EventRegistry, error) {
	ledger := strings.TrimSpace(cfg.LedgerTopic)
	if ledger == "" {
		return nil, errors.New("ledger topic is required")
	}
	payout := strings.TrimSpace(cfg.PayoutTopic)
	if payout == "" {
		payout = ledger
	}

	table := []EventDescriptor{
		{enums.EventAccountOpened, enums.AggregateAccount, ledger, decoderFor[payloads.AccountOpenedEvent]()},
		{enums.EventWalletCashedIn, enums.AggregateAccount, ledger, decoderFor[payloads.WalletCashedInEvent]()},
		{enums.EventEscrowHeld, enums.AggregateEscrowHold, ledger, decoderFor[payloads.EscrowHeldEvent]()},
		{enums.EventEscrowReleased, enums.AggregateEscrowHold, ledger, decoderFor[payloads.EscrowResolvedEvent]()},
		{enums.EventEscrowReversed, enums.AggregateEscrowHold, ledger, decoderFor[payloads.EscrowResolvedEvent]()},
		{enums.EventCreditsGranted, enums.AggregateCreditGrant, ledger, decoderFor[payloads.CreditsGrantedEvent]()},
		{enums.EventPayoutRequested, enums.AggregatePayoutRequest, payout, decoderFor[payloads.PayoutEvent]()},
		{enums.EventPayoutCompleted, enums.AggregatePayoutRequest, payout, decoderFor[payloads.PayoutEvent]()},
		{enums.EventPayoutFailed, enums.AggregatePayoutRequest, payout, decoderFor[payloads.PayoutEvent]()},
	}
	reg := &EventRegistry{entries: make(map[enums.OutboxEventType]EventDescriptor, len(table))}
	for _, d := range table {
		reg.entries[d.EventType] = d
	}
	return reg, nil
}

// Topics lists the distinct topics events are published on, sorted.
func (r *EventRegistry) Topics() []string {
	seen := map[string]bool{}
	var topics []string
	for _, d := range r.entries {
		if !seen[d.Topic] {
			seen[d.Topic] = true
			topics = append(topics, d.Topic)
		}
	}
	sort.Strings(topics)
	return topics
}

// Resolve validates row against its descriptor and decodes the typed payload.
// Every failure is permanent: the row's bytes will not change on retry.
func (r *EventRegistry) Resolve(row models.OutboxEvent) (*ResolvedEvent, error) {
	desc, ok := r.entries[row.EventType]
	switch {
	case !ok:
		return nil, permanent("unknown event type %q", row.EventType)
	case desc.AggregateType != row.AggregateType:
		return nil, permanent("%s belongs to %s, row says %s", row.EventType, desc.AggregateType, row.AggregateType)
	case row.AggregateID == uuid.Nil:
		return nil, permanent("%s has no aggregate id", row.EventType)
	}

	var env outbox.PayloadEnvelope
	if err := json.Unmarshal(row.Payload, &env); err != nil {
		return nil, permanent("envelope: %w", err)
	}
	if data := bytes.TrimSpace(env.Data); len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, permanent("%s envelope has no data", row.EventType)
	}
	payload, err := desc.decode(env.Data)
	if err != nil {
		return nil, permanent("%s payload: %w", row.EventType, err)
	}
	return &ResolvedEvent{Descriptor: desc, Envelope: env, Payload: payload}, nil
}
