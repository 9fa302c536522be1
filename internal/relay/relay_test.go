package relay

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/unimart-backend/pkg/config"
	dbpkg "github.com/angelmondragon/unimart-backend/pkg/db"
	"github.com/angelmondragon/unimart-backend/pkg/db/dbtest"
	"github.com/angelmondragon/unimart-backend/pkg/db/models"
	"github.com/angelmondragon/unimart-backend/pkg/enums"
	"github.com/angelmondragon/unimart-backend/pkg/logger"
	"github.com/angelmondragon/unimart-backend/pkg/metrics"
	"github.com/angelmondragon/unimart-backend/pkg/outbox"
	"github.com/angelmondragon/unimart-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/unimart-backend/pkg/outbox/registry"
)

type fakeResult struct {
	err error
}

func (r fakeResult) Get(context.Context) (string, error) {
	if r.err != nil {
		return "", r.err
	}
	return "msg-1", nil
}

type fakeTopic struct {
	sent     []*gcppubsub.Message
	failKeys map[string]error
	resumed  []string
}

func (t *fakeTopic) Publish(_ context.Context, msg *gcppubsub.Message) Result {
	t.sent = append(t.sent, msg)
	return fakeResult{err: t.failKeys[msg.OrderingKey]}
}

func (t *fakeTopic) ResumePublish(key string) {
	t.resumed = append(t.resumed, key)
}

type fakeBroker struct {
	topic *fakeTopic
}

func (b *fakeBroker) Ping(context.Context) error { return nil }

func (b *fakeBroker) Topic(name string) Topic {
	if name != "ledger-topic" {
		return nil
	}
	return b.topic
}

type relayFixture struct {
	conn   *gorm.DB
	repo   *outbox.Repository
	queue  *outbox.Service
	topic  *fakeTopic
	reg    *prometheus.Registry
	relay  *Relay
	frozen time.Time
}

func newRelayFixture(t *testing.T, maxAttempts int) *relayFixture {
	t.Helper()
	conn := dbtest.Open(t)
	repo := outbox.NewRepository(conn)
	eventRegistry, err := registry.NewEventRegistry(config.PubSubConfig{LedgerTopic: "ledger-topic"})
	require.NoError(t, err)

	f := &relayFixture{
		conn:   conn,
		repo:   repo,
		queue:  outbox.NewService(repo, nil),
		topic:  &fakeTopic{failKeys: map[string]error{}},
		reg:    prometheus.NewRegistry(),
		frozen: time.Now().UTC(),
	}
	f.relay, err = New(Params{
		DB:       dbpkg.NewFromGorm(conn),
		Broker:   &fakeBroker{topic: f.topic},
		Events:   repo,
		Registry: eventRegistry,
		Metrics:  metrics.NewRelayMetrics(f.reg),
		Logger:   logger.New(logger.Options{ServiceName: "relay-test", Output: io.Discard}),
		Outbox:   config.OutboxConfig{BatchSize: 10, MaxAttempts: maxAttempts},
		Now:      func() time.Time { return f.frozen },
	})
	require.NoError(t, err)
	return f
}

func (f *relayFixture) queueHold(t *testing.T, eventType enums.OutboxEventType, holdID uuid.UUID) {
	t.Helper()
	var data any = payloads.EscrowHeldEvent{HoldID: holdID, Amount: decimal.NewFromInt(10)}
	if eventType != enums.EventEscrowHeld {
		data = payloads.EscrowResolvedEvent{HoldID: holdID, Status: enums.EscrowHoldStatusReleased}
	}
	require.NoError(t, f.queue.Emit(context.Background(), f.conn, outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregateEscrowHold,
		AggregateID:   holdID,
		Data:          data,
	}))
	time.Sleep(time.Millisecond)
}

func (f *relayFixture) rows(t *testing.T, aggregateID uuid.UUID) []models.OutboxEvent {
	t.Helper()
	rows, err := f.repo.ListByAggregate(context.Background(), aggregateID)
	require.NoError(t, err)
	return rows
}

func (f *relayFixture) outcomes(t *testing.T, outcome string) float64 {
	t.Helper()
	mfs, err := f.reg.Gather()
	require.NoError(t, err)
	total := 0.0
	for _, mf := range mfs {
		if mf.GetName() != "ledger_relay_events_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "outcome" && l.GetValue() == outcome {
					total += m.GetCounter().GetValue()
				}
			}
		}
	}
	return total
}

func TestDrainDeliversWithOrderingKeys(t *testing.T) {
	f := newRelayFixture(t, 5)
	first, second := uuid.New(), uuid.New()
	f.queueHold(t, enums.EventEscrowHeld, first)
	f.queueHold(t, enums.EventEscrowHeld, second)

	claimed, err := f.relay.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, claimed)

	require.Len(t, f.topic.sent, 2)
	msg := f.topic.sent[0]
	assert.Equal(t, first.String(), msg.OrderingKey)
	assert.Equal(t, string(enums.EventEscrowHeld), msg.Attributes["event_type"])
	assert.Equal(t, "1", msg.Attributes["envelope_version"])
	assert.NotEmpty(t, msg.Attributes["event_id"])

	var envelope outbox.PayloadEnvelope
	require.NoError(t, json.Unmarshal(msg.Data, &envelope))
	assert.Equal(t, msg.Attributes["event_id"], envelope.EventID)

	rows := f.rows(t, first)
	require.Len(t, rows, 1)
	require.NotNil(t, rows[0].PublishedAt)
	assert.Equal(t, float64(2), f.outcomes(t, "delivered"))

	claimed, err = f.relay.Drain(context.Background())
	require.NoError(t, err)
	assert.Zero(t, claimed)
}

func TestDrainHoldsBackLaterEventsForAFailedAggregate(t *testing.T) {
	f := newRelayFixture(t, 5)
	stuck, healthy := uuid.New(), uuid.New()
	f.queueHold(t, enums.EventEscrowHeld, stuck)
	f.queueHold(t, enums.EventEscrowHeld, healthy)
	f.queueHold(t, enums.EventEscrowReleased, stuck)
	f.topic.failKeys[stuck.String()] = errors.New("deadline exceeded")

	_, err := f.relay.Drain(context.Background())
	require.NoError(t, err)

	// only the first event for the failing aggregate reaches the broker
	require.Len(t, f.topic.sent, 2)
	assert.Equal(t, healthy.String(), f.topic.sent[1].OrderingKey)
	assert.Equal(t, []string{stuck.String()}, f.topic.resumed)

	for _, row := range f.rows(t, stuck) {
		assert.Nil(t, row.PublishedAt)
		assert.Equal(t, 1, row.AttemptCount)
		require.NotNil(t, row.LastError)
	}
	assert.NotNil(t, f.rows(t, healthy)[0].PublishedAt)
	assert.Equal(t, float64(2), f.outcomes(t, "retrying"))

	delete(f.topic.failKeys, stuck.String())
	_, err = f.relay.Drain(context.Background())
	require.NoError(t, err)
	for _, row := range f.rows(t, stuck) {
		assert.NotNil(t, row.PublishedAt)
	}
}

func TestDrainParksAfterMaxAttempts(t *testing.T) {
	f := newRelayFixture(t, 1)
	holdID := uuid.New()
	f.queueHold(t, enums.EventEscrowHeld, holdID)
	f.topic.failKeys[holdID.String()] = errors.New("permission denied")

	_, err := f.relay.Drain(context.Background())
	require.NoError(t, err)

	parked, err := f.repo.Parked(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, parked, 1)
	assert.Equal(t, enums.OutboxDLQReasonMaxAttempts, parked[0].ErrorReason)
	assert.Equal(t, holdID, parked[0].AggregateID)

	claimed, err := f.relay.Drain(context.Background())
	require.NoError(t, err)
	assert.Zero(t, claimed)
}

func TestDrainParksUndecodableRows(t *testing.T) {
	f := newRelayFixture(t, 5)
	row := models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     enums.EventEscrowHeld,
		AggregateType: enums.AggregatePayoutRequest,
		AggregateID:   uuid.New(),
		Payload:       json.RawMessage(`{"version":1,"eventId":"x","data":{}}`),
		CreatedAt:     time.Now().UTC(),
	}
	require.NoError(t, f.repo.Insert(f.conn, row))

	_, err := f.relay.Drain(context.Background())
	require.NoError(t, err)
	assert.Empty(t, f.topic.sent)

	parked, err := f.repo.Parked(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, parked, 1)
	assert.Equal(t, enums.OutboxDLQReasonNonRetryable, parked[0].ErrorReason)
	assert.Equal(t, float64(1), f.outcomes(t, "parked"))
}

func TestRunStopsWhenContextCanceled(t *testing.T) {
	f := newRelayFixture(t, 5)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, f.relay.Run(ctx), context.Canceled)
}

func TestBackoffDoublesAndCaps(t *testing.T) {
	base := 500 * time.Millisecond
	assert.Equal(t, base, backoff(base, 1))
	assert.Equal(t, 2*time.Second, backoff(base, 3))
	assert.Equal(t, maxBackoff, backoff(base, 20))
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Params{})
	assert.Error(t, err)
}
