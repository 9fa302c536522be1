package outbox

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/unimart-backend/pkg/db/dbtest"
	"github.com/angelmondragon/unimart-backend/pkg/db/models"
	"github.com/angelmondragon/unimart-backend/pkg/enums"
	"github.com/angelmondragon/unimart-backend/pkg/outbox/payloads"
)

func TestEmitWritesEnvelope(t *testing.T) {
	conn := dbtest.Open(t)
	svc := NewService(NewRepository(conn), nil)
	at := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return at }

	accountID, grantID := uuid.New(), uuid.New()
	require.NoError(t, svc.Emit(context.Background(), conn, DomainEvent{
		EventType:     enums.EventCreditsGranted,
		AggregateType: enums.AggregateCreditGrant,
		AggregateID:   grantID,
		Actor:         &ActorRef{AccountID: accountID},
		Data:          payloads.CreditsGrantedEvent{GrantID: grantID, AccountID: accountID, Credits: 120},
	}))

	var row models.OutboxEvent
	require.NoError(t, conn.First(&row).Error)
	assert.Equal(t, grantID, row.AggregateID)
	assert.True(t, row.CreatedAt.Equal(at))
	assert.Nil(t, row.PublishedAt)

	var env PayloadEnvelope
	require.NoError(t, json.Unmarshal(row.Payload, &env))
	assert.Equal(t, EnvelopeVersion, env.Version)
	assert.True(t, env.OccurredAt.Equal(at))
	require.NotNil(t, env.Actor)
	assert.Equal(t, accountID, env.Actor.AccountID)
	_, err := ulid.ParseStrict(env.EventID)
	assert.NoError(t, err)

	var data payloads.CreditsGrantedEvent
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, int64(120), data.Credits)
}

func TestEmitRejectsIncompleteEvents(t *testing.T) {
	conn := dbtest.Open(t)
	svc := NewService(NewRepository(conn), nil)
	valid := DomainEvent{
		EventType:     enums.EventEscrowHeld,
		AggregateType: enums.AggregateEscrowHold,
		AggregateID:   uuid.New(),
		Data:          payloads.EscrowHeldEvent{},
	}
	ctx := context.Background()

	assert.ErrorIs(t, svc.Emit(ctx, nil, valid), errTxRequired)

	tests := map[string]func(e *DomainEvent){
		"unknown event type":     func(e *DomainEvent) { e.EventType = "order_created" },
		"unknown aggregate type": func(e *DomainEvent) { e.AggregateType = "listing" },
		"nil aggregate":          func(e *DomainEvent) { e.AggregateID = uuid.Nil },
		"no data":                func(e *DomainEvent) { e.Data = nil },
		"unmarshalable data":     func(e *DomainEvent) { e.Data = func() {} },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			event := valid
			mutate(&event)
			assert.Error(t, svc.Emit(ctx, conn, event))
		})
	}

	var count int64
	require.NoError(t, conn.Model(&models.OutboxEvent{}).Count(&count).Error)
	assert.Zero(t, count)
}
