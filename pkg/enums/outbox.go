package enums

// OutboxAggregateType is the aggregate_type_enum column: the ledger entity an
// event is about. Its id doubles as the Pub/Sub ordering key.
type OutboxAggregateType string

const (
	AggregateAccount       OutboxAggregateType = "account"
	AggregateEscrowHold    OutboxAggregateType = "escrow_hold"
	AggregateCreditGrant   OutboxAggregateType = "credit_grant"
	AggregatePayoutRequest OutboxAggregateType = "payout_request"
)

// OutboxEventType is the event_type_enum column.
type OutboxEventType string

const (
	EventAccountOpened   OutboxEventType = "account_opened"
	EventWalletCashedIn  OutboxEventType = "wallet_cashed_in"
	EventEscrowHeld      OutboxEventType = "escrow_held"
	EventEscrowReleased  OutboxEventType = "escrow_released"
	EventEscrowReversed  OutboxEventType = "escrow_reversed"
	EventCreditsGranted  OutboxEventType = "credits_granted"
	EventPayoutRequested OutboxEventType = "payout_requested"
	EventPayoutCompleted OutboxEventType = "payout_completed"
	EventPayoutFailed    OutboxEventType = "payout_failed"
)

// OutboxDLQErrorReason records why the relay stopped trying a row.
type OutboxDLQErrorReason string

const (
	OutboxDLQReasonMaxAttempts  OutboxDLQErrorReason = "max_attempts"
	OutboxDLQReasonNonRetryable OutboxDLQErrorReason = "non_retryable"
)

var (
	aggregateTypes = set(AggregateAccount, AggregateEscrowHold, AggregateCreditGrant, AggregatePayoutRequest)
	eventTypes     = set(
		EventAccountOpened, EventWalletCashedIn,
		EventEscrowHeld, EventEscrowReleased, EventEscrowReversed,
		EventCreditsGranted,
		EventPayoutRequested, EventPayoutCompleted, EventPayoutFailed,
	)
	dlqReasons = set(OutboxDLQReasonMaxAttempts, OutboxDLQReasonNonRetryable)
)

func set[T ~string](values ...T) map[T]struct{} {
	out := make(map[T]struct{}, len(values))
	for _, v := range values {
		out[v] = struct{}{}
	}
	return out
}

func (a OutboxAggregateType) IsValid() bool {
	_, ok := aggregateTypes[a]
	return ok
}

func (e OutboxEventType) IsValid() bool {
	_, ok := eventTypes[e]
	return ok
}

func (r OutboxDLQErrorReason) IsValid() bool {
	_, ok := dlqReasons[r]
	return ok
}
