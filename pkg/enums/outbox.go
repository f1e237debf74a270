package enums

// OutboxAggregateType names the entity an outbox event is about.
type OutboxAggregateType string

const (
	AggregateJob     OutboxAggregateType = "job"
	AggregateAccount OutboxAggregateType = "account"
)

func (a OutboxAggregateType) IsValid() bool {
	return a == AggregateJob || a == AggregateAccount
}

// OutboxEventType is the event_type column of outbox rows and the
// event_type attribute on published messages.
type OutboxEventType string

const (
	EventJobCreated      OutboxEventType = "job_created"
	EventJobSettled      OutboxEventType = "job_settled"
	EventJobRefunded     OutboxEventType = "job_refunded"
	EventBalanceCredited OutboxEventType = "balance_credited"
	// EventJobOutcomeReported only travels inbound, from workers.
	EventJobOutcomeReported OutboxEventType = "job_outcome_reported"
)

func (e OutboxEventType) IsValid() bool {
	switch e {
	case EventJobCreated, EventJobSettled, EventJobRefunded, EventBalanceCredited, EventJobOutcomeReported:
		return true
	}
	return false
}

// OutboxDLQErrorReason records why the relay gave up on an outbox row.
type OutboxDLQErrorReason string

const (
	OutboxDLQReasonMaxAttempts  OutboxDLQErrorReason = "max_attempts"
	OutboxDLQReasonNonRetryable OutboxDLQErrorReason = "non_retryable"
	OutboxDLQReasonUnroutable   OutboxDLQErrorReason = "unroutable"
)

func (r OutboxDLQErrorReason) IsValid() bool {
	switch r {
	case OutboxDLQReasonMaxAttempts, OutboxDLQReasonNonRetryable, OutboxDLQReasonUnroutable:
		return true
	}
	return false
}
