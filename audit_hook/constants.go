package audithook

// Action constants for audit events.
const (
	// Pool actions
	ActionPoolCreated  = "pool.created"
	ActionPoolCredited = "pool.credited"

	// Account actions
	ActionAccountCreated = "account.created"

	// Transfer actions
	ActionPointsCredited = "points.credited"
	ActionPointsDebited  = "points.debited"
	ActionTransferFailed = "transfer.failed"

	// Idempotency actions
	ActionIdempotentReplay = "idempotency.replayed"
)

// Resource constants for audit events.
const (
	ResourcePool           = "pool"
	ResourceAccount        = "account"
	ResourceEntry          = "entry"
	ResourceTransfer       = "transfer"
	ResourceIdempotencyKey = "idempotency_key"
)

// Category constants for audit events.
const (
	CategoryPoints    = "points"
	CategoryAccount   = "account"
	CategoryIntegrity = "integrity"
)

// Severity levels for audit events.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

// Outcome values for audit events.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomePartial = "partial"
)
