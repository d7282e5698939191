// Package audithook bridges loyalty engine lifecycle events to an audit
// trail backend.
//
// It defines a local Recorder interface so the package does not import
// Chronicle directly. Callers inject a RecorderFunc adapter that bridges
// to Chronicle at wiring time.
package audithook

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/xraph/loyalty/customer"
	"github.com/xraph/loyalty/ledger"
	"github.com/xraph/loyalty/merchant"
	"github.com/xraph/loyalty/plugin"
)

// Compile-time interface checks.
var (
	_ plugin.Plugin             = (*Extension)(nil)
	_ plugin.OnPoolCreated      = (*Extension)(nil)
	_ plugin.OnPoolCredited     = (*Extension)(nil)
	_ plugin.OnAccountCreated   = (*Extension)(nil)
	_ plugin.OnPointsCredited   = (*Extension)(nil)
	_ plugin.OnPointsDebited    = (*Extension)(nil)
	_ plugin.OnTransferFailed   = (*Extension)(nil)
	_ plugin.OnIdempotentReplay = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement.
// This matches chronicle.Emitter but is defined locally so that the
// audit_hook package does not import Chronicle directly — callers inject
// the concrete *chronicle.Chronicle at wiring time.
type Recorder interface {
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is a local representation of an audit event.
// It mirrors chronicle/audit.Event but avoids a module dependency.
type AuditEvent struct {
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	Category   string         `json:"category"`
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// Extension bridges loyalty engine lifecycle events to an audit trail backend.
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements plugin.Plugin.
func (e *Extension) Name() string { return "audit-hook" }

// ──────────────────────────────────────────────────
// Pool lifecycle hooks
// ──────────────────────────────────────────────────

// OnPoolCreated implements plugin.OnPoolCreated.
func (e *Extension) OnPoolCreated(ctx context.Context, pool interface{}) error {
	resourceID, kv := poolDetails(pool)
	return e.record(ctx, ActionPoolCreated, SeverityInfo, OutcomeSuccess,
		ResourcePool, resourceID, CategoryPoints, nil, kv...)
}

// OnPoolCredited implements plugin.OnPoolCredited.
func (e *Extension) OnPoolCredited(ctx context.Context, pool interface{}, amount int64) error {
	resourceID, kv := poolDetails(pool)
	kv = append(kv, "amount", amount)
	return e.record(ctx, ActionPoolCredited, SeverityInfo, OutcomeSuccess,
		ResourcePool, resourceID, CategoryPoints, nil, kv...)
}

// ──────────────────────────────────────────────────
// Account lifecycle hooks
// ──────────────────────────────────────────────────

// OnAccountCreated implements plugin.OnAccountCreated.
func (e *Extension) OnAccountCreated(ctx context.Context, account interface{}) error {
	resourceID, kv := accountDetails(account)
	return e.record(ctx, ActionAccountCreated, SeverityInfo, OutcomeSuccess,
		ResourceAccount, resourceID, CategoryAccount, nil, kv...)
}

// ──────────────────────────────────────────────────
// Transfer lifecycle hooks
// ──────────────────────────────────────────────────

// OnPointsCredited implements plugin.OnPointsCredited.
func (e *Extension) OnPointsCredited(ctx context.Context, entry interface{}) error {
	resourceID, kv := entryDetails(entry)
	return e.record(ctx, ActionPointsCredited, SeverityInfo, OutcomeSuccess,
		ResourceEntry, resourceID, CategoryPoints, nil, kv...)
}

// OnPointsDebited implements plugin.OnPointsDebited.
func (e *Extension) OnPointsDebited(ctx context.Context, entry interface{}) error {
	resourceID, kv := entryDetails(entry)
	return e.record(ctx, ActionPointsDebited, SeverityInfo, OutcomeSuccess,
		ResourceEntry, resourceID, CategoryPoints, nil, kv...)
}

// OnTransferFailed implements plugin.OnTransferFailed.
func (e *Extension) OnTransferFailed(ctx context.Context, transfer interface{}, failure error) error {
	_, kv := transferDetails(transfer)
	return e.record(ctx, ActionTransferFailed, SeverityError, OutcomeFailure,
		ResourceTransfer, "", CategoryPoints, failure, kv...)
}

// ──────────────────────────────────────────────────
// Idempotency hooks
// ──────────────────────────────────────────────────

// OnIdempotentReplay implements plugin.OnIdempotentReplay.
func (e *Extension) OnIdempotentReplay(ctx context.Context, caller, key string) error {
	return e.record(ctx, ActionIdempotentReplay, SeverityInfo, OutcomeSuccess,
		ResourceIdempotencyKey, key, CategoryIntegrity, nil,
		"caller", caller,
		"key", key,
	)
}

// ──────────────────────────────────────────────────
// Internal helpers
// ──────────────────────────────────────────────────

// record builds and sends an audit event if the action is enabled.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category string,
	err error,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = err.Error()
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			"action", action,
			"resource_id", resourceID,
			"error", recErr,
		)
	}
	return nil
}

// Hooks receive interface{} values; unknown shapes degrade to an event
// without a resource id rather than an error.

func poolDetails(v interface{}) (string, []any) {
	p, ok := v.(*merchant.Pool)
	if !ok {
		return "", nil
	}
	return p.ID.String(), []any{
		"merchant_id", p.MerchantID,
		"balance", p.Balance.Int64(),
	}
}

func accountDetails(v interface{}) (string, []any) {
	a, ok := v.(*customer.Account)
	if !ok {
		return "", nil
	}
	return a.ID.String(), []any{
		"merchant_id", a.MerchantID,
		"customer_uid", a.CustomerUID,
	}
}

func entryDetails(v interface{}) (string, []any) {
	entry, ok := v.(*ledger.Entry)
	if !ok {
		return "", nil
	}
	return entry.ID.String(), []any{
		"merchant_id", entry.MerchantID,
		"customer_uid", entry.CustomerUID,
		"amount", entry.Amount.Int64(),
		"reference_id", entry.ReferenceID,
	}
}

func transferDetails(v interface{}) (string, []any) {
	t, ok := v.(*ledger.Transfer)
	if !ok {
		return "", nil
	}
	return "", []any{
		"merchant_id", t.MerchantID,
		"customer_uid", t.CustomerUID,
		"direction", string(t.Direction),
		"amount", t.Amount.Int64(),
		"reference_id", t.ReferenceID,
	}
}
