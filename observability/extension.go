// Package observability provides a metrics extension for Loyalty that records
// lifecycle event counts via go-utils MetricFactory.
package observability

import (
	"context"

	"github.com/xraph/loyalty/ledger"
	"github.com/xraph/loyalty/plugin"
)

// Ensure MetricsExtension implements required interfaces.
var (
	_ plugin.Plugin             = (*MetricsExtension)(nil)
	_ plugin.OnInit             = (*MetricsExtension)(nil)
	_ plugin.OnPoolCreated      = (*MetricsExtension)(nil)
	_ plugin.OnPoolCredited     = (*MetricsExtension)(nil)
	_ plugin.OnAccountCreated   = (*MetricsExtension)(nil)
	_ plugin.OnPointsCredited   = (*MetricsExtension)(nil)
	_ plugin.OnPointsDebited    = (*MetricsExtension)(nil)
	_ plugin.OnTransferFailed   = (*MetricsExtension)(nil)
	_ plugin.OnIdempotentReplay = (*MetricsExtension)(nil)
)

// Counter interface for metric counters.
type Counter interface {
	Inc()
	Add(float64)
}

// Histogram interface for metric histograms.
type Histogram interface {
	Observe(float64)
}

// MetricFactory creates metrics.
type MetricFactory interface {
	Counter(name string) Counter
	Histogram(name string) Histogram
}

// MetricsExtension records system-wide lifecycle metrics.
// Register it as a Loyalty plugin to automatically track points metrics.
type MetricsExtension struct {
	factory MetricFactory

	// Pool metrics
	PoolCreated        Counter
	PoolCredited       Counter
	PoolCreditedPoints Counter

	// Account metrics
	AccountCreated Counter

	// Transfer metrics
	PointsCredited  Counter
	PointsDebited   Counter
	TransferPoints  Histogram
	TransfersFailed Counter

	// Idempotency metrics
	IdempotentReplays Counter

	// Error metrics
	StoreErrors  Counter
	PluginErrors Counter
}

// NewMetricsExtension creates a MetricsExtension with the provided MetricFactory.
// The factory is typically an adapter over the host application's metrics
// registry.
func NewMetricsExtension(factory MetricFactory) *MetricsExtension {
	return &MetricsExtension{
		factory: factory,

		// Pool metrics
		PoolCreated:        factory.Counter("loyalty.pool.created"),
		PoolCredited:       factory.Counter("loyalty.pool.credited"),
		PoolCreditedPoints: factory.Counter("loyalty.pool.credited.points"),

		// Account metrics
		AccountCreated: factory.Counter("loyalty.account.created"),

		// Transfer metrics
		PointsCredited:  factory.Counter("loyalty.points.credited"),
		PointsDebited:   factory.Counter("loyalty.points.debited"),
		TransferPoints:  factory.Histogram("loyalty.transfer.points"),
		TransfersFailed: factory.Counter("loyalty.transfer.failed"),

		// Idempotency metrics
		IdempotentReplays: factory.Counter("loyalty.idempotency.replays"),

		// Error metrics
		StoreErrors:  factory.Counter("loyalty.store.errors"),
		PluginErrors: factory.Counter("loyalty.plugin.errors"),
	}
}

// Name implements plugin.Plugin.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// OnInit implements plugin.OnInit.
func (m *MetricsExtension) OnInit(_ context.Context, _ interface{}) error {
	// No initialization needed
	return nil
}

// ──────────────────────────────────────────────────
// Pool lifecycle hooks
// ──────────────────────────────────────────────────

// OnPoolCreated implements plugin.OnPoolCreated.
func (m *MetricsExtension) OnPoolCreated(_ context.Context, _ interface{}) error {
	m.PoolCreated.Inc()
	return nil
}

// OnPoolCredited implements plugin.OnPoolCredited.
func (m *MetricsExtension) OnPoolCredited(_ context.Context, _ interface{}, amount int64) error {
	m.PoolCredited.Inc()
	m.PoolCreditedPoints.Add(float64(amount))
	return nil
}

// ──────────────────────────────────────────────────
// Account lifecycle hooks
// ──────────────────────────────────────────────────

// OnAccountCreated implements plugin.OnAccountCreated.
func (m *MetricsExtension) OnAccountCreated(_ context.Context, _ interface{}) error {
	m.AccountCreated.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Transfer lifecycle hooks
// ──────────────────────────────────────────────────

// OnPointsCredited implements plugin.OnPointsCredited.
func (m *MetricsExtension) OnPointsCredited(_ context.Context, entry interface{}) error {
	m.PointsCredited.Inc()
	m.observeAmount(entry)
	return nil
}

// OnPointsDebited implements plugin.OnPointsDebited.
func (m *MetricsExtension) OnPointsDebited(_ context.Context, entry interface{}) error {
	m.PointsDebited.Inc()
	m.observeAmount(entry)
	return nil
}

// OnTransferFailed implements plugin.OnTransferFailed.
func (m *MetricsExtension) OnTransferFailed(_ context.Context, _ interface{}, _ error) error {
	m.TransfersFailed.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Idempotency lifecycle hooks
// ──────────────────────────────────────────────────

// OnIdempotentReplay implements plugin.OnIdempotentReplay.
func (m *MetricsExtension) OnIdempotentReplay(_ context.Context, _, _ string) error {
	m.IdempotentReplays.Inc()
	return nil
}

// observeAmount records the transfer size when the hook argument carries
// a ledger entry.
func (m *MetricsExtension) observeAmount(v interface{}) {
	if entry, ok := v.(*ledger.Entry); ok {
		m.TransferPoints.Observe(float64(entry.Amount.Int64()))
	}
}
