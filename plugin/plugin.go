// Package plugin provides an extensible plugin system for the loyalty engine.
// Plugins can hook into various lifecycle events to extend functionality.
package plugin

import (
	"context"
)

// Plugin is the base interface that all plugins must implement.
type Plugin interface {
	Name() string
}

// ──────────────────────────────────────────────────
// Lifecycle hooks
// ──────────────────────────────────────────────────

// OnInit is called when the plugin is initialized.
type OnInit interface {
	Plugin
	OnInit(ctx context.Context, engine interface{}) error
}

// OnShutdown is called when the plugin is shutting down.
type OnShutdown interface {
	Plugin
	OnShutdown(ctx context.Context) error
}

// ──────────────────────────────────────────────────
// Pool lifecycle hooks
// ──────────────────────────────────────────────────

// OnPoolCreated is called when a merchant pool is created.
type OnPoolCreated interface {
	Plugin
	OnPoolCreated(ctx context.Context, pool interface{}) error
}

// OnPoolCredited is called when a merchant tops up its pool.
type OnPoolCredited interface {
	Plugin
	OnPoolCredited(ctx context.Context, pool interface{}, amount int64) error
}

// ──────────────────────────────────────────────────
// Account lifecycle hooks
// ──────────────────────────────────────────────────

// OnAccountCreated is called when a customer account is created.
type OnAccountCreated interface {
	Plugin
	OnAccountCreated(ctx context.Context, account interface{}) error
}

// ──────────────────────────────────────────────────
// Transfer hooks
// ──────────────────────────────────────────────────

// OnPointsCredited is called after points move from the pool to a customer.
type OnPointsCredited interface {
	Plugin
	OnPointsCredited(ctx context.Context, entry interface{}) error
}

// OnPointsDebited is called after points move from a customer back to the pool.
type OnPointsDebited interface {
	Plugin
	OnPointsDebited(ctx context.Context, entry interface{}) error
}

// OnTransferFailed is called when a transfer is rejected.
type OnTransferFailed interface {
	Plugin
	OnTransferFailed(ctx context.Context, transfer interface{}, err error) error
}

// ──────────────────────────────────────────────────
// Idempotency hooks
// ──────────────────────────────────────────────────

// OnIdempotentReplay is called when a stored response is replayed instead
// of re-running the operation.
type OnIdempotentReplay interface {
	Plugin
	OnIdempotentReplay(ctx context.Context, caller, key string) error
}
