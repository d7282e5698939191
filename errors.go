package loyalty

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/xraph/loyalty/bus"
	"github.com/xraph/loyalty/idempotency"
)

// Sentinel errors for common failure scenarios.
var (
	// General errors
	ErrNotFound      = errors.New("loyalty: not found")
	ErrAlreadyExists = errors.New("loyalty: already exists")
	ErrInvalidInput  = errors.New("loyalty: invalid input")

	// Pool errors
	ErrPoolNotFound               = errors.New("loyalty: merchant pool not found")
	ErrPoolExists                 = errors.New("loyalty: merchant pool already exists")
	ErrInsufficientMerchantPoints = errors.New("loyalty: insufficient merchant pool balance")

	// Account errors
	ErrAccountNotFound    = errors.New("loyalty: customer account not found")
	ErrInsufficientPoints = errors.New("loyalty: insufficient customer balance")

	// Transfer errors
	ErrInvalidAmount      = errors.New("loyalty: amount must be positive")
	ErrInvalidDirection   = errors.New("loyalty: invalid transfer direction")
	ErrDuplicateReference = errors.New("loyalty: reference already used")
	ErrEntryNotFound      = errors.New("loyalty: ledger entry not found")

	// Webhook errors
	ErrWebhookNotConfigured = errors.New("loyalty: webhook endpoint not configured")

	// Store errors
	ErrStoreNotReady     = errors.New("loyalty: store not ready")
	ErrStoreClosed       = errors.New("loyalty: store is closed")
	ErrTransactionFailed = errors.New("loyalty: transaction failed")
	ErrMigrationFailed   = errors.New("loyalty: migration failed")
)

// ValidationError represents a validation failure with details.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("loyalty: validation failed for %s: %s", e.Field, e.Message)
}

// MultiError represents multiple errors that occurred.
type MultiError struct {
	Errors []error
}

func (e MultiError) Error() string {
	if len(e.Errors) == 0 {
		return "loyalty: no errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	return fmt.Sprintf("loyalty: %d errors occurred", len(e.Errors))
}

// Add adds an error to the multi-error.
func (e *MultiError) Add(err error) {
	if err != nil {
		e.Errors = append(e.Errors, err)
	}
}

// HasErrors returns true if there are any errors.
func (e MultiError) HasErrors() bool {
	return len(e.Errors) > 0
}

// First returns the first error or nil.
func (e MultiError) First() error {
	if len(e.Errors) > 0 {
		return e.Errors[0]
	}
	return nil
}

// IsNotFound returns true if the error is a not found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrPoolNotFound) ||
		errors.Is(err, ErrAccountNotFound) ||
		errors.Is(err, ErrEntryNotFound) ||
		errors.Is(err, ErrWebhookNotConfigured)
}

// IsInsufficientBalance returns true if the error is a balance guard failure
// on either side of a transfer.
func IsInsufficientBalance(err error) bool {
	return errors.Is(err, ErrInsufficientMerchantPoints) ||
		errors.Is(err, ErrInsufficientPoints)
}

// IsValidation returns true if the error reports malformed input.
func IsValidation(err error) bool {
	if errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInvalidDirection) ||
		errors.Is(err, idempotency.ErrKeyRequired) ||
		errors.Is(err, idempotency.ErrInvalidKey) {
		return true
	}
	var ve ValidationError
	if errors.As(err, &ve) {
		return true
	}
	var me MultiError
	return errors.As(err, &me)
}

// IsConflict returns true if the error reports a uniqueness collision.
func IsConflict(err error) bool {
	return errors.Is(err, ErrAlreadyExists) ||
		errors.Is(err, ErrPoolExists) ||
		errors.Is(err, ErrDuplicateReference)
}

// IsRetryable returns true if the error is temporary and the operation can be retried.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStoreNotReady) ||
		errors.Is(err, ErrTransactionFailed) ||
		errors.Is(err, bus.ErrTimeout) ||
		errors.Is(err, bus.ErrNoSubscribers) ||
		errors.Is(err, bus.ErrClosed)
}

// HTTPStatus maps an error to the HTTP status code the API layer should
// respond with. Remote errors carry the status the authority chose.
func HTTPStatus(err error) int {
	var remote *bus.RemoteError
	if errors.As(err, &remote) && remote.StatusCode > 0 {
		return remote.StatusCode
	}

	switch {
	case IsValidation(err), IsInsufficientBalance(err):
		return http.StatusBadRequest
	case IsNotFound(err):
		return http.StatusNotFound
	case IsConflict(err):
		return http.StatusConflict
	case errors.Is(err, bus.ErrTimeout):
		return http.StatusGatewayTimeout
	case IsRetryable(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Code maps an error to its stable wire code. Unrecognized errors map to
// internal_error so internals never leak to callers.
func Code(err error) string {
	var remote *bus.RemoteError
	if errors.As(err, &remote) && remote.Code != "" {
		return remote.Code
	}

	switch {
	case errors.Is(err, ErrInsufficientMerchantPoints):
		return "insufficient_merchant_points"
	case errors.Is(err, ErrInsufficientPoints):
		return "insufficient_points"
	case errors.Is(err, ErrDuplicateReference):
		return "duplicate_reference"
	case errors.Is(err, ErrPoolExists), errors.Is(err, ErrAlreadyExists):
		return "already_exists"
	case IsNotFound(err):
		return "not_found"
	case errors.Is(err, bus.ErrTimeout):
		return "event_timeout"
	case errors.Is(err, bus.ErrNoSubscribers):
		return "no_subscribers"
	case errors.Is(err, bus.ErrClosed):
		return "bus_closed"
	case errors.Is(err, idempotency.ErrKeyRequired):
		return "idempotency_key_required"
	case errors.Is(err, idempotency.ErrInvalidKey):
		return "invalid_idempotency_key"
	case IsValidation(err):
		return "invalid_request"
	default:
		return "internal_error"
	}
}
