package loyalty

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/xraph/loyalty/bus"
	"github.com/xraph/loyalty/ledger"
)

// Event types for the delegated transfer path.
const (
	EventCreditRequest = "points.credit"
	EventDebitRequest  = "points.debit"
)

// DelegatedTransactor executes transfers by publishing them on the event bus
// and awaiting the correlated reply from the ledger authority. The bus owns
// the request timeout.
type DelegatedTransactor struct {
	bus *bus.Bus
}

var _ Transactor = (*DelegatedTransactor)(nil)

// NewDelegatedTransactor creates the bus-backed transfer strategy.
func NewDelegatedTransactor(b *bus.Bus) *DelegatedTransactor {
	return &DelegatedTransactor{bus: b}
}

// Apply implements Transactor.
func (d *DelegatedTransactor) Apply(ctx context.Context, t *ledger.Transfer) (*ledger.Entry, error) {
	eventType := EventCreditRequest
	if t.Direction == ledger.DirectionDebit {
		eventType = EventDebitRequest
	}

	data, err := d.bus.Request(ctx, eventType, t)
	if err != nil {
		return nil, remoteToSentinel(err)
	}

	var entry ledger.Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("loyalty: decode delegated entry: %w", err)
	}
	return &entry, nil
}

// ServeTransfers registers the transfer handlers on the responder, backed by
// the engine. Call on the authority side before Responder.Start; pair with
// bus.WithErrorMapper(MapError) so business failures cross the wire with
// their codes intact.
func ServeTransfers(r *bus.Responder, e *Engine) {
	r.Handle(EventCreditRequest, transferHandler(e.Credit))
	r.Handle(EventDebitRequest, transferHandler(e.Debit))
}

func transferHandler(apply func(context.Context, *ledger.Transfer) (*ledger.Entry, error)) bus.Handler {
	return func(ctx context.Context, payload json.RawMessage) (any, error) {
		var t ledger.Transfer
		if err := json.Unmarshal(payload, &t); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		return apply(ctx, &t)
	}
}

// MapError converts an engine error into the wire error carried by a reply.
func MapError(err error) *bus.RemoteError {
	return &bus.RemoteError{
		Message:    err.Error(),
		Code:       Code(err),
		StatusCode: HTTPStatus(err),
	}
}

// sentinelByCode inverts the transfer-relevant wire codes so delegated
// failures satisfy the same errors.Is checks as local ones.
var sentinelByCode = map[string]error{
	"insufficient_merchant_points": ErrInsufficientMerchantPoints,
	"insufficient_points":          ErrInsufficientPoints,
	"duplicate_reference":          ErrDuplicateReference,
	"already_exists":               ErrAlreadyExists,
	"not_found":                    ErrNotFound,
	"invalid_request":              ErrInvalidInput,
}

// remoteToSentinel joins the matching local sentinel onto a remote error.
// Unmapped codes and transport failures pass through unchanged.
func remoteToSentinel(err error) error {
	var remote *bus.RemoteError
	if !errors.As(err, &remote) {
		return err
	}
	sentinel, ok := sentinelByCode[remote.Code]
	if !ok {
		return err
	}
	return fmt.Errorf("%w: %w", sentinel, remote)
}
