package webhook

import (
	"context"
	"time"

	"github.com/xraph/loyalty/id"
	"github.com/xraph/loyalty/types"
)

// Event is the JSON body delivered to merchant endpoints.
type Event struct {
	ID        id.EventID `json:"id"`
	Event     string     `json:"event"`
	CreatedAt time.Time  `json:"created_at"`
	Data      any        `json:"data"`
}

// Endpoint is a merchant's delivery target and signing secret.
type Endpoint struct {
	types.Entity
	MerchantID string `json:"merchant_id"`
	URL        string `json:"url"`
	Secret     string `json:"secret"`
}

// Delivery is the recorded outcome of one dispatched event.
type Delivery struct {
	ID          id.DeliveryID `json:"id"`
	MerchantID  string        `json:"merchant_id"`
	Event       string        `json:"event"`
	URL         string        `json:"url"`
	Attempts    int           `json:"attempts"`
	Success     bool          `json:"success"`
	Error       string        `json:"error,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	CompletedAt time.Time     `json:"completed_at"`
}

// Source resolves the delivery endpoint for a merchant.
type Source interface {
	GetWebhookEndpoint(ctx context.Context, merchantID string) (*Endpoint, error)
}
