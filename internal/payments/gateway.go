// Package payments adapts payment service providers to the checkout pipeline.
package payments

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/changerplanet/WebWaka2-sub010/internal/domain"
)

// ErrUnsupportedProvider is returned when the manager cannot locate a gateway.
var ErrUnsupportedProvider = errors.New("payments: unsupported provider")

// ErrInvalidSignature marks a webhook whose signature did not verify.
var ErrInvalidSignature = errors.New("payments: invalid webhook signature")

// LineItem is one entry shown on the hosted payment page.
type LineItem struct {
	Name     string
	SKU      string
	Quantity int64
	Amount   decimal.Decimal
}

// InitiateRequest asks a gateway to start collecting payment for an order.
type InitiateRequest struct {
	Partner        domain.PaymentPartner
	TenantID       string
	OrderID        string
	Reference      string
	Amount         decimal.Decimal
	Currency       string
	Locale         string
	Customer       domain.Customer
	CallbackURL    string
	IdempotencyKey string
	Items          []LineItem
}

// InitiateResult reports the gateway's answer. Success false with a nil error is a declined
// initiation; transport or provider faults come back as errors.
type InitiateResult struct {
	Success          bool
	TransactionID    string
	Reference        string
	AuthorizationURL string
	ExpiresAt        time.Time
	Error            string
}

// Confirmation is a verified gateway notification about a payment reference.
type Confirmation struct {
	Provider      string
	EventID       string
	Reference     string
	TransactionID string
	Succeeded     bool
	FailureReason string
	// Ignored marks notifications that do not settle a payment.
	Ignored bool
}

// RefundRequest returns collected funds for an order.
type RefundRequest struct {
	Partner        domain.PaymentPartner
	TransactionID  string
	Reason         string
	IdempotencyKey string
}

// Gateway is implemented by each payment provider adapter.
type Gateway interface {
	Name() string
	IsAvailable(ctx context.Context, partner domain.PaymentPartner) bool
	InitiatePayment(ctx context.Context, req InitiateRequest) (InitiateResult, error)
	ParseConfirmation(ctx context.Context, payload []byte, header http.Header) (Confirmation, error)
}

// Refunder is implemented by gateways that can reverse a captured payment.
type Refunder interface {
	Refund(ctx context.Context, req RefundRequest) error
}

// Manager routes calls to the gateway registered under a provider name.
type Manager struct {
	gateways map[string]Gateway
}

// NewManager registers gateways by their Name.
func NewManager(gateways ...Gateway) (*Manager, error) {
	if len(gateways) == 0 {
		return nil, errors.New("payments: at least one gateway is required")
	}
	m := &Manager{gateways: make(map[string]Gateway, len(gateways))}
	for _, gw := range gateways {
		if gw == nil {
			return nil, errors.New("payments: nil gateway")
		}
		key := normaliseProvider(gw.Name())
		if key == "" {
			return nil, errors.New("payments: gateway name is required")
		}
		if _, dup := m.gateways[key]; dup {
			return nil, fmt.Errorf("payments: gateway %q registered twice", key)
		}
		m.gateways[key] = gw
	}
	return m, nil
}

// Gateway resolves the adapter for provider.
func (m *Manager) Gateway(provider string) (Gateway, error) {
	if m == nil {
		return nil, ErrUnsupportedProvider
	}
	gw, ok := m.gateways[normaliseProvider(provider)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedProvider, provider)
	}
	return gw, nil
}

// Providers lists registered provider names.
func (m *Manager) Providers() []string {
	if m == nil {
		return nil
	}
	out := make([]string, 0, len(m.gateways))
	for name := range m.gateways {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func normaliseProvider(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
