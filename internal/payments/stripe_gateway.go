package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
	"github.com/stripe/stripe-go/v78/webhook"

	"github.com/changerplanet/WebWaka2-sub010/internal/domain"
	"github.com/changerplanet/WebWaka2-sub010/internal/platform/textutil"
)

const (
	stripeProviderName    = "stripe"
	stripeSignatureHeader = "Stripe-Signature"
	stripeSessionTTL      = 30 * time.Minute
	stripeProbeTimeout    = 3 * time.Second
)

// StripeLogger defines the logging contract for Stripe gateway operations.
type StripeLogger func(ctx context.Context, event string, fields map[string]any)

type stripeSessionAPI interface {
	New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

type stripeBalanceAPI interface {
	Get(params *stripe.BalanceParams) (*stripe.Balance, error)
}

type stripeRefundAPI interface {
	New(params *stripe.RefundParams) (*stripe.Refund, error)
}

type stripeClients struct {
	sessions stripeSessionAPI
	balance  stripeBalanceAPI
	refunds  stripeRefundAPI
}

// StripeGatewayConfig configures the StripeGateway.
type StripeGatewayConfig struct {
	APIKey        string
	WebhookSecret string
	Backends      *stripe.Backends
	Logger        StripeLogger
	Clock         func() time.Time
	clients       *stripeClients
}

// StripeGateway collects payment through hosted Stripe Checkout sessions. Partner account ids are
// treated as Connect accounts.
type StripeGateway struct {
	api           stripeClients
	webhookSecret string
	clock         func() time.Time
	logger        StripeLogger
}

var (
	_ Gateway  = (*StripeGateway)(nil)
	_ Refunder = (*StripeGateway)(nil)
)

// NewStripeGateway constructs a Stripe gateway using the given configuration.
func NewStripeGateway(cfg StripeGatewayConfig) (*StripeGateway, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" && cfg.clients == nil {
		return nil, errors.New("stripe: api key is required")
	}

	var clients stripeClients
	if cfg.clients != nil {
		clients = *cfg.clients
	} else {
		sc := client.New(apiKey, cfg.Backends)
		clients = stripeClients{
			sessions: sc.CheckoutSessions,
			balance:  sc.Balance,
			refunds:  sc.Refunds,
		}
	}
	if clients.sessions == nil || clients.balance == nil || clients.refunds == nil {
		return nil, errors.New("stripe: incomplete client configuration")
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &StripeGateway{
		api:           clients,
		webhookSecret: strings.TrimSpace(cfg.WebhookSecret),
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

func (g *StripeGateway) Name() string { return stripeProviderName }

// IsAvailable probes the partner account with a balance read.
func (g *StripeGateway) IsAvailable(ctx context.Context, partner domain.PaymentPartner) bool {
	ctx, cancel := context.WithTimeout(ctx, stripeProbeTimeout)
	defer cancel()

	params := &stripe.BalanceParams{}
	params.Context = ctx
	if account := strings.TrimSpace(partner.AccountID); account != "" {
		params.SetStripeAccount(account)
	}
	if _, err := g.api.balance.Get(params); err != nil {
		g.logger(ctx, "payments.stripe.unavailable", map[string]any{
			"partnerId": partner.ID,
			"error":     err,
		})
		return false
	}
	return true
}

// InitiatePayment creates a Checkout session. Card and request errors are reported as declined
// initiations; anything else is returned as an error.
func (g *StripeGateway) InitiatePayment(ctx context.Context, req InitiateRequest) (InitiateResult, error) {
	currency := strings.ToLower(strings.TrimSpace(req.Currency))
	amount, err := toMinorUnits(req.Amount, req.Currency)
	if err != nil {
		return InitiateResult{}, fmt.Errorf("stripe: %w", err)
	}

	metadata := map[string]string{
		"tenantId":  req.TenantID,
		"orderId":   req.OrderID,
		"reference": req.Reference,
	}
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		ClientReferenceID: stripe.String(req.Reference),
		SuccessURL:        stripe.String(callbackURL(req.CallbackURL, req.Reference, "success")),
		CancelURL:         stripe.String(callbackURL(req.CallbackURL, req.Reference, "cancelled")),
		ExpiresAt:         stripe.Int64(g.clock().Add(stripeSessionTTL).Unix()),
		Metadata:          metadata,
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{Metadata: metadata},
	}
	params.Context = ctx
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}
	if account := strings.TrimSpace(req.Partner.AccountID); account != "" {
		params.SetStripeAccount(account)
	}
	if email := strings.TrimSpace(req.Customer.Email); email != "" {
		params.CustomerEmail = stripe.String(email)
	}
	if lang := textutil.BaseLanguage(req.Locale); lang != "" {
		params.Locale = stripe.String(lang)
	}

	lineItems, err := stripeLineItems(req.Items, req.Currency)
	if err != nil {
		return InitiateResult{}, fmt.Errorf("stripe: %w", err)
	}
	// Line items carry undiscounted prices; a single total line keeps the charged amount exact.
	if len(lineItems) == 0 || !sumMatches(req.Items, req.Amount) {
		lineItems = []*stripe.CheckoutSessionLineItemParams{{
			Quantity: stripe.Int64(1),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(currency),
				UnitAmount: stripe.Int64(amount),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String("Order " + req.Reference),
				},
			},
		}}
	}
	params.LineItems = lineItems

	session, err := g.api.sessions.New(params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && declined(stripeErr) {
			g.logger(ctx, "payments.stripe.session.declined", map[string]any{
				"orderId": req.OrderID,
				"code":    string(stripeErr.Code),
				"error":   err,
			})
			return InitiateResult{Success: false, Error: stripeErr.Msg}, nil
		}
		return InitiateResult{}, fmt.Errorf("stripe: create checkout session: %w", err)
	}

	intentID := ""
	if session.PaymentIntent != nil {
		intentID = session.PaymentIntent.ID
	}
	g.logger(ctx, "payments.stripe.session.created", map[string]any{
		"orderId":       req.OrderID,
		"sessionId":     session.ID,
		"paymentIntent": intentID,
		"amount":        amount,
		"currency":      currency,
	})

	expiresAt := g.clock().Add(stripeSessionTTL)
	if session.ExpiresAt != 0 {
		expiresAt = time.Unix(session.ExpiresAt, 0).UTC()
	}
	return InitiateResult{
		Success:          true,
		TransactionID:    intentID,
		Reference:        session.ID,
		AuthorizationURL: session.URL,
		ExpiresAt:        expiresAt,
	}, nil
}

// ParseConfirmation verifies the webhook signature and maps Checkout session events.
func (g *StripeGateway) ParseConfirmation(ctx context.Context, payload []byte, header http.Header) (Confirmation, error) {
	if g.webhookSecret == "" {
		return Confirmation{}, errors.New("stripe: webhook secret is not configured")
	}
	event, err := webhook.ConstructEventWithOptions(payload, header.Get(stripeSignatureHeader), g.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return Confirmation{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	out := Confirmation{Provider: stripeProviderName, EventID: event.ID}
	eventType := string(event.Type)
	switch eventType {
	case "checkout.session.completed",
		"checkout.session.async_payment_succeeded",
		"checkout.session.async_payment_failed",
		"checkout.session.expired":
	default:
		out.Ignored = true
		return out, nil
	}
	if event.Data == nil {
		return Confirmation{}, errors.New("stripe: event has no data")
	}

	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return Confirmation{}, fmt.Errorf("stripe: decode checkout session: %w", err)
	}
	out.Reference = session.ID
	if session.PaymentIntent != nil {
		out.TransactionID = session.PaymentIntent.ID
	}

	switch eventType {
	case "checkout.session.completed":
		// Delayed methods complete unpaid and settle through the async events.
		if session.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
			out.Ignored = true
			return out, nil
		}
		out.Succeeded = true
	case "checkout.session.async_payment_succeeded":
		out.Succeeded = true
	case "checkout.session.async_payment_failed":
		out.FailureReason = "payment_failed"
	case "checkout.session.expired":
		out.FailureReason = "session_expired"
	}

	g.logger(ctx, "payments.stripe.webhook.parsed", map[string]any{
		"eventId":   event.ID,
		"eventType": eventType,
		"sessionId": session.ID,
		"succeeded": out.Succeeded,
	})
	return out, nil
}

// Refund reverses the payment intent recorded as the transaction id.
func (g *StripeGateway) Refund(ctx context.Context, req RefundRequest) error {
	if strings.TrimSpace(req.TransactionID) == "" {
		return errors.New("stripe: transaction id is required for refunds")
	}
	params := &stripe.RefundParams{PaymentIntent: stripe.String(req.TransactionID)}
	params.Context = ctx
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}
	if account := strings.TrimSpace(req.Partner.AccountID); account != "" {
		params.SetStripeAccount(account)
	}
	if reason := mapStripeRefundReason(req.Reason); reason != "" {
		params.Reason = stripe.String(reason)
	}
	refund, err := g.api.refunds.New(params)
	if err != nil {
		return fmt.Errorf("stripe: refund payment intent: %w", err)
	}
	g.logger(ctx, "payments.stripe.refund.created", map[string]any{
		"paymentIntent": req.TransactionID,
		"refundId":      refund.ID,
	})
	return nil
}

func declined(err *stripe.Error) bool {
	switch err.Type {
	case stripe.ErrorTypeCard, stripe.ErrorTypeInvalidRequest:
		return true
	}
	return false
}

func stripeLineItems(items []LineItem, currency string) ([]*stripe.CheckoutSessionLineItemParams, error) {
	out := make([]*stripe.CheckoutSessionLineItemParams, 0, len(items))
	for _, item := range items {
		unit, err := toMinorUnits(item.Amount, currency)
		if err != nil {
			return nil, err
		}
		line := &stripe.CheckoutSessionLineItemParams{
			Quantity: stripe.Int64(max(item.Quantity, 1)),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(strings.ToLower(currency)),
				UnitAmount: stripe.Int64(unit),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(item.Name),
				},
			},
		}
		if item.SKU != "" {
			line.PriceData.ProductData.Metadata = map[string]string{"sku": item.SKU}
		}
		out = append(out, line)
	}
	return out, nil
}

func sumMatches(items []LineItem, total decimal.Decimal) bool {
	sum := decimal.Zero
	for _, item := range items {
		sum = sum.Add(item.Amount.Mul(decimal.NewFromInt(max(item.Quantity, 1))))
	}
	return sum.Equal(total)
}

// toMinorUnits converts a decimal amount to the currency's smallest unit.
func toMinorUnits(amount decimal.Decimal, currency string) (int64, error) {
	scale, err := textutil.CurrencyScale(currency)
	if err != nil {
		return 0, err
	}
	if amount.IsNegative() {
		return 0, fmt.Errorf("negative amount %s", amount)
	}
	return amount.Shift(int32(scale)).Round(0).IntPart(), nil
}

func callbackURL(base, reference, status string) string {
	u, err := url.Parse(strings.TrimSpace(base))
	if err != nil || u.Scheme == "" {
		u = &url.URL{Scheme: "https", Host: "localhost", Path: "/checkout/complete"}
	}
	q := u.Query()
	q.Set("reference", reference)
	q.Set("status", status)
	u.RawQuery = q.Encode()
	return u.String()
}

func mapStripeRefundReason(reason string) string {
	switch strings.ToLower(strings.TrimSpace(reason)) {
	case string(stripe.RefundReasonDuplicate):
		return string(stripe.RefundReasonDuplicate)
	case string(stripe.RefundReasonFraudulent):
		return string(stripe.RefundReasonFraudulent)
	case string(stripe.RefundReasonRequestedByCustomer):
		return string(stripe.RefundReasonRequestedByCustomer)
	default:
		return ""
	}
}
