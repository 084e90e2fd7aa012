package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

type Provider string

const (
	ProviderYooKassa  Provider = "yookassa"
	ProviderCryptoPay Provider = "cryptopay"
	ProviderFreeKassa Provider = "freekassa"
	ProviderPlatega   Provider = "platega"
	ProviderSeverPay  Provider = "severpay"
	ProviderStars     Provider = "telegram_stars"
)

func (p Provider) Valid() bool {
	switch p {
	case ProviderYooKassa, ProviderCryptoPay, ProviderFreeKassa, ProviderPlatega, ProviderSeverPay, ProviderStars:
		return true
	}
	return false
}

const (
	StatusSucceeded      = "succeeded"
	StatusFailed         = "failed"
	StatusFailedCreation = "failed_creation"
	StatusCanceled       = "canceled"

	pendingPrefix = "pending_"
)

// PendingStatus is the status a record holds from creation until its
// provider reports a terminal outcome.
func PendingStatus(p Provider) string {
	return pendingPrefix + string(p)
}

func IsPending(status string) bool {
	return strings.HasPrefix(status, pendingPrefix)
}

func IsTerminal(status string) bool {
	switch status {
	case StatusSucceeded, StatusFailed, StatusFailedCreation, StatusCanceled:
		return true
	}
	return false
}

type SaleMode string

const (
	SaleModeSubscription SaleMode = "subscription"
	SaleModeTraffic      SaleMode = "traffic"
)

func (m SaleMode) Valid() bool {
	return m == SaleModeSubscription || m == SaleModeTraffic
}

// Outcome is a provider verdict normalized across gateways.
type Outcome string

const (
	OutcomeSuccess  Outcome = "success"
	OutcomeFailure  Outcome = "failure"
	OutcomeCanceled Outcome = "canceled"
	OutcomePending  Outcome = "pending"
)

// CallbackEvent is the result of authenticating and parsing one webhook
// delivery. LocalPaymentID is zero when the provider only echoes its own id.
type CallbackEvent struct {
	Provider          Provider
	ProviderPaymentID string
	LocalPaymentID    int64
	Outcome           Outcome
	Amount            float64
	Currency          string
	SavedMethod       *SavedMethodInfo
	Raw               json.RawMessage
}

// IntentRequest carries everything a gateway needs to open a payment.
// PaymentID is the already-persisted local record id, which providers echo
// back through order ids or invoice payloads.
type IntentRequest struct {
	PaymentID         int64
	UserID            int64
	Amount            float64
	Currency          string
	Description       string
	SaleMode          SaleMode
	Quantity          int
	Email             string
	SavedMethodID     string
	SavePaymentMethod bool
}

// Intent is the gateway's answer: where the customer pays and how the
// provider will refer to this payment from now on.
type Intent struct {
	ProviderPaymentID string
	ConfirmationURL   string
	SavedMethod       *SavedMethodInfo
}

// SavedMethodInfo is returned when a gateway immediately reports a reusable
// payment token, as YooKassa does for saved-card charges.
type SavedMethodInfo struct {
	ProviderMethodID string
	MethodType       string
	Title            string
}

type Gateway interface {
	Provider() Provider
	CreateIntent(ctx context.Context, req IntentRequest) (*Intent, error)
}

// CallbackVerifier authenticates a raw webhook delivery. Implementations
// must reject before any datastore access so forged traffic stays cheap.
type CallbackVerifier interface {
	VerifyCallback(ctx context.Context, header http.Header, body []byte) (*CallbackEvent, error)
}

// StatusQuerier is implemented by gateways that can be polled, which lets
// the sweeper resolve pending payments whose webhooks never arrived.
type StatusQuerier interface {
	QueryStatus(ctx context.Context, providerPaymentID string) (Outcome, error)
}

// Registry holds the configured gateways keyed by provider tag.
type Registry struct {
	gateways map[Provider]Gateway
}

func NewRegistry() *Registry {
	return &Registry{gateways: make(map[Provider]Gateway)}
}

func (r *Registry) Register(g Gateway) {
	r.gateways[g.Provider()] = g
}

func (r *Registry) Gateway(p Provider) (Gateway, bool) {
	g, ok := r.gateways[p]
	return g, ok
}

func (r *Registry) Verifier(p Provider) (CallbackVerifier, bool) {
	g, ok := r.gateways[p]
	if !ok {
		return nil, false
	}
	v, ok := g.(CallbackVerifier)
	return v, ok
}

func (r *Registry) Querier(p Provider) (StatusQuerier, bool) {
	g, ok := r.gateways[p]
	if !ok {
		return nil, false
	}
	q, ok := g.(StatusQuerier)
	return q, ok
}

func (r *Registry) Providers() []Provider {
	out := make([]Provider, 0, len(r.gateways))
	for p := range r.gateways {
		out = append(out, p)
	}
	return out
}

// Snapshot freezes the billing settings a reconciliation run depends on.
// The engine never reads live configuration mid-run, so a settings change
// cannot split one payment's handling across two policies.
type Snapshot struct {
	ReferralEnabled   bool
	ReferralBonusDays int
	RefereeBonusDays  int
	PromoBonusOnce    bool
	AmountTolerance   float64
	NotifyUsers       bool
	LogPayments       bool
}

// FormatInvoicePayload packs the local payment id, quantity and sale mode
// into the opaque payload Telegram and CryptoPay echo back on success.
func FormatInvoicePayload(paymentID int64, quantity int, mode SaleMode) string {
	return fmt.Sprintf("%d:%d:%s", paymentID, quantity, mode)
}

func ParseInvoicePayload(payload string) (paymentID int64, quantity int, mode SaleMode, err error) {
	parts := strings.Split(payload, ":")
	if len(parts) != 3 {
		return 0, 0, "", fmt.Errorf("malformed invoice payload: %q", payload)
	}
	paymentID, err = strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, 0, "", fmt.Errorf("invoice payload payment id: %w", err)
	}
	quantity, err = strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, "", fmt.Errorf("invoice payload quantity: %w", err)
	}
	mode = SaleMode(parts[2])
	if !mode.Valid() {
		return 0, 0, "", fmt.Errorf("invoice payload sale mode: %q", parts[2])
	}
	return paymentID, quantity, mode, nil
}
