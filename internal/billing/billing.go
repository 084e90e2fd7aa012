package billing

import (
	"context"
	"time"

	"github.com/frahmantamala/vpn-billing/internal/core/datamodel/paymentmethod"
	"github.com/frahmantamala/vpn-billing/internal/core/datamodel/subscription"
	paymentpkg "github.com/frahmantamala/vpn-billing/internal/payment"
)

// RepositoryAPI is the saved-method and auto-renew store.
type RepositoryAPI interface {
	UpsertMethod(m *paymentmethod.PaymentMethod) error
	ListMethods(userID int64) ([]*paymentmethod.PaymentMethod, error)
	GetMethod(userID, methodID int64) (*paymentmethod.PaymentMethod, error)
	GetSubscription(userID int64) (*subscription.Subscription, error)
	SetAutoRenew(userID int64, enabled bool, methodID *int64) error
	ListDueForRenewal(before time.Time, limit int) ([]*subscription.Subscription, error)
}

// Offer is what an automatic renewal charges for.
type Offer struct {
	Amount      float64
	Currency    string
	Description string
	SaleMode    paymentpkg.SaleMode
	Quantity    int
}

// IntentCreator opens payments; satisfied by the payment engine.
type IntentCreator interface {
	CreateIntent(ctx context.Context, params paymentpkg.CreateIntentParams) (*paymentpkg.IntentResult, error)
}
