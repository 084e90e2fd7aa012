package entitlement

import (
	"github.com/frahmantamala/vpn-billing/internal/core/datamodel/subscription"
	"github.com/frahmantamala/vpn-billing/internal/core/datamodel/user"
)

// RepositoryAPI is the entitlement store. Implementations handed to the
// payment engine must be bound to the reconciliation transaction so a grant
// commits or rolls back together with the payment status flip.
type RepositoryAPI interface {
	GetUser(id int64) (*user.User, error)
	GetSubscription(userID int64) (*subscription.Subscription, error)
	SaveSubscription(sub *subscription.Subscription) error
	HasBonusForPayment(paymentID int64) (bool, error)
	CreateReferralBonus(bonus *subscription.ReferralBonus) error
}
