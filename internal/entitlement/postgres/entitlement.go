package postgres

import (
	"github.com/frahmantamala/vpn-billing/internal/core/datamodel/subscription"
	"github.com/frahmantamala/vpn-billing/internal/core/datamodel/user"
	"github.com/frahmantamala/vpn-billing/internal/entitlement"
	"gorm.io/gorm"
)

type EntitlementRepository struct {
	db *gorm.DB
}

// NewEntitlementRepository binds the store to db, which inside a
// reconciliation is the open transaction handle.
func NewEntitlementRepository(db *gorm.DB) entitlement.RepositoryAPI {
	return &EntitlementRepository{db: db}
}

func (r *EntitlementRepository) GetUser(id int64) (*user.User, error) {
	var u user.User
	if err := r.db.First(&u, id).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *EntitlementRepository) GetSubscription(userID int64) (*subscription.Subscription, error) {
	var sub subscription.Subscription
	if err := r.db.Where("user_id = ?", userID).First(&sub).Error; err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *EntitlementRepository) SaveSubscription(sub *subscription.Subscription) error {
	return r.db.Save(sub).Error
}

func (r *EntitlementRepository) HasBonusForPayment(paymentID int64) (bool, error) {
	var count int64
	err := r.db.Model(&subscription.ReferralBonus{}).
		Where("payment_id = ?", paymentID).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *EntitlementRepository) CreateReferralBonus(bonus *subscription.ReferralBonus) error {
	return r.db.Create(bonus).Error
}
