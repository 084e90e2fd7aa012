package postgres

import (
	"time"

	"github.com/frahmantamala/vpn-billing/internal/billing"
	"github.com/frahmantamala/vpn-billing/internal/core/datamodel/paymentmethod"
	"github.com/frahmantamala/vpn-billing/internal/core/datamodel/subscription"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type BillingRepository struct {
	db *gorm.DB
}

func NewBillingRepository(db *gorm.DB) billing.RepositoryAPI {
	return &BillingRepository{db: db}
}

// UpsertMethod inserts the token or refreshes its title and type when the
// same (user_id, provider_method_id) pair comes back again.
func (r *BillingRepository) UpsertMethod(m *paymentmethod.PaymentMethod) error {
	return r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "provider_method_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"method_type": m.MethodType,
			"title":       m.Title,
			"updated_at":  time.Now(),
		}),
	}).Create(m).Error
}

func (r *BillingRepository) ListMethods(userID int64) ([]*paymentmethod.PaymentMethod, error) {
	var methods []*paymentmethod.PaymentMethod
	err := r.db.Where("user_id = ?", userID).Order("created_at DESC").Find(&methods).Error
	return methods, err
}

func (r *BillingRepository) GetMethod(userID, methodID int64) (*paymentmethod.PaymentMethod, error) {
	var m paymentmethod.PaymentMethod
	err := r.db.Where("id = ? AND user_id = ?", methodID, userID).First(&m).Error
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *BillingRepository) GetSubscription(userID int64) (*subscription.Subscription, error) {
	var sub subscription.Subscription
	err := r.db.Where("user_id = ?", userID).First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *BillingRepository) SetAutoRenew(userID int64, enabled bool, methodID *int64) error {
	return r.db.Model(&subscription.Subscription{}).
		Where("user_id = ?", userID).
		Updates(map[string]interface{}{
			"auto_renew":        enabled,
			"payment_method_id": methodID,
			"updated_at":        time.Now(),
		}).Error
}

// ListDueForRenewal returns auto-renew subscriptions that expire before the
// cutoff and have a method to charge.
func (r *BillingRepository) ListDueForRenewal(before time.Time, limit int) ([]*subscription.Subscription, error) {
	var subs []*subscription.Subscription
	err := r.db.Where("auto_renew = ? AND payment_method_id IS NOT NULL AND expires_at < ?", true, before).
		Order("expires_at ASC").
		Limit(limit).
		Find(&subs).Error
	return subs, err
}
