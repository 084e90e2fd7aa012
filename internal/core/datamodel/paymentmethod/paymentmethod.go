package paymentmethod

import "time"

// PaymentMethod is a reusable charge token saved after a successful payment,
// keyed by (user_id, provider_method_id) so re-saving the same card is an
// update rather than a duplicate.
type PaymentMethod struct {
	ID               int64     `gorm:"primaryKey"`
	UserID           int64     `gorm:"column:user_id;not null;uniqueIndex:idx_payment_methods_user_token"`
	Provider         string    `gorm:"column:provider;not null"`
	ProviderMethodID string    `gorm:"column:provider_method_id;not null;uniqueIndex:idx_payment_methods_user_token"`
	MethodType       string    `gorm:"column:method_type"`
	Title            string    `gorm:"column:title;not null"`
	CreatedAt        time.Time `gorm:"column:created_at;default:now()"`
	UpdatedAt        time.Time `gorm:"column:updated_at;default:now()"`
}

func (PaymentMethod) TableName() string {
	return "payment_methods"
}
