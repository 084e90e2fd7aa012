package subscription

import "time"

// Subscription is the entitlement a paid user holds: an expiry for
// time-based sales and an optional traffic allowance for data-based ones.
type Subscription struct {
	ID                int64     `gorm:"primaryKey"`
	UserID            int64     `gorm:"column:user_id;not null;uniqueIndex"`
	ExpiresAt         time.Time `gorm:"column:expires_at;not null"`
	TrafficGB         float64   `gorm:"column:traffic_gb;type:numeric(10,2);default:0"`
	PromoBonusApplied bool      `gorm:"column:promo_bonus_applied;default:false"`
	AutoRenew         bool      `gorm:"column:auto_renew;default:false"`
	PaymentMethodID   *int64    `gorm:"column:payment_method_id"`
	CreatedAt         time.Time `gorm:"column:created_at;default:now()"`
	UpdatedAt         time.Time `gorm:"column:updated_at;default:now()"`
}

func (Subscription) TableName() string {
	return "subscriptions"
}

// ReferralBonus records a bonus credited to a referrer for one paid payment.
// The unique index on payment_id is what makes replayed webhooks harmless.
type ReferralBonus struct {
	ID         int64     `gorm:"primaryKey"`
	PaymentID  int64     `gorm:"column:payment_id;not null;uniqueIndex"`
	ReferrerID int64     `gorm:"column:referrer_id;not null;index"`
	RefereeID  int64     `gorm:"column:referee_id;not null"`
	BonusDays  int       `gorm:"column:bonus_days;not null"`
	CreatedAt  time.Time `gorm:"column:created_at;default:now()"`
}

func (ReferralBonus) TableName() string {
	return "referral_bonuses"
}
