package user

import "time"

// User mirrors a Telegram account. ID is the Telegram user id and is
// assigned by Telegram, never by us.
type User struct {
	ID           int64     `gorm:"primaryKey;autoIncrement:false"`
	Username     *string   `gorm:"column:username"`
	FirstName    string    `gorm:"column:first_name"`
	LanguageCode string    `gorm:"column:language_code;default:ru"`
	ReferralCode *string   `gorm:"column:referral_code;uniqueIndex"`
	ReferredByID *int64    `gorm:"column:referred_by_id"`
	PanelUUID    *string   `gorm:"column:panel_uuid"`
	IsBlocked    bool      `gorm:"column:is_blocked;default:false"`
	CreatedAt    time.Time `gorm:"column:created_at;default:now()"`
	UpdatedAt    time.Time `gorm:"column:updated_at;default:now()"`
}

func (User) TableName() string {
	return "users"
}
