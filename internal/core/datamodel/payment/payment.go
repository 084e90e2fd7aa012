package payment

import (
	"encoding/json"
	"time"
)

// Payment is one row in the payments table. Status carries the owning
// provider while pending (pending_yookassa, pending_cryptopay, ...) and a
// terminal value afterwards.
type Payment struct {
	ID                int64           `gorm:"primaryKey"`
	UserID            int64           `gorm:"column:user_id;not null;index"`
	Provider          string          `gorm:"column:provider;not null;uniqueIndex:idx_payments_provider_ext"`
	ProviderPaymentID *string         `gorm:"column:provider_payment_id;uniqueIndex:idx_payments_provider_ext"`
	Amount            float64         `gorm:"column:amount;type:numeric(12,2);not null"`
	Currency          string          `gorm:"column:currency;not null"`
	Status            string          `gorm:"column:status;not null;index"`
	Description       string          `gorm:"column:description"`
	SaleMode          string          `gorm:"column:sale_mode;not null;default:subscription"`
	Quantity          int             `gorm:"column:quantity;not null"`
	Metadata          json.RawMessage `gorm:"column:metadata;type:jsonb"`
	PaidAt            *time.Time      `gorm:"column:paid_at"`
	CreatedAt         time.Time       `gorm:"column:created_at;default:now()"`
	UpdatedAt         time.Time       `gorm:"column:updated_at;default:now()"`
}

func (Payment) TableName() string {
	return "payments"
}
