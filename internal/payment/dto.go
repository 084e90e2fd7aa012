package payment

import (
	"time"

	"github.com/frahmantamala/vpn-billing/internal/core/datamodel/payment"
)

// PaymentDTO is the ops API shape of one payment record.
type PaymentDTO struct {
	ID                int64      `json:"id"`
	UserID            int64      `json:"user_id"`
	Provider          string     `json:"provider"`
	ProviderPaymentID *string    `json:"provider_payment_id,omitempty"`
	Amount            float64    `json:"amount"`
	Currency          string     `json:"currency"`
	Status            string     `json:"status"`
	Description       string     `json:"description,omitempty"`
	SaleMode          string     `json:"sale_mode"`
	Quantity          int        `json:"quantity"`
	PaidAt            *time.Time `json:"paid_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
}

func toPaymentDTO(p *payment.Payment) PaymentDTO {
	return PaymentDTO{
		ID:                p.ID,
		UserID:            p.UserID,
		Provider:          p.Provider,
		ProviderPaymentID: p.ProviderPaymentID,
		Amount:            p.Amount,
		Currency:          p.Currency,
		Status:            p.Status,
		Description:       p.Description,
		SaleMode:          p.SaleMode,
		Quantity:          p.Quantity,
		PaidAt:            p.PaidAt,
		CreatedAt:         p.CreatedAt,
	}
}

type PaymentListResponse struct {
	Items    []PaymentDTO `json:"items"`
	Total    int64        `json:"total"`
	Page     int          `json:"page"`
	PageSize int          `json:"page_size"`
}

type PaymentStatsResponse struct {
	Total    int64            `json:"total"`
	ByStatus map[string]int64 `json:"by_status"`
}
