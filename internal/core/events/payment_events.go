package events

import (
	"time"

	"github.com/google/uuid"
)

const (
	EventTypePaymentSucceeded = "payment.succeeded"
	EventTypePaymentFailed    = "payment.failed"
	EventTypePaymentCanceled  = "payment.canceled"
)

type PaymentSucceededEvent struct {
	BaseEvent
	PaymentID         int64     `json:"payment_id"`
	UserID            int64     `json:"user_id"`
	Provider          string    `json:"provider"`
	ProviderPaymentID string    `json:"provider_payment_id"`
	Amount            float64   `json:"amount"`
	Currency          string    `json:"currency"`
	SaleMode          string    `json:"sale_mode"`
	Quantity          int       `json:"quantity"`
	ExpiresAt         time.Time `json:"expires_at"`
	TrafficGB         float64   `json:"traffic_gb"`
}

func NewPaymentSucceededEvent(paymentID, userID int64, provider, providerPaymentID string, amount float64, currency, saleMode string, quantity int, expiresAt time.Time, trafficGB float64) *PaymentSucceededEvent {
	return &PaymentSucceededEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypePaymentSucceeded,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"payment_id":          paymentID,
				"user_id":             userID,
				"provider":            provider,
				"provider_payment_id": providerPaymentID,
				"amount":              amount,
				"currency":            currency,
				"sale_mode":           saleMode,
				"quantity":            quantity,
				"expires_at":          expiresAt,
				"traffic_gb":          trafficGB,
			},
		},
		PaymentID:         paymentID,
		UserID:            userID,
		Provider:          provider,
		ProviderPaymentID: providerPaymentID,
		Amount:            amount,
		Currency:          currency,
		SaleMode:          saleMode,
		Quantity:          quantity,
		ExpiresAt:         expiresAt,
		TrafficGB:         trafficGB,
	}
}

type PaymentFailedEvent struct {
	BaseEvent
	PaymentID int64   `json:"payment_id"`
	UserID    int64   `json:"user_id"`
	Provider  string  `json:"provider"`
	Amount    float64 `json:"amount"`
	Currency  string  `json:"currency"`
	Reason    string  `json:"reason"`
}

func NewPaymentFailedEvent(paymentID, userID int64, provider string, amount float64, currency, reason string) *PaymentFailedEvent {
	return &PaymentFailedEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypePaymentFailed,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"payment_id": paymentID,
				"user_id":    userID,
				"provider":   provider,
				"amount":     amount,
				"currency":   currency,
				"reason":     reason,
			},
		},
		PaymentID: paymentID,
		UserID:    userID,
		Provider:  provider,
		Amount:    amount,
		Currency:  currency,
		Reason:    reason,
	}
}

type PaymentCanceledEvent struct {
	BaseEvent
	PaymentID int64   `json:"payment_id"`
	UserID    int64   `json:"user_id"`
	Provider  string  `json:"provider"`
	Amount    float64 `json:"amount"`
	Currency  string  `json:"currency"`
}

func NewPaymentCanceledEvent(paymentID, userID int64, provider string, amount float64, currency string) *PaymentCanceledEvent {
	return &PaymentCanceledEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypePaymentCanceled,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"payment_id": paymentID,
				"user_id":    userID,
				"provider":   provider,
				"amount":     amount,
				"currency":   currency,
			},
		},
		PaymentID: paymentID,
		UserID:    userID,
		Provider:  provider,
		Amount:    amount,
		Currency:  currency,
	}
}
