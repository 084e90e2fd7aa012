package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	apperrors "github.com/frahmantamala/vpn-billing/internal"
	"github.com/frahmantamala/vpn-billing/internal/core/datamodel/paymentmethod"
	paymentpkg "github.com/frahmantamala/vpn-billing/internal/payment"
	"gorm.io/gorm"
)

// Service manages reusable payment tokens and the auto-renew loop built on
// them. Recurring charges only work against YooKassa, the one provider that
// hands back a chargeable method id.
type Service struct {
	repo           RepositoryAPI
	intents        IntentCreator
	autopayEnabled bool
	logger         *slog.Logger
}

func NewService(repo RepositoryAPI, intents IntentCreator, autopayEnabled bool, logger *slog.Logger) *Service {
	return &Service{
		repo:           repo,
		intents:        intents,
		autopayEnabled: autopayEnabled,
		logger:         logger,
	}
}

// SaveFromPayment persists a token reported alongside a successful payment.
// Re-saving the same card updates the existing row.
func (s *Service) SaveFromPayment(userID int64, provider paymentpkg.Provider, info paymentpkg.SavedMethodInfo) error {
	if info.ProviderMethodID == "" {
		return apperrors.NewValidationError("saved method without provider id", apperrors.ErrCodeValidationFailed)
	}

	err := s.repo.UpsertMethod(&paymentmethod.PaymentMethod{
		UserID:           userID,
		Provider:         string(provider),
		ProviderMethodID: info.ProviderMethodID,
		MethodType:       info.MethodType,
		Title:            info.Title,
	})
	if err != nil {
		return fmt.Errorf("upsert payment method: %w", err)
	}

	s.logger.Info("payment method saved",
		"user_id", userID,
		"provider", provider,
		"title", info.Title)
	return nil
}

func (s *Service) ListMethods(userID int64) ([]*paymentmethod.PaymentMethod, error) {
	return s.repo.ListMethods(userID)
}

// EnableAutoRenew turns on automatic renewal charged against one of the
// user's saved methods. Requires the autopay feature, a saved card and an
// existing subscription.
func (s *Service) EnableAutoRenew(userID, methodID int64) error {
	if !s.autopayEnabled {
		return apperrors.ErrProviderDisabled
	}

	method, err := s.repo.GetMethod(userID, methodID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperrors.ErrSavedMethodMissing
		}
		return fmt.Errorf("load payment method: %w", err)
	}

	// Only YooKassa methods are chargeable without the payer present.
	if method.Provider != string(paymentpkg.ProviderYooKassa) {
		return apperrors.NewValidationError("saved method cannot be charged automatically", apperrors.ErrCodeAutoRenewNotEligible)
	}

	if _, err := s.repo.GetSubscription(userID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperrors.NewNotFoundError("no subscription to renew", apperrors.ErrCodeSubscriptionNotFound)
		}
		return fmt.Errorf("load subscription: %w", err)
	}

	if err := s.repo.SetAutoRenew(userID, true, &method.ID); err != nil {
		return fmt.Errorf("enable auto renew: %w", err)
	}

	s.logger.Info("auto renew enabled", "user_id", userID, "method_id", method.ID)
	return nil
}

func (s *Service) DisableAutoRenew(userID int64) error {
	if err := s.repo.SetAutoRenew(userID, false, nil); err != nil {
		return fmt.Errorf("disable auto renew: %w", err)
	}
	s.logger.Info("auto renew disabled", "user_id", userID)
	return nil
}

// ChargeSaved opens a recurring payment against the subscription's saved
// method. The resulting webhook drives the usual reconciliation path.
func (s *Service) ChargeSaved(ctx context.Context, userID int64, offer Offer) (*paymentpkg.IntentResult, error) {
	sub, err := s.repo.GetSubscription(userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NewNotFoundError("no subscription to renew", apperrors.ErrCodeSubscriptionNotFound)
		}
		return nil, fmt.Errorf("load subscription: %w", err)
	}
	if sub.PaymentMethodID == nil {
		return nil, apperrors.ErrSavedMethodMissing
	}

	method, err := s.repo.GetMethod(userID, *sub.PaymentMethodID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrSavedMethodMissing
		}
		return nil, fmt.Errorf("load payment method: %w", err)
	}

	return s.intents.CreateIntent(ctx, paymentpkg.CreateIntentParams{
		UserID:        userID,
		Provider:      paymentpkg.Provider(method.Provider),
		Amount:        offer.Amount,
		Currency:      offer.Currency,
		Description:   offer.Description,
		SaleMode:      offer.SaleMode,
		Quantity:      offer.Quantity,
		SavedMethodID: method.ProviderMethodID,
	})
}

// RenewDue charges every auto-renew subscription expiring before the cutoff.
// Failures are logged per user and do not stop the batch.
func (s *Service) RenewDue(ctx context.Context, offer Offer, before time.Time, limit int) (int, error) {
	due, err := s.repo.ListDueForRenewal(before, limit)
	if err != nil {
		return 0, fmt.Errorf("list renewals due: %w", err)
	}

	charged := 0
	for _, sub := range due {
		if _, err := s.ChargeSaved(ctx, sub.UserID, offer); err != nil {
			s.logger.Error("auto renew charge failed", "error", err, "user_id", sub.UserID)
			continue
		}
		charged++
	}
	return charged, nil
}
