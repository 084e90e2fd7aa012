package entitlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/frahmantamala/vpn-billing/internal/core/datamodel/subscription"
	"github.com/frahmantamala/vpn-billing/internal/core/datamodel/user"
	paymentpkg "github.com/frahmantamala/vpn-billing/internal/payment"
	"gorm.io/gorm"
)

// Service applies paid entitlements. It runs inside the reconciliation
// transaction and only ever for the delivery that won the payment status
// flip, so each payment id reaches Grant at most once.
type Service struct {
	repo   RepositoryAPI
	logger *slog.Logger
	now    func() time.Time
}

func NewService(repo RepositoryAPI, logger *slog.Logger) *Service {
	return &Service{
		repo:   repo,
		logger: logger,
		now:    time.Now,
	}
}

func (s *Service) Grant(ctx context.Context, req paymentpkg.GrantRequest) (*paymentpkg.GrantResult, error) {
	switch req.SaleMode {
	case paymentpkg.SaleModeTraffic:
		return s.grantTraffic(req)
	case paymentpkg.SaleModeSubscription:
		return s.grantSubscription(req)
	default:
		return nil, fmt.Errorf("unknown sale mode: %s", req.SaleMode)
	}
}

// grantSubscription extends the payer's expiry by the paid number of months
// and settles referral bonuses under the same transaction.
func (s *Service) grantSubscription(req paymentpkg.GrantRequest) (*paymentpkg.GrantResult, error) {
	now := s.now().UTC()

	sub, err := s.loadOrInitSubscription(req.UserID, now)
	if err != nil {
		return nil, err
	}

	base := sub.ExpiresAt
	if base.Before(now) {
		base = now
	}
	expiresAt := base.AddDate(0, req.Quantity, 0)

	payer, err := s.loadUser(req.UserID)
	if err != nil {
		return nil, err
	}

	referred := payer != nil && payer.ReferredByID != nil && req.Snapshot.ReferralEnabled

	if referred && req.Snapshot.RefereeBonusDays > 0 {
		if !req.Snapshot.PromoBonusOnce || !sub.PromoBonusApplied {
			expiresAt = expiresAt.AddDate(0, 0, req.Snapshot.RefereeBonusDays)
			sub.PromoBonusApplied = true
			s.logger.Info("referee promo bonus applied",
				"user_id", req.UserID,
				"payment_id", req.PaymentID,
				"bonus_days", req.Snapshot.RefereeBonusDays)
		}
	}

	sub.ExpiresAt = expiresAt
	if err := s.repo.SaveSubscription(sub); err != nil {
		return nil, fmt.Errorf("save subscription: %w", err)
	}

	credited := false
	if referred && req.Snapshot.ReferralBonusDays > 0 {
		credited, err = s.creditReferrer(req, *payer.ReferredByID, now)
		if err != nil {
			return nil, err
		}
	}

	return &paymentpkg.GrantResult{
		ExpiresAt:        expiresAt,
		TrafficGB:        sub.TrafficGB,
		ReferralCredited: credited,
	}, nil
}

// grantTraffic adds paid gigabytes to the allowance. Traffic sales never
// touch expiry and never trigger referral credits.
func (s *Service) grantTraffic(req paymentpkg.GrantRequest) (*paymentpkg.GrantResult, error) {
	now := s.now().UTC()

	sub, err := s.loadOrInitSubscription(req.UserID, now)
	if err != nil {
		return nil, err
	}

	sub.TrafficGB += float64(req.Quantity)
	if err := s.repo.SaveSubscription(sub); err != nil {
		return nil, fmt.Errorf("save subscription: %w", err)
	}

	return &paymentpkg.GrantResult{
		ExpiresAt: sub.ExpiresAt,
		TrafficGB: sub.TrafficGB,
	}, nil
}

// creditReferrer records the bonus keyed by payment id and extends the
// referrer's expiry. The unique index on payment_id makes a second attempt
// for the same payment a no-op even across process restarts.
func (s *Service) creditReferrer(req paymentpkg.GrantRequest, referrerID int64, now time.Time) (bool, error) {
	exists, err := s.repo.HasBonusForPayment(req.PaymentID)
	if err != nil {
		return false, fmt.Errorf("check referral bonus: %w", err)
	}
	if exists {
		return false, nil
	}

	if err := s.repo.CreateReferralBonus(&subscription.ReferralBonus{
		PaymentID:  req.PaymentID,
		ReferrerID: referrerID,
		RefereeID:  req.UserID,
		BonusDays:  req.Snapshot.ReferralBonusDays,
	}); err != nil {
		return false, fmt.Errorf("create referral bonus: %w", err)
	}

	refSub, err := s.loadOrInitSubscription(referrerID, now)
	if err != nil {
		return false, err
	}
	base := refSub.ExpiresAt
	if base.Before(now) {
		base = now
	}
	refSub.ExpiresAt = base.AddDate(0, 0, req.Snapshot.ReferralBonusDays)
	if err := s.repo.SaveSubscription(refSub); err != nil {
		return false, fmt.Errorf("save referrer subscription: %w", err)
	}

	s.logger.Info("referral bonus credited",
		"referrer_id", referrerID,
		"referee_id", req.UserID,
		"payment_id", req.PaymentID,
		"bonus_days", req.Snapshot.ReferralBonusDays)
	return true, nil
}

func (s *Service) loadOrInitSubscription(userID int64, now time.Time) (*subscription.Subscription, error) {
	sub, err := s.repo.GetSubscription(userID)
	if err == nil {
		return sub, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("load subscription for user %d: %w", userID, err)
	}
	return &subscription.Subscription{
		UserID:    userID,
		ExpiresAt: now,
	}, nil
}

// loadUser tolerates a missing directory row: the payment is still granted,
// only referral handling is skipped.
func (s *Service) loadUser(userID int64) (*user.User, error) {
	u, err := s.repo.GetUser(userID)
	if err == nil {
		return u, nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		s.logger.Warn("paid user missing from directory", "user_id", userID)
		return nil, nil
	}
	return nil, fmt.Errorf("load user %d: %w", userID, err)
}
