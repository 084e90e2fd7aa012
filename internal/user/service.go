package user

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	userDatamodel "github.com/frahmantamala/vpn-billing/internal/core/datamodel/user"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Service is the Telegram user directory. Accounts are created lazily from
// bot updates; there is no registration flow.
type Service struct {
	repo   RepositoryAPI
	logger *slog.Logger
}

func NewService(repo RepositoryAPI, logger *slog.Logger) *Service {
	return &Service{
		repo:   repo,
		logger: logger,
	}
}

// Get satisfies the notify user directory.
func (s *Service) Get(userID int64) (*userDatamodel.User, error) {
	return s.repo.GetByID(userID)
}

// GetOrCreate upserts the account from the profile Telegram attached to the
// update, refreshing username and language on every call.
func (s *Service) GetOrCreate(profile Profile) (*userDatamodel.User, error) {
	existing, err := s.repo.GetByID(profile.ID)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("load user %d: %w", profile.ID, err)
	}

	u := existing
	if u == nil {
		code := newReferralCode()
		u = &userDatamodel.User{
			ID:           profile.ID,
			ReferralCode: &code,
		}
		s.logger.Info("new user registered", "user_id", profile.ID)
	}

	if profile.Username != "" {
		username := profile.Username
		u.Username = &username
	}
	if profile.FirstName != "" {
		u.FirstName = profile.FirstName
	}
	if profile.LanguageCode != "" {
		u.LanguageCode = profile.LanguageCode
	}

	if err := s.repo.Upsert(u); err != nil {
		return nil, fmt.Errorf("upsert user %d: %w", profile.ID, err)
	}
	return u, nil
}

// AttachReferrer links a new user to whoever's referral code they arrived
// with. Self-referrals and re-links are silently ignored.
func (s *Service) AttachReferrer(userID int64, code string) error {
	referrer, err := s.repo.GetByReferralCode(code)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.logger.Warn("unknown referral code", "code", code, "user_id", userID)
			return nil
		}
		return fmt.Errorf("resolve referral code: %w", err)
	}
	if referrer.ID == userID {
		return nil
	}

	u, err := s.repo.GetByID(userID)
	if err != nil {
		return fmt.Errorf("load user %d: %w", userID, err)
	}
	if u.ReferredByID != nil {
		return nil
	}

	if err := s.repo.SetReferrer(userID, referrer.ID); err != nil {
		return fmt.Errorf("set referrer: %w", err)
	}

	s.logger.Info("referral attached", "user_id", userID, "referrer_id", referrer.ID)
	return nil
}

func (s *Service) Block(userID int64) error {
	return s.repo.SetBlocked(userID, true)
}

func (s *Service) Unblock(userID int64) error {
	return s.repo.SetBlocked(userID, false)
}

func newReferralCode() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")[:12]
}
