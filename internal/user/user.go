package user

import (
	userDatamodel "github.com/frahmantamala/vpn-billing/internal/core/datamodel/user"
)

// RepositoryAPI is the user directory store.
type RepositoryAPI interface {
	GetByID(id int64) (*userDatamodel.User, error)
	GetByReferralCode(code string) (*userDatamodel.User, error)
	Upsert(u *userDatamodel.User) error
	SetReferrer(userID, referrerID int64) error
	SetBlocked(userID int64, blocked bool) error
}

// Profile is what the bot layer knows about a Telegram account when an
// update arrives.
type Profile struct {
	ID           int64
	Username     string
	FirstName    string
	LanguageCode string
}
