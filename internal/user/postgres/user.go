package postgres

import (
	"time"

	userDatamodel "github.com/frahmantamala/vpn-billing/internal/core/datamodel/user"
	"github.com/frahmantamala/vpn-billing/internal/user"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type UserRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) user.RepositoryAPI {
	return &UserRepository{db: db}
}

func (r *UserRepository) GetByID(id int64) (*userDatamodel.User, error) {
	var u userDatamodel.User
	if err := r.db.First(&u, id).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *UserRepository) GetByReferralCode(code string) (*userDatamodel.User, error) {
	var u userDatamodel.User
	if err := r.db.Where("referral_code = ?", code).First(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

// Upsert keys on the Telegram id and refreshes the mutable profile fields.
func (r *UserRepository) Upsert(u *userDatamodel.User) error {
	return r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"username":      u.Username,
			"first_name":    u.FirstName,
			"language_code": u.LanguageCode,
			"updated_at":    time.Now(),
		}),
	}).Create(u).Error
}

func (r *UserRepository) SetReferrer(userID, referrerID int64) error {
	return r.db.Model(&userDatamodel.User{}).
		Where("id = ? AND referred_by_id IS NULL", userID).
		Updates(map[string]interface{}{
			"referred_by_id": referrerID,
			"updated_at":     time.Now(),
		}).Error
}

func (r *UserRepository) SetBlocked(userID int64, blocked bool) error {
	return r.db.Model(&userDatamodel.User{}).
		Where("id = ?", userID).
		Updates(map[string]interface{}{
			"is_blocked": blocked,
			"updated_at": time.Now(),
		}).Error
}
