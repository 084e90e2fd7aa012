package postgres

import (
	"context"
	"time"

	"github.com/frahmantamala/vpn-billing/internal/core/datamodel/payment"
	paymentpkg "github.com/frahmantamala/vpn-billing/internal/payment"
	"gorm.io/gorm"
)

type PaymentRepository struct {
	db *gorm.DB
}

func NewPaymentRepository(db *gorm.DB) paymentpkg.RepositoryAPI {
	return &PaymentRepository{
		db: db,
	}
}

func (r *PaymentRepository) Create(p *payment.Payment) error {
	return r.db.Create(p).Error
}

func (r *PaymentRepository) GetByID(id int64) (*payment.Payment, error) {
	var p payment.Payment
	err := r.db.First(&p, id).Error
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *PaymentRepository) GetByProviderPaymentID(provider, providerPaymentID string) (*payment.Payment, error) {
	var p payment.Payment
	err := r.db.Where("provider = ? AND provider_payment_id = ?", provider, providerPaymentID).First(&p).Error
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *PaymentRepository) SetProviderPaymentID(id int64, providerPaymentID string) error {
	return r.db.Model(&payment.Payment{}).Where("id = ?", id).Updates(map[string]interface{}{
		"provider_payment_id": providerPaymentID,
		"updated_at":          time.Now(),
	}).Error
}

// MarkSucceeded flips a record to succeeded only while it is still pending.
// The returned bool reports whether this caller won the write; a false with
// nil error means another delivery already finalized the record.
func (r *PaymentRepository) MarkSucceeded(id int64, providerPaymentID *string, paidAt time.Time) (bool, error) {
	updates := map[string]interface{}{
		"status":     paymentpkg.StatusSucceeded,
		"paid_at":    paidAt,
		"updated_at": time.Now(),
	}
	if providerPaymentID != nil {
		updates["provider_payment_id"] = *providerPaymentID
	}

	res := r.db.Model(&payment.Payment{}).
		Where("id = ? AND status LIKE ?", id, "pending_%").
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// MarkTerminal moves a pending record to failed, failed_creation or
// canceled under the same pending-only guard as MarkSucceeded.
func (r *PaymentRepository) MarkTerminal(id int64, status string) (bool, error) {
	res := r.db.Model(&payment.Payment{}).
		Where("id = ? AND status LIKE ?", id, "pending_%").
		Updates(map[string]interface{}{
			"status":     status,
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *PaymentRepository) ListRecent(limit, offset int, provider, status string) ([]*payment.Payment, error) {
	q := r.db.Model(&payment.Payment{})
	if provider != "" {
		q = q.Where("provider = ?", provider)
	}
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var payments []*payment.Payment
	err := q.Order("created_at DESC").Limit(limit).Offset(offset).Find(&payments).Error
	return payments, err
}

func (r *PaymentRepository) Count(provider, status string) (int64, error) {
	q := r.db.Model(&payment.Payment{})
	if provider != "" {
		q = q.Where("provider = ?", provider)
	}
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var count int64
	err := q.Count(&count).Error
	return count, err
}

func (r *PaymentRepository) StatsByStatus() (map[string]int64, error) {
	type row struct {
		Status string
		Total  int64
	}
	var rows []row
	err := r.db.Model(&payment.Payment{}).
		Select("status, COUNT(*) AS total").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	stats := make(map[string]int64, len(rows))
	for _, r := range rows {
		stats[r.Status] = r.Total
	}
	return stats, nil
}

func (r *PaymentRepository) ListByUser(userID int64, limit int) ([]*payment.Payment, error) {
	var payments []*payment.Payment
	err := r.db.Where("user_id = ?", userID).Order("created_at DESC").Limit(limit).Find(&payments).Error
	return payments, err
}

// ListStalePending returns pending records old enough that their webhook is
// presumed lost, oldest first so the sweeper drains the backlog in order.
func (r *PaymentRepository) ListStalePending(olderThan time.Time, limit int) ([]*payment.Payment, error) {
	var payments []*payment.Payment
	err := r.db.Where("status LIKE ? AND created_at < ?", "pending_%", olderThan).
		Order("created_at ASC").
		Limit(limit).
		Find(&payments).Error
	return payments, err
}

func (r *PaymentRepository) ListForExport(from, to time.Time) ([]paymentpkg.ExportRow, error) {
	var rows []paymentpkg.ExportRow
	err := r.db.Table("payments").
		Select(`payments.id AS payment_id,
			payments.user_id,
			users.username,
			users.first_name,
			payments.amount,
			payments.currency,
			payments.provider,
			payments.status,
			payments.description,
			payments.sale_mode,
			payments.quantity,
			payments.provider_payment_id,
			payments.created_at`).
		Joins("LEFT JOIN users ON users.id = payments.user_id").
		Where("payments.created_at >= ? AND payments.created_at < ?", from, to).
		Order("payments.created_at ASC").
		Scan(&rows).Error
	return rows, err
}

// TxManager opens the transaction a reconciliation runs in and hands the
// closure stores bound to that transaction.
type TxManager struct {
	db         *gorm.DB
	granterFor func(tx *gorm.DB) paymentpkg.Granter
}

func NewTxManager(db *gorm.DB, granterFor func(tx *gorm.DB) paymentpkg.Granter) *TxManager {
	return &TxManager{
		db:         db,
		granterFor: granterFor,
	}
}

func (m *TxManager) InTx(ctx context.Context, fn func(tx paymentpkg.ReconcileTx) error) error {
	return m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(paymentpkg.ReconcileTx{
			Payments: NewPaymentRepository(tx),
			Granter:  m.granterFor(tx),
		})
	})
}
