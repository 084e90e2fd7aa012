package postgres

import (
	"testing"
	"time"

	"github.com/onsi/ginkgo/v2"
	"github.com/onsi/gomega"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/frahmantamala/vpn-billing/internal/core/datamodel/payment"
	paymentpkg "github.com/frahmantamala/vpn-billing/internal/payment"
)

func TestPaymentRepository(t *testing.T) {
	gomega.RegisterFailHandler(ginkgo.Fail)
	ginkgo.RunSpecs(t, "Payment Repository Suite")
}

// PaymentSQLite is a test-specific version with text instead of jsonb for SQLite compatibility
type PaymentSQLite struct {
	ID                int64      `gorm:"primaryKey"`
	UserID            int64      `gorm:"column:user_id;not null;index"`
	Provider          string     `gorm:"column:provider;not null"`
	ProviderPaymentID *string    `gorm:"column:provider_payment_id"`
	Amount            float64    `gorm:"column:amount;not null"`
	Currency          string     `gorm:"column:currency;not null"`
	Status            string     `gorm:"column:status;not null;index"`
	Description       string     `gorm:"column:description"`
	SaleMode          string     `gorm:"column:sale_mode;not null;default:subscription"`
	Quantity          int        `gorm:"column:quantity;not null"`
	Metadata          string     `gorm:"column:metadata;type:text"` // Use text for SQLite
	PaidAt            *time.Time `gorm:"column:paid_at"`
	CreatedAt         time.Time  `gorm:"column:created_at"`
	UpdatedAt         time.Time  `gorm:"column:updated_at"`
}

func (PaymentSQLite) TableName() string {
	return "payments"
}

var _ = ginkgo.Describe("PaymentRepository", func() {
	var (
		db   *gorm.DB
		repo paymentpkg.RepositoryAPI
	)

	newPayment := func(provider paymentpkg.Provider, status string) *payment.Payment {
		now := time.Now().UTC()
		return &payment.Payment{
			UserID:    100500,
			Provider:  string(provider),
			Amount:    299,
			Currency:  "RUB",
			Status:    status,
			SaleMode:  string(paymentpkg.SaleModeSubscription),
			Quantity:  1,
			CreatedAt: now,
			UpdatedAt: now,
		}
	}

	ginkgo.BeforeEach(func() {
		// Use in-memory SQLite for testing
		var err error
		db, err = gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
			NowFunc: func() time.Time {
				return time.Now().UTC()
			},
		})
		gomega.Expect(err).ToNot(gomega.HaveOccurred())

		// Auto-migrate using the SQLite-compatible struct
		err = db.AutoMigrate(&PaymentSQLite{})
		gomega.Expect(err).ToNot(gomega.HaveOccurred())

		repo = NewPaymentRepository(db)
	})

	ginkgo.Describe("Create", func() {
		ginkgo.It("should insert the payment and set its ID", func() {
			p := newPayment(paymentpkg.ProviderYooKassa, paymentpkg.PendingStatus(paymentpkg.ProviderYooKassa))

			err := repo.Create(p)

			gomega.Expect(err).ToNot(gomega.HaveOccurred())
			gomega.Expect(p.ID).To(gomega.BeNumerically(">", 0))

			loaded, err := repo.GetByID(p.ID)
			gomega.Expect(err).ToNot(gomega.HaveOccurred())
			gomega.Expect(loaded.Status).To(gomega.Equal("pending_yookassa"))
			gomega.Expect(loaded.Quantity).To(gomega.Equal(1))
		})
	})

	ginkgo.Describe("GetByProviderPaymentID", func() {
		ginkgo.It("should find a payment by its provider reference", func() {
			p := newPayment(paymentpkg.ProviderCryptoPay, paymentpkg.PendingStatus(paymentpkg.ProviderCryptoPay))
			gomega.Expect(repo.Create(p)).To(gomega.Succeed())
			gomega.Expect(repo.SetProviderPaymentID(p.ID, "inv-777")).To(gomega.Succeed())

			loaded, err := repo.GetByProviderPaymentID(string(paymentpkg.ProviderCryptoPay), "inv-777")

			gomega.Expect(err).ToNot(gomega.HaveOccurred())
			gomega.Expect(loaded.ID).To(gomega.Equal(p.ID))
		})

		ginkgo.It("should return record not found for an unknown reference", func() {
			_, err := repo.GetByProviderPaymentID(string(paymentpkg.ProviderCryptoPay), "inv-missing")
			gomega.Expect(err).To(gomega.MatchError(gorm.ErrRecordNotFound))
		})
	})

	ginkgo.Describe("MarkSucceeded", func() {
		ginkgo.It("should win exactly once against a concurrent replay", func() {
			p := newPayment(paymentpkg.ProviderSeverPay, paymentpkg.PendingStatus(paymentpkg.ProviderSeverPay))
			gomega.Expect(repo.Create(p)).To(gomega.Succeed())

			paidAt := time.Now().UTC()
			ref := "sp-123"

			won, err := repo.MarkSucceeded(p.ID, &ref, paidAt)
			gomega.Expect(err).ToNot(gomega.HaveOccurred())
			gomega.Expect(won).To(gomega.BeTrue())

			// A second delivery must lose the conditional write.
			won, err = repo.MarkSucceeded(p.ID, &ref, paidAt)
			gomega.Expect(err).ToNot(gomega.HaveOccurred())
			gomega.Expect(won).To(gomega.BeFalse())

			loaded, err := repo.GetByID(p.ID)
			gomega.Expect(err).ToNot(gomega.HaveOccurred())
			gomega.Expect(loaded.Status).To(gomega.Equal(paymentpkg.StatusSucceeded))
			gomega.Expect(loaded.ProviderPaymentID).ToNot(gomega.BeNil())
			gomega.Expect(*loaded.ProviderPaymentID).To(gomega.Equal("sp-123"))
			gomega.Expect(loaded.PaidAt).ToNot(gomega.BeNil())
		})

		ginkgo.It("should keep an existing provider reference when none is supplied", func() {
			p := newPayment(paymentpkg.ProviderYooKassa, paymentpkg.PendingStatus(paymentpkg.ProviderYooKassa))
			gomega.Expect(repo.Create(p)).To(gomega.Succeed())
			gomega.Expect(repo.SetProviderPaymentID(p.ID, "yk-1")).To(gomega.Succeed())

			won, err := repo.MarkSucceeded(p.ID, nil, time.Now().UTC())
			gomega.Expect(err).ToNot(gomega.HaveOccurred())
			gomega.Expect(won).To(gomega.BeTrue())

			loaded, err := repo.GetByID(p.ID)
			gomega.Expect(err).ToNot(gomega.HaveOccurred())
			gomega.Expect(*loaded.ProviderPaymentID).To(gomega.Equal("yk-1"))
		})
	})

	ginkgo.Describe("MarkTerminal", func() {
		ginkgo.It("should move a pending payment to failed", func() {
			p := newPayment(paymentpkg.ProviderFreeKassa, paymentpkg.PendingStatus(paymentpkg.ProviderFreeKassa))
			gomega.Expect(repo.Create(p)).To(gomega.Succeed())

			moved, err := repo.MarkTerminal(p.ID, paymentpkg.StatusFailed)
			gomega.Expect(err).ToNot(gomega.HaveOccurred())
			gomega.Expect(moved).To(gomega.BeTrue())

			loaded, err := repo.GetByID(p.ID)
			gomega.Expect(err).ToNot(gomega.HaveOccurred())
			gomega.Expect(loaded.Status).To(gomega.Equal(paymentpkg.StatusFailed))
		})

		ginkgo.It("should not touch an already succeeded payment", func() {
			p := newPayment(paymentpkg.ProviderPlatega, paymentpkg.PendingStatus(paymentpkg.ProviderPlatega))
			gomega.Expect(repo.Create(p)).To(gomega.Succeed())

			won, err := repo.MarkSucceeded(p.ID, nil, time.Now().UTC())
			gomega.Expect(err).ToNot(gomega.HaveOccurred())
			gomega.Expect(won).To(gomega.BeTrue())

			moved, err := repo.MarkTerminal(p.ID, paymentpkg.StatusCanceled)
			gomega.Expect(err).ToNot(gomega.HaveOccurred())
			gomega.Expect(moved).To(gomega.BeFalse())

			loaded, err := repo.GetByID(p.ID)
			gomega.Expect(err).ToNot(gomega.HaveOccurred())
			gomega.Expect(loaded.Status).To(gomega.Equal(paymentpkg.StatusSucceeded))
		})
	})

	ginkgo.Describe("ListStalePending", func() {
		ginkgo.It("should return only pending payments older than the cutoff, oldest first", func() {
			old := newPayment(paymentpkg.ProviderYooKassa, paymentpkg.PendingStatus(paymentpkg.ProviderYooKassa))
			old.CreatedAt = time.Now().UTC().Add(-2 * time.Hour)
			gomega.Expect(repo.Create(old)).To(gomega.Succeed())

			older := newPayment(paymentpkg.ProviderCryptoPay, paymentpkg.PendingStatus(paymentpkg.ProviderCryptoPay))
			older.CreatedAt = time.Now().UTC().Add(-3 * time.Hour)
			gomega.Expect(repo.Create(older)).To(gomega.Succeed())

			fresh := newPayment(paymentpkg.ProviderYooKassa, paymentpkg.PendingStatus(paymentpkg.ProviderYooKassa))
			gomega.Expect(repo.Create(fresh)).To(gomega.Succeed())

			done := newPayment(paymentpkg.ProviderYooKassa, paymentpkg.StatusSucceeded)
			done.CreatedAt = time.Now().UTC().Add(-4 * time.Hour)
			gomega.Expect(repo.Create(done)).To(gomega.Succeed())

			stale, err := repo.ListStalePending(time.Now().UTC().Add(-time.Hour), 10)

			gomega.Expect(err).ToNot(gomega.HaveOccurred())
			gomega.Expect(stale).To(gomega.HaveLen(2))
			gomega.Expect(stale[0].ID).To(gomega.Equal(older.ID))
			gomega.Expect(stale[1].ID).To(gomega.Equal(old.ID))
		})
	})

	ginkgo.Describe("ListRecent and Count", func() {
		ginkgo.It("should filter by provider and status", func() {
			a := newPayment(paymentpkg.ProviderYooKassa, paymentpkg.StatusSucceeded)
			gomega.Expect(repo.Create(a)).To(gomega.Succeed())
			b := newPayment(paymentpkg.ProviderYooKassa, paymentpkg.StatusFailed)
			gomega.Expect(repo.Create(b)).To(gomega.Succeed())
			c := newPayment(paymentpkg.ProviderCryptoPay, paymentpkg.StatusSucceeded)
			gomega.Expect(repo.Create(c)).To(gomega.Succeed())

			items, err := repo.ListRecent(10, 0, string(paymentpkg.ProviderYooKassa), paymentpkg.StatusSucceeded)
			gomega.Expect(err).ToNot(gomega.HaveOccurred())
			gomega.Expect(items).To(gomega.HaveLen(1))
			gomega.Expect(items[0].ID).To(gomega.Equal(a.ID))

			total, err := repo.Count(string(paymentpkg.ProviderYooKassa), "")
			gomega.Expect(err).ToNot(gomega.HaveOccurred())
			gomega.Expect(total).To(gomega.Equal(int64(2)))
		})
	})

	ginkgo.Describe("StatsByStatus", func() {
		ginkgo.It("should group counts by status", func() {
			gomega.Expect(repo.Create(newPayment(paymentpkg.ProviderYooKassa, paymentpkg.StatusSucceeded))).To(gomega.Succeed())
			gomega.Expect(repo.Create(newPayment(paymentpkg.ProviderCryptoPay, paymentpkg.StatusSucceeded))).To(gomega.Succeed())
			gomega.Expect(repo.Create(newPayment(paymentpkg.ProviderFreeKassa, paymentpkg.StatusFailed))).To(gomega.Succeed())

			stats, err := repo.StatsByStatus()

			gomega.Expect(err).ToNot(gomega.HaveOccurred())
			gomega.Expect(stats[paymentpkg.StatusSucceeded]).To(gomega.Equal(int64(2)))
			gomega.Expect(stats[paymentpkg.StatusFailed]).To(gomega.Equal(int64(1)))
		})
	})
})
