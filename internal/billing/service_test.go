package billing_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/gorm"

	apperrors "github.com/frahmantamala/vpn-billing/internal"
	"github.com/frahmantamala/vpn-billing/internal/billing"
	"github.com/frahmantamala/vpn-billing/internal/core/datamodel/paymentmethod"
	"github.com/frahmantamala/vpn-billing/internal/core/datamodel/subscription"
	paymentpkg "github.com/frahmantamala/vpn-billing/internal/payment"
)

func TestBillingService(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Billing Service Suite")
}

type memoryRepo struct {
	methods       map[int64]*paymentmethod.PaymentMethod
	subscriptions map[int64]*subscription.Subscription
	nextID        int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		methods:       make(map[int64]*paymentmethod.PaymentMethod),
		subscriptions: make(map[int64]*subscription.Subscription),
		nextID:        1,
	}
}

func (m *memoryRepo) UpsertMethod(method *paymentmethod.PaymentMethod) error {
	for _, existing := range m.methods {
		if existing.UserID == method.UserID && existing.ProviderMethodID == method.ProviderMethodID {
			existing.MethodType = method.MethodType
			existing.Title = method.Title
			method.ID = existing.ID
			return nil
		}
	}
	method.ID = m.nextID
	m.nextID++
	m.methods[method.ID] = method
	return nil
}

func (m *memoryRepo) ListMethods(userID int64) ([]*paymentmethod.PaymentMethod, error) {
	var out []*paymentmethod.PaymentMethod
	for _, method := range m.methods {
		if method.UserID == userID {
			out = append(out, method)
		}
	}
	return out, nil
}

func (m *memoryRepo) GetMethod(userID, methodID int64) (*paymentmethod.PaymentMethod, error) {
	method, ok := m.methods[methodID]
	if !ok || method.UserID != userID {
		return nil, gorm.ErrRecordNotFound
	}
	return method, nil
}

func (m *memoryRepo) GetSubscription(userID int64) (*subscription.Subscription, error) {
	sub, ok := m.subscriptions[userID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return sub, nil
}

func (m *memoryRepo) SetAutoRenew(userID int64, enabled bool, methodID *int64) error {
	sub, ok := m.subscriptions[userID]
	if !ok {
		return nil
	}
	sub.AutoRenew = enabled
	sub.PaymentMethodID = methodID
	return nil
}

func (m *memoryRepo) ListDueForRenewal(before time.Time, limit int) ([]*subscription.Subscription, error) {
	var out []*subscription.Subscription
	for _, sub := range m.subscriptions {
		if sub.AutoRenew && sub.PaymentMethodID != nil && sub.ExpiresAt.Before(before) {
			out = append(out, sub)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type recordingIntents struct {
	params []paymentpkg.CreateIntentParams
	err    error
}

func (r *recordingIntents) CreateIntent(_ context.Context, params paymentpkg.CreateIntentParams) (*paymentpkg.IntentResult, error) {
	if r.err != nil {
		return nil, r.err
	}
	r.params = append(r.params, params)
	return &paymentpkg.IntentResult{PaymentID: int64(len(r.params)), Status: "pending_yookassa"}, nil
}

var _ = Describe("Service", func() {
	var (
		repo    *memoryRepo
		intents *recordingIntents
		service *billing.Service
		ctx     context.Context
	)

	const userID int64 = 4242

	BeforeEach(func() {
		repo = newMemoryRepo()
		intents = &recordingIntents{}
		service = billing.NewService(repo, intents, true, slog.Default())
		ctx = context.Background()
	})

	Describe("SaveFromPayment", func() {
		It("should store the token and update it on re-save", func() {
			err := service.SaveFromPayment(userID, paymentpkg.ProviderYooKassa, paymentpkg.SavedMethodInfo{
				ProviderMethodID: "pm-1",
				MethodType:       "bank_card",
				Title:            "MIR *4321",
			})
			Expect(err).ToNot(HaveOccurred())

			err = service.SaveFromPayment(userID, paymentpkg.ProviderYooKassa, paymentpkg.SavedMethodInfo{
				ProviderMethodID: "pm-1",
				MethodType:       "bank_card",
				Title:            "MIR *9999",
			})
			Expect(err).ToNot(HaveOccurred())

			methods, err := service.ListMethods(userID)
			Expect(err).ToNot(HaveOccurred())
			Expect(methods).To(HaveLen(1))
			Expect(methods[0].Title).To(Equal("MIR *9999"))
		})

		It("should reject a token without a provider id", func() {
			err := service.SaveFromPayment(userID, paymentpkg.ProviderYooKassa, paymentpkg.SavedMethodInfo{})
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("EnableAutoRenew", func() {
		var methodID int64

		BeforeEach(func() {
			method := &paymentmethod.PaymentMethod{
				UserID:           userID,
				Provider:         string(paymentpkg.ProviderYooKassa),
				ProviderMethodID: "pm-1",
				Title:            "MIR *4321",
			}
			Expect(repo.UpsertMethod(method)).To(Succeed())
			methodID = method.ID

			repo.subscriptions[userID] = &subscription.Subscription{
				UserID:    userID,
				ExpiresAt: time.Now().AddDate(0, 1, 0),
			}
		})

		It("should mark the subscription for renewal with the chosen method", func() {
			Expect(service.EnableAutoRenew(userID, methodID)).To(Succeed())

			sub := repo.subscriptions[userID]
			Expect(sub.AutoRenew).To(BeTrue())
			Expect(sub.PaymentMethodID).ToNot(BeNil())
			Expect(*sub.PaymentMethodID).To(Equal(methodID))
		})

		It("should fail when the feature is disabled", func() {
			disabled := billing.NewService(repo, intents, false, slog.Default())
			Expect(disabled.EnableAutoRenew(userID, methodID)).To(Equal(apperrors.ErrProviderDisabled))
		})

		It("should fail without a saved method", func() {
			Expect(service.EnableAutoRenew(userID, methodID+100)).To(Equal(apperrors.ErrSavedMethodMissing))
		})

		It("should reject methods from providers without recurring charges", func() {
			method := &paymentmethod.PaymentMethod{
				UserID:           userID,
				Provider:         string(paymentpkg.ProviderCryptoPay),
				ProviderMethodID: "wallet-1",
				Title:            "TON wallet",
			}
			Expect(repo.UpsertMethod(method)).To(Succeed())

			err := service.EnableAutoRenew(userID, method.ID)
			Expect(err).To(HaveOccurred())
			appErr, ok := apperrors.IsAppError(err)
			Expect(ok).To(BeTrue())
			Expect(appErr.Code).To(Equal(apperrors.ErrCodeAutoRenewNotEligible))
		})

		It("should fail without a subscription", func() {
			delete(repo.subscriptions, userID)
			err := service.EnableAutoRenew(userID, methodID)
			Expect(err).To(HaveOccurred())
			appErr, ok := apperrors.IsAppError(err)
			Expect(ok).To(BeTrue())
			Expect(appErr.Type).To(Equal(apperrors.ErrorTypeNotFound))
		})
	})

	Describe("ChargeSaved", func() {
		offer := billing.Offer{
			Amount:      299,
			Currency:    "RUB",
			Description: "Monthly renewal",
			SaleMode:    paymentpkg.SaleModeSubscription,
			Quantity:    1,
		}

		BeforeEach(func() {
			method := &paymentmethod.PaymentMethod{
				UserID:           userID,
				Provider:         string(paymentpkg.ProviderYooKassa),
				ProviderMethodID: "pm-1",
				Title:            "MIR *4321",
			}
			Expect(repo.UpsertMethod(method)).To(Succeed())

			repo.subscriptions[userID] = &subscription.Subscription{
				UserID:          userID,
				ExpiresAt:       time.Now().AddDate(0, 0, 1),
				AutoRenew:       true,
				PaymentMethodID: &method.ID,
			}
		})

		It("should open a recurring intent against the saved method", func() {
			result, err := service.ChargeSaved(ctx, userID, offer)

			Expect(err).ToNot(HaveOccurred())
			Expect(result).ToNot(BeNil())
			Expect(intents.params).To(HaveLen(1))
			Expect(intents.params[0].Provider).To(Equal(paymentpkg.ProviderYooKassa))
			Expect(intents.params[0].SavedMethodID).To(Equal("pm-1"))
			Expect(intents.params[0].Amount).To(Equal(299.0))
		})

		It("should fail when no method is attached", func() {
			repo.subscriptions[userID].PaymentMethodID = nil
			_, err := service.ChargeSaved(ctx, userID, offer)
			Expect(err).To(Equal(apperrors.ErrSavedMethodMissing))
		})

		It("should charge every due subscription in a sweep", func() {
			count, err := service.RenewDue(ctx, offer, time.Now().AddDate(0, 0, 2), 10)

			Expect(err).ToNot(HaveOccurred())
			Expect(count).To(Equal(1))
			Expect(intents.params).To(HaveLen(1))
		})
	})
})
