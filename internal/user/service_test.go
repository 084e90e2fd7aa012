package user_test

import (
	"log/slog"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/gorm"

	userDatamodel "github.com/frahmantamala/vpn-billing/internal/core/datamodel/user"
	"github.com/frahmantamala/vpn-billing/internal/user"
)

func TestUserService(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "User Service Suite")
}

type memoryRepo struct {
	users map[int64]*userDatamodel.User
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{users: make(map[int64]*userDatamodel.User)}
}

func (m *memoryRepo) GetByID(id int64) (*userDatamodel.User, error) {
	u, ok := m.users[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return u, nil
}

func (m *memoryRepo) GetByReferralCode(code string) (*userDatamodel.User, error) {
	for _, u := range m.users {
		if u.ReferralCode != nil && *u.ReferralCode == code {
			return u, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *memoryRepo) Upsert(u *userDatamodel.User) error {
	m.users[u.ID] = u
	return nil
}

func (m *memoryRepo) SetReferrer(userID, referrerID int64) error {
	if u, ok := m.users[userID]; ok && u.ReferredByID == nil {
		u.ReferredByID = &referrerID
	}
	return nil
}

func (m *memoryRepo) SetBlocked(userID int64, blocked bool) error {
	if u, ok := m.users[userID]; ok {
		u.IsBlocked = blocked
	}
	return nil
}

var _ = Describe("Service", func() {
	var (
		repo    *memoryRepo
		service *user.Service
	)

	BeforeEach(func() {
		repo = newMemoryRepo()
		service = user.NewService(repo, slog.Default())
	})

	Describe("GetOrCreate", func() {
		It("should create a new account with a referral code", func() {
			u, err := service.GetOrCreate(user.Profile{
				ID:           100,
				Username:     "neo",
				FirstName:    "Thomas",
				LanguageCode: "en",
			})

			Expect(err).ToNot(HaveOccurred())
			Expect(u.ID).To(Equal(int64(100)))
			Expect(u.ReferralCode).ToNot(BeNil())
			Expect(*u.ReferralCode).To(HaveLen(12))
			Expect(u.LanguageCode).To(Equal("en"))
		})

		It("should refresh the profile on later updates and keep the code", func() {
			first, err := service.GetOrCreate(user.Profile{ID: 100, Username: "neo", FirstName: "Thomas"})
			Expect(err).ToNot(HaveOccurred())

			second, err := service.GetOrCreate(user.Profile{ID: 100, Username: "agent_smith", FirstName: "Thomas"})
			Expect(err).ToNot(HaveOccurred())

			Expect(*second.Username).To(Equal("agent_smith"))
			Expect(*second.ReferralCode).To(Equal(*first.ReferralCode))
		})
	})

	Describe("AttachReferrer", func() {
		var referrer *userDatamodel.User

		BeforeEach(func() {
			var err error
			referrer, err = service.GetOrCreate(user.Profile{ID: 200, FirstName: "Referrer"})
			Expect(err).ToNot(HaveOccurred())
			_, err = service.GetOrCreate(user.Profile{ID: 100, FirstName: "Referee"})
			Expect(err).ToNot(HaveOccurred())
		})

		It("should link the user to the code owner", func() {
			Expect(service.AttachReferrer(100, *referrer.ReferralCode)).To(Succeed())

			u, err := service.Get(100)
			Expect(err).ToNot(HaveOccurred())
			Expect(u.ReferredByID).ToNot(BeNil())
			Expect(*u.ReferredByID).To(Equal(int64(200)))
		})

		It("should ignore self-referrals", func() {
			Expect(service.AttachReferrer(200, *referrer.ReferralCode)).To(Succeed())

			u, err := service.Get(200)
			Expect(err).ToNot(HaveOccurred())
			Expect(u.ReferredByID).To(BeNil())
		})

		It("should not overwrite an existing referrer", func() {
			other, err := service.GetOrCreate(user.Profile{ID: 300, FirstName: "Other"})
			Expect(err).ToNot(HaveOccurred())

			Expect(service.AttachReferrer(100, *referrer.ReferralCode)).To(Succeed())
			Expect(service.AttachReferrer(100, *other.ReferralCode)).To(Succeed())

			u, err := service.Get(100)
			Expect(err).ToNot(HaveOccurred())
			Expect(*u.ReferredByID).To(Equal(int64(200)))
		})

		It("should tolerate an unknown code", func() {
			Expect(service.AttachReferrer(100, "nonsense")).To(Succeed())
		})
	})
})
