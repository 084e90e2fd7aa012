package auth_test

import (
	"crypto/rand"
	"crypto/rsa"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"golang.org/x/crypto/bcrypt"

	apperrors "github.com/frahmantamala/vpn-billing/internal"
	"github.com/frahmantamala/vpn-billing/internal/auth"
)

func TestAuthService(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Auth Service Suite")
}

var _ = Describe("Service", func() {
	var (
		service *auth.Service
		tokens  *auth.JWTTokenGenerator
	)

	BeforeEach(func() {
		key, err := rsa.GenerateKey(rand.Reader, 2048)
		Expect(err).ToNot(HaveOccurred())

		hash, err := bcrypt.GenerateFromPassword([]byte("correct horse"), bcrypt.MinCost)
		Expect(err).ToNot(HaveOccurred())

		tokens = auth.NewJWTTokenGenerator(key, &key.PublicKey, 30*time.Minute)
		service = auth.NewService("admin", string(hash), tokens)
	})

	Describe("Authenticate", func() {
		It("should issue a bearer token for the configured credentials", func() {
			// When
			result, err := service.Authenticate(auth.LoginDTO{Login: "admin", Password: "correct horse"})

			// Then
			Expect(err).ToNot(HaveOccurred())
			Expect(result.TokenType).To(Equal("Bearer"))
			Expect(result.AccessToken).ToNot(BeEmpty())

			claims, err := service.ValidateAccessToken(result.AccessToken)
			Expect(err).ToNot(HaveOccurred())
			Expect(claims.Subject).To(Equal("admin"))
		})

		It("should reject a wrong password", func() {
			_, err := service.Authenticate(auth.LoginDTO{Login: "admin", Password: "battery staple"})
			Expect(err).To(Equal(apperrors.ErrInvalidCredentials))
		})

		It("should reject an unknown login", func() {
			_, err := service.Authenticate(auth.LoginDTO{Login: "root", Password: "correct horse"})
			Expect(err).To(Equal(apperrors.ErrInvalidCredentials))
		})

		It("should reject empty credentials before touching bcrypt", func() {
			_, err := service.Authenticate(auth.LoginDTO{})
			Expect(err).To(HaveOccurred())
			appErr, ok := apperrors.IsAppError(err)
			Expect(ok).To(BeTrue())
			Expect(appErr.Type).To(Equal(apperrors.ErrorTypeValidation))
		})
	})

	Describe("ValidateAccessToken", func() {
		It("should reject a tampered token", func() {
			result, err := service.Authenticate(auth.LoginDTO{Login: "admin", Password: "correct horse"})
			Expect(err).ToNot(HaveOccurred())

			tampered := result.AccessToken[:len(result.AccessToken)-2] + "xx"
			_, err = service.ValidateAccessToken(tampered)
			Expect(err).To(Equal(apperrors.ErrInvalidToken))
		})

		It("should reject an expired token", func() {
			short := auth.NewJWTTokenGenerator(tokens.PrivateKey, tokens.PublicKey, time.Nanosecond)
			token, err := short.GenerateAccessToken("admin")
			Expect(err).ToNot(HaveOccurred())

			Eventually(func() error {
				_, err := short.ValidateToken(token)
				return err
			}).Should(Equal(apperrors.ErrTokenExpired))
		})
	})
})
