package platega_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/frahmantamala/vpn-billing/internal"
	"github.com/frahmantamala/vpn-billing/internal/payment"
	"github.com/frahmantamala/vpn-billing/internal/provider/platega"
)

func TestPlategaGateway(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Platega Gateway Suite")
}

const (
	testMerchantID = "merchant-uuid-0001"
	testSecret     = "platega-secret"
)

var _ = Describe("Platega Gateway", func() {
	var (
		gateway    *platega.Gateway
		mockServer *httptest.Server
		logger     *slog.Logger

		lastBody map[string]interface{}
	)

	BeforeEach(func() {
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
		lastBody = nil

		mockServer = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			Expect(r.URL.Path).To(Equal("/transaction/process"))
			Expect(r.Header.Get("X-MerchantId")).To(Equal(testMerchantID))
			Expect(r.Header.Get("X-Secret")).To(Equal(testSecret))
			Expect(json.NewDecoder(r.Body).Decode(&lastBody)).To(Succeed())

			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]interface{}{
				"transactionId": "tr-789",
				"redirect":      "https://app.platega.io/pay/tr-789",
			})
		}))

		gateway = platega.NewGateway(internal.PlategaConfig{
			BaseURL:       mockServer.URL,
			MerchantID:    testMerchantID,
			Secret:        testSecret,
			PaymentMethod: 2,
			ReturnURL:     "https://t.me/vpnbot",
			Timeout:       5 * time.Second,
		}, logger)
	})

	AfterEach(func() {
		mockServer.Close()
	})

	Describe("CreateIntent", func() {
		It("should open a transaction holding the local payment id as payload", func() {
			// Given
			req := payment.IntentRequest{
				PaymentID:   42,
				UserID:      100500,
				Amount:      299,
				Currency:    "RUB",
				Description: "VPN subscription for 1 month",
				SaleMode:    payment.SaleModeSubscription,
				Quantity:    1,
			}

			// When
			intent, err := gateway.CreateIntent(context.Background(), req)

			// Then
			Expect(err).ToNot(HaveOccurred())
			Expect(lastBody["paymentMethod"]).To(BeNumerically("==", 2))
			Expect(lastBody["payload"]).To(Equal("42"))
			details := lastBody["paymentDetails"].(map[string]interface{})
			Expect(details["amount"]).To(BeNumerically("==", 299))
			Expect(details["currency"]).To(Equal("RUB"))

			Expect(intent.ProviderPaymentID).To(Equal("tr-789"))
			Expect(intent.ConfirmationURL).To(Equal("https://app.platega.io/pay/tr-789"))
		})

		It("should omit empty optional fields", func() {
			// Given
			req := payment.IntentRequest{
				PaymentID: 43,
				UserID:    100500,
				Amount:    150,
				Currency:  "RUB",
				SaleMode:  payment.SaleModeSubscription,
				Quantity:  1,
			}

			// When
			_, err := gateway.CreateIntent(context.Background(), req)

			// Then
			Expect(err).ToNot(HaveOccurred())
			Expect(lastBody).ToNot(HaveKey("description"))
			Expect(lastBody).ToNot(HaveKey("failedUrl"))
		})
	})

	Describe("VerifyCallback", func() {
		authHeaders := func() http.Header {
			h := http.Header{}
			h.Set("X-MerchantId", testMerchantID)
			h.Set("X-Secret", testSecret)
			return h
		}

		callback := func(status string) []byte {
			raw, err := json.Marshal(map[string]interface{}{
				"id":       "tr-789",
				"status":   status,
				"amount":   299.0,
				"currency": "RUB",
			})
			Expect(err).ToNot(HaveOccurred())
			return raw
		}

		It("should confirm a payment when the merchant headers match", func() {
			// When
			ev, err := gateway.VerifyCallback(context.Background(), authHeaders(), callback("CONFIRMED"))

			// Then
			Expect(err).ToNot(HaveOccurred())
			Expect(ev.Outcome).To(Equal(payment.OutcomeSuccess))
			Expect(ev.ProviderPaymentID).To(Equal("tr-789"))
			Expect(ev.Amount).To(BeNumerically("==", 299))
		})

		It("should map chargebacks and cancellations to canceled", func() {
			for _, status := range []string{"CANCELED", "CANCELLED", "CHARGEBACKED"} {
				ev, err := gateway.VerifyCallback(context.Background(), authHeaders(), callback(status))
				Expect(err).ToNot(HaveOccurred())
				Expect(ev.Outcome).To(Equal(payment.OutcomeCanceled), "status %s", status)
			}
		})

		It("should leave unknown statuses pending", func() {
			// When
			ev, err := gateway.VerifyCallback(context.Background(), authHeaders(), callback("PROCESSING"))

			// Then
			Expect(err).ToNot(HaveOccurred())
			Expect(ev.Outcome).To(Equal(payment.OutcomePending))
		})

		It("should reject a wrong secret before reading the body", func() {
			// Given
			h := http.Header{}
			h.Set("X-MerchantId", testMerchantID)
			h.Set("X-Secret", "guessed-secret")

			// When
			ev, err := gateway.VerifyCallback(context.Background(), h, callback("CONFIRMED"))

			// Then
			Expect(ev).To(BeNil())
			appErr, ok := internal.IsAppError(err)
			Expect(ok).To(BeTrue())
			Expect(appErr.Code).To(Equal(internal.ErrCodeSignatureInvalid))
		})

		It("should reject missing headers", func() {
			// When
			ev, err := gateway.VerifyCallback(context.Background(), http.Header{}, callback("CONFIRMED"))

			// Then
			Expect(ev).To(BeNil())
			Expect(err).To(HaveOccurred())
		})
	})
})
