package cryptopay_test

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
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
	"github.com/frahmantamala/vpn-billing/internal/provider/cryptopay"
)

func TestCryptoPayGateway(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "CryptoPay Gateway Suite")
}

const testToken = "12345:AAtestTokenForSpecs"

func signBody(body []byte) string {
	key := sha256.Sum256([]byte(testToken))
	mac := hmac.New(sha256.New, key[:])
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

var _ = Describe("CryptoPay Gateway", func() {
	var (
		gateway    *cryptopay.Gateway
		mockServer *httptest.Server
		logger     *slog.Logger

		lastMethod string
		lastBody   map[string]interface{}
		apiResult  map[string]interface{}
	)

	BeforeEach(func() {
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
		lastMethod = ""
		lastBody = nil
		apiResult = map[string]interface{}{
			"invoice_id":      float64(12345678),
			"status":          "active",
			"bot_invoice_url": "https://t.me/CryptoBot?start=IVxyz",
		}

		mockServer = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			Expect(r.Header.Get("Crypto-Pay-API-Token")).To(Equal(testToken))
			lastMethod = r.URL.Path
			Expect(json.NewDecoder(r.Body).Decode(&lastBody)).To(Succeed())

			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]interface{}{
				"ok":     true,
				"result": apiResult,
			})
		}))

		cfg := internal.CryptoPayConfig{
			Token:           testToken,
			BaseURL:         mockServer.URL,
			Network:         "mainnet",
			CurrencyType:    "fiat",
			Asset:           "RUB",
			InvoiceLifetime: time.Hour,
			Timeout:         5 * time.Second,
		}
		gateway = cryptopay.NewGateway(cfg, logger)
	})

	AfterEach(func() {
		mockServer.Close()
	})

	Describe("CreateIntent", func() {
		It("should create a fiat invoice carrying the reconciliation payload", func() {
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
			Expect(lastMethod).To(Equal("/createInvoice"))
			Expect(lastBody["currency_type"]).To(Equal("fiat"))
			Expect(lastBody["fiat"]).To(Equal("RUB"))
			Expect(lastBody["amount"]).To(Equal("299.00"))
			Expect(lastBody["payload"]).To(Equal("42:1:subscription"))
			Expect(lastBody["expires_in"]).To(BeNumerically("==", 3600))

			Expect(intent.ProviderPaymentID).To(Equal("12345678"))
			Expect(intent.ConfirmationURL).To(Equal("https://t.me/CryptoBot?start=IVxyz"))
		})
	})

	Describe("VerifyCallback", func() {
		paidUpdate := func() []byte {
			raw, err := json.Marshal(map[string]interface{}{
				"update_type": "invoice_paid",
				"payload": map[string]interface{}{
					"invoice_id": 12345678,
					"status":     "paid",
					"amount":     "299.00",
					"payload":    "42:1:subscription",
				},
			})
			Expect(err).ToNot(HaveOccurred())
			return raw
		}

		It("should accept a correctly signed paid invoice", func() {
			// Given
			body := paidUpdate()
			header := http.Header{}
			header.Set("Crypto-Pay-Api-Signature", signBody(body))

			// When
			ev, err := gateway.VerifyCallback(context.Background(), header, body)

			// Then
			Expect(err).ToNot(HaveOccurred())
			Expect(ev.Outcome).To(Equal(payment.OutcomeSuccess))
			Expect(ev.ProviderPaymentID).To(Equal("12345678"))
			Expect(ev.LocalPaymentID).To(Equal(int64(42)))
			Expect(ev.Amount).To(BeNumerically("==", 299))
		})

		It("should reject a signature computed over different bytes", func() {
			// Given
			body := paidUpdate()
			sig := signBody(body)
			// Flip one byte of the body after signing.
			tampered := append([]byte{}, body...)
			tampered[len(tampered)-5] ^= 0x01
			header := http.Header{}
			header.Set("Crypto-Pay-Api-Signature", sig)

			// When
			ev, err := gateway.VerifyCallback(context.Background(), header, tampered)

			// Then
			Expect(ev).To(BeNil())
			appErr, ok := internal.IsAppError(err)
			Expect(ok).To(BeTrue())
			Expect(appErr.Code).To(Equal(internal.ErrCodeSignatureInvalid))
		})

		It("should reject a missing signature header", func() {
			// Given
			body := paidUpdate()

			// When
			ev, err := gateway.VerifyCallback(context.Background(), http.Header{}, body)

			// Then
			Expect(ev).To(BeNil())
			Expect(err).To(HaveOccurred())
		})

		It("should treat non-payment updates as pending noise", func() {
			// Given
			body, err := json.Marshal(map[string]interface{}{
				"update_type": "invoice_expired_preview",
			})
			Expect(err).ToNot(HaveOccurred())
			header := http.Header{}
			header.Set("Crypto-Pay-Api-Signature", signBody(body))

			// When
			ev, verr := gateway.VerifyCallback(context.Background(), header, body)

			// Then
			Expect(verr).ToNot(HaveOccurred())
			Expect(ev.Outcome).To(Equal(payment.OutcomePending))
		})
	})

	Describe("QueryStatus", func() {
		It("should resolve a paid invoice", func() {
			// Given
			apiResult = map[string]interface{}{
				"items": []interface{}{
					map[string]interface{}{"invoice_id": float64(12345678), "status": "paid"},
				},
			}

			// When
			outcome, err := gateway.QueryStatus(context.Background(), "12345678")

			// Then
			Expect(err).ToNot(HaveOccurred())
			Expect(lastMethod).To(Equal("/getInvoices"))
			Expect(outcome).To(Equal(payment.OutcomeSuccess))
		})

		It("should report expired invoices as failures", func() {
			// Given
			apiResult = map[string]interface{}{
				"items": []interface{}{
					map[string]interface{}{"invoice_id": float64(12345678), "status": "expired"},
				},
			}

			// When
			outcome, err := gateway.QueryStatus(context.Background(), "12345678")

			// Then
			Expect(err).ToNot(HaveOccurred())
			Expect(outcome).To(Equal(payment.OutcomeFailure))
		})
	})
})
