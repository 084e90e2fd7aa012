package payment_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/go-chi/chi"

	apperrors "github.com/frahmantamala/vpn-billing/internal"
	paymentPkg "github.com/frahmantamala/vpn-billing/internal/payment"
	"github.com/frahmantamala/vpn-billing/internal/transport"
)

// verifyingGateway is a gateway whose callback verification and outcome are
// scripted per test.
type verifyingGateway struct {
	provider  paymentPkg.Provider
	event     *paymentPkg.CallbackEvent
	verifyErr error
	seenIP    string
}

func (g *verifyingGateway) Provider() paymentPkg.Provider {
	return g.provider
}

func (g *verifyingGateway) CreateIntent(ctx context.Context, req paymentPkg.IntentRequest) (*paymentPkg.Intent, error) {
	return &paymentPkg.Intent{}, nil
}

func (g *verifyingGateway) VerifyCallback(ctx context.Context, header http.Header, body []byte) (*paymentPkg.CallbackEvent, error) {
	g.seenIP = apperrors.RemoteIPFromContext(ctx)
	if g.verifyErr != nil {
		return nil, g.verifyErr
	}
	return g.event, nil
}

type scriptedReconciler struct {
	result *paymentPkg.ReconcileResult
	err    error
	events []*paymentPkg.CallbackEvent
}

func (s *scriptedReconciler) Reconcile(ctx context.Context, ev *paymentPkg.CallbackEvent) (*paymentPkg.ReconcileResult, error) {
	s.events = append(s.events, ev)
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

var _ = Describe("WebhookHandler", func() {
	var (
		router     *chi.Mux
		gateway    *verifyingGateway
		reconciler *scriptedReconciler
		logger     *slog.Logger
	)

	newRouter := func(provider paymentPkg.Provider) {
		registry := paymentPkg.NewRegistry()
		gateway.provider = provider
		registry.Register(gateway)

		handler := paymentPkg.NewWebhookHandler(
			transport.NewBaseHandler(logger),
			registry,
			reconciler,
			logger,
		)
		router = chi.NewRouter()
		handler.RegisterRoutes(router)
	}

	post := func(path, body string, headers map[string]string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
		req.RemoteAddr = "203.0.113.7:49152"
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	BeforeEach(func() {
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
		gateway = &verifyingGateway{
			event: &paymentPkg.CallbackEvent{
				Provider:       paymentPkg.ProviderSeverPay,
				LocalPaymentID: 42,
				Outcome:        paymentPkg.OutcomeSuccess,
			},
		}
		reconciler = &scriptedReconciler{
			result: &paymentPkg.ReconcileResult{PaymentID: 42, Status: paymentPkg.StatusSucceeded, Applied: true},
		}
	})

	Context("when the callback verifies and reconciles", func() {
		It("should ack SeverPay with its boolean envelope", func() {
			newRouter(paymentPkg.ProviderSeverPay)

			rec := post("/webhook/severpay", `{"type":"payin"}`, nil)

			Expect(rec.Code).To(Equal(http.StatusOK))
			var body map[string]bool
			Expect(json.Unmarshal(rec.Body.Bytes(), &body)).To(Succeed())
			Expect(body["status"]).To(BeTrue())
			Expect(reconciler.events).To(HaveLen(1))
			Expect(reconciler.events[0].LocalPaymentID).To(Equal(int64(42)))
		})

		It("should ack FreeKassa with a literal YES", func() {
			newRouter(paymentPkg.ProviderFreeKassa)

			rec := post("/webhook/freekassa", "MERCHANT_ID=1", nil)

			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Body.String()).To(Equal("YES"))
		})

		It("should ack a Platega cancellation with ok_canceled", func() {
			newRouter(paymentPkg.ProviderPlatega)
			reconciler.result = &paymentPkg.ReconcileResult{PaymentID: 42, Status: paymentPkg.StatusCanceled, Applied: true}

			rec := post("/webhook/platega", `{"status":"CANCELED"}`, nil)

			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Body.String()).To(Equal("ok_canceled"))
		})

		It("should answer 202 for a Platega status we do not act on", func() {
			newRouter(paymentPkg.ProviderPlatega)
			reconciler.result = &paymentPkg.ReconcileResult{PaymentID: 42, Status: "pending_platega"}

			rec := post("/webhook/platega", `{"status":"PENDING"}`, nil)

			Expect(rec.Code).To(Equal(http.StatusAccepted))
			Expect(rec.Body.String()).To(Equal("status_ignored"))
		})

		It("should hand the caller address to the verifier", func() {
			newRouter(paymentPkg.ProviderSeverPay)

			post("/webhook/severpay", `{}`, map[string]string{"X-Forwarded-For": "198.51.100.1, 10.0.0.1"})

			Expect(gateway.seenIP).To(Equal("198.51.100.1"))
		})
	})

	Context("when verification rejects the callback", func() {
		It("should answer 403 on a signature failure without reconciling", func() {
			newRouter(paymentPkg.ProviderCryptoPay)
			gateway.verifyErr = apperrors.ErrSignatureInvalid

			rec := post("/webhook/cryptopay", `{"update_type":"invoice_paid"}`, nil)

			Expect(rec.Code).To(Equal(http.StatusForbidden))
			Expect(reconciler.events).To(BeEmpty())
		})

		It("should keep the SeverPay envelope on a signature failure", func() {
			newRouter(paymentPkg.ProviderSeverPay)
			gateway.verifyErr = apperrors.ErrSignatureInvalid

			rec := post("/webhook/severpay", `{"sign":"bad"}`, nil)

			Expect(rec.Code).To(Equal(http.StatusForbidden))
			var body map[string]bool
			Expect(json.Unmarshal(rec.Body.Bytes(), &body)).To(Succeed())
			Expect(body["status"]).To(BeFalse())
		})

		It("should answer 400 on a malformed body so the provider stops retrying", func() {
			newRouter(paymentPkg.ProviderYooKassa)
			gateway.verifyErr = apperrors.NewValidationError("malformed callback body", apperrors.ErrCodeInvalidCallback)

			rec := post("/webhook/yookassa", "not json", nil)

			Expect(rec.Code).To(Equal(http.StatusBadRequest))
			Expect(reconciler.events).To(BeEmpty())
		})
	})

	Context("when reconciliation cannot proceed", func() {
		It("should answer 404 for an unknown payment", func() {
			newRouter(paymentPkg.ProviderPlatega)
			reconciler.err = apperrors.ErrPaymentNotFound

			rec := post("/webhook/platega", `{"status":"CONFIRMED"}`, nil)

			Expect(rec.Code).To(Equal(http.StatusNotFound))
		})

		It("should answer 500 on a processing failure so the provider retries", func() {
			newRouter(paymentPkg.ProviderCryptoPay)
			reconciler.err = apperrors.NewInternalError("reconciliation failed", errors.New("db gone"))

			rec := post("/webhook/cryptopay", `{"update_type":"invoice_paid"}`, nil)

			Expect(rec.Code).To(Equal(http.StatusInternalServerError))
		})
	})

	Context("when the provider route has no configured gateway", func() {
		It("should answer 404", func() {
			newRouter(paymentPkg.ProviderSeverPay)

			rec := post("/webhook/platega", `{}`, nil)

			Expect(rec.Code).To(Equal(http.StatusNotFound))
		})
	})
})
