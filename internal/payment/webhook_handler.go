package payment

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"

	apperrors "github.com/frahmantamala/vpn-billing/internal"
	"github.com/frahmantamala/vpn-billing/internal/transport"
	"github.com/go-chi/chi"
)

// maxCallbackBody caps webhook payloads; every provider we speak to sends
// well under this.
const maxCallbackBody = 1 << 20

// ServiceAPI is the reconciliation engine as the ingress sees it.
type ServiceAPI interface {
	Reconcile(ctx context.Context, ev *CallbackEvent) (*ReconcileResult, error)
}

// WebhookHandler owns one POST route per provider. It reads the body once,
// lets the provider's verifier authenticate it, feeds the parsed event into
// reconciliation and answers in the dialect the provider's retry policy
// expects: 2xx stops retries, 4xx rejects permanently, 5xx asks for a retry.
type WebhookHandler struct {
	*transport.BaseHandler
	registry *Registry
	service  ServiceAPI
	logger   *slog.Logger
}

func NewWebhookHandler(baseHandler *transport.BaseHandler, registry *Registry, service ServiceAPI, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		BaseHandler: baseHandler,
		registry:    registry,
		service:     service,
		logger:      logger,
	}
}

// RegisterRoutes mounts the webhook endpoints. Stars has no HTTP callback:
// its confirmations ride the bot update stream.
func (h *WebhookHandler) RegisterRoutes(r chi.Router) {
	for _, p := range []Provider{ProviderYooKassa, ProviderCryptoPay, ProviderFreeKassa, ProviderPlatega, ProviderSeverPay} {
		provider := p
		r.Post(apperrors.WebhookPath(string(provider)), func(w http.ResponseWriter, req *http.Request) {
			h.handleCallback(w, req, provider)
		})
	}
}

func (h *WebhookHandler) handleCallback(w http.ResponseWriter, r *http.Request, provider Provider) {
	verifier, ok := h.registry.Verifier(provider)
	if !ok {
		h.logger.Warn("callback for unconfigured provider", "provider", provider)
		h.writeAck(w, provider, http.StatusNotFound, "unknown provider")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxCallbackBody))
	if err != nil {
		h.logger.Error("failed to read callback body", "error", err, "provider", provider)
		h.writeAck(w, provider, http.StatusBadRequest, "unreadable body")
		return
	}

	ctx := apperrors.ContextWithRemoteIP(r.Context(), remoteIP(r))

	ev, err := verifier.VerifyCallback(ctx, r.Header, body)
	if err != nil {
		h.handleVerifyError(w, provider, err)
		return
	}

	result, err := h.service.Reconcile(ctx, ev)
	if err != nil {
		h.handleReconcileError(w, provider, ev, err)
		return
	}

	h.writeSuccessAck(w, provider, result)
}

// handleVerifyError distinguishes forged traffic (403, never retried) from
// bodies we simply could not parse (400, never retried either).
func (h *WebhookHandler) handleVerifyError(w http.ResponseWriter, provider Provider, err error) {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		switch appErr.Type {
		case apperrors.ErrorTypeAuthentication:
			h.logger.Warn("callback failed authentication", "provider", provider, "error", err)
			h.writeAck(w, provider, http.StatusForbidden, "signature invalid")
			return
		case apperrors.ErrorTypeValidation:
			h.logger.Warn("malformed callback rejected", "provider", provider, "error", err)
			h.writeAck(w, provider, http.StatusBadRequest, appErr.Message)
			return
		}
	}
	h.logger.Error("callback verification failed", "provider", provider, "error", err)
	h.writeAck(w, provider, http.StatusInternalServerError, "verification error")
}

func (h *WebhookHandler) handleReconcileError(w http.ResponseWriter, provider Provider, ev *CallbackEvent, err error) {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) && appErr.Type == apperrors.ErrorTypeNotFound {
		// A payment we never created will not appear on a retry either.
		h.writeAck(w, provider, http.StatusNotFound, "payment not found")
		return
	}
	if errors.As(err, &appErr) && appErr.Type == apperrors.ErrorTypeValidation {
		h.writeAck(w, provider, http.StatusBadRequest, appErr.Message)
		return
	}

	// Processing failure: the transaction rolled back, the record is still
	// pending, and the provider's retry will re-enter cleanly.
	h.logger.Error("callback processing failed",
		"provider", provider,
		"local_payment_id", ev.LocalPaymentID,
		"provider_payment_id", ev.ProviderPaymentID,
		"error", err)
	h.writeAck(w, provider, http.StatusInternalServerError, "processing error")
}

// writeSuccessAck answers a processed callback in the provider's own ack
// dialect. Replays land here too and ack identically.
func (h *WebhookHandler) writeSuccessAck(w http.ResponseWriter, provider Provider, result *ReconcileResult) {
	switch provider {
	case ProviderFreeKassa:
		// FreeKassa keeps retrying until it reads a literal YES.
		h.writePlain(w, http.StatusOK, "YES")
	case ProviderPlatega:
		switch result.Status {
		case StatusCanceled:
			h.writePlain(w, http.StatusOK, "ok_canceled")
		case StatusSucceeded, StatusFailed:
			h.writePlain(w, http.StatusOK, "ok")
		default:
			// Interim statuses we deliberately do not act on.
			h.writePlain(w, http.StatusAccepted, "status_ignored")
		}
	case ProviderSeverPay:
		h.WriteJSON(w, http.StatusOK, map[string]bool{"status": true})
	default:
		h.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// writeAck answers a rejected callback without leaking internals to the
// provider. SeverPay expects its boolean envelope even on rejection.
func (h *WebhookHandler) writeAck(w http.ResponseWriter, provider Provider, status int, message string) {
	switch provider {
	case ProviderSeverPay:
		h.WriteJSON(w, status, map[string]bool{"status": false})
	case ProviderFreeKassa:
		h.writePlain(w, status, "NO")
	default:
		h.WriteJSON(w, status, map[string]string{"error": message})
	}
}

func (h *WebhookHandler) writePlain(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(status)
	if _, err := w.Write([]byte(body)); err != nil {
		h.logger.Error("failed to write callback ack", "error", err)
	}
}

// remoteIP extracts the caller address, trusting the first X-Forwarded-For
// hop when a proxy sits in front of the ingress.
func remoteIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		parts := strings.Split(fwd, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
