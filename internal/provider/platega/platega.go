package platega

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/frahmantamala/vpn-billing/internal"
	"github.com/frahmantamala/vpn-billing/internal/payment"
)

const (
	merchantHeader = "X-MerchantId"
	secretHeader   = "X-Secret"
)

// Gateway integrates the Platega H2H API. Both directions authenticate with
// the same static merchant headers, so callback verification is a
// constant-time comparison of those two values.
type Gateway struct {
	cfg    internal.PlategaConfig
	client *http.Client
	logger *slog.Logger
}

func NewGateway(cfg internal.PlategaConfig, logger *slog.Logger) *Gateway {
	return &Gateway{
		cfg: cfg,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger: logger,
	}
}

func (g *Gateway) Provider() payment.Provider {
	return payment.ProviderPlatega
}

func (g *Gateway) CreateIntent(ctx context.Context, req payment.IntentRequest) (*payment.Intent, error) {
	body := map[string]interface{}{
		"paymentMethod": g.cfg.PaymentMethod,
		"paymentDetails": map[string]interface{}{
			"amount":   req.Amount,
			"currency": req.Currency,
		},
		"payload": strconv.FormatInt(req.PaymentID, 10),
	}
	if req.Description != "" {
		body["description"] = req.Description
	}
	if g.cfg.ReturnURL != "" {
		body["return"] = g.cfg.ReturnURL
	}
	if g.cfg.FailedURL != "" {
		body["failedUrl"] = g.cfg.FailedURL
	}

	reqBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal transaction request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.BaseURL+"/transaction/process", bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("build transaction request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set(merchantHeader, g.cfg.MerchantID)
	httpReq.Header.Set(secretHeader, g.cfg.Secret)

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("platega request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read platega response: %w", err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		g.logger.Error("platega rejected transaction",
			"status_code", resp.StatusCode,
			"response", string(respBody))
		return nil, fmt.Errorf("platega returned status %d", resp.StatusCode)
	}

	var result struct {
		TransactionID string `json:"transactionId"`
		Redirect      string `json:"redirect"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("decode platega response: %w", err)
	}
	if result.TransactionID == "" || result.Redirect == "" {
		return nil, fmt.Errorf("platega response incomplete")
	}

	return &payment.Intent{
		ProviderPaymentID: result.TransactionID,
		ConfirmationURL:   result.Redirect,
	}, nil
}

type webhookBody struct {
	ID            string  `json:"id"`
	TransactionID string  `json:"transactionId"`
	Status        string  `json:"status"`
	Amount        float64 `json:"amount"`
	Currency      string  `json:"currency"`
	Payload       string  `json:"payload"`
}

func (g *Gateway) VerifyCallback(ctx context.Context, header http.Header, body []byte) (*payment.CallbackEvent, error) {
	gotMerchant := header.Get(merchantHeader)
	gotSecret := header.Get(secretHeader)

	merchantOK := subtle.ConstantTimeCompare([]byte(gotMerchant), []byte(g.cfg.MerchantID)) == 1
	secretOK := subtle.ConstantTimeCompare([]byte(gotSecret), []byte(g.cfg.Secret)) == 1
	if !merchantOK || !secretOK {
		g.logger.Warn("platega callback credentials mismatch")
		return nil, internal.ErrSignatureInvalid
	}

	var wb webhookBody
	if err := json.Unmarshal(body, &wb); err != nil {
		return nil, internal.NewValidationError("malformed callback body", internal.ErrCodeInvalidCallback)
	}

	transactionID := wb.ID
	if transactionID == "" {
		transactionID = wb.TransactionID
	}
	if transactionID == "" {
		return nil, internal.NewValidationError("callback missing transaction id", internal.ErrCodeInvalidCallback)
	}

	ev := &payment.CallbackEvent{
		Provider:          payment.ProviderPlatega,
		ProviderPaymentID: transactionID,
		Outcome:           outcomeForStatus(wb.Status),
		Amount:            wb.Amount,
		Currency:          wb.Currency,
		Raw:               body,
	}
	if id, err := strconv.ParseInt(wb.Payload, 10, 64); err == nil {
		ev.LocalPaymentID = id
	}
	return ev, nil
}

func outcomeForStatus(status string) payment.Outcome {
	switch status {
	case "CONFIRMED":
		return payment.OutcomeSuccess
	case "CANCELED", "CANCELLED", "CHARGEBACKED":
		return payment.OutcomeCanceled
	}
	return payment.OutcomePending
}
