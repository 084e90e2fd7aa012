package cryptopay

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
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
	mainnetBaseURL = "https://pay.crypt.bot/api"
	testnetBaseURL = "https://testnet-pay.crypt.bot/api"

	signatureHeader = "Crypto-Pay-Api-Signature"
)

// Gateway issues Crypto Bot invoices. Callback authenticity comes from an
// HMAC-SHA256 over the raw body, keyed with the SHA256 of the API token.
type Gateway struct {
	cfg     internal.CryptoPayConfig
	baseURL string
	client  *http.Client
	logger  *slog.Logger
	hmacKey []byte
}

func NewGateway(cfg internal.CryptoPayConfig, logger *slog.Logger) *Gateway {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = mainnetBaseURL
		if cfg.Network == "testnet" {
			baseURL = testnetBaseURL
		}
	}
	key := sha256.Sum256([]byte(cfg.Token))
	return &Gateway{
		cfg:     cfg,
		baseURL: baseURL,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger:  logger,
		hmacKey: key[:],
	}
}

func (g *Gateway) Provider() payment.Provider {
	return payment.ProviderCryptoPay
}

type createInvoiceRequest struct {
	CurrencyType string `json:"currency_type"`
	Fiat         string `json:"fiat,omitempty"`
	Asset        string `json:"asset,omitempty"`
	Amount       string `json:"amount"`
	Description  string `json:"description,omitempty"`
	Payload      string `json:"payload"`
	ExpiresIn    int    `json:"expires_in,omitempty"`
}

type invoiceObject struct {
	InvoiceID     int64  `json:"invoice_id"`
	Status        string `json:"status"`
	Amount        string `json:"amount"`
	Payload       string `json:"payload"`
	BotInvoiceURL string `json:"bot_invoice_url"`
	PayURL        string `json:"pay_url"`
}

type apiResponse struct {
	OK     bool            `json:"ok"`
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code int    `json:"code"`
		Name string `json:"name"`
	} `json:"error"`
}

func (g *Gateway) CreateIntent(ctx context.Context, req payment.IntentRequest) (*payment.Intent, error) {
	body := createInvoiceRequest{
		CurrencyType: g.cfg.CurrencyType,
		Amount:       fmt.Sprintf("%.2f", req.Amount),
		Description:  req.Description,
		Payload:      payment.FormatInvoicePayload(req.PaymentID, req.Quantity, req.SaleMode),
		ExpiresIn:    int(g.cfg.InvoiceLifetime.Seconds()),
	}
	if g.cfg.CurrencyType == "crypto" {
		body.Asset = g.cfg.Asset
	} else {
		body.Fiat = req.Currency
	}

	var invoice invoiceObject
	if err := g.call(ctx, "createInvoice", body, &invoice); err != nil {
		return nil, err
	}

	url := invoice.BotInvoiceURL
	if url == "" {
		url = invoice.PayURL
	}
	return &payment.Intent{
		ProviderPaymentID: strconv.FormatInt(invoice.InvoiceID, 10),
		ConfirmationURL:   url,
	}, nil
}

func (g *Gateway) call(ctx context.Context, method string, body interface{}, out interface{}) error {
	reqBody, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", method, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/"+method, bytes.NewReader(reqBody))
	if err != nil {
		return fmt.Errorf("build %s request: %w", method, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Crypto-Pay-API-Token", g.cfg.Token)

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("cryptopay %s: %w", method, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read cryptopay response: %w", err)
	}

	var envelope apiResponse
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return fmt.Errorf("decode cryptopay response: %w", err)
	}
	if !envelope.OK {
		if envelope.Error != nil {
			g.logger.Error("cryptopay api error",
				"method", method,
				"code", envelope.Error.Code,
				"name", envelope.Error.Name)
			return fmt.Errorf("cryptopay %s failed: %s", method, envelope.Error.Name)
		}
		return fmt.Errorf("cryptopay %s failed with status %d", method, resp.StatusCode)
	}
	if out != nil {
		if err := json.Unmarshal(envelope.Result, out); err != nil {
			return fmt.Errorf("decode cryptopay result: %w", err)
		}
	}
	return nil
}

type webhookUpdate struct {
	UpdateType string        `json:"update_type"`
	Payload    invoiceObject `json:"payload"`
}

func (g *Gateway) VerifyCallback(ctx context.Context, header http.Header, body []byte) (*payment.CallbackEvent, error) {
	got := header.Get(signatureHeader)
	if got == "" {
		return nil, internal.ErrSignatureInvalid
	}

	mac := hmac.New(sha256.New, g.hmacKey)
	mac.Write(body)
	want := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(want), []byte(got)) {
		g.logger.Warn("cryptopay signature mismatch")
		return nil, internal.ErrSignatureInvalid
	}

	var update webhookUpdate
	if err := json.Unmarshal(body, &update); err != nil {
		return nil, internal.NewValidationError("malformed update body", internal.ErrCodeInvalidCallback)
	}
	if update.UpdateType != "invoice_paid" {
		g.logger.Info("ignoring cryptopay update", "update_type", update.UpdateType)
		return &payment.CallbackEvent{
			Provider: payment.ProviderCryptoPay,
			Outcome:  payment.OutcomePending,
			Raw:      body,
		}, nil
	}

	ev := &payment.CallbackEvent{
		Provider:          payment.ProviderCryptoPay,
		ProviderPaymentID: strconv.FormatInt(update.Payload.InvoiceID, 10),
		Outcome:           outcomeForStatus(update.Payload.Status),
		Raw:               body,
	}
	if amount, err := strconv.ParseFloat(update.Payload.Amount, 64); err == nil {
		ev.Amount = amount
	}
	if id, _, _, err := payment.ParseInvoicePayload(update.Payload.Payload); err == nil {
		ev.LocalPaymentID = id
	}
	return ev, nil
}

// QueryStatus polls getInvoices so the sweeper can close invoices whose
// webhook never arrived.
func (g *Gateway) QueryStatus(ctx context.Context, providerPaymentID string) (payment.Outcome, error) {
	var result struct {
		Items []invoiceObject `json:"items"`
	}
	body := map[string]string{"invoice_ids": providerPaymentID}
	if err := g.call(ctx, "getInvoices", body, &result); err != nil {
		return "", internal.NewGatewayError("cryptopay status query failed", err)
	}
	if len(result.Items) == 0 {
		return "", internal.ErrPaymentNotFound
	}
	return outcomeForStatus(result.Items[0].Status), nil
}

func outcomeForStatus(status string) payment.Outcome {
	switch status {
	case "paid":
		return payment.OutcomeSuccess
	case "expired":
		return payment.OutcomeFailure
	}
	return payment.OutcomePending
}
