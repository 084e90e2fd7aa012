package severpay

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/rand"
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

// Gateway implements the SeverPay merchant API. Requests are signed with an
// HMAC-SHA256 over the body serialized with sorted keys; callbacks are
// signed over the body in its delivered key order with the sign member
// removed. Both use compact separators.
type Gateway struct {
	cfg    internal.SeverPayConfig
	client *http.Client
	logger *slog.Logger
}

func NewGateway(cfg internal.SeverPayConfig, logger *slog.Logger) *Gateway {
	return &Gateway{
		cfg: cfg,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger: logger,
	}
}

func (g *Gateway) Provider() payment.Provider {
	return payment.ProviderSeverPay
}

func (g *Gateway) CreateIntent(ctx context.Context, req payment.IntentRequest) (*payment.Intent, error) {
	salt := make([]byte, 8)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}

	email := req.Email
	if email == "" {
		email = fmt.Sprintf("%d@telegram.org", req.UserID)
	}

	body := map[string]interface{}{
		"order_id":     strconv.FormatInt(req.PaymentID, 10),
		"amount":       fmt.Sprintf("%.2f", req.Amount),
		"currency":     req.Currency,
		"client_email": email,
		"client_id":    strconv.FormatInt(req.UserID, 10),
		"url_return":   g.cfg.ReturnURL,
		"lifetime":     g.cfg.LifetimeMinutes,
		"mid":          g.cfg.MID,
		"salt":         hex.EncodeToString(salt),
	}

	canonical, err := canonicalJSON(body)
	if err != nil {
		return nil, fmt.Errorf("serialize payin request: %w", err)
	}
	body["sign"] = signHex([]byte(g.cfg.Token), canonical)

	reqBody, err := canonicalJSON(body)
	if err != nil {
		return nil, fmt.Errorf("serialize signed payin request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.BaseURL+"/payin/create", bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("build payin request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("severpay request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read severpay response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		g.logger.Error("severpay rejected payin creation",
			"status_code", resp.StatusCode,
			"response", string(respBody))
		return nil, fmt.Errorf("severpay returned status %d", resp.StatusCode)
	}

	var result struct {
		Data struct {
			ID  json.Number `json:"id"`
			UID string      `json:"uid"`
			URL string      `json:"url"`
		} `json:"data"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("decode severpay response: %w", err)
	}
	if result.Data.URL == "" {
		g.logger.Error("severpay payin has no payment url", "response", string(respBody))
		return nil, fmt.Errorf("severpay response missing payment url")
	}

	providerID := result.Data.ID.String()
	if providerID == "" || providerID == "0" {
		providerID = result.Data.UID
	}
	return &payment.Intent{
		ProviderPaymentID: providerID,
		ConfirmationURL:   result.Data.URL,
	}, nil
}

type callbackData struct {
	ID      json.Number `json:"id"`
	UID     string      `json:"uid"`
	OrderID string      `json:"order_id"`
	Status  string      `json:"status"`
}

type callbackBody struct {
	Type string       `json:"type"`
	Data callbackData `json:"data"`
}

func (g *Gateway) VerifyCallback(ctx context.Context, header http.Header, body []byte) (*payment.CallbackEvent, error) {
	base, sign, err := stripSign(body)
	if err != nil {
		return nil, internal.NewValidationError("malformed callback body", internal.ErrCodeInvalidCallback)
	}
	if sign == "" {
		return nil, internal.ErrSignatureInvalid
	}

	want := signHex([]byte(g.cfg.Token), base)
	if !hmac.Equal([]byte(want), []byte(sign)) {
		g.logger.Warn("severpay signature mismatch")
		return nil, internal.ErrSignatureInvalid
	}

	var cb callbackBody
	if err := json.Unmarshal(body, &cb); err != nil {
		return nil, internal.NewValidationError("malformed callback body", internal.ErrCodeInvalidCallback)
	}
	if cb.Type != "payin" {
		g.logger.Info("ignoring severpay callback type", "type", cb.Type)
		return &payment.CallbackEvent{
			Provider: payment.ProviderSeverPay,
			Outcome:  payment.OutcomePending,
			Raw:      body,
		}, nil
	}

	providerID := cb.Data.ID.String()
	if providerID == "" || providerID == "0" {
		providerID = cb.Data.UID
	}

	ev := &payment.CallbackEvent{
		Provider:          payment.ProviderSeverPay,
		ProviderPaymentID: providerID,
		Outcome:           outcomeForStatus(cb.Data.Status),
		Raw:               body,
	}
	if id, err := strconv.ParseInt(cb.Data.OrderID, 10, 64); err == nil {
		ev.LocalPaymentID = id
	}
	return ev, nil
}

func outcomeForStatus(status string) payment.Outcome {
	switch status {
	case "success":
		return payment.OutcomeSuccess
	case "fail", "decline":
		return payment.OutcomeFailure
	case "process", "new":
		return payment.OutcomePending
	}
	return payment.OutcomePending
}

func signHex(key, base []byte) string {
	mac := hmac.New(sha256.New, key)
	mac.Write(base)
	return hex.EncodeToString(mac.Sum(nil))
}

// canonicalJSON serializes with sorted keys, compact separators and no HTML
// escaping, which is the byte form both sides sign.
func canonicalJSON(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// stripSign rebuilds the callback object without its top-level sign member,
// keeping the remaining members in delivered order and compacting nested
// values, and returns the extracted signature.
func stripSign(body []byte) ([]byte, string, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	tok, err := dec.Token()
	if err != nil {
		return nil, "", err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, "", fmt.Errorf("callback body is not a JSON object")
	}

	var out bytes.Buffer
	out.WriteByte('{')
	var sign string
	first := true
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, "", err
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil, "", fmt.Errorf("unexpected key token %v", keyTok)
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, "", err
		}
		if key == "sign" {
			if err := json.Unmarshal(raw, &sign); err != nil {
				return nil, "", fmt.Errorf("sign is not a string: %w", err)
			}
			continue
		}
		if !first {
			out.WriteByte(',')
		}
		first = false
		keyJSON, err := json.Marshal(key)
		if err != nil {
			return nil, "", err
		}
		out.Write(keyJSON)
		out.WriteByte(':')
		var compacted bytes.Buffer
		if err := json.Compact(&compacted, raw); err != nil {
			return nil, "", err
		}
		out.Write(compacted.Bytes())
	}
	out.WriteByte('}')
	return out.Bytes(), sign, nil
}
