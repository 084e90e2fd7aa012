package yookassa

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/frahmantamala/vpn-billing/internal"
	"github.com/frahmantamala/vpn-billing/internal/payment"
)

// Gateway talks to the YooKassa v3 API. Webhooks carry no signature, so a
// callback is only trusted after the payment object is re-fetched from the
// API with merchant credentials.
type Gateway struct {
	cfg    internal.YooKassaConfig
	client *http.Client
	logger *slog.Logger

	allowedNets []*net.IPNet
	allowedIPs  []net.IP
}

func NewGateway(cfg internal.YooKassaConfig, logger *slog.Logger) *Gateway {
	g := &Gateway{
		cfg: cfg,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger: logger,
	}
	for _, s := range cfg.AllowedSubnets {
		if _, ipnet, err := net.ParseCIDR(s); err == nil {
			g.allowedNets = append(g.allowedNets, ipnet)
			continue
		}
		if ip := net.ParseIP(s); ip != nil {
			g.allowedIPs = append(g.allowedIPs, ip)
		} else {
			logger.Warn("ignoring unparsable yookassa subnet", "subnet", s)
		}
	}
	return g
}

func (g *Gateway) Provider() payment.Provider {
	return payment.ProviderYooKassa
}

type amountObject struct {
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

type confirmationObject struct {
	Type            string `json:"type"`
	ReturnURL       string `json:"return_url,omitempty"`
	ConfirmationURL string `json:"confirmation_url,omitempty"`
}

type receiptCustomer struct {
	Email string `json:"email"`
}

type receiptItem struct {
	Description    string       `json:"description"`
	Quantity       string       `json:"quantity"`
	Amount         amountObject `json:"amount"`
	VATCode        int          `json:"vat_code"`
	PaymentMode    string       `json:"payment_mode"`
	PaymentSubject string       `json:"payment_subject"`
}

type receiptObject struct {
	Customer receiptCustomer `json:"customer"`
	Items    []receiptItem   `json:"items"`
}

type createPaymentRequest struct {
	Amount            amountObject        `json:"amount"`
	Capture           bool                `json:"capture"`
	Description       string              `json:"description,omitempty"`
	Confirmation      *confirmationObject `json:"confirmation,omitempty"`
	PaymentMethodID   string              `json:"payment_method_id,omitempty"`
	SavePaymentMethod bool                `json:"save_payment_method,omitempty"`
	Receipt           *receiptObject      `json:"receipt,omitempty"`
	Metadata          map[string]string   `json:"metadata,omitempty"`
}

type cardObject struct {
	CardType string `json:"card_type"`
	Last4    string `json:"last4"`
}

type paymentMethodObject struct {
	ID            string      `json:"id"`
	Type          string      `json:"type"`
	Saved         bool        `json:"saved"`
	Title         string      `json:"title"`
	AccountNumber string      `json:"account_number"`
	Card          *cardObject `json:"card"`
}

type paymentObject struct {
	ID            string               `json:"id"`
	Status        string               `json:"status"`
	Paid          bool                 `json:"paid"`
	Amount        amountObject         `json:"amount"`
	Confirmation  *confirmationObject  `json:"confirmation"`
	PaymentMethod *paymentMethodObject `json:"payment_method"`
	Metadata      map[string]string    `json:"metadata"`
}

type notificationEnvelope struct {
	Type   string `json:"type"`
	Event  string `json:"event"`
	Object struct {
		ID string `json:"id"`
	} `json:"object"`
}

func (g *Gateway) CreateIntent(ctx context.Context, req payment.IntentRequest) (*payment.Intent, error) {
	body := createPaymentRequest{
		Amount: amountObject{
			Value:    fmt.Sprintf("%.2f", req.Amount),
			Currency: req.Currency,
		},
		Capture:     true,
		Description: req.Description,
		Metadata: map[string]string{
			"user_id":       strconv.FormatInt(req.UserID, 10),
			"payment_db_id": strconv.FormatInt(req.PaymentID, 10),
			"quantity":      strconv.Itoa(req.Quantity),
			"sale_mode":     string(req.SaleMode),
		},
	}

	paymentMode := "full_payment"
	if req.SavedMethodID != "" {
		// Recurring charge against a stored token needs no user redirect.
		body.PaymentMethodID = req.SavedMethodID
		body.Metadata["used_saved_payment_method_id"] = req.SavedMethodID
		paymentMode = "full_prepayment"
	} else {
		body.Confirmation = &confirmationObject{
			Type:      "redirect",
			ReturnURL: g.cfg.ReturnURL,
		}
		if req.SavePaymentMethod && g.cfg.AutopaymentsEnabled {
			body.SavePaymentMethod = true
			paymentMode = "full_prepayment"
		}
	}

	email := req.Email
	if email == "" {
		email = g.cfg.ReceiptEmail
	}
	if email != "" {
		body.Receipt = &receiptObject{
			Customer: receiptCustomer{Email: email},
			Items: []receiptItem{{
				Description:    req.Description,
				Quantity:       "1.00",
				Amount:         body.Amount,
				VATCode:        g.cfg.VATCode,
				PaymentMode:    paymentMode,
				PaymentSubject: "service",
			}},
		}
	}

	obj, err := g.postPayment(ctx, body)
	if err != nil {
		return nil, err
	}

	intent := &payment.Intent{
		ProviderPaymentID: obj.ID,
	}
	if obj.Confirmation != nil {
		intent.ConfirmationURL = obj.Confirmation.ConfirmationURL
	}
	return intent, nil
}

func (g *Gateway) postPayment(ctx context.Context, body createPaymentRequest) (*paymentObject, error) {
	reqBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal payment request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.BaseURL+"/payments", bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("build payment request: %w", err)
	}
	httpReq.SetBasicAuth(g.cfg.ShopID, g.cfg.SecretKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotence-Key", uuid.New().String())

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("yookassa request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read yookassa response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		g.logger.Error("yookassa rejected payment creation",
			"status_code", resp.StatusCode,
			"response", string(respBody))
		return nil, fmt.Errorf("yookassa returned status %d", resp.StatusCode)
	}

	var obj paymentObject
	if err := json.Unmarshal(respBody, &obj); err != nil {
		return nil, fmt.Errorf("decode yookassa response: %w", err)
	}
	if obj.ID == "" {
		return nil, fmt.Errorf("yookassa response missing payment id")
	}
	return &obj, nil
}

// VerifyCallback authenticates a notification by fetching the referenced
// payment from the API. The delivery body itself is never trusted beyond
// the payment id it names.
func (g *Gateway) VerifyCallback(ctx context.Context, header http.Header, body []byte) (*payment.CallbackEvent, error) {
	if err := g.checkSourceIP(ctx); err != nil {
		return nil, err
	}

	var env notificationEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, internal.NewValidationError("malformed notification body", internal.ErrCodeInvalidCallback)
	}
	if env.Object.ID == "" {
		return nil, internal.NewValidationError("notification missing payment id", internal.ErrCodeInvalidCallback)
	}

	switch env.Event {
	case "payment.succeeded", "payment.canceled", "payment.waiting_for_capture":
	default:
		g.logger.Info("ignoring yookassa event", "event", env.Event, "object_id", env.Object.ID)
		return &payment.CallbackEvent{
			Provider:          payment.ProviderYooKassa,
			ProviderPaymentID: env.Object.ID,
			Outcome:           payment.OutcomePending,
			Raw:               body,
		}, nil
	}

	obj, err := g.fetchPayment(ctx, env.Object.ID)
	if err != nil {
		return nil, err
	}

	amount, _ := strconv.ParseFloat(obj.Amount.Value, 64)
	ev := &payment.CallbackEvent{
		Provider:          payment.ProviderYooKassa,
		ProviderPaymentID: obj.ID,
		Outcome:           outcomeForStatus(obj.Status),
		Amount:            amount,
		Currency:          obj.Amount.Currency,
		SavedMethod:       savedMethodInfo(obj.PaymentMethod),
		Raw:               body,
	}
	if id, err := strconv.ParseInt(obj.Metadata["payment_db_id"], 10, 64); err == nil {
		ev.LocalPaymentID = id
	}
	return ev, nil
}

func (g *Gateway) checkSourceIP(ctx context.Context) error {
	if len(g.allowedNets) == 0 && len(g.allowedIPs) == 0 {
		return nil
	}
	remote := internal.RemoteIPFromContext(ctx)
	ip := net.ParseIP(remote)
	if ip == nil {
		g.logger.Warn("yookassa callback without usable source ip", "remote", remote)
		return internal.ErrSignatureInvalid
	}
	for _, n := range g.allowedNets {
		if n.Contains(ip) {
			return nil
		}
	}
	for _, a := range g.allowedIPs {
		if a.Equal(ip) {
			return nil
		}
	}
	g.logger.Warn("yookassa callback from unlisted source", "remote", remote)
	return internal.ErrSignatureInvalid
}

func (g *Gateway) fetchPayment(ctx context.Context, id string) (*paymentObject, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, g.cfg.BaseURL+"/payments/"+id, nil)
	if err != nil {
		return nil, fmt.Errorf("build fetch request: %w", err)
	}
	httpReq.SetBasicAuth(g.cfg.ShopID, g.cfg.SecretKey)

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, internal.NewGatewayError("yookassa unreachable", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, internal.NewGatewayError("yookassa response unreadable", err)
	}
	if resp.StatusCode == http.StatusNotFound {
		// The notification names a payment we cannot see: treat as forged.
		g.logger.Warn("yookassa knows no such payment", "payment_id", id)
		return nil, internal.ErrSignatureInvalid
	}
	if resp.StatusCode != http.StatusOK {
		g.logger.Error("yookassa fetch failed", "status_code", resp.StatusCode, "payment_id", id)
		return nil, internal.NewGatewayError(fmt.Sprintf("yookassa returned status %d", resp.StatusCode), nil)
	}

	var obj paymentObject
	if err := json.Unmarshal(respBody, &obj); err != nil {
		return nil, internal.NewGatewayError("yookassa response undecodable", err)
	}
	return &obj, nil
}

func (g *Gateway) QueryStatus(ctx context.Context, providerPaymentID string) (payment.Outcome, error) {
	obj, err := g.fetchPayment(ctx, providerPaymentID)
	if err != nil {
		return "", err
	}
	return outcomeForStatus(obj.Status), nil
}

func outcomeForStatus(status string) payment.Outcome {
	switch status {
	case "succeeded":
		return payment.OutcomeSuccess
	case "canceled":
		return payment.OutcomeCanceled
	}
	return payment.OutcomePending
}

// savedMethodInfo turns the API's payment_method block into a display-ready
// token description, or nil when nothing reusable was stored.
func savedMethodInfo(pm *paymentMethodObject) *payment.SavedMethodInfo {
	if pm == nil || !pm.Saved || pm.ID == "" {
		return nil
	}

	title := pm.Title
	switch pm.Type {
	case "bank_card":
		if pm.Card != nil && pm.Card.Last4 != "" {
			brand := pm.Card.CardType
			if brand == "" {
				brand = "Card"
			}
			title = fmt.Sprintf("%s •• %s", brand, pm.Card.Last4)
		}
	case "yoo_money":
		title = "YooMoney"
		if n := pm.AccountNumber; len(n) >= 4 {
			title = fmt.Sprintf("YooMoney •• %s", n[len(n)-4:])
		}
	default:
		if title == "" {
			title = strings.ToUpper(pm.Type)
		}
	}

	return &payment.SavedMethodInfo{
		ProviderMethodID: pm.ID,
		MethodType:       pm.Type,
		Title:            title,
	}
}
