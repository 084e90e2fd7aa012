package freekassa

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/frahmantamala/vpn-billing/internal"
	"github.com/frahmantamala/vpn-billing/internal/payment"
)

// Gateway opens orders through the FreeKassa v1 API. API requests are
// signed with an HMAC-SHA256 over the request values sorted by key; the
// result callback instead carries an md5 over merchant id, amount, the
// second secret and the order id.
type Gateway struct {
	cfg    internal.FreeKassaConfig
	client *http.Client
	logger *slog.Logger
}

func NewGateway(cfg internal.FreeKassaConfig, logger *slog.Logger) *Gateway {
	return &Gateway{
		cfg: cfg,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger: logger,
	}
}

func (g *Gateway) Provider() payment.Provider {
	return payment.ProviderFreeKassa
}

func (g *Gateway) CreateIntent(ctx context.Context, req payment.IntentRequest) (*payment.Intent, error) {
	email := req.Email
	if email == "" {
		email = fmt.Sprintf("%d@telegram.org", req.UserID)
	}
	clientIP := g.cfg.ClientIP
	if clientIP == "" {
		clientIP = "0.0.0.0"
	}

	body := map[string]interface{}{
		"shopId":    mustInt(g.cfg.MerchantID),
		"nonce":     time.Now().UnixNano(),
		"paymentId": strconv.FormatInt(req.PaymentID, 10),
		"email":     email,
		"ip":        clientIP,
		"amount":    fmt.Sprintf("%.2f", req.Amount),
		"currency":  req.Currency,
	}
	if g.cfg.PaymentMethodID != 0 {
		body["i"] = g.cfg.PaymentMethodID
	}
	body["signature"] = g.signAPIRequest(body)

	reqBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal order request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.APIBaseURL+"/orders/create", bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("build order request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("freekassa request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read freekassa response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		g.logger.Error("freekassa rejected order creation",
			"status_code", resp.StatusCode,
			"response", string(respBody))
		return nil, fmt.Errorf("freekassa returned status %d", resp.StatusCode)
	}

	var result struct {
		Type      string `json:"type"`
		OrderID   int64  `json:"orderId"`
		OrderHash string `json:"orderHash"`
		Location  string `json:"location"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("decode freekassa response: %w", err)
	}
	if result.Location == "" {
		return nil, fmt.Errorf("freekassa response missing payment location")
	}

	providerID := result.OrderHash
	if providerID == "" {
		providerID = strconv.FormatInt(result.OrderID, 10)
	}
	return &payment.Intent{
		ProviderPaymentID: providerID,
		ConfirmationURL:   result.Location,
	}, nil
}

// signAPIRequest joins the request values in key order with "|" and signs
// them with the API key.
func (g *Gateway) signAPIRequest(body map[string]interface{}) string {
	keys := make([]string, 0, len(body))
	for k := range body {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	values := make([]string, 0, len(keys))
	for _, k := range keys {
		values = append(values, fmt.Sprint(body[k]))
	}

	mac := hmac.New(sha256.New, []byte(g.cfg.APIKey))
	mac.Write([]byte(strings.Join(values, "|")))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyCallback parses the form-encoded result notification. FreeKassa
// only notifies on success, so a valid signature means the order is paid.
func (g *Gateway) VerifyCallback(ctx context.Context, header http.Header, body []byte) (*payment.CallbackEvent, error) {
	if err := g.checkSourceIP(ctx); err != nil {
		return nil, err
	}

	form, err := url.ParseQuery(string(body))
	if err != nil {
		return nil, internal.NewValidationError("malformed form body", internal.ErrCodeInvalidCallback)
	}

	merchantID := form.Get("MERCHANT_ID")
	amount := form.Get("AMOUNT")
	orderID := form.Get("MERCHANT_ORDER_ID")
	sign := form.Get("SIGN")
	if merchantID == "" || amount == "" || orderID == "" || sign == "" {
		return nil, internal.NewValidationError("notification missing required fields", internal.ErrCodeInvalidCallback)
	}

	base := fmt.Sprintf("%s:%s:%s:%s", merchantID, amount, g.cfg.SecondSecret, orderID)
	sum := md5.Sum([]byte(base))
	want := hex.EncodeToString(sum[:])
	if !hmac.Equal([]byte(want), []byte(strings.ToLower(sign))) {
		g.logger.Warn("freekassa signature mismatch", "order_id", orderID)
		return nil, internal.ErrSignatureInvalid
	}

	ev := &payment.CallbackEvent{
		Provider:          payment.ProviderFreeKassa,
		ProviderPaymentID: form.Get("intid"),
		Outcome:           payment.OutcomeSuccess,
		Raw:               body,
	}
	if id, err := strconv.ParseInt(orderID, 10, 64); err == nil {
		ev.LocalPaymentID = id
	}
	if a, err := strconv.ParseFloat(amount, 64); err == nil {
		ev.Amount = a
	}
	return ev, nil
}

func (g *Gateway) checkSourceIP(ctx context.Context) error {
	if len(g.cfg.AllowedIPs) == 0 {
		return nil
	}
	remote := internal.RemoteIPFromContext(ctx)
	for _, ip := range g.cfg.AllowedIPs {
		if ip == remote {
			return nil
		}
	}
	g.logger.Warn("freekassa callback from unlisted source", "remote", remote)
	return internal.ErrSignatureInvalid
}

func mustInt(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
