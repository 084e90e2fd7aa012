package stars

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/frahmantamala/vpn-billing/internal/payment"
)

// InvoiceSender delivers a Stars invoice into the user's chat. The bot
// runtime implements it; tests stub it.
type InvoiceSender interface {
	SendInvoice(ctx context.Context, userID int64, title, description, payload string, amount int) error
}

// Gateway sells through Telegram Stars. There is no webhook: the bot
// update stream carries the pre-checkout query and the successful payment,
// and the runtime feeds those back into reconciliation.
type Gateway struct {
	sender InvoiceSender
	logger *slog.Logger
}

func NewGateway(sender InvoiceSender, logger *slog.Logger) *Gateway {
	return &Gateway{
		sender: sender,
		logger: logger,
	}
}

func (g *Gateway) Provider() payment.Provider {
	return payment.ProviderStars
}

func (g *Gateway) CreateIntent(ctx context.Context, req payment.IntentRequest) (*payment.Intent, error) {
	amount := int(math.Round(req.Amount))
	if amount <= 0 {
		return nil, fmt.Errorf("stars amount must be a positive whole number, got %v", req.Amount)
	}

	payload := payment.FormatInvoicePayload(req.PaymentID, req.Quantity, req.SaleMode)
	if err := g.sender.SendInvoice(ctx, req.UserID, req.Description, req.Description, payload, amount); err != nil {
		return nil, fmt.Errorf("send stars invoice: %w", err)
	}

	g.logger.Info("stars invoice sent",
		"payment_id", req.PaymentID,
		"user_id", req.UserID,
		"amount", amount)

	// Telegram assigns its charge id only on success, so the intent has no
	// provider payment id yet and no redirect either.
	return &payment.Intent{}, nil
}

// ApprovePreCheckout decides a pre-checkout query. Anything with a payload
// we minted is approved; Telegram already blocked everything else.
func ApprovePreCheckout(payload string) error {
	_, _, _, err := payment.ParseInvoicePayload(payload)
	return err
}

// ParseSuccessfulPayment converts a successful_payment update into the
// normalized callback event reconciliation expects.
func ParseSuccessfulPayment(payload string, totalAmount int, chargeID string) (*payment.CallbackEvent, error) {
	paymentID, _, _, err := payment.ParseInvoicePayload(payload)
	if err != nil {
		return nil, err
	}
	return &payment.CallbackEvent{
		Provider:          payment.ProviderStars,
		ProviderPaymentID: chargeID,
		LocalPaymentID:    paymentID,
		Outcome:           payment.OutcomeSuccess,
		Amount:            float64(totalAmount),
		Currency:          "XTR",
	}, nil
}
