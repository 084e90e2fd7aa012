package telegram

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/frahmantamala/vpn-billing/internal/core/datamodel/notification"
	paymentpkg "github.com/frahmantamala/vpn-billing/internal/payment"
	"github.com/frahmantamala/vpn-billing/internal/provider/stars"
)

// Reconciler feeds Stars payment verdicts into the payment engine. There is
// no webhook for Stars; the bot update stream is the callback channel.
type Reconciler interface {
	Reconcile(ctx context.Context, ev *paymentpkg.CallbackEvent) (*paymentpkg.ReconcileResult, error)
}

// Runtime owns the long-polling bot connection. It doubles as the outbound
// message sender for notifications and as the Stars invoice sender.
type Runtime struct {
	bot        *bot.Bot
	reconciler Reconciler
	logger     *slog.Logger
}

func NewRuntime(token string, workers int, reconciler Reconciler, logger *slog.Logger) (*Runtime, error) {
	if workers <= 0 {
		workers = 3
	}

	r := &Runtime{
		reconciler: reconciler,
		logger:     logger,
	}

	b, err := bot.New(token, bot.WithWorkers(workers))
	if err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}

	b.RegisterHandlerMatchFunc(func(update *models.Update) bool {
		return update.PreCheckoutQuery != nil
	}, r.handlePreCheckout)

	b.RegisterHandlerMatchFunc(func(update *models.Update) bool {
		return update.Message != nil && update.Message.SuccessfulPayment != nil
	}, r.handleSuccessfulPayment)

	r.bot = b
	return r, nil
}

// Run blocks on the update stream until ctx is canceled.
func (r *Runtime) Run(ctx context.Context) {
	r.logger.Info("telegram runtime starting")
	r.bot.Start(ctx)
	r.logger.Info("telegram runtime stopped")
}

// Send delivers one notification message; satisfies the notify sender.
func (r *Runtime) Send(ctx context.Context, msg notification.Message) error {
	params := &bot.SendMessageParams{
		ChatID: msg.ChatID,
		Text:   msg.Text,
	}
	if msg.ThreadID != 0 {
		params.MessageThreadID = msg.ThreadID
	}
	if _, err := r.bot.SendMessage(ctx, params); err != nil {
		return fmt.Errorf("send message to %d: %w", msg.ChatID, err)
	}
	return nil
}

// SendInvoice issues a Stars invoice; satisfies the stars invoice sender.
// The amount is whole Stars, which Telegram treats as the smallest unit.
func (r *Runtime) SendInvoice(ctx context.Context, userID int64, title, description, payload string, amount int) error {
	_, err := r.bot.SendInvoice(ctx, &bot.SendInvoiceParams{
		ChatID:      userID,
		Title:       title,
		Description: description,
		Payload:     payload,
		Currency:    "XTR",
		Prices: []models.LabeledPrice{
			{Label: title, Amount: amount},
		},
	})
	if err != nil {
		return fmt.Errorf("send invoice to %d: %w", userID, err)
	}
	return nil
}

func (r *Runtime) handlePreCheckout(ctx context.Context, b *bot.Bot, update *models.Update) {
	q := update.PreCheckoutQuery

	params := &bot.AnswerPreCheckoutQueryParams{
		PreCheckoutQueryID: q.ID,
		OK:                 true,
	}
	if err := stars.ApprovePreCheckout(q.InvoicePayload); err != nil {
		r.logger.Warn("rejecting pre-checkout query",
			"error", err,
			"user_id", q.From.ID,
			"payload", q.InvoicePayload)
		params.OK = false
		params.ErrorMessage = "This invoice is no longer valid, please start the purchase again."
	}

	if _, err := b.AnswerPreCheckoutQuery(ctx, params); err != nil {
		r.logger.Error("failed to answer pre-checkout query", "error", err, "user_id", q.From.ID)
	}
}

func (r *Runtime) handleSuccessfulPayment(ctx context.Context, _ *bot.Bot, update *models.Update) {
	sp := update.Message.SuccessfulPayment

	ev, err := stars.ParseSuccessfulPayment(sp.InvoicePayload, sp.TotalAmount, sp.TelegramPaymentChargeID)
	if err != nil {
		r.logger.Error("unparseable successful payment",
			"error", err,
			"user_id", update.Message.From.ID,
			"charge_id", sp.TelegramPaymentChargeID)
		return
	}

	result, err := r.reconciler.Reconcile(ctx, ev)
	if err != nil {
		// Telegram already took the Stars; the sweeper or a manual replay
		// has the charge id to finish the grant.
		r.logger.Error("stars reconciliation failed",
			"error", err,
			"payment_id", ev.LocalPaymentID,
			"charge_id", sp.TelegramPaymentChargeID)
		return
	}

	r.logger.Info("stars payment reconciled",
		"payment_id", result.PaymentID,
		"status", result.Status,
		"applied", result.Applied)
}
