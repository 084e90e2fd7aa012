package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/frahmantamala/vpn-billing/internal/core/datamodel/notification"
	"github.com/frahmantamala/vpn-billing/internal/core/events"
	paymentpkg "github.com/frahmantamala/vpn-billing/internal/payment"
)

// Queue is the piece of the dispatcher the service needs.
type Queue interface {
	Enqueue(msg notification.Message) error
}

// Service turns payment events into user receipts and operator log lines.
// Every send is best effort; a lost notification never affects the payment.
type Service struct {
	queue  Queue
	users  UserDirectory
	config Config
	logger *slog.Logger
}

func NewService(queue Queue, users UserDirectory, config Config, logger *slog.Logger) *Service {
	return &Service{
		queue:  queue,
		users:  users,
		config: config,
		logger: logger,
	}
}

// RegisterHandlers subscribes the service to the payment lifecycle events.
func (s *Service) RegisterHandlers(bus *events.EventBus) {
	bus.Subscribe(events.EventTypePaymentSucceeded, s.handlePaymentSucceeded)
	bus.Subscribe(events.EventTypePaymentFailed, s.handlePaymentFailed)
	bus.Subscribe(events.EventTypePaymentCanceled, s.handlePaymentCanceled)
}

func (s *Service) handlePaymentSucceeded(_ context.Context, event events.Event) error {
	ev, ok := event.(*events.PaymentSucceededEvent)
	if !ok {
		return fmt.Errorf("unexpected event payload for %s", event.EventType())
	}

	if s.config.NotifyUsers {
		text := fmt.Sprintf("✅ Payment received: %s %s\n", formatAmount(ev.Amount), ev.Currency)
		if ev.SaleMode == string(paymentpkg.SaleModeTraffic) {
			text += fmt.Sprintf("📊 +%d GB added to your allowance", ev.Quantity)
		} else {
			text += fmt.Sprintf("🔐 Subscription active until %s", ev.ExpiresAt.Format("02.01.2006"))
		}
		s.enqueue(notification.Message{
			Kind:   notification.KindUserReceipt,
			ChatID: ev.UserID,
			Text:   text,
		})
	}

	if s.config.LogPayments && s.config.LogChatID != 0 {
		s.enqueue(notification.Message{
			Kind:     notification.KindAdminLog,
			ChatID:   s.config.LogChatID,
			ThreadID: s.config.LogThreadID,
			Text: fmt.Sprintf("%s %s | %s | %s %s | %s",
				providerEmoji(ev.Provider),
				ev.Provider,
				s.displayName(ev.UserID),
				formatAmount(ev.Amount),
				ev.Currency,
				saleLabel(ev.SaleMode, ev.Quantity)),
		})
	}

	return nil
}

func (s *Service) handlePaymentFailed(_ context.Context, event events.Event) error {
	ev, ok := event.(*events.PaymentFailedEvent)
	if !ok {
		return fmt.Errorf("unexpected event payload for %s", event.EventType())
	}

	if s.config.NotifyUsers {
		s.enqueue(notification.Message{
			Kind:   notification.KindUserFailure,
			ChatID: ev.UserID,
			Text:   fmt.Sprintf("❌ Payment of %s %s failed. You have not been charged.", formatAmount(ev.Amount), ev.Currency),
		})
	}

	if s.config.LogPayments && s.config.LogChatID != 0 {
		s.enqueue(notification.Message{
			Kind:     notification.KindAdminLog,
			ChatID:   s.config.LogChatID,
			ThreadID: s.config.LogThreadID,
			Text: fmt.Sprintf("⚠️ %s payment failed | %s | %s %s | %s",
				ev.Provider,
				s.displayName(ev.UserID),
				formatAmount(ev.Amount),
				ev.Currency,
				ev.Reason),
		})
	}

	return nil
}

func (s *Service) handlePaymentCanceled(_ context.Context, event events.Event) error {
	ev, ok := event.(*events.PaymentCanceledEvent)
	if !ok {
		return fmt.Errorf("unexpected event payload for %s", event.EventType())
	}

	if s.config.LogPayments && s.config.LogChatID != 0 {
		s.enqueue(notification.Message{
			Kind:     notification.KindAdminLog,
			ChatID:   s.config.LogChatID,
			ThreadID: s.config.LogThreadID,
			Text: fmt.Sprintf("🚫 %s payment canceled | %s | %s %s",
				ev.Provider,
				s.displayName(ev.UserID),
				formatAmount(ev.Amount),
				ev.Currency),
		})
	}

	return nil
}

func (s *Service) enqueue(msg notification.Message) {
	if err := s.queue.Enqueue(msg); err != nil {
		s.logger.Error("failed to queue notification", "error", err, "kind", msg.Kind, "chat_id", msg.ChatID)
	}
}

func (s *Service) displayName(userID int64) string {
	u, err := s.users.Get(userID)
	if err != nil || u == nil {
		return fmt.Sprintf("user %d", userID)
	}
	if u.Username != nil && *u.Username != "" {
		return fmt.Sprintf("%s (@%s)", u.FirstName, *u.Username)
	}
	return fmt.Sprintf("%s (%d)", u.FirstName, u.ID)
}

func providerEmoji(provider string) string {
	switch provider {
	case string(paymentpkg.ProviderYooKassa), string(paymentpkg.ProviderFreeKassa),
		string(paymentpkg.ProviderPlatega), string(paymentpkg.ProviderSeverPay):
		return "💳"
	case string(paymentpkg.ProviderCryptoPay):
		return "₿"
	case string(paymentpkg.ProviderStars):
		return "⭐"
	default:
		return "💰"
	}
}

func saleLabel(mode string, quantity int) string {
	if mode == string(paymentpkg.SaleModeTraffic) {
		return fmt.Sprintf("%d GB", quantity)
	}
	if quantity == 1 {
		return "1 month"
	}
	return fmt.Sprintf("%d months", quantity)
}

func formatAmount(amount float64) string {
	return strconv.FormatFloat(amount, 'f', -1, 64)
}
