package notify_test

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/gorm"

	"github.com/frahmantamala/vpn-billing/internal/core/datamodel/notification"
	"github.com/frahmantamala/vpn-billing/internal/core/datamodel/user"
	"github.com/frahmantamala/vpn-billing/internal/core/events"
	"github.com/frahmantamala/vpn-billing/internal/notify"
)

func TestNotifyService(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Notify Service Suite")
}

type recordingQueue struct {
	mu       sync.Mutex
	messages []notification.Message
}

func (q *recordingQueue) Enqueue(msg notification.Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.messages = append(q.messages, msg)
	return nil
}

func (q *recordingQueue) all() []notification.Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]notification.Message(nil), q.messages...)
}

type staticDirectory struct {
	users map[int64]*user.User
}

func (d *staticDirectory) Get(userID int64) (*user.User, error) {
	u, ok := d.users[userID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return u, nil
}

var _ = Describe("Service", func() {
	var (
		queue *recordingQueue
		bus   *events.EventBus
		ctx   context.Context
	)

	const (
		userID    int64 = 777
		logChatID int64 = -100200300
	)

	wireService := func(config notify.Config) {
		username := "neo"
		dir := &staticDirectory{users: map[int64]*user.User{
			userID: {ID: userID, FirstName: "Thomas", Username: &username},
		}}
		bus = events.NewEventBus(slog.Default())
		notify.NewService(queue, dir, config, slog.Default()).RegisterHandlers(bus)
	}

	BeforeEach(func() {
		queue = &recordingQueue{}
		ctx = context.Background()
		wireService(notify.Config{
			NotifyUsers: true,
			LogPayments: true,
			LogChatID:   logChatID,
			LogThreadID: 42,
		})
	})

	Describe("payment succeeded", func() {
		It("should queue a receipt and an operator log line", func() {
			expires := time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC)
			event := events.NewPaymentSucceededEvent(1, userID, "yookassa", "yk-1", 299, "RUB", "subscription", 1, expires, 0)

			Expect(bus.PublishSync(ctx, event)).To(Succeed())

			messages := queue.all()
			Expect(messages).To(HaveLen(2))

			Expect(messages[0].Kind).To(Equal(notification.KindUserReceipt))
			Expect(messages[0].ChatID).To(Equal(userID))
			Expect(messages[0].Text).To(ContainSubstring("31.12.2026"))

			Expect(messages[1].Kind).To(Equal(notification.KindAdminLog))
			Expect(messages[1].ChatID).To(Equal(logChatID))
			Expect(messages[1].ThreadID).To(Equal(42))
			Expect(messages[1].Text).To(ContainSubstring("💳 yookassa"))
			Expect(messages[1].Text).To(ContainSubstring("@neo"))
			Expect(messages[1].Text).To(ContainSubstring("1 month"))
		})

		It("should describe traffic purchases in gigabytes", func() {
			event := events.NewPaymentSucceededEvent(2, userID, "cryptopay", "inv-2", 10, "USDT", "traffic", 50, time.Time{}, 50)

			Expect(bus.PublishSync(ctx, event)).To(Succeed())

			messages := queue.all()
			Expect(messages[0].Text).To(ContainSubstring("+50 GB"))
			Expect(messages[1].Text).To(ContainSubstring("₿ cryptopay"))
			Expect(messages[1].Text).To(ContainSubstring("50 GB"))
		})

		It("should skip the receipt when user notifications are off", func() {
			wireService(notify.Config{
				NotifyUsers: false,
				LogPayments: true,
				LogChatID:   logChatID,
			})
			event := events.NewPaymentSucceededEvent(3, userID, "telegram_stars", "", 100, "XTR", "subscription", 1, time.Now(), 0)

			Expect(bus.PublishSync(ctx, event)).To(Succeed())

			messages := queue.all()
			Expect(messages).To(HaveLen(1))
			Expect(messages[0].Kind).To(Equal(notification.KindAdminLog))
			Expect(messages[0].Text).To(ContainSubstring("⭐ telegram_stars"))
		})
	})

	Describe("payment failed", func() {
		It("should queue a failure notice and a log line with the reason", func() {
			event := events.NewPaymentFailedEvent(4, userID, "freekassa", 150, "RUB", "failure")

			Expect(bus.PublishSync(ctx, event)).To(Succeed())

			messages := queue.all()
			Expect(messages).To(HaveLen(2))
			Expect(messages[0].Kind).To(Equal(notification.KindUserFailure))
			Expect(messages[0].Text).To(ContainSubstring("not been charged"))
			Expect(messages[1].Text).To(ContainSubstring("failure"))
		})
	})

	Describe("payment canceled", func() {
		It("should only log to the operator chat", func() {
			event := events.NewPaymentCanceledEvent(5, userID, "platega", 500, "RUB")

			Expect(bus.PublishSync(ctx, event)).To(Succeed())

			messages := queue.all()
			Expect(messages).To(HaveLen(1))
			Expect(messages[0].Kind).To(Equal(notification.KindAdminLog))
			Expect(messages[0].Text).To(ContainSubstring("canceled"))
		})
	})

	Describe("unknown users", func() {
		It("should fall back to the numeric id in log lines", func() {
			event := events.NewPaymentSucceededEvent(6, 999999, "severpay", "sp-6", 300, "RUB", "subscription", 3, time.Now(), 0)

			Expect(bus.PublishSync(ctx, event)).To(Succeed())

			messages := queue.all()
			Expect(messages[1].Text).To(ContainSubstring("user 999999"))
			Expect(messages[1].Text).To(ContainSubstring("3 months"))
		})
	})
})

var _ = Describe("Dispatcher", func() {
	It("should deliver queued messages through the sender", func() {
		sender := &recordingSender{}
		dispatcher := notify.NewDispatcher(sender, notify.DispatcherConfig{MaxWorkers: 2, QueueSize: 8}, slog.Default())
		defer dispatcher.Shutdown()

		Expect(dispatcher.Enqueue(notification.Message{
			Kind:   notification.KindAdminLog,
			ChatID: 1,
			Text:   "hello",
		})).To(Succeed())

		Eventually(sender.count).Should(Equal(1))
	})

	It("should reject invalid messages", func() {
		sender := &recordingSender{}
		dispatcher := notify.NewDispatcher(sender, notify.DispatcherConfig{MaxWorkers: 1, QueueSize: 1}, slog.Default())
		defer dispatcher.Shutdown()

		Expect(dispatcher.Enqueue(notification.Message{})).To(HaveOccurred())
	})
})

type recordingSender struct {
	mu   sync.Mutex
	sent []notification.Message
}

func (s *recordingSender) Send(_ context.Context, msg notification.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, msg)
	return nil
}

func (s *recordingSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}
