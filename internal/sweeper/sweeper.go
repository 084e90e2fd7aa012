package sweeper

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/frahmantamala/vpn-billing/internal/core/datamodel/payment"
	paymentpkg "github.com/frahmantamala/vpn-billing/internal/payment"
)

// Reconciler is the payment engine entry point the sweeper drives.
type Reconciler interface {
	Reconcile(ctx context.Context, ev *paymentpkg.CallbackEvent) (*paymentpkg.ReconcileResult, error)
}

// PendingLister is the slice of the payment store the sweeper reads.
type PendingLister interface {
	ListStalePending(olderThan time.Time, limit int) ([]*payment.Payment, error)
}

type Config struct {
	Interval  time.Duration
	MinAge    time.Duration
	BatchSize int
}

// Sweeper resolves pending payments whose webhooks never arrived by polling
// the providers that support status queries. Resolved verdicts go through
// the same reconciliation path as a webhook would.
type Sweeper struct {
	registry   *paymentpkg.Registry
	payments   PendingLister
	reconciler Reconciler
	config     Config
	logger     *slog.Logger
}

func New(registry *paymentpkg.Registry, payments PendingLister, reconciler Reconciler, config Config, logger *slog.Logger) *Sweeper {
	if config.Interval <= 0 {
		config.Interval = 5 * time.Minute
	}
	if config.MinAge <= 0 {
		config.MinAge = 10 * time.Minute
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 50
	}
	return &Sweeper{
		registry:   registry,
		payments:   payments,
		reconciler: reconciler,
		config:     config,
		logger:     logger,
	}
}

// Start schedules periodic sweeps and returns the running scheduler so the
// caller can stop it on shutdown.
func (s *Sweeper) Start() (*cron.Cron, error) {
	c := cron.New()
	_, err := c.AddFunc(fmt.Sprintf("@every %s", s.config.Interval), func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.config.Interval)
		defer cancel()

		resolved, err := s.Sweep(ctx)
		if err != nil {
			s.logger.Error("sweep failed", "error", err)
			return
		}
		if resolved > 0 {
			s.logger.Info("sweep resolved stale payments", "resolved", resolved)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("schedule sweep: %w", err)
	}
	c.Start()
	s.logger.Info("sweeper started", "interval", s.config.Interval, "min_age", s.config.MinAge)
	return c, nil
}

// Sweep polls one batch of stale pending payments. Payments on providers
// without a status API, or still without a provider id, stay pending.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-s.config.MinAge)
	stale, err := s.payments.ListStalePending(cutoff, s.config.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("list stale pending: %w", err)
	}

	resolved := 0
	for _, p := range stale {
		provider := paymentpkg.Provider(p.Provider)

		querier, ok := s.registry.Querier(provider)
		if !ok {
			continue
		}
		if p.ProviderPaymentID == nil || *p.ProviderPaymentID == "" {
			s.logger.Debug("stale payment has no provider id to poll", "payment_id", p.ID, "provider", provider)
			continue
		}

		outcome, err := querier.QueryStatus(ctx, *p.ProviderPaymentID)
		if err != nil {
			s.logger.Warn("status query failed",
				"error", err,
				"payment_id", p.ID,
				"provider", provider)
			continue
		}
		if outcome == paymentpkg.OutcomePending {
			continue
		}

		if _, err := s.reconciler.Reconcile(ctx, &paymentpkg.CallbackEvent{
			Provider:          provider,
			ProviderPaymentID: *p.ProviderPaymentID,
			LocalPaymentID:    p.ID,
			Outcome:           outcome,
		}); err != nil {
			s.logger.Error("sweep reconciliation failed",
				"error", err,
				"payment_id", p.ID,
				"provider", provider)
			continue
		}

		s.logger.Info("stale payment resolved by polling",
			"payment_id", p.ID,
			"provider", provider,
			"outcome", outcome)
		resolved++
	}

	return resolved, nil
}
