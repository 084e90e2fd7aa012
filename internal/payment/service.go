package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	apperrors "github.com/frahmantamala/vpn-billing/internal"
	"github.com/frahmantamala/vpn-billing/internal/core/common/validation"
	"github.com/frahmantamala/vpn-billing/internal/core/datamodel/payment"
	"github.com/frahmantamala/vpn-billing/internal/core/events"
	"gorm.io/gorm"
)

// RepositoryAPI is the payment store as the engine sees it.
type RepositoryAPI interface {
	Create(p *payment.Payment) error
	GetByID(id int64) (*payment.Payment, error)
	GetByProviderPaymentID(provider, providerPaymentID string) (*payment.Payment, error)
	SetProviderPaymentID(id int64, providerPaymentID string) error
	MarkSucceeded(id int64, providerPaymentID *string, paidAt time.Time) (bool, error)
	MarkTerminal(id int64, status string) (bool, error)
	ListRecent(limit, offset int, provider, status string) ([]*payment.Payment, error)
	Count(provider, status string) (int64, error)
	StatsByStatus() (map[string]int64, error)
	ListByUser(userID int64, limit int) ([]*payment.Payment, error)
	ListStalePending(olderThan time.Time, limit int) ([]*payment.Payment, error)
	ListForExport(from, to time.Time) ([]ExportRow, error)
}

// ExportRow is one line of the admin CSV export, payments joined with the
// user directory.
type ExportRow struct {
	PaymentID         int64      `gorm:"column:payment_id"`
	UserID            int64      `gorm:"column:user_id"`
	Username          *string    `gorm:"column:username"`
	FirstName         string     `gorm:"column:first_name"`
	Amount            float64    `gorm:"column:amount"`
	Currency          string     `gorm:"column:currency"`
	Provider          string     `gorm:"column:provider"`
	Status            string     `gorm:"column:status"`
	Description       string     `gorm:"column:description"`
	SaleMode          string     `gorm:"column:sale_mode"`
	Quantity          int        `gorm:"column:quantity"`
	ProviderPaymentID *string    `gorm:"column:provider_payment_id"`
	CreatedAt         time.Time  `gorm:"column:created_at"`
}

// GrantRequest asks the entitlement layer to apply what the user paid for.
type GrantRequest struct {
	PaymentID int64
	UserID    int64
	SaleMode  SaleMode
	Quantity  int
	Snapshot  Snapshot
}

type GrantResult struct {
	ExpiresAt        time.Time
	TrafficGB        float64
	ReferralCredited bool
}

// Granter applies an entitlement inside the reconciliation transaction.
// Implementations must be idempotent per payment id.
type Granter interface {
	Grant(ctx context.Context, req GrantRequest) (*GrantResult, error)
}

// ReconcileTx bundles the stores bound to one open transaction.
type ReconcileTx struct {
	Payments RepositoryAPI
	Granter  Granter
}

type TxManager interface {
	InTx(ctx context.Context, fn func(tx ReconcileTx) error) error
}

// MethodSaver persists a reusable payment token reported by a gateway.
type MethodSaver interface {
	SaveFromPayment(userID int64, provider Provider, info SavedMethodInfo) error
}

type CreateIntentParams struct {
	UserID            int64
	Provider          Provider
	Amount            float64
	Currency          string
	Description       string
	SaleMode          SaleMode
	Quantity          int
	Email             string
	SavedMethodID     string
	SavePaymentMethod bool
}

type IntentResult struct {
	PaymentID         int64
	Status            string
	ProviderPaymentID string
	ConfirmationURL   string
}

type ReconcileResult struct {
	PaymentID int64
	Status    string
	Applied   bool
	Granted   *GrantResult
}

// PaymentService owns the payment lifecycle: it opens intents against
// provider gateways and reconciles their callbacks into terminal states.
type PaymentService struct {
	registry        *Registry
	repository      RepositoryAPI
	txm             TxManager
	methods         MethodSaver
	eventBus        *events.EventBus
	logger          *slog.Logger
	snapshot        func() Snapshot
	defaultCurrency string
}

func NewPaymentService(
	registry *Registry,
	repository RepositoryAPI,
	txm TxManager,
	methods MethodSaver,
	eventBus *events.EventBus,
	logger *slog.Logger,
	snapshot func() Snapshot,
	defaultCurrency string,
) *PaymentService {
	return &PaymentService{
		registry:        registry,
		repository:      repository,
		txm:             txm,
		methods:         methods,
		eventBus:        eventBus,
		logger:          logger,
		snapshot:        snapshot,
		defaultCurrency: defaultCurrency,
	}
}

// CreateIntent persists a pending record, then asks the gateway to open the
// payment. The record exists before the provider call so every later
// callback has something to land on; a creation failure is contained as
// failed_creation and never reaches entitlements.
func (s *PaymentService) CreateIntent(ctx context.Context, params CreateIntentParams) (*IntentResult, error) {
	if err := s.validateIntentParams(&params); err != nil {
		return nil, err
	}

	gateway, ok := s.registry.Gateway(params.Provider)
	if !ok {
		s.logger.Warn("intent for unconfigured provider", "provider", params.Provider, "user_id", params.UserID)
		return nil, apperrors.ErrProviderDisabled
	}

	record := &payment.Payment{
		UserID:      params.UserID,
		Provider:    string(params.Provider),
		Amount:      params.Amount,
		Currency:    params.Currency,
		Status:      PendingStatus(params.Provider),
		Description: params.Description,
		SaleMode:    string(params.SaleMode),
		Quantity:    params.Quantity,
	}
	if err := s.repository.Create(record); err != nil {
		s.logger.Error("failed to create payment record", "error", err, "user_id", params.UserID, "provider", params.Provider)
		return nil, fmt.Errorf("create payment record: %w", err)
	}

	intent, err := gateway.CreateIntent(ctx, IntentRequest{
		PaymentID:         record.ID,
		UserID:            params.UserID,
		Amount:            params.Amount,
		Currency:          params.Currency,
		Description:       params.Description,
		SaleMode:          params.SaleMode,
		Quantity:          params.Quantity,
		Email:             params.Email,
		SavedMethodID:     params.SavedMethodID,
		SavePaymentMethod: params.SavePaymentMethod,
	})
	if err != nil {
		s.logger.Error("gateway intent creation failed",
			"error", err,
			"payment_id", record.ID,
			"provider", params.Provider)
		if _, markErr := s.repository.MarkTerminal(record.ID, StatusFailedCreation); markErr != nil {
			s.logger.Error("failed to mark creation failure", "error", markErr, "payment_id", record.ID)
		}
		return nil, apperrors.NewGatewayError("payment creation failed", err)
	}

	if intent.ProviderPaymentID != "" {
		if err := s.repository.SetProviderPaymentID(record.ID, intent.ProviderPaymentID); err != nil {
			s.logger.Error("failed to store provider payment id",
				"error", err,
				"payment_id", record.ID,
				"provider_payment_id", intent.ProviderPaymentID)
			return nil, fmt.Errorf("store provider payment id: %w", err)
		}
	}

	s.logger.Info("payment intent created",
		"payment_id", record.ID,
		"provider", params.Provider,
		"amount", params.Amount,
		"currency", params.Currency,
		"provider_payment_id", intent.ProviderPaymentID)

	return &IntentResult{
		PaymentID:         record.ID,
		Status:            record.Status,
		ProviderPaymentID: intent.ProviderPaymentID,
		ConfirmationURL:   intent.ConfirmationURL,
	}, nil
}

func (s *PaymentService) validateIntentParams(params *CreateIntentParams) error {
	if !params.Provider.Valid() {
		return apperrors.NewValidationError(fmt.Sprintf("unknown provider: %s", params.Provider), apperrors.ErrCodeInvalidProvider)
	}
	if params.SaleMode == "" {
		params.SaleMode = SaleModeSubscription
	}
	if !params.SaleMode.Valid() {
		return apperrors.NewValidationError(fmt.Sprintf("unknown sale mode: %s", params.SaleMode), apperrors.ErrCodeValidationFailed)
	}
	if params.Currency == "" {
		params.Currency = s.defaultCurrency
	}
	if err := validation.ValidatePaymentAmount(params.Amount); err != nil {
		return err
	}
	if err := validation.ValidateQuantity(params.Quantity); err != nil {
		return err
	}
	if err := validation.ValidateDescription(params.Description); err != nil {
		return err
	}
	return nil
}

// Reconcile applies one authenticated provider verdict to its payment
// record. Success runs the conditional status flip and the entitlement
// grant in a single transaction; every duplicate or racing delivery takes
// the no-op path and acks clean.
func (s *PaymentService) Reconcile(ctx context.Context, ev *CallbackEvent) (*ReconcileResult, error) {
	record, err := s.locate(ev)
	if err != nil {
		return nil, err
	}

	snap := s.snapshot()

	if IsTerminal(record.Status) {
		return s.reconcileReplay(record, ev), nil
	}

	switch ev.Outcome {
	case OutcomeSuccess:
		return s.reconcileSuccess(ctx, record, ev, snap)
	case OutcomeFailure:
		return s.reconcileTerminal(record, ev, StatusFailed)
	case OutcomeCanceled:
		return s.reconcileTerminal(record, ev, StatusCanceled)
	case OutcomePending:
		s.logger.Info("provider reports payment still pending", "payment_id", record.ID, "provider", ev.Provider)
		return &ReconcileResult{PaymentID: record.ID, Status: record.Status}, nil
	default:
		return nil, apperrors.NewValidationError(fmt.Sprintf("unknown callback outcome: %s", ev.Outcome), apperrors.ErrCodeInvalidCallback)
	}
}

func (s *PaymentService) locate(ev *CallbackEvent) (*payment.Payment, error) {
	var record *payment.Payment
	var err error

	if ev.LocalPaymentID != 0 {
		record, err = s.repository.GetByID(ev.LocalPaymentID)
		if err == nil {
			return record, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("load payment %d: %w", ev.LocalPaymentID, err)
		}
	}

	if ev.ProviderPaymentID != "" {
		record, err = s.repository.GetByProviderPaymentID(string(ev.Provider), ev.ProviderPaymentID)
		if err == nil {
			return record, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("load payment by provider id %s: %w", ev.ProviderPaymentID, err)
		}
	}

	s.logger.Warn("callback for unknown payment",
		"provider", ev.Provider,
		"local_payment_id", ev.LocalPaymentID,
		"provider_payment_id", ev.ProviderPaymentID)
	return nil, apperrors.ErrPaymentNotFound
}

// reconcileReplay handles deliveries that arrive after the record is
// already terminal. The first writer won; everything later is logged and
// acked so the provider stops retrying.
func (s *PaymentService) reconcileReplay(record *payment.Payment, ev *CallbackEvent) *ReconcileResult {
	expected := terminalStatusFor(ev.Outcome)
	if expected != "" && expected != record.Status {
		s.logger.Warn("conflicting callback for finalized payment",
			"payment_id", record.ID,
			"status", record.Status,
			"callback_outcome", ev.Outcome,
			"provider", ev.Provider)
	} else {
		s.logger.Info("duplicate callback ignored",
			"payment_id", record.ID,
			"status", record.Status,
			"provider", ev.Provider)
	}
	return &ReconcileResult{PaymentID: record.ID, Status: record.Status}
}

func terminalStatusFor(outcome Outcome) string {
	switch outcome {
	case OutcomeSuccess:
		return StatusSucceeded
	case OutcomeFailure:
		return StatusFailed
	case OutcomeCanceled:
		return StatusCanceled
	}
	return ""
}

func (s *PaymentService) reconcileSuccess(ctx context.Context, record *payment.Payment, ev *CallbackEvent, snap Snapshot) (*ReconcileResult, error) {
	if ev.Amount > 0 && math.Abs(ev.Amount-record.Amount) > snap.AmountTolerance {
		s.logger.Warn("callback amount differs from recorded amount",
			"payment_id", record.ID,
			"recorded_amount", record.Amount,
			"callback_amount", ev.Amount,
			"provider", ev.Provider)
	}

	var (
		won     bool
		granted *GrantResult
	)

	err := s.txm.InTx(ctx, func(tx ReconcileTx) error {
		var providerPaymentID *string
		if ev.ProviderPaymentID != "" && (record.ProviderPaymentID == nil || *record.ProviderPaymentID == "") {
			providerPaymentID = &ev.ProviderPaymentID
		}

		var err error
		won, err = tx.Payments.MarkSucceeded(record.ID, providerPaymentID, time.Now())
		if err != nil {
			return fmt.Errorf("mark succeeded: %w", err)
		}
		if !won {
			return nil
		}

		granted, err = tx.Granter.Grant(ctx, GrantRequest{
			PaymentID: record.ID,
			UserID:    record.UserID,
			SaleMode:  SaleMode(record.SaleMode),
			Quantity:  record.Quantity,
			Snapshot:  snap,
		})
		if err != nil {
			return fmt.Errorf("grant entitlement: %w", err)
		}
		return nil
	})
	if err != nil {
		s.logger.Error("reconciliation transaction failed", "error", err, "payment_id", record.ID)
		return nil, apperrors.NewInternalError("reconciliation failed", err)
	}

	if !won {
		// Another delivery finalized this record while we were verifying.
		current, err := s.repository.GetByID(record.ID)
		if err != nil {
			return nil, fmt.Errorf("reload payment %d: %w", record.ID, err)
		}
		return s.reconcileReplay(current, ev), nil
	}

	s.logger.Info("payment succeeded",
		"payment_id", record.ID,
		"user_id", record.UserID,
		"provider", ev.Provider,
		"amount", record.Amount,
		"currency", record.Currency,
		"sale_mode", record.SaleMode,
		"quantity", record.Quantity)

	s.afterSuccess(record, ev, granted)

	return &ReconcileResult{
		PaymentID: record.ID,
		Status:    StatusSucceeded,
		Applied:   true,
		Granted:   granted,
	}, nil
}

// afterSuccess runs the best-effort side effects once the transaction has
// committed. Failures here are logged, never surfaced to the provider.
func (s *PaymentService) afterSuccess(record *payment.Payment, ev *CallbackEvent, granted *GrantResult) {
	if s.methods != nil && ev.SavedMethod != nil {
		if err := s.methods.SaveFromPayment(record.UserID, ev.Provider, *ev.SavedMethod); err != nil {
			s.logger.Error("failed to save payment method",
				"error", err,
				"user_id", record.UserID,
				"provider", ev.Provider)
		}
	}

	if s.eventBus == nil {
		return
	}

	var expiresAt time.Time
	var trafficGB float64
	if granted != nil {
		expiresAt = granted.ExpiresAt
		trafficGB = granted.TrafficGB
	}
	providerPaymentID := ev.ProviderPaymentID
	if providerPaymentID == "" && record.ProviderPaymentID != nil {
		providerPaymentID = *record.ProviderPaymentID
	}

	event := events.NewPaymentSucceededEvent(
		record.ID,
		record.UserID,
		string(ev.Provider),
		providerPaymentID,
		record.Amount,
		record.Currency,
		record.SaleMode,
		record.Quantity,
		expiresAt,
		trafficGB,
	)
	if err := s.eventBus.Publish(context.Background(), event); err != nil {
		s.logger.Error("failed to publish payment succeeded event", "error", err, "payment_id", record.ID)
	}
}

func (s *PaymentService) reconcileTerminal(record *payment.Payment, ev *CallbackEvent, status string) (*ReconcileResult, error) {
	won, err := s.repository.MarkTerminal(record.ID, status)
	if err != nil {
		s.logger.Error("failed to finalize payment", "error", err, "payment_id", record.ID, "status", status)
		return nil, fmt.Errorf("mark terminal: %w", err)
	}
	if !won {
		current, err := s.repository.GetByID(record.ID)
		if err != nil {
			return nil, fmt.Errorf("reload payment %d: %w", record.ID, err)
		}
		return s.reconcileReplay(current, ev), nil
	}

	s.logger.Info("payment finalized",
		"payment_id", record.ID,
		"user_id", record.UserID,
		"provider", ev.Provider,
		"status", status)

	if s.eventBus != nil {
		var event events.Event
		if status == StatusCanceled {
			event = events.NewPaymentCanceledEvent(record.ID, record.UserID, string(ev.Provider), record.Amount, record.Currency)
		} else {
			event = events.NewPaymentFailedEvent(record.ID, record.UserID, string(ev.Provider), record.Amount, record.Currency, string(ev.Outcome))
		}
		if err := s.eventBus.Publish(context.Background(), event); err != nil {
			s.logger.Error("failed to publish payment event", "error", err, "payment_id", record.ID)
		}
	}

	return &ReconcileResult{
		PaymentID: record.ID,
		Status:    status,
		Applied:   true,
	}, nil
}

// GetPayment returns one record for the ops API.
func (s *PaymentService) GetPayment(id int64) (*payment.Payment, error) {
	record, err := s.repository.GetByID(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrPaymentNotFound
		}
		return nil, fmt.Errorf("load payment %d: %w", id, err)
	}
	return record, nil
}

func (s *PaymentService) ListPayments(limit, offset int, provider, status string) ([]*payment.Payment, int64, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	items, err := s.repository.ListRecent(limit, offset, provider, status)
	if err != nil {
		return nil, 0, fmt.Errorf("list payments: %w", err)
	}
	total, err := s.repository.Count(provider, status)
	if err != nil {
		return nil, 0, fmt.Errorf("count payments: %w", err)
	}
	return items, total, nil
}

func (s *PaymentService) Stats() (map[string]int64, error) {
	return s.repository.StatsByStatus()
}

func (s *PaymentService) Export(from, to time.Time) ([]ExportRow, error) {
	return s.repository.ListForExport(from, to)
}
