package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/frahmantamala/vpn-billing/internal"
	"github.com/frahmantamala/vpn-billing/internal/auth"
	"github.com/frahmantamala/vpn-billing/internal/billing"
	billingpg "github.com/frahmantamala/vpn-billing/internal/billing/postgres"
	"github.com/frahmantamala/vpn-billing/internal/core/events"
	"github.com/frahmantamala/vpn-billing/internal/entitlement"
	entitlementpg "github.com/frahmantamala/vpn-billing/internal/entitlement/postgres"
	paymentpkg "github.com/frahmantamala/vpn-billing/internal/payment"
	paymentpg "github.com/frahmantamala/vpn-billing/internal/payment/postgres"
	"github.com/frahmantamala/vpn-billing/internal/provider/cryptopay"
	"github.com/frahmantamala/vpn-billing/internal/provider/freekassa"
	"github.com/frahmantamala/vpn-billing/internal/provider/platega"
	"github.com/frahmantamala/vpn-billing/internal/provider/severpay"
	"github.com/frahmantamala/vpn-billing/internal/provider/yookassa"
	"github.com/frahmantamala/vpn-billing/internal/user"
	userpg "github.com/frahmantamala/vpn-billing/internal/user/postgres"
	"github.com/frahmantamala/vpn-billing/pkg/logger"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	gormpostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// App bundles everything a command needs after bootstrap. The HTTP server
// uses all of it; the workers pick the pieces they run.
type App struct {
	Config      *internal.Config
	Logger      *slog.Logger
	DB          *sqlx.DB
	Gorm        *gorm.DB
	EventBus    *events.EventBus
	Registry    *paymentpkg.Registry
	PaymentRepo paymentpkg.RepositoryAPI
	Payments    *paymentpkg.PaymentService
	Billing     *billing.Service
	Users       *user.Service
	AuthHandler *auth.Handler
}

// intentProxy breaks the constructor cycle between billing and the payment
// engine: billing needs an IntentCreator to charge saved methods, while the
// engine needs billing as its MethodSaver. The proxy is handed to billing
// empty and bound once the engine exists.
type intentProxy struct {
	engine billing.IntentCreator
}

func (p *intentProxy) CreateIntent(ctx context.Context, params paymentpkg.CreateIntentParams) (*paymentpkg.IntentResult, error) {
	if p.engine == nil {
		return nil, fmt.Errorf("payment engine not initialized")
	}
	return p.engine.CreateIntent(ctx, params)
}

func buildApp() (*App, error) {
	cfg, err := loadConfig(".")
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger.Init(os.Getenv("APP_ENV"))
	log := logger.LoggerWrapper()

	db, err := initDB(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	// gorm shares the pgx pool sqlx already opened.
	gormDB, err := gorm.Open(gormpostgres.New(gormpostgres.Config{Conn: db.DB}), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open gorm over pgx pool: %w", err)
	}

	eventBus := events.NewEventBus(log)

	registry := paymentpkg.NewRegistry()
	if cfg.Providers.YooKassa.Enabled {
		registry.Register(yookassa.NewGateway(cfg.Providers.YooKassa, log))
	}
	if cfg.Providers.CryptoPay.Enabled {
		registry.Register(cryptopay.NewGateway(cfg.Providers.CryptoPay, log))
	}
	if cfg.Providers.FreeKassa.Enabled {
		registry.Register(freekassa.NewGateway(cfg.Providers.FreeKassa, log))
	}
	if cfg.Providers.Platega.Enabled {
		registry.Register(platega.NewGateway(cfg.Providers.Platega, log))
	}
	if cfg.Providers.SeverPay.Enabled {
		registry.Register(severpay.NewGateway(cfg.Providers.SeverPay, log))
	}

	paymentRepo := paymentpg.NewPaymentRepository(gormDB)

	intents := &intentProxy{}
	billingSvc := billing.NewService(
		billingpg.NewBillingRepository(gormDB),
		intents,
		cfg.Providers.YooKassa.AutopaymentsEnabled,
		log,
	)

	// Entitlements run inside the reconciliation transaction, so the granter
	// is rebuilt per-transaction over the tx handle.
	txm := paymentpg.NewTxManager(gormDB, func(tx *gorm.DB) paymentpkg.Granter {
		return entitlement.NewService(entitlementpg.NewEntitlementRepository(tx), log)
	})

	snapshot := func() paymentpkg.Snapshot {
		return paymentpkg.Snapshot{
			ReferralEnabled:   cfg.Billing.ReferralEnabled,
			ReferralBonusDays: cfg.Billing.ReferralBonusDays,
			RefereeBonusDays:  cfg.Billing.RefereeBonusDays,
			PromoBonusOnce:    cfg.Billing.PromoBonusOnce,
			AmountTolerance:   cfg.Billing.AmountTolerance,
			NotifyUsers:       cfg.Notifications.NotifyUsers,
			LogPayments:       cfg.Notifications.LogPayments,
		}
	}

	paymentSvc := paymentpkg.NewPaymentService(
		registry,
		paymentRepo,
		txm,
		billingSvc,
		eventBus,
		log,
		snapshot,
		cfg.Billing.DefaultCurrency,
	)
	intents.engine = paymentSvc

	userSvc := user.NewService(userpg.NewUserRepository(gormDB), log)

	var authHandler *auth.Handler
	if cfg.Security.AdminPasswordHash != "" {
		privateKey, err := cfg.Security.GetPrivateKey()
		if err != nil {
			return nil, fmt.Errorf("invalid JWT private key: %w", err)
		}
		publicKey, err := cfg.Security.GetPublicKey()
		if err != nil {
			return nil, fmt.Errorf("invalid JWT public key: %w", err)
		}
		tokens := auth.NewJWTTokenGenerator(privateKey, publicKey, cfg.Security.AccessTokenDuration)
		authHandler = auth.NewHandler(auth.NewService(cfg.Security.AdminLogin, cfg.Security.AdminPasswordHash, tokens))
	} else {
		log.Warn("admin_password_hash not set, ops API disabled")
	}

	return &App{
		Config:      cfg,
		Logger:      log,
		DB:          db,
		Gorm:        gormDB,
		EventBus:    eventBus,
		Registry:    registry,
		PaymentRepo: paymentRepo,
		Payments:    paymentSvc,
		Billing:     billingSvc,
		Users:       userSvc,
		AuthHandler: authHandler,
	}, nil
}

// initDB initializes the database connection
func initDB(cfg internal.DatabaseConfig) (*sqlx.DB, error) {
	const driver = "pgx"

	dbConn, err := sqlx.Connect(driver, cfg.Source)
	if err != nil {
		return nil, fmt.Errorf("failed to open db connection: %w", err)
	}

	dbConn.SetMaxIdleConns(cfg.MaxIdleConns)
	dbConn.SetMaxOpenConns(cfg.MaxOpenConns)
	dbConn.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	dbConn.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	// verify connection; close underlying *sql.DB on failure
	if err := dbConn.Ping(); err != nil {
		_ = dbConn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return dbConn, nil
}
