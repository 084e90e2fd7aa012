package internal

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server        ServerConfig        `mapstructure:"http_server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Security      SecurityConfig      `mapstructure:"security"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Telegram      TelegramConfig      `mapstructure:"telegram"`
	Billing       BillingConfig       `mapstructure:"billing"`
	Providers     ProvidersConfig     `mapstructure:"providers"`
	Notifications NotificationsConfig `mapstructure:"notifications"`
	Sweeper       SweeperConfig       `mapstructure:"sweeper"`
}

type ServerConfig struct {
	Port              int           `mapstructure:"port"`
	BaseURL           string        `mapstructure:"base_url"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
}

type DatabaseConfig struct {
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	Source          string        `mapstructure:"source"`
}

type SecurityConfig struct {
	JWTPrivateKey       string        `mapstructure:"jwt_private_key"`
	JWTPublicKey        string        `mapstructure:"jwt_public_key"`
	AccessTokenDuration time.Duration `mapstructure:"access_token_duration"`
	AdminLogin          string        `mapstructure:"admin_login"`
	AdminPasswordHash   string        `mapstructure:"admin_password_hash"`
	BCryptCost          int           `mapstructure:"bcrypt_cost"`
}

type ObservabilityConfig struct {
	Logging LoggingConfig `mapstructure:"logging"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type TelegramConfig struct {
	BotToken    string  `mapstructure:"bot_token"`
	AdminIDs    []int64 `mapstructure:"admin_ids"`
	LogChatID   int64   `mapstructure:"log_chat_id"`
	LogThreadID int     `mapstructure:"log_thread_id"`
	LockFile    string  `mapstructure:"lock_file"`
	Workers     int     `mapstructure:"workers"`
}

type BillingConfig struct {
	DefaultCurrency   string  `mapstructure:"default_currency"`
	PanelBaseURL      string  `mapstructure:"panel_base_url"`
	ReferralEnabled   bool    `mapstructure:"referral_enabled"`
	ReferralBonusDays int     `mapstructure:"referral_bonus_days"`
	RefereeBonusDays  int     `mapstructure:"referee_bonus_days"`
	PromoBonusOnce    bool    `mapstructure:"promo_bonus_once"`
	AmountTolerance   float64 `mapstructure:"amount_tolerance"`
}

type ProvidersConfig struct {
	YooKassa  YooKassaConfig  `mapstructure:"yookassa"`
	CryptoPay CryptoPayConfig `mapstructure:"cryptopay"`
	FreeKassa FreeKassaConfig `mapstructure:"freekassa"`
	Platega   PlategaConfig   `mapstructure:"platega"`
	SeverPay  SeverPayConfig  `mapstructure:"severpay"`
	Stars     StarsConfig     `mapstructure:"stars"`
}

type YooKassaConfig struct {
	Enabled             bool          `mapstructure:"enabled"`
	ShopID              string        `mapstructure:"shop_id"`
	SecretKey           string        `mapstructure:"secret_key"`
	BaseURL             string        `mapstructure:"base_url"`
	ReturnURL           string        `mapstructure:"return_url"`
	ReceiptEmail        string        `mapstructure:"receipt_email"`
	VATCode             int           `mapstructure:"vat_code"`
	AutopaymentsEnabled bool          `mapstructure:"autopayments_enabled"`
	AllowedSubnets      []string      `mapstructure:"allowed_subnets"`
	Timeout             time.Duration `mapstructure:"timeout"`
}

type CryptoPayConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Token           string        `mapstructure:"token"`
	BaseURL         string        `mapstructure:"base_url"`
	Network         string        `mapstructure:"network"`
	CurrencyType    string        `mapstructure:"currency_type"`
	Asset           string        `mapstructure:"asset"`
	InvoiceLifetime time.Duration `mapstructure:"invoice_lifetime"`
	Timeout         time.Duration `mapstructure:"timeout"`
}

type FreeKassaConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	MerchantID      string        `mapstructure:"merchant_id"`
	FirstSecret     string        `mapstructure:"first_secret"`
	SecondSecret    string        `mapstructure:"second_secret"`
	APIKey          string        `mapstructure:"api_key"`
	APIBaseURL      string        `mapstructure:"api_base_url"`
	PaymentMethodID int           `mapstructure:"payment_method_id"`
	ClientIP        string        `mapstructure:"client_ip"`
	AllowedIPs      []string      `mapstructure:"allowed_ips"`
	Timeout         time.Duration `mapstructure:"timeout"`
}

type PlategaConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	BaseURL       string        `mapstructure:"base_url"`
	MerchantID    string        `mapstructure:"merchant_id"`
	Secret        string        `mapstructure:"secret"`
	PaymentMethod int           `mapstructure:"payment_method"`
	ReturnURL     string        `mapstructure:"return_url"`
	FailedURL     string        `mapstructure:"failed_url"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

type SeverPayConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	BaseURL         string        `mapstructure:"base_url"`
	MID             int           `mapstructure:"mid"`
	Token           string        `mapstructure:"token"`
	ReturnURL       string        `mapstructure:"return_url"`
	LifetimeMinutes int           `mapstructure:"lifetime_minutes"`
	Timeout         time.Duration `mapstructure:"timeout"`
}

type StarsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

type NotificationsConfig struct {
	LogPayments bool          `mapstructure:"log_payments"`
	NotifyUsers bool          `mapstructure:"notify_users"`
	MaxWorkers  int           `mapstructure:"max_workers"`
	QueueSize   int           `mapstructure:"queue_size"`
	SendTimeout time.Duration `mapstructure:"send_timeout"`
}

type SweeperConfig struct {
	Interval  time.Duration `mapstructure:"interval"`
	MinAge    time.Duration `mapstructure:"min_age"`
	BatchSize int           `mapstructure:"batch_size"`
}

// ----------------- ENV FALLBACK -----------------

// LoadConfigFromEnv builds the configuration from environment variables for
// container deployments where no config.yml is mounted. Variable names match
// the webhook bot's historical .env contract.
func LoadConfigFromEnv() *Config {
	cfg := &Config{
		Server: ServerConfig{
			Port:              getEnvAsInt("SERVER_PORT", 8080),
			BaseURL:           getEnv("WEBHOOK_BASE_URL", ""),
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		Database: DatabaseConfig{
			Source:          getEnv("DATABASE_URL", ""),
			MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 20),
			MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: 30 * time.Minute,
			ConnMaxIdleTime: 5 * time.Minute,
		},
		Security: SecurityConfig{
			JWTPrivateKey:       getEnv("JWT_PRIVATE_KEY", ""),
			JWTPublicKey:        getEnv("JWT_PUBLIC_KEY", ""),
			AccessTokenDuration: 30 * time.Minute,
			AdminLogin:          getEnv("ADMIN_LOGIN", "admin"),
			AdminPasswordHash:   getEnv("ADMIN_PASSWORD_HASH", ""),
			BCryptCost:          getEnvAsInt("BCRYPT_COST", 12),
		},
		Observability: ObservabilityConfig{
			Logging: LoggingConfig{
				Level:  getEnv("LOG_LEVEL", "info"),
				Format: getEnv("LOG_FORMAT", "json"),
			},
		},
		Telegram: TelegramConfig{
			BotToken:    getEnv("BOT_TOKEN", ""),
			LogChatID:   int64(getEnvAsInt("LOG_CHAT_ID", 0)),
			LogThreadID: getEnvAsInt("LOG_THREAD_ID", 0),
			LockFile:    getEnv("BOT_LOCK_FILE", "/tmp/vpn-billing-bot.lock"),
			Workers:     getEnvAsInt("BOT_WORKERS", 3),
		},
		Billing: BillingConfig{
			DefaultCurrency:   getEnv("DEFAULT_CURRENCY", "RUB"),
			PanelBaseURL:      getEnv("PANEL_BASE_URL", ""),
			ReferralEnabled:   getEnvAsBool("REFERRAL_ENABLED", true),
			ReferralBonusDays: getEnvAsInt("REFERRAL_BONUS_DAYS", 7),
			RefereeBonusDays:  getEnvAsInt("REFEREE_BONUS_DAYS", 3),
			PromoBonusOnce:    true,
			AmountTolerance:   0.01,
		},
		Providers: ProvidersConfig{
			YooKassa: YooKassaConfig{
				Enabled:             getEnvAsBool("YOOKASSA_ENABLED", false),
				ShopID:              getEnv("YOOKASSA_SHOP_ID", ""),
				SecretKey:           getEnv("YOOKASSA_SECRET_KEY", ""),
				BaseURL:             getEnv("YOOKASSA_BASE_URL", "https://api.yookassa.ru/v3"),
				ReturnURL:           getEnv("YOOKASSA_RETURN_URL", ""),
				ReceiptEmail:        getEnv("YOOKASSA_DEFAULT_RECEIPT_EMAIL", ""),
				VATCode:             getEnvAsInt("YOOKASSA_VAT_CODE", 1),
				AutopaymentsEnabled: getEnvAsBool("YOOKASSA_AUTOPAYMENTS_ENABLED", false),
				Timeout:             20 * time.Second,
			},
			CryptoPay: CryptoPayConfig{
				Enabled:         getEnvAsBool("CRYPTOPAY_ENABLED", false),
				Token:           getEnv("CRYPTOPAY_TOKEN", ""),
				BaseURL:         getEnv("CRYPTOPAY_BASE_URL", ""),
				Network:         getEnv("CRYPTOPAY_NETWORK", "mainnet"),
				CurrencyType:    getEnv("CRYPTOPAY_CURRENCY_TYPE", "fiat"),
				Asset:           getEnv("CRYPTOPAY_ASSET", "RUB"),
				InvoiceLifetime: time.Hour,
				Timeout:         15 * time.Second,
			},
			FreeKassa: FreeKassaConfig{
				Enabled:         getEnvAsBool("FREEKASSA_ENABLED", false),
				MerchantID:      getEnv("FREEKASSA_MERCHANT_ID", ""),
				FirstSecret:     getEnv("FREEKASSA_FIRST_SECRET", ""),
				SecondSecret:    getEnv("FREEKASSA_SECOND_SECRET", ""),
				APIKey:          getEnv("FREEKASSA_API_KEY", ""),
				APIBaseURL:      getEnv("FREEKASSA_API_BASE_URL", "https://api.fk.life/v1"),
				PaymentMethodID: getEnvAsInt("FREEKASSA_PAYMENT_METHOD_ID", 0),
				ClientIP:        getEnv("FREEKASSA_PAYMENT_IP", ""),
				Timeout:         15 * time.Second,
			},
			Platega: PlategaConfig{
				Enabled:       getEnvAsBool("PLATEGA_ENABLED", false),
				BaseURL:       getEnv("PLATEGA_BASE_URL", "https://app.platega.io"),
				MerchantID:    getEnv("PLATEGA_MERCHANT_ID", ""),
				Secret:        getEnv("PLATEGA_SECRET", ""),
				PaymentMethod: getEnvAsInt("PLATEGA_PAYMENT_METHOD", 2),
				ReturnURL:     getEnv("PLATEGA_RETURN_URL", ""),
				FailedURL:     getEnv("PLATEGA_FAILED_URL", ""),
				Timeout:       20 * time.Second,
			},
			SeverPay: SeverPayConfig{
				Enabled:         getEnvAsBool("SEVERPAY_ENABLED", false),
				BaseURL:         getEnv("SEVERPAY_BASE_URL", "https://severpay.io/api/merchant"),
				MID:             getEnvAsInt("SEVERPAY_MID", 0),
				Token:           getEnv("SEVERPAY_TOKEN", ""),
				ReturnURL:       getEnv("SEVERPAY_RETURN_URL", ""),
				LifetimeMinutes: getEnvAsInt("SEVERPAY_LIFETIME_MINUTES", 60),
				Timeout:         15 * time.Second,
			},
			Stars: StarsConfig{
				Enabled: getEnvAsBool("STARS_ENABLED", false),
			},
		},
		Notifications: NotificationsConfig{
			LogPayments: getEnvAsBool("LOG_PAYMENTS", true),
			NotifyUsers: getEnvAsBool("NOTIFY_USERS", true),
			MaxWorkers:  getEnvAsInt("NOTIFY_MAX_WORKERS", 4),
			QueueSize:   getEnvAsInt("NOTIFY_QUEUE_SIZE", 256),
			SendTimeout: 10 * time.Second,
		},
		Sweeper: SweeperConfig{
			Interval:  5 * time.Minute,
			MinAge:    10 * time.Minute,
			BatchSize: 50,
		},
	}
	return cfg
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultVal
}

// ----------------- VALIDATION -----------------

func (c *Config) Validate() error {
	var errs []string

	if err := c.Server.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("server config: %v", err))
	}

	if err := c.Database.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("database config: %v", err))
	}

	if err := c.Providers.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("providers config: %v", err))
	}

	if err := c.Notifications.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("notifications config: %v", err))
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}

	return nil
}

func (c *ServerConfig) Validate() error {
	if c.BaseURL != "" {
		if _, err := url.Parse(c.BaseURL); err != nil {
			return fmt.Errorf("invalid base_url %s: %w", c.BaseURL, err)
		}
	}
	if c.ReadTimeout < c.ReadHeaderTimeout {
		return errors.New("read_timeout must be >= read_header_timeout")
	}
	return nil
}

func (c *DatabaseConfig) Validate() error {
	if c.Source == "" {
		return errors.New("source is required")
	}
	if c.MaxIdleConns > c.MaxOpenConns {
		return errors.New("max_idle_conns cannot be greater than max_open_conns")
	}
	return nil
}

func (c *DatabaseConfig) GetDSN() string {
	return c.Source
}

func (c *SecurityConfig) Validate() error {
	if _, err := c.GetPrivateKey(); err != nil {
		return fmt.Errorf("invalid JWT private key: %w", err)
	}
	if _, err := c.GetPublicKey(); err != nil {
		return fmt.Errorf("invalid JWT public key: %w", err)
	}
	if c.AdminPasswordHash == "" {
		return errors.New("admin_password_hash is required")
	}
	return nil
}

func (c *SecurityConfig) GetPrivateKey() (*rsa.PrivateKey, error) {
	keyData, err := base64.StdEncoding.DecodeString(c.JWTPrivateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to decode private key: %w", err)
	}
	block, _ := pem.Decode(keyData)
	if block == nil {
		return nil, errors.New("failed to parse PEM block")
	}
	return x509.ParsePKCS1PrivateKey(block.Bytes)
}

func (c *SecurityConfig) GetPublicKey() (*rsa.PublicKey, error) {
	keyData, err := base64.StdEncoding.DecodeString(c.JWTPublicKey)
	if err != nil {
		return nil, fmt.Errorf("failed to decode public key: %w", err)
	}
	block, _ := pem.Decode(keyData)
	if block == nil {
		return nil, errors.New("failed to parse PEM block")
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("not an RSA public key")
	}
	return rsaPub, nil
}

func (c *ProvidersConfig) Validate() error {
	var errs []string

	if c.YooKassa.Enabled {
		if c.YooKassa.ShopID == "" || c.YooKassa.SecretKey == "" {
			errs = append(errs, "yookassa: shop_id and secret_key are required when enabled")
		}
	}
	if c.CryptoPay.Enabled && c.CryptoPay.Token == "" {
		errs = append(errs, "cryptopay: token is required when enabled")
	}
	if c.FreeKassa.Enabled {
		if c.FreeKassa.MerchantID == "" || c.FreeKassa.APIKey == "" || c.FreeKassa.SecondSecret == "" {
			errs = append(errs, "freekassa: merchant_id, api_key and second_secret are required when enabled")
		}
	}
	if c.Platega.Enabled {
		if c.Platega.MerchantID == "" || c.Platega.Secret == "" {
			errs = append(errs, "platega: merchant_id and secret are required when enabled")
		}
	}
	if c.SeverPay.Enabled {
		if c.SeverPay.MID == 0 || c.SeverPay.Token == "" {
			errs = append(errs, "severpay: mid and token are required when enabled")
		}
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

func (c *NotificationsConfig) Validate() error {
	if c.MaxWorkers < 0 || c.QueueSize < 0 {
		return errors.New("max_workers and queue_size cannot be negative")
	}
	return nil
}

// WebhookPath returns the ingress route for a provider tag. Paths are part of
// the deployed webhook contract and must not change between releases.
func WebhookPath(provider string) string {
	return "/webhook/" + provider
}

// WebhookURL joins the public base URL with a provider's webhook path.
func (c *ServerConfig) WebhookURL(provider string) string {
	if c.BaseURL == "" {
		return ""
	}
	return strings.TrimRight(c.BaseURL, "/") + WebhookPath(provider)
}
