package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config holds every setting the API reads at startup.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Auth     AuthConfig
	Store    StoreConfig
	Razorpay RazorpayConfig
	AI       AIConfig
	Worker   WorkerConfig
}

type ServerConfig struct {
	Port        string
	Env         string
	BaseURL     string
	CORSOrigins []string
	UploadDir   string
}

type DatabaseConfig struct {
	PrimaryDSN   string
	ReadOnlyDSN  string
	MaxOpenConns int
	MaxIdleConns int
	ConnLifetime time.Duration
	AutoMigrate  bool
}

type AuthConfig struct {
	JWTSecret     string
	TokenTTL      time.Duration
	ResetTokenTTL time.Duration
	ResetURL      string
}

// StoreConfig carries the pricing rules applied at checkout.
type StoreConfig struct {
	Currency              string
	TaxRate               decimal.Decimal // percent, e.g. 18
	StoreState            string
	ShippingFlatFee       decimal.Decimal
	FreeShippingThreshold decimal.Decimal
	PendingPaymentTTL     time.Duration
	MaxPaymentAttempts    int
	LowStockThreshold     int
}

type RazorpayConfig struct {
	KeyID         string
	KeySecret     string
	WebhookSecret string
	RetryAttempts int
}

type AIConfig struct {
	GeminiAPIKey string
	Model        string
}

type WorkerConfig struct {
	SweepInterval time.Duration
}

// IsProduction reports whether the server runs with production settings.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Server.Env, "production")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("SERVER_PORT", "8080")
	v.SetDefault("SERVER_ENV", "development")
	v.SetDefault("BASE_URL", "http://localhost:8080")
	v.SetDefault("CORS_ORIGINS", "http://localhost:5173")
	v.SetDefault("UPLOAD_DIR", "./uploads")

	v.SetDefault("DB_MAX_OPEN_CONNS", 25)
	v.SetDefault("DB_MAX_IDLE_CONNS", 25)
	v.SetDefault("DB_CONN_LIFETIME", "5m")
	v.SetDefault("DB_AUTO_MIGRATE", false)

	v.SetDefault("JWT_TTL", "72h")
	v.SetDefault("RESET_TOKEN_TTL", "30m")
	v.SetDefault("RESET_URL", "http://localhost:5173/reset-password")

	v.SetDefault("STORE_CURRENCY", "INR")
	v.SetDefault("STORE_TAX_RATE", "18")
	v.SetDefault("STORE_STATE", "Karnataka")
	v.SetDefault("SHIPPING_FLAT_FEE", "99")
	v.SetDefault("FREE_SHIPPING_THRESHOLD", "999")
	v.SetDefault("PENDING_PAYMENT_TTL", "30m")
	v.SetDefault("MAX_PAYMENT_ATTEMPTS", 3)
	v.SetDefault("LOW_STOCK_THRESHOLD", 5)

	v.SetDefault("RAZORPAY_RETRY_ATTEMPTS", 3)

	v.SetDefault("GEMINI_MODEL", "gemini-1.5-flash")

	v.SetDefault("WORKER_SWEEP_INTERVAL", "1m")
}

// Load reads .env (when present) and the process environment.
func Load() (*Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()
	_ = v.BindEnv("SERVER_PORT", "SERVER_PORT", "PORT")

	taxRate, err := decimalSetting(v, "STORE_TAX_RATE")
	if err != nil {
		return nil, err
	}
	flatFee, err := decimalSetting(v, "SHIPPING_FLAT_FEE")
	if err != nil {
		return nil, err
	}
	freeThreshold, err := decimalSetting(v, "FREE_SHIPPING_THRESHOLD")
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:        v.GetString("SERVER_PORT"),
			Env:         v.GetString("SERVER_ENV"),
			BaseURL:     strings.TrimRight(v.GetString("BASE_URL"), "/"),
			CORSOrigins: splitList(v.GetString("CORS_ORIGINS")),
			UploadDir:   v.GetString("UPLOAD_DIR"),
		},
		Database: DatabaseConfig{
			PrimaryDSN:   v.GetString("DB_DSN_PRIMARY"),
			ReadOnlyDSN:  v.GetString("DB_DSN_READONLY"),
			MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
			MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
			ConnLifetime: v.GetDuration("DB_CONN_LIFETIME"),
			AutoMigrate:  v.GetBool("DB_AUTO_MIGRATE"),
		},
		Auth: AuthConfig{
			JWTSecret:     v.GetString("JWT_SECRET"),
			TokenTTL:      v.GetDuration("JWT_TTL"),
			ResetTokenTTL: v.GetDuration("RESET_TOKEN_TTL"),
			ResetURL:      v.GetString("RESET_URL"),
		},
		Store: StoreConfig{
			Currency:              strings.ToUpper(v.GetString("STORE_CURRENCY")),
			TaxRate:               taxRate,
			StoreState:            v.GetString("STORE_STATE"),
			ShippingFlatFee:       flatFee,
			FreeShippingThreshold: freeThreshold,
			PendingPaymentTTL:     v.GetDuration("PENDING_PAYMENT_TTL"),
			MaxPaymentAttempts:    v.GetInt("MAX_PAYMENT_ATTEMPTS"),
			LowStockThreshold:     v.GetInt("LOW_STOCK_THRESHOLD"),
		},
		Razorpay: RazorpayConfig{
			KeyID:         v.GetString("RAZORPAY_KEY_ID"),
			KeySecret:     v.GetString("RAZORPAY_KEY_SECRET"),
			WebhookSecret: v.GetString("RAZORPAY_WEBHOOK_SECRET"),
			RetryAttempts: v.GetInt("RAZORPAY_RETRY_ATTEMPTS"),
		},
		AI: AIConfig{
			GeminiAPIKey: v.GetString("GEMINI_API_KEY"),
			Model:        v.GetString("GEMINI_MODEL"),
		},
		Worker: WorkerConfig{
			SweepInterval: v.GetDuration("WORKER_SWEEP_INTERVAL"),
		},
	}

	if cfg.Database.ReadOnlyDSN == "" {
		cfg.Database.ReadOnlyDSN = cfg.Database.PrimaryDSN
	}

	return cfg, nil
}

// Validate rejects configurations the server cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Database.PrimaryDSN == "" {
		errs = append(errs, errors.New("DB_DSN_PRIMARY is not set"))
	}
	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is not set"))
	} else if c.IsProduction() && len(c.Auth.JWTSecret) < 32 {
		errs = append(errs, errors.New("JWT_SECRET must be at least 32 characters in production"))
	}
	if c.IsProduction() && (c.Razorpay.KeyID == "" || c.Razorpay.KeySecret == "") {
		errs = append(errs, errors.New("RAZORPAY_KEY_ID and RAZORPAY_KEY_SECRET are required in production"))
	}
	if c.Store.TaxRate.IsNegative() {
		errs = append(errs, errors.New("STORE_TAX_RATE cannot be negative"))
	}
	if c.Store.MaxPaymentAttempts < 1 {
		errs = append(errs, errors.New("MAX_PAYMENT_ATTEMPTS must be at least 1"))
	}
	return errors.Join(errs...)
}

func decimalSetting(v *viper.Viper, key string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(v.GetString(key)))
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
