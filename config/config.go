package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"safaripay/pkg/money"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type Config struct {
	Server       ServerConfig
	Database     DatabaseConfig
	JWT          JWTConfig
	Redis        RedisConfig
	RateLimit    RateLimitConfig
	Payment      PaymentConfig
	LiberecMpesa LiberecMpesaConfig
	Card         CardConfig
	Bank         BankConfig
	Ledger       LedgerConfig
}

type ServerConfig struct {
	Port         string
	Env          string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type DatabaseConfig struct {
	Driver          string // mysql | postgres
	DSN             string
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
}

// JWTConfig verifies access tokens minted by the identity provider.
type JWTConfig struct {
	AccessSecret string
	AccessExpiry time.Duration
	Issuer       string
}

// RedisConfig backs the Idempotency-Key response cache. An empty Addr
// selects the in-process store.
type RedisConfig struct {
	Addr           string
	Password       string
	DB             int
	IdempotencyTTL time.Duration
}

type RateLimitConfig struct {
	Requests int
	Window   time.Duration
}

type PaymentConfig struct {
	WebhookSecret string
	Rails         string // live | stub
	RailTimeout   time.Duration
	CallbackBase  string // e.g. https://api.example.com; webhooks live under /api/v1/webhooks/*
}

// LiberecMpesaConfig for M-Pesa STK push and B2C payouts via TheLiberec Card API
type LiberecMpesaConfig struct {
	BaseURL  string
	Email    string
	Password string
}

// CardConfig is the hosted card/PayPal checkout used for foreign-currency top-ups.
type CardConfig struct {
	BaseURL string
	APIKey  string
}

type BankConfig struct {
	BaseURL       string
	APIKey        string
	SourceAccount string
}

type LedgerConfig struct {
	WithdrawalFeeRate decimal.Decimal
	// Rates is the static exchange-rate table applied to tourists, per source currency.
	Rates map[string]decimal.Decimal
	// CostRates is what the platform pays per source currency; the spread over Rates is top-up margin.
	CostRates map[string]decimal.Decimal
	// MaxTransactionCents caps a single top-up, payment or withdrawal in KES cents.
	MaxTransactionCents int64
}

// Load reads configuration from the environment, after loading an optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()

	feeRate, err := decimal.NewFromString(getEnv("WITHDRAWAL_FEE_RATE", "0.01"))
	if err != nil || feeRate.IsNegative() || feeRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return nil, fmt.Errorf("config: WITHDRAWAL_FEE_RATE must be in [0,1)")
	}
	rates, err := parseRates(getEnv("EXCHANGE_RATES", "USD:130.25,EUR:141.10,GBP:165.40"))
	if err != nil {
		return nil, fmt.Errorf("config: EXCHANGE_RATES: %w", err)
	}
	costRates, err := parseRates(getEnv("EXCHANGE_COST_RATES", ""))
	if err != nil {
		return nil, fmt.Errorf("config: EXCHANGE_COST_RATES: %w", err)
	}
	maxTxn, err := parseMaxTransaction(getEnv("MAX_TRANSACTION_KES", "1000000"))
	if err != nil {
		return nil, fmt.Errorf("config: MAX_TRANSACTION_KES: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:         getEnv("SERVER_PORT", "8099"),
			Env:          getEnv("ENVIRONMENT", "development"),
			ReadTimeout:  getEnvDuration("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout: getEnvDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
		},
		Database: DatabaseConfig{
			Driver:          getEnv("DB_DRIVER", "mysql"),
			DSN:             getEnv("DB_DSN", "safaripay:safaripay@tcp(localhost:3306)/safaripay?charset=utf8mb4&parseTime=True&loc=Local"),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 10),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 100),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", time.Hour),
		},
		JWT: JWTConfig{
			AccessSecret: getEnv("JWT_ACCESS_SECRET", "change-me-in-production"),
			AccessExpiry: getEnvDuration("JWT_ACCESS_EXPIRY", 15*time.Minute),
			Issuer:       getEnv("JWT_ISSUER", "safaripay"),
		},
		Redis: RedisConfig{
			Addr:           getEnv("REDIS_ADDR", ""),
			Password:       getEnv("REDIS_PASSWORD", ""),
			DB:             getEnvInt("REDIS_DB", 0),
			IdempotencyTTL: getEnvDuration("IDEMPOTENCY_TTL", 24*time.Hour),
		},
		RateLimit: RateLimitConfig{
			Requests: getEnvInt("RATE_LIMIT_REQUESTS", 100),
			Window:   getEnvDuration("RATE_LIMIT_WINDOW", 60*time.Second),
		},
		Payment: PaymentConfig{
			WebhookSecret: getEnv("WEBHOOK_SECRET", ""),
			Rails:         getEnv("PAYMENT_RAILS", "stub"),
			RailTimeout:   getEnvDuration("PAYMENT_RAIL_TIMEOUT", 20*time.Second),
			CallbackBase:  normalizeBaseURL(getEnv("CALLBACK_BASE_URL", "http://localhost:8099")),
		},
		LiberecMpesa: LiberecMpesaConfig{
			BaseURL:  getEnv("MPESA_BASE_URL", "https://card-api.theliberec.com"),
			Email:    getEnv("MPESA_EMAIL", ""),
			Password: getEnv("MPESA_PASSWORD", ""),
		},
		Card: CardConfig{
			BaseURL: getEnv("CARD_BASE_URL", ""),
			APIKey:  getEnv("CARD_API_KEY", ""),
		},
		Bank: BankConfig{
			BaseURL:       getEnv("BANK_BASE_URL", ""),
			APIKey:        getEnv("BANK_API_KEY", ""),
			SourceAccount: getEnv("BANK_SOURCE_ACCOUNT", ""),
		},
		Ledger: LedgerConfig{
			WithdrawalFeeRate:   feeRate,
			Rates:               rates,
			CostRates:           costRates,
			MaxTransactionCents: maxTxn,
		},
	}
	if cfg.Payment.Rails != "live" && cfg.Payment.Rails != "stub" {
		return nil, fmt.Errorf("config: PAYMENT_RAILS must be live or stub, got %q", cfg.Payment.Rails)
	}
	return cfg, nil
}

// WebhookURL returns the absolute callback URL for a webhook path such as "mpesa".
func (c PaymentConfig) WebhookURL(name string) string {
	if c.CallbackBase == "" {
		return ""
	}
	return c.CallbackBase + "/api/v1/webhooks/" + name
}

// parseMaxTransaction reads a positive KES amount into cents.
func parseMaxTransaction(s string) (int64, error) {
	amount, err := money.ParseAmount(s)
	if err != nil {
		return 0, err
	}
	return money.ToCents(amount)
}

// parseRates reads "USD:130.25,EUR:141.10" into an upper-cased currency map.
func parseRates(s string) (map[string]decimal.Decimal, error) {
	out := make(map[string]decimal.Decimal)
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		cur, val, ok := strings.Cut(pair, ":")
		if !ok {
			return nil, fmt.Errorf("malformed pair %q", pair)
		}
		rate, err := decimal.NewFromString(strings.TrimSpace(val))
		if err != nil || !rate.IsPositive() {
			return nil, fmt.Errorf("invalid rate for %s", cur)
		}
		out[strings.ToUpper(strings.TrimSpace(cur))] = rate
	}
	return out, nil
}

func normalizeBaseURL(base string) string {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	if base != "" && !strings.HasPrefix(base, "http") {
		base = "https://" + base
	}
	return base
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
