package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type Config struct {
	AppEnv         string
	Port           string
	AllowedOrigins string
	LogLevel       string

	DBHost string
	DBUser string
	DBPass string
	DBName string
	DBPort string

	RedisURL string

	JWTSecret        string
	InternalAPIToken string

	View     ViewConfig
	Points   PointsConfig
	Earnings EarningsConfig
}

// ViewConfig holds the validation pipeline thresholds.
type ViewConfig struct {
	MinDwell      time.Duration
	IPCooldown    time.Duration
	DailyPointCap decimal.Decimal
	DayBoundary   *time.Location
	PointsPerView decimal.Decimal
	SinglePending bool
	PendingMaxAge time.Duration
}

type PointsConfig struct {
	ReferralBonus decimal.Decimal
}

type EarningsConfig struct {
	HoldPeriod     time.Duration
	ConversionRate decimal.Decimal
	UnlockSchedule string
	UnlockBatch    int
	ClaimTTL       time.Duration
}

func Load() (*Config, error) {
	// Don't fail if .env doesn't exist (might be prod env vars)
	_ = godotenv.Load()

	cfg := &Config{
		AppEnv:         getEnv("APP_ENV", "development"),
		Port:           getEnv("PORT", "8080"),
		AllowedOrigins: getEnv("ALLOWED_ORIGINS", "http://localhost:3000"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),

		DBHost: getEnv("DB_HOST", "localhost"),
		DBUser: getEnv("DB_USER", "postgres"),
		DBPass: os.Getenv("DB_PASS"),
		DBName: getEnv("DB_NAME", "traffic_exchange"),
		DBPort: getEnv("DB_PORT", "5432"),

		RedisURL: os.Getenv("REDIS_URL"),

		JWTSecret:        getEnv("JWT_SECRET", "12345"),
		InternalAPIToken: os.Getenv("INTERNAL_API_TOKEN"),

		Earnings: EarningsConfig{
			UnlockSchedule: getEnv("UNLOCK_SCHEDULE", "@hourly"),
		},
	}

	var err error
	if cfg.View.MinDwell, err = parseDuration("VIEW_MIN_DWELL", "20s"); err != nil {
		return nil, err
	}
	if cfg.View.IPCooldown, err = parseDuration("IP_COOLDOWN", "10m"); err != nil {
		return nil, err
	}
	if cfg.View.PendingMaxAge, err = parseDuration("VIEW_PENDING_MAX_AGE", "0s"); err != nil {
		return nil, err
	}
	if cfg.View.DailyPointCap, err = parseDecimal("DAILY_POINT_CAP", "100000"); err != nil {
		return nil, err
	}
	if cfg.View.PointsPerView, err = parseDecimal("DEFAULT_POINTS_PER_VIEW", "1"); err != nil {
		return nil, err
	}
	if cfg.View.SinglePending, err = parseBool("VIEW_SINGLE_PENDING", "false"); err != nil {
		return nil, err
	}
	cfg.View.DayBoundary, err = time.LoadLocation(getEnv("DAY_BOUNDARY_TZ", "UTC"))
	if err != nil {
		return nil, fmt.Errorf("invalid DAY_BOUNDARY_TZ: %w", err)
	}

	if cfg.Points.ReferralBonus, err = parseDecimal("REFERRAL_BONUS_POINTS", "50"); err != nil {
		return nil, err
	}

	if cfg.Earnings.HoldPeriod, err = parseDuration("EARNINGS_HOLD", "360h"); err != nil {
		return nil, err
	}
	if cfg.Earnings.ClaimTTL, err = parseDuration("UNLOCK_CLAIM_TTL", "5m"); err != nil {
		return nil, err
	}
	if cfg.Earnings.ConversionRate, err = parseDecimal("POINTS_TO_CURRENCY_RATE", "0.001"); err != nil {
		return nil, err
	}
	cfg.Earnings.UnlockBatch, err = strconv.Atoi(getEnv("UNLOCK_BATCH_SIZE", "500"))
	if err != nil || cfg.Earnings.UnlockBatch <= 0 {
		return nil, fmt.Errorf("invalid UNLOCK_BATCH_SIZE: %q", os.Getenv("UNLOCK_BATCH_SIZE"))
	}

	return cfg, nil
}

// DSN builds the postgres connection string.
func (c *Config) DSN() string {
	return fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%s sslmode=disable",
		c.DBHost, c.DBUser, c.DBPass, c.DBName, c.DBPort,
	)
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func parseDuration(key, fallback string) (time.Duration, error) {
	d, err := time.ParseDuration(getEnv(key, fallback))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid %s: must not be negative", key)
	}
	return d, nil
}

func parseDecimal(key, fallback string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(getEnv(key, fallback))
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid %s: %w", key, err)
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("invalid %s: must not be negative", key)
	}
	return d, nil
}

func parseBool(key, fallback string) (bool, error) {
	b, err := strconv.ParseBool(getEnv(key, fallback))
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}
