// Package config loads application configuration from environment
// variables. main loads a .env file first (godotenv), so local development
// and deployment read the same keys.
package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/iliyamo/library-circulation/internal/circulation"
)

// Config holds all runtime configuration. Identifiers and secrets are
// strings; every circulation period is a time.Duration so the engine and
// sweeper never parse anything themselves.
type Config struct {
	Env            string // application environment (dev, prod)
	Port           string // HTTP port to listen on
	DBUser         string // database username
	DBPass         string // database password (optional)
	DBHost         string // database host
	DBPort         string // database port
	DBName         string // database name
	JWTSecret      string // secret used to sign access tokens
	AccessTTLMin   int    // access token lifetime in minutes
	RefreshTTLDays int    // refresh token lifetime in days
	BcryptCost     int    // bcrypt cost for password hashing
	RabbitURL      string // AMQP broker URL (optional, notifications disabled without it)

	LoanPeriod      time.Duration // how long an activated borrow lasts
	ApprovalWindow  time.Duration // how long a pending reservation waits for staff
	ReminderLead    time.Duration // how long before expiry the reminder goes out
	SweepInterval   time.Duration // expiry sweeper tick
	CatalogCacheTTL time.Duration // redis TTL for public catalog responses
}

// Load reads the configuration. Missing required variables are fatal;
// circulation periods fall back to the engine defaults.
func Load() Config {
	return Config{
		Env:            must("APP_ENV"),
		Port:           must("APP_PORT"),
		DBUser:         must("DB_USER"),
		DBPass:         os.Getenv("DB_PASS"),
		DBHost:         must("DB_HOST"),
		DBPort:         must("DB_PORT"),
		DBName:         must("DB_NAME"),
		JWTSecret:      must("JWT_SECRET"),
		AccessTTLMin:   mustInt("ACCESS_TOKEN_TTL_MIN"),
		RefreshTTLDays: mustInt("REFRESH_TOKEN_TTL_DAYS"),
		BcryptCost:     mustInt("BCRYPT_COST"),
		RabbitURL:      os.Getenv("RABBITMQ_URL"),

		LoanPeriod:      envDur("LOAN_PERIOD", circulation.DefaultLoanPeriod),
		ApprovalWindow:  envDur("RESERVATION_APPROVAL_WINDOW", circulation.DefaultApprovalWindow),
		ReminderLead:    envDur("RESERVATION_REMINDER_LEAD", circulation.DefaultReminderLead),
		SweepInterval:   envDur("SWEEP_INTERVAL", circulation.DefaultSweepInterval),
		CatalogCacheTTL: envDur("CATALOG_CACHE_TTL", 30*time.Second),
	}
}

// must retrieves a required environment variable or exits.
func must(key string) string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		log.Fatalf("missing required env var: %s", key)
	}
	return v
}

// mustInt is like must but converts to an integer.
func mustInt(key string) int {
	s := must(key)
	n, err := strconv.Atoi(s)
	if err != nil {
		log.Fatalf("invalid int for %s: %q", key, s)
	}
	return n
}

func envDur(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		log.Printf("config: invalid duration for %s: %q, using %s", key, v, def)
		return def
	}
	return d
}
