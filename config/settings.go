package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Settings holds all runtime configuration for the exporter, loaded
// from environment variables (a .env file is loaded by the CLIs before
// parsing).
type Settings struct {
	// Keap API
	BaseURL      string `env:"KEAP_BASE_URL" envDefault:"https://api.infusionsoft.com"`
	ClientID     string `env:"KEAP_CLIENT_ID"`
	ClientSecret string `env:"KEAP_CLIENT_SECRET"`
	APIKey       string `env:"KEAP_API_KEY"`
	TokenFile    string `env:"KEAP_TOKEN_FILE" envDefault:".keap_tokens.json"`

	// Paging and retry behaviour
	PageSize      int           `env:"KEAP_PAGE_SIZE" envDefault:"1000"`
	MaxRetries    int           `env:"KEAP_MAX_RETRIES" envDefault:"5"`
	RetryDelay    time.Duration `env:"KEAP_RETRY_DELAY" envDefault:"1s"`
	MaxRetryDelay time.Duration `env:"KEAP_MAX_RETRY_DELAY" envDefault:"30s"`
	HTTPTimeout   time.Duration `env:"KEAP_HTTP_TIMEOUT" envDefault:"60s"`

	// Throttle budget below which the fetcher starts pacing itself.
	ThrottleFloor int `env:"KEAP_THROTTLE_FLOOR" envDefault:"50"`

	// Database
	DBHost     string `env:"DB_HOST" envDefault:"localhost"`
	DBPort     int    `env:"DB_PORT" envDefault:"5432"`
	DBName     string `env:"DB_NAME" envDefault:"keap"`
	DBUser     string `env:"DB_USER" envDefault:"keap"`
	DBPassword string `env:"DB_PASSWORD" envDefault:"keap"`

	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	DebugSQL    bool   `env:"DEBUG_SQL"`

	// Status API
	StatusAddr        string `env:"STATUS_ADDR" envDefault:":8080"`
	JWTSecret         string `env:"JWT_SECRET"`
	DashboardUser     string `env:"DASHBOARD_USER" envDefault:"admin"`
	DashboardPassHash string `env:"DASHBOARD_PASS_HASH"`

	// Notifications
	NotifyTo []string `env:"NOTIFY_TO" envSeparator:","`
}

// LoadSettings parses Settings from the environment.
func LoadSettings() (*Settings, error) {
	var s Settings
	if err := env.Parse(&s); err != nil {
		return nil, fmt.Errorf("parse settings: %w", err)
	}
	if s.PageSize <= 0 {
		return nil, fmt.Errorf("KEAP_PAGE_SIZE must be positive, got %d", s.PageSize)
	}
	if s.MaxRetries < 0 {
		return nil, fmt.Errorf("KEAP_MAX_RETRIES must not be negative, got %d", s.MaxRetries)
	}
	return &s, nil
}

// DSN builds the PostgreSQL connection string.
func (s *Settings) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable TimeZone=UTC",
		s.DBHost, s.DBPort, s.DBUser, s.DBPassword, s.DBName)
}
