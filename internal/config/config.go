package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/ehr/careflow/internal/domain/billing"
)

// Store drivers.
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
)

type Config struct {
	Port               string        `mapstructure:"PORT"`
	Env                string        `mapstructure:"ENV"`
	AuthMode           string        `mapstructure:"AUTH_MODE"`
	StoreDriver        string        `mapstructure:"STORE_DRIVER"`
	DatabaseURL        string        `mapstructure:"DATABASE_URL"`
	DBMaxConns         int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns         int32         `mapstructure:"DB_MIN_CONNS"`
	SQLitePath         string        `mapstructure:"SQLITE_PATH"`
	DefaultHospital    string        `mapstructure:"DEFAULT_HOSPITAL"`
	CORSOrigins        []string      `mapstructure:"CORS_ORIGINS"`
	AuthIssuer         string        `mapstructure:"AUTH_ISSUER"`
	AuthAudience       string        `mapstructure:"AUTH_AUDIENCE"`
	AuthJWKSURL        string        `mapstructure:"AUTH_JWKS_URL"`
	AuthSigningKey     string        `mapstructure:"AUTH_SIGNING_KEY"`
	KafkaBrokers       []string      `mapstructure:"KAFKA_BROKERS"`
	KafkaTopic         string        `mapstructure:"KAFKA_TOPIC"`
	S3Bucket           string        `mapstructure:"S3_BUCKET"`
	S3Region           string        `mapstructure:"S3_REGION"`
	S3Endpoint         string        `mapstructure:"S3_ENDPOINT"`
	OutboxPollInterval time.Duration `mapstructure:"OUTBOX_POLL_INTERVAL"`
	OutboxBatchSize    int           `mapstructure:"OUTBOX_BATCH_SIZE"`
	RequestTimeout     time.Duration `mapstructure:"REQUEST_TIMEOUT"`

	ConsultationRate   string `mapstructure:"BILLING_CONSULTATION_RATE"`
	LabTestRate        string `mapstructure:"BILLING_LAB_TEST_RATE"`
	NursingRate        string `mapstructure:"BILLING_NURSING_RATE"`
	EmergencySurcharge string `mapstructure:"BILLING_EMERGENCY_SURCHARGE"`
	TaxRate            string `mapstructure:"BILLING_TAX_RATE"`
}

var keys = []string{
	"PORT", "ENV", "AUTH_MODE", "STORE_DRIVER", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"SQLITE_PATH", "DEFAULT_HOSPITAL", "CORS_ORIGINS", "AUTH_ISSUER", "AUTH_AUDIENCE",
	"AUTH_JWKS_URL", "AUTH_SIGNING_KEY", "KAFKA_BROKERS", "KAFKA_TOPIC", "S3_BUCKET",
	"S3_REGION", "S3_ENDPOINT", "OUTBOX_POLL_INTERVAL", "OUTBOX_BATCH_SIZE", "REQUEST_TIMEOUT",
	"BILLING_CONSULTATION_RATE", "BILLING_LAB_TEST_RATE", "BILLING_NURSING_RATE",
	"BILLING_EMERGENCY_SURCHARGE", "BILLING_TAX_RATE",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("AUTH_MODE", "") // "" -> inferred from ENV
	v.SetDefault("STORE_DRIVER", DriverPostgres)
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("SQLITE_PATH", "careflow.db")
	v.SetDefault("DEFAULT_HOSPITAL", "default")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("KAFKA_TOPIC", "careflow.events")
	v.SetDefault("S3_REGION", "us-east-1")
	v.SetDefault("OUTBOX_POLL_INTERVAL", "2s")
	v.SetDefault("OUTBOX_BATCH_SIZE", 100)
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("BILLING_CONSULTATION_RATE", "500")
	v.SetDefault("BILLING_LAB_TEST_RATE", "300")
	v.SetDefault("BILLING_NURSING_RATE", "100")
	v.SetDefault("BILLING_EMERGENCY_SURCHARGE", "2000")
	v.SetDefault("BILLING_TAX_RATE", "0.18")

	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.CORSOrigins = splitList(v.GetString("CORS_ORIGINS"))
	cfg.KafkaBrokers = splitList(v.GetString("KAFKA_BROKERS"))

	if cfg.StoreDriver == DriverPostgres && cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required when STORE_DRIVER is %q", DriverPostgres)
	}
	return cfg, nil
}

// splitList parses a comma separated env value.
func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// ResolvedAuthMode returns AUTH_MODE when set, else "development" in
// development and "jwt" everywhere else.
func (c *Config) ResolvedAuthMode() string {
	if c.AuthMode != "" {
		return c.AuthMode
	}
	if c.IsDev() {
		return "development"
	}
	return "jwt"
}

// Tariff parses the configured billing prices.
func (c *Config) Tariff() (billing.Tariff, error) {
	var t billing.Tariff
	fields := []struct {
		key string
		raw string
		dst *decimal.Decimal
	}{
		{"BILLING_CONSULTATION_RATE", c.ConsultationRate, &t.Consultation},
		{"BILLING_LAB_TEST_RATE", c.LabTestRate, &t.LabTest},
		{"BILLING_NURSING_RATE", c.NursingRate, &t.Nursing},
		{"BILLING_EMERGENCY_SURCHARGE", c.EmergencySurcharge, &t.EmergencySurcharge},
		{"BILLING_TAX_RATE", c.TaxRate, &t.TaxRate},
	}
	for _, f := range fields {
		d, err := decimal.NewFromString(strings.TrimSpace(f.raw))
		if err != nil {
			return billing.Tariff{}, fmt.Errorf("%s is not a number: %q", f.key, f.raw)
		}
		if d.IsNegative() {
			return billing.Tariff{}, fmt.Errorf("%s must not be negative", f.key)
		}
		*f.dst = d
	}
	if t.TaxRate.GreaterThan(decimal.NewFromInt(1)) {
		return billing.Tariff{}, fmt.Errorf("BILLING_TAX_RATE is a fraction, got %s", t.TaxRate)
	}
	return t, nil
}

// Validate checks that the configuration is safe to run.
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case DriverPostgres, DriverMemory, DriverSQLite:
	default:
		return fmt.Errorf("STORE_DRIVER must be %q, %q or %q, got %q", DriverPostgres, DriverMemory, DriverSQLite, c.StoreDriver)
	}
	if c.StoreDriver == DriverSQLite && c.SQLitePath == "" {
		return fmt.Errorf("SQLITE_PATH is required when STORE_DRIVER is %q", DriverSQLite)
	}

	switch mode := c.ResolvedAuthMode(); mode {
	case "development":
		if !c.IsDev() {
			return fmt.Errorf("AUTH_MODE=development is only allowed with ENV=development (current ENV=%q)", c.Env)
		}
	case "jwt":
		if c.AuthSigningKey == "" && c.AuthJWKSURL == "" {
			return fmt.Errorf("AUTH_SIGNING_KEY or AUTH_JWKS_URL must be set when AUTH_MODE is \"jwt\"")
		}
	default:
		return fmt.Errorf("AUTH_MODE must be \"development\" or \"jwt\", got %q", mode)
	}

	if c.OutboxBatchSize <= 0 {
		return fmt.Errorf("OUTBOX_BATCH_SIZE must be positive")
	}
	if c.OutboxPollInterval <= 0 {
		return fmt.Errorf("OUTBOX_POLL_INTERVAL must be positive")
	}
	if _, err := c.Tariff(); err != nil {
		return err
	}
	return nil
}
