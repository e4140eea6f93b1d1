package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config is the root application configuration, loaded from the environment.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Identity IdentityConfig
	Account  AccountConfig
	Recovery RecoveryConfig
	Notifx   NotifxConfig
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port            string        `env:"PORT" envDefault:"8080"`
	CORSOrigins     string        `env:"CORS_ORIGINS" envDefault:"*"`
	BodyLimit       int           `env:"SERVER_BODY_LIMIT" envDefault:"1048576"`
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" envDefault:"30s"`
	Debug           bool          `env:"DEBUG" envDefault:"false"`
	Version         string        `env:"APP_VERSION" envDefault:"1.0.0"`
}

// DatabaseConfig configures the Postgres profile store.
type DatabaseConfig struct {
	Host            string        `env:"DB_HOST" envDefault:"localhost"`
	Port            int           `env:"DB_PORT" envDefault:"5432"`
	User            string        `env:"DB_USER" envDefault:"postgres"`
	Password        string        `env:"DB_PASSWORD"`
	Name            string        `env:"DB_NAME" envDefault:"homestead"`
	SSLMode         string        `env:"DB_SSLMODE" envDefault:"disable"`
	MaxOpenConns    int           `env:"DB_MAX_OPEN_CONNS" envDefault:"20"`
	MaxIdleConns    int           `env:"DB_MAX_IDLE_CONNS" envDefault:"5"`
	ConnMaxLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME" envDefault:"30m"`
	MigrateOnStart  bool          `env:"DB_MIGRATE_ON_START" envDefault:"true"`
}

// DSN returns the lib/pq connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

// RedisConfig configures the one-time-code store.
type RedisConfig struct {
	Host     string `env:"REDIS_HOST" envDefault:"localhost"`
	Port     int    `env:"REDIS_PORT" envDefault:"6379"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`
}

// Address returns host:port.
func (r RedisConfig) Address() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// IdentityConfig configures the hosted identity backend.
type IdentityConfig struct {
	// Provider is gotrue or memory. memory keeps identities in process for local runs.
	Provider    string        `env:"IDENTITY_PROVIDER" envDefault:"gotrue"`
	BaseURL     string        `env:"IDENTITY_BASE_URL" envDefault:"http://localhost:9999"`
	AnonKey     string        `env:"IDENTITY_ANON_KEY"`
	ServiceKey  string        `env:"IDENTITY_SERVICE_KEY"`
	JWTSecret   string        `env:"IDENTITY_JWT_SECRET"`
	JWTAudience string        `env:"IDENTITY_JWT_AUDIENCE" envDefault:"authenticated"`
	CallTimeout time.Duration `env:"IDENTITY_CALL_TIMEOUT" envDefault:"5s"`
}

// AccountConfig configures reconciliation and the registration poller.
type AccountConfig struct {
	// Store is postgres or memory.
	Store string `env:"ACCOUNT_STORE" envDefault:"postgres"`
	// StoreTimeout bounds each profile-store call.
	StoreTimeout time.Duration `env:"ACCOUNT_STORE_TIMEOUT" envDefault:"3s"`
	// PollAttempts is how many times WaitForSync looks for a mirrored profile.
	PollAttempts int `env:"ACCOUNT_SYNC_POLL_ATTEMPTS" envDefault:"3"`
	// PollInterval is the spacing between polls.
	PollInterval time.Duration `env:"ACCOUNT_SYNC_POLL_INTERVAL" envDefault:"1s"`
	// SyncBudget is the overall WaitForSync deadline, fallback included.
	SyncBudget time.Duration `env:"ACCOUNT_SYNC_BUDGET" envDefault:"5s"`
}

// RecoveryConfig configures the credential recovery flow.
type RecoveryConfig struct {
	CodeLength     int           `env:"RECOVERY_CODE_LENGTH" envDefault:"6"`
	CodeTTL        time.Duration `env:"RECOVERY_CODE_TTL" envDefault:"10m"`
	MaxAttempts    int           `env:"RECOVERY_MAX_ATTEMPTS" envDefault:"5"`
	ResetTokenTTL  time.Duration `env:"RECOVERY_RESET_TOKEN_TTL" envDefault:"10m"`
	RequestLimit   int           `env:"RECOVERY_REQUEST_LIMIT" envDefault:"5"`
	RequestWindow  time.Duration `env:"RECOVERY_REQUEST_WINDOW" envDefault:"15m"`
	CASRetries     int           `env:"RECOVERY_CAS_RETRIES" envDefault:"3"`
	BcryptCost     int           `env:"RECOVERY_BCRYPT_COST" envDefault:"10"`
	KeyPrefix      string        `env:"RECOVERY_KEY_PREFIX" envDefault:"recovery"`
	RetentionGrace time.Duration `env:"RECOVERY_RETENTION_GRACE" envDefault:"1h"`
	CallTimeout    time.Duration `env:"RECOVERY_CALL_TIMEOUT" envDefault:"5s"`
}

// Load reads .env (if present) and the process environment into a validated Config.
func Load() (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("config: parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the recovery and sync flows cannot honor.
func (c *Config) Validate() error {
	switch {
	case c.Recovery.CodeLength < 4 || c.Recovery.CodeLength > 10:
		return fmt.Errorf("config: RECOVERY_CODE_LENGTH must be between 4 and 10, got %d", c.Recovery.CodeLength)
	case c.Recovery.CodeTTL <= 0:
		return fmt.Errorf("config: RECOVERY_CODE_TTL must be positive")
	case c.Recovery.MaxAttempts < 1:
		return fmt.Errorf("config: RECOVERY_MAX_ATTEMPTS must be at least 1")
	case c.Recovery.RequestLimit < 1 || c.Recovery.RequestWindow <= 0:
		return fmt.Errorf("config: RECOVERY_REQUEST_LIMIT must be at least 1 and RECOVERY_REQUEST_WINDOW positive")
	case c.Recovery.CASRetries < 1:
		return fmt.Errorf("config: RECOVERY_CAS_RETRIES must be at least 1")
	case c.Account.PollAttempts < 1:
		return fmt.Errorf("config: ACCOUNT_SYNC_POLL_ATTEMPTS must be at least 1")
	case c.Identity.Provider != "gotrue" && c.Identity.Provider != "memory":
		return fmt.Errorf("config: IDENTITY_PROVIDER must be gotrue or memory, got %q", c.Identity.Provider)
	case c.Account.Store != "postgres" && c.Account.Store != "memory":
		return fmt.Errorf("config: ACCOUNT_STORE must be postgres or memory, got %q", c.Account.Store)
	case c.Account.SyncBudget <= 0 || c.Account.PollInterval < 0:
		return fmt.Errorf("config: ACCOUNT_SYNC_BUDGET must be positive and ACCOUNT_SYNC_POLL_INTERVAL non-negative")
	}
	return nil
}
