package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	// EnvProduction is the app.env value that activates the startup invariants.
	EnvProduction = "production"
	// DevSessionSecret is the built-in development signing secret. It is refused in production.
	DevSessionSecret = "dev-secret-change-in-production-32b"
	// DefaultSeedPassword is the built-in seed password. It is refused in production.
	DefaultSeedPassword = "seed-change-me"

	minProductionSecretLength = 32
)

type AppConfig struct {
	App       AppSettings       `mapstructure:"app"`
	Storage   StorageSettings   `mapstructure:"storage"`
	Postgres  PostgresSettings  `mapstructure:"postgres"`
	Redis     RedisSettings     `mapstructure:"redis"`
	Kafka     KafkaSettings     `mapstructure:"kafka"`
	JWT       JWTSettings       `mapstructure:"jwt"`
	Auth      AuthSettings      `mapstructure:"auth"`
	Security  SecuritySettings  `mapstructure:"security"`
	SMTP      SMTPSettings      `mapstructure:"smtp"`
	OAuth     OAuthSettings     `mapstructure:"oauth"`
	Cookie    CookieSettings    `mapstructure:"cookie"`
	CORS      CORSSettings      `mapstructure:"cors"`
	RateLimit RateLimitSettings `mapstructure:"rate_limit"`
	Telemetry TelemetrySettings `mapstructure:"telemetry"`
	Seed      SeedSettings      `mapstructure:"seed"`
}

type AppSettings struct {
	Name        string `mapstructure:"name"`
	Env         string `mapstructure:"env"`
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	FrontendURL string `mapstructure:"frontend_url"`
}

// IsProduction reports whether the production invariants apply.
func (a AppSettings) IsProduction() bool {
	return strings.EqualFold(a.Env, EnvProduction)
}

// IsDev reports whether development conveniences (token echo) are enabled.
func (a AppSettings) IsDev() bool {
	env := strings.ToLower(a.Env)
	return env == "development" || env == "test"
}

// StorageSettings selects the user store backend.
type StorageSettings struct {
	Driver        string `mapstructure:"driver"`
	RunMigrations bool   `mapstructure:"run_migrations"`
}

type PostgresSettings struct {
	URL               string        `mapstructure:"url"`
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	User              string        `mapstructure:"user"`
	Password          string        `mapstructure:"password"`
	Database          string        `mapstructure:"database"`
	SSLMode           string        `mapstructure:"ssl_mode"`
	MaxConns          int32         `mapstructure:"max_conns"`
	MinConns          int32         `mapstructure:"min_conns"`
	MaxConnLifetime   time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime   time.Duration `mapstructure:"max_conn_idle_time"`
	HealthCheckPeriod time.Duration `mapstructure:"health_check_period"`
}

// DSN returns the explicit URL when set, otherwise one assembled from the parts.
func (p PostgresSettings) DSN() string {
	if p.URL != "" {
		return p.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		p.User,
		p.Password,
		p.Host,
		p.Port,
		p.Database,
		p.SSLMode,
	)
}

// RedisSettings configures the Redis connection backing the rate limiter.
type RedisSettings struct {
	Enabled    bool   `mapstructure:"enabled"`
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	DB         int    `mapstructure:"db"`
	Password   string `mapstructure:"password"`
	TLSEnabled bool   `mapstructure:"tls_enabled"`
	KeyPrefix  string `mapstructure:"key_prefix"`
}

// KafkaSettings configures the account event producer.
type KafkaSettings struct {
	Brokers     []string `mapstructure:"brokers"`
	TopicPrefix string   `mapstructure:"topic_prefix"`
}

type JWTSettings struct {
	Secret         string        `mapstructure:"secret"`
	Issuer         string        `mapstructure:"issuer"`
	AccessTokenTTL time.Duration `mapstructure:"access_token_ttl"`
}

// AuthSettings holds the account lifecycle policy.
type AuthSettings struct {
	MaxLoginAttempts     int           `mapstructure:"max_login_attempts"`
	LockoutDuration      time.Duration `mapstructure:"lockout_duration"`
	ResetTokenTTL        time.Duration `mapstructure:"reset_token_ttl"`
	VerificationTokenTTL time.Duration `mapstructure:"verification_token_ttl"`
}

// SecuritySettings configures password hashing and the password policy.
type SecuritySettings struct {
	PasswordAlgorithm string         `mapstructure:"password_algorithm"`
	BcryptCost        int            `mapstructure:"bcrypt_cost"`
	PasswordMinLength int            `mapstructure:"password_min_length"`
	PasswordMinScore  int            `mapstructure:"password_min_score"`
	Argon2            Argon2Settings `mapstructure:"argon2"`
}

// Argon2Settings configures Argon2id password hashing parameters
type Argon2Settings struct {
	Memory      uint32 `mapstructure:"memory"`
	Iterations  uint32 `mapstructure:"iterations"`
	Parallelism uint8  `mapstructure:"parallelism"`
	SaltLength  uint32 `mapstructure:"salt_length"`
	KeyLength   uint32 `mapstructure:"key_length"`
}

// SMTPSettings configures outbound mail. An empty host selects the dev fallback.
type SMTPSettings struct {
	Host          string        `mapstructure:"host"`
	Port          int           `mapstructure:"port"`
	User          string        `mapstructure:"user"`
	Password      string        `mapstructure:"password"`
	From          string        `mapstructure:"from"`
	FromName      string        `mapstructure:"from_name"`
	UseSSL        bool          `mapstructure:"use_ssl"`
	SkipStartTLS  bool          `mapstructure:"skip_starttls"`
	Timeout       time.Duration `mapstructure:"timeout"`
	DevOutputFile string        `mapstructure:"dev_file"`
}

// OAuthSettings configures external identity providers.
type OAuthSettings struct {
	GoogleClientID string `mapstructure:"google_client_id"`
}

// CookieSettings configures the session cookie.
type CookieSettings struct {
	Name   string `mapstructure:"name"`
	Path   string `mapstructure:"path"`
	Domain string `mapstructure:"domain"`
}

type CORSSettings struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// RateLimitSettings configures the per-IP window on authentication endpoints.
type RateLimitSettings struct {
	AuthPerMinute  int           `mapstructure:"auth_per_minute"`
	WindowDuration time.Duration `mapstructure:"window_duration"`
}

type TelemetrySettings struct {
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	ServiceName  string  `mapstructure:"service_name"`
	SamplingRate float64 `mapstructure:"sampling_rate"`
}

// SeedSettings configures the optional development seed account.
type SeedSettings struct {
	Enabled  bool   `mapstructure:"enabled"`
	Email    string `mapstructure:"email"`
	Password string `mapstructure:"password"`
}

var (
	// ErrInsecureSecret is returned when production runs with a missing or default signing secret.
	ErrInsecureSecret = errors.New("config: session signing secret is missing or insecure")
	// ErrInsecureCORS is returned when production runs without explicit CORS origins.
	ErrInsecureCORS = errors.New("config: cors origins must be explicit in production")
	// ErrInsecureSeed is returned when production seeds with the default password.
	ErrInsecureSeed = errors.New("config: seed password must be changed in production")
)

// legacyEnvAliases maps config keys to the environment names used by earlier deployments.
var legacyEnvAliases = map[string][]string{
	"app.env":                 {"ENVIRONMENT"},
	"app.frontend_url":        {"FRONTEND_URL"},
	"postgres.url":            {"DATABASE_URL"},
	"jwt.secret":              {"SECRET_KEY"},
	"jwt.access_token_ttl":    {"ACCESS_TOKEN_TTL"},
	"auth.max_login_attempts": {"MAX_LOGIN_ATTEMPTS"},
	"smtp.host":               {"SMTP_HOST"},
	"smtp.port":               {"SMTP_PORT"},
	"smtp.user":               {"SMTP_USER"},
	"smtp.password":           {"SMTP_PASSWORD"},
	"smtp.from":               {"SMTP_FROM"},
	"smtp.use_ssl":            {"SMTP_USE_SSL"},
	"smtp.skip_starttls":      {"SMTP_SKIP_STARTTLS"},
	"smtp.dev_file":           {"EMAIL_DEV_FILE"},
	"oauth.google_client_id":  {"GOOGLE_CLIENT_ID"},
	"cors.allowed_origins":    {"CORS_ORIGINS"},
	"seed.enabled":            {"RUN_SEED"},
	"seed.password":           {"SEED_PASSWORD"},
}

func Load() (*AppConfig, error) {
	v := viper.New()

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix("TOOLME")

	setDefaults(v)

	if err := bindEnvs(v, []string{
		"app.name",
		"app.env",
		"app.host",
		"app.port",
		"app.frontend_url",
		"storage.driver",
		"storage.run_migrations",
		"postgres.url",
		"postgres.host",
		"postgres.port",
		"postgres.user",
		"postgres.password",
		"postgres.database",
		"postgres.ssl_mode",
		"postgres.max_conns",
		"postgres.min_conns",
		"postgres.max_conn_lifetime",
		"postgres.max_conn_idle_time",
		"postgres.health_check_period",
		"redis.enabled",
		"redis.host",
		"redis.port",
		"redis.db",
		"redis.password",
		"redis.tls_enabled",
		"redis.key_prefix",
		"kafka.brokers",
		"kafka.topic_prefix",
		"jwt.secret",
		"jwt.issuer",
		"jwt.access_token_ttl",
		"auth.max_login_attempts",
		"auth.lockout_duration",
		"auth.reset_token_ttl",
		"auth.verification_token_ttl",
		"security.password_algorithm",
		"security.bcrypt_cost",
		"security.password_min_length",
		"security.password_min_score",
		"security.argon2.memory",
		"security.argon2.iterations",
		"security.argon2.parallelism",
		"security.argon2.salt_length",
		"security.argon2.key_length",
		"smtp.host",
		"smtp.port",
		"smtp.user",
		"smtp.password",
		"smtp.from",
		"smtp.from_name",
		"smtp.use_ssl",
		"smtp.skip_starttls",
		"smtp.timeout",
		"smtp.dev_file",
		"oauth.google_client_id",
		"cookie.name",
		"cookie.path",
		"cookie.domain",
		"cors.allowed_origins",
		"rate_limit.auth_per_minute",
		"rate_limit.window_duration",
		"telemetry.otlp_endpoint",
		"telemetry.service_name",
		"telemetry.sampling_rate",
		"seed.enabled",
		"seed.email",
		"seed.password",
	}); err != nil {
		return nil, err
	}

	v.AutomaticEnv()

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.CORS.AllowedOrigins = splitList(cfg.CORS.AllowedOrigins)
	cfg.Kafka.Brokers = splitList(cfg.Kafka.Brokers)

	return &cfg, nil
}

// Validate enforces the startup invariants. The process must not start when it fails.
func (c *AppConfig) Validate() error {
	if c == nil {
		return errors.New("config: nil config")
	}

	if c.Auth.MaxLoginAttempts <= 0 {
		return fmt.Errorf("config: auth.max_login_attempts must be positive")
	}
	if c.JWT.AccessTokenTTL <= 0 {
		return fmt.Errorf("config: jwt.access_token_ttl must be positive")
	}
	if c.JWT.Secret == "" {
		return ErrInsecureSecret
	}

	if !c.App.IsProduction() {
		return nil
	}

	if c.JWT.Secret == DevSessionSecret || len(c.JWT.Secret) < minProductionSecretLength {
		return ErrInsecureSecret
	}

	if len(c.CORS.AllowedOrigins) == 0 {
		return ErrInsecureCORS
	}
	for _, origin := range c.CORS.AllowedOrigins {
		if origin == "*" {
			return ErrInsecureCORS
		}
	}

	if c.Seed.Enabled && (c.Seed.Password == "" || c.Seed.Password == DefaultSeedPassword) {
		return ErrInsecureSeed
	}

	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "toolme-api")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.host", "0.0.0.0")
	v.SetDefault("app.port", 8000)
	v.SetDefault("app.frontend_url", "http://localhost:5173")

	v.SetDefault("storage.driver", "postgres")
	v.SetDefault("storage.run_migrations", true)

	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "toolme")
	v.SetDefault("postgres.password", "toolme")
	v.SetDefault("postgres.database", "toolme")
	v.SetDefault("postgres.ssl_mode", "disable")
	v.SetDefault("postgres.max_conns", 10)
	v.SetDefault("postgres.min_conns", 2)
	v.SetDefault("postgres.max_conn_lifetime", "60m")
	v.SetDefault("postgres.max_conn_idle_time", "15m")
	v.SetDefault("postgres.health_check_period", "30s")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.tls_enabled", false)
	v.SetDefault("redis.key_prefix", "toolme:rate-limit")

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic_prefix", "toolme")

	v.SetDefault("jwt.secret", DevSessionSecret)
	v.SetDefault("jwt.issuer", "toolme-api")
	v.SetDefault("jwt.access_token_ttl", "60m")

	v.SetDefault("auth.max_login_attempts", 5)
	v.SetDefault("auth.lockout_duration", "0s")
	v.SetDefault("auth.reset_token_ttl", "1h")
	v.SetDefault("auth.verification_token_ttl", "24h")

	v.SetDefault("security.password_algorithm", "bcrypt")
	v.SetDefault("security.bcrypt_cost", 12)
	v.SetDefault("security.password_min_length", 12)
	v.SetDefault("security.password_min_score", 0)
	v.SetDefault("security.argon2.memory", 64*1024)
	v.SetDefault("security.argon2.iterations", 3)
	v.SetDefault("security.argon2.parallelism", 4)
	v.SetDefault("security.argon2.salt_length", 16)
	v.SetDefault("security.argon2.key_length", 32)

	v.SetDefault("smtp.port", 587)
	v.SetDefault("smtp.from", "no-reply@toolme.local")
	v.SetDefault("smtp.from_name", "ToolMe")
	v.SetDefault("smtp.timeout", "15s")

	v.SetDefault("cookie.name", "toolme_access_token")
	v.SetDefault("cookie.path", "/")

	v.SetDefault("cors.allowed_origins", []string{"http://localhost:5173"})

	v.SetDefault("rate_limit.auth_per_minute", 10)
	v.SetDefault("rate_limit.window_duration", "1m")

	v.SetDefault("telemetry.service_name", "toolme-api")
	v.SetDefault("telemetry.sampling_rate", 1.0)

	v.SetDefault("seed.enabled", false)
	v.SetDefault("seed.email", "seed@toolme.local")
	v.SetDefault("seed.password", DefaultSeedPassword)
}

func bindEnvs(v *viper.Viper, keys []string) error {
	for _, key := range keys {
		envKey := strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		names := append([]string{key, "TOOLME_" + envKey, envKey}, legacyEnvAliases[key]...)
		if err := v.BindEnv(names...); err != nil {
			return fmt.Errorf("bind env for %s: %w", key, err)
		}
	}
	return nil
}

// splitList accepts both real lists and a single comma separated value from the environment.
func splitList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				out = append(out, trimmed)
			}
		}
	}
	return out
}
