package phiguard

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/phiguard/jwt"
	"github.com/MrEthical07/phiguard/phi"
	"github.com/MrEthical07/phiguard/policy"
	"github.com/MrEthical07/phiguard/session"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override read by LoadConfig,
// e.g. PHIGUARD_SESSION_MAX_CONCURRENT.
const EnvPrefix = "PHIGUARD"

// Config is the complete Engine configuration. Build it with DefaultConfig or
// LoadConfig and treat it as immutable once passed to the Builder.
type Config struct {
	PHI      PHIConfig      `mapstructure:"phi"`
	Session  SessionConfig  `mapstructure:"session"`
	Policy   PolicyConfig   `mapstructure:"policy"`
	Token    TokenConfig    `mapstructure:"token"`
	Audit    AuditConfig    `mapstructure:"audit"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

/*
====================================
PHI CONFIG
====================================
*/

// PHIConfig locates the field-encryption key. Key wins over KeyEnv; there is
// no fallback key.
type PHIConfig struct {
	Key     string `mapstructure:"key"`
	KeyEnv  string `mapstructure:"key_env"`
	Version int    `mapstructure:"version"`
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig mirrors session.Policy plus the Redis store options.
type SessionConfig struct {
	MaxConcurrent     int           `mapstructure:"max_concurrent"`
	MaxLifetime       time.Duration `mapstructure:"max_lifetime"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"`
	ReauthAfter       time.Duration `mapstructure:"reauth_after"`
	ExtensionCeiling  time.Duration `mapstructure:"extension_ceiling"`
	RequireMFA        bool          `mapstructure:"require_mfa"`
	LockWait          time.Duration `mapstructure:"lock_wait"`
	RedisPrefix       string        `mapstructure:"redis_prefix"`
	LockTTL           time.Duration `mapstructure:"lock_ttl"`
	InactiveRetention time.Duration `mapstructure:"inactive_retention"`
}

/*
====================================
POLICY CONFIG
====================================
*/

// PolicyConfig configures the access policy engine.
type PolicyConfig struct {
	TimeZone              string   `mapstructure:"time_zone"`
	BusinessStartHour     int      `mapstructure:"business_start_hour"`
	BusinessEndHour       int      `mapstructure:"business_end_hour"`
	BusinessDays          []string `mapstructure:"business_days"`
	MaxRolesPerUser       int      `mapstructure:"max_roles_per_user"`
	MaxPermissionsPerRole int      `mapstructure:"max_permissions_per_role"`
	// SecureNetworks enables IP list enforcement of location restrictions.
	// Empty keeps the permissive location policy.
	SecureNetworks   []string `mapstructure:"secure_networks"`
	SeedDefaultRoles bool     `mapstructure:"seed_default_roles"`
}

/*
====================================
TOKEN CONFIG
====================================
*/

// TokenConfig configures signed session-handle tokens. Disabled by default.
type TokenConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	TTL           time.Duration `mapstructure:"ttl"`
	SigningMethod string        `mapstructure:"signing_method"`
	PrivateKey    []byte        `mapstructure:"private_key"`
	PublicKey     []byte        `mapstructure:"public_key"`
	Issuer        string        `mapstructure:"issuer"`
	Audience      string        `mapstructure:"audience"`
	Leeway        time.Duration `mapstructure:"leeway"`
}

/*
====================================
AUDIT CONFIG
====================================
*/

// AuditConfig controls the asynchronous audit dispatcher.
type AuditConfig struct {
	Enabled    bool `mapstructure:"enabled"`
	BufferSize int  `mapstructure:"buffer_size"`
	DropIfFull bool `mapstructure:"drop_if_full"`
	// LogEvents routes events to the engine logger when no sink is supplied.
	LogEvents bool `mapstructure:"log_events"`
}

/*
====================================
METRICS CONFIG
====================================
*/

type MetricsConfig struct {
	Enabled                 bool `mapstructure:"enabled"`
	EnableLatencyHistograms bool `mapstructure:"enable_latency_histograms"`
}

/*
====================================
LOGGING CONFIG
====================================
*/

// LoggingConfig builds the zap logger when the Builder is not given one.
type LoggingConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

/*
====================================
BACKEND CONFIG
====================================
*/

// RedisConfig is used by the Builder to dial a session store when no client
// or store is supplied. Empty Addr means in-memory sessions.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// PostgresConfig selects the Postgres policy repository. Empty DSN means an
// in-memory repository.
type PostgresConfig struct {
	DSN          string `mapstructure:"dsn"`
	EnsureSchema bool   `mapstructure:"ensure_schema"`
}

// DefaultConfig returns the production defaults: 3 concurrent sessions, 4h
// lifetime, 30m idle timeout, UTC business hours 09:00 to 17:00 Monday to
// Friday, audit and metrics enabled, tokens disabled.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	sp := session.DefaultPolicy()
	hours := policy.DefaultBusinessHours()
	days := make([]string, 0, len(hours.Days))
	for _, d := range hours.Days {
		days = append(days, strings.ToLower(d.String()))
	}

	return Config{
		PHI: PHIConfig{
			KeyEnv:  phi.DefaultKeyEnv,
			Version: phi.DefaultVersion,
		},
		Session: SessionConfig{
			MaxConcurrent:    sp.MaxConcurrent,
			MaxLifetime:      sp.MaxLifetime,
			IdleTimeout:      sp.IdleTimeout,
			ReauthAfter:      sp.ReauthAfter,
			ExtensionCeiling: sp.ExtensionCeiling,
			RequireMFA:       sp.RequireMFA,
			LockWait:         sp.LockWait,
			RedisPrefix:      "phs",
			LockTTL:          5 * time.Second,
		},
		Policy: PolicyConfig{
			TimeZone:              "UTC",
			BusinessStartHour:     hours.StartHour,
			BusinessEndHour:       hours.EndHour,
			BusinessDays:          days,
			MaxRolesPerUser:       policy.DefaultMaxRolesPerUser,
			MaxPermissionsPerRole: policy.DefaultMaxPermissionsPerRole,
			SeedDefaultRoles:      true,
		},
		Token: TokenConfig{
			TTL:           15 * time.Minute,
			SigningMethod: string(jwt.MethodEd25519),
			Issuer:        "phiguard",
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 1024,
			DropIfFull: true,
			LogEvents:  true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Policy.BusinessDays = append([]string(nil), cfg.Policy.BusinessDays...)
	out.Policy.SecureNetworks = append([]string(nil), cfg.Policy.SecureNetworks...)
	out.Token.PrivateKey = append([]byte(nil), cfg.Token.PrivateKey...)
	out.Token.PublicKey = append([]byte(nil), cfg.Token.PublicKey...)
	return out
}

// Validate checks cross-field constraints. Key material is checked at Build.
func (c *Config) Validate() error {
	if c.PHI.Version <= 0 {
		return errors.New("phi version must be > 0")
	}
	if err := c.sessionPolicy().Validate(); err != nil {
		return err
	}
	if c.Session.LockTTL < 0 || c.Session.InactiveRetention < 0 {
		return errors.New("session LockTTL and InactiveRetention must be >= 0")
	}

	if _, err := time.LoadLocation(c.Policy.TimeZone); err != nil {
		return fmt.Errorf("policy TimeZone: %w", err)
	}
	if c.Policy.BusinessStartHour < 0 || c.Policy.BusinessEndHour > 24 ||
		c.Policy.BusinessStartHour >= c.Policy.BusinessEndHour {
		return errors.New("policy business hours must satisfy 0 <= start < end <= 24")
	}
	if _, err := parseWeekdays(c.Policy.BusinessDays); err != nil {
		return err
	}
	if c.Policy.MaxRolesPerUser <= 0 || c.Policy.MaxPermissionsPerRole <= 0 {
		return errors.New("policy fan-out limits must be > 0")
	}

	if c.Token.Enabled {
		if c.Token.TTL <= 0 {
			return errors.New("token TTL must be > 0")
		}
		switch jwt.SigningMethod(strings.ToLower(c.Token.SigningMethod)) {
		case jwt.MethodEd25519, jwt.MethodHS256:
		default:
			return errors.New("token SigningMethod must be ed25519 or hs256")
		}
	}

	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("audit BufferSize must be > 0 when audit is enabled")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging Level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
	return nil
}

func (c *Config) sessionPolicy() session.Policy {
	return session.Policy{
		MaxConcurrent:    c.Session.MaxConcurrent,
		MaxLifetime:      c.Session.MaxLifetime,
		IdleTimeout:      c.Session.IdleTimeout,
		ReauthAfter:      c.Session.ReauthAfter,
		ExtensionCeiling: c.Session.ExtensionCeiling,
		RequireMFA:       c.Session.RequireMFA,
		LockWait:         c.Session.LockWait,
	}
}

func (c *Config) businessHours() (policy.BusinessHours, error) {
	days, err := parseWeekdays(c.Policy.BusinessDays)
	if err != nil {
		return policy.BusinessHours{}, err
	}
	return policy.BusinessHours{
		StartHour: c.Policy.BusinessStartHour,
		EndHour:   c.Policy.BusinessEndHour,
		Days:      days,
	}, nil
}

var weekdays = map[string]time.Weekday{
	"sun": time.Sunday, "sunday": time.Sunday,
	"mon": time.Monday, "monday": time.Monday,
	"tue": time.Tuesday, "tuesday": time.Tuesday,
	"wed": time.Wednesday, "wednesday": time.Wednesday,
	"thu": time.Thursday, "thursday": time.Thursday,
	"fri": time.Friday, "friday": time.Friday,
	"sat": time.Saturday, "saturday": time.Saturday,
}

func parseWeekdays(names []string) ([]time.Weekday, error) {
	if len(names) == 0 {
		return nil, errors.New("policy BusinessDays must not be empty")
	}
	out := make([]time.Weekday, 0, len(names))
	for _, name := range names {
		d, ok := weekdays[strings.ToLower(strings.TrimSpace(name))]
		if !ok {
			return nil, fmt.Errorf("policy BusinessDays: unknown weekday %q", name)
		}
		out = append(out, d)
	}
	return out, nil
}

// LoadConfig reads configuration from an optional file and the environment.
// Values resolve in the order defaults, file, PHIGUARD_* variables. A missing
// file at path is an error; an empty path reads only defaults and the
// environment.
func LoadConfig(path string) (Config, error) {
	v := viper.New()
	setDefaults(v, defaultConfig())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("phiguard")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// setDefaults registers every key so AutomaticEnv can resolve it.
func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("phi.key", d.PHI.Key)
	v.SetDefault("phi.key_env", d.PHI.KeyEnv)
	v.SetDefault("phi.version", d.PHI.Version)

	v.SetDefault("session.max_concurrent", d.Session.MaxConcurrent)
	v.SetDefault("session.max_lifetime", d.Session.MaxLifetime)
	v.SetDefault("session.idle_timeout", d.Session.IdleTimeout)
	v.SetDefault("session.reauth_after", d.Session.ReauthAfter)
	v.SetDefault("session.extension_ceiling", d.Session.ExtensionCeiling)
	v.SetDefault("session.require_mfa", d.Session.RequireMFA)
	v.SetDefault("session.lock_wait", d.Session.LockWait)
	v.SetDefault("session.redis_prefix", d.Session.RedisPrefix)
	v.SetDefault("session.lock_ttl", d.Session.LockTTL)
	v.SetDefault("session.inactive_retention", d.Session.InactiveRetention)

	v.SetDefault("policy.time_zone", d.Policy.TimeZone)
	v.SetDefault("policy.business_start_hour", d.Policy.BusinessStartHour)
	v.SetDefault("policy.business_end_hour", d.Policy.BusinessEndHour)
	v.SetDefault("policy.business_days", d.Policy.BusinessDays)
	v.SetDefault("policy.max_roles_per_user", d.Policy.MaxRolesPerUser)
	v.SetDefault("policy.max_permissions_per_role", d.Policy.MaxPermissionsPerRole)
	v.SetDefault("policy.secure_networks", d.Policy.SecureNetworks)
	v.SetDefault("policy.seed_default_roles", d.Policy.SeedDefaultRoles)

	v.SetDefault("token.enabled", d.Token.Enabled)
	v.SetDefault("token.ttl", d.Token.TTL)
	v.SetDefault("token.signing_method", d.Token.SigningMethod)
	v.SetDefault("token.private_key", "")
	v.SetDefault("token.public_key", "")
	v.SetDefault("token.issuer", d.Token.Issuer)
	v.SetDefault("token.audience", d.Token.Audience)
	v.SetDefault("token.leeway", d.Token.Leeway)

	v.SetDefault("audit.enabled", d.Audit.Enabled)
	v.SetDefault("audit.buffer_size", d.Audit.BufferSize)
	v.SetDefault("audit.drop_if_full", d.Audit.DropIfFull)
	v.SetDefault("audit.log_events", d.Audit.LogEvents)

	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.enable_latency_histograms", d.Metrics.EnableLatencyHistograms)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.development", d.Logging.Development)

	v.SetDefault("redis.addr", d.Redis.Addr)
	v.SetDefault("redis.password", d.Redis.Password)
	v.SetDefault("redis.db", d.Redis.DB)

	v.SetDefault("postgres.dsn", d.Postgres.DSN)
	v.SetDefault("postgres.ensure_schema", d.Postgres.EnsureSchema)
}
