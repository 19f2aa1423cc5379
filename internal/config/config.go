package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the service.
type Config struct {
	App           AppConfig
	Postgres      PostgresConfig
	Redis         RedisConfig
	Logger        LoggerConfig
	Auth          AuthConfig
	Notification  NotificationConfig
	SLA           SLAConfig
	BusinessHours BusinessHoursConfig
	Legacy        LegacyConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
	RequestTimeoutSeconds int
}

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN            string
	MaxConns       int32
	MinConns       int32
	RunMigrations  bool
	MigrationsDir  string
	ConnMaxIdleSec int32
	ConnMaxLifeSec int32
}

// RedisConfig holds Redis connection values.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string
}

// AuthConfig defines bearer token verification parameters.
type AuthConfig struct {
	JWTSecret string
	Issuer    string
}

// NotificationConfig configures the escalation sink.
type NotificationConfig struct {
	WebhookURL     string
	TimeoutSeconds int
	MaxRetries     int
	QueueSize      int
}

// SLAConfig tunes the timer engine and its evaluation tick.
type SLAConfig struct {
	WarningThresholdMinutes int
	EvaluationSchedule      string
	ConfigCacheTTLSeconds   int
	SweepBatchSize          int
	SweepLockTTLSeconds     int
	SweepClosedLagSeconds   int
}

// BusinessHoursConfig describes the business calendar used by business-hours-only SLAs.
type BusinessHoursConfig struct {
	Enabled   bool
	Timezone  string
	StartHour int
	EndHour   int
	Workdays  []time.Weekday
	Holidays  []time.Time
}

// LegacyConfig points at the legacy MySQL database used by the import tool.
type LegacyConfig struct {
	MySQLDSN string
}

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	workdays, err := parseWorkdays(getEnv("BUSINESS_HOURS_WORKDAYS", "Mon,Tue,Wed,Thu,Fri"))
	if err != nil {
		return nil, err
	}
	holidays, err := parseHolidays(os.Getenv("BUSINESS_HOURS_HOLIDAYS"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "itsm-sla"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8080"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
		},
		Postgres: PostgresConfig{
			DSN:            os.Getenv("POSTGRES_DSN"),
			MaxConns:       int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10)),
			MinConns:       int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2)),
			RunMigrations:  getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true),
			MigrationsDir:  getEnv("POSTGRES_MIGRATIONS_DIR", "migrations"),
			ConnMaxIdleSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30)),
			ConnMaxLifeSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300)),
		},
		Redis: RedisConfig{
			Addr:     os.Getenv("REDIS_ADDR"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
		},
		Logger: LoggerConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("AUTH_JWT_SECRET", "dev-secret"),
			Issuer:    os.Getenv("AUTH_JWT_ISSUER"),
		},
		Notification: NotificationConfig{
			WebhookURL:     os.Getenv("NOTIFY_WEBHOOK_URL"),
			TimeoutSeconds: getEnvAsInt("NOTIFY_TIMEOUT_SECONDS", 5),
			MaxRetries:     getEnvAsInt("NOTIFY_MAX_RETRIES", 5),
			QueueSize:      getEnvAsInt("NOTIFY_QUEUE_SIZE", 256),
		},
		SLA: SLAConfig{
			WarningThresholdMinutes: getEnvAsInt("SLA_WARNING_THRESHOLD_MINUTES", 30),
			EvaluationSchedule:      getEnv("SLA_EVALUATION_SCHEDULE", "@every 60s"),
			ConfigCacheTTLSeconds:   getEnvAsInt("SLA_CONFIG_CACHE_TTL_SECONDS", 30),
			SweepBatchSize:          getEnvAsInt("SLA_SWEEP_BATCH_SIZE", 500),
			SweepLockTTLSeconds:     getEnvAsInt("SLA_SWEEP_LOCK_TTL_SECONDS", 50),
			SweepClosedLagSeconds:   getEnvAsInt("SLA_SWEEP_CLOSED_LAG_SECONDS", 120),
		},
		BusinessHours: BusinessHoursConfig{
			Enabled:   getEnvAsBool("BUSINESS_HOURS_ENABLED", false),
			Timezone:  getEnv("BUSINESS_HOURS_TIMEZONE", "UTC"),
			StartHour: getEnvAsInt("BUSINESS_HOURS_START", 9),
			EndHour:   getEnvAsInt("BUSINESS_HOURS_END", 17),
			Workdays:  workdays,
			Holidays:  holidays,
		},
		Legacy: LegacyConfig{
			MySQLDSN: os.Getenv("LEGACY_MYSQL_DSN"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.SLA.WarningThresholdMinutes <= 0 {
		errs = append(errs, errors.New("SLA_WARNING_THRESHOLD_MINUTES must be positive"))
	}
	if strings.TrimSpace(c.SLA.EvaluationSchedule) == "" {
		errs = append(errs, errors.New("SLA_EVALUATION_SCHEDULE must not be empty"))
	}
	bh := c.BusinessHours
	if bh.Enabled {
		if bh.StartHour < 0 || bh.EndHour > 24 || bh.StartHour >= bh.EndHour {
			errs = append(errs, fmt.Errorf("invalid business hours %d-%d", bh.StartHour, bh.EndHour))
		}
		if len(bh.Workdays) == 0 {
			errs = append(errs, errors.New("BUSINESS_HOURS_WORKDAYS must list at least one day"))
		}
		if _, err := time.LoadLocation(bh.Timezone); err != nil {
			errs = append(errs, fmt.Errorf("invalid BUSINESS_HOURS_TIMEZONE: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

// WarningThreshold returns the warning window as a duration.
func (s SLAConfig) WarningThreshold() time.Duration {
	return time.Duration(s.WarningThresholdMinutes) * time.Minute
}

// ConfigCacheTTL returns how long SLA configuration lookups may be served from cache.
func (s SLAConfig) ConfigCacheTTL() time.Duration {
	return time.Duration(s.ConfigCacheTTLSeconds) * time.Second
}

// SweepLockTTL bounds how long a single instance holds the sweeper lock.
func (s SLAConfig) SweepLockTTL() time.Duration {
	return time.Duration(s.SweepLockTTLSeconds) * time.Second
}

// SweepClosedLag is how far behind the last seen closure the sweeper rereads closed tickets,
// so closures committed late with an earlier closed_at are still picked up.
func (s SLAConfig) SweepClosedLag() time.Duration {
	return time.Duration(s.SweepClosedLagSeconds) * time.Second
}

// Timeout returns the per-attempt webhook timeout.
func (n NotificationConfig) Timeout() time.Duration {
	return time.Duration(n.TimeoutSeconds) * time.Second
}

var weekdayNames = map[string]time.Weekday{
	"sun": time.Sunday,
	"mon": time.Monday,
	"tue": time.Tuesday,
	"wed": time.Wednesday,
	"thu": time.Thursday,
	"fri": time.Friday,
	"sat": time.Saturday,
}

func parseWorkdays(val string) ([]time.Weekday, error) {
	var days []time.Weekday
	for _, part := range strings.Split(val, ",") {
		name := strings.ToLower(strings.TrimSpace(part))
		if name == "" {
			continue
		}
		if len(name) > 3 {
			name = name[:3]
		}
		day, ok := weekdayNames[name]
		if !ok {
			return nil, fmt.Errorf("invalid BUSINESS_HOURS_WORKDAYS entry %q", part)
		}
		days = append(days, day)
	}
	return days, nil
}

func parseHolidays(val string) ([]time.Time, error) {
	var holidays []time.Time
	for _, part := range strings.Split(val, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		day, err := time.Parse("2006-01-02", part)
		if err != nil {
			return nil, fmt.Errorf("invalid BUSINESS_HOURS_HOLIDAYS entry %q: %w", part, err)
		}
		holidays = append(holidays, day)
	}
	return holidays, nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}
