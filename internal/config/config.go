package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config contains all runtime settings for the profile switch service.
type Config struct {
	BindAddr         string        `env:"APP_BIND_ADDR"         envDefault:":8080"`
	ShutdownTimeout  time.Duration `env:"APP_SHUTDOWN_TIMEOUT"  envDefault:"15s"`
	MetricsNamespace string        `env:"APP_METRICS_NAMESPACE" envDefault:"profileswitch"`
	AllowAnyOrigin   bool          `env:"APP_ALLOW_ANY_ORIGIN"  envDefault:"false"`

	LogLevel  string `env:"LOG_LEVEL"  envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	StorageBackend string `env:"STORAGE_BACKEND" envDefault:"auto"`
	DatabaseURL    string `env:"DATABASE_URL"`
	SQLitePath     string `env:"SQLITE_PATH"`

	// StorePoolSize 0 means auto (half the CPUs, at least 2).
	StorePoolSize       int           `env:"STORE_POOL_SIZE"        envDefault:"0"`
	StoreAcquireWait    time.Duration `env:"STORE_ACQUIRE_WAIT"     envDefault:"50ms"`
	StoreCacheTTL       time.Duration `env:"STORE_CACHE_TTL"        envDefault:"5m"`
	StoreSweepInterval  time.Duration `env:"STORE_SWEEP_INTERVAL"   envDefault:"5m"`
	StoreMaxAttempts    int           `env:"STORE_MAX_ATTEMPTS"     envDefault:"3"`
	StoreRetryBaseDelay time.Duration `env:"STORE_RETRY_BASE_DELAY" envDefault:"200ms"`
	StoreFlushInterval  time.Duration `env:"STORE_FLUSH_INTERVAL"   envDefault:"5s"`

	SwitchWarmupTicks    int           `env:"SWITCH_WARMUP_TICKS"     envDefault:"5"`
	SwitchTickInterval   time.Duration `env:"SWITCH_TICK_INTERVAL"    envDefault:"1s"`
	SwitchCancelOnMove   bool          `env:"SWITCH_CANCEL_ON_MOVE"   envDefault:"true"`
	SwitchCancelOnDamage bool          `env:"SWITCH_CANCEL_ON_DAMAGE" envDefault:"true"`
	SwitchCancelInCombat bool          `env:"SWITCH_CANCEL_IN_COMBAT" envDefault:"true"`
	// SwitchWorkers 0 means one commit worker per CPU.
	SwitchWorkers int `env:"SWITCH_WORKERS" envDefault:"0"`

	CombatTagDuration time.Duration `env:"COMBAT_TAG_DURATION" envDefault:"10s"`
	CombatSweepEvery  time.Duration `env:"COMBAT_SWEEP_INTERVAL" envDefault:"1s"`

	DefaultProfileName string   `env:"PROFILES_DEFAULT_NAME"    envDefault:"default"`
	MaxNameLength      int      `env:"PROFILES_MAX_NAME_LENGTH" envDefault:"16"`
	MaxProfiles        int      `env:"PROFILES_MAX_PROFILES"    envDefault:"1"`
	Admins             []string `env:"PROFILES_ADMINS"          envSeparator:","`
	PolicyFile         string   `env:"PROFILES_POLICY_FILE"`

	HostExecutorBuffer int `env:"HOST_EXECUTOR_BUFFER" envDefault:"64"`
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	c.BindAddr = strings.TrimSpace(c.BindAddr)
	c.StorageBackend = strings.ToLower(strings.TrimSpace(c.StorageBackend))
	c.DatabaseURL = strings.TrimSpace(c.DatabaseURL)
	c.SQLitePath = strings.TrimSpace(c.SQLitePath)
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	c.LogFormat = strings.ToLower(strings.TrimSpace(c.LogFormat))
	c.PolicyFile = strings.TrimSpace(c.PolicyFile)
	admins := c.Admins[:0]
	for _, id := range c.Admins {
		if id = strings.TrimSpace(id); id != "" {
			admins = append(admins, id)
		}
	}
	c.Admins = admins
}

func (c Config) Validate() error {
	var errs []error
	if c.BindAddr == "" {
		errs = append(errs, errors.New("APP_BIND_ADDR must not be empty"))
	}
	switch c.StorageBackend {
	case "auto", "memory", "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("STORAGE_BACKEND %q must be auto, memory, sqlite or postgres", c.StorageBackend))
	}
	if c.StorageBackend == "postgres" && c.DatabaseURL == "" {
		errs = append(errs, errors.New("DATABASE_URL is required for the postgres backend"))
	}
	if c.StorageBackend == "sqlite" && c.SQLitePath == "" {
		errs = append(errs, errors.New("SQLITE_PATH is required for the sqlite backend"))
	}
	if c.StorePoolSize < 0 {
		errs = append(errs, errors.New("STORE_POOL_SIZE must not be negative"))
	}
	if c.StoreMaxAttempts < 1 {
		errs = append(errs, errors.New("STORE_MAX_ATTEMPTS must be at least 1"))
	}
	if c.SwitchWarmupTicks < 0 {
		errs = append(errs, errors.New("SWITCH_WARMUP_TICKS must not be negative"))
	}
	if c.SwitchTickInterval <= 0 {
		errs = append(errs, errors.New("SWITCH_TICK_INTERVAL must be positive"))
	}
	if c.CombatTagDuration <= 0 {
		errs = append(errs, errors.New("COMBAT_TAG_DURATION must be positive"))
	}
	if c.MaxNameLength < 1 {
		errs = append(errs, errors.New("PROFILES_MAX_NAME_LENGTH must be at least 1"))
	}
	if c.MaxProfiles == 0 || c.MaxProfiles < -1 {
		errs = append(errs, errors.New("PROFILES_MAX_PROFILES must be positive or -1 for unlimited"))
	}
	if strings.TrimSpace(c.DefaultProfileName) == "" {
		errs = append(errs, errors.New("PROFILES_DEFAULT_NAME must not be empty"))
	}
	switch c.LogFormat {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("LOG_FORMAT %q must be json or console", c.LogFormat))
	}
	return errors.Join(errs...)
}
