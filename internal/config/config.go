// Package config loads the ranking engine settings from the environment,
// optionally seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/courserank/ranking-engine/internal/award"
)

// Config is the full runtime configuration.
type Config struct {
	Port     string         `mapstructure:"port"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Ranking  RankingConfig  `mapstructure:"ranking"`
	Refresh  RefreshConfig  `mapstructure:"refresh"`

	// Points maps "default" and each activity type to a decimal string.
	Points map[string]string `mapstructure:"points"`
	Grade  GradeConfig       `mapstructure:"grade"`

	MultipleQuizAttempts    bool   `mapstructure:"multiple_quiz_attempts"`
	EnforceUniqueCompletion bool   `mapstructure:"enforce_unique_completion"`
	WeekStartDay            int    `mapstructure:"week_start_day"`
	Timezone                string `mapstructure:"timezone"`
}

// DatabaseConfig points at PostgreSQL. An empty URL selects the in-memory store.
type DatabaseConfig struct {
	URL string `mapstructure:"url"`
}

// RedisConfig points at Redis. An empty URL selects the in-process cache.
type RedisConfig struct {
	URL string `mapstructure:"url"`
}

type CacheConfig struct {
	TTL time.Duration `mapstructure:"ttl"`
}

type RankingConfig struct {
	Size int `mapstructure:"size"`
}

// RefreshConfig drives the in-process snapshot refresh. Interval 0 leaves
// refreshing to an external scheduler.
type RefreshConfig struct {
	Interval    time.Duration `mapstructure:"interval"`
	Concurrency int           `mapstructure:"concurrency"`
}

type GradeConfig struct {
	Multiplier string `mapstructure:"multiplier"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", "8080")
	v.SetDefault("database.url", "")
	v.SetDefault("redis.url", "")
	v.SetDefault("cache.ttl", 5*time.Minute)
	v.SetDefault("ranking.size", 10)
	v.SetDefault("refresh.interval", time.Duration(0))
	v.SetDefault("refresh.concurrency", 4)

	v.SetDefault("points.default", "2")
	for _, t := range award.ActivityTypes {
		v.SetDefault("points."+t, "2")
	}
	v.SetDefault("grade.multiplier", "1")

	v.SetDefault("multiple_quiz_attempts", true)
	v.SetDefault("enforce_unique_completion", false)
	v.SetDefault("week_start_day", 1)
	v.SetDefault("timezone", "UTC")
}

// Load reads an optional .env file ($ENV_FILE, else ./.env), then the
// environment. Nested keys map to upper-case env names with "_" for ".",
// so cache.ttl is CACHE_TTL.
func Load() (*Config, error) {
	envFile := os.Getenv("ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("config: load %s: %w", envFile, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("config: stat %s: %w", envFile, err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the values Load cannot type-check.
func (c *Config) Validate() error {
	var errs []error
	if c.Ranking.Size <= 0 {
		errs = append(errs, errors.New("RANKING_SIZE must be positive"))
	}
	if c.Refresh.Concurrency <= 0 {
		errs = append(errs, errors.New("REFRESH_CONCURRENCY must be positive"))
	}
	if c.Refresh.Interval < 0 {
		errs = append(errs, errors.New("REFRESH_INTERVAL must not be negative"))
	}
	if c.WeekStartDay < 0 || c.WeekStartDay > 6 {
		errs = append(errs, errors.New("WEEK_START_DAY must be 0 (Sunday) to 6"))
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("TIMEZONE: %w", err))
	}
	if _, err := c.Policy(); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// Policy builds the award policy from the point settings.
func (c *Config) Policy() (award.Policy, error) {
	p := award.Policy{BasePoints: make(map[string]decimal.Decimal, len(c.Points))}

	mult, err := decimal.NewFromString(c.Grade.Multiplier)
	if err != nil {
		return p, fmt.Errorf("GRADE_MULTIPLIER %q: %w", c.Grade.Multiplier, err)
	}
	if mult.IsNegative() {
		return p, fmt.Errorf("GRADE_MULTIPLIER %q must not be negative", c.Grade.Multiplier)
	}
	p.Multiplier = mult

	for name, raw := range c.Points {
		val, err := decimal.NewFromString(raw)
		if err != nil {
			return p, fmt.Errorf("POINTS_%s %q: %w", strings.ToUpper(name), raw, err)
		}
		if val.IsNegative() {
			return p, fmt.Errorf("POINTS_%s %q must not be negative", strings.ToUpper(name), raw)
		}
		if name == "default" {
			p.DefaultPoints = val
			continue
		}
		p.BasePoints[name] = val
	}
	return p, nil
}

// Location returns the configured time zone, UTC if it does not load.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// WeekStart returns the first day of the ranking week.
func (c *Config) WeekStart() time.Weekday {
	return time.Weekday(c.WeekStartDay)
}
