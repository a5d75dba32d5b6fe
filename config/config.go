package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Config holds everything the server and the CLI need.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"   yaml:"server"`
	Backend  BackendConfig  `mapstructure:"backend"  yaml:"backend"`
	Redis    RedisConfig    `mapstructure:"redis"    yaml:"redis"`
	Draft    DraftConfig    `mapstructure:"draft"    yaml:"draft"`
	Plans    PlansConfig    `mapstructure:"plans"    yaml:"plans"`
	Bonus    BonusConfig    `mapstructure:"bonus"    yaml:"bonus"`
	Limits   LimitsConfig   `mapstructure:"limits"   yaml:"limits"`
	Logging  LoggingConfig  `mapstructure:"logging"  yaml:"logging"`
	Schedule ScheduleConfig `mapstructure:"schedule" yaml:"schedule"`
}

type ServerConfig struct {
	Addr           string        `mapstructure:"addr"            yaml:"addr"`
	CORSOrigins    []string      `mapstructure:"cors_origins"    yaml:"cors_origins"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	SessionIdle    time.Duration `mapstructure:"session_idle"    yaml:"session_idle"`
}

// BackendConfig points at the financing backend. With Offline set the
// in-memory repository replaces it.
type BackendConfig struct {
	BaseURL       string        `mapstructure:"base_url"       yaml:"base_url"`
	Timeout       time.Duration `mapstructure:"timeout"        yaml:"timeout"`
	LoginURL      string        `mapstructure:"login_url"      yaml:"login_url"`
	CSRFPagePath  string        `mapstructure:"csrf_page_path" yaml:"csrf_page_path"`
	RefreshLeeway time.Duration `mapstructure:"refresh_leeway" yaml:"refresh_leeway"`
	Offline       bool          `mapstructure:"offline"        yaml:"offline"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"     yaml:"addr"`
	Password string `mapstructure:"password" yaml:"password"`
	DB       int    `mapstructure:"db"       yaml:"db"`
	Prefix   string `mapstructure:"prefix"   yaml:"prefix"`
}

type DraftConfig struct {
	Freshness time.Duration `mapstructure:"freshness" yaml:"freshness"`
	TTL       time.Duration `mapstructure:"ttl"       yaml:"ttl"`
}

// PlansConfig maps down-payment percentages to backend financing plan ids.
type PlansConfig struct {
	// Keys are percentages as strings ("35") so env and YAML decode the same.
	ByDownPayment    map[string]int `mapstructure:"by_down_payment"   yaml:"by_down_payment"`
	Default          int            `mapstructure:"default"           yaml:"default"`
	AccumulationPlan int            `mapstructure:"accumulation_plan" yaml:"accumulation_plan"`
}

type BonusConfig struct {
	PointsEarly           int `mapstructure:"points_early"             yaml:"points_early"`
	PointsOnTime          int `mapstructure:"points_on_time"           yaml:"points_on_time"`
	PointsLate            int `mapstructure:"points_late"              yaml:"points_late"`
	PointsPerReducedMonth int `mapstructure:"points_per_reduced_month" yaml:"points_per_reduced_month"`
	MaxReducedMonths      int `mapstructure:"max_reduced_months"       yaml:"max_reduced_months"`
}

type LimitsConfig struct {
	RequestsPerWindow int           `mapstructure:"requests_per_window" yaml:"requests_per_window"`
	Window            time.Duration `mapstructure:"window"              yaml:"window"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"  yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"` // text | json
}

type ScheduleConfig struct {
	// ConfigRefresh is a cron spec; empty disables the refresh.
	ConfigRefresh string `mapstructure:"config_refresh" yaml:"config_refresh"`
}

// Load reads .env, then config.yaml from ./config or the working directory,
// then FINANCING_* environment variables, e.g. FINANCING_BACKEND_BASE_URL.
func Load() (*Config, error) {
	return load("")
}

// LoadFromFile reads configuration from a specific file path.
func LoadFromFile(path string) (*Config, error) {
	return load(path)
}

func load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		logrus.Debug("Archivo .env no encontrado")
	}

	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}
	v.SetEnvPrefix("FINANCING")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error leyendo configuración: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error interpretando configuración: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.cors_origins", []string{"http://localhost:3000"})
	v.SetDefault("server.request_timeout", 30*time.Second)
	v.SetDefault("server.session_idle", 2*time.Hour)

	v.SetDefault("backend.base_url", "http://localhost:8000")
	v.SetDefault("backend.timeout", 15*time.Second)
	v.SetDefault("backend.login_url", "/login.html")
	v.SetDefault("backend.csrf_page_path", "/solicitud-financiamiento.html")
	v.SetDefault("backend.refresh_leeway", 30*time.Second)
	v.SetDefault("backend.offline", false)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "financing:")

	v.SetDefault("draft.freshness", time.Hour)
	v.SetDefault("draft.ttl", 24*time.Hour)

	v.SetDefault("plans.by_down_payment", map[string]int{"35": 5, "45": 6, "55": 7, "60": 8})
	v.SetDefault("plans.default", 5)
	v.SetDefault("plans.accumulation_plan", 1)

	v.SetDefault("bonus.points_early", 15)
	v.SetDefault("bonus.points_on_time", 10)
	v.SetDefault("bonus.points_late", 0)
	v.SetDefault("bonus.points_per_reduced_month", 60)
	v.SetDefault("bonus.max_reduced_months", 6)

	v.SetDefault("limits.requests_per_window", 30)
	v.SetDefault("limits.window", time.Minute)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	v.SetDefault("schedule.config_refresh", "@every 30m")
}

// Validate rejects values the server cannot start with.
func (c *Config) Validate() error {
	if !c.Backend.Offline {
		u, err := url.Parse(c.Backend.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("backend.base_url inválida: %q", c.Backend.BaseURL)
		}
	}
	if c.Draft.Freshness <= 0 {
		return errors.New("draft.freshness debe ser mayor a 0")
	}
	if c.Limits.RequestsPerWindow <= 0 || c.Limits.Window <= 0 {
		return errors.New("limits: requests_per_window y window deben ser mayores a 0")
	}
	if c.Bonus.PointsPerReducedMonth <= 0 {
		return errors.New("bonus.points_per_reduced_month debe ser mayor a 0")
	}
	if _, err := logrus.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level inválido: %w", err)
	}
	return nil
}

// NewLogger builds the logrus logger described by the logging section.
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	if level, err := logrus.ParseLevel(c.Logging.Level); err == nil {
		logger.SetLevel(level)
	}
	if c.Logging.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	return logger
}
