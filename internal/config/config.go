// Package config loads the collector's immutable configuration.
//
// Non-secret settings come from config/{ENV_NAME}.yaml (default dev). Credentials
// and the retention window come from the environment, after an optional .env
// file is loaded. Everything is validated before the collector starts; any
// problem is returned as a *ConfigError.
package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/kjstillabower/departure-collector/internal/models"
	"github.com/kjstillabower/departure-collector/internal/pipeline"
	"github.com/kjstillabower/departure-collector/internal/window"
)

// Status backends.
const (
	BackendInMemory  = "in_memory"
	BackendMemcached = "memcached"
)

// Config holds the collector configuration. It is built once by Load and never
// mutated afterwards.
type Config struct {
	Env        string
	ServerPort string
	LogLevel   string

	Stations  []models.Station
	Window    window.TimeWindow
	Timezone  string
	Location  *time.Location
	Interval  time.Duration
	Workers   int
	Alignment string

	ScheduleURL    string
	RealtimeURL    string
	WeatherURL     string
	FeedTimeout    time.Duration
	RateLimitRPS   float64
	RateLimitBurst int

	BreakerFailureThreshold int
	BreakerCooldown         time.Duration

	InfluxURL    string
	InfluxToken  string
	InfluxOrg    string
	InfluxBucket string
	WriteTimeout time.Duration

	DBClientID    string
	DBAPIKey      string
	WeatherAPIKey string

	StatusBackend         string
	StatusTTL             time.Duration
	MemcachedAddrs        string
	MemcachedTimeout      time.Duration
	MemcachedMaxIdleConns int

	DegradedWindow     time.Duration
	DegradedErrorPct   int
	DegradedMinSamples int

	ShutdownTimeout time.Duration
}

// StationNames returns the configured display names in table order.
func (c *Config) StationNames() []string {
	names := make([]string, len(c.Stations))
	for i, st := range c.Stations {
		names[i] = st.Name
	}
	return names
}

// envSettings are the values read from the process environment.
type envSettings struct {
	InfluxURL     string `envconfig:"INFLUXDB_URL" validate:"required,url"`
	InfluxToken   string `envconfig:"INFLUXDB_TOKEN" validate:"required"`
	InfluxOrg     string `envconfig:"INFLUXDB_ORG" validate:"required"`
	InfluxBucket  string `envconfig:"INFLUXDB_BUCKET" validate:"required"`
	DBClientID    string `envconfig:"DB_CLIENT_ID" validate:"required"`
	DBAPIKey      string `envconfig:"DB_API_KEY" validate:"required"`
	WeatherAPIKey string `envconfig:"WEATHER_API_KEY" validate:"required"`

	WindowStart string `envconfig:"WINDOW_START"`
	WindowEnd   string `envconfig:"WINDOW_END"`

	StatusBackend  string `envconfig:"STATUS_BACKEND" validate:"omitempty,oneof=in_memory memcached"`
	MemcachedAddrs string `envconfig:"MEMCACHED_ADDRS"`
	LogLevel       string `envconfig:"LOG_LEVEL" default:"INFO"`
}

type stationEntry struct {
	Name        string `yaml:"name" validate:"required"`
	FeedID      string `yaml:"feed_id" validate:"required"`
	WeatherName string `yaml:"weather_name"`
}

type fileConfig struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	Collector struct {
		Interval  string `yaml:"interval"`
		Workers   int    `yaml:"workers"`
		Timezone  string `yaml:"timezone"`
		Alignment string `yaml:"alignment"`
	} `yaml:"collector"`

	Window struct {
		Start string `yaml:"start"`
		End   string `yaml:"end"`
	} `yaml:"window"`

	Feeds struct {
		ScheduleURL    string  `yaml:"schedule_url" validate:"omitempty,url"`
		RealtimeURL    string  `yaml:"realtime_url" validate:"omitempty,url"`
		WeatherURL     string  `yaml:"weather_url" validate:"omitempty,url"`
		Timeout        string  `yaml:"timeout"`
		RateLimitRPS   float64 `yaml:"rate_limit_rps" validate:"gte=0"`
		RateLimitBurst int     `yaml:"rate_limit_burst" validate:"gte=0"`
	} `yaml:"feeds"`

	CircuitBreaker struct {
		FailureThreshold int    `yaml:"failure_threshold" validate:"gte=0"`
		Cooldown         string `yaml:"cooldown"`
	} `yaml:"circuit_breaker"`

	Store struct {
		WriteTimeout string `yaml:"write_timeout"`
	} `yaml:"store"`

	Status struct {
		Backend   string `yaml:"backend" validate:"omitempty,oneof=in_memory memcached"`
		TTL       string `yaml:"ttl"`
		Memcached struct {
			Addrs        string `yaml:"addrs"`
			Timeout      string `yaml:"timeout"`
			MaxIdleConns int    `yaml:"max_idle_conns"`
		} `yaml:"memcached"`
	} `yaml:"status"`

	Health struct {
		DegradedWindow     string `yaml:"degraded_window"`
		DegradedErrorPct   int    `yaml:"degraded_error_pct" validate:"gte=0,lte=100"`
		DegradedMinSamples int    `yaml:"degraded_min_samples" validate:"gte=0"`
	} `yaml:"health"`

	Shutdown struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"shutdown"`

	Stations []stationEntry `yaml:"stations" validate:"required,min=1,unique=Name,dive"`
}

// Load reads .env (if present), config/{ENV_NAME}.yaml relative to the working
// directory and the environment. Call from the project root.
func Load() (*Config, error) {
	_ = godotenv.Load()

	env := strings.TrimSpace(os.Getenv("ENV_NAME"))
	if env == "" {
		env = "dev"
	}
	cwd, err := os.Getwd()
	if err != nil {
		return nil, &ConfigError{Type: ErrFileNotFound, Message: "get working directory", Err: err}
	}
	cfg, err := LoadFile(filepath.Join(cwd, "config", env+".yaml"))
	if err != nil {
		return nil, err
	}
	cfg.Env = env
	return cfg, nil
}

// LoadFile builds the configuration from one yaml file plus the environment.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, &ConfigError{Type: ErrFileNotFound, Message: "config file not found: " + path, Err: err}
		}
		return nil, &ConfigError{Type: ErrFileNotFound, Message: "read config file", Err: err}
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, &ConfigError{Type: ErrParsing, Message: "parse config file " + path, Err: err}
	}

	var es envSettings
	if err := envconfig.Process("", &es); err != nil {
		return nil, &ConfigError{Type: ErrParsing, Message: "failed to process environment configuration", Err: err}
	}

	validate := newValidator()
	if err := validate.Struct(es); err != nil {
		return nil, validationError("environment", err)
	}
	if err := validate.Struct(fc); err != nil {
		return nil, validationError("config file", err)
	}

	return build(fc, es)
}

func build(fc fileConfig, es envSettings) (*Config, error) {
	cfg := &Config{
		LogLevel:      es.LogLevel,
		InfluxURL:     es.InfluxURL,
		InfluxToken:   es.InfluxToken,
		InfluxOrg:     es.InfluxOrg,
		InfluxBucket:  es.InfluxBucket,
		DBClientID:    es.DBClientID,
		DBAPIKey:      es.DBAPIKey,
		WeatherAPIKey: es.WeatherAPIKey,
	}

	start, end := firstNonEmpty(es.WindowStart, fc.Window.Start), firstNonEmpty(es.WindowEnd, fc.Window.End)
	w, err := window.Parse(start, end)
	if err != nil {
		return nil, &ConfigError{Type: ErrInvalidWindow, Message: "WINDOW_START/WINDOW_END", Err: err}
	}
	cfg.Window = w

	cfg.Timezone = firstNonEmpty(fc.Collector.Timezone, "Europe/Berlin")
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, &ConfigError{Type: ErrValidation, Message: "collector.timezone", Err: err}
	}
	cfg.Location = loc

	cfg.Alignment = firstNonEmpty(strings.ToLower(strings.TrimSpace(fc.Collector.Alignment)), pipeline.StrategyPositional)
	if _, err := pipeline.NewAligner(cfg.Alignment); err != nil {
		return nil, &ConfigError{Type: ErrValidation, Message: "collector.alignment", Err: err}
	}

	for _, s := range fc.Stations {
		cfg.Stations = append(cfg.Stations, models.Station{
			Name:        strings.TrimSpace(s.Name),
			FeedID:      strings.TrimSpace(s.FeedID),
			WeatherName: strings.TrimSpace(s.WeatherName),
		})
	}

	cfg.ServerPort = firstNonEmpty(fc.Server.Port, "8080")
	cfg.Interval = parseDuration(fc.Collector.Interval, 10*time.Minute)
	cfg.Workers = positiveOr(fc.Collector.Workers, 4)

	cfg.ScheduleURL = firstNonEmpty(fc.Feeds.ScheduleURL, "https://api.deutschebahn.com/timetables/v1/arrivalBoard")
	cfg.RealtimeURL = firstNonEmpty(fc.Feeds.RealtimeURL, "https://api.deutschebahn.com/ris/v1/arrivalBoard")
	cfg.WeatherURL = firstNonEmpty(fc.Feeds.WeatherURL, "http://api.weatherapi.com/v1/current.json")
	cfg.FeedTimeout = parseDuration(fc.Feeds.Timeout, 15*time.Second)
	cfg.RateLimitRPS = fc.Feeds.RateLimitRPS
	if cfg.RateLimitRPS <= 0 {
		cfg.RateLimitRPS = 2
	}
	cfg.RateLimitBurst = positiveOr(fc.Feeds.RateLimitBurst, 4)

	cfg.BreakerFailureThreshold = positiveOr(fc.CircuitBreaker.FailureThreshold, 5)
	cfg.BreakerCooldown = parseDuration(fc.CircuitBreaker.Cooldown, 5*time.Minute)

	cfg.WriteTimeout = parseDuration(fc.Store.WriteTimeout, 10*time.Second)

	cfg.StatusBackend = firstNonEmpty(
		strings.ToLower(strings.TrimSpace(es.StatusBackend)),
		strings.ToLower(strings.TrimSpace(fc.Status.Backend)),
		BackendInMemory,
	)
	cfg.StatusTTL = parseDuration(fc.Status.TTL, 3*cfg.Interval)
	cfg.MemcachedAddrs = firstNonEmpty(strings.TrimSpace(es.MemcachedAddrs), strings.TrimSpace(fc.Status.Memcached.Addrs), "localhost:11211")
	cfg.MemcachedTimeout = parseDuration(fc.Status.Memcached.Timeout, 500*time.Millisecond)
	cfg.MemcachedMaxIdleConns = positiveOr(fc.Status.Memcached.MaxIdleConns, 2)

	cfg.DegradedWindow = parseDuration(fc.Health.DegradedWindow, 30*time.Minute)
	cfg.DegradedErrorPct = positiveOr(fc.Health.DegradedErrorPct, 50)
	cfg.DegradedMinSamples = positiveOr(fc.Health.DegradedMinSamples, 10)

	cfg.ShutdownTimeout = parseDuration(fc.Shutdown.Timeout, 30*time.Second)
	return cfg, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func positiveOr(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// parseDuration parses a duration string and returns def if it is empty,
// unparsable or not positive.
func parseDuration(s string, def time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
