package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"github.com/i474232898/weather-ingest/internal/entities"
	"github.com/i474232898/weather-ingest/internal/scheduler"
	"github.com/i474232898/weather-ingest/internal/tinybird"
	"github.com/i474232898/weather-ingest/internal/weather/providers"
)

const (
	ModeIngest = "ingest"
	ModeBulk   = "bulk"
)

var (
	ErrMissingUpstreamToken   = errors.New("OPENWEATHERMAP_TOKEN is not set")
	ErrMissingDownstreamToken = errors.New("TINYBIRD_TOKEN is not set")
)

var validate = validator.New()

// Credentials holds the two bearer tokens. They are loaded once and never logged.
type Credentials struct {
	Upstream   string
	Downstream string
}

// String redacts both tokens.
func (c Credentials) String() string {
	return fmt.Sprintf("Credentials{Upstream:%s Downstream:%s}", redact(c.Upstream), redact(c.Downstream))
}

// GoString redacts both tokens for %#v.
func (c Credentials) GoString() string {
	return c.String()
}

func redact(s string) string {
	if s == "" {
		return "<unset>"
	}
	return "<redacted>"
}

type AppConfig struct {
	Mode string `validate:"oneof=ingest bulk"`

	Credentials Credentials

	// Entities to poll, in order. Only loaded in ingest mode.
	Entities     []string
	EntitiesFile string

	UpstreamURL        string `validate:"required,url"`
	UpstreamUnits      string `validate:"oneof=imperial metric standard"`
	UpstreamMaxRetries int    `validate:"gte=0,lte=10"`
	DownstreamURL      string `validate:"required,url"`

	// FetchInterval is the pause after each full pass over Entities.
	FetchInterval time.Duration `validate:"gte=0"`
	// RequestDelay is the minimum spacing between entity fetches.
	RequestDelay time.Duration `validate:"gte=0"`
	MaxInFlight  int           `validate:"gte=1"`
	HTTPTimeout  time.Duration `validate:"gt=0"`
	Location     *time.Location

	BulkURL               string `validate:"required,url"`
	BulkQuery             url.Values
	BulkRequestsPerMinute int `validate:"gte=1"`
	BulkQueueSize         int `validate:"gte=0"`

	// In-memory record retention for the status API.
	StoreMaxHistory int           `validate:"gte=0"`
	StoreMaxAge     time.Duration `validate:"gte=0"`

	Port      string `validate:"required,numeric"`
	LogLevel  string `validate:"oneof=debug info warn error"`
	LogFormat string `validate:"oneof=json console"`
	ZipkinURL string `validate:"omitempty,url"`
}

// Load reads configuration from the environment with sensible defaults.
// Tokens come from the secrets file when present, otherwise from the environment.
func Load() (*AppConfig, error) {
	cfg := &AppConfig{}
	var err error

	cfg.Mode = getenvDefault("RUN_MODE", ModeIngest)

	secrets, err := loadSecrets(getenvDefault("SECRETS_FILE", "config/.env"))
	if err != nil {
		return nil, err
	}
	cfg.Credentials = Credentials{
		Upstream:   secretOrEnv(secrets, "OPENWEATHERMAP_TOKEN"),
		Downstream: secretOrEnv(secrets, "TINYBIRD_TOKEN"),
	}

	cfg.UpstreamURL = getenvDefault("UPSTREAM_URL", providers.DefaultOpenWeatherURL)
	cfg.UpstreamUnits = getenvDefault("UPSTREAM_UNITS", providers.DefaultUnits)
	if cfg.UpstreamMaxRetries, err = getenvInt("UPSTREAM_MAX_RETRIES", 0); err != nil {
		return nil, err
	}
	cfg.DownstreamURL = getenvDefault("DOWNSTREAM_URL", tinybird.DefaultEventsURL)

	if cfg.FetchInterval, err = getenvDuration("FETCH_INTERVAL", "5m"); err != nil {
		return nil, err
	}
	if cfg.RequestDelay, err = getenvDuration("REQUEST_DELAY", "1s"); err != nil {
		return nil, err
	}
	if cfg.HTTPTimeout, err = getenvDuration("HTTP_TIMEOUT", "10s"); err != nil {
		return nil, err
	}

	defaultInFlight := 1
	if cfg.Mode == ModeBulk {
		defaultInFlight = scheduler.DefaultWorkers
	}
	if cfg.MaxInFlight, err = getenvInt("MAX_IN_FLIGHT", defaultInFlight); err != nil {
		return nil, err
	}

	tz := getenvDefault("TIMEZONE", "Local")
	if cfg.Location, err = time.LoadLocation(tz); err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE: %w", err)
	}

	cfg.BulkURL = getenvDefault("BULK_URL", tinybird.DefaultPipeURL)
	if cfg.BulkQuery, err = url.ParseQuery(getenvDefault("BULK_QUERY", "sensor_type=all&max_results=10")); err != nil {
		return nil, fmt.Errorf("invalid BULK_QUERY: %w", err)
	}
	if cfg.BulkRequestsPerMinute, err = getenvInt("BULK_REQUESTS_PER_MINUTE", scheduler.DefaultRequestsPerMinute); err != nil {
		return nil, err
	}
	if cfg.BulkQueueSize, err = getenvInt("BULK_QUEUE_SIZE", scheduler.DefaultQueueSize); err != nil {
		return nil, err
	}

	// Store retention: roughly 8h of history at the default 5-minute interval.
	if cfg.StoreMaxHistory, err = getenvInt("STORE_MAX_HISTORY", 96); err != nil {
		return nil, err
	}
	if cfg.StoreMaxAge, err = getenvDuration("STORE_MAX_AGE", "24h"); err != nil {
		return nil, err
	}

	cfg.Port = getenvDefault("PORT", "8080")
	cfg.LogLevel = getenvDefault("LOG_LEVEL", "info")
	cfg.LogFormat = getenvDefault("LOG_FORMAT", "json")
	cfg.ZipkinURL = os.Getenv("ZIPKIN_URL")

	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if err := cfg.checkCredentials(); err != nil {
		return nil, err
	}

	if cfg.Mode == ModeIngest {
		cfg.EntitiesFile = getenvDefault("ENTITIES_FILE", "config/cities.csv")
		if cfg.Entities, err = entities.Load(cfg.EntitiesFile); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

func (c *AppConfig) checkCredentials() error {
	if c.Credentials.Downstream == "" {
		return ErrMissingDownstreamToken
	}
	if c.Mode == ModeIngest && c.Credentials.Upstream == "" {
		return ErrMissingUpstreamToken
	}
	return nil
}

// loadSecrets reads the secrets file. A missing file is not an error; the
// tokens may then come from the process environment.
func loadSecrets(path string) (map[string]string, error) {
	secrets, err := godotenv.Read(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("read secrets file %s: %w", path, err)
	}
	return secrets, nil
}

func secretOrEnv(secrets map[string]string, key string) string {
	if v := secrets[key]; v != "" {
		return v
	}
	return os.Getenv(key)
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getenvDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(getenvDefault(key, def))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
