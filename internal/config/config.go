package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"

	"github.com/i474232898/weather-history-collector/internal/weather"
	"github.com/i474232898/weather-history-collector/internal/weather/providers"
)

// DefaultCityTargets is used when CITY_TARGETS is unset.
const DefaultCityTargets = "Vienna|station=11035|lat=48.2486|lon=16.3564|country=AT;" +
	"Berlin|station=10382|lat=52.5644|lon=13.3088|country=DE;" +
	"Paris|station=07156|lat=48.8217|lon=2.3378|country=FR"

type AppConfig struct {
	Provider             string `env:"WEATHER_PROVIDER,default=meteostat" validate:"oneof=meteostat visualcrossing openweather weatherapi openmeteo"`
	MeteostatAPIKey      string `env:"METEOSTAT_RAPIDAPI_KEY"`
	VisualCrossingAPIKey string `env:"VISUALCROSSING_API_KEY"`
	OpenWeatherAPIKey    string `env:"OPENWEATHER_API_KEY"`
	WeatherAPIKey        string `env:"WEATHERAPI_API_KEY"`
	APIBaseURL           string `env:"WEATHER_API_BASE_URL" validate:"omitempty,url"`

	// LookbackDays is the trailing window requested by range providers.
	LookbackDays   int           `env:"LOOKBACK_DAYS,default=30" validate:"min=1,max=366"`
	HTTPTimeout    time.Duration `env:"HTTP_TIMEOUT,default=30s" validate:"gt=0"`
	RetryAttempts  uint          `env:"FETCH_RETRY_ATTEMPTS,default=3" validate:"min=1,max=10"`
	RetryBaseDelay time.Duration `env:"FETCH_RETRY_BASE_DELAY,default=1s" validate:"gte=0"`

	DBDriver         string `env:"DB_DRIVER,default=postgres" validate:"oneof=postgres sqlite memory"`
	DatabaseURL      string `env:"DATABASE_URL"`
	PostgresHost     string `env:"POSTGRES_HOST,default=db"`
	PostgresPort     int    `env:"POSTGRES_PORT,default=5432" validate:"min=1,max=65535"`
	PostgresDB       string `env:"POSTGRES_DB,default=weather"`
	PostgresUser     string `env:"POSTGRES_USER,default=weatheruser"`
	PostgresPassword string `env:"POSTGRES_PASSWORD,default=weatherpass"`
	PostgresSSLMode  string `env:"POSTGRES_SSLMODE,default=disable"`
	SQLitePath       string `env:"SQLITE_PATH,default=weather.db"`
	SchemaMigration  string `env:"SCHEMA_MIGRATION,default=additive" validate:"oneof=recreate additive off"`

	ScheduleAt string `env:"SCHEDULE_AT,default=00:05"`
	ScheduleTZ string `env:"SCHEDULE_TZ,default=UTC"`
	RunOnStart bool   `env:"RUN_ON_START,default=true"`
	CycleMode  string `env:"CYCLE_MODE,default=all" validate:"oneof=all random"`

	// CityTargets is the raw CITY_TARGETS value, parsed into Targets.
	CityTargets string `env:"CITY_TARGETS"`
	Targets     []weather.CityTarget

	HTTPEnabled bool   `env:"HTTP_ENABLED,default=true"`
	Port        string `env:"PORT,default=8080"`

	LogLevel  string `env:"LOG_LEVEL,default=info"`
	LogFormat string `env:"LOG_FORMAT,default=json" validate:"oneof=json console"`

	RedisURL        string        `env:"REDIS_URL"`
	CycleLockTTL    time.Duration `env:"CYCLE_LOCK_TTL,default=2h" validate:"gt=0"`
	KafkaBrokers    []string      `env:"KAFKA_BROKERS"`
	KafkaCycleTopic string        `env:"KAFKA_CYCLE_TOPIC,default=weather-collector.cycles"`

	GeocoderAPIKey string `env:"GOOGLE_GEOCODER_API_KEY"`

	// DotEnvLoaded reports whether a .env file was read.
	DotEnvLoaded bool
}

// Load reads configuration from a .env file (if present) and the environment.
func Load(ctx context.Context) (*AppConfig, error) {
	loaded := true
	if err := godotenv.Load(); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("reading .env: %w", err)
		}
		loaded = false
	}

	cfg, err := LoadWith(ctx, envconfig.OsLookuper())
	if err != nil {
		return nil, err
	}
	cfg.DotEnvLoaded = loaded
	return cfg, nil
}

// LoadWith decodes and validates configuration from l.
func LoadWith(ctx context.Context, l envconfig.Lookuper) (*AppConfig, error) {
	cfg := &AppConfig{}
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   cfg,
		Lookuper: l,
	}); err != nil {
		return nil, fmt.Errorf("invalid environment: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if _, err := time.Parse("15:04", cfg.ScheduleAt); err != nil {
		return nil, fmt.Errorf("invalid SCHEDULE_AT %q: want HH:MM", cfg.ScheduleAt)
	}
	if _, err := cfg.ScheduleLocation(); err != nil {
		return nil, fmt.Errorf("invalid SCHEDULE_TZ: %w", err)
	}
	if providers.RequiresAPIKey(cfg.Provider) && cfg.APIKey() == "" {
		return nil, fmt.Errorf("missing API key for weather provider %q", cfg.Provider)
	}

	raw := cfg.CityTargets
	if strings.TrimSpace(raw) == "" {
		raw = DefaultCityTargets
	}
	targets, err := ParseCityTargets(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid CITY_TARGETS: %w", err)
	}
	cfg.Targets = targets

	return cfg, nil
}

// APIKey returns the key of the selected provider.
func (c *AppConfig) APIKey() string {
	switch c.Provider {
	case "meteostat":
		return c.MeteostatAPIKey
	case "visualcrossing":
		return c.VisualCrossingAPIKey
	case "openweather":
		return c.OpenWeatherAPIKey
	case "weatherapi":
		return c.WeatherAPIKey
	default:
		return ""
	}
}

// ScheduleLocation resolves SCHEDULE_TZ.
func (c *AppConfig) ScheduleLocation() (*time.Location, error) {
	return time.LoadLocation(c.ScheduleTZ)
}

// DSN returns the connection string for the configured driver. DATABASE_URL
// wins over the individual POSTGRES_* settings.
func (c *AppConfig) DSN() string {
	switch c.DBDriver {
	case "sqlite":
		return c.SQLitePath
	case "postgres":
		if c.DatabaseURL != "" {
			return c.DatabaseURL
		}
		u := url.URL{
			Scheme:   "postgres",
			User:     url.UserPassword(c.PostgresUser, c.PostgresPassword),
			Host:     c.PostgresHost + ":" + strconv.Itoa(c.PostgresPort),
			Path:     "/" + c.PostgresDB,
			RawQuery: url.Values{"sslmode": {c.PostgresSSLMode}}.Encode(),
		}
		return u.String()
	default:
		return ""
	}
}

// ParseCityTargets parses "Name|station=..|lat=..|lon=..|country=..;Name2|..".
func ParseCityTargets(s string) ([]weather.CityTarget, error) {
	validate := validator.New()
	seen := make(map[string]bool)

	var targets []weather.CityTarget
	for _, entry := range strings.Split(s, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		parts := strings.Split(entry, "|")
		t := weather.CityTarget{Name: strings.TrimSpace(parts[0])}
		for _, kv := range parts[1:] {
			key, value, ok := strings.Cut(strings.TrimSpace(kv), "=")
			if !ok {
				return nil, fmt.Errorf("%s: expected key=value, got %q", t.Name, kv)
			}
			value = strings.TrimSpace(value)
			switch strings.ToLower(strings.TrimSpace(key)) {
			case "station":
				t.Station = value
			case "country":
				t.Country = value
			case "lat":
				f, err := strconv.ParseFloat(value, 64)
				if err != nil {
					return nil, fmt.Errorf("%s: invalid lat: %w", t.Name, err)
				}
				t.Lat = &f
			case "lon":
				f, err := strconv.ParseFloat(value, 64)
				if err != nil {
					return nil, fmt.Errorf("%s: invalid lon: %w", t.Name, err)
				}
				t.Lon = &f
			default:
				return nil, fmt.Errorf("%s: unknown attribute %q", t.Name, key)
			}
		}

		if err := validate.Struct(t); err != nil {
			return nil, fmt.Errorf("target %q: %w", t.Name, err)
		}
		if seen[t.Key()] {
			return nil, fmt.Errorf("duplicate target %q", t.Name)
		}
		seen[t.Key()] = true
		targets = append(targets, t)
	}

	if len(targets) == 0 {
		return nil, errors.New("no city targets configured")
	}
	return targets, nil
}
