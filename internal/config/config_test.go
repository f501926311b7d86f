package config

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/sethvargo/go-envconfig"
)

func load(t *testing.T, env map[string]string) (*AppConfig, error) {
	t.Helper()
	return LoadWith(context.Background(), envconfig.MapLookuper(env))
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := load(t, map[string]string{"METEOSTAT_RAPIDAPI_KEY": "secret"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Provider != "meteostat" || cfg.APIKey() != "secret" {
		t.Fatalf("unexpected provider settings: %q %q", cfg.Provider, cfg.APIKey())
	}
	if cfg.LookbackDays != 30 || cfg.HTTPTimeout != 30*time.Second {
		t.Fatalf("unexpected fetch defaults: %d %v", cfg.LookbackDays, cfg.HTTPTimeout)
	}
	if cfg.RetryAttempts != 3 || cfg.RetryBaseDelay != time.Second {
		t.Fatalf("unexpected retry defaults: %d %v", cfg.RetryAttempts, cfg.RetryBaseDelay)
	}
	if cfg.ScheduleAt != "00:05" || cfg.ScheduleTZ != "UTC" || !cfg.RunOnStart {
		t.Fatalf("unexpected schedule defaults: %q %q %v", cfg.ScheduleAt, cfg.ScheduleTZ, cfg.RunOnStart)
	}
	if cfg.SchemaMigration != "additive" || cfg.CycleMode != "all" {
		t.Fatalf("unexpected defaults: %q %q", cfg.SchemaMigration, cfg.CycleMode)
	}

	want := "postgres://weatheruser:weatherpass@db:5432/weather?sslmode=disable"
	if got := cfg.DSN(); got != want {
		t.Fatalf("expected DSN %q, got %q", want, got)
	}

	if len(cfg.Targets) != 3 {
		t.Fatalf("expected 3 default targets, got %d", len(cfg.Targets))
	}
	vienna := cfg.Targets[0]
	if vienna.Name != "Vienna" || vienna.Station != "11035" || vienna.Country != "AT" || !vienna.HasCoordinates() {
		t.Fatalf("unexpected first target: %+v", vienna)
	}
	if cfg.Targets[2].Station != "07156" {
		t.Fatalf("station ids must keep leading zeros, got %q", cfg.Targets[2].Station)
	}
}

func TestLoadOverrides(t *testing.T) {
	cfg, err := load(t, map[string]string{
		"WEATHER_PROVIDER":     "openmeteo",
		"DB_DRIVER":            "sqlite",
		"SQLITE_PATH":          "/tmp/w.db",
		"CITY_TARGETS":         "Oslo|lat=59.91|lon=10.75",
		"KAFKA_BROKERS":        "k1:9092,k2:9092",
		"FETCH_RETRY_ATTEMPTS": "5",
		"SCHEDULE_TZ":          "Europe/Vienna",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.DSN() != "/tmp/w.db" {
		t.Fatalf("unexpected sqlite DSN %q", cfg.DSN())
	}
	if len(cfg.Targets) != 1 || cfg.Targets[0].Name != "Oslo" || *cfg.Targets[0].Lat != 59.91 {
		t.Fatalf("unexpected targets: %+v", cfg.Targets)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "k2:9092" {
		t.Fatalf("unexpected brokers: %v", cfg.KafkaBrokers)
	}
	if cfg.RetryAttempts != 5 {
		t.Fatalf("expected 5 attempts, got %d", cfg.RetryAttempts)
	}
	loc, err := cfg.ScheduleLocation()
	if err != nil || loc.String() != "Europe/Vienna" {
		t.Fatalf("unexpected location %v (%v)", loc, err)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{
			name: "unknown provider",
			env:  map[string]string{"WEATHER_PROVIDER": "darksky"},
			want: "invalid configuration",
		},
		{
			name: "missing key",
			env:  map[string]string{"WEATHER_PROVIDER": "visualcrossing"},
			want: "missing API key",
		},
		{
			name: "bad schedule",
			env:  map[string]string{"WEATHER_PROVIDER": "openmeteo", "SCHEDULE_AT": "25:99"},
			want: "SCHEDULE_AT",
		},
		{
			name: "bad migration mode",
			env:  map[string]string{"WEATHER_PROVIDER": "openmeteo", "SCHEMA_MIGRATION": "drop"},
			want: "invalid configuration",
		},
		{
			name: "bad latitude",
			env:  map[string]string{"WEATHER_PROVIDER": "openmeteo", "CITY_TARGETS": "Nowhere|lat=123|lon=0"},
			want: "CITY_TARGETS",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := load(t, tt.env)
			if err == nil {
				t.Fatalf("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error mentioning %q, got %v", tt.want, err)
			}
		})
	}
}

func TestParseCityTargets(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    int
		wantErr bool
	}{
		{name: "single name", in: "Vienna", want: 1},
		{name: "trailing separator", in: "Vienna|station=11035;", want: 1},
		{name: "two targets", in: "Vienna|station=11035; Berlin|station=10382", want: 2},
		{name: "duplicate", in: "Vienna;vienna", wantErr: true},
		{name: "unknown attribute", in: "Vienna|zip=1010", wantErr: true},
		{name: "missing value separator", in: "Vienna|station", wantErr: true},
		{name: "empty", in: " ; ", wantErr: true},
		{name: "missing name", in: "|station=1", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseCityTargets(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(got) != tt.want {
				t.Fatalf("expected %d targets, got %d", tt.want, len(got))
			}
		})
	}
}
