package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/i474232898/weather-history-collector/internal/weather"
)

const openMeteoBaseURL = "https://archive-api.open-meteo.com/v1/archive"

var openMeteoDaily = []string{
	"weather_code",
	"temperature_2m_mean",
	"temperature_2m_min",
	"temperature_2m_max",
	"precipitation_sum",
	"wind_speed_10m_max",
	"wind_gusts_10m_max",
	"wind_direction_10m_dominant",
}

// OpenMeteoProvider implements weather.Provider for the Open-Meteo historical
// archive. The API is key-less but needs coordinates.
type OpenMeteoProvider struct {
	name         string
	baseURL      string
	lookbackDays int
	httpCfg      HTTPClientConfig
	circuits     *breakerSet
}

func NewOpenMeteoProvider(cfg HTTPClientConfig, baseURL string, lookbackDays int) *OpenMeteoProvider {
	if baseURL == "" {
		baseURL = openMeteoBaseURL
	}
	return &OpenMeteoProvider{
		name:         "openmeteo",
		baseURL:      strings.TrimRight(baseURL, "/"),
		lookbackDays: lookbackDays,
		httpCfg:      cfg,
		circuits:     newBreakerSet("openmeteo"),
	}
}

func (p *OpenMeteoProvider) Name() string {
	return p.name
}

func (p *OpenMeteoProvider) Window(now time.Time) weather.Window {
	return weather.TrailingDays(now, p.lookbackDays)
}

// Fetch returns the archive response reshaped from columns into a "data"
// record list so it normalises like the other providers.
func (p *OpenMeteoProvider) Fetch(ctx context.Context, target weather.CityTarget, window weather.Window) ([]byte, error) {
	if !target.HasCoordinates() {
		return nil, fmt.Errorf("%w: openmeteo requires latitude and longitude for %s", ErrMissingLocation, target.Name)
	}
	if window.IsInstant() {
		return nil, fmt.Errorf("openmeteo archive request needs a date range")
	}

	body, err := doRequestWithResilience(ctx, p.httpCfg, p.circuits.forTarget(target), p.baseURL, func(r *resty.Request) *resty.Request {
		return r.
			SetHeader("Accept", "application/json").
			SetQueryParams(map[string]string{
				"latitude":   strconv.FormatFloat(*target.Lat, 'f', 4, 64),
				"longitude":  strconv.FormatFloat(*target.Lon, 'f', 4, 64),
				"start_date": formatDate(window.Start),
				"end_date":   formatDate(window.End),
				"daily":      strings.Join(openMeteoDaily, ","),
				"timezone":   "UTC",
			})
	})
	if err != nil {
		return nil, err
	}
	return transposeDaily(body)
}

func (p *OpenMeteoProvider) Mapping() weather.RecordMapping {
	return weather.RecordMapping{
		TimestampKeys: []string{"time"},
		Fields: []weather.FieldSource{
			{Field: weather.FieldTempAvg, Path: "temperature_2m_mean"},
			{Field: weather.FieldTempMin, Path: "temperature_2m_min"},
			{Field: weather.FieldTempMax, Path: "temperature_2m_max"},
			{Field: weather.FieldPrecipitation, Path: "precipitation_sum"},
			{Field: weather.FieldWindSpeed, Path: "wind_speed_10m_max"},
			{Field: weather.FieldWindGust, Path: "wind_gusts_10m_max"},
			{Field: weather.FieldWindDirection, Path: "wind_direction_10m_dominant"},
			{Field: weather.FieldDescription, Path: "conditions"},
		},
	}
}

// transposeDaily turns {"daily":{"time":[..],"x":[..]}} into {"data":[{"time":..,"x":..}]}.
// Columns shorter than "time" leave the field out of the affected records.
func transposeDaily(body []byte) ([]byte, error) {
	var payload struct {
		Daily map[string][]json.RawMessage `json:"daily"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode openmeteo response: %w", err)
	}

	times := payload.Daily["time"]
	records := make([]map[string]json.RawMessage, len(times))
	for i := range times {
		rec := make(map[string]json.RawMessage, len(payload.Daily)+1)
		for column, values := range payload.Daily {
			if i < len(values) {
				rec[column] = values[i]
			}
		}
		if code, ok := rec["weather_code"]; ok {
			if n, err := strconv.Atoi(strings.TrimSpace(string(code))); err == nil {
				cond, _ := json.Marshal(mapOpenMeteoCondition(n))
				rec["conditions"] = cond
			}
		}
		records[i] = rec
	}

	return json.Marshal(map[string]any{"data": records})
}

// mapOpenMeteoCondition follows the WMO weather codes used by Open-Meteo (simplified).
func mapOpenMeteoCondition(code int) string {
	switch {
	case code == 0:
		return "clear"
	case code >= 1 && code <= 3:
		return "cloudy"
	case code == 45 || code == 48:
		return "fog"
	case (code >= 51 && code <= 67) || (code >= 80 && code <= 82):
		return "rain"
	case (code >= 71 && code <= 77) || code == 85 || code == 86:
		return "snow"
	case code >= 95:
		return "storm"
	default:
		return "unknown"
	}
}
