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

const weatherAPIBaseURL = "https://api.weatherapi.com/v1/history.json"

// WeatherAPIProvider implements the weather.Provider interface for the
// WeatherAPI.com history endpoint.
type WeatherAPIProvider struct {
	name         string
	apiKey       string
	baseURL      string
	lookbackDays int
	httpCfg      HTTPClientConfig
	circuits     *breakerSet
}

func NewWeatherAPIProvider(cfg HTTPClientConfig, apiKey, baseURL string, lookbackDays int) *WeatherAPIProvider {
	if baseURL == "" {
		baseURL = weatherAPIBaseURL
	}
	return &WeatherAPIProvider{
		name:         "weatherapi",
		apiKey:       apiKey,
		baseURL:      baseURL,
		lookbackDays: lookbackDays,
		httpCfg:      cfg,
		circuits:     newBreakerSet("weatherapi"),
	}
}

func (p *WeatherAPIProvider) Name() string {
	return p.name
}

func (p *WeatherAPIProvider) Window(now time.Time) weather.Window {
	return weather.TrailingDays(now, p.lookbackDays)
}

// Fetch returns the forecastday list of the history response as a "days"
// record list.
func (p *WeatherAPIProvider) Fetch(ctx context.Context, target weather.CityTarget, window weather.Window) ([]byte, error) {
	if p.apiKey == "" {
		return nil, fmt.Errorf("weatherapi api key is not configured")
	}
	if window.IsInstant() {
		return nil, fmt.Errorf("weatherapi history request needs a date range")
	}

	// WeatherAPI uses "q" for location; it accepts "city,country" or "lat,lon".
	q := target.Name
	if target.HasCoordinates() {
		q = strconv.FormatFloat(*target.Lat, 'f', 4, 64) + "," + strconv.FormatFloat(*target.Lon, 'f', 4, 64)
	} else if target.Country != "" {
		q = fmt.Sprintf("%s,%s", target.Name, target.Country)
	}
	if strings.TrimSpace(q) == "" {
		return nil, fmt.Errorf("%w: no coordinates or name for target", ErrMissingLocation)
	}

	params := map[string]string{
		"key": p.apiKey,
		"q":   q,
		"dt":  formatDate(window.Start),
	}
	if window.End.After(window.Start) {
		params["end_dt"] = formatDate(window.End)
	}

	body, err := doRequestWithResilience(ctx, p.httpCfg, p.circuits.forTarget(target), p.baseURL, func(r *resty.Request) *resty.Request {
		return r.SetHeader("Accept", "application/json").SetQueryParams(params)
	})
	if err != nil {
		return nil, err
	}
	return flattenForecastDays(body)
}

func (p *WeatherAPIProvider) Mapping() weather.RecordMapping {
	return weather.RecordMapping{
		TimestampKeys: []string{"date", "date_epoch"},
		Fields: []weather.FieldSource{
			{Field: weather.FieldTempAvg, Path: "day.avgtemp_c"},
			{Field: weather.FieldTempMin, Path: "day.mintemp_c"},
			{Field: weather.FieldTempMax, Path: "day.maxtemp_c"},
			{Field: weather.FieldHumidity, Path: "day.avghumidity"},
			{Field: weather.FieldWindSpeed, Path: "day.maxwind_kph"},
			{Field: weather.FieldVisibility, Path: "day.avgvis_km"},
			{Field: weather.FieldUVIndex, Path: "day.uv"},
			{Field: weather.FieldPrecipitation, Path: "day.totalprecip_mm"},
			{Field: weather.FieldSnowDepth, Path: "day.totalsnow_cm"},
			{Field: weather.FieldDescription, Path: "day.condition.text"},
		},
	}
}

// flattenForecastDays turns {"forecast":{"forecastday":[..]}} into {"days":[..]}.
// The hourly breakdown is dropped to keep raw_json small.
func flattenForecastDays(body []byte) ([]byte, error) {
	var payload struct {
		Forecast struct {
			ForecastDay []map[string]json.RawMessage `json:"forecastday"`
		} `json:"forecast"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode weatherapi response: %w", err)
	}

	days := make([]map[string]json.RawMessage, 0, len(payload.Forecast.ForecastDay))
	for _, d := range payload.Forecast.ForecastDay {
		delete(d, "hour")
		days = append(days, d)
	}
	return json.Marshal(map[string]any{"days": days})
}
