package providers

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/i474232898/weather-history-collector/internal/weather"
)

const openWeatherBaseURL = "https://api.openweathermap.org/data/3.0/onecall/timemachine"

// OpenWeatherProvider implements weather.Provider for the OpenWeatherMap One
// Call "timemachine" endpoint. It reads a single instant per request.
type OpenWeatherProvider struct {
	name     string
	apiKey   string
	baseURL  string
	httpCfg  HTTPClientConfig
	circuits *breakerSet
}

func NewOpenWeatherProvider(cfg HTTPClientConfig, apiKey, baseURL string) *OpenWeatherProvider {
	if baseURL == "" {
		baseURL = openWeatherBaseURL
	}
	return &OpenWeatherProvider{
		name:     "openweather",
		apiKey:   apiKey,
		baseURL:  strings.TrimRight(baseURL, "/"),
		httpCfg:  cfg,
		circuits: newBreakerSet("openweather"),
	}
}

func (p *OpenWeatherProvider) Name() string {
	return p.name
}

// Window asks for the same hour one day back so the provider has finalised it.
func (p *OpenWeatherProvider) Window(now time.Time) weather.Window {
	return weather.PriorDayInstant(now)
}

func (p *OpenWeatherProvider) Fetch(ctx context.Context, target weather.CityTarget, window weather.Window) ([]byte, error) {
	if p.apiKey == "" {
		return nil, fmt.Errorf("openweather api key is not configured")
	}
	if !target.HasCoordinates() {
		return nil, fmt.Errorf("%w: openweather needs latitude and longitude for %s", ErrMissingLocation, target.Name)
	}

	at := window.At
	if at.IsZero() {
		at = window.End
	}

	return doRequestWithResilience(ctx, p.httpCfg, p.circuits.forTarget(target), p.baseURL, func(r *resty.Request) *resty.Request {
		return r.
			SetHeader("Accept", "application/json").
			SetQueryParams(map[string]string{
				"lat":   strconv.FormatFloat(*target.Lat, 'f', 6, 64),
				"lon":   strconv.FormatFloat(*target.Lon, 'f', 6, 64),
				"dt":    strconv.FormatInt(at.Unix(), 10),
				"units": "metric",
				"appid": p.apiKey,
			})
	})
}

// Mapping follows the timemachine records (under "data", or "current"/"hourly"
// in the 2.5 API), keyed by epoch seconds in "dt".
func (p *OpenWeatherProvider) Mapping() weather.RecordMapping {
	return weather.RecordMapping{
		TimestampKeys: []string{"dt"},
		Fields: []weather.FieldSource{
			{Field: weather.FieldTempAvg, Path: "temp"},
			{Field: weather.FieldFeelsLike, Path: "feels_like"},
			{Field: weather.FieldDewPoint, Path: "dew_point"},
			{Field: weather.FieldHumidity, Path: "humidity"},
			{Field: weather.FieldPressure, Path: "pressure"},
			{Field: weather.FieldWindSpeed, Path: "wind_speed"},
			{Field: weather.FieldWindGust, Path: "wind_gust"},
			{Field: weather.FieldWindDirection, Path: "wind_deg"},
			{Field: weather.FieldCloudCover, Path: "clouds"},
			{Field: weather.FieldVisibility, Path: "visibility"},
			{Field: weather.FieldUVIndex, Path: "uvi"},
			{Field: weather.FieldPrecipitation, Path: "rain.1h"},
			{Field: weather.FieldDescription, Path: "weather.0.description"},
		},
	}
}
