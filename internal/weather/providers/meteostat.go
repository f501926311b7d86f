package providers

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/i474232898/weather-history-collector/internal/weather"
)

const meteostatBaseURL = "https://meteostat.p.rapidapi.com"

// MeteostatProvider implements weather.Provider for the Meteostat daily
// station endpoint served through RapidAPI.
type MeteostatProvider struct {
	name         string
	apiKey       string
	baseURL      string
	lookbackDays int
	httpCfg      HTTPClientConfig
	circuits     *breakerSet
}

func NewMeteostatProvider(cfg HTTPClientConfig, apiKey, baseURL string, lookbackDays int) *MeteostatProvider {
	if baseURL == "" {
		baseURL = meteostatBaseURL
	}
	return &MeteostatProvider{
		name:         "meteostat",
		apiKey:       apiKey,
		baseURL:      strings.TrimRight(baseURL, "/"),
		lookbackDays: lookbackDays,
		httpCfg:      cfg,
		circuits:     newBreakerSet("meteostat"),
	}
}

func (p *MeteostatProvider) Name() string {
	return p.name
}

// Window covers the trailing lookback days up to today.
func (p *MeteostatProvider) Window(now time.Time) weather.Window {
	return weather.TrailingDays(now, p.lookbackDays)
}

func (p *MeteostatProvider) Fetch(ctx context.Context, target weather.CityTarget, window weather.Window) ([]byte, error) {
	if p.apiKey == "" {
		return nil, fmt.Errorf("meteostat api key is not configured")
	}
	if target.Station == "" {
		return nil, fmt.Errorf("%w: meteostat needs a station id for %s", ErrMissingLocation, target.Name)
	}
	if window.IsInstant() {
		return nil, fmt.Errorf("meteostat daily endpoint needs a date range")
	}

	host := rapidAPIHost(p.baseURL)
	return doRequestWithResilience(ctx, p.httpCfg, p.circuits.forTarget(target), p.baseURL+"/stations/daily", func(r *resty.Request) *resty.Request {
		return r.
			SetHeader("Accept", "application/json").
			SetHeader("x-rapidapi-host", host).
			SetHeader("x-rapidapi-key", p.apiKey).
			SetQueryParams(map[string]string{
				"station": target.Station,
				"start":   formatDate(window.Start),
				"end":     formatDate(window.End),
				"units":   "metric",
			})
	})
}

// Mapping follows the Meteostat daily record: {"date":"2024-01-31","tavg":3.1,...}.
func (p *MeteostatProvider) Mapping() weather.RecordMapping {
	return weather.RecordMapping{
		TimestampKeys: []string{"date", "time"},
		Fields: []weather.FieldSource{
			{Field: weather.FieldTempAvg, Path: "tavg"},
			{Field: weather.FieldTempMin, Path: "tmin"},
			{Field: weather.FieldTempMax, Path: "tmax"},
			{Field: weather.FieldPrecipitation, Path: "prcp"},
			{Field: weather.FieldSnowDepth, Path: "snow"},
			{Field: weather.FieldWindDirection, Path: "wdir"},
			{Field: weather.FieldWindSpeed, Path: "wspd"},
			{Field: weather.FieldWindGust, Path: "wpgt"},
			{Field: weather.FieldPressure, Path: "pres"},
			{Field: weather.FieldSunshine, Path: "tsun"},
		},
	}
}

func rapidAPIHost(baseURL string) string {
	u, err := url.Parse(baseURL)
	if err != nil || u.Host == "" {
		return "meteostat.p.rapidapi.com"
	}
	return u.Host
}
