package providers

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/i474232898/weather-history-collector/internal/weather"
)

const visualCrossingBaseURL = "https://weather.visualcrossing.com/VisualCrossingWebServices/rest/services/timeline"

// VisualCrossingProvider implements weather.Provider for the Visual Crossing
// Timeline API. Locations are coordinates when known, the city name otherwise.
type VisualCrossingProvider struct {
	name         string
	apiKey       string
	baseURL      string
	lookbackDays int
	httpCfg      HTTPClientConfig
	circuits     *breakerSet
}

func NewVisualCrossingProvider(cfg HTTPClientConfig, apiKey, baseURL string, lookbackDays int) *VisualCrossingProvider {
	if baseURL == "" {
		baseURL = visualCrossingBaseURL
	}
	return &VisualCrossingProvider{
		name:         "visualcrossing",
		apiKey:       apiKey,
		baseURL:      strings.TrimRight(baseURL, "/"),
		lookbackDays: lookbackDays,
		httpCfg:      cfg,
		circuits:     newBreakerSet("visualcrossing"),
	}
}

func (p *VisualCrossingProvider) Name() string {
	return p.name
}

func (p *VisualCrossingProvider) Window(now time.Time) weather.Window {
	return weather.TrailingDays(now, p.lookbackDays)
}

func (p *VisualCrossingProvider) Fetch(ctx context.Context, target weather.CityTarget, window weather.Window) ([]byte, error) {
	if p.apiKey == "" {
		return nil, fmt.Errorf("visualcrossing api key is not configured")
	}
	if window.IsInstant() {
		return nil, fmt.Errorf("visualcrossing timeline request needs a date range")
	}

	location := visualCrossingLocation(target)
	if location == "" {
		return nil, fmt.Errorf("%w: no coordinates or name for target", ErrMissingLocation)
	}

	u := fmt.Sprintf("%s/%s/%s/%s",
		p.baseURL,
		url.PathEscape(location),
		formatDate(window.Start),
		formatDate(window.End),
	)
	return doRequestWithResilience(ctx, p.httpCfg, p.circuits.forTarget(target), u, func(r *resty.Request) *resty.Request {
		return r.
			SetHeader("Accept", "application/json").
			SetQueryParams(map[string]string{
				"key":         p.apiKey,
				"unitGroup":   "metric",
				"include":     "days",
				"contentType": "json",
			})
	})
}

// Mapping follows the Timeline "days" records.
func (p *VisualCrossingProvider) Mapping() weather.RecordMapping {
	return weather.RecordMapping{
		TimestampKeys: []string{"datetime", "datetimeEpoch"},
		Fields: []weather.FieldSource{
			{Field: weather.FieldTempAvg, Path: "temp"},
			{Field: weather.FieldTempMin, Path: "tempmin"},
			{Field: weather.FieldTempMax, Path: "tempmax"},
			{Field: weather.FieldFeelsLike, Path: "feelslike"},
			{Field: weather.FieldDewPoint, Path: "dew"},
			{Field: weather.FieldHumidity, Path: "humidity"},
			{Field: weather.FieldPressure, Path: "pressure"},
			{Field: weather.FieldWindSpeed, Path: "windspeed"},
			{Field: weather.FieldWindGust, Path: "windgust"},
			{Field: weather.FieldWindDirection, Path: "winddir"},
			{Field: weather.FieldCloudCover, Path: "cloudcover"},
			{Field: weather.FieldVisibility, Path: "visibility"},
			{Field: weather.FieldUVIndex, Path: "uvindex"},
			{Field: weather.FieldSolarRadiation, Path: "solarradiation"},
			{Field: weather.FieldPrecipitation, Path: "precip"},
			{Field: weather.FieldSnowDepth, Path: "snowdepth"},
			{Field: weather.FieldDescription, Path: "conditions"},
		},
	}
}

func visualCrossingLocation(t weather.CityTarget) string {
	if t.HasCoordinates() {
		return strconv.FormatFloat(*t.Lat, 'f', 4, 64) + "," + strconv.FormatFloat(*t.Lon, 'f', 4, 64)
	}
	if t.Country != "" {
		return t.Name + "," + t.Country
	}
	return t.Name
}
