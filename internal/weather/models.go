package weather

import (
	"encoding/json"
	"strings"
	"time"
)

// FieldKind is the storage type of a measurement field.
type FieldKind int

const (
	KindReal FieldKind = iota
	KindInteger
	KindText
)

// Field names a normalized measurement. The value doubles as the column name.
type Field string

const (
	FieldTempAvg        Field = "temp_avg"
	FieldTempMin        Field = "temp_min"
	FieldTempMax        Field = "temp_max"
	FieldFeelsLike      Field = "feels_like"
	FieldDewPoint       Field = "dew_point"
	FieldHumidity       Field = "humidity"
	FieldPressure       Field = "pressure"
	FieldWindSpeed      Field = "wind_speed"
	FieldWindGust       Field = "wind_gust"
	FieldWindDirection  Field = "wind_dir"
	FieldCloudCover     Field = "cloud_cover"
	FieldVisibility     Field = "visibility"
	FieldUVIndex        Field = "uv_index"
	FieldSolarRadiation Field = "solar_radiation"
	FieldPrecipitation  Field = "precipitation"
	FieldSnowDepth      Field = "snow_depth"
	FieldSunshine       Field = "sunshine_minutes"
	FieldDescription    Field = "description"
)

var fieldKinds = map[Field]FieldKind{
	FieldTempAvg:        KindReal,
	FieldTempMin:        KindReal,
	FieldTempMax:        KindReal,
	FieldFeelsLike:      KindReal,
	FieldDewPoint:       KindReal,
	FieldHumidity:       KindReal,
	FieldPressure:       KindReal,
	FieldWindSpeed:      KindReal,
	FieldWindGust:       KindReal,
	FieldWindDirection:  KindInteger,
	FieldCloudCover:     KindInteger,
	FieldVisibility:     KindReal,
	FieldUVIndex:        KindReal,
	FieldSolarRadiation: KindReal,
	FieldPrecipitation:  KindReal,
	FieldSnowDepth:      KindReal,
	FieldSunshine:       KindInteger,
	FieldDescription:    KindText,
}

// Fields returns every measurement field in column order.
func Fields() []Field {
	return []Field{
		FieldTempAvg, FieldTempMin, FieldTempMax, FieldFeelsLike, FieldDewPoint,
		FieldHumidity, FieldPressure, FieldWindSpeed, FieldWindGust, FieldWindDirection,
		FieldCloudCover, FieldVisibility, FieldUVIndex, FieldSolarRadiation,
		FieldPrecipitation, FieldSnowDepth, FieldSunshine, FieldDescription,
	}
}

// Kind reports the storage kind of the field. Unknown fields are text.
func (f Field) Kind() FieldKind {
	if k, ok := fieldKinds[f]; ok {
		return k
	}
	return KindText
}

// CityTarget is a configured city and the location reference a provider needs.
// Station is used by station based providers, Lat/Lon by coordinate based ones.
type CityTarget struct {
	Name    string   `json:"name" validate:"required"`
	Station string   `json:"station,omitempty"`
	Country string   `json:"country,omitempty"`
	Lat     *float64 `json:"lat,omitempty" validate:"omitempty,latitude"`
	Lon     *float64 `json:"lon,omitempty" validate:"omitempty,longitude"`
}

// HasCoordinates reports whether both latitude and longitude are known.
func (t CityTarget) HasCoordinates() bool {
	return t.Lat != nil && t.Lon != nil
}

// Key returns a canonical lower-case key for the target.
func (t CityTarget) Key() string {
	return strings.ToLower(strings.TrimSpace(t.Name))
}

// Window is the span of history requested from a provider. A non-zero At
// selects a single instant; otherwise Start and End are inclusive dates.
type Window struct {
	Start time.Time `json:"start,omitempty"`
	End   time.Time `json:"end,omitempty"`
	At    time.Time `json:"at,omitempty"`
}

// IsInstant reports whether the window is a single instant.
func (w Window) IsInstant() bool {
	return !w.At.IsZero()
}

// TrailingDays returns the window covering the last days calendar days up to
// and including the UTC date of now.
func TrailingDays(now time.Time, days int) Window {
	if days < 1 {
		days = 1
	}
	end := truncateDay(now.UTC())
	return Window{
		Start: end.AddDate(0, 0, -(days - 1)),
		End:   end,
	}
}

// PriorDayInstant returns the instant one day before now, truncated to the
// hour, leaving the provider time to finalise the data.
func PriorDayInstant(now time.Time) Window {
	return Window{At: now.UTC().Add(-24 * time.Hour).Truncate(time.Hour)}
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// Observation is one reading for one city at one timestamp.
// (City, Timestamp) is the natural key.
type Observation struct {
	City         string          `json:"city" validate:"required"`
	Timestamp    time.Time       `json:"timestamp" validate:"required"` // always UTC
	Provider     string          `json:"provider,omitempty"`
	Measurements map[Field]any   `json:"measurements,omitempty"`
	Raw          json.RawMessage `json:"raw,omitempty"`
}

// Value returns the stored value of a field, or nil when the provider did not
// report it.
func (o Observation) Value(f Field) any {
	if o.Measurements == nil {
		return nil
	}
	return o.Measurements[f]
}

// Float returns a numeric field as float64.
func (o Observation) Float(f Field) (float64, bool) {
	switch v := o.Value(f).(type) {
	case float64:
		return v, true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}
