package geocode

import (
	"fmt"

	"github.com/kelvins/geocoder"
	"go.uber.org/zap"

	"github.com/i474232898/weather-history-collector/internal/weather"
)

// LookupFunc resolves a city to coordinates.
type LookupFunc func(city, country string) (lat, lon float64, err error)

// GoogleLookup resolves cities through the Google Geocoding API.
func GoogleLookup(apiKey string) LookupFunc {
	geocoder.ApiKey = apiKey
	return func(city, country string) (float64, float64, error) {
		loc, err := geocoder.Geocoding(geocoder.Address{City: city, Country: country})
		if err != nil {
			return 0, 0, fmt.Errorf("geocoding %s: %w", city, err)
		}
		return loc.Latitude, loc.Longitude, nil
	}
}

// Resolver fills in missing target coordinates.
type Resolver struct {
	lookup LookupFunc
	logger *zap.Logger
}

func NewResolver(lookup LookupFunc, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{lookup: lookup, logger: logger.With(zap.String("component", "geocode"))}
}

// Resolve returns a copy of targets where every target lacking coordinates
// has been looked up. A failed lookup leaves the target as configured.
func (r *Resolver) Resolve(targets []weather.CityTarget) []weather.CityTarget {
	out := make([]weather.CityTarget, len(targets))
	copy(out, targets)

	for i, t := range out {
		if t.HasCoordinates() {
			continue
		}
		lat, lon, err := r.lookup(t.Name, t.Country)
		if err != nil {
			r.logger.Warn("could not resolve coordinates", zap.String("city", t.Name), zap.Error(err))
			continue
		}
		out[i].Lat = &lat
		out[i].Lon = &lon
		r.logger.Info("resolved coordinates",
			zap.String("city", t.Name),
			zap.Float64("lat", lat),
			zap.Float64("lon", lon),
		)
	}
	return out
}
