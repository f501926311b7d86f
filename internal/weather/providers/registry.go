package providers

import (
	"errors"
	"fmt"
	"sort"

	"github.com/i474232898/weather-history-collector/internal/weather"
)

// ErrMissingLocation is returned when a target lacks the station or
// coordinates a provider needs.
var ErrMissingLocation = errors.New("target lacks the location reference this provider needs")

// Settings selects and configures one provider.
type Settings struct {
	Name         string
	APIKey       string
	BaseURL      string
	LookbackDays int
	HTTP         HTTPClientConfig
}

type factory func(Settings) weather.Provider

var registry = map[string]factory{
	"meteostat": func(s Settings) weather.Provider {
		return NewMeteostatProvider(s.HTTP, s.APIKey, s.BaseURL, s.LookbackDays)
	},
	"visualcrossing": func(s Settings) weather.Provider {
		return NewVisualCrossingProvider(s.HTTP, s.APIKey, s.BaseURL, s.LookbackDays)
	},
	"openweather": func(s Settings) weather.Provider {
		return NewOpenWeatherProvider(s.HTTP, s.APIKey, s.BaseURL)
	},
	"weatherapi": func(s Settings) weather.Provider {
		return NewWeatherAPIProvider(s.HTTP, s.APIKey, s.BaseURL, s.LookbackDays)
	},
	"openmeteo": func(s Settings) weather.Provider {
		return NewOpenMeteoProvider(s.HTTP, s.BaseURL, s.LookbackDays)
	},
}

// New builds the provider named in s.
func New(s Settings) (weather.Provider, error) {
	f, ok := registry[s.Name]
	if !ok {
		return nil, fmt.Errorf("unknown weather provider %q (known: %v)", s.Name, Names())
	}
	if s.HTTP.Retry.MaxAttempts == 0 {
		s.HTTP.Retry = DefaultRetryPolicy()
	}
	return f(s), nil
}

// Names lists the registered providers.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RequiresAPIKey reports whether the named provider needs an API key.
func RequiresAPIKey(name string) bool {
	return name != "openmeteo"
}
