package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/go-resty/resty/v2"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/i474232898/weather-history-collector/internal/weather"
)

// RetryPolicy controls how many times a fetch is attempted and how long to
// wait between attempts.
type RetryPolicy struct {
	MaxAttempts uint
	// Backoff returns the wait after the failed attempt n (0-based).
	Backoff func(n uint) time.Duration
	// Timer drives the waits; nil uses the wall clock.
	Timer retry.Timer
}

// ExponentialBackoff waits base·2^n after failed attempt n.
func ExponentialBackoff(base time.Duration) func(n uint) time.Duration {
	return func(n uint) time.Duration {
		return base << n
	}
}

// DefaultRetryPolicy makes 3 attempts, waiting 1s then 2s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		Backoff:     ExponentialBackoff(time.Second),
	}
}

// Retry runs op until it succeeds, returns an unrecoverable error, or the
// policy's attempts are exhausted. The last error is returned.
func Retry[T any](ctx context.Context, p RetryPolicy, op func() (T, error), onRetry func(n uint, err error)) (T, error) {
	if p.MaxAttempts == 0 {
		var zero T
		return zero, errInvalidConfig
	}
	backoff := p.Backoff
	if backoff == nil {
		backoff = ExponentialBackoff(time.Second)
	}

	opts := []retry.Option{
		retry.Context(ctx),
		retry.Attempts(p.MaxAttempts),
		retry.LastErrorOnly(true),
		retry.DelayType(func(n uint, _ error, _ *retry.Config) time.Duration {
			return backoff(n)
		}),
	}
	if p.Timer != nil {
		opts = append(opts, retry.WithTimer(p.Timer))
	}
	if onRetry != nil {
		opts = append(opts, retry.OnRetry(onRetry))
	}
	return retry.DoWithData(op, opts...)
}

// HTTPClientConfig bundles HTTP client and resilience settings.
type HTTPClientConfig struct {
	Client *resty.Client
	Retry  RetryPolicy
	Logger *zap.Logger
}

// StatusError is a non-2xx response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status code %d: %s", e.StatusCode, e.Body)
}

var (
	errRateLimited   = errors.New("rate limited")
	errCircuitOpen   = errors.New("circuit breaker open")
	errNoHTTPClient  = errors.New("http client not configured")
	errInvalidConfig = errors.New("invalid retry configuration")
)

// breakerSet keeps one circuit breaker per target, so repeated failures for
// one city never short-circuit requests for another.
type breakerSet struct {
	name  string
	mu    sync.Mutex
	byKey map[string]*gobreaker.CircuitBreaker
}

func newBreakerSet(name string) *breakerSet {
	return &breakerSet{name: name, byKey: make(map[string]*gobreaker.CircuitBreaker)}
}

func (b *breakerSet) forTarget(t weather.CityTarget) *gobreaker.CircuitBreaker {
	key := t.Key()
	b.mu.Lock()
	defer b.mu.Unlock()
	cb, ok := b.byKey[key]
	if !ok {
		cb = newCircuitBreaker(b.name + "/" + key)
		b.byKey[key] = cb
	}
	return cb
}

func newCircuitBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     2 * time.Minute,
	})
}

// doRequestWithResilience performs a GET built by buildRequest through the
// circuit breaker, retrying per the policy. It returns the body of the first
// 2xx response.
func doRequestWithResilience(
	ctx context.Context,
	cfg HTTPClientConfig,
	cb *gobreaker.CircuitBreaker,
	url string,
	buildRequest func(*resty.Request) *resty.Request,
) ([]byte, error) {
	if cfg.Client == nil {
		return nil, errNoHTTPClient
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	attempt := func() ([]byte, error) {
		result, err := cb.Execute(func() (interface{}, error) {
			resp, err := buildRequest(cfg.Client.R().SetContext(ctx)).Get(url)
			if err != nil {
				return nil, err
			}
			if resp.StatusCode() == http.StatusTooManyRequests {
				return nil, fmt.Errorf("%w: %w", errRateLimited, &StatusError{StatusCode: resp.StatusCode(), Body: snippet(resp.Body())})
			}
			if !resp.IsSuccess() {
				return nil, &StatusError{StatusCode: resp.StatusCode(), Body: snippet(resp.Body())}
			}
			return resp.Body(), nil
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return nil, retry.Unrecoverable(fmt.Errorf("%w: %v", errCircuitOpen, err))
			}
			return nil, err
		}
		body, ok := result.([]byte)
		if !ok {
			return nil, retry.Unrecoverable(fmt.Errorf("unexpected result type from circuit breaker"))
		}
		return body, nil
	}

	return Retry(ctx, cfg.Retry, attempt, func(n uint, err error) {
		log.Warn("fetch attempt failed",
			zap.String("breaker", cb.Name()),
			zap.Uint("attempt", n+1),
			zap.Uint("max_attempts", cfg.Retry.MaxAttempts),
			zap.Error(err),
		)
	})
}

func snippet(body []byte) string {
	const max = 200
	if len(body) > max {
		return string(body[:max]) + "..."
	}
	return string(body)
}

func formatDate(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
