package weather_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap/zaptest"

	"github.com/i474232898/weather-history-collector/internal/store"
	"github.com/i474232898/weather-history-collector/internal/weather"
	"github.com/i474232898/weather-history-collector/internal/weather/providers"
)

// fakeProvider serves five daily records per city.
type fakeProvider struct {
	mu      sync.Mutex
	calls   []string
	failFor map[string]error
	bodies  map[string]string

	started chan struct{}
	release chan struct{}
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) Window(now time.Time) weather.Window {
	return weather.TrailingDays(now, 5)
}

func (p *fakeProvider) Fetch(ctx context.Context, target weather.CityTarget, _ weather.Window) ([]byte, error) {
	p.mu.Lock()
	p.calls = append(p.calls, target.Name)
	p.mu.Unlock()

	if p.started != nil {
		p.started <- struct{}{}
		<-p.release
	}
	if err := p.failFor[target.Name]; err != nil {
		return nil, err
	}
	if body, ok := p.bodies[target.Name]; ok {
		return []byte(body), nil
	}
	return []byte(fiveDays()), nil
}

func (p *fakeProvider) Mapping() weather.RecordMapping {
	return weather.RecordMapping{
		TimestampKeys: []string{"date"},
		Fields:        []weather.FieldSource{{Field: weather.FieldTempAvg, Path: "tavg"}},
	}
}

func (p *fakeProvider) called() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

func fiveDays() string {
	records := make([]string, 0, 5)
	for d := 1; d <= 5; d++ {
		records = append(records, fmt.Sprintf(`{"date":"2024-01-0%d","tavg":%d.5}`, d, d))
	}
	return `{"data":[` + strings.Join(records, ",") + `]}`
}

var cities = []weather.CityTarget{{Name: "Vienna"}, {Name: "Berlin"}, {Name: "Paris"}}

var fixedNow = func() time.Time { return time.Date(2024, time.January, 5, 0, 5, 0, 0, time.UTC) }

type fakeLocker struct {
	ok       bool
	err      error
	released bool
}

func (l *fakeLocker) Acquire(context.Context) (func(), bool, error) {
	return func() { l.released = true }, l.ok, l.err
}

type recordingReporter struct {
	reports []weather.CycleReport
}

func (r *recordingReporter) PublishCycle(_ context.Context, report weather.CycleReport) error {
	r.reports = append(r.reports, report)
	return errors.New("broker unavailable")
}

func TestRunCycleIsIdempotent(t *testing.T) {
	ctx := context.Background()
	st, err := store.Open(ctx, "sqlite", filepath.Join(t.TempDir(), "weather.db"), store.WithLogger(zaptest.NewLogger(t)))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer st.Close()

	svc := weather.NewService(&fakeProvider{}, st, cities,
		weather.WithLogger(zaptest.NewLogger(t)),
		weather.WithClock(fixedNow),
	)

	first := svc.RunCycle(ctx, "test")
	if first.Schema.Action != weather.SchemaCreated {
		t.Fatalf("expected table to be created, got %q", first.Schema.Action)
	}
	if first.Inserted() != 15 || first.FailedCities() != 0 {
		t.Fatalf("expected 15 inserted rows, got %+v", first.Cities)
	}

	second := svc.RunCycle(ctx, "test")
	if second.Schema.Action != weather.SchemaUnchanged {
		t.Fatalf("expected unchanged schema, got %q", second.Schema.Action)
	}
	if second.Inserted() != 0 {
		t.Fatalf("rerun must not insert, got %d", second.Inserted())
	}
	for _, c := range second.Cities {
		if c.Conflicts != 5 {
			t.Fatalf("%s: expected 5 conflicts, got %+v", c.City, c)
		}
	}

	n, err := st.Count(ctx, "")
	if err != nil || n != 15 {
		t.Fatalf("expected 15 stored rows, got %d (%v)", n, err)
	}
	if first.ID == second.ID || first.Trigger != "test" {
		t.Fatalf("unexpected report identity %q %q %q", first.ID, second.ID, first.Trigger)
	}
}

func TestRunCycleIsolatesFailingCity(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemoryStore()
	p := &fakeProvider{failFor: map[string]error{"Berlin": errors.New("upstream 503")}}

	report := weather.NewService(p, mem, cities, weather.WithLogger(zaptest.NewLogger(t))).RunCycle(ctx, "test")

	if len(report.Cities) != 3 || report.FailedCities() != 1 {
		t.Fatalf("expected one failed city out of three, got %+v", report.Cities)
	}
	if report.Cities[1].City != "Berlin" || !strings.Contains(report.Cities[1].Error, "503") {
		t.Fatalf("unexpected Berlin report %+v", report.Cities[1])
	}
	if report.Inserted() != 10 {
		t.Fatalf("expected the other cities to be stored, got %d rows", report.Inserted())
	}
	if n, _ := mem.Count(ctx, "Paris"); n != 5 {
		t.Fatalf("city after the failure must still be collected, got %d", n)
	}
}

func TestRunCycleCountsDroppedRecords(t *testing.T) {
	p := &fakeProvider{bodies: map[string]string{
		"Vienna": `{"data":[{"date":"2024-01-01","tavg":1},{"tavg":2},{"date":"2024-01-03","tavg":"n/a"}]}`,
	}}
	report := weather.NewService(p, store.NewMemoryStore(), cities[:1]).RunCycle(context.Background(), "test")

	c := report.Cities[0]
	if c.Records != 3 || c.Dropped != 2 || c.Inserted != 1 || c.Error != "" {
		t.Fatalf("unexpected city report %+v", c)
	}
}

func TestRunCycleUnusablePayload(t *testing.T) {
	p := &fakeProvider{bodies: map[string]string{"Vienna": `{"error":"quota exceeded"}`}}
	report := weather.NewService(p, store.NewMemoryStore(), cities).RunCycle(context.Background(), "test")

	if report.FailedCities() != 1 || report.Inserted() != 10 {
		t.Fatalf("expected only Vienna to fail, got %+v", report.Cities)
	}
}

func TestRandomModeVisitsOneCity(t *testing.T) {
	p := &fakeProvider{}
	svc := weather.NewService(p, store.NewMemoryStore(), cities,
		weather.WithCycleMode(weather.CycleRandom),
		weather.WithPicker(func(n int) int { return n - 1 }),
	)

	report := svc.RunCycle(context.Background(), "test")
	if got := p.called(); len(got) != 1 || got[0] != "Paris" {
		t.Fatalf("expected only Paris to be fetched, got %v", got)
	}
	if len(report.Cities) != 1 {
		t.Fatalf("expected one city report, got %d", len(report.Cities))
	}
}

func TestCycleSkippedWhileLockHeldElsewhere(t *testing.T) {
	p := &fakeProvider{}
	mem := store.NewMemoryStore()
	svc := weather.NewService(p, mem, cities, weather.WithLocker(&fakeLocker{ok: false}))

	report := svc.RunCycle(context.Background(), "schedule")
	if !report.Skipped || len(report.Cities) != 0 {
		t.Fatalf("expected skipped cycle, got %+v", report)
	}
	if len(p.called()) != 0 {
		t.Fatalf("provider must not be called when the lock is held")
	}
	if res, _ := mem.EnsureSchema(context.Background()); res.Action != weather.SchemaCreated {
		t.Fatalf("schema must not be touched by a skipped cycle")
	}
}

func TestCycleRunsWhenLockBackendFails(t *testing.T) {
	locker := &fakeLocker{err: errors.New("redis down")}
	svc := weather.NewService(&fakeProvider{}, store.NewMemoryStore(), cities, weather.WithLocker(locker))

	report := svc.RunCycle(context.Background(), "schedule")
	if report.Skipped || report.Inserted() != 15 {
		t.Fatalf("expected a full cycle without the lock, got %+v", report)
	}

	held := &fakeLocker{ok: true}
	weather.NewService(&fakeProvider{}, store.NewMemoryStore(), cities, weather.WithLocker(held)).RunCycle(context.Background(), "schedule")
	if !held.released {
		t.Fatalf("lock must be released after the cycle")
	}
}

func TestTryRunCycleRejectsOverlap(t *testing.T) {
	p := &fakeProvider{started: make(chan struct{}), release: make(chan struct{})}
	svc := weather.NewService(p, store.NewMemoryStore(), cities[:1], weather.WithLogger(zaptest.NewLogger(t)))

	done := make(chan weather.CycleReport)
	go func() { done <- svc.RunCycle(context.Background(), "schedule") }()
	<-p.started

	if _, err := svc.TryRunCycle(context.Background(), "manual"); !errors.Is(err, weather.ErrCycleRunning) {
		t.Fatalf("expected ErrCycleRunning, got %v", err)
	}

	close(p.release)
	first := <-done
	if first.Inserted() != 5 {
		t.Fatalf("blocked cycle should still finish, got %+v", first)
	}

	// The provider no longer blocks once release is closed, but still signals.
	go func() { <-p.started }()
	report, err := svc.TryRunCycle(context.Background(), "manual")
	if err != nil || report.Trigger != "manual" {
		t.Fatalf("expected manual cycle to run, got %+v (%v)", report, err)
	}
}

func TestReporterAndLastReport(t *testing.T) {
	rep := &recordingReporter{}
	svc := weather.NewService(&fakeProvider{}, store.NewMemoryStore(), cities, weather.WithReporter(rep))

	if _, ok := svc.LastReport(); ok {
		t.Fatalf("no report expected before the first cycle")
	}

	report := svc.RunCycle(context.Background(), "startup")
	if len(rep.reports) != 1 || rep.reports[0].ID != report.ID {
		t.Fatalf("expected the cycle report to be published, got %+v", rep.reports)
	}
	last, ok := svc.LastReport()
	if !ok || last.ID != report.ID || last.FinishedAt.Before(last.StartedAt) {
		t.Fatalf("unexpected last report %+v", last)
	}
}

func TestFailingStationsDoNotBlockHealthyCity(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("station") != "good" {
			http.Error(w, "station not found", http.StatusNotFound)
			return
		}
		w.Write([]byte(`{"data":[{"date":"2024-01-01","tavg":1.5},{"date":"2024-01-02","tavg":2.5}]}`))
	}))
	defer srv.Close()

	tests := []struct {
		name     string
		attempts uint
		targets  []weather.CityTarget
	}{
		{
			name:     "two failing cities",
			attempts: 3,
			targets: []weather.CityTarget{
				{Name: "A", Station: "bad1"},
				{Name: "B", Station: "bad2"},
				{Name: "C", Station: "good"},
			},
		},
		{
			name:     "one failing city with many attempts",
			attempts: 7,
			targets: []weather.CityTarget{
				{Name: "A", Station: "bad1"},
				{Name: "C", Station: "good"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := providers.NewMeteostatProvider(providers.HTTPClientConfig{
				Client: resty.New(),
				Retry: providers.RetryPolicy{
					MaxAttempts: tt.attempts,
					Backoff:     func(uint) time.Duration { return 0 },
				},
				Logger: zaptest.NewLogger(t),
			}, "key", srv.URL, 5)

			report := weather.NewService(p, store.NewMemoryStore(), tt.targets,
				weather.WithLogger(zaptest.NewLogger(t)),
			).RunCycle(context.Background(), "test")

			last := report.Cities[len(report.Cities)-1]
			if last.City != "C" || last.Error != "" || last.Inserted != 2 {
				t.Fatalf("healthy city was not collected: %+v", last)
			}
			if report.FailedCities() != len(tt.targets)-1 {
				t.Fatalf("expected %d failed cities, got %+v", len(tt.targets)-1, report.Cities)
			}
		})
	}
}
