package weather

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrCycleRunning is returned by TryRunCycle while another cycle is in progress.
var ErrCycleRunning = errors.New("a collection cycle is already running")

// CycleMode selects which targets a cycle visits.
type CycleMode string

const (
	CycleAll    CycleMode = "all"
	CycleRandom CycleMode = "random"
)

// CityReport is the outcome of one city within a cycle.
type CityReport struct {
	City      string `json:"city"`
	Window    Window `json:"window"`
	Records   int    `json:"records"`
	Dropped   int    `json:"dropped"`
	Inserted  int    `json:"inserted"`
	Conflicts int    `json:"conflicts"`
	Failed    int    `json:"failed"`
	Error     string `json:"error,omitempty"`
}

// CycleReport summarises one collection cycle.
type CycleReport struct {
	ID         string       `json:"id"`
	Trigger    string       `json:"trigger"`
	StartedAt  time.Time    `json:"startedAt"`
	FinishedAt time.Time    `json:"finishedAt"`
	Skipped    bool         `json:"skipped,omitempty"`
	Schema     SchemaResult `json:"schema"`
	Cities     []CityReport `json:"cities"`
}

// Inserted returns the number of rows stored across all cities.
func (r CycleReport) Inserted() int {
	n := 0
	for _, c := range r.Cities {
		n += c.Inserted
	}
	return n
}

// FailedCities returns the number of cities that ended with an error.
func (r CycleReport) FailedCities() int {
	n := 0
	for _, c := range r.Cities {
		if c.Error != "" {
			n++
		}
	}
	return n
}

// Service orchestrates collection cycles: schema check, then fetch, normalise
// and write for each configured city, one city at a time.
type Service struct {
	provider Provider
	store    Store
	targets  []CityTarget
	mode     CycleMode
	locker   CycleLocker
	reporter CycleReporter
	logger   *zap.Logger
	now      func() time.Time
	pick     func(n int) int

	mu     sync.Mutex // serialises cycles
	lastMu sync.RWMutex
	last   *CycleReport
}

// Option customises a Service.
type Option func(*Service)

func WithCycleMode(mode CycleMode) Option {
	return func(s *Service) { s.mode = mode }
}

func WithLocker(l CycleLocker) Option {
	return func(s *Service) { s.locker = l }
}

func WithReporter(r CycleReporter) Option {
	return func(s *Service) { s.reporter = r }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithPicker replaces the random index source used in random cycle mode.
func WithPicker(pick func(n int) int) Option {
	return func(s *Service) { s.pick = pick }
}

// NewService creates a new Service.
func NewService(provider Provider, store Store, targets []CityTarget, opts ...Option) *Service {
	s := &Service{
		provider: provider,
		store:    store,
		targets:  append([]CityTarget(nil), targets...),
		mode:     CycleAll,
		logger:   zap.NewNop(),
		now:      time.Now,
		pick:     rand.Intn,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Targets returns the configured targets.
func (s *Service) Targets() []CityTarget {
	return append([]CityTarget(nil), s.targets...)
}

// RunCycle runs one full cycle, waiting for any cycle already in progress.
func (s *Service) RunCycle(ctx context.Context, trigger string) CycleReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.run(ctx, trigger)
}

// TryRunCycle runs a cycle unless one is already in progress.
func (s *Service) TryRunCycle(ctx context.Context, trigger string) (CycleReport, error) {
	if !s.mu.TryLock() {
		return CycleReport{}, ErrCycleRunning
	}
	defer s.mu.Unlock()
	return s.run(ctx, trigger), nil
}

// LastReport returns the report of the most recent cycle.
func (s *Service) LastReport() (CycleReport, bool) {
	s.lastMu.RLock()
	defer s.lastMu.RUnlock()
	if s.last == nil {
		return CycleReport{}, false
	}
	return *s.last, true
}

func (s *Service) run(ctx context.Context, trigger string) CycleReport {
	report := CycleReport{
		ID:        uuid.NewString(),
		Trigger:   trigger,
		StartedAt: s.now().UTC(),
	}
	log := s.logger.With(zap.String("cycle_id", report.ID), zap.String("trigger", trigger))
	log.Info("collection cycle started", zap.String("provider", s.provider.Name()), zap.Int("targets", len(s.targets)))

	if s.locker != nil {
		release, ok, err := s.locker.Acquire(ctx)
		switch {
		case err != nil:
			log.Warn("cycle lock unavailable; continuing without it", zap.Error(err))
		case !ok:
			log.Info("cycle lock held by another instance; skipping cycle")
			report.Skipped = true
			return s.finish(ctx, log, report)
		default:
			defer release()
		}
	}

	schema, err := s.store.EnsureSchema(ctx)
	if err != nil {
		log.Error("schema reconciliation failed; continuing", zap.Error(err))
		schema.Action = SchemaFailed
	}
	report.Schema = schema

	for _, target := range s.selectTargets() {
		if ctx.Err() != nil {
			log.Warn("cycle cancelled", zap.Error(ctx.Err()))
			break
		}
		report.Cities = append(report.Cities, s.collectCity(ctx, log, target))
	}

	return s.finish(ctx, log, report)
}

func (s *Service) finish(ctx context.Context, log *zap.Logger, report CycleReport) CycleReport {
	report.FinishedAt = s.now().UTC()
	log.Info("collection cycle finished",
		zap.Int("cities", len(report.Cities)),
		zap.Int("failed_cities", report.FailedCities()),
		zap.Int("inserted", report.Inserted()),
		zap.Duration("took", report.FinishedAt.Sub(report.StartedAt)),
	)

	s.lastMu.Lock()
	s.last = &report
	s.lastMu.Unlock()

	if s.reporter != nil {
		if err := s.reporter.PublishCycle(ctx, report); err != nil {
			log.Warn("publishing cycle report failed", zap.Error(err))
		}
	}
	return report
}

func (s *Service) selectTargets() []CityTarget {
	if s.mode == CycleRandom && len(s.targets) > 1 {
		return []CityTarget{s.targets[s.pick(len(s.targets))]}
	}
	return s.targets
}

func (s *Service) collectCity(ctx context.Context, log *zap.Logger, target CityTarget) CityReport {
	window := s.provider.Window(s.now())
	cr := CityReport{City: target.Name, Window: window}
	log = log.With(zap.String("city", target.Name))

	body, err := s.provider.Fetch(ctx, target, window)
	if err != nil {
		log.Warn("fetch failed; skipping city", zap.Error(err))
		cr.Error = err.Error()
		return cr
	}

	res, err := NormalizeBody(target.Name, s.provider.Name(), body, s.provider.Mapping())
	if err != nil {
		log.Warn("response unusable; skipping city", zap.Error(err))
		cr.Error = err.Error()
		return cr
	}

	cr.Records = len(res.Observations) + res.Dropped()
	cr.Dropped = res.Dropped()
	for _, rerr := range res.Errors {
		log.Warn("record dropped", zap.Int("index", rerr.Index), zap.Error(rerr.Err))
	}
	if len(res.Observations) == 0 {
		log.Info("no observations to write")
		return cr
	}

	wr, err := s.store.Write(ctx, target.Name, res.Observations)
	cr.Inserted = wr.Inserted
	cr.Conflicts = wr.Conflicts
	cr.Failed = wr.Failed
	if err != nil {
		log.Error("write failed", zap.Error(err))
		cr.Error = err.Error()
		return cr
	}

	log.Info("city collected",
		zap.Int("records", cr.Records),
		zap.Int("dropped", cr.Dropped),
		zap.Int("inserted", cr.Inserted),
		zap.Int("conflicts", cr.Conflicts),
		zap.Int("failed", cr.Failed),
	)
	return cr
}
