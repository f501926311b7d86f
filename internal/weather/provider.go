package weather

import (
	"context"
	"time"
)

// Provider abstracts a historical weather source (e.g. Meteostat, Visual Crossing, OpenWeather).
type Provider interface {
	Name() string

	// Window returns the span of history to request for a cycle starting at now.
	Window(now time.Time) Window

	// Fetch performs the request for one target and returns the raw body of a
	// successful response. Retries are handled inside the provider.
	Fetch(ctx context.Context, target CityTarget, window Window) ([]byte, error)

	// Mapping describes how the provider's records translate into observations.
	Mapping() RecordMapping
}

// SchemaAction describes what a schema reconciliation did.
type SchemaAction string

const (
	SchemaCreated   SchemaAction = "created"
	SchemaRecreated SchemaAction = "recreated"
	SchemaAltered   SchemaAction = "altered"
	SchemaUnchanged SchemaAction = "unchanged"
	SchemaDrifted   SchemaAction = "drifted"
	SchemaFailed    SchemaAction = "failed"
)

// SchemaResult reports the outcome of EnsureSchema.
type SchemaResult struct {
	Action     SchemaAction `json:"action"`
	Missing    []string     `json:"missing,omitempty"`
	Deprecated []string     `json:"deprecated,omitempty"`
}

// WriteResult reports the outcome of writing one batch.
type WriteResult struct {
	Inserted  int     `json:"inserted"`
	Conflicts int     `json:"conflicts"`
	Failed    int     `json:"failed"`
	Errors    []error `json:"-"`
}

// Store is the contract the SQL store (and the in-memory store) must satisfy.
type Store interface {
	EnsureSchema(ctx context.Context) (SchemaResult, error)
	Write(ctx context.Context, city string, obs []Observation) (WriteResult, error)
}

// HistoryReader serves stored observations back to callers.
type HistoryReader interface {
	History(ctx context.Context, city string, from, to time.Time) ([]Observation, error)
	Latest(ctx context.Context, city string) (Observation, error)
	Ping(ctx context.Context) error
}

// CycleLocker guards a cycle against concurrent runs in other processes.
// Acquire returns ok=false when the lock is held elsewhere.
type CycleLocker interface {
	Acquire(ctx context.Context) (release func(), ok bool, err error)
}

// CycleReporter receives every finished cycle report.
type CycleReporter interface {
	PublishCycle(ctx context.Context, report CycleReport) error
}
