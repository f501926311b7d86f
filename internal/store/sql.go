package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// TableName is the relation observations are stored in.
const TableName = "weather_history"

var (
	// ErrNotFound is returned when no data is available for a given city.
	ErrNotFound = errors.New("no weather data for city")
)

// MigrationMode decides what EnsureSchema does about a drifted table.
type MigrationMode string

const (
	// MigrateRecreate drops and recreates the table, discarding its rows.
	MigrateRecreate MigrationMode = "recreate"
	// MigrateAdditive adds missing columns and leaves everything else alone.
	MigrateAdditive MigrationMode = "additive"
	// MigrateOff only reports drift.
	MigrateOff MigrationMode = "off"
)

// SQLStore persists observations in a SQL database.
type SQLStore struct {
	db       *sql.DB
	dialect  Dialect
	table    string
	mode     MigrationMode
	logger   *zap.Logger
	validate *validator.Validate
}

// Option customises a SQLStore.
type Option func(*SQLStore)

func WithMigrationMode(mode MigrationMode) Option {
	return func(s *SQLStore) { s.mode = mode }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *SQLStore) { s.logger = l }
}

// Open connects to the database, retrying the initial ping a few times while
// the database container comes up.
func Open(ctx context.Context, driver, dsn string, opts ...Option) (*SQLStore, error) {
	dialect, err := DialectFor(driver)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(dialect.DriverName(), dialect.PrepareDSN(dsn))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dialect.Name() == "sqlite" {
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(5)
		db.SetMaxIdleConns(2)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	s := New(db, dialect, opts...)
	err = retry.Do(
		func() error {
			pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			return db.PingContext(pingCtx)
		},
		retry.Context(ctx),
		retry.Attempts(5),
		retry.Delay(2*time.Second),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			s.logger.Warn("database not reachable yet", zap.Uint("attempt", n+1), zap.Error(err))
		}),
	)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return s, nil
}

// New wraps an open database handle.
func New(db *sql.DB, dialect Dialect, opts ...Option) *SQLStore {
	s := &SQLStore{
		db:       db,
		dialect:  dialect,
		table:    TableName,
		mode:     MigrateAdditive,
		logger:   zap.NewNop(),
		validate: validator.New(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(zap.String("component", "store"), zap.String("dialect", dialect.Name()))
	return s
}

// DB exposes the underlying handle.
func (s *SQLStore) DB() *sql.DB {
	return s.db
}

// Ping checks the database connection.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}
