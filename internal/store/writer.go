package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/i474232898/weather-history-collector/internal/weather"
)

const savepoint = "weather_record"

func (s *SQLStore) insertSQL() string {
	cols := []string{"city", "observed_at", "provider"}
	for _, f := range weather.Fields() {
		cols = append(cols, string(f))
	}
	cols = append(cols, "raw_json")

	marks := make([]string, len(cols))
	for i := range cols {
		marks[i] = s.dialect.Placeholder(i + 1)
	}
	return fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT DO NOTHING",
		s.table, strings.Join(cols, ", "), strings.Join(marks, ", "),
	)
}

func insertArgs(o weather.Observation) []any {
	args := []any{o.City, o.Timestamp.UTC(), nullable(o.Provider)}
	for _, f := range weather.Fields() {
		args = append(args, o.Value(f))
	}
	if len(o.Raw) == 0 {
		return append(args, nil)
	}
	// string, not []byte: pq would send a byte slice as bytea.
	return append(args, string(o.Raw))
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// Write stores a batch for city in one transaction. Each record runs inside
// its own savepoint, so a rejected record is rolled back alone and the rest
// of the batch still commits. Rows that already exist for (city, observed_at)
// are counted as conflicts and left untouched.
func (s *SQLStore) Write(ctx context.Context, city string, obs []weather.Observation) (weather.WriteResult, error) {
	var res weather.WriteResult
	if len(obs) == 0 {
		return res, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return res, fmt.Errorf("begin write for %s: %w", city, err)
	}
	defer tx.Rollback()

	log := s.logger.With(zap.String("city", city))
	query := s.insertSQL()
	for i, o := range obs {
		o.City = city
		if err := s.validate.Struct(o); err != nil {
			res.Failed++
			res.Errors = append(res.Errors, fmt.Errorf("record %d: %w", i, err))
			log.Warn("record rejected", zap.Int("index", i), zap.Error(err))
			continue
		}

		inserted, err := s.insertOne(ctx, tx, query, o)
		if err != nil {
			res.Failed++
			res.Errors = append(res.Errors, fmt.Errorf("record %d (%s): %w", i, o.Timestamp.Format("2006-01-02T15:04:05Z"), err))
			log.Warn("record insert failed", zap.Int("index", i), zap.Time("observed_at", o.Timestamp), zap.Error(err))
			continue
		}
		if inserted {
			res.Inserted++
		} else {
			res.Conflicts++
		}
	}

	if err := tx.Commit(); err != nil {
		return weather.WriteResult{Failed: len(obs), Errors: []error{err}}, fmt.Errorf("commit write for %s: %w", city, err)
	}

	log.Debug("batch written",
		zap.Int("inserted", res.Inserted),
		zap.Int("conflicts", res.Conflicts),
		zap.Int("failed", res.Failed),
	)
	return res, nil
}

func (s *SQLStore) insertOne(ctx context.Context, tx *sql.Tx, query string, o weather.Observation) (bool, error) {
	if _, err := tx.ExecContext(ctx, "SAVEPOINT "+savepoint); err != nil {
		return false, fmt.Errorf("savepoint: %w", err)
	}

	r, err := tx.ExecContext(ctx, query, insertArgs(o)...)
	if err != nil {
		if _, rbErr := tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+savepoint); rbErr != nil {
			return false, errors.Join(err, fmt.Errorf("rollback to savepoint: %w", rbErr))
		}
		tx.ExecContext(ctx, "RELEASE SAVEPOINT "+savepoint)
		return false, err
	}

	if _, err := tx.ExecContext(ctx, "RELEASE SAVEPOINT "+savepoint); err != nil {
		return false, fmt.Errorf("release savepoint: %w", err)
	}

	n, err := r.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
