package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/i474232898/weather-history-collector/internal/common"
	"github.com/i474232898/weather-history-collector/internal/weather"
)

func (s *SQLStore) selectColumns() string {
	cols := []string{"city", "observed_at", "provider"}
	for _, f := range weather.Fields() {
		cols = append(cols, string(f))
	}
	cols = append(cols, "raw_json")
	return strings.Join(cols, ", ")
}

// History returns the observations stored for city between from and to
// (inclusive), oldest first.
func (s *SQLStore) History(ctx context.Context, city string, from, to time.Time) ([]weather.Observation, error) {
	query := fmt.Sprintf(
		"SELECT %s FROM %s WHERE city = %s AND observed_at >= %s AND observed_at <= %s ORDER BY observed_at",
		s.selectColumns(), s.table,
		s.dialect.Placeholder(1), s.dialect.Placeholder(2), s.dialect.Placeholder(3),
	)
	rows, err := s.db.QueryContext(ctx, query, city, from.UTC(), to.UTC())
	if err != nil {
		return nil, s.readErr(err)
	}
	defer rows.Close()

	var result []weather.Observation
	for rows.Next() {
		o, err := scanObservation(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(result) == 0 {
		return nil, ErrNotFound
	}
	return result, nil
}

// Latest returns the most recent observation for city.
func (s *SQLStore) Latest(ctx context.Context, city string) (weather.Observation, error) {
	query := fmt.Sprintf(
		"SELECT %s FROM %s WHERE city = %s AND observed_at IS NOT NULL ORDER BY observed_at DESC LIMIT 1",
		s.selectColumns(), s.table, s.dialect.Placeholder(1),
	)
	o, err := scanObservation(s.db.QueryRowContext(ctx, query, city))
	if errors.Is(err, sql.ErrNoRows) {
		return weather.Observation{}, ErrNotFound
	}
	if err != nil {
		return weather.Observation{}, s.readErr(err)
	}
	return o, nil
}

// Count returns the number of stored rows for city, or for every city when
// city is empty.
func (s *SQLStore) Count(ctx context.Context, city string) (int, error) {
	query := "SELECT COUNT(*) FROM " + s.table
	var args []any
	if city != "" {
		query += " WHERE city = " + s.dialect.Placeholder(1)
		args = append(args, city)
	}
	var n int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, s.readErr(err)
	}
	return n, nil
}

// readErr maps a query against a table that was never created to ErrNotFound.
func (s *SQLStore) readErr(err error) error {
	if common.IsMissingRelation(err) {
		return ErrNotFound
	}
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanObservation(row rowScanner) (weather.Observation, error) {
	var (
		o        weather.Observation
		provider sql.NullString
		raw      sql.NullString
	)
	fields := weather.Fields()
	dest := make([]any, 0, len(fields)+4)
	dest = append(dest, &o.City, &o.Timestamp, &provider)

	values := make([]any, len(fields))
	for i, f := range fields {
		switch f.Kind() {
		case weather.KindReal:
			values[i] = new(sql.NullFloat64)
		case weather.KindInteger:
			values[i] = new(sql.NullInt64)
		default:
			values[i] = new(sql.NullString)
		}
		dest = append(dest, values[i])
	}
	dest = append(dest, &raw)

	if err := row.Scan(dest...); err != nil {
		return o, err
	}

	o.Timestamp = o.Timestamp.UTC()
	o.Provider = provider.String
	o.Measurements = make(map[weather.Field]any)
	for i, f := range fields {
		switch v := values[i].(type) {
		case *sql.NullFloat64:
			if v.Valid {
				o.Measurements[f] = v.Float64
			}
		case *sql.NullInt64:
			if v.Valid {
				o.Measurements[f] = v.Int64
			}
		case *sql.NullString:
			if v.Valid {
				o.Measurements[f] = v.String
			}
		}
	}
	if raw.Valid && raw.String != "" {
		o.Raw = json.RawMessage(raw.String)
	}
	return o, nil
}
