package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/i474232898/weather-history-collector/internal/weather"
)

type column struct {
	name    string
	typ     colType
	notNull bool
	def     string
}

// Columns left behind by the first Meteostat-only revision of the table.
var deprecatedColumns = []string{
	"dt", "tavg", "tmin", "tmax", "prcp", "snow", "wdir", "wspd", "wpgt", "pres", "tsun",
}

// legacyColumns maps each deprecated measurement column to the canonical
// column that replaced it.
var legacyColumns = []struct{ legacy, canonical string }{
	{"tavg", string(weather.FieldTempAvg)},
	{"tmin", string(weather.FieldTempMin)},
	{"tmax", string(weather.FieldTempMax)},
	{"prcp", string(weather.FieldPrecipitation)},
	{"snow", string(weather.FieldSnowDepth)},
	{"wdir", string(weather.FieldWindDirection)},
	{"wspd", string(weather.FieldWindSpeed)},
	{"wpgt", string(weather.FieldWindGust)},
	{"pres", string(weather.FieldPressure)},
	{"tsun", string(weather.FieldSunshine)},
}

func canonicalColumns() []column {
	cols := []column{
		{name: "city", typ: colText, notNull: true},
		{name: "observed_at", typ: colTimestamp, notNull: true},
		{name: "provider", typ: colText},
	}
	for _, f := range weather.Fields() {
		cols = append(cols, column{name: string(f), typ: fieldColType(f.Kind())})
	}
	return append(cols,
		column{name: "raw_json", typ: colJSON},
		column{name: "collected_at", typ: colTimestamp, def: "CURRENT_TIMESTAMP"},
	)
}

func fieldColType(k weather.FieldKind) colType {
	switch k {
	case weather.KindReal:
		return colReal
	case weather.KindInteger:
		return colInteger
	default:
		return colText
	}
}

// ExpectedColumns lists every column of a reconciled table, id first.
func ExpectedColumns() []string {
	names := []string{"id"}
	for _, c := range canonicalColumns() {
		names = append(names, c.name)
	}
	return names
}

// definition renders the column for CREATE TABLE, or for ALTER TABLE ADD
// COLUMN where constraints and non-constant defaults are not allowed on
// tables that already hold rows.
func (c column) definition(d Dialect, forAlter bool) string {
	def := c.name + " " + d.Type(c.typ)
	if forAlter {
		return def
	}
	if c.notNull {
		def += " NOT NULL"
	}
	if c.def != "" {
		def += " DEFAULT " + c.def
	}
	return def
}

func createTableDDL(d Dialect, table string, extra ...string) string {
	defs := []string{d.IDColumn()}
	for _, c := range canonicalColumns() {
		defs = append(defs, c.definition(d, false))
	}
	defs = append(defs, extra...)
	return fmt.Sprintf("CREATE TABLE %s (\n\t%s\n)", table, strings.Join(defs, ",\n\t"))
}

func uniqueIndexDDL(table string) string {
	return fmt.Sprintf("CREATE UNIQUE INDEX IF NOT EXISTS %s_city_observed_at_key ON %s (city, observed_at)", table, table)
}

// diffColumns compares live columns against the canonical set.
func diffColumns(existing []string) (missing, deprecated []string) {
	have := make(map[string]bool, len(existing))
	for _, name := range existing {
		have[strings.ToLower(name)] = true
	}
	for _, name := range ExpectedColumns() {
		if !have[name] {
			missing = append(missing, name)
		}
	}
	for _, name := range deprecatedColumns {
		if have[name] {
			deprecated = append(deprecated, name)
		}
	}
	return missing, deprecated
}

// EnsureSchema makes sure the table exists with the canonical columns and the
// (city, observed_at) unique index. Running it twice in a row is a no-op the
// second time.
func (s *SQLStore) EnsureSchema(ctx context.Context) (weather.SchemaResult, error) {
	existing, err := s.dialect.ListColumns(ctx, s.db, s.table)
	if err != nil {
		return weather.SchemaResult{Action: weather.SchemaFailed}, fmt.Errorf("listing columns of %s: %w", s.table, err)
	}

	if len(existing) == 0 {
		if err := s.inTx(ctx, func(tx *sql.Tx) error {
			return s.createTable(ctx, tx)
		}); err != nil {
			return weather.SchemaResult{Action: weather.SchemaFailed}, err
		}
		s.logger.Info("table created", zap.String("table", s.table))
		return weather.SchemaResult{Action: weather.SchemaCreated}, nil
	}

	missing, deprecated := diffColumns(existing)
	result := weather.SchemaResult{Missing: missing, Deprecated: deprecated}
	if len(missing) == 0 && len(deprecated) == 0 {
		if _, err := s.db.ExecContext(ctx, uniqueIndexDDL(s.table)); err != nil {
			result.Action = weather.SchemaFailed
			return result, fmt.Errorf("creating unique index: %w", err)
		}
		result.Action = weather.SchemaUnchanged
		return result, nil
	}

	log := s.logger.With(
		zap.String("table", s.table),
		zap.Strings("missing", missing),
		zap.Strings("deprecated", deprecated),
		zap.String("mode", string(s.mode)),
	)

	switch s.mode {
	case MigrateRecreate:
		log.Warn("schema drift detected; dropping and recreating table, existing rows are discarded")
		err = s.inTx(ctx, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, "DROP TABLE "+s.table); err != nil {
				return fmt.Errorf("dropping %s: %w", s.table, err)
			}
			return s.createTable(ctx, tx)
		})
		if err != nil {
			result.Action = weather.SchemaFailed
			return result, err
		}
		result.Action = weather.SchemaRecreated

	case MigrateAdditive:
		added := 0
		var backfilled int64
		err = s.inTx(ctx, func(tx *sql.Tx) error {
			byName := make(map[string]column)
			for _, c := range canonicalColumns() {
				byName[c.name] = c
			}
			for _, name := range missing {
				c, ok := byName[name]
				if !ok {
					// id cannot be added to a populated table portably.
					log.Warn("column cannot be added in place", zap.String("column", name))
					continue
				}
				stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", s.table, c.definition(s.dialect, true))
				if _, err := tx.ExecContext(ctx, stmt); err != nil {
					return fmt.Errorf("adding column %s: %w", name, err)
				}
				added++
			}
			if len(deprecated) > 0 {
				n, err := s.backfillLegacy(ctx, tx, existing)
				if err != nil {
					return err
				}
				if n > 0 {
					log.Info("legacy rows backfilled", zap.Int64("rows", n))
				}
				backfilled = n
			}
			_, err := tx.ExecContext(ctx, uniqueIndexDDL(s.table))
			return err
		})
		if err != nil {
			result.Action = weather.SchemaFailed
			return result, err
		}
		if len(deprecated) > 0 {
			log.Warn("deprecated columns left in place")
		}
		result.Action = weather.SchemaAltered
		if added == 0 && backfilled == 0 {
			result.Action = weather.SchemaDrifted
		}

	default:
		log.Warn("schema drift detected; migration disabled")
		result.Action = weather.SchemaDrifted
	}

	return result, nil
}

// backfillLegacy copies values from the deprecated columns into their
// canonical replacements. Rows keyed only by dt get observed_at set to that
// day's UTC midnight; of several rows for the same city and day only the one
// with the lowest id is keyed, so the unique index can still be built.
func (s *SQLStore) backfillLegacy(ctx context.Context, tx *sql.Tx, existing []string) (int64, error) {
	have := make(map[string]bool, len(existing))
	for _, name := range existing {
		have[strings.ToLower(name)] = true
	}

	var total int64
	var sets, pending []string
	for _, c := range legacyColumns {
		if !have[c.legacy] {
			continue
		}
		sets = append(sets, fmt.Sprintf("%s = COALESCE(%s, %s)", c.canonical, c.canonical, c.legacy))
		pending = append(pending, fmt.Sprintf("(%s IS NULL AND %s IS NOT NULL)", c.canonical, c.legacy))
	}
	if len(sets) > 0 {
		stmt := fmt.Sprintf("UPDATE %s SET %s WHERE %s",
			s.table, strings.Join(sets, ", "), strings.Join(pending, " OR "))
		res, err := tx.ExecContext(ctx, stmt)
		if err != nil {
			return 0, fmt.Errorf("copying legacy measurements: %w", err)
		}
		n, _ := res.RowsAffected()
		total += n
	}

	if !have["dt"] || !have["id"] {
		return total, nil
	}
	t := s.table
	day := s.dialect.MidnightUTC(t + ".dt")
	stmt := fmt.Sprintf(`UPDATE %[1]s SET observed_at = %[2]s, provider = COALESCE(provider, 'meteostat')
		WHERE observed_at IS NULL AND dt IS NOT NULL AND city IS NOT NULL
		AND id = (SELECT MIN(l.id) FROM %[1]s l WHERE l.city = %[1]s.city AND l.dt = %[1]s.dt)
		AND NOT EXISTS (SELECT 1 FROM %[1]s o WHERE o.city = %[1]s.city AND o.observed_at = %[2]s)`, t, day)
	res, err := tx.ExecContext(ctx, stmt)
	if err != nil {
		return total, fmt.Errorf("deriving observed_at from dt: %w", err)
	}
	n, _ := res.RowsAffected()
	return total + n, nil
}

func (s *SQLStore) createTable(ctx context.Context, tx *sql.Tx) error {
	if _, err := tx.ExecContext(ctx, createTableDDL(s.dialect, s.table)); err != nil {
		return fmt.Errorf("creating %s: %w", s.table, err)
	}
	if _, err := tx.ExecContext(ctx, uniqueIndexDDL(s.table)); err != nil {
		return fmt.Errorf("creating unique index: %w", err)
	}
	return nil
}

func (s *SQLStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}
