package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/datum-agro/safra-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. It exists for
// local, single-file runs; semantics match the Postgres store, with dates
// stored as ISO-8601 text.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS crop_yields (
	year            INTEGER NOT NULL,
	region          TEXT NOT NULL,
	crop            TEXT NOT NULL,
	planted_area_ha REAL,
	production_t    REAL,
	yield_kg_ha     REAL,
	PRIMARY KEY (year, region, crop)
);

CREATE TABLE IF NOT EXISTS stations (
	code            TEXT PRIMARY KEY,
	name            TEXT NOT NULL,
	latitude        REAL NOT NULL,
	longitude       REAL NOT NULL,
	altitude        REAL NOT NULL,
	operation_start TEXT NOT NULL,
	region          TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_stations_region ON stations(region);

CREATE TABLE IF NOT EXISTS localities (
	name      TEXT PRIMARY KEY,
	latitude  REAL NOT NULL,
	longitude REAL NOT NULL
);

CREATE TABLE IF NOT EXISTS daily_observations (
	owner_kind       TEXT NOT NULL CHECK (owner_kind IN ('station', 'locality')),
	owner_code       TEXT NOT NULL,
	obs_date         TEXT NOT NULL,
	precipitation_mm REAL,
	temp_max_c       REAL,
	temp_min_c       REAL,
	humidity_pct     REAL,
	PRIMARY KEY (owner_kind, owner_code, obs_date)
);

CREATE INDEX IF NOT EXISTS idx_daily_observations_date ON daily_observations(obs_date);

CREATE TABLE IF NOT EXISTS ingest_runs (
	id           TEXT PRIMARY KEY,
	source       TEXT NOT NULL,
	status       TEXT NOT NULL,
	started_at   TEXT NOT NULL,
	completed_at TEXT,
	rows_written INTEGER NOT NULL DEFAULT 0,
	error        TEXT,
	metadata     TEXT
);

CREATE INDEX IF NOT EXISTS idx_ingest_runs_source ON ingest_runs(source, started_at DESC);
`

const sqliteDate = "2006-01-02"

// Migrate creates the schema if it does not exist.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ReplaceCropYields atomically swaps the complete crop-yield dataset.
func (s *SQLiteStore) ReplaceCropYields(ctx context.Context, records []model.CropYield) (int64, error) {
	records = dedupeCropYields(records)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: replace crop yields: begin")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM crop_yields`); err != nil {
		return 0, eris.Wrap(err, "sqlite: replace crop yields: delete")
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO crop_yields (year, region, crop, planted_area_ha, production_t, yield_kg_ha)
		 VALUES (?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: replace crop yields: prepare")
	}
	defer stmt.Close() //nolint:errcheck

	var n int64
	for _, r := range records {
		if _, err := stmt.ExecContext(ctx, r.Year, r.Region, r.Crop, fval(r.PlantedAreaHa), fval(r.ProductionT), fval(r.YieldKgHa)); err != nil {
			return 0, wrapSQLiteConflict(err, "sqlite: replace crop yields: insert")
		}
		n++
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: replace crop yields: commit")
	}
	return n, nil
}

// CropYears returns the distinct harvest years present, ascending.
func (s *SQLiteStore) CropYears(ctx context.Context) ([]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT year FROM crop_yields ORDER BY year`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: crop years")
	}
	defer rows.Close() //nolint:errcheck

	var years []int
	for rows.Next() {
		var y int
		if err := rows.Scan(&y); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan crop year")
		}
		years = append(years, y)
	}
	return years, rows.Err()
}

// UpsertStations writes the station catalog, keyed by station code.
func (s *SQLiteStore) UpsertStations(ctx context.Context, stations []model.Station) (int64, error) {
	return s.upsertEach(ctx, "sqlite: upsert stations",
		`INSERT INTO stations (code, name, latitude, longitude, altitude, operation_start, region)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(code) DO UPDATE SET
			name = excluded.name,
			latitude = excluded.latitude,
			longitude = excluded.longitude,
			altitude = excluded.altitude,
			operation_start = excluded.operation_start,
			region = excluded.region`,
		len(stations),
		func(i int) []any {
			st := stations[i]
			return []any{st.Code, st.Name, st.Latitude, st.Longitude, st.Altitude, st.OperationStart.Format(sqliteDate), st.Region}
		},
	)
}

// UpsertLocalities writes the satellite sampling points, keyed by name.
func (s *SQLiteStore) UpsertLocalities(ctx context.Context, localities []model.Locality) (int64, error) {
	return s.upsertEach(ctx, "sqlite: upsert localities",
		`INSERT INTO localities (name, latitude, longitude)
		 VALUES (?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET
			latitude = excluded.latitude,
			longitude = excluded.longitude`,
		len(localities),
		func(i int) []any {
			l := localities[i]
			return []any{l.Name, l.Latitude, l.Longitude}
		},
	)
}

// UpsertObservations writes daily observations keyed by (owner, date).
func (s *SQLiteStore) UpsertObservations(ctx context.Context, observations []model.Observation) (int64, error) {
	return s.upsertEach(ctx, "sqlite: upsert observations",
		`INSERT INTO daily_observations (owner_kind, owner_code, obs_date, precipitation_mm, temp_max_c, temp_min_c, humidity_pct)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(owner_kind, owner_code, obs_date) DO UPDATE SET
			precipitation_mm = excluded.precipitation_mm,
			temp_max_c = excluded.temp_max_c,
			temp_min_c = excluded.temp_min_c,
			humidity_pct = excluded.humidity_pct`,
		len(observations),
		func(i int) []any {
			o := observations[i]
			return []any{
				string(o.OwnerKind), o.OwnerCode, o.Date.Format(sqliteDate),
				fval(o.PrecipitationMM), fval(o.TempMaxC), fval(o.TempMinC), fval(o.HumidityPct),
			}
		},
	)
}

// upsertEach runs one prepared upsert statement per record inside a single
// transaction. SQLite has no COPY protocol; a transaction-wrapped prepared
// statement is the idiomatic equivalent.
func (s *SQLiteStore) upsertEach(ctx context.Context, msg, query string, count int, args func(int) []any) (int64, error) {
	if count == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrapf(err, "%s: begin", msg)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return 0, eris.Wrapf(err, "%s: prepare", msg)
	}
	defer stmt.Close() //nolint:errcheck

	var n int64
	for i := 0; i < count; i++ {
		if _, err := stmt.ExecContext(ctx, args(i)...); err != nil {
			return 0, wrapSQLiteConflict(err, msg)
		}
		n++
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrapf(err, "%s: commit", msg)
	}
	return n, nil
}

// ProductionByYear sums production per year for crops whose name contains
// the filter, case-insensitively.
func (s *SQLiteStore) ProductionByYear(ctx context.Context, cropFilter string) (map[int]float64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT year, SUM(production_t)
		 FROM crop_yields
		 WHERE production_t IS NOT NULL AND lower(crop) LIKE '%' || lower(?) || '%'
		 GROUP BY year`,
		cropFilter,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: production by year")
	}
	defer rows.Close() //nolint:errcheck

	out := make(map[int]float64)
	for rows.Next() {
		var year int
		var total float64
		if err := rows.Scan(&year, &total); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan production row")
		}
		out[year] = total
	}
	return out, rows.Err()
}

// PrecipitationByYear sums precipitation across all owners per calendar year.
func (s *SQLiteStore) PrecipitationByYear(ctx context.Context) (map[int]float64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT CAST(strftime('%Y', obs_date) AS INTEGER) AS year, SUM(precipitation_mm)
		 FROM daily_observations
		 WHERE precipitation_mm IS NOT NULL
		 GROUP BY 1`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: precipitation by year")
	}
	defer rows.Close() //nolint:errcheck

	out := make(map[int]float64)
	for rows.Next() {
		var year int
		var total float64
		if err := rows.Scan(&year, &total); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan precipitation row")
		}
		out[year] = total
	}
	return out, rows.Err()
}

// StartRun records the beginning of a source run and returns its ID.
func (s *SQLiteStore) StartRun(ctx context.Context, source string) (string, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO ingest_runs (id, source, status, started_at) VALUES (?, ?, ?, ?)`,
		id, source, RunRunning, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return "", eris.Wrapf(err, "sqlite: start run for %s", source)
	}
	return id, nil
}

// CompleteRun marks a run as successfully completed.
func (s *SQLiteStore) CompleteRun(ctx context.Context, runID string, rowsWritten int64, metadata map[string]any) error {
	var metaJSON []byte
	if metadata != nil {
		var err error
		metaJSON, err = json.Marshal(metadata)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal run metadata")
		}
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE ingest_runs
		 SET status = ?, completed_at = ?, rows_written = ?, metadata = ?
		 WHERE id = ?`,
		RunComplete, time.Now().UTC().Format(time.RFC3339), rowsWritten, nullableBytes(metaJSON), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete run %s", runID)
	}
	return nil
}

// FailRun marks a run as failed with an error message.
func (s *SQLiteStore) FailRun(ctx context.Context, runID string, errMsg string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE ingest_runs
		 SET status = ?, completed_at = ?, error = ?
		 WHERE id = ?`,
		RunFailed, time.Now().UTC().Format(time.RFC3339), errMsg, runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: fail run %s", runID)
	}
	return nil
}

// LastSuccess returns the started_at of the most recent complete run for a
// source, or nil if it has never completed.
func (s *SQLiteStore) LastSuccess(ctx context.Context, source string) (*time.Time, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT started_at FROM ingest_runs
		 WHERE source = ? AND status = ?
		 ORDER BY started_at DESC LIMIT 1`,
		source, RunComplete,
	).Scan(&raw)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "sqlite: last success for %s", source)
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: parse started_at %q", raw)
	}
	return &t, nil
}

// ListRuns returns all run log entries, most recent first.
func (s *SQLiteStore) ListRuns(ctx context.Context) ([]RunEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, source, status, started_at, completed_at, rows_written, error, metadata
		 FROM ingest_runs ORDER BY started_at DESC`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close() //nolint:errcheck

	var entries []RunEntry
	for rows.Next() {
		var e RunEntry
		var startedAt string
		var completedAt, errStr, metaJSON sql.NullString
		if err := rows.Scan(&e.ID, &e.Source, &e.Status, &startedAt, &completedAt, &e.RowsWritten, &errStr, &metaJSON); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run entry")
		}
		t, err := time.Parse(time.RFC3339, startedAt)
		if err != nil {
			return nil, eris.Wrapf(err, "sqlite: parse started_at %q", startedAt)
		}
		e.StartedAt = t
		if completedAt.Valid {
			ct, err := time.Parse(time.RFC3339, completedAt.String)
			if err != nil {
				return nil, eris.Wrapf(err, "sqlite: parse completed_at %q", completedAt.String)
			}
			e.CompletedAt = &ct
		}
		if errStr.Valid {
			e.Error = errStr.String
		}
		if metaJSON.Valid {
			_ = json.Unmarshal([]byte(metaJSON.String), &e.Metadata)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// nullableBytes maps an empty byte slice to SQL NULL.
func nullableBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

// wrapSQLiteConflict tags unique-violation errors with ErrConflict.
func wrapSQLiteConflict(err error, msg string) error {
	if err != nil && strings.Contains(err.Error(), "constraint failed") {
		return eris.Wrap(ErrConflict, err.Error())
	}
	return eris.Wrap(err, msg)
}
