package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/datum-agro/safra-cli/internal/db"
	"github.com/datum-agro/safra-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool db.Pool
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}
	pgxCfg.MaxConns = 10
	pgxCfg.MinConns = 2
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

// NewPostgresFromPool wraps an existing pool. Used by tests with pgxmock.
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS crop_yields (
	year            INTEGER NOT NULL,
	region          TEXT NOT NULL,
	crop            TEXT NOT NULL,
	planted_area_ha DOUBLE PRECISION,
	production_t    DOUBLE PRECISION,
	yield_kg_ha     DOUBLE PRECISION,
	PRIMARY KEY (year, region, crop)
);

CREATE TABLE IF NOT EXISTS stations (
	code            TEXT PRIMARY KEY,
	name            TEXT NOT NULL,
	latitude        DOUBLE PRECISION NOT NULL,
	longitude       DOUBLE PRECISION NOT NULL,
	altitude        DOUBLE PRECISION NOT NULL,
	operation_start DATE NOT NULL,
	region          TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_stations_region ON stations(region);

CREATE TABLE IF NOT EXISTS localities (
	name      TEXT PRIMARY KEY,
	latitude  DOUBLE PRECISION NOT NULL,
	longitude DOUBLE PRECISION NOT NULL
);

CREATE TABLE IF NOT EXISTS daily_observations (
	owner_kind       TEXT NOT NULL CHECK (owner_kind IN ('station', 'locality')),
	owner_code       TEXT NOT NULL,
	obs_date         DATE NOT NULL,
	precipitation_mm DOUBLE PRECISION,
	temp_max_c       DOUBLE PRECISION,
	temp_min_c       DOUBLE PRECISION,
	humidity_pct     DOUBLE PRECISION,
	PRIMARY KEY (owner_kind, owner_code, obs_date)
);

CREATE INDEX IF NOT EXISTS idx_daily_observations_date ON daily_observations(obs_date);

CREATE TABLE IF NOT EXISTS ingest_runs (
	id           TEXT PRIMARY KEY,
	source       TEXT NOT NULL,
	status       TEXT NOT NULL,
	started_at   TIMESTAMPTZ NOT NULL,
	completed_at TIMESTAMPTZ,
	rows_written BIGINT NOT NULL DEFAULT 0,
	error        TEXT,
	metadata     JSONB
);

CREATE INDEX IF NOT EXISTS idx_ingest_runs_source ON ingest_runs(source, started_at DESC);
`

// Migrate creates the schema if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresMigration); err != nil {
		return eris.Wrap(err, "postgres: migrate")
	}
	return nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// fval unwraps an optional float for use as a query argument; nil maps to SQL NULL.
func fval(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

var cropYieldColumns = []string{"year", "region", "crop", "planted_area_ha", "production_t", "yield_kg_ha"}

// ReplaceCropYields atomically swaps the complete crop-yield dataset:
// delete everything, insert the new rows, all in one transaction. A failure
// mid-load rolls back to the previous complete dataset.
func (s *PostgresStore) ReplaceCropYields(ctx context.Context, records []model.CropYield) (int64, error) {
	records = dedupeCropYields(records)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: replace crop yields: begin")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, `DELETE FROM crop_yields`); err != nil {
		return 0, eris.Wrap(err, "postgres: replace crop yields: delete")
	}

	rows := make([][]any, 0, len(records))
	for _, r := range records {
		rows = append(rows, []any{r.Year, r.Region, r.Crop, fval(r.PlantedAreaHa), fval(r.ProductionT), fval(r.YieldKgHa)})
	}

	n, err := tx.CopyFrom(ctx, pgx.Identifier{"crop_yields"}, cropYieldColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return 0, wrapPgConflict(err, "postgres: replace crop yields: copy")
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "postgres: replace crop yields: commit")
	}
	return n, nil
}

// CropYears returns the distinct harvest years present, ascending.
func (s *PostgresStore) CropYears(ctx context.Context) ([]int, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT year FROM crop_yields ORDER BY year`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: crop years")
	}
	defer rows.Close()

	var years []int
	for rows.Next() {
		var y int
		if err := rows.Scan(&y); err != nil {
			return nil, eris.Wrap(err, "postgres: scan crop year")
		}
		years = append(years, y)
	}
	return years, rows.Err()
}

// UpsertStations writes the station catalog, keyed by station code.
func (s *PostgresStore) UpsertStations(ctx context.Context, stations []model.Station) (int64, error) {
	rows := make([][]any, 0, len(stations))
	for _, st := range stations {
		rows = append(rows, []any{st.Code, st.Name, st.Latitude, st.Longitude, st.Altitude, st.OperationStart, st.Region})
	}
	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "stations",
		Columns:      []string{"code", "name", "latitude", "longitude", "altitude", "operation_start", "region"},
		ConflictKeys: []string{"code"},
	}, rows)
	if err != nil {
		return 0, wrapPgConflict(err, "postgres: upsert stations")
	}
	return n, nil
}

// UpsertLocalities writes the satellite sampling points, keyed by name.
func (s *PostgresStore) UpsertLocalities(ctx context.Context, localities []model.Locality) (int64, error) {
	rows := make([][]any, 0, len(localities))
	for _, l := range localities {
		rows = append(rows, []any{l.Name, l.Latitude, l.Longitude})
	}
	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "localities",
		Columns:      []string{"name", "latitude", "longitude"},
		ConflictKeys: []string{"name"},
	}, rows)
	if err != nil {
		return 0, wrapPgConflict(err, "postgres: upsert localities")
	}
	return n, nil
}

var observationColumns = []string{"owner_kind", "owner_code", "obs_date", "precipitation_mm", "temp_max_c", "temp_min_c", "humidity_pct"}

// UpsertObservations writes daily observations keyed by (owner, date).
// Nil fields are stored as NULL; overwrite is whole-row, not a merge.
func (s *PostgresStore) UpsertObservations(ctx context.Context, observations []model.Observation) (int64, error) {
	rows := make([][]any, 0, len(observations))
	for _, o := range observations {
		rows = append(rows, []any{
			string(o.OwnerKind), o.OwnerCode, o.Date,
			fval(o.PrecipitationMM), fval(o.TempMaxC), fval(o.TempMinC), fval(o.HumidityPct),
		})
	}
	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "daily_observations",
		Columns:      observationColumns,
		ConflictKeys: []string{"owner_kind", "owner_code", "obs_date"},
	}, rows)
	if err != nil {
		return 0, wrapPgConflict(err, "postgres: upsert observations")
	}
	return n, nil
}

// ProductionByYear sums production per year for crops whose name contains
// the filter, case-insensitively. Substring match is deliberate: varietal
// names like "SOJA PRECOCE" must match a "soja" filter.
func (s *PostgresStore) ProductionByYear(ctx context.Context, cropFilter string) (map[int]float64, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT year, SUM(production_t)
		 FROM crop_yields
		 WHERE production_t IS NOT NULL AND crop ILIKE '%' || $1 || '%'
		 GROUP BY year`,
		cropFilter,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: production by year")
	}
	defer rows.Close()

	out := make(map[int]float64)
	for rows.Next() {
		var year int
		var total float64
		if err := rows.Scan(&year, &total); err != nil {
			return nil, eris.Wrap(err, "postgres: scan production row")
		}
		out[year] = total
	}
	return out, rows.Err()
}

// PrecipitationByYear sums precipitation across all owners per calendar year.
func (s *PostgresStore) PrecipitationByYear(ctx context.Context) (map[int]float64, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT EXTRACT(YEAR FROM obs_date)::int AS year, SUM(precipitation_mm)
		 FROM daily_observations
		 WHERE precipitation_mm IS NOT NULL
		 GROUP BY 1`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: precipitation by year")
	}
	defer rows.Close()

	out := make(map[int]float64)
	for rows.Next() {
		var year int
		var total float64
		if err := rows.Scan(&year, &total); err != nil {
			return nil, eris.Wrap(err, "postgres: scan precipitation row")
		}
		out[year] = total
	}
	return out, rows.Err()
}

// StartRun records the beginning of a source run and returns its ID.
func (s *PostgresStore) StartRun(ctx context.Context, source string) (string, error) {
	id := uuid.NewString()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO ingest_runs (id, source, status, started_at) VALUES ($1, $2, $3, now())`,
		id, source, RunRunning,
	)
	if err != nil {
		return "", eris.Wrapf(err, "postgres: start run for %s", source)
	}
	return id, nil
}

// CompleteRun marks a run as successfully completed.
func (s *PostgresStore) CompleteRun(ctx context.Context, runID string, rowsWritten int64, metadata map[string]any) error {
	var metaJSON []byte
	if metadata != nil {
		var err error
		metaJSON, err = json.Marshal(metadata)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal run metadata")
		}
	}
	_, err := s.pool.Exec(ctx,
		`UPDATE ingest_runs
		 SET status = $1, completed_at = now(), rows_written = $2, metadata = $3
		 WHERE id = $4`,
		RunComplete, rowsWritten, metaJSON, runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete run %s", runID)
	}
	return nil
}

// FailRun marks a run as failed with an error message.
func (s *PostgresStore) FailRun(ctx context.Context, runID string, errMsg string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE ingest_runs
		 SET status = $1, completed_at = now(), error = $2
		 WHERE id = $3`,
		RunFailed, errMsg, runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: fail run %s", runID)
	}
	return nil
}

// LastSuccess returns the started_at of the most recent complete run for a
// source, or nil if it has never completed.
func (s *PostgresStore) LastSuccess(ctx context.Context, source string) (*time.Time, error) {
	var t time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT started_at FROM ingest_runs
		 WHERE source = $1 AND status = $2
		 ORDER BY started_at DESC LIMIT 1`,
		source, RunComplete,
	).Scan(&t)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: last success for %s", source)
	}
	return &t, nil
}

// ListRuns returns all run log entries, most recent first.
func (s *PostgresStore) ListRuns(ctx context.Context) ([]RunEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, source, status, started_at, completed_at, rows_written, error, metadata
		 FROM ingest_runs ORDER BY started_at DESC`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var entries []RunEntry
	for rows.Next() {
		var e RunEntry
		var completedAt *time.Time
		var errStr *string
		var metaJSON []byte
		if err := rows.Scan(&e.ID, &e.Source, &e.Status, &e.StartedAt, &completedAt, &e.RowsWritten, &errStr, &metaJSON); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run entry")
		}
		e.CompletedAt = completedAt
		if errStr != nil {
			e.Error = *errStr
		}
		if metaJSON != nil {
			_ = json.Unmarshal(metaJSON, &e.Metadata)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// wrapPgConflict tags unique-violation errors with ErrConflict so the
// caller can distinguish a broken uniqueness invariant from transient
// failures.
func wrapPgConflict(err error, msg string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return eris.Wrap(ErrConflict, pgErr.Detail)
	}
	return eris.Wrap(err, msg)
}
