package db

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var obsCfg = UpsertConfig{
	Table:        "daily_observations",
	Columns:      []string{"owner_kind", "owner_code", "obs_date", "precipitation_mm"},
	ConflictKeys: []string{"owner_kind", "owner_code", "obs_date"},
}

func TestBulkUpsert(t *testing.T) {
	pool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer pool.Close()

	pool.ExpectBegin()
	pool.ExpectExec(`CREATE TEMP TABLE "_tmp_upsert_daily_observations"`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	pool.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_daily_observations"}, obsCfg.Columns).
		WillReturnResult(2)
	pool.ExpectExec(`DELETE FROM "_tmp_upsert_daily_observations"`).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	pool.ExpectExec(`INSERT INTO "daily_observations"`).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	pool.ExpectCommit()

	rows := [][]any{
		{"station", "A901", "2023-01-15", 12.4},
		{"station", "A901", "2023-01-16", nil},
	}
	n, err := BulkUpsert(context.Background(), pool, obsCfg, rows)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, pool.ExpectationsWereMet())
}

func TestBulkUpsert_EmptyRows(t *testing.T) {
	pool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer pool.Close()

	n, err := BulkUpsert(context.Background(), pool, obsCfg, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
	assert.NoError(t, pool.ExpectationsWereMet())
}

func TestBulkUpsert_MissingConfig(t *testing.T) {
	pool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer pool.Close()

	rows := [][]any{{"x"}}

	_, err = BulkUpsert(context.Background(), pool, UpsertConfig{Table: "t", ConflictKeys: []string{"k"}}, rows)
	assert.Error(t, err)

	_, err = BulkUpsert(context.Background(), pool, UpsertConfig{Table: "t", Columns: []string{"k"}}, rows)
	assert.Error(t, err)
}

func TestBulkUpsert_CopyFailureRollsBack(t *testing.T) {
	pool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer pool.Close()

	pool.ExpectBegin()
	pool.ExpectExec("CREATE TEMP TABLE").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	pool.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_daily_observations"}, obsCfg.Columns).
		WillReturnError(errors.New("copy failed"))
	pool.ExpectRollback()

	rows := [][]any{{"station", "A901", "2023-01-15", 12.4}}
	_, err = BulkUpsert(context.Background(), pool, obsCfg, rows)
	require.Error(t, err)
	assert.NoError(t, pool.ExpectationsWereMet())
}
