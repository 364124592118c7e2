package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "MT", cfg.Ingest.Region)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "https://apitempo.inmet.gov.br", cfg.Inmet.BaseURL)
	assert.Equal(t, 30, cfg.Inmet.TimeoutSecs)
	assert.Equal(t, 60, cfg.Nasa.TimeoutSecs)
	assert.Contains(t, cfg.Conab.SeriesURL, "SerieHistoricaGraos")
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("SAFRA_STORE_DRIVER", "sqlite")
	t.Setenv("SAFRA_STORE_DATABASE_URL", "/tmp/safra.db")
	t.Setenv("SAFRA_INGEST_REGION", "GO")
	t.Setenv("SAFRA_SERVER_PORT", "9090")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "/tmp/safra.db", cfg.Store.DatabaseURL)
	assert.Equal(t, "GO", cfg.Ingest.Region)
	assert.Equal(t, 9090, cfg.Server.Port)
}

func TestInitLogger(t *testing.T) {
	require.NoError(t, InitLogger(LogConfig{Level: "debug", Format: "console"}))
	require.NoError(t, InitLogger(LogConfig{Level: "info", Format: "json"}))
	assert.Error(t, InitLogger(LogConfig{Level: "not-a-level"}))
}
