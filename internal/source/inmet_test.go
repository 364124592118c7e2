package source

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datum-agro/safra-cli/internal/config"
	"github.com/datum-agro/safra-cli/internal/model"
)

func inmetConfig() *config.Config {
	return &config.Config{
		Ingest: config.IngestConfig{Region: "MT"},
		Inmet:  config.InmetConfig{BaseURL: "https://api.example.com"},
	}
}

const inmetCatalog = `[
	{"CD_ESTACAO":"A901","DC_NOME":"SORRISO","VL_LATITUDE":"-12.54","VL_LONGITUDE":"-55.71","VL_ALTITUDE":"365.0","DT_INICIO_OPERACAO":"2004-10-20T21:00:00.000-03:00","SG_ESTADO":"MT"},
	{"CD_ESTACAO":"A701","DC_NOME":"CURITIBA","VL_LATITUDE":"-25.43","VL_LONGITUDE":"-49.27","VL_ALTITUDE":"935.0","DT_INICIO_OPERACAO":"2003-01-01T21:00:00.000-03:00","SG_ESTADO":"PR"}
]`

func TestInmet_Metadata(t *testing.T) {
	d := &Inmet{}
	assert.Equal(t, "inmet", d.Name())
	assert.Equal(t, Weekly, d.Cadence())
}

func TestInmet_Sync_CatalogFilteredByRegion(t *testing.T) {
	f := fetcherFunc(func(_ context.Context, url string) (io.ReadCloser, error) {
		if strings.HasSuffix(url, "/estacoes/T") {
			return body(inmetCatalog), nil
		}
		return body("[]"), nil
	})

	st := &fakeStore{cropYears: []int{2023}}
	d := &Inmet{cfg: inmetConfig()}

	result, err := d.Sync(context.Background(), st, f, Options{})
	require.NoError(t, err)
	assert.Empty(t, result.Failures)

	require.Len(t, st.stations, 1)
	station := st.stations[0]
	assert.Equal(t, "A901", station.Code)
	assert.Equal(t, "SORRISO", station.Name)
	assert.InDelta(t, -12.54, station.Latitude, 0.001)
	assert.InDelta(t, 365.0, station.Altitude, 0.001)
	assert.Equal(t, 2004, station.OperationStart.Year())
	assert.Equal(t, "MT", station.Region)
}

func TestInmet_Sync_Observations(t *testing.T) {
	obsJSON := `[
		{"DT_MEDICAO":"2023-01-15","PRE_MAX":"12.4","TEM_MAX":"33.1","TEM_MIN":"22.0","UMD_MED":""},
		{"DT_MEDICAO":"2023-01-16","PRE_MAX":null,"TEM_MAX":"31.0","TEM_MIN":"21.5","UMD_MED":"78"}
	]`

	var windowURLs []string
	f := fetcherFunc(func(_ context.Context, url string) (io.ReadCloser, error) {
		if strings.HasSuffix(url, "/estacoes/T") {
			return body(inmetCatalog), nil
		}
		windowURLs = append(windowURLs, url)
		if strings.Contains(url, "2023-01-01") {
			return body(obsJSON), nil
		}
		return body("[]"), nil
	})

	st := &fakeStore{cropYears: []int{2023}}
	d := &Inmet{cfg: inmetConfig()}

	result, err := d.Sync(context.Background(), st, f, Options{})
	require.NoError(t, err)

	// One MT station, one year, exactly two half-year windows.
	require.Len(t, windowURLs, 2)
	assert.Contains(t, windowURLs[0], "/estacao/2023-01-01/2023-06-30/A901")
	assert.Contains(t, windowURLs[1], "/estacao/2023-07-01/2023-12-31/A901")

	// 1 station row + 2 observation rows.
	assert.Equal(t, int64(3), result.RowsWritten)
	require.Len(t, st.observations, 2)

	first := st.observations[0]
	assert.Equal(t, model.OwnerStation, first.OwnerKind)
	assert.Equal(t, "A901", first.OwnerCode)
	assert.Equal(t, time.Date(2023, 1, 15, 0, 0, 0, 0, time.UTC), first.Date)
	require.NotNil(t, first.PrecipitationMM)
	assert.InDelta(t, 12.4, *first.PrecipitationMM, 0.001)
	// Empty string means the sensor reported nothing, not zero humidity.
	assert.Nil(t, first.HumidityPct)

	second := st.observations[1]
	assert.Nil(t, second.PrecipitationMM)
	require.NotNil(t, second.HumidityPct)
	assert.InDelta(t, 78.0, *second.HumidityPct, 0.001)
}

func TestInmet_Sync_WindowFailureIsolated(t *testing.T) {
	obsJSON := `[{"DT_MEDICAO":"2023-02-01","PRE_MAX":"5.0","TEM_MAX":"30.0","TEM_MIN":"20.0","UMD_MED":"70"}]`

	f := fetcherFunc(func(_ context.Context, url string) (io.ReadCloser, error) {
		if strings.HasSuffix(url, "/estacoes/T") {
			return body(inmetCatalog), nil
		}
		if strings.Contains(url, "2023-01-01") {
			return body(obsJSON), nil
		}
		return nil, errors.New("gateway timeout")
	})

	st := &fakeStore{cropYears: []int{2023}}
	d := &Inmet{cfg: inmetConfig()}

	result, err := d.Sync(context.Background(), st, f, Options{})
	require.NoError(t, err)

	// First window's rows survive the second window's failure.
	assert.Equal(t, int64(2), result.RowsWritten) // station + 1 observation
	require.Len(t, result.Failures, 1)
	assert.Equal(t, KindSourceUnavailable, result.Failures[0].Kind)
	assert.Contains(t, result.Failures[0].Unit, "A901")
	assert.Contains(t, result.Failures[0].Unit, "2023-07-01")
}

func TestInmet_Sync_OperationStartGatesYears(t *testing.T) {
	// Station opened in 2004: 2003 must not be queried, 2004 must.
	var windowCount int
	f := fetcherFunc(func(_ context.Context, url string) (io.ReadCloser, error) {
		if strings.HasSuffix(url, "/estacoes/T") {
			return body(inmetCatalog), nil
		}
		windowCount++
		assert.NotContains(t, url, "2003-")
		return body("[]"), nil
	})

	st := &fakeStore{cropYears: []int{2003, 2004}}
	d := &Inmet{cfg: inmetConfig()}

	_, err := d.Sync(context.Background(), st, f, Options{})
	require.NoError(t, err)
	assert.Equal(t, 2, windowCount)
}

func TestInmet_Sync_YearsOverride(t *testing.T) {
	var windowURLs []string
	f := fetcherFunc(func(_ context.Context, url string) (io.ReadCloser, error) {
		if strings.HasSuffix(url, "/estacoes/T") {
			return body(inmetCatalog), nil
		}
		windowURLs = append(windowURLs, url)
		return body("[]"), nil
	})

	// The explicit year list wins over the stored harvest years.
	st := &fakeStore{cropYears: []int{2019, 2020, 2021}}
	d := &Inmet{cfg: inmetConfig()}

	_, err := d.Sync(context.Background(), st, f, Options{Years: []int{2022}})
	require.NoError(t, err)
	require.Len(t, windowURLs, 2)
	assert.Contains(t, windowURLs[0], "2022-01-01")
}

func TestInmet_Sync_EmptyCatalog(t *testing.T) {
	f := fetcherFunc(func(_ context.Context, url string) (io.ReadCloser, error) {
		return body("[]"), nil
	})

	st := &fakeStore{cropYears: []int{2023}}
	d := &Inmet{cfg: inmetConfig()}

	result, err := d.Sync(context.Background(), st, f, Options{})
	require.NoError(t, err)
	assert.Equal(t, int64(0), result.RowsWritten)
	assert.Empty(t, result.Failures)
}

func TestInmet_Sync_CatalogUnavailable(t *testing.T) {
	f := fetcherFunc(func(_ context.Context, _ string) (io.ReadCloser, error) {
		return nil, errors.New("503")
	})

	d := &Inmet{cfg: inmetConfig()}
	_, err := d.Sync(context.Background(), &fakeStore{}, f, Options{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSourceUnavailable))
}

func TestInmet_Sync_MalformedStationSkipped(t *testing.T) {
	catalog := `[
		{"CD_ESTACAO":"A901","DC_NOME":"SORRISO","VL_LATITUDE":"-12.54","VL_LONGITUDE":"-55.71","VL_ALTITUDE":"365.0","DT_INICIO_OPERACAO":"2004-10-20T21:00:00.000-03:00","SG_ESTADO":"MT"},
		{"CD_ESTACAO":"A902","DC_NOME":"BROKEN","VL_LATITUDE":"not-a-number","VL_LONGITUDE":"-55.0","VL_ALTITUDE":"100.0","DT_INICIO_OPERACAO":"2010-01-01T00:00:00.000-03:00","SG_ESTADO":"MT"}
	]`

	f := fetcherFunc(func(_ context.Context, url string) (io.ReadCloser, error) {
		if strings.HasSuffix(url, "/estacoes/T") {
			return body(catalog), nil
		}
		return body("[]"), nil
	})

	st := &fakeStore{cropYears: []int{2023}}
	d := &Inmet{cfg: inmetConfig()}

	_, err := d.Sync(context.Background(), st, f, Options{})
	require.NoError(t, err)
	require.Len(t, st.stations, 1)
	assert.Equal(t, "A901", st.stations[0].Code)
}
