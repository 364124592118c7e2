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

func nasaConfig() *config.Config {
	return &config.Config{
		Nasa: config.NasaConfig{BaseURL: "https://power.example.com/api/temporal/daily/point"},
	}
}

const nasaPayload = `{
	"properties": {
		"parameter": {
			"T2M_MAX":     {"20210110": 33.4, "20210111": 31.2, "20210112": -999, "20210113": 30.0},
			"T2M_MIN":     {"20210110": 22.1, "20210111": 21.0, "20210112": 20.0},
			"PRECTOTCORR": {"20210110": 4.2,  "20210111": 0.0,  "20210112": 1.0, "20210113": 2.0}
		}
	}
}`

func TestNasaPower_Metadata(t *testing.T) {
	d := &NasaPower{}
	assert.Equal(t, "nasa-power", d.Name())
	assert.Equal(t, Weekly, d.Cadence())
}

func TestNasaPower_Sync(t *testing.T) {
	var urls []string
	f := fetcherFunc(func(_ context.Context, url string) (io.ReadCloser, error) {
		urls = append(urls, url)
		if strings.Contains(url, "latitude=-15.59") { // Cuiabá
			return body(nasaPayload), nil
		}
		return body(`{"properties":{"parameter":{}}}`), nil
	})

	st := &fakeStore{cropYears: []int{2021}}
	d := &NasaPower{cfg: nasaConfig()}

	result, err := d.Sync(context.Background(), st, f, Options{})
	require.NoError(t, err)
	assert.Empty(t, result.Failures)

	// All five localities seeded and fetched.
	assert.Len(t, st.localities, 5)
	assert.Len(t, urls, 5)
	for _, url := range urls {
		assert.Contains(t, url, "parameters=T2M_MAX,T2M_MIN,PRECTOTCORR")
		assert.Contains(t, url, "community=AG")
		assert.Contains(t, url, "start=20210101")
		assert.Contains(t, url, "end=20211231")
	}

	// 5 locality rows + 2 usable days: 20210112 has a -999 TempMax, and
	// 20210113 is missing TempMin, so both are dropped whole.
	assert.Equal(t, int64(7), result.RowsWritten)
	require.Len(t, st.observations, 2)

	first := st.observations[0]
	assert.Equal(t, model.OwnerLocality, first.OwnerKind)
	assert.Equal(t, "Cuiabá", first.OwnerCode)
	assert.Equal(t, time.Date(2021, 1, 10, 0, 0, 0, 0, time.UTC), first.Date)
	require.NotNil(t, first.PrecipitationMM)
	assert.InDelta(t, 4.2, *first.PrecipitationMM, 0.001)
	require.NotNil(t, first.TempMaxC)
	assert.InDelta(t, 33.4, *first.TempMaxC, 0.001)
	assert.Nil(t, first.HumidityPct)

	// A real 0.0 precipitation is a measurement, not a gap.
	second := st.observations[1]
	require.NotNil(t, second.PrecipitationMM)
	assert.Equal(t, 0.0, *second.PrecipitationMM)
}

func TestNasaPower_Sync_LocalityYearFailureIsolated(t *testing.T) {
	f := fetcherFunc(func(_ context.Context, url string) (io.ReadCloser, error) {
		if strings.Contains(url, "latitude=-15.59") { // Cuiabá
			return nil, errors.New("rate limited")
		}
		return body(nasaPayload), nil
	})

	st := &fakeStore{cropYears: []int{2021}}
	d := &NasaPower{cfg: nasaConfig()}

	result, err := d.Sync(context.Background(), st, f, Options{})
	require.NoError(t, err)

	require.Len(t, result.Failures, 1)
	assert.Equal(t, "Cuiabá:2021", result.Failures[0].Unit)
	assert.Equal(t, KindSourceUnavailable, result.Failures[0].Kind)

	// The other four localities still landed their observations.
	assert.Len(t, st.observations, 8)
}

func TestNasaPower_Sync_PersistFailureClassified(t *testing.T) {
	f := fetcherFunc(func(_ context.Context, _ string) (io.ReadCloser, error) {
		return body(nasaPayload), nil
	})

	st := &fakeStore{
		cropYears:    []int{2021},
		obsFailCalls: map[int]error{1: errors.New("disk full")},
	}
	d := &NasaPower{cfg: nasaConfig()}

	result, err := d.Sync(context.Background(), st, f, Options{})
	require.NoError(t, err)
	require.Len(t, result.Failures, 1)
	assert.Equal(t, KindUnknown, result.Failures[0].Kind)
	assert.Len(t, st.observations, 8)
}

func TestNasaPower_Sync_NoYears(t *testing.T) {
	var fetches int
	f := fetcherFunc(func(_ context.Context, _ string) (io.ReadCloser, error) {
		fetches++
		return body(nasaPayload), nil
	})

	st := &fakeStore{}
	d := &NasaPower{cfg: nasaConfig()}

	result, err := d.Sync(context.Background(), st, f, Options{})
	require.NoError(t, err)
	// Localities are still seeded, but nothing is fetched.
	assert.Equal(t, int64(5), result.RowsWritten)
	assert.Equal(t, 0, fetches)
}

func TestExtractObservations_SentinelTriplet(t *testing.T) {
	var resp nasaResponse
	resp.Properties.Parameter.TempMax = map[string]float64{"20220301": -999}
	resp.Properties.Parameter.TempMin = map[string]float64{"20220301": 20.0}
	resp.Properties.Parameter.Precip = map[string]float64{"20220301": 3.0}

	assert.Empty(t, extractObservations("Sinop", resp))
}
