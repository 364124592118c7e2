package source

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/datum-agro/safra-cli/internal/config"
	"github.com/datum-agro/safra-cli/internal/fetcher"
	"github.com/datum-agro/safra-cli/internal/model"
	"github.com/datum-agro/safra-cli/internal/store"
)

// Inmet ingests the ground-station weather network: a station catalog plus
// daily observations per station. The observations API is unreliable for
// full-year ranges (large responses intermittently fail or time out), so
// each year is queried as two fixed half-year windows; a failed window is
// recorded and skipped without aborting the station's other window or the
// remaining stations.
type Inmet struct {
	cfg *config.Config
}

func (d *Inmet) Name() string     { return "inmet" }
func (d *Inmet) Cadence() Cadence { return Weekly }

func (d *Inmet) ShouldRun(now time.Time, lastRun *time.Time) bool {
	return WeeklySchedule(now, lastRun)
}

// inmetStation is the catalog wire format. The API reports numeric values
// as strings.
type inmetStation struct {
	Code           string `json:"CD_ESTACAO"`
	Name           string `json:"DC_NOME"`
	Latitude       string `json:"VL_LATITUDE"`
	Longitude      string `json:"VL_LONGITUDE"`
	Altitude       string `json:"VL_ALTITUDE"`
	OperationStart string `json:"DT_INICIO_OPERACAO"`
	Region         string `json:"SG_ESTADO"`
}

// inmetDaily is the observations wire format. Fields are nullable: an
// absent or empty value is an unknown measurement, never a zero.
type inmetDaily struct {
	Date     string  `json:"DT_MEDICAO"`
	Precip   *string `json:"PRE_MAX"`
	TempMax  *string `json:"TEM_MAX"`
	TempMin  *string `json:"TEM_MIN"`
	Humidity *string `json:"UMD_MED"`
}

func (d *Inmet) Sync(ctx context.Context, st store.Store, f fetcher.Fetcher, opts Options) (*Result, error) {
	log := zap.L().With(zap.String("source", d.Name()))
	region := d.cfg.Ingest.Region

	stations, err := d.listStations(ctx, f, region)
	if err != nil {
		return nil, err
	}

	// Zero stations in a region is valid, not an error.
	log.Info("station catalog refreshed", zap.Int("stations", len(stations)), zap.String("region", region))

	rows, err := st.UpsertStations(ctx, stations)
	if err != nil {
		return nil, eris.Wrap(err, "inmet: upsert stations")
	}

	years, err := resolveYears(ctx, st, opts)
	if err != nil {
		return nil, eris.Wrap(err, "inmet: resolve years")
	}
	if len(years) == 0 {
		log.Warn("no harvest years in store; skipping observation ingest")
		return &Result{RowsWritten: rows, Metadata: map[string]any{"stations": len(stations)}}, nil
	}

	result := &Result{RowsWritten: rows, Metadata: map[string]any{"stations": len(stations), "years": len(years)}}

	for _, station := range stations {
		for _, year := range years {
			if year < station.OperationStart.Year() {
				continue
			}
			d.syncStationYear(ctx, st, f, station, year, result)
		}
	}

	return result, nil
}

// listStations fetches the full catalog and filters by region client-side;
// the upstream API has no server-side region filter.
func (d *Inmet) listStations(ctx context.Context, f fetcher.Fetcher, region string) ([]model.Station, error) {
	body, err := f.Download(ctx, d.cfg.Inmet.BaseURL+"/estacoes/T")
	if err != nil {
		return nil, eris.Wrapf(ErrSourceUnavailable, "inmet: fetch station catalog: %v", err)
	}
	defer body.Close() //nolint:errcheck

	var raw []inmetStation
	if err := json.NewDecoder(body).Decode(&raw); err != nil {
		return nil, eris.Wrapf(ErrSchemaMismatch, "inmet: decode station catalog: %v", err)
	}

	log := zap.L().With(zap.String("source", d.Name()))
	var stations []model.Station
	for _, rs := range raw {
		if rs.Region != region {
			continue
		}
		station, err := rs.toModel()
		if err != nil {
			log.Warn("skipping station with malformed catalog entry",
				zap.String("station", rs.Code),
				zap.Error(err),
			)
			continue
		}
		stations = append(stations, station)
	}
	return stations, nil
}

func (rs inmetStation) toModel() (model.Station, error) {
	if rs.Code == "" {
		return model.Station{}, eris.New("empty station code")
	}
	lat, err := strconv.ParseFloat(rs.Latitude, 64)
	if err != nil {
		return model.Station{}, eris.Wrap(err, "parse latitude")
	}
	lon, err := strconv.ParseFloat(rs.Longitude, 64)
	if err != nil {
		return model.Station{}, eris.Wrap(err, "parse longitude")
	}
	alt, err := strconv.ParseFloat(rs.Altitude, 64)
	if err != nil {
		return model.Station{}, eris.Wrap(err, "parse altitude")
	}
	// The catalog reports a timestamp; only the date part matters.
	datePart, _, _ := strings.Cut(rs.OperationStart, "T")
	start, err := time.Parse("2006-01-02", datePart)
	if err != nil {
		return model.Station{}, eris.Wrap(err, "parse operation start")
	}
	return model.Station{
		Code:           rs.Code,
		Name:           rs.Name,
		Latitude:       lat,
		Longitude:      lon,
		Altitude:       alt,
		OperationStart: start,
		Region:         rs.Region,
	}, nil
}

// halfYearWindows returns the two fixed sub-ranges a calendar year is
// always queried as.
func halfYearWindows(year int) [2][2]string {
	return [2][2]string{
		{fmt.Sprintf("%d-01-01", year), fmt.Sprintf("%d-06-30", year)},
		{fmt.Sprintf("%d-07-01", year), fmt.Sprintf("%d-12-31", year)},
	}
}

// syncStationYear fetches one station's observations for one year as two
// independent half-year windows. Each window is its own unit of work:
// results already persisted from the first window survive a failure in the
// second.
func (d *Inmet) syncStationYear(ctx context.Context, st store.Store, f fetcher.Fetcher, station model.Station, year int, result *Result) {
	log := zap.L().With(zap.String("source", d.Name()), zap.String("station", station.Code), zap.Int("year", year))

	for _, window := range halfYearWindows(year) {
		start, end := window[0], window[1]
		unit := fmt.Sprintf("%s:%s/%s", station.Code, start, end)

		observations, err := d.fetchWindow(ctx, f, station, start, end)
		if err != nil {
			log.Warn("window fetch failed, skipping", zap.String("window", start+"/"+end), zap.Error(err))
			result.Failures = append(result.Failures, UnitFailure{Unit: unit, Kind: Classify(err), Err: err.Error()})
			continue
		}
		if len(observations) == 0 {
			log.Info("window returned no data", zap.String("window", start+"/"+end))
			continue
		}

		n, err := st.UpsertObservations(ctx, observations)
		if err != nil {
			log.Warn("window persist failed, skipping", zap.String("window", start+"/"+end), zap.Error(err))
			result.Failures = append(result.Failures, UnitFailure{Unit: unit, Kind: Classify(err), Err: err.Error()})
			continue
		}
		result.RowsWritten += n
	}
}

func (d *Inmet) fetchWindow(ctx context.Context, f fetcher.Fetcher, station model.Station, start, end string) ([]model.Observation, error) {
	url := fmt.Sprintf("%s/estacao/%s/%s/%s", d.cfg.Inmet.BaseURL, start, end, station.Code)

	body, err := f.Download(ctx, url)
	if err != nil {
		return nil, eris.Wrapf(ErrSourceUnavailable, "inmet: fetch window: %v", err)
	}
	defer body.Close() //nolint:errcheck

	var raw []inmetDaily
	if err := json.NewDecoder(body).Decode(&raw); err != nil {
		return nil, eris.Wrapf(ErrSourceUnavailable, "inmet: decode window: %v", err)
	}

	var observations []model.Observation
	for _, day := range raw {
		date, err := time.Parse("2006-01-02", day.Date)
		if err != nil {
			continue
		}
		// Partial observations are valid for this source: each field maps
		// independently, and an upstream empty sentinel becomes nil.
		observations = append(observations, model.Observation{
			OwnerKind:       model.OwnerStation,
			OwnerCode:       station.Code,
			Date:            date,
			PrecipitationMM: optMeasurement(day.Precip),
			TempMaxC:        optMeasurement(day.TempMax),
			TempMinC:        optMeasurement(day.TempMin),
			HumidityPct:     optMeasurement(day.Humidity),
		})
	}
	return observations, nil
}

// optMeasurement maps a nullable string measurement to an optional float.
func optMeasurement(s *string) *float64 {
	if s == nil {
		return nil
	}
	return parseOptFloat(*s)
}
