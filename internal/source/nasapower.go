package source

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/datum-agro/safra-cli/internal/config"
	"github.com/datum-agro/safra-cli/internal/fetcher"
	"github.com/datum-agro/safra-cli/internal/model"
	"github.com/datum-agro/safra-cli/internal/store"
)

// nasaMissing is the provider's sentinel for "no data at this point/date".
const nasaMissing = -999

// nasaLocalities is the fixed set of agricultural reference points the
// satellite series is sampled at. The point API has no catalog endpoint,
// so the set is seeded here rather than discovered.
var nasaLocalities = []model.Locality{
	{Name: "Cuiabá", Latitude: -15.59, Longitude: -56.09},
	{Name: "Rondonópolis", Latitude: -16.47, Longitude: -54.63},
	{Name: "Sinop", Latitude: -11.86, Longitude: -55.50},
	{Name: "Sorriso", Latitude: -12.54, Longitude: -55.71},
	{Name: "Primavera do Leste", Latitude: -15.56, Longitude: -54.29},
}

// NasaPower ingests modeled daily weather for a fixed set of reference
// localities from the satellite point API. Each locality-year is an
// independent unit of work: one bad response never aborts the rest.
type NasaPower struct {
	cfg *config.Config
}

func (d *NasaPower) Name() string     { return "nasa-power" }
func (d *NasaPower) Cadence() Cadence { return Weekly }

func (d *NasaPower) ShouldRun(now time.Time, lastRun *time.Time) bool {
	return WeeklySchedule(now, lastRun)
}

// nasaResponse mirrors the point API payload. Each parameter maps a
// YYYYMMDD key to a daily value.
type nasaResponse struct {
	Properties struct {
		Parameter struct {
			TempMax map[string]float64 `json:"T2M_MAX"`
			TempMin map[string]float64 `json:"T2M_MIN"`
			Precip  map[string]float64 `json:"PRECTOTCORR"`
		} `json:"parameter"`
	} `json:"properties"`
}

func (d *NasaPower) Sync(ctx context.Context, st store.Store, f fetcher.Fetcher, opts Options) (*Result, error) {
	log := zap.L().With(zap.String("source", d.Name()))

	rows, err := st.UpsertLocalities(ctx, nasaLocalities)
	if err != nil {
		return nil, eris.Wrap(err, "nasa-power: upsert localities")
	}

	years, err := resolveYears(ctx, st, opts)
	if err != nil {
		return nil, eris.Wrap(err, "nasa-power: resolve years")
	}
	if len(years) == 0 {
		log.Warn("no harvest years in store; skipping observation ingest")
		return &Result{RowsWritten: rows, Metadata: map[string]any{"localities": len(nasaLocalities)}}, nil
	}

	result := &Result{RowsWritten: rows, Metadata: map[string]any{"localities": len(nasaLocalities), "years": len(years)}}

	for _, loc := range nasaLocalities {
		for _, year := range years {
			unit := fmt.Sprintf("%s:%d", loc.Name, year)
			n, err := d.syncLocalityYear(ctx, st, f, loc, year)
			if err != nil {
				log.Warn("locality-year failed, skipping",
					zap.String("locality", loc.Name),
					zap.Int("year", year),
					zap.Error(err),
				)
				result.Failures = append(result.Failures, UnitFailure{Unit: unit, Kind: Classify(err), Err: err.Error()})
				continue
			}
			result.RowsWritten += n
		}
	}

	return result, nil
}

func (d *NasaPower) syncLocalityYear(ctx context.Context, st store.Store, f fetcher.Fetcher, loc model.Locality, year int) (int64, error) {
	url := fmt.Sprintf(
		"%s?parameters=T2M_MAX,T2M_MIN,PRECTOTCORR&community=AG&format=JSON&latitude=%.2f&longitude=%.2f&start=%d0101&end=%d1231",
		d.cfg.Nasa.BaseURL, loc.Latitude, loc.Longitude, year, year,
	)

	body, err := f.Download(ctx, url)
	if err != nil {
		return 0, eris.Wrapf(ErrSourceUnavailable, "nasa-power: fetch %s/%d: %v", loc.Name, year, err)
	}
	defer body.Close() //nolint:errcheck

	var resp nasaResponse
	if err := json.NewDecoder(body).Decode(&resp); err != nil {
		return 0, eris.Wrapf(ErrSourceUnavailable, "nasa-power: decode %s/%d: %v", loc.Name, year, err)
	}

	observations := extractObservations(loc.Name, resp)
	if len(observations) == 0 {
		zap.L().Info("locality-year returned no usable data",
			zap.String("source", d.Name()),
			zap.String("locality", loc.Name),
			zap.Int("year", year),
		)
		return 0, nil
	}

	n, err := st.UpsertObservations(ctx, observations)
	if err != nil {
		return 0, err
	}
	return n, nil
}

// extractObservations joins the three parameter maps on date. A day is
// emitted only when all three parameters are present and none carries the
// missing-data sentinel: a partial day from this provider signals a gap in
// the model run, not a real measurement.
func extractObservations(locality string, resp nasaResponse) []model.Observation {
	p := resp.Properties.Parameter

	dates := make([]string, 0, len(p.TempMax))
	for key := range p.TempMax {
		dates = append(dates, key)
	}
	sort.Strings(dates)

	var observations []model.Observation
	for _, key := range dates {
		tmax := p.TempMax[key]
		tmin, okMin := p.TempMin[key]
		prec, okPrec := p.Precip[key]
		if !okMin || !okPrec {
			continue
		}
		if tmax == nasaMissing || tmin == nasaMissing || prec == nasaMissing {
			continue
		}
		date, err := time.Parse("20060102", key)
		if err != nil {
			continue
		}
		observations = append(observations, model.Observation{
			OwnerKind:       model.OwnerLocality,
			OwnerCode:       locality,
			Date:            date,
			PrecipitationMM: model.Float64(prec),
			TempMaxC:        model.Float64(tmax),
			TempMinC:        model.Float64(tmin),
		})
	}
	return observations
}
