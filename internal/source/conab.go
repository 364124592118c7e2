package source

import (
	"context"
	"encoding/csv"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/text/encoding/charmap"

	"github.com/datum-agro/safra-cli/internal/config"
	"github.com/datum-agro/safra-cli/internal/fetcher"
	"github.com/datum-agro/safra-cli/internal/model"
	"github.com/datum-agro/safra-cli/internal/store"
)

// Conab ingests the national crop-statistics archive: a latin-1,
// semicolon-delimited historical series that is republished in full each
// release. Because the upstream is a complete snapshot, the load is a
// destructive reload, not a per-record patch; partial reconciliation would
// leave stale rows for records the upstream removed.
type Conab struct {
	cfg *config.Config
}

func (d *Conab) Name() string     { return "conab" }
func (d *Conab) Cadence() Cadence { return Monthly }

func (d *Conab) ShouldRun(now time.Time, lastRun *time.Time) bool {
	return MonthlySchedule(now, lastRun)
}

// Source column names in the archive header.
const (
	conabColYear       = "ano_agricola"
	conabColRegion     = "uf"
	conabColCrop       = "produto"
	conabColArea       = "area_plantada_mil_ha"
	conabColProduction = "producao_mil_t"
	conabColYield      = "produtividade_mil_ha_mil_t"
)

var conabRequiredColumns = []string{
	conabColYear, conabColRegion, conabColCrop,
	conabColArea, conabColProduction, conabColYield,
}

func (d *Conab) Sync(ctx context.Context, st store.Store, f fetcher.Fetcher, opts Options) (*Result, error) {
	log := zap.L().With(zap.String("source", d.Name()))
	region := d.cfg.Ingest.Region

	body, err := f.Download(ctx, d.cfg.Conab.SeriesURL)
	if err != nil {
		return nil, eris.Wrapf(ErrSourceUnavailable, "conab: download series: %v", err)
	}
	defer body.Close() //nolint:errcheck

	records, parsed, err := d.parse(body, region)
	if err != nil {
		return nil, err
	}

	log.Info("parsed crop-statistics archive",
		zap.Int("source_rows", parsed),
		zap.Int("region_rows", len(records)),
		zap.String("region", region),
	)

	if len(records) == 0 {
		log.Info("archive contained no rows for region", zap.String("region", region))
	}

	n, err := st.ReplaceCropYields(ctx, records)
	if err != nil {
		return nil, eris.Wrap(err, "conab: replace crop yields")
	}

	return &Result{
		RowsWritten: n,
		Metadata:    map[string]any{"region": region, "source_rows": parsed},
	}, nil
}

// parse reads the latin-1 delimited archive and maps it to canonical
// records for the target region. The encoding must be decoded, not assumed:
// crop names carry accented characters that would otherwise corrupt the
// natural key.
func (d *Conab) parse(body io.Reader, region string) ([]model.CropYield, int, error) {
	reader := csv.NewReader(charmap.ISO8859_1.NewDecoder().Reader(body))
	reader.Comma = ';'
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, 0, eris.Wrapf(ErrSourceUnavailable, "conab: read header: %v", err)
	}

	colIdx := make(map[string]int, len(header))
	for i, col := range header {
		colIdx[strings.ToLower(strings.TrimSpace(col))] = i
	}
	for _, col := range conabRequiredColumns {
		if _, ok := colIdx[col]; !ok {
			return nil, 0, eris.Wrapf(ErrSchemaMismatch, "conab: missing column %q", col)
		}
	}

	log := zap.L().With(zap.String("source", d.Name()))
	var records []model.CropYield
	parsed := 0

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue // skip malformed rows
		}
		parsed++

		if strings.TrimSpace(getCol(record, colIdx, conabColRegion)) != region {
			continue
		}

		year, ok := harvestYear(getCol(record, colIdx, conabColYear))
		if !ok {
			log.Warn("skipping row with unparseable agricultural year",
				zap.String("value", getCol(record, colIdx, conabColYear)),
			)
			continue
		}

		// Trim before keying: untrimmed crop names would silently
		// fragment the (year, region, crop) uniqueness constraint.
		crop := strings.TrimSpace(getCol(record, colIdx, conabColCrop))
		if crop == "" {
			continue
		}

		// Area and production are reported in thousands; yield per area is
		// already in final units and must not be rescaled.
		records = append(records, model.CropYield{
			Year:          year,
			Region:        region,
			Crop:          crop,
			PlantedAreaHa: scaleThousand(nonNegative(parseOptFloat(getCol(record, colIdx, conabColArea)))),
			ProductionT:   scaleThousand(nonNegative(parseOptFloat(getCol(record, colIdx, conabColProduction)))),
			YieldKgHa:     nonNegative(parseOptFloat(getCol(record, colIdx, conabColYield))),
		})
	}

	return records, parsed, nil
}

// harvestYear derives the calendar year from an agricultural-year string
// such as "2020/2021": the integer prefix before the slash.
func harvestYear(s string) (int, bool) {
	s = strings.TrimSpace(s)
	prefix, _, _ := strings.Cut(s, "/")
	year, err := strconv.Atoi(strings.TrimSpace(prefix))
	if err != nil || year <= 0 {
		return 0, false
	}
	return year, true
}

// scaleThousand multiplies an optional value by 1000, passing nil through.
func scaleThousand(v *float64) *float64 {
	if v == nil {
		return nil
	}
	return model.Float64(*v * 1000)
}
