// Package chart joins the stored production and precipitation aggregates
// into a yearly comparison series.
package chart

import (
	"context"
	"sort"

	"github.com/rotisserie/eris"

	"github.com/datum-agro/safra-cli/internal/store"
)

// YearlyComparison pairs total production with total precipitation for
// each year both series cover.
type YearlyComparison struct {
	CropFilter      string    `json:"crop_filter,omitempty"`
	Years           []int     `json:"years"`
	ProductionT     []float64 `json:"production_t"`
	PrecipitationMM []float64 `json:"precipitation_mm"`
}

// Service computes comparison series from the store's aggregates.
type Service struct {
	store store.Store
}

// NewService creates a chart service backed by the given store.
func NewService(st store.Store) *Service {
	return &Service{store: st}
}

// Compare builds the production/precipitation series for the years both
// datasets cover. A year with production but no weather (or the reverse)
// is excluded rather than padded with zeros: a fabricated zero would read
// as a real measurement. cropFilter is a case-insensitive substring match
// on the crop name; empty matches everything.
func (s *Service) Compare(ctx context.Context, cropFilter string) (*YearlyComparison, error) {
	production, err := s.store.ProductionByYear(ctx, cropFilter)
	if err != nil {
		return nil, eris.Wrap(err, "chart: production by year")
	}
	precipitation, err := s.store.PrecipitationByYear(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "chart: precipitation by year")
	}

	var years []int
	for year := range production {
		if _, ok := precipitation[year]; ok {
			years = append(years, year)
		}
	}
	sort.Ints(years)

	out := &YearlyComparison{
		CropFilter:      cropFilter,
		Years:           years,
		ProductionT:     make([]float64, len(years)),
		PrecipitationMM: make([]float64, len(years)),
	}
	for i, year := range years {
		out.ProductionT[i] = production[year]
		out.PrecipitationMM[i] = precipitation[year]
	}
	return out, nil
}
