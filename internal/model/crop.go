// Package model holds the canonical records produced by the source
// adapters and persisted by the store.
package model

// CropYield is one harvest-year row for a single crop in a single region.
// The natural key is (Year, Region, Crop). Numeric fields are pointers
// because the upstream archive reports unknown values as blanks; absent is
// not the same as zero.
type CropYield struct {
	Year          int      `json:"year"`
	Region        string   `json:"region"`
	Crop          string   `json:"crop"`
	PlantedAreaHa *float64 `json:"planted_area_ha,omitempty"`
	ProductionT   *float64 `json:"production_t,omitempty"`
	YieldKgHa     *float64 `json:"yield_kg_ha,omitempty"`
}

// Float64 returns a pointer to v. Convenience for building optional fields.
func Float64(v float64) *float64 { return &v }
