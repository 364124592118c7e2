package model

import "time"

// OwnerKind discriminates which kind of measurement point owns an
// observation. Exactly one owner per observation.
type OwnerKind string

const (
	OwnerStation  OwnerKind = "station"
	OwnerLocality OwnerKind = "locality"
)

// Station is a ground weather station from the national network catalog.
// OperationStart bounds which years can have valid observations.
type Station struct {
	Code           string    `json:"code"`
	Name           string    `json:"name"`
	Latitude       float64   `json:"latitude"`
	Longitude      float64   `json:"longitude"`
	Altitude       float64   `json:"altitude"`
	OperationStart time.Time `json:"operation_start"`
	Region         string    `json:"region"`
}

// Locality is a named satellite sampling point. Unlike a Station it has no
// operational start date and is always eligible for any year.
type Locality struct {
	Name      string  `json:"name"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Observation is one day of measurements for a station or locality.
// The natural key is (OwnerKind, OwnerCode, Date). Fields are individually
// nullable: the ground-station source emits partial observations, and an
// upstream "no data" sentinel must map to nil rather than zero.
type Observation struct {
	OwnerKind       OwnerKind `json:"owner_kind"`
	OwnerCode       string    `json:"owner_code"`
	Date            time.Time `json:"date"`
	PrecipitationMM *float64  `json:"precipitation_mm,omitempty"`
	TempMaxC        *float64  `json:"temp_max_c,omitempty"`
	TempMinC        *float64  `json:"temp_min_c,omitempty"`
	HumidityPct     *float64  `json:"humidity_pct,omitempty"`
}
