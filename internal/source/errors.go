package source

import (
	"errors"

	"github.com/rotisserie/eris"

	"github.com/datum-agro/safra-cli/internal/store"
)

// Sentinel errors for the failure taxonomy. Adapters wrap these so the
// engine and run summaries can classify what went wrong.
var (
	// ErrSourceUnavailable marks a transport failure, timeout, or non-2xx
	// response. Recoverable: the unit of work is skipped and recorded.
	ErrSourceUnavailable = eris.New("source unavailable")

	// ErrSchemaMismatch marks an upstream payload missing expected fields.
	// It aborts the adapter's whole run; downstream data would be meaningless.
	ErrSchemaMismatch = eris.New("schema mismatch")
)

// Kind labels a failure class in run summaries.
type Kind string

const (
	KindSourceUnavailable Kind = "source_unavailable"
	KindSchemaMismatch    Kind = "schema_mismatch"
	KindPersistence       Kind = "persistence"
	KindUnknown           Kind = "unknown"
)

// Classify maps an error to its failure kind.
func Classify(err error) Kind {
	switch {
	case errors.Is(err, ErrSourceUnavailable):
		return KindSourceUnavailable
	case errors.Is(err, ErrSchemaMismatch):
		return KindSchemaMismatch
	case errors.Is(err, store.ErrConflict):
		return KindPersistence
	default:
		return KindUnknown
	}
}
