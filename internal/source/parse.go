package source

import (
	"context"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/datum-agro/safra-cli/internal/store"
)

// getCol gets a column value by name from a delimited record, returning
// empty string if not found.
func getCol(record []string, colIdx map[string]int, name string) string {
	idx, ok := colIdx[name]
	if !ok || idx >= len(record) {
		return ""
	}
	return record[idx]
}

// parseOptFloat parses an optional numeric field. Empty or unparseable
// input means the value is unknown, which maps to nil, never to zero.
func parseOptFloat(s string) *float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &v
}

// nonNegative drops negative values, treating them as unknown. Used for
// quantities that can never legitimately be below zero.
func nonNegative(v *float64) *float64 {
	if v == nil || *v < 0 {
		return nil
	}
	return v
}

// resolveYears returns the years a weather source should fetch: the
// explicit override when given, otherwise the distinct harvest years
// already present in the store.
func resolveYears(ctx context.Context, st store.Store, opts Options) ([]int, error) {
	if len(opts.Years) > 0 {
		return opts.Years, nil
	}
	years, err := st.CropYears(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "resolve years")
	}
	return years, nil
}
