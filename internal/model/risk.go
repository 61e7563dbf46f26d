package model

import (
	"math"
	"strconv"
)

// RiskValue is a single raster sample. Invalid values render as the
// configured no-data sentinel.
type RiskValue struct {
	Value float64
	Valid bool
	// Bits is the float precision used when formatting (32 or 64).
	Bits int
}

// NoData is the invalid risk value.
var NoData = RiskValue{Value: math.NaN()}

// NewRiskValue returns a valid risk value formatted at the given precision.
func NewRiskValue(v float64, bits int) RiskValue {
	if math.IsNaN(v) {
		return NoData
	}
	return RiskValue{Value: v, Valid: true, Bits: bits}
}

// String renders the value, or sentinel when the value is invalid.
func (r RiskValue) String(sentinel string) string {
	if !r.Valid {
		return sentinel
	}
	bits := r.Bits
	if bits != 32 {
		bits = 64
	}
	return strconv.FormatFloat(r.Value, 'f', -1, bits)
}
