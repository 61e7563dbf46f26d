package model

// Record is one output row: the untouched input cells, the parsed address,
// the resolved coordinate (nil when geocoding failed) and one risk value per
// raster layer, in layer order.
type Record struct {
	Row        int
	Cells      []string
	Address    Address
	Coordinate *Coordinate
	// RDX and RDY are the Amersfoort / RD New coordinates of Coordinate.
	RDX, RDY float64
	Source   string
	Risks    []RiskValue
}

// Geocoded reports whether the record has a coordinate.
func (r *Record) Geocoded() bool { return r.Coordinate != nil }
