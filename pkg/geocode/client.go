// Package geocode resolves Dutch addresses to WGS84 coordinates, either
// online through Nominatim or offline from a BAG reference dataset.
package geocode

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/flood-risk/internal/geo"
	"github.com/sells-group/flood-risk/internal/model"
)

// Geocoding method names, as used in configuration.
const (
	MethodNominatim = "nominatim"
	MethodBAG       = "bag"
)

// ErrReferenceNotFound is returned when the offline reference dataset is missing.
var ErrReferenceNotFound = eris.New("geocode: reference dataset not found")

// Client resolves one address at a time. A lookup that finds nothing is not
// an error: it returns a Result with Matched false.
type Client interface {
	Name() string
	Geocode(ctx context.Context, addr model.Address) (*Result, error)
	Close() error
}

// Result holds the geocoding output for an address.
type Result struct {
	Coordinate model.Coordinate
	// RDX and RDY are the Amersfoort / RD New (EPSG:28992) coordinates.
	RDX, RDY    float64
	Source      string
	DisplayName string
	Matched     bool
}

func unmatched(source string) *Result {
	return &Result{Source: source}
}

// matchedWGS84 builds a result from a WGS84 position.
func matchedWGS84(source string, lat, lon float64) *Result {
	x, y := geo.WGS84ToRD(lat, lon)
	return &Result{
		Coordinate: model.Coordinate{Lat: lat, Lon: lon},
		RDX:        x,
		RDY:        y,
		Source:     source,
		Matched:    true,
	}
}

// matchedRD builds a result from an RD New position.
func matchedRD(source string, x, y float64) *Result {
	lat, lon := geo.RDToWGS84(x, y)
	return &Result{
		Coordinate: model.Coordinate{Lat: lat, Lon: lon},
		RDX:        x,
		RDY:        y,
		Source:     source,
		Matched:    true,
	}
}
