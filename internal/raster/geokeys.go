package raster

import (
	"github.com/sells-group/flood-risk/internal/geo"
)

// GeoKey IDs.
const (
	keyRasterType      = 1025
	keyGeographicType  = 2048
	keyProjectedCSType = 3072

	rasterPixelIsPoint = 2
	userDefined        = 32767
)

// geoKeys holds the directly stored SHORT values of the GeoKeyDirectory.
type geoKeys map[uint16]uint16

func readGeoKeys(d *directory) geoKeys {
	keys := make(geoKeys)
	dir := d.GeoKeyDirectory
	if len(dir) < 4 {
		return keys
	}
	n := int(dir[3])
	for i := 0; i < n; i++ {
		base := 4 + i*4
		if base+3 >= len(dir) {
			break
		}
		// Location 0 means the value is stored in the entry itself.
		if dir[base+1] != 0 {
			continue
		}
		keys[dir[base]] = dir[base+3]
	}
	return keys
}

// epsg returns the CRS code of the raster, or fallback when the file does
// not name a registered one.
func (k geoKeys) epsg(fallback geo.EPSG) geo.EPSG {
	if v, ok := k[keyProjectedCSType]; ok && v != 0 && v != userDefined {
		return geo.EPSG(v)
	}
	if v, ok := k[keyGeographicType]; ok && v != 0 && v != userDefined {
		return geo.EPSG(v)
	}
	return fallback
}

func (k geoKeys) pixelIsPoint() bool {
	return k[keyRasterType] == rasterPixelIsPoint
}
