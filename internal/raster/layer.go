// Package raster reads GeoTIFF risk layers and samples them at coordinates.
package raster

import (
	"math"
	"os"
	"strconv"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/flood-risk/internal/geo"
	"github.com/sells-group/flood-risk/internal/model"
)

var (
	// ErrNoRasters is returned when the risk folder holds no GeoTIFF files.
	ErrNoRasters = eris.New("raster: no raster files found")
	// ErrUnsupported is returned for files the reader cannot interpret.
	ErrUnsupported = eris.New("raster: unsupported raster")
)

// Bounds is the extent of a layer in its own CRS.
type Bounds struct {
	MinX, MinY, MaxX, MaxY float64
}

// Contains reports whether (x, y) lies inside the bounds.
func (b Bounds) Contains(x, y float64) bool {
	return x >= b.MinX && x <= b.MaxX && y >= b.MinY && y <= b.MaxY
}

// Layer is one opened GeoTIFF. It is safe for concurrent use.
type Layer struct {
	// Name is the output column name.
	Name string
	Path string
	EPSG geo.EPSG

	Width, Height int

	noData    float64
	hasNoData bool
	transform affine
	bounds    Bounds
	layout    *layout

	file  *os.File
	mu    sync.Mutex
	cache *chunkCache
}

// Open reads the structure of a GeoTIFF. defaultEPSG is used when the file
// carries no CRS GeoKeys.
func Open(path, name string, defaultEPSG geo.EPSG) (*Layer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "raster: open %s", path)
	}

	l, err := newLayer(f, path, name, defaultEPSG)
	if err != nil {
		_ = f.Close()
		return nil, eris.Wrapf(err, "raster: %s", path)
	}
	return l, nil
}

func newLayer(f *os.File, path, name string, defaultEPSG geo.EPSG) (*Layer, error) {
	d, order, err := readDirectory(f)
	if err != nil {
		return nil, err
	}
	lay, err := newLayout(d, order)
	if err != nil {
		return nil, err
	}
	keys := readGeoKeys(d)
	t, err := readTransform(d, keys)
	if err != nil {
		return nil, err
	}

	epsg := keys.epsg(defaultEPSG)
	if !geo.Supported(epsg) {
		return nil, eris.Wrapf(ErrUnsupported, "raster: CRS EPSG:%d", int(epsg))
	}

	l := &Layer{
		Name:      name,
		Path:      path,
		EPSG:      epsg,
		Width:     lay.width,
		Height:    lay.height,
		transform: t,
		layout:    lay,
		file:      f,
		cache:     newChunkCache(defaultChunkCacheSize),
	}
	l.bounds = l.envelope()

	if nd, ok := d.noData(); ok {
		v, err := strconv.ParseFloat(nd, 64)
		if err != nil {
			zap.L().Warn("raster: ignoring unparseable no-data value",
				zap.String("path", path), zap.String("value", nd))
		} else {
			l.noData, l.hasNoData = v, true
		}
	}
	return l, nil
}

// NoData returns the no-data value declared by the file, if any.
func (l *Layer) NoData() (float64, bool) { return l.noData, l.hasNoData }

// Bounds returns the layer extent in its CRS.
func (l *Layer) Bounds() Bounds { return l.bounds }

func (l *Layer) envelope() Bounds {
	b := Bounds{MinX: math.Inf(1), MinY: math.Inf(1), MaxX: math.Inf(-1), MaxY: math.Inf(-1)}
	for _, corner := range [][2]float64{{0, 0}, {float64(l.Width), 0}, {0, float64(l.Height)}, {float64(l.Width), float64(l.Height)}} {
		x, y := l.transform.apply(corner[0], corner[1])
		b.MinX, b.MaxX = math.Min(b.MinX, x), math.Max(b.MaxX, x)
		b.MinY, b.MaxY = math.Min(b.MinY, y), math.Max(b.MaxY, y)
	}
	return b
}

// Sample returns the value of the pixel containing a WGS84 coordinate.
// A nil coordinate, a position outside the raster and a no-data pixel all
// yield model.NoData.
func (l *Layer) Sample(c *model.Coordinate) model.RiskValue {
	if c == nil {
		return model.NoData
	}
	return l.SamplePoint(geo.Point{X: c.Lon, Y: c.Lat}, geo.WGS84)
}

// SamplePoint samples a position given in any supported CRS.
func (l *Layer) SamplePoint(p geo.Point, crs geo.EPSG) model.RiskValue {
	if crs != l.EPSG {
		var err error
		if p, err = geo.Transform(p, crs, l.EPSG); err != nil {
			zap.L().Warn("raster: reprojection failed", zap.String("layer", l.Name), zap.Error(err))
			return model.NoData
		}
	}
	if !l.bounds.Contains(p.X, p.Y) {
		return model.NoData
	}

	fc, fr := l.transform.invert(p.X, p.Y)
	if math.IsNaN(fc) || math.IsNaN(fr) {
		return model.NoData
	}
	col, row := int(math.Floor(fc)), int(math.Floor(fr))
	if col < 0 || row < 0 || col >= l.Width || row >= l.Height {
		return model.NoData
	}

	v, err := l.pixel(col, row)
	if err != nil {
		zap.L().Warn("raster: read failed",
			zap.String("layer", l.Name), zap.Int("col", col), zap.Int("row", row), zap.Error(err))
		return model.NoData
	}
	if l.isNoData(v) {
		return model.NoData
	}
	return model.NewRiskValue(v, l.layout.floatBits())
}

func (l *Layer) isNoData(v float64) bool {
	if math.IsNaN(v) {
		return true
	}
	if !l.hasNoData {
		return false
	}
	if l.layout.floatBits() == 32 {
		return float32(v) == float32(l.noData)
	}
	return v == l.noData
}

// pixel returns the band 1 value at (col, row), NaN for sparse chunks.
func (l *Layer) pixel(col, row int) (float64, error) {
	idx, x, y := l.layout.locate(col, row)

	l.mu.Lock()
	defer l.mu.Unlock()

	chunk, ok := l.cache.get(idx)
	if !ok {
		var err error
		chunk, err = l.layout.decodeChunk(l.file, idx)
		if err != nil {
			return 0, err
		}
		l.cache.put(idx, chunk)
	}
	if chunk == nil {
		return math.NaN(), nil
	}
	return l.layout.value(chunk, x, y), nil
}

// Close releases the file handle.
func (l *Layer) Close() error {
	if err := l.file.Close(); err != nil {
		return eris.Wrapf(err, "raster: close %s", l.Path)
	}
	return nil
}
