package raster

import (
	"encoding/binary"
	"fmt"
	"io"
	"strings"

	"github.com/google/tiff"
	_ "github.com/google/tiff/bigtiff" // registers the version 43 parser
	_ "github.com/google/tiff/geotiff" // registers GeoTIFF tag names
	"github.com/rotisserie/eris"
)

// TIFF tags read by the sampler.
const (
	tagImageWidth          = 256
	tagImageLength         = 257
	tagBitsPerSample       = 258
	tagCompression         = 259
	tagStripOffsets        = 273
	tagSamplesPerPixel     = 277
	tagRowsPerStrip        = 278
	tagStripByteCounts     = 279
	tagPlanarConfiguration = 284
	tagPredictor           = 317
	tagTileWidth           = 322
	tagTileLength          = 323
	tagTileOffsets         = 324
	tagTileByteCounts      = 325
	tagSampleFormat        = 339
	tagModelPixelScale     = 33550
	tagModelTiepoint       = 33922
	tagModelTransformation = 34264
	tagGeoKeyDirectory     = 34735
	tagGDALNoData          = 42113
)

// maxFieldBytes guards against corrupt byte counts allocating huge chunk buffers.
const maxFieldBytes = 256 << 20

// directory is the subset of the first IFD the sampler reads. Offsets and
// sizes are widened to uint64 so classic and BigTIFF files share one shape.
type directory struct {
	ImageWidth          *uint64   `tiff:"field,tag=256"`
	ImageLength         *uint64   `tiff:"field,tag=257"`
	BitsPerSample       []uint16  `tiff:"field,tag=258"`
	Compression         *uint16   `tiff:"field,tag=259"`
	StripOffsets        []uint64  `tiff:"field,tag=273"`
	SamplesPerPixel     *uint16   `tiff:"field,tag=277"`
	RowsPerStrip        *uint64   `tiff:"field,tag=278"`
	StripByteCounts     []uint64  `tiff:"field,tag=279"`
	PlanarConfiguration *uint16   `tiff:"field,tag=284"`
	Predictor           *uint16   `tiff:"field,tag=317"`
	TileWidth           *uint64   `tiff:"field,tag=322"`
	TileLength          *uint64   `tiff:"field,tag=323"`
	TileOffsets         []uint64  `tiff:"field,tag=324"`
	TileByteCounts      []uint64  `tiff:"field,tag=325"`
	SampleFormat        []uint16  `tiff:"field,tag=339"`
	ModelPixelScale     []float64 `tiff:"field,tag=33550"`
	ModelTiepoint       []float64 `tiff:"field,tag=33922"`
	ModelTransformation []float64 `tiff:"field,tag=34264"`
	GeoKeyDirectory     []uint16  `tiff:"field,tag=34735"`
	GDALNoData          *string   `tiff:"field,tag=42113"`
}

// readDirectory parses the TIFF or BigTIFF header and the first IFD.
func readDirectory(r tiff.ReadAtReadSeeker) (d *directory, order binary.ByteOrder, err error) {
	// The parser indexes into field data without bounds checks.
	defer func() {
		if p := recover(); p != nil {
			d, err = nil, eris.Wrapf(ErrUnsupported, "raster: malformed TIFF: %v", p)
		}
	}()

	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, nil, eris.Wrap(err, "raster: seek header")
	}
	t, err := tiff.Parse(r, nil, nil)
	if err != nil {
		return nil, nil, eris.Wrap(ErrUnsupported, fmt.Sprintf("raster: not a TIFF file: %v", err))
	}
	ifds := t.IFDs()
	if len(ifds) == 0 {
		return nil, nil, eris.Wrap(ErrUnsupported, "raster: no image directory")
	}

	d = &directory{}
	if err := tiff.UnmarshalIFD(ifds[0], d); err != nil {
		return nil, nil, eris.Wrap(ErrUnsupported, fmt.Sprintf("raster: %v", err))
	}
	return d, t.R().ByteOrder(), nil
}

func (d *directory) noData() (string, bool) {
	if d.GDALNoData == nil {
		return "", false
	}
	return strings.TrimSpace(*d.GDALNoData), true
}

func first16(v []uint16, def uint16) uint16 {
	if len(v) == 0 {
		return def
	}
	return v[0]
}

func or16(v *uint16, def uint16) uint16 {
	if v == nil {
		return def
	}
	return *v
}

func or64(v *uint64, def uint64) uint64 {
	if v == nil {
		return def
	}
	return *v
}
