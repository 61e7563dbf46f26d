package geocode

import (
	"encoding/binary"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/wkb"
)

// GeoPackage geometry blobs are a small header followed by standard WKB:
// magic "GP", version, flags, int32 srs_id, optional envelope.
const gpkgHeaderSize = 8

var gpkgEnvelopeSizes = map[byte]int{0: 0, 1: 32, 2: 48, 3: 48, 4: 64}

// decodeGeoPackagePoint returns the position of a GeoPackage point geometry.
// Non-point geometries yield the centre of their bounds.
func decodeGeoPackagePoint(blob []byte) (x, y float64, err error) {
	if len(blob) < gpkgHeaderSize || blob[0] != 'G' || blob[1] != 'P' {
		return 0, 0, eris.New("gpkg: not a geometry blob")
	}
	flags := blob[3]
	if flags&0x10 != 0 {
		return 0, 0, eris.New("gpkg: empty geometry")
	}
	envSize, ok := gpkgEnvelopeSizes[(flags>>1)&0x07]
	if !ok {
		return 0, 0, eris.Errorf("gpkg: invalid envelope indicator in flags %#x", flags)
	}
	start := gpkgHeaderSize + envSize
	if len(blob) < start {
		return 0, 0, eris.New("gpkg: truncated header")
	}

	g, err := wkb.Unmarshal(blob[start:])
	if err != nil {
		return 0, 0, eris.Wrap(err, "gpkg: decode wkb")
	}

	if p, ok := g.(*geom.Point); ok {
		return p.X(), p.Y(), nil
	}
	b := g.Bounds()
	if b.IsEmpty() {
		return 0, 0, eris.New("gpkg: empty geometry")
	}
	return (b.Min(0) + b.Max(0)) / 2, (b.Min(1) + b.Max(1)) / 2, nil
}

// encodeGeoPackagePoint builds a GeoPackage blob without envelope. It is the
// inverse of decodeGeoPackagePoint for points and is used to seed fixtures.
func encodeGeoPackagePoint(x, y float64, srsID int32) ([]byte, error) {
	data, err := wkb.Marshal(geom.NewPointFlat(geom.XY, []float64{x, y}), wkb.NDR)
	if err != nil {
		return nil, eris.Wrap(err, "gpkg: encode wkb")
	}
	header := make([]byte, gpkgHeaderSize)
	header[0], header[1] = 'G', 'P'
	header[3] = 0x01 // little endian, no envelope
	binary.LittleEndian.PutUint32(header[4:], uint32(srsID))
	return append(header, data...), nil
}
