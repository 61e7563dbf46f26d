package raster

import (
	"bytes"
	"compress/lzw"
	"compress/zlib"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
)

// TIFF field types written by the encoder.
const (
	typeASCII  = 2
	typeShort  = 3
	typeLong   = 4
	typeDouble = 12
	typeLong8  = 16
)

// tiffSpec describes a synthetic single-image GeoTIFF.
type tiffSpec struct {
	width, height int
	bits          int
	format        int
	order         binary.ByteOrder
	bigTIFF       bool
	tile          int
	rowsPerStrip  int
	compression   int
	predictor     int
	samples       int
	planar        bool

	epsg         int
	geographic   bool
	pixelIsPoint bool
	originX      float64
	originY      float64
	scale        float64
	transform    bool
	noData       string

	values []float64 // band 1, row major
}

// rdSpec is a 4x4 float32 raster in RD New with 25 m pixels whose upper left
// corner sits at (121000, 487100) near the Dam in Amsterdam.
func rdSpec() tiffSpec {
	vals := make([]float64, 16)
	for i := range vals {
		vals[i] = float64(i) + 0.5
	}
	return tiffSpec{
		width: 4, height: 4, bits: 32, format: sampleFormatFloat,
		order: binary.LittleEndian, compression: compressionNone, predictor: predictorNone,
		epsg: 28992, originX: 121000, originY: 487100, scale: 25,
		values: vals,
	}
}

type tiffEntry struct {
	tag   uint16
	typ   uint16
	count uint64
	data  []byte
}

func (s tiffSpec) withDefaults() tiffSpec {
	if s.order == nil {
		s.order = binary.LittleEndian
	}
	if s.samples == 0 {
		s.samples = 1
	}
	if s.compression == 0 {
		s.compression = compressionNone
	}
	if s.predictor == 0 {
		s.predictor = predictorNone
	}
	if s.format == 0 {
		s.format = sampleFormatUint
	}
	return s
}

func (s tiffSpec) putSample(b []byte, v float64) {
	switch {
	case s.format == sampleFormatFloat && s.bits == 32:
		s.order.PutUint32(b, math.Float32bits(float32(v)))
	case s.format == sampleFormatFloat && s.bits == 64:
		s.order.PutUint64(b, math.Float64bits(v))
	case s.bits == 8:
		b[0] = byte(int64(v))
	case s.bits == 16:
		s.order.PutUint16(b, uint16(int64(v)))
	case s.bits == 32:
		s.order.PutUint32(b, uint32(int64(v)))
	default:
		s.order.PutUint64(b, uint64(int64(v)))
	}
}

// chunkBytes renders band planes for one chunk before compression.
func (s tiffSpec) chunkBytes(plane, x0, y0, w, h int) []byte {
	bps := s.bits / 8
	channels := s.samples
	if s.planar {
		channels = 1
	}
	out := make([]byte, w*h*channels*bps)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			for ch := 0; ch < channels; ch++ {
				band := ch
				if s.planar {
					band = plane
				}
				v := 0.0
				if x0+x < s.width && y0+y < s.height {
					v = s.values[(y0+y)*s.width+x0+x]
					if band > 0 {
						v = -1
					}
				}
				s.putSample(out[((y*w+x)*channels+ch)*bps:], v)
			}
		}
	}

	rowLen := w * channels * bps
	for y := 0; y < h; y++ {
		row := out[y*rowLen : (y+1)*rowLen]
		switch s.predictor {
		case predictorHorizontal:
			for i := w*channels - 1; i >= channels; i-- {
				cur, prev := row[i*bps:], row[(i-channels)*bps:]
				switch bps {
				case 1:
					cur[0] -= prev[0]
				case 2:
					s.order.PutUint16(cur, s.order.Uint16(cur)-s.order.Uint16(prev))
				case 4:
					s.order.PutUint32(cur, s.order.Uint32(cur)-s.order.Uint32(prev))
				case 8:
					s.order.PutUint64(cur, s.order.Uint64(cur)-s.order.Uint64(prev))
				}
			}
		case predictorFloatingPoint:
			wc := w * channels
			tmp := append([]byte(nil), row...)
			for i := 0; i < wc; i++ {
				for b := 0; b < bps; b++ {
					src := b
					if s.order == binary.LittleEndian {
						src = bps - b - 1
					}
					row[b*wc+i] = tmp[i*bps+src]
				}
			}
			for i := len(row) - 1; i >= channels; i-- {
				row[i] -= row[i-channels]
			}
		}
	}
	return out
}

func (s tiffSpec) compress(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	switch s.compression {
	case compressionNone:
		return data
	case compressionDeflate, compressionDeflateOld:
		zw := zlib.NewWriter(&buf)
		_, err := zw.Write(data)
		require.NoError(t, err)
		require.NoError(t, zw.Close())
	case compressionLZW:
		// Small inputs never reach a code width change, so the standard
		// encoder output is valid TIFF LZW.
		lw := lzw.NewWriter(&buf, lzw.MSB, 8)
		_, err := lw.Write(data)
		require.NoError(t, err)
		require.NoError(t, lw.Close())
	case compressionPackBits:
		// Literal runs of at most 128 bytes.
		for len(data) > 0 {
			n := min(len(data), 128)
			buf.WriteByte(byte(n - 1))
			buf.Write(data[:n])
			data = data[n:]
		}
	}
	return buf.Bytes()
}

func (s tiffSpec) shorts(vals ...uint64) []byte {
	b := make([]byte, 2*len(vals))
	for i, v := range vals {
		s.order.PutUint16(b[2*i:], uint16(v))
	}
	return b
}

func (s tiffSpec) longs(typ uint16, vals []uint64) []byte {
	size := 4
	if typ == typeLong8 {
		size = 8
	}
	b := make([]byte, size*len(vals))
	for i, v := range vals {
		if size == 8 {
			s.order.PutUint64(b[8*i:], v)
		} else {
			s.order.PutUint32(b[4*i:], uint32(v))
		}
	}
	return b
}

func (s tiffSpec) doubles(vals ...float64) []byte {
	b := make([]byte, 8*len(vals))
	for i, v := range vals {
		s.order.PutUint64(b[8*i:], math.Float64bits(v))
	}
	return b
}

// encode renders the whole file.
func (s tiffSpec) encode(t *testing.T) []byte {
	t.Helper()
	s = s.withDefaults()

	headerLen := 8
	if s.bigTIFF {
		headerLen = 16
	}

	chunkW, chunkH := s.width, s.rowsPerStrip
	if chunkH <= 0 {
		chunkH = s.height
	}
	if s.tile > 0 {
		chunkW, chunkH = s.tile, s.tile
	}
	across := (s.width + chunkW - 1) / chunkW
	down := (s.height + chunkH - 1) / chunkH
	planes := 1
	if s.planar {
		planes = s.samples
	}

	var data bytes.Buffer
	var offsets, counts []uint64
	for p := 0; p < planes; p++ {
		for cy := 0; cy < down; cy++ {
			for cx := 0; cx < across; cx++ {
				h := chunkH
				if s.tile == 0 {
					h = min(chunkH, s.height-cy*chunkH)
				}
				raw := s.compress(t, s.chunkBytes(p, cx*chunkW, cy*chunkH, chunkW, h))
				offsets = append(offsets, uint64(headerLen+data.Len()))
				counts = append(counts, uint64(len(raw)))
				data.Write(raw)
			}
		}
	}

	offType := uint16(typeLong)
	if s.bigTIFF {
		offType = typeLong8
	}
	bitsPer := make([]uint64, s.samples)
	formats := make([]uint64, s.samples)
	for i := range bitsPer {
		bitsPer[i] = uint64(s.bits)
		formats[i] = uint64(s.format)
	}

	entries := []tiffEntry{
		{tagImageWidth, typeShort, 1, s.shorts(uint64(s.width))},
		{tagImageLength, typeShort, 1, s.shorts(uint64(s.height))},
		{tagBitsPerSample, typeShort, uint64(s.samples), s.shorts(bitsPer...)},
		{tagCompression, typeShort, 1, s.shorts(uint64(s.compression))},
		{262, typeShort, 1, s.shorts(1)},
		{tagSamplesPerPixel, typeShort, 1, s.shorts(uint64(s.samples))},
		{tagPredictor, typeShort, 1, s.shorts(uint64(s.predictor))},
		{tagSampleFormat, typeShort, uint64(s.samples), s.shorts(formats...)},
	}
	if s.planar {
		entries = append(entries, tiffEntry{tagPlanarConfiguration, typeShort, 1, s.shorts(2)})
	}
	if s.tile > 0 {
		entries = append(entries,
			tiffEntry{tagTileWidth, typeShort, 1, s.shorts(uint64(chunkW))},
			tiffEntry{tagTileLength, typeShort, 1, s.shorts(uint64(chunkH))},
			tiffEntry{tagTileOffsets, offType, uint64(len(offsets)), s.longs(offType, offsets)},
			tiffEntry{tagTileByteCounts, offType, uint64(len(counts)), s.longs(offType, counts)},
		)
	} else {
		entries = append(entries,
			tiffEntry{tagRowsPerStrip, typeShort, 1, s.shorts(uint64(chunkH))},
			tiffEntry{tagStripOffsets, offType, uint64(len(offsets)), s.longs(offType, offsets)},
			tiffEntry{tagStripByteCounts, offType, uint64(len(counts)), s.longs(offType, counts)},
		)
	}
	if s.scale > 0 {
		if s.transform {
			entries = append(entries, tiffEntry{tagModelTransformation, typeDouble, 16, s.doubles(
				s.scale, 0, 0, s.originX,
				0, -s.scale, 0, s.originY,
				0, 0, 0, 0,
				0, 0, 0, 1,
			)})
		} else {
			entries = append(entries,
				tiffEntry{tagModelPixelScale, typeDouble, 3, s.doubles(s.scale, s.scale, 0)},
				tiffEntry{tagModelTiepoint, typeDouble, 6, s.doubles(0, 0, 0, s.originX, s.originY, 0)},
			)
		}
	}
	keys := [][4]uint64{}
	modelType, rasterType := uint64(1), uint64(1)
	if s.geographic {
		modelType = 2
	}
	if s.pixelIsPoint {
		rasterType = rasterPixelIsPoint
	}
	keys = append(keys, [4]uint64{1024, 0, 1, modelType}, [4]uint64{keyRasterType, 0, 1, rasterType})
	if s.epsg != 0 {
		if s.geographic {
			keys = append(keys, [4]uint64{keyGeographicType, 0, 1, uint64(s.epsg)})
		} else {
			keys = append(keys, [4]uint64{keyProjectedCSType, 0, 1, uint64(s.epsg)})
		}
	}
	dir := []uint64{1, 1, 0, uint64(len(keys))}
	for _, k := range keys {
		dir = append(dir, k[:]...)
	}
	entries = append(entries, tiffEntry{tagGeoKeyDirectory, typeShort, uint64(len(dir)), s.shorts(dir...)})
	if s.noData != "" {
		nd := append([]byte(s.noData), 0)
		entries = append(entries, tiffEntry{tagGDALNoData, typeASCII, uint64(len(nd)), nd})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].tag < entries[j].tag })

	countSize, entrySize, inline := 2, 12, 4
	if s.bigTIFF {
		countSize, entrySize, inline = 8, 20, 8
	}
	ifdOffset := headerLen + data.Len()
	extOffset := ifdOffset + countSize + len(entries)*entrySize + inline

	var ifdBuf, ext bytes.Buffer
	cnt := make([]byte, countSize)
	if s.bigTIFF {
		s.order.PutUint64(cnt, uint64(len(entries)))
	} else {
		s.order.PutUint16(cnt, uint16(len(entries)))
	}
	ifdBuf.Write(cnt)
	for _, e := range entries {
		b := make([]byte, entrySize)
		s.order.PutUint16(b, e.tag)
		s.order.PutUint16(b[2:], e.typ)
		value := b[8:]
		if s.bigTIFF {
			s.order.PutUint64(b[4:], e.count)
			value = b[12:]
		} else {
			s.order.PutUint32(b[4:], uint32(e.count))
		}
		if len(e.data) <= inline {
			copy(value, e.data)
		} else {
			off := uint64(extOffset + ext.Len())
			if s.bigTIFF {
				s.order.PutUint64(value, off)
			} else {
				s.order.PutUint32(value, uint32(off))
			}
			ext.Write(e.data)
			if ext.Len()%2 == 1 {
				ext.WriteByte(0)
			}
		}
		ifdBuf.Write(b)
	}
	ifdBuf.Write(make([]byte, inline)) // next IFD: none

	header := make([]byte, headerLen)
	if s.order == binary.LittleEndian {
		copy(header, "II")
	} else {
		copy(header, "MM")
	}
	if s.bigTIFF {
		s.order.PutUint16(header[2:], 43)
		s.order.PutUint16(header[4:], 8)
		s.order.PutUint64(header[8:], uint64(ifdOffset))
	} else {
		s.order.PutUint16(header[2:], 42)
		s.order.PutUint32(header[4:], uint32(ifdOffset))
	}

	var out bytes.Buffer
	out.Write(header)
	out.Write(data.Bytes())
	out.Write(ifdBuf.Bytes())
	out.Write(ext.Bytes())
	return out.Bytes()
}

// writeTIFF writes spec to dir/name and returns the path.
func writeTIFF(t *testing.T, dir, name string, s tiffSpec) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, s.encode(t), 0o644))
	return path
}
