package raster

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"io"
	"math"

	"github.com/rotisserie/eris"
	"golang.org/x/image/tiff/lzw"
)

// Compression schemes.
const (
	compressionNone        = 1
	compressionLZW         = 5
	compressionDeflate     = 8
	compressionPackBits    = 32773
	compressionDeflateOld  = 32946
	predictorNone          = 1
	predictorHorizontal    = 2
	predictorFloatingPoint = 3
	sampleFormatUint       = 1
	sampleFormatInt        = 2
	sampleFormatFloat      = 3
)

// layout describes how band 1 pixels are stored in strips or tiles.
type layout struct {
	width, height  int
	chunkW, chunkH int
	across, down   int
	tiled          bool
	planar         bool
	samples        int
	bytesPerSample int
	sampleFormat   int
	compression    int
	predictor      int
	offsets        []uint64
	counts         []uint64
	order          binary.ByteOrder
}

func newLayout(d *directory, order binary.ByteOrder) (*layout, error) {
	l := &layout{
		width:        int(or64(d.ImageWidth, 0)),
		height:       int(or64(d.ImageLength, 0)),
		samples:      int(or16(d.SamplesPerPixel, 1)),
		sampleFormat: int(first16(d.SampleFormat, sampleFormatUint)),
		compression:  int(or16(d.Compression, compressionNone)),
		predictor:    int(or16(d.Predictor, predictorNone)),
		planar:       or16(d.PlanarConfiguration, 1) == 2,
		order:        order,
	}
	if l.width <= 0 || l.height <= 0 {
		return nil, eris.New("raster: missing image dimensions")
	}
	if l.samples < 1 {
		l.samples = 1
	}

	bits := int(first16(d.BitsPerSample, 1))
	switch bits {
	case 8, 16, 32, 64:
		l.bytesPerSample = bits / 8
	default:
		return nil, eris.Wrapf(ErrUnsupported, "raster: %d bits per sample", bits)
	}
	switch l.sampleFormat {
	case sampleFormatUint, sampleFormatInt:
	case sampleFormatFloat:
		if bits != 32 && bits != 64 {
			return nil, eris.Wrapf(ErrUnsupported, "raster: %d bit float samples", bits)
		}
	default:
		return nil, eris.Wrapf(ErrUnsupported, "raster: sample format %d", l.sampleFormat)
	}
	switch l.compression {
	case compressionNone, compressionLZW, compressionDeflate, compressionDeflateOld, compressionPackBits:
	default:
		return nil, eris.Wrapf(ErrUnsupported, "raster: compression %d", l.compression)
	}
	switch l.predictor {
	case predictorNone, predictorHorizontal:
	case predictorFloatingPoint:
		if l.sampleFormat != sampleFormatFloat {
			return nil, eris.Wrap(ErrUnsupported, "raster: floating point predictor on integer samples")
		}
	default:
		return nil, eris.Wrapf(ErrUnsupported, "raster: predictor %d", l.predictor)
	}

	if d.TileWidth != nil {
		l.tiled = true
		l.chunkW = int(*d.TileWidth)
		l.chunkH = int(or64(d.TileLength, 0))
		l.offsets = d.TileOffsets
		l.counts = d.TileByteCounts
	} else {
		l.chunkW = l.width
		l.chunkH = int(or64(d.RowsPerStrip, uint64(l.height)))
		l.offsets = d.StripOffsets
		l.counts = d.StripByteCounts
	}
	if l.chunkW <= 0 || l.chunkH <= 0 {
		return nil, eris.New("raster: invalid strip or tile size")
	}
	if l.chunkH > l.height && !l.tiled {
		l.chunkH = l.height
	}
	l.across = (l.width + l.chunkW - 1) / l.chunkW
	l.down = (l.height + l.chunkH - 1) / l.chunkH

	need := l.across * l.down
	if len(l.offsets) < need || len(l.counts) < need {
		return nil, eris.Errorf("raster: expected %d chunks, found %d offsets and %d byte counts",
			need, len(l.offsets), len(l.counts))
	}
	return l, nil
}

// pixelStride is the distance in bytes between band 1 samples of adjacent pixels.
func (l *layout) pixelStride() int {
	if l.planar {
		return l.bytesPerSample
	}
	return l.samples * l.bytesPerSample
}

func (l *layout) rowStride() int { return l.chunkW * l.pixelStride() }

// floatBits is the precision risk values are rendered with.
func (l *layout) floatBits() int {
	if l.bytesPerSample == 8 || (l.bytesPerSample == 4 && l.sampleFormat != sampleFormatFloat) {
		return 64
	}
	return 32
}

// locate returns the chunk holding pixel (col, row) and the pixel's position inside it.
func (l *layout) locate(col, row int) (idx, x, y int) {
	cx, cy := col/l.chunkW, row/l.chunkH
	return cy*l.across + cx, col - cx*l.chunkW, row - cy*l.chunkH
}

// chunkRows is the number of rows stored in a chunk. The last strip may be short.
func (l *layout) chunkRows(idx int) int {
	if l.tiled {
		return l.chunkH
	}
	return min(l.chunkH, l.height-(idx/l.across)*l.chunkH)
}

// decodeChunk reads, decompresses and un-predicts one chunk. A chunk with
// no stored bytes (sparse file) decodes to nil.
func (l *layout) decodeChunk(r io.ReaderAt, idx int) ([]byte, error) {
	if l.counts[idx] == 0 {
		return nil, nil
	}
	if l.counts[idx] > maxFieldBytes {
		return nil, eris.Errorf("raster: chunk %d too large", idx)
	}
	raw := make([]byte, l.counts[idx])
	if _, err := r.ReadAt(raw, int64(l.offsets[idx])); err != nil {
		return nil, eris.Wrapf(err, "raster: read chunk %d", idx)
	}

	rows := l.chunkRows(idx)
	out := make([]byte, rows*l.rowStride())

	switch l.compression {
	case compressionNone:
		if len(raw) < len(out) {
			return nil, eris.Errorf("raster: chunk %d is short", idx)
		}
		copy(out, raw)
	case compressionLZW:
		rc := lzw.NewReader(bytes.NewReader(raw), lzw.MSB, 8)
		defer rc.Close() //nolint:errcheck
		if _, err := io.ReadFull(rc, out); err != nil {
			return nil, eris.Wrapf(err, "raster: lzw chunk %d", idx)
		}
	case compressionDeflate, compressionDeflateOld:
		zr, err := zlib.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, eris.Wrapf(err, "raster: deflate chunk %d", idx)
		}
		defer zr.Close() //nolint:errcheck
		if _, err := io.ReadFull(zr, out); err != nil {
			return nil, eris.Wrapf(err, "raster: deflate chunk %d", idx)
		}
	case compressionPackBits:
		if err := unpackBits(raw, out); err != nil {
			return nil, eris.Wrapf(err, "raster: packbits chunk %d", idx)
		}
	}

	switch l.predictor {
	case predictorHorizontal:
		l.undoHorizontal(out, rows)
	case predictorFloatingPoint:
		l.undoFloatingPoint(out, rows)
	}
	return out, nil
}

// unpackBits expands PackBits run-length data into dst.
func unpackBits(src, dst []byte) error {
	n := 0
	for i := 0; i < len(src) && n < len(dst); {
		c := int8(src[i])
		i++
		switch {
		case c >= 0:
			count := int(c) + 1
			if i+count > len(src) || n+count > len(dst) {
				return eris.New("literal run overflows")
			}
			copy(dst[n:], src[i:i+count])
			i += count
			n += count
		case c != -128:
			count := 1 - int(c)
			if i >= len(src) || n+count > len(dst) {
				return eris.New("repeat run overflows")
			}
			for k := 0; k < count; k++ {
				dst[n+k] = src[i]
			}
			i++
			n += count
		}
	}
	if n < len(dst) {
		return eris.New("short data")
	}
	return nil
}

// undoHorizontal reverses predictor 2: each sample is stored as the
// difference to the same channel of the previous pixel.
func (l *layout) undoHorizontal(buf []byte, rows int) {
	channels := l.samples
	if l.planar {
		channels = 1
	}
	bps := l.bytesPerSample
	stride := l.rowStride()
	n := l.chunkW * channels

	for r := 0; r < rows; r++ {
		row := buf[r*stride : (r+1)*stride]
		for i := channels; i < n; i++ {
			cur, prev := row[i*bps:], row[(i-channels)*bps:]
			switch bps {
			case 1:
				cur[0] += prev[0]
			case 2:
				l.order.PutUint16(cur, l.order.Uint16(cur)+l.order.Uint16(prev))
			case 4:
				l.order.PutUint32(cur, l.order.Uint32(cur)+l.order.Uint32(prev))
			case 8:
				l.order.PutUint64(cur, l.order.Uint64(cur)+l.order.Uint64(prev))
			}
		}
	}
}

// undoFloatingPoint reverses predictor 3: bytes are split into planes,
// most significant first, and byte-wise differenced along the row.
func (l *layout) undoFloatingPoint(buf []byte, rows int) {
	channels := l.samples
	if l.planar {
		channels = 1
	}
	bps := l.bytesPerSample
	stride := l.rowStride()
	wc := l.chunkW * channels
	tmp := make([]byte, stride)
	little := l.order == binary.LittleEndian

	for r := 0; r < rows; r++ {
		row := buf[r*stride : (r+1)*stride]
		for i := channels; i < stride; i++ {
			row[i] += row[i-channels]
		}
		copy(tmp, row)
		for s := 0; s < wc; s++ {
			for b := 0; b < bps; b++ {
				plane := b
				if little {
					plane = bps - b - 1
				}
				row[s*bps+b] = tmp[plane*wc+s]
			}
		}
	}
}

// value decodes the band 1 sample at (x, y) within a decoded chunk.
func (l *layout) value(chunk []byte, x, y int) float64 {
	b := chunk[y*l.rowStride()+x*l.pixelStride():]
	switch l.sampleFormat {
	case sampleFormatFloat:
		if l.bytesPerSample == 4 {
			return float64(math.Float32frombits(l.order.Uint32(b)))
		}
		return math.Float64frombits(l.order.Uint64(b))
	case sampleFormatInt:
		switch l.bytesPerSample {
		case 1:
			return float64(int8(b[0]))
		case 2:
			return float64(int16(l.order.Uint16(b)))
		case 4:
			return float64(int32(l.order.Uint32(b)))
		default:
			return float64(int64(l.order.Uint64(b)))
		}
	default:
		switch l.bytesPerSample {
		case 1:
			return float64(b[0])
		case 2:
			return float64(l.order.Uint16(b))
		case 4:
			return float64(l.order.Uint32(b))
		default:
			return float64(l.order.Uint64(b))
		}
	}
}
