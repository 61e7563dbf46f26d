package pipeline

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/csv"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/flood-risk/internal/config"
	"github.com/sells-group/flood-risk/internal/model"
	"github.com/sells-group/flood-risk/pkg/geocode"
)

// Test rasters are 4x4 float32 grids in RD New with 25 m pixels whose upper
// left corner is (121000, 487100).
const (
	originX = 121000.0
	originY = 487100.0
	pixel   = 25.0
)

// writeGeoTIFF writes an uncompressed single strip float32 GeoTIFF whose
// pixel i holds base+i.
func writeGeoTIFF(t *testing.T, dir, name string, base float64, noData string) string {
	t.Helper()
	le := binary.LittleEndian

	var data bytes.Buffer
	for i := 0; i < 16; i++ {
		b := make([]byte, 4)
		le.PutUint32(b, math.Float32bits(float32(base+float64(i))))
		data.Write(b)
	}

	type entry struct {
		tag, typ uint16
		count    uint32
		data     []byte
	}
	short := func(vals ...uint16) []byte {
		b := make([]byte, 2*len(vals))
		for i, v := range vals {
			le.PutUint16(b[2*i:], v)
		}
		return b
	}
	long := func(v uint32) []byte {
		b := make([]byte, 4)
		le.PutUint32(b, v)
		return b
	}
	doubles := func(vals ...float64) []byte {
		b := make([]byte, 8*len(vals))
		for i, v := range vals {
			le.PutUint64(b[8*i:], math.Float64bits(v))
		}
		return b
	}

	geoKeys := short(1, 1, 0, 3, 1024, 0, 1, 1, 1025, 0, 1, 1, 3072, 0, 1, 28992)
	entries := []entry{
		{256, 3, 1, short(4)},
		{257, 3, 1, short(4)},
		{258, 3, 1, short(32)},
		{259, 3, 1, short(1)},
		{262, 3, 1, short(1)},
		{273, 4, 1, long(8)},
		{277, 3, 1, short(1)},
		{278, 3, 1, short(4)},
		{279, 4, 1, long(uint32(data.Len()))},
		{339, 3, 1, short(3)},
		{33550, 12, 3, doubles(pixel, pixel, 0)},
		{33922, 12, 6, doubles(0, 0, 0, originX, originY, 0)},
		{34735, 3, uint32(len(geoKeys) / 2), geoKeys},
	}
	if noData != "" {
		nd := append([]byte(noData), 0)
		entries = append(entries, entry{42113, 2, uint32(len(nd)), nd})
	}

	ifdOffset := 8 + data.Len()
	extOffset := ifdOffset + 2 + 12*len(entries) + 4
	var ifd, ext bytes.Buffer
	ifd.Write(short(uint16(len(entries))))
	for _, e := range entries {
		b := make([]byte, 12)
		le.PutUint16(b, e.tag)
		le.PutUint16(b[2:], e.typ)
		le.PutUint32(b[4:], e.count)
		if len(e.data) <= 4 {
			copy(b[8:], e.data)
		} else {
			le.PutUint32(b[8:], uint32(extOffset+ext.Len()))
			ext.Write(e.data)
			if ext.Len()%2 == 1 {
				ext.WriteByte(0)
			}
		}
		ifd.Write(b)
	}
	ifd.Write(make([]byte, 4))

	var out bytes.Buffer
	out.WriteString("II")
	out.Write(short(42))
	out.Write(long(uint32(ifdOffset)))
	out.Write(data.Bytes())
	out.Write(ifd.Bytes())
	out.Write(ext.Bytes())

	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, out.Bytes(), 0o644))
	return path
}

// rdCell returns the RD position at the centre of pixel (col, row).
func rdCell(col, row int) (x, y float64) {
	return originX + (float64(col)+0.5)*pixel, originY - (float64(row)+0.5)*pixel
}

// fakeGeocoder answers from a postcode table.
type fakeGeocoder struct {
	results map[string]*geocode.Result
	errs    map[string]error
	calls   int
}

func newFakeGeocoder() *fakeGeocoder {
	return &fakeGeocoder{results: map[string]*geocode.Result{}, errs: map[string]error{}}
}

// at registers a match for postcode at the centre of pixel (col, row).
func (f *fakeGeocoder) at(postcode string, col, row int) {
	x, y := rdCell(col, row)
	f.results[postcode] = &geocode.Result{
		Coordinate: model.Coordinate{Lat: 52.37, Lon: 4.89},
		RDX:        x,
		RDY:        y,
		Source:     "fake",
		Matched:    true,
	}
}

func (f *fakeGeocoder) Name() string { return "fake" }
func (f *fakeGeocoder) Close() error { return nil }

func (f *fakeGeocoder) Geocode(ctx context.Context, addr model.Address) (*geocode.Result, error) {
	f.calls++
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "fake: geocode")
	}
	if err, ok := f.errs[addr.Postcode]; ok {
		return nil, err
	}
	if res, ok := f.results[addr.Postcode]; ok {
		return res, nil
	}
	return &geocode.Result{Source: "fake"}, nil
}

// testEnv is a risk folder with two layers and an output location.
type testEnv struct {
	dir    string
	risk   string
	output string
	cfg    *config.Config
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	risk := filepath.Join(dir, "risk_data")
	require.NoError(t, os.MkdirAll(risk, 0o755))
	writeGeoTIFF(t, risk, "Flood Depth.tif", 0.5, "")
	writeGeoTIFF(t, risk, "wind_risk.tif", 100.5, "105.5")

	out := filepath.Join(dir, "flooding_risks.csv")
	return &testEnv{
		dir:    dir,
		risk:   risk,
		output: out,
		cfg: &config.Config{
			Risk:   config.RiskConfig{Path: risk, DefaultEPSG: 28992, NoDataValue: "NA"},
			Output: config.OutputConfig{Path: out},
		},
	}
}

// writeInput writes a CSV input file and returns its path.
func (e *testEnv) writeInput(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(e.dir, "addresses.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	rows, err := csv.NewReader(strings.NewReader(string(data))).ReadAll()
	require.NoError(t, err)
	return rows
}
