package pipeline

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"unicode/utf8"

	shp "github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"

	"github.com/sells-group/flood-risk/internal/address"
	"github.com/sells-group/flood-risk/internal/model"
	"github.com/sells-group/flood-risk/internal/raster"
)

// rdNewPRJ is the ESRI WKT for Amersfoort / RD New (EPSG:28992).
const rdNewPRJ = `PROJCS["Amersfoort_RD_New",GEOGCS["GCS_Amersfoort",DATUM["D_Amersfoort",SPHEROID["Bessel_1841",6377397.155,299.1528128]],PRIMEM["Greenwich",0.0],UNIT["Degree",0.0174532925199433]],PROJECTION["Double_Stereographic"],PARAMETER["False_Easting",155000.0],PARAMETER["False_Northing",463000.0],PARAMETER["Central_Meridian",5.38763888888889],PARAMETER["Scale_Factor",0.9999079],PARAMETER["Latitude_Of_Origin",52.15616055555555],UNIT["Meter",1.0]]`

// dBASE field names hold at most ten characters.
const dbfNameLen = 10

// writeShapefile exports the geocoded records as RD New points with the row
// number, normalized address, geocoding source and one attribute per layer. Rows without a
// coordinate are left out.
func writeShapefile(path string, layers []*raster.Layer, records []model.Record) (int, error) {
	// shp.Create replaces the last three characters with the sidecar extensions.
	if !strings.EqualFold(filepath.Ext(path), ".shp") {
		path += ".shp"
	}
	w, err := shp.Create(path, shp.POINT)
	if err != nil {
		return 0, eris.Wrapf(err, "pipeline: create shapefile %s", path)
	}

	fields := []shp.Field{
		shp.NumberField("row", 10),
		shp.StringField("address", 254),
		shp.StringField("source", 16),
	}
	for _, name := range dbfFieldNames(raster.Names(layers), "row", "address", "source") {
		fields = append(fields, shp.FloatField(name, 24, 8))
	}
	if err := w.SetFields(fields); err != nil {
		w.Close()
		return 0, eris.Wrap(err, "pipeline: set shapefile fields")
	}

	written := 0
	for i := range records {
		rec := &records[i]
		if !rec.Geocoded() {
			continue
		}
		n := int(w.Write(&shp.Point{X: rec.RDX, Y: rec.RDY}))
		attrs := []any{rec.Row, address.Normalize(rec.Address), rec.Source}
		for _, v := range rec.Risks {
			if v.Valid {
				attrs = append(attrs, v.Value)
			} else {
				attrs = append(attrs, "")
			}
		}
		for f, v := range attrs {
			if err := w.WriteAttribute(n, f, v); err != nil {
				w.Close()
				return written, eris.Wrapf(err, "pipeline: write shapefile attribute for row %d", rec.Row)
			}
		}
		written++
	}
	w.Close()

	prj := path[:len(path)-3] + "prj"
	if err := os.WriteFile(prj, []byte(rdNewPRJ), 0o644); err != nil {
		return written, eris.Wrapf(err, "pipeline: write %s", prj)
	}
	return written, nil
}

// dbfFieldNames truncates names to the dBASE limit and renames clashes with
// a numeric suffix.
func dbfFieldNames(names []string, reserved ...string) []string {
	used := make(map[string]bool, len(names)+len(reserved))
	for _, r := range reserved {
		used[r] = true
	}
	out := make([]string, len(names))
	for i, name := range names {
		candidate := truncate(name, dbfNameLen)
		for n := 1; used[candidate]; n++ {
			suffix := "_" + strconv.Itoa(n)
			candidate = truncate(name, dbfNameLen-len(suffix)) + suffix
		}
		used[candidate] = true
		out[i] = candidate
	}
	return out
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
