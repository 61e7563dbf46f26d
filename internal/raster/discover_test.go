package raster

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/flood-risk/internal/geo"
)

func TestColumnName(t *testing.T) {
	tests := []struct {
		rel  string
		want string
	}{
		{"Flood Depth.tif", "flood_depth"},
		{"overstroming.TIFF", "overstroming"},
		{filepath.Join("Rivier", "kans 1 op 100.tif"), "rivier_kans_1_op_100"},
		{"a.b.tif", "a.b"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ColumnName(tt.rel), tt.rel)
	}
}

func TestIsRaster(t *testing.T) {
	assert.True(t, IsRaster("x.tif"))
	assert.True(t, IsRaster("x.TIF"))
	assert.True(t, IsRaster("x.tiff"))
	assert.False(t, IsRaster("x.tif.aux.xml"))
	assert.False(t, IsRaster("x.png"))
}

func TestDiscover_SortedLayers(t *testing.T) {
	dir := t.TempDir()
	writeTIFF(t, dir, "Wind Risk.tif", rdSpec())
	writeTIFF(t, dir, "Flood Depth.TIF", rdSpec())
	writeTIFF(t, dir, filepath.Join("nested", "ignored.tif"), rdSpec())
	require.NoError(t, os.WriteFile(filepath.Join(dir, "readme.txt"), []byte("x"), 0o644))

	layers, err := Discover(context.Background(), dir, false, geo.RDNew)
	require.NoError(t, err)
	defer CloseAll(layers)

	assert.Equal(t, []string{"flood_depth", "wind_risk"}, Names(layers))
}

func TestDiscover_Recursive(t *testing.T) {
	dir := t.TempDir()
	writeTIFF(t, dir, "top.tif", rdSpec())
	writeTIFF(t, dir, filepath.Join("Sub Dir", "Depth.tif"), rdSpec())

	layers, err := Discover(context.Background(), dir, true, geo.RDNew)
	require.NoError(t, err)
	defer CloseAll(layers)

	assert.Equal(t, []string{"sub_dir_depth", "top"}, Names(layers))
}

func TestDiscover_MissingFolder(t *testing.T) {
	_, err := Discover(context.Background(), filepath.Join(t.TempDir(), "nope"), false, geo.RDNew)
	require.Error(t, err)
}

func TestDiscover_NotAFolder(t *testing.T) {
	path := writeTIFF(t, t.TempDir(), "one.tif", rdSpec())
	_, err := Discover(context.Background(), path, false, geo.RDNew)
	require.Error(t, err)
}

func TestDiscover_Empty(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.csv"), []byte("a"), 0o644))

	_, err := Discover(context.Background(), dir, false, geo.RDNew)
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrNoRasters))
}

func TestDiscover_Collision(t *testing.T) {
	dir := t.TempDir()
	writeTIFF(t, dir, "flood depth.tif", rdSpec())
	writeTIFF(t, dir, "Flood_Depth.tif", rdSpec())

	_, err := Discover(context.Background(), dir, false, geo.RDNew)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "flood_depth")
}

func TestDiscover_BrokenFileIsFatal(t *testing.T) {
	dir := t.TempDir()
	writeTIFF(t, dir, "good.tif", rdSpec())
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.tif"), []byte("garbage!"), 0o644))

	_, err := Discover(context.Background(), dir, false, geo.RDNew)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad.tif")
}
