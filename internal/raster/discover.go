package raster

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/flood-risk/internal/geo"
)

// IsRaster reports whether a file name has a GeoTIFF extension.
func IsRaster(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".tif" || ext == ".tiff"
}

// ColumnName turns a raster path relative to the risk folder into its
// output column: lower-cased stem, spaces and path separators replaced by
// underscores.
func ColumnName(rel string) string {
	rel = filepath.ToSlash(rel)
	rel = strings.TrimSuffix(rel, filepath.Ext(rel))
	rel = strings.ToLower(rel)
	return strings.NewReplacer(" ", "_", "/", "_").Replace(rel)
}

// Discover opens every GeoTIFF in dir, optionally descending into
// subfolders. Layers are returned sorted by column name. Any file that
// cannot be opened fails the whole call.
func Discover(ctx context.Context, dir string, recursive bool, defaultEPSG geo.EPSG) ([]*Layer, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, eris.Wrapf(err, "raster: risk folder %s", dir)
	}
	if !info.IsDir() {
		return nil, eris.Errorf("raster: risk folder %s is not a directory", dir)
	}

	paths, err := findRasters(dir, recursive)
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, eris.Wrapf(ErrNoRasters, "raster: %s", dir)
	}

	byName := make(map[string]string, len(paths))
	names := make([]string, len(paths))
	for i, p := range paths {
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			rel = filepath.Base(p)
		}
		name := ColumnName(rel)
		if other, dup := byName[name]; dup {
			return nil, eris.Errorf("raster: %s and %s both map to column %q", other, p, name)
		}
		byName[name] = p
		names[i] = name
	}

	layers := make([]*Layer, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, p := range paths {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			l, err := Open(p, names[i], defaultEPSG)
			if err != nil {
				return err
			}
			layers[i] = l
			zap.L().Debug("raster: opened layer",
				zap.String("column", l.Name),
				zap.String("path", p),
				zap.Int("epsg", int(l.EPSG)),
				zap.Int("width", l.Width),
				zap.Int("height", l.Height),
			)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		CloseAll(layers)
		return nil, err
	}

	sort.Slice(layers, func(i, j int) bool { return layers[i].Name < layers[j].Name })
	return layers, nil
}

func findRasters(dir string, recursive bool) ([]string, error) {
	var paths []string
	if !recursive {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil, eris.Wrapf(err, "raster: read %s", dir)
		}
		for _, e := range entries {
			if !e.IsDir() && IsRaster(e.Name()) {
				paths = append(paths, filepath.Join(dir, e.Name()))
			}
		}
		return paths, nil
	}

	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && IsRaster(d.Name()) {
			paths = append(paths, p)
		}
		return nil
	})
	if err != nil {
		return nil, eris.Wrapf(err, "raster: walk %s", dir)
	}
	return paths, nil
}

// CloseAll closes every non-nil layer, logging failures.
func CloseAll(layers []*Layer) {
	for _, l := range layers {
		if l == nil {
			continue
		}
		if err := l.Close(); err != nil {
			zap.L().Warn("raster: close failed", zap.String("path", l.Path), zap.Error(err))
		}
	}
}

// Names returns the column names of layers in order.
func Names(layers []*Layer) []string {
	out := make([]string, len(layers))
	for i, l := range layers {
		out[i] = l.Name
	}
	return out
}
