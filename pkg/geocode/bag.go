package geocode

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/sells-group/flood-risk/internal/address"
	"github.com/sells-group/flood-risk/internal/model"
)

const (
	bagTable = "verblijfsobject"
	bagRtree = "rtree_verblijfsobject_geom"
)

// BAGClient geocodes against a BAG GeoPackage (such as NLExtract's
// bag-light.gpkg). Coordinates are stored in RD New.
type BAGClient struct {
	db    *sql.DB
	path  string
	query string
}

// OpenBAG opens an existing BAG GeoPackage read-only and checks its schema.
func OpenBAG(ctx context.Context, path string) (*BAGClient, error) {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return nil, eris.Wrapf(ErrReferenceNotFound, "bag: %s", path)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, eris.Wrapf(err, "bag: open %s", path)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, "PRAGMA query_only = ON"); err != nil {
		_ = db.Close()
		return nil, eris.Wrapf(err, "bag: open %s", path)
	}

	c := &BAGClient{db: db, path: path}
	if err := c.inspect(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	zap.L().Debug("bag: opened reference dataset", zap.String("path", path))
	return c, nil
}

// inspect verifies the verblijfsobject table and builds the lookup query from
// the geometry sources it offers: the point blob, the r-tree bounds, or both.
func (c *BAGClient) inspect(ctx context.Context) error {
	cols, err := c.columns(ctx, bagTable)
	if err != nil {
		return err
	}
	for _, required := range []string{"postcode", "huisnummer", "huisletter", "toevoeging"} {
		if !cols[required] {
			return eris.Errorf("bag: %s has no column %q", c.path, required)
		}
	}

	var rtree int
	err = c.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, bagRtree,
	).Scan(&rtree)
	if err != nil {
		return eris.Wrap(err, "bag: inspect rtree")
	}

	geomExpr := "NULL"
	if cols["geom"] {
		geomExpr = "vo.geom"
	}
	if rtree == 0 && !cols["geom"] {
		return eris.Errorf("bag: %s has neither a geom column nor %s", c.path, bagRtree)
	}

	var b strings.Builder
	b.WriteString("SELECT " + geomExpr + ", ")
	if rtree > 0 {
		key := "fid"
		if cols["feature_id"] {
			key = "feature_id"
		}
		b.WriteString("rvo.minx, rvo.maxx, rvo.miny, rvo.maxy FROM " + bagTable + " vo ")
		b.WriteString("LEFT JOIN " + bagRtree + " rvo ON vo." + key + " = rvo.id ")
	} else {
		b.WriteString("NULL, NULL, NULL, NULL FROM " + bagTable + " vo ")
	}
	b.WriteString("WHERE vo.postcode = ? AND vo.huisnummer = ?")
	c.query = b.String()
	return nil
}

func (c *BAGClient) columns(ctx context.Context, table string) (map[string]bool, error) {
	rows, err := c.db.QueryContext(ctx, "SELECT name FROM pragma_table_info(?)", table)
	if err != nil {
		return nil, eris.Wrapf(err, "bag: inspect %s", table)
	}
	defer rows.Close() //nolint:errcheck

	cols := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, eris.Wrapf(err, "bag: inspect %s", table)
		}
		cols[strings.ToLower(name)] = true
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrapf(err, "bag: inspect %s", table)
	}
	if len(cols) == 0 {
		return nil, eris.Errorf("bag: %s has no table %q", c.path, table)
	}
	return cols, nil
}

// Name implements Client.
func (c *BAGClient) Name() string { return MethodBAG }

// Close implements Client.
func (c *BAGClient) Close() error { return c.db.Close() }

// Geocode implements Client. House letter and suffix only narrow the match
// when the address has them, compared case-insensitively.
func (c *BAGClient) Geocode(ctx context.Context, addr model.Address) (*Result, error) {
	if !addr.Valid {
		return unmatched(MethodBAG), nil
	}

	query := c.query
	args := []any{addr.Postcode, addr.HouseNumber}
	if addr.HasLetter() {
		query += " AND UPPER(vo.huisletter) = ?"
		args = append(args, addr.HouseLetter)
	}
	if addr.HasSuffix() {
		query += " AND UPPER(vo.toevoeging) = ?"
		args = append(args, addr.HouseSuffix)
	}
	query += " LIMIT 1"

	var blob []byte
	var minX, maxX, minY, maxY sql.NullFloat64
	err := c.db.QueryRowContext(ctx, query, args...).Scan(&blob, &minX, &maxX, &minY, &maxY)
	if errors.Is(err, sql.ErrNoRows) {
		return unmatched(MethodBAG), nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "bag: query")
	}

	if len(blob) > 0 {
		x, y, decodeErr := decodeGeoPackagePoint(blob)
		if decodeErr == nil {
			return matchedRD(MethodBAG, x, y), nil
		}
		zap.L().Debug("bag: geometry not usable, falling back to bounds",
			zap.String("address", address.Normalize(addr)),
			zap.Error(decodeErr),
		)
	}
	if minX.Valid && maxX.Valid && minY.Valid && maxY.Valid {
		return matchedRD(MethodBAG, (minX.Float64+maxX.Float64)/2, (minY.Float64+maxY.Float64)/2), nil
	}

	zap.L().Warn("bag: address has no geometry", zap.String("address", address.Normalize(addr)))
	return unmatched(MethodBAG), nil
}
