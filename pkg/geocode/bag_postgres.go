package geocode

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/flood-risk/internal/model"
)

// DefaultBAGTable is the NLExtract address view.
const DefaultBAGTable = "bagactueel.adres"

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// Pool is the subset of pgxpool.Pool used by the PostGIS backend.
type Pool interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// BAGPostgresClient geocodes against a BAG address table in PostGIS with
// postcode, huisnummer, huisletter, huisnummertoevoeging and an RD New
// geopunt column.
type BAGPostgresClient struct {
	pool  Pool
	query string
}

// IsPostgresURL reports whether a BAG location is a database URL rather than
// a GeoPackage path.
func IsPostgresURL(s string) bool {
	return strings.HasPrefix(s, "postgres://") || strings.HasPrefix(s, "postgresql://")
}

// ConnectBAGPostgres connects to the database and verifies it is reachable.
func ConnectBAGPostgres(ctx context.Context, dsn, table string) (*BAGPostgresClient, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, eris.Wrap(err, "bag-postgres: connect")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(ErrReferenceNotFound, "bag-postgres: ping: "+err.Error())
	}
	c, err := NewBAGPostgres(pool, table)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return c, nil
}

// NewBAGPostgres creates a client over an existing pool.
func NewBAGPostgres(pool Pool, table string) (*BAGPostgresClient, error) {
	if table == "" {
		table = DefaultBAGTable
	}
	if !tableNamePattern.MatchString(table) {
		return nil, eris.Errorf("bag-postgres: invalid table name %q", table)
	}
	ident := pgx.Identifier(strings.Split(table, ".")).Sanitize()
	query := fmt.Sprintf(`
		SELECT ST_X(geopunt), ST_Y(geopunt)
		FROM %s
		WHERE postcode = $1
			AND huisnummer = $2
			AND ($3::text = '' OR UPPER(huisletter) = $3::text)
			AND ($4::text = '' OR UPPER(huisnummertoevoeging) = $4::text)
		LIMIT 1`, ident)
	return &BAGPostgresClient{pool: pool, query: query}, nil
}

// Name implements Client.
func (c *BAGPostgresClient) Name() string { return MethodBAG }

// Close implements Client.
func (c *BAGPostgresClient) Close() error {
	c.pool.Close()
	return nil
}

// Geocode implements Client.
func (c *BAGPostgresClient) Geocode(ctx context.Context, addr model.Address) (*Result, error) {
	if !addr.Valid {
		return unmatched(MethodBAG), nil
	}

	var x, y float64
	err := c.pool.QueryRow(ctx, c.query, addr.Postcode, addr.HouseNumber, addr.HouseLetter, addr.HouseSuffix).Scan(&x, &y)
	if errors.Is(err, pgx.ErrNoRows) {
		return unmatched(MethodBAG), nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "bag-postgres: query")
	}
	return matchedRD(MethodBAG, x, y), nil
}
