package geocode

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsPostgresURL(t *testing.T) {
	assert.True(t, IsPostgresURL("postgres://localhost/bag"))
	assert.True(t, IsPostgresURL("postgresql://u:p@db:5432/bag"))
	assert.False(t, IsPostgresURL("bag_data/bag-light.gpkg"))
}

func TestNewBAGPostgres_TableName(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	c, err := NewBAGPostgres(mock, "")
	require.NoError(t, err)
	assert.Contains(t, c.query, `"bagactueel"."adres"`)

	_, err = NewBAGPostgres(mock, "adres; DROP TABLE x")
	assert.Error(t, err)
}

func TestBAGPostgres_Match(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(`SELECT ST_X\(geopunt\), ST_Y\(geopunt\)`).
		WithArgs("1234AB", 3, "A", "III").
		WillReturnRows(pgxmock.NewRows([]string{"st_x", "st_y"}).AddRow(121300.0, 487400.0))

	c, err := NewBAGPostgres(mock, "bag.adres")
	require.NoError(t, err)

	r, err := c.Geocode(context.Background(), testAddress())
	require.NoError(t, err)
	assert.True(t, r.Matched)
	assert.Equal(t, MethodBAG, r.Source)
	assert.InDelta(t, 121300, r.RDX, 1e-9)
	assert.InDelta(t, 52.37, r.Coordinate.Lat, 0.02)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBAGPostgres_NoRows(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(`SELECT ST_X`).
		WithArgs("1234AB", 3, "A", "III").
		WillReturnError(pgx.ErrNoRows)

	c, err := NewBAGPostgres(mock, "")
	require.NoError(t, err)

	r, err := c.Geocode(context.Background(), testAddress())
	require.NoError(t, err)
	assert.False(t, r.Matched)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBAGPostgres_QueryError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(`SELECT ST_X`).WillReturnError(assert.AnError)

	c, err := NewBAGPostgres(mock, "")
	require.NoError(t, err)

	_, err = c.Geocode(context.Background(), testAddress())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bag-postgres: query")
}

func TestBAGPostgres_InvalidAddressSkipsQuery(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	c, err := NewBAGPostgres(mock, "")
	require.NoError(t, err)

	addr := testAddress()
	addr.Valid = false
	r, err := c.Geocode(context.Background(), addr)
	require.NoError(t, err)
	assert.False(t, r.Matched)
	assert.NoError(t, mock.ExpectationsWereMet())
}
