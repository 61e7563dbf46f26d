package fetcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestReadTable_CSV(t *testing.T) {
	path := writeTestFile(t, "in.csv", "\ufeffstreet,house_number,postcode,note\nDamrak,1,1012JS,a\nRokin,12\n")

	table, err := ReadTable(context.Background(), path, TableOptions{})
	require.NoError(t, err)
	assert.Equal(t, path, table.Path)
	assert.Equal(t, []string{"street", "house_number", "postcode", "note"}, table.Header)
	assert.Equal(t, [][]string{
		{"Damrak", "1", "1012JS", "a"},
		{"Rokin", "12", "", ""},
	}, table.Rows)
}

func TestReadTable_SemicolonCSV(t *testing.T) {
	path := writeTestFile(t, "in.csv", "street;house_number;postcode\nDamrak;1;1012JS\n")

	table, err := ReadTable(context.Background(), path, TableOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"street", "house_number", "postcode"}, table.Header)
	assert.Equal(t, [][]string{{"Damrak", "1", "1012JS"}}, table.Rows)
}

func TestReadTable_ExtraCellsWidenHeader(t *testing.T) {
	path := writeTestFile(t, "in.csv", "a,b\n1,2,3\n4,5\n")

	table, err := ReadTable(context.Background(), path, TableOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", ""}, table.Header)
	assert.Equal(t, [][]string{{"1", "2", "3"}, {"4", "5", ""}}, table.Rows)
}

func TestReadTable_TrailingBlankRecordsKept(t *testing.T) {
	path := writeTestFile(t, "in.csv", "id,street,house_number,postcode\n1,Dorpsweg,1,2345BC\n,,,\n")

	table, err := ReadTable(context.Background(), path, TableOptions{})
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{"1", "Dorpsweg", "1", "2345BC"},
		{"", "", "", ""},
	}, table.Rows)
}

func TestReadTable_CommentAndTrim(t *testing.T) {
	path := writeTestFile(t, "in.csv", "street, house_number ,postcode\n# export 2024-01-01\n Damrak ,1, 1012JS\n")

	table, err := ReadTable(context.Background(), path, TableOptions{Comment: '#', TrimSpace: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"street", "house_number", "postcode"}, table.Header)
	assert.Equal(t, [][]string{{"Damrak", "1", "1012JS"}}, table.Rows)

	table, err = ReadTable(context.Background(), path, TableOptions{})
	require.NoError(t, err)
	assert.Equal(t, " house_number ", table.Header[1])
	assert.Len(t, table.Rows, 2)
}

func TestReadTable_HeaderOnly(t *testing.T) {
	path := writeTestFile(t, "in.csv", "street,house_number,postcode\n")

	table, err := ReadTable(context.Background(), path, TableOptions{})
	require.NoError(t, err)
	assert.Empty(t, table.Rows)
}

func TestReadTable_Empty(t *testing.T) {
	path := writeTestFile(t, "in.csv", "")

	_, err := ReadTable(context.Background(), path, TableOptions{})
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrEmptyTable))
}

func TestReadTable_Missing(t *testing.T) {
	_, err := ReadTable(context.Background(), filepath.Join(t.TempDir(), "nope.csv"), TableOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nope.csv")
}

func TestReadTable_XLSX(t *testing.T) {
	path := createTestXLSX(t, []string{"Sheet1"}, map[string][][]string{
		"Sheet1": {
			{"street", "house_number", "postcode"},
			{"Damrak", "1", "1012JS"},
			{"Rokin"},
			{},
		},
	})

	table, err := ReadTable(context.Background(), path, TableOptions{})
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{"Damrak", "1", "1012JS"},
		{"Rokin", "", ""},
	}, table.Rows)
}

func TestReadTable_XLSXSheetSelection(t *testing.T) {
	path := createTestXLSX(t, []string{"Notities", "Adressen"}, map[string][][]string{
		"Notities": {{"note"}, {"x"}},
		"Adressen": {{"street", "house_number", "postcode"}, {"Damrak", "1", "1012JS"}},
	})

	byName, err := ReadTable(context.Background(), path, TableOptions{Sheet: "Adressen"})
	require.NoError(t, err)
	assert.Equal(t, []string{"street", "house_number", "postcode"}, byName.Header)

	byIndex, err := ReadTable(context.Background(), path, TableOptions{Sheet: "2"})
	require.NoError(t, err)
	assert.Equal(t, byName.Rows, byIndex.Rows)

	first, err := ReadTable(context.Background(), path, TableOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"note"}, first.Header)

	_, err = ReadTable(context.Background(), path, TableOptions{Sheet: "Missing"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestSheetOptions(t *testing.T) {
	assert.Equal(t, XLSXOptions{}, sheetOptions(""))
	assert.Equal(t, XLSXOptions{SheetIndex: 2}, sheetOptions("3"))
	assert.Equal(t, XLSXOptions{SheetName: "0"}, sheetOptions("0"))
	assert.Equal(t, XLSXOptions{SheetName: "Adressen"}, sheetOptions("Adressen"))
}
