package fetcher

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

var (
	// ErrEmptyTable is returned for an input file without a header row.
	ErrEmptyTable = eris.New("fetcher: input has no header row")
	// ErrMissingColumns is returned when required address columns are absent.
	ErrMissingColumns = eris.New("fetcher: missing required columns")
)

// Table is an input file held in memory: the header and every data row,
// each padded to the header width.
type Table struct {
	Path   string
	Header []string
	Rows   [][]string
}

// TableOptions tunes how an input file is read.
type TableOptions struct {
	// Sheet selects an XLSX sheet by name or by 1-based position. Empty
	// means the first sheet.
	Sheet string
	// Comment marks CSV lines to skip when it starts them. Zero disables.
	Comment rune
	// TrimSpace strips leading and trailing whitespace from CSV cells.
	TrimSpace bool
}

// ReadTable loads a CSV or XLSX file. The format is chosen by extension.
// Every CSV record becomes a row, blank ones included. Rows wider than the
// header widen it with unnamed columns so no cell is lost.
func ReadTable(ctx context.Context, path string, opts TableOptions) (*Table, error) {
	var records [][]string
	var err error
	if strings.EqualFold(filepath.Ext(path), ".xlsx") {
		records, err = ReadXLSX(path, sheetOptions(opts.Sheet))
		// Sheets often carry formatted but empty trailing rows with no cells.
		for len(records) > 0 && len(records[len(records)-1]) == 0 {
			records = records[:len(records)-1]
		}
	} else {
		records, err = readCSVFile(ctx, path, opts)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: read %s", path)
	}
	if len(records) == 0 || blank(records[0]) {
		return nil, eris.Wrapf(ErrEmptyTable, "fetcher: %s", path)
	}

	t := &Table{Path: path, Header: records[0]}
	t.Header[0] = strings.TrimPrefix(t.Header[0], "\ufeff")
	t.Rows = records[1:]

	width := len(t.Header)
	for i, rec := range t.Rows {
		if len(rec) > width {
			zap.L().Warn("fetcher: row has more cells than the header, adding unnamed columns",
				zap.Int("row", i+1), zap.Int("cells", len(rec)), zap.Int("header", width))
			width = len(rec)
		}
	}
	t.Header = pad(t.Header, width)
	for i, rec := range t.Rows {
		t.Rows[i] = pad(rec, width)
	}
	return t, nil
}

func pad(rec []string, width int) []string {
	if len(rec) >= width {
		return rec
	}
	return append(rec, make([]string, width-len(rec))...)
}

// sheetOptions maps a sheet selector to XLSX options. A number picks the
// sheet by position, anything else by name.
func sheetOptions(sheet string) XLSXOptions {
	if n, err := strconv.Atoi(sheet); err == nil && n >= 1 {
		return XLSXOptions{SheetIndex: n - 1}
	}
	return XLSXOptions{SheetName: sheet}
}

func readCSVFile(ctx context.Context, path string, opts TableOptions) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrap(err, "csv: open file")
	}
	defer f.Close() //nolint:errcheck

	br := bufio.NewReader(f)
	sample, _ := br.Peek(4096)

	rowCh, errCh := StreamCSV(ctx, br, CSVOptions{
		Delimiter:  DetectDelimiter(sample),
		Comment:    opts.Comment,
		LazyQuotes: true,
		TrimSpace:  opts.TrimSpace,
	})
	var rows [][]string
	for row := range rowCh {
		rows = append(rows, row)
	}
	if err := <-errCh; err != nil {
		return nil, err
	}
	return rows, nil
}

func blank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
