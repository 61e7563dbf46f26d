package address

import "strings"

// Columns locates the canonical address columns in a header row.
type Columns struct {
	index map[string]int
}

// MapColumns matches header cells case-insensitively, ignoring surrounding
// whitespace and a leading byte order mark. It returns the required columns
// that are missing.
func MapColumns(header []string) (Columns, []string) {
	idx := make(map[string]int, len(header))
	for i, h := range header {
		key := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		if _, dup := idx[key]; !dup {
			idx[key] = i
		}
	}

	var missing []string
	for _, col := range RequiredColumns {
		if _, ok := idx[col]; !ok {
			missing = append(missing, col)
		}
	}
	return Columns{index: idx}, missing
}

// Has reports whether the header contains the named column.
func (c Columns) Has(name string) bool {
	_, ok := c.index[name]
	return ok
}

// Fields extracts the canonical address cells from a row. Absent optional
// columns and short rows yield empty strings.
func (c Columns) Fields(row []string) Fields {
	f := make(Fields, 5)
	for _, name := range []string{ColStreet, ColHouseNumber, ColHouseLetter, ColHouseSuffix, ColPostcode} {
		i, ok := c.index[name]
		if !ok || i >= len(row) {
			continue
		}
		f[name] = row[i]
	}
	return f
}
