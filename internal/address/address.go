// Package address turns free-form Dutch address cells into a canonical
// model.Address and a deterministic query string.
package address

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/flood-risk/internal/model"
)

// Column names of the canonical input schema.
const (
	ColStreet      = "street"
	ColHouseNumber = "house_number"
	ColHouseLetter = "house_letter"
	ColHouseSuffix = "house_suffix"
	ColPostcode    = "postcode"
)

// RequiredColumns must be present in every input file.
var RequiredColumns = []string{ColStreet, ColHouseNumber, ColPostcode}

var (
	pc6Pattern = regexp.MustCompile(`^(\d{4})\s*([A-Za-z]{2})$`)
	upper      = cases.Upper(language.Dutch)
)

// Fields maps canonical column names to cell values for one row.
type Fields map[string]string

// Parse builds an Address from the cells of one row. Problems are recorded
// on the address instead of returned so a bad row never stops a run.
func Parse(row int, f Fields) model.Address {
	addr := model.Address{
		Row:         row,
		Street:      Street(f[ColStreet]),
		HouseLetter: Token(f[ColHouseLetter]),
		HouseSuffix: Token(f[ColHouseSuffix]),
		Valid:       true,
	}

	pc, ok := Postcode(f[ColPostcode])
	addr.Postcode = pc
	if !ok {
		addr.Valid = false
		addr.Problem = fmt.Sprintf("invalid postcode %q", f[ColPostcode])
	}

	num, err := HouseNumber(f[ColHouseNumber])
	if err != nil {
		addr.Valid = false
		addr.Problem = joinProblem(addr.Problem, err.Error())
	}
	addr.HouseNumber = num

	return addr
}

func joinProblem(a, b string) string {
	if a == "" {
		return b
	}
	return a + "; " + b
}

// Postcode returns the compact PC6 form ("1234AB"). Values that are not a
// Dutch postcode are returned trimmed and upper-cased with ok false.
func Postcode(raw string) (string, bool) {
	s := strings.TrimSpace(raw)
	m := pc6Pattern.FindStringSubmatch(s)
	if m == nil {
		return strings.ToUpper(s), false
	}
	return m[1] + strings.ToUpper(m[2]), true
}

// SpacedPostcode formats a compact postcode as "1234 AB".
func SpacedPostcode(pc string) string {
	if m := pc6Pattern.FindStringSubmatch(pc); m != nil {
		return m[1] + " " + strings.ToUpper(m[2])
	}
	return pc
}

// HouseNumber parses an integer house number. Spreadsheet exports often write
// whole numbers as "3.0"; those are accepted.
func HouseNumber(raw string) (int, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, eris.New("missing house number")
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f <= 0 || f != math.Trunc(f) || f > math.MaxInt32 {
		return 0, eris.Errorf("invalid house number %q", raw)
	}
	return int(f), nil
}

// Street applies NFC normalisation and collapses runs of whitespace.
func Street(raw string) string {
	return strings.Join(strings.Fields(norm.NFC.String(raw)), " ")
}

// Token canonicalises a house letter or suffix: NFC, no spaces, upper case.
func Token(raw string) string {
	s := strings.Join(strings.Fields(norm.NFC.String(raw)), "")
	return upper.String(s)
}

// HouseDesignation renders number, letter and suffix the Dutch way: the
// letter follows the number directly, the suffix after a dash ("3A-III").
func HouseDesignation(a model.Address) string {
	var b strings.Builder
	if a.HouseNumber > 0 {
		b.WriteString(strconv.Itoa(a.HouseNumber))
	}
	b.WriteString(a.HouseLetter)
	if a.HasSuffix() {
		b.WriteByte('-')
		b.WriteString(a.HouseSuffix)
	}
	return b.String()
}

// Normalize returns the canonical single-line form of an address,
// "Bakkerstraat 3A-III, 1234AB". It is a pure function of the address fields.
func Normalize(a model.Address) string {
	street := strings.TrimSpace(a.Street + " " + HouseDesignation(a))
	switch {
	case street == "":
		return a.Postcode
	case a.Postcode == "":
		return street
	}
	return street + ", " + a.Postcode
}
