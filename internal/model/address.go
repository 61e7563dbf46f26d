// Package model defines the records that flow through the flood-risk pipeline.
package model

// Address is one input row resolved into its Dutch address components.
// Passthrough cells are not copied here; they stay with the source row.
type Address struct {
	Row         int    `json:"row" yaml:"row"` // 1-based data row number
	Street      string `json:"street" yaml:"street"`
	HouseNumber int    `json:"house_number" yaml:"house_number"`
	HouseLetter string `json:"house_letter,omitempty" yaml:"house_letter,omitempty"`
	HouseSuffix string `json:"house_suffix,omitempty" yaml:"house_suffix,omitempty"`
	Postcode    string `json:"postcode" yaml:"postcode"` // compact form, e.g. "1234AB"

	// Valid is false when the row cannot be geocoded at all (bad postcode,
	// non-numeric house number). Problem says why.
	Valid   bool   `json:"valid" yaml:"valid"`
	Problem string `json:"problem,omitempty" yaml:"problem,omitempty"`
}

// HasLetter reports whether a house letter was given.
func (a Address) HasLetter() bool { return a.HouseLetter != "" }

// HasSuffix reports whether a house number suffix was given.
func (a Address) HasSuffix() bool { return a.HouseSuffix != "" }
