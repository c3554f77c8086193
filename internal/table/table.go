// Copyright (C) 2020 Markus L. Noga
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package table

import (
	"errors"
	"fmt"
	"math"
)

// Default column names
const (
	DefaultStarCol = "starid"
	DefaultExpCol  = "expid"
	MagCol         = "mag"
	EMagCol        = "e_mag"
	FittedMagCol   = "fitted_mag"
	FittedZPCol    = "fitted_zp"
	ResidualCol    = "residual"
	Chi2ExpCol     = "chi2_exp"
	StarIndexCol   = "u_starid"
	ExpIndexCol    = "u_expid"
)

// Returned, wrapped, for malformed observation data
var ErrInvalidInput = errors.New("invalid input")

// A columnar table of observations. One row is one measurement of one star in one exposure.
// Identifiers are kept as opaque strings. Canonical indices, fitted values and residuals
// are nil until computed.
type Table struct {
	StarCol string `json:"starCol"` // name of the star identifier column
	ExpCol  string `json:"expCol"`  // name of the exposure identifier column

	StarID []string  `json:"starID"`
	ExpID  []string  `json:"expID"`
	Mag    []float64 `json:"mag"`
	EMag   []float64 `json:"eMag"`

	// Additional input columns, passed through unchanged
	ExtraNames []string            `json:"extraNames,omitempty"`
	Extra      map[string][]string `json:"extra,omitempty"`

	StarIndex []int    `json:"starIndex,omitempty"` // canonical star index in [0, len(StarKeys))
	ExpIndex  []int    `json:"expIndex,omitempty"`  // canonical exposure index in [0, len(ExpKeys))
	StarKeys  []string `json:"starKeys,omitempty"`  // external star id per canonical index
	ExpKeys   []string `json:"expKeys,omitempty"`   // external exposure id per canonical index

	FittedMag []float64 `json:"fittedMag,omitempty"`
	FittedZP  []float64 `json:"fittedZP,omitempty"`
	Residual  []float64 `json:"residual,omitempty"`
	Chi2Exp   []float64 `json:"chi2Exp,omitempty"`
}

// Creates a new empty table with the given identifier column names. Blank names select the defaults
func New(starCol, expCol string) *Table {
	if starCol == "" {
		starCol = DefaultStarCol
	}
	if expCol == "" {
		expCol = DefaultExpCol
	}
	return &Table{StarCol: starCol, ExpCol: expCol}
}

// Number of rows
func (t *Table) Len() int { return len(t.Mag) }

// Appends a single observation
func (t *Table) Append(starID, expID string, mag, eMag float64) {
	t.StarID = append(t.StarID, starID)
	t.ExpID = append(t.ExpID, expID)
	t.Mag = append(t.Mag, mag)
	t.EMag = append(t.EMag, eMag)
}

// Number of stars in canonical numbering, or zero if not indexed
func (t *Table) NStars() int { return len(t.StarKeys) }

// Number of exposures in canonical numbering, or zero if not indexed
func (t *Table) NExposures() int { return len(t.ExpKeys) }

// True if canonical indices have been assigned
func (t *Table) IsIndexed() bool {
	return t.StarIndex != nil && t.ExpIndex != nil && len(t.StarIndex) == t.Len() && len(t.ExpIndex) == t.Len()
}

// Checks column lengths and magnitudes. Errors are checked separately by the weight builder
func (t *Table) Validate() error {
	n := len(t.Mag)
	if len(t.StarID) != n || len(t.ExpID) != n || len(t.EMag) != n {
		return fmt.Errorf("%w: column lengths differ: %s=%d %s=%d %s=%d %s=%d", ErrInvalidInput,
			t.StarCol, len(t.StarID), t.ExpCol, len(t.ExpID), MagCol, n, EMagCol, len(t.EMag))
	}
	for _, name := range t.ExtraNames {
		if len(t.Extra[name]) != n {
			return fmt.Errorf("%w: column %s has %d rows, want %d", ErrInvalidInput, name, len(t.Extra[name]), n)
		}
	}
	for i, m := range t.Mag {
		if math.IsNaN(m) || math.IsInf(m, 0) {
			return fmt.Errorf("%w: non-finite %s %g in row %d", ErrInvalidInput, MagCol, m, i)
		}
	}
	return nil
}

// Returns a deep copy of the table
func (t *Table) Copy() *Table {
	c := &Table{
		StarCol:    t.StarCol,
		ExpCol:     t.ExpCol,
		StarID:     copyStrings(t.StarID),
		ExpID:      copyStrings(t.ExpID),
		Mag:        copyFloats(t.Mag),
		EMag:       copyFloats(t.EMag),
		ExtraNames: copyStrings(t.ExtraNames),
		StarIndex:  copyInts(t.StarIndex),
		ExpIndex:   copyInts(t.ExpIndex),
		StarKeys:   copyStrings(t.StarKeys),
		ExpKeys:    copyStrings(t.ExpKeys),
		FittedMag:  copyFloats(t.FittedMag),
		FittedZP:   copyFloats(t.FittedZP),
		Residual:   copyFloats(t.Residual),
		Chi2Exp:    copyFloats(t.Chi2Exp),
	}
	if t.Extra != nil {
		c.Extra = make(map[string][]string, len(t.Extra))
		for k, v := range t.Extra {
			c.Extra[k] = copyStrings(v)
		}
	}
	return c
}

// Returns a new table with the given rows, in the given order. Canonical indices
// and derived columns are dropped, as they may no longer be contiguous
func (t *Table) Select(rows []int) *Table {
	s := New(t.StarCol, t.ExpCol)
	s.StarID = make([]string, len(rows))
	s.ExpID = make([]string, len(rows))
	s.Mag = make([]float64, len(rows))
	s.EMag = make([]float64, len(rows))
	for i, r := range rows {
		s.StarID[i], s.ExpID[i], s.Mag[i], s.EMag[i] = t.StarID[r], t.ExpID[r], t.Mag[r], t.EMag[r]
	}
	if len(t.ExtraNames) > 0 {
		s.ExtraNames = copyStrings(t.ExtraNames)
		s.Extra = make(map[string][]string, len(t.ExtraNames))
		for _, name := range t.ExtraNames {
			src, dst := t.Extra[name], make([]string, len(rows))
			for i, r := range rows {
				dst[i] = src[r]
			}
			s.Extra[name] = dst
		}
	}
	return s
}

// Concatenates tables with identical identifier column names. Extra columns are kept
// if present in all inputs
func Concat(ts ...*Table) (*Table, error) {
	if len(ts) == 0 {
		return New("", ""), nil
	}
	res := New(ts[0].StarCol, ts[0].ExpCol)
	common := commonExtraNames(ts)
	if len(common) > 0 {
		res.ExtraNames = common
		res.Extra = make(map[string][]string, len(common))
	}
	for i, t := range ts {
		if t.StarCol != res.StarCol || t.ExpCol != res.ExpCol {
			return nil, fmt.Errorf("%w: table %d has id columns (%s,%s), want (%s,%s)", ErrInvalidInput,
				i, t.StarCol, t.ExpCol, res.StarCol, res.ExpCol)
		}
		if err := t.Validate(); err != nil {
			return nil, err
		}
		res.StarID = append(res.StarID, t.StarID...)
		res.ExpID = append(res.ExpID, t.ExpID...)
		res.Mag = append(res.Mag, t.Mag...)
		res.EMag = append(res.EMag, t.EMag...)
		for _, name := range common {
			res.Extra[name] = append(res.Extra[name], t.Extra[name]...)
		}
	}
	return res, nil
}

func commonExtraNames(ts []*Table) (names []string) {
	for _, name := range ts[0].ExtraNames {
		inAll := true
		for _, t := range ts[1:] {
			if _, ok := t.Extra[name]; !ok {
				inAll = false
				break
			}
		}
		if inAll {
			names = append(names, name)
		}
	}
	return names
}

func copyStrings(a []string) []string {
	if a == nil {
		return nil
	}
	return append(make([]string, 0, len(a)), a...)
}

func copyFloats(a []float64) []float64 {
	if a == nil {
		return nil
	}
	return append(make([]float64, 0, len(a)), a...)
}

func copyInts(a []int) []int {
	if a == nil {
		return nil
	}
	return append(make([]int, 0, len(a)), a...)
}
