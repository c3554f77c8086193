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
	"fmt"
	"math"
	"sort"
	"strconv"
)

// Default minimum number of observations per star
const DefaultMinExp = 3

// Maps each distinct identifier to a dense index in [0, K), assigned in ascending
// identifier order. Returns the index per input row and the identifier per index.
func BuildIndex(ids []string) (index []int, keys []string) {
	seen := make(map[string]int, len(ids)/2+1)
	for _, id := range ids {
		seen[id] = 0
	}
	keys = make([]string, 0, len(seen))
	for id := range seen {
		keys = append(keys, id)
	}
	sort.Strings(keys)
	sort.SliceStable(keys, func(i, j int) bool { return LessID(keys[i], keys[j]) })
	for i, id := range keys {
		seen[id] = i
	}
	index = make([]int, len(ids))
	for i, id := range ids {
		index[i] = seen[id]
	}
	return index, keys
}

// Orders identifiers numerically if both parse as numbers, else lexically.
// Numbers sort before non-numbers. NaN does not count as a number, so the
// ordering stays strict.
func LessID(a, b string) bool {
	fa, numA := parseID(a)
	fb, numB := parseID(b)
	switch {
	case numA && numB:
		if fa != fb {
			return fa < fb
		}
		return a < b
	case numA:
		return true
	case numB:
		return false
	}
	return a < b
}

func parseID(id string) (float64, bool) {
	f, err := strconv.ParseFloat(id, 64)
	return f, err == nil && !math.IsNaN(f)
}

// Returns a copy of the table with canonical star and exposure indices assigned.
// The input table is not modified.
func (t *Table) WithIndex() *Table {
	c := t.Copy()
	c.StarIndex, c.StarKeys = BuildIndex(c.StarID)
	c.ExpIndex, c.ExpKeys = BuildIndex(c.ExpID)
	return c
}

// Counts the number of rows per distinct star identifier
func (t *Table) StarCounts() map[string]int {
	counts := make(map[string]int)
	for _, id := range t.StarID {
		counts[id]++
	}
	return counts
}

// Drops every row whose star appears in fewer than minExp rows, then re-indexes stars
// and exposures so both remain contiguous and zero-based. A nil minExp keeps all rows.
func (t *Table) Prune(minExp *int) *Table {
	if minExp == nil || *minExp <= 0 {
		return t.WithIndex()
	}
	counts := t.StarCounts()
	rows := make([]int, 0, t.Len())
	for i, id := range t.StarID {
		if counts[id] >= *minExp {
			rows = append(rows, i)
		}
	}
	if len(rows) == t.Len() {
		return t.WithIndex()
	}
	return t.Select(rows).WithIndex()
}

// Validates the table and returns a pruned, canonically indexed copy ready for calibration
func Shape(t *Table, minExp *int) (*Table, error) {
	if t == nil {
		return nil, fmt.Errorf("%w: nil table", ErrInvalidInput)
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	s := t.Prune(minExp)
	if s.Len() == 0 {
		min := 0
		if minExp != nil {
			min = *minExp
		}
		return nil, fmt.Errorf("%w: no observations left after pruning %d rows with minExp=%d", ErrInvalidInput, t.Len(), min)
	}
	return s, nil
}

// Returns a pointer to the given int, for optional settings
func IntPtr(i int) *int { return &i }
