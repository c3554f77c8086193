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
	"bufio"
	"bytes"
	"compress/gzip"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"strconv"
	"strings"
)

// Observations of a single exposure, as parallel sequences
type ExposureObs struct {
	StarID []string
	Mag    []float64
	EMag   []float64
}

// Mapping from exposure id to the observations in that exposure
type ExposureDict map[string]ExposureObs

// Decodes an exposure dictionary from JSON of the form
// {"exp": {"<starCol>": [...], "mag": [...], "e_mag": [...]}, ...}.
// Star identifiers may be JSON strings or numbers.
func DecodeExposureDict(r io.Reader, starCol string) (ExposureDict, error) {
	if starCol == "" {
		starCol = DefaultStarCol
	}
	var raw map[string]map[string]json.RawMessage
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: decoding exposure dictionary: %s", ErrInvalidInput, err.Error())
	}
	d := make(ExposureDict, len(raw))
	for exp, cols := range raw {
		var obs ExposureObs
		var sids []interface{}
		sdec := json.NewDecoder(bytes.NewReader(cols[starCol]))
		sdec.UseNumber()
		if err := sdec.Decode(&sids); err != nil {
			return nil, fmt.Errorf("%w: exposure %s column %s: %s", ErrInvalidInput, exp, starCol, err.Error())
		}
		obs.StarID = make([]string, len(sids))
		for i, s := range sids {
			obs.StarID[i] = fmt.Sprint(s)
		}
		if err := json.Unmarshal(cols[MagCol], &obs.Mag); err != nil {
			return nil, fmt.Errorf("%w: exposure %s column %s: %s", ErrInvalidInput, exp, MagCol, err.Error())
		}
		if err := json.Unmarshal(cols[EMagCol], &obs.EMag); err != nil {
			return nil, fmt.Errorf("%w: exposure %s column %s: %s", ErrInvalidInput, exp, EMagCol, err.Error())
		}
		d[exp] = obs
	}
	return d, nil
}

// Explodes an exposure dictionary into a table. Exposures are emitted in ascending
// identifier order, observations within an exposure in their given order.
func FromExposureDict(d ExposureDict, starCol, expCol string) (*Table, error) {
	t := New(starCol, expCol)
	exps := make([]string, 0, len(d))
	for exp := range d {
		exps = append(exps, exp)
	}
	sort.Slice(exps, func(i, j int) bool { return LessID(exps[i], exps[j]) })
	for _, exp := range exps {
		obs := d[exp]
		if len(obs.Mag) != len(obs.StarID) || len(obs.EMag) != len(obs.StarID) {
			return nil, fmt.Errorf("%w: exposure %s has %d star ids, %d mags and %d errors", ErrInvalidInput,
				exp, len(obs.StarID), len(obs.Mag), len(obs.EMag))
		}
		for i := range obs.StarID {
			t.Append(obs.StarID[i], exp, obs.Mag[i], obs.EMag[i])
		}
	}
	return t, nil
}

// Reads observations from CSV with a header row. The header must contain the
// identifier columns as well as mag and e_mag. All other columns are passed through.
func ReadCSV(r io.Reader, starCol, expCol string) (*Table, error) {
	t := New(starCol, expCol)
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: reading CSV header: %s", ErrInvalidInput, err.Error())
	}
	cols := map[string]int{}
	for i, h := range header {
		cols[strings.TrimSpace(h)] = i
	}
	required := []string{t.StarCol, t.ExpCol, MagCol, EMagCol}
	for _, name := range required {
		if _, ok := cols[name]; !ok {
			return nil, fmt.Errorf("%w: missing required column %s", ErrInvalidInput, name)
		}
	}
	iStar, iExp, iMag, iEMag := cols[t.StarCol], cols[t.ExpCol], cols[MagCol], cols[EMagCol]
	var extraIdx []int
	for i, h := range header {
		if i != iStar && i != iExp && i != iMag && i != iEMag {
			h = strings.TrimSpace(h)
			t.ExtraNames = append(t.ExtraNames, h)
			extraIdx = append(extraIdx, i)
		}
	}
	if len(extraIdx) > 0 {
		t.Extra = make(map[string][]string, len(extraIdx))
	}

	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: CSV line %d: %s", ErrInvalidInput, line, err.Error())
		}
		mag, err := strconv.ParseFloat(strings.TrimSpace(rec[iMag]), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: CSV line %d column %s: %s", ErrInvalidInput, line, MagCol, err.Error())
		}
		eMag, err := strconv.ParseFloat(strings.TrimSpace(rec[iEMag]), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: CSV line %d column %s: %s", ErrInvalidInput, line, EMagCol, err.Error())
		}
		t.Append(strings.TrimSpace(rec[iStar]), strings.TrimSpace(rec[iExp]), mag, eMag)
		for j, i := range extraIdx {
			name := t.ExtraNames[j]
			t.Extra[name] = append(t.Extra[name], rec[i])
		}
	}
	return t, nil
}

// Writes the table as CSV. Canonical indices and derived columns are written if present
func (t *Table) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	header := []string{t.StarCol, t.ExpCol, MagCol, EMagCol}
	header = append(header, t.ExtraNames...)
	indexed := t.IsIndexed()
	if indexed {
		header = append(header, StarIndexCol, ExpIndexCol)
	}
	derived := []struct {
		name string
		data []float64
	}{
		{FittedMagCol, t.FittedMag}, {FittedZPCol, t.FittedZP}, {ResidualCol, t.Residual}, {Chi2ExpCol, t.Chi2Exp},
	}
	for _, d := range derived {
		if d.data != nil {
			header = append(header, d.name)
		}
	}
	if err := cw.Write(header); err != nil {
		return err
	}

	rec := make([]string, 0, len(header))
	for i := 0; i < t.Len(); i++ {
		rec = rec[:0]
		rec = append(rec, t.StarID[i], t.ExpID[i], formatFloat(t.Mag[i]), formatFloat(t.EMag[i]))
		for _, name := range t.ExtraNames {
			rec = append(rec, t.Extra[name][i])
		}
		if indexed {
			rec = append(rec, strconv.Itoa(t.StarIndex[i]), strconv.Itoa(t.ExpIndex[i]))
		}
		for _, d := range derived {
			if d.data != nil {
				rec = append(rec, formatFloat(d.data[i]))
			}
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatFloat(f float64) string { return strconv.FormatFloat(f, 'g', -1, 64) }

// Reads observations from a file. Format is selected by suffix: .json holds an exposure
// dictionary, anything else is CSV. Decompresses gzip if .gz or .gzip suffix is present.
func ReadFile(fileName, starCol, expCol string) (*Table, error) {
	f, err := os.Open(fileName)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var r io.Reader = bufio.NewReader(f)
	name := strings.ToLower(fileName)
	ext := path.Ext(name)
	if ext == ".gz" || ext == ".gzip" {
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, err
		}
		defer gz.Close()
		r = gz
		name = strings.TrimSuffix(name, ext)
		ext = path.Ext(name)
	}

	if ext == ".json" {
		d, err := DecodeExposureDict(r, starCol)
		if err != nil {
			return nil, err
		}
		return FromExposureDict(d, starCol, expCol)
	}
	return ReadCSV(r, starCol, expCol)
}

// Writes the table as CSV to the given file
func (t *Table) WriteFile(fileName string) error {
	f, err := os.Create(fileName)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	if err := t.WriteCSV(w); err != nil {
		f.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
