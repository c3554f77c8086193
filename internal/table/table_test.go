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
	"bytes"
	"errors"
	"math"
	"strings"
	"testing"
)

func TestBuildIndex(t *testing.T) {
	tcs := []struct {
		ids   []string
		index []int
		keys  []string
	}{
		{[]string{"b", "a", "b", "c"}, []int{1, 0, 1, 2}, []string{"a", "b", "c"}},
		{[]string{"10", "9", "100", "9"}, []int{1, 0, 2, 0}, []string{"9", "10", "100"}},
		{[]string{"x", "2", "1"}, []int{2, 1, 0}, []string{"1", "2", "x"}},
		{[]string{"3", "nan", "1", "2", "10"}, []int{2, 4, 0, 1, 3}, []string{"1", "2", "3", "10", "nan"}},
		{[]string{"nan", "NaN", "7"}, []int{2, 1, 0}, []string{"7", "NaN", "nan"}},
		{[]string{"inf", "-inf", "0"}, []int{2, 0, 1}, []string{"-inf", "0", "inf"}},
		{nil, []int{}, []string{}},
	}
	for _, tc := range tcs {
		index, keys := BuildIndex(tc.ids)
		if len(index) != len(tc.index) || len(keys) != len(tc.keys) {
			t.Errorf("BuildIndex(%v)=%v,%v; want %v,%v", tc.ids, index, keys, tc.index, tc.keys)
			continue
		}
		for i := range index {
			if index[i] != tc.index[i] {
				t.Errorf("BuildIndex(%v) index[%d]=%d; want %d", tc.ids, i, index[i], tc.index[i])
			}
		}
		for i := range keys {
			if keys[i] != tc.keys[i] {
				t.Errorf("BuildIndex(%v) keys[%d]=%s; want %s", tc.ids, i, keys[i], tc.keys[i])
			}
		}
	}
}

func TestBuildIndexDeterministic(t *testing.T) {
	ids := []string{"3", "nan", "1", "2", "10", "b", "NaN", "a", "1e1", "-0"}
	_, first := BuildIndex(ids)
	for i := 0; i < 200; i++ {
		_, keys := BuildIndex(ids)
		if strings.Join(keys, ",") != strings.Join(first, ",") {
			t.Fatalf("run %d: keys %v; first run gave %v", i, keys, first)
		}
	}
	for i := 1; i < len(first); i++ {
		if !LessID(first[i-1], first[i]) || LessID(first[i], first[i-1]) {
			t.Errorf("keys %s, %s out of strict order", first[i-1], first[i])
		}
	}
}

func underObserved() *Table {
	t := New("", "")
	t.Append("0", "0", 10.0, 0.01)
	t.Append("0", "1", 10.5, 0.01)
	t.Append("1", "0", 12.0, 0.01)
	t.Append("1", "1", 12.5, 0.01)
	t.Append("2", "0", 9.0, 0.01)
	return t
}

func TestPrune(t *testing.T) {
	in := underObserved()
	p := in.Prune(IntPtr(2))
	if p.Len() != 4 {
		t.Fatalf("len=%d; want 4", p.Len())
	}
	if p.NStars() != 2 || p.NExposures() != 2 {
		t.Errorf("nstars=%d nexp=%d; want 2 2", p.NStars(), p.NExposures())
	}
	counts := p.StarCounts()
	for id, c := range counts {
		if c < 2 {
			t.Errorf("star %s has %d rows; want >=2", id, c)
		}
	}
	if in.Len() != 5 || in.StarIndex != nil {
		t.Errorf("input table was modified")
	}

	all := in.Prune(nil)
	if all.Len() != 5 || all.NStars() != 3 {
		t.Errorf("nil minExp: len=%d nstars=%d; want 5 3", all.Len(), all.NStars())
	}
}

func TestPruneReindexesExposures(t *testing.T) {
	in := New("", "")
	in.Append("a", "e1", 1, 0.1)
	in.Append("a", "e2", 1, 0.1)
	in.Append("b", "e0", 1, 0.1) // only star in exposure e0
	p := in.Prune(IntPtr(2))
	if p.NExposures() != 2 {
		t.Fatalf("nexp=%d; want 2", p.NExposures())
	}
	for i, e := range p.ExpIndex {
		if e < 0 || e >= p.NExposures() {
			t.Errorf("ExpIndex[%d]=%d; out of range", i, e)
		}
	}
	if p.ExpKeys[0] != "e1" || p.ExpKeys[1] != "e2" {
		t.Errorf("ExpKeys=%v; want [e1 e2]", p.ExpKeys)
	}
}

func TestShapeEmpty(t *testing.T) {
	in := underObserved()
	_, err := Shape(in, IntPtr(10))
	if !errors.Is(err, ErrInvalidInput) {
		t.Errorf("err=%v; want ErrInvalidInput", err)
	}
}

func TestValidate(t *testing.T) {
	in := underObserved()
	in.Mag[2] = math.NaN()
	if err := in.Validate(); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("NaN mag: err=%v; want ErrInvalidInput", err)
	}
	in = underObserved()
	in.EMag = in.EMag[:3]
	if err := in.Validate(); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("short column: err=%v; want ErrInvalidInput", err)
	}
}

func TestCSVRoundTrip(t *testing.T) {
	csvIn := "src,frame,mag,e_mag,ra\n" +
		"s1,f1,10.0,0.01,1.5\n" +
		"s1,f2,10.5,0.02,1.5\n" +
		"s2,f1,12.0,0.01,2.5\n"
	tab, err := ReadCSV(strings.NewReader(csvIn), "src", "frame")
	if err != nil {
		t.Fatal(err)
	}
	if tab.Len() != 3 || tab.EMag[1] != 0.02 || tab.ExpID[2] != "f1" {
		t.Errorf("parsed %+v", tab)
	}
	if len(tab.ExtraNames) != 1 || tab.Extra["ra"][2] != "2.5" {
		t.Errorf("extra columns %v %v; want [ra]", tab.ExtraNames, tab.Extra)
	}

	var buf bytes.Buffer
	if err := tab.WriteCSV(&buf); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(buf.String(), "src,frame,mag,e_mag,ra\n") {
		t.Errorf("header %q", strings.SplitN(buf.String(), "\n", 2)[0])
	}
}

func TestCSVMissingColumn(t *testing.T) {
	_, err := ReadCSV(strings.NewReader("starid,expid,mag\n1,2,3\n"), "", "")
	if !errors.Is(err, ErrInvalidInput) {
		t.Errorf("err=%v; want ErrInvalidInput", err)
	}
}

func TestExposureDict(t *testing.T) {
	js := `{"7": {"starid": [1, 2], "mag": [10.5, 12.5], "e_mag": [0.1, 0.1]},
	        "3": {"starid": ["1", "2"], "mag": [10.0, 12.0], "e_mag": [0.1, 0.1]}}`
	d, err := DecodeExposureDict(strings.NewReader(js), "")
	if err != nil {
		t.Fatal(err)
	}
	tab, err := FromExposureDict(d, "", "")
	if err != nil {
		t.Fatal(err)
	}
	if tab.Len() != 4 {
		t.Fatalf("len=%d; want 4", tab.Len())
	}
	wantExp := []string{"3", "3", "7", "7"}
	wantStar := []string{"1", "2", "1", "2"}
	for i := range wantExp {
		if tab.ExpID[i] != wantExp[i] || tab.StarID[i] != wantStar[i] {
			t.Errorf("row %d=(%s,%s); want (%s,%s)", i, tab.StarID[i], tab.ExpID[i], wantStar[i], wantExp[i])
		}
	}

	d["9"] = ExposureObs{StarID: []string{"1"}, Mag: []float64{1, 2}, EMag: []float64{1}}
	if _, err := FromExposureDict(d, "", ""); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("ragged exposure: err=%v; want ErrInvalidInput", err)
	}
}

func TestConcat(t *testing.T) {
	a, b := underObserved(), underObserved()
	c, err := Concat(a, b)
	if err != nil {
		t.Fatal(err)
	}
	if c.Len() != 10 {
		t.Errorf("len=%d; want 10", c.Len())
	}
	b.StarCol = "other"
	if _, err := Concat(a, b); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("mismatched columns: err=%v; want ErrInvalidInput", err)
	}
}
