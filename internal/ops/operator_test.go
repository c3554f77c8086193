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

package ops

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mlnoga/ubercal/internal/table"
	"github.com/mlnoga/ubercal/internal/ubercal"
)

func testContext(log *bytes.Buffer) *Context {
	c := NewContext(log)
	c.MaxThreads = 2
	return c
}

// Writes two files, splitting the observations of two stars in two exposures by exposure
func writeObservations(t *testing.T, dir string) {
	t.Helper()
	files := map[string]string{
		"exp0.csv": "starid,expid,mag,e_mag,airmass\n0,0,10.0,0.01,1.1\n1,0,12.0,0.01,1.1\n",
		"exp1.csv": "starid,expid,mag,e_mag,airmass\n0,1,10.5,0.01,1.3\n1,1,12.5,0.01,1.3\n",
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0666); err != nil {
			t.Fatal(err)
		}
	}
}

func TestMaterializeAll(t *testing.T) {
	ok := func() (*table.Table, error) { return table.New("", ""), nil }
	fail := func() (*table.Table, error) { return nil, errors.New("boom") }

	outs, err := MaterializeAll([]Promise{ok, ok, ok}, 2)
	if err != nil || len(outs) != 3 {
		t.Errorf("got %d outputs, err=%v; want 3, nil", len(outs), err)
	}
	outs, err = MaterializeAll([]Promise{ok, fail, ok, fail}, 3)
	if err == nil || len(outs) != 2 {
		t.Errorf("got %d outputs, err=%v; want 2 and an error", len(outs), err)
	}
	if err != nil && strings.Count(err.Error(), "boom") != 2 {
		t.Errorf("error %q does not combine both failures", err.Error())
	}
	if outs, err = MaterializeAll(nil, 1); outs != nil || err != nil {
		t.Errorf("empty input gave %v, %v", outs, err)
	}
}

func TestSequenceFromJSON(t *testing.T) {
	dir := t.TempDir()
	writeObservations(t, dir)
	out := filepath.Join(dir, "out.csv")

	config := `{"type":"seq", "active":true, "steps":[
		{"type":"loadMany", "active":true, "filePatterns":["` + filepath.ToSlash(filepath.Join(dir, "exp*.csv")) + `"]},
		{"type":"calibrate", "active":true, "options":{"minExp":null}, "reference":"1", "chi2":true},
		{"type":"save", "active":true, "filePattern":"` + filepath.ToSlash(out) + `"}
	]}`
	var seq OpSequence
	if err := json.Unmarshal([]byte(config), &seq); err != nil {
		t.Fatal(err)
	}
	if len(seq.Steps) != 3 {
		t.Fatalf("got %d steps; want 3", len(seq.Steps))
	}
	cal, ok := seq.Steps[1].(*OpCalibrate)
	if !ok {
		t.Fatalf("step 1 is %T; want *OpCalibrate", seq.Steps[1])
	}
	if cal.Options.MinExp != nil || cal.Options.Method != ubercal.MethodCholesky {
		t.Errorf("calibrate options %+v", cal.Options)
	}

	var log bytes.Buffer
	ts, err := Run(&seq, testContext(&log))
	if err != nil {
		t.Fatalf("%v\n%s", err, log.String())
	}
	if len(ts) != 1 || ts[0].Len() != 4 {
		t.Fatalf("got %d tables; want one with 4 rows", len(ts))
	}
	res := ts[0]
	for k := 0; k < res.Len(); k++ {
		wantMag := map[string]float64{"0": 10.5, "1": 12.5}[res.StarID[k]]
		wantZP := map[string]float64{"0": -0.5, "1": 0}[res.ExpID[k]]
		if math.Abs(res.FittedMag[k]-wantMag) > 1e-9 || math.Abs(res.FittedZP[k]-wantZP) > 1e-9 {
			t.Errorf("row %d: fitted %g %g; want %g %g", k, res.FittedMag[k], res.FittedZP[k], wantMag, wantZP)
		}
	}
	if res.Chi2Exp == nil {
		t.Errorf("chi2_exp column missing")
	}
	if !strings.Contains(log.String(), "Found 2 files.") || !strings.Contains(log.String(), "Calibrated 4 observations") {
		t.Errorf("unexpected log:\n%s", log.String())
	}

	saved, err := table.ReadFile(out, "", "")
	if err != nil {
		t.Fatal(err)
	}
	if saved.Len() != 4 || saved.Extra["airmass"] == nil {
		t.Errorf("saved table has %d rows, extra columns %v", saved.Len(), saved.ExtraNames)
	}

	// round trip through marshaling keeps the steps
	m, err := json.Marshal(&seq)
	if err != nil {
		t.Fatal(err)
	}
	var seq2 OpSequence
	if err := json.Unmarshal(m, &seq2); err != nil {
		t.Fatalf("%v in %s", err, m)
	}
	if len(seq2.Steps) != 3 || seq2.Steps[2].GetType() != "save" {
		t.Errorf("re-read %d steps from %s", len(seq2.Steps), m)
	}
}

func TestCalibrateSingular(t *testing.T) {
	tab := table.New("", "")
	tab.Append("0", "0", 10.0, 0.01)
	tab.Append("0", "1", 10.1, 0.01)
	tab.Append("1", "2", 12.0, 0.01)
	tab.Append("1", "3", 12.2, 0.01)
	opts := ubercal.DefaultOptions()
	opts.MinExp = nil
	op := NewOpCalibrate(opts, "", 0)

	in := func() (*table.Table, error) { return tab, nil }
	outs, err := op.MakePromises([]Promise{in}, testContext(&bytes.Buffer{}))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := outs[0](); !errors.Is(err, ubercal.ErrSingular) {
		t.Errorf("err=%v; want ErrSingular", err)
	}
}

func TestChi2NeedsCalibration(t *testing.T) {
	tab := table.New("", "")
	tab.Append("0", "0", 10.0, 0.01)
	if _, err := NewOpChi2().Apply(tab, testContext(&bytes.Buffer{})); !errors.Is(err, table.ErrInvalidInput) {
		t.Errorf("err=%v; want ErrInvalidInput", err)
	}
}

func TestRestrictPaths(t *testing.T) {
	c := testContext(&bytes.Buffer{})
	c.RestrictPaths = true
	for _, name := range []string{"/etc/passwd", "../secret.csv", "a/../../b.csv"} {
		if _, err := NewOpLoad(0, name).MakePromises(nil, c); err == nil {
			t.Errorf("%s: loaded outside the tree", name)
		}
	}
	if _, err := NewOpLoad(0, "data/obs.csv").MakePromises(nil, c); err != nil {
		t.Errorf("relative path rejected: %v", err)
	}
}

func TestUnknownOperator(t *testing.T) {
	if _, err := UnmarshalOperator([]byte(`{"type":"stack"}`)); err == nil {
		t.Errorf("unknown operator type accepted")
	}
	op, err := UnmarshalOperator([]byte(`{"type":"load", "active":true, "fileName":"x.csv"}`))
	if err != nil {
		t.Fatal(err)
	}
	if l := op.(*OpLoad); l.StarID != table.DefaultStarCol || l.FileName != "x.csv" {
		t.Errorf("got %+v", l)
	}
}
