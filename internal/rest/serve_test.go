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

package rest

import (
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func init() { gin.SetMode(gin.TestMode) }

func post(t *testing.T, r http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestPing(t *testing.T) {
	w := httptest.NewRecorder()
	NewRouter().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/ping", nil))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "pong") {
		t.Errorf("got %d %s; want 200 pong", w.Code, w.Body.String())
	}
}

func TestSolve(t *testing.T) {
	body := `{
		"options": {"minExp": 1, "method": "lsqr"},
		"reference": "b",
		"exposures": {
			"a": {"starid": [0, 1], "mag": [10.0, 12.0], "e_mag": [0.01, 0.01]},
			"b": {"starid": [0, 1], "mag": [10.5, 12.5], "e_mag": [0.01, 0.01]}
		}
	}`
	w := post(t, NewRouter(), "/api/v1/solve", body)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}
	var res postSolveResult
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatal(err)
	}
	want := map[string]float64{"0": 10.5, "1": 12.5}
	for id, m := range want {
		if math.Abs(res.Magnitudes[id]-m) > 1e-6 {
			t.Errorf("star %s: mag %g; want %g", id, res.Magnitudes[id], m)
		}
	}
	if res.ZeroPoints["b"] != 0 || math.Abs(res.ZeroPoints["a"]+0.5) > 1e-6 {
		t.Errorf("zero points %v; want a=-0.5 b=0", res.ZeroPoints)
	}
	if res.Reference != "b" || res.Summary.Observations != 4 {
		t.Errorf("reference %q, summary %+v", res.Reference, res.Summary)
	}
}

func TestSolveErrors(t *testing.T) {
	tcs := []struct {
		name string
		body string
		want int
	}{
		{"malformed", `{"exposures": `, http.StatusBadRequest},
		{"bad method", `{"options": {"method": "qr"}, "exposures": {}}`, http.StatusBadRequest},
		{"empty", `{"options": {"minExp": null}, "exposures": {}}`, http.StatusBadRequest},
		{"ragged", `{"exposures": {"a": {"starid": [0, 1], "mag": [10.0], "e_mag": [0.01]}}}`, http.StatusBadRequest},
		{"disconnected", `{"options": {"minExp": null}, "exposures": {
			"0": {"starid": [0], "mag": [10.0], "e_mag": [0.01]},
			"1": {"starid": [0], "mag": [10.1], "e_mag": [0.01]},
			"2": {"starid": [1], "mag": [12.0], "e_mag": [0.01]},
			"3": {"starid": [1], "mag": [12.2], "e_mag": [0.01]}}}`, http.StatusUnprocessableEntity},
	}
	r := NewRouter()
	for _, tc := range tcs {
		w := post(t, r, "/api/v1/solve", tc.body)
		if w.Code != tc.want {
			t.Errorf("%s: status %d; want %d: %s", tc.name, w.Code, tc.want, w.Body.String())
		}
	}
}

// Body of a solve request with nExp exposures, each observing the same nStars stars
func solveBody(method, memoryMB string, nStars, nExp int) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, `{"options": {"method": %q%s}, "exposures": {`, method, memoryMB)
	for e := 0; e < nExp; e++ {
		if e > 0 {
			sb.WriteString(",")
		}
		ids, mags, errs := make([]int, nStars), make([]float64, nStars), make([]float64, nStars)
		for i := range ids {
			ids[i], mags[i], errs[i] = i, 12+0.01*float64(i)+0.1*float64(e), 0.01
		}
		idsJ, _ := json.Marshal(ids)
		magsJ, _ := json.Marshal(mags)
		errsJ, _ := json.Marshal(errs)
		fmt.Fprintf(&sb, `"%d": {"starid": %s, "mag": %s, "e_mag": %s}`, e, idsJ, magsJ, errsJ)
	}
	sb.WriteString("}}")
	return sb.String()
}

func TestSolveMemoryLimit(t *testing.T) {
	saved := solveMemoryMB
	solveMemoryMB = 1
	defer func() { solveMemoryMB = saved }()

	// 300 stars in 3 exposures are 302 unknowns, whose dense factorization needs 2 MiB
	r := NewRouter()
	for _, memoryMB := range []string{"", `, "memoryMB": 0`, `, "memoryMB": 1000000`} {
		w := post(t, r, "/api/v1/solve", solveBody("spsolve", memoryMB, 300, 3))
		if w.Code != http.StatusUnprocessableEntity || !strings.Contains(w.Body.String(), "MiB") {
			t.Errorf("spsolve with options%q: status %d; want 422 with a memory error: %s", memoryMB, w.Code, w.Body.String())
		}
	}
	if w := post(t, r, "/api/v1/solve", solveBody("cholesky", "", 300, 3)); w.Code != http.StatusOK {
		t.Errorf("cholesky: status %d; want 200: %s", w.Code, w.Body.String())
	}
}

func TestCalibrateRejectsAbsolutePaths(t *testing.T) {
	w := post(t, NewRouter(), "/api/v1/calibrate", `{"filePatterns": ["/etc/*.csv"]}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "error:") {
		t.Errorf("log does not report an error:\n%s", w.Body.String())
	}
}
