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

package qsort

import (
	"testing"

	"github.com/valyala/fastrand"
)

// Fills an array with a random permutation of 1..n
func permutation(rng *fastrand.RNG, n int) []float64 {
	arr := make([]float64, n)
	for j := range arr {
		arr[j] = float64(j + 1)
	}
	for j := range arr {
		k := rng.Uint32n(uint32(len(arr)))
		arr[j], arr[k] = arr[k], arr[j]
	}
	return arr
}

func TestMedian(t *testing.T) {
	rng := fastrand.RNG{}
	for i := 1; i < 1000; i++ {
		arr := permutation(&rng, i)

		// calculate expected result
		var expect float64
		if (i & 1) != 0 {
			expect = float64((i + 1) / 2)
		} else {
			expect = 0.5 * (float64(i/2) + float64(i/2+1))
		}

		// calculate actual result and compare
		if res := QSelectMedianFloat64(arr); res != expect {
			t.Errorf("median(1..%d) got %f; want %f", i, res, expect)
		}
	}
}

func TestSelectAndSort(t *testing.T) {
	rng := fastrand.RNG{}
	arr := permutation(&rng, 257)
	for _, k := range []int{1, 2, 100, 256, 257} {
		if res := QSelectFloat64(arr, k); res != float64(k) {
			t.Errorf("select %d got %f; want %d", k, res, k)
		}
	}
	QSortFloat64(arr)
	for i, v := range arr {
		if v != float64(i+1) {
			t.Fatalf("sorted[%d]=%f; want %d", i, v, i+1)
		}
	}
	if res := QSelectMedianFloat64([]float64{3, 3, 1, 3}); res != 3 {
		t.Errorf("median with ties got %f; want 3", res)
	}
}
