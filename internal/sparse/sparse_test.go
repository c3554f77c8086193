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

package sparse

import (
	"testing"

	"gonum.org/v1/gonum/mat"
)

// 3x4 test matrix, entries given out of order and with one duplicate
func testCOO() *COO {
	c := NewCOO(3, 4, 6)
	c.Set(0, 3, 1)
	c.Set(0, 0, 2)
	c.Set(1, 1, 3)
	c.Set(2, 2, 4)
	c.Set(2, 0, 5)
	c.Set(2, 2, 1)
	return c
}

func TestToCSR(t *testing.T) {
	m := testCOO().ToCSR()
	want := mat.NewDense(3, 4, []float64{
		2, 0, 0, 1,
		0, 3, 0, 0,
		5, 0, 5, 0,
	})
	if m.NNZ() != 5 {
		t.Errorf("nnz=%d; want 5", m.NNZ())
	}
	if !mat.Equal(m.ToDense(), want) {
		t.Errorf("got\n%v\nwant\n%v", mat.Formatted(m.ToDense()), mat.Formatted(want))
	}
	for i := 0; i < 3; i++ {
		for j := 0; j < 4; j++ {
			if m.At(i, j) != want.At(i, j) {
				t.Errorf("At(%d,%d)=%g; want %g", i, j, m.At(i, j), want.At(i, j))
			}
		}
	}
}

func TestMulVec(t *testing.T) {
	m := testCOO().ToCSR()
	x := []float64{1, 2, 3, 4}
	got := m.MulVec(nil, x)
	want := []float64{6, 6, 20}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("MulVec[%d]=%g; want %g", i, got[i], want[i])
		}
	}

	y := []float64{1, 1, 2}
	gotT := m.MulTransVec(nil, y)
	wantT := []float64{12, 3, 10, 1}
	for i := range wantT {
		if gotT[i] != wantT[i] {
			t.Errorf("MulTransVec[%d]=%g; want %g", i, gotT[i], wantT[i])
		}
	}
}

func TestDropColumn(t *testing.T) {
	m := testCOO().ToCSR().DropColumn(2)
	want := mat.NewDense(3, 3, []float64{
		2, 0, 1,
		0, 3, 0,
		5, 0, 0,
	})
	if r, c := m.Dims(); r != 3 || c != 3 {
		t.Fatalf("dims=%dx%d; want 3x3", r, c)
	}
	if !mat.Equal(m.ToDense(), want) {
		t.Errorf("got\n%v\nwant\n%v", mat.Formatted(m.ToDense()), mat.Formatted(want))
	}
}

func TestNormalDense(t *testing.T) {
	m := testCOO().ToCSR()
	w := Diag{1, 2, 0.5}
	got := m.NormalDense(w)

	var want mat.Dense
	a := m.ToDense()
	wd := mat.NewDiagDense(3, []float64(w))
	var aw mat.Dense
	aw.Mul(a.T(), wd)
	want.Mul(&aw, a)
	if !mat.EqualApprox(got, &want, 1e-12) {
		t.Errorf("got\n%v\nwant\n%v", mat.Formatted(got), mat.Formatted(&want))
	}
}

func TestScaleRows(t *testing.T) {
	m := testCOO().ToCSR().ScaleRows([]float64{2, 1, 0.5})
	if m.At(0, 0) != 4 || m.At(2, 2) != 2.5 || m.At(1, 1) != 3 {
		t.Errorf("got\n%v", mat.Formatted(m.ToDense()))
	}
}
