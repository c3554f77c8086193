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

// Package sparse provides the minimal sparse matrix storage needed for
// least squares calibration: coordinate form for assembly, compressed sparse
// rows for products and column slicing, and diagonal matrices.
package sparse

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/mat"
)

// Sparse matrix in coordinate form. Duplicate entries are summed on conversion
type COO struct {
	Rows, Cols int
	RowIdx     []int
	ColIdx     []int
	Data       []float64
}

// Creates an empty coordinate matrix of given shape with capacity for nnz entries
func NewCOO(rows, cols, nnz int) *COO {
	return &COO{
		Rows:   rows,
		Cols:   cols,
		RowIdx: make([]int, 0, nnz),
		ColIdx: make([]int, 0, nnz),
		Data:   make([]float64, 0, nnz),
	}
}

// Appends an entry. Panics if out of bounds
func (c *COO) Set(i, j int, v float64) {
	if i < 0 || i >= c.Rows || j < 0 || j >= c.Cols {
		panic(fmt.Sprintf("sparse: index (%d,%d) out of bounds for %dx%d", i, j, c.Rows, c.Cols))
	}
	c.RowIdx = append(c.RowIdx, i)
	c.ColIdx = append(c.ColIdx, j)
	c.Data = append(c.Data, v)
}

// Number of stored entries
func (c *COO) NNZ() int { return len(c.Data) }

func (c *COO) Dims() (r, cols int) { return c.Rows, c.Cols }

// Converts to compressed sparse rows with sorted column indices and summed duplicates
func (c *COO) ToCSR() *CSR {
	indptr := make([]int, c.Rows+1)
	for _, i := range c.RowIdx {
		indptr[i+1]++
	}
	for i := 0; i < c.Rows; i++ {
		indptr[i+1] += indptr[i]
	}
	ind := make([]int, len(c.Data))
	data := make([]float64, len(c.Data))
	next := append([]int(nil), indptr[:c.Rows]...)
	for k, i := range c.RowIdx {
		p := next[i]
		ind[p], data[p] = c.ColIdx[k], c.Data[k]
		next[i]++
	}

	// sort each row by column and merge duplicates in place
	out := 0
	start := 0
	for i := 0; i < c.Rows; i++ {
		end := indptr[i+1]
		row := rowSorter{ind[start:end], data[start:end]}
		if !sort.IsSorted(row) {
			sort.Sort(row)
		}
		rowStart := out
		for p := start; p < end; p++ {
			if out > rowStart && ind[out-1] == ind[p] {
				data[out-1] += data[p]
				continue
			}
			ind[out], data[out] = ind[p], data[p]
			out++
		}
		start = end
		indptr[i+1] = out
	}
	return &CSR{Rows: c.Rows, Cols: c.Cols, Indptr: indptr, Ind: ind[:out], Data: data[:out]}
}

type rowSorter struct {
	ind  []int
	data []float64
}

func (r rowSorter) Len() int           { return len(r.ind) }
func (r rowSorter) Less(i, j int) bool { return r.ind[i] < r.ind[j] }
func (r rowSorter) Swap(i, j int) {
	r.ind[i], r.ind[j] = r.ind[j], r.ind[i]
	r.data[i], r.data[j] = r.data[j], r.data[i]
}

// Sparse matrix in compressed sparse row form. Column indices within a row are ascending
type CSR struct {
	Rows, Cols int
	Indptr     []int // row i occupies Ind[Indptr[i]:Indptr[i+1]]
	Ind        []int
	Data       []float64
}

func (m *CSR) Dims() (r, c int) { return m.Rows, m.Cols }

func (m *CSR) NNZ() int { return len(m.Data) }

// Returns the value at (i,j), zero if not stored
func (m *CSR) At(i, j int) float64 {
	if i < 0 || i >= m.Rows || j < 0 || j >= m.Cols {
		panic(fmt.Sprintf("sparse: index (%d,%d) out of bounds for %dx%d", i, j, m.Rows, m.Cols))
	}
	ind := m.Ind[m.Indptr[i]:m.Indptr[i+1]]
	k := sort.SearchInts(ind, j)
	if k < len(ind) && ind[k] == j {
		return m.Data[m.Indptr[i]+k]
	}
	return 0
}

// Calls fn for each stored entry of row i
func (m *CSR) DoRowNonZero(i int, fn func(j int, v float64)) {
	for p := m.Indptr[i]; p < m.Indptr[i+1]; p++ {
		fn(m.Ind[p], m.Data[p])
	}
}

// Computes dst = m x. dst is allocated if nil
func (m *CSR) MulVec(dst, x []float64) []float64 {
	if len(x) != m.Cols {
		panic(fmt.Sprintf("sparse: MulVec with %d columns and vector of length %d", m.Cols, len(x)))
	}
	if dst == nil {
		dst = make([]float64, m.Rows)
	}
	for i := 0; i < m.Rows; i++ {
		sum := 0.0
		for p := m.Indptr[i]; p < m.Indptr[i+1]; p++ {
			sum += m.Data[p] * x[m.Ind[p]]
		}
		dst[i] = sum
	}
	return dst
}

// Computes dst = m^T y. dst is allocated if nil
func (m *CSR) MulTransVec(dst, y []float64) []float64 {
	if len(y) != m.Rows {
		panic(fmt.Sprintf("sparse: MulTransVec with %d rows and vector of length %d", m.Rows, len(y)))
	}
	if dst == nil {
		dst = make([]float64, m.Cols)
	} else {
		for j := range dst {
			dst[j] = 0
		}
	}
	for i := 0; i < m.Rows; i++ {
		yi := y[i]
		if yi == 0 {
			continue
		}
		for p := m.Indptr[i]; p < m.Indptr[i+1]; p++ {
			dst[m.Ind[p]] += m.Data[p] * yi
		}
	}
	return dst
}

// Returns a copy with column col removed. Columns to the right shift left by one
func (m *CSR) DropColumn(col int) *CSR {
	if col < 0 || col >= m.Cols {
		panic(fmt.Sprintf("sparse: column %d out of bounds for %d columns", col, m.Cols))
	}
	res := &CSR{
		Rows:   m.Rows,
		Cols:   m.Cols - 1,
		Indptr: make([]int, m.Rows+1),
		Ind:    make([]int, 0, len(m.Ind)),
		Data:   make([]float64, 0, len(m.Data)),
	}
	for i := 0; i < m.Rows; i++ {
		for p := m.Indptr[i]; p < m.Indptr[i+1]; p++ {
			j := m.Ind[p]
			if j == col {
				continue
			}
			if j > col {
				j--
			}
			res.Ind = append(res.Ind, j)
			res.Data = append(res.Data, m.Data[p])
		}
		res.Indptr[i+1] = len(res.Ind)
	}
	return res
}

// Returns a copy with row i scaled by s[i]
func (m *CSR) ScaleRows(s []float64) *CSR {
	if len(s) != m.Rows {
		panic(fmt.Sprintf("sparse: ScaleRows with %d rows and %d factors", m.Rows, len(s)))
	}
	res := &CSR{
		Rows:   m.Rows,
		Cols:   m.Cols,
		Indptr: append([]int(nil), m.Indptr...),
		Ind:    append([]int(nil), m.Ind...),
		Data:   make([]float64, len(m.Data)),
	}
	for i := 0; i < m.Rows; i++ {
		for p := m.Indptr[i]; p < m.Indptr[i+1]; p++ {
			res.Data[p] = m.Data[p] * s[i]
		}
	}
	return res
}

// Computes the normal matrix m^T diag(w) m as a dense symmetric matrix.
// Intended for small systems and tests, as storage is quadratic in m.Cols.
func (m *CSR) NormalDense(w Diag) *mat.SymDense {
	if len(w) != m.Rows {
		panic(fmt.Sprintf("sparse: NormalDense with %d rows and %d weights", m.Rows, len(w)))
	}
	n := mat.NewSymDense(m.Cols, nil)
	for i := 0; i < m.Rows; i++ {
		for p := m.Indptr[i]; p < m.Indptr[i+1]; p++ {
			jp, vp := m.Ind[p], m.Data[p]*w[i]
			for q := p; q < m.Indptr[i+1]; q++ {
				jq := m.Ind[q]
				n.SetSym(jp, jq, n.At(jp, jq)+vp*m.Data[q])
			}
		}
	}
	return n
}

// Returns a dense copy
func (m *CSR) ToDense() *mat.Dense {
	d := mat.NewDense(m.Rows, m.Cols, nil)
	for i := 0; i < m.Rows; i++ {
		for p := m.Indptr[i]; p < m.Indptr[i+1]; p++ {
			d.Set(i, m.Ind[p], m.Data[p])
		}
	}
	return d
}

// Diagonal matrix, stored as its diagonal
type Diag []float64

// Computes dst = d x elementwise. dst is allocated if nil
func (d Diag) MulVec(dst, x []float64) []float64 {
	if len(x) != len(d) {
		panic(fmt.Sprintf("sparse: Diag.MulVec with %d entries and vector of length %d", len(d), len(x)))
	}
	if dst == nil {
		dst = make([]float64, len(d))
	}
	for i, v := range d {
		dst[i] = v * x[i]
	}
	return dst
}
