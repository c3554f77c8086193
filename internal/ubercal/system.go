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

package ubercal

import (
	"fmt"
	"math"

	"github.com/mlnoga/ubercal/internal/sparse"
	"github.com/mlnoga/ubercal/internal/table"
)

// Builds the design matrix of an indexed table. Row k has a 1 in column StarIndex[k]
// and a 1 in column NStars+ExpIndex[k]. Stars come first, exposures second.
func BuildDesign(t *table.Table) (*sparse.COO, error) {
	if !t.IsIndexed() {
		return nil, fmt.Errorf("%w: table has no canonical indices", ErrInvalidInput)
	}
	ns, ne := t.NStars(), t.NExposures()
	a := sparse.NewCOO(t.Len(), ns+ne, 2*t.Len())
	for k := 0; k < t.Len(); k++ {
		s, e := t.StarIndex[k], t.ExpIndex[k]
		if s < 0 || s >= ns || e < 0 || e >= ne {
			return nil, fmt.Errorf("%w: row %d has star index %d of %d and exposure index %d of %d",
				ErrInvalidInput, k, s, ns, e, ne)
		}
		a.Set(k, s, 1)
		a.Set(k, ns+e, 1)
	}
	return a, nil
}

// Builds the diagonal weight matrix with entries 1/sigma^2
func BuildWeights(eMag []float64) (sparse.Diag, error) {
	w := make(sparse.Diag, len(eMag))
	for k, s := range eMag {
		if !(s > 0) || math.IsInf(s, 0) {
			return nil, fmt.Errorf("%w: %s must be finite and positive, have %g in row %d", ErrInvalidInput, table.EMagCol, s, k)
		}
		w[k] = 1 / (s * s)
		if math.IsInf(w[k], 0) {
			return nil, fmt.Errorf("%w: %s %g in row %d overflows its weight", ErrInvalidInput, table.EMagCol, s, k)
		}
	}
	return w, nil
}

// Pins the zero point of reference exposure ref by removing its column from the design matrix
func FixGauge(a *sparse.CSR, nStars, ref int) (*sparse.CSR, error) {
	ne := a.Cols - nStars
	if ref < 0 || ref >= ne {
		return nil, fmt.Errorf("%w: reference exposure %d out of range [0,%d)", ErrInvalidInput, ref, ne)
	}
	return a.DropColumn(nStars + ref), nil
}

// A gauge-fixed weighted least squares system: minimize (A x - B)^T W (A x - B).
// A has NStars star columns followed by NExposures-1 exposure columns, with the
// Reference exposure omitted.
type System struct {
	A          *sparse.CSR
	W          sparse.Diag
	B          []float64
	NStars     int
	NExposures int
	Reference  int // canonical index of the reference exposure, before removal
}

// Builds the gauge-fixed system for an indexed table
func NewSystem(t *table.Table, ref int) (*System, error) {
	if ne := t.NExposures(); ref < 0 || ref >= ne {
		return nil, fmt.Errorf("%w: reference exposure %d out of range [0,%d)", ErrInvalidInput, ref, ne)
	}
	coo, err := BuildDesign(t)
	if err != nil {
		return nil, err
	}
	w, err := BuildWeights(t.EMag)
	if err != nil {
		return nil, err
	}
	a, err := FixGauge(coo.ToCSR(), t.NStars(), ref)
	if err != nil {
		return nil, err
	}
	return &System{
		A:          a,
		W:          w,
		B:          append([]float64(nil), t.Mag...),
		NStars:     t.NStars(),
		NExposures: t.NExposures(),
		Reference:  ref,
	}, nil
}

// Number of unknowns after gauge fix
func (s *System) NParams() int { return s.A.Cols }

// Solver settings
type SolveSettings struct {
	MaxIter  int     // lsqr iteration limit, 0=automatic
	Tol      float64 // lsqr relative tolerance, 0=default
	MemoryMB int     // memory limit for dense factorizations, 0=DefaultMemoryMB
}

// Solves the system with the given method. Returns the gauge-fixed solution of length NParams()
func (s *System) Solve(method Method, settings SolveSettings) ([]float64, error) {
	if len(s.W) != s.A.Rows || len(s.B) != s.A.Rows {
		return nil, fmt.Errorf("%w: system has %d rows, %d weights and %d magnitudes", ErrInvalidInput, s.A.Rows, len(s.W), len(s.B))
	}
	switch method {
	case MethodCholesky:
		return solveCholesky(s, settings.MemoryMB)
	case MethodLSQR:
		return solveLSQR(s, settings.MaxIter, settings.Tol)
	case MethodSpsolve:
		return solveDirect(s, settings.MemoryMB)
	}
	return nil, fmt.Errorf("%w: unknown method %v", ErrInvalidInput, method)
}

// Weighted sum of squared residuals (A x - B)^T W (A x - B)
func (s *System) Chi2(x []float64) float64 {
	pred := s.A.MulVec(nil, x)
	chi2 := 0.0
	for k, p := range pred {
		d := p - s.B[k]
		chi2 += s.W[k] * d * d
	}
	return chi2
}

// Reinserts a zero at position nStars+ref into the gauge-fixed solution,
// recovering one value per star followed by one zero point per exposure
func InsertReference(xFixed []float64, nStars, ref int) []float64 {
	x := make([]float64, len(xFixed)+1)
	at := nStars + ref
	copy(x, xFixed[:at])
	copy(x[at+1:], xFixed[at:])
	return x
}
