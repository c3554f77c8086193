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
	"errors"
	"fmt"

	"github.com/mlnoga/ubercal/internal/sparse"
	"gonum.org/v1/gonum/mat"
)

// Solves the normal equations by Cholesky factorization. Every row of A couples
// exactly one star with at most one exposure, so the star block of A^T W A is
// diagonal. It is eliminated first, leaving the dense Schur complement
//
//	S = D_e - C^T D_s^-1 C
//
// over the exposures, which is factorized with gonum. Star values follow by back substitution.
func solveCholesky(s *System, memoryMB int) ([]float64, error) {
	ns := s.NStars
	ne := s.A.Cols - ns
	if err := checkDenseMemory("exposure block", ne, memoryMB); err != nil {
		return nil, fmt.Errorf("%w; use lsqr", err)
	}
	ds, rs := make([]float64, ns), make([]float64, ns) // star block diagonal and right hand side
	de, re := make([]float64, ne), make([]float64, ne) // exposure block diagonal and right hand side
	coupling := sparse.NewCOO(ns, ne, s.A.Rows)        // star-exposure block C

	for k := 0; k < s.A.Rows; k++ {
		star, exp := -1, -1
		var vs, ve float64
		for p := s.A.Indptr[k]; p < s.A.Indptr[k+1]; p++ {
			j, v := s.A.Ind[p], s.A.Data[p]
			if j < ns {
				if star >= 0 {
					return nil, fmt.Errorf("%w: row %d references more than one star", ErrInvalidInput, k)
				}
				star, vs = j, v
			} else {
				if exp >= 0 {
					return nil, fmt.Errorf("%w: row %d references more than one exposure", ErrInvalidInput, k)
				}
				exp, ve = j-ns, v
			}
		}
		if star < 0 {
			return nil, fmt.Errorf("%w: row %d references no star", ErrInvalidInput, k)
		}
		w, b := s.W[k], s.B[k]
		ds[star] += w * vs * vs
		rs[star] += w * vs * b
		if exp >= 0 {
			de[exp] += w * ve * ve
			re[exp] += w * ve * b
			coupling.Set(star, exp, w*vs*ve)
		}
	}
	for i, d := range ds {
		if !(d > 0) {
			return nil, &SingularError{Detail: fmt.Sprintf("star %d has no weight in the normal equations", i)}
		}
	}

	c := coupling.ToCSR()
	z := make([]float64, ne)
	if ne > 0 {
		schur := mat.NewSymDense(ne, nil)
		raw := schur.RawSymmetric() // upper triangle is referenced
		for j, d := range de {
			raw.Data[j*raw.Stride+j] = d
		}
		r := append([]float64(nil), re...)
		for i := 0; i < ns; i++ {
			inv := 1 / ds[i]
			for p := c.Indptr[i]; p < c.Indptr[i+1]; p++ {
				jp, cp := c.Ind[p], c.Data[p]*inv
				r[jp] -= cp * rs[i]
				for q := p; q < c.Indptr[i+1]; q++ {
					raw.Data[jp*raw.Stride+c.Ind[q]] -= cp * c.Data[q]
				}
			}
		}

		var chol mat.Cholesky
		if ok := chol.Factorize(schur); !ok {
			return nil, &SingularError{Detail: "reduced normal matrix is not positive definite"}
		}
		if cond := chol.Cond(); cond > maxCondition {
			return nil, conditionError(mat.Condition(cond))
		}
		zv := mat.NewVecDense(ne, z)
		if err := chol.SolveVecTo(zv, mat.NewVecDense(ne, r)); err != nil {
			return nil, conditionError(err)
		}
	}

	x := make([]float64, ns+ne)
	for i := 0; i < ns; i++ {
		sum := rs[i]
		for p := c.Indptr[i]; p < c.Indptr[i+1]; p++ {
			sum -= c.Data[p] * z[c.Ind[p]]
		}
		x[i] = sum / ds[i]
	}
	copy(x[ns:], z)
	return x, nil
}

// Condition numbers above this indicate a rank deficient system, e.g. a
// disconnected observation graph whose last pivot is lost to rounding
const maxCondition = 1e12

// Maps gonum condition errors to singular systems, anything else to numeric failures
func conditionError(err error) error {
	var cond mat.Condition
	if errors.As(err, &cond) {
		return &SingularError{Detail: fmt.Sprintf("normal matrix is ill-conditioned (condition number %.3g)", float64(cond))}
	}
	return fmt.Errorf("%w: %s", ErrNumericFailure, err.Error())
}
