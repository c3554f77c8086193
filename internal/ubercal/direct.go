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

	"github.com/pbnjay/memory"
	"gonum.org/v1/gonum/mat"
)

// Bytes needed per element of a dense n x n factorization: the matrix itself
// plus its factors
const directBytesPerElement = 2 * 8

// Estimated memory in MiB for a dense factorization with n unknowns
func DirectMemoryMB(n int) int {
	return int((int64(n)*int64(n)*directBytesPerElement + (1<<20 - 1)) >> 20)
}

// Default memory limit for dense factorizations: 70% of physical memory
func DefaultMemoryMB() int {
	return int(memory.TotalMemory() / 1024 / 1024 * 7 / 10)
}

// Fails with a numeric failure if a dense factorization of n unknowns exceeds the
// memory limit. A limit of 0 or less selects DefaultMemoryMB, unless physical
// memory is unknown on this platform.
func checkDenseMemory(what string, n, memoryMB int) error {
	if memoryMB <= 0 {
		if memoryMB = DefaultMemoryMB(); memoryMB <= 0 {
			return nil
		}
	}
	if need := DirectMemoryMB(n); need > memoryMB {
		return fmt.Errorf("%w: %s of %d unknowns needs %d MiB, limit is %d MiB",
			ErrNumericFailure, what, n, need, memoryMB)
	}
	return nil
}

// Solves the normal equations by assembling A^T W A and factorizing it with a
// general LU decomposition with partial pivoting. Makes no use of structure.
func solveDirect(s *System, memoryMB int) ([]float64, error) {
	n := s.A.Cols
	if err := checkDenseMemory("direct solve", n, memoryMB); err != nil {
		return nil, fmt.Errorf("%w; use cholesky or lsqr", err)
	}

	normal := s.A.NormalDense(s.W)
	rhs := s.A.MulTransVec(nil, s.W.MulVec(nil, s.B))

	var lu mat.LU
	lu.Factorize(normal)
	if cond := lu.Cond(); cond > maxCondition {
		return nil, conditionError(mat.Condition(cond))
	}

	x := make([]float64, n)
	if err := lu.SolveVecTo(mat.NewVecDense(n, x), false, mat.NewVecDense(n, rhs)); err != nil {
		return nil, conditionError(err)
	}
	return x, nil
}
