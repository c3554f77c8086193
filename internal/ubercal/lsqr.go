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
	"gonum.org/v1/gonum/floats"
)

const (
	defaultLSQRTol     = 1e-10
	minLSQRIterations  = 100
	lsqrIterPerUnknown = 10
)

// Solves the weighted problem as ordinary least squares on (sqrt(W) A, sqrt(W) b)
// with the LSQR algorithm of Paige and Saunders.
func solveLSQR(s *System, maxIter int, tol float64) ([]float64, error) {
	sqrtW := make([]float64, len(s.W))
	for k, w := range s.W {
		sqrtW[k] = math.Sqrt(w)
	}
	a := s.A.ScaleRows(sqrtW)
	b := sparse.Diag(sqrtW).MulVec(nil, s.B)

	if tol <= 0 {
		tol = defaultLSQRTol
	}
	if maxIter <= 0 {
		maxIter = lsqrIterPerUnknown * a.Cols
		if maxIter < minLSQRIterations {
			maxIter = minLSQRIterations
		}
	}
	x, _, err := lsqr(a, b, maxIter, tol, tol)
	return x, err
}

// Diagnostics of an LSQR run
type lsqrResult struct {
	Iterations int
	RNorm      float64 // ||b - A x||
	ARNorm     float64 // ||A^T (b - A x)||
	ANorm      float64 // Frobenius norm estimate of A
}

// Minimizes ||A x - b||_2. Stops when the residual is small relative to b (btol), or when
// the normal equations residual is small relative to ||A|| ||r|| (atol).
func lsqr(a *sparse.CSR, b []float64, maxIter int, atol, btol float64) (x []float64, res lsqrResult, err error) {
	m, n := a.Dims()
	x = make([]float64, n)

	u := append([]float64(nil), b...)
	beta := floats.Norm(u, 2)
	if beta == 0 {
		return x, res, nil
	}
	bnorm := beta
	floats.Scale(1/beta, u)

	v := a.MulTransVec(nil, u)
	alpha := floats.Norm(v, 2)
	if alpha == 0 {
		res.RNorm = beta
		return x, res, nil // b is orthogonal to the range of A, x=0 is optimal
	}
	floats.Scale(1/alpha, v)
	w := append([]float64(nil), v...)

	phibar, rhobar := beta, alpha
	anormSq := 0.0
	av := make([]float64, m)
	atu := make([]float64, n)

	for itn := 1; itn <= maxIter; itn++ {
		// bidiagonalization step
		a.MulVec(av, v)
		floats.AddScaled(av, -alpha, u)
		u, av = av, u
		beta = floats.Norm(u, 2)
		anormSq += alpha*alpha + beta*beta
		if beta > 0 {
			floats.Scale(1/beta, u)
			a.MulTransVec(atu, u)
			floats.AddScaled(atu, -beta, v)
			v, atu = atu, v
			alpha = floats.Norm(v, 2)
			if alpha > 0 {
				floats.Scale(1/alpha, v)
			}
		}

		// plane rotation eliminating the subdiagonal
		rho := math.Hypot(rhobar, beta)
		c, sn := rhobar/rho, beta/rho
		theta := sn * alpha
		rhobar = -c * alpha
		phi := c * phibar
		phibar = sn * phibar

		// update x and search direction
		floats.AddScaled(x, phi/rho, w)
		for i := range w {
			w[i] = v[i] - theta/rho*w[i]
		}

		res = lsqrResult{
			Iterations: itn,
			RNorm:      phibar,
			ARNorm:     alpha * math.Abs(c*phibar),
			ANorm:      math.Sqrt(anormSq),
		}
		if isNaN(res.RNorm) || isNaN(res.ARNorm) {
			return nil, res, fmt.Errorf("%w: lsqr breakdown at iteration %d", ErrNumericFailure, itn)
		}
		xnorm := floats.Norm(x, 2)
		if res.RNorm <= btol*bnorm+atol*res.ANorm*xnorm {
			return x, res, nil // compatible system solved
		}
		if res.RNorm == 0 || res.ARNorm <= atol*res.ANorm*res.RNorm {
			return x, res, nil // least squares solution found
		}
	}
	return nil, res, fmt.Errorf("%w: lsqr did not converge after %d iterations, |r|=%.3g |A^T r|=%.3g",
		ErrNumericFailure, maxIter, res.RNorm, res.ARNorm)
}

func isNaN(f float64) bool { return math.IsNaN(f) || math.IsInf(f, 0) }
