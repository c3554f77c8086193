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

	"github.com/mlnoga/ubercal/internal/qsort"
	"github.com/mlnoga/ubercal/internal/table"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Returns a copy of the indexed table with fitted magnitudes, zero points and residuals
// attached. x holds one value per star followed by one zero point per exposure.
func Format(t *table.Table, x []float64) (*table.Table, error) {
	if !t.IsIndexed() {
		return nil, fmt.Errorf("%w: table has no canonical indices", ErrInvalidInput)
	}
	ns, ne := t.NStars(), t.NExposures()
	if len(x) != ns+ne {
		return nil, fmt.Errorf("%w: solution has length %d, want %d stars + %d exposures", ErrInvalidInput, len(x), ns, ne)
	}
	res := t.Copy()
	n := t.Len()
	res.FittedMag = make([]float64, n)
	res.FittedZP = make([]float64, n)
	res.Residual = make([]float64, n)
	res.Chi2Exp = nil
	for k := 0; k < n; k++ {
		res.FittedMag[k] = x[t.StarIndex[k]]
		res.FittedZP[k] = x[ns+t.ExpIndex[k]]
		res.Residual[k] = t.Mag[k] - res.FittedMag[k] - res.FittedZP[k]
	}
	return res, nil
}

// Mean squared pull (residual/e_mag)^2 per canonical exposure of a formatted table
func Chi2ByExposure(t *table.Table) ([]float64, error) {
	if !t.IsIndexed() || t.Residual == nil {
		return nil, fmt.Errorf("%w: table has no residuals", ErrInvalidInput)
	}
	sums := make([]float64, t.NExposures())
	counts := make([]int, t.NExposures())
	for k, r := range t.Residual {
		pull := r / t.EMag[k]
		e := t.ExpIndex[k]
		sums[e] += pull * pull
		counts[e]++
	}
	for e := range sums {
		if counts[e] > 0 {
			sums[e] /= float64(counts[e])
		} else {
			sums[e] = math.NaN()
		}
	}
	return sums, nil
}

// Returns a copy of a formatted table with the per-exposure chi2 attached to each row
func WithChi2(t *table.Table) (*table.Table, error) {
	chi2, err := Chi2ByExposure(t)
	if err != nil {
		return nil, err
	}
	res := t.Copy()
	res.Chi2Exp = make([]float64, t.Len())
	for k, e := range t.ExpIndex {
		res.Chi2Exp[k] = chi2[e]
	}
	return res, nil
}

// Fit quality summary of a formatted table
type Summary struct {
	Observations  int     `json:"observations"`
	Stars         int     `json:"stars"`
	Exposures     int     `json:"exposures"`
	Chi2          float64 `json:"chi2"`
	DoF           int     `json:"dof"`
	ReducedChi2   float64 `json:"reducedChi2"`
	ResidualRMS   float64 `json:"residualRMS"`
	ResidualStd   float64 `json:"residualStd"`   // weighted standard deviation
	MedianAbsPull float64 `json:"medianAbsPull"` // median of |residual/e_mag|, robust against outliers
}

func (s Summary) String() string {
	return fmt.Sprintf("%d observations of %d stars in %d exposures, chi2=%.6g dof=%d chi2/dof=%.4g rms=%.4g std=%.4g median|pull|=%.4g",
		s.Observations, s.Stars, s.Exposures, s.Chi2, s.DoF, s.ReducedChi2, s.ResidualRMS, s.ResidualStd, s.MedianAbsPull)
}

// Summarizes the residuals of a formatted table
func Summarize(t *table.Table) (Summary, error) {
	if !t.IsIndexed() || t.Residual == nil {
		return Summary{}, fmt.Errorf("%w: table has no residuals", ErrInvalidInput)
	}
	s := Summary{
		Observations: t.Len(),
		Stars:        t.NStars(),
		Exposures:    t.NExposures(),
		DoF:          t.Len() - (t.NStars() + t.NExposures() - 1),
	}
	weights := make([]float64, t.Len())
	pulls := make([]float64, t.Len())
	for k, r := range t.Residual {
		weights[k] = 1 / (t.EMag[k] * t.EMag[k])
		s.Chi2 += r * r * weights[k]
		pulls[k] = math.Abs(r / t.EMag[k])
	}
	s.MedianAbsPull = qsort.QSelectMedianFloat64(pulls)
	if s.DoF > 0 {
		s.ReducedChi2 = s.Chi2 / float64(s.DoF)
	}
	if t.Len() > 0 {
		s.ResidualRMS = floats.Norm(t.Residual, 2) / math.Sqrt(float64(t.Len()))
	}
	if t.Len() > 1 {
		s.ResidualStd = stat.StdDev(t.Residual, weights)
	}
	return s, nil
}
