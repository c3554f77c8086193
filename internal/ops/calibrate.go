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
	"encoding/json"
	"fmt"

	"github.com/mlnoga/ubercal/internal/table"
	"github.com/mlnoga/ubercal/internal/ubercal"
)

// Calibrates an observation table: prunes and indexes it, solves for star magnitudes
// and exposure zero points, and attaches the fit. Takes n inputs, produces n outputs
type OpCalibrate struct {
	OpUnaryBase
	Options   ubercal.Options `json:"options"`
	Reference string          `json:"reference"` // external id of the reference exposure, ""=use RefIndex
	RefIndex  int             `json:"refIndex"`  // canonical index of the reference exposure
	Chi2      bool            `json:"chi2"`      // also attach per-exposure chi2
}

func init() { SetOperatorFactory(func() Operator { return NewOpCalibrateDefault() }) } // register the operator for JSON decoding

func NewOpCalibrateDefault() *OpCalibrate { return NewOpCalibrate(ubercal.DefaultOptions(), "", 0) }

func NewOpCalibrate(opts ubercal.Options, reference string, refIndex int) *OpCalibrate {
	op := &OpCalibrate{
		OpUnaryBase: OpUnaryBase{OpBase: OpBase{Type: "calibrate", Active: true}},
		Options:     opts,
		Reference:   reference,
		RefIndex:    refIndex,
	}
	op.OpUnaryBase.Apply = op.Apply // assign class method to superclass abstract method
	return op
}

// Unmarshal the type from JSON with default values for missing entries
func (op *OpCalibrate) UnmarshalJSON(data []byte) error {
	type defaults OpCalibrate
	def := defaults(*NewOpCalibrateDefault())
	if err := json.Unmarshal(data, &def); err != nil {
		return err
	}
	*op = OpCalibrate(def)
	op.OpUnaryBase.Apply = op.Apply // make method receiver point to op, not def
	return nil
}

func (op *OpCalibrate) Apply(t *table.Table, c *Context) (result *table.Table, err error) {
	opts := op.Options
	if opts.MemoryMB == 0 {
		opts.MemoryMB = c.SolveMemoryMB
	}
	if t.StarCol != "" {
		opts.StarID = t.StarCol
	}
	if t.ExpCol != "" {
		opts.ExpID = t.ExpCol
	}

	u, err := ubercal.FromTable(t, opts, c.Log)
	if err != nil {
		return nil, err
	}
	ref := op.RefIndex
	if op.Reference != "" {
		if ref, err = u.ExposureIndex(op.Reference); err != nil {
			return nil, err
		}
	}

	result, err = u.SolveAndFormat(ref, opts.Method)
	if err != nil {
		return nil, err
	}
	if op.Chi2 {
		if result, err = ubercal.WithChi2(result); err != nil {
			return nil, err
		}
	}
	summary, err := ubercal.Summarize(result)
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(c.Log, "Calibrated %s\n", summary)
	return result, nil
}

// Attaches the per-exposure chi2 of an already calibrated table. Takes n inputs, produces n outputs
type OpChi2 struct {
	OpUnaryBase
}

func init() { SetOperatorFactory(func() Operator { return NewOpChi2() }) } // register the operator for JSON decoding

func NewOpChi2() *OpChi2 {
	op := &OpChi2{OpUnaryBase: OpUnaryBase{OpBase: OpBase{Type: "chi2", Active: true}}}
	op.OpUnaryBase.Apply = op.Apply // assign class method to superclass abstract method
	return op
}

func (op *OpChi2) UnmarshalJSON(data []byte) error {
	if err := json.Unmarshal(data, &op.OpBase); err != nil {
		return err
	}
	op.OpUnaryBase.Apply = op.Apply
	return nil
}

func (op *OpChi2) Apply(t *table.Table, c *Context) (result *table.Table, err error) {
	if t.Residual == nil || !t.IsIndexed() {
		return nil, fmt.Errorf("%w: %s operator needs a calibrated table", table.ErrInvalidInput, op.Type)
	}
	result, err = ubercal.WithChi2(t)
	if err != nil {
		return nil, err
	}
	worst, worstChi2 := -1, 0.0
	chi2, _ := ubercal.Chi2ByExposure(t)
	for e, v := range chi2 {
		if v > worstChi2 {
			worst, worstChi2 = e, v
		}
	}
	if worst >= 0 {
		fmt.Fprintf(c.Log, "Computed chi2 for %d exposures, worst is %s with %.4g\n", len(chi2), t.ExpKeys[worst], worstChi2)
	}
	return result, nil
}
