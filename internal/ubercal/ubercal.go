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

// Package ubercal performs global photometric self-calibration. Given repeated
// magnitude measurements of many stars in many exposures, it jointly fits one
// magnitude per star and one zero point per exposure by weighted linear least
// squares, with one reference exposure pinned to zero.
package ubercal

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/mlnoga/ubercal/internal/table"
)

// Calibration settings
type Options struct {
	MinExp            *int    `json:"minExp"`            // minimum observations per star, nil=no pruning
	StarID            string  `json:"starID"`            // star identifier column name
	ExpID             string  `json:"expID"`             // exposure identifier column name
	Method            Method  `json:"method"`            // default solver method
	MaxIter           int     `json:"maxIter"`           // lsqr iteration limit, 0=automatic
	Tol               float64 `json:"tol"`               // lsqr relative tolerance, 0=default
	MemoryMB          int     `json:"memoryMB"`          // memory limit for dense factorizations, 0=DefaultMemoryMB
	CheckConnectivity bool    `json:"checkConnectivity"` // test the observation graph before solving
}

func DefaultOptions() Options {
	return Options{
		MinExp:            table.IntPtr(table.DefaultMinExp),
		StarID:            table.DefaultStarCol,
		ExpID:             table.DefaultExpCol,
		Method:            MethodCholesky,
		MemoryMB:          DefaultMemoryMB(),
		CheckConnectivity: true,
	}
}

// Unmarshal options from JSON with default values for missing entries.
// An explicit null for minExp disables pruning.
func (o *Options) UnmarshalJSON(data []byte) error {
	type defaults Options
	def := defaults(DefaultOptions())
	if err := json.Unmarshal(data, &def); err != nil {
		return err
	}
	*o = Options(def)
	return nil
}

func (o Options) settings() SolveSettings {
	return SolveSettings{MaxIter: o.MaxIter, Tol: o.Tol, MemoryMB: o.MemoryMB}
}

// Calibration state: shaped observation data and settings. Not safe for concurrent
// use; SetData followed by Solve must run sequentially.
type Ubercal struct {
	Options
	Log  io.Writer
	data *table.Table
}

// Creates a calibration without data. A nil log discards progress output
func New(opts Options, log io.Writer) *Ubercal {
	if log == nil {
		log = io.Discard
	}
	return &Ubercal{Options: opts, Log: log}
}

// Creates a calibration from an observation table, pruning and indexing it
func FromTable(t *table.Table, opts Options, log io.Writer) (*Ubercal, error) {
	u := New(opts, log)
	if err := u.SetData(t); err != nil {
		return nil, err
	}
	return u, nil
}

// Creates a calibration from a mapping of exposure id to observations
func FromExposureDict(d table.ExposureDict, opts Options, log io.Writer) (*Ubercal, error) {
	t, err := table.FromExposureDict(d, opts.StarID, opts.ExpID)
	if err != nil {
		return nil, err
	}
	return FromTable(t, opts, log)
}

// Sets the observation data. Rows of under-observed stars are dropped, and stars and
// exposures are numbered canonically. The given table is not modified.
func (u *Ubercal) SetData(t *table.Table) error {
	shaped, err := table.Shape(t, u.MinExp)
	if err != nil {
		return err
	}
	if u.MinExp != nil && shaped.Len() < t.Len() {
		fmt.Fprintf(u.Log, "Dropped %d of %d observations of stars seen fewer than %d times.\n",
			t.Len()-shaped.Len(), t.Len(), *u.MinExp)
	}
	u.data = shaped
	return nil
}

// The shaped observation table, or nil if no data was set
func (u *Ubercal) Data() *table.Table { return u.data }

// True if data has been set
func (u *Ubercal) HasData() bool { return u.data != nil }

func (u *Ubercal) NStars() int {
	if u.data == nil {
		return 0
	}
	return u.data.NStars()
}

func (u *Ubercal) NExposures() int {
	if u.data == nil {
		return 0
	}
	return u.data.NExposures()
}

func (u *Ubercal) NObservations() int {
	if u.data == nil {
		return 0
	}
	return u.data.Len()
}

// Canonical index of the exposure with the given external id
func (u *Ubercal) ExposureIndex(expID string) (int, error) {
	if u.data == nil {
		return 0, ErrNotReady
	}
	for i, k := range u.data.ExpKeys {
		if k == expID {
			return i, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown exposure %q", ErrInvalidInput, expID)
}

// Builds the gauge-fixed system for the given reference exposure, in canonical numbering.
// If enabled, checks connectivity of the observation graph first.
func (u *Ubercal) BuildSystem(ref int) (*System, error) {
	return u.buildSystem(ref, u.CheckConnectivity)
}

func (u *Ubercal) buildSystem(ref int, checkConnected bool) (*System, error) {
	if u.data == nil {
		return nil, ErrNotReady
	}
	if ref < 0 || ref >= u.data.NExposures() {
		return nil, fmt.Errorf("%w: reference exposure %d out of range [0,%d)", ErrInvalidInput, ref, u.data.NExposures())
	}
	if checkConnected {
		if err := CheckConnected(u.data, ref); err != nil {
			return nil, err
		}
	}
	return NewSystem(u.data, ref)
}

// Solves for star magnitudes and exposure zero points with the given reference exposure.
// Returns the gauge-fixed vector of NStars magnitudes followed by the zero points of all
// exposures except the reference, in canonical order.
func (u *Ubercal) Solve(ref int, method Method) ([]float64, error) {
	if u.data == nil {
		return nil, ErrNotReady
	}
	if !method.valid() {
		return nil, fmt.Errorf("%w: unknown method %d", ErrInvalidInput, int(method))
	}
	start := time.Now()
	// lsqr converges to a minimum norm solution on rank deficient systems instead of
	// failing, so it always needs the connectivity check
	sys, err := u.buildSystem(ref, u.CheckConnectivity || method == MethodLSQR)
	if err != nil {
		return nil, u.describe(err, ref)
	}
	fmt.Fprintf(u.Log, "Solving %d observations of %d stars in %d exposures with %s, reference exposure %s...\n",
		sys.A.Rows, sys.NStars, sys.NExposures, method, u.data.ExpKeys[ref])
	x, err := sys.Solve(method, u.settings())
	if err != nil {
		return nil, u.describe(err, ref)
	}
	fmt.Fprintf(u.Log, "Solved %d parameters in %v, chi2=%.6g\n", len(x), time.Since(start), sys.Chi2(x))
	return x, nil
}

// Solves and attaches fitted magnitudes, zero points and residuals to a copy of the
// shaped observation table
func (u *Ubercal) SolveAndFormat(ref int, method Method) (*table.Table, error) {
	x, err := u.Solve(ref, method)
	if err != nil {
		return nil, err
	}
	return Format(u.data, InsertReference(x, u.data.NStars(), ref))
}

// Fills in the reference exposure id on singular errors from the solvers
func (u *Ubercal) describe(err error, ref int) error {
	if se, ok := err.(*SingularError); ok && se.Reference == "" {
		se.Reference = u.data.ExpKeys[ref]
	}
	return err
}
