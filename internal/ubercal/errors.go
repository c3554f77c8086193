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
	"strings"

	"github.com/mlnoga/ubercal/internal/table"
)

// Error kinds. Concrete errors wrap one of these, test with errors.Is
var (
	ErrInvalidInput   = table.ErrInvalidInput
	ErrNotReady       = errors.New("no data set")
	ErrSingular       = errors.New("singular normal equations")
	ErrNumericFailure = errors.New("numeric failure")
)

// Reports a rank-deficient reduced system. If the observation graph is disconnected,
// Exposures lists the external ids of one component that does not contain the reference.
type SingularError struct {
	Reference  string   // external id of the reference exposure
	Components int      // number of connected components, 0 if not determined
	Exposures  []string // exposures in a component without gauge fix
	Stars      int      // number of stars in that component
	Detail     string   // linear algebra diagnostic, if any
}

func (e *SingularError) Error() string {
	var sb strings.Builder
	sb.WriteString(ErrSingular.Error())
	if e.Components > 1 {
		exps := e.Exposures
		suffix := ""
		if len(exps) > 10 {
			exps, suffix = exps[:10], ", ..."
		}
		fmt.Fprintf(&sb, ": observation graph has %d components; %d stars and %d exposures [%s%s] are not connected to reference exposure %s",
			e.Components, e.Stars, len(e.Exposures), strings.Join(exps, ", "), suffix, e.Reference)
	}
	if e.Detail != "" {
		fmt.Fprintf(&sb, ": %s", e.Detail)
	}
	return sb.String()
}

func (e *SingularError) Unwrap() error { return ErrSingular }
