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
	"strings"
)

// Method for solving the normal equations
type Method int

const (
	MethodCholesky Method = iota // Cholesky factorization, eliminating the star block first (default)
	MethodLSQR                   // Iterative least squares on the weighted design matrix
	MethodSpsolve                // Direct LU of the assembled normal matrix (fallback, slowest)
)

var methodNames = [...]string{"cholesky", "lsqr", "spsolve"}

func (m Method) String() string {
	if m < 0 || int(m) >= len(methodNames) {
		return fmt.Sprintf("Method(%d)", int(m))
	}
	return methodNames[m]
}

// Parses a method name. Accepts "cholmod" as an alias for cholesky
func ParseMethod(s string) (Method, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" || s == "cholmod" {
		return MethodCholesky, nil
	}
	for i, name := range methodNames {
		if s == name {
			return Method(i), nil
		}
	}
	return 0, fmt.Errorf("%w: unknown method %q, want one of %s", ErrInvalidInput, s, strings.Join(methodNames[:], ", "))
}

func (m Method) valid() bool { return m >= 0 && int(m) < len(methodNames) }

func (m Method) MarshalText() ([]byte, error) {
	if !m.valid() {
		return nil, fmt.Errorf("%w: unknown method %d", ErrInvalidInput, int(m))
	}
	return []byte(m.String()), nil
}

func (m *Method) UnmarshalText(text []byte) error {
	parsed, err := ParseMethod(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
