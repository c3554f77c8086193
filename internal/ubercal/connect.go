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
	"sort"

	"github.com/mlnoga/ubercal/internal/table"
	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
)

// Builds the observation graph of an indexed table. Nodes 0..NStars-1 are stars,
// nodes NStars..NStars+NExposures-1 are exposures, edges are observations.
func ObservationGraph(t *table.Table) (*simple.UndirectedGraph, error) {
	if !t.IsIndexed() {
		return nil, fmt.Errorf("%w: table has no canonical indices", ErrInvalidInput)
	}
	ns, ne := t.NStars(), t.NExposures()
	g := simple.NewUndirectedGraph()
	for i := 0; i < ns+ne; i++ {
		g.AddNode(simple.Node(int64(i)))
	}
	for k := 0; k < t.Len(); k++ {
		u, v := int64(t.StarIndex[k]), int64(ns+t.ExpIndex[k])
		if !g.HasEdgeBetween(u, v) {
			g.SetEdge(g.NewEdge(simple.Node(u), simple.Node(v)))
		}
	}
	return g, nil
}

// Checks that every star and exposure is connected to the reference exposure through
// observations. Otherwise each further component would need its own gauge fix, and
// a *SingularError describing one such component is returned.
func CheckConnected(t *table.Table, ref int) error {
	g, err := ObservationGraph(t)
	if err != nil {
		return err
	}
	ns := t.NStars()
	if ref < 0 || ref >= t.NExposures() {
		return fmt.Errorf("%w: reference exposure %d out of range [0,%d)", ErrInvalidInput, ref, t.NExposures())
	}
	comps := topo.ConnectedComponents(g)
	if len(comps) <= 1 {
		return nil
	}

	// report the component without the reference that has the lowest node id
	refID := int64(ns + ref)
	var other []graph.Node
	otherMin := int64(-1)
	for _, comp := range comps {
		min, hasRef := int64(-1), false
		for _, n := range comp {
			id := n.ID()
			if id == refID {
				hasRef = true
				break
			}
			if min < 0 || id < min {
				min = id
			}
		}
		if hasRef {
			continue
		}
		if otherMin < 0 || min < otherMin {
			other, otherMin = comp, min
		}
	}

	e := &SingularError{Reference: t.ExpKeys[ref], Components: len(comps)}
	ids := make([]int, 0, len(other))
	for _, n := range other {
		ids = append(ids, int(n.ID()))
	}
	sort.Ints(ids)
	for _, id := range ids {
		if id < ns {
			e.Stars++
		} else {
			e.Exposures = append(e.Exposures, t.ExpKeys[id-ns])
		}
	}
	return e
}
