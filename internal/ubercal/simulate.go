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
	"strconv"

	"github.com/mlnoga/ubercal/internal/table"
	"github.com/valyala/fastrand"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
)

// Known true values behind a simulated observation table
type Truth struct {
	Mag []float64 // true magnitude per star, indexed by numeric star id
	ZP  []float64 // true zero point offset per exposure, indexed by numeric exposure id
}

// Simulates observations from a fixed sample of stars
type Simulator struct {
	TrueMag  []float64
	TrueEMag []float64
	src      rand.Source
	rng      fastrand.RNG
}

// Draws a sample of size stars with magnitudes magLim - Exp(1/3) and errors
// around 0.05 mag, from a deterministic seed
func NewSimulator(size int, magLim float64, seed uint64) *Simulator {
	s := &Simulator{
		TrueMag:  make([]float64, size),
		TrueEMag: make([]float64, size),
		src:      rand.NewSource(seed),
	}
	s.rng.Seed(seed32(seed))
	expo := distuv.Exponential{Rate: 1.0 / 3, Src: s.src}
	eDist := distuv.Normal{Mu: 0.05, Sigma: 0.005, Src: s.src}
	for i := range s.TrueMag {
		s.TrueMag[i] = magLim - expo.Rand()
		e := eDist.Rand()
		for e <= 0.001 {
			e = eDist.Rand()
		}
		s.TrueEMag[i] = e
	}
	return s
}

// Draws nExp exposures. Each observes a random subset of nStarMin to nStarMax-1 distinct
// stars, offset by a uniform zero point in [offLo, offHi), with Gaussian measurement noise.
func (s *Simulator) Draw(nExp, nStarMin, nStarMax int, offLo, offHi float64) (*table.Table, *Truth) {
	t := table.New("", "")
	truth := &Truth{Mag: append([]float64(nil), s.TrueMag...), ZP: make([]float64, nExp)}
	offsets := distuv.Uniform{Min: offLo, Max: offHi, Src: s.src}
	noise := distuv.Normal{Mu: 0, Sigma: 1, Src: s.src}
	perm := identity(len(s.TrueMag))

	if nStarMax > len(s.TrueMag)+1 {
		nStarMax = len(s.TrueMag) + 1
	}
	if nStarMin >= nStarMax {
		nStarMin = nStarMax - 1
	}
	for e := 0; e < nExp; e++ {
		n := nStarMin + int(s.rng.Uint32n(uint32(nStarMax-nStarMin)))
		zp := offsets.Rand()
		truth.ZP[e] = zp
		expID := strconv.Itoa(e)
		for _, i := range s.sample(perm, n) {
			sigma := s.TrueEMag[i]
			t.Append(strconv.Itoa(i), expID, s.TrueMag[i]+zp+sigma*noise.Rand(), sigma)
		}
	}
	return t, truth
}

// Partial Fisher-Yates shuffle, returning n distinct entries of perm
func (s *Simulator) sample(perm []int, n int) []int {
	for i := 0; i < n; i++ {
		j := i + int(s.rng.Uint32n(uint32(len(perm)-i)))
		perm[i], perm[j] = perm[j], perm[i]
	}
	return perm[:n]
}

// Folds a 64 bit seed for fastrand, which reseeds randomly from a zero state
func seed32(seed uint64) uint32 {
	if s := uint32(seed) ^ uint32(seed>>32); s != 0 {
		return s
	}
	return 1
}

func identity(n int) []int {
	perm := make([]int, n)
	for i := range perm {
		perm[i] = i
	}
	return perm
}

// Simulates nExp exposures of nStars stars, each exposure observing obsPerExp distinct
// random stars. Zero points are drawn from N(0, zpSigma), every measurement carries
// Gaussian noise noiseSigma, which is also reported as its error.
func SimulateGaussian(nStars, nExp, obsPerExp int, zpSigma, noiseSigma float64, seed uint64) (*table.Table, *Truth) {
	src := rand.NewSource(seed)
	s := &Simulator{
		TrueMag:  make([]float64, nStars),
		TrueEMag: make([]float64, nStars),
		src:      src,
	}
	s.rng.Seed(seed32(seed))
	mags := distuv.Uniform{Min: 12, Max: 20, Src: src}
	for i := range s.TrueMag {
		s.TrueMag[i] = mags.Rand()
		s.TrueEMag[i] = noiseSigma
	}
	if obsPerExp > nStars {
		obsPerExp = nStars
	}

	t := table.New("", "")
	truth := &Truth{Mag: s.TrueMag, ZP: make([]float64, nExp)}
	zps := distuv.Normal{Mu: 0, Sigma: zpSigma, Src: src}
	noise := distuv.Normal{Mu: 0, Sigma: noiseSigma, Src: src}
	perm := identity(nStars)
	for e := 0; e < nExp; e++ {
		zp := zps.Rand()
		truth.ZP[e] = zp
		expID := strconv.Itoa(e)
		for _, i := range s.sample(perm, obsPerExp) {
			t.Append(strconv.Itoa(i), expID, s.TrueMag[i]+zp+noise.Rand(), noiseSigma)
		}
	}
	return t, truth
}
