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

package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/cpuid"
	"github.com/pbnjay/memory"

	nl "github.com/mlnoga/ubercal/internal"
	"github.com/mlnoga/ubercal/internal/ops"
	"github.com/mlnoga/ubercal/internal/rest"
	"github.com/mlnoga/ubercal/internal/table"
	"github.com/mlnoga/ubercal/internal/ubercal"
)

const version = "0.1.0"

var totalMiBs = memory.TotalMemory() / 1024 / 1024

var cpuprofile = flag.String("cpuprofile", "", "write cpu profile to `file`")
var memprofile = flag.String("memprofile", "", "write memory profile to `file`")

var out = flag.String("out", "out.csv", "save output to `file`")
var log = flag.String("log", "%auto", "save log output to `file`. `%auto` replaces suffix of output file with .log")

var starID = flag.String("starid", table.DefaultStarCol, "name of the star identifier column")
var expID = flag.String("expid", table.DefaultExpCol, "name of the exposure identifier column")
var minExp = flag.Int("minExp", table.DefaultMinExp, "drop stars observed fewer than this many times, 0=keep all")

var method = flag.String("method", "cholesky", "solver method, one of cholesky, lsqr, spsolve")
var ref = flag.String("ref", "", "external id of the reference exposure whose zero point is pinned to 0, blank: first exposure")
var refIndex = flag.Int("refIndex", 0, "canonical index of the reference exposure, if -ref is blank")
var maxIter = flag.Int("maxIter", 0, "lsqr iteration limit, 0=automatic")
var tol = flag.Float64("tol", 0, "lsqr relative tolerance, 0=default")
var solveMemory = flag.Int64("memory", int64((totalMiBs*7)/10), "MiB of memory dense factorizations may use, default=0.7x physical memory")
var noConnect = flag.Bool("noConnect", false, "skip the observation graph connectivity check")
var threads = flag.Int("threads", runtime.GOMAXPROCS(0), "number of files to load in parallel")

var simStars = flag.Int("simStars", 2000, "simulate: number of stars")
var simExp = flag.Int("simExp", 40, "simulate: number of exposures")
var simObs = flag.Int("simObs", 500, "simulate: observations per exposure, gaussian mode")
var simZP = flag.Float64("simZP", 0.1, "simulate: standard deviation of exposure zero points, gaussian mode")
var simNoise = flag.Float64("simNoise", 0.01, "simulate: measurement noise in mag, gaussian mode")
var simMagLim = flag.Float64("simMagLim", 18, "simulate: limiting magnitude, survey mode")
var simMin = flag.Int("simMin", 200, "simulate: minimum stars per exposure, survey mode")
var simMax = flag.Int("simMax", 1000, "simulate: maximum stars per exposure, survey mode")
var simOffset = flag.Float64("simOffset", 0.5, "simulate: zero points are uniform in [-simOffset, simOffset), survey mode")
var simMode = flag.String("simMode", "gaussian", "simulate: gaussian for normal zero points and uniform stars, survey for exponential star counts")
var seed = flag.Uint64("seed", 1, "simulate: random seed")

var addr = flag.String("addr", ":8080", "serve: listen address")
var chroot = flag.String("chroot", "", "serve: change filesystem root to this directory before serving (requires root)")
var setuid = flag.Int("setuid", -1, "serve: change user id to this value before serving, -1=keep")

func main() {
	logWriter := nl.LogWriter()
	start := time.Now()
	flag.Usage = func() {
		fmt.Fprintf(os.Stdout, `Ubercal Copyright (c) 2020 Markus L. Noga
This program comes with ABSOLUTELY NO WARRANTY.
This is free software, and you are welcome to redistribute it under certain conditions.
Refer to https://www.gnu.org/licenses/gpl-3.0.en.html for details.

Usage: %s [-flag value] (solve|chi2|run|simulate|serve|legal|version) (obs0.csv ... obsn.csv | pipeline.json)

Commands:
  solve    Calibrate star magnitudes and exposure zero points from the given observation files
  chi2     Calibrate, then report the chi2 of each exposure
  run      Execute operator pipelines from the given JSON files
  simulate Write a simulated observation table
  serve    Serve the REST API
  legal    Show license and attribution information
  version  Show version information

Input files are CSV with columns for star id, exposure id, mag and e_mag, or JSON
dictionaries mapping exposure ids to columns of observations. Both may be gzipped.

Flags:
`, os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	// Initialize logging to file in addition to stdout, if selected
	if *log == "%auto" {
		if *out != "" {
			*log = strings.TrimSuffix(*out, filepath.Ext(*out)) + ".log"
		} else {
			*log = ""
		}
	}

	args := flag.Args()
	if len(args) < 1 {
		flag.Usage()
		return
	}
	if args[0] == "solve" || args[0] == "chi2" || args[0] == "run" || args[0] == "simulate" {
		if *log != "" {
			if err := nl.LogAlsoToFile(*log); err != nil {
				nl.LogFatalf("Unable to open logfile '%s'\n", *log)
			}
		}
	}

	// Enable CPU profiling if flagged
	if *cpuprofile != "" {
		f, err := os.Create(*cpuprofile)
		if err != nil {
			nl.LogFatal("Could not create CPU profile: ", err)
		}
		defer f.Close()
		if err := pprof.StartCPUProfile(f); err != nil {
			nl.LogFatal("Could not start CPU profile: ", err)
		}
		defer pprof.StopCPUProfile()
	}

	// run actions
	var err error
	switch args[0] {
	case "solve":
		err = cmdSolve(args[1:], false, logWriter)

	case "chi2":
		err = cmdSolve(args[1:], true, logWriter)

	case "run":
		err = cmdRun(args[1:], logWriter)

	case "simulate":
		err = cmdSimulate(logWriter)

	case "serve":
		if err = rest.MakeSandbox(logWriter, *chroot, *setuid); err == nil {
			err = rest.Serve(*addr)
		}

	case "legal":
		cmdLegal()

	case "version":
		cmdVersion(logWriter)

	case "help", "?":
		flag.Usage()

	default:
		fmt.Fprintf(logWriter, "Unknown command '%s'\n\n", args[0])
		flag.Usage()
		return
	}

	elapsed := time.Since(start)
	fmt.Fprintf(logWriter, "\nDone after %v\n", elapsed)

	// Store memory profile if flagged
	if *memprofile != "" {
		f, err := os.Create(*memprofile)
		if err != nil {
			nl.LogFatal("Could not create memory profile: ", err)
		}
		defer f.Close()
		runtime.GC() // get up-to-date statistics
		if err := pprof.Lookup("allocs").WriteTo(f, 0); err != nil {
			nl.LogFatal("Could not write allocation profile: ", err)
		}
	}

	if err != nil {
		pprof.StopCPUProfile()
		nl.LogFatalf("Error: %s\n", err.Error())
	}
	nl.LogSync()
}

// Parses calibration flags into options
func options() (ubercal.Options, error) {
	m, err := ubercal.ParseMethod(*method)
	if err != nil {
		return ubercal.Options{}, err
	}
	opts := ubercal.DefaultOptions()
	opts.MinExp = nil
	if *minExp > 0 {
		opts.MinExp = table.IntPtr(*minExp)
	}
	opts.StarID, opts.ExpID = *starID, *expID
	opts.Method = m
	opts.MaxIter, opts.Tol = *maxIter, *tol
	opts.MemoryMB = int(*solveMemory)
	opts.CheckConnectivity = !*noConnect
	return opts, nil
}

// Calibrates the given observation files and saves the result
func cmdSolve(patterns []string, chi2 bool, logWriter io.Writer) error {
	if len(patterns) == 0 {
		return fmt.Errorf("no input files given")
	}
	opts, err := options()
	if err != nil {
		return err
	}
	c := ops.NewContext(logWriter)
	c.MaxThreads = *threads
	fmt.Fprintf(logWriter, "Using %d threads on %s with %d MiB of memory\n", c.MaxThreads, cpuid.CPU.BrandName, c.MemoryMB)

	opLoad := ops.NewOpLoadMany(patterns)
	opLoad.StarID, opLoad.ExpID = *starID, *expID
	opCalibrate := ops.NewOpCalibrate(opts, *ref, *refIndex)
	seq := ops.NewOpSequence(opLoad, opCalibrate)
	if chi2 {
		seq.Append(ops.NewOpChi2())
	}
	seq.Append(ops.NewOpSave(*out))

	m, err := json.MarshalIndent(seq, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintf(logWriter, "\nCalibrating with these settings:\n%s\n", string(m))

	ts, err := ops.Run(seq, c)
	if err != nil {
		return err
	}
	if chi2 {
		for _, t := range ts {
			printChi2(t, logWriter)
		}
	}
	return nil
}

// Executes operator pipelines read from JSON files, one after the other
func cmdRun(fileNames []string, logWriter io.Writer) error {
	if len(fileNames) == 0 {
		return fmt.Errorf("no pipeline files given")
	}
	c := ops.NewContext(logWriter)
	c.MaxThreads = *threads
	for _, fileName := range fileNames {
		raw, err := os.ReadFile(fileName)
		if err != nil {
			return err
		}
		op, err := ops.UnmarshalOperator(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", fileName, err)
		}
		fmt.Fprintf(logWriter, "Running %s pipeline from %s\n", op.GetType(), fileName)
		if _, err := ops.Run(op, c); err != nil {
			return fmt.Errorf("%s: %w", fileName, err)
		}
	}
	return nil
}

// Prints the per-exposure chi2 of a calibrated table, worst first
func printChi2(t *table.Table, logWriter io.Writer) {
	chi2, err := ubercal.Chi2ByExposure(t)
	if err != nil {
		fmt.Fprintf(logWriter, "Error computing chi2: %s\n", err.Error())
		return
	}
	order := make([]int, len(chi2))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool { return chi2[order[i]] > chi2[order[j]] })
	fmt.Fprintf(logWriter, "\n%-20s %12s %12s\n", "exposure", "zero point", "chi2")
	zp := make([]float64, len(chi2))
	for k, e := range t.ExpIndex {
		zp[e] = t.FittedZP[k]
	}
	for _, e := range order {
		fmt.Fprintf(logWriter, "%-20s %12.6f %12.4g\n", t.ExpKeys[e], zp[e], chi2[e])
	}
}

// Writes a simulated observation table, and logs the true zero points
func cmdSimulate(logWriter io.Writer) error {
	if *out == "" {
		return fmt.Errorf("no output file given")
	}
	var t *table.Table
	var truth *ubercal.Truth
	switch *simMode {
	case "gaussian":
		t, truth = ubercal.SimulateGaussian(*simStars, *simExp, *simObs, *simZP, *simNoise, *seed)
	case "survey":
		s := ubercal.NewSimulator(*simStars, *simMagLim, *seed)
		t, truth = s.Draw(*simExp, *simMin, *simMax, -*simOffset, *simOffset)
	default:
		return fmt.Errorf("unknown simulation mode '%s'", *simMode)
	}
	fmt.Fprintf(logWriter, "Simulated %d observations of %d stars in %d exposures\n", t.Len(), len(truth.Mag), len(truth.ZP))
	for e, zp := range truth.ZP {
		fmt.Fprintf(logWriter, "exposure %d true zero point %.6f\n", e, zp)
	}
	fmt.Fprintf(logWriter, "Writing to %s\n", *out)
	return t.WriteFile(*out)
}

// Shows version and platform information
func cmdVersion(logWriter io.Writer) {
	fmt.Fprintf(logWriter, "Version %s\n", version)
	fmt.Fprintf(logWriter, "Running on %s with %d physical cores, %d logical cores, AVX2=%v, %d MiB of memory\n",
		cpuid.CPU.BrandName, cpuid.CPU.PhysicalCores, cpuid.CPU.LogicalCores, cpuid.CPU.AVX2(), totalMiBs)
}
