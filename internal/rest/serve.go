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

package rest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mlnoga/ubercal/internal/ops"
	"github.com/mlnoga/ubercal/internal/table"
	"github.com/mlnoga/ubercal/internal/ubercal"
)

// Listens and serves the API on the given address, e.g. ":8080"
func Serve(addr string) error {
	return NewRouter().Run(addr)
}

func NewRouter() *gin.Engine {
	r := gin.Default()
	api := r.Group("/api")
	{
		v1 := api.Group("/v1")
		{
			v1.GET("/ping", getPing)
			v1.POST("/solve", postSolve)
			v1.POST("/calibrate", postCalibrate)
		}
	}
	return r
}

func getPing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message": "pong",
	})
}

func printArgs(logWriter io.Writer, prefix, suffix string, args interface{}) error {
	m, err := json.MarshalIndent(args, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintf(logWriter, "%s%s%s", prefix, string(m), suffix)
	return nil
}

// HTTP status for a calibration error
func statusOf(err error) int {
	switch {
	case errors.Is(err, ubercal.ErrInvalidInput), errors.Is(err, ubercal.ErrNotReady):
		return http.StatusBadRequest
	case errors.Is(err, ubercal.ErrSingular), errors.Is(err, ubercal.ErrNumericFailure):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

// Upper bound for the memory a single solve request may use for dense factorizations
var solveMemoryMB = ubercal.DefaultMemoryMB()

type postSolveArgs struct {
	Options   ubercal.Options `json:"options"`
	Reference string          `json:"reference"` // external id of the reference exposure, ""=use RefIndex
	RefIndex  int             `json:"refIndex"`
	Exposures json.RawMessage `json:"exposures"` // mapping from exposure id to observation columns
}

type postSolveResult struct {
	Summary    ubercal.Summary    `json:"summary"`
	Reference  string             `json:"reference"`
	Magnitudes map[string]float64 `json:"magnitudes"`
	ZeroPoints map[string]float64 `json:"zeroPoints"`
	Chi2       map[string]float64 `json:"chi2"`
}

// Calibrates an inline exposure dictionary and returns the fit as JSON
func postSolve(c *gin.Context) {
	args := postSolveArgs{Options: ubercal.DefaultOptions()}
	if err := c.ShouldBindJSON(&args); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if args.Options.MemoryMB <= 0 || args.Options.MemoryMB > solveMemoryMB {
		args.Options.MemoryMB = solveMemoryMB
	}
	d, err := table.DecodeExposureDict(bytes.NewReader(args.Exposures), args.Options.StarID)
	if err != nil {
		c.JSON(statusOf(err), gin.H{"error": err.Error()})
		return
	}

	var log bytes.Buffer
	u, err := ubercal.FromExposureDict(d, args.Options, &log)
	if err != nil {
		c.JSON(statusOf(err), gin.H{"error": err.Error()})
		return
	}
	ref := args.RefIndex
	if args.Reference != "" {
		if ref, err = u.ExposureIndex(args.Reference); err != nil {
			c.JSON(statusOf(err), gin.H{"error": err.Error()})
			return
		}
	}
	res, err := u.SolveAndFormat(ref, args.Options.Method)
	if err == nil {
		res, err = ubercal.WithChi2(res)
	}
	if err != nil {
		c.JSON(statusOf(err), gin.H{"error": err.Error(), "log": log.String()})
		return
	}
	summary, err := ubercal.Summarize(res)
	if err != nil {
		c.JSON(statusOf(err), gin.H{"error": err.Error()})
		return
	}

	out := postSolveResult{
		Summary:    summary,
		Reference:  res.ExpKeys[ref],
		Magnitudes: make(map[string]float64, res.NStars()),
		ZeroPoints: make(map[string]float64, res.NExposures()),
		Chi2:       make(map[string]float64, res.NExposures()),
	}
	for k := 0; k < res.Len(); k++ {
		out.Magnitudes[res.StarID[k]] = res.FittedMag[k]
		out.ZeroPoints[res.ExpID[k]] = res.FittedZP[k]
		out.Chi2[res.ExpID[k]] = res.Chi2Exp[k]
	}
	c.JSON(http.StatusOK, out)
}

type postCalibrateArgs struct {
	FilePatterns []string         `json:"filePatterns"`
	StarID       string           `json:"starID"`
	ExpID        string           `json:"expID"`
	Calibrate    *ops.OpCalibrate `json:"calibrate"`
	Out          string           `json:"out"`
}

// Loads files from the server's directory tree, calibrates them and optionally saves
// the result. Streams the log back as plain text
func postCalibrate(c *gin.Context) {
	logWriter := c.Writer
	var args postCalibrateArgs
	if err := c.ShouldBindJSON(&args); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if args.Calibrate == nil {
		args.Calibrate = ops.NewOpCalibrateDefault()
	}

	header := logWriter.Header()
	header.Set("Content-Type", "text/plain")
	logWriter.WriteHeader(http.StatusOK)

	if err := printArgs(logWriter, "Arguments:\n", "\n", args); err != nil {
		fmt.Fprintf(logWriter, "Error printing arguments: %s\n", err.Error())
		return
	}

	opLoad := ops.NewOpLoadMany(args.FilePatterns)
	if args.StarID != "" {
		opLoad.StarID = args.StarID
	}
	if args.ExpID != "" {
		opLoad.ExpID = args.ExpID
	}
	seq := ops.NewOpSequence(opLoad, args.Calibrate, ops.NewOpSave(args.Out))

	ctx := ops.NewContext(logWriter)
	ctx.RestrictPaths = true
	if _, err := ops.Run(seq, ctx); err != nil {
		fmt.Fprintf(logWriter, "error: %s\n", err.Error())
	}
	logWriter.Flush()
}
