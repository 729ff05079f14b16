package isce

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/isceproc/isceproc/pkg/engine"
	"github.com/isceproc/isceproc/pkg/telemetry"
	"github.com/isceproc/isceproc/pkg/template"
)

// DEM file names written by the generators.
const (
	gsiDEMFile      = "gsi10m.dem.wgs84"
	stitchedDEMGlob = "demLat*.dem.wgs84"
	demSuffix       = ".dem.wgs84"
)

// PrepareDEM makes sure a DEM exists for the stack and stores its path in
// opts.DemFile. An existing isce.demFile, or a DEM already present in the
// DEM folder, is reused. Otherwise a DEM covering isce.demSNWE, or
// isce.boundingBox grown by isce.demBuffer, is generated.
func (d *Driver) PrepareDEM(ctx context.Context, opts *template.StackOptions) (string, error) {
	logger := telemetry.FromContext(ctx)

	demDir := filepath.Join(d.dir, "DEM")
	if opts.DemFile != "" {
		demDir = filepath.Dir(opts.DemFile)
	}
	if err := os.MkdirAll(demDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create DEM directory: %w", err)
	}

	if opts.DemFile != "" && isFile(opts.DemFile) {
		logger.Infof("input DEM file exists: %s, skip re-generation", opts.DemFile)
		return opts.DemFile, nil
	}

	if existing := firstMatch(filepath.Join(demDir, "*"+demSuffix)); existing != "" {
		logger.Infof("use existing DEM file: %s", existing)
		opts.DemFile = existing
		return existing, nil
	}

	box, err := demBox(opts)
	if err != nil {
		return "", err
	}

	var (
		name    string
		args    []string
		pattern string
	)
	if opts.DemSource == "gsi_dehm" {
		name = "dem_gsi.py"
		args = append([]string{"--bbox"}, box.Fields()...)
		pattern = filepath.Join(demDir, gsiDEMFile)
	} else {
		name = "dem.py"
		args = StitchArgs(box, opts)
		pattern = filepath.Join(demDir, stitchedDEMGlob)
	}

	logger.Infof("generating DEM for S/N/W/E %s", box)
	if err := d.run(ctx, opts.Processor, demDir, name, args...); err != nil {
		return "", fmt.Errorf("DEM generation failed: %w", err)
	}

	// The generators also leave the geoid-referenced DEM behind.
	geoid := strings.TrimSuffix(pattern, ".wgs84")
	for _, ext := range []string{"", ".xml", ".vrt"} {
		matches, _ := filepath.Glob(geoid + ext)
		for _, m := range matches {
			if err := os.Remove(m); err == nil {
				logger.Debugf("removed %s", m)
			}
		}
	}

	demFile := firstMatch(pattern)
	if demFile == "" {
		return "", engine.NewPermanentError(fmt.Sprintf("DEM file not found in %s", pattern), nil).
			WithCode(engine.ErrCodeNotFound)
	}
	opts.DemFile = demFile
	logger.Infof("DEM file: %s", demFile)
	return demFile, nil
}

// demBox returns the area the DEM has to cover.
func demBox(opts *template.StackOptions) (template.SNWE, error) {
	switch {
	case opts.DemSNWE != nil:
		return *opts.DemSNWE, nil
	case opts.BoundingBox != nil:
		return opts.BoundingBox.Buffer(opts.DemBuffer), nil
	default:
		return template.SNWE{}, engine.NewPermanentError(
			"required demSNWE not found: set isce.demSNWE or isce.boundingBox", nil).
			WithCode(engine.ErrCodeValidation)
	}
}

// StitchArgs returns the dem.py arguments for box. dem.py takes whole
// degrees, so the box is rounded outwards.
func StitchArgs(box template.SNWE, opts *template.StackOptions) []string {
	bounds := []float64{
		math.Floor(box[0]), math.Ceil(box[1]),
		math.Floor(box[2]), math.Ceil(box[3]),
	}

	args := []string{"--action", "stitch", "--bbox"}
	for _, b := range bounds {
		args = append(args, strconv.Itoa(int(b)))
	}
	args = append(args,
		"--report",
		"--source", demSourceArg(opts.DemSource),
		"--correct",
		"--filling",
		"--filling_value", strconv.Itoa(opts.DemFillValue),
	)
	if opts.DemURL != "" {
		args = append(args, "-u", opts.DemURL)
	}
	return args
}

// demSourceArg maps isce.demSource to the dem.py --source value: the
// resolution in arc seconds.
func demSourceArg(source string) string {
	if res, ok := strings.CutPrefix(source, "srtm"); ok {
		return res
	}
	// NASADEM is distributed at 1 arc second.
	return "1"
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// firstMatch returns the first regular file matching pattern in lexical
// order.
func firstMatch(pattern string) string {
	matches, _ := filepath.Glob(pattern)
	slices.Sort(matches)
	for _, m := range matches {
		if isFile(m) {
			return m
		}
	}
	return ""
}
