// Package template reads the processing template of a project.
//
// A template is plain text with one "key = value  # comment" entry per
// line. Keys prefixed with "isce." configure the stack processor, keys
// prefixed with "ssaraopt." configure the data download and keys prefixed
// with "mintpy." belong to the time-series inversion, which reads the same
// file itself.
package template

import (
	"bufio"
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/isceproc/isceproc/pkg/engine"
)

// Key prefixes.
const (
	PrefixISCE   = "isce."
	PrefixSsara  = "ssaraopt."
	PrefixMintPy = "mintpy."
)

// Values holds the entries of a template. Missing keys are unset.
type Values map[string]string

// Get returns the value of key and whether it is set.
func (v Values) Get(key string) (string, bool) {
	val, ok := v[key]
	return val, ok
}

// WithPrefix returns the entries whose key starts with prefix, with the
// prefix removed.
func (v Values) WithPrefix(prefix string) Values {
	out := make(Values)
	for k, val := range v {
		if rest, ok := strings.CutPrefix(k, prefix); ok && rest != "" {
			out[rest] = val
		}
	}
	return out
}

// ReadFile parses the template at path.
func ReadFile(path string) (Values, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, engine.NewPermanentError(fmt.Sprintf("template file not found: %s", path), err).
				WithCode(engine.ErrCodeNotFound)
		}
		return nil, fmt.Errorf("failed to open template: %w", err)
	}
	defer f.Close()

	values, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", filepath.Base(path), err)
	}
	return values, nil
}

// Parse reads template entries from r. Lines starting with '#', '%' or '!'
// are comments, as is everything after '#' in a value. Lines without '='
// are ignored. Values have '~' and environment variables expanded, and
// entries with an empty value are dropped.
func Parse(r io.Reader) (Values, error) {
	values := make(Values)

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.ContainsAny(line[:1], "#%!") {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value, _, _ = strings.Cut(value, "#")
		value = expandValue(strings.TrimSpace(value))
		if key == "" || value == "" {
			continue
		}
		values[key] = value
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return values, nil
}

func expandValue(value string) string {
	if value == "~" || strings.HasPrefix(value, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			value = home + value[1:]
		}
	}
	return os.ExpandEnv(value)
}

// aliases maps alternative spellings accepted in templates to the key used
// internally.
var aliases = map[string]string{
	"isce.filterStrength":    "isce.filtStrength",
	"isce.numConnection.Ion": "isce.numConnectionIon",
	"isce.zeroDopper":        "isce.zeroDoppler",
}

// defaults are the values of keys set to "auto" or left out. Keys without
// a default stay unset.
var defaults = Values{
	"isce.processor":          "topsStack",
	"isce.workflow":           "interferogram",
	"isce.demSource":          "srtm1",
	"isce.demFillValue":       "-32768",
	"isce.demBuffer":          "3",
	"isce.azimuthLooks":       "3",
	"isce.rangeLooks":         "9",
	"isce.filtStrength":       "0.5",
	"isce.unwrapMethod":       "snaphu",
	"isce.useGPU":             "no",
	"isce.numProcess":         "4",
	"isce.virtualMerge":       "no",
	"isce.coregistration":     "geometry",
	"isce.swathNum":           "1,2,3",
	"isce.numConnection":      "3",
	"isce.orbitDir":           "~/bak/aux/aux_poeorb/",
	"isce.auxDir":             "~/bak/aux/aux_cal/",
	"isce.numConnectionIon":   "3",
	"isce.zeroDoppler":        "no",
	"isce.focus":              "yes",
	"isce.ALOS.fbd2fbs":       "yes",
	"isce.ALOS2.polarization": "HH",
	"isce.maxTempBaseline":    "1800",
	"isce.maxPerpBaseline":    "1800",
	"isce.applyWaterMask":     "yes",
	"isce.updateMode":         "no",
}

// Defaults returns a copy of the default stack settings.
func Defaults() Values {
	return maps.Clone(defaults)
}

// FillDefaults returns values completed with defaults:
//
//  1. entries set to "auto" are removed,
//  2. missing keys are taken from defaults,
//  3. yes/true and no/false become "true" and "false", and "none" unsets
//     the key,
//  4. a wildcard in isce.demFile is replaced by its first match, or unset
//     when nothing matches.
//
// Alternative key spellings are renamed first. values is not modified.
func FillDefaults(values, defaults Values) Values {
	out := make(Values, len(values)+len(defaults))
	for k, v := range values {
		if canonical, ok := aliases[k]; ok {
			if _, set := values[canonical]; set {
				continue
			}
			k = canonical
		}
		out[k] = v
	}

	for k, v := range out {
		if strings.EqualFold(v, "auto") {
			delete(out, k)
		}
	}

	for k, v := range defaults {
		if _, ok := out[k]; !ok {
			out[k] = v
		}
	}

	for k, v := range out {
		switch strings.ToLower(v) {
		case "yes", "true":
			out[k] = "true"
		case "no", "false":
			out[k] = "false"
		case "none":
			delete(out, k)
		}
	}

	if pattern, ok := out["isce.demFile"]; ok && strings.ContainsAny(pattern, "*?[") {
		matches, _ := filepath.Glob(pattern)
		if len(matches) > 0 {
			slices.Sort(matches)
			out["isce.demFile"] = matches[0]
		} else {
			delete(out, "isce.demFile")
		}
	}

	return out
}
