package template

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isceproc/isceproc/pkg/engine"
)

func topsValues() Values {
	v := Defaults()
	v["isce.demSNWE"] = "-25, -22, -70, -67"
	v["isce.boundingBox"] = "-24.2, -23.1, -69.5, -68.2"
	v["isce.startDate"] = "20190101"
	v["isce.swathNum"] = "1,2"
	v["isce.numProcess"] = "8"
	return FillDefaults(v, nil)
}

func TestOptions_Tops(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	opts, err := Options(topsValues(), "AtacamaSenAT120.txt")
	require.NoError(t, err)

	assert.True(t, opts.IsTops())
	assert.Equal(t, "interferogram", opts.Workflow)
	assert.Equal(t, &SNWE{-25, -22, -70, -67}, opts.DemSNWE)
	assert.Equal(t, "-24.2 -23.1 -69.5 -68.2", opts.BoundingBox.String())
	assert.Equal(t, -32768, opts.DemFillValue)
	assert.Equal(t, 3.0, opts.DemBuffer)
	assert.Equal(t, 0.5, opts.FiltStrength)
	assert.Equal(t, []int{1, 2}, opts.SwathNum)
	assert.Equal(t, 8, opts.NumProcess)
	assert.Equal(t, filepath.Join(home, "bak/aux/aux_poeorb"), opts.OrbitDir)
	assert.True(t, opts.Focus)
	assert.False(t, opts.UseGPU)
	assert.Equal(t, "Sen", opts.Sensor)
	assert.Equal(t, "AtacamaSenAT120", opts.Project)
	assert.True(t, filepath.IsAbs(opts.TemplateFile))
}

func TestOptions_RelativePathsAreAbsolute(t *testing.T) {
	v := topsValues()
	v["isce.paramIonFile"] = "./ion_param.txt"

	opts, err := Options(v, "AtacamaSenAT120.txt")
	require.NoError(t, err)

	wd, err := os.Getwd()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(wd, "ion_param.txt"), opts.ParamIonFile)
}

func TestOptions_UnsupportedProcessor(t *testing.T) {
	v := topsValues()
	v["isce.processor"] = "alosStack"

	_, err := Options(v, "x.txt")
	require.Error(t, err)
	assert.Equal(t, engine.ErrCodeValidation, engine.CodeOf(err))
	assert.Contains(t, err.Error(), "topsStack, stripmapStack")
}

func TestOptions_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		value   string
		wantMsg string
	}{
		{"unknown workflow", "isce.workflow", "ifg", "isce.workflow"},
		{"unknown dem source", "isce.demSource", "copernicus", "isce.demSource"},
		{"unknown unwrapper", "isce.unwrapMethod", "mcf", "isce.unwrapMethod"},
		{"unknown coregistration", "isce.coregistration", "ESD", "isce.coregistration"},
		{"bad polarization", "isce.ALOS2.polarization", "HV", "isce.ALOS2.polarization"},
		{"zero processes", "isce.numProcess", "0", "isce.numProcess"},
		{"filter strength above one", "isce.filtStrength", "1.5", "isce.filtStrength"},
		{"filter strength not a number", "isce.filtStrength", "strong", "isce.filtStrength"},
		{"looks not an integer", "isce.azimuthLooks", "3.5", "isce.azimuthLooks"},
		{"bad swath", "isce.swathNum", "1,4", "isce.swathNum"},
		{"bad date", "isce.startDate", "2019-01-01", "isce.startDate"},
		{"short box", "isce.demSNWE", "1, 2, 3", "isce.demSNWE"},
		{"inverted box", "isce.boundingBox", "10, 5, 1, 2", "isce.boundingBox"},
		{"bad boolean", "isce.useGPU", "maybe", "isce.useGPU"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := topsValues()
			v[tt.key] = tt.value

			_, err := Options(v, "AtacamaSenAT120.txt")
			require.Error(t, err)
			assert.Equal(t, engine.ErrCodeValidation, engine.CodeOf(err))
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestSNWE(t *testing.T) {
	box, err := ParseSNWE("31.5 32.75 130.25 131.5")
	require.NoError(t, err)
	assert.Equal(t, SNWE{31.5, 32.75, 130.25, 131.5}, box)
	assert.Equal(t, []string{"28.5", "35.75", "127.25", "134.5"}, box.Buffer(3).Fields())

	_, err = ParseSNWE("-95, 10, 0, 1")
	assert.Error(t, err)

	_, err = ParseSNWE("10 5 0 1")
	assert.ErrorContains(t, err, "S < N")

	_, err = ParseSNWE("-20 -10 179 -179")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "antimeridian are not supported")
}
