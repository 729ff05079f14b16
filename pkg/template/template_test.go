package template

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isceproc/isceproc/pkg/engine"
)

func TestParse(t *testing.T) {
	t.Setenv("ISCEPROC_TEST_DIR", "/data/aux")
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	input := `template:
# comment
% matlab style comment
! fortran style comment
isce.processor      = topsStack   # [topsStack, stripmapStack]
isce.demSNWE        = 31.1, 32.8, 130.1, 131.9
isce.orbitDir       = ~/bak/aux/aux_poeorb/
isce.auxDir         = $ISCEPROC_TEST_DIR/aux_cal
isce.referenceDate  =             # left empty
mintpy.load.processor = isce
no equals sign here
`
	values, err := Parse(strings.NewReader(input))
	require.NoError(t, err)

	want := Values{
		"isce.processor":        "topsStack",
		"isce.demSNWE":          "31.1, 32.8, 130.1, 131.9",
		"isce.orbitDir":         home + "/bak/aux/aux_poeorb/",
		"isce.auxDir":           "/data/aux/aux_cal",
		"mintpy.load.processor": "isce",
	}
	if diff := cmp.Diff(want, values); diff != "" {
		t.Errorf("Parse() mismatch (-want +got):\n%s", diff)
	}
}

func TestReadFile_NotFound(t *testing.T) {
	_, err := ReadFile(filepath.Join(t.TempDir(), "missing.txt"))
	require.Error(t, err)
	assert.Equal(t, engine.ErrCodeNotFound, engine.CodeOf(err))
}

func TestFillDefaults(t *testing.T) {
	dir := t.TempDir()
	dem := filepath.Join(dir, "demLat_N30_N34_Lon_E129_E133.dem.wgs84")
	require.NoError(t, os.WriteFile(dem, nil, 0644))

	values := Values{
		"isce.processor":      "auto",
		"isce.numProcess":     "8",
		"isce.useGPU":         "Yes",
		"isce.virtualMerge":   "TRUE",
		"isce.focus":          "no",
		"isce.referenceDate":  "None",
		"isce.demFile":        filepath.Join(dir, "demLat*.dem.wgs84"),
		"isce.filterStrength": "0.3",
		"isce.zeroDopper":     "yes",
	}
	got := FillDefaults(values, Defaults())

	assert.Equal(t, "topsStack", got["isce.processor"], "auto falls back to the default")
	assert.Equal(t, "8", got["isce.numProcess"])
	assert.Equal(t, "true", got["isce.useGPU"])
	assert.Equal(t, "true", got["isce.virtualMerge"])
	assert.Equal(t, "false", got["isce.focus"])
	assert.Equal(t, "true", got["isce.applyWaterMask"], "missing keys are filled")
	assert.Equal(t, "1,2,3", got["isce.swathNum"])
	assert.Equal(t, dem, got["isce.demFile"], "wildcards resolve to the first match")
	assert.Equal(t, "0.3", got["isce.filtStrength"])
	assert.Equal(t, "true", got["isce.zeroDoppler"])

	_, ok := got["isce.referenceDate"]
	assert.False(t, ok, "none unsets the key")
	_, ok = got["isce.filterStrength"]
	assert.False(t, ok, "aliases are renamed")

	assert.Equal(t, "auto", values["isce.processor"], "input is not modified")
}

func TestFillDefaults_UnmatchedWildcard(t *testing.T) {
	got := FillDefaults(Values{"isce.demFile": filepath.Join(t.TempDir(), "*.dem.wgs84")}, Defaults())
	_, ok := got["isce.demFile"]
	assert.False(t, ok)
}

func TestFillDefaults_CanonicalKeyWins(t *testing.T) {
	got := FillDefaults(Values{"isce.filtStrength": "0.8", "isce.filterStrength": "0.2"}, nil)
	assert.Equal(t, "0.8", got["isce.filtStrength"])
}

func TestSsaraArgs(t *testing.T) {
	values := Values{
		"ssaraopt.relativeOrbit":  "120",
		"ssaraopt.platform":       "SENTINEL-1A,SENTINEL-1B",
		"ssaraopt.intersectsWith": "Polygon((-69.0 -24.0, -68.0 -24.0, -68.0 -23.0, -69.0 -23.0, -69.0 -24.0))",
		"isce.processor":          "topsStack",
		"ssaraopt.":               "ignored",
	}
	want := []string{
		"--intersectsWith=Polygon((-69.0 -24.0, -68.0 -24.0, -68.0 -23.0, -69.0 -23.0, -69.0 -24.0))",
		"--platform=SENTINEL-1A,SENTINEL-1B",
		"--relativeOrbit=120",
	}
	if diff := cmp.Diff(want, SsaraArgs(values)); diff != "" {
		t.Errorf("SsaraArgs() mismatch (-want +got):\n%s", diff)
	}
}

func TestProjectSensor(t *testing.T) {
	tests := []struct {
		path    string
		sensor  string
		project string
	}{
		{"/data/AtacamaSenAT120.txt", "Sen", "AtacamaSenAT120"},
		{"KyushuAlos2DT23.template", "Alos2", "KyushuAlos2DT23"},
		{"./FernandinaAlosAT133", "Alos", "FernandinaAlosAT133"},
		{"KilaueaCskAT10.txt", "Csk", "KilaueaCskAT10"},
		{"KirishimaRs2.txt", "Rs2", "KirishimaRs2"},
		{"mytemplate.txt", "", "mytemplate"},
	}
	for _, tt := range tests {
		sensor, project := ProjectSensor(tt.path)
		assert.Equal(t, tt.sensor, sensor, tt.path)
		assert.Equal(t, tt.project, project, tt.path)
	}
}

func TestExample_IsValid(t *testing.T) {
	values, err := Parse(strings.NewReader(Example))
	require.NoError(t, err)

	opts, err := Options(FillDefaults(values, Defaults()), "KyushuAlos2DT23.txt")
	require.NoError(t, err)
	assert.Equal(t, ProcessorStripmap, opts.Processor)
	assert.Equal(t, []int{1, 2}, opts.SwathNum)
	assert.Empty(t, opts.DemURL)
	assert.Equal(t, "Alos2", opts.Sensor)

	assert.Equal(t, []string{
		"--frame=2950,2960",
		"--platform=ALOS-2",
		"--relativeOrbit=23",
	}, SsaraArgs(values))
}
