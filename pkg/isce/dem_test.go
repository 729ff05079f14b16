package isce

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isceproc/isceproc/pkg/engine"
	"github.com/isceproc/isceproc/pkg/runner"
	"github.com/isceproc/isceproc/pkg/runner/runnertest"
	"github.com/isceproc/isceproc/pkg/template"
)

// demWriter fakes dem.py and dem_gsi.py by writing the files they produce.
func demWriter(t *testing.T, names ...string) *runnertest.Recorder {
	return &runnertest.Recorder{Hook: func(cmd runner.Command) error {
		for _, name := range names {
			if err := os.WriteFile(filepath.Join(cmd.Dir, name), []byte("dem"), 0644); err != nil {
				return err
			}
		}
		return nil
	}}
}

func TestPrepareDEM_Stitch(t *testing.T) {
	dir := t.TempDir()
	rec := demWriter(t,
		"demLat_S28_S19_Lon_W073_W065.dem",
		"demLat_S28_S19_Lon_W073_W065.dem.xml",
		"demLat_S28_S19_Lon_W073_W065.dem.vrt",
		"demLat_S28_S19_Lon_W073_W065.dem.wgs84",
		"demLat_S28_S19_Lon_W073_W065.dem.wgs84.xml",
	)
	d, err := NewDriver(rec, testEnv(), dir)
	require.NoError(t, err)

	opts := topsOptions(t)
	opts.DemURL = "https://e4ftl01.cr.usgs.gov/DP133/SRTM/SRTMGL1.003/2000.02.11"

	demFile, err := d.PrepareDEM(context.Background(), opts)
	require.NoError(t, err)

	demDir := filepath.Join(dir, "DEM")
	assert.Equal(t, filepath.Join(demDir, "demLat_S28_S19_Lon_W073_W065.dem.wgs84"), demFile)
	assert.Equal(t, demFile, opts.DemFile)

	cmds := rec.Commands()
	require.Len(t, cmds, 1)
	assert.Equal(t, demDir, cmds[0].Dir)
	want := []string{
		"dem.py", "--action", "stitch",
		"--bbox", "-28", "-20", "-73", "-65",
		"--report", "--source", "1", "--correct", "--filling", "--filling_value", "-32768",
		"-u", "https://e4ftl01.cr.usgs.gov/DP133/SRTM/SRTMGL1.003/2000.02.11",
	}
	if diff := cmp.Diff(want, rec.Argv()[0]); diff != "" {
		t.Errorf("dem.py arguments mismatch (-want +got):\n%s", diff)
	}

	for _, name := range []string{"demLat_S28_S19_Lon_W073_W065.dem", "demLat_S28_S19_Lon_W073_W065.dem.xml", "demLat_S28_S19_Lon_W073_W065.dem.vrt"} {
		assert.NoFileExists(t, filepath.Join(demDir, name), "geoid files are removed")
	}
	assert.FileExists(t, filepath.Join(demDir, "demLat_S28_S19_Lon_W073_W065.dem.wgs84.xml"))
}

func TestPrepareDEM_GSI(t *testing.T) {
	dir := t.TempDir()
	rec := demWriter(t, "gsi10m.dem.wgs84", "gsi10m.dem")
	d, err := NewDriver(rec, testEnv(), dir)
	require.NoError(t, err)

	opts := stripmapOptions(t, "Alos2")
	opts.DemSource = "gsi_dehm"

	demFile, err := d.PrepareDEM(context.Background(), opts)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "DEM", "gsi10m.dem.wgs84"), demFile)
	assert.Equal(t, []string{"dem_gsi.py", "--bbox", "31.1", "32.8", "130.1", "131.9"}, rec.Argv()[0])
	assert.NoFileExists(t, filepath.Join(dir, "DEM", "gsi10m.dem"))
}

func TestPrepareDEM_Reuse(t *testing.T) {
	dir := t.TempDir()
	rec := &runnertest.Recorder{}
	d, err := NewDriver(rec, testEnv(), dir)
	require.NoError(t, err)

	// An explicit DEM file that exists is used as is.
	explicit := filepath.Join(dir, "mydem", "custom.dem.wgs84")
	require.NoError(t, os.MkdirAll(filepath.Dir(explicit), 0755))
	require.NoError(t, os.WriteFile(explicit, nil, 0644))

	opts := topsOptions(t)
	opts.DemFile = explicit
	got, err := d.PrepareDEM(context.Background(), opts)
	require.NoError(t, err)
	assert.Equal(t, explicit, got)

	// A DEM already in the DEM folder is picked up.
	existing := filepath.Join(dir, "DEM", "demLat_N31_N33_Lon_E130_E132.dem.wgs84")
	require.NoError(t, os.MkdirAll(filepath.Dir(existing), 0755))
	require.NoError(t, os.WriteFile(existing, nil, 0644))

	opts = topsOptions(t)
	got, err = d.PrepareDEM(context.Background(), opts)
	require.NoError(t, err)
	assert.Equal(t, existing, got)

	assert.Empty(t, rec.Commands(), "no DEM is generated")
}

func TestPrepareDEM_Errors(t *testing.T) {
	t.Run("no area", func(t *testing.T) {
		d, err := NewDriver(&runnertest.Recorder{}, testEnv(), t.TempDir())
		require.NoError(t, err)

		opts := topsOptions(t)
		opts.BoundingBox = nil
		_, err = d.PrepareDEM(context.Background(), opts)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "required demSNWE not found")
	})

	t.Run("no output", func(t *testing.T) {
		d, err := NewDriver(&runnertest.Recorder{}, testEnv(), t.TempDir())
		require.NoError(t, err)

		_, err = d.PrepareDEM(context.Background(), topsOptions(t))
		require.Error(t, err)
		assert.Equal(t, engine.ErrCodeNotFound, engine.CodeOf(err))
	})
}

func TestStitchArgs_Source(t *testing.T) {
	box := template.SNWE{31.1, 32.8, 130.1, 131.9}
	for source, want := range map[string]string{"srtm1": "1", "srtm3": "3", "nasadem": "1"} {
		args := StitchArgs(box, &template.StackOptions{DemSource: source, DemFillValue: 0})
		i := indexOf(args, "--source")
		require.GreaterOrEqual(t, i, 0)
		assert.Equal(t, want, args[i+1], source)
		assert.Equal(t, []string{"31", "33", "130", "132"}, args[4:8])
	}
}

func TestCopyReferenceShelve(t *testing.T) {
	dir := t.TempDir()
	for _, date := range []string{"20150227", "20141008"} {
		slc := filepath.Join(dir, SLCDir, date)
		require.NoError(t, os.MkdirAll(slc, 0755))
		for _, name := range shelveFiles {
			require.NoError(t, os.WriteFile(filepath.Join(slc, name), []byte(date+name), 0644))
		}
	}

	require.NoError(t, CopyReferenceShelve(context.Background(), dir, ""))
	data, err := os.ReadFile(filepath.Join(dir, ShelveDir, "data.dat"))
	require.NoError(t, err)
	assert.Equal(t, "20141008data.dat", string(data), "the first date is the default reference")

	// An existing folder is left alone.
	require.NoError(t, CopyReferenceShelve(context.Background(), dir, "20150227"))
	data, err = os.ReadFile(filepath.Join(dir, ShelveDir, "data.dat"))
	require.NoError(t, err)
	assert.Equal(t, "20141008data.dat", string(data))
}

func TestCopyReferenceShelve_Missing(t *testing.T) {
	dir := t.TempDir()
	err := CopyReferenceShelve(context.Background(), dir, "")
	require.Error(t, err)
	assert.Equal(t, engine.ErrCodeNotFound, engine.CodeOf(err))

	require.NoError(t, os.MkdirAll(filepath.Join(dir, SLCDir, "20150227"), 0755))
	err = CopyReferenceShelve(context.Background(), dir, "20150227")
	require.Error(t, err)
	assert.NoDirExists(t, filepath.Join(dir, ShelveDir), "nothing is created when files are missing")
}
