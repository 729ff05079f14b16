package isce

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"

	"github.com/isceproc/isceproc/pkg/engine"
	"github.com/isceproc/isceproc/pkg/telemetry"
)

// ShelveDir is the folder stripmapStack reads the reference metadata from.
const ShelveDir = "referenceShelve"

var shelveFiles = []string{"data.bak", "data.dat", "data.dir"}

// CopyReferenceShelve copies the shelve files of the reference acquisition
// from SLC/<date> into referenceShelve/. The first date is used when
// referenceDate is empty. Nothing is done when referenceShelve/ exists.
func CopyReferenceShelve(ctx context.Context, projDir, referenceDate string) error {
	logger := telemetry.FromContext(ctx)

	shelveDir := filepath.Join(projDir, ShelveDir)
	if info, err := os.Stat(shelveDir); err == nil && info.IsDir() {
		logger.Infof("%s folder already exists: %s", ShelveDir, shelveDir)
		return nil
	}

	if referenceDate == "" {
		dates, err := slcDates(projDir)
		if err != nil {
			return err
		}
		referenceDate = dates[0]
	}
	slcDir := filepath.Join(projDir, SLCDir, referenceDate)

	for _, name := range shelveFiles {
		if !isFile(filepath.Join(slcDir, name)) {
			return engine.NewPermanentError(fmt.Sprintf("shelve file not found: %s", filepath.Join(slcDir, name)), nil).
				WithCode(engine.ErrCodeNotFound)
		}
	}

	if err := os.MkdirAll(shelveDir, 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", shelveDir, err)
	}
	for _, name := range shelveFiles {
		src := filepath.Join(slcDir, name)
		if err := copyFile(src, filepath.Join(shelveDir, name)); err != nil {
			return fmt.Errorf("failed to copy %s: %w", src, err)
		}
		logger.Infof("copied %s to %s", src, shelveDir)
	}
	return nil
}

// slcDates lists the acquisition folders below SLC/ in date order.
func slcDates(projDir string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(projDir, SLCDir))
	if err != nil {
		return nil, engine.NewPermanentError("no SLC folder found", err).WithCode(engine.ErrCodeNotFound)
	}

	var dates []string
	for _, e := range entries {
		if e.IsDir() {
			dates = append(dates, e.Name())
		}
	}
	if len(dates) == 0 {
		return nil, engine.NewPermanentError("no acquisitions found in SLC folder", nil).
			WithCode(engine.ErrCodeNotFound)
	}
	slices.Sort(dates)
	return dates, nil
}

// copyFile copies src to dst keeping its mode and modification time.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Chtimes(dst, info.ModTime(), info.ModTime())
}
