package unwrap

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/isceproc/isceproc/pkg/engine"
)

// MaskedPath returns the path of the masked copy of an interferogram.
func MaskedPath(intFile string) string {
	ext := filepath.Ext(intFile)
	return strings.TrimSuffix(intFile, ext) + "_msk" + ext
}

// Mask writes a copy of the interferogram intFile with every pixel set to
// zero where maskFile is zero, and returns its path.
func Mask(intFile, maskFile string) (string, error) {
	ifg, err := ReadRaster(intFile)
	if err != nil {
		return "", err
	}
	mask, err := ReadRaster(maskFile)
	if err != nil {
		return "", err
	}

	switch {
	case ifg.DataType != DataTypeCFloat || ifg.Bands != 1:
		return "", engine.NewPermanentError(
			fmt.Sprintf("%s is not a single band %s interferogram", intFile, DataTypeCFloat), nil).
			WithCode(engine.ErrCodeValidation)
	case mask.Bands != 1:
		return "", engine.NewPermanentError(fmt.Sprintf("%s must have one band", maskFile), nil).
			WithCode(engine.ErrCodeValidation)
	case mask.Width != ifg.Width || mask.Length != ifg.Length:
		return "", engine.NewPermanentError(
			fmt.Sprintf("mask size %dx%d differs from interferogram size %dx%d",
				mask.Width, mask.Length, ifg.Width, ifg.Length), nil).
			WithCode(engine.ErrCodeValidation)
	}

	out := MaskedPath(intFile)
	log.Info().Str("mask", maskFile).Str("output", out).Msg("masking interferogram")

	if err := maskLines(ifg, mask, out); err != nil {
		return "", err
	}

	masked := *ifg
	masked.Path = out
	if err := masked.WriteXML(); err != nil {
		return "", err
	}
	return out, nil
}

func maskLines(ifg, mask *Raster, out string) error {
	in, err := os.Open(ifg.Path)
	if err != nil {
		return fmt.Errorf("failed to open interferogram: %w", err)
	}
	defer in.Close()

	m, err := os.Open(mask.Path)
	if err != nil {
		return fmt.Errorf("failed to open mask: %w", err)
	}
	defer m.Close()

	f, err := os.Create(out)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", out, err)
	}
	defer f.Close()

	ifgSize, maskSize := ifg.PixelSize(), mask.PixelSize()
	line := make([]byte, ifg.Width*ifgSize)
	maskLine := make([]byte, mask.Width*maskSize)
	zero := make([]byte, ifgSize)

	r := bufio.NewReader(in)
	mr := bufio.NewReader(m)
	w := bufio.NewWriter(f)

	for y := 0; y < ifg.Length; y++ {
		if _, err := io.ReadFull(r, line); err != nil {
			return fmt.Errorf("failed to read line %d of %s: %w", y, ifg.Path, err)
		}
		if _, err := io.ReadFull(mr, maskLine); err != nil {
			return fmt.Errorf("failed to read line %d of %s: %w", y, mask.Path, err)
		}
		for x := 0; x < ifg.Width; x++ {
			if isZero(maskLine[x*maskSize:(x+1)*maskSize], mask.DataType) {
				copy(line[x*ifgSize:(x+1)*ifgSize], zero)
			}
		}
		if _, err := w.Write(line); err != nil {
			return fmt.Errorf("failed to write %s: %w", out, err)
		}
	}

	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to write %s: %w", out, err)
	}
	return f.Close()
}
