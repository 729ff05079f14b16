// Package unwrap unwraps the phase of a single interferogram with SNAPHU
// or the ICU unwrapper of ISCE-2, optionally masking it first.
package unwrap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/isceproc/isceproc/pkg/engine"
	"github.com/isceproc/isceproc/pkg/isce"
	"github.com/isceproc/isceproc/pkg/runner"
	"github.com/isceproc/isceproc/pkg/template"
)

// Unwrapping methods.
const (
	MethodSnaphu = "snaphu"
	MethodICU    = "icu"
)

// Options configure one unwrapping.
type Options struct {
	// Interferogram is the wrapped CFLOAT interferogram.
	Interferogram string `validate:"required"`

	// Coherence is the coherence (phase sigma) file, optional.
	Coherence string

	// Mask zeroes the interferogram before unwrapping where it is zero.
	Mask string

	// Output is the unwrapped interferogram to write.
	Output string `validate:"required"`

	Method string `validate:"oneof=snaphu icu"`

	// DefoMax is the largest phase discontinuity likely, in cycles.
	DefoMax float64 `validate:"gt=0"`

	// CompMax is the largest number of connected components per tile.
	CompMax int `validate:"gte=1"`

	InitOnly   bool
	InitMethod string `validate:"oneof=MST MCF"`
	CostMode   string `validate:"oneof=TOPO DEFO SMOOTH NOSTATCOSTS"`

	// RangeLooks and AzimuthLooks are the multilooking of the
	// interferogram; zero leaves SNAPHU's defaults.
	RangeLooks   int `validate:"gte=0"`
	AzimuthLooks int `validate:"gte=0"`

	// CorrLooks is the equivalent number of independent looks of the
	// coherence. Zero derives it from the looks.
	CorrLooks float64 `validate:"gte=0"`
}

// Looks are not independent after the range and azimuth filtering of the
// stack processors; the effective number per direction is scaled by this.
const lookFactor = 0.8

// corrLooks returns the NCORRLOOKS value, 0 when unknown.
func (o *Options) corrLooks() float64 {
	if o.CorrLooks > 0 {
		return o.CorrLooks
	}
	if o.RangeLooks > 0 && o.AzimuthLooks > 0 {
		return float64(o.RangeLooks*o.AzimuthLooks) / (lookFactor * lookFactor)
	}
	return 0
}

// DefaultOptions returns the SNAPHU defaults.
func DefaultOptions() Options {
	return Options{
		Method:     MethodSnaphu,
		DefoMax:    2.0,
		CompMax:    20,
		InitMethod: "MST",
		CostMode:   "DEFO",
	}
}

var validate = validator.New()

// Validate checks opts and that its input files exist.
func (o *Options) Validate() error {
	if err := validate.Struct(o); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			names := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				names = append(names, fe.Field())
			}
			return engine.NewPermanentError(
				fmt.Sprintf("invalid unwrap options: %s", strings.Join(names, ", ")), err).
				WithCode(engine.ErrCodeValidation)
		}
		return err
	}

	for _, f := range []string{o.Interferogram, o.Coherence, o.Mask} {
		if f == "" {
			continue
		}
		if info, err := os.Stat(f); err != nil || info.IsDir() {
			return engine.NewPermanentError(fmt.Sprintf("no file found in: %s", f), err).
				WithCode(engine.ErrCodeNotFound)
		}
	}
	return nil
}

// Unwrapper runs the unwrapping programs.
type Unwrapper struct {
	runner runner.Runner
	env    *isce.Environment
}

// New creates an unwrapper.
func New(r runner.Runner, env *isce.Environment) *Unwrapper {
	return &Unwrapper{runner: r, env: env}
}

// Unwrap unwraps opts.Interferogram into opts.Output.
func (u *Unwrapper) Unwrap(ctx context.Context, opts Options) error {
	if err := opts.Validate(); err != nil {
		return err
	}

	if opts.Mask != "" {
		masked, err := Mask(opts.Interferogram, opts.Mask)
		if err != nil {
			return err
		}
		opts.Interferogram = masked
	}

	if opts.Method == MethodICU {
		return u.icu(ctx, opts)
	}
	return u.snaphu(ctx, opts)
}

func (u *Unwrapper) icu(ctx context.Context, opts Options) error {
	args := []string{"-i", opts.Interferogram}
	if opts.Coherence != "" {
		args = append(args, "-c", opts.Coherence)
	}
	args = append(args, "-u", opts.Output, "-m", MethodICU)

	_, err := u.runner.Run(ctx, runner.Command{
		Name: u.env.Script(template.ProcessorTops, "unwrap.py"),
		Args: args,
		Dir:  filepath.Dir(opts.Output),
		Env:  u.env.ChildEnv(template.ProcessorTops),
	})
	return err
}

func (u *Unwrapper) snaphu(ctx context.Context, opts Options) error {
	ifg, err := ReadRaster(opts.Interferogram)
	if err != nil {
		return err
	}

	conf := opts.Output + ".conf"
	if err := os.WriteFile(conf, []byte(SnaphuConfig(opts, ifg.Width)), 0644); err != nil {
		return fmt.Errorf("failed to write snaphu config: %w", err)
	}

	if _, err := u.runner.Run(ctx, runner.Command{
		Name: "snaphu",
		Args: []string{"-f", conf},
		Dir:  filepath.Dir(opts.Output),
	}); err != nil {
		return err
	}

	unw := &Raster{
		Path:     opts.Output,
		Width:    ifg.Width,
		Length:   ifg.Length,
		Bands:    2,
		DataType: DataTypeFloat,
		Scheme:   "BIL",
	}
	if err := unw.WriteXML(); err != nil {
		return err
	}
	if opts.InitOnly {
		return nil
	}

	cc := &Raster{
		Path:     opts.Output + ".conncomp",
		Width:    ifg.Width,
		Length:   ifg.Length,
		Bands:    1,
		DataType: DataTypeByte,
		Scheme:   "BIP",
	}
	return cc.WriteXML()
}

// SnaphuConfig renders the SNAPHU configuration file for opts.
func SnaphuConfig(opts Options, width int) string {
	var b strings.Builder
	kv := func(k, v string) {
		fmt.Fprintf(&b, "%-16s%s\n", k, v)
	}

	kv("INFILE", opts.Interferogram)
	kv("INFILEFORMAT", "COMPLEX_DATA")
	kv("LINELENGTH", strconv.Itoa(width))
	kv("OUTFILE", opts.Output)
	kv("OUTFILEFORMAT", "ALT_LINE_DATA")
	if opts.Coherence != "" {
		kv("CORRFILE", opts.Coherence)
		kv("CORRFILEFORMAT", "FLOAT_DATA")
	}
	kv("STATCOSTMODE", opts.CostMode)
	kv("INITONLY", strings.ToUpper(strconv.FormatBool(opts.InitOnly)))
	kv("INITMETHOD", opts.InitMethod)
	kv("DEFOMAX_CYCLE", strconv.FormatFloat(opts.DefoMax, 'f', -1, 64))
	if opts.RangeLooks > 0 && opts.AzimuthLooks > 0 {
		kv("NLOOKSRANGE", strconv.Itoa(opts.RangeLooks))
		kv("NLOOKSAZ", strconv.Itoa(opts.AzimuthLooks))
	}
	if n := opts.corrLooks(); n > 0 {
		kv("NCORRLOOKS", strconv.FormatFloat(n, 'f', -1, 64))
	}
	if !opts.InitOnly {
		kv("MAXNCOMPS", strconv.Itoa(opts.CompMax))
		kv("CONNCOMPFILE", opts.Output+".conncomp")
	}
	return b.String()
}
