package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/isceproc/isceproc/pkg/unwrap"
)

func newUnwrapCommand() *cobra.Command {
	var templateFile string
	opts := unwrap.DefaultOptions()

	cmd := &cobra.Command{
		Use:   "unwrap",
		Short: "Unwrap a single interferogram",
		Long: `Unwrap an ISCE interferogram with SNAPHU or with the ICU unwrapper of
topsStack. When a mask is given, the interferogram is multiplied by it
first and the masked copy is unwrapped.

The unwrapped file is written as a two band BIL float image (amplitude,
phase) with an ISCE .xml header; SNAPHU also writes <output>.conncomp.

Masks must be ISCE binary rasters with an .xml header; convert HDF5 masks
such as MintPy's maskUnw.h5 first. SNAPHU is told the multilooking of the
interferogram with --range-looks/--azimuth-looks or, with --template, the
isce.rangeLooks and isce.azimuthLooks of the stack.`,
		Example: `  isceproc unwrap -i filt_fine.int -c filt_fine.cor -o filt_fine.unw

  # Mask water before unwrapping
  isceproc unwrap -i filt_fine.int -c filt_fine.cor -o filt_fine.unw --mask waterMask.msk

  # Looks of the stack the interferogram comes from
  isceproc unwrap -i filt_fine.int -c filt_fine.cor -o filt_fine.unw --template AtacamaSenAT120.template

  # ICU instead of SNAPHU
  isceproc unwrap -i filt_fine.int -o filt_fine.unw --method icu`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, ctx, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			if templateFile != "" {
				p, err := a.loadProject(templateFile)
				if err != nil {
					return err
				}
				if !cmd.Flags().Changed("range-looks") {
					opts.RangeLooks = p.Options.RangeLooks
				}
				if !cmd.Flags().Changed("azimuth-looks") {
					opts.AzimuthLooks = p.Options.AzimuthLooks
				}
			}
			if err := opts.Validate(); err != nil {
				return err
			}

			if err := unwrap.New(a.local, a.env).Unwrap(ctx, opts); err != nil {
				return err
			}
			fmt.Printf("✓ Unwrapped: %s\n", opts.Output)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.Interferogram, "ifg", "i", "", "wrapped interferogram")
	f.StringVarP(&opts.Coherence, "coh", "c", "", "coherence file")
	f.StringVarP(&opts.Output, "output", "o", "", "unwrapped output file")
	f.StringVarP(&opts.Output, "unw", "u", "", "alias of --output")
	f.StringVar(&opts.Mask, "mask", "", "ISCE binary mask (with .xml) applied before unwrapping, zero means masked; HDF5 is not supported")
	f.StringVar(&opts.Method, "method", opts.Method, "unwrapper: snaphu or icu")
	f.Float64Var(&opts.DefoMax, "defo-max", opts.DefoMax, "maximum phase discontinuity in cycles")
	f.IntVar(&opts.CompMax, "comp-max", opts.CompMax, "maximum number of connected components")
	f.BoolVar(&opts.InitOnly, "init-only", false, "only compute the SNAPHU initialization")
	f.StringVar(&opts.InitMethod, "init-method", opts.InitMethod, "SNAPHU initialization: MST or MCF")
	f.StringVar(&opts.CostMode, "cost-mode", opts.CostMode, "SNAPHU cost mode: TOPO, DEFO, SMOOTH or NOSTATCOSTS")
	f.IntVar(&opts.RangeLooks, "range-looks", 0, "range looks of the interferogram")
	f.IntVar(&opts.AzimuthLooks, "azimuth-looks", 0, "azimuth looks of the interferogram")
	f.Float64Var(&opts.CorrLooks, "corr-looks", 0, "independent looks of the coherence (default from the looks)")
	f.StringVar(&templateFile, "template", "", "read the looks from this template")
	_ = f.MarkHidden("unw")

	return cmd
}
