package commands

import (
	"github.com/spf13/cobra"

	"github.com/isceproc/isceproc/pkg/engine"
	"github.com/isceproc/isceproc/pkg/workflow"
)

func newTimeseriesCommand() *cobra.Command {
	var (
		start  string
		end    string
		doStep string
	)

	cmd := &cobra.Command{
		Use:   "timeseries <template>",
		Short: "Invert the stack into a time series with MintPy",
		Long: `Run smallbaselineApp.py with the template in the mintpy/ folder of the
processing directory. MintPy reads the mintpy.* options of the template.`,
		Example: `  isceproc timeseries AtacamaSenAT120.template
  isceproc timeseries AtacamaSenAT120.template --start invert_network
  isceproc timeseries AtacamaSenAT120.template --dostep velocity`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, ctx, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			p, err := a.loadProject(args[0])
			if err != nil {
				return err
			}

			return a.execute(ctx, p, workflow.Request{
				Command:          "timeseries",
				Stages:           []engine.Stage{engine.StageTimeseries},
				TimeseriesStart:  start,
				TimeseriesEnd:    end,
				TimeseriesDoStep: doStep,
			}, "")
		},
	}

	cmd.Flags().StringVar(&start, "start", "", "first MintPy step")
	cmd.Flags().StringVar(&end, "end", "", "last MintPy step")
	cmd.Flags().StringVar(&doStep, "dostep", "", "run a single MintPy step")

	return cmd
}
