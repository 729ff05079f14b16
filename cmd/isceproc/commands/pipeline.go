package commands

import (
	"github.com/spf13/cobra"

	"github.com/isceproc/isceproc/pkg/workflow"
)

func newPipelineCommand() *cobra.Command {
	var (
		skip     []string
		parallel int
		executor string
	)

	cmd := &cobra.Command{
		Use:   "pipeline <template>",
		Short: "Run the whole processing chain",
		Long: `Download the scenes, prepare and process the stack and invert the time
series in one run. Stages: download, dem, raw (stripmapStack only), stack,
run_files, timeseries.`,
		Example: `  isceproc pipeline AtacamaSenAT120.template

  # Scenes are already downloaded
  isceproc pipeline AtacamaSenAT120.template --skip download`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			stages, err := parseStages(skip)
			if err != nil {
				return err
			}

			a, ctx, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.env.RequireStack(); err != nil {
				return err
			}

			p, err := a.loadProject(args[0])
			if err != nil {
				return err
			}

			return a.execute(ctx, p, workflow.Request{
				Command:  "pipeline",
				Stages:   workflow.PipelineStages(stages),
				Parallel: parallel,
			}, executor)
		},
	}

	cmd.Flags().StringSliceVar(&skip, "skip", nil, "stages to leave out")
	cmd.Flags().IntVarP(&parallel, "parallel", "p", 0, "number of concurrent downloads")
	cmd.Flags().StringVar(&executor, "executor", "", "run-file executor: native, runpy or ssh (default from config)")

	return cmd
}
