package commands

import (
	"github.com/spf13/cobra"

	"github.com/isceproc/isceproc/pkg/engine"
	"github.com/isceproc/isceproc/pkg/workflow"
)

func newDownloadCommand() *cobra.Command {
	var parallel int

	cmd := &cobra.Command{
		Use:   "download <template>",
		Short: "Download the scenes of a template",
		Long: `Run ssara_federated_query.py with the ssaraopt.* options of the template.
Scenes land in SLC/ for topsStack and in download/ for stripmapStack.

Credentials are read by SSARA from ~/.netrc (ASF: urs.earthdata.nasa.gov,
Copernicus: dataspace.copernicus.eu). A failed query is retried; scenes
already downloaded are skipped.`,
		Example: `  isceproc download AtacamaSenAT120.template
  isceproc download AtacamaSenAT120.template --parallel 6`,
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
				Command:  "download",
				Stages:   []engine.Stage{engine.StageDownload},
				Parallel: parallel,
			}, "")
		},
	}

	cmd.Flags().IntVarP(&parallel, "parallel", "p", 0, "number of concurrent downloads")

	return cmd
}
