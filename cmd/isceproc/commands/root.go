package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	procDir    string
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "isceproc",
		Short: "isceproc - InSAR stack processing driver",
		Long: `isceproc drives the processing of a SAR image stack from raw scenes to a
displacement time series. It orchestrates external programs:

  - SSARA (ssara_federated_query.py) to download the scenes
  - the ISCE-2 stack processors (stackSentinel.py, stackStripMap.py) to
    prepare the DEM and generate the run files, which are then executed
    in order, each with several worker processes
  - MintPy (smallbaselineApp.py) for the time-series inversion

Processing parameters come from a template file (key = value). Every
execution is recorded so a failed stack can be resumed.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path (default ./isceproc.yaml)")
	rootCmd.PersistentFlags().StringVarP(&procDir, "dir", "d", ".", "processing directory")

	rootCmd.AddCommand(newInitCommand())
	rootCmd.AddCommand(newTemplateCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newPlanCommand())
	rootCmd.AddCommand(newStackCommand())
	rootCmd.AddCommand(newDownloadCommand())
	rootCmd.AddCommand(newTimeseriesCommand())
	rootCmd.AddCommand(newPipelineCommand())
	rootCmd.AddCommand(newUnwrapCommand())
	rootCmd.AddCommand(newShelveCommand())
	rootCmd.AddCommand(newDoctorCommand())
	rootCmd.AddCommand(newHistoryCommand())
	rootCmd.AddCommand(newStatusCommand())

	return rootCmd
}
