package commands

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/isceproc/isceproc/pkg/engine"
	"github.com/isceproc/isceproc/pkg/isce"
	"github.com/isceproc/isceproc/pkg/workflow"
)

func newStackCommand() *cobra.Command {
	var (
		run      bool
		start    int
		end      int
		reset    bool
		resume   bool
		executor string
	)

	cmd := &cobra.Command{
		Use:   "stack <template>",
		Short: "Prepare and process an ISCE-2 stack",
		Long: `Prepare the DEM, unpack stripmap raw data, generate the run files with
stackSentinel.py or stackStripMap.py and optionally execute them.

Run files execute strictly in order; the commands inside one run file run
in parallel with up to isce.numProcess workers (divided by OMP_NUM_THREADS
for the topo, geo2rdr and resamp steps).

--start runs existing run files only and skips the preparation. --resume
restarts the last failed run of the template from its failed step:
the run file that failed, or the failed stage and the stages after it.`,
		Example: `  # Generate the run files
  isceproc stack AtacamaSenAT120.template

  # Generate and execute them
  isceproc stack AtacamaSenAT120.template --run

  # Execute run files 4 to 7 only
  isceproc stack AtacamaSenAT120.template --start 4 --end 7

  # Continue after a failure, executing through run.py
  isceproc stack AtacamaSenAT120.template --resume --executor runpy

  # Print the commands that reset the processing directory
  isceproc stack AtacamaSenAT120.template --reset`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if resume && (start > 0 || end > 0) {
				return fmt.Errorf("--resume cannot be combined with --start or --end")
			}

			a, ctx, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			p, err := a.loadProject(args[0])
			if err != nil {
				return err
			}

			if reset {
				fmt.Print(isce.ResetInstructions(p.Options.Processor))
				return nil
			}

			req := workflow.Request{
				Command: "stack",
				Stages:  workflow.StackStages(run, start, end),
				Start:   start,
				End:     end,
			}

			if resume {
				store, err := a.openStore(ctx)
				if err != nil {
					return err
				}
				point, err := workflow.Resume(ctx, store, p)
				if err != nil {
					return err
				}
				req = point.Request()
				log.Info().
					Str("run_id", point.RunID).
					Str("command", point.Command).
					Str("stage", string(point.Stage)).
					Str("run_file", point.RunFile).
					Int("start", point.Start).
					Int("end", point.End).
					Strs("stages", stageNames(req.Stages)).
					Msg("Resuming failed run")
			}

			if needsStack(req.Stages) {
				if err := a.env.RequireStack(); err != nil {
					return err
				}
			}

			return a.execute(ctx, p, req, executor)
		},
	}

	cmd.Flags().BoolVar(&run, "run", false, "execute the run files after generating them")
	cmd.Flags().IntVar(&start, "start", 0, "first run file to execute (1-based, implies --run)")
	cmd.Flags().IntVar(&end, "end", 0, "last run file to execute (1-based, implies --run)")
	cmd.Flags().BoolVar(&reset, "reset", false, "print the commands that reset the processing directory")
	cmd.Flags().BoolVar(&resume, "resume", false, "resume the last failed run of this template")
	cmd.Flags().StringVar(&executor, "executor", "", "run-file executor: native, runpy or ssh (default from config)")

	return cmd
}

// needsStack reports whether stages run ISCE stack processor programs.
func needsStack(stages []engine.Stage) bool {
	for _, s := range stages {
		switch s {
		case engine.StageDEM, engine.StageRaw, engine.StageStack, engine.StageRunFiles:
			return true
		}
	}
	return false
}

func stageNames(stages []engine.Stage) []string {
	names := make([]string, len(stages))
	for i, s := range stages {
		names[i] = string(s)
	}
	return names
}
