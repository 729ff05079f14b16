package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/isceproc/isceproc/pkg/engine"
	"github.com/isceproc/isceproc/pkg/isce"
	"github.com/isceproc/isceproc/pkg/runfiles"
	"github.com/isceproc/isceproc/pkg/workflow"
)

func newPlanCommand() *cobra.Command {
	var (
		dotFile string
		skip    []string
	)

	cmd := &cobra.Command{
		Use:   "plan <template>",
		Short: "Show the processing plan of a template",
		Long: `Show the steps the pipeline command would execute for a template, in
order, with the run files already generated in the processing directory.

The run_files step expands into one step per run file when it executes.`,
		Example: `  # Show the full pipeline
  isceproc plan AtacamaSenAT120.template

  # Write the stage graph for Graphviz
  isceproc plan AtacamaSenAT120.template --dot plan.dot
  dot -Tpng plan.dot -o plan.png`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := workflow.Load(args[0], procDir)
			if err != nil {
				return err
			}
			stages, err := parseStages(skip)
			if err != nil {
				return err
			}

			env, err := isce.FromOS()
			if err != nil {
				return err
			}
			b := &workflow.Builder{Env: env}
			plan, err := b.Build(p, workflow.Request{
				Command: "pipeline",
				Stages:  workflow.PipelineStages(stages),
			})
			if err != nil {
				return err
			}

			dag := engine.NewDAGBuilder()
			graph, err := dag.BuildGraph(plan.Steps)
			if err != nil {
				return err
			}
			plan.Graph = graph

			steps, err := engine.OrderedSteps(plan)
			if err != nil {
				return err
			}

			fmt.Printf("Plan for %s (%s, %s)\n\n", plan.Project, p.Options.Processor, p.Options.Sensor)
			for i, s := range steps {
				deps := "-"
				if len(s.Dependencies) > 0 {
					deps = strings.Join(s.Dependencies, ", ")
				}
				fmt.Printf("  %d. %-12s %-24s after: %s\n", i+1, s.ID, s.Name, deps)

				if s.Stage == engine.StageRunFiles {
					printRunFiles(p, env)
				}
			}

			if dotFile != "" {
				f, err := os.Create(dotFile)
				if err != nil {
					return fmt.Errorf("failed to create %s: %w", dotFile, err)
				}
				defer f.Close()
				if err := dag.WriteDOT(f); err != nil {
					return fmt.Errorf("failed to write DOT graph: %w", err)
				}
				fmt.Printf("\n✓ Wrote graph: %s\n", dotFile)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&dotFile, "dot", "", "write the stage graph in DOT format")
	cmd.Flags().StringSliceVar(&skip, "skip", nil, "stages to leave out")

	return cmd
}

func printRunFiles(p *workflow.Project, env *isce.Environment) {
	files, err := runfiles.Discover(p.Dir)
	if err != nil {
		log.Debug().Err(err).Msg("no run files yet")
		fmt.Printf("       (run files are generated by the stack step)\n")
		return
	}
	for i, f := range files {
		workers, err := runfiles.Workers(f.Path, p.Options.NumProcess, env.OMPThreads)
		if err != nil {
			workers = 0
		}
		fmt.Printf("       %2d. %-40s workers: %d\n", i+1, f.Name, workers)
	}
}

func parseStages(names []string) ([]engine.Stage, error) {
	stages := make([]engine.Stage, 0, len(names))
	for _, name := range names {
		s, err := workflow.ParseStage(name)
		if err != nil {
			return nil, err
		}
		stages = append(stages, s)
	}
	return stages, nil
}
