package commands

import (
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/isceproc/isceproc/pkg/template"
	"github.com/isceproc/isceproc/pkg/workflow"
)

func newValidateCommand() *cobra.Command {
	var showAll bool

	cmd := &cobra.Command{
		Use:   "validate <template>",
		Short: "Validate a template",
		Long: `Read a template, fill the auto values with their defaults and check every
isce.* option. The resolved options are printed.`,
		Example: `  isceproc validate AtacamaSenAT120.template
  isceproc validate AtacamaSenAT120.template --all`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := workflow.Load(args[0], procDir)
			if err != nil {
				return err
			}

			opts := p.Options
			fmt.Printf("✓ Template is valid: %s\n\n", opts.TemplateFile)
			fmt.Printf("  project:   %s\n", opts.Project)
			fmt.Printf("  sensor:    %s\n", opts.Sensor)
			fmt.Printf("  processor: %s\n", opts.Processor)
			fmt.Printf("  workflow:  %s\n", opts.Workflow)
			fmt.Printf("  ssaraopt:  %d keys, mintpy: %d keys\n",
				len(p.Values.WithPrefix(template.PrefixSsara)),
				len(p.Values.WithPrefix(template.PrefixMintPy)))

			if showAll {
				keys := make([]string, 0, len(p.Values))
				for k := range p.Values {
					keys = append(keys, k)
				}
				sort.Strings(keys)

				fmt.Println()
				w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
				for _, k := range keys {
					fmt.Fprintf(w, "  %s\t= %s\n", k, p.Values[k])
				}
				return w.Flush()
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&showAll, "all", "a", false, "print every resolved template value")

	return cmd
}
