package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/isceproc/isceproc/pkg/template"
)

func newTemplateCommand() *cobra.Command {
	var outFile string

	cmd := &cobra.Command{
		Use:   "template",
		Short: "Print an example template",
		Long: `Print a commented example template. The file name of a template names the
project, and the sensor is derived from it (e.g. AtacamaSenAT120 is a
Sentinel-1 project).`,
		Example: `  isceproc template > AtacamaSenAT120.template
  isceproc template --out KyushuAlos2DT23.template`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if outFile == "" {
				fmt.Fprint(cmd.OutOrStdout(), template.Example)
				return nil
			}
			if _, err := os.Stat(outFile); err == nil {
				return fmt.Errorf("%s already exists", outFile)
			}
			if err := os.WriteFile(outFile, []byte(template.Example), 0644); err != nil {
				return fmt.Errorf("failed to write template: %w", err)
			}
			fmt.Printf("✓ Created template: %s\n", outFile)
			return nil
		},
	}

	cmd.Flags().StringVarP(&outFile, "out", "o", "", "write the template to a file instead of stdout")

	return cmd
}
