package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/isceproc/isceproc/pkg/doctor"
)

func newDoctorCommand() *cobra.Command {
	var remote bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check the processing environment",
		Long: `Check that the ISCE-2 stack processors, the helper programs and the
download credentials are available. With --remote the processing host of
the ssh section of the config is contacted as well.`,
		Example: `  isceproc doctor
  isceproc doctor --remote`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, ctx, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			home, err := os.UserHomeDir()
			if err != nil {
				return fmt.Errorf("failed to find home directory: %w", err)
			}

			d := &doctor.Doctor{Env: a.env, Home: home}
			if remote {
				if a.remote == nil {
					return fmt.Errorf("--remote needs an ssh section in the config")
				}
				d.Remote = a.remote
			}

			checks := d.Run(ctx)
			doctor.Print(os.Stdout, checks)
			if doctor.Failed(checks) {
				return fmt.Errorf("environment is not ready")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&remote, "remote", false, "check the processing host too")

	return cmd
}
