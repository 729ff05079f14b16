package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/isceproc/isceproc/pkg/isce"
)

func newShelveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "shelve <template>",
		Short: "Copy the reference shelve files for stripmapStack",
		Long: `Copy data.bak, data.dat and data.dir of the reference acquisition from
SLC/<date> to referenceShelve/. The reference date comes from
isce.referenceDate of the template; the first acquisition is used when it
is not set. Existing referenceShelve folders are left alone.`,
		Example: `  isceproc shelve KokoxiliBigSenDT150.template`,
		Args:    cobra.ExactArgs(1),
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

			if err := isce.CopyReferenceShelve(ctx, p.Dir, p.Options.ReferenceDate); err != nil {
				return err
			}
			fmt.Printf("✓ Reference shelve ready: %s\n", isce.ShelveDir)
			return nil
		},
	}
}
