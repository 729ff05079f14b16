package commands

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/isceproc/isceproc/pkg/stores"
)

func newStatusCommand() *cobra.Command {
	var events int

	cmd := &cobra.Command{
		Use:   "status <run-id>",
		Short: "Show the steps and events of a run",
		Example: `  isceproc history
  isceproc status 5f1c2e9a-3b7d-4c4e-9a43-0d1f6a2b8c11`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, ctx, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			store, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			run, err := store.GetRun(ctx, args[0])
			if err != nil {
				return err
			}
			steps, err := store.ListSteps(ctx, run.ID)
			if err != nil {
				return err
			}

			fmt.Printf("Run:      %s\n", run.ID)
			fmt.Printf("Command:  %s %s\n", run.Command, run.TemplateFile)
			fmt.Printf("Status:   %s\n", run.Status)
			fmt.Printf("Started:  %s (%s)\n", run.StartedAt.Format("2006-01-02 15:04:05"), humanize.Time(run.StartedAt))
			if run.CompletedAt != nil {
				fmt.Printf("Finished: %s\n", run.CompletedAt.Format("2006-01-02 15:04:05"))
			}
			if run.Error != nil {
				fmt.Printf("Error:    %s\n", *run.Error)
			}
			fmt.Println()

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "STEP\tSTATUS\tATTEMPTS\tWORKERS\tDURATION\tERROR")
			for _, s := range steps {
				fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\t%s\n",
					s.Name, s.Status, s.Attempts, s.Workers, stepDuration(s), deref(s.Error))
			}
			if err := w.Flush(); err != nil {
				return err
			}

			if events <= 0 {
				return nil
			}
			evs, err := store.ListEvents(ctx, run.ID, events)
			if err != nil {
				return err
			}
			fmt.Println()
			for _, e := range evs {
				fmt.Printf("%s  %-5s  %s\n", e.Timestamp.Format("15:04:05"), e.Level, e.Message)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&events, "events", 20, "number of events to show, 0 for none")

	return cmd
}

func stepDuration(s *stores.Step) string {
	if s.StartedAt == nil || s.CompletedAt == nil {
		return "-"
	}
	return s.CompletedAt.Sub(*s.StartedAt).Round(time.Second).String()
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
