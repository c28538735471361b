package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var recordingsCmd = &cobra.Command{
	Use:     "recordings",
	Aliases: []string{"ls"},
	Short:   "List recordings, newest first",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		recordings, err := newService().ListRecordings()
		if err != nil {
			return err
		}

		if len(recordings) == 0 {
			fmt.Printf("No recordings in %s\n", cfg.Output.Directory)
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tSIZE\tMODIFIED")
		for _, r := range recordings {
			fmt.Fprintf(w, "%s\t%s\t%s\n", r.Name, r.SizeHuman, r.ModTimeHuman)
		}
		return w.Flush()
	},
}

var recordingsRemoveCmd = &cobra.Command{
	Use:   "rm <recording>...",
	Short: "Delete recordings",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc := newService()
		for _, name := range args {
			if err := svc.DeleteRecording(name); err != nil {
				return fmt.Errorf("failed to delete %s: %w", name, err)
			}
			fmt.Printf("🗑️  Deleted %s\n", name)
		}
		return nil
	},
}

func init() {
	recordingsCmd.AddCommand(recordingsRemoveCmd)
}
