package cli

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"keydates/internal/ics"
	"keydates/internal/trigger"
)

// NewImportCommand creates the import command. Events whose UID matches a
// stored id replace it; the rest are appended.
func NewImportCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import <file.ics|->",
		Short: "Import events from an iCalendar file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var r io.Reader = cmd.InOrStdin()
			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				r = f
			}

			events, err := ics.Import(r, time.Local)
			if err != nil {
				return err
			}

			e, err := openEnv(rootOpts, nil)
			if err != nil {
				return err
			}
			defer e.Close()
			if err := e.load(cmd.Context()); err != nil {
				return err
			}

			added, updated, pending := 0, 0, 0
			for _, ev := range events {
				_, exists := e.rec.Get(ev.ID)
				err := e.rec.Upsert(cmd.Context(), ev)
				switch {
				case err == nil:
				case trigger.IsPermissionDenied(err):
					pending++
				default:
					return fmt.Errorf("import %s: %w", ev.ID, err)
				}
				if exists {
					updated++
				} else {
					added++
				}
			}

			fmt.Fprintf(cmd.OutOrStdout(), "imported %d event(s): %d added, %d updated\n", len(events), added, updated)
			if pending > 0 {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: %d event(s) wait for exact-trigger permission\n", pending)
			}
			return nil
		},
	}

	return cmd
}
