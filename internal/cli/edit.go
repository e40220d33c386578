package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"keydates/internal/reconcile"
)

// NewEditCommand creates the edit command. Only the given flags change.
func NewEditCommand(rootOpts *RootOptions) *cobra.Command {
	flags := &eventFlags{}

	cmd := &cobra.Command{
		Use:   "edit <id>",
		Short: "Edit an event",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(rootOpts, nil)
			if err != nil {
				return err
			}
			defer e.Close()
			if err := e.load(cmd.Context()); err != nil {
				return err
			}

			ev, ok := e.rec.Get(args[0])
			if !ok {
				return fmt.Errorf("no event with id %q", args[0])
			}

			changed := cmd.Flags().Changed
			if changed("title") {
				ev.Title = flags.title
			}
			if changed("description") {
				ev.Description = flags.description
			}
			if changed("at") {
				at, err := parseAt(flags.at)
				if err != nil {
					return err
				}
				ev.SetTime(at)
			}

			err = reconcile.NewCollaborator(e.rec).OnEventEdited(cmd.Context(), ev)
			if err := reportScheduleErr(cmd.ErrOrStderr(), err); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "updated %s\n", ev.ID)
			return nil
		},
	}

	flags.register(cmd)

	return cmd
}
