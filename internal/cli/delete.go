package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"keydates/internal/model"
	"keydates/internal/reconcile"
)

// NewDeleteCommand creates the delete command. Deleting an unknown id
// succeeds without changes.
func NewDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "delete <id>",
		Aliases: []string{"rm"},
		Short:   "Delete an event and cancel its reminder",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(rootOpts, nil)
			if err != nil {
				return err
			}
			defer e.Close()
			if err := e.load(cmd.Context()); err != nil {
				return err
			}

			if _, ok := e.rec.Get(args[0]); !ok {
				fmt.Fprintf(cmd.OutOrStdout(), "no event %s; nothing deleted\n", args[0])
				return nil
			}
			if err := reconcile.NewCollaborator(e.rec).OnEventDeleted(cmd.Context(), model.Event{ID: args[0]}); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
			return nil
		},
	}

	return cmd
}
