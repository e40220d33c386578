package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

var errNoGrant = errors.New(`permission mode is "always"; there is nothing to grant or revoke`)

// NewPermissionCommand creates the permission command group.
func NewPermissionCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "permission",
		Short: "Manage the exact-trigger permission",
		Long: `In "file" permission mode reminders are only scheduled once the
exact-trigger permission is granted. A running daemon notices the grant and
schedules every pending event.`,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "grant",
		Short: "Grant exact triggers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(rootOpts, nil)
			if err != nil {
				return err
			}
			defer e.Close()
			if e.marker == nil {
				return errNoGrant
			}
			if err := e.marker.Grant(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "exact-trigger permission granted")
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "revoke",
		Short: "Revoke exact triggers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(rootOpts, nil)
			if err != nil {
				return err
			}
			defer e.Close()
			if e.marker == nil {
				return errNoGrant
			}
			if err := e.marker.Revoke(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "exact-trigger permission revoked")
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show whether exact triggers are granted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(rootOpts, nil)
			if err != nil {
				return err
			}
			defer e.Close()

			state := "not granted"
			if e.perm.Granted() {
				state = "granted"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (mode %s)\n", state, e.cfg.Permission.Mode)
			return nil
		},
	})

	return cmd
}
