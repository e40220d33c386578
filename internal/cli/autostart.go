package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/emersion/go-autostart"
	"github.com/spf13/cobra"
)

// autostartApp describes "keydates run" for the login autostart entry.
func autostartApp(configPath string) (*autostart.App, error) {
	// Get the executable path
	execPath, err := os.Executable()
	if err != nil {
		return nil, err
	}

	// Resolve symlinks if any
	execPath, err = filepath.EvalSymlinks(execPath)
	if err != nil {
		return nil, err
	}

	exec := []string{execPath, "run"}
	if configPath != "" {
		abs, err := filepath.Abs(configPath)
		if err != nil {
			return nil, err
		}
		exec = append(exec, "--config", abs)
	}

	return &autostart.App{
		Name:        "keydates",
		DisplayName: "Keydates reminders",
		Exec:        exec,
	}, nil
}

// NewAutostartCommand creates the autostart command group.
func NewAutostartCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "autostart",
		Short: "Start the daemon at login",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "enable",
		Short: "Run the daemon at login",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := autostartApp(rootOpts.ConfigPath)
			if err != nil {
				return err
			}
			if !app.IsEnabled() {
				if err := app.Enable(); err != nil {
					return fmt.Errorf("enable autostart: %w", err)
				}
			}
			fmt.Fprintln(cmd.OutOrStdout(), "autostart enabled")
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "disable",
		Short: "Stop running the daemon at login",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := autostartApp(rootOpts.ConfigPath)
			if err != nil {
				return err
			}
			if app.IsEnabled() {
				if err := app.Disable(); err != nil {
					return fmt.Errorf("disable autostart: %w", err)
				}
			}
			fmt.Fprintln(cmd.OutOrStdout(), "autostart disabled")
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show whether the daemon starts at login",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := autostartApp(rootOpts.ConfigPath)
			if err != nil {
				return err
			}
			state := "disabled"
			if app.IsEnabled() {
				state = "enabled"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "autostart %s\n", state)
			return nil
		},
	})

	return cmd
}
