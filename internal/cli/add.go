package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"keydates/internal/model"
	"keydates/internal/reconcile"
)

// TimeLayout is how --at is written: local wall-clock time to the minute.
const TimeLayout = "2006-01-02 15:04"

type eventFlags struct {
	title       string
	description string
	at          string
}

func (f *eventFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.title, "title", "t", "", "event title")
	cmd.Flags().StringVarP(&f.description, "description", "d", "", "event description")
	cmd.Flags().StringVar(&f.at, "at", "", `local date and time, e.g. "2031-06-02 09:30"`)
}

func parseAt(s string) (time.Time, error) {
	t, err := time.ParseInLocation(TimeLayout, s, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --at %q: want %q", s, TimeLayout)
	}
	return t, nil
}

// NewAddCommand creates the add command.
func NewAddCommand(rootOpts *RootOptions) *cobra.Command {
	flags := &eventFlags{}

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add an event",
		Example: `  keydates add --title "Mum's birthday" --at "2031-06-02 09:00"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			at, err := parseAt(flags.at)
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

			ev := model.New(flags.title, flags.description, at)
			stored, err := reconcile.NewCollaborator(e.rec).OnEventSubmitted(cmd.Context(), ev)
			if err := reportScheduleErr(cmd.ErrOrStderr(), err); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "added %s\n", stored.ID)
			return nil
		},
	}

	flags.register(cmd)
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("at")

	return cmd
}
