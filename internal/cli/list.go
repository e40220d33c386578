package cli

import (
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"
	"github.com/spf13/cobra"

	"keydates/internal/model"
)

const (
	shortIDLen       = 8
	listWhenLayout   = "Mon 2006-01-02 15:04"
	descriptionWidth = 48
)

type listOptions struct {
	sortByTime bool
	full       bool
}

// listStyles are built on the renderer of the output, so colors only appear
// on a terminal.
type listStyles struct {
	Header lipgloss.Style
	ID     lipgloss.Style
	When   lipgloss.Style
	Past   lipgloss.Style
	Title  lipgloss.Style
	Desc   lipgloss.Style
}

func newListStyles(r *lipgloss.Renderer) listStyles {
	return listStyles{
		Header: r.NewStyle().Bold(true).Underline(true),
		ID:     r.NewStyle().Foreground(lipgloss.ANSIColor(240)),
		When:   r.NewStyle().Foreground(lipgloss.ANSIColor(63)),
		Past:   r.NewStyle().Foreground(lipgloss.ANSIColor(240)).Strikethrough(true),
		Title:  r.NewStyle().Bold(true),
		Desc:   r.NewStyle().Foreground(lipgloss.ANSIColor(250)),
	}
}

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &listOptions{}

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List events",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(rootOpts, nil)
			if err != nil {
				return err
			}
			defer e.Close()

			events, err := e.store.LoadAll(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			renderList(out, lipgloss.NewRenderer(out), events, listView{
				loc:        time.Local,
				now:        time.Now(),
				sortByTime: opts.sortByTime,
				fullIDs:    opts.full,
			})
			return nil
		},
	}

	cmd.Flags().BoolVarP(&opts.sortByTime, "sort", "s", false, "sort by date instead of insertion order")
	cmd.Flags().BoolVar(&opts.full, "full", false, "show full event ids")

	return cmd
}

type listView struct {
	loc        *time.Location
	now        time.Time
	sortByTime bool
	fullIDs    bool
}

// renderList writes one line per event plus its wrapped description.
// Events already due are struck through.
func renderList(w io.Writer, r *lipgloss.Renderer, events []model.Event, v listView) {
	st := newListStyles(r)

	if len(events) == 0 {
		fmt.Fprintln(w, "No events.")
		return
	}

	if v.sortByTime {
		events = slices.Clone(events)
		slices.SortStableFunc(events, func(a, b model.Event) int {
			return a.FireTime(v.loc).Compare(b.FireTime(v.loc))
		})
	}

	idWidth := shortIDLen
	if v.fullIDs {
		for _, ev := range events {
			idWidth = max(idWidth, len(ev.ID))
		}
	}

	fmt.Fprintln(w, st.Header.Render(fmt.Sprintf("%d event(s)", len(events))))

	indent := strings.Repeat(" ", idWidth+2+len(listWhenLayout)+2)
	for _, ev := range events {
		id := ev.ID
		if !v.fullIDs && len(id) > shortIDLen {
			id = id[:shortIDLen]
		}

		at := ev.FireTime(v.loc)
		whenStyle := st.When
		if !at.After(v.now) {
			whenStyle = st.Past
		}

		fmt.Fprintf(w, "%s  %s  %s\n",
			st.ID.Render(fmt.Sprintf("%-*s", idWidth, id)),
			whenStyle.Render(at.Format(listWhenLayout)),
			st.Title.Render(ev.Title),
		)

		if ev.Description == "" {
			continue
		}
		for _, line := range strings.Split(wordwrap.String(ev.Description, descriptionWidth), "\n") {
			fmt.Fprintf(w, "%s%s\n", indent, st.Desc.Render(line))
		}
	}
}
