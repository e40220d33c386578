package cli

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"fyne.io/fyne/v2"
	fyneapp "fyne.io/fyne/v2/app"
	"github.com/spf13/cobra"

	appLog "keydates/internal/log"
	"keydates/internal/notify"
	"keydates/internal/watch"
	"keydates/internal/web"
)

type runOptions struct {
	listen string
}

// NewRunCommand creates the run command: the long-lived daemon that owns
// the triggers.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the reminder daemon",
		Long: `Load the stored events, schedule a trigger for each, and fire
notifications until interrupted. Edits made by other keydates commands are
picked up automatically, and an HTTP API is served on the configured address.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(rootOpts, opts)
		},
	}

	cmd.Flags().StringVar(&opts.listen, "listen", "", "HTTP listen address (overrides config if set)")

	return cmd
}

func runDaemon(rootOpts *RootOptions, opts *runOptions) error {
	appLog.Info("keydates starting", "version", Version)

	cfg, err := loadConfig(rootOpts)
	if err != nil {
		return err
	}
	// CLI --listen overrides config file listen if provided.
	if opts.listen != "" {
		cfg.Listen = opts.listen
	}

	appLog.Info("effective config",
		"listen", cfg.Listen,
		"store_backend", cfg.Store.Backend,
		"store_path", cfg.Store.Path,
		"permission_mode", cfg.Permission.Mode,
		"desktop_notifications", cfg.Notify.Desktop,
	)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Signal handling.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		select {
		case sig := <-sigCh:
			appLog.Info("signal received, shutting down", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
	}()

	notifiers := notify.Multi{notify.LogNotifier{}}
	var desktop fyne.App
	if cfg.Notify.Desktop {
		desktop = fyneapp.NewWithID("io.keydates.daemon")
		notifiers = append(notifiers, notify.NewDesktopNotifier(desktop, cfg.Notify.Heading))
	}
	boundary := notify.NewBoundary(notifiers,
		notify.WithFallbackTitle(cfg.Notify.FallbackTitle),
		notify.WithTimeout(5*time.Second),
	)

	if desktop == nil {
		return serve(ctx, rootOpts, boundary)
	}

	// The desktop driver needs the main goroutine; the daemon runs beside it
	// and quits the app when it stops.
	errCh := make(chan error, 1)
	go func() {
		errCh <- serve(ctx, rootOpts, boundary)
		fyne.Do(desktop.Quit)
	}()
	desktop.Run()
	cancel()
	return <-errCh
}

// serve is the daemon body: it returns once ctx is canceled.
func serve(ctx context.Context, rootOpts *RootOptions, d notify.Dispatcher) error {
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	e, err := openEnv(rootOpts, d)
	if err != nil {
		return err
	}
	defer e.Close()

	// A store that cannot be read starts the daemon empty and read-only. The
	// blob stays untouched; once it is repaired the watcher's Resync lifts
	// the refusal.
	if err := e.rec.Load(ctx); err != nil {
		appLog.Error("event store unreadable; edits are refused until it is repaired", err,
			"backend", e.cfg.Store.Backend, "path", e.cfg.Store.Path)
	}
	if err := e.rec.ScheduleAll(); err != nil {
		appLog.Warn("some triggers were not scheduled", "error", err.Error())
	}
	if e.marker != nil {
		e.marker.OnChange(func(granted bool) {
			if !granted {
				appLog.Warn("exact-trigger permission revoked; pending triggers stay, new ones are refused")
			}
		})
		if len(e.rec.Pending()) > 0 {
			e.perm.Request()
		}
	}

	e.facility.Start()
	defer e.facility.Stop()

	watcher, err := watch.NewFileWatcher(func(path string) {
		if e.marker != nil && path == e.marker.Path() {
			if e.perm.Granted() {
				appLog.Info("exact-trigger permission granted; scheduling pending events")
				if err := e.rec.ScheduleAll(); err != nil {
					appLog.Error("scheduling after grant failed", err)
				}
			}
			return
		}
		if err := e.rec.Resync(ctx); err != nil {
			appLog.Error("store changed but resync failed", err, "path", path)
		}
	})
	if err != nil {
		return err
	}
	defer watcher.Close()

	targets := watchTargets(e.cfg)
	if e.marker != nil {
		targets = append(targets, e.marker.Path())
	}
	for _, t := range targets {
		if err := watcher.AddFile(t); err != nil {
			appLog.Warn("cannot watch file; external edits need a restart", "path", t, "error", err.Error())
		}
	}

	var wg sync.WaitGroup
	var httpErr error
	if e.cfg.Listen != "" {
		srv := web.NewServer(e.cfg, e.rec, e.sched, e.perm)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
				appLog.Error("HTTP server failed", err)
				httpErr = err
				stop()
			}
		}()
	}

	<-ctx.Done()
	wg.Wait()

	appLog.Info("keydates exiting")
	return httpErr
}
