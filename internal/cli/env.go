package cli

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"keydates/internal/config"
	appLog "keydates/internal/log"
	"keydates/internal/notify"
	"keydates/internal/permission"
	"keydates/internal/reconcile"
	"keydates/internal/store"
	"keydates/internal/trigger"
)

// env is everything a command needs to read or mutate the event collection.
type env struct {
	cfg      *config.Config
	store    *store.EventStore
	perm     trigger.Permission
	marker   *permission.File // nil unless permission.mode is "file"
	facility *trigger.CronFacility
	sched    *trigger.Scheduler
	rec      *reconcile.Reconciler
}

// loadConfig reads the config file and applies flag overrides.
func loadConfig(opts *RootOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", opts.ConfigPath, err)
	}
	if opts.LogLevel == "" {
		if lvl, err := appLog.ParseLevel(cfg.LogLevel); err == nil {
			appLog.SetLevel(lvl)
		} else {
			appLog.Warn("ignoring invalid log_level", "log_level", cfg.LogLevel)
		}
	}
	return cfg, nil
}

// openEnv opens the store and wires reconciler, scheduler and permission.
// d receives fired triggers; one-shot commands never start the facility
// and pass a LogNotifier boundary.
func openEnv(opts *RootOptions, d notify.Dispatcher) (*env, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}

	backend, err := store.OpenBackend(cfg.Store.Backend, cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	e := &env{
		cfg:   cfg,
		store: store.New(backend, cfg.Store.Key),
	}
	if cfg.Permission.Mode == permission.ModeFile {
		e.marker = permission.NewFile(cfg.Permission.Marker)
		e.perm = e.marker
	} else {
		e.perm = trigger.AlwaysGranted{}
	}

	if d == nil {
		d = notify.NewBoundary(notify.LogNotifier{})
	}
	e.facility = trigger.NewCronFacility(d, time.Local)
	e.sched = trigger.NewScheduler(e.facility, e.perm)
	e.rec = reconcile.New(e.store, e.sched)
	return e, nil
}

// load reads the collection. Commands that mutate refuse to run on a
// store they cannot read, since the next save would replace it.
func (e *env) load(ctx context.Context) error {
	if err := e.rec.Load(ctx); err != nil {
		return fmt.Errorf("read events: %w", err)
	}
	return nil
}

func (e *env) Close() error {
	return e.store.Close()
}

// watchTargets returns the files whose modification means the stored
// collection changed.
func watchTargets(cfg *config.Config) []string {
	switch cfg.Store.Backend {
	case store.BackendSQLite:
		// In WAL mode commits land in the -wal file first.
		return []string{cfg.Store.Path, cfg.Store.Path + "-wal"}
	default:
		return []string{filepath.Join(cfg.Store.Path, cfg.Store.Key+".json")}
	}
}

// reportScheduleErr turns a refused trigger into a warning: the event is
// stored and the daemon schedules it once the permission is granted.
func reportScheduleErr(w io.Writer, err error) error {
	if err == nil {
		return nil
	}
	if trigger.IsPermissionDenied(err) {
		fmt.Fprintln(w, "warning: event stored, but exact-trigger permission is not granted; run \"keydates permission grant\"")
		return nil
	}
	return err
}
