package permission

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	appLog "keydates/internal/log"
)

// Modes accepted in config (`permission.mode`).
const (
	ModeAlways = "always"
	ModeFile   = "file"
)

// File is an exact-trigger grant persisted as a marker file. A desktop host
// has no OS-level prompt, so the grant is given explicitly with
// `keydates permission grant` or POST /api/permission.
type File struct {
	path string

	mu        sync.Mutex
	listeners []func(granted bool)
}

// NewFile returns a gate backed by the marker at path.
func NewFile(path string) *File {
	return &File{path: path}
}

// Path returns the marker location.
func (f *File) Path() string { return f.path }

func (f *File) Granted() bool {
	_, err := os.Stat(f.path)
	return err == nil
}

// Request records that a grant is needed. The user answers out of band;
// listeners registered with OnChange hear about it through Grant/Revoke.
func (f *File) Request() {
	appLog.Warn("exact trigger permission required",
		"how", "run `keydates permission grant` or POST /api/permission",
		"marker", f.path)
}

// OnChange registers fn to be called after Grant or Revoke.
func (f *File) OnChange(fn func(granted bool)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listeners = append(f.listeners, fn)
}

// Grant writes the marker.
func (f *File) Grant() error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return err
	}
	stamp := []byte(time.Now().UTC().Format(time.RFC3339) + "\n")
	if err := os.WriteFile(f.path, stamp, 0o600); err != nil {
		return err
	}
	appLog.Info("exact trigger permission granted", "marker", f.path)
	f.notify(true)
	return nil
}

// Revoke removes the marker. Revoking an absent grant is not an error.
func (f *File) Revoke() error {
	if err := os.Remove(f.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	appLog.Info("exact trigger permission revoked", "marker", f.path)
	f.notify(false)
	return nil
}

func (f *File) notify(granted bool) {
	f.mu.Lock()
	listeners := append([]func(bool){}, f.listeners...)
	f.mu.Unlock()

	for _, fn := range listeners {
		fn(granted)
	}
}
