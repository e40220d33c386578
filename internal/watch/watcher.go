package watch

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	appLog "keydates/internal/log"
)

const defaultDebounce = 100 * time.Millisecond

// FileWatcher reports changes to individual files.
//
// Parent directories are watched rather than the files themselves, since
// the store replaces its file by rename and a watch on the old inode would
// go quiet after the first save.
type FileWatcher struct {
	watcher  *fsnotify.Watcher
	onChange func(string)
	debounce time.Duration

	mu     sync.Mutex
	files  map[string]bool
	dirs   map[string]int
	timers map[string]*time.Timer

	done chan struct{}
	wg   sync.WaitGroup
}

// Option configures a FileWatcher.
type Option func(*FileWatcher)

// WithDebounce sets how long a burst of events is coalesced.
func WithDebounce(d time.Duration) Option {
	return func(fw *FileWatcher) { fw.debounce = d }
}

// NewFileWatcher starts watching. onChange is called with the absolute path
// once per burst of writes to a watched file.
func NewFileWatcher(onChange func(string), opts ...Option) (*FileWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	fw := &FileWatcher{
		watcher:  watcher,
		onChange: onChange,
		debounce: defaultDebounce,
		files:    make(map[string]bool),
		dirs:     make(map[string]int),
		timers:   make(map[string]*time.Timer),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(fw)
	}

	fw.wg.Add(1)
	go fw.watch()
	return fw, nil
}

// AddFile starts reporting changes to path. The file need not exist yet,
// but its directory must.
func (fw *FileWatcher) AddFile(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	fw.mu.Lock()
	defer fw.mu.Unlock()

	if fw.files[absPath] {
		return nil // Already watching
	}

	dir := filepath.Dir(absPath)
	if fw.dirs[dir] == 0 {
		if err := fw.watcher.Add(dir); err != nil {
			return err
		}
	}
	fw.dirs[dir]++
	fw.files[absPath] = true
	return nil
}

// RemoveFile stops reporting changes to path.
func (fw *FileWatcher) RemoveFile(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	fw.mu.Lock()
	defer fw.mu.Unlock()

	if !fw.files[absPath] {
		return nil // Not watching
	}
	delete(fw.files, absPath)

	dir := filepath.Dir(absPath)
	fw.dirs[dir]--
	if fw.dirs[dir] > 0 {
		return nil
	}
	delete(fw.dirs, dir)
	return fw.watcher.Remove(dir)
}

func (fw *FileWatcher) watch() {
	defer fw.wg.Done()

	for {
		select {
		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				fw.schedule(filepath.Clean(event.Name))
			}

		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			// Log error but continue watching
			appLog.Warn("watch: fsnotify error", "error", err.Error())

		case <-fw.done:
			return
		}
	}
}

// schedule (re)arms the debounce timer for name if it is watched.
func (fw *FileWatcher) schedule(name string) {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	if !fw.files[name] {
		return
	}
	if timer, exists := fw.timers[name]; exists {
		timer.Stop()
	}
	fw.timers[name] = time.AfterFunc(fw.debounce, func() {
		fw.mu.Lock()
		delete(fw.timers, name)
		watching := fw.files[name]
		fw.mu.Unlock()

		select {
		case <-fw.done:
			return
		default:
		}
		if watching && fw.onChange != nil {
			fw.onChange(name)
		}
	})
}

// Close stops the watcher. Pending debounced callbacks are dropped.
func (fw *FileWatcher) Close() error {
	close(fw.done)
	err := fw.watcher.Close()
	fw.wg.Wait()

	fw.mu.Lock()
	for name, timer := range fw.timers {
		timer.Stop()
		delete(fw.timers, name)
	}
	fw.mu.Unlock()
	return err
}
