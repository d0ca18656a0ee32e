package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ChangeSource signals that the watched file may have changed. Signals carry
// no payload; a consumer that is busy may drop them.
type ChangeSource interface {
	// Start begins watching path. Content present at Start is never reported.
	Start(path string) error

	// Stop ends watching and closes both channels. It is idempotent.
	Stop() error

	Changes() <-chan struct{}
	Errors() <-chan error
	IsRunning() bool
}

// FileWatcher is a ChangeSource driven by OS file notifications.
// It watches the parent directory so that editors and scanners that replace
// the file by rename are still seen.
type FileWatcher struct {
	watcher *fsnotify.Watcher
	changes chan struct{}
	errors  chan error
	done    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
	stopped bool
	path    string

	closeOnce sync.Once
}

// NewFileWatcher creates a new FileWatcher instance.
// The watcher must be started with Start() before it will emit changes.
func NewFileWatcher() (*FileWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	return &FileWatcher{
		watcher: watcher,
		changes: make(chan struct{}, 1),
		errors:  make(chan error, 10),
		done:    make(chan struct{}),
	}, nil
}

// Start begins watching the file at path.
func (fw *FileWatcher) Start(path string) error {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	if fw.running {
		return fmt.Errorf("watcher already running")
	}
	if fw.stopped {
		return fmt.Errorf("watcher already stopped")
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", path, err)
	}
	fw.path = absPath

	dir := filepath.Dir(absPath)
	if err := fw.watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch directory %s: %w", dir, err)
	}

	fw.running = true
	fw.wg.Add(1)
	go fw.processEvents()

	return nil
}

// Stop stops watching for file system events and cleans up resources.
// It blocks until the event processing goroutine has exited.
func (fw *FileWatcher) Stop() error {
	fw.mu.Lock()
	if fw.stopped {
		fw.mu.Unlock()
		return nil
	}
	fw.stopped = true
	wasRunning := fw.running
	fw.running = false
	fw.mu.Unlock()

	// Signal shutdown
	close(fw.done)

	// Close the underlying watcher (this will unblock the event loop)
	closeErr := fw.watcher.Close()

	// Wait for event processing to finish
	fw.wg.Wait()

	fw.closeChannels()

	if closeErr != nil && wasRunning {
		return fmt.Errorf("failed to close watcher: %w", closeErr)
	}
	return nil
}

// Changes implements ChangeSource.
func (fw *FileWatcher) Changes() <-chan struct{} {
	return fw.changes
}

// Errors implements ChangeSource.
func (fw *FileWatcher) Errors() <-chan error {
	return fw.errors
}

// IsRunning returns true if the watcher is currently running.
func (fw *FileWatcher) IsRunning() bool {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	return fw.running
}

func (fw *FileWatcher) closeChannels() {
	fw.closeOnce.Do(func() {
		close(fw.changes)
		close(fw.errors)
	})
}

// lost handles fsnotify closing its channels outside Stop. The watcher stops
// running and Changes is closed so the consumer sees the failure.
func (fw *FileWatcher) lost() {
	select {
	case <-fw.done:
		return
	default:
	}

	fw.mu.Lock()
	fw.running = false
	fw.mu.Unlock()
	fw.closeChannels()
}

// processEvents is the main event loop that filters fsnotify events down to
// the watched file.
func (fw *FileWatcher) processEvents() {
	defer fw.wg.Done()

	for {
		select {
		case <-fw.done:
			return

		case event, ok := <-fw.watcher.Events:
			if !ok {
				fw.lost()
				return
			}
			if fw.isChange(event) {
				signal(fw.changes)
			}

		case err, ok := <-fw.watcher.Errors:
			if !ok {
				fw.lost()
				return
			}

			select {
			case fw.errors <- err:
			case <-fw.done:
				return
			}
		}
	}
}

// isChange reports whether event touches the watched file's content. A
// rename into place arrives as Create on the new name.
func (fw *FileWatcher) isChange(event fsnotify.Event) bool {
	absPath, err := filepath.Abs(event.Name)
	if err != nil || absPath != fw.path {
		return false
	}
	return event.Has(fsnotify.Write) || event.Has(fsnotify.Create)
}

// PollWatcher is a ChangeSource that compares the file's size and
// modification time at a fixed interval.
type PollWatcher struct {
	interval time.Duration
	changes  chan struct{}
	errors   chan error
	done     chan struct{}
	wg       sync.WaitGroup
	mu       sync.Mutex
	running  bool
	stopped  bool
}

// NewPollWatcher creates a PollWatcher checking every interval.
func NewPollWatcher(interval time.Duration) *PollWatcher {
	if interval <= 0 {
		interval = time.Second
	}
	return &PollWatcher{
		interval: interval,
		changes:  make(chan struct{}, 1),
		errors:   make(chan error, 10),
		done:     make(chan struct{}),
	}
}

// fileState is what the poller compares between ticks.
type fileState struct {
	exists  bool
	size    int64
	modTime time.Time
}

func statFile(path string) (fileState, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return fileState{}, nil
	}
	if err != nil {
		return fileState{}, err
	}
	return fileState{exists: true, size: info.Size(), modTime: info.ModTime()}, nil
}

// Start snapshots the file and begins polling.
func (pw *PollWatcher) Start(path string) error {
	pw.mu.Lock()
	defer pw.mu.Unlock()

	if pw.running {
		return fmt.Errorf("watcher already running")
	}
	if pw.stopped {
		return fmt.Errorf("watcher already stopped")
	}

	initial, err := statFile(path)
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", path, err)
	}

	pw.running = true
	pw.wg.Add(1)
	go pw.poll(path, initial)

	return nil
}

func (pw *PollWatcher) poll(path string, last fileState) {
	defer pw.wg.Done()

	ticker := time.NewTicker(pw.interval)
	defer ticker.Stop()

	for {
		select {
		case <-pw.done:
			return

		case <-ticker.C:
			current, err := statFile(path)
			if err != nil {
				select {
				case pw.errors <- fmt.Errorf("failed to stat %s: %w", path, err):
				case <-pw.done:
					return
				default:
				}
				continue
			}

			if current != last {
				last = current
				if current.exists {
					signal(pw.changes)
				}
			}
		}
	}
}

// Stop implements ChangeSource.
func (pw *PollWatcher) Stop() error {
	pw.mu.Lock()
	if pw.stopped {
		pw.mu.Unlock()
		return nil
	}
	pw.stopped = true
	pw.running = false
	pw.mu.Unlock()

	close(pw.done)
	pw.wg.Wait()

	close(pw.changes)
	close(pw.errors)
	return nil
}

// Changes implements ChangeSource.
func (pw *PollWatcher) Changes() <-chan struct{} {
	return pw.changes
}

// Errors implements ChangeSource.
func (pw *PollWatcher) Errors() <-chan error {
	return pw.errors
}

// IsRunning implements ChangeSource.
func (pw *PollWatcher) IsRunning() bool {
	pw.mu.Lock()
	defer pw.mu.Unlock()
	return pw.running
}

// signal does a non-blocking send on a 1-buffered channel. A pending signal
// already covers any change that happens before it is read.
func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
