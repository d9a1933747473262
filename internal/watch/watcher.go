// Package watch watches the store root for document files that change on
// disk outside of the service, for example from an editor or a sync tool.
package watch

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/nekokan/musicwa/internal/document"
)

// Resolver maps file paths under the store root to document ids.
type Resolver interface {
	Root() string
	ID(path string) (document.ID, bool)
}

// Config holds configuration for the watcher.
type Config struct {
	// Debounce is how long a path must stay quiet before its change is
	// emitted. It folds the burst of events from one save into one change.
	Debounce time.Duration

	// Logger for watcher activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Debounce: 100 * time.Millisecond,
		Logger:   log.New(os.Stderr, "[watch] ", log.LstdFlags),
	}
}

type pending struct {
	id       document.ID
	queuedAt time.Time
}

// Watcher emits a document.Change for every document file that is created,
// modified or removed in the store root. Temp files, hidden files and
// anything that is not a valid document id are ignored.
type Watcher struct {
	resolver Resolver
	config   *Config
	watcher  *fsnotify.Watcher

	events chan document.Change
	errors chan error
	done   chan struct{}
	wg     sync.WaitGroup

	mu      sync.Mutex
	running bool
	queue   map[string]pending
	known   map[document.ID]bool
}

// New creates a Watcher. It must be started with Start before it emits
// events.
func New(resolver Resolver, config *Config) (*Watcher, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[watch] ", log.LstdFlags)
	}
	if config.Debounce <= 0 {
		config.Debounce = DefaultConfig().Debounce
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	return &Watcher{
		resolver: resolver,
		config:   config,
		watcher:  watcher,
		events:   make(chan document.Change, 100),
		errors:   make(chan error, 10),
		done:     make(chan struct{}),
		queue:    make(map[string]pending),
		known:    make(map[document.ID]bool),
	}, nil
}

// Start begins watching the store root.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return fmt.Errorf("watcher already running")
	}

	root := w.resolver.Root()
	entries, err := os.ReadDir(root)
	if err != nil {
		return fmt.Errorf("failed to read store root %s: %w", root, err)
	}
	for _, e := range entries {
		if id, ok := w.resolver.ID(filepath.Join(root, e.Name())); ok && e.Type().IsRegular() {
			w.known[id] = true
		}
	}

	if err := w.watcher.Add(root); err != nil {
		return fmt.Errorf("failed to watch store root %s: %w", root, err)
	}

	w.running = true
	w.wg.Add(2)
	go w.processEvents()
	go w.processQueue()

	w.config.Logger.Printf("Watching %s", root)
	return nil
}

// Stop stops watching and closes the Events and Errors channels. It blocks
// until the background goroutines have exited.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return w.watcher.Close()
	}
	w.running = false
	w.mu.Unlock()

	close(w.done)
	err := w.watcher.Close()
	w.wg.Wait()

	close(w.events)
	close(w.errors)

	if err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}
	return nil
}

// IsRunning returns true if the watcher is currently running.
func (w *Watcher) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// Events returns the channel of document changes. It is closed by Stop.
func (w *Watcher) Events() <-chan document.Change {
	return w.events
}

// Errors returns the channel of watcher errors. It is closed by Stop.
func (w *Watcher) Errors() <-chan error {
	return w.errors
}

func (w *Watcher) processEvents() {
	defer w.wg.Done()

	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			id, ok := w.resolver.ID(event.Name)
			if !ok {
				continue
			}
			w.mu.Lock()
			w.queue[event.Name] = pending{id: id, queuedAt: time.Now()}
			w.mu.Unlock()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			select {
			case w.errors <- err:
			case <-w.done:
				return
			}
		}
	}
}

func (w *Watcher) processQueue() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.config.Debounce / 2)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			for _, change := range w.due() {
				select {
				case w.events <- change:
				case <-w.done:
					return
				}
			}
		}
	}
}

// due removes quiet paths from the queue and turns them into changes,
// judged by what is on disk now. Changes to existing files carry the
// fingerprint of their current bytes.
func (w *Watcher) due() []document.Change {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := time.Now()
	var changes []document.Change
	for path, p := range w.queue {
		if now.Sub(p.queuedAt) < w.config.Debounce {
			continue
		}
		delete(w.queue, path)

		info, err := os.Lstat(path)
		exists := err == nil && info.Mode().IsRegular()

		// The fingerprint lets a session recognize the echo of its own save.
		var fp document.Fingerprint
		if exists {
			data, err := os.ReadFile(path)
			switch {
			case err == nil:
				fp = document.FingerprintOf(data)
			case errors.Is(err, fs.ErrNotExist):
				exists = false
			default:
				w.config.Logger.Printf("Failed to read %s: %v", p.id, err)
			}
		}

		var op document.ChangeOp
		switch {
		case exists && w.known[p.id]:
			op = document.ChangeUpdated
		case exists:
			op = document.ChangeCreated
			w.known[p.id] = true
		case w.known[p.id]:
			op = document.ChangeDeleted
			delete(w.known, p.id)
		default:
			// Appeared and vanished within one debounce window.
			continue
		}

		w.config.Logger.Printf("Document %s %s", p.id, op)
		changes = append(changes, document.Change{ID: p.id, Op: op, Fingerprint: fp})
	}
	return changes
}
