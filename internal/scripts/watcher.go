package scripts

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gobwas/glob"
	"github.com/rs/zerolog/log"

	"github.com/watzon/oncue/internal/config"
)

const defaultWatchDebounce = 250 * time.Millisecond

// Watcher imports scripts from a local directory. Files created or
// edited there are uploaded under their base name, which makes the
// directory a convenient source of truth during development. Removing
// a file does not delete the script; deletion stays an explicit action
// so a stray rm cannot break running jobs.
type Watcher struct {
	service          *Service
	dir              string
	ignore           []glob.Glob
	watcher          *fsnotify.Watcher
	debounceDuration time.Duration
	debounceTimers   map[string]*time.Timer
	mu               sync.Mutex
	ctx              context.Context
	cancel           context.CancelFunc
	wg               sync.WaitGroup
}

// NewWatcher creates a watcher for the configured watch directory.
func NewWatcher(service *Service, cfg *config.ScriptsConfig) (*Watcher, error) {
	if cfg.WatchPath == "" {
		return nil, fmt.Errorf("%w: watch_path is required when watch is enabled", ErrInvalidConfig)
	}

	ignore := make([]glob.Glob, 0, len(cfg.WatchIgnore))
	for _, pattern := range cfg.WatchIgnore {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("compiling watch_ignore pattern %q: %w", pattern, err)
		}
		ignore = append(ignore, g)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating fsnotify watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Watcher{
		service:          service,
		dir:              cfg.WatchPath,
		ignore:           ignore,
		watcher:          watcher,
		debounceDuration: defaultWatchDebounce,
		debounceTimers:   make(map[string]*time.Timer),
		ctx:              ctx,
		cancel:           cancel,
	}, nil
}

// SetDebounceDuration overrides how long the watcher waits for writes
// to settle before importing a file.
func (w *Watcher) SetDebounceDuration(d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.debounceDuration = d
}

// Start imports the files already present in the watch directory, then
// begins watching for changes.
func (w *Watcher) Start() error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("creating watch directory: %w", err)
	}
	if err := w.watcher.Add(w.dir); err != nil {
		return fmt.Errorf("watching %s: %w", w.dir, err)
	}

	if err := w.syncExisting(); err != nil {
		return err
	}

	w.wg.Add(1)
	go w.eventLoop()

	log.Info().Str("dir", w.dir).Msg("Script watcher started")

	return nil
}

// Stop stops the watcher and cancels any pending imports.
func (w *Watcher) Stop() error {
	w.cancel()
	w.wg.Wait()

	w.mu.Lock()
	for _, timer := range w.debounceTimers {
		timer.Stop()
	}
	w.mu.Unlock()

	return w.watcher.Close()
}

func (w *Watcher) syncExisting() error {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return fmt.Errorf("reading watch directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || w.ignored(entry.Name()) {
			continue
		}
		w.importFile(filepath.Join(w.dir, entry.Name()))
	}

	return nil
}

func (w *Watcher) eventLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if w.ignored(filepath.Base(event.Name)) {
				continue
			}
			w.debounceImport(event.Name)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Error().Err(err).Msg("Script watcher error")
		}
	}
}

func (w *Watcher) ignored(name string) bool {
	for _, g := range w.ignore {
		if g.Match(name) {
			return true
		}
	}
	return false
}

func (w *Watcher) debounceImport(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if timer, exists := w.debounceTimers[path]; exists {
		timer.Stop()
	}

	w.debounceTimers[path] = time.AfterFunc(w.debounceDuration, func() {
		w.importFile(path)
	})
}

func (w *Watcher) importFile(path string) {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return
	}

	f, err := os.Open(path)
	if err != nil {
		log.Error().Err(err).Str("file", path).Msg("Failed to open watched script")
		return
	}
	defer f.Close()

	script, err := w.service.Upload(w.ctx, filepath.Base(path), f, info.Size())
	if err != nil {
		log.Error().Err(err).Str("file", path).Msg("Failed to import watched script")
		return
	}

	log.Info().
		Str("script", script.Name).
		Int64("size", script.Size).
		Msg("Imported script from watch directory")
}
