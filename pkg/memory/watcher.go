package memory

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

const DefaultDebounce = 500 * time.Millisecond

// FileWatcher re-ingests files under the ingester root when they change.
// Events are debounced per file so an editor's burst of writes produces
// one new version.
type FileWatcher struct {
	watcher  *fsnotify.Watcher
	ingester *FileIngester
	logger   zerolog.Logger
	debounce time.Duration
	timeout  time.Duration

	mu     sync.Mutex
	timers map[string]*time.Timer

	wg       sync.WaitGroup
	inflight sync.WaitGroup
	stopCh   chan struct{}
	stopped  sync.Once
}

// NewFileWatcher creates a watcher over every directory under the
// ingester root. timeout bounds each re-ingestion.
func NewFileWatcher(ingester *FileIngester, debounce, timeout time.Duration, logger zerolog.Logger) (*FileWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	fw := &FileWatcher{
		watcher:  watcher,
		ingester: ingester,
		logger:   logger.With().Str("component", "file_watcher").Logger(),
		debounce: debounce,
		timeout:  timeout,
		timers:   make(map[string]*time.Timer),
		stopCh:   make(chan struct{}),
	}

	if err := fw.addTree(ingester.Root()); err != nil {
		watcher.Close()
		return nil, err
	}

	fw.wg.Add(1)
	go fw.run()

	return fw, nil
}

// addTree watches dir and its subdirectories, skipping hidden ones.
func (fw *FileWatcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		return fw.watcher.Add(path)
	})
}

// Stop stops the file watcher and cancels pending re-ingestions.
func (fw *FileWatcher) Stop() error {
	var err error
	fw.stopped.Do(func() {
		close(fw.stopCh)
		err = fw.watcher.Close()
		fw.wg.Wait()

		fw.mu.Lock()
		for path, t := range fw.timers {
			if t.Stop() {
				fw.inflight.Done()
			}
			delete(fw.timers, path)
		}
		fw.mu.Unlock()

		fw.inflight.Wait()
	})
	return err
}

// run processes file system events
func (fw *FileWatcher) run() {
	defer fw.wg.Done()
	for {
		select {
		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			fw.handle(event)

		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			fw.logger.Error().Err(err).Msg("File watcher error")

		case <-fw.stopCh:
			return
		}
	}
}

func (fw *FileWatcher) handle(event fsnotify.Event) {
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := fw.addTree(event.Name); err != nil {
				fw.logger.Warn().Err(err).Str("dir", event.Name).Msg("Failed to watch new directory")
			}
			return
		}
	}
	if !fw.ingester.Accepts(event.Name) {
		return
	}

	rel, err := filepath.Rel(fw.ingester.Root(), event.Name)
	if err != nil {
		return
	}

	switch {
	case event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename):
		fw.cancel(rel)
		fw.ingester.Forget(rel)
		fw.logger.Debug().Str("file", rel).Msg("File removed, version history dropped")
	case event.Has(fsnotify.Write) || event.Has(fsnotify.Create):
		fw.logger.Debug().
			Str("file", rel).
			Str("op", event.Op.String()).
			Msg("File change detected")
		fw.schedule(rel)
	}
}

// schedule debounces re-ingestion of rel
func (fw *FileWatcher) schedule(rel string) {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	if t, ok := fw.timers[rel]; ok && t.Stop() {
		fw.inflight.Done()
	}
	fw.inflight.Add(1)
	var timer *time.Timer
	timer = time.AfterFunc(fw.debounce, func() {
		defer fw.inflight.Done()

		fw.mu.Lock()
		if fw.timers[rel] == timer {
			delete(fw.timers, rel)
		}
		fw.mu.Unlock()

		select {
		case <-fw.stopCh:
			return
		default:
		}

		ctx, cancel := context.WithTimeout(context.Background(), fw.timeout)
		defer cancel()
		if _, err := fw.ingester.IngestFile(ctx, rel); err != nil {
			fw.logger.Warn().Err(err).Str("file", rel).Msg("Failed to re-ingest changed file")
		}
	})
	fw.timers[rel] = timer
}

func (fw *FileWatcher) cancel(rel string) {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	if t, ok := fw.timers[rel]; ok {
		if t.Stop() {
			fw.inflight.Done()
		}
		delete(fw.timers, rel)
	}
}
